package lib

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// NavState represents the current state of the navigation state machine.
type NavState string

const (
	StateStartup         NavState = "STARTUP"           // Waiting for the sensors to settle
	StateLineFollowing   NavState = "LINE_FOLLOWING"    // PID line following on one edge
	StateLaneChangeLeft  NavState = "LANE_CHANGE_LEFT"  // Timed maneuver towards lower lane indices
	StateLaneChangeRight NavState = "LANE_CHANGE_RIGHT" // Timed maneuver towards higher lane indices
)

// ManeuverConfig holds the timing of one lane-change direction:
//   - turn towards the new lane for T1 by slowing the inner motor by D1
//   - drive straight for up to T2, ending early once the new line is reached
//   - counter-turn for T3 by slowing the outer motor by D3
type ManeuverConfig struct {
	BaseSpeed        float64       `yaml:"base_speed"`
	D1               float64       `yaml:"d1"`
	D3               float64       `yaml:"d3"`
	T1               time.Duration `yaml:"t1"`
	T2               time.Duration `yaml:"t2"`
	T3               time.Duration `yaml:"t3"`
	LineThreshold    float64       `yaml:"line_threshold"`     // raw light below this is a line
	PastTurnDistance float64       `yaml:"past_turn_distance"` // mm seen by the turned scanner
}

// DefaultManeuverConfig returns the lane-change timing used in both directions.
func DefaultManeuverConfig() ManeuverConfig {
	return ManeuverConfig{
		BaseSpeed:        400,
		D1:               240,
		D3:               320,
		T1:               time.Second,
		T2:               3 * time.Second,
		T3:               600 * time.Millisecond,
		LineThreshold:    29,
		PastTurnDistance: 400,
	}
}

func (c ManeuverConfig) validate(name string) error {
	if c.T1 < 0 || c.T2 < 0 || c.T3 < 0 {
		return fmt.Errorf("%s maneuver phase durations must be >= 0", name)
	}
	if c.BaseSpeed <= 0 {
		return fmt.Errorf("%s maneuver base_speed must be > 0, got %v", name, c.BaseSpeed)
	}
	return nil
}

// NavigatorConfig holds configuration for the navigation state machine.
type NavigatorConfig struct {
	Warmup        time.Duration  `yaml:"warmup"`
	InitialSide   Direction      `yaml:"initial_side"`
	ControlPeriod time.Duration  `yaml:"control_period"`
	LogEveryNth   int            `yaml:"log_every_nth"`
	LeftChange    ManeuverConfig `yaml:"left_change"`
	RightChange   ManeuverConfig `yaml:"right_change"`
}

// DefaultNavigatorConfig returns a configuration following the right edge of
// the line after a 3 s warm-up.
func DefaultNavigatorConfig() NavigatorConfig {
	return NavigatorConfig{
		Warmup:        3 * time.Second,
		InitialSide:   Right,
		ControlPeriod: 5 * time.Millisecond,
		LeftChange:    DefaultManeuverConfig(),
		RightChange:   DefaultManeuverConfig(),
	}
}

// Validate checks the navigator configuration.
func (c NavigatorConfig) Validate() error {
	if !c.InitialSide.Valid() {
		return fmt.Errorf("initial_side must be LEFT or RIGHT, got %q", c.InitialSide)
	}
	if c.ControlPeriod <= 0 {
		return fmt.Errorf("control_period must be > 0, got %v", c.ControlPeriod)
	}
	if c.Warmup < 0 {
		return fmt.Errorf("warmup must be >= 0, got %v", c.Warmup)
	}
	if err := c.LeftChange.validate("left"); err != nil {
		return err
	}
	return c.RightChange.validate("right")
}

// signalSource is the part of SignalSampler the navigator consumes.
type signalSource interface {
	Snapshot() Snapshot
}

// laneScanner is the part of DistanceScanner the navigator consumes.
type laneScanner interface {
	Turn() int
	Lane() int
	FrontBlocked() bool
	SetMode(mode ScanMode) error
	Distance() (float64, error)
	TurnMade(lane int)
}

// NavStatus is a point-in-time view of the navigator.
type NavStatus struct {
	State       NavState  `json:"state"`
	Side        Direction `json:"side"`
	Tier        string    `json:"tier"`
	Control     float64   `json:"control"`
	LineReached bool      `json:"line_reached"`
	LinePassed  bool      `json:"line_passed"`
}

// maneuver tracks one lane change in progress.
type maneuver struct {
	dir          Direction
	config       ManeuverConfig
	started      bool
	t0           time.Time
	lineDeadline time.Time
	lineReached  bool
	linePassed   bool
}

// Navigator sequences line following and lane changes.
type Navigator struct {
	config    NavigatorConfig
	signal    signalSource
	scanner   laneScanner
	scheduler *GainScheduler
	motors    Actuator
	telemetry Telemetry
	clock     Clock

	state        NavState
	side         Direction
	entered      bool
	startupUntil time.Time
	maneuver     maneuver
	tier         Tier
	u            float64
	logN         int

	mu     sync.RWMutex
	status NavStatus
}

// NewNavigator creates a navigator in the Startup state.
func NewNavigator(config NavigatorConfig, signal signalSource, scanner laneScanner, scheduler *GainScheduler, motors Actuator, telemetry Telemetry, clock Clock) (*Navigator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if telemetry == nil {
		telemetry = NopTelemetry{}
	}
	if clock == nil {
		clock = RealClock{}
	}
	n := &Navigator{
		config:    config,
		signal:    signal,
		scanner:   scanner,
		scheduler: scheduler,
		motors:    motors,
		telemetry: telemetry,
		clock:     clock,
		state:     StateStartup,
		side:      config.InitialSide,
	}
	n.publish()
	return n, nil
}

// Status returns the latest navigator status.
func (n *Navigator) Status() NavStatus {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.status
}

// Tick runs one control step at now.
func (n *Navigator) Tick(now time.Time) {
	switch n.state {
	case StateStartup:
		n.tickStartup(now)
	case StateLineFollowing:
		n.tickLineFollowing(now)
	case StateLaneChangeLeft, StateLaneChangeRight:
		n.tickLaneChange(now)
	}
	n.publish()
}

// Run ticks the state machine every ControlPeriod until ctx is done.
func (n *Navigator) Run(ctx context.Context) error {
	return runPeriodic(ctx, n.clock, n.config.ControlPeriod, func() error {
		n.Tick(n.clock.Now())
		return nil
	})
}

func (n *Navigator) transition(state NavState) {
	if state != n.state {
		logf("navigator: %s -> %s", n.state, state)
	}
	n.state = state
	n.entered = false
}

func (n *Navigator) tickStartup(now time.Time) {
	if !n.entered {
		n.entered = true
		n.startupUntil = now.Add(n.config.Warmup)
	}
	if now.After(n.startupUntil) {
		n.side = n.config.InitialSide
		n.transition(StateLineFollowing)
	}
}

func (n *Navigator) tickLineFollowing(now time.Time) {
	if !n.entered {
		n.entered = true
		if err := n.scanner.SetMode(ScanForward); err != nil {
			logf("Error aiming scanner: %v", err)
		}
		n.scheduler.Reset(now)
	}

	snap := n.signal.Snapshot()
	decision := n.scheduler.Update(snap.Error, snap.Derivative, n.scanner.FrontBlocked(), now)
	p := decision.Profile
	u := p.Kp*snap.Error + p.Ki*snap.Integral + p.Kd*decision.Derivative
	n.tier, n.u = decision.Tier, u

	if n.config.LogEveryNth > 0 {
		n.logN++
		if n.logN > n.config.LogEveryNth {
			n.logN = 0
			n.telemetry.LogParams(
				[]string{"lf-time", "lf-e", "lf-i", "lf-d", "lf-u"},
				[]any{unixSeconds(now), snap.Error, snap.Integral, decision.Derivative, u},
			)
		}
	}

	speed := p.Speed
	switch n.side {
	case Right:
		if u > 0 {
			n.drive(speed-u, speed)
		} else {
			n.drive(speed, speed+u)
		}
	case Left:
		if u > 0 {
			n.drive(speed, speed-u)
		} else {
			n.drive(speed+u, speed)
		}
	}

	switch n.scanner.Turn() {
	case -1:
		n.startManeuver(Left)
	case 1:
		n.startManeuver(Right)
	}
}

func (n *Navigator) startManeuver(dir Direction) {
	cfg := n.config.RightChange
	state := StateLaneChangeRight
	if dir == Left {
		cfg = n.config.LeftChange
		state = StateLaneChangeLeft
	}
	n.maneuver = maneuver{dir: dir, config: cfg}
	n.transition(state)
}

func (n *Navigator) tickLaneChange(now time.Time) {
	m := &n.maneuver
	cfg := m.config

	if !m.started {
		m.started = true
		m.t0 = now
		m.lineDeadline = now.Add(cfg.T1 + cfg.T2)
		mode := ScanDuringRightTurn
		if m.dir == Left {
			mode = ScanDuringLeftTurn
		}
		if err := n.scanner.SetMode(mode); err != nil {
			logf("Error aiming scanner: %v", err)
		}
	}

	base := cfg.BaseSpeed
	switch {
	case !now.After(m.t0.Add(cfg.T1)):
		n.steer(m.dir, base-cfg.D1, base)
	case !now.After(m.lineDeadline):
		n.drive(base, base)
		n.watchForLine(now)
	case !now.After(m.lineDeadline.Add(cfg.T3)):
		n.steer(opposite(m.dir), base-cfg.D3, base)
	default:
		n.drive(base, base)
		n.finishManeuver()
	}
}

// watchForLine decides, when the light sensor crosses a line, whether it is
// the target line or an intermediate one, using the distance seen by the
// scanner aimed into the turn.
func (n *Navigator) watchForLine(now time.Time) {
	m := &n.maneuver
	if m.lineReached || n.signal.Snapshot().Raw >= m.config.LineThreshold {
		return
	}

	dist, err := n.scanner.Distance()
	if err != nil {
		logf("Error reading distance during lane change: %v", err)
		return
	}
	if dist > m.config.PastTurnDistance {
		m.lineReached = true
		m.lineDeadline = now
	} else if dist < m.config.PastTurnDistance && !m.linePassed {
		m.linePassed = true
	}
}

func (n *Navigator) finishManeuver() {
	m := n.maneuver
	lanes := 1
	if m.linePassed {
		lanes = 2
		n.telemetry.Print("lane change crossed an intermediate lane")
	}
	lane := n.scanner.Lane() + m.dir.Sign()*lanes
	n.scanner.TurnMade(lane)

	n.side = m.dir
	n.transition(StateLineFollowing)
}

// steer slows the motor on the dir side to slow and runs the other at normal.
func (n *Navigator) steer(dir Direction, slow, normal float64) {
	if dir == Right {
		n.drive(normal, slow)
	} else {
		n.drive(slow, normal)
	}
}

func (n *Navigator) drive(left, right float64) {
	if err := n.motors.SetMotorSpeed(MotorLeft, left); err != nil {
		logf("Error controlling left motor: %v", err)
	}
	if err := n.motors.SetMotorSpeed(MotorRight, right); err != nil {
		logf("Error controlling right motor: %v", err)
	}
}

func (n *Navigator) publish() {
	st := NavStatus{
		State:       n.state,
		Side:        n.side,
		Tier:        n.tier.String(),
		Control:     n.u,
		LineReached: n.maneuver.lineReached,
		LinePassed:  n.maneuver.linePassed,
	}
	n.mu.Lock()
	n.status = st
	n.mu.Unlock()
}

func opposite(d Direction) Direction {
	if d == Left {
		return Right
	}
	return Left
}
