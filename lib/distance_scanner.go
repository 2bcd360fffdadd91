package lib

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ErrUnknownDirection is returned when a neighbouring lane check is asked for
// a direction other than Left or Right.
var ErrUnknownDirection = errors.New("unknown scan direction")

// ScanMode selects where the scan motor aims the distance sensor.
type ScanMode string

const (
	ScanForward         ScanMode = "FORWARD"
	ScanDuringLeftTurn  ScanMode = "DURING_LEFT_TURN"
	ScanDuringRightTurn ScanMode = "DURING_RIGHT_TURN"
	ScanCheckLeft       ScanMode = "CHECK_LEFT"
	ScanCheckRight      ScanMode = "CHECK_RIGHT"
)

// ScannerConfig holds configuration for obstacle and lane scanning.
type ScannerConfig struct {
	PollPeriod  time.Duration `yaml:"poll_period"`
	Lanes       int           `yaml:"lanes"`
	InitialLane int           `yaml:"initial_lane"`

	SoftBlockThreshold    float64 `yaml:"soft_block_threshold"`    // mm, throttles the gain schedule
	HardBlockThreshold    float64 `yaml:"hard_block_threshold"`    // mm, triggers a lane decision
	LaneOccupiedThreshold float64 `yaml:"lane_occupied_threshold"` // mm, neighbouring lane check

	SettleDelay time.Duration `yaml:"settle_delay"`
	AimSpeed    float64       `yaml:"aim_speed"`
	CheckSpeed  float64       `yaml:"check_speed"`

	ForwardAngle    float64 `yaml:"forward_angle"`
	LeftTurnAngle   float64 `yaml:"left_turn_angle"`
	RightTurnAngle  float64 `yaml:"right_turn_angle"`
	CheckLeftAngle  float64 `yaml:"check_left_angle"`
	CheckRightAngle float64 `yaml:"check_right_angle"`
}

// DefaultScannerConfig returns the three-lane track configuration.
func DefaultScannerConfig() ScannerConfig {
	return ScannerConfig{
		PollPeriod:            50 * time.Millisecond,
		Lanes:                 3,
		InitialLane:           1,
		SoftBlockThreshold:    450,
		HardBlockThreshold:    400,
		LaneOccupiedThreshold: 540,
		SettleDelay:           500 * time.Millisecond,
		AimSpeed:              200,
		CheckSpeed:            500,
		ForwardAngle:          0,
		LeftTurnAngle:         -62,
		RightTurnAngle:        62,
		CheckLeftAngle:        55,
		CheckRightAngle:       -60,
	}
}

// Validate checks lane layout and thresholds.
func (c ScannerConfig) Validate() error {
	if c.PollPeriod <= 0 {
		return fmt.Errorf("scanner poll_period must be > 0, got %v", c.PollPeriod)
	}
	if c.Lanes != 2 && c.Lanes != 3 {
		return fmt.Errorf("lanes must be 2 or 3, got %d", c.Lanes)
	}
	if c.InitialLane < 0 || c.InitialLane >= c.Lanes {
		return fmt.Errorf("initial_lane %d outside [0, %d)", c.InitialLane, c.Lanes)
	}
	if c.HardBlockThreshold > c.SoftBlockThreshold {
		return fmt.Errorf("hard_block_threshold %v must not exceed soft_block_threshold %v",
			c.HardBlockThreshold, c.SoftBlockThreshold)
	}
	if c.SettleDelay < 0 {
		return fmt.Errorf("settle_delay must be >= 0, got %v", c.SettleDelay)
	}
	return nil
}

func (c ScannerConfig) angle(mode ScanMode) (float64, bool) {
	switch mode {
	case ScanForward:
		return c.ForwardAngle, true
	case ScanDuringLeftTurn:
		return c.LeftTurnAngle, true
	case ScanDuringRightTurn:
		return c.RightTurnAngle, true
	case ScanCheckLeft:
		return c.CheckLeftAngle, true
	case ScanCheckRight:
		return c.CheckRightAngle, true
	}
	return 0, false
}

// LaneState is the scanner's belief about the robot's lane.
type LaneState struct {
	Current      int  `json:"current"`
	Target       int  `json:"target"`
	FrontBlocked bool `json:"front_blocked"`
}

// Turn is the lane offset still to travel.
func (s LaneState) Turn() int {
	return s.Target - s.Current
}

// DistanceScanner watches the lane ahead with a distance sensor mounted on a
// scan motor and recommends a target lane when it is blocked.
type DistanceScanner struct {
	config    ScannerConfig
	sensor    DistanceSensor
	motor     Actuator
	telemetry Telemetry
	clock     Clock

	mu      sync.RWMutex
	mode    ScanMode
	current int
	target  int

	frontBlocked atomic.Bool
}

// NewDistanceScanner creates a scanner aiming forward from the initial lane.
func NewDistanceScanner(config ScannerConfig, sensor DistanceSensor, motor Actuator, telemetry Telemetry, clock Clock) (*DistanceScanner, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if telemetry == nil {
		telemetry = NopTelemetry{}
	}
	if clock == nil {
		clock = RealClock{}
	}
	return &DistanceScanner{
		config:    config,
		sensor:    sensor,
		motor:     motor,
		telemetry: telemetry,
		clock:     clock,
		mode:      ScanForward,
		current:   config.InitialLane,
		target:    config.InitialLane,
	}, nil
}

// Mode returns the current aiming mode.
func (ds *DistanceScanner) Mode() ScanMode {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	return ds.mode
}

// SetMode aims the scan motor for mode without waiting for it to arrive.
func (ds *DistanceScanner) SetMode(mode ScanMode) error {
	angle, ok := ds.config.angle(mode)
	if !ok {
		return fmt.Errorf("unknown scan mode %q", mode)
	}

	ds.mu.Lock()
	ds.mode = mode
	ds.mu.Unlock()

	if err := ds.motor.RunMotorToAngle(MotorScan, angle, ds.config.AimSpeed, false); err != nil {
		return fmt.Errorf("aiming scanner for %s: %w", mode, err)
	}
	return nil
}

// CheckNeighbouringLane aims at the lane in dir, waits for the reading to
// settle and reports whether something is within the occupied threshold. The
// previous aim is not restored.
func (ds *DistanceScanner) CheckNeighbouringLane(dir Direction) (bool, error) {
	var angle float64
	switch dir {
	case Right:
		angle = ds.config.CheckRightAngle
	case Left:
		angle = ds.config.CheckLeftAngle
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownDirection, dir)
	}

	if err := ds.motor.RunMotorToAngle(MotorScan, angle, ds.config.CheckSpeed, true); err != nil {
		return false, fmt.Errorf("aiming scanner %s: %w", dir, err)
	}
	if ds.config.SettleDelay > 0 {
		<-ds.clock.After(ds.config.SettleDelay)
	}

	dist, err := ds.sensor.ReadDistance()
	if err != nil {
		return false, err
	}
	return dist < ds.config.LaneOccupiedThreshold, nil
}

// Scan performs one poll: in forward mode it updates the blocked flag and
// decides on a new target lane; in any other mode obstacle checks are
// suspended.
func (ds *DistanceScanner) Scan() error {
	if ds.Mode() != ScanForward {
		ds.frontBlocked.Store(false)
		return nil
	}

	dist, err := ds.sensor.ReadDistance()
	if err != nil {
		return err
	}
	if dist < ds.config.SoftBlockThreshold {
		ds.frontBlocked.Store(true)
	}
	if dist < ds.config.HardBlockThreshold {
		return ds.decideLane()
	}
	return nil
}

// decideLane picks the target lane after a hard block. A pending decision is
// left alone so one blockage never moves the target by more than one lane.
func (ds *DistanceScanner) decideLane() error {
	ds.mu.RLock()
	current, target := ds.current, ds.target
	ds.mu.RUnlock()

	if target != current {
		return nil
	}
	ds.telemetry.Print(fmt.Sprintf("check_lanes: lane, lanes, targeted = %d, %d, %d", current, ds.config.Lanes, target))

	switch ds.config.Lanes {
	case 3:
		switch current {
		case 0, 2:
			target = 1
		case 1:
			occupied, err := ds.CheckNeighbouringLane(Right)
			if err != nil {
				return err
			}
			if occupied {
				target = 2
			} else {
				target = 0
			}
		}
	case 2:
		target = 1 - current
	}

	ds.mu.Lock()
	ds.target = target
	ds.mu.Unlock()

	ds.telemetry.Print(fmt.Sprintf("targeted after: %d", target))
	return nil
}

// Run polls the sensor every PollPeriod until ctx is done.
func (ds *DistanceScanner) Run(ctx context.Context) error {
	if err := runPeriodic(ctx, ds.clock, ds.config.PollPeriod, ds.Scan); err != nil {
		return fmt.Errorf("distance scanner: %w", err)
	}
	return nil
}

// Turn returns the lane offset to the recommended lane: -1, 0 or +1.
func (ds *DistanceScanner) Turn() int {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	return ds.target - ds.current
}

// Lane returns the lane the robot is currently in.
func (ds *DistanceScanner) Lane() int {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	return ds.current
}

// FrontBlocked reports whether an obstacle is close ahead.
func (ds *DistanceScanner) FrontBlocked() bool {
	return ds.frontBlocked.Load()
}

// State returns a consistent copy of the lane state.
func (ds *DistanceScanner) State() LaneState {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	return LaneState{Current: ds.current, Target: ds.target, FrontBlocked: ds.frontBlocked.Load()}
}

// TurnMade records that a lane change finished in lane. Lanes outside the
// layout are clamped.
func (ds *DistanceScanner) TurnMade(lane int) {
	if lane < 0 || lane >= ds.config.Lanes {
		logf("lane change ended in lane %d outside [0, %d), clamping", lane, ds.config.Lanes)
		lane = max(0, min(lane, ds.config.Lanes-1))
	}

	ds.mu.Lock()
	ds.current = lane
	ds.target = lane
	ds.mu.Unlock()

	ds.telemetry.Print(fmt.Sprintf("dist_sensor set to lane, targeted_lane = %d, %d", lane, lane))
}

// Distance returns an instantaneous reading from the distance sensor.
func (ds *DistanceScanner) Distance() (float64, error) {
	return ds.sensor.ReadDistance()
}
