package lib

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrRunning is returned by Start when a run is already in progress.
var ErrRunning = errors.New("robot is already running")

// RobotStatus combines the state of every loop for display.
type RobotStatus struct {
	Running bool      `json:"running"`
	Started time.Time `json:"started,omitempty"`
	Nav     NavStatus `json:"navigator"`
	Lane    LaneState `json:"lane"`
	Signal  Snapshot  `json:"signal"`
	Error   string    `json:"error,omitempty"`
}

// Robot runs the light sampler, the distance scanner and the navigator
// concurrently on one set of devices. Each Start begins a fresh run from the
// Startup state in the initial lane.
type Robot struct {
	config    RobotConfig
	light     LightSensor
	distance  DistanceSensor
	motors    Actuator
	telemetry Telemetry
	clock     Clock

	mu        sync.Mutex
	running   bool
	run       uint64
	started   time.Time
	cancel    context.CancelFunc
	wg        *sync.WaitGroup
	done      chan struct{}
	err       error
	sampler   *SignalSampler
	scanner   *DistanceScanner
	navigator *Navigator
}

// NewRobot creates a robot over the given devices.
func NewRobot(config RobotConfig, light LightSensor, distance DistanceSensor, motors Actuator, telemetry Telemetry, clock Clock) (*Robot, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if telemetry == nil {
		telemetry = NopTelemetry{}
	}
	if clock == nil {
		clock = RealClock{}
	}
	return &Robot{
		config:    config,
		light:     light,
		distance:  distance,
		motors:    motors,
		telemetry: telemetry,
		clock:     clock,
	}, nil
}

// Start seeds the sampler and launches the control loops.
func (r *Robot) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return ErrRunning
	}
	if done := r.done; done != nil {
		// The previous run may still be halting the wheels.
		r.mu.Unlock()
		<-done
		r.mu.Lock()
		if r.running {
			return ErrRunning
		}
	}

	sampler, err := NewSignalSampler(r.config.Sampler, r.light,
		WithCorrection(r.config.Calibration.Correction()),
		WithSamplerTelemetry(r.telemetry),
		WithSamplerClock(r.clock),
	)
	if err != nil {
		return err
	}
	if err := sampler.Start(); err != nil {
		return err
	}
	scanner, err := NewDistanceScanner(r.config.Scanner, r.distance, r.motors, r.telemetry, r.clock)
	if err != nil {
		return err
	}
	now := r.clock.Now()
	scheduler, err := NewGainScheduler(r.config.Scheduler, now)
	if err != nil {
		return err
	}
	navigator, err := NewNavigator(r.config.Navigator, sampler, scanner, scheduler, r.motors, r.telemetry, r.clock)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.sampler, r.scanner, r.navigator = sampler, scanner, navigator
	r.cancel = cancel
	r.wg = &sync.WaitGroup{}
	r.done = make(chan struct{})
	r.running = true
	r.run++
	r.started = now
	r.err = nil

	r.spawn(ctx, r.wg, r.run, "sampler", sampler.Run)
	r.spawn(ctx, r.wg, r.run, "scanner", scanner.Run)
	r.spawn(ctx, r.wg, r.run, "navigator", navigator.Run)

	r.telemetry.Print(fmt.Sprintf("run started in lane %d following the %s edge",
		r.config.Scanner.InitialLane, r.config.Navigator.InitialSide))
	logf("Robot started")
	return nil
}

// spawn runs loop until ctx is done. A loop that fails stops the whole run.
func (r *Robot) spawn(ctx context.Context, wg *sync.WaitGroup, run uint64, name string, loop func(context.Context) error) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := loop(ctx); err != nil {
			logf("Robot %s loop failed: %v", name, err)
			r.fail(run, err)
		}
	}()
}

func (r *Robot) fail(run uint64, err error) {
	r.mu.Lock()
	if r.run != run {
		r.mu.Unlock()
		return
	}
	if r.err == nil {
		r.err = err
	}
	cancel := r.cancel
	r.mu.Unlock()

	cancel()
	go r.stop(run)
}

// Stop cancels the loops, waits for them to exit and halts the wheels. When a
// failed run is already stopping, Stop waits until its wheels are halted.
func (r *Robot) Stop() {
	r.stop(0)
}

// stop ends run, or whatever run is in progress when run is 0. It returns once
// the run's wheels are halted.
func (r *Robot) stop(run uint64) {
	r.mu.Lock()
	if run != 0 && run != r.run {
		r.mu.Unlock()
		return
	}
	done := r.done
	if !r.running {
		r.mu.Unlock()
		if done != nil {
			<-done
		}
		return
	}
	r.running = false
	cancel, wg := r.cancel, r.wg
	r.mu.Unlock()

	cancel()
	wg.Wait()
	r.halt()
	r.telemetry.Print("run stopped")
	logf("Robot stopped")
	close(done)
}

func (r *Robot) halt() {
	if err := r.motors.SetMotorSpeed(MotorLeft, 0); err != nil {
		logf("Error stopping left motor: %v", err)
	}
	if err := r.motors.SetMotorSpeed(MotorRight, 0); err != nil {
		logf("Error stopping right motor: %v", err)
	}
}

// Running reports whether a run is in progress.
func (r *Robot) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Err returns the error that ended the last run, if any.
func (r *Robot) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Status returns the state of the current or last run.
func (r *Robot) Status() RobotStatus {
	r.mu.Lock()
	st := RobotStatus{Running: r.running, Started: r.started}
	if r.err != nil {
		st.Error = r.err.Error()
	}
	sampler, scanner, navigator := r.sampler, r.scanner, r.navigator
	r.mu.Unlock()

	if navigator != nil {
		st.Nav = navigator.Status()
	}
	if scanner != nil {
		st.Lane = scanner.State()
	}
	if sampler != nil {
		st.Signal = sampler.Snapshot()
	}
	return st
}
