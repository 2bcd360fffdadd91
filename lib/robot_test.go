package lib

import (
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type robotFixture struct {
	robot  *Robot
	light  *fakeLight
	dist   *fakeDistance
	motors *fakeActuator
	rec    *recordTelemetry
}

func newRobotFixture(t *testing.T, light *fakeLight, clock Clock) *robotFixture {
	t.Helper()
	SetLogger(nil)
	t.Cleanup(func() { SetLogger(log.Printf) })

	cfg := DefaultRobotConfig()
	cfg.Navigator.Warmup = 10 * time.Millisecond
	cfg.Scanner.SettleDelay = 0

	f := &robotFixture{
		light:  light,
		dist:   &fakeDistance{value: 2000},
		motors: newFakeActuator(),
		rec:    &recordTelemetry{},
	}
	var err error
	f.robot, err = NewRobot(cfg, f.light, f.dist, f.motors, f.rec, clock)
	require.NoError(t, err)
	t.Cleanup(f.robot.Stop)
	return f
}

func TestRobot_StartFollowsLineAndStops(t *testing.T) {
	f := newRobotFixture(t, &fakeLight{readings: []float64{25}}, nil)

	require.NoError(t, f.robot.Start())
	assert.True(t, f.robot.Running())
	assert.ErrorIs(t, f.robot.Start(), ErrRunning)

	require.Eventually(t, func() bool {
		return f.robot.Status().Nav.State == StateLineFollowing
	}, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		left, right := f.motors.wheels()
		return left > 0 && right > 0
	}, 2*time.Second, 5*time.Millisecond)

	st := f.robot.Status()
	assert.Equal(t, LaneState{Current: 1, Target: 1}, st.Lane)
	assert.Equal(t, 25.0, st.Signal.Raw)

	f.robot.Stop()
	assert.False(t, f.robot.Running())
	left, right := f.motors.wheels()
	assert.Equal(t, 0.0, left)
	assert.Equal(t, 0.0, right)
	assert.NoError(t, f.robot.Err())
	assert.Contains(t, f.rec.messageList(), "run stopped")
}

func TestRobot_CleanTrackingReachesTopTier(t *testing.T) {
	clock := NewManualClock(t0)
	f := newRobotFixture(t, &fakeLight{readings: []float64{25}}, clock)
	require.NoError(t, f.robot.Start())

	// Step the sampler, scanner and navigator loops together at 200 Hz.
	parked := func() {
		require.Eventually(t, func() bool { return clock.Waiters() == 3 }, time.Second, time.Millisecond)
	}
	for i := 0; i < 400 && f.robot.Status().Nav.Tier != "P3"; i++ {
		parked()
		clock.Advance(5 * time.Millisecond)
	}
	parked()

	st := f.robot.Status()
	assert.Equal(t, StateLineFollowing, st.Nav.State)
	assert.Equal(t, "P3", st.Nav.Tier)
	assert.Equal(t, 0.0, st.Signal.Error)
	assert.Equal(t, 0.0, st.Signal.Derivative)
	left, right := f.motors.wheels()
	assert.Equal(t, 800.0, left)
	assert.Equal(t, 800.0, right)
}

func TestRobot_SeedFailureDoesNotStart(t *testing.T) {
	f := newRobotFixture(t, &fakeLight{failAt: 1}, nil)

	err := f.robot.Start()
	assert.ErrorIs(t, err, errSensor)
	assert.False(t, f.robot.Running())
}

func TestRobot_LoopFailureStopsRun(t *testing.T) {
	f := newRobotFixture(t, &fakeLight{readings: []float64{25}, failAt: 50}, nil)

	require.NoError(t, f.robot.Start())
	require.Eventually(t, func() bool { return !f.robot.Running() }, 2*time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, f.robot.Err(), errSensor)
	assert.Contains(t, f.robot.Status().Error, "light sampler")
	require.Eventually(t, func() bool {
		left, right := f.motors.wheels()
		return left == 0 && right == 0
	}, time.Second, 5*time.Millisecond)
}

func TestRobot_StopWaitsForFailedRunToHalt(t *testing.T) {
	f := newRobotFixture(t, &fakeLight{readings: []float64{25}, failAt: 50}, nil)
	f.motors.delay = 20 * time.Millisecond

	require.NoError(t, f.robot.Start())
	require.Eventually(t, func() bool { return f.robot.Err() != nil }, 2*time.Second, time.Millisecond)

	f.robot.Stop()
	assert.False(t, f.robot.Running())
	left, right := f.motors.wheels()
	assert.Equal(t, 0.0, left)
	assert.Equal(t, 0.0, right)
	assert.Contains(t, f.rec.messageList(), "run stopped")
}

func TestRobot_StartAfterFailureWaitsForHalt(t *testing.T) {
	light := &fakeLight{readings: []float64{25}, failAt: 50}
	f := newRobotFixture(t, light, nil)
	f.motors.delay = 20 * time.Millisecond

	require.NoError(t, f.robot.Start())
	require.Eventually(t, func() bool { return !f.robot.Running() }, 2*time.Second, time.Millisecond)

	light.set(25)
	require.NoError(t, f.robot.Start())
	assert.Contains(t, f.rec.messageList(), "run stopped", "the old run halts before the new one starts")
	assert.True(t, f.robot.Running())
}

func TestRobot_Restart(t *testing.T) {
	light := &fakeLight{readings: []float64{25}}
	f := newRobotFixture(t, light, nil)

	require.NoError(t, f.robot.Start())
	f.robot.Stop()

	light.set(30)
	require.NoError(t, f.robot.Start())
	st := f.robot.Status()
	assert.True(t, st.Running)
	assert.Equal(t, 1, st.Lane.Current)
	assert.Equal(t, 30.0, st.Signal.Raw)
}

func TestNewRobot_RejectsInvalidConfig(t *testing.T) {
	cfg := DefaultRobotConfig()
	cfg.Scanner.Lanes = 7
	_, err := NewRobot(cfg, &fakeLight{}, &fakeDistance{}, newFakeActuator(), nil, nil)
	assert.Error(t, err)
}
