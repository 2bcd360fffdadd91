package lib

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const overlayYAML = `
sampler:
  target: 30
  integral_window: 1s
scanner:
  lanes: 2
  initial_lane: 0
scheduler:
  dwell: [0s, 200ms, 600ms, 400ms]
navigator:
  initial_side: LEFT
  right_change:
    t2: 2s
hardware:
  roomba:
    path: /dev/ttyUSB0
  light_source: camera
telemetry:
  mqtt:
    broker: localhost:1883
`

func TestDefaultRobotConfig_Valid(t *testing.T) {
	require.NoError(t, DefaultRobotConfig().Validate())
}

func TestParseRobotConfig_Overlay(t *testing.T) {
	cfg, err := ParseRobotConfig([]byte(overlayYAML))
	require.NoError(t, err)

	assert.Equal(t, 30.0, cfg.Sampler.Target)
	assert.Equal(t, time.Second, cfg.Sampler.IntegralWindow)
	assert.Equal(t, 200.0, cfg.Sampler.Frequency, "unset fields keep defaults")

	assert.Equal(t, 2, cfg.Scanner.Lanes)
	assert.Equal(t, 0, cfg.Scanner.InitialLane)
	assert.Equal(t, 400.0, cfg.Scanner.HardBlockThreshold)

	assert.Equal(t, 400*time.Millisecond, cfg.Scheduler.Dwell[TierRacing])
	assert.Equal(t, 800.0, cfg.Scheduler.Profiles[TierRacing].Speed)

	assert.Equal(t, Left, cfg.Navigator.InitialSide)
	assert.Equal(t, 2*time.Second, cfg.Navigator.RightChange.T2)
	assert.Equal(t, 400.0, cfg.Navigator.RightChange.BaseSpeed)
	assert.Equal(t, 3*time.Second, cfg.Navigator.LeftChange.T2)

	assert.Equal(t, "/dev/ttyUSB0", cfg.Hardware.Roomba.Path)
	assert.Equal(t, 115200, cfg.Hardware.Roomba.BaudRate)
	assert.Equal(t, LightSourceCamera, cfg.Hardware.LightSource)
	assert.Equal(t, 0.2, cfg.Hardware.Camera.ROIFraction)

	assert.Equal(t, "localhost:1883", cfg.Telemetry.MQTT.Broker)
	assert.Equal(t, ":5000", cfg.Telemetry.StreamAddr)
}

func TestParseRobotConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad yaml", "sampler: [", "failed to parse"},
		{"lanes", "scanner: {lanes: 5}", "scanner"},
		{"light source", "hardware: {light_source: laser}", "light_source"},
		{"side", "navigator: {initial_side: UP}", "initial_side"},
		{"window", "sampler: {integral_window: 5ms}", "sampler"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRobotConfig([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadRobotConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "robot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(overlayYAML), 0o644))

	cfg, err := LoadRobotConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Scanner.Lanes)

	_, err = LoadRobotConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
