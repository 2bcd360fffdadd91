package lib

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"lanebot/lib/telemetry"
)

// Light sources selectable in HardwareConfig.
const (
	LightSourceHead   = "head"
	LightSourceCamera = "camera"
)

// CameraConfig holds configuration parameters for the camera light meter.
type CameraConfig struct {
	CameraID    int     `yaml:"camera_id"`
	ROIFraction float64 `yaml:"roi_fraction"` // side of the centre square as a fraction of the frame height
	BlurKernel  int     `yaml:"blur_kernel"`
	ShowWindow  bool    `yaml:"show_window"`
	WindowName  string  `yaml:"window_name"`
}

// DefaultCameraConfig returns a default configuration for a camera looking
// straight down at the line edge.
func DefaultCameraConfig() CameraConfig {
	return CameraConfig{
		CameraID:    0,
		ROIFraction: 0.2,
		BlurKernel:  5,
		ShowWindow:  false, // Default to headless mode
		WindowName:  "Light Meter",
	}
}

// HardwareConfig describes the serial devices and the light source.
type HardwareConfig struct {
	Roomba      PortOptions  `yaml:"roomba"`
	Head        PortOptions  `yaml:"head"`
	LightSource string       `yaml:"light_source"` // head, camera
	Camera      CameraConfig `yaml:"camera"`
}

// TelemetryConfig selects the telemetry sinks. Empty fields disable a sink.
type TelemetryConfig struct {
	StreamAddr string               `yaml:"stream_addr"`
	QueueSize  int                  `yaml:"queue_size"`
	MQTT       telemetry.MQTTConfig `yaml:"mqtt"`
	SQLitePath string               `yaml:"sqlite_path"`
}

// RobotConfig is the complete robot configuration.
type RobotConfig struct {
	Sampler     SamplerConfig   `yaml:"sampler"`
	Calibration Calibration     `yaml:"calibration"`
	Scanner     ScannerConfig   `yaml:"scanner"`
	Scheduler   SchedulerConfig `yaml:"scheduler"`
	Navigator   NavigatorConfig `yaml:"navigator"`
	Chassis     ChassisConfig   `yaml:"chassis"`
	Hardware    HardwareConfig  `yaml:"hardware"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
}

// DefaultRobotConfig returns the configuration used on the track.
func DefaultRobotConfig() RobotConfig {
	return RobotConfig{
		Sampler:   DefaultSamplerConfig(),
		Scanner:   DefaultScannerConfig(),
		Scheduler: DefaultSchedulerConfig(),
		Navigator: DefaultNavigatorConfig(),
		Chassis:   DefaultChassisConfig(),
		Hardware: HardwareConfig{
			Roomba:      PortOptions{BaudRate: 115200},
			Head:        PortOptions{BaudRate: 115200},
			LightSource: LightSourceHead,
			Camera:      DefaultCameraConfig(),
		},
		Telemetry: TelemetryConfig{
			StreamAddr: ":5000",
			QueueSize:  1024,
		},
	}
}

// LoadRobotConfig reads a YAML file over the defaults. Fields missing from the
// file keep their default value.
func LoadRobotConfig(path string) (*RobotConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseRobotConfig(data)
}

// ParseRobotConfig parses YAML over the defaults and validates the result.
func ParseRobotConfig(data []byte) (*RobotConfig, error) {
	cfg := DefaultRobotConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks every section.
func (c RobotConfig) Validate() error {
	if err := c.Sampler.Validate(); err != nil {
		return fmt.Errorf("sampler: %w", err)
	}
	if err := c.Scanner.Validate(); err != nil {
		return fmt.Errorf("scanner: %w", err)
	}
	if err := c.Scheduler.Validate(); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	if err := c.Navigator.Validate(); err != nil {
		return fmt.Errorf("navigator: %w", err)
	}
	if c.Chassis.SpeedScale <= 0 {
		return fmt.Errorf("chassis: speed_scale must be > 0, got %v", c.Chassis.SpeedScale)
	}
	switch c.Hardware.LightSource {
	case LightSourceHead:
	case LightSourceCamera:
		if f := c.Hardware.Camera.ROIFraction; f <= 0 || f > 1 {
			return fmt.Errorf("hardware: camera roi_fraction must be in (0, 1], got %v", f)
		}
	default:
		return fmt.Errorf("hardware: light_source must be %q or %q, got %q",
			LightSourceHead, LightSourceCamera, c.Hardware.LightSource)
	}
	if c.Telemetry.QueueSize < 0 {
		return fmt.Errorf("telemetry: queue_size must be >= 0, got %d", c.Telemetry.QueueSize)
	}
	return nil
}
