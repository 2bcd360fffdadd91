package lib

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"
)

// SamplerConfig holds configuration for the light signal processor.
type SamplerConfig struct {
	Target                 float64       `yaml:"target"`                   // light level of the line edge, percent
	Frequency              float64       `yaml:"frequency"`                // samples per second
	IntegralWindow         time.Duration `yaml:"integral_window"`          // span the integral is taken over
	DerivativeLag          time.Duration `yaml:"derivative_lag"`           // time between the two averaged groups
	DerivativeAverageCount int           `yaml:"derivative_average_count"` // samples averaged on each side
	LogEveryNth            int           `yaml:"log_every_nth"`            // 0 disables telemetry
}

// DefaultSamplerConfig returns the tuning used on the track: 200 Hz with a
// 1.2 s integral window.
func DefaultSamplerConfig() SamplerConfig {
	return SamplerConfig{
		Target:                 25,
		Frequency:              200,
		IntegralWindow:         1200 * time.Millisecond,
		DerivativeLag:          20 * time.Millisecond,
		DerivativeAverageCount: 5,
	}
}

// IntegralLen is the number of samples summed for the integral term.
func (c SamplerConfig) IntegralLen() int {
	return int(math.Round(c.IntegralWindow.Seconds() * c.Frequency))
}

// DerivativeLagLen is the distance in samples between the two averaged groups.
func (c SamplerConfig) DerivativeLagLen() int {
	return int(math.Round(c.DerivativeLag.Seconds() * c.Frequency))
}

// WindowLen is the length of the circular error buffer.
func (c SamplerConfig) WindowLen() int {
	return max(c.IntegralLen(), 2*c.DerivativeLagLen())
}

// Validate checks that the window is long enough for the derivative lag.
func (c SamplerConfig) Validate() error {
	if c.Frequency <= 0 {
		return fmt.Errorf("sampler frequency must be > 0, got %v", c.Frequency)
	}
	if c.IntegralLen() < 1 {
		return fmt.Errorf("integral window %v is shorter than one sample at %v Hz", c.IntegralWindow, c.Frequency)
	}
	if c.DerivativeLagLen() < 1 {
		return fmt.Errorf("derivative lag %v is shorter than one sample at %v Hz", c.DerivativeLag, c.Frequency)
	}
	if c.DerivativeAverageCount < 1 {
		return fmt.Errorf("derivative average count must be >= 1, got %d", c.DerivativeAverageCount)
	}
	if need := c.DerivativeLagLen() + c.DerivativeAverageCount; need > c.WindowLen() {
		return fmt.Errorf("window of %d samples cannot hold derivative lag %d plus %d averaged samples",
			c.WindowLen(), c.DerivativeLagLen(), c.DerivativeAverageCount)
	}
	if c.LogEveryNth < 0 {
		return fmt.Errorf("log_every_nth must be >= 0, got %d", c.LogEveryNth)
	}
	return nil
}

// Correction maps a raw sensor reading onto the calibrated scale.
type Correction func(raw float64) float64

// Snapshot is a consistent view of the processed light signal.
type Snapshot struct {
	Raw        float64 `json:"raw"`
	Error      float64 `json:"error"`
	Integral   float64 `json:"integral"`
	Derivative float64 `json:"derivative"`
}

// SignalSampler turns raw light readings into error, integral and derivative
// terms over a rolling window.
type SignalSampler struct {
	config     SamplerConfig
	sensor     LightSensor
	correction Correction
	telemetry  Telemetry
	clock      Clock

	integralLen int
	lagLen      int
	lagSeconds  float64

	mu      sync.Mutex
	window  []float64
	cursor  int
	sum     float64
	raw     float64
	current float64
	logN    int
}

// SamplerOption customises a SignalSampler.
type SamplerOption func(*SignalSampler)

// WithCorrection applies a calibration correction to every raw reading.
func WithCorrection(c Correction) SamplerOption {
	return func(s *SignalSampler) { s.correction = c }
}

// WithSamplerTelemetry streams cs-* parameters every LogEveryNth samples.
func WithSamplerTelemetry(t Telemetry) SamplerOption {
	return func(s *SignalSampler) { s.telemetry = t }
}

// WithSamplerClock replaces the clock driving Run.
func WithSamplerClock(c Clock) SamplerOption {
	return func(s *SignalSampler) { s.clock = c }
}

// NewSignalSampler creates a sampler reading from sensor.
func NewSignalSampler(config SamplerConfig, sensor LightSensor, opts ...SamplerOption) (*SignalSampler, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	s := &SignalSampler{
		config:      config,
		sensor:      sensor,
		telemetry:   NopTelemetry{},
		clock:       RealClock{},
		integralLen: config.IntegralLen(),
		lagLen:      config.DerivativeLagLen(),
		window:      make([]float64, config.WindowLen()),
	}
	s.lagSeconds = float64(s.lagLen) / config.Frequency
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start reads the sensor once and fills the whole window with that error so
// the first integral and derivative values are not dragged towards zero.
func (s *SignalSampler) Start() error {
	raw, err := s.read()
	if err != nil {
		return fmt.Errorf("seeding light sampler: %w", err)
	}
	s.Seed(raw)
	return nil
}

// Seed fills the window with the error of raw.
func (s *SignalSampler) Seed(raw float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := raw - s.config.Target
	for i := range s.window {
		s.window[i] = e
	}
	s.cursor = 0
	s.sum = e * float64(s.integralLen)
	s.raw = raw
	s.current = e
}

// Sample stores a new raw reading.
func (s *SignalSampler) Sample(raw float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := raw - s.config.Target
	s.raw = raw
	s.current = e

	n := len(s.window)
	s.cursor = (s.cursor + 1) % n
	evicted := s.window[(s.cursor-s.integralLen+n)%n]
	s.window[s.cursor] = e

	if s.cursor == 0 {
		s.resum()
	} else {
		s.sum += e - evicted
	}
}

// resum recomputes the integral sum from the window to discard rounding drift.
func (s *SignalSampler) resum() {
	n := len(s.window)
	sum := 0.0
	for j := 0; j < s.integralLen; j++ {
		sum += s.window[(s.cursor-j+n)%n]
	}
	s.sum = sum
}

// Snapshot returns the current error, integral and derivative.
func (s *SignalSampler) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Snapshot{
		Raw:        s.raw,
		Error:      s.current,
		Integral:   s.sum / s.config.Frequency,
		Derivative: s.derivative(),
	}
}

// RawValue returns the last corrected reading.
func (s *SignalSampler) RawValue() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.raw
}

func (s *SignalSampler) derivative() float64 {
	n := len(s.window)
	k := s.config.DerivativeAverageCount

	current, old := 0.0, 0.0
	for j := 0; j < k; j++ {
		current += s.window[(s.cursor-j+n)%n]
		old += s.window[(s.cursor-s.lagLen-j+2*n)%n]
	}
	return (current - old) / float64(k) / s.lagSeconds
}

// ReadSensor reads the sensor once and stores the reading.
func (s *SignalSampler) ReadSensor() error {
	raw, err := s.read()
	if err != nil {
		return err
	}
	s.Sample(raw)

	if s.config.LogEveryNth > 0 {
		s.logN++
		if s.logN > s.config.LogEveryNth {
			s.logN = 0
			snap := s.Snapshot()
			s.telemetry.LogParams(
				[]string{"cs-time", "cs-v", "cs-e", "cs-i", "cs-d"},
				[]any{unixSeconds(s.clock.Now()), snap.Raw, snap.Error, snap.Integral, snap.Derivative},
			)
		}
	}
	return nil
}

func (s *SignalSampler) read() (float64, error) {
	raw, err := s.sensor.ReadAmbientLight()
	if err != nil {
		return 0, err
	}
	if s.correction != nil {
		raw = s.correction(raw)
	}
	return raw, nil
}

// Run samples the sensor at the configured frequency until ctx is done. A
// failed read ends the loop.
func (s *SignalSampler) Run(ctx context.Context) error {
	period := time.Duration(float64(time.Second) / s.config.Frequency)
	err := runPeriodic(ctx, s.clock, period, s.ReadSensor)
	if err != nil {
		return fmt.Errorf("light sampler: %w", err)
	}
	return nil
}

// Calibration describes the corrected readings of the dark line and the bright
// floor. A zero Calibration leaves readings unchanged.
type Calibration struct {
	Dark   float64 `yaml:"dark"`
	Bright float64 `yaml:"bright"`
}

// Correction returns a linear remap of [Dark, Bright] onto [0, 100], or nil
// when the calibration is unset.
func (c Calibration) Correction() Correction {
	if c.Bright == c.Dark {
		return nil
	}
	scale := 100 / (c.Bright - c.Dark)
	return func(raw float64) float64 {
		return (raw - c.Dark) * scale
	}
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
