package lib

import (
	"fmt"
	"math"
	"time"
)

// Tier indexes the gain profiles from most cautious to most aggressive.
type Tier int

const (
	TierCautious Tier = iota
	TierModerate
	TierFast
	TierRacing
)

func (t Tier) String() string {
	switch t {
	case TierCautious:
		return "P0"
	case TierModerate:
		return "P1"
	case TierFast:
		return "P2"
	case TierRacing:
		return "P3"
	default:
		return fmt.Sprintf("Tier(%d)", int(t))
	}
}

// GainProfile is one PID tuning with its base speed. The thresholds bound the
// tracking error and derivative the profile tolerates; P0 ignores them.
type GainProfile struct {
	Speed               float64 `yaml:"speed"`
	Kp                  float64 `yaml:"kp"`
	Ki                  float64 `yaml:"ki"`
	Kd                  float64 `yaml:"kd"`
	ErrorThreshold      float64 `yaml:"error_threshold"`
	DerivativeThreshold float64 `yaml:"derivative_threshold"`
}

// violated reports whether error or derivative exceed this profile's bounds.
func (p GainProfile) violated(e, d float64) bool {
	return math.Abs(e) > p.ErrorThreshold || math.Abs(d) > p.DerivativeThreshold
}

// SchedulerConfig holds the four profiles and the dwell time each tier above
// P0 must see without violations before it is selected.
type SchedulerConfig struct {
	Profiles        [4]GainProfile   `yaml:"profiles"`
	Dwell           [4]time.Duration `yaml:"dwell"` // index 0 unused
	DerivativeLimit float64          `yaml:"derivative_limit"`
}

// DefaultSchedulerConfig returns the 200/400/600/800 profiles tuned on the
// track.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Profiles: [4]GainProfile{
			{Speed: 200, Kp: 3.0, Ki: 0.2, Kd: 0.5},
			{Speed: 400, Kp: 4.5, Ki: 0.25, Kd: 1.0, ErrorThreshold: 15, DerivativeThreshold: 250},
			{Speed: 600, Kp: 7.0, Ki: 0.4, Kd: 1.8, ErrorThreshold: 7, DerivativeThreshold: 125},
			{Speed: 800, Kp: 9.5, Ki: 0.55, Kd: 4.0, ErrorThreshold: 5, DerivativeThreshold: 30},
		},
		Dwell:           [4]time.Duration{0, 300 * time.Millisecond, 800 * time.Millisecond, 500 * time.Millisecond},
		DerivativeLimit: 350,
	}
}

// Validate checks the ordering of speeds and thresholds.
func (c SchedulerConfig) Validate() error {
	for i := 1; i < len(c.Profiles); i++ {
		if c.Profiles[i].Speed <= c.Profiles[i-1].Speed {
			return fmt.Errorf("profile %v speed %v must exceed profile %v speed %v",
				Tier(i), c.Profiles[i].Speed, Tier(i-1), c.Profiles[i-1].Speed)
		}
		if c.Dwell[i] < 0 {
			return fmt.Errorf("dwell for %v must be >= 0, got %v", Tier(i), c.Dwell[i])
		}
	}
	for i := 2; i < len(c.Profiles); i++ {
		prev, cur := c.Profiles[i-1], c.Profiles[i]
		if cur.ErrorThreshold >= prev.ErrorThreshold || cur.DerivativeThreshold >= prev.DerivativeThreshold {
			return fmt.Errorf("profile %v thresholds (%v, %v) must be below %v thresholds (%v, %v)",
				Tier(i), cur.ErrorThreshold, cur.DerivativeThreshold,
				Tier(i-1), prev.ErrorThreshold, prev.DerivativeThreshold)
		}
	}
	if c.Profiles[TierRacing].ErrorThreshold <= 0 || c.Profiles[TierRacing].DerivativeThreshold <= 0 {
		return fmt.Errorf("profile %v thresholds must be > 0", TierRacing)
	}
	if c.DerivativeLimit <= 0 {
		return fmt.Errorf("derivative_limit must be > 0, got %v", c.DerivativeLimit)
	}
	return nil
}

// GainDecision is the outcome of one scheduling step.
type GainDecision struct {
	Tier       Tier
	Profile    GainProfile
	Derivative float64 // clamped derivative to use in the control law
}

// GainScheduler picks a gain profile from recent tracking quality. A tier is
// only reached after its dwell time has passed without a violation of its
// thresholds, while any violation drops it immediately.
type GainScheduler struct {
	config SchedulerConfig
	last   [4]time.Time // index 0 unused
}

// NewGainScheduler creates a scheduler whose dwell timers start at now.
func NewGainScheduler(config SchedulerConfig, now time.Time) (*GainScheduler, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	g := &GainScheduler{config: config}
	g.Reset(now)
	return g, nil
}

// Reset marks every tier as violated at now.
func (g *GainScheduler) Reset(now time.Time) {
	for i := range g.last {
		g.last[i] = now
	}
}

// ClampDerivative limits d to the configured symmetric bound.
func (g *GainScheduler) ClampDerivative(d float64) float64 {
	return clamp(d, -g.config.DerivativeLimit, g.config.DerivativeLimit)
}

// Update records the tracking quality at now and returns the active profile.
func (g *GainScheduler) Update(e, derivative float64, frontBlocked bool, now time.Time) GainDecision {
	d := g.ClampDerivative(derivative)
	p := g.config.Profiles

	switch {
	case p[TierModerate].violated(e, d):
		g.last[TierModerate] = now
		g.last[TierFast] = now
		g.last[TierRacing] = now
	case p[TierFast].violated(e, d):
		g.last[TierFast] = now
		g.last[TierRacing] = now
	case p[TierRacing].violated(e, d):
		g.last[TierRacing] = now
	}

	tier := g.selectTier(frontBlocked, now)
	return GainDecision{Tier: tier, Profile: p[tier], Derivative: d}
}

func (g *GainScheduler) selectTier(frontBlocked bool, now time.Time) Tier {
	switch {
	case frontBlocked:
		return TierCautious
	case now.Sub(g.last[TierRacing]) > g.config.Dwell[TierRacing]:
		return TierRacing
	case now.Sub(g.last[TierFast]) > g.config.Dwell[TierFast]:
		return TierFast
	case now.Sub(g.last[TierModerate]) > g.config.Dwell[TierModerate]:
		return TierModerate
	default:
		return TierCautious
	}
}

// clamp keeps value inside [lo, hi].
func clamp(value, lo, hi float64) float64 {
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}
