package engine

import (
	"log/slog"
	"time"
)

// Defaults used when a Config field is left zero.
const (
	DefaultHoldTimeout      = 500 * time.Millisecond
	DefaultDecay            = 800 * time.Millisecond
	DefaultSpringConstant   = 0.15
	DefaultDamping          = 0.85
	DefaultEmitEpsilon      = 1e-4
	DefaultTriggerThreshold = 0.5
	DefaultMasterDeck       = "master"
)

// Config is the engine construction surface.
type Config struct {
	// HoldTimeout is how long a mapping keeps its last target with no eligible
	// gesture before decaying to neutral.
	HoldTimeout time.Duration
	// Decay is the length of the linear ramp to neutral after HoldTimeout.
	Decay time.Duration

	// SpringConstant is the filter stiffness per tick^2. Larger is faster.
	SpringConstant float64
	// Damping is the fraction of velocity kept per tick. The filter is never
	// under-damped, so only values below 1 - 2*sqrt(SpringConstant) slow it
	// further; anything above gives the critically damped response.
	Damping float64

	// EmitEpsilon is the minimum change in a continuous value that reaches the sink.
	EmitEpsilon float64
	// TriggerThreshold is the processed value at or above which a toggle gesture counts as active.
	TriggerThreshold float64

	// Neutral maps a control to the value it decays to. Controls with no entry
	// (volume by default) hold their last value indefinitely.
	Neutral map[NeutralKey]float64

	// MasterDeck is the deck id passed to SetDeckVolume for the "master" target.
	MasterDeck string

	Logger *slog.Logger

	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// NeutralKey selects a decay target. Target "" applies to every stem.
type NeutralKey struct {
	Target  Target
	Control ControlType
}

// DefaultNeutral returns the built-in neutral values: centred pan, flat EQ and
// a centred crossfader.
func DefaultNeutral() map[NeutralKey]float64 {
	n := map[NeutralKey]float64{
		{Control: ControlPan}: 0,
		{Control: ControlEQ}:  0.5,
	}
	n[NeutralKey{Target: TargetCrossfader, Control: ControlVolume}] = 0.5
	return n
}

// DefaultConfig returns a Config with every field set to its default.
func DefaultConfig() Config {
	return Config{
		HoldTimeout:      DefaultHoldTimeout,
		Decay:            DefaultDecay,
		SpringConstant:   DefaultSpringConstant,
		Damping:          DefaultDamping,
		EmitEpsilon:      DefaultEmitEpsilon,
		TriggerThreshold: DefaultTriggerThreshold,
		Neutral:          DefaultNeutral(),
		MasterDeck:       DefaultMasterDeck,
	}
}

// withDefaults fills zero fields.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.HoldTimeout == 0 {
		c.HoldTimeout = d.HoldTimeout
	}
	if c.Decay == 0 {
		c.Decay = d.Decay
	}
	if c.SpringConstant == 0 {
		c.SpringConstant = d.SpringConstant
	}
	if c.Damping == 0 {
		c.Damping = d.Damping
	}
	if c.EmitEpsilon == 0 {
		c.EmitEpsilon = d.EmitEpsilon
	}
	if c.TriggerThreshold == 0 {
		c.TriggerThreshold = d.TriggerThreshold
	}
	if c.Neutral == nil {
		c.Neutral = d.Neutral
	}
	if c.MasterDeck == "" {
		c.MasterDeck = d.MasterDeck
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Validate checks the tunables. It is called by New after defaults are applied.
func (c Config) Validate() error {
	if c.HoldTimeout < 0 {
		return &ValidationError{Field: "hold_timeout", Value: c.HoldTimeout, Reason: "must be >= 0"}
	}
	if c.Decay < 0 {
		return &ValidationError{Field: "decay", Value: c.Decay, Reason: "must be >= 0"}
	}
	if c.SpringConstant <= 0 || c.SpringConstant > 1 {
		return &ValidationError{Field: "spring_constant", Value: c.SpringConstant, Reason: "must be in (0,1]"}
	}
	if c.Damping <= 0 || c.Damping > 1 {
		return &ValidationError{Field: "damping", Value: c.Damping, Reason: "must be in (0,1]"}
	}
	if c.EmitEpsilon < 0 {
		return &ValidationError{Field: "emit_epsilon", Value: c.EmitEpsilon, Reason: "must be >= 0"}
	}
	if c.TriggerThreshold <= 0 || c.TriggerThreshold > 1 {
		return &ValidationError{Field: "trigger_threshold", Value: c.TriggerThreshold, Reason: "must be in (0,1]"}
	}
	for k, v := range c.Neutral {
		lo, hi := ControlKey{Target: k.Target, Control: k.Control}.bounds()
		if v < lo || v > hi {
			return &ValidationError{Field: "neutral." + string(k.Control), Value: v, Reason: "outside control range"}
		}
	}
	return nil
}

// neutralFor returns the decay target for key, if one is configured.
// A target-specific entry wins over the stem-wide one.
func (c Config) neutralFor(k ControlKey) (float64, bool) {
	if v, ok := c.Neutral[NeutralKey{Target: k.Target, Control: k.Control}]; ok {
		return v, true
	}
	if k.Target.IsGlobal() {
		return 0, false
	}
	v, ok := c.Neutral[NeutralKey{Control: k.Control}]
	return v, ok
}
