package main

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"gesturemix/engine"
)

// Config is the top-level YAML configuration for the gesturemixd daemon.
//
// Defaults and validation live here so the rest of the daemon can assume a
// well-formed config. The file is the primary surface; flags only override.
type Config struct {
	// Mapping engine tuning
	Engine EngineFileConfig `yaml:"engine"`

	// Profile selected at startup; empty selects the first profile.
	ActiveProfile string `yaml:"active_profile"`

	// Initial mapping profiles
	Profiles []engine.MappingProfile `yaml:"profiles"`

	// Stems known to the mixer
	Stems []string `yaml:"stems"`

	// Mixer websocket the handoff is pumped into
	Mixer MixerConfig `yaml:"mixer"`

	// IPC configuration (gesture-ctl and classifier bridges)
	IPC IPCConfig `yaml:"ipc"`

	// Feedback websocket + status HTTP server
	Feedback FeedbackConfig `yaml:"feedback"`

	// Optional MQTT frame source
	MQTT MQTTConfig `yaml:"mqtt"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// EngineFileConfig is the YAML-friendly form of engine.Config
// (durations in milliseconds, neutral values per control).
type EngineFileConfig struct {
	HoldTimeoutMS    int     `yaml:"hold_timeout_ms"`
	DecayMS          int     `yaml:"decay_ms"`
	SpringConstant   float64 `yaml:"spring_constant"`
	Damping          float64 `yaml:"damping"` // only matters below 1-2*sqrt(spring_constant)
	EmitEpsilon      float64 `yaml:"emit_epsilon"`
	TriggerThreshold float64 `yaml:"trigger_threshold"`
	MasterDeck       string  `yaml:"master_deck"`

	// IdleTickHz submits empty frames while no classifier is sending, so
	// hold and decay keep progressing. Zero disables it.
	IdleTickHz int `yaml:"idle_tick_hz"`

	Neutral NeutralFileConfig `yaml:"neutral"`
}

// NeutralFileConfig holds decay targets. Stem volume holds its last value
// unless StemVolume is set.
type NeutralFileConfig struct {
	Pan        float64  `yaml:"pan"`
	EQ         float64  `yaml:"eq"`
	Crossfader float64  `yaml:"crossfader"`
	StemVolume *float64 `yaml:"stem_volume,omitempty"`
}

type MixerConfig struct {
	Enabled   bool   `yaml:"enabled"`
	WsURL     string `yaml:"ws_url"`
	TimeoutMS int    `yaml:"timeout_ms"`
	UpdateHz  int    `yaml:"update_hz"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"`
}

type FeedbackConfig struct {
	Port  int    `yaml:"port"`
	Path  string `yaml:"path"`
	MaxHz int    `yaml:"max_hz"`
}

type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
	QoS      byte   `yaml:"qos"`
	Encoding string `yaml:"encoding"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// defaultProfile is the profile used when the config file names none.
func defaultProfile() engine.MappingProfile {
	return engine.MappingProfile{
		ID:   "default",
		Name: "Default",
		Mappings: []engine.GestureMapping{
			{ID: "vocals-volume", Name: "Vocals volume", GestureType: engine.GesturePinch, HandRequirement: engine.RequireRight, Target: "vocals", Control: engine.ControlVolume, Sensitivity: 1, Deadzone: 0.05},
			{ID: "drums-volume", Name: "Drums volume", GestureType: engine.GesturePinch, HandRequirement: engine.RequireLeft, Target: "drums", Control: engine.ControlVolume, Sensitivity: 1, Deadzone: 0.05},
			{ID: "bass-pan", Name: "Bass pan", GestureType: engine.GesturePoint, HandRequirement: engine.RequireAny, Target: "bass", Control: engine.ControlPan, Sensitivity: 1},
			{ID: "other-mute", Name: "Other mute", GestureType: engine.GestureFist, HandRequirement: engine.RequireAny, Target: "other", Control: engine.ControlMute, Sensitivity: 1},
			{ID: "crossfade", Name: "Crossfade", GestureType: engine.GestureSpread, HandRequirement: engine.RequireTwoHand, Target: engine.TargetCrossfader, Control: engine.ControlVolume, Sensitivity: 1},
		},
	}
}

// DefaultConfig returns a fully-populated Config with defaults.
func DefaultConfig() Config {
	return Config{
		Engine: EngineFileConfig{
			HoldTimeoutMS:    int(engine.DefaultHoldTimeout / time.Millisecond),
			DecayMS:          int(engine.DefaultDecay / time.Millisecond),
			SpringConstant:   engine.DefaultSpringConstant,
			Damping:          engine.DefaultDamping,
			EmitEpsilon:      engine.DefaultEmitEpsilon,
			TriggerThreshold: engine.DefaultTriggerThreshold,
			MasterDeck:       engine.DefaultMasterDeck,
			IdleTickHz:       30,
			Neutral: NeutralFileConfig{
				Pan:        0,
				EQ:         0.5,
				Crossfader: 0.5,
			},
		},
		Stems: []string{"vocals", "drums", "bass", "other"},
		Mixer: MixerConfig{
			Enabled:   false,
			WsURL:     "ws://127.0.0.1:9001/mixer",
			TimeoutMS: defaultReadTimeoutMS,
			UpdateHz:  defaultUpdateHz,
		},
		IPC: IPCConfig{
			SocketPath: "/tmp/gesturemix.sock",
		},
		Feedback: FeedbackConfig{
			Port:  3002,
			Path:  "/ws/feedback",
			MaxHz: 30,
		},
		MQTT: MQTTConfig{
			Enabled:  false,
			Broker:   "localhost:1883",
			Topic:    "gesturemix/frames",
			ClientID: "gesturemixd",
			QoS:      0,
			Encoding: string(engine.EncodingJSON),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: string(LogFormatText),
		},
	}
}

// LoadConfigFile reads and parses a YAML config file.
//
// Unknown fields are rejected via KnownFields(true) so typos surface early.
// A file that lists profiles replaces the built-in default profile.
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Only whitespace/comments may follow the document.
	if err := dec.Decode(&struct{}{}); err == nil {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// FlagOverrides carries flag values to apply on top of a loaded config.
// Each override is applied only if its pointer is non-nil.
type FlagOverrides struct {
	ActiveProfile *string

	MixerEnabled   *bool
	MixerWsURL     *string
	MixerTimeoutMS *int
	MixerUpdateHz  *int

	HoldTimeoutMS *int
	DecayMS       *int

	IPCSocketPath *string
	FeedbackPort  *int

	MQTTEnabled *bool
	MQTTBroker  *string
	MQTTTopic   *string

	LogLevel  *string
	LogFormat *string
}

// Apply merges the overrides into cfg. A non-nil pointer is applied even if
// it points at a zero value.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.ActiveProfile != nil {
		cfg.ActiveProfile = *o.ActiveProfile
	}

	if o.MixerEnabled != nil {
		cfg.Mixer.Enabled = *o.MixerEnabled
	}
	if o.MixerWsURL != nil {
		cfg.Mixer.WsURL = *o.MixerWsURL
	}
	if o.MixerTimeoutMS != nil {
		cfg.Mixer.TimeoutMS = *o.MixerTimeoutMS
	}
	if o.MixerUpdateHz != nil {
		cfg.Mixer.UpdateHz = *o.MixerUpdateHz
	}

	if o.HoldTimeoutMS != nil {
		cfg.Engine.HoldTimeoutMS = *o.HoldTimeoutMS
	}
	if o.DecayMS != nil {
		cfg.Engine.DecayMS = *o.DecayMS
	}

	if o.IPCSocketPath != nil {
		cfg.IPC.SocketPath = *o.IPCSocketPath
	}
	if o.FeedbackPort != nil {
		cfg.Feedback.Port = *o.FeedbackPort
	}

	if o.MQTTEnabled != nil {
		cfg.MQTT.Enabled = *o.MQTTEnabled
	}
	if o.MQTTBroker != nil {
		cfg.MQTT.Broker = *o.MQTTBroker
	}
	if o.MQTTTopic != nil {
		cfg.MQTT.Topic = *o.MQTTTopic
	}

	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
	if o.LogFormat != nil {
		cfg.Logging.Format = *o.LogFormat
	}
}

// Validate checks config invariants and returns a user-friendly error.
// Call it after defaults, file and overrides are applied.
func (c *Config) Validate() error {
	// Profiles
	if len(c.Profiles) == 0 {
		c.Profiles = []engine.MappingProfile{defaultProfile()}
	}
	seen := make(map[string]bool, len(c.Profiles))
	for i := range c.Profiles {
		p := &c.Profiles[i]
		for j := range p.Mappings {
			p.Mappings[j] = engine.NormalizeMapping(p.Mappings[j])
		}
		if err := engine.ValidateProfile(*p); err != nil {
			return fmt.Errorf("profiles[%d]: %w", i, err)
		}
		if seen[p.ID] {
			return fmt.Errorf("profiles[%d]: duplicate id %q", i, p.ID)
		}
		seen[p.ID] = true
	}
	if c.ActiveProfile != "" && !seen[c.ActiveProfile] {
		return fmt.Errorf("active_profile %q is not one of the configured profiles", c.ActiveProfile)
	}

	// Stems
	if len(c.Stems) == 0 {
		return errors.New("stems must not be empty")
	}
	for i, s := range c.Stems {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("stems[%d] is empty", i)
		}
	}

	// Engine
	// zero would silently become the engine default
	if c.Engine.HoldTimeoutMS <= 0 {
		return errors.New("engine.hold_timeout_ms must be > 0")
	}
	if c.Engine.DecayMS <= 0 {
		return errors.New("engine.decay_ms must be > 0")
	}
	if c.Engine.IdleTickHz < 0 || c.Engine.IdleTickHz > 1000 {
		return errors.New("engine.idle_tick_hz must be between 0 and 1000")
	}
	if err := c.ToEngineConfig().Validate(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}

	// Mixer
	if c.Mixer.Enabled {
		if c.Mixer.WsURL == "" {
			return errors.New("mixer.ws_url must not be empty")
		}
		if _, err := url.Parse(c.Mixer.WsURL); err != nil {
			return fmt.Errorf("mixer.ws_url: %w", err)
		}
	}
	if c.Mixer.TimeoutMS <= 0 {
		return errors.New("mixer.timeout_ms must be > 0")
	}
	if c.Mixer.UpdateHz <= 0 || c.Mixer.UpdateHz > 1000 {
		return errors.New("mixer.update_hz must be between 1 and 1000")
	}

	// IPC
	if c.IPC.SocketPath == "" {
		return errors.New("ipc.socket_path must not be empty")
	}

	// Feedback
	if c.Feedback.Port <= 0 || c.Feedback.Port > 65535 {
		return errors.New("feedback.port must be between 1 and 65535")
	}
	if !strings.HasPrefix(c.Feedback.Path, "/") {
		return errors.New("feedback.path must start with /")
	}
	if c.Feedback.MaxHz <= 0 {
		return errors.New("feedback.max_hz must be > 0")
	}

	// MQTT
	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			return errors.New("mqtt.enabled is true but mqtt.broker is empty")
		}
		if c.MQTT.Topic == "" {
			return errors.New("mqtt.enabled is true but mqtt.topic is empty")
		}
	}
	if c.MQTT.QoS > 2 {
		return errors.New("mqtt.qos must be 0, 1 or 2")
	}
	if _, err := engine.ParseEncoding(c.MQTT.Encoding); err != nil {
		return fmt.Errorf("mqtt.encoding: %w", err)
	}

	// Logging
	if _, err := parseLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if _, err := parseLogFormat(c.Logging.Format); err != nil {
		return fmt.Errorf("logging.format: %w", err)
	}

	return nil
}

// ToEngineConfig converts the file config into the engine construction config.
// Logger and clock are left for the caller.
func (c *Config) ToEngineConfig() engine.Config {
	cfg := engine.DefaultConfig()
	cfg.HoldTimeout = time.Duration(c.Engine.HoldTimeoutMS) * time.Millisecond
	cfg.Decay = time.Duration(c.Engine.DecayMS) * time.Millisecond
	cfg.SpringConstant = c.Engine.SpringConstant
	cfg.Damping = c.Engine.Damping
	cfg.EmitEpsilon = c.Engine.EmitEpsilon
	cfg.TriggerThreshold = c.Engine.TriggerThreshold
	cfg.MasterDeck = c.Engine.MasterDeck

	n := c.Engine.Neutral
	cfg.Neutral = map[engine.NeutralKey]float64{
		{Control: engine.ControlPan}: n.Pan,
		{Control: engine.ControlEQ}:  n.EQ,
	}
	cfg.Neutral[engine.NeutralKey{Target: engine.TargetCrossfader, Control: engine.ControlVolume}] = n.Crossfader
	if n.StemVolume != nil {
		cfg.Neutral[engine.NeutralKey{Control: engine.ControlVolume}] = *n.StemVolume
	}
	return cfg
}

// StemIDs returns the configured stems as engine ids.
func (c *Config) StemIDs() []engine.StemID {
	out := make([]engine.StemID, 0, len(c.Stems))
	for _, s := range c.Stems {
		out = append(out, engine.StemID(s))
	}
	return out
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	if p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
