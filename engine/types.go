package engine

import (
	"fmt"
	"strings"
	"time"
)

// ============================================================================
// Gesture vocabulary
// ============================================================================
// The classifier boundary is closed: anything that does not parse into one of
// these values is rejected before it reaches the resolver.
// ============================================================================

// GestureType is the dominant gesture classified for one hand in one frame.
type GestureType string

const (
	GesturePinch      GestureType = "PINCH"
	GestureOpenPalm   GestureType = "OPEN_PALM"
	GestureFist       GestureType = "FIST"
	GesturePoint      GestureType = "POINT"
	GesturePeace      GestureType = "PEACE"
	GestureThumbsUp   GestureType = "THUMBS_UP"
	GestureThumbsDown GestureType = "THUMBS_DOWN"
	GestureSwipeLeft  GestureType = "SWIPE_LEFT"
	GestureSwipeRight GestureType = "SWIPE_RIGHT"
	GestureSpread     GestureType = "SPREAD"
)

var gestureTypes = []GestureType{
	GesturePinch,
	GestureOpenPalm,
	GestureFist,
	GesturePoint,
	GesturePeace,
	GestureThumbsUp,
	GestureThumbsDown,
	GestureSwipeLeft,
	GestureSwipeRight,
	GestureSpread,
}

// GestureTypes returns every gesture type the engine understands.
func GestureTypes() []GestureType {
	out := make([]GestureType, len(gestureTypes))
	copy(out, gestureTypes)
	return out
}

// ParseGestureType converts a classifier label into a GestureType.
// Matching is case-insensitive and accepts '-' in place of '_'.
func ParseGestureType(s string) (GestureType, error) {
	norm := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_"))
	for _, g := range gestureTypes {
		if string(g) == norm {
			return g, nil
		}
	}
	return "", &ValidationError{Field: "gesture_type", Value: s, Reason: "unknown gesture type"}
}

// Hand identifies which hand produced a detection.
type Hand string

const (
	HandLeft  Hand = "left"
	HandRight Hand = "right"
	HandNone  Hand = "none"
)

// ParseHand converts a classifier hand label ("Left", "right", "") into a Hand.
func ParseHand(s string) (Hand, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "left", "l":
		return HandLeft, nil
	case "right", "r":
		return HandRight, nil
	case "none", "":
		return HandNone, nil
	default:
		return "", &ValidationError{Field: "hand", Value: s, Reason: "must be left, right or none"}
	}
}

// HandRequirement is the hand constraint a mapping places on its gesture.
type HandRequirement string

const (
	RequireLeft    HandRequirement = "left"
	RequireRight   HandRequirement = "right"
	RequireAny     HandRequirement = "any"
	RequireTwoHand HandRequirement = "two-hand"
)

func (h HandRequirement) valid() bool {
	switch h {
	case RequireLeft, RequireRight, RequireAny, RequireTwoHand:
		return true
	}
	return false
}

// ============================================================================
// Control targets
// ============================================================================

// StemID names a playback stem (vocals, drums, bass, other, ...).
type StemID string

// Target is what a mapping controls: a stem id, the crossfader or the master deck.
type Target string

const (
	TargetCrossfader Target = "crossfader"
	TargetMaster     Target = "master"
)

// IsGlobal reports whether the target is a mixer-wide control rather than a stem.
func (t Target) IsGlobal() bool {
	return t == TargetCrossfader || t == TargetMaster
}

// Stem returns the target as a StemID. Only meaningful when !IsGlobal().
func (t Target) Stem() StemID { return StemID(t) }

// ControlType is the audio parameter a mapping drives.
type ControlType string

const (
	ControlVolume ControlType = "volume"
	ControlMute   ControlType = "mute"
	ControlSolo   ControlType = "solo"
	ControlPan    ControlType = "pan"
	ControlEQ     ControlType = "eq"
)

func (c ControlType) valid() bool {
	switch c {
	case ControlVolume, ControlMute, ControlSolo, ControlPan, ControlEQ:
		return true
	}
	return false
}

// IsToggle reports whether the control is edge-triggered (mute/solo).
func (c ControlType) IsToggle() bool {
	return c == ControlMute || c == ControlSolo
}

// EQBand selects the band for ControlEQ.
type EQBand string

const (
	EQLow  EQBand = "low"
	EQMid  EQBand = "mid"
	EQHigh EQBand = "high"
)

func (b EQBand) valid() bool {
	switch b {
	case EQLow, EQMid, EQHigh:
		return true
	}
	return false
}

// ControlKey identifies one sink channel. Two mappings with the same key compete
// for it in the resolver.
type ControlKey struct {
	Target  Target
	Control ControlType
	Band    EQBand // only set for ControlEQ
}

func (k ControlKey) String() string {
	if k.Control == ControlEQ {
		return fmt.Sprintf("%s/%s:%s", k.Target, k.Control, k.Band)
	}
	return fmt.Sprintf("%s/%s", k.Target, k.Control)
}

// bounds returns the legal range of values the sink accepts for this key.
func (k ControlKey) bounds() (lo, hi float64) {
	if k.Control == ControlPan {
		return -1, 1
	}
	return 0, 1
}

// ============================================================================
// Gesture input
// ============================================================================

// Point is a normalized image position in [0,1]x[0,1].
type Point struct {
	X float64 `json:"x" msgpack:"x"`
	Y float64 `json:"y" msgpack:"y"`
}

// GestureDetectionResult is one classifier output for one hand in one frame.
type GestureDetectionResult struct {
	GestureType GestureType `json:"gesture_type" msgpack:"gesture_type"`
	Hand        Hand        `json:"hand" msgpack:"hand"`
	Confidence  float64     `json:"confidence" msgpack:"confidence"`
	Value       float64     `json:"value" msgpack:"value"`
	Position    Point       `json:"position" msgpack:"position"`
	Timestamp   time.Time   `json:"timestamp" msgpack:"timestamp"`
}

// Validate checks the result against the classifier contract.
func (r GestureDetectionResult) Validate() error {
	if _, err := ParseGestureType(string(r.GestureType)); err != nil {
		return err
	}
	if _, err := ParseHand(string(r.Hand)); err != nil {
		return err
	}
	if !unit(r.Confidence) {
		return &ValidationError{Field: "confidence", Value: r.Confidence, Reason: "must be in [0,1]"}
	}
	if !unit(r.Value) {
		return &ValidationError{Field: "value", Value: r.Value, Reason: "must be in [0,1]"}
	}
	if !unit(r.Position.X) || !unit(r.Position.Y) {
		return &ValidationError{Field: "position", Value: r.Position, Reason: "must be in [0,1]x[0,1]"}
	}
	return nil
}

// canonical returns r with its labels in the resolver's spelling. r must
// already have passed Validate.
func (r GestureDetectionResult) canonical() GestureDetectionResult {
	r.GestureType, _ = ParseGestureType(string(r.GestureType))
	r.Hand, _ = ParseHand(string(r.Hand))
	return r
}

// TwoHandSignal is the derived inter-hand channel (e.g. normalized hand spread)
// supplied by the classifier alongside the per-hand results.
type TwoHandSignal struct {
	Value      float64 `json:"value" msgpack:"value"`
	Confidence float64 `json:"confidence" msgpack:"confidence"`
}

// Frame is everything the classifier reported for one camera frame.
type Frame struct {
	Results []GestureDetectionResult `json:"results" msgpack:"results"`
	TwoHand *TwoHandSignal           `json:"two_hand,omitempty" msgpack:"two_hand,omitempty"`

	// ArrivedAt is stamped by the engine on ingestion.
	ArrivedAt time.Time `json:"-" msgpack:"-"`
}

// Validate checks every result and the two-hand channel.
func (f Frame) Validate() error {
	for i, r := range f.Results {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("results[%d]: %w", i, err)
		}
	}
	if f.TwoHand != nil {
		if !unit(f.TwoHand.Value) {
			return &ValidationError{Field: "two_hand.value", Value: f.TwoHand.Value, Reason: "must be in [0,1]"}
		}
		if !unit(f.TwoHand.Confidence) {
			return &ValidationError{Field: "two_hand.confidence", Value: f.TwoHand.Confidence, Reason: "must be in [0,1]"}
		}
	}
	return nil
}

func unit(v float64) bool { return v >= 0 && v <= 1 }

// ============================================================================
// Mapping model
// ============================================================================

// GestureMapping links one gesture/hand to one audio control.
type GestureMapping struct {
	ID              string          `json:"id" yaml:"id"`
	Name            string          `json:"name" yaml:"name"`
	Description     string          `json:"description,omitempty" yaml:"description,omitempty"`
	GestureType     GestureType     `json:"gesture_type" yaml:"gesture"`
	HandRequirement HandRequirement `json:"hand" yaml:"hand"`
	Target          Target          `json:"target" yaml:"target"`
	Control         ControlType     `json:"control" yaml:"control"`
	Band            EQBand          `json:"band,omitempty" yaml:"band,omitempty"`
	Sensitivity     float64         `json:"sensitivity" yaml:"sensitivity"`
	Deadzone        float64         `json:"deadzone" yaml:"deadzone"`
	Invert          bool            `json:"invert" yaml:"invert"`
}

// Key returns the sink channel this mapping drives.
func (m GestureMapping) Key() ControlKey {
	k := ControlKey{Target: m.Target, Control: m.Control}
	if m.Control == ControlEQ {
		k.Band = m.Band
	}
	return k
}

// MappingProfile is a named, ordered set of mappings. Order is priority.
type MappingProfile struct {
	ID       string           `json:"id" yaml:"id"`
	Name     string           `json:"name" yaml:"name"`
	Mappings []GestureMapping `json:"mappings" yaml:"mappings"`
}

// Mapping returns the mapping with the given id.
func (p MappingProfile) Mapping(id string) (GestureMapping, bool) {
	for _, m := range p.Mappings {
		if m.ID == id {
			return m, true
		}
	}
	return GestureMapping{}, false
}

func (p MappingProfile) clone() MappingProfile {
	out := p
	out.Mappings = make([]GestureMapping, len(p.Mappings))
	copy(out.Mappings, p.Mappings)
	return out
}

// ControlMode selects how much of the pipeline runs each tick.
type ControlMode string

const (
	// ModeGesture resolves gestures and drives the sink.
	ModeGesture ControlMode = "gesture"
	// ModeMonitor resolves and publishes feedback but never calls the sink.
	ModeMonitor ControlMode = "monitor"
	// ModeOff ignores frames entirely.
	ModeOff ControlMode = "off"
)

// ParseControlMode validates a control mode name.
func ParseControlMode(s string) (ControlMode, error) {
	switch ControlMode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeGesture:
		return ModeGesture, nil
	case ModeMonitor:
		return ModeMonitor, nil
	case ModeOff:
		return ModeOff, nil
	}
	return "", &ValidationError{Field: "control_mode", Value: s, Reason: "must be gesture, monitor or off"}
}
