package engine

import (
	"maps"
	"slices"
	"time"
)

// ActiveMapping is a mapping that resolved in the published tick.
type ActiveMapping struct {
	Mapping    GestureMapping `json:"mapping"`
	Shadowed   bool           `json:"shadowed"`
	ShadowedBy string         `json:"shadowed_by,omitempty"`
}

// FeedbackState is the per-tick snapshot handed to observers. Each observer
// receives its own copy; nothing in it aliases engine state.
type FeedbackState struct {
	Seq       uint64      `json:"seq"`
	Timestamp time.Time   `json:"timestamp"`
	ProfileID string      `json:"profile_id"`
	Mode      ControlMode `json:"mode"`

	ActiveGestures []GestureDetectionResult `json:"active_gestures"`
	ActiveMappings []ActiveMapping          `json:"active_mappings"`

	// StemIndicators is keyed by stem id, "crossfader" or "master"; true when
	// a winning mapping drives that target this tick.
	StemIndicators map[Target]bool `json:"stem_indicators"`
	// ControlValues is keyed by mapping id: the smoothed value for continuous
	// controls, 1/0 for toggles.
	ControlValues map[string]float64 `json:"control_values"`
	// Toggles is keyed by ControlKey.String().
	Toggles map[string]bool `json:"toggles"`

	Confidence float64 `json:"confidence"`
	LatencyMs  float64 `json:"latency_ms"`

	DisabledMappings []string `json:"disabled_mappings,omitempty"`
	StaleMappings    []string `json:"stale_mappings,omitempty"`
}

// Clone returns a deep copy.
func (s FeedbackState) Clone() FeedbackState {
	out := s
	out.ActiveGestures = slices.Clone(s.ActiveGestures)
	out.ActiveMappings = slices.Clone(s.ActiveMappings)
	out.StemIndicators = maps.Clone(s.StemIndicators)
	out.ControlValues = maps.Clone(s.ControlValues)
	out.Toggles = maps.Clone(s.Toggles)
	out.DisabledMappings = slices.Clone(s.DisabledMappings)
	out.StaleMappings = slices.Clone(s.StaleMappings)
	return out
}

// Shadowed returns the ids of shadowed mappings in the snapshot.
func (s FeedbackState) Shadowed() []string {
	var ids []string
	for _, am := range s.ActiveMappings {
		if am.Shadowed {
			ids = append(ids, am.Mapping.ID)
		}
	}
	return ids
}
