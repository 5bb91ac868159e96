package engine

import (
	"math"
	"slices"
	"strings"
)

// ============================================================================
// Mapping Profile Store
// ============================================================================
// The store is plain data guarded by the Engine's mutex. Every change that can
// affect the active profile bumps gen; the dispatch loop picks up the new
// snapshot (and any pending state resets) at the start of its next tick, so
// changes are never applied halfway through a tick.
// ============================================================================

type profileStore struct {
	profiles map[string]MappingProfile
	order    []string
	activeID string
	mode     ControlMode

	gen      uint64
	resetAll bool
	resetIDs map[string]struct{}
}

func newProfileStore() *profileStore {
	return &profileStore{
		profiles: make(map[string]MappingProfile),
		mode:     ModeGesture,
		resetIDs: make(map[string]struct{}),
	}
}

// storeSnapshot is what a tick needs from the store.
type storeSnapshot struct {
	gen       uint64
	profile   MappingProfile
	hasActive bool
	mode      ControlMode
	resetAll  bool
	resetIDs  []string
}

func validateSensitivity(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return &ValidationError{Field: "sensitivity", Value: v, Reason: "must be > 0"}
	}
	return nil
}

func validateDeadzone(v float64) error {
	if math.IsNaN(v) || v < 0 || v >= 0.5 {
		return &ValidationError{Field: "deadzone", Value: v, Reason: "must be in [0, 0.5)"}
	}
	return nil
}

// ValidateMapping checks a single mapping definition.
func ValidateMapping(m GestureMapping) error {
	if m.ID == "" {
		return &ValidationError{Field: "mapping.id", Reason: "must not be empty"}
	}
	if _, err := ParseGestureType(string(m.GestureType)); err != nil {
		return err
	}
	if !m.HandRequirement.valid() {
		return &ValidationError{Field: "mapping.hand", Value: m.HandRequirement, Reason: "must be left, right, any or two-hand"}
	}
	if m.Target == "" {
		return &ValidationError{Field: "mapping.target", Reason: "must not be empty"}
	}
	if !m.Control.valid() {
		return &ValidationError{Field: "mapping.control", Value: m.Control, Reason: "must be volume, mute, solo, pan or eq"}
	}
	if m.Target.IsGlobal() && m.Control != ControlVolume {
		return &ValidationError{Field: "mapping.control", Value: m.Control, Reason: string(m.Target) + " only supports volume"}
	}
	if m.Control == ControlEQ && !m.Band.valid() {
		return &ValidationError{Field: "mapping.band", Value: m.Band, Reason: "must be low, mid or high"}
	}
	if err := validateSensitivity(m.Sensitivity); err != nil {
		return err
	}
	return validateDeadzone(m.Deadzone)
}

// ValidateProfile checks a profile and all of its mappings.
func ValidateProfile(p MappingProfile) error {
	if p.ID == "" {
		return &ValidationError{Field: "profile.id", Reason: "must not be empty"}
	}
	seen := make(map[string]struct{}, len(p.Mappings))
	for _, m := range p.Mappings {
		if _, dup := seen[m.ID]; dup {
			return &ValidationError{Field: "mapping.id", Value: m.ID, Reason: "duplicate within profile " + p.ID}
		}
		seen[m.ID] = struct{}{}
		if err := ValidateMapping(m); err != nil {
			return err
		}
	}
	return nil
}

// canonicalLabels rewrites label spellings ("pinch", "Left") into the values
// the resolver compares against. Labels that do not parse are left for
// ValidateMapping to reject.
func canonicalLabels(m GestureMapping) GestureMapping {
	if g, err := ParseGestureType(string(m.GestureType)); err == nil {
		m.GestureType = g
	}
	m.HandRequirement = HandRequirement(strings.ToLower(strings.TrimSpace(string(m.HandRequirement))))
	m.Control = ControlType(strings.ToLower(strings.TrimSpace(string(m.Control))))
	m.Band = EQBand(strings.ToLower(strings.TrimSpace(string(m.Band))))
	return m
}

func canonicalProfile(p MappingProfile) MappingProfile {
	p = p.clone()
	for i := range p.Mappings {
		p.Mappings[i] = canonicalLabels(p.Mappings[i])
	}
	return p
}

// NormalizeMapping fills the documented defaults (sensitivity 1.0) into a
// mapping decoded from config or the wire, where an omitted field reads as zero.
func NormalizeMapping(m GestureMapping) GestureMapping {
	m = canonicalLabels(m)
	if m.Sensitivity == 0 {
		m.Sensitivity = 1.0
	}
	if m.HandRequirement == "" {
		m.HandRequirement = RequireAny
	}
	if m.Name == "" {
		m.Name = m.ID
	}
	return m
}

func (s *profileStore) touchActive(profileID string) {
	if profileID == s.activeID {
		s.gen++
	}
}

func (s *profileStore) add(p MappingProfile) error {
	p = canonicalProfile(p)
	if err := ValidateProfile(p); err != nil {
		return err
	}
	if _, exists := s.profiles[p.ID]; exists {
		return &ValidationError{Field: "profile.id", Value: p.ID, Reason: "already exists"}
	}
	s.profiles[p.ID] = p.clone()
	s.order = append(s.order, p.ID)
	return nil
}

// update replaces a profile. On the active profile only mappings that were
// removed or whose definition changed lose their state; tuning changes
// (sensitivity, deadzone) keep it.
func (s *profileStore) update(p MappingProfile) error {
	old, ok := s.profiles[p.ID]
	if !ok {
		return &NotFoundError{Kind: "profile", ID: p.ID}
	}
	p = canonicalProfile(p)
	if err := ValidateProfile(p); err != nil {
		return err
	}
	if p.ID == s.activeID {
		for _, om := range old.Mappings {
			nm, still := p.Mapping(om.ID)
			if !still || structuralChange(om, nm) {
				s.resetIDs[om.ID] = struct{}{}
			}
		}
	}
	s.profiles[p.ID] = p.clone()
	s.touchActive(p.ID)
	return nil
}

func structuralChange(a, b GestureMapping) bool {
	a.Sensitivity, b.Sensitivity = 0, 0
	a.Deadzone, b.Deadzone = 0, 0
	a.Name, b.Name = "", ""
	a.Description, b.Description = "", ""
	return a != b
}

func (s *profileStore) remove(id string) error {
	if _, ok := s.profiles[id]; !ok {
		return &NotFoundError{Kind: "profile", ID: id}
	}
	delete(s.profiles, id)
	s.order = slices.DeleteFunc(s.order, func(x string) bool { return x == id })
	if id == s.activeID {
		s.activeID = ""
		s.resetAll = true
		s.gen++
	}
	return nil
}

func (s *profileStore) addMapping(profileID string, m GestureMapping) error {
	p, ok := s.profiles[profileID]
	if !ok {
		return &NotFoundError{Kind: "profile", ID: profileID}
	}
	m = canonicalLabels(m)
	if err := ValidateMapping(m); err != nil {
		return err
	}
	if _, dup := p.Mapping(m.ID); dup {
		return &ValidationError{Field: "mapping.id", Value: m.ID, Reason: "duplicate within profile " + profileID}
	}
	p = p.clone()
	p.Mappings = append(p.Mappings, m)
	s.profiles[profileID] = p
	if profileID == s.activeID {
		s.resetIDs[m.ID] = struct{}{}
	}
	s.touchActive(profileID)
	return nil
}

func (s *profileStore) removeMapping(profileID, mappingID string) error {
	p, ok := s.profiles[profileID]
	if !ok {
		return &NotFoundError{Kind: "profile", ID: profileID}
	}
	if _, found := p.Mapping(mappingID); !found {
		return &NotFoundError{Kind: "mapping", ID: mappingID}
	}
	p = p.clone()
	p.Mappings = slices.DeleteFunc(p.Mappings, func(m GestureMapping) bool { return m.ID == mappingID })
	s.profiles[profileID] = p
	if profileID == s.activeID {
		s.resetIDs[mappingID] = struct{}{}
	}
	s.touchActive(profileID)
	return nil
}

func (s *profileStore) setActive(id string) error {
	if _, ok := s.profiles[id]; !ok {
		return &NotFoundError{Kind: "profile", ID: id}
	}
	s.activeID = id
	s.resetAll = true
	clear(s.resetIDs)
	s.gen++
	return nil
}

func (s *profileStore) active() (MappingProfile, bool) {
	p, ok := s.profiles[s.activeID]
	if !ok {
		return MappingProfile{}, false
	}
	return p.clone(), true
}

func (s *profileStore) all() []MappingProfile {
	out := make([]MappingProfile, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.profiles[id].clone())
	}
	return out
}

func (s *profileStore) setMode(mode ControlMode) error {
	m, err := ParseControlMode(string(mode))
	if err != nil {
		return err
	}
	if m != s.mode {
		s.mode = m
		s.gen++
	}
	return nil
}

// tune applies a value to a mapping of the active profile after check passes.
// On error the mapping is left untouched.
func (s *profileStore) tune(mappingID string, v float64, check func(float64) error, apply func(*GestureMapping, float64)) error {
	if err := check(v); err != nil {
		return err
	}
	p, ok := s.profiles[s.activeID]
	if !ok {
		return &NotFoundError{Kind: "profile", ID: s.activeID}
	}
	idx := slices.IndexFunc(p.Mappings, func(m GestureMapping) bool { return m.ID == mappingID })
	if idx < 0 {
		return &NotFoundError{Kind: "mapping", ID: mappingID}
	}
	p = p.clone()
	apply(&p.Mappings[idx], v)
	s.profiles[p.ID] = p
	s.gen++
	return nil
}

func (s *profileStore) setSensitivity(mappingID string, v float64) error {
	return s.tune(mappingID, v, validateSensitivity, func(m *GestureMapping, v float64) { m.Sensitivity = v })
}

func (s *profileStore) setDeadzone(mappingID string, v float64) error {
	return s.tune(mappingID, v, validateDeadzone, func(m *GestureMapping, v float64) { m.Deadzone = v })
}

// snapshot returns the active profile and pending resets, clearing the latter.
func (s *profileStore) snapshot() storeSnapshot {
	snap := storeSnapshot{gen: s.gen, mode: s.mode, resetAll: s.resetAll}
	snap.profile, snap.hasActive = s.active()
	for id := range s.resetIDs {
		snap.resetIDs = append(snap.resetIDs, id)
	}
	slices.Sort(snap.resetIDs)
	s.resetAll = false
	clear(s.resetIDs)
	return snap
}

// ============================================================================
// Engine profile API
// ============================================================================
// All of these are safe to call from any goroutine. Changes that affect the
// active profile take effect at the start of the next tick.
// ============================================================================

// AddProfile registers a new profile.
func (e *Engine) AddProfile(p MappingProfile) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.add(p)
}

// UpdateProfile replaces an existing profile with the same id.
func (e *Engine) UpdateProfile(p MappingProfile) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.update(p)
}

// RemoveProfile deletes a profile. Removing the active profile leaves the
// engine with no active profile.
func (e *Engine) RemoveProfile(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.remove(id)
}

// AddMapping appends a mapping (lowest priority) to a profile.
func (e *Engine) AddMapping(profileID string, m GestureMapping) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.addMapping(profileID, m)
}

// RemoveMapping deletes a mapping from a profile, discarding its state.
func (e *Engine) RemoveMapping(profileID, mappingID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.removeMapping(profileID, mappingID)
}

// SetActiveProfile switches profiles. All per-mapping state is discarded at
// the start of the next tick.
func (e *Engine) SetActiveProfile(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.store.setActive(id); err != nil {
		return err
	}
	e.logger.Info("active profile changed", "profile", id)
	return nil
}

// ActiveProfile returns a copy of the active profile.
func (e *Engine) ActiveProfile() (MappingProfile, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.active()
}

// Profiles returns copies of all profiles in insertion order.
func (e *Engine) Profiles() []MappingProfile {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.all()
}

// Mode returns the configured control mode.
func (e *Engine) Mode() ControlMode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.mode
}

// SetControlMode switches between gesture, monitor and off. The new mode
// applies from the next tick; animated and toggle state are kept.
func (e *Engine) SetControlMode(mode ControlMode) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.setMode(mode)
}

// SetSensitivity changes the sensitivity of a mapping in the active profile.
// The mapping keeps its animated state.
func (e *Engine) SetSensitivity(mappingID string, v float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.setSensitivity(mappingID, v)
}

// SetDeadzone changes the deadzone of a mapping in the active profile.
func (e *Engine) SetDeadzone(mappingID string, v float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.setDeadzone(mappingID, v)
}
