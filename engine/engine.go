package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// ============================================================================
// Dispatch / publish loop
// ============================================================================
// One Tick:
//   1. take the latest frame from the inbox (or an empty frame)
//   2. pick up profile changes made since the previous tick
//   3. Resolve -> edge detector / spring filter, producing paramWrites
//   4. run the writes against the sink (gesture mode only)
//   5. measure latency/confidence and publish a FeedbackState
//
// Everything below tickMu is owned by the tick. Profile mutations only touch
// the store under mu and are applied at step 2.
// ============================================================================

// mappingState is the per-mapping EngineState plus bookkeeping.
type mappingState struct {
	anim AnimatedValue
	edge EdgeState

	activeAt  time.Time // last tick the mapping resolved (won or shadowed)
	decaying  bool
	decayFrom float64
	stale     bool

	emitted     bool
	lastEmitted float64
}

// Engine is the gesture mapping engine. Create it with New.
type Engine struct {
	cfg    Config
	logger *slog.Logger
	sink   AudioParameterSink
	filter SpringFilter

	mu    sync.Mutex
	store *profileStore

	inbox *frameInbox
	pub   *publisher
	lat   latencyTracker

	tickMu    sync.Mutex
	loaded    bool
	gen       uint64
	profile   MappingProfile
	hasActive bool
	mode      ControlMode
	states    map[string]*mappingState
	owners    map[ControlKey]string
	keyValue  map[ControlKey]float64 // owner's value as of its last tick
	toggles   map[ControlKey]bool
	disabled  map[string]bool
	resolved  map[string]*ResolvedMapping
	writes    []paramWrite
	seq       uint64

	ticks         atomic.Uint64
	sinkErrors    atomic.Uint64
	disabledCount atomic.Int64
}

// New builds an engine. Profiles are added in order; activeID selects the
// initial active profile ("" picks the first profile, if any).
func New(cfg Config, sink AudioParameterSink, profiles []MappingProfile, activeID string) (*Engine, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		return nil, &ValidationError{Field: "sink", Reason: "must not be nil"}
	}

	e := &Engine{
		cfg:      cfg,
		logger:   cfg.Logger,
		sink:     sink,
		filter:   NewSpringFilter(cfg.SpringConstant, cfg.Damping),
		store:    newProfileStore(),
		inbox:    newFrameInbox(),
		pub:      newPublisher(cfg.Logger),
		states:   make(map[string]*mappingState),
		owners:   make(map[ControlKey]string),
		keyValue: make(map[ControlKey]float64),
		toggles:  make(map[ControlKey]bool),
		disabled: make(map[string]bool),
		resolved: make(map[string]*ResolvedMapping),
	}

	for _, p := range profiles {
		if err := e.store.add(p); err != nil {
			return nil, fmt.Errorf("profile %q: %w", p.ID, err)
		}
	}
	if activeID == "" && len(profiles) > 0 {
		activeID = profiles[0].ID
	}
	if activeID != "" {
		if err := e.store.setActive(activeID); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Submit validates f and places it in the inbox, replacing any frame that has
// not been processed yet. Gesture and hand labels are stored in canonical form.
func (e *Engine) Submit(f Frame) error {
	if err := f.Validate(); err != nil {
		return err
	}
	f.Results = slices.Clone(f.Results)
	for i := range f.Results {
		f.Results[i] = f.Results[i].canonical()
	}
	if f.TwoHand != nil {
		th := *f.TwoHand
		f.TwoHand = &th
	}
	if f.ArrivedAt.IsZero() {
		f.ArrivedAt = e.cfg.Now()
	}
	e.inbox.put(f)
	return nil
}

// Process submits f and runs one tick on it.
func (e *Engine) Process(f Frame) (FeedbackState, error) {
	if err := e.Submit(f); err != nil {
		return FeedbackState{}, err
	}
	return e.Tick(), nil
}

// Run ticks once per submitted frame until ctx is canceled. Frames that arrive
// while a tick is running collapse into one.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("gesture engine running")
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("gesture engine stopping (context canceled)")
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-e.inbox.notify:
			e.Tick()
		}
	}
}

// Tick runs one dispatch pass. With no new frame in the inbox it processes an
// empty frame, so hold and decay still advance.
//
// Observers are called before Tick returns; they must not call Tick or Process.
func (e *Engine) Tick() FeedbackState {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	now := e.cfg.Now()
	f, ok := e.inbox.take()
	if !ok {
		f = Frame{ArrivedAt: now}
	}

	e.syncProfile()
	e.seq++
	e.ticks.Add(1)

	var res Resolution
	if e.mode != ModeOff && e.hasActive {
		res = Resolve(e.profile, f, e.disabled)
		writes := e.advance(now, res)
		if e.mode == ModeGesture {
			e.runWrites(writes)
		}
	}
	e.disabledCount.Store(int64(len(e.disabled)))

	latencyMs, confidence := measureTick(now, f.ArrivedAt, res.Contributing)
	e.lat.record(latencyMs, len(res.Contributing) > 0)

	fs := e.snapshot(now, res, latencyMs, confidence)
	e.pub.publish(EventFeedbackUpdate, fs)
	return fs
}

// syncProfile applies store changes made since the previous tick.
func (e *Engine) syncProfile() {
	e.mu.Lock()
	if e.loaded && e.store.gen == e.gen {
		e.mu.Unlock()
		return
	}
	snap := e.store.snapshot()
	e.mu.Unlock()

	e.loaded = true
	e.gen = snap.gen
	e.mode = snap.mode
	if snap.resetAll || e.profile.ID != snap.profile.ID {
		clear(e.states)
		clear(e.owners)
		clear(e.keyValue)
		clear(e.disabled)
		e.logger.Debug("engine state reset", "profile", snap.profile.ID)
	}
	for _, id := range snap.resetIDs {
		delete(e.states, id)
		delete(e.disabled, id)
		for k, owner := range e.owners {
			if owner == id {
				delete(e.owners, k)
			}
		}
	}
	e.profile = snap.profile
	e.hasActive = snap.hasActive
}

func (e *Engine) stateFor(id string) *mappingState {
	st, ok := e.states[id]
	if !ok {
		st = &mappingState{}
		e.states[id] = st
	}
	return st
}

// advance feeds one Resolution through the edge detector and filter and
// returns the sink writes it implies, in profile order.
func (e *Engine) advance(now time.Time, res Resolution) []paramWrite {
	clear(e.resolved)
	for i := range res.Resolved {
		e.resolved[res.Resolved[i].Mapping.ID] = &res.Resolved[i]
	}

	e.handOver(res)

	writes := e.writes[:0]
	for _, m := range e.profile.Mappings {
		if e.disabled[m.ID] {
			continue
		}
		st := e.stateFor(m.ID)
		key := m.Key()
		rm, ok := e.resolved[m.ID]
		if ok {
			st.activeAt = now
			st.decaying = false
			st.stale = false
		}

		if key.Control.IsToggle() {
			active := ok && rm.Raw >= e.cfg.TriggerThreshold
			next, fired := st.edge.Step(active)
			st.edge = next
			// the flip is committed by runWrites once the sink accepts it
			if fired && !rm.Shadowed {
				e.owners[key] = m.ID
				writes = append(writes, paramWrite{mappingID: m.ID, key: key, on: !e.toggles[key]})
			}
			continue
		}

		switch {
		case ok && !rm.Shadowed:
			st.anim.Target = rm.Raw
		case !ok:
			e.holdOrDecay(now, m, key, st)
		}
		if !st.decaying {
			st.anim = e.filter.Step(st.anim)
		}

		if st.activeAt.IsZero() || e.owners[key] != m.ID {
			continue
		}
		lo, hi := key.bounds()
		v := clamp(st.anim.Current, lo, hi)
		e.keyValue[key] = v
		if !st.emitted || math.Abs(v-st.lastEmitted) > e.cfg.EmitEpsilon {
			writes = append(writes, paramWrite{mappingID: m.ID, key: key, value: v})
		}
	}
	e.writes = writes
	return writes
}

// handOver gives each continuous control to this tick's winner. A mapping that
// takes over a key starts at rest from the value the key carried, so the
// channel moves on from there instead of jumping to the mapping's own state.
func (e *Engine) handOver(res Resolution) {
	for key, id := range res.Winners {
		prev, owned := e.owners[key]
		if key.Control.IsToggle() || (owned && prev == id) {
			continue
		}
		e.owners[key] = id

		v, known := e.keyValue[key]
		if !known {
			continue
		}
		st := e.stateFor(id)
		st.anim = AnimatedValue{Current: v, Target: v}
		st.decaying = false
		st.emitted = false
		if ps, ok := e.states[prev]; owned && ok {
			st.emitted, st.lastEmitted = ps.emitted, ps.lastEmitted
		}
	}
}

// holdOrDecay handles a mapping with no eligible gesture this tick: the target
// is held for HoldTimeout, then current and target ramp linearly to the
// control's neutral value over Decay. Controls without a neutral hold forever.
func (e *Engine) holdOrDecay(now time.Time, m GestureMapping, key ControlKey, st *mappingState) {
	if st.activeAt.IsZero() {
		return
	}
	since := now.Sub(st.activeAt)
	if since <= e.cfg.HoldTimeout {
		return
	}

	if !st.stale {
		st.stale = true
		e.logger.Warn("gesture input stale",
			"mapping", m.ID,
			"err", &StaleInputWarning{MappingID: m.ID, Since: since},
		)
	}

	neutral, ok := e.cfg.neutralFor(key)
	if !ok {
		return
	}
	if !st.decaying {
		st.decaying = true
		st.decayFrom = st.anim.Current
	}

	v := neutral
	if e.cfg.Decay > 0 {
		if p := float64(since-e.cfg.HoldTimeout) / float64(e.cfg.Decay); p < 1 {
			v = st.decayFrom + (neutral-st.decayFrom)*p
		}
	}
	st.anim = AnimatedValue{Current: v, Target: v}
}

// snapshot builds the tick's FeedbackState from fresh allocations only.
func (e *Engine) snapshot(now time.Time, res Resolution, latencyMs, confidence float64) FeedbackState {
	fs := FeedbackState{
		Seq:            e.seq,
		Timestamp:      now,
		ProfileID:      e.profile.ID,
		Mode:           e.mode,
		ActiveGestures: slices.Clone(res.Selected),
		StemIndicators: make(map[Target]bool),
		ControlValues:  make(map[string]float64),
		Toggles:        make(map[string]bool, len(e.toggles)),
		Confidence:     confidence,
		LatencyMs:      latencyMs,
	}
	if fs.ActiveGestures == nil {
		fs.ActiveGestures = []GestureDetectionResult{}
	}

	fs.ActiveMappings = make([]ActiveMapping, 0, len(res.Resolved))
	for _, rm := range res.Resolved {
		fs.ActiveMappings = append(fs.ActiveMappings, ActiveMapping{
			Mapping:    rm.Mapping,
			Shadowed:   rm.Shadowed,
			ShadowedBy: rm.ShadowedBy,
		})
	}

	if e.mode != ModeOff {
		for _, m := range e.profile.Mappings {
			key := m.Key()
			if _, seen := fs.StemIndicators[m.Target]; !seen {
				fs.StemIndicators[m.Target] = false
			}
			if winner, ok := res.Winners[key]; ok && winner == m.ID {
				fs.StemIndicators[m.Target] = true
			}
			if e.disabled[m.ID] {
				fs.DisabledMappings = append(fs.DisabledMappings, m.ID)
				continue
			}

			st := e.states[m.ID]
			switch {
			case key.Control.IsToggle():
				fs.ControlValues[m.ID] = boolValue(e.toggles[key])
			case st != nil:
				lo, hi := key.bounds()
				fs.ControlValues[m.ID] = clamp(st.anim.Current, lo, hi)
			default:
				fs.ControlValues[m.ID] = 0
			}
			if st != nil && st.stale {
				fs.StaleMappings = append(fs.StaleMappings, m.ID)
			}
		}
	}

	for k, on := range e.toggles {
		fs.Toggles[k.String()] = on
	}
	return fs
}

// GetLatency returns the latency of the most recent tick in milliseconds.
func (e *Engine) GetLatency() float64 {
	return e.lat.last()
}

// On registers an observer. Delivery is synchronous and in registration order.
func (e *Engine) On(ev EventName, cb FeedbackCallback) (SubscriptionID, error) {
	return e.pub.on(ev, cb)
}

// Off removes an observer registered with On.
func (e *Engine) Off(ev EventName, id SubscriptionID) error {
	return e.pub.off(ev, id)
}

// Stats is a point-in-time view of engine counters.
type Stats struct {
	Ticks            uint64  `json:"ticks"`
	FramesSubmitted  uint64  `json:"frames_submitted"`
	FramesDropped    uint64  `json:"frames_dropped"`
	SinkErrors       uint64  `json:"sink_errors"`
	DisabledMappings int64   `json:"disabled_mappings"`
	Subscribers      int     `json:"subscribers"`
	LatencyLastMs    float64 `json:"latency_last_ms"`
	LatencyAvgMs     float64 `json:"latency_avg_ms"`
	LatencyMaxMs     float64 `json:"latency_max_ms"`
	LatencySamples   uint64  `json:"latency_samples"`
}

// Stats returns current counters. Safe to call from any goroutine.
func (e *Engine) Stats() Stats {
	avg, maxMs, samples := e.lat.aggregates()
	return Stats{
		Ticks:            e.ticks.Load(),
		FramesSubmitted:  e.inbox.submitted.Load(),
		FramesDropped:    e.inbox.drops.Load(),
		SinkErrors:       e.sinkErrors.Load(),
		DisabledMappings: e.disabledCount.Load(),
		Subscribers:      e.pub.count(EventFeedbackUpdate),
		LatencyLastMs:    e.lat.last(),
		LatencyAvgMs:     avg,
		LatencyMaxMs:     maxMs,
		LatencySamples:   samples,
	}
}
