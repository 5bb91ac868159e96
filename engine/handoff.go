package engine

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"sync/atomic"
)

// ============================================================================
// Parameter handoff
// ============================================================================
// ParamHandoff is an AudioParameterSink for hosts where the audio side runs on
// its own thread. The engine writes the latest value per control into atomic
// slots; the audio side drains whatever changed since its last drain. Neither
// side ever waits on the other: writers never take a lock, and the stem table
// is swapped copy-on-write when stems are added or removed.
// ============================================================================

// ErrUnknownDeck is returned for a deck the handoff does not carry.
var ErrUnknownDeck = errors.New("unknown deck")

// ParamKind identifies which sink method produced a Param.
type ParamKind int

const (
	ParamStemVolume ParamKind = iota
	ParamStemMute
	ParamStemSolo
	ParamStemPan
	ParamStemEQ
	ParamCrossfader
	ParamDeckVolume
)

func (k ParamKind) String() string {
	switch k {
	case ParamStemVolume:
		return "stem_volume"
	case ParamStemMute:
		return "stem_mute"
	case ParamStemSolo:
		return "stem_solo"
	case ParamStemPan:
		return "stem_pan"
	case ParamStemEQ:
		return "stem_eq"
	case ParamCrossfader:
		return "crossfader"
	case ParamDeckVolume:
		return "deck_volume"
	default:
		return "unknown"
	}
}

// Param is one drained control value. Booleans are carried as 0/1.
type Param struct {
	Kind  ParamKind
	Stem  StemID
	Band  EQBand
	Deck  string
	Value float64
}

// paramSlot is a single-value latest-wins cell. version is bumped after the
// value is stored; seen is touched only by the draining side.
type paramSlot struct {
	bits    atomic.Uint64
	version atomic.Uint64
	seen    uint64
}

func (s *paramSlot) store(v float64) {
	s.bits.Store(math.Float64bits(v))
	s.version.Add(1)
}

func (s *paramSlot) take() (float64, bool) {
	ver := s.version.Load()
	if ver == s.seen {
		return 0, false
	}
	s.seen = ver
	return math.Float64frombits(s.bits.Load()), true
}

type stemSlots struct {
	volume paramSlot
	mute   paramSlot
	solo   paramSlot
	pan    paramSlot
	eq     [3]paramSlot
}

func bandIndex(b EQBand) (int, bool) {
	switch b {
	case EQLow:
		return 0, true
	case EQMid:
		return 1, true
	case EQHigh:
		return 2, true
	}
	return 0, false
}

var bandOrder = [3]EQBand{EQLow, EQMid, EQHigh}

type stemTable struct {
	order []StemID
	slots map[StemID]*stemSlots
}

type deckSlot struct {
	id   string
	slot paramSlot
}

// ParamHandoff implements AudioParameterSink over lock-free slots.
type ParamHandoff struct {
	stems      atomic.Pointer[stemTable]
	crossfader paramSlot
	decks      []*deckSlot

	tableMu sync.Mutex // serializes AddStem/RemoveStem only
	drainMu sync.Mutex // single consumer
}

// NewParamHandoff creates slots for the given stems and decks.
func NewParamHandoff(stems []StemID, decks []string) *ParamHandoff {
	h := &ParamHandoff{}
	t := &stemTable{slots: make(map[StemID]*stemSlots, len(stems))}
	for _, s := range stems {
		if _, dup := t.slots[s]; dup {
			continue
		}
		t.order = append(t.order, s)
		t.slots[s] = &stemSlots{}
	}
	h.stems.Store(t)
	for _, d := range decks {
		h.decks = append(h.decks, &deckSlot{id: d})
	}
	return h
}

// Stems returns the stems currently carried.
func (h *ParamHandoff) Stems() []StemID {
	return slices.Clone(h.stems.Load().order)
}

// AddStem starts carrying a stem. Adding an existing stem is a no-op.
func (h *ParamHandoff) AddStem(id StemID) {
	h.tableMu.Lock()
	defer h.tableMu.Unlock()

	cur := h.stems.Load()
	if _, ok := cur.slots[id]; ok {
		return
	}
	next := &stemTable{
		order: append(slices.Clone(cur.order), id),
		slots: make(map[StemID]*stemSlots, len(cur.slots)+1),
	}
	for k, v := range cur.slots {
		next.slots[k] = v
	}
	next.slots[id] = &stemSlots{}
	h.stems.Store(next)
}

// RemoveStem stops carrying a stem; later writes to it fail with ErrUnknownStem.
func (h *ParamHandoff) RemoveStem(id StemID) {
	h.tableMu.Lock()
	defer h.tableMu.Unlock()

	cur := h.stems.Load()
	if _, ok := cur.slots[id]; !ok {
		return
	}
	next := &stemTable{
		order: slices.DeleteFunc(slices.Clone(cur.order), func(s StemID) bool { return s == id }),
		slots: make(map[StemID]*stemSlots, len(cur.slots)),
	}
	for k, v := range cur.slots {
		if k != id {
			next.slots[k] = v
		}
	}
	h.stems.Store(next)
}

func (h *ParamHandoff) stem(id StemID) (*stemSlots, error) {
	s, ok := h.stems.Load().slots[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStem, id)
	}
	return s, nil
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func (h *ParamHandoff) SetStemVolume(stem StemID, v float64) error {
	s, err := h.stem(stem)
	if err != nil {
		return err
	}
	s.volume.store(v)
	return nil
}

func (h *ParamHandoff) SetStemMute(stem StemID, muted bool) error {
	s, err := h.stem(stem)
	if err != nil {
		return err
	}
	s.mute.store(boolValue(muted))
	return nil
}

func (h *ParamHandoff) SetStemSolo(stem StemID, solo bool) error {
	s, err := h.stem(stem)
	if err != nil {
		return err
	}
	s.solo.store(boolValue(solo))
	return nil
}

func (h *ParamHandoff) SetStemPan(stem StemID, pan float64) error {
	s, err := h.stem(stem)
	if err != nil {
		return err
	}
	s.pan.store(pan)
	return nil
}

func (h *ParamHandoff) SetStemEQ(stem StemID, band EQBand, v float64) error {
	s, err := h.stem(stem)
	if err != nil {
		return err
	}
	i, ok := bandIndex(band)
	if !ok {
		return fmt.Errorf("unknown eq band %q", band)
	}
	s.eq[i].store(v)
	return nil
}

func (h *ParamHandoff) SetCrossfaderPosition(v float64) error {
	h.crossfader.store(v)
	return nil
}

func (h *ParamHandoff) SetDeckVolume(deck string, v float64) error {
	for _, d := range h.decks {
		if d.id == deck {
			d.slot.store(v)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownDeck, deck)
}

// Drain calls visit for every control written since the previous Drain, in a
// stable order (stems as registered, then crossfader, then decks). It returns
// the number of params visited.
func (h *ParamHandoff) Drain(visit func(Param)) int {
	h.drainMu.Lock()
	defer h.drainMu.Unlock()

	n := 0
	emit := func(p Param, slot *paramSlot) {
		if v, ok := slot.take(); ok {
			p.Value = v
			visit(p)
			n++
		}
	}

	t := h.stems.Load()
	for _, id := range t.order {
		s := t.slots[id]
		emit(Param{Kind: ParamStemVolume, Stem: id}, &s.volume)
		emit(Param{Kind: ParamStemMute, Stem: id}, &s.mute)
		emit(Param{Kind: ParamStemSolo, Stem: id}, &s.solo)
		emit(Param{Kind: ParamStemPan, Stem: id}, &s.pan)
		for i := range s.eq {
			emit(Param{Kind: ParamStemEQ, Stem: id, Band: bandOrder[i]}, &s.eq[i])
		}
	}
	emit(Param{Kind: ParamCrossfader}, &h.crossfader)
	for _, d := range h.decks {
		emit(Param{Kind: ParamDeckVolume, Deck: d.id}, &d.slot)
	}
	return n
}
