package engine

import (
	"errors"
	"sync"
	"testing"
)

func drainAll(h *ParamHandoff) []Param {
	var out []Param
	h.Drain(func(p Param) { out = append(out, p) })
	return out
}

func TestParamHandoff_DrainsLatestValueOnce(t *testing.T) {
	h := NewParamHandoff([]StemID{"vocals", "drums"}, []string{"master"})

	_ = h.SetStemVolume("vocals", 0.2)
	_ = h.SetStemVolume("vocals", 0.7)
	_ = h.SetStemMute("drums", true)
	_ = h.SetStemEQ("drums", EQHigh, 0.3)
	_ = h.SetCrossfaderPosition(0.5)
	_ = h.SetDeckVolume("master", 0.9)

	got := drainAll(h)
	want := []Param{
		{Kind: ParamStemVolume, Stem: "vocals", Value: 0.7},
		{Kind: ParamStemMute, Stem: "drums", Value: 1},
		{Kind: ParamStemEQ, Stem: "drums", Band: EQHigh, Value: 0.3},
		{Kind: ParamCrossfader, Value: 0.5},
		{Kind: ParamDeckVolume, Deck: "master", Value: 0.9},
	}
	if len(got) != len(want) {
		t.Fatalf("drained %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("param %d = %+v, want %+v", i, got[i], want[i])
		}
	}

	if again := drainAll(h); len(again) != 0 {
		t.Fatalf("second drain returned stale params: %+v", again)
	}
}

func TestParamHandoff_UnknownTargets(t *testing.T) {
	h := NewParamHandoff([]StemID{"vocals"}, []string{"master"})
	if err := h.SetStemPan("bass", 0); !errors.Is(err, ErrUnknownStem) {
		t.Fatalf("expected ErrUnknownStem, got %v", err)
	}
	if err := h.SetDeckVolume("b", 1); !errors.Is(err, ErrUnknownDeck) {
		t.Fatalf("expected ErrUnknownDeck, got %v", err)
	}

	h.AddStem("bass")
	if err := h.SetStemPan("bass", -0.5); err != nil {
		t.Fatalf("after AddStem: %v", err)
	}
	h.RemoveStem("vocals")
	if err := h.SetStemVolume("vocals", 1); !errors.Is(err, ErrUnknownStem) {
		t.Fatalf("removed stem accepted a write: %v", err)
	}
	if stems := h.Stems(); len(stems) != 1 || stems[0] != "bass" {
		t.Fatalf("stems = %v", stems)
	}
}

func TestParamHandoff_ConcurrentWriterAndDrainer(t *testing.T) {
	h := NewParamHandoff([]StemID{"vocals"}, nil)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 1; i <= 1000; i++ {
			_ = h.SetStemVolume("vocals", float64(i)/1000)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			h.Drain(func(Param) {})
		}
	}()
	wg.Wait()

	last := -1.0
	h.Drain(func(p Param) { last = p.Value })
	_ = h.SetStemVolume("vocals", 1)
	h.Drain(func(p Param) { last = p.Value })
	if last != 1 {
		t.Fatalf("final drained value = %v, want 1", last)
	}
}

func TestEngine_RemovedStemDisablesMapping(t *testing.T) {
	clk := newFakeClock()
	h := NewParamHandoff([]StemID{"vocals", "drums"}, []string{DefaultMasterDeck})
	e := newTestEngine(t, clk, h, profile("p",
		mapping("v", GesturePinch, RequireLeft, "vocals", ControlVolume),
		mapping("d", GestureFist, RequireRight, "drums", ControlVolume),
	))

	both := frame(result(GesturePinch, HandLeft, 0.8, 0.9), result(GestureFist, HandRight, 0.8, 0.9))
	process(t, e, clk, both)
	h.RemoveStem("drums")
	var fs FeedbackState
	for i := 0; i < 5; i++ {
		fs = process(t, e, clk, both)
	}

	if len(fs.DisabledMappings) != 1 || fs.DisabledMappings[0] != "d" {
		t.Fatalf("disabled = %v", fs.DisabledMappings)
	}
	if st := e.Stats(); st.SinkErrors != 1 || st.DisabledMappings != 1 {
		t.Fatalf("stats = %+v", st)
	}
	params := drainAll(h)
	if len(params) != 1 || params[0].Stem != "vocals" {
		t.Fatalf("drained %+v", params)
	}
}
