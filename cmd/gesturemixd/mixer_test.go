package main

import (
	"errors"
	"slices"
	"sync"
	"testing"

	"gesturemix/engine"
)

// mockMixerClient is a test double for MixerClientInterface.
type mockMixerClient struct {
	mu       sync.Mutex
	batches  [][]wireParam
	stems    []string
	setErr   error
	stemsErr error
	closed   bool
}

func (m *mockMixerClient) SetParams(params []wireParam) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	m.batches = append(m.batches, slices.Clone(params))
	return nil
}

func (m *mockMixerClient) GetStems() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stemsErr != nil {
		return nil, m.stemsErr
	}
	return slices.Clone(m.stems), nil
}

func (m *mockMixerClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockMixerClient) failWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setErr = err
}

func newTestPump(client *mockMixerClient, stems ...engine.StemID) (*MixerPump, *engine.ParamHandoff) {
	h := engine.NewParamHandoff(stems, []string{"master"})
	return NewMixerPump(client, h, 60, quietLogger()), h
}

func TestMixerPump_ForwardsDrainedParams(t *testing.T) {
	client := &mockMixerClient{}
	pump, h := newTestPump(client, "vocals", "drums")

	_ = h.SetStemVolume("vocals", 0.4)
	_ = h.SetStemMute("drums", true)
	_ = h.SetStemEQ("vocals", engine.EQHigh, 0.7)
	_ = h.SetCrossfaderPosition(0.25)
	_ = h.SetDeckVolume("master", 0.9)

	pump.pump()

	if len(client.batches) != 1 {
		t.Fatalf("batches = %d, want 1", len(client.batches))
	}
	want := []wireParam{
		{Param: "stem_volume", Stem: "vocals", Value: 0.4},
		{Param: "stem_eq", Stem: "vocals", Band: "high", Value: 0.7},
		{Param: "stem_mute", Stem: "drums", Value: 1},
		{Param: "crossfader", Value: 0.25},
		{Param: "deck_volume", Deck: "master", Value: 0.9},
	}
	if !slices.Equal(client.batches[0], want) {
		t.Fatalf("batch = %+v\nwant   %+v", client.batches[0], want)
	}

	// nothing new: no batch
	pump.pump()
	if len(client.batches) != 1 {
		t.Fatalf("empty drain sent a batch")
	}

	st := pump.Stats()
	if st.Batches != 1 || st.Params != 5 || st.Errors != 0 || st.Pending != 0 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestMixerPump_RetriesFailedBatchLatestWins(t *testing.T) {
	client := &mockMixerClient{}
	pump, h := newTestPump(client, "vocals")

	client.failWith(errors.New("mixer busy"))
	_ = h.SetStemVolume("vocals", 0.2)
	_ = h.SetStemPan("vocals", -0.5)
	pump.pump()

	if st := pump.Stats(); st.Errors != 1 || st.Pending != 2 {
		t.Fatalf("after failure stats = %+v", st)
	}

	client.failWith(nil)
	_ = h.SetStemVolume("vocals", 0.6)
	pump.pump()

	if len(client.batches) != 1 {
		t.Fatalf("batches = %d, want 1", len(client.batches))
	}
	want := []wireParam{
		{Param: "stem_volume", Stem: "vocals", Value: 0.6},
		{Param: "stem_pan", Stem: "vocals", Value: -0.5},
	}
	if !slices.Equal(client.batches[0], want) {
		t.Fatalf("batch = %+v, want %+v", client.batches[0], want)
	}
	if st := pump.Stats(); st.Pending != 0 || st.Batches != 1 {
		t.Fatalf("after retry stats = %+v", st)
	}
}

func TestMixerPump_SyncStems(t *testing.T) {
	client := &mockMixerClient{stems: []string{"vocals", "keys"}}
	pump, h := newTestPump(client, "vocals", "drums")

	if err := pump.SyncStems(); err != nil {
		t.Fatalf("SyncStems: %v", err)
	}

	got := h.Stems()
	if !slices.Contains(got, "keys") || slices.Contains(got, "drums") || !slices.Contains(got, "vocals") {
		t.Fatalf("stems after sync = %v", got)
	}
	if err := h.SetStemVolume("drums", 0.5); !errors.Is(err, engine.ErrUnknownStem) {
		t.Fatalf("write to unloaded stem: err = %v, want ErrUnknownStem", err)
	}
	if err := h.SetStemVolume("keys", 0.5); err != nil {
		t.Fatalf("write to added stem: %v", err)
	}
}

func TestMixerPump_SyncStemsErrorKeepsConfig(t *testing.T) {
	client := &mockMixerClient{stemsErr: errors.New("timeout")}
	pump, h := newTestPump(client, "vocals")

	if err := pump.SyncStems(); err == nil {
		t.Fatalf("expected error")
	}
	if got := h.Stems(); len(got) != 1 || got[0] != "vocals" {
		t.Fatalf("stems changed on failed sync: %v", got)
	}
}
