package engine

// AudioParameterSink is the control surface of the external mixer. Values are
// always pre-clamped: volume, eq and crossfader to [0,1], pan to [-1,1].
// Implementations must not block; an error disables the calling mapping for
// the rest of the active profile's lifetime.
type AudioParameterSink interface {
	SetStemVolume(stem StemID, v float64) error
	SetStemMute(stem StemID, muted bool) error
	SetStemSolo(stem StemID, solo bool) error
	SetStemPan(stem StemID, pan float64) error
	SetStemEQ(stem StemID, band EQBand, v float64) error
	SetCrossfaderPosition(v float64) error
	SetDeckVolume(deck string, v float64) error
}

// paramWrite is one pending sink call produced by a tick.
type paramWrite struct {
	mappingID string
	key       ControlKey
	value     float64 // continuous controls
	on        bool    // toggles
}

func (w paramWrite) apply(sink AudioParameterSink, masterDeck string) error {
	switch w.key.Target {
	case TargetCrossfader:
		return sink.SetCrossfaderPosition(w.value)
	case TargetMaster:
		return sink.SetDeckVolume(masterDeck, w.value)
	}

	stem := w.key.Target.Stem()
	switch w.key.Control {
	case ControlVolume:
		return sink.SetStemVolume(stem, w.value)
	case ControlPan:
		return sink.SetStemPan(stem, w.value)
	case ControlEQ:
		return sink.SetStemEQ(stem, w.key.Band, w.value)
	case ControlMute:
		return sink.SetStemMute(stem, w.on)
	case ControlSolo:
		return sink.SetStemSolo(stem, w.on)
	}
	return nil
}
