package main

import (
	"testing"

	"gesturemix/engine"
)

func TestFormatFeedback(t *testing.T) {
	fs := engine.FeedbackState{
		Seq:        42,
		ProfileID:  "live",
		Mode:       engine.ModeGesture,
		Confidence: 0.923,
		LatencyMs:  11.28,
		ActiveMappings: []engine.ActiveMapping{
			{Mapping: engine.GestureMapping{ID: "other-mute", Control: engine.ControlMute}},
		},
		ControlValues: map[string]float64{
			"vocals-volume": 0.71849,
			"other-mute":    1,
			"bass-pan":      -0.25,
		},
		DisabledMappings: []string{"ghost"},
	}

	got := formatFeedback("feedback", fs)
	want := "[FEEDBACK] #42 profile=live mode=gesture conf=0.92 latency=11.3ms bass-pan=-0.250 other-mute=on vocals-volume=0.718 disabled=ghost"
	if got != want {
		t.Fatalf("formatFeedback =\n%s\nwant\n%s", got, want)
	}

	if init := formatFeedback("feedback_init", engine.FeedbackState{Seq: 1}); init[:6] != "[INIT]" {
		t.Fatalf("init label: %q", init)
	}
}
