package main

import (
	"errors"
	"testing"

	"gesturemix/engine"
)

// fakeSubmitter records submitted frames.
type fakeSubmitter struct {
	frames []engine.Frame
	err    error
}

func (f *fakeSubmitter) Submit(fr engine.Frame) error {
	if f.err != nil {
		return f.err
	}
	f.frames = append(f.frames, fr)
	return nil
}

func TestMQTTSource_DecodesMsgpackFrames(t *testing.T) {
	sub := &fakeSubmitter{}
	cfg := DefaultConfig().MQTT
	cfg.Encoding = "msgpack"
	src, err := NewMQTTSource(cfg, sub, quietLogger())
	if err != nil {
		t.Fatalf("NewMQTTSource: %v", err)
	}

	payload, err := engine.EncodeFrame(engine.EncodingMsgpack, engine.Frame{
		Results: []engine.GestureDetectionResult{{
			GestureType: engine.GestureFist,
			Hand:        engine.HandLeft,
			Confidence:  0.8,
			Value:       1,
		}},
		TwoHand: &engine.TwoHandSignal{Value: 0.3, Confidence: 0.7},
	})
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}

	src.handlePayload(payload)
	src.handlePayload([]byte("not msgpack at all"))

	if len(sub.frames) != 1 {
		t.Fatalf("submitted %d frames, want 1", len(sub.frames))
	}
	got := sub.frames[0]
	if got.Results[0].GestureType != engine.GestureFist || got.TwoHand == nil || got.TwoHand.Value != 0.3 {
		t.Fatalf("decoded frame = %+v", got)
	}

	st := src.Stats()
	if st.Received != 2 || st.DecodeErrors != 1 || st.Rejected != 0 || st.Connected {
		t.Fatalf("stats = %+v", st)
	}
}

func TestMQTTSource_CountsRejectedFrames(t *testing.T) {
	sub := &fakeSubmitter{err: errors.New("engine closed")}
	src, err := NewMQTTSource(DefaultConfig().MQTT, sub, quietLogger())
	if err != nil {
		t.Fatalf("NewMQTTSource: %v", err)
	}

	src.handlePayload([]byte(`{"results":[{"gesture_type":"POINT","hand":"right","confidence":0.9,"value":0.4,"position":{"x":0.1,"y":0.2}}]}`))

	if st := src.Stats(); st.Received != 1 || st.Rejected != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestNewMQTTSource_RejectsUnknownEncoding(t *testing.T) {
	cfg := DefaultConfig().MQTT
	cfg.Encoding = "protobuf"
	if _, err := NewMQTTSource(cfg, &fakeSubmitter{}, quietLogger()); !errors.Is(err, engine.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}
