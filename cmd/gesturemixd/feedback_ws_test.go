package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"gesturemix/engine"
)

// Hub tests construct Clients with a nil websocket.Conn; the hub guards
// every conn.Close() against nil.

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHub(t *testing.T, sendBuf int, broadcastBuf int) *Hub {
	t.Helper()
	return NewHub(quietLogger(), HubConfig{
		SendBuf:      sendBuf,
		BroadcastBuf: broadcastBuf,
	})
}

func registerClient(t *testing.T, hub *Hub, c *Client) {
	t.Helper()
	hub.register <- c
	waitUntil(t, 500*time.Millisecond, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		_, ok := hub.clients[c]
		return ok
	}, "client "+c.remoteAddr+" not registered in time")
}

func TestHub_BroadcastDeliveredToAllClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := newTestHub(t, 4, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Run(ctx)
	}()

	c1 := NewClient(hub, nil, "c1", quietLogger())
	c2 := NewClient(hub, nil, "c2", quietLogger())
	if c1.id == "" || c1.id == c2.id {
		t.Fatalf("client ids not unique: %q %q", c1.id, c2.id)
	}
	registerClient(t, hub, c1)
	registerClient(t, hub, c2)

	if n := hub.ClientCount(); n != 2 {
		t.Fatalf("ClientCount = %d, want 2", n)
	}

	msg := []byte(`{"type":"feedback","data":{"seq":1}}`)
	hub.broadcast <- msg

	for _, c := range []*Client{c1, c2} {
		select {
		case got := <-c.send:
			if string(got) != string(msg) {
				t.Fatalf("%s got %q, want %q", c.remoteAddr, got, msg)
			}
		case <-time.After(500 * time.Millisecond):
			t.Fatalf("timeout waiting for %s to receive broadcast", c.remoteAddr)
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for hub to stop")
	}
	if n := hub.ClientCount(); n != 0 {
		t.Fatalf("clients left after shutdown: %d", n)
	}
}

func TestHub_SlowClientDisconnectedOnFullSendBuffer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := newTestHub(t, 1, 8)
	go hub.Run(ctx)

	slow := NewClient(hub, nil, "slow", quietLogger())
	fast := &Client{hub: hub, id: "fast", send: make(chan []byte, 8), remoteAddr: "fast", logger: quietLogger()}
	registerClient(t, hub, slow)
	registerClient(t, hub, fast)

	// fill the slow client's single slot
	slow.send <- []byte(`"already queued"`)

	msg := []byte(`{"type":"feedback","data":{"seq":2}}`)
	hub.broadcast <- msg

	select {
	case got := <-fast.send:
		if string(got) != string(msg) {
			t.Fatalf("fast client got %q, want %q", got, msg)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timeout waiting for fast client to receive broadcast")
	}

	select {
	case <-slow.send:
	default:
	}
	waitUntil(t, 750*time.Millisecond, func() bool {
		select {
		case _, ok := <-slow.send:
			return !ok
		default:
			return false
		}
	}, "expected slow send channel to be closed")
}

func TestFeedbackTap_LatestWins(t *testing.T) {
	tap := newFeedbackTap()
	if _, ok := tap.Latest(); ok {
		t.Fatalf("Latest reported a snapshot before any publish")
	}

	for seq := uint64(1); seq <= 3; seq++ {
		if err := tap.onFeedback(engine.FeedbackState{Seq: seq}); err != nil {
			t.Fatalf("onFeedback: %v", err)
		}
	}

	got := <-tap.C()
	if got.Seq != 3 {
		t.Fatalf("channel held seq %d, want 3", got.Seq)
	}
	if d := tap.drops.Load(); d != 2 {
		t.Fatalf("drops = %d, want 2", d)
	}
	if latest, ok := tap.Latest(); !ok || latest.Seq != 3 {
		t.Fatalf("Latest = %d, %v", latest.Seq, ok)
	}
}

func TestRunBroadcaster_CoalescesBursts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := newTestHub(t, 16, 16)
	src := make(chan engine.FeedbackState)
	done := make(chan struct{})
	go func() {
		defer close(done)
		// 5 Hz: a 200ms window, far longer than the burst below
		RunBroadcaster(ctx, hub, src, 5, quietLogger())
	}()

	for seq := uint64(1); seq <= 5; seq++ {
		src <- engine.FeedbackState{Seq: seq, ProfileID: "p"}
	}

	var got []uint64
	deadline := time.After(time.Second)
	for len(got) < 2 {
		select {
		case msg := <-hub.broadcast:
			var env struct {
				Type string               `json:"type"`
				Data engine.FeedbackState `json:"data"`
			}
			if err := json.Unmarshal(msg, &env); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if env.Type != wsTypeFeedback {
				t.Fatalf("type = %q", env.Type)
			}
			got = append(got, env.Data.Seq)
		case <-deadline:
			t.Fatalf("timeout; broadcasts so far: %v", got)
		}
	}

	// first snapshot goes out immediately, the rest collapse into the latest
	if got[0] != 1 || got[1] != 5 {
		t.Fatalf("broadcast seqs = %v, want [1 5]", got)
	}

	cancel()
	<-done
	select {
	case msg := <-hub.broadcast:
		t.Fatalf("unexpected extra broadcast %s", msg)
	default:
	}
}

func TestFeedbackServer_InitThenUpdates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tap := newFeedbackTap()
	_ = tap.onFeedback(engine.FeedbackState{Seq: 7, ProfileID: "live"})
	<-tap.C() // the init path reads Latest, not the channel

	srv := NewFeedbackServer(quietLogger(), tap, HubConfig{})
	go srv.Hub().Run(ctx)

	mux := http.NewServeMux()
	srv.Register(mux, "/ws/feedback")
	ts := httptest.NewServer(mux)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/feedback"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	readEnvelope := func() (string, engine.FeedbackState) {
		t.Helper()
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var env struct {
			Type string               `json:"type"`
			Data engine.FeedbackState `json:"data"`
		}
		if err := conn.ReadJSON(&env); err != nil {
			t.Fatalf("read: %v", err)
		}
		return env.Type, env.Data
	}

	typ, fs := readEnvelope()
	if typ != wsTypeFeedbackInit || fs.Seq != 7 || fs.ProfileID != "live" {
		t.Fatalf("init = %q %+v", typ, fs)
	}

	waitUntil(t, time.Second, func() bool { return srv.Hub().ClientCount() == 1 }, "client not registered")

	msg, err := marshalFeedback(wsTypeFeedback, engine.FeedbackState{Seq: 8})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	srv.Hub().BroadcastBytes(msg)

	typ, fs = readEnvelope()
	if typ != wsTypeFeedback || fs.Seq != 8 {
		t.Fatalf("update = %q %+v", typ, fs)
	}
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout: %s", msg)
}
