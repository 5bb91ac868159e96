package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"maps"
	"net/url"
	"os"
	"os/signal"
	"slices"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"gesturemix/engine"
)

// envelope mirrors the daemon's feedback websocket frames.
type envelope struct {
	Type string               `json:"type"`
	Ts   time.Time            `json:"ts"`
	Data engine.FeedbackState `json:"data"`
}

func main() {
	var (
		wsURL   = flag.String("ws", "ws://127.0.0.1:3002/ws/feedback", "gesturemixd feedback websocket URL")
		raw     = flag.Bool("raw", false, "print raw JSON frames")
		changed = flag.Bool("changed", false, "only print updates whose control values changed")
	)
	flag.Parse()

	u, err := url.Parse(*wsURL)
	if err != nil {
		log.Fatalf("invalid websocket URL: %v", err)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	d := websocket.Dialer{HandshakeTimeout: 5 * time.Second}

	log.Printf("connecting to %s...", u.String())
	conn, _, err := d.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()
	log.Printf("connected! (press Ctrl+C to exit)")

	var writeMu sync.Mutex

	// The daemon pings every 20s; each ping extends the read deadline.
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second))
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		var last map[string]float64
		for {
			messageType, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Printf("websocket error: %v", err)
				}
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			if messageType != websocket.TextMessage {
				continue
			}

			if *raw {
				fmt.Println(string(message))
				continue
			}

			var env envelope
			if err := json.Unmarshal(message, &env); err != nil {
				fmt.Printf("[TEXT] %s\n", string(message))
				continue
			}
			if *changed && env.Type != "feedback_init" && maps.Equal(last, env.Data.ControlValues) {
				continue
			}
			last = env.Data.ControlValues
			fmt.Println(formatFeedback(env.Type, env.Data))
		}
	}()

	select {
	case <-sigc:
		log.Printf("shutting down...")
		writeMu.Lock()
		err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		writeMu.Unlock()
		if err != nil {
			log.Printf("error closing connection: %v", err)
		}
	case <-done:
		log.Printf("connection closed")
	}
}

// formatFeedback renders one update on a single line:
//
//	[FEEDBACK] #42 profile=live mode=gesture conf=0.92 latency=11.3ms vocals-volume=0.718 other-mute=on
func formatFeedback(typ string, fs engine.FeedbackState) string {
	var b strings.Builder

	label := "FEEDBACK"
	if typ == "feedback_init" {
		label = "INIT"
	}
	fmt.Fprintf(&b, "[%s] #%d profile=%s mode=%s conf=%.2f latency=%.1fms",
		label, fs.Seq, fs.ProfileID, fs.Mode, fs.Confidence, fs.LatencyMs)

	toggleIDs := make(map[string]bool)
	for _, am := range fs.ActiveMappings {
		if am.Mapping.Control.IsToggle() {
			toggleIDs[am.Mapping.ID] = true
		}
	}

	for _, id := range slices.Sorted(maps.Keys(fs.ControlValues)) {
		v := fs.ControlValues[id]
		if toggleIDs[id] {
			state := "off"
			if v >= 0.5 {
				state = "on"
			}
			fmt.Fprintf(&b, " %s=%s", id, state)
			continue
		}
		fmt.Fprintf(&b, " %s=%.3f", id, v)
	}

	if len(fs.DisabledMappings) > 0 {
		fmt.Fprintf(&b, " disabled=%s", strings.Join(fs.DisabledMappings, ","))
	}
	if len(fs.StaleMappings) > 0 {
		fmt.Fprintf(&b, " stale=%s", strings.Join(fs.StaleMappings, ","))
	}
	return b.String()
}
