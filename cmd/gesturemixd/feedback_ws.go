package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"gesturemix/engine"
)

// ============================================================================
// Feedback WebSocket: tap + hub + per-client pumps + broadcaster
// ============================================================================
//
// This file implements:
//   - A feedbackTap subscribed to the engine's feedbackUpdate event
//   - A Hub that tracks connected WebSocket clients
//   - Per-client write pumps so one slow client doesn't block others
//   - A broadcaster loop that rate-limits feedback and fans it out
//
// Constraints:
//   - The engine callback runs on the tick goroutine; it must never block.
//   - Feedback is latest-wins: an unsent snapshot is replaced by a newer one.
//   - Slow clients are disconnected when their send buffer fills.
//
// Wire format: JSON text frames {type, ts, data}. The first message on connect
// is "feedback_init" carrying the latest snapshot (if any); later messages are
// "feedback".
//
// ============================================================================

const (
	wsTypeFeedbackInit = "feedback_init"
	wsTypeFeedback     = "feedback"
)

// envelope is the wire format envelope for WS messages.
type envelope struct {
	Type string     `json:"type"`
	Ts   *time.Time `json:"ts,omitempty"`
	Data any        `json:"data,omitempty"`
}

// ============================================================================
// Tap
// ============================================================================

// feedbackTap bridges engine callbacks to the broadcaster. It keeps the most
// recent snapshot for new clients and a one-slot latest-wins channel.
type feedbackTap struct {
	latest atomic.Pointer[engine.FeedbackState]
	ch     chan engine.FeedbackState
	drops  atomic.Uint64
}

func newFeedbackTap() *feedbackTap {
	return &feedbackTap{ch: make(chan engine.FeedbackState, 1)}
}

// onFeedback is registered with engine.On. The engine hands each observer its
// own copy, so the snapshot can be retained as is.
func (t *feedbackTap) onFeedback(fs engine.FeedbackState) error {
	t.latest.Store(&fs)
	for {
		select {
		case t.ch <- fs:
			return nil
		default:
		}
		// Slot is full: drop the stale value and retry.
		select {
		case <-t.ch:
			t.drops.Add(1)
		default:
		}
	}
}

// Latest returns the most recent snapshot, if one was published.
func (t *feedbackTap) Latest() (engine.FeedbackState, bool) {
	p := t.latest.Load()
	if p == nil {
		return engine.FeedbackState{}, false
	}
	return *p, true
}

// C is the broadcaster's source.
func (t *feedbackTap) C() <-chan engine.FeedbackState { return t.ch }

// ============================================================================
// Hub
// ============================================================================

type Hub struct {
	logger *slog.Logger

	// Buffered broadcast channel for already-serialized JSON frames.
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu      sync.Mutex
	clients map[*Client]struct{}

	sendBuf int
}

type HubConfig struct {
	// SendBuf is the per-client outbound queue size. Zero selects a default.
	SendBuf int

	// BroadcastBuf is the hub inbound broadcast queue size. Zero selects a default.
	BroadcastBuf int
}

// NewHub constructs a hub. Call Run(ctx) to start it.
func NewHub(logger *slog.Logger, cfg HubConfig) *Hub {
	sendBuf := cfg.SendBuf
	if sendBuf <= 0 {
		sendBuf = 32
	}
	bcastBuf := cfg.BroadcastBuf
	if bcastBuf <= 0 {
		bcastBuf = 64
	}

	return &Hub{
		logger:     logger,
		broadcast:  make(chan []byte, bcastBuf),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		clients:    make(map[*Client]struct{}),
		sendBuf:    sendBuf,
	}
}

// Run processes hub events until ctx is canceled.
// It disconnects all clients on shutdown.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("feedback hub starting")

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("feedback hub stopping (context canceled)")
			h.closeAllClients()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("feedback client registered", "client", c.id, "remote_addr", c.remoteAddr, "clients", n)

		case c := <-h.unregister:
			h.removeClient(c, "unregister")

		case msg := <-h.broadcast:
			// Collect slow clients first, remove them after unlocking.
			var slow []*Client

			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					slow = append(slow, c)
				}
			}
			h.mu.Unlock()

			for _, c := range slow {
				h.removeClient(c, "slow_client")
			}
		}
	}
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		c.closeSend()
		delete(h.clients, c)
	}
}

func (h *Hub) removeClient(c *Client, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
	}
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		// Closing send signals writePump to exit.
		c.closeSend()

		h.logger.Info("feedback client disconnected", "client", c.id, "remote_addr", c.remoteAddr, "reason", reason, "clients", n)
	}
}

// BroadcastBytes enqueues a pre-serialized JSON WS frame for broadcast.
// It never blocks; if the hub queue is full it drops the message.
func (h *Hub) BroadcastBytes(msg []byte) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("feedback hub broadcast queue full, dropping message", "bytes", len(msg))
	}
}

// ============================================================================
// Client
// ============================================================================

type Client struct {
	hub *Hub

	id   string
	conn *websocket.Conn
	send chan []byte
	once sync.Once

	remoteAddr string
	logger     *slog.Logger
}

// NewClient creates a client with a buffered send channel and a fresh id.
func NewClient(hub *Hub, conn *websocket.Conn, remoteAddr string, logger *slog.Logger) *Client {
	sendBuf := 32
	if hub != nil && hub.sendBuf > 0 {
		sendBuf = hub.sendBuf
	}
	return &Client{
		hub:        hub,
		id:         uuid.NewString(),
		conn:       conn,
		send:       make(chan []byte, sendBuf),
		remoteAddr: remoteAddr,
		logger:     logger,
	}
}

func (c *Client) closeSend() {
	c.once.Do(func() { close(c.send) })
}

const (
	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second
)

// closeStatus extracts a websocket close code / text when possible.
func closeStatus(err error) (code int, text string, ok bool) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text, true
	}
	return 0, "", false
}

func (c *Client) logExit(pump, cause string, err error) {
	if errors.Is(err, websocket.ErrCloseSent) {
		return
	}
	if code, text, ok := closeStatus(err); ok {
		c.logger.Info("feedback "+pump+" exiting (close)", "client", c.id, "code", code, "reason", text)
		return
	}
	c.logger.Info("feedback "+pump+" exiting ("+cause+")", "client", c.id, "error", err)
}

// writePump writes messages from the send queue to the websocket.
// It exits on write error or when send is closed.
func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// hub is disconnecting us
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logExit("writePump", "write error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logExit("writePump", "ping error", err)
				return
			}
		}
	}
}

// readPump discards incoming messages to detect disconnects and handle
// control frames, then unregisters the client.
func (c *Client) readPump(ctx context.Context) {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if ctx.Err() != nil {
			return
		}
		if _, _, err := c.conn.ReadMessage(); err != nil {
			c.logExit("readPump", "read error", err)
			if c.hub != nil {
				c.hub.unregister <- c
			}
			return
		}
	}
}

// ============================================================================
// HTTP handler
// ============================================================================

type FeedbackServer struct {
	logger *slog.Logger
	hub    *Hub
	tap    *feedbackTap
}

func NewFeedbackServer(logger *slog.Logger, tap *feedbackTap, cfg HubConfig) *FeedbackServer {
	return &FeedbackServer{
		logger: logger,
		hub:    NewHub(logger, cfg),
		tap:    tap,
	}
}

func (s *FeedbackServer) Hub() *Hub { return s.hub }

// Register registers the WS handler on mux at path.
func (s *FeedbackServer) Register(mux *http.ServeMux, path string) {
	if mux == nil {
		return
	}
	mux.HandleFunc(path, s.handleFeedbackWS)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleFeedbackWS upgrades and registers a client, then queues feedback_init.
func (s *FeedbackServer) handleFeedbackWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("feedback ws upgrade failed", "error", err)
		return
	}

	client := NewClient(s.hub, conn, r.RemoteAddr, s.logger)

	// Queue the init message before registering so it is always first.
	if fs, ok := s.tap.Latest(); ok {
		if msg, err := marshalFeedback(wsTypeFeedbackInit, fs); err == nil {
			client.send <- msg
		}
	}

	s.hub.register <- client

	// Pump lifetime is the connection's, not the request's: net/http cancels
	// r.Context() as soon as this handler returns.
	go client.writePump(context.Background())
	go client.readPump(context.Background())
}

// ============================================================================
// Broadcaster
// ============================================================================

func marshalFeedback(typ string, fs engine.FeedbackState) ([]byte, error) {
	ts := fs.Timestamp.UTC()
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return json.Marshal(envelope{Type: typ, Ts: &ts, Data: fs})
}

// RunBroadcaster reads feedback snapshots from src and broadcasts them to all
// hub clients, at most once per 1/maxHz. Between flushes the latest snapshot
// wins. Intended to run as a single goroutine.
func RunBroadcaster(ctx context.Context, hub *Hub, src <-chan engine.FeedbackState, maxHz int, logger *slog.Logger) {
	if hub == nil || src == nil {
		return
	}
	if maxHz <= 0 {
		maxHz = 30
	}
	window := time.Second / time.Duration(maxHz)

	var pending *engine.FeedbackState
	var lastFlush time.Time
	var timer *time.Timer
	var timerCh <-chan time.Time

	flush := func() {
		if pending == nil {
			return
		}
		msg, err := marshalFeedback(wsTypeFeedback, *pending)
		pending = nil
		if err != nil {
			logger.Warn("feedback broadcaster marshal failed", "error", err)
			return
		}
		hub.BroadcastBytes(msg)
		lastFlush = time.Now()
	}

	stopTimer := func() {
		if timer != nil {
			timer.Stop()
		}
		timer = nil
		timerCh = nil
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			stopTimer()
			return

		case <-timerCh:
			timer = nil
			timerCh = nil
			flush()

		case fs, ok := <-src:
			if !ok {
				flush()
				stopTimer()
				logger.Info("feedback broadcaster stopping (source ended)")
				return
			}
			pending = &fs

			if wait := window - time.Since(lastFlush); wait > 0 {
				if timer == nil {
					timer = time.NewTimer(wait)
					timerCh = timer.C
				}
				continue
			}
			stopTimer()
			flush()
		}
	}
}
