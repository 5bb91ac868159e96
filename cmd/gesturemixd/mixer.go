package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"gesturemix/engine"
)

// ============================================================================
// Mixer websocket client
// ============================================================================
// Protocol: JSON text frames, one request, one response.
//   -> {"SetParams":[{"param":"stem_volume","stem":"vocals","value":0.42}, ...]}
//   <- {"SetParams":{"result":"Ok"}}
//   -> "GetStems"
//   <- {"GetStems":{"result":"Ok","value":["vocals","drums"]}}
// ============================================================================

// MixerClientInterface is the mixer control surface the pump needs.
// This allows for mocking in tests.
type MixerClientInterface interface {
	SetParams(params []wireParam) error
	GetStems() ([]string, error)
	Close() error
}

// wireParam is one control value on the mixer wire.
type wireParam struct {
	Param string  `json:"param"`
	Stem  string  `json:"stem,omitempty"`
	Band  string  `json:"band,omitempty"`
	Deck  string  `json:"deck,omitempty"`
	Value float64 `json:"value"`
}

func toWire(p engine.Param) wireParam {
	return wireParam{
		Param: p.Kind.String(),
		Stem:  string(p.Stem),
		Band:  string(p.Band),
		Deck:  p.Deck,
		Value: p.Value,
	}
}

// MixerClient manages WebSocket communication with the mixer.
type MixerClient struct {
	mu          sync.Mutex
	conn        *websocket.Conn
	url         string
	logger      *slog.Logger
	readTimeout time.Duration
}

// NewMixerClient creates a client and establishes the initial connection.
func NewMixerClient(wsURL string, logger *slog.Logger, readTimeoutMS int) (*MixerClient, error) {
	if _, err := url.Parse(wsURL); err != nil {
		return nil, fmt.Errorf("invalid websocket URL: %w", err)
	}

	c := &MixerClient{
		url:         wsURL,
		logger:      logger,
		readTimeout: time.Duration(readTimeoutMS) * time.Millisecond,
	}

	if err := c.connectWithRetry(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *MixerClient) connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}

	d := websocket.Dialer{HandshakeTimeout: 2 * time.Second}
	conn, _, err := d.Dial(c.url, nil)
	if err != nil {
		return err
	}
	c.conn = conn
	return nil
}

func (c *MixerClient) connectWithRetry() error {
	var lastErr error
	for attempt := 0; attempt < mixerReconnectAttempts; attempt++ {
		err := c.connect()
		if err == nil {
			c.logger.Info("connected to mixer", "url", c.url)
			return nil
		}
		lastErr = err
		c.logger.Warn("mixer connection failed; retrying...", "error", err, "attempt", attempt+1)
		time.Sleep(mixerReconnectDelay)
	}
	return fmt.Errorf("failed to connect after %d attempts: %w", mixerReconnectAttempts, lastErr)
}

func (c *MixerClient) ensureConnected() error {
	c.mu.Lock()
	connected := c.conn != nil
	c.mu.Unlock()
	if connected {
		return nil
	}

	c.logger.Warn("mixer connection lost; reconnecting...")
	return c.connectWithRetry()
}

// sendAndRead sends a request and waits for its response.
func (c *MixerClient) sendAndRead(v any) ([]byte, error) {
	if err := c.ensureConnected(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil, errors.New("no websocket connection")
	}

	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal command: %w", err)
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.conn = nil
		return nil, err
	}

	_ = c.conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	defer func() {
		if c.conn != nil {
			_ = c.conn.SetReadDeadline(time.Time{})
		}
	}()

	_, message, err := c.conn.ReadMessage()
	if err != nil {
		c.conn = nil
		return nil, err
	}
	return message, nil
}

// Close closes the WebSocket connection.
func (c *MixerClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	return nil
}

// SetParams sends one batch of control values.
func (c *MixerClient) SetParams(params []wireParam) error {
	response, err := c.sendAndRead(map[string]any{"SetParams": params})
	if err != nil {
		return fmt.Errorf("set params: %w", err)
	}

	var resp struct {
		SetParams struct {
			Result string `json:"result"`
		} `json:"SetParams"`
	}
	if err := json.Unmarshal(response, &resp); err != nil {
		return fmt.Errorf("set params: parse response: %w", err)
	}
	if resp.SetParams.Result != "Ok" {
		return fmt.Errorf("set params: mixer returned %q", resp.SetParams.Result)
	}

	c.logger.Debug("SetParams", "count", len(params))
	return nil
}

// GetStems queries the mixer for the stems it currently has loaded.
func (c *MixerClient) GetStems() ([]string, error) {
	response, err := c.sendAndRead("GetStems")
	if err != nil {
		return nil, fmt.Errorf("get stems: %w", err)
	}

	var resp struct {
		GetStems struct {
			Result string   `json:"result"`
			Value  []string `json:"value"`
		} `json:"GetStems"`
	}
	if err := json.Unmarshal(response, &resp); err != nil {
		return nil, fmt.Errorf("get stems: parse response: %w", err)
	}
	if resp.GetStems.Result != "Ok" {
		return nil, fmt.Errorf("get stems: mixer returned %q", resp.GetStems.Result)
	}
	return resp.GetStems.Value, nil
}

// ============================================================================
// Pump
// ============================================================================

// mixerStats is reported on /stats.
type mixerStats struct {
	Batches uint64 `json:"batches"`
	Params  uint64 `json:"params"`
	Errors  uint64 `json:"errors"`
	Pending int    `json:"pending"`
}

// paramKey identifies one mixer control; a newer value replaces a pending one.
type paramKey struct {
	kind engine.ParamKind
	stem engine.StemID
	band engine.EQBand
	deck string
}

// MixerPump drains the engine's parameter handoff at a fixed rate and
// forwards each batch to the mixer. A failed batch stays pending and is
// merged with the next drain, latest value per control.
type MixerPump struct {
	client   MixerClientInterface
	handoff  *engine.ParamHandoff
	interval time.Duration
	logger   *slog.Logger

	// owned by the Run goroutine
	pending []engine.Param
	index   map[paramKey]int
	failing bool

	pendingLen atomic.Int64
	batches    atomic.Uint64
	params     atomic.Uint64
	errors     atomic.Uint64
}

func NewMixerPump(client MixerClientInterface, handoff *engine.ParamHandoff, updateHz int, logger *slog.Logger) *MixerPump {
	if updateHz <= 0 {
		updateHz = defaultUpdateHz
	}
	return &MixerPump{
		client:   client,
		handoff:  handoff,
		interval: time.Second / time.Duration(updateHz),
		logger:   logger,
		index:    make(map[paramKey]int),
	}
}

// SyncStems aligns the handoff's stem table with the mixer. Stems the mixer
// does not have are removed, so writes to them fail in the engine.
func (p *MixerPump) SyncStems() error {
	names, err := p.client.GetStems()
	if err != nil {
		return err
	}

	want := make(map[engine.StemID]bool, len(names))
	for _, n := range names {
		id := engine.StemID(n)
		want[id] = true
		if !slices.Contains(p.handoff.Stems(), id) {
			p.handoff.AddStem(id)
			p.logger.Info("mixer stem added", "stem", id)
		}
	}
	for _, id := range p.handoff.Stems() {
		if !want[id] {
			p.handoff.RemoveStem(id)
			p.logger.Warn("configured stem not loaded in mixer", "stem", id)
		}
	}
	return nil
}

// Run pumps until ctx is canceled. Pending values are flushed once more on
// the way out.
func (p *MixerPump) Run(ctx context.Context) error {
	if err := p.SyncStems(); err != nil {
		p.logger.Warn("mixer stem sync failed; keeping configured stems", "error", err)
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.pump()
			return nil
		case <-ticker.C:
			p.pump()
		}
	}
}

// pump performs one drain-and-send cycle.
func (p *MixerPump) pump() {
	p.handoff.Drain(p.merge)
	p.pendingLen.Store(int64(len(p.pending)))
	if len(p.pending) == 0 {
		return
	}

	batch := make([]wireParam, 0, len(p.pending))
	for _, prm := range p.pending {
		batch = append(batch, toWire(prm))
	}

	if err := p.client.SetParams(batch); err != nil {
		p.errors.Add(1)
		if !p.failing {
			p.logger.Warn("mixer rejected batch; will retry", "params", len(batch), "error", err)
			p.failing = true
		}
		return
	}
	if p.failing {
		p.logger.Info("mixer accepting batches again")
		p.failing = false
	}

	p.batches.Add(1)
	p.params.Add(uint64(len(batch)))
	p.pending = p.pending[:0]
	clear(p.index)
	p.pendingLen.Store(0)
}

func (p *MixerPump) merge(prm engine.Param) {
	k := paramKey{kind: prm.Kind, stem: prm.Stem, band: prm.Band, deck: prm.Deck}
	if i, ok := p.index[k]; ok {
		p.pending[i] = prm
		return
	}
	p.index[k] = len(p.pending)
	p.pending = append(p.pending, prm)
}

// Stats is safe to call from any goroutine.
func (p *MixerPump) Stats() mixerStats {
	return mixerStats{
		Batches: p.batches.Load(),
		Params:  p.params.Load(),
		Errors:  p.errors.Load(),
		Pending: int(p.pendingLen.Load()),
	}
}
