package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"gesturemix/engine"
)

// ============================================================================
// MQTT frame source
// ============================================================================
// Classifiers that publish over MQTT send one gesture frame per message on
// cfg.Topic, encoded as JSON or msgpack. Every decoded frame goes through
// Engine.Submit, so the latest-frame-wins policy applies here too.
// ============================================================================

// frameSubmitter is the engine ingest surface.
type frameSubmitter interface {
	Submit(f engine.Frame) error
}

// mqttStats is reported on /stats.
type mqttStats struct {
	Connected    bool   `json:"connected"`
	Received     uint64 `json:"received"`
	DecodeErrors uint64 `json:"decode_errors"`
	Rejected     uint64 `json:"rejected"`
}

// MQTTSource subscribes to the frame topic and feeds the engine.
type MQTTSource struct {
	cfg      MQTTConfig
	encoding engine.Encoding
	eng      frameSubmitter
	logger   *slog.Logger

	client mqtt.Client

	connected    atomic.Bool
	received     atomic.Uint64
	decodeErrors atomic.Uint64
	rejected     atomic.Uint64
}

func NewMQTTSource(cfg MQTTConfig, eng frameSubmitter, logger *slog.Logger) (*MQTTSource, error) {
	enc, err := engine.ParseEncoding(cfg.Encoding)
	if err != nil {
		return nil, err
	}
	return &MQTTSource{
		cfg:      cfg,
		encoding: enc,
		eng:      eng,
		logger:   logger.With("component", "mqtt"),
	}, nil
}

// handlePayload decodes one message and submits it.
func (s *MQTTSource) handlePayload(payload []byte) {
	s.received.Add(1)

	f, err := engine.DecodeFrame(s.encoding, payload)
	if err != nil {
		s.decodeErrors.Add(1)
		s.logger.Debug("dropping undecodable frame", "bytes", len(payload), "error", err)
		return
	}
	if err := s.eng.Submit(f); err != nil {
		s.rejected.Add(1)
		s.logger.Debug("engine rejected frame", "error", err)
	}
}

func (s *MQTTSource) subscribe(c mqtt.Client) error {
	token := c.Subscribe(s.cfg.Topic, s.cfg.QoS, func(_ mqtt.Client, m mqtt.Message) {
		s.handlePayload(m.Payload())
	})
	if !token.WaitTimeout(5 * time.Second) {
		return errors.New("mqtt subscribe timeout")
	}
	return token.Error()
}

// Run connects, subscribes and blocks until ctx is canceled. The client
// reconnects on its own; the subscription is renewed on every connect.
func (s *MQTTSource) Run(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", s.cfg.Broker))
	opts.SetClientID(s.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetCleanSession(true)

	opts.OnConnect = func(c mqtt.Client) {
		s.connected.Store(true)
		if err := s.subscribe(c); err != nil {
			s.logger.Error("mqtt subscribe failed", "topic", s.cfg.Topic, "error", err)
			return
		}
		s.logger.Info("mqtt connection established",
			"broker", s.cfg.Broker,
			"topic", s.cfg.Topic,
			"encoding", s.encoding)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		s.connected.Store(false)
		s.logger.Warn("mqtt connection lost, will auto-reconnect", "broker", s.cfg.Broker, "error", err)
	}

	s.client = mqtt.NewClient(opts)
	s.logger.Info("connecting to mqtt broker", "broker", s.cfg.Broker)

	// With ConnectRetry the token completes only once connected; don't
	// block startup on it.
	token := s.client.Connect()
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			s.logger.Error("mqtt connection failed", "error", err)
		}
	}()

	<-ctx.Done()
	s.client.Disconnect(250)
	s.connected.Store(false)
	s.logger.Info("mqtt disconnected")
	return nil
}

func (s *MQTTSource) Stats() mqttStats {
	return mqttStats{
		Connected:    s.connected.Load(),
		Received:     s.received.Load(),
		DecodeErrors: s.decodeErrors.Load(),
		Rejected:     s.rejected.Load(),
	}
}
