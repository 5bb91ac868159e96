package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"gesturemix/engine"
)

// ============================================================================
// HTTP Server
// ============================================================================
// One listener serves the feedback websocket and the plain status endpoints:
//   GET /healthz  -> {"status":"ok","profile":...,"mode":...}
//   GET /stats    -> engine counters plus transport counters
// ============================================================================

// statusEngine is the part of the engine the status endpoints read.
type statusEngine interface {
	ActiveProfile() (engine.MappingProfile, bool)
	Mode() engine.ControlMode
	Stats() engine.Stats
}

// daemonStats is the /stats response body.
type daemonStats struct {
	Engine          engine.Stats `json:"engine"`
	FeedbackClients int          `json:"feedback_clients"`
	Mixer           *mixerStats  `json:"mixer,omitempty"`
	MQTT            *mqttStats   `json:"mqtt,omitempty"`
}

type healthResponse struct {
	Status  string `json:"status"`
	Profile string `json:"profile,omitempty"`
	Mode    string `json:"mode"`
}

// statusHandlers groups everything /stats reports on. Mixer and MQTT are nil
// when those components are disabled.
type statusHandlers struct {
	eng   statusEngine
	hub   *Hub
	mixer *MixerPump
	mqtt  *MQTTSource
}

func (s *statusHandlers) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /stats", s.handleStats)
}

func (s *statusHandlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Mode: string(s.eng.Mode())}
	if p, ok := s.eng.ActiveProfile(); ok {
		resp.Profile = p.ID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *statusHandlers) handleStats(w http.ResponseWriter, r *http.Request) {
	out := daemonStats{Engine: s.eng.Stats()}
	if s.hub != nil {
		out.FeedbackClients = s.hub.ClientCount()
	}
	if s.mixer != nil {
		ms := s.mixer.Stats()
		out.Mixer = &ms
	}
	if s.mqtt != nil {
		qs := s.mqtt.Stats()
		out.MQTT = &qs
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// runHTTPServer serves handler on port and shuts it down gracefully when ctx
// is canceled.
func runHTTPServer(ctx context.Context, port int, handler http.Handler, logger *slog.Logger) error {
	listenAddr := fmt.Sprintf(":%d", port)
	logger.Info("http server listening", "port", port)

	srv := &http.Server{
		Addr:    listenAddr,
		Handler: handler,
	}

	errCh := make(chan error, 1)

	go func() {
		// ErrServerClosed means Shutdown was called.
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown: %w", err)
		}
		<-errCh
		return nil

	case err := <-errCh:
		return err
	}
}
