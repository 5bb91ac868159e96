package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"

	"gesturemix/engine"
)

// ============================================================================
// IPC Server - Unix Domain Socket Interface
// ============================================================================
// Classifier bridges push gesture frames here; gesture-ctl sends commands.
//
// Protocol: Line-delimited JSON
//   - Client sends: {"type": "command_name", "data": {...}}
//   - Server responds: {"status": "ok", "data": ...} or {"status": "error", "error": "msg"}
//
// Commands:
//   gesture_frame        data: engine.Frame (JSON)
//   set_active_profile   data: {"id": "..."}
//   set_sensitivity      data: {"mapping_id": "...", "value": 1.5}
//   set_deadzone         data: {"mapping_id": "...", "value": 0.1}
//   set_control_mode     data: {"mode": "gesture|monitor|off"}
//   get_latency          -> {"latency_ms": 12.5}
//   get_stats            -> engine.Stats
//   get_profiles         -> {"active": "...", "profiles": [...]}
// ============================================================================

// IPCRequest is the request envelope.
type IPCRequest struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// IPCResponse represents the response sent back to IPC clients
type IPCResponse struct {
	Status string `json:"status"`          // "ok" or "error"
	Error  string `json:"error,omitempty"` // error message if status == "error"
	Data   any    `json:"data,omitempty"`
}

type setActiveProfileData struct {
	ID string `json:"id"`
}

type tuneMappingData struct {
	MappingID string  `json:"mapping_id"`
	Value     float64 `json:"value"`
}

type setControlModeData struct {
	Mode string `json:"mode"`
}

type latencyData struct {
	LatencyMs float64 `json:"latency_ms"`
}

type profilesData struct {
	Active   string                  `json:"active"`
	Mode     engine.ControlMode      `json:"mode"`
	Profiles []engine.MappingProfile `json:"profiles"`
}

// ipcEngine is the engine surface reachable over IPC.
type ipcEngine interface {
	Submit(f engine.Frame) error
	SetActiveProfile(id string) error
	ActiveProfile() (engine.MappingProfile, bool)
	Profiles() []engine.MappingProfile
	SetSensitivity(mappingID string, v float64) error
	SetDeadzone(mappingID string, v float64) error
	SetControlMode(mode engine.ControlMode) error
	Mode() engine.ControlMode
	GetLatency() float64
	Stats() engine.Stats
}

// ipcHandler dispatches decoded requests onto the engine.
type ipcHandler struct {
	eng    ipcEngine
	logger *slog.Logger
}

func decodeData(req IPCRequest, v any) error {
	if len(req.Data) == 0 {
		return fmt.Errorf("%s: missing data", req.Type)
	}
	if err := json.Unmarshal(req.Data, v); err != nil {
		return fmt.Errorf("%s: %w", req.Type, err)
	}
	return nil
}

// handle executes one request line and returns the response to send.
func (h *ipcHandler) handle(line []byte) IPCResponse {
	var req IPCRequest
	if err := json.Unmarshal(line, &req); err != nil {
		return errorResponse(fmt.Errorf("parse request: %w", err))
	}

	data, err := h.dispatch(req)
	if err != nil {
		return errorResponse(err)
	}
	return IPCResponse{Status: "ok", Data: data}
}

func (h *ipcHandler) dispatch(req IPCRequest) (any, error) {
	switch req.Type {
	case "gesture_frame":
		if len(req.Data) == 0 {
			return nil, errors.New("gesture_frame: missing data")
		}
		f, err := engine.DecodeFrame(engine.EncodingJSON, req.Data)
		if err != nil {
			return nil, err
		}
		return nil, h.eng.Submit(f)

	case "set_active_profile":
		var d setActiveProfileData
		if err := decodeData(req, &d); err != nil {
			return nil, err
		}
		return nil, h.eng.SetActiveProfile(d.ID)

	case "set_sensitivity":
		var d tuneMappingData
		if err := decodeData(req, &d); err != nil {
			return nil, err
		}
		return nil, h.eng.SetSensitivity(d.MappingID, d.Value)

	case "set_deadzone":
		var d tuneMappingData
		if err := decodeData(req, &d); err != nil {
			return nil, err
		}
		return nil, h.eng.SetDeadzone(d.MappingID, d.Value)

	case "set_control_mode":
		var d setControlModeData
		if err := decodeData(req, &d); err != nil {
			return nil, err
		}
		mode, err := engine.ParseControlMode(d.Mode)
		if err != nil {
			return nil, err
		}
		return nil, h.eng.SetControlMode(mode)

	case "get_latency":
		return latencyData{LatencyMs: h.eng.GetLatency()}, nil

	case "get_stats":
		return h.eng.Stats(), nil

	case "get_profiles":
		out := profilesData{Mode: h.eng.Mode(), Profiles: h.eng.Profiles()}
		if p, ok := h.eng.ActiveProfile(); ok {
			out.Active = p.ID
		}
		return out, nil

	case "":
		return nil, errors.New("missing request type")

	default:
		return nil, fmt.Errorf("unknown request type: %s", req.Type)
	}
}

func errorResponse(err error) IPCResponse {
	return IPCResponse{Status: "error", Error: err.Error()}
}

// runIPCServer starts the Unix domain socket server.
// It runs until ctx is canceled, then closes the listener and exits.
func runIPCServer(ctx context.Context, socketPath string, eng ipcEngine, logger *slog.Logger) error {
	if err := os.RemoveAll(socketPath); err != nil {
		return fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	defer listener.Close()
	defer os.Remove(socketPath)

	if err := os.Chmod(socketPath, 0660); err != nil {
		return fmt.Errorf("chmod socket: %w", err)
	}

	logger.Info("IPC listening", "socket", socketPath)

	h := &ipcHandler{eng: eng, logger: logger}

	// Closing the listener unblocks Accept.
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				logger.Debug("IPC listener closed (shutdown)")
				return nil
			}
			if errors.Is(err, net.ErrClosed) || strings.Contains(err.Error(), "use of closed network connection") {
				logger.Debug("IPC listener closed")
				return nil
			}

			logger.Error("IPC accept error", "error", err)
			continue
		}

		go h.serveConn(conn)
	}
}

// serveConn handles a single IPC connection.
func (h *ipcHandler) serveConn(conn net.Conn) {
	defer conn.Close()

	logger := h.logger.With(peerAttrs(conn)...)
	logger.Debug("IPC connection")

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), ipcMaxLineBytes)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}

		resp := h.handle(line)
		if resp.Status != "ok" {
			logger.Debug("IPC request failed", "error", resp.Error)
		}
		if err := encoder.Encode(resp); err != nil {
			logger.Error("IPC failed to send response", "error", err)
			return
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Warn("IPC read error", "error", err)
	}

	logger.Debug("IPC connection closed")
}
