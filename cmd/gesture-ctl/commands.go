package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gesturemix/engine"
)

// request is the IPC request envelope (mirrors the daemon's IPCRequest).
type request struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// response is the daemon's reply.
type response struct {
	Status string          `json:"status"`
	Error  string          `json:"error,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

var errUsage = errors.New("usage")

func usageErr(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{errUsage}, args...)...)
}

func newRequest(typ string, data any) (request, error) {
	req := request{Type: typ}
	if data == nil {
		return req, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return request{}, fmt.Errorf("marshal %s: %w", typ, err)
	}
	req.Data = b
	return req, nil
}

func parseUnit(name, s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, usageErr("%s must be a number: %q", name, s)
	}
	if v < 0 || v > 1 {
		return 0, usageErr("%s must be in [0,1]: %v", name, v)
	}
	return v, nil
}

// gestureFrame builds a single-result frame. now stamps the detection.
func gestureFrame(args []string, now time.Time) (engine.Frame, error) {
	if len(args) < 3 {
		return engine.Frame{}, usageErr("gesture <type> <left|right|none> <value> [confidence]")
	}
	g, err := engine.ParseGestureType(args[0])
	if err != nil {
		return engine.Frame{}, err
	}
	hand, err := engine.ParseHand(args[1])
	if err != nil {
		return engine.Frame{}, err
	}
	value, err := parseUnit("value", args[2])
	if err != nil {
		return engine.Frame{}, err
	}
	confidence := 1.0
	if len(args) > 3 {
		if confidence, err = parseUnit("confidence", args[3]); err != nil {
			return engine.Frame{}, err
		}
	}
	return engine.Frame{Results: []engine.GestureDetectionResult{{
		GestureType: g,
		Hand:        hand,
		Confidence:  confidence,
		Value:       value,
		Position:    engine.Point{X: 0.5, Y: 0.5},
		Timestamp:   now,
	}}}, nil
}

// parseCommand turns one command line (already split into words) into an IPC request.
func parseCommand(args []string, now time.Time) (request, error) {
	if len(args) == 0 {
		return request{}, usageErr("missing command")
	}
	cmd, rest := strings.ToLower(args[0]), args[1:]

	switch cmd {
	case "gesture", "g":
		f, err := gestureFrame(rest, now)
		if err != nil {
			return request{}, err
		}
		return newRequest("gesture_frame", f)

	case "idle":
		return newRequest("gesture_frame", engine.Frame{Results: []engine.GestureDetectionResult{}})

	case "profile", "use":
		if len(rest) != 1 {
			return request{}, usageErr("profile <id>")
		}
		return newRequest("set_active_profile", map[string]string{"id": rest[0]})

	case "profiles":
		return newRequest("get_profiles", nil)

	case "sensitivity", "deadzone":
		if len(rest) != 2 {
			return request{}, usageErr("%s <mapping-id> <value>", cmd)
		}
		v, err := strconv.ParseFloat(rest[1], 64)
		if err != nil {
			return request{}, usageErr("value must be a number: %q", rest[1])
		}
		return newRequest("set_"+cmd, map[string]any{"mapping_id": rest[0], "value": v})

	case "mode":
		if len(rest) != 1 {
			return request{}, usageErr("mode <gesture|monitor|off>")
		}
		mode, err := engine.ParseControlMode(rest[0])
		if err != nil {
			return request{}, err
		}
		return newRequest("set_control_mode", map[string]string{"mode": string(mode)})

	case "latency":
		return newRequest("get_latency", nil)

	case "stats":
		return newRequest("get_stats", nil)
	}

	return request{}, usageErr("unknown command: %s", args[0])
}
