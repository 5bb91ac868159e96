package engine

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// Encoding selects the wire format of a gesture frame.
type Encoding string

const (
	EncodingJSON    Encoding = "json"
	EncodingMsgpack Encoding = "msgpack"
)

// ParseEncoding validates an encoding name.
func ParseEncoding(s string) (Encoding, error) {
	switch Encoding(strings.ToLower(strings.TrimSpace(s))) {
	case EncodingJSON, "":
		return EncodingJSON, nil
	case EncodingMsgpack, "msgp":
		return EncodingMsgpack, nil
	}
	return "", &ValidationError{Field: "encoding", Value: s, Reason: "must be json or msgpack"}
}

// EncodeFrame serializes f.
func EncodeFrame(enc Encoding, f Frame) ([]byte, error) {
	switch enc {
	case EncodingMsgpack:
		return msgpack.Marshal(&f)
	case EncodingJSON, "":
		return json.Marshal(&f)
	}
	return nil, fmt.Errorf("encode frame: unsupported encoding %q", enc)
}

// DecodeFrame parses and validates a frame. Gesture and hand labels are
// normalized, so classifier spellings such as "Left" or "open-palm" are accepted.
func DecodeFrame(enc Encoding, data []byte) (Frame, error) {
	var f Frame
	var err error
	switch enc {
	case EncodingMsgpack:
		err = msgpack.Unmarshal(data, &f)
	case EncodingJSON, "":
		err = json.Unmarshal(data, &f)
	default:
		return Frame{}, fmt.Errorf("decode frame: unsupported encoding %q", enc)
	}
	if err != nil {
		return Frame{}, fmt.Errorf("decode frame (%s): %w", enc, err)
	}

	for i := range f.Results {
		r := &f.Results[i]
		if r.GestureType, err = ParseGestureType(string(r.GestureType)); err != nil {
			return Frame{}, fmt.Errorf("results[%d]: %w", i, err)
		}
		if r.Hand, err = ParseHand(string(r.Hand)); err != nil {
			return Frame{}, fmt.Errorf("results[%d]: %w", i, err)
		}
	}
	if err := f.Validate(); err != nil {
		return Frame{}, err
	}
	return f, nil
}
