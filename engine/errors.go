package engine

import (
	"errors"
	"fmt"
	"time"
)

// Sentinels for errors.Is; every typed error below matches exactly one.
var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrSink       = errors.New("audio sink rejected call")
	ErrStaleInput = errors.New("stale gesture input")
)

// ValidationError reports a malformed profile, mapping, frame or setting.
type ValidationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s (%v): %s", e.Field, e.Value, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NotFoundError reports a reference to an unknown profile or mapping.
type NotFoundError struct {
	Kind string // "profile" or "mapping"
	ID   string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %q not found", e.Kind, e.ID) }

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// SinkError wraps a failure returned by the AudioParameterSink for one mapping.
type SinkError struct {
	MappingID string
	Key       ControlKey
	Err       error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("sink %s (mapping %q): %v", e.Key, e.MappingID, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }

func (e *SinkError) Is(target error) bool { return target == ErrSink }

// StaleInputWarning is non-fatal: no eligible gesture has driven the mapping
// for longer than the hold timeout and its value is decaying to neutral.
type StaleInputWarning struct {
	MappingID string
	Since     time.Duration
}

func (e *StaleInputWarning) Error() string {
	return fmt.Sprintf("mapping %q has had no gesture input for %s", e.MappingID, e.Since)
}

func (e *StaleInputWarning) Is(target error) bool { return target == ErrStaleInput }

// ErrUnknownStem is returned by sinks for a stem they do not carry.
var ErrUnknownStem = errors.New("unknown stem")
