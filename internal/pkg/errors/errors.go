// Package errors provides the storage engine's typed error taxonomy
// (spec §6, §7). There is no HTTP surface in the core, so errors carry
// no status code — just the fields a caller needs to decide whether to
// retry, surface, or escalate.
//
// Import Path: eventcore.dev/eventcore/internal/pkg/errors
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for errors.Is matching across the typed error structs below.
var (
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	ErrStreamClosed        = errors.New("stream closed")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrBackend             = errors.New("backend failure")
)

// ConcurrencyConflict is returned when an append's expected_version does
// not match the stream's actual last_version (spec §4.1, §7).
type ConcurrencyConflict struct {
	StreamID string
	Expected int64
	Actual   int64
}

func (e *ConcurrencyConflict) Error() string {
	return fmt.Sprintf("concurrency conflict on stream %q: expected version %d, actual %d",
		e.StreamID, e.Expected, e.Actual)
}

// Unwrap lets errors.Is(err, ErrConcurrencyConflict) match.
func (e *ConcurrencyConflict) Unwrap() error { return ErrConcurrencyConflict }

// StreamClosed is returned when an append targets a stream whose header
// is marked is_deleted (spec §4.1).
type StreamClosed struct {
	Domain   string
	StreamID string
}

func (e *StreamClosed) Error() string {
	return fmt.Sprintf("stream %s/%s is closed", e.Domain, e.StreamID)
}

// Unwrap lets errors.Is(err, ErrStreamClosed) match.
func (e *StreamClosed) Unwrap() error { return ErrStreamClosed }

// InvalidArgument is returned synchronously for bad caller input, with
// no side effect performed (spec §7).
type InvalidArgument struct {
	Parameter string
	Reason    string
}

func (e *InvalidArgument) Error() string {
	return fmt.Sprintf("invalid argument %q: %s", e.Parameter, e.Reason)
}

// Unwrap lets errors.Is(err, ErrInvalidArgument) match.
func (e *InvalidArgument) Unwrap() error { return ErrInvalidArgument }

// Backend wraps an unrecoverable I/O or storage failure (spec §6, §7).
type Backend struct {
	Cause error
}

func (e *Backend) Error() string {
	return fmt.Sprintf("backend failure: %v", e.Cause)
}

// Unwrap exposes both the sentinel and the underlying cause to errors.Is/As.
func (e *Backend) Unwrap() []error { return []error{ErrBackend, e.Cause} }

// NewInvalidArgument is a convenience constructor used throughout the
// validation boundary of each public operation.
func NewInvalidArgument(parameter, reason string) *InvalidArgument {
	return &InvalidArgument{Parameter: parameter, Reason: reason}
}

// NewConcurrencyConflict is a convenience constructor for the append path.
func NewConcurrencyConflict(streamID string, expected, actual int64) *ConcurrencyConflict {
	return &ConcurrencyConflict{StreamID: streamID, Expected: expected, Actual: actual}
}

// NewStreamClosed is a convenience constructor for the append path.
func NewStreamClosed(domain, streamID string) *StreamClosed {
	return &StreamClosed{Domain: domain, StreamID: streamID}
}

// NewBackend wraps cause as a Backend failure, unless it already is one.
func NewBackend(cause error) *Backend {
	var b *Backend
	if errors.As(cause, &b) {
		return b
	}
	return &Backend{Cause: cause}
}
