// Package apperr defines the error taxonomy shared across the ingest
// pipeline: config/transport/decode/mapping/store errors that each
// carry their own recovery semantics at the component boundary that
// raises them.
package apperr

import (
	"errors"
	"fmt"
)

// Kind tags an error with the recovery behavior its component
// boundary applies to it.
type Kind string

const (
	KindConfig         Kind = "config"
	KindTransport      Kind = "transport"
	KindDecode         Kind = "decode"
	KindMapping        Kind = "mapping"
	KindStore          Kind = "store"
	KindAccelerator    Kind = "accelerator"
	KindRateLimited    Kind = "rate_limited"
	KindShutdown       Kind = "shutdown"
	KindStreamNotFound Kind = "stream_not_found"
	KindStreamExists   Kind = "stream_already_exists"
)

// Error wraps an underlying cause with a Kind so callers can recover
// with errors.As without string matching.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Sentinel causes used alongside Kind for programmatic dispatch
// without inspecting message text.
var (
	ErrUnknownInstrument   = errors.New("unknown instrument")
	ErrPrecisionLoss       = errors.New("precision loss")
	ErrBadDecimal          = errors.New("malformed decimal")
	ErrMissingTemplateKeys = errors.New("missing template keys")
	ErrNoShardForKey       = errors.New("no shard matches key")
	ErrStreamNotFound      = errors.New("stream not found")
	ErrStreamAlreadyExists = errors.New("stream already exists")
)
