// Package avesaerr defines the closed set of error kinds shared across the
// pipeline (spec §7) plus a typed wrapper that carries the operation and
// kind alongside the underlying cause.
package avesaerr

import (
	"errors"
	"fmt"
)

// Sentinel errors for the closed kind set. Use errors.Is against these, or
// errors.As against *Error to recover Kind/Op.
var (
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflict")
	ErrAlreadyTerminal = errors.New("chunk already terminal")
	ErrAuthFailure    = errors.New("authentication failure")
	ErrRateLimited    = errors.New("rate limited")
	ErrTransient      = errors.New("transient error")
	ErrUnknownService = errors.New("unknown service")
	ErrMappingError   = errors.New("mapping error")
	ErrRecordReject   = errors.New("record rejected")
	ErrCancelled      = errors.New("cancelled")
	ErrTimeout        = errors.New("timeout")
	ErrFatal          = errors.New("fatal error")
)

// Kind classifies an Error by the closed set in spec.md §7.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindConflict
	KindAlreadyTerminal
	KindAuthFailure
	KindRateLimited
	KindTransient
	KindUnknownService
	KindMappingError
	KindRecordReject
	KindCancelled
	KindTimeout
	KindFatal
)

var kindSentinel = map[Kind]error{
	KindNotFound:        ErrNotFound,
	KindConflict:        ErrConflict,
	KindAlreadyTerminal: ErrAlreadyTerminal,
	KindAuthFailure:     ErrAuthFailure,
	KindRateLimited:     ErrRateLimited,
	KindTransient:       ErrTransient,
	KindUnknownService:  ErrUnknownService,
	KindMappingError:    ErrMappingError,
	KindRecordReject:    ErrRecordReject,
	KindCancelled:       ErrCancelled,
	KindTimeout:         ErrTimeout,
	KindFatal:           ErrFatal,
}

func (k Kind) String() string {
	if err, ok := kindSentinel[k]; ok {
		return err.Error()
	}
	return "unknown"
}

// Error is the typed wrapper for pipeline errors: which operation failed,
// what kind of failure it was, and the underlying cause (if any).
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error {
	if sentinel, ok := kindSentinel[e.Kind]; ok {
		if e.Err != nil {
			return errors.Join(sentinel, e.Err)
		}
		return sentinel
	}
	return e.Err
}

// New constructs an *Error for op/kind, optionally wrapping cause.
func New(op string, kind Kind, cause error) *Error {
	return &Error{Op: op, Kind: kind, Err: cause}
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return errors.Is(err, kindSentinel[kind])
}

// Retryable reports whether a chunk-local retry is appropriate for kind,
// per spec.md §4.4/§7: Transient and RateLimited are retried in place.
func Retryable(kind Kind) bool {
	return kind == KindTransient || kind == KindRateLimited
}
