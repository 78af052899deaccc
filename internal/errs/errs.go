// Package errs defines the error taxonomy shared by every component of the
// indexing service: a single envelope type carrying a stable kind, a
// human-readable message, and redacted metadata.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for retry and logging decisions.
type Kind string

const (
	KindInvalidInput    Kind = "invalid_input"
	KindNotFound        Kind = "not_found"
	KindCancelled       Kind = "cancelled"
	KindTimeout         Kind = "timeout"
	KindUnavailable     Kind = "unavailable"
	KindRateLimited     Kind = "rate_limited"
	KindInvalidResponse Kind = "invalid_response"
	KindInvariant       Kind = "invariant"
	KindIO              Kind = "io"
)

// Retriable reports whether an error of this kind is generally worth
// retrying. KindIO is conditional in principle (ENOSPC is not retriable,
// transient I/O errors are) so callers that can tell the two apart should
// override this with their own judgment rather than trust the default.
func (k Kind) Retriable() bool {
	switch k {
	case KindTimeout, KindUnavailable, KindRateLimited, KindIO:
		return true
	default:
		return false
	}
}

// redactedKeys lists metadata keys whose values are replaced with a length
// marker instead of being logged or returned verbatim.
var redactedKeys = map[string]bool{
	"api_key":      true,
	"apikey":       true,
	"authorization": true,
	"password":     true,
	"token":        true,
	"dsn":          true,
}

// Envelope is the error type every exported operation in this service
// returns. It wraps an underlying cause (if any) so errors.Is/As still work
// across package boundaries.
type Envelope struct {
	Code     string
	Message  string
	Kind     Kind
	Metadata map[string]string
	cause    error
}

func (e *Envelope) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Message
}

func (e *Envelope) Unwrap() error { return e.cause }

// Is lets errors.Is(err, errs.Kind(...)) style comparisons work by kind when
// callers compare against a sentinel built with New(kind, "", "").
func (e *Envelope) Is(target error) bool {
	other, ok := target.(*Envelope)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

// New builds an Envelope with metadata redaction applied.
func New(kind Kind, code, message string) *Envelope {
	return &Envelope{Code: code, Message: message, Kind: kind, Metadata: map[string]string{}}
}

// Wrap builds an Envelope around an existing error, preserving it for
// errors.Unwrap/errors.Is/errors.As.
func Wrap(kind Kind, code, message string, cause error) *Envelope {
	e := New(kind, code, message)
	e.cause = cause
	return e
}

// WithMetadata attaches a key/value pair, redacting the value if the key is
// known-sensitive. Returns the envelope for chaining.
func (e *Envelope) WithMetadata(key, value string) *Envelope {
	if e.Metadata == nil {
		e.Metadata = map[string]string{}
	}
	if redactedKeys[lower(key)] {
		e.Metadata[key] = fmt.Sprintf("[REDACTED:%d]", len(value))
	} else {
		e.Metadata[key] = value
	}
	return e
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// Retriable reports whether this specific error is worth retrying.
func (e *Envelope) Retriable() bool { return e.Kind.Retriable() }

// Cancelled builds the standard cancellation error for a named operation.
func Cancelled(operation string) *Envelope {
	return New(KindCancelled, "core.cancelled", "operation cancelled").WithMetadata("operation", operation)
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Envelope, otherwise returns "".
func KindOf(err error) Kind {
	var env *Envelope
	if errors.As(err, &env) {
		return env.Kind
	}
	return ""
}

// IsCancelled reports whether err is a cancellation envelope.
func IsCancelled(err error) bool {
	return KindOf(err) == KindCancelled
}
