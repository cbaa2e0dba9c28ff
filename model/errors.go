package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNoProvider is returned when no provider matches a selector.
var ErrNoProvider = errors.New("no provider matches selector")

var errEmptyStream = errors.New("model stream ended without a response")

// ErrorKind tells the gateway whether a failure is worth retrying.
type ErrorKind string

const (
	// Transient failures (rate limits, timeouts, 5xx) are retried.
	Transient ErrorKind = "transient"
	// Permanent failures (bad request, auth, unknown model) fail fast.
	Permanent ErrorKind = "permanent"
)

// ProviderError is the normalized failure surfaced by the model gateway.
type ProviderError struct {
	Kind       ErrorKind
	Provider   string
	StatusCode int
	Cause      error
}

// NewProviderError wraps cause.
func NewProviderError(provider string, kind ErrorKind, cause error) *ProviderError {
	return &ProviderError{Kind: kind, Provider: provider, Cause: cause}
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	b.WriteString("provider")
	if e.Provider != "" {
		b.WriteString(" " + e.Provider)
	}
	fmt.Fprintf(&b, " %s error", e.Kind)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status=%d)", e.StatusCode)
	}
	if e.Cause != nil {
		b.WriteString(": " + e.Cause.Error())
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// Transient reports whether the failure may succeed on retry.
func (e *ProviderError) Transient() bool { return e.Kind == Transient }

// KindForStatus maps an HTTP status code to an error kind. Unknown statuses
// are treated as transient.
func KindForStatus(status int) ErrorKind {
	switch status {
	case 400, 401, 403, 404, 413, 422:
		return Permanent
	case 408, 409, 429, 500, 502, 503, 504:
		return Transient
	default:
		return Transient
	}
}

// FromStatus classifies a provider failure carrying an HTTP status.
func FromStatus(provider string, status int, cause error) *ProviderError {
	e := NewProviderError(provider, KindForStatus(status), cause)
	e.StatusCode = status
	return e
}

// Classify normalizes err into a ProviderError. Errors already classified are
// returned unchanged. Cancellation is permanent; anything else without a
// status is assumed transient.
func Classify(provider string, err error) *ProviderError {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	if errors.Is(err, context.Canceled) {
		return NewProviderError(provider, Permanent, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewProviderError(provider, Transient, err)
	}
	return NewProviderError(provider, Transient, err)
}

// IsTransient reports whether err is a transient ProviderError.
func IsTransient(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Transient()
}
