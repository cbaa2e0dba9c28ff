package retrieval

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable marks a store failure as transient. Stores wrap it with
	// %w when the backend is temporarily unreachable.
	ErrUnavailable = errors.New("store unavailable")
	// ErrNoStore is returned when a selector matches no registered store.
	ErrNoStore = errors.New("no store matches selector")
)

// RetrievalError is the normalized failure surfaced by the gateway. Failures
// are permanent unless the store signalled ErrUnavailable.
type RetrievalError struct {
	Store     string
	Transient bool
	Cause     error
}

func (e *RetrievalError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	if e.Store == "" {
		return fmt.Sprintf("retrieval %s error: %v", kind, e.Cause)
	}
	return fmt.Sprintf("retrieval store %s %s error: %v", e.Store, kind, e.Cause)
}

func (e *RetrievalError) Unwrap() error { return e.Cause }

func classify(store string, err error) *RetrievalError {
	var re *RetrievalError
	if errors.As(err, &re) {
		c := *re
		if c.Store == "" {
			c.Store = store
		}
		return &c
	}
	return &RetrievalError{Store: store, Transient: errors.Is(err, ErrUnavailable), Cause: err}
}
