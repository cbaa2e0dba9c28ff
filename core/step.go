package core

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// StepStatus is the outcome of one node attempt.
type StepStatus string

const (
	// StepSuccess marks an attempt whose delta was merged.
	StepSuccess StepStatus = "success"
	// StepError marks the final failed attempt of a node.
	StepError StepStatus = "error"
	// StepRetry marks a failed attempt that will be retried.
	StepRetry StepStatus = "retry"
)

// StepRecord is one entry of the execution log.
type StepRecord struct {
	ID        string     `json:"id"`
	Step      int        `json:"step"`
	Node      string     `json:"node"`
	Input     string     `json:"input,omitempty"` // checkpoint id of the state the node read
	Output    Delta      `json:"output,omitempty"`
	Status    StepStatus `json:"status"`
	Error     string     `json:"error,omitempty"`
	Attempt   int        `json:"attempt"`
	Timestamp time.Time  `json:"timestamp"`
}

// NewStepRecord stamps a record with a fresh ULID and the current time.
func NewStepRecord(step int, node, input string, status StepStatus, attempt int) StepRecord {
	return StepRecord{
		ID:        ulid.Make().String(),
		Step:      step,
		Node:      node,
		Input:     input,
		Status:    status,
		Attempt:   attempt,
		Timestamp: time.Now().UTC(),
	}
}

// ExecutionLog is an append-only, concurrency safe list of StepRecords.
type ExecutionLog struct {
	mu      sync.Mutex
	records []StepRecord
}

// NewExecutionLog creates a log pre-seeded with records (e.g. on resume).
func NewExecutionLog(seed ...StepRecord) *ExecutionLog {
	l := &ExecutionLog{}
	l.records = append(l.records, seed...)
	return l
}

// Append adds records to the end of the log.
func (l *ExecutionLog) Append(records ...StepRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, records...)
}

// Records returns a read-only copy of the log.
func (l *ExecutionLog) Records() []StepRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]StepRecord, len(l.records))
	copy(out, l.records)
	return out
}

// Len returns the number of records.
func (l *ExecutionLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}
