package core

import (
	"fmt"
	"sync"
)

// StepBudget enforces a maximum number of supersteps per execution.
type StepBudget struct {
	max  int
	used int
	mu   sync.Mutex
}

// NewStepBudget creates a budget of max supersteps of which used are already
// spent (non-zero when resuming). If max <= 0, unlimited supersteps are allowed.
func NewStepBudget(max, used int) *StepBudget {
	return &StepBudget{max: max, used: used}
}

// Consume spends one superstep and fails once the budget is exhausted.
func (b *StepBudget) Consume() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.max > 0 && b.used >= b.max {
		return fmt.Errorf("%w: limit %d", ErrStepBudgetExceeded, b.max)
	}
	b.used++

	return nil
}

// Used returns how many supersteps were spent.
func (b *StepBudget) Used() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.used
}

// Remaining returns how many supersteps are left, or -1 when unlimited.
func (b *StepBudget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.max <= 0 {
		return -1
	}

	return b.max - b.used
}
