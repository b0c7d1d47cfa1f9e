package ai

import (
	"errors"
	"fmt"
	"sync"
)

// ErrBudgetExceeded is returned when a run has used up its token budget.
var ErrBudgetExceeded = errors.New("token budget exceeded")

// BudgetChecker checks and records token usage against per-run budgets.
type BudgetChecker interface {
	// Check returns true if the run has budget remaining.
	Check(runID string) (bool, error)
	// Record records token usage for a run.
	Record(runID string, tokens int) error
	// Usage returns current usage for a run.
	Usage(runID string) (used int64, budget int64, err error)
}

// InMemoryBudget is an in-memory budget tracker. A run without a budget
// is unlimited.
type InMemoryBudget struct {
	mu      sync.RWMutex
	budgets map[string]int64 // run -> budget limit
	usage   map[string]int64 // run -> tokens used
}

// NewInMemoryBudget creates a new in-memory budget tracker.
func NewInMemoryBudget() *InMemoryBudget {
	return &InMemoryBudget{
		budgets: make(map[string]int64),
		usage:   make(map[string]int64),
	}
}

// SetBudget sets the token budget for a run. A non-positive budget removes it.
func (b *InMemoryBudget) SetBudget(runID string, tokens int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if tokens <= 0 {
		delete(b.budgets, runID)
		return
	}
	b.budgets[runID] = tokens
}

func (b *InMemoryBudget) Check(runID string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	budget, hasBudget := b.budgets[runID]
	if !hasBudget {
		return true, nil
	}
	return b.usage[runID] < budget, nil
}

func (b *InMemoryBudget) Record(runID string, tokens int) error {
	if tokens < 0 {
		return fmt.Errorf("tokens must be non-negative, got %d", tokens)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.usage[runID] += int64(tokens)
	return nil
}

func (b *InMemoryBudget) Usage(runID string) (int64, int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.usage[runID], b.budgets[runID], nil
}
