package job

import (
	"errors"
	"fmt"
	"sync"
)

// Budget caps how many units of external work (generator calls) a job may
// spend. A limit of zero or less means unlimited.
//
// Thread-safety: safe for concurrent use; link repair spends from several
// goroutines at once.
type Budget struct {
	mu    sync.Mutex
	name  string
	limit int
	used  int
}

// NewBudget creates a budget named after the job it bounds.
func NewBudget(name string, limit int) *Budget {
	return &Budget{name: name, limit: limit}
}

// Spend consumes one unit, returning *BudgetExceededError once the limit is
// reached. A refused unit is not counted.
func (b *Budget) Spend() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.limit > 0 && b.used >= b.limit {
		return &BudgetExceededError{Job: b.name, Limit: b.limit}
	}
	b.used++
	return nil
}

// Used returns the units spent so far.
func (b *Budget) Used() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used
}

// Limit returns the configured limit.
func (b *Budget) Limit() int { return b.limit }

// BudgetExceededError is returned by Spend when the budget is exhausted.
type BudgetExceededError struct {
	Job   string
	Limit int
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("job %s exhausted its budget of %d generator calls", e.Job, e.Limit)
}

// IsBudgetExceeded reports whether err is or wraps a BudgetExceededError.
func IsBudgetExceeded(err error) bool {
	var be *BudgetExceededError
	return errors.As(err, &be)
}
