package verifier

import "sync"

// Budget counts retries of one run.
type Budget struct {
	mu   sync.Mutex
	max  int
	used int
}

// NewBudget creates a budget of retries. Negative values mean zero.
func NewBudget(retries int) *Budget {
	if retries < 0 {
		retries = 0
	}
	return &Budget{max: retries}
}

// Take consumes one retry. It returns the retry number, or false once the
// budget is spent.
func (b *Budget) Take() (int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.used >= b.max {
		return b.used, false
	}
	b.used++
	return b.used, true
}

// Attempts is the number of plan executions so far, counting the first.
func (b *Budget) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used + 1
}

// Max returns the configured number of retries.
func (b *Budget) Max() int { return b.max }
