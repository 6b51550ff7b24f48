// Package reward tracks each user's bounded in-app currency balance.
package reward

import (
	"errors"
	"sync"
)

var ErrNegativeDelta = errors.New("reward delta must not be negative")

// Ledger is a per-user grant-only counter capped at a configured maximum.
// Balances are clamped, never rejected: hitting the cap is defined behavior,
// not an error.
type Ledger struct {
	max int

	mu       sync.Mutex
	balances map[string]int
}

func NewLedger(max int) *Ledger {
	return &Ledger{
		max:      max,
		balances: make(map[string]int),
	}
}

// Get returns the current balance, zero for unknown users.
func (l *Ledger) Get(userID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[userID]
}

// Add grants delta to userID and returns the new balance, clamped at the
// ledger maximum. The read-modify-write happens under the ledger lock, so
// concurrent grants never lose an update and never observe a balance above
// the cap. Negative deltas are rejected: this system only grants.
func (l *Ledger) Add(userID string, delta int) (int, error) {
	if delta < 0 {
		return 0, ErrNegativeDelta
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	balance := l.balances[userID] + delta
	if balance > l.max {
		balance = l.max
	}
	l.balances[userID] = balance
	return balance, nil
}

// Max returns the configured balance cap.
func (l *Ledger) Max() int {
	return l.max
}
