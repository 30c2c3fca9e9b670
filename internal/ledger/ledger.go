// Package ledger tracks per-requester credit balances.
package ledger

import (
	"sync"

	"github.com/JakeFAU/album-credits-bot/internal/scraper"
)

// DefaultInitialBalance is granted to a requester on first admission.
const DefaultInitialBalance = 100

// Ledger is a mutex-guarded balance table. Balances live for the process
// lifetime only.
type Ledger struct {
	mu       sync.Mutex
	initial  int
	balances map[string]int
}

var _ scraper.Ledger = (*Ledger)(nil)

// New creates a Ledger. A non-positive initial balance falls back to the default.
func New(initial int) *Ledger {
	if initial <= 0 {
		initial = DefaultInitialBalance
	}
	return &Ledger{
		initial:  initial,
		balances: make(map[string]int),
	}
}

// Admit spends one credit for requester. It returns false, leaving the
// balance untouched, once the balance has reached zero.
func (l *Ledger) Admit(requester string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	balance, ok := l.balances[requester]
	if !ok {
		balance = l.initial
	}
	if balance <= 0 {
		l.balances[requester] = 0
		return false
	}
	l.balances[requester] = balance - 1
	return true
}

// Balance returns the current balance, or 0 for requesters never admitted.
func (l *Ledger) Balance(requester string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[requester]
}

// Set overrides a requester's balance; it backs the operator top-up route.
// Negative values are floored at zero.
func (l *Ledger) Set(requester string, balance int) {
	if balance < 0 {
		balance = 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[requester] = balance
}
