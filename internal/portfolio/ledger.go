// Package portfolio tracks simulated cash and performance.
package portfolio

import (
	"sync"
	"time"
)

// Snapshot is the account state at the end of a cycle.
// Equity = Cash + ReservedMargin + UnrealizedPnL always holds, so a reader
// can reconcile it from the persisted fields alone.
type Snapshot struct {
	Timestamp      time.Time `json:"timestamp"`
	Cash           float64   `json:"cash"`
	ReservedMargin float64   `json:"reserved_margin"`
	UnrealizedPnL  float64   `json:"unrealized_pnl"`
	RealizedPnL    float64   `json:"realized_pnl"`
	Equity         float64   `json:"equity"`
	ROIPct         float64   `json:"roi_pct"`
}

// Ledger holds the cash account. Opening a position reserves its margin;
// closing returns margin plus realized PnL. Equity is cash plus the book's
// unrealized PnL, so hold-only cycles leave it exactly at the initial
// balance.
type Ledger struct {
	mu       sync.RWMutex
	initial  float64
	cash     float64
	realized float64
}

func NewLedger(initialBalance float64) *Ledger {
	return &Ledger{initial: initialBalance, cash: initialBalance}
}

// Restore rebuilds the ledger from a persisted snapshot.
func (l *Ledger) Restore(cash, realized float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cash = cash
	l.realized = realized
}

// ReserveMargin deducts margin for a new position. Returns false if the
// cash account cannot cover it; the ledger is unchanged in that case.
func (l *Ledger) ReserveMargin(margin float64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if margin <= 0 || margin > l.cash {
		return false
	}
	l.cash -= margin
	return true
}

// ReleaseMargin returns a closed position's margin plus its realized PnL
// to cash. A leveraged loss can exceed the margin; cash is floored at zero
// the way a liquidated account would be.
func (l *Ledger) ReleaseMargin(margin, realizedPnL float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cash += margin + realizedPnL
	if l.cash < 0 {
		l.cash = 0
	}
	l.realized += realizedPnL
}

func (l *Ledger) Cash() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cash
}

func (l *Ledger) RealizedPnL() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.realized
}

func (l *Ledger) InitialBalance() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.initial
}

// Equity marks the account to market: cash plus reserved margin plus
// unrealized PnL across open positions.
func (l *Ledger) Equity(reservedMargin, unrealized float64) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cash + reservedMargin + unrealized
}

// Snapshot captures the account at the given marks.
func (l *Ledger) Snapshot(reservedMargin, unrealized float64, now time.Time) Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	equity := l.cash + reservedMargin + unrealized
	roi := 0.0
	if l.initial > 0 {
		roi = (equity - l.initial) / l.initial * 100
	}
	return Snapshot{
		Timestamp:      now,
		Cash:           l.cash,
		ReservedMargin: reservedMargin,
		UnrealizedPnL:  unrealized,
		RealizedPnL:    l.realized,
		Equity:         equity,
		ROIPct:         roi,
	}
}
