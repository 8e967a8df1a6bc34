package position

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/quantleap/simtrader/internal/observ"
)

// Manager owns the open-position book. At most one open position per
// symbol; closing an absent symbol is a logged no-op.
type Manager struct {
	mu   sync.RWMutex
	open map[string]*Position
}

func NewManager() *Manager {
	return &Manager{open: make(map[string]*Position)}
}

// Restore seeds the book from persisted state on startup.
func (m *Manager) Restore(positions []Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range positions {
		p := positions[i]
		if p.Status != StatusOpen {
			continue
		}
		m.open[p.Symbol] = &p
	}
}

func (m *Manager) Open(cmd OpenCommand, now time.Time) (*Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.open[cmd.Symbol]; exists {
		return nil, fmt.Errorf("position already open for %s", cmd.Symbol)
	}
	if cmd.EntryPrice <= 0 {
		return nil, fmt.Errorf("invalid entry price %v for %s", cmd.EntryPrice, cmd.Symbol)
	}

	exitLevel, _ := ParseExitLevel(cmd.ExitCondition)
	p := &Position{
		ID:            newID(),
		Symbol:        cmd.Symbol,
		Side:          cmd.Side,
		Quantity:      cmd.Notional / cmd.EntryPrice,
		EntryPrice:    cmd.EntryPrice,
		Leverage:      cmd.Leverage,
		Notional:      cmd.Notional,
		Margin:        cmd.Notional / cmd.Leverage,
		Confidence:    cmd.Confidence,
		Reasoning:     cmd.Reasoning,
		StopLoss:      cmd.StopLoss,
		TakeProfit:    cmd.TakeProfit,
		ExitCondition: cmd.ExitCondition,
		ExitLevel:     exitLevel,
		Status:        StatusOpen,
		OpenedAt:      now,
	}
	m.open[cmd.Symbol] = p

	observ.Log("position_opened", map[string]any{
		"symbol":   p.Symbol,
		"side":     string(p.Side),
		"entry":    p.EntryPrice,
		"leverage": p.Leverage,
		"notional": p.Notional,
		"margin":   p.Margin,
		"stop":     p.StopLoss,
	})
	if cmd.ExitCondition != "" && exitLevel == 0 {
		// Advisory only: the text carried no parseable price level.
		observ.Log("exit_condition_advisory", map[string]any{
			"symbol": p.Symbol,
			"text":   cmd.ExitCondition,
		})
	}
	return p, nil
}

// Close transitions the symbol's position to CLOSED and returns the trade
// record. If no position is open the second return is false.
func (m *Manager) Close(symbol string, price float64, reason CloseReason, now time.Time) (*Trade, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.open[symbol]
	if !ok {
		observ.Log("close_noop", map[string]any{"symbol": symbol, "reason": string(reason)})
		return nil, false
	}
	delete(m.open, symbol)

	p.Status = StatusClosed
	p.ClosedAt = now
	p.ExitPrice = price
	p.CloseReason = reason

	t := &Trade{
		ID:          newID(),
		PositionID:  p.ID,
		Symbol:      p.Symbol,
		Side:        p.Side,
		Quantity:    p.Quantity,
		EntryPrice:  p.EntryPrice,
		ExitPrice:   price,
		Leverage:    p.Leverage,
		Notional:    p.Notional,
		Margin:      p.Margin,
		RealizedPnL: p.UnrealizedPnL(price),
		ReturnFrac:  p.ReturnFraction(price),
		Reason:      reason,
		OpenedAt:    p.OpenedAt,
		ClosedAt:    now,
	}

	observ.Log("position_closed", map[string]any{
		"symbol": t.Symbol,
		"side":   string(t.Side),
		"exit":   t.ExitPrice,
		"pnl":    t.RealizedPnL,
		"reason": string(reason),
	})
	return t, true
}

// Get returns a copy of the open position for symbol, if any.
func (m *Manager) Get(symbol string) (Position, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.open[symbol]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// List returns copies of all open positions, ordered by symbol.
func (m *Manager) List() []Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Position, 0, len(m.open))
	for _, p := range m.open {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// TotalUnrealized sums unrealized PnL across the book at the given marks.
// Symbols with no mark contribute zero.
func (m *Manager) TotalUnrealized(marks map[string]float64) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var total float64
	for sym, p := range m.open {
		if price, ok := marks[sym]; ok && price > 0 {
			total += p.UnrealizedPnL(price)
		}
	}
	return total
}
