package position

import "github.com/quantleap/simtrader/internal/market"

// CheckExits evaluates a fresh snapshot against the symbol's open position
// and reports the first trigger that fires. Trigger precedence is
// stop loss, then take profit, then the parsed exit condition; a position
// that is already losing has its stop honored before any profit target.
func (m *Manager) CheckExits(snap market.Snapshot) (ExitSignal, bool) {
	m.mu.RLock()
	p, ok := m.open[snap.Symbol]
	m.mu.RUnlock()
	if !ok {
		return ExitSignal{}, false
	}

	price := snap.Price
	switch p.Side {
	case Long:
		if p.StopLoss > 0 && price <= p.StopLoss {
			return ExitSignal{Symbol: p.Symbol, Reason: ReasonStopLoss, Price: price}, true
		}
		if p.TakeProfit > 0 && price >= p.TakeProfit {
			return ExitSignal{Symbol: p.Symbol, Reason: ReasonTakeProfit, Price: price}, true
		}
		if p.ExitLevel > 0 && price <= p.ExitLevel {
			return ExitSignal{Symbol: p.Symbol, Reason: ReasonExitCondition, Price: price}, true
		}
	case Short:
		if p.StopLoss > 0 && price >= p.StopLoss {
			return ExitSignal{Symbol: p.Symbol, Reason: ReasonStopLoss, Price: price}, true
		}
		if p.TakeProfit > 0 && price <= p.TakeProfit {
			return ExitSignal{Symbol: p.Symbol, Reason: ReasonTakeProfit, Price: price}, true
		}
		if p.ExitLevel > 0 && price >= p.ExitLevel {
			return ExitSignal{Symbol: p.Symbol, Reason: ReasonExitCondition, Price: price}, true
		}
	}
	return ExitSignal{}, false
}
