// Package risk gates oracle decisions before they touch the position book.
// The validator is pure: same inputs, same verdict.
package risk

import (
	"fmt"

	"github.com/quantleap/simtrader/internal/observ"
	"github.com/quantleap/simtrader/internal/oracle"
	"github.com/quantleap/simtrader/internal/position"
)

type Limits struct {
	MaxLeverage        float64
	MaxPositionSize    float64 // fraction of equity per position
	DefaultStopLossPct float64
}

type Kind string

const (
	VerdictHold   Kind = "hold"
	VerdictOpen   Kind = "open"
	VerdictClose  Kind = "close"
	VerdictReject Kind = "reject"
)

// Verdict is the validator's ruling on a single decision. Open carries the
// fully sized command; Reject carries the reason.
type Verdict struct {
	Kind   Kind
	Open   *position.OpenCommand
	Reason string
}

type Validator struct {
	limits Limits
}

func NewValidator(limits Limits) *Validator {
	return &Validator{limits: limits}
}

// Validate rules on one decision given the current mark price, the open
// position for the symbol (if any), and account state. Leverage above the
// cap is clamped, not rejected; out-of-range confidence is rejected.
func (v *Validator) Validate(dec oracle.Decision, price float64, existing *position.Position, equity, cash float64) Verdict {
	if dec.Action == oracle.ActionHold {
		return Verdict{Kind: VerdictHold}
	}

	if dec.Confidence < 0 || dec.Confidence > 1 {
		return v.reject(dec, fmt.Sprintf("confidence out of range: %v", dec.Confidence))
	}
	if dec.Leverage <= 0 {
		return v.reject(dec, fmt.Sprintf("non-positive leverage: %v", dec.Leverage))
	}
	if dec.Symbol == "" {
		return v.reject(dec, "trade decision without symbol")
	}
	if price <= 0 {
		return v.reject(dec, fmt.Sprintf("no usable price for %s", dec.Symbol))
	}

	side := position.Long
	if dec.Action == oracle.ActionSell {
		side = position.Short
	}

	// An opposite-side decision against an open position is a close, not a
	// new position.
	if existing != nil {
		if existing.Side == side {
			return v.reject(dec, fmt.Sprintf("position already open for %s", dec.Symbol))
		}
		return Verdict{Kind: VerdictClose}
	}

	leverage := dec.Leverage
	if leverage < 1 {
		leverage = 1
	}
	if leverage > v.limits.MaxLeverage {
		observ.Log("leverage_clamped", map[string]any{
			"symbol":    dec.Symbol,
			"requested": dec.Leverage,
			"applied":   v.limits.MaxLeverage,
		})
		leverage = v.limits.MaxLeverage
	}

	notional := v.limits.MaxPositionSize * equity
	if notional <= 0 {
		return v.reject(dec, fmt.Sprintf("no equity available to size %s", dec.Symbol))
	}
	margin := notional / leverage
	if margin > cash {
		return v.reject(dec, fmt.Sprintf("insufficient cash for %s: need %.2f have %.2f", dec.Symbol, margin, cash))
	}

	stop := dec.StopLoss
	if !stopValid(side, stop, price) {
		if stop != 0 {
			observ.Log("stop_loss_discarded", map[string]any{
				"symbol": dec.Symbol,
				"stop":   stop,
				"price":  price,
			})
		}
		stop = synthesizeStop(side, price, v.limits.DefaultStopLossPct)
	}

	take := dec.TakeProfit
	if !takeValid(side, take, price) {
		take = 0
	}

	return Verdict{
		Kind: VerdictOpen,
		Open: &position.OpenCommand{
			Symbol:        dec.Symbol,
			Side:          side,
			EntryPrice:    price,
			Notional:      notional,
			Leverage:      leverage,
			StopLoss:      stop,
			TakeProfit:    take,
			ExitCondition: dec.ExitCondition,
			Confidence:    dec.Confidence,
			Reasoning:     dec.Reasoning,
		},
	}
}

func (v *Validator) reject(dec oracle.Decision, reason string) Verdict {
	observ.IncCounter("risk_rejections_total", map[string]string{"symbol": dec.Symbol})
	observ.Log("decision_rejected", map[string]any{
		"symbol": dec.Symbol,
		"action": string(dec.Action),
		"reason": reason,
	})
	return Verdict{Kind: VerdictReject, Reason: reason}
}

// stopValid requires the stop on the losing side of entry.
func stopValid(side position.Side, stop, entry float64) bool {
	if stop <= 0 {
		return false
	}
	if side == position.Long {
		return stop < entry
	}
	return stop > entry
}

func takeValid(side position.Side, take, entry float64) bool {
	if take <= 0 {
		return false
	}
	if side == position.Long {
		return take > entry
	}
	return take < entry
}

func synthesizeStop(side position.Side, entry, pct float64) float64 {
	if side == position.Long {
		return entry * (1 - pct)
	}
	return entry * (1 + pct)
}
