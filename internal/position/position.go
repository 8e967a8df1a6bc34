// Package position holds the leveraged position state machine and the
// records that flow out of it.
package position

import (
	"time"

	"github.com/google/uuid"
)

type Side string

const (
	Long  Side = "LONG"
	Short Side = "SHORT"
)

// Sign maps the side onto PnL direction.
func (s Side) Sign() float64 {
	if s == Short {
		return -1
	}
	return 1
}

type Status string

const (
	StatusOpen   Status = "OPEN"
	StatusClosed Status = "CLOSED"
)

type CloseReason string

const (
	ReasonStopLoss      CloseReason = "stop_loss"
	ReasonTakeProfit    CloseReason = "take_profit"
	ReasonExitCondition CloseReason = "exit_condition"
	ReasonOracleClose   CloseReason = "oracle_close"
	ReasonManual        CloseReason = "manual"
)

// Position is one open (or just-closed) leveraged position. Quantity is in
// base-asset units of the unleveraged notional; Margin is the cash actually
// reserved (Notional / Leverage).
type Position struct {
	ID            string      `json:"id"`
	Symbol        string      `json:"symbol"`
	Side          Side        `json:"side"`
	Quantity      float64     `json:"quantity"`
	EntryPrice    float64     `json:"entry_price"`
	Leverage      float64     `json:"leverage"`
	Notional      float64     `json:"notional"`
	Margin        float64     `json:"margin"`
	Confidence    float64     `json:"confidence"`
	Reasoning     string      `json:"reasoning,omitempty"`
	StopLoss      float64     `json:"stop_loss,omitempty"`
	TakeProfit    float64     `json:"take_profit,omitempty"`
	ExitCondition string      `json:"exit_condition,omitempty"`
	ExitLevel     float64     `json:"exit_level,omitempty"`
	Status        Status      `json:"status"`
	OpenedAt      time.Time   `json:"opened_at"`
	ClosedAt      time.Time   `json:"closed_at,omitempty"`
	ExitPrice     float64     `json:"exit_price,omitempty"`
	CloseReason   CloseReason `json:"close_reason,omitempty"`
}

// UnrealizedPnL is the USD gain at the given mark price.
func (p *Position) UnrealizedPnL(price float64) float64 {
	return p.Side.Sign() * p.Quantity * p.Leverage * (price - p.EntryPrice)
}

// ReturnFraction is the leveraged return on the position's notional.
func (p *Position) ReturnFraction(price float64) float64 {
	return p.Side.Sign() * p.Leverage * (price - p.EntryPrice) / p.EntryPrice
}

// Trade is the immutable record cut when a position closes.
type Trade struct {
	ID          string      `json:"id"`
	PositionID  string      `json:"position_id"`
	Symbol      string      `json:"symbol"`
	Side        Side        `json:"side"`
	Quantity    float64     `json:"quantity"`
	EntryPrice  float64     `json:"entry_price"`
	ExitPrice   float64     `json:"exit_price"`
	Leverage    float64     `json:"leverage"`
	Notional    float64     `json:"notional"`
	Margin      float64     `json:"margin"`
	RealizedPnL float64     `json:"realized_pnl"`
	ReturnFrac  float64     `json:"return_frac"`
	Reason      CloseReason `json:"reason"`
	OpenedAt    time.Time   `json:"opened_at"`
	ClosedAt    time.Time   `json:"closed_at"`
}

// OpenCommand is a fully validated instruction to open a position.
type OpenCommand struct {
	Symbol        string
	Side          Side
	EntryPrice    float64
	Notional      float64
	Leverage      float64
	StopLoss      float64
	TakeProfit    float64
	ExitCondition string
	Confidence    float64
	Reasoning     string
}

// ExitSignal says an open position hit one of its exit triggers.
type ExitSignal struct {
	Symbol string
	Reason CloseReason
	Price  float64
}

func newID() string { return uuid.NewString() }
