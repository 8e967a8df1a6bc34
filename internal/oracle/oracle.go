// Package oracle talks to the external reasoning service that produces
// trade decisions. The service speaks the OpenAI chat-completions wire
// format; we ask for a strict JSON object per symbol and refuse anything
// that doesn't validate.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Decision is one recommendation for one symbol. StopLoss and TakeProfit
// are absolute prices; zero means the oracle left them unset.
type Decision struct {
	Symbol        string    `json:"symbol"`
	Action        Action    `json:"action"`
	Confidence    float64   `json:"confidence"`
	Leverage      float64   `json:"leverage"`
	Reasoning     string    `json:"reasoning"`
	ExitCondition string    `json:"exit_condition,omitempty"`
	StopLoss      float64   `json:"stop_loss,omitempty"`
	TakeProfit    float64   `json:"take_profit,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// PositionContext describes an already-open position so the oracle can
// reason about whether to keep holding it.
type PositionContext struct {
	Symbol        string
	Side          string
	EntryPrice    float64
	CurrentPrice  float64
	Leverage      float64
	Confidence    float64
	UnrealizedPnL float64
	HoldingMins   float64
}

// Request carries everything the prompt needs for one symbol.
type Request struct {
	Symbol        string
	Price         float64
	High24h       float64
	Low24h        float64
	Change24hPct  float64
	Volume24h     float64
	Cash          float64
	Equity        float64
	ROIPct        float64
	OpenPositions []PositionContext
	ElapsedMins   float64
	Invocation    int
}

// Adapter is the boundary the engine depends on.
type Adapter interface {
	Decide(ctx context.Context, req Request) (Decision, error)
}

const (
	ErrAuth        = "auth"
	ErrRateLimited = "rate_limited"
	ErrTimeout     = "timeout"
	ErrMalformed   = "malformed"
)

// Error is a typed failure from the oracle boundary. Kind is one of the
// Err* constants; callers branch on Kind, not on message text.
type Error struct {
	Kind    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("oracle %s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("oracle %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func authError(msg string) *Error      { return &Error{Kind: ErrAuth, Message: msg} }
func rateLimitError(msg string) *Error { return &Error{Kind: ErrRateLimited, Message: msg} }
func timeoutError(msg string, cause error) *Error {
	return &Error{Kind: ErrTimeout, Message: msg, Cause: cause}
}
func malformedError(msg string, cause error) *Error {
	return &Error{Kind: ErrMalformed, Message: msg, Cause: cause}
}

// KindOf extracts the error kind, or "" for non-oracle errors.
func KindOf(err error) string {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Kind
	}
	return ""
}
