// Package market provides price snapshots for the simulated venue.
package market

import (
	"context"
	"fmt"
	"time"
)

// Snapshot is one symbol's market state at a point in time.
type Snapshot struct {
	Symbol       string    `json:"symbol"`
	Price        float64   `json:"price"`
	High24h      float64   `json:"high_24h"`
	Low24h       float64   `json:"low_24h"`
	Change24hPct float64   `json:"change_24h_pct"`
	Volume24h    float64   `json:"volume_24h"`
	Timestamp    time.Time `json:"timestamp"`
}

// Provider fetches snapshots. Implementations must be safe for use from a
// single scheduler goroutine plus the HTTP layer.
type Provider interface {
	GetSnapshot(ctx context.Context, symbol string) (Snapshot, error)
	HealthCheck(ctx context.Context) error
}

const (
	ErrUnavailable = "unavailable"
	ErrBadSymbol   = "bad_symbol"
)

type Error struct {
	Kind    string
	Symbol  string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("market %s (%s): %s: %v", e.Kind, e.Symbol, e.Message, e.Cause)
	}
	return fmt.Sprintf("market %s (%s): %s", e.Kind, e.Symbol, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func unavailable(symbol, msg string, cause error) *Error {
	return &Error{Kind: ErrUnavailable, Symbol: symbol, Message: msg, Cause: cause}
}

func badSymbol(symbol, msg string) *Error {
	return &Error{Kind: ErrBadSymbol, Symbol: symbol, Message: msg}
}

// ValidateSnapshot rejects snapshots that would corrupt downstream math.
func ValidateSnapshot(s Snapshot) error {
	if s.Price <= 0 {
		return unavailable(s.Symbol, fmt.Sprintf("non-positive price %v", s.Price), nil)
	}
	if s.Low24h > s.High24h && s.High24h > 0 {
		return unavailable(s.Symbol, "inverted 24h range", nil)
	}
	return nil
}
