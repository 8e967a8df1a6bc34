// Package store persists simulation history behind a small repository
// interface. All writes for a cycle land in one ApplyCycle call so a crash
// between cycles never leaves half a cycle on disk.
package store

import (
	"context"
	"time"

	"github.com/quantleap/simtrader/internal/oracle"
	"github.com/quantleap/simtrader/internal/portfolio"
	"github.com/quantleap/simtrader/internal/position"
)

// DecisionRecord is one oracle decision plus the validator's ruling.
type DecisionRecord struct {
	ID        string          `json:"id"`
	Cycle     int64           `json:"cycle"`
	Decision  oracle.Decision `json:"decision"`
	Accepted  bool            `json:"accepted"`
	Verdict   string          `json:"verdict"`
	Reason    string          `json:"reason,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// CycleBatch is everything one cycle produced. OpenPositions is the full
// open book after the cycle, replacing whatever was stored before.
type CycleBatch struct {
	Cycle         int64
	Trades        []position.Trade
	Decisions     []DecisionRecord
	Snapshot      portfolio.Snapshot
	OpenPositions []position.Position
}

// PerformanceStats summarizes closed trades.
type PerformanceStats struct {
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRatePct    float64 `json:"win_rate_pct"`
	TotalPnL      float64 `json:"total_pnl"`
	MaxProfit     float64 `json:"max_profit"`
	MaxLoss       float64 `json:"max_loss"`
	AvgPnL        float64 `json:"avg_pnl"`
}

// State is what a restarted simulator needs to resume.
type State struct {
	Cash          float64             `json:"cash"`
	RealizedPnL   float64             `json:"realized_pnl"`
	Cycle         int64               `json:"cycle"`
	OpenPositions []position.Position `json:"open_positions"`
}

type Repository interface {
	// ApplyCycle stores a cycle's output atomically.
	ApplyCycle(ctx context.Context, batch CycleBatch) error

	LoadState(ctx context.Context) (State, bool, error)
	OpenPositions(ctx context.Context) ([]position.Position, error)
	Trades(ctx context.Context, symbol string, limit int) ([]position.Trade, error)
	EquityHistory(ctx context.Context, limit int) ([]portfolio.Snapshot, error)
	Decisions(ctx context.Context, limit int) ([]DecisionRecord, error)
	PerformanceStats(ctx context.Context) (PerformanceStats, error)
	Close() error
}

// ComputeStats folds closed trades into summary statistics.
func ComputeStats(trades []position.Trade) PerformanceStats {
	var s PerformanceStats
	s.TotalTrades = len(trades)
	for i, t := range trades {
		s.TotalPnL += t.RealizedPnL
		if t.RealizedPnL > 0 {
			s.WinningTrades++
		} else if t.RealizedPnL < 0 {
			s.LosingTrades++
		}
		if i == 0 || t.RealizedPnL > s.MaxProfit {
			s.MaxProfit = t.RealizedPnL
		}
		if i == 0 || t.RealizedPnL < s.MaxLoss {
			s.MaxLoss = t.RealizedPnL
		}
	}
	if s.TotalTrades > 0 {
		s.WinRatePct = float64(s.WinningTrades) / float64(s.TotalTrades) * 100
		s.AvgPnL = s.TotalPnL / float64(s.TotalTrades)
	}
	return s
}
