package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantleap/simtrader/internal/oracle"
	"github.com/quantleap/simtrader/internal/portfolio"
	"github.com/quantleap/simtrader/internal/position"
)

func sampleBatch(cycle int64, pnl float64) CycleBatch {
	now := time.Now().UTC().Truncate(time.Second)
	return CycleBatch{
		Cycle: cycle,
		Trades: []position.Trade{{
			ID:          "trade-" + time.Now().Format("150405.000000000"),
			PositionID:  "pos-1",
			Symbol:      "BTC",
			Side:        position.Long,
			Quantity:    1,
			EntryPrice:  100,
			ExitPrice:   110,
			Leverage:    10,
			Notional:    100,
			Margin:      10,
			RealizedPnL: pnl,
			ReturnFrac:  pnl / 100,
			Reason:      position.ReasonTakeProfit,
			OpenedAt:    now.Add(-time.Hour),
			ClosedAt:    now,
		}},
		Decisions: []DecisionRecord{{
			ID:        "dec-" + time.Now().Format("150405.000000000"),
			Cycle:     cycle,
			Decision:  oracle.Decision{Symbol: "BTC", Action: oracle.ActionBuy, Confidence: 0.8, Leverage: 10},
			Accepted:  true,
			Verdict:   "open",
			CreatedAt: now,
		}},
		Snapshot: portfolio.Snapshot{
			Timestamp:   now,
			Cash:        10000 + pnl,
			RealizedPnL: pnl,
			Equity:      10000 + pnl,
		},
		OpenPositions: []position.Position{{
			ID: "pos-2", Symbol: "ETH", Side: position.Short, Status: position.StatusOpen,
			EntryPrice: 3000, Quantity: 0.5, Leverage: 4, Notional: 1500, Margin: 375,
		}},
	}
}

func TestMemoryApplyCycleAndQueries(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, ok, err := m.LoadState(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "fresh store has no state")

	require.NoError(t, m.ApplyCycle(ctx, sampleBatch(1, 100)))
	require.NoError(t, m.ApplyCycle(ctx, sampleBatch(2, -40)))

	st, ok, err := m.LoadState(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(2), st.Cycle)
	assert.Len(t, st.OpenPositions, 1)

	trades, err := m.Trades(ctx, "BTC", 0)
	require.NoError(t, err)
	assert.Len(t, trades, 2)
	assert.Equal(t, -40.0, trades[0].RealizedPnL, "newest first")

	none, err := m.Trades(ctx, "XRP", 0)
	require.NoError(t, err)
	assert.Empty(t, none)

	history, err := m.EquityHistory(ctx, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 10100.0, history[0].Equity, "oldest first")

	decisions, err := m.Decisions(ctx, 1)
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, int64(2), decisions[0].Cycle)

	stats, err := m.PerformanceStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalTrades)
	assert.Equal(t, 1, stats.WinningTrades)
	assert.Equal(t, 50.0, stats.WinRatePct)
	assert.Equal(t, 60.0, stats.TotalPnL)
	assert.Equal(t, 100.0, stats.MaxProfit)
	assert.Equal(t, -40.0, stats.MaxLoss)
}

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "state.json")

	m, err := NewFile(path)
	require.NoError(t, err)
	require.NoError(t, m.ApplyCycle(ctx, sampleBatch(1, 100)))
	require.NoError(t, m.Close())

	// a new store reads everything the first one wrote
	reopened, err := NewFile(path)
	require.NoError(t, err)

	st, ok, err := reopened.LoadState(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), st.Cycle)
	assert.Equal(t, 10100.0, st.Cash)

	trades, err := reopened.Trades(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, trades, 1)

	open, err := reopened.OpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "ETH", open[0].Symbol)
}

func TestComputeStatsEmpty(t *testing.T) {
	s := ComputeStats(nil)
	assert.Zero(t, s.TotalTrades)
	assert.Zero(t, s.WinRatePct)
	assert.Zero(t, s.AvgPnL)
}
