package position

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenCloseLifecycle(t *testing.T) {
	m := NewManager()
	now := time.Now()

	p, err := m.Open(OpenCommand{
		Symbol:     "BTC",
		Side:       Long,
		EntryPrice: 100,
		Notional:   100,
		Leverage:   10,
		StopLoss:   85,
		Confidence: 0.82,
		Reasoning:  "breakout above range",
	}, now)
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, p.Status)
	assert.InDelta(t, 1.0, p.Quantity, 1e-9)
	assert.InDelta(t, 10.0, p.Margin, 1e-9)
	assert.Equal(t, 0.82, p.Confidence, "confidence at open is part of the record")
	assert.Equal(t, "breakout above range", p.Reasoning)

	_, err = m.Open(OpenCommand{Symbol: "BTC", Side: Long, EntryPrice: 101, Notional: 100, Leverage: 5}, now)
	require.Error(t, err, "second open on same symbol must fail")

	trade, ok := m.Close("BTC", 110, ReasonTakeProfit, now.Add(time.Minute))
	require.True(t, ok)
	assert.Equal(t, ReasonTakeProfit, trade.Reason)
	assert.InDelta(t, 100.0, trade.RealizedPnL, 1e-9, "10x leverage on a 10 percent move doubles the notional")
	assert.InDelta(t, 1.0, trade.ReturnFrac, 1e-9)

	_, stillOpen := m.Get("BTC")
	assert.False(t, stillOpen)
}

func TestCloseAbsentSymbolIsNoop(t *testing.T) {
	m := NewManager()
	trade, ok := m.Close("ETH", 2000, ReasonManual, time.Now())
	assert.False(t, ok)
	assert.Nil(t, trade)
}

func TestShortPnLSign(t *testing.T) {
	m := NewManager()
	now := time.Now()

	_, err := m.Open(OpenCommand{Symbol: "SOL", Side: Short, EntryPrice: 200, Notional: 400, Leverage: 4}, now)
	require.NoError(t, err)

	t.Run("price drop profits a short", func(t *testing.T) {
		p, _ := m.Get("SOL")
		assert.InDelta(t, 80.0, p.UnrealizedPnL(190), 1e-9)
	})

	t.Run("price rise loses", func(t *testing.T) {
		trade, ok := m.Close("SOL", 210, ReasonStopLoss, now.Add(time.Hour))
		require.True(t, ok)
		assert.InDelta(t, -80.0, trade.RealizedPnL, 1e-9)
		assert.Less(t, trade.ReturnFrac, 0.0)
	})
}

func TestRestoreSkipsClosedPositions(t *testing.T) {
	m := NewManager()
	m.Restore([]Position{
		{Symbol: "BTC", Status: StatusOpen, Side: Long, EntryPrice: 100, Quantity: 1, Leverage: 2},
		{Symbol: "ETH", Status: StatusClosed, Side: Long, EntryPrice: 2000},
	})
	_, ok := m.Get("BTC")
	assert.True(t, ok)
	_, ok = m.Get("ETH")
	assert.False(t, ok)
}

// TestSingleOpenPerSymbol hammers the book with random opens and closes
// and checks the one-position-per-symbol invariant after every step.
func TestSingleOpenPerSymbol(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	symbols := []string{"BTC", "ETH", "SOL"}
	m := NewManager()
	now := time.Now()

	for i := 0; i < 1000; i++ {
		sym := symbols[rng.Intn(len(symbols))]
		if rng.Intn(2) == 0 {
			side := Long
			if rng.Intn(2) == 0 {
				side = Short
			}
			m.Open(OpenCommand{
				Symbol:     sym,
				Side:       side,
				EntryPrice: 50 + rng.Float64()*1000,
				Notional:   100,
				Leverage:   1 + rng.Float64()*19,
			}, now)
		} else {
			m.Close(sym, 50+rng.Float64()*1000, ReasonManual, now)
		}

		seen := map[string]int{}
		for _, p := range m.List() {
			seen[p.Symbol]++
			if p.Status != StatusOpen {
				t.Fatalf("step %d: listed position for %s is %s", i, p.Symbol, p.Status)
			}
		}
		for sym, n := range seen {
			if n > 1 {
				t.Fatalf("step %d: %d open positions for %s", i, n, sym)
			}
		}
	}
}
