package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantleap/simtrader/internal/config"
	"github.com/quantleap/simtrader/internal/engine"
	"github.com/quantleap/simtrader/internal/market"
	"github.com/quantleap/simtrader/internal/oracle"
	"github.com/quantleap/simtrader/internal/portfolio"
	"github.com/quantleap/simtrader/internal/position"
	"github.com/quantleap/simtrader/internal/store"
)

type holdOracle struct{}

func (holdOracle) Decide(_ context.Context, req oracle.Request) (oracle.Decision, error) {
	return oracle.Decision{Symbol: req.Symbol, Action: oracle.ActionHold, Confidence: 0.5}, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *engine.Engine, store.Repository) {
	t.Helper()
	repo := store.NewMemory()
	mkt := market.NewMockProvider()
	mkt.SetPrice("BTC", 100)

	eng := engine.New(config.Trading{
		InitialBalance:     10000,
		IntervalSeconds:    60,
		Symbols:            []string{"BTC"},
		MaxLeverage:        20,
		MaxPositionSize:    0.2,
		DefaultStopLossPct: 0.15,
	}, holdOracle{}, mkt, repo)

	s := New("127.0.0.1:0", eng, repo)
	ts := httptest.NewServer(s.http.Handler)
	t.Cleanup(ts.Close)
	t.Cleanup(eng.Stop)
	return ts, eng, repo
}

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestStartStopStatus(t *testing.T) {
	ts, _, _ := newTestServer(t)

	var status engine.Status
	getJSON(t, ts.URL+"/api/status", &status)
	assert.False(t, status.Running)

	resp, err := http.Post(ts.URL+"/api/bot/start", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// second start conflicts
	resp, err = http.Post(ts.URL+"/api/bot/start", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	getJSON(t, ts.URL+"/api/status", &status)
	assert.True(t, status.Running)

	resp, err = http.Post(ts.URL+"/api/bot/stop", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	getJSON(t, ts.URL+"/api/status", &status)
	assert.False(t, status.Running)
}

func TestStartRequiresPost(t *testing.T) {
	ts, _, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/api/bot/start")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestReadEndpoints(t *testing.T) {
	ts, _, repo := newTestServer(t)

	now := time.Now()
	require.NoError(t, repo.ApplyCycle(context.Background(), store.CycleBatch{
		Cycle: 1,
		Trades: []position.Trade{{
			ID: "t1", Symbol: "BTC", Side: position.Long, RealizedPnL: 150,
			Reason: position.ReasonTakeProfit, OpenedAt: now.Add(-time.Hour), ClosedAt: now,
		}},
		Snapshot: portfolio.Snapshot{Timestamp: now, Cash: 10150, Equity: 10150, RealizedPnL: 150},
		OpenPositions: []position.Position{{
			ID: "p1", Symbol: "ETH", Side: position.Short, Status: position.StatusOpen,
		}},
	}))

	t.Run("positions", func(t *testing.T) {
		var body struct {
			Positions []position.Position `json:"positions"`
		}
		getJSON(t, ts.URL+"/api/positions", &body)
		require.Len(t, body.Positions, 1)
		assert.Equal(t, "ETH", body.Positions[0].Symbol)
	})

	t.Run("trades filtered by symbol", func(t *testing.T) {
		var body struct {
			Trades []position.Trade `json:"trades"`
		}
		getJSON(t, ts.URL+"/api/trades?symbol=BTC", &body)
		require.Len(t, body.Trades, 1)

		getJSON(t, ts.URL+"/api/trades?symbol=XRP", &body)
		assert.Empty(t, body.Trades)
	})

	t.Run("equity history", func(t *testing.T) {
		var body struct {
			Equity []portfolio.Snapshot `json:"equity"`
		}
		getJSON(t, ts.URL+"/api/equity", &body)
		require.Len(t, body.Equity, 1)
		assert.Equal(t, 10150.0, body.Equity[0].Equity)
	})

	t.Run("performance", func(t *testing.T) {
		var stats store.PerformanceStats
		getJSON(t, ts.URL+"/api/performance", &stats)
		assert.Equal(t, 1, stats.TotalTrades)
		assert.Equal(t, 100.0, stats.WinRatePct)
	})
}

func TestHealthz(t *testing.T) {
	ts, _, _ := newTestServer(t)
	resp := getJSON(t, ts.URL+"/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
