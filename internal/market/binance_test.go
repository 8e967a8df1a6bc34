package market

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantleap/simtrader/internal/config"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) (*BinanceProvider, *int64) {
	t.Helper()
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	return NewBinanceProvider(config.Market{
		BaseURL:            srv.URL,
		TimeoutSeconds:     2,
		CacheTTLSeconds:    60,
		RateLimitPerMinute: 60000,
	}), &hits
}

func TestGetSnapshot(t *testing.T) {
	p, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"symbol":"BTCUSDT","lastPrice":"50123.45","highPrice":"51000","lowPrice":"49000","priceChangePercent":"2.31","volume":"12345.6"}`))
	})

	s, err := p.GetSnapshot(context.Background(), "BTC")
	require.NoError(t, err)
	assert.Equal(t, "BTC", s.Symbol)
	assert.Equal(t, 50123.45, s.Price)
	assert.Equal(t, 51000.0, s.High24h)
	assert.Equal(t, 49000.0, s.Low24h)
	assert.Equal(t, 2.31, s.Change24hPct)
}

func TestGetSnapshotCaches(t *testing.T) {
	p, hits := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"lastPrice":"100","highPrice":"110","lowPrice":"90","priceChangePercent":"0","volume":"1"}`))
	})

	for i := 0; i < 5; i++ {
		_, err := p.GetSnapshot(context.Background(), "ETH")
		require.NoError(t, err)
	}
	assert.Equal(t, int64(1), atomic.LoadInt64(hits), "repeat fetch inside TTL must hit the cache")
}

func TestGetSnapshotBadSymbol(t *testing.T) {
	p, _ := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})
	_, err := p.GetSnapshot(context.Background(), "NOPE")
	require.Error(t, err)
	var me *Error
	require.ErrorAs(t, err, &me)
	assert.Equal(t, ErrBadSymbol, me.Kind)
}

func TestGetSnapshotRejectsZeroPrice(t *testing.T) {
	p, _ := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"lastPrice":"0","highPrice":"0","lowPrice":"0","priceChangePercent":"0","volume":"0"}`))
	})
	_, err := p.GetSnapshot(context.Background(), "BTC")
	require.Error(t, err)
	var me *Error
	require.ErrorAs(t, err, &me)
	assert.Equal(t, ErrUnavailable, me.Kind)
}

func TestValidateSnapshot(t *testing.T) {
	assert.NoError(t, ValidateSnapshot(Snapshot{Symbol: "BTC", Price: 100, High24h: 110, Low24h: 90}))
	assert.Error(t, ValidateSnapshot(Snapshot{Symbol: "BTC", Price: -1}))
	assert.Error(t, ValidateSnapshot(Snapshot{Symbol: "BTC", Price: 100, High24h: 90, Low24h: 110}))
}
