package market

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/quantleap/simtrader/internal/config"
	"github.com/quantleap/simtrader/internal/observ"
)

type ticker24h struct {
	Symbol             string `json:"symbol"`
	LastPrice          string `json:"lastPrice"`
	HighPrice          string `json:"highPrice"`
	LowPrice           string `json:"lowPrice"`
	PriceChangePercent string `json:"priceChangePercent"`
	Volume             string `json:"volume"`
}

type cachedSnapshot struct {
	snap    Snapshot
	fetched time.Time
}

// BinanceProvider reads public 24h ticker data. Symbols are bare asset
// names ("BTC"); the USDT pair suffix is applied on the wire.
type BinanceProvider struct {
	http    *resty.Client
	limiter *rate.Limiter
	ttl     time.Duration
	now     func() time.Time

	mu    sync.Mutex
	cache map[string]cachedSnapshot
}

func NewBinanceProvider(cfg config.Market) *BinanceProvider {
	return &BinanceProvider{
		http: resty.New().
			SetBaseURL(cfg.BaseURL).
			SetTimeout(time.Duration(cfg.TimeoutSeconds) * time.Second),
		limiter: rate.NewLimiter(rate.Limit(float64(cfg.RateLimitPerMinute)/60.0), 5),
		ttl:     time.Duration(cfg.CacheTTLSeconds) * time.Second,
		now:     time.Now,
		cache:   make(map[string]cachedSnapshot),
	}
}

func (p *BinanceProvider) GetSnapshot(ctx context.Context, symbol string) (Snapshot, error) {
	p.mu.Lock()
	if c, ok := p.cache[symbol]; ok && p.now().Sub(c.fetched) < p.ttl {
		p.mu.Unlock()
		observ.IncCounter("market_cache_hits_total", map[string]string{"symbol": symbol})
		return c.snap, nil
	}
	p.mu.Unlock()

	if err := p.limiter.Wait(ctx); err != nil {
		return Snapshot{}, unavailable(symbol, "rate limiter wait cancelled", err)
	}

	var t ticker24h
	resp, err := p.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol+"USDT").
		SetResult(&t).
		Get("/api/v3/ticker/24hr")
	if err != nil {
		return Snapshot{}, unavailable(symbol, "ticker request failed", err)
	}
	if resp.StatusCode() == http.StatusBadRequest {
		return Snapshot{}, badSymbol(symbol, fmt.Sprintf("venue rejected %sUSDT", symbol))
	}
	if resp.StatusCode() != http.StatusOK {
		return Snapshot{}, unavailable(symbol, fmt.Sprintf("status %d", resp.StatusCode()), nil)
	}

	snap, err := t.toSnapshot(symbol, p.now())
	if err != nil {
		return Snapshot{}, err
	}
	if err := ValidateSnapshot(snap); err != nil {
		return Snapshot{}, err
	}

	p.mu.Lock()
	p.cache[symbol] = cachedSnapshot{snap: snap, fetched: p.now()}
	p.mu.Unlock()
	return snap, nil
}

func (p *BinanceProvider) HealthCheck(ctx context.Context) error {
	resp, err := p.http.R().SetContext(ctx).Get("/api/v3/ping")
	if err != nil {
		return unavailable("", "ping failed", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return unavailable("", fmt.Sprintf("ping status %d", resp.StatusCode()), nil)
	}
	return nil
}

func (t ticker24h) toSnapshot(symbol string, now time.Time) (Snapshot, error) {
	price, err := strconv.ParseFloat(t.LastPrice, 64)
	if err != nil {
		return Snapshot{}, unavailable(symbol, "unparseable lastPrice", err)
	}
	high, _ := strconv.ParseFloat(t.HighPrice, 64)
	low, _ := strconv.ParseFloat(t.LowPrice, 64)
	chg, _ := strconv.ParseFloat(t.PriceChangePercent, 64)
	vol, _ := strconv.ParseFloat(t.Volume, 64)

	return Snapshot{
		Symbol:       symbol,
		Price:        price,
		High24h:      high,
		Low24h:       low,
		Change24hPct: chg,
		Volume24h:    vol,
		Timestamp:    now,
	}, nil
}
