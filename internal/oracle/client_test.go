package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantleap/simtrader/internal/config"
	"github.com/quantleap/simtrader/internal/observ"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	t.Setenv("TEST_ORACLE_KEY", "test-key")
	c, err := NewClient(config.Oracle{
		BaseURL:            srv.URL,
		Model:              "test-model",
		APIKeyEnv:          "TEST_ORACLE_KEY",
		TimeoutSeconds:     2,
		RateLimitPerMinute: 6000,
	})
	require.NoError(t, err)
	return c, srv
}

func completionReply(content string) []byte {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	})
	return b
}

func TestDecideSuccess(t *testing.T) {
	var gotAuth string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, "/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write(completionReply(`{"action":"BUY","confidence":0.75,"leverage":5,"reasoning":"trend"}`))
	})

	d, err := c.Decide(context.Background(), Request{Symbol: "BTC", Price: 50000})
	require.NoError(t, err)
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, ActionBuy, d.Action)
	assert.Equal(t, 5.0, d.Leverage)
}

func TestDecideAuthFailure(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	_, err := c.Decide(context.Background(), Request{Symbol: "BTC", Price: 50000})
	require.Error(t, err)
	assert.Equal(t, ErrAuth, KindOf(err))
}

func TestDecideRateLimited(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	_, err := c.Decide(context.Background(), Request{Symbol: "ETH", Price: 3000})
	require.Error(t, err)
	assert.Equal(t, ErrRateLimited, KindOf(err))
}

func TestDecideServerErrorIsTimeoutKind(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	_, err := c.Decide(context.Background(), Request{Symbol: "SOL", Price: 150})
	require.Error(t, err)
	assert.Equal(t, ErrTimeout, KindOf(err))
}

func TestDecideTimeout(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write(completionReply(`{"action":"HOLD","confidence":0.5}`))
	})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Decide(ctx, Request{Symbol: "BTC", Price: 50000})
	require.Error(t, err)
	assert.Equal(t, ErrTimeout, KindOf(err))
}

func TestDecideMalformedContent(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(completionReply("sure, let me think about that"))
	})

	var logs bytes.Buffer
	observ.SetOutput(&logs)
	defer observ.SetOutput(os.Stdout)

	_, err := c.Decide(context.Background(), Request{Symbol: "BTC", Price: 50000})
	require.Error(t, err)
	assert.Equal(t, ErrMalformed, KindOf(err))
	assert.Contains(t, logs.String(), "oracle_malformed_payload")
	assert.Contains(t, logs.String(), "sure, let me think about that", "raw payload is logged in full for audit")
}

func TestDecideEmptyChoices(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	})
	_, err := c.Decide(context.Background(), Request{Symbol: "BTC", Price: 50000})
	require.Error(t, err)
	assert.Equal(t, ErrMalformed, KindOf(err))
}

func TestNewClientRequiresKey(t *testing.T) {
	t.Setenv("MISSING_KEY_ENV", "")
	_, err := NewClient(config.Oracle{APIKeyEnv: "MISSING_KEY_ENV"})
	assert.Error(t, err)
}
