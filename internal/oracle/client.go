package oracle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/quantleap/simtrader/internal/config"
	"github.com/quantleap/simtrader/internal/observ"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat struct {
		Type string `json:"type"`
	} `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Client calls an OpenAI-compatible chat-completions endpoint, one request
// per symbol per cycle.
type Client struct {
	http    *resty.Client
	model   string
	limiter *rate.Limiter
	now     func() time.Time
}

func NewClient(cfg config.Oracle) (*Client, error) {
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("oracle api key env %s is not set", cfg.APIKeyEnv)
	}

	hc := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(time.Duration(cfg.TimeoutSeconds) * time.Second).
		SetAuthToken(key).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:    hc,
		model:   cfg.Model,
		limiter: rate.NewLimiter(rate.Limit(float64(cfg.RateLimitPerMinute)/60.0), 1),
		now:     time.Now,
	}, nil
}

func (c *Client) Decide(ctx context.Context, req Request) (Decision, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Decision{}, timeoutError("rate limiter wait cancelled", err)
	}

	body := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildUserPrompt(req)},
		},
		Temperature: 0.2,
	}
	body.ResponseFormat.Type = "json_object"

	start := c.now()
	var out chatResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		Post("/chat/completions")
	observ.Observe("oracle_latency_ms", float64(time.Since(start).Milliseconds()), map[string]string{"symbol": req.Symbol})

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Decision{}, timeoutError(fmt.Sprintf("request for %s timed out", req.Symbol), err)
		}
		return Decision{}, timeoutError(fmt.Sprintf("request for %s failed", req.Symbol), err)
	}

	switch {
	case resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden:
		return Decision{}, authError(fmt.Sprintf("status %d from completion endpoint", resp.StatusCode()))
	case resp.StatusCode() == http.StatusTooManyRequests:
		return Decision{}, rateLimitError(fmt.Sprintf("status %d for %s", resp.StatusCode(), req.Symbol))
	case resp.StatusCode() >= 500:
		return Decision{}, timeoutError(fmt.Sprintf("status %d for %s", resp.StatusCode(), req.Symbol), nil)
	case resp.StatusCode() != http.StatusOK:
		return Decision{}, malformedError(fmt.Sprintf("unexpected status %d for %s", resp.StatusCode(), req.Symbol), nil)
	}

	if out.Error != nil {
		return Decision{}, malformedError(fmt.Sprintf("api error for %s: %s", req.Symbol, out.Error.Message), nil)
	}
	if len(out.Choices) == 0 {
		return Decision{}, malformedError(fmt.Sprintf("empty choices for %s", req.Symbol), nil)
	}

	content := out.Choices[0].Message.Content
	d, err := parseDecision(req.Symbol, content, c.now())
	if err != nil {
		// The full payload goes to the audit log; the error message only
		// carries a bounded excerpt.
		observ.Log("oracle_malformed_payload", map[string]any{
			"symbol":  req.Symbol,
			"payload": content,
		})
	}
	return d, err
}
