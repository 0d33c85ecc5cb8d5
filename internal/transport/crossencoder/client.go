// Package crossencoder is an HTTP client for a remote cross-encoder rerank service.
package crossencoder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/kailas-cloud/itemrec/internal/domain"
	"github.com/kailas-cloud/itemrec/internal/metrics"
)

const (
	rerankPath         = "/v1/rerank"
	defaultTimeout     = 10 * time.Second
	defaultMaxFailures = 5
	maxErrorBody       = 4 << 10
)

// Config holds the cross-encoder endpoint settings.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Timeout     time.Duration
	MaxFailures uint32 // consecutive failures before the breaker opens
	OpenTimeout time.Duration
	HTTPClient  *http.Client
	Logger      *zap.Logger
}

// Client scores (query, candidate) pairs through POST {base}/v1/rerank.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
	cb      *gobreaker.CircuitBreaker[[]float64]
	name    string
	logger  *zap.Logger
}

type rerankRequest struct {
	Model      string   `json:"model,omitempty"`
	Query      string   `json:"query"`
	Candidates []string `json:"candidates"`
}

type rerankResponse struct {
	Results []struct {
		Index int     `json:"index"`
		Score float64 `json:"score"`
	} `json:"results"`
}

// NewClient creates a cross-encoder client guarded by a circuit breaker.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("cross-encoder base url is required: %w", domain.ErrConfiguration)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = defaultMaxFailures
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	name := "cross-encoder"
	if cfg.Model != "" {
		name += ":" + cfg.Model
	}
	logger := cfg.Logger
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[[]float64](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		// Отмена запроса вызывающей стороной: не сбой сервиса
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		http:    cfg.HTTPClient,
		cb:      cb,
		name:    name,
		logger:  logger,
	}, nil
}

// Name identifies the scorer in provenance and metrics.
func (c *Client) Name() string { return "cross_encoder" }

// Score returns one relevance score per candidate, in candidate order.
// Failures wrap domain.ErrEncoderUnavailable; an open breaker fails immediately.
func (c *Client) Score(ctx context.Context, query string, candidates []string) ([]float64, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	scores, err := c.cb.Execute(func() ([]float64, error) {
		return c.do(ctx, query, candidates)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%s: %w: %w", c.name, domain.ErrEncoderUnavailable, err)
		}
		return nil, err
	}
	return scores, nil
}

func (c *Client) do(ctx context.Context, query string, candidates []string) ([]float64, error) {
	body, err := json.Marshal(rerankRequest{Model: c.model, Query: query, Candidates: candidates})
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+rerankPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("rerank request: %w", ctx.Err())
		}
		return nil, fmt.Errorf("rerank request: %w: %w", domain.ErrEncoderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("rerank API error %d: %s: %w",
			resp.StatusCode, strings.TrimSpace(string(msg)), domain.ErrEncoderUnavailable)
	}

	var parsed rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w: %w", domain.ErrEncoderUnavailable, err)
	}

	scores := make([]float64, len(candidates))
	seen := make([]bool, len(candidates))
	for _, r := range parsed.Results {
		if r.Index < 0 || r.Index >= len(candidates) || seen[r.Index] {
			return nil, fmt.Errorf("rerank response has invalid index %d: %w", r.Index, domain.ErrEncoderUnavailable)
		}
		seen[r.Index] = true
		scores[r.Index] = r.Score
	}
	if len(parsed.Results) != len(candidates) {
		return nil, fmt.Errorf("rerank response has %d scores for %d candidates: %w",
			len(parsed.Results), len(candidates), domain.ErrEncoderUnavailable)
	}

	return scores, nil
}

// State returns the current breaker state.
func (c *Client) State() gobreaker.State { return c.cb.State() }

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
