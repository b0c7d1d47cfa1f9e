package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

// ClientConfig bounds every request the Client makes.
type ClientConfig struct {
	Model       string
	MaxTokens   int
	Temperature float64
	// Timeout applies to a single attempt, not the whole retry loop.
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// RequestsPerSecond limits requests across all callers. 0 disables it.
	RequestsPerSecond float64
	Burst             int
}

// DefaultClientConfig returns conservative request limits.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		MaxTokens:         4096,
		Temperature:       0.2,
		Timeout:           120 * time.Second,
		MaxAttempts:       3,
		InitialBackoff:    2 * time.Second,
		MaxBackoff:        30 * time.Second,
		RequestsPerSecond: 1,
		Burst:             2,
	}
}

// ExhaustedError reports that every attempt of a request failed.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("AI request failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Reply is a parsed model reply.
type Reply struct {
	JSON     json.RawMessage
	Response CompletionResponse
	Attempts int
}

// Client sends prompts with per-attempt timeouts, exponential backoff,
// a shared rate limit and an optional token budget.
type Client struct {
	provider Provider
	cfg      ClientConfig
	limiter  *rate.Limiter
	budget   BudgetChecker
	runID    string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBudget charges every reply to runID in budget.
func WithBudget(budget BudgetChecker, runID string) ClientOption {
	return func(c *Client) {
		c.budget = budget
		c.runID = runID
	}
}

// NewClient wraps a provider, usually a *Router.
func NewClient(provider Provider, cfg ClientConfig, opts ...ClientOption) *Client {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	c := &Client{provider: provider, cfg: cfg}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Model returns the configured model name, which may be empty.
func (c *Client) Model() string { return c.cfg.Model }

// CompleteJSON sends prompt and extracts the JSON document from the reply.
// Transport errors, timeouts and replies without JSON are retried with
// exponential backoff up to MaxAttempts. Budget exhaustion and provider
// rejections that cannot clear (bad key, malformed request) are not retried.
func (c *Client) CompleteJSON(ctx context.Context, task TaskType, system, prompt string) (Reply, error) {
	req := CompletionRequest{
		Messages:    []Message{{Role: "system", Content: system}, {Role: "user", Content: prompt}},
		Model:       c.cfg.Model,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
		JSONMode:    true,
		Task:        task,
	}

	var reply Reply
	op := func() error {
		reply.Attempts++
		resp, err := c.attempt(ctx, req)
		if err != nil {
			return err
		}
		reply.Response = resp
		raw, err := ExtractJSON(resp.Content)
		if err != nil {
			return err
		}
		reply.JSON = raw
		return nil
	}

	notify := func(err error, wait time.Duration) {
		slog.Warn("AI request attempt failed, retrying",
			"task", task.String(),
			"attempt", reply.Attempts,
			"max_attempts", c.cfg.MaxAttempts,
			"wait", wait,
			"error", err,
		)
	}

	err := backoff.RetryNotify(op, c.backoff(ctx), notify)
	switch {
	case err == nil:
		return reply, nil
	case errors.Is(err, ErrBudgetExceeded):
		return reply, err
	case ctx.Err() != nil:
		return reply, fmt.Errorf("AI request canceled after %d attempts: %w", reply.Attempts, ctx.Err())
	default:
		return reply, &ExhaustedError{Attempts: reply.Attempts, Err: err}
	}
}

func (c *Client) backoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if c.cfg.InitialBackoff > 0 {
		b.InitialInterval = c.cfg.InitialBackoff
	}
	if c.cfg.MaxBackoff > 0 {
		b.MaxInterval = c.cfg.MaxBackoff
	}
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.cfg.MaxAttempts-1)), ctx)
}

// attempt is one bounded round trip.
func (c *Client) attempt(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	if c.budget != nil {
		ok, err := c.budget.Check(c.runID)
		if err != nil {
			return CompletionResponse{}, backoff.Permanent(fmt.Errorf("checking budget: %w", err))
		}
		if !ok {
			return CompletionResponse{}, backoff.Permanent(ErrBudgetExceeded)
		}
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return CompletionResponse{}, backoff.Permanent(err)
		}
	}

	attemptCtx := ctx
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	resp, err := c.provider.Complete(attemptCtx, req)
	if err != nil {
		if !retryable(err) {
			return CompletionResponse{}, backoff.Permanent(err)
		}
		return CompletionResponse{}, err
	}
	if c.budget != nil {
		if err := c.budget.Record(c.runID, resp.TotalTokens()); err != nil {
			slog.Warn("recording token usage failed", "run_id", c.runID, "error", err)
		}
	}
	return resp, nil
}
