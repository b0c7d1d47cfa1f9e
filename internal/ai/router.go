package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Router selects a provider based on task type and availability.
type Router struct {
	providers map[string]Provider
	fallback  []string // ordered fallback chain
	routes    map[TaskType][]string
	mu        sync.RWMutex
}

// NewRouter creates a new AI router.
func NewRouter() *Router {
	return &Router{
		providers: make(map[string]Provider),
		routes:    make(map[TaskType][]string),
	}
}

// Register adds a provider to the router. Providers are tried in
// registration order unless a task route says otherwise.
func (r *Router) Register(name string, provider Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[name]; !ok {
		r.fallback = append(r.fallback, name)
	}
	r.providers[name] = provider
}

// Route sets the providers preferred for a task. Registered providers not
// named here are still tried afterwards.
func (r *Router) Route(task TaskType, names ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[task] = names
}

func (r *Router) order(task TaskType) []string {
	seen := make(map[string]bool, len(r.fallback))
	out := make([]string, 0, len(r.fallback))
	for _, name := range r.routes[task] {
		if _, ok := r.providers[name]; ok && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	for _, name := range r.fallback {
		if !seen[name] {
			out = append(out, name)
		}
	}
	return out
}

// Complete routes a request to the first provider that answers.
func (r *Router) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.providers) == 0 {
		return CompletionResponse{}, fmt.Errorf("no AI providers registered")
	}

	var errs []error
	for _, name := range r.order(req.Task) {
		provider := r.providers[name]

		resp, err := provider.Complete(ctx, req)
		if err != nil {
			slog.Warn("AI provider failed, trying next",
				"provider", name,
				"task", req.Task.String(),
				"error", err,
			)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			if ctx.Err() != nil {
				break
			}
			continue
		}

		slog.Debug("AI request completed",
			"provider", name,
			"task", req.Task.String(),
			"model", resp.Model,
			"input_tokens", resp.InputTokens,
			"output_tokens", resp.OutputTokens,
		)
		return resp, nil
	}

	return CompletionResponse{}, fmt.Errorf("all AI providers failed: %w", errors.Join(errs...))
}

// HealthCheck fails when any registered provider fails its check.
func (r *Router) HealthCheck(ctx context.Context) error {
	health := r.HealthChecks(ctx)
	var errs []error
	for _, name := range r.Names() {
		if err := health[name]; err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// HealthChecks checks every provider and reports the result by name.
func (r *Router) HealthChecks(ctx context.Context) map[string]error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]error, len(r.providers))
	for _, name := range r.fallback {
		out[name] = r.providers[name].HealthCheck(ctx)
	}
	return out
}

// Names returns registered provider names in fallback order.
func (r *Router) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.fallback...)
}

// HasProvider returns true if at least one provider is registered.
func (r *Router) HasProvider() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers) > 0
}
