// Package clustering asks the external model to group each chunk into
// thematic clusters and enforces the chunk completeness contract.
package clustering

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/errgroup"

	"github.com/p-n-ai/pai-curriculum/internal/ai"
	"github.com/p-n-ai/pai-curriculum/internal/analysis"
	"github.com/p-n-ai/pai-curriculum/internal/artifact"
	"github.com/p-n-ai/pai-curriculum/internal/curriculum"
	"github.com/p-n-ai/pai-curriculum/internal/prompt"
)

// ChunkError reports a chunk that could not be clustered.
type ChunkError struct {
	ChunkID int
	Err     error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk %d: %v", e.ChunkID, e.Err)
}

func (e *ChunkError) Unwrap() error { return e.Err }

// Completer sends a prompt and returns the JSON found in the reply.
// *ai.Client implements it.
type Completer interface {
	CompleteJSON(ctx context.Context, task ai.TaskType, system, prompt string) (ai.Reply, error)
	Model() string
}

// ResponseCache stores validated cluster replies by prompt hash.
type ResponseCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
}

// Config bounds the clustering run.
type Config struct {
	Parallelism int
	// MaxAttempts is the completeness retry ceiling per chunk.
	MaxAttempts int
	// Strict fails the run instead of falling back when a chunk cannot be
	// clustered by the model.
	Strict bool
}

// DefaultConfig returns a small worker pool and three attempts per chunk.
func DefaultConfig() Config {
	return Config{Parallelism: 4, MaxAttempts: 3}
}

// Service clusters chunks. A nil Completer clusters every chunk with the
// deterministic fallback.
type Service struct {
	client   Completer
	prompts  *prompt.Builder
	analyzer *analysis.Analyzer
	fallback *Fallback
	cache    ResponseCache
	cfg      Config
}

// Option configures a Service.
type Option func(*Service)

// WithCache reuses validated replies across runs.
func WithCache(c ResponseCache) Option {
	return func(s *Service) { s.cache = c }
}

// WithFallback sets the deterministic clustering used when the model fails.
func WithFallback(f *Fallback) Option {
	return func(s *Service) { s.fallback = f }
}

// NewService creates a clustering service.
func NewService(client Completer, prompts *prompt.Builder, analyzer *analysis.Analyzer, cfg Config, opts ...Option) *Service {
	if cfg.Parallelism < 1 {
		cfg.Parallelism = 1
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	s := &Service{
		client:   client,
		prompts:  prompts,
		analyzer: analyzer,
		fallback: NewFallback(nil, nil),
		cfg:      cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run clusters every chunk with bounded parallelism. Results are returned
// in chunk order. The first chunk error cancels the remaining work.
func (s *Service) Run(ctx context.Context, chunks []curriculum.Chunk) ([]artifact.ChunkResult, artifact.ClusterStats, error) {
	results := make([]artifact.ChunkResult, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Parallelism)
	for i, c := range chunks {
		g.Go(func() error {
			res, err := s.ProcessChunk(gctx, c)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, artifact.ClusterStats{}, err
	}

	stats := artifact.ClusterStats{Chunks: len(results)}
	for _, r := range results {
		stats.Clusters += len(r.Clusters)
		for _, cl := range r.Clusters {
			stats.Items += len(cl.Items)
		}
		if r.Fallback {
			stats.Fallbacks++
		}
		if r.Cached {
			stats.Cached++
		}
	}
	return results, stats, nil
}

// ProcessChunk clusters one chunk. A reply that fails validation or the
// completeness check is requested again with the attempt number in the
// prompt, up to MaxAttempts.
func (s *Service) ProcessChunk(ctx context.Context, c curriculum.Chunk) (artifact.ChunkResult, error) {
	res := artifact.ChunkResult{ChunkID: c.ChunkID, StartIndex: c.StartIndex, EndIndex: c.EndIndex}
	if c.Len() == 0 {
		return res, nil
	}
	if s.client == nil {
		return s.fallbackResult(res, c), nil
	}

	base, err := s.prompts.Cluster(c, 1)
	if err != nil {
		return res, &ChunkError{ChunkID: c.ChunkID, Err: err}
	}
	key := CacheKey(s.client.Model(), base)
	if clusters, ok := s.cached(ctx, key, c); ok {
		res.Clusters = clusters
		res.Cached = true
		res.Model = s.client.Model()
		return res, nil
	}

	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Attempts = attempt

		text := base
		if attempt > 1 {
			if text, err = s.prompts.Cluster(c, attempt); err != nil {
				return res, &ChunkError{ChunkID: c.ChunkID, Err: err}
			}
		}

		reply, err := s.client.CompleteJSON(ctx, ai.TaskClustering, prompt.System, text)
		if err != nil {
			// The client has already retried transport failures.
			lastErr = err
			break
		}
		res.Model = reply.Response.Model

		clusters, err := s.validate(reply.JSON, c)
		if err != nil {
			lastErr = err
			slog.Warn("chunk reply rejected, requesting again",
				"chunk_id", c.ChunkID,
				"attempt", attempt,
				"max_attempts", s.cfg.MaxAttempts,
				"error", err,
			)
			continue
		}

		res.Clusters = clusters
		s.store(ctx, key, clusters)
		slog.Info("chunk clustered",
			"chunk_id", c.ChunkID,
			"clusters", len(clusters),
			"items", c.Len(),
			"attempts", attempt,
		)
		return res, nil
	}

	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	if s.cfg.Strict {
		return res, &ChunkError{ChunkID: c.ChunkID, Err: lastErr}
	}
	slog.Warn("chunk falls back to deterministic clustering",
		"chunk_id", c.ChunkID,
		"attempts", res.Attempts,
		"error", lastErr,
	)
	return s.fallbackResult(res, c), nil
}

// validate checks the reply shape and completeness and replaces every id
// with the id recorded at that index, since the index is the contract.
func (s *Service) validate(raw json.RawMessage, c curriculum.Chunk) ([]curriculum.ThematicCluster, error) {
	parsed, err := s.analyzer.Clusters(raw)
	if err != nil {
		return nil, err
	}
	if err := analysis.CheckCompleteness(parsed.Indexes(), c.StartIndex, c.EndIndex); err != nil {
		return nil, err
	}
	for ci := range parsed.Clusters {
		for ii := range parsed.Clusters[ci].Items {
			item := &parsed.Clusters[ci].Items[ii]
			want := c.Items[item.Index-c.StartIndex].ID
			if item.ID != want {
				slog.Debug("model reply id differs from metadata", "index", item.Index, "got", item.ID, "want", want)
				item.ID = want
			}
		}
	}
	return parsed.Clusters, nil
}

func (s *Service) fallbackResult(res artifact.ChunkResult, c curriculum.Chunk) artifact.ChunkResult {
	res.Clusters = s.fallback.Cluster(c)
	res.Fallback = true
	return res
}

func (s *Service) cached(ctx context.Context, key string, c curriculum.Chunk) ([]curriculum.ThematicCluster, bool) {
	if s.cache == nil {
		return nil, false
	}
	data, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		slog.Warn("response cache read failed", "chunk_id", c.ChunkID, "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	clusters, err := s.validate(data, c)
	if err != nil {
		slog.Warn("discarding stale cached reply", "chunk_id", c.ChunkID, "error", err)
		return nil, false
	}
	slog.Debug("chunk served from cache", "chunk_id", c.ChunkID)
	return clusters, true
}

func (s *Service) store(ctx context.Context, key string, clusters []curriculum.ThematicCluster) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(map[string]any{"clusters": clusters})
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, data); err != nil {
		slog.Warn("response cache write failed", "error", err)
	}
}

// CacheKey hashes the model name and prompt.
func CacheKey(model, prompt string) string {
	sum := blake2b.Sum256([]byte(model + "\x00" + prompt))
	return "curriculum:cluster:" + hex.EncodeToString(sum[:])
}

// MemoryCache is an in-process ResponseCache.
type MemoryCache struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryCache creates an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{data: make(map[string][]byte)}
}

func (m *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *MemoryCache) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}
