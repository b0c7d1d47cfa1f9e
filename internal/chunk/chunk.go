// Package chunk partitions the metadata sequence into contiguous chunks
// small enough to send to the external model in one request.
package chunk

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/p-n-ai/pai-curriculum/internal/artifact"
	"github.com/p-n-ai/pai-curriculum/internal/curriculum"
	"github.com/p-n-ai/pai-curriculum/internal/prompt"
)

// Strategy selects how chunk boundaries are placed.
type Strategy string

const (
	// StrategyTokens packs items until a running token estimate reaches the
	// payload ceiling.
	StrategyTokens Strategy = "tokens"
	// StrategyCount divides the item count evenly.
	StrategyCount Strategy = "count"
)

// Config controls chunk sizing.
type Config struct {
	Strategy     Strategy
	TargetChunks int
	// PayloadTokens is the external payload ceiling in tokens.
	PayloadTokens int
	SafetyMargin  float64
	// MaxChunks caps the token strategy. 0 means no cap.
	MaxChunks int
}

// DefaultConfig returns the token strategy with an 80% margin.
func DefaultConfig() Config {
	return Config{
		Strategy:      StrategyTokens,
		TargetChunks:  8,
		PayloadTokens: 12000,
		SafetyMargin:  0.8,
	}
}

// Plan is a partition of the metadata sequence.
type Plan struct {
	Strategy  Strategy
	Chunks    []curriculum.Chunk
	Summaries []artifact.ChunkSummary
}

// EstimateTokens approximates the token cost of text at four bytes per token.
func EstimateTokens(n int) int {
	return (n + 3) / 4
}

// Split partitions items. Chunk boundaries are metadata indexes, so
// items must be the full metadata sequence in index order.
func Split(items []curriculum.ItemMetadata, cfg Config) (Plan, error) {
	for i, it := range items {
		if it.Index != i {
			return Plan{}, fmt.Errorf("item %q has index %d at position %d", it.ID, it.Index, i)
		}
	}

	sizes := make([]int, len(items))
	for i, it := range items {
		b, err := json.Marshal(prompt.Project(it))
		if err != nil {
			return Plan{}, fmt.Errorf("measuring item %q: %w", it.ID, err)
		}
		sizes[i] = len(b) + 1
	}

	var bounds [][2]int
	switch cfg.Strategy {
	case StrategyCount:
		if cfg.TargetChunks <= 0 {
			return Plan{}, fmt.Errorf("target chunk count must be positive, got %d", cfg.TargetChunks)
		}
		bounds = evenBounds(len(items), cfg.TargetChunks)
	case StrategyTokens, "":
		limit := int(float64(cfg.PayloadTokens) * cfg.SafetyMargin)
		if limit <= 0 {
			return Plan{}, fmt.Errorf("payload limit must be positive, got %d tokens at margin %.2f", cfg.PayloadTokens, cfg.SafetyMargin)
		}
		bounds = tokenBounds(sizes, limit)
		if cfg.MaxChunks > 0 && len(bounds) > cfg.MaxChunks {
			slog.Warn("token chunking exceeds chunk cap, merging evenly",
				"chunks", len(bounds),
				"max_chunks", cfg.MaxChunks,
			)
			bounds = evenBounds(len(items), cfg.MaxChunks)
		}
	default:
		return Plan{}, fmt.Errorf("unknown chunk strategy %q", cfg.Strategy)
	}

	plan := Plan{Strategy: cfg.Strategy}
	if plan.Strategy == "" {
		plan.Strategy = StrategyTokens
	}
	for id, b := range bounds {
		c := curriculum.Chunk{
			ChunkID:    id,
			StartIndex: b[0],
			EndIndex:   b[1],
			Items:      items[b[0] : b[1]+1],
		}
		bytes := 0
		for i := b[0]; i <= b[1]; i++ {
			bytes += sizes[i]
		}
		plan.Chunks = append(plan.Chunks, c)
		plan.Summaries = append(plan.Summaries, artifact.ChunkSummary{
			ChunkID:         id,
			StartIndex:      b[0],
			EndIndex:        b[1],
			ItemCount:       c.Len(),
			Bytes:           bytes,
			EstimatedTokens: EstimateTokens(bytes),
		})
	}

	slog.Info("chunk plan ready", "strategy", plan.Strategy, "items", len(items), "chunks", len(plan.Chunks))
	return plan, nil
}

// evenBounds splits n items into at most k runs whose sizes differ by one.
func evenBounds(n, k int) [][2]int {
	if n == 0 {
		return nil
	}
	if k > n {
		k = n
	}
	out := make([][2]int, 0, k)
	base, extra := n/k, n%k
	start := 0
	for i := 0; i < k; i++ {
		size := base
		if i < extra {
			size++
		}
		out = append(out, [2]int{start, start + size - 1})
		start += size
	}
	return out
}

// tokenBounds closes a chunk before the item that would push it over
// limit. An item larger than limit gets a chunk of its own.
func tokenBounds(sizes []int, limit int) [][2]int {
	var out [][2]int
	start, used := 0, 0
	for i, s := range sizes {
		cost := EstimateTokens(s)
		if i > start && used+cost > limit {
			out = append(out, [2]int{start, i - 1})
			start, used = i, 0
		}
		used += cost
	}
	if len(sizes) > 0 {
		out = append(out, [2]int{start, len(sizes) - 1})
	}
	return out
}

// FromSummaries rebuilds chunks from a persisted plan against the current
// metadata, checking the plan still partitions it.
func FromSummaries(items []curriculum.ItemMetadata, summaries []artifact.ChunkSummary) ([]curriculum.Chunk, error) {
	next := 0
	chunks := make([]curriculum.Chunk, 0, len(summaries))
	for _, s := range summaries {
		if s.StartIndex != next || s.EndIndex < s.StartIndex || s.EndIndex >= len(items) {
			return nil, fmt.Errorf("chunk %d range [%d,%d] does not continue the partition at %d of %d items",
				s.ChunkID, s.StartIndex, s.EndIndex, next, len(items))
		}
		chunks = append(chunks, curriculum.Chunk{
			ChunkID:    s.ChunkID,
			StartIndex: s.StartIndex,
			EndIndex:   s.EndIndex,
			Items:      items[s.StartIndex : s.EndIndex+1],
		})
		next = s.EndIndex + 1
	}
	if next != len(items) {
		return nil, fmt.Errorf("chunk plan covers %d of %d items", next, len(items))
	}
	return chunks, nil
}
