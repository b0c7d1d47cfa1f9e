// Package sequence orders the aggregated sequence inside modules and, for
// larger sequences, asks the external model for a refined permutation.
package sequence

import (
	"context"
	"log/slog"
	"sort"

	"github.com/p-n-ai/pai-curriculum/internal/aggregate"
	"github.com/p-n-ai/pai-curriculum/internal/ai"
	"github.com/p-n-ai/pai-curriculum/internal/analysis"
	"github.com/p-n-ai/pai-curriculum/internal/curriculum"
	"github.com/p-n-ai/pai-curriculum/internal/prompt"
	"github.com/p-n-ai/pai-curriculum/internal/scoring"
)

// Completer sends a prompt and returns the JSON found in the reply.
type Completer interface {
	CompleteJSON(ctx context.Context, task ai.TaskType, system, prompt string) (ai.Reply, error)
}

// Config controls sequencing.
type Config struct {
	// Refine enables the model refinement pass.
	Refine bool
	// MinItems is the smallest sequence worth refining.
	MinItems  int
	MaxPasses int
}

// DefaultConfig refines sequences of 20 items or more.
func DefaultConfig() Config {
	return Config{Refine: true, MinItems: 20, MaxPasses: aggregate.DefaultMaxPasses}
}

// Stats summarizes a sequencing run.
type Stats struct {
	Items     int    `json:"items"`
	Reordered int    `json:"reordered"`
	Refined   bool   `json:"refined"`
	Skipped   string `json:"skipped,omitempty"`
	Moves     int    `json:"moves"`
	Passes    int    `json:"passes"`
	Converged bool   `json:"converged"`
}

// Sequencer applies the tie-break order and the optional refinement.
type Sequencer struct {
	client   Completer
	prompts  *prompt.Builder
	analyzer *analysis.Analyzer
	ranks    map[int]scoring.Rank
	cfg      Config
}

// New creates a Sequencer. client may be nil, which disables refinement.
// Ranks are built from the metadata and the layer recorded in each score.
func New(client Completer, prompts *prompt.Builder, analyzer *analysis.Analyzer, items []curriculum.ItemMetadata, scores []curriculum.ItemScore, cfg Config) *Sequencer {
	if cfg.MaxPasses <= 0 {
		cfg.MaxPasses = aggregate.DefaultMaxPasses
	}
	layers := make(map[int]int, len(scores))
	for _, s := range scores {
		layers[s.Index] = s.Layer
	}
	ranks := make(map[int]scoring.Rank, len(items))
	for _, it := range items {
		ranks[it.Index] = scoring.RankOf(it, layers[it.Index])
	}
	return &Sequencer{client: client, prompts: prompts, analyzer: analyzer, ranks: ranks, cfg: cfg}
}

// Sequence returns a new ordering of items. It never fails: a refinement
// that cannot be obtained or validated leaves the deterministic order.
func (s *Sequencer) Sequence(ctx context.Context, items []curriculum.AggregatedItem) ([]curriculum.AggregatedItem, Stats) {
	st := Stats{Items: len(items)}

	out, reordered := TieBreak(items, s.ranks)
	st.Reordered = reordered

	switch {
	case !s.cfg.Refine:
		st.Skipped = "disabled"
	case s.client == nil:
		st.Skipped = "no provider"
	case len(out) < s.cfg.MinItems:
		st.Skipped = "too few items"
	default:
		refined, err := s.refine(ctx, out)
		if err != nil {
			slog.Warn("sequence refinement rejected, keeping deterministic order", "items", len(out), "error", err)
			st.Skipped = "rejected"
		} else {
			out = refined
			st.Refined = true
		}
	}

	var rs aggregate.ResolveStats
	out, rs = aggregate.Resolve(out, s.cfg.MaxPasses)
	st.Moves, st.Passes, st.Converged = rs.Moves, rs.Passes, rs.Converged

	slog.Info("sequencing complete",
		"items", st.Items,
		"reordered", st.Reordered,
		"refined", st.Refined,
		"moves", st.Moves,
	)
	return out, st
}

// refine asks for a permutation of the current indexes. The reply is used
// only when it reorders exactly the same index set.
func (s *Sequencer) refine(ctx context.Context, items []curriculum.AggregatedItem) ([]curriculum.AggregatedItem, error) {
	want := make([]int, len(items))
	byIndex := make(map[int]curriculum.AggregatedItem, len(items))
	for i, it := range items {
		want[i] = it.Index
		byIndex[it.Index] = it
	}
	if len(byIndex) != len(items) {
		return nil, &analysis.ValidationError{Problems: []string{"sequence has repeated indexes"}}
	}

	text, err := s.prompts.Sequence(items)
	if err != nil {
		return nil, err
	}
	reply, err := s.client.CompleteJSON(ctx, ai.TaskSequencing, prompt.System, text)
	if err != nil {
		return nil, err
	}
	order, err := s.analyzer.Order(reply.JSON)
	if err != nil {
		return nil, err
	}
	if err := analysis.CheckPermutation(order, want); err != nil {
		return nil, err
	}

	out := make([]curriculum.AggregatedItem, len(order))
	for i, idx := range order {
		out[i] = byIndex[idx]
	}
	return out, nil
}

// TieBreak stable-sorts every contiguous run of items that share a module
// and a layer by their rank. Runs never cross a module boundary, so the
// clustered module order is kept. It returns the number of items whose
// position changed.
func TieBreak(items []curriculum.AggregatedItem, ranks map[int]scoring.Rank) ([]curriculum.AggregatedItem, int) {
	out := append([]curriculum.AggregatedItem(nil), items...)
	rank := func(it curriculum.AggregatedItem) scoring.Rank {
		if r, ok := ranks[it.Index]; ok {
			return r
		}
		return scoring.Rank{Complexity: it.Complexity, TagCount: len(it.Tags)}
	}

	for start := 0; start < len(out); {
		end := start + 1
		for end < len(out) && out[end].ModuleID == out[start].ModuleID && rank(out[end]).Layer == rank(out[start]).Layer {
			end++
		}
		run := out[start:end]
		sort.SliceStable(run, func(i, j int) bool { return rank(run[i]).Before(rank(run[j])) })
		start = end
	}

	moved := 0
	for i := range out {
		if out[i].ID != items[i].ID || out[i].Index != items[i].Index {
			moved++
		}
	}
	return out, moved
}
