// Package pipeline runs the curriculum generation phases. Each phase reads
// the artifacts of earlier phases and writes its own, so any phase can be
// rerun on its own after a failure.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/p-n-ai/pai-curriculum/internal/aggregate"
	"github.com/p-n-ai/pai-curriculum/internal/analysis"
	"github.com/p-n-ai/pai-curriculum/internal/artifact"
	"github.com/p-n-ai/pai-curriculum/internal/chunk"
	"github.com/p-n-ai/pai-curriculum/internal/clustering"
	"github.com/p-n-ai/pai-curriculum/internal/curriculum"
	"github.com/p-n-ai/pai-curriculum/internal/extract"
	"github.com/p-n-ai/pai-curriculum/internal/graph"
	"github.com/p-n-ai/pai-curriculum/internal/interleave"
	"github.com/p-n-ai/pai-curriculum/internal/prompt"
	"github.com/p-n-ai/pai-curriculum/internal/scoring"
	"github.com/p-n-ai/pai-curriculum/internal/sequence"
	"github.com/p-n-ai/pai-curriculum/internal/writer"
)

// Phase names one pipeline step.
type Phase string

const (
	PhaseExtract    Phase = "extract"
	PhaseGraph      Phase = "graph"
	PhaseScore      Phase = "score"
	PhaseChunk      Phase = "chunk"
	PhaseCluster    Phase = "cluster"
	PhaseAggregate  Phase = "aggregate"
	PhaseSequence   Phase = "sequence"
	PhaseInterleave Phase = "interleave"
	PhaseWrite      Phase = "write"
)

// Phases lists every phase in run order.
var Phases = []Phase{
	PhaseExtract, PhaseGraph, PhaseScore, PhaseChunk, PhaseCluster,
	PhaseAggregate, PhaseSequence, PhaseInterleave, PhaseWrite,
}

// ParsePhase looks a phase up by name.
func ParsePhase(s string) (Phase, bool) {
	for _, p := range Phases {
		if string(p) == s {
			return p, true
		}
	}
	return "", false
}

// Stats is the summary every phase returns.
type Stats struct {
	Phase    Phase         `json:"phase"`
	Output   string        `json:"output"`
	Items    int           `json:"items"`
	Duration time.Duration `json:"duration"`
	Detail   any           `json:"detail,omitempty"`
}

// Config carries the settings of every phase.
type Config struct {
	Scoring    scoring.Config
	Similarity graph.SimilarityConfig
	Chunking   chunk.Config
	Clustering clustering.Config
	MaxPasses  int
	Sequencing sequence.Config
	Workbook   bool
}

// DefaultConfig returns the defaults of every phase.
func DefaultConfig() Config {
	return Config{
		Scoring:    scoring.DefaultConfig(),
		Similarity: graph.DefaultSimilarityConfig(),
		Chunking:   chunk.DefaultConfig(),
		Clustering: clustering.DefaultConfig(),
		MaxPasses:  aggregate.DefaultMaxPasses,
		Sequencing: sequence.DefaultConfig(),
	}
}

// Runner executes phases against one artifact directory.
type Runner struct {
	paths  artifact.Paths
	cfg    Config
	client clustering.Completer
	cache  clustering.ResponseCache
	events EventLogger
	runID  string
	now    func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithClient sets the model client. Without one, clustering is
// deterministic and sequencing is not refined.
func WithClient(c clustering.Completer) Option {
	return func(r *Runner) { r.client = c }
}

// WithCache sets the clustering response cache.
func WithCache(c clustering.ResponseCache) Option {
	return func(r *Runner) { r.cache = c }
}

// WithEventLogger sets where phase events are recorded.
func WithEventLogger(l EventLogger) Option {
	return func(r *Runner) { r.events = l }
}

// WithRunID overrides the generated run id.
func WithRunID(id string) Option {
	return func(r *Runner) { r.runID = id }
}

// NewRunner creates a Runner with a fresh run id.
func NewRunner(paths artifact.Paths, cfg Config, opts ...Option) *Runner {
	r := &Runner{
		paths:  paths,
		cfg:    cfg,
		events: NopEventLogger{},
		runID:  uuid.NewString(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunID returns the id recorded with every event of this runner.
func (r *Runner) RunID() string { return r.runID }

// Run executes every phase in order and stops at the first failure. A
// canceled context stops the run between phases.
func (r *Runner) Run(ctx context.Context) ([]Stats, error) {
	all := make([]Stats, 0, len(Phases))
	for _, p := range Phases {
		if err := ctx.Err(); err != nil {
			return all, err
		}
		st, err := r.RunPhase(ctx, p)
		if err != nil {
			return all, err
		}
		all = append(all, st)
	}
	slog.Info("pipeline complete", "run_id", r.runID, "phases", len(all))
	return all, nil
}

// RunPhase executes one phase by name.
func (r *Runner) RunPhase(ctx context.Context, p Phase) (Stats, error) {
	switch p {
	case PhaseExtract:
		return r.Extract(ctx)
	case PhaseGraph:
		return r.Graph(ctx)
	case PhaseScore:
		return r.Score(ctx)
	case PhaseChunk:
		return r.Chunk(ctx)
	case PhaseCluster:
		return r.Cluster(ctx)
	case PhaseAggregate:
		return r.Aggregate(ctx)
	case PhaseSequence:
		return r.Sequence(ctx)
	case PhaseInterleave:
		return r.Interleave(ctx)
	case PhaseWrite:
		return r.Write(ctx)
	default:
		return Stats{}, fmt.Errorf("unknown phase %q", p)
	}
}

// record times fn, logs its outcome and records an event.
func (r *Runner) record(ctx context.Context, p Phase, fn func() (Stats, error)) (Stats, error) {
	start := r.now()
	st, err := fn()
	st.Phase = p
	st.Duration = time.Since(start)

	ev := Event{
		RunID:    r.runID,
		Phase:    p,
		Status:   "ok",
		Output:   st.Output,
		Items:    st.Items,
		Duration: st.Duration,
		Data:     st.Detail,
	}
	if err != nil {
		ev.Status = "failed"
		ev.Error = err.Error()
		slog.Error("phase failed", "run_id", r.runID, "phase", p, "error", err)
	} else {
		slog.Info("phase complete",
			"run_id", r.runID,
			"phase", p,
			"items", st.Items,
			"output", st.Output,
			"duration", st.Duration,
		)
	}
	if lerr := r.events.LogEvent(ctx, ev); lerr != nil {
		slog.Warn("failed to record phase event", "phase", p, "error", lerr)
	}

	if err != nil {
		return st, fmt.Errorf("%s phase: %w", p, err)
	}
	return st, nil
}

// Extract reads the content store and writes the metadata artifact.
func (r *Runner) Extract(ctx context.Context) (Stats, error) {
	return r.record(ctx, PhaseExtract, func() (Stats, error) {
		loader, err := curriculum.NewLoader(r.paths.ContentStore)
		if err != nil {
			return Stats{}, err
		}
		res := extract.Extract(loader.Records())

		out := r.paths.Metadata()
		err = artifact.WriteJSON(out, artifact.Metadata{
			GeneratedAt: r.now(),
			Source:      r.paths.ContentStore,
			Stats:       res.Stats,
			Items:       res.Items,
		})
		return Stats{Output: out, Items: res.Stats.Total, Detail: res.Stats}, err
	})
}

// Graph writes the dependency graph and streams the similarity graph.
func (r *Runner) Graph(ctx context.Context) (Stats, error) {
	return r.record(ctx, PhaseGraph, func() (Stats, error) {
		meta, err := r.metadata()
		if err != nil {
			return Stats{}, err
		}

		dep := graph.BuildDependencies(meta.Items)
		depStats := artifact.DependencyStats{
			Nodes:   len(dep.Graph.Nodes),
			Edges:   len(dep.Graph.Edges),
			Dropped: dep.Dropped,
		}
		out := r.paths.DependencyGraph()
		if err := artifact.WriteJSON(out, artifact.DependencyGraph{
			GeneratedAt: r.now(),
			Stats:       depStats,
			Nodes:       dep.Graph.Nodes,
			Edges:       dep.Graph.Edges,
		}); err != nil {
			return Stats{}, err
		}

		aw, err := artifact.NewArrayWriter(r.paths.SimilarityGraph(), "edges")
		if err != nil {
			return Stats{}, err
		}
		simStats, err := graph.BuildSimilarity(meta.Items, r.cfg.Similarity, func(e curriculum.SimilarityEdge) error {
			return aw.Append(e)
		})
		if err != nil {
			aw.Abort()
			return Stats{}, fmt.Errorf("building similarity graph: %w", err)
		}
		if err := aw.Close(map[string]any{"generatedAt": r.now(), "stats": simStats}); err != nil {
			return Stats{}, fmt.Errorf("writing similarity graph: %w", err)
		}

		return Stats{
			Output: out,
			Items:  depStats.Nodes,
			Detail: map[string]any{"dependency": depStats, "similarity": simStats},
		}, nil
	})
}

// Score writes the composite score of every item.
func (r *Runner) Score(ctx context.Context) (Stats, error) {
	return r.record(ctx, PhaseScore, func() (Stats, error) {
		meta, err := r.metadata()
		if err != nil {
			return Stats{}, err
		}
		var dep artifact.DependencyGraph
		if err := artifact.ReadJSON(r.paths.DependencyGraph(), &dep); err != nil {
			return Stats{}, err
		}

		res := scoring.Calculate(meta.Items, dep.Graph(), r.cfg.Scoring)
		out := r.paths.Scores()
		err = artifact.WriteJSON(out, artifact.Scores{
			GeneratedAt: r.now(),
			ItemCount:   len(res.Scores),
			MaxLayer:    res.MaxLayer,
			Scores:      res.Scores,
		})
		return Stats{Output: out, Items: len(res.Scores), Detail: map[string]int{"maxLayer": res.MaxLayer}}, err
	})
}

// Chunk writes the chunk plan.
func (r *Runner) Chunk(ctx context.Context) (Stats, error) {
	return r.record(ctx, PhaseChunk, func() (Stats, error) {
		meta, err := r.metadata()
		if err != nil {
			return Stats{}, err
		}
		plan, err := chunk.Split(meta.Items, r.cfg.Chunking)
		if err != nil {
			return Stats{}, err
		}

		out := r.paths.Chunks()
		err = artifact.WriteJSON(out, artifact.Chunks{
			GeneratedAt: r.now(),
			Strategy:    string(plan.Strategy),
			TotalItems:  len(meta.Items),
			Chunks:      plan.Summaries,
		})
		return Stats{
			Output: out,
			Items:  len(meta.Items),
			Detail: map[string]any{"strategy": plan.Strategy, "chunks": len(plan.Chunks)},
		}, err
	})
}

// Cluster asks the model to cluster every chunk.
func (r *Runner) Cluster(ctx context.Context) (Stats, error) {
	return r.record(ctx, PhaseCluster, func() (Stats, error) {
		meta, err := r.metadata()
		if err != nil {
			return Stats{}, err
		}
		var plan artifact.Chunks
		if err := artifact.ReadJSON(r.paths.Chunks(), &plan); err != nil {
			return Stats{}, err
		}
		chunks, err := chunk.FromSummaries(meta.Items, plan.Chunks)
		if err != nil {
			return Stats{}, err
		}

		var sim *curriculum.SimilarityGraph
		var simArt artifact.SimilarityGraph
		if artifact.ReadOptional(r.paths.SimilarityGraph(), &simArt) {
			g := simArt.Graph()
			sim = &g
		}
		var scores artifact.Scores
		artifact.ReadOptional(r.paths.Scores(), &scores)

		prompts, analyzer, err := r.tools()
		if err != nil {
			return Stats{}, err
		}
		opts := []clustering.Option{clustering.WithFallback(clustering.NewFallback(sim, scores.Scores))}
		if r.cache != nil {
			opts = append(opts, clustering.WithCache(r.cache))
		}
		svc := clustering.NewService(r.client, prompts, analyzer, r.cfg.Clustering, opts...)

		results, stats, err := svc.Run(ctx, chunks)
		if err != nil {
			return Stats{}, err
		}
		out := r.paths.Clusters()
		err = artifact.WriteJSON(out, artifact.Clusters{GeneratedAt: r.now(), Stats: stats, Results: results})
		return Stats{Output: out, Items: stats.Items, Detail: stats}, err
	})
}

// Aggregate merges chunk clusters into one dependency-resolved sequence.
func (r *Runner) Aggregate(ctx context.Context) (Stats, error) {
	return r.record(ctx, PhaseAggregate, func() (Stats, error) {
		meta, err := r.metadata()
		if err != nil {
			return Stats{}, err
		}
		var raw artifact.RawClusters
		if err := artifact.ReadJSON(r.paths.Clusters(), &raw); err != nil {
			return Stats{}, err
		}
		var prereqs map[string][]string
		var dep artifact.DependencyGraph
		if artifact.ReadOptional(r.paths.DependencyGraph(), &dep) {
			prereqs = graph.Prerequisites(dep.Graph())
		}

		items, st, err := aggregate.New(meta.Items, prereqs, r.cfg.MaxPasses).Aggregate(raw.Results)
		if err != nil {
			return Stats{}, err
		}
		out := r.paths.Aggregated()
		if err := artifact.WriteJSON(out, artifact.Items[aggregate.Stats]{GeneratedAt: r.now(), Stats: st, Items: items}); err != nil {
			return Stats{}, err
		}
		// A sequence built from the previous aggregate would shadow this one.
		if err := artifact.Remove(r.paths.Sequenced()); err != nil {
			return Stats{}, err
		}
		return Stats{Output: out, Items: len(items), Detail: st}, nil
	})
}

// Sequence applies tie-break ordering and the optional model refinement.
func (r *Runner) Sequence(ctx context.Context) (Stats, error) {
	return r.record(ctx, PhaseSequence, func() (Stats, error) {
		meta, err := r.metadata()
		if err != nil {
			return Stats{}, err
		}
		var in artifact.Items[json.RawMessage]
		if err := artifact.ReadJSON(r.paths.Aggregated(), &in); err != nil {
			return Stats{}, err
		}
		var scores artifact.Scores
		artifact.ReadOptional(r.paths.Scores(), &scores)

		prompts, analyzer, err := r.tools()
		if err != nil {
			return Stats{}, err
		}
		var client sequence.Completer
		if r.client != nil {
			client = r.client
		}
		seq := sequence.New(client, prompts, analyzer, meta.Items, scores.Scores, r.cfg.Sequencing)
		items, st := seq.Sequence(ctx, in.Items)

		out := r.paths.Sequenced()
		err = artifact.WriteJSON(out, artifact.Items[sequence.Stats]{GeneratedAt: r.now(), Stats: st, Items: items})
		return Stats{Output: out, Items: len(items), Detail: st}, err
	})
}

// Interleave pulls practice items under their theory items. It reads the
// sequenced artifact, or the aggregated one when sequencing was skipped.
func (r *Runner) Interleave(ctx context.Context) (Stats, error) {
	return r.record(ctx, PhaseInterleave, func() (Stats, error) {
		meta, err := r.metadata()
		if err != nil {
			return Stats{}, err
		}
		var in artifact.Items[json.RawMessage]
		if !artifact.ReadOptional(r.paths.Sequenced(), &in) {
			if err := artifact.ReadJSON(r.paths.Aggregated(), &in); err != nil {
				return Stats{}, err
			}
		}

		items, st := interleave.Interleave(in.Items, meta.Items)
		out := r.paths.Interleaved()
		err = artifact.WriteJSON(out, artifact.Items[interleave.Stats]{GeneratedAt: r.now(), Stats: st, Items: items})
		return Stats{Output: out, Items: len(items), Detail: st}, err
	})
}

// Write resolves the final sequence against the content store.
func (r *Runner) Write(ctx context.Context) (Stats, error) {
	return r.record(ctx, PhaseWrite, func() (Stats, error) {
		var in artifact.Items[json.RawMessage]
		if err := artifact.ReadJSON(r.paths.Interleaved(), &in); err != nil {
			return Stats{}, err
		}
		loader, err := curriculum.NewLoader(r.paths.ContentStore)
		if err != nil {
			return Stats{}, err
		}

		items, st := writer.Build(in.Items, loader)
		out := r.paths.Curriculum()
		if err := artifact.WriteJSON(out, artifact.Curriculum{
			GeneratedAt: r.now(),
			RunID:       r.runID,
			Stats:       st,
			Items:       items,
		}); err != nil {
			return Stats{}, err
		}
		if r.cfg.Workbook {
			if err := writer.WriteWorkbook(r.paths.WorkbookFile(), items); err != nil {
				return Stats{}, err
			}
		}
		return Stats{Output: out, Items: st.Items, Detail: st}, nil
	})
}

func (r *Runner) metadata() (artifact.Metadata, error) {
	var meta artifact.Metadata
	err := artifact.ReadJSON(r.paths.Metadata(), &meta)
	return meta, err
}

func (r *Runner) tools() (*prompt.Builder, *analysis.Analyzer, error) {
	prompts, err := prompt.NewBuilder()
	if err != nil {
		return nil, nil, err
	}
	analyzer, err := analysis.New()
	if err != nil {
		return nil, nil, err
	}
	return prompts, analyzer, nil
}
