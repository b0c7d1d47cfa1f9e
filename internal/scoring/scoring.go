// Package scoring computes the deterministic composite score of every item.
package scoring

import (
	"log/slog"
	"math"
	"sort"

	"github.com/p-n-ai/pai-curriculum/internal/curriculum"
)

// Weights combine the three score components into the composite score.
type Weights struct {
	Depth      float64
	Difficulty float64
	Cohesion   float64
}

// DifficultyWeights weigh the fields that make up difficultyRelevance.
type DifficultyWeights struct {
	Complexity float64
	Difficulty float64
	Level      float64
	Relevance  float64
	Frequency  float64
}

// Config holds scoring weights and the cohesion target.
type Config struct {
	Weights    Weights
	Difficulty DifficultyWeights
	// CohesionTarget is the group size, as a share of all items, that
	// scores full cohesion.
	CohesionTarget float64
	PathShare      float64
	TechShare      float64
}

// DefaultConfig returns the reference weighting.
func DefaultConfig() Config {
	return Config{
		Weights:        Weights{Depth: 0.4, Difficulty: 0.4, Cohesion: 0.2},
		Difficulty:     DifficultyWeights{Complexity: 0.3, Difficulty: 0.3, Level: 0.15, Relevance: 0.15, Frequency: 0.1},
		CohesionTarget: 0.1,
		PathShare:      0.6,
		TechShare:      0.4,
	}
}

// Result holds scores sorted by descending composite score.
type Result struct {
	Scores   []curriculum.ItemScore
	MaxLayer int
}

// Calculate scores every item against the dependency graph.
func Calculate(items []curriculum.ItemMetadata, g curriculum.DependencyGraph, cfg Config) Result {
	layers, maxLayer := Layers(items, g)
	cohesion := newCohesion(items, cfg)

	scores := make([]curriculum.ItemScore, 0, len(items))
	for _, it := range items {
		s := curriculum.ItemScore{
			Index:               it.Index,
			ID:                  it.ID,
			Layer:               layers[it.ID],
			PrerequisiteDepth:   depthScore(layers[it.ID], maxLayer),
			DifficultyRelevance: DifficultyRelevance(it, cfg.Difficulty),
			ThematicCohesion:    cohesion.score(it),
		}
		s.CompositeScore = cfg.Weights.Depth*s.PrerequisiteDepth +
			cfg.Weights.Difficulty*s.DifficultyRelevance +
			cfg.Weights.Cohesion*s.ThematicCohesion
		scores = append(scores, s)
	}

	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].CompositeScore != scores[j].CompositeScore {
			return scores[i].CompositeScore > scores[j].CompositeScore
		}
		return scores[i].Index < scores[j].Index
	})

	return Result{Scores: scores, MaxLayer: maxLayer}
}

// Layers assigns every item its topological layer using Kahn's algorithm
// over all dependency edges. An item's layer is one more than the deepest
// predecessor, committed only when the item is dequeued; items left with
// in-degree (cycle members and everything behind them) stay at layer 0.
func Layers(items []curriculum.ItemMetadata, g curriculum.DependencyGraph) (map[string]int, int) {
	layers := make(map[string]int, len(items))
	indeg := make(map[string]int, len(items))
	adj := make(map[string][]string)
	for _, it := range items {
		layers[it.ID] = 0
		indeg[it.ID] = 0
	}
	for _, e := range g.Edges {
		if _, ok := indeg[e.Source]; !ok {
			continue
		}
		if _, ok := indeg[e.Target]; !ok {
			continue
		}
		adj[e.Source] = append(adj[e.Source], e.Target)
		indeg[e.Target]++
	}

	queue := make([]string, 0, len(items))
	for _, it := range items {
		if indeg[it.ID] == 0 {
			queue = append(queue, it.ID)
		}
	}

	pending := make(map[string]int)
	processed, maxLayer := 0, 0
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		processed++
		for _, m := range adj[n] {
			if d := layers[n] + 1; d > pending[m] {
				pending[m] = d
			}
			indeg[m]--
			if indeg[m] == 0 {
				layers[m] = pending[m]
				if layers[m] > maxLayer {
					maxLayer = layers[m]
				}
				queue = append(queue, m)
			}
		}
	}

	if unprocessed := len(indeg) - processed; unprocessed > 0 {
		slog.Warn("dependency graph has cycles, affected items keep layer 0", "items", unprocessed)
	}
	return layers, maxLayer
}

func depthScore(layer, maxLayer int) float64 {
	if maxLayer == 0 {
		return 1
	}
	return 1 - float64(layer)/float64(maxLayer)
}

// DifficultyRelevance is the weighted sum of the normalized difficulty
// signals an item carries. Missing fields contribute 0.
func DifficultyRelevance(it curriculum.ItemMetadata, w DifficultyWeights) float64 {
	v := w.Complexity*float64(it.Complexity)/5 +
		w.Difficulty*float64(difficultyRank(it.Difficulty))/3 +
		w.Level*float64(it.LearningPath.Level())/curriculum.MaxPathLevel +
		w.Relevance*float64(it.InterviewRelevance)/5 +
		w.Frequency*float64(it.InterviewFrequency)/5
	return clamp01(v)
}

func difficultyRank(d string) int {
	switch d {
	case "easy":
		return 1
	case "medium":
		return 2
	case "hard":
		return 3
	default:
		return 0
	}
}

type cohesion struct {
	pathSizes map[curriculum.LearningPath]int
	techSizes map[string]int
	ideal     float64
	cfg       Config
}

func newCohesion(items []curriculum.ItemMetadata, cfg Config) cohesion {
	c := cohesion{
		pathSizes: make(map[curriculum.LearningPath]int),
		techSizes: make(map[string]int),
		ideal:     math.Max(1, cfg.CohesionTarget*float64(len(items))),
		cfg:       cfg,
	}
	for _, it := range items {
		if it.LearningPath != "" {
			c.pathSizes[it.LearningPath]++
		}
		for _, t := range it.Technology {
			c.techSizes[t]++
		}
	}
	return c
}

// fit is 1 for a group of exactly the ideal size and falls off linearly.
func (c cohesion) fit(size int) float64 {
	if size == 0 {
		return 0
	}
	return clamp01(1 - math.Abs(float64(size)-c.ideal)/c.ideal)
}

func (c cohesion) score(it curriculum.ItemMetadata) float64 {
	var path float64
	if it.LearningPath != "" {
		path = c.fit(c.pathSizes[it.LearningPath])
	}
	var tech float64
	if len(it.Technology) > 0 {
		for _, t := range it.Technology {
			tech += c.fit(c.techSizes[t])
		}
		tech /= float64(len(it.Technology))
	}
	return clamp01(c.cfg.PathShare*path + c.cfg.TechShare*tech)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// Rank is the deterministic tie-break key for ordering items that no
// prerequisite edge orders.
type Rank struct {
	Layer      int
	Complexity int
	Relevance  int
	TagCount   int
}

// Before orders by ascending layer and complexity, then by descending
// interview relevance and tag count.
func (r Rank) Before(o Rank) bool {
	if r.Layer != o.Layer {
		return r.Layer < o.Layer
	}
	if r.Complexity != o.Complexity {
		return r.Complexity < o.Complexity
	}
	if r.Relevance != o.Relevance {
		return r.Relevance > o.Relevance
	}
	return r.TagCount > o.TagCount
}

// RankOf builds the tie-break key of an item at the given layer.
func RankOf(it curriculum.ItemMetadata, layer int) Rank {
	return Rank{Layer: layer, Complexity: it.Complexity, Relevance: it.Relevance(), TagCount: len(it.Tags)}
}
