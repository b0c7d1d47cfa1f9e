package graph

import (
	"sort"

	"github.com/p-n-ai/pai-curriculum/internal/artifact"
	"github.com/p-n-ai/pai-curriculum/internal/curriculum"
)

// SimilarityWeights weigh the signals combined into an edge weight.
type SimilarityWeights struct {
	Path       float64
	Tags       float64
	Technology float64
	Related    float64
}

// SimilarityConfig bounds similarity graph construction.
type SimilarityConfig struct {
	Weights      SimilarityWeights
	Threshold    float64
	MaxGroupSize int
	MaxEdges     int
}

// DefaultSimilarityConfig returns the tuned defaults.
func DefaultSimilarityConfig() SimilarityConfig {
	return SimilarityConfig{
		Weights:      SimilarityWeights{Path: 0.2, Tags: 0.4, Technology: 0.2, Related: 0.2},
		Threshold:    0.5,
		MaxGroupSize: 100,
		MaxEdges:     50000,
	}
}

// EdgeSink receives edges as they are produced.
type EdgeSink func(curriculum.SimilarityEdge) error

// BuildSimilarity streams similarity edges to sink. Items are grouped by
// learning path; groups larger than MaxGroupSize are skipped. Only pairs
// sharing a tag are scored, and construction stops at MaxEdges.
func BuildSimilarity(items []curriculum.ItemMetadata, cfg SimilarityConfig, sink EdgeSink) (artifact.SimilarityStats, error) {
	var stats artifact.SimilarityStats

	groups := make(map[curriculum.LearningPath][]int)
	for i, it := range items {
		if it.ID == "" {
			continue
		}
		groups[it.LearningPath] = append(groups[it.LearningPath], i)
	}
	paths := make([]string, 0, len(groups))
	for p := range groups {
		paths = append(paths, string(p))
	}
	sort.Strings(paths)

	features := make([]itemFeatures, len(items))
	for i, it := range items {
		features[i] = newItemFeatures(it)
	}

	for _, p := range paths {
		members := groups[curriculum.LearningPath(p)]
		stats.Groups++
		if cfg.MaxGroupSize > 0 && len(members) > cfg.MaxGroupSize {
			stats.SkippedGroups++
			continue
		}

		for a := 0; a < len(members); a++ {
			for b := a + 1; b < len(members); b++ {
				fa, fb := features[members[a]], features[members[b]]
				if overlap(fa.tags, fb.tags) == 0 {
					continue
				}
				w := weigh(items[members[a]].LearningPath, fa, fb, cfg.Weights)
				if w < cfg.Threshold {
					continue
				}
				if cfg.MaxEdges > 0 && stats.Edges >= cfg.MaxEdges {
					stats.Truncated = true
					return stats, nil
				}
				edge := curriculum.SimilarityEdge{
					Source: items[members[a]].ID,
					Target: items[members[b]].ID,
					Weight: w,
				}
				if err := sink(edge); err != nil {
					return stats, err
				}
				stats.Edges++
			}
		}
	}
	return stats, nil
}

// CollectSimilarity builds the whole similarity graph in memory.
func CollectSimilarity(items []curriculum.ItemMetadata, cfg SimilarityConfig) (curriculum.SimilarityGraph, artifact.SimilarityStats) {
	var g curriculum.SimilarityGraph
	stats, _ := BuildSimilarity(items, cfg, func(e curriculum.SimilarityEdge) error {
		g.Edges = append(g.Edges, e)
		return nil
	})
	return g, stats
}

type itemFeatures struct {
	tags    map[string]bool
	tech    map[string]bool
	related map[string]bool
}

func newItemFeatures(it curriculum.ItemMetadata) itemFeatures {
	f := itemFeatures{
		tags:    toSet(it.Tags),
		tech:    toSet(it.Technology),
		related: make(map[string]bool),
	}
	for _, ids := range [][]string{it.Prerequisites, it.RequiredFor, it.RelatedQuestions, it.RelatedTasks} {
		for _, id := range ids {
			f.related[id] = true
		}
	}
	return f
}

func weigh(path curriculum.LearningPath, a, b itemFeatures, w SimilarityWeights) float64 {
	total := w.Path + w.Tags + w.Technology + w.Related
	if total <= 0 {
		return 0
	}
	score := w.Tags*jaccard(a.tags, b.tags) +
		w.Technology*jaccard(a.tech, b.tech) +
		w.Related*jaccard(a.related, b.related)
	if path != "" {
		score += w.Path
	}
	return score / total
}

func toSet(values []string) map[string]bool {
	s := make(map[string]bool, len(values))
	for _, v := range values {
		s[v] = true
	}
	return s
}

func overlap(a, b map[string]bool) int {
	if len(a) > len(b) {
		a, b = b, a
	}
	n := 0
	for k := range a {
		if b[k] {
			n++
		}
	}
	return n
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := overlap(a, b)
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
