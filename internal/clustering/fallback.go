package clustering

import (
	"fmt"
	"sort"

	"github.com/p-n-ai/pai-curriculum/internal/curriculum"
	"github.com/p-n-ai/pai-curriculum/internal/graph"
	"github.com/p-n-ai/pai-curriculum/internal/scoring"
)

// Fallback clusters a chunk without the external model. Items are grouped
// into connected components of the similarity graph, or by learning path
// when no graph is available.
type Fallback struct {
	similarity curriculum.SimilarityGraph
	hasGraph   bool
	scores     map[int]curriculum.ItemScore
}

// NewFallback builds a Fallback. similarity may be nil when the graph
// artifact is absent; scores may be empty.
func NewFallback(similarity *curriculum.SimilarityGraph, scores []curriculum.ItemScore) *Fallback {
	f := &Fallback{scores: make(map[int]curriculum.ItemScore, len(scores))}
	if similarity != nil && len(similarity.Edges) > 0 {
		f.similarity = *similarity
		f.hasGraph = true
	}
	for _, s := range scores {
		f.scores[s.Index] = s
	}
	return f
}

// Cluster groups every item of the chunk exactly once.
func (f *Fallback) Cluster(c curriculum.Chunk) []curriculum.ThematicCluster {
	byID := make(map[string]curriculum.ItemMetadata, len(c.Items))
	ids := make([]string, 0, len(c.Items))
	for _, it := range c.Items {
		byID[it.ID] = it
		ids = append(ids, it.ID)
	}

	var groups [][]string
	reason := "grouped by learning path"
	if f.hasGraph {
		groups = graph.Components(ids, f.similarity)
		reason = "connected by shared tags and technology"
	} else {
		groups = pathGroups(c.Items)
	}

	type group struct {
		items []curriculum.ItemMetadata
		best  float64
	}
	ordered := make([]group, 0, len(groups))
	for _, g := range groups {
		grp := group{best: -1}
		for _, id := range g {
			it := byID[id]
			grp.items = append(grp.items, it)
			if s := f.scores[it.Index].CompositeScore; s > grp.best {
				grp.best = s
			}
		}
		sort.SliceStable(grp.items, func(i, j int) bool {
			a, b := grp.items[i], grp.items[j]
			return scoring.RankOf(a, f.scores[a.Index].Layer).Before(scoring.RankOf(b, f.scores[b.Index].Layer))
		})
		ordered = append(ordered, grp)
	}
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].best > ordered[j].best })

	clusters := make([]curriculum.ThematicCluster, 0, len(ordered))
	for n, g := range ordered {
		cl := curriculum.ThematicCluster{
			Name:        clusterName(g.items, n),
			Description: fmt.Sprintf("%d items %s", len(g.items), reason),
		}
		for _, it := range g.items {
			cl.Items = append(cl.Items, curriculum.ClusterItem{Index: it.Index, ID: it.ID, Reason: reason})
		}
		clusters = append(clusters, cl)
	}
	return clusters
}

func pathGroups(items []curriculum.ItemMetadata) [][]string {
	pos := make(map[curriculum.LearningPath]int)
	var out [][]string
	for _, it := range items {
		slot, ok := pos[it.LearningPath]
		if !ok {
			slot = len(out)
			pos[it.LearningPath] = slot
			out = append(out, nil)
		}
		out[slot] = append(out[slot], it.ID)
	}
	return out
}

// clusterName picks the most common tag, then the learning path.
func clusterName(items []curriculum.ItemMetadata, n int) string {
	counts := make(map[string]int)
	best, bestCount := "", 0
	for _, it := range items {
		for _, tag := range it.Tags {
			counts[tag]++
			if c := counts[tag]; c > bestCount || (c == bestCount && tag < best) {
				best, bestCount = tag, c
			}
		}
	}
	if best != "" {
		return best
	}
	if p := items[0].LearningPath; p != "" {
		return string(p)
	}
	return fmt.Sprintf("group %d", n+1)
}
