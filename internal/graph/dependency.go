// Package graph builds the dependency and similarity graphs over item metadata.
package graph

import (
	"log/slog"

	"github.com/p-n-ai/pai-curriculum/internal/curriculum"
)

// DependencyResult is the dependency graph plus the number of references
// that were dropped because an endpoint is unknown.
type DependencyResult struct {
	Graph   curriculum.DependencyGraph
	Dropped int
}

// BuildDependencies turns prerequisites and requiredFor lists into edges.
// An edge is only kept when both endpoints are in items; self references
// and repeated edges are dropped. The result may contain cycles.
func BuildDependencies(items []curriculum.ItemMetadata) DependencyResult {
	known := make(map[string]bool, len(items))
	nodes := make([]string, 0, len(items))
	for _, it := range items {
		if it.ID == "" || known[it.ID] {
			continue
		}
		known[it.ID] = true
		nodes = append(nodes, it.ID)
	}

	type key struct {
		src, dst string
		typ      curriculum.EdgeType
	}
	seen := make(map[key]bool)
	var res DependencyResult
	res.Graph.Nodes = nodes

	add := func(src, dst string, typ curriculum.EdgeType) {
		if !known[src] || !known[dst] || src == dst {
			res.Dropped++
			return
		}
		k := key{src, dst, typ}
		if seen[k] {
			return
		}
		seen[k] = true
		res.Graph.Edges = append(res.Graph.Edges, curriculum.DependencyEdge{Source: src, Target: dst, Type: typ})
	}

	for _, it := range items {
		for _, p := range it.Prerequisites {
			add(p, it.ID, curriculum.EdgePrerequisite)
		}
		for _, r := range it.RequiredFor {
			add(it.ID, r, curriculum.EdgeRequiredFor)
		}
	}

	if res.Dropped > 0 {
		slog.Info("dropped dependency references to unknown items", "dropped", res.Dropped)
	}
	return res
}

// Prerequisites returns, per item id, the ids that must precede it. Both
// edge types contribute.
func Prerequisites(g curriculum.DependencyGraph) map[string][]string {
	out := make(map[string][]string)
	for _, e := range g.Edges {
		out[e.Target] = append(out[e.Target], e.Source)
	}
	return out
}
