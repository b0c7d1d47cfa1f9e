// Package aggregate merges per-chunk clusters into one global sequence and
// repairs prerequisite inversions that cross chunk boundaries.
package aggregate

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/p-n-ai/pai-curriculum/internal/ai"
	"github.com/p-n-ai/pai-curriculum/internal/curriculum"
)

// DefaultMaxPasses bounds dependency resolution, which may not converge
// when the dependency graph has cycles.
const DefaultMaxPasses = 100

// Stats summarizes an aggregation.
type Stats struct {
	Chunks      int  `json:"chunks"`
	Merged      int  `json:"merged"`
	Duplicates  int  `json:"duplicates"`
	Unclustered int  `json:"unclustered"`
	Items       int  `json:"items"`
	Moves       int  `json:"moves"`
	Passes      int  `json:"passes"`
	Converged   bool `json:"converged"`
}

// Aggregator joins cluster results with item metadata.
type Aggregator struct {
	byIndex   map[int]curriculum.ItemMetadata
	order     []curriculum.ItemMetadata
	prereqs   map[string][]string
	maxPasses int
}

// New creates an Aggregator. prereqs maps an item id to the ids that must
// precede it; when nil, each item's declared prerequisites are used.
func New(items []curriculum.ItemMetadata, prereqs map[string][]string, maxPasses int) *Aggregator {
	if maxPasses <= 0 {
		maxPasses = DefaultMaxPasses
	}
	a := &Aggregator{
		byIndex:   make(map[int]curriculum.ItemMetadata, len(items)),
		order:     items,
		prereqs:   prereqs,
		maxPasses: maxPasses,
	}
	for _, it := range items {
		a.byIndex[it.Index] = it
	}
	return a
}

// Aggregate merges, deduplicates and dependency-resolves chunk results.
func (a *Aggregator) Aggregate(results []json.RawMessage) ([]curriculum.AggregatedItem, Stats, error) {
	chunks, err := ParseResults(results)
	if err != nil {
		return nil, Stats{}, err
	}

	merged := a.Merge(chunks)
	stats := Stats{Chunks: len(chunks), Merged: len(merged)}

	items, dups := Dedupe(merged)
	stats.Duplicates = dups

	items, stats.Unclustered = a.appendUnclustered(items)

	var rs ResolveStats
	items, rs = Resolve(items, a.maxPasses)
	stats.Moves, stats.Passes, stats.Converged = rs.Moves, rs.Passes, rs.Converged
	stats.Items = len(items)

	slog.Info("aggregation complete",
		"chunks", stats.Chunks,
		"merged", stats.Merged,
		"duplicates", stats.Duplicates,
		"unclustered", stats.Unclustered,
		"moves", stats.Moves,
		"passes", stats.Passes,
	)
	return items, stats, nil
}

// ChunkClusters is one chunk's clusters after shape normalization.
type ChunkClusters struct {
	ChunkID  int
	Clusters []curriculum.ThematicCluster
}

// ParseResults reads chunk results in either the current shape
// {"chunkId", "clusters"} or the older {"chunk", "result"|"response"}
// shape, where response is model text. Results are sorted by chunk id.
func ParseResults(results []json.RawMessage) ([]ChunkClusters, error) {
	out := make([]ChunkClusters, 0, len(results))
	for i, raw := range results {
		var probe struct {
			ChunkID  *int                         `json:"chunkId"`
			Chunk    *int                         `json:"chunk"`
			Clusters []curriculum.ThematicCluster `json:"clusters"`
			Result   json.RawMessage              `json:"result"`
			Response *string                      `json:"response"`
		}
		if err := json.Unmarshal(raw, &probe); err != nil {
			return nil, fmt.Errorf("result %d: %w", i, err)
		}

		cc := ChunkClusters{ChunkID: i}
		switch {
		case probe.ChunkID != nil:
			cc.ChunkID = *probe.ChunkID
		case probe.Chunk != nil:
			cc.ChunkID = *probe.Chunk
		}

		switch {
		case probe.Clusters != nil:
			cc.Clusters = probe.Clusters
		case len(probe.Result) > 0:
			clusters, err := legacyClusters(probe.Result)
			if err != nil {
				return nil, fmt.Errorf("result %d: %w", i, err)
			}
			cc.Clusters = clusters
		case probe.Response != nil:
			doc, err := ai.ExtractJSON(*probe.Response)
			if err != nil {
				return nil, fmt.Errorf("result %d response: %w", i, err)
			}
			clusters, err := legacyClusters(doc)
			if err != nil {
				return nil, fmt.Errorf("result %d: %w", i, err)
			}
			cc.Clusters = clusters
		default:
			return nil, fmt.Errorf("result %d has no clusters, result or response", i)
		}
		out = append(out, cc)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ChunkID < out[j].ChunkID })
	return out, nil
}

func legacyClusters(doc json.RawMessage) ([]curriculum.ThematicCluster, error) {
	var clusters []curriculum.ThematicCluster
	if err := json.Unmarshal(doc, &clusters); err == nil {
		return clusters, nil
	}
	var wrapped struct {
		Clusters         []curriculum.ThematicCluster `json:"clusters"`
		ThematicClusters []curriculum.ThematicCluster `json:"thematic_clusters"`
	}
	if err := json.Unmarshal(doc, &wrapped); err != nil {
		return nil, fmt.Errorf("decoding clusters: %w", err)
	}
	if wrapped.ThematicClusters != nil {
		return wrapped.ThematicClusters, nil
	}
	return wrapped.Clusters, nil
}

// Merge flattens clusters in chunk then cluster order and attaches
// metadata by index.
func (a *Aggregator) Merge(chunks []ChunkClusters) []curriculum.AggregatedItem {
	var out []curriculum.AggregatedItem
	for _, cc := range chunks {
		for ci, cl := range cc.Clusters {
			moduleID := fmt.Sprintf("c%d-m%d", cc.ChunkID, ci)
			for _, it := range cl.Items {
				out = append(out, a.item(it.Index, it.ID, moduleID, cl.Name))
			}
		}
	}
	return out
}

func (a *Aggregator) item(index int, id, moduleID, moduleName string) curriculum.AggregatedItem {
	it := curriculum.AggregatedItem{Index: index, ID: id, ModuleID: moduleID, ModuleName: moduleName}
	m, ok := a.byIndex[index]
	if !ok {
		return it
	}
	if it.ID == "" {
		it.ID = m.ID
	}
	it.Kind = m.Kind
	it.Complexity = m.Complexity
	it.Tags = m.Tags
	if a.prereqs != nil {
		it.Prerequisites = a.prereqs[it.ID]
	} else {
		it.Prerequisites = m.Prerequisites
	}
	return it
}

// appendUnclustered adds metadata items no chunk result mentioned, so no
// item is lost between phases.
func (a *Aggregator) appendUnclustered(items []curriculum.AggregatedItem) ([]curriculum.AggregatedItem, int) {
	seen := make(map[string]bool, len(items))
	for _, it := range items {
		seen[it.ID] = true
	}
	added := 0
	for _, m := range a.order {
		if m.ID == "" || seen[m.ID] {
			continue
		}
		items = append(items, a.item(m.Index, m.ID, "unclustered", "Unclustered"))
		added++
	}
	if added > 0 {
		slog.Warn("items missing from cluster results appended at the end", "items", added)
	}
	return items, added
}

// Dedupe keeps the first occurrence of every id. Items without an id are
// always kept.
func Dedupe(items []curriculum.AggregatedItem) ([]curriculum.AggregatedItem, int) {
	seen := make(map[string]bool, len(items))
	out := make([]curriculum.AggregatedItem, 0, len(items))
	for _, it := range items {
		if it.ID != "" {
			if seen[it.ID] {
				continue
			}
			seen[it.ID] = true
		}
		out = append(out, it)
	}
	return out, len(items) - len(out)
}

// ResolveStats describes a dependency resolution run.
type ResolveStats struct {
	Moves     int
	Passes    int
	Converged bool
}

// Resolve moves every item whose prerequisite sits after it to just after
// its latest such prerequisite, patching the position index for the
// shifted range. Passes repeat until one makes no move or maxPasses is
// reached. An item moves at most once per pass, so a pass is bounded even
// when prerequisites form a cycle.
func Resolve(items []curriculum.AggregatedItem, maxPasses int) ([]curriculum.AggregatedItem, ResolveStats) {
	if maxPasses <= 0 {
		maxPasses = DefaultMaxPasses
	}
	out := append([]curriculum.AggregatedItem(nil), items...)

	pos := make(map[string]int, len(out))
	for i, it := range out {
		if it.ID != "" {
			pos[it.ID] = i
		}
	}

	var st ResolveStats
	for st.Passes < maxPasses {
		st.Passes++
		moved := make(map[string]bool)
		for i := 0; i < len(out); {
			it := out[i]
			target := -1
			if it.ID != "" && !moved[it.ID] {
				for _, p := range it.Prerequisites {
					if at, ok := pos[p]; ok && at > i && at > target {
						target = at
					}
				}
			}
			if target < 0 {
				i++
				continue
			}

			copy(out[i:target], out[i+1:target+1])
			out[target] = it
			for k := i; k <= target; k++ {
				if id := out[k].ID; id != "" {
					pos[id] = k
				}
			}
			moved[it.ID] = true
			st.Moves++
		}
		if len(moved) == 0 {
			st.Converged = true
			return out, st
		}
	}

	slog.Warn("dependency resolution hit its pass ceiling, keeping best-effort order",
		"passes", st.Passes,
		"moves", st.Moves,
	)
	return out, st
}
