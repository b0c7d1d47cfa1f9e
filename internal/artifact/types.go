package artifact

import (
	"encoding/json"
	"time"

	"github.com/p-n-ai/pai-curriculum/internal/curriculum"
)

// MetadataStats counts extracted items by kind.
type MetadataStats struct {
	Total     int `json:"total"`
	Theory    int `json:"theory"`
	Questions int `json:"questions"`
	Tasks     int `json:"tasks"`
	Excluded  int `json:"excluded"`
}

// Metadata is the output of metadata extraction.
type Metadata struct {
	GeneratedAt time.Time                 `json:"generatedAt"`
	Source      string                    `json:"source,omitempty"`
	Stats       MetadataStats             `json:"stats"`
	Items       []curriculum.ItemMetadata `json:"items"`
}

// DependencyStats summarizes graph construction.
type DependencyStats struct {
	Nodes   int `json:"nodes"`
	Edges   int `json:"edges"`
	Dropped int `json:"dropped"`
}

// DependencyGraph is the persisted dependency graph.
type DependencyGraph struct {
	GeneratedAt time.Time                   `json:"generatedAt"`
	Stats       DependencyStats             `json:"stats"`
	Nodes       []string                    `json:"nodes"`
	Edges       []curriculum.DependencyEdge `json:"edges"`
}

// Graph returns the domain view of the artifact.
func (d DependencyGraph) Graph() curriculum.DependencyGraph {
	return curriculum.DependencyGraph{Nodes: d.Nodes, Edges: d.Edges}
}

// SimilarityStats summarizes similarity graph construction.
type SimilarityStats struct {
	Edges         int  `json:"edges"`
	Groups        int  `json:"groups"`
	SkippedGroups int  `json:"skippedGroups"`
	Truncated     bool `json:"truncated"`
}

// SimilarityGraph is the persisted similarity graph. It is written with an
// ArrayWriter, so Edges comes first in the file.
type SimilarityGraph struct {
	Edges       []curriculum.SimilarityEdge `json:"edges"`
	GeneratedAt time.Time                   `json:"generatedAt"`
	Stats       SimilarityStats             `json:"stats"`
}

// Graph returns the domain view of the artifact.
func (s SimilarityGraph) Graph() curriculum.SimilarityGraph {
	return curriculum.SimilarityGraph{Edges: s.Edges}
}

// Scores holds item scores sorted by descending composite score.
type Scores struct {
	GeneratedAt time.Time              `json:"generatedAt"`
	ItemCount   int                    `json:"itemCount"`
	MaxLayer    int                    `json:"maxLayer"`
	Scores      []curriculum.ItemScore `json:"scores"`
}

// ChunkSummary describes one chunk without its items.
type ChunkSummary struct {
	ChunkID         int `json:"chunkId"`
	StartIndex      int `json:"startIndex"`
	EndIndex        int `json:"endIndex"`
	ItemCount       int `json:"itemCount"`
	Bytes           int `json:"bytes"`
	EstimatedTokens int `json:"estimatedTokens"`
}

// Chunks is the chunk plan.
type Chunks struct {
	GeneratedAt time.Time      `json:"generatedAt"`
	Strategy    string         `json:"strategy"`
	TotalItems  int            `json:"totalItems"`
	Chunks      []ChunkSummary `json:"chunks"`
}

// ChunkResult is the clustering outcome for one chunk.
type ChunkResult struct {
	ChunkID    int                          `json:"chunkId"`
	StartIndex int                          `json:"startIndex"`
	EndIndex   int                          `json:"endIndex"`
	Clusters   []curriculum.ThematicCluster `json:"clusters"`
	Attempts   int                          `json:"attempts"`
	Fallback   bool                         `json:"fallback,omitempty"`
	Cached     bool                         `json:"cached,omitempty"`
	Model      string                       `json:"model,omitempty"`
}

// ClusterStats summarizes a clustering run.
type ClusterStats struct {
	Chunks    int `json:"chunks"`
	Clusters  int `json:"clusters"`
	Items     int `json:"items"`
	Fallbacks int `json:"fallbacks"`
	Cached    int `json:"cached"`
}

// Clusters is the output of the clustering phase.
type Clusters struct {
	GeneratedAt time.Time     `json:"generatedAt"`
	Stats       ClusterStats  `json:"stats"`
	Results     []ChunkResult `json:"results"`
}

// RawClusters reads a clusters artifact without committing to a result
// shape, for consumers that accept older result layouts.
type RawClusters struct {
	GeneratedAt time.Time         `json:"generatedAt"`
	Results     []json.RawMessage `json:"results"`
}

// Items is an ordered item sequence with phase-specific stats.
type Items[S any] struct {
	GeneratedAt time.Time                   `json:"generatedAt"`
	Stats       S                           `json:"stats"`
	Items       []curriculum.AggregatedItem `json:"items"`
}

// CurriculumStats summarizes the final artifact.
type CurriculumStats struct {
	Items        int `json:"items"`
	Placeholders int `json:"placeholders"`
	Related      int `json:"related"`
	Nested       int `json:"nested"`
}

// Curriculum is the pipeline's durable output.
type Curriculum struct {
	GeneratedAt time.Time                   `json:"generatedAt"`
	RunID       string                      `json:"runId,omitempty"`
	Stats       CurriculumStats             `json:"stats"`
	Items       []curriculum.CurriculumItem `json:"items"`
}
