// Package curriculum defines the records that flow through the curriculum
// generation pipeline and loads the content store they originate from.
package curriculum

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Kind is the type of a content item.
type Kind string

const (
	KindTheory   Kind = "theory"
	KindQuestion Kind = "question"
	KindTask     Kind = "task"
)

// Kinds lists every kind in container order.
var Kinds = []Kind{KindTheory, KindQuestion, KindTask}

// ContainerKey returns the array key holding items of this kind inside a container.
func (k Kind) ContainerKey() string {
	switch k {
	case KindTheory:
		return "theory"
	case KindQuestion:
		return "questions"
	case KindTask:
		return "tasks"
	default:
		return ""
	}
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k.ContainerKey() != ""
}

// ParseKind accepts both kind names ("question") and container keys ("questions").
func ParseKind(s string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "theory":
		return KindTheory, true
	case "question", "questions":
		return KindQuestion, true
	case "task", "tasks":
		return KindTask, true
	default:
		return "", false
	}
}

// LearningPath is the audience level an item targets.
type LearningPath string

const (
	PathBeginner     LearningPath = "beginner"
	PathIntermediate LearningPath = "intermediate"
	PathAdvanced     LearningPath = "advanced"
	PathExpert       LearningPath = "expert"
)

// Level maps the path onto 1..4; unknown paths are 0.
func (p LearningPath) Level() int {
	switch LearningPath(strings.ToLower(string(p))) {
	case PathBeginner:
		return 1
	case PathIntermediate:
		return 2
	case PathAdvanced:
		return 3
	case PathExpert:
		return 4
	default:
		return 0
	}
}

// MaxPathLevel is the highest value returned by LearningPath.Level.
const MaxPathLevel = 4

// StringSet is a list of strings that also accepts a single scalar in JSON.
type StringSet []string

func (s *StringSet) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = nil
		return nil
	}
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		if one == "" {
			*s = nil
		} else {
			*s = StringSet{one}
		}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("expected string or list of strings: %w", err)
	}
	*s = many
	return nil
}

// ContentItem is the attribute view of one record in the content store.
// The full payload is kept separately as raw JSON.
type ContentItem struct {
	ID                 string       `json:"id"`
	Kind               Kind         `json:"kind,omitempty"`
	Title              string       `json:"title"`
	Description        string       `json:"description,omitempty"`
	Tags               StringSet    `json:"tags,omitempty"`
	Technology         StringSet    `json:"technology,omitempty"`
	Complexity         int          `json:"complexity,omitempty"`
	Difficulty         string       `json:"difficulty,omitempty"`
	LearningPath       LearningPath `json:"learningPath,omitempty"`
	Prerequisites      []string     `json:"prerequisites,omitempty"`
	RequiredFor        []string     `json:"requiredFor,omitempty"`
	RelatedQuestions   []string     `json:"relatedQuestions,omitempty"`
	RelatedTasks       []string     `json:"relatedTasks,omitempty"`
	InterviewRelevance int          `json:"interviewRelevance,omitempty"`
	InterviewFrequency int          `json:"interviewFrequency,omitempty"`
	Irrelevant         bool         `json:"irrelevant,omitempty"`
}

// Origin locates an item in the source store.
type Origin struct {
	Container   int    `json:"container"`
	ContainerID string `json:"containerId,omitempty"`
	Kind        Kind   `json:"kind"`
	Position    int    `json:"position"`
}

func (o Origin) String() string {
	return fmt.Sprintf("%d.%s.%d", o.Container, o.Kind, o.Position)
}

// ItemMetadata is the compact per-item record produced by metadata extraction.
// Index is the item's position in the metadata sequence and is the unit the
// chunk completeness contract is expressed in.
type ItemMetadata struct {
	Index              int          `json:"index"`
	ID                 string       `json:"id"`
	Kind               Kind         `json:"kind"`
	Title              string       `json:"title,omitempty"`
	Tags               []string     `json:"tags,omitempty"`
	Technology         []string     `json:"technology,omitempty"`
	Complexity         int          `json:"complexity,omitempty"`
	Difficulty         string       `json:"difficulty,omitempty"`
	LearningPath       LearningPath `json:"learningPath,omitempty"`
	Prerequisites      []string     `json:"prerequisites,omitempty"`
	RequiredFor        []string     `json:"requiredFor,omitempty"`
	RelatedQuestions   []string     `json:"relatedQuestions,omitempty"`
	RelatedTasks       []string     `json:"relatedTasks,omitempty"`
	InterviewRelevance int          `json:"interviewRelevance,omitempty"`
	InterviewFrequency int          `json:"interviewFrequency,omitempty"`
	OriginalIndex      Origin       `json:"originalIndex"`
}

// Relevance returns the interview relevance or frequency, whichever the item carries.
func (m ItemMetadata) Relevance() int {
	if m.InterviewRelevance > m.InterviewFrequency {
		return m.InterviewRelevance
	}
	return m.InterviewFrequency
}

// EdgeType distinguishes how a dependency edge was declared.
type EdgeType string

const (
	EdgePrerequisite EdgeType = "prerequisite"
	EdgeRequiredFor  EdgeType = "requiredFor"
)

// DependencyEdge means Source should be learned before Target.
type DependencyEdge struct {
	Source string   `json:"source"`
	Target string   `json:"target"`
	Type   EdgeType `json:"type"`
}

// DependencyGraph may contain cycles.
type DependencyGraph struct {
	Nodes []string         `json:"nodes"`
	Edges []DependencyEdge `json:"edges"`
}

// SimilarityEdge is undirected; Weight is in [0,1].
type SimilarityEdge struct {
	Source string  `json:"source"`
	Target string  `json:"target"`
	Weight float64 `json:"weight"`
}

// SimilarityGraph is sparse and may be empty.
type SimilarityGraph struct {
	Edges []SimilarityEdge `json:"edges"`
}

// ItemScore is the deterministic ranking of one item. All components are in [0,1].
type ItemScore struct {
	Index               int     `json:"index"`
	ID                  string  `json:"id"`
	Layer               int     `json:"layer"`
	PrerequisiteDepth   float64 `json:"prerequisiteDepth"`
	DifficultyRelevance float64 `json:"difficultyRelevance"`
	ThematicCohesion    float64 `json:"thematicCohesion"`
	CompositeScore      float64 `json:"compositeScore"`
}

// Chunk is a contiguous slice of the metadata sequence. StartIndex and
// EndIndex are inclusive positions in the full sequence.
type Chunk struct {
	ChunkID    int            `json:"chunkId"`
	StartIndex int            `json:"startIndex"`
	EndIndex   int            `json:"endIndex"`
	Items      []ItemMetadata `json:"items,omitempty"`
}

// Len returns the number of indexes the chunk covers.
func (c Chunk) Len() int {
	if c.EndIndex < c.StartIndex {
		return 0
	}
	return c.EndIndex - c.StartIndex + 1
}

// ClusterItem is one item placement proposed for a cluster.
type ClusterItem struct {
	Index  int    `json:"index"`
	ID     string `json:"id"`
	Reason string `json:"reason,omitempty"`
}

// ThematicCluster is a named group of items in learning order.
type ThematicCluster struct {
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Items       []ClusterItem `json:"items"`
}

// AggregatedItem is the working record carried through aggregation,
// sequencing and interleaving.
type AggregatedItem struct {
	Index         int      `json:"index"`
	ID            string   `json:"id,omitempty"`
	Kind          Kind     `json:"kind,omitempty"`
	ModuleID      string   `json:"moduleId,omitempty"`
	ModuleName    string   `json:"moduleName,omitempty"`
	Complexity    int      `json:"complexity,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	Prerequisites []string `json:"prerequisites,omitempty"`
	IsRelatedItem bool     `json:"isRelatedItem,omitempty"`
}

// CurriculumItem is one entry of the final artifact.
type CurriculumItem struct {
	Position int `json:"position"`
	AggregatedItem
	ParentID    string          `json:"parentId,omitempty"`
	Title       string          `json:"title,omitempty"`
	Description string          `json:"description,omitempty"`
	Placeholder bool            `json:"placeholder,omitempty"`
	Content     json.RawMessage `json:"content,omitempty"`
}

// NestedID builds the id assigned to an item that has none of its own.
func NestedID(parent string, kind Kind, position int) string {
	return parent + "." + string(kind) + "." + strconv.Itoa(position)
}

// ParseNestedID splits an id of the form parent.kind.position. The parent
// part may itself contain dots.
func ParseNestedID(id string) (parent string, kind Kind, position int, ok bool) {
	last := strings.LastIndex(id, ".")
	if last <= 0 {
		return "", "", 0, false
	}
	pos, err := strconv.Atoi(id[last+1:])
	if err != nil || pos < 0 {
		return "", "", 0, false
	}
	rest := id[:last]
	mid := strings.LastIndex(rest, ".")
	if mid <= 0 {
		return "", "", 0, false
	}
	k, found := ParseKind(rest[mid+1:])
	if !found {
		return "", "", 0, false
	}
	return rest[:mid], k, pos, true
}
