// Package analysis validates structured replies from the external model
// before anything in them is trusted.
package analysis

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/p-n-ai/pai-curriculum/internal/curriculum"
)

const clusterSchema = `{
  "type": "object",
  "required": ["clusters"],
  "properties": {
    "clusters": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["name", "items"],
        "properties": {
          "name": {"type": "string", "minLength": 1, "pattern": "\\S"},
          "description": {"type": "string"},
          "items": {
            "type": "array",
            "minItems": 1,
            "items": {
              "type": "object",
              "required": ["index", "id"],
              "properties": {
                "index": {"type": "integer", "minimum": 0},
                "id": {"type": "string", "minLength": 1},
                "reason": {"type": "string"}
              }
            }
          }
        }
      }
    }
  }
}`

const orderSchema = `{
  "type": "object",
  "required": ["order"],
  "properties": {
    "order": {"type": "array", "items": {"type": "integer", "minimum": 0}}
  }
}`

// ValidationError lists the structural problems found in a reply.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid model reply: " + strings.Join(e.Problems, "; ")
}

// CompletenessError reports a reply whose indexes do not match its chunk.
type CompletenessError struct {
	Start, End int
	Missing    []int
	Unexpected []int
	Duplicates []int
}

func (e *CompletenessError) Error() string {
	return fmt.Sprintf("reply for [%d,%d] is incomplete: missing %v, unexpected %v, duplicated %v",
		e.Start, e.End, e.Missing, e.Unexpected, e.Duplicates)
}

// Analyzer holds the compiled reply schemas. It is safe for concurrent use.
type Analyzer struct {
	clusters *gojsonschema.Schema
	order    *gojsonschema.Schema
}

// New compiles the reply schemas.
func New() (*Analyzer, error) {
	clusters, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(clusterSchema))
	if err != nil {
		return nil, fmt.Errorf("compiling cluster schema: %w", err)
	}
	order, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(orderSchema))
	if err != nil {
		return nil, fmt.Errorf("compiling order schema: %w", err)
	}
	return &Analyzer{clusters: clusters, order: order}, nil
}

// Result is a validated clustering reply.
type Result struct {
	Clusters     []curriculum.ThematicCluster
	ClusterCount int
	ItemCount    int
}

// Indexes flattens the clusters into one index list, cluster order first.
func (r Result) Indexes() []int {
	out := make([]int, 0, r.ItemCount)
	for _, c := range r.Clusters {
		for _, it := range c.Items {
			out = append(out, it.Index)
		}
	}
	return out
}

// Clusters validates a clustering reply. A bare array of clusters and the
// older "thematic_clusters" key are accepted.
func (a *Analyzer) Clusters(raw json.RawMessage) (Result, error) {
	doc, err := normalize(raw, "clusters", "thematic_clusters")
	if err != nil {
		return Result{}, err
	}
	if err := validate(a.clusters, doc); err != nil {
		return Result{}, err
	}

	var parsed struct {
		Clusters []curriculum.ThematicCluster `json:"clusters"`
	}
	if err := json.Unmarshal(doc, &parsed); err != nil {
		return Result{}, &ValidationError{Problems: []string{err.Error()}}
	}

	res := Result{Clusters: parsed.Clusters, ClusterCount: len(parsed.Clusters)}
	for i := range res.Clusters {
		res.Clusters[i].Name = strings.TrimSpace(res.Clusters[i].Name)
		res.ItemCount += len(res.Clusters[i].Items)
	}
	return res, nil
}

// Order validates a sequencing reply and returns the proposed index order.
// A bare array of indexes is accepted.
func (a *Analyzer) Order(raw json.RawMessage) ([]int, error) {
	doc, err := normalize(raw, "order", "sequence")
	if err != nil {
		return nil, err
	}
	if err := validate(a.order, doc); err != nil {
		return nil, err
	}
	var parsed struct {
		Order []int `json:"order"`
	}
	if err := json.Unmarshal(doc, &parsed); err != nil {
		return nil, &ValidationError{Problems: []string{err.Error()}}
	}
	return parsed.Order, nil
}

// normalize rewrites a bare array or an aliased key into {key: [...]}.
func normalize(raw json.RawMessage, key string, aliases ...string) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return nil, &ValidationError{Problems: []string{"empty reply"}}
	}
	if trimmed[0] == '[' {
		return json.Marshal(map[string]json.RawMessage{key: json.RawMessage(trimmed)})
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &obj); err != nil {
		return nil, &ValidationError{Problems: []string{"reply is not a JSON object or array"}}
	}
	if _, ok := obj[key]; ok {
		return json.RawMessage(trimmed), nil
	}
	for _, alias := range aliases {
		if v, ok := obj[alias]; ok {
			return json.Marshal(map[string]json.RawMessage{key: v})
		}
	}
	return json.RawMessage(trimmed), nil
}

func validate(schema *gojsonschema.Schema, doc json.RawMessage) error {
	res, err := schema.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return &ValidationError{Problems: []string{err.Error()}}
	}
	if res.Valid() {
		return nil
	}
	problems := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		problems = append(problems, e.String())
	}
	return &ValidationError{Problems: problems}
}

// CheckCompleteness verifies indexes is exactly {start..end} with no
// duplicates, in any order.
func CheckCompleteness(indexes []int, start, end int) error {
	seen := make(map[int]int, len(indexes))
	for _, idx := range indexes {
		seen[idx]++
	}

	e := &CompletenessError{Start: start, End: end}
	for i := start; i <= end; i++ {
		if seen[i] == 0 {
			e.Missing = append(e.Missing, i)
		}
	}
	for idx, n := range seen {
		if idx < start || idx > end {
			e.Unexpected = append(e.Unexpected, idx)
		} else if n > 1 {
			e.Duplicates = append(e.Duplicates, idx)
		}
	}
	if len(e.Missing) == 0 && len(e.Unexpected) == 0 && len(e.Duplicates) == 0 {
		return nil
	}
	sort.Ints(e.Unexpected)
	sort.Ints(e.Duplicates)
	return e
}

// CheckPermutation verifies got reorders want without adding, dropping or
// repeating any index.
func CheckPermutation(got, want []int) error {
	if len(got) != len(want) {
		return &ValidationError{Problems: []string{fmt.Sprintf("order has %d indexes, want %d", len(got), len(want))}}
	}
	counts := make(map[int]int, len(want))
	for _, idx := range want {
		counts[idx]++
	}
	var problems []string
	for _, idx := range got {
		counts[idx]--
		if counts[idx] < 0 {
			problems = append(problems, fmt.Sprintf("index %d is unknown or repeated", idx))
		}
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}
