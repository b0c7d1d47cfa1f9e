// Package prompt renders the requests sent to the external model.
package prompt

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"text/template"

	"github.com/p-n-ai/pai-curriculum/internal/curriculum"
)

// System is the system message sent with every request.
const System = "You are a curriculum designer. You answer only with valid JSON."

//go:embed templates/*.tmpl
var templateFS embed.FS

// ItemView is the reduced projection of an item shown to the model.
type ItemView struct {
	Index         int      `json:"index"`
	ID            string   `json:"id"`
	Kind          string   `json:"kind,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	Technology    []string `json:"technology,omitempty"`
	Prerequisites []string `json:"prerequisites,omitempty"`
	Complexity    int      `json:"complexity,omitempty"`
	Relevance     int      `json:"relevance,omitempty"`
	LearningPath  string   `json:"learningPath,omitempty"`
}

// Project reduces metadata to the fields the model needs for clustering.
func Project(m curriculum.ItemMetadata) ItemView {
	return ItemView{
		Index:         m.Index,
		ID:            m.ID,
		Kind:          string(m.Kind),
		Tags:          m.Tags,
		Technology:    m.Technology,
		Prerequisites: m.Prerequisites,
		Complexity:    m.Complexity,
		Relevance:     m.Relevance(),
		LearningPath:  string(m.LearningPath),
	}
}

type sequenceView struct {
	Index         int      `json:"index"`
	ID            string   `json:"id,omitempty"`
	Module        string   `json:"module,omitempty"`
	Complexity    int      `json:"complexity,omitempty"`
	Prerequisites []string `json:"prerequisites,omitempty"`
}

// Builder renders prompts from the embedded templates.
type Builder struct {
	cluster  *template.Template
	sequence *template.Template
}

// NewBuilder parses the embedded templates.
func NewBuilder() (*Builder, error) {
	t, err := template.ParseFS(templateFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parsing prompt templates: %w", err)
	}
	return &Builder{
		cluster:  t.Lookup("cluster.tmpl"),
		sequence: t.Lookup("sequence.tmpl"),
	}, nil
}

// Cluster renders the clustering request for one chunk. attempt starts at 1;
// later attempts remind the model of the completeness rule.
func (b *Builder) Cluster(c curriculum.Chunk, attempt int) (string, error) {
	lines, err := jsonLines(len(c.Items), func(i int) any { return Project(c.Items[i]) })
	if err != nil {
		return "", err
	}
	return render(b.cluster, map[string]any{
		"Count":   c.Len(),
		"Start":   c.StartIndex,
		"End":     c.EndIndex,
		"Attempt": attempt,
		"Items":   lines,
	})
}

// Sequence renders the refinement request for an ordered sequence.
func (b *Builder) Sequence(items []curriculum.AggregatedItem) (string, error) {
	lines, err := jsonLines(len(items), func(i int) any {
		it := items[i]
		return sequenceView{
			Index:         it.Index,
			ID:            it.ID,
			Module:        it.ModuleName,
			Complexity:    it.Complexity,
			Prerequisites: it.Prerequisites,
		}
	})
	if err != nil {
		return "", err
	}
	return render(b.sequence, map[string]any{
		"Count": len(items),
		"Items": lines,
	})
}

func jsonLines(n int, view func(int) any) ([]string, error) {
	lines := make([]string, n)
	for i := range lines {
		b, err := json.Marshal(view(i))
		if err != nil {
			return nil, fmt.Errorf("encoding prompt item %d: %w", i, err)
		}
		lines[i] = string(b)
	}
	return lines, nil
}

func render(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering %s: %w", t.Name(), err)
	}
	return buf.String(), nil
}
