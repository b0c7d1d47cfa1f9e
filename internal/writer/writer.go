// Package writer resolves the final sequence against the content store and
// produces the curriculum artifact.
package writer

import (
	"fmt"
	"log/slog"

	"github.com/p-n-ai/pai-curriculum/internal/artifact"
	"github.com/p-n-ai/pai-curriculum/internal/curriculum"
)

// Resolver looks items up in the content store. *curriculum.Loader
// implements it.
type Resolver interface {
	Resolve(id string) (curriculum.Record, bool)
}

// Build turns the ordered sequence into curriculum items. Every input item
// yields exactly one output item: ids that cannot be resolved become
// placeholders carrying the sequencing fields.
func Build(items []curriculum.AggregatedItem, store Resolver) ([]curriculum.CurriculumItem, artifact.CurriculumStats) {
	out := make([]curriculum.CurriculumItem, 0, len(items))
	var st artifact.CurriculumStats

	for i, it := range items {
		ci := curriculum.CurriculumItem{Position: i + 1, AggregatedItem: it}
		if it.IsRelatedItem {
			st.Related++
		}

		rec, ok := lookup(store, it.ID)
		if !ok {
			ci.Placeholder = true
			ci.Title = placeholderTitle(it)
			st.Placeholders++
			slog.Warn("item not found in content store, writing placeholder", "id", it.ID, "index", it.Index)
			out = append(out, ci)
			continue
		}

		ci.ParentID = rec.ParentID
		ci.Title = rec.Item.Title
		ci.Description = rec.Item.Description
		ci.Content = rec.Raw
		if ci.Kind == "" {
			ci.Kind = rec.Kind
		}
		if ci.Complexity == 0 {
			ci.Complexity = rec.Item.Complexity
		}
		if len(ci.Tags) == 0 {
			ci.Tags = rec.Item.Tags
		}
		if len(ci.Prerequisites) == 0 {
			ci.Prerequisites = rec.Item.Prerequisites
		}
		if rec.ParentID != "" {
			st.Nested++
		}
		out = append(out, ci)
	}
	st.Items = len(out)

	slog.Info("curriculum built",
		"items", st.Items,
		"placeholders", st.Placeholders,
		"related", st.Related,
		"nested", st.Nested,
	)
	return out, st
}

func lookup(store Resolver, id string) (curriculum.Record, bool) {
	if id == "" || store == nil {
		return curriculum.Record{}, false
	}
	return store.Resolve(id)
}

func placeholderTitle(it curriculum.AggregatedItem) string {
	if it.ID == "" {
		return fmt.Sprintf("Unresolved item at index %d", it.Index)
	}
	return "Unresolved item " + it.ID
}
