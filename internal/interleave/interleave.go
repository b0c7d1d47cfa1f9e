// Package interleave places practice material directly after the theory
// item that introduces it.
package interleave

import (
	"log/slog"

	"github.com/p-n-ai/pai-curriculum/internal/curriculum"
)

// Stats summarizes an interleaving pass.
type Stats struct {
	Items   int `json:"items"`
	Theory  int `json:"theory"`
	Related int `json:"related"`
	// Deferred counts related items left in place because one of their
	// prerequisites was not placed yet.
	Deferred int `json:"deferred"`
}

// Interleave makes one forward pass over items. After each theory item it
// inserts the item's related questions, then its related tasks, marked as
// related. Related ids that are not in the sequence, were already placed,
// or still wait for a prerequisite are skipped; they keep their own
// position. The output holds exactly the input items.
func Interleave(items []curriculum.AggregatedItem, meta []curriculum.ItemMetadata) ([]curriculum.AggregatedItem, Stats) {
	st := Stats{Items: len(items)}

	related := make(map[string][]string, len(meta))
	for _, m := range meta {
		if m.Kind != curriculum.KindTheory || m.ID == "" {
			continue
		}
		ids := make([]string, 0, len(m.RelatedQuestions)+len(m.RelatedTasks))
		ids = append(ids, m.RelatedQuestions...)
		ids = append(ids, m.RelatedTasks...)
		if len(ids) > 0 {
			related[m.ID] = ids
		}
	}

	byID := make(map[string]int, len(items))
	for i, it := range items {
		if it.ID == "" {
			continue
		}
		if _, dup := byID[it.ID]; !dup {
			byID[it.ID] = i
		}
	}

	placed := make(map[string]bool, len(items))
	ready := func(it curriculum.AggregatedItem) bool {
		for _, p := range it.Prerequisites {
			if _, inSeq := byID[p]; inSeq && !placed[p] {
				return false
			}
		}
		return true
	}

	out := make([]curriculum.AggregatedItem, 0, len(items))
	for _, it := range items {
		if it.ID != "" && placed[it.ID] {
			continue
		}
		out = append(out, it)
		if it.ID != "" {
			placed[it.ID] = true
		}
		if it.Kind != curriculum.KindTheory {
			continue
		}
		st.Theory++

		for _, id := range related[it.ID] {
			at, ok := byID[id]
			if !ok || placed[id] {
				continue
			}
			rel := items[at]
			if !ready(rel) {
				st.Deferred++
				continue
			}
			rel.IsRelatedItem = true
			out = append(out, rel)
			placed[id] = true
			st.Related++
		}
	}

	slog.Info("interleaving complete",
		"items", len(out),
		"theory", st.Theory,
		"related", st.Related,
		"deferred", st.Deferred,
	)
	return out, st
}
