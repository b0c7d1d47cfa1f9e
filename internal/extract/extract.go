// Package extract reduces the content store to compact per-item metadata.
package extract

import (
	"log/slog"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/p-n-ai/pai-curriculum/internal/artifact"
	"github.com/p-n-ai/pai-curriculum/internal/curriculum"
)

const (
	minComplexity = 1
	maxComplexity = 5
)

// Result is the flat metadata sequence and its counts.
type Result struct {
	Items []curriculum.ItemMetadata
	Stats artifact.MetadataStats
}

// Extract builds one metadata record per non-excluded record, in store
// order. Items marked irrelevant are dropped and counted as excluded.
func Extract(records []curriculum.Record) Result {
	res := Result{Items: make([]curriculum.ItemMetadata, 0, len(records))}

	for _, rec := range records {
		if rec.Item.Irrelevant {
			res.Stats.Excluded++
			continue
		}

		m := toMetadata(rec)
		m.Index = len(res.Items)
		res.Items = append(res.Items, m)

		switch m.Kind {
		case curriculum.KindTheory:
			res.Stats.Theory++
		case curriculum.KindQuestion:
			res.Stats.Questions++
		case curriculum.KindTask:
			res.Stats.Tasks++
		}
	}
	res.Stats.Total = len(res.Items)
	dropped := practiceOnly(res.Items, records)

	slog.Debug("metadata extracted",
		"total", res.Stats.Total,
		"theory", res.Stats.Theory,
		"questions", res.Stats.Questions,
		"tasks", res.Stats.Tasks,
		"excluded", res.Stats.Excluded,
		"theory_links_dropped", dropped,
	)
	return res
}

// practiceOnly removes related ids that name theory items. Interleaving
// expands one level only, so a theory item pulled under another would
// leave its own practice behind. It returns how many ids were removed.
func practiceOnly(items []curriculum.ItemMetadata, records []curriculum.Record) int {
	theory := make(map[string]bool)
	for _, rec := range records {
		if rec.Kind == curriculum.KindTheory {
			theory[rec.ID] = true
		}
	}
	dropped := 0
	keep := func(ids []string) []string {
		out := ids[:0]
		for _, id := range ids {
			if theory[id] {
				dropped++
				continue
			}
			out = append(out, id)
		}
		if len(out) == 0 {
			return nil
		}
		return out
	}
	for i := range items {
		items[i].RelatedQuestions = keep(items[i].RelatedQuestions)
		items[i].RelatedTasks = keep(items[i].RelatedTasks)
	}
	return dropped
}

func toMetadata(rec curriculum.Record) curriculum.ItemMetadata {
	it := rec.Item
	m := curriculum.ItemMetadata{
		ID:                 rec.ID,
		Kind:               rec.Kind,
		Title:              strings.TrimSpace(it.Title),
		Tags:               Canonical(it.Tags),
		Technology:         Canonical(it.Technology),
		Complexity:         clampComplexity(it.Complexity),
		Difficulty:         strings.ToLower(strings.TrimSpace(it.Difficulty)),
		LearningPath:       curriculum.LearningPath(strings.ToLower(strings.TrimSpace(string(it.LearningPath)))),
		Prerequisites:      compactIDs(it.Prerequisites),
		RequiredFor:        compactIDs(it.RequiredFor),
		InterviewRelevance: clampRating(it.InterviewRelevance),
		InterviewFrequency: clampRating(it.InterviewFrequency),
		OriginalIndex:      rec.Origin,
	}
	if rec.Kind == curriculum.KindTheory {
		m.RelatedQuestions = compactIDs(it.RelatedQuestions)
		m.RelatedTasks = compactIDs(it.RelatedTasks)
	}
	return m
}

// Canonical normalizes tag-like strings (NFKC, case folded, trimmed) and
// removes blanks and duplicates while keeping first-seen order.
func Canonical(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	fold := cases.Fold()
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(norm.NFKC.String(s))
		if s == "" {
			continue
		}
		s = fold.String(s)
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func compactIDs(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func clampComplexity(c int) int {
	switch {
	case c < minComplexity:
		return 0
	case c > maxComplexity:
		return maxComplexity
	default:
		return c
	}
}

func clampRating(r int) int {
	if r <= 0 {
		return 0
	}
	if r > maxComplexity {
		return maxComplexity
	}
	return r
}
