package interleave_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/p-n-ai/pai-curriculum/internal/curriculum"
	"github.com/p-n-ai/pai-curriculum/internal/interleave"
)

func seq(specs ...string) []curriculum.AggregatedItem {
	out := make([]curriculum.AggregatedItem, len(specs))
	for i, id := range specs {
		kind := curriculum.KindQuestion
		switch id[0] {
		case 't':
			kind = curriculum.KindTask
		case 'T':
			kind = curriculum.KindTheory
		}
		out[i] = curriculum.AggregatedItem{Index: i, ID: id, Kind: kind}
	}
	return out
}

func idsOf(items []curriculum.AggregatedItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func theory(id string, questions, tasks []string) curriculum.ItemMetadata {
	return curriculum.ItemMetadata{ID: id, Kind: curriculum.KindTheory, RelatedQuestions: questions, RelatedTasks: tasks}
}

func TestInterleave_QuestionsThenTasks(t *testing.T) {
	items := seq("T1", "x", "t1", "q2", "q1")
	meta := []curriculum.ItemMetadata{theory("T1", []string{"q1", "q2"}, []string{"t1"})}

	out, st := interleave.Interleave(items, meta)
	if diff := cmp.Diff([]string{"T1", "q1", "q2", "t1", "x"}, idsOf(out)); diff != "" {
		t.Errorf("Interleave() mismatch (-want +got):\n%s", diff)
	}
	for _, it := range out[1:4] {
		if !it.IsRelatedItem {
			t.Errorf("%s IsRelatedItem = false", it.ID)
		}
	}
	if out[4].IsRelatedItem {
		t.Error("unrelated item marked related")
	}
	if st.Related != 3 || st.Theory != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestInterleave_SkipsPlacedAndAbsent(t *testing.T) {
	items := seq("q1", "T1", "T2", "q2")
	meta := []curriculum.ItemMetadata{
		theory("T1", []string{"q1", "missing"}, nil),
		theory("T2", []string{"q1", "q2"}, nil),
	}

	out, st := interleave.Interleave(items, meta)
	if diff := cmp.Diff([]string{"q1", "T1", "T2", "q2"}, idsOf(out)); diff != "" {
		t.Errorf("Interleave() mismatch (-want +got):\n%s", diff)
	}
	if out[0].IsRelatedItem {
		t.Error("item placed before its theory marked related")
	}
	if st.Related != 1 {
		t.Errorf("Related = %d, want 1", st.Related)
	}
}

func TestInterleave_RelatedToTwoTheoriesPlacedOnce(t *testing.T) {
	items := seq("T1", "T2", "q1")
	meta := []curriculum.ItemMetadata{
		theory("T1", []string{"q1"}, nil),
		theory("T2", []string{"q1"}, nil),
	}

	out, _ := interleave.Interleave(items, meta)
	if diff := cmp.Diff([]string{"T1", "q1", "T2"}, idsOf(out)); diff != "" {
		t.Errorf("Interleave() mismatch (-want +got):\n%s", diff)
	}
}

func TestInterleave_WaitsForPrerequisites(t *testing.T) {
	items := seq("T1", "T0", "q1")
	items[2].Prerequisites = []string{"T0"}
	meta := []curriculum.ItemMetadata{theory("T1", []string{"q1"}, nil)}

	out, st := interleave.Interleave(items, meta)
	if diff := cmp.Diff([]string{"T1", "T0", "q1"}, idsOf(out)); diff != "" {
		t.Errorf("Interleave() mismatch (-want +got):\n%s", diff)
	}
	if st.Deferred != 1 {
		t.Errorf("Deferred = %d, want 1", st.Deferred)
	}
}

func TestInterleave_KeepsItemsWithoutID(t *testing.T) {
	items := seq("T1", "q1")
	items = append(items, curriculum.AggregatedItem{Index: 9}, curriculum.AggregatedItem{Index: 10})
	meta := []curriculum.ItemMetadata{theory("T1", []string{"q1"}, nil)}

	out, _ := interleave.Interleave(items, meta)
	if len(out) != len(items) {
		t.Errorf("len = %d, want %d", len(out), len(items))
	}
}
