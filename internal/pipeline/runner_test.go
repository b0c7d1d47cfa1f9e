package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/p-n-ai/pai-curriculum/internal/ai"
	"github.com/p-n-ai/pai-curriculum/internal/artifact"
	"github.com/p-n-ai/pai-curriculum/internal/chunk"
	"github.com/p-n-ai/pai-curriculum/internal/clustering"
	"github.com/p-n-ai/pai-curriculum/internal/pipeline"
)

type storeItem struct {
	ID               string   `json:"id"`
	Title            string   `json:"title"`
	Tags             []string `json:"tags,omitempty"`
	Complexity       int      `json:"complexity"`
	LearningPath     string   `json:"learningPath"`
	Prerequisites    []string `json:"prerequisites,omitempty"`
	RelatedQuestions []string `json:"relatedQuestions,omitempty"`
	RelatedTasks     []string `json:"relatedTasks,omitempty"`
}

type storeContainer struct {
	ID        string      `json:"id"`
	Theory    []storeItem `json:"theory"`
	Questions []storeItem `json:"questions"`
	Tasks     []storeItem `json:"tasks"`
}

var paths = []string{"beginner", "intermediate", "advanced", "expert"}

// writeStore writes 10 containers of 4 theory, 4 question and 2 task items.
// Every tenth item declares a prerequisite on an item created before it, so
// the dependency graph has no cycles. It returns the declared edges.
func writeStore(t *testing.T, dir string) (string, map[string]string) {
	t.Helper()
	prereqs := make(map[string]string)
	var created []string
	n := 0

	mk := func(id string, topic int) storeItem {
		it := storeItem{
			ID:           id,
			Title:        "Item " + id,
			Tags:         []string{fmt.Sprintf("topic-%d", topic%4), "go"},
			Complexity:   n%5 + 1,
			LearningPath: paths[topic%len(paths)],
		}
		if n%10 == 9 {
			// Point backwards across containers to force cross-chunk edges.
			p := created[(n*37+11)%len(created)]
			it.Prerequisites = []string{p}
			prereqs[id] = p
		}
		created = append(created, id)
		n++
		return it
	}

	var store []storeContainer
	for c := 0; c < 10; c++ {
		ct := storeContainer{ID: fmt.Sprintf("topic-%d", c)}
		for i := 0; i < 4; i++ {
			ct.Theory = append(ct.Theory, mk(fmt.Sprintf("th-%d-%d", c, i), c))
		}
		for i := 0; i < 4; i++ {
			ct.Questions = append(ct.Questions, mk(fmt.Sprintf("q-%d-%d", c, i), c))
		}
		for i := 0; i < 2; i++ {
			ct.Tasks = append(ct.Tasks, mk(fmt.Sprintf("task-%d-%d", c, i), c))
		}
		ct.Theory[0].RelatedQuestions = []string{ct.Questions[0].ID, ct.Questions[1].ID}
		ct.Theory[0].RelatedTasks = []string{ct.Tasks[0].ID}
		store = append(store, ct)
	}

	data, err := json.Marshal(store)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "content.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path, prereqs
}

func testConfig() pipeline.Config {
	cfg := pipeline.DefaultConfig()
	cfg.Chunking = chunk.Config{Strategy: chunk.StrategyCount, TargetChunks: 7}
	cfg.Clustering = clustering.Config{Parallelism: 3, MaxAttempts: 2}
	cfg.Workbook = true
	return cfg
}

func checkCurriculum(t *testing.T, p artifact.Paths, prereqs map[string]string) artifact.Curriculum {
	t.Helper()
	var out artifact.Curriculum
	if err := artifact.ReadJSON(p.Curriculum(), &out); err != nil {
		t.Fatalf("ReadJSON(curriculum) error = %v", err)
	}
	if len(out.Items) != 100 {
		t.Fatalf("curriculum items = %d, want 100", len(out.Items))
	}
	if out.Stats.Placeholders != 0 {
		t.Errorf("Placeholders = %d, want 0", out.Stats.Placeholders)
	}

	pos := make(map[string]int, len(out.Items))
	for i, it := range out.Items {
		if _, dup := pos[it.ID]; dup {
			t.Errorf("%s appears twice", it.ID)
		}
		pos[it.ID] = i
		if it.Position != i+1 {
			t.Errorf("item %s Position = %d, want %d", it.ID, it.Position, i+1)
		}
		if len(it.Content) == 0 {
			t.Errorf("item %s has no content", it.ID)
		}
	}
	for item, pre := range prereqs {
		if pos[pre] >= pos[item] {
			t.Errorf("%s at %d comes before its prerequisite %s at %d", item, pos[item], pre, pos[pre])
		}
	}
	return out
}

func TestRunner_EndToEndWithoutModel(t *testing.T) {
	dir := t.TempDir()
	store, prereqs := writeStore(t, dir)
	if len(prereqs) != 10 {
		t.Fatalf("fixture has %d prerequisite edges, want 10", len(prereqs))
	}
	p := artifact.Paths{Dir: filepath.Join(dir, "artifacts"), ContentStore: store}
	events := pipeline.NewMemoryEventLogger()

	r := pipeline.NewRunner(p, testConfig(), pipeline.WithEventLogger(events))
	all, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(all) != len(pipeline.Phases) {
		t.Fatalf("stats = %d, want %d", len(all), len(pipeline.Phases))
	}

	var meta artifact.Metadata
	if err := artifact.ReadJSON(p.Metadata(), &meta); err != nil {
		t.Fatalf("ReadJSON(metadata) error = %v", err)
	}
	if sum := meta.Stats.Theory + meta.Stats.Questions + meta.Stats.Tasks; sum != 100 || meta.Stats.Total != 100 {
		t.Errorf("metadata counts = %+v, want 100 in total", meta.Stats)
	}

	out := checkCurriculum(t, p, prereqs)
	if out.RunID != r.RunID() {
		t.Errorf("RunID = %q, want %q", out.RunID, r.RunID())
	}
	if out.Stats.Related == 0 {
		t.Error("no related items were interleaved")
	}

	var clusters artifact.Clusters
	if err := artifact.ReadJSON(p.Clusters(), &clusters); err != nil {
		t.Fatalf("ReadJSON(clusters) error = %v", err)
	}
	if clusters.Stats.Fallbacks != clusters.Stats.Chunks || clusters.Stats.Chunks != 7 {
		t.Errorf("cluster stats = %+v, want 7 fallback chunks", clusters.Stats)
	}

	if _, err := os.Stat(p.WorkbookFile()); err != nil {
		t.Errorf("workbook not written: %v", err)
	}

	evs := events.Events()
	if len(evs) != len(pipeline.Phases) {
		t.Fatalf("events = %d, want %d", len(evs), len(pipeline.Phases))
	}
	for i, ev := range evs {
		if ev.Phase != pipeline.Phases[i] || ev.Status != "ok" || ev.RunID != r.RunID() {
			t.Errorf("event %d = %+v", i, ev)
		}
	}
}

// modelHandler clusters every chunk as one reversed cluster and reverses
// any sequence it is asked to refine.
func modelHandler(req ai.CompletionRequest) (string, error) {
	type line struct {
		Index int    `json:"index"`
		ID    string `json:"id"`
	}
	var lines []line
	for _, l := range strings.Split(req.Messages[len(req.Messages)-1].Content, "\n") {
		if !strings.HasPrefix(l, `{"index":`) {
			continue
		}
		var v line
		if err := json.Unmarshal([]byte(l), &v); err != nil {
			return "", err
		}
		lines = append(lines, v)
	}
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}

	if req.Task == ai.TaskSequencing {
		order := make([]int, len(lines))
		for i, l := range lines {
			order[i] = l.Index
		}
		b, err := json.Marshal(map[string]any{"order": order})
		return string(b), err
	}
	b, err := json.Marshal(map[string]any{"clusters": []map[string]any{{"name": "reversed", "items": lines}}})
	return "```json\n" + string(b) + "\n```", err
}

func TestRunner_EndToEndWithModel(t *testing.T) {
	dir := t.TempDir()
	store, prereqs := writeStore(t, dir)
	p := artifact.Paths{Dir: filepath.Join(dir, "artifacts"), ContentStore: store}

	mock := &ai.MockProvider{Handler: modelHandler}
	client := ai.NewClient(mock, ai.ClientConfig{
		Model:          "test-model",
		MaxAttempts:    2,
		Timeout:        time.Second,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
	})
	cache := clustering.NewMemoryCache()

	r := pipeline.NewRunner(p, testConfig(), pipeline.WithClient(client), pipeline.WithCache(cache))
	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	checkCurriculum(t, p, prereqs)

	var seq artifact.Items[json.RawMessage]
	if err := artifact.ReadJSON(p.Sequenced(), &seq); err != nil {
		t.Fatalf("ReadJSON(sequenced) error = %v", err)
	}
	var st struct {
		Refined bool `json:"refined"`
	}
	if err := json.Unmarshal(seq.Stats, &st); err != nil || !st.Refined {
		t.Errorf("sequence stats = %s, want refined", seq.Stats)
	}
	calls := mock.Calls()
	if calls != 8 {
		t.Errorf("model calls = %d, want 7 chunks + 1 refinement", calls)
	}

	// A second clustering run is served from the cache.
	if _, err := r.Cluster(context.Background()); err != nil {
		t.Fatalf("Cluster() error = %v", err)
	}
	if mock.Calls() != calls {
		t.Errorf("model calls after cached rerun = %d, want %d", mock.Calls(), calls)
	}
}

func TestRunner_MissingInputs(t *testing.T) {
	dir := t.TempDir()
	p := artifact.Paths{Dir: dir, ContentStore: filepath.Join(dir, "absent.json")}
	events := pipeline.NewMemoryEventLogger()
	r := pipeline.NewRunner(p, testConfig(), pipeline.WithEventLogger(events))

	if _, err := r.Extract(context.Background()); err == nil {
		t.Error("Extract() should fail without a content store")
	}
	if _, err := r.Score(context.Background()); !errors.Is(err, artifact.ErrNotFound) {
		t.Errorf("Score() error = %v, want ErrNotFound", err)
	}
	if _, err := os.Stat(p.Metadata()); !os.IsNotExist(err) {
		t.Error("failed phase wrote an artifact")
	}

	evs := events.Events()
	if len(evs) != 2 || evs[0].Status != "failed" || evs[0].Error == "" {
		t.Errorf("events = %+v, want two failures", evs)
	}
}

func TestRunner_InterleaveFallsBackToAggregated(t *testing.T) {
	dir := t.TempDir()
	store, _ := writeStore(t, dir)
	p := artifact.Paths{Dir: filepath.Join(dir, "artifacts"), ContentStore: store}
	r := pipeline.NewRunner(p, testConfig())

	for _, phase := range []pipeline.Phase{
		pipeline.PhaseExtract, pipeline.PhaseGraph, pipeline.PhaseChunk,
		pipeline.PhaseCluster, pipeline.PhaseAggregate, pipeline.PhaseInterleave,
	} {
		if _, err := r.RunPhase(context.Background(), phase); err != nil {
			t.Fatalf("RunPhase(%s) error = %v", phase, err)
		}
	}
	st, err := r.Write(context.Background())
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if st.Items != 100 || st.Phase != pipeline.PhaseWrite {
		t.Errorf("Write() stats = %+v", st)
	}
}

func TestRunner_RerunAggregateDropsStaleSequence(t *testing.T) {
	dir := t.TempDir()
	store, _ := writeStore(t, dir)
	p := artifact.Paths{Dir: filepath.Join(dir, "artifacts"), ContentStore: store}
	r := pipeline.NewRunner(p, testConfig())

	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if _, err := os.Stat(p.Sequenced()); err != nil {
		t.Fatalf("sequenced artifact missing after a full run: %v", err)
	}

	small := `[{"id": "basics", "theory": [
		{"id": "vars", "title": "Variables", "tags": ["go"], "complexity": 1, "relatedQuestions": ["vars-q"]},
		{"id": "funcs", "title": "Functions", "tags": ["go"], "complexity": 2, "prerequisites": ["vars"]}],
		"questions": [{"id": "vars-q", "title": "Declare a variable", "tags": ["go"], "complexity": 1}]}]`
	if err := os.WriteFile(store, []byte(small), 0o644); err != nil {
		t.Fatal(err)
	}

	for _, phase := range []pipeline.Phase{
		pipeline.PhaseExtract, pipeline.PhaseGraph, pipeline.PhaseChunk,
		pipeline.PhaseCluster, pipeline.PhaseAggregate,
	} {
		if _, err := r.RunPhase(context.Background(), phase); err != nil {
			t.Fatalf("RunPhase(%s) error = %v", phase, err)
		}
	}
	if _, err := os.Stat(p.Sequenced()); !os.IsNotExist(err) {
		t.Errorf("stale sequenced artifact survived aggregate: %v", err)
	}

	st, err := r.Interleave(context.Background())
	if err != nil {
		t.Fatalf("Interleave() error = %v", err)
	}
	if st.Items != 3 {
		t.Errorf("Interleave() items = %d, want 3 from the new aggregate", st.Items)
	}
	wst, err := r.Write(context.Background())
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if wst.Items != 3 {
		t.Errorf("Write() items = %d, want 3", wst.Items)
	}
}

func TestRunner_CanceledBetweenPhases(t *testing.T) {
	dir := t.TempDir()
	store, _ := writeStore(t, dir)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := pipeline.NewRunner(artifact.Paths{Dir: dir, ContentStore: store}, testConfig())
	all, err := r.Run(ctx)
	if !errors.Is(err, context.Canceled) || len(all) != 0 {
		t.Errorf("Run() = %d phases, err %v; want none and context.Canceled", len(all), err)
	}
}

func TestParsePhase(t *testing.T) {
	for _, p := range pipeline.Phases {
		if got, ok := pipeline.ParsePhase(string(p)); !ok || got != p {
			t.Errorf("ParsePhase(%q) = %q, %v", p, got, ok)
		}
	}
	if _, ok := pipeline.ParsePhase("deploy"); ok {
		t.Error("ParsePhase(deploy) should fail")
	}
	if _, err := pipeline.NewRunner(artifact.Paths{}, pipeline.DefaultConfig()).RunPhase(context.Background(), "deploy"); err == nil {
		t.Error("RunPhase(deploy) should fail")
	}
}
