package artifact_test

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/p-n-ai/pai-curriculum/internal/artifact"
)

type sample struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestWriteJSON_ReadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "sample.json")

	if err := artifact.WriteJSON(path, sample{Name: "first", Count: 1}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	if err := artifact.WriteJSON(path, sample{Name: "second", Count: 2}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}

	var got sample
	if err := artifact.ReadJSON(path, &got); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if diff := cmp.Diff(sample{Name: "second", Count: 2}, got); diff != "" {
		t.Errorf("ReadJSON() mismatch (-want +got):\n%s", diff)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("dir has %d entries, temp files left behind", len(entries))
	}
}

func TestWriteJSON_UnencodableKeepsPrevious(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.json")
	if err := artifact.WriteJSON(path, sample{Name: "kept"}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}

	if err := artifact.WriteJSON(path, map[string]any{"bad": func() {}}); err == nil {
		t.Fatal("WriteJSON() should fail for a func value")
	}

	var got sample
	if err := artifact.ReadJSON(path, &got); err != nil || got.Name != "kept" {
		t.Errorf("previous artifact lost: %+v, %v", got, err)
	}
}

func TestReadJSON_Errors(t *testing.T) {
	dir := t.TempDir()

	var v sample
	err := artifact.ReadJSON(filepath.Join(dir, "missing.json"), &v)
	if !errors.Is(err, artifact.ErrNotFound) {
		t.Errorf("ReadJSON(missing) error = %v, want ErrNotFound", err)
	}

	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	err = artifact.ReadJSON(bad, &v)
	if err == nil || errors.Is(err, artifact.ErrNotFound) {
		t.Errorf("ReadJSON(bad) error = %v, want a parse error", err)
	}
}

func TestReadOptional(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.json")
	bad := filepath.Join(dir, "bad.json")
	if err := artifact.WriteJSON(good, sample{Name: "ok"}); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(bad, []byte("[1,"), 0o644); err != nil {
		t.Fatal(err)
	}

	var v sample
	if !artifact.ReadOptional(good, &v) || v.Name != "ok" {
		t.Errorf("ReadOptional(good) = %+v", v)
	}
	if artifact.ReadOptional(bad, &v) {
		t.Error("ReadOptional(bad) should be false")
	}
	if artifact.ReadOptional(filepath.Join(dir, "absent.json"), &v) {
		t.Error("ReadOptional(absent) should be false")
	}
}

func TestArrayWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "edges.json")

	aw, err := artifact.NewArrayWriter(path, "edges")
	if err != nil {
		t.Fatalf("NewArrayWriter() error = %v", err)
	}
	for i := range 3 {
		if err := aw.Append(sample{Name: "e", Count: i}); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
	if aw.Count() != 3 {
		t.Errorf("Count() = %d, want 3", aw.Count())
	}
	if err := aw.Close(map[string]any{"total": 3, "complete": true}); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	var got struct {
		Edges    []sample `json:"edges"`
		Total    int      `json:"total"`
		Complete bool     `json:"complete"`
	}
	if err := artifact.ReadJSON(path, &got); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if len(got.Edges) != 3 || got.Edges[2].Count != 2 || got.Total != 3 || !got.Complete {
		t.Errorf("artifact = %+v", got)
	}
}

func TestArrayWriter_EmptyAndAbort(t *testing.T) {
	dir := t.TempDir()

	empty := filepath.Join(dir, "empty.json")
	aw, err := artifact.NewArrayWriter(empty, "edges")
	if err != nil {
		t.Fatalf("NewArrayWriter() error = %v", err)
	}
	if err := aw.Close(nil); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	var raw map[string]json.RawMessage
	if err := artifact.ReadJSON(empty, &raw); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if string(raw["edges"]) != "[]" {
		t.Errorf("edges = %s, want []", raw["edges"])
	}

	aborted := filepath.Join(dir, "aborted.json")
	aw, err = artifact.NewArrayWriter(aborted, "edges")
	if err != nil {
		t.Fatalf("NewArrayWriter() error = %v", err)
	}
	_ = aw.Append(1)
	aw.Abort()
	if _, err := os.Stat(aborted); !os.IsNotExist(err) {
		t.Errorf("aborted artifact exists: %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("dir has %d entries, want only the empty artifact", len(entries))
	}
}

func TestPaths(t *testing.T) {
	p := artifact.Paths{Dir: "/tmp/run"}
	if p.Curriculum() != filepath.Join("/tmp/run", "curriculum.json") {
		t.Errorf("Curriculum() = %s", p.Curriculum())
	}
	if p.WorkbookFile() != filepath.Join("/tmp/run", "curriculum.xlsx") {
		t.Errorf("WorkbookFile() = %s", p.WorkbookFile())
	}

	p.Output = "/out/final.json"
	p.Workbook = "/out/final.xlsx"
	if p.Curriculum() != "/out/final.json" || p.WorkbookFile() != "/out/final.xlsx" {
		t.Errorf("overrides ignored: %s, %s", p.Curriculum(), p.WorkbookFile())
	}
}

func TestRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sequenced.json")
	if err := artifact.WriteJSON(path, sample{Name: "old"}); err != nil {
		t.Fatal(err)
	}
	if err := artifact.Remove(path); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("artifact still exists: %v", err)
	}
	if err := artifact.Remove(path); err != nil {
		t.Errorf("Remove(absent) error = %v", err)
	}
}
