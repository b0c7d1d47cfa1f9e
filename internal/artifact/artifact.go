// Package artifact persists the files exchanged between pipeline phases.
// Every write replaces the whole file through a temp file and rename, so a
// crashed phase leaves either the previous artifact or none.
package artifact

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

// ErrNotFound reports a required artifact that does not exist.
var ErrNotFound = errors.New("artifact not found")

// Paths resolves every artifact location for a run.
type Paths struct {
	Dir          string
	ContentStore string
	Output       string
	Workbook     string
}

func (p Paths) file(name string) string { return filepath.Join(p.Dir, name) }

func (p Paths) Metadata() string        { return p.file("metadata.json") }
func (p Paths) DependencyGraph() string { return p.file("dependency_graph.json") }
func (p Paths) SimilarityGraph() string { return p.file("similarity_graph.json") }
func (p Paths) Scores() string          { return p.file("scores.json") }
func (p Paths) Chunks() string          { return p.file("chunks.json") }
func (p Paths) Clusters() string        { return p.file("clusters.json") }
func (p Paths) Aggregated() string      { return p.file("aggregated.json") }
func (p Paths) Sequenced() string       { return p.file("sequenced.json") }
func (p Paths) Interleaved() string     { return p.file("interleaved.json") }

// WorkbookFile returns the review workbook location.
func (p Paths) WorkbookFile() string {
	if p.Workbook != "" {
		return p.Workbook
	}
	return p.file("curriculum.xlsx")
}

// Curriculum returns the final artifact location.
func (p Paths) Curriculum() string {
	if p.Output != "" {
		return p.Output
	}
	return p.file("curriculum.json")
}

// WriteJSON atomically replaces path with the JSON encoding of v.
func WriteJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	w := bufio.NewWriter(tmp)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := w.Flush(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

// ReadJSON decodes a required artifact. A missing file wraps ErrNotFound.
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// ReadOptional decodes an artifact that a phase can do without. It returns
// false when the file is absent or malformed; malformed files are logged.
func ReadOptional(path string, v any) bool {
	err := ReadJSON(path, v)
	switch {
	case err == nil:
		return true
	case errors.Is(err, ErrNotFound):
		slog.Debug("optional artifact absent", "path", path)
	default:
		slog.Warn("optional artifact unreadable, using defaults", "path", path, "error", err)
	}
	return false
}

// ArrayWriter streams a JSON object whose main payload is one large array,
// so the array never has to be held in memory.
type ArrayWriter struct {
	path string
	tmp  *os.File
	w    *bufio.Writer
	n    int
}

// NewArrayWriter starts an artifact of the form {"<key>":[ ... ], trailer...}.
func NewArrayWriter(path, key string) (*ArrayWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return nil, fmt.Errorf("create temp artifact: %w", err)
	}
	aw := &ArrayWriter{path: path, tmp: tmp, w: bufio.NewWriter(tmp)}

	k, _ := json.Marshal(key)
	if _, err := fmt.Fprintf(aw.w, "{%s:[", k); err != nil {
		aw.Abort()
		return nil, err
	}
	return aw, nil
}

// Append writes one array element.
func (a *ArrayWriter) Append(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if a.n > 0 {
		if err := a.w.WriteByte(','); err != nil {
			return err
		}
	}
	if _, err := a.w.Write(data); err != nil {
		return err
	}
	a.n++
	return nil
}

// Count returns the number of elements written so far.
func (a *ArrayWriter) Count() int { return a.n }

// Close terminates the array, appends the trailer fields and moves the file
// into place.
func (a *ArrayWriter) Close(trailer map[string]any) error {
	defer func() { _ = os.Remove(a.tmp.Name()) }()

	if err := a.w.WriteByte(']'); err != nil {
		_ = a.tmp.Close()
		return err
	}

	keys := make([]string, 0, len(trailer))
	for k := range trailer {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		kb, _ := json.Marshal(k)
		vb, err := json.Marshal(trailer[k])
		if err != nil {
			_ = a.tmp.Close()
			return fmt.Errorf("encode trailer %q: %w", k, err)
		}
		if _, err := fmt.Fprintf(a.w, ",%s:%s", kb, vb); err != nil {
			_ = a.tmp.Close()
			return err
		}
	}
	if _, err := a.w.WriteString("}\n"); err != nil {
		_ = a.tmp.Close()
		return err
	}
	if err := a.w.Flush(); err != nil {
		_ = a.tmp.Close()
		return err
	}
	if err := a.tmp.Close(); err != nil {
		return err
	}
	return os.Rename(a.tmp.Name(), a.path)
}

// Abort discards the partially written artifact.
func (a *ArrayWriter) Abort() {
	_ = a.tmp.Close()
	_ = os.Remove(a.tmp.Name())
}

// Remove deletes the artifact at path. An absent artifact is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove artifact %s: %w", path, err)
	}
	return nil
}
