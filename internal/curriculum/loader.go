package curriculum

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Container groups the theory, questions and tasks of one topic in the
// nested store format.
type Container struct {
	ID        string            `json:"id,omitempty"`
	Title     string            `json:"title,omitempty"`
	Theory    []json.RawMessage `json:"theory,omitempty"`
	Questions []json.RawMessage `json:"questions,omitempty"`
	Tasks     []json.RawMessage `json:"tasks,omitempty"`
}

// Items returns the container's items of the given kind.
func (c Container) Items(k Kind) []json.RawMessage {
	switch k {
	case KindTheory:
		return c.Theory
	case KindQuestion:
		return c.Questions
	case KindTask:
		return c.Tasks
	default:
		return nil
	}
}

// Record is one resolvable item of the content store.
type Record struct {
	ID       string
	Kind     Kind
	ParentID string
	Origin   Origin
	Item     ContentItem
	Raw      json.RawMessage
}

// Loader reads the content store once and indexes it by id. Both the nested
// container format and a flat id-keyed map are accepted; the nested format is
// normalized into the flat index. A Loader is never modified after it is
// built, so concurrent reads need no locking.
type Loader struct {
	path       string
	containers []Container
	records    map[string]Record
	order      []string
}

// NewLoader loads the content store at path. A missing or unparsable store
// is an error; there is no partial result.
func NewLoader(path string) (*Loader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading content store: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	l, err := Parse(data, ext == ".yaml" || ext == ".yml")
	if err != nil {
		return nil, fmt.Errorf("loading content store %s: %w", path, err)
	}
	l.path = path

	slog.Info("content store loaded", "path", path, "containers", len(l.containers), "items", len(l.order))
	return l, nil
}

// Parse builds a Loader from raw store bytes.
func Parse(data []byte, isYAML bool) (*Loader, error) {
	if isYAML {
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parsing yaml: %w", err)
		}
		converted, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("converting yaml: %w", err)
		}
		data = converted
	}

	l := &Loader{records: make(map[string]Record)}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("content store is empty")
	}

	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &l.containers); err != nil {
			return nil, fmt.Errorf("parsing containers: %w", err)
		}
		if err := l.indexContainers(); err != nil {
			return nil, err
		}
	case '{':
		var wrapper struct {
			Containers []Container `json:"containers"`
		}
		if err := json.Unmarshal(trimmed, &wrapper); err == nil && wrapper.Containers != nil {
			l.containers = wrapper.Containers
			if err := l.indexContainers(); err != nil {
				return nil, err
			}
			break
		}
		if err := l.indexFlat(trimmed); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("content store must be a JSON array or object")
	}

	return l, nil
}

func (l *Loader) indexContainers() error {
	for ci, c := range l.containers {
		parent := c.ID
		if parent == "" {
			parent = strconv.Itoa(ci)
		}
		for _, kind := range Kinds {
			for pos, raw := range c.Items(kind) {
				origin := Origin{Container: ci, ContainerID: c.ID, Kind: kind, Position: pos}
				rec, err := decodeRecord(raw, kind, parent, origin)
				if err != nil {
					return fmt.Errorf("container %d %s[%d]: %w", ci, kind.ContainerKey(), pos, err)
				}
				l.add(rec)
			}
		}
	}
	return nil
}

// indexFlat walks an id-keyed object in document order.
func (l *Loader) indexFlat(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("parsing flat store: %w", err)
	}

	positions := make(map[Kind]int)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("parsing flat store: %w", err)
		}
		key, _ := tok.(string)

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("parsing flat store entry %q: %w", key, err)
		}

		var probe struct {
			Kind string `json:"kind"`
		}
		_ = json.Unmarshal(raw, &probe)
		kind, ok := ParseKind(probe.Kind)
		if !ok {
			kind = KindTheory
		}

		origin := Origin{Kind: kind, Position: positions[kind]}
		positions[kind]++

		rec, err := decodeRecord(raw, kind, "", origin)
		if err != nil {
			return fmt.Errorf("flat store entry %q: %w", key, err)
		}
		if rec.Item.ID == "" {
			rec.ID = key
			rec.Item.ID = key
		}
		l.add(rec)
	}
	return nil
}

func (l *Loader) add(rec Record) {
	if _, dup := l.records[rec.ID]; dup {
		slog.Warn("duplicate item id in content store, keeping first", "id", rec.ID, "origin", rec.Origin.String())
		return
	}
	l.records[rec.ID] = rec
	l.order = append(l.order, rec.ID)
}

func decodeRecord(raw json.RawMessage, kind Kind, parent string, origin Origin) (Record, error) {
	var item ContentItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return Record{}, err
	}
	item.Kind = kind

	rec := Record{ID: item.ID, Kind: kind, Origin: origin, Item: item, Raw: raw}
	if rec.ID == "" && parent != "" {
		rec.ID = NestedID(parent, kind, origin.Position)
		rec.Item.ID = rec.ID
		rec.ParentID = parent
	}
	return rec, nil
}

// Records returns every indexed record in store order.
func (l *Loader) Records() []Record {
	out := make([]Record, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.records[id])
	}
	return out
}

// Containers returns the nested containers, or nil for a flat store.
func (l *Loader) Containers() []Container {
	return l.containers
}

// Resolve finds a record by id. Ids of the form parent.kind.position that are
// not indexed directly are resolved positionally, first against a container
// with that id and then against an array embedded in the parent record.
func (l *Loader) Resolve(id string) (Record, bool) {
	if rec, ok := l.records[id]; ok {
		return rec, true
	}

	parent, kind, pos, ok := ParseNestedID(id)
	if !ok {
		return Record{}, false
	}

	for ci, c := range l.containers {
		if c.ID != parent && !(c.ID == "" && strconv.Itoa(ci) == parent) {
			continue
		}
		items := c.Items(kind)
		if pos >= len(items) {
			return Record{}, false
		}
		origin := Origin{Container: ci, ContainerID: c.ID, Kind: kind, Position: pos}
		return nestedRecord(items[pos], id, kind, parent, origin)
	}

	owner, ok := l.records[parent]
	if !ok {
		return Record{}, false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(owner.Raw, &fields); err != nil {
		return Record{}, false
	}
	var embedded []json.RawMessage
	if err := json.Unmarshal(fields[kind.ContainerKey()], &embedded); err != nil || pos >= len(embedded) {
		return Record{}, false
	}
	origin := owner.Origin
	origin.Kind = kind
	origin.Position = pos
	return nestedRecord(embedded[pos], id, kind, parent, origin)
}

func nestedRecord(raw json.RawMessage, id string, kind Kind, parent string, origin Origin) (Record, bool) {
	rec, err := decodeRecord(raw, kind, parent, origin)
	if err != nil {
		return Record{}, false
	}
	rec.ID = id
	rec.Item.ID = id
	rec.ParentID = parent
	return rec, true
}

// Len returns the number of indexed records.
func (l *Loader) Len() int {
	return len(l.order)
}
