// Package seed imports Gantt datasets from files into a store.
//
// Import behaves like a client: file ids become phantom ids, and each batch
// goes through the reconciler so the store assigns the permanent ids.
package seed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/MattDClarke/gantt-sync/internal/gantt/schema"
)

// childrenField nests subtasks under their parent in tree-shaped datasets.
const childrenField = "children"

// Dataset holds the records read from a seed file.
type Dataset struct {
	Tasks        []schema.Record
	Dependencies []schema.Record
}

// ReadFile reads a dataset from a .json, .yaml, .yml or .toml file.
//
// Two shapes are accepted: the /load response ({"tasks": {"rows": [...]}})
// and bare lists ({"tasks": [...]}). Tasks may nest subtasks under
// "children"; those are flattened with parentId pointing at the parent.
func ReadFile(path string) (*Dataset, error) {
	// #nosec G304 - controlled path from CLI
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}

	var raw map[string]any
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		err = dec.Decode(&raw)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &raw)
	case ".toml":
		_, err = toml.Decode(string(data), &raw)
	default:
		return nil, fmt.Errorf("unsupported dataset format %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse dataset %s: %w", filepath.Base(path), err)
	}

	return Parse(raw)
}

// Parse builds a dataset from an already decoded document.
func Parse(raw map[string]any) (*Dataset, error) {
	// Round-trip through JSON so every format yields the same value types
	// the HTTP path produces (json.Number, string, bool, []any, map).
	normalized, err := normalize(raw)
	if err != nil {
		return nil, err
	}

	tasks, err := rows(normalized, schema.KindTasks)
	if err != nil {
		return nil, err
	}
	deps, err := rows(normalized, schema.KindDependencies)
	if err != nil {
		return nil, err
	}

	ds := &Dataset{Dependencies: deps}
	seq := 0
	for _, task := range tasks {
		ds.Tasks = flatten(ds.Tasks, task, nil, &seq)
	}
	return ds, nil
}

func normalize(raw map[string]any) (map[string]any, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize dataset: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to normalize dataset: %w", err)
	}
	return out, nil
}

func rows(doc map[string]any, kind schema.Kind) ([]schema.Record, error) {
	v, ok := doc[string(kind)]
	if !ok || v == nil {
		return nil, nil
	}
	if wrapped, ok := v.(map[string]any); ok {
		v = wrapped["rows"]
		if v == nil {
			return nil, nil
		}
	}

	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%s: expected a list of records, got %T", kind, v)
	}

	records := make([]schema.Record, 0, len(list))
	for i, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s[%d]: expected an object, got %T", kind, i, item)
		}
		records = append(records, schema.Record(m))
	}
	return records, nil
}

// flatten appends task and its nested children depth first. Tasks without
// an id get a file-local one so children can still point at them.
func flatten(out []schema.Record, task schema.Record, parentID any, seq *int) []schema.Record {
	children, _ := task[childrenField].([]any)

	flat := task.Clone()
	delete(flat, childrenField)
	if parentID != nil {
		flat[schema.ParentIDField] = parentID
	}
	if flat[schema.IDField] == nil {
		*seq++
		flat[schema.IDField] = fmt.Sprintf("_seed%d", *seq)
	}
	out = append(out, flat)

	id := flat[schema.IDField]
	for _, child := range children {
		if m, ok := child.(map[string]any); ok {
			out = flatten(out, schema.Record(m), id, seq)
		}
	}
	return out
}
