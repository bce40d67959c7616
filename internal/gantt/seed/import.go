package seed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/MattDClarke/gantt-sync/internal/gantt/schema"
	gsync "github.com/MattDClarke/gantt-sync/internal/gantt/sync"
)

var (
	// ErrParentCycle is returned when parentId links loop back on themselves.
	ErrParentCycle = errors.New("task parent links form a cycle")

	// ErrDuplicateID is returned when two tasks in a dataset share an id.
	ErrDuplicateID = errors.New("duplicate task id")
)

// Applier applies one sync request. *sync.Reconciler satisfies it.
type Applier interface {
	Apply(ctx context.Context, req *gsync.Request) (*gsync.Response, error)
}

// Options contains configuration for an import
type Options struct {
	// BatchSize caps the records sent per request (default: 500).
	BatchSize int

	// FromField and ToField name the dependency endpoints to rebind.
	FromField string
	ToField   string

	// DryRun resolves the import order without writing anything.
	DryRun bool

	Logger *log.Logger
}

// DefaultOptions returns sensible defaults
func DefaultOptions() *Options {
	return &Options{
		BatchSize: 500,
		FromField: schema.DefaultFromField,
		ToField:   schema.DefaultToField,
		Logger:    log.New(io.Discard, "", 0),
	}
}

// Result contains statistics about the import
type Result struct {
	TasksCreated int
	DepsCreated  int
	Requests     int

	// Levels is the depth of the task tree.
	Levels int

	// TaskIDs maps each file task id to its store id.
	TaskIDs map[string]int64
}

// Import creates every task and dependency in ds through apply.
//
// Tasks go first, one tree level at a time, so each parentId can be
// rewritten to the store id its parent just received. Dependencies follow
// with both endpoints rewritten the same way. References to ids outside the
// dataset are left as they are.
func Import(ctx context.Context, apply Applier, ds *Dataset, opts *Options) (*Result, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	batch := opts.BatchSize
	if batch < 1 {
		batch = DefaultOptions().BatchSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	levels, err := taskLevels(ds.Tasks)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Levels:  len(levels),
		TaskIDs: make(map[string]int64, len(ds.Tasks)),
	}
	if opts.DryRun {
		result.TasksCreated = len(ds.Tasks)
		result.DepsCreated = len(ds.Dependencies)
		return result, nil
	}

	for depth, level := range levels {
		for start := 0; start < len(level); start += batch {
			chunk := level[start:min(start+batch, len(level))]

			added := make([]schema.Record, len(chunk))
			for i, task := range chunk {
				rec := task.Fields()
				rebind(rec, schema.ParentIDField, result.TaskIDs)
				rec[schema.PhantomIDField] = key(task[schema.IDField])
				added[i] = rec
			}

			resp, err := apply.Apply(ctx, &gsync.Request{
				Tasks: &gsync.Changeset{Added: added},
			})
			if err != nil {
				return result, fmt.Errorf("failed to import tasks at depth %d: %w", depth, err)
			}
			result.Requests++

			for _, row := range resp.Tasks.Rows {
				phantom, _ := row.PhantomID.(string)
				result.TaskIDs[phantom] = row.ID
			}
			result.TasksCreated += len(chunk)
		}
		logger.Printf("Imported %d tasks at depth %d", len(level), depth)
	}

	for start := 0; start < len(ds.Dependencies); start += batch {
		chunk := ds.Dependencies[start:min(start+batch, len(ds.Dependencies))]

		added := make([]schema.Record, len(chunk))
		for i, dep := range chunk {
			rec := dep.Fields()
			rebind(rec, opts.FromField, result.TaskIDs)
			rebind(rec, opts.ToField, result.TaskIDs)
			rec[schema.PhantomIDField] = fmt.Sprintf("_dep%d", start+i+1)
			added[i] = rec
		}

		if _, err := apply.Apply(ctx, &gsync.Request{
			Dependencies: &gsync.Changeset{Added: added},
		}); err != nil {
			return result, fmt.Errorf("failed to import dependencies: %w", err)
		}
		result.Requests++
		result.DepsCreated += len(chunk)
	}
	if len(ds.Dependencies) > 0 {
		logger.Printf("Imported %d dependencies", len(ds.Dependencies))
	}

	return result, nil
}

// taskLevels groups tasks by depth. A task whose parent is not in the
// dataset is a root.
func taskLevels(tasks []schema.Record) ([][]schema.Record, error) {
	byKey := make(map[string]schema.Record, len(tasks))
	for _, task := range tasks {
		k := key(task[schema.IDField])
		if _, dup := byKey[k]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateID, k)
		}
		byKey[k] = task
	}

	depth := make(map[string]int, len(tasks))
	var resolve func(k string, seen map[string]bool) (int, error)
	resolve = func(k string, seen map[string]bool) (int, error) {
		if d, ok := depth[k]; ok {
			return d, nil
		}
		if seen[k] {
			return 0, fmt.Errorf("%w at task %s", ErrParentCycle, k)
		}
		seen[k] = true

		d := 0
		parent := byKey[k][schema.ParentIDField]
		if parent != nil {
			if _, ok := byKey[key(parent)]; ok {
				pd, err := resolve(key(parent), seen)
				if err != nil {
					return 0, err
				}
				d = pd + 1
			}
		}
		depth[k] = d
		return d, nil
	}

	var levels [][]schema.Record
	for _, task := range tasks {
		d, err := resolve(key(task[schema.IDField]), map[string]bool{})
		if err != nil {
			return nil, err
		}
		for len(levels) <= d {
			levels = append(levels, nil)
		}
		levels[d] = append(levels[d], task)
	}
	return levels, nil
}

// rebind rewrites rec[field] to the store id of the file task it names.
func rebind(rec schema.Record, field string, ids map[string]int64) {
	v, ok := rec[field]
	if !ok || v == nil {
		return
	}
	if id, ok := ids[key(v)]; ok {
		rec[field] = id
	}
}

func key(v any) string {
	return fmt.Sprint(v)
}
