package sync

import (
	"context"
	"log"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/MattDClarke/gantt-sync/internal/gantt/schema"
)

// Loader returns the full dataset.
type Loader struct {
	finder Finder
	logger *log.Logger
}

// NewLoader creates a loader. If logger is nil, a default logger writing to
// stderr is used.
func NewLoader(finder Finder, logger *log.Logger) *Loader {
	if logger == nil {
		logger = log.New(os.Stderr, "[load] ", log.LstdFlags)
	}
	return &Loader{finder: finder, logger: logger}
}

// Load fetches tasks and dependencies concurrently. It never returns one
// collection without the other.
func (l *Loader) Load(ctx context.Context) (*Snapshot, error) {
	var snap Snapshot

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		tasks, err := l.finder.FindAll(gctx, schema.KindTasks)
		if err != nil {
			return &LoadError{Kind: schema.KindTasks, Err: err}
		}
		snap.Tasks = nonNil(tasks)
		return nil
	})
	g.Go(func() error {
		deps, err := l.finder.FindAll(gctx, schema.KindDependencies)
		if err != nil {
			return &LoadError{Kind: schema.KindDependencies, Err: err}
		}
		snap.Dependencies = nonNil(deps)
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Respond wraps Load in the client envelope. Failures are logged and
// reported with the fixed load failure message.
func (l *Loader) Respond(ctx context.Context) *LoadResponse {
	snap, err := l.Load(ctx)
	if err != nil {
		l.logger.Printf("Load failed: %v", err)
		return &LoadResponse{Success: false, Message: LoadFailureMessage}
	}
	return &LoadResponse{
		Success:      true,
		Tasks:        &Rows[schema.Record]{Rows: snap.Tasks},
		Dependencies: &Rows[schema.Record]{Rows: snap.Dependencies},
	}
}

func nonNil(records []schema.Record) []schema.Record {
	if records == nil {
		return []schema.Record{}
	}
	return records
}
