package sync

import (
	"context"

	"github.com/MattDClarke/gantt-sync/internal/gantt/schema"
)

// Finder reads whole collections from the store.
//
//go:generate mockgen -source=interface.go -destination=mocks/mock_store.go -package=mocks
type Finder interface {
	// FindAll returns every record of the kind, each carrying its id.
	//
	// No filtering or pagination is applied. An empty collection is
	// returned as an empty, non-nil slice.
	//
	// Example:
	//   tasks, err := store.FindAll(ctx, schema.KindTasks)
	FindAll(ctx context.Context, kind schema.Kind) ([]schema.Record, error)
}

// Store is the persistence collaborator used by the Reconciler.
//
// Implementations must be safe for concurrent use: the Reconciler issues
// creates and updates of one phase concurrently.
type Store interface {
	Finder

	// Create persists fields as a new record and returns it with the
	// store-assigned id.
	//
	// fields never contains id or $Phantom* keys when called by the
	// Reconciler. Ids must be unique and never reused.
	//
	// Example:
	//   rec, err := store.Create(ctx, schema.KindTasks, schema.Record{"name": "Design"})
	//   id, _ := rec.ID()
	Create(ctx context.Context, kind schema.Kind, fields schema.Record) (schema.Record, error)

	// Update merges partial into the record addressed by id.
	//
	// Keys present in partial overwrite stored values; absent keys are
	// kept. Returns an error when the id does not exist.
	//
	// Example:
	//   err := store.Update(ctx, schema.KindTasks, 12, schema.Record{"duration": 4})
	Update(ctx context.Context, kind schema.Kind, id int64, partial schema.Record) error

	// DeleteMany removes all listed ids as one batch.
	//
	// Ids that are not stored are not an error. The store may also remove
	// records that depend on the deleted ones (orphan policy).
	//
	// Example:
	//   err := store.DeleteMany(ctx, schema.KindTasks, []int64{3, 4})
	DeleteMany(ctx context.Context, kind schema.Kind, ids []int64) error
}

// Transactor is implemented by stores that can group calls into one
// transaction. Store calls made with the context handed to fn join the
// transaction; it is rolled back when fn returns an error.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}
