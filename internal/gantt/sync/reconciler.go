package sync

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MattDClarke/gantt-sync/internal/gantt/schema"
)

// Config holds reconciler configuration.
type Config struct {
	// Concurrency bounds the creates or updates in flight per phase
	// (default: 8).
	Concurrency int

	// Transactional runs each kind inside one store transaction when the
	// store implements Transactor. Phases then run sequentially.
	Transactional bool

	// Verbose logs a summary line for every successful sync.
	Verbose bool

	// Logger for reconciler activity (default: stderr logger)
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Concurrency: 8,
		Logger:      log.New(os.Stderr, "[sync] ", log.LstdFlags),
	}
}

// Reconciler applies sync requests to a Store.
type Reconciler struct {
	store         Store
	tx            Transactor
	transactional bool
	concurrency   atomic.Int64
	verbose       atomic.Bool
	logger        *log.Logger
}

// NewReconciler creates a reconciler over store.
//
// Example:
//
//	store, err := db.Open("gantt.db")
//	if err != nil {
//	    return err
//	}
//	r := sync.NewReconciler(store, nil)
//	resp := r.Sync(ctx, req)
func NewReconciler(store Store, config *Config) *Reconciler {
	if config == nil {
		config = DefaultConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}

	r := &Reconciler{
		store:         store,
		transactional: config.Transactional,
		logger:        logger,
	}
	if tx, ok := store.(Transactor); ok {
		r.tx = tx
	}
	r.SetConcurrency(config.Concurrency)
	r.SetVerbose(config.Verbose)
	return r
}

// SetConcurrency changes the per-phase concurrency bound. Values below 1
// fall back to 1. Safe to call while syncs are running.
func (r *Reconciler) SetConcurrency(n int) {
	if n < 1 {
		n = 1
	}
	r.concurrency.Store(int64(n))
}

// Concurrency returns the current per-phase concurrency bound.
func (r *Reconciler) Concurrency() int {
	return int(r.concurrency.Load())
}

// SetVerbose toggles per-sync summary logging.
func (r *Reconciler) SetVerbose(v bool) {
	r.verbose.Store(v)
}

// Sync applies req and always returns an acknowledgment. Any failure yields
// the fixed failure message with no rows; the cause is logged.
func (r *Reconciler) Sync(ctx context.Context, req *Request) *Response {
	resp, err := r.Apply(ctx, req)
	if err != nil {
		r.logger.Printf("Sync failed (requestId=%s): %v", requestIDString(req), err)
		return Failure(req.RequestID)
	}
	return resp
}

// Apply processes tasks then dependencies, each through the added, updated
// and removed phases in that order. The first error aborts the remaining
// work and is returned; edits applied before it are kept unless the kind ran
// in a transaction.
func (r *Reconciler) Apply(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()
	resp := &Response{
		RequestID: req.RequestID,
		Success:   true,
	}

	for _, kind := range schema.Kinds() {
		cs := req.Changeset(kind)
		if cs == nil {
			continue
		}

		rows, err := r.syncKind(ctx, kind, cs)
		if err != nil {
			return nil, err
		}
		resp.setRows(kind, rows)
	}

	if r.verbose.Load() {
		r.logger.Printf("Synced requestId=%s in %v (%s)", requestIDString(req),
			time.Since(start).Round(time.Microsecond), summarize(req))
	}
	return resp, nil
}

func (r *Reconciler) syncKind(ctx context.Context, kind schema.Kind, cs *Changeset) (*Rows[IDMapping], error) {
	if !r.transactional || r.tx == nil {
		return r.applyChangeset(ctx, kind, cs, r.Concurrency())
	}

	var rows *Rows[IDMapping]
	err := r.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		// One transaction is one connection: no concurrent calls inside it.
		rows, err = r.applyChangeset(ctx, kind, cs, 1)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *Reconciler) applyChangeset(ctx context.Context, kind schema.Kind, cs *Changeset, limit int) (*Rows[IDMapping], error) {
	var rows *Rows[IDMapping]

	if cs.Added != nil {
		mappings, err := r.create(ctx, kind, cs.Added, limit)
		if err != nil {
			return nil, err
		}
		rows = &Rows[IDMapping]{Rows: mappings}
	}

	if len(cs.Updated) > 0 {
		if err := r.update(ctx, kind, cs.Updated, limit); err != nil {
			return nil, err
		}
	}

	if len(cs.Removed) > 0 {
		if err := r.remove(ctx, kind, cs.Removed); err != nil {
			return nil, err
		}
	}

	return rows, nil
}

func (r *Reconciler) create(ctx context.Context, kind schema.Kind, added []schema.Record, limit int) ([]IDMapping, error) {
	mappings := make([]IDMapping, len(added))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, rec := range added {
		g.Go(func() error {
			phantom, ok := rec.PhantomID()
			if !ok {
				return &SyncError{Kind: kind, Phase: PhaseAdded, Index: i, Err: schema.ErrMissingPhantomID}
			}

			created, err := r.store.Create(gctx, kind, rec.Fields())
			if err != nil {
				return &SyncError{Kind: kind, Phase: PhaseAdded, Index: i, Err: err}
			}
			id, err := created.ID()
			if err != nil {
				return &SyncError{Kind: kind, Phase: PhaseAdded, Index: i, Err: err}
			}

			mappings[i] = IDMapping{PhantomID: phantom, ID: id}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return mappings, nil
}

func (r *Reconciler) update(ctx context.Context, kind schema.Kind, updated []schema.Record, limit int) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, rec := range updated {
		g.Go(func() error {
			id, err := rec.ID()
			if err != nil {
				return &SyncError{Kind: kind, Phase: PhaseUpdated, Index: i, Err: err}
			}
			if err := r.store.Update(gctx, kind, id, rec.Fields()); err != nil {
				return &SyncError{Kind: kind, Phase: PhaseUpdated, Index: i, Err: err}
			}
			return nil
		})
	}

	return g.Wait()
}

func (r *Reconciler) remove(ctx context.Context, kind schema.Kind, removed []schema.Record) error {
	ids := make([]int64, 0, len(removed))
	for i, rec := range removed {
		id, err := rec.ID()
		if err != nil {
			return &SyncError{Kind: kind, Phase: PhaseRemoved, Index: i, Err: err}
		}
		ids = append(ids, id)
	}

	if err := r.store.DeleteMany(ctx, kind, ids); err != nil {
		return &SyncError{Kind: kind, Phase: PhaseRemoved, Index: -1, Err: err}
	}
	return nil
}

func requestIDString(req *Request) string {
	if len(req.RequestID) == 0 {
		return "-"
	}
	return string(req.RequestID)
}

func summarize(req *Request) string {
	type counts struct {
		Added   int `json:"added"`
		Updated int `json:"updated"`
		Removed int `json:"removed"`
	}
	out := map[schema.Kind]counts{}
	for _, kind := range schema.Kinds() {
		if cs := req.Changeset(kind); cs != nil {
			out[kind] = counts{len(cs.Added), len(cs.Updated), len(cs.Removed)}
		}
	}
	data, _ := json.Marshal(out)
	return string(data)
}
