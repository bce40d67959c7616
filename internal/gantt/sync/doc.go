// Package sync reconciles batched client-side edits of a Gantt dataset
// against a persistent store.
//
// Overview
//
// The sync package implements the two operations a Gantt client needs: a
// bulk load of the whole dataset and a bulk sync of batched edits.
//
//	Client                              Server
//	  ── GET /load ──────────────────▶  Loader.Respond
//	  ◀─ {tasks:{rows}, dependencies:{rows}}
//	  (local edits, new records get $PhantomId)
//	  ── POST /sync {requestId, tasks, dependencies} ──▶ Reconciler.Sync
//	  ◀─ {requestId, success, tasks:{rows:[{$PhantomId, id}]}, ...}
//
// Processing Order
//
// Kinds are processed tasks first, then dependencies. Within a kind the
// phases always run added, updated, removed:
//
//   - added: each record is stripped of id and $Phantom* keys, created, and
//     acknowledged with a {$PhantomId, id} row. Only this phase yields rows.
//   - updated: each record's fields are merged into the stored record
//     addressed by its id.
//   - removed: all ids are deleted in one batch.
//
// Creates and updates of one phase run concurrently, bounded by
// Config.Concurrency.
//
// Failure Semantics
//
// A sync is reported all-or-nothing: any failure produces
//
//	{requestId, success: false, message: "There was an error syncing the data changes"}
//
// with no rows. Edits applied before the failure are not rolled back unless
// Config.Transactional is set and the store implements Transactor, in which
// case each kind is applied inside one transaction.
//
// The server does not resolve phantom ids that appear inside other
// records (a dependency pointing at a task created in the same request).
// Clients send such records in a later sync after rebinding.
//
// Usage
//
//	store, err := db.Open("gantt.db")
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	loader := sync.NewLoader(store, nil)
//	reconciler := sync.NewReconciler(store, nil)
//
//	req, err := sync.DecodeRequest(r.Body)
//	if err != nil {
//	    return err
//	}
//	resp := reconciler.Sync(ctx, req)
package sync
