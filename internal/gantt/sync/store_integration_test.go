package sync_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MattDClarke/gantt-sync/internal/gantt/db"
	"github.com/MattDClarke/gantt-sync/internal/gantt/schema"
	gsync "github.com/MattDClarke/gantt-sync/internal/gantt/sync"
)

func openStore(t *testing.T) *db.DB {
	t.Helper()
	opts := db.DefaultOptions()
	opts.Logger = log.New(io.Discard, "", 0)
	store, err := db.OpenWithOptions(filepath.Join(t.TempDir(), "gantt.db"), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func TestStore_LoadSyncLoad(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	loader := gsync.NewLoader(store, log.New(io.Discard, "", 0))
	reconciler := gsync.NewReconciler(store, quietConfig())

	resp := reconciler.Sync(ctx, mustRequest(t, `{
		"requestId": 1,
		"tasks": {"added": [
			{"$PhantomId": "_generated1", "name": "Plan", "startDate": "2026-01-05", "duration": 2},
			{"$PhantomId": "_generated2", "name": "Build", "startDate": "2026-01-07", "duration": 5}
		]}
	}`))
	require.True(t, resp.Success)
	require.Len(t, resp.Tasks.Rows, 2)
	plan, build := resp.Tasks.Rows[0].ID, resp.Tasks.Rows[1].ID
	assert.NotEqual(t, plan, build)

	resp = reconciler.Sync(ctx, mustRequest(t, fmt.Sprintf(`{
		"requestId": 2,
		"tasks": {"updated": [{"id": %d, "duration": 3}]},
		"dependencies": {"added": [{"$PhantomId": "_generated3", "fromEvent": %d, "toEvent": %d, "type": 2}]}
	}`, plan, plan, build)))
	require.True(t, resp.Success)
	assert.Nil(t, resp.Tasks)
	require.Len(t, resp.Dependencies.Rows, 1)

	snap, err := loader.Load(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Tasks, 2)
	require.Len(t, snap.Dependencies, 1)

	byID := map[any]schema.Record{}
	for _, task := range snap.Tasks {
		byID[task["id"]] = task
	}
	first := byID[plan]
	require.NotNil(t, first)
	assert.Equal(t, "Plan", first["name"])
	assert.Equal(t, json.Number("3"), first["duration"])
	assert.Equal(t, "2026-01-05", first["startDate"])
	assert.NotContains(t, first, "$PhantomId")
	assert.Equal(t, "Build", byID[build]["name"])

	// Removing a task drops the dependency that points at it.
	resp = reconciler.Sync(ctx, mustRequest(t, fmt.Sprintf(`{
		"requestId": 3,
		"tasks": {"removed": [{"id": %d}, {"id": 424242}]}
	}`, build)))
	require.True(t, resp.Success)

	snap, err = loader.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, snap.Tasks, 1)
	assert.Empty(t, snap.Dependencies)
}

func TestStore_UpdateOfDeletedTaskFails(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	reconciler := gsync.NewReconciler(store, quietConfig())

	resp := reconciler.Sync(ctx, mustRequest(t, `{"requestId": "x", "tasks": {"updated": [{"id": 5, "name": "gone"}]}}`))

	assert.False(t, resp.Success)
	assert.Equal(t, gsync.SyncFailureMessage, resp.Message)

	_, err := reconciler.Apply(ctx, mustRequest(t, `{"tasks": {"updated": [{"id": 5}]}}`))
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestStore_NonTransactionalKeepsEarlierEdits(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	reconciler := gsync.NewReconciler(store, quietConfig())

	resp := reconciler.Sync(ctx, mustRequest(t, `{
		"tasks": {
			"added": [{"$PhantomId": "a", "name": "kept"}],
			"updated": [{"id": 999, "name": "missing"}]
		}
	}`))
	require.False(t, resp.Success)

	count, err := store.Count(ctx, schema.KindTasks)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestStore_TransactionalRollsBackKind(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	cfg := quietConfig()
	cfg.Transactional = true
	reconciler := gsync.NewReconciler(store, cfg)

	resp := reconciler.Sync(ctx, mustRequest(t, `{
		"tasks": {
			"added": [{"$PhantomId": "a", "name": "rolled back"}, {"$PhantomId": "b"}],
			"updated": [{"id": 999, "name": "missing"}]
		}
	}`))
	require.False(t, resp.Success)

	count, err := store.Count(ctx, schema.KindTasks)
	require.NoError(t, err)
	assert.Zero(t, count)

	// A successful transactional sync commits.
	resp = reconciler.Sync(ctx, mustRequest(t, `{"tasks": {"added": [{"$PhantomId": "c"}]}}`))
	require.True(t, resp.Success)
	count, err = store.Count(ctx, schema.KindTasks)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestStore_ConcurrentSyncs(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	reconciler := gsync.NewReconciler(store, quietConfig())

	const clients = 8
	done := make(chan *gsync.Response, clients)
	for c := 0; c < clients; c++ {
		go func(c int) {
			body := fmt.Sprintf(`{"requestId": %d, "tasks": {"added": [
				{"$PhantomId": "p1", "name": "c%d-1"},
				{"$PhantomId": "p2", "name": "c%d-2"},
				{"$PhantomId": "p3", "name": "c%d-3"}
			]}}`, c, c, c, c)
			req, err := gsync.DecodeRequestBytes([]byte(body))
			if err != nil {
				done <- nil
				return
			}
			done <- reconciler.Sync(ctx, req)
		}(c)
	}

	seen := map[int64]bool{}
	for c := 0; c < clients; c++ {
		resp := <-done
		require.NotNil(t, resp)
		require.True(t, resp.Success)
		for _, row := range resp.Tasks.Rows {
			assert.False(t, seen[row.ID], "id %d assigned twice", row.ID)
			seen[row.ID] = true
		}
	}
	assert.Len(t, seen, clients*3)
}
