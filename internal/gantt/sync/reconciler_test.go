package sync_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/MattDClarke/gantt-sync/internal/gantt/schema"
	gsync "github.com/MattDClarke/gantt-sync/internal/gantt/sync"
	"github.com/MattDClarke/gantt-sync/internal/gantt/sync/mocks"
)

var errStore = errors.New("store failure")

func quietConfig() *gsync.Config {
	cfg := gsync.DefaultConfig()
	cfg.Logger = log.New(io.Discard, "", 0)
	return cfg
}

func setupReconciler(t *testing.T) (*gsync.Reconciler, *mocks.MockStore) {
	t.Helper()
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	return gsync.NewReconciler(store, quietConfig()), store
}

func mustRequest(t *testing.T, body string) *gsync.Request {
	t.Helper()
	req, err := gsync.DecodeRequestBytes([]byte(body))
	require.NoError(t, err)
	return req
}

// encode returns the response as a generic JSON object.
func encode(t *testing.T, resp *gsync.Response) map[string]any {
	t.Helper()
	data, err := json.Marshal(resp)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

// createReturning answers Create with sequential ids starting at first.
func createReturning(first int64) func(context.Context, schema.Kind, schema.Record) (schema.Record, error) {
	var next atomic.Int64
	next.Store(first - 1)
	return func(_ context.Context, _ schema.Kind, fields schema.Record) (schema.Record, error) {
		rec := fields.Clone()
		rec["id"] = next.Add(1)
		return rec, nil
	}
}

func TestSync_CreateRoundTrip(t *testing.T) {
	r, store := setupReconciler(t)
	r.SetConcurrency(1)

	store.EXPECT().
		Create(gomock.Any(), schema.KindTasks, schema.Record{"name": "A"}).
		Return(schema.Record{"id": int64(101), "name": "A"}, nil)
	store.EXPECT().
		Create(gomock.Any(), schema.KindTasks, schema.Record{"name": "B", "parentId": nil}).
		Return(schema.Record{"id": int64(102), "name": "B"}, nil)

	resp := r.Sync(context.Background(), mustRequest(t, `{
		"requestId": 17,
		"tasks": {"added": [
			{"$PhantomId": "_generated1", "name": "A"},
			{"$PhantomId": "_generated2", "name": "B", "parentId": null, "id": "_generated2"}
		]}
	}`))

	require.True(t, resp.Success)
	require.NotNil(t, resp.Tasks)
	assert.Nil(t, resp.Dependencies)
	assert.Equal(t, []gsync.IDMapping{
		{PhantomID: "_generated1", ID: 101},
		{PhantomID: "_generated2", ID: 102},
	}, resp.Tasks.Rows)

	out := encode(t, resp)
	assert.Equal(t, float64(17), out["requestId"])
	assert.NotContains(t, out, "dependencies")
	assert.NotContains(t, out, "message")
	rows := out["tasks"].(map[string]any)["rows"].([]any)
	assert.Equal(t, map[string]any{"$PhantomId": "_generated1", "id": float64(101)}, rows[0])
}

func TestSync_UpdateYieldsNoRows(t *testing.T) {
	r, store := setupReconciler(t)

	store.EXPECT().
		Update(gomock.Any(), schema.KindTasks, int64(7), schema.Record{"name": "Renamed"}).
		Return(nil)

	resp := r.Sync(context.Background(), mustRequest(t, `{
		"requestId": "r1",
		"tasks": {"updated": [{"id": 7, "name": "Renamed"}]}
	}`))

	require.True(t, resp.Success)
	out := encode(t, resp)
	assert.NotContains(t, out, "tasks")
	assert.NotContains(t, out, "dependencies")
	assert.Equal(t, "r1", out["requestId"])
}

func TestSync_RemoveIsSingleBatch(t *testing.T) {
	r, store := setupReconciler(t)

	store.EXPECT().
		DeleteMany(gomock.Any(), schema.KindDependencies, []int64{4, 5, 6}).
		Return(nil).
		Times(1)

	resp := r.Sync(context.Background(), mustRequest(t, `{
		"requestId": 1,
		"dependencies": {"removed": [{"id": 4}, {"id": "5"}, {"id": 6}]}
	}`))

	require.True(t, resp.Success)
	assert.Nil(t, resp.Dependencies)
}

func TestSync_EmptyRemovedIsNoop(t *testing.T) {
	r, _ := setupReconciler(t)

	resp := r.Sync(context.Background(), mustRequest(t, `{"requestId": 1, "tasks": {"removed": []}}`))

	require.True(t, resp.Success)
	assert.Nil(t, resp.Tasks)
}

func TestSync_PartialChangesetOmitsAbsentKind(t *testing.T) {
	r, store := setupReconciler(t)

	store.EXPECT().
		Create(gomock.Any(), schema.KindDependencies, gomock.Any()).
		DoAndReturn(createReturning(1))

	resp := r.Sync(context.Background(), mustRequest(t, `{
		"requestId": 3,
		"dependencies": {"added": [{"$PhantomId": "d1", "fromEvent": 1, "toEvent": 2}]}
	}`))

	require.True(t, resp.Success)
	out := encode(t, resp)
	assert.NotContains(t, out, "tasks")
	assert.Contains(t, out, "dependencies")
}

func TestSync_EmptyAddedYieldsEmptyRows(t *testing.T) {
	r, _ := setupReconciler(t)

	resp := r.Sync(context.Background(), mustRequest(t, `{"requestId": 1, "tasks": {"added": []}}`))

	require.True(t, resp.Success)
	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"requestId": 1, "success": true, "tasks": {"rows": []}}`, string(data))
}

func TestSync_NullAddedIsAbsent(t *testing.T) {
	r, _ := setupReconciler(t)

	resp := r.Sync(context.Background(), mustRequest(t, `{"requestId": 1, "tasks": {"added": null}}`))

	require.True(t, resp.Success)
	assert.Nil(t, resp.Tasks)
}

func TestSync_SecondOfThreeCreatesFails(t *testing.T) {
	r, store := setupReconciler(t)

	store.EXPECT().
		Create(gomock.Any(), schema.KindTasks, gomock.Any()).
		DoAndReturn(func(ctx context.Context, kind schema.Kind, fields schema.Record) (schema.Record, error) {
			if fields["name"] == "B" {
				return nil, errStore
			}
			return createReturning(10)(ctx, kind, fields)
		}).
		MinTimes(1).
		MaxTimes(3)

	resp := r.Sync(context.Background(), mustRequest(t, `{
		"requestId": "batch-9",
		"tasks": {"added": [
			{"$PhantomId": "p1", "name": "A"},
			{"$PhantomId": "p2", "name": "B"},
			{"$PhantomId": "p3", "name": "C"}
		]},
		"dependencies": {"added": [{"$PhantomId": "d1"}]}
	}`))

	assert.False(t, resp.Success)
	assert.Equal(t, gsync.SyncFailureMessage, resp.Message)
	assert.Nil(t, resp.Tasks)
	assert.Nil(t, resp.Dependencies)

	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"requestId": "batch-9",
		"success": false,
		"message": "There was an error syncing the data changes"
	}`, string(data))
}

func TestSync_EchoesRequestIDVerbatim(t *testing.T) {
	ids := []string{`42`, `"abc"`, `1.50`, `{"client":"x","n":[1,2]}`, `null`}

	for _, id := range ids {
		t.Run(id, func(t *testing.T) {
			r, store := setupReconciler(t)
			store.EXPECT().Update(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(errStore)

			success := r.Sync(context.Background(), mustRequest(t, `{"requestId": `+id+`, "tasks": {"added": []}}`))
			assert.Equal(t, id, string(success.RequestID))

			failure := r.Sync(context.Background(), mustRequest(t, `{"requestId": `+id+`, "tasks": {"updated": [{"id": 1}]}}`))
			assert.False(t, failure.Success)
			assert.Equal(t, id, string(failure.RequestID))

			data, err := json.Marshal(failure)
			require.NoError(t, err)
			assert.Contains(t, string(data), `"requestId":`+id)
		})
	}
}

func TestSync_PhaseAndKindOrder(t *testing.T) {
	r, store := setupReconciler(t)

	gomock.InOrder(
		store.EXPECT().Create(gomock.Any(), schema.KindTasks, gomock.Any()).DoAndReturn(createReturning(1)),
		store.EXPECT().Update(gomock.Any(), schema.KindTasks, int64(2), gomock.Any()).Return(nil),
		store.EXPECT().DeleteMany(gomock.Any(), schema.KindTasks, []int64{3}).Return(nil),
		store.EXPECT().Create(gomock.Any(), schema.KindDependencies, gomock.Any()).DoAndReturn(createReturning(50)),
		store.EXPECT().Update(gomock.Any(), schema.KindDependencies, int64(8), gomock.Any()).Return(nil),
		store.EXPECT().DeleteMany(gomock.Any(), schema.KindDependencies, []int64{9}).Return(nil),
	)

	// Keys are deliberately out of order in the document.
	resp := r.Sync(context.Background(), mustRequest(t, `{
		"dependencies": {
			"removed": [{"id": 9}],
			"updated": [{"id": 8, "lag": 1}],
			"added": [{"$PhantomId": "d1", "fromEvent": 1, "toEvent": 2}]
		},
		"tasks": {
			"removed": [{"id": 3}],
			"updated": [{"id": 2, "name": "x"}],
			"added": [{"$PhantomId": "t1", "name": "A"}]
		},
		"requestId": 5
	}`))

	require.True(t, resp.Success)
	assert.Equal(t, []gsync.IDMapping{{PhantomID: "t1", ID: 1}}, resp.Tasks.Rows)
	assert.Equal(t, []gsync.IDMapping{{PhantomID: "d1", ID: 50}}, resp.Dependencies.Rows)
}

func TestApply_ReportsFailingPhase(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		setup     func(store *mocks.MockStore)
		wantKind  schema.Kind
		wantPhase gsync.Phase
		wantErr   error
	}{
		{
			name:      "missing phantom id",
			body:      `{"tasks": {"added": [{"name": "A"}]}}`,
			setup:     func(*mocks.MockStore) {},
			wantKind:  schema.KindTasks,
			wantPhase: gsync.PhaseAdded,
			wantErr:   schema.ErrMissingPhantomID,
		},
		{
			name:      "update without id",
			body:      `{"tasks": {"updated": [{"name": "A"}]}}`,
			setup:     func(*mocks.MockStore) {},
			wantKind:  schema.KindTasks,
			wantPhase: gsync.PhaseUpdated,
			wantErr:   schema.ErrMissingID,
		},
		{
			name: "update of unknown id",
			body: `{"dependencies": {"updated": [{"id": 99, "lag": 2}]}}`,
			setup: func(store *mocks.MockStore) {
				store.EXPECT().Update(gomock.Any(), schema.KindDependencies, int64(99), gomock.Any()).Return(errStore)
			},
			wantKind:  schema.KindDependencies,
			wantPhase: gsync.PhaseUpdated,
			wantErr:   errStore,
		},
		{
			name:      "removed with bad id",
			body:      `{"tasks": {"removed": [{"id": "_generated4"}]}}`,
			setup:     func(*mocks.MockStore) {},
			wantKind:  schema.KindTasks,
			wantPhase: gsync.PhaseRemoved,
			wantErr:   schema.ErrInvalidID,
		},
		{
			name: "batch delete failure",
			body: `{"tasks": {"removed": [{"id": 1}]}}`,
			setup: func(store *mocks.MockStore) {
				store.EXPECT().DeleteMany(gomock.Any(), schema.KindTasks, []int64{1}).Return(errStore)
			},
			wantKind:  schema.KindTasks,
			wantPhase: gsync.PhaseRemoved,
			wantErr:   errStore,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, store := setupReconciler(t)
			tt.setup(store)

			resp, err := r.Apply(context.Background(), mustRequest(t, tt.body))
			require.Error(t, err)
			assert.Nil(t, resp)
			assert.ErrorIs(t, err, tt.wantErr)

			var syncErr *gsync.SyncError
			require.ErrorAs(t, err, &syncErr)
			assert.Equal(t, tt.wantKind, syncErr.Kind)
			assert.Equal(t, tt.wantPhase, syncErr.Phase)
		})
	}
}

func TestSync_FailureStopsLaterKinds(t *testing.T) {
	r, store := setupReconciler(t)

	store.EXPECT().DeleteMany(gomock.Any(), schema.KindTasks, gomock.Any()).Return(errStore)
	// No dependency calls are expected.

	resp := r.Sync(context.Background(), mustRequest(t, `{
		"tasks": {"removed": [{"id": 1}]},
		"dependencies": {"removed": [{"id": 2}]}
	}`))
	assert.False(t, resp.Success)
}

func TestSync_ConcurrencyIsBounded(t *testing.T) {
	r, store := setupReconciler(t)
	r.SetConcurrency(2)
	assert.Equal(t, 2, r.Concurrency())

	var inFlight, peak atomic.Int64
	next := createReturning(1)
	store.EXPECT().
		Create(gomock.Any(), schema.KindTasks, gomock.Any()).
		DoAndReturn(func(ctx context.Context, kind schema.Kind, fields schema.Record) (schema.Record, error) {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inFlight.Add(-1)
			return next(ctx, kind, fields)
		}).
		Times(6)

	resp := r.Sync(context.Background(), mustRequest(t, `{"tasks": {"added": [
		{"$PhantomId": 1}, {"$PhantomId": 2}, {"$PhantomId": 3},
		{"$PhantomId": 4}, {"$PhantomId": 5}, {"$PhantomId": 6}
	]}}`))

	require.True(t, resp.Success)
	assert.LessOrEqual(t, peak.Load(), int64(2))
	require.Len(t, resp.Tasks.Rows, 6)
	for i, row := range resp.Tasks.Rows {
		assert.Equal(t, json.Number(string(rune('1'+i))), row.PhantomID)
	}
}

func TestSetConcurrency_ClampsToOne(t *testing.T) {
	r, _ := setupReconciler(t)
	r.SetConcurrency(0)
	assert.Equal(t, 1, r.Concurrency())
}

type txStore struct {
	*mocks.MockStore
	*mocks.MockTransactor
}

func TestSync_TransactionalWrapsEachKind(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	tx := mocks.NewMockTransactor(ctrl)

	cfg := quietConfig()
	cfg.Transactional = true
	r := gsync.NewReconciler(txStore{store, tx}, cfg)

	tx.EXPECT().
		InTx(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, fn func(context.Context) error) error {
			return fn(ctx)
		}).
		Times(2)
	store.EXPECT().Create(gomock.Any(), schema.KindTasks, gomock.Any()).DoAndReturn(createReturning(1)).Times(2)
	store.EXPECT().DeleteMany(gomock.Any(), schema.KindDependencies, []int64{3}).Return(nil)

	resp := r.Sync(context.Background(), mustRequest(t, `{
		"tasks": {"added": [{"$PhantomId": "a"}, {"$PhantomId": "b"}]},
		"dependencies": {"removed": [{"id": 3}]}
	}`))

	require.True(t, resp.Success)
	assert.Len(t, resp.Tasks.Rows, 2)
}

func TestSync_TransactionalFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	tx := mocks.NewMockTransactor(ctrl)

	cfg := quietConfig()
	cfg.Transactional = true
	r := gsync.NewReconciler(txStore{store, tx}, cfg)

	tx.EXPECT().
		InTx(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, fn func(context.Context) error) error {
			return fn(ctx)
		})
	store.EXPECT().Update(gomock.Any(), schema.KindTasks, int64(1), gomock.Any()).Return(errStore)

	resp := r.Sync(context.Background(), mustRequest(t, `{"requestId": 1, "tasks": {"updated": [{"id": 1}]}}`))
	assert.False(t, resp.Success)
	assert.Equal(t, gsync.SyncFailureMessage, resp.Message)
}

func TestDecodeRequest_Errors(t *testing.T) {
	_, err := gsync.DecodeRequestBytes([]byte(`{"tasks": `))
	assert.Error(t, err)

	_, err = gsync.DecodeRequestBytes([]byte(`{"tasks": {"added": {}}}`))
	assert.Error(t, err)

	_, err = gsync.DecodeRequestBytes([]byte(`{} {}`))
	assert.ErrorContains(t, err, "trailing data")
}
