// Package loadtest drives concurrent load and sync traffic against a store.
//
// It simulates many Gantt clients sharing one backend: each client either
// loads the full dataset or sends sync batches that add, update and remove
// records, and the package reports latency percentiles.
package loadtest

import (
	"context"
	"fmt"
	"io"
	"log"
	"math/rand"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/MattDClarke/gantt-sync/internal/gantt/db"
	"github.com/MattDClarke/gantt-sync/internal/gantt/schema"
	gsync "github.com/MattDClarke/gantt-sync/internal/gantt/sync"
)

// populateBatch is the number of records sent per populate request.
const populateBatch = 250

// TestDatabase represents a populated store for load testing.
type TestDatabase struct {
	DB         *db.DB
	Reconciler *gsync.Reconciler
	Loader     *gsync.Loader
	TaskIDs    []int64
	DepIDs     []int64
	TotalTasks int
	DepPct     float64
}

// LatencyStats captures performance metrics from load tests.
type LatencyStats struct {
	Min       time.Duration
	Max       time.Duration
	Mean      time.Duration
	P50       time.Duration // Median
	P95       time.Duration
	P99       time.Duration
	TotalOps  int
	Errors    int
	Durations []time.Duration
}

// CreateTestDatabase creates a store at dbPath holding numTasks tasks.
//
// Every record goes through the reconciler, the same path a client takes.
// depPct is the share of tasks that get an incoming dependency from an
// earlier task (typical: 0.3).
func CreateTestDatabase(dbPath string, numTasks int, depPct float64) (*TestDatabase, error) {
	opts := db.DefaultOptions()
	opts.Logger = log.New(io.Discard, "", 0)
	database, err := db.OpenWithOptions(dbPath, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	database.RawDB().SetMaxOpenConns(150)
	database.RawDB().SetMaxIdleConns(50)
	database.RawDB().SetConnMaxLifetime(10 * time.Minute)

	ctx := context.Background()
	if err := database.Migrate(ctx); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	cfg := gsync.DefaultConfig()
	cfg.Logger = log.New(io.Discard, "", 0)

	td := &TestDatabase{
		DB:         database,
		Reconciler: gsync.NewReconciler(database, cfg),
		Loader:     gsync.NewLoader(database, log.New(io.Discard, "", 0)),
		TaskIDs:    make([]int64, 0, numTasks),
		TotalTasks: numTasks,
		DepPct:     depPct,
	}

	tasks := generateTasks(numTasks)
	for start := 0; start < len(tasks); start += populateBatch {
		ids, err := td.add(ctx, schema.KindTasks, tasks[start:min(start+populateBatch, len(tasks))])
		if err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("failed to insert tasks: %w", err)
		}
		td.TaskIDs = append(td.TaskIDs, ids...)
	}

	deps := generateDependencies(td.TaskIDs, depPct)
	for start := 0; start < len(deps); start += populateBatch {
		ids, err := td.add(ctx, schema.KindDependencies, deps[start:min(start+populateBatch, len(deps))])
		if err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("failed to insert dependencies: %w", err)
		}
		td.DepIDs = append(td.DepIDs, ids...)
	}

	return td, nil
}

func (td *TestDatabase) add(ctx context.Context, kind schema.Kind, records []schema.Record) ([]int64, error) {
	req := &gsync.Request{}
	switch kind {
	case schema.KindTasks:
		req.Tasks = &gsync.Changeset{Added: records}
	case schema.KindDependencies:
		req.Dependencies = &gsync.Changeset{Added: records}
	}

	resp, err := td.Reconciler.Apply(ctx, req)
	if err != nil {
		return nil, err
	}
	rows := resp.Rows(kind).Rows
	ids := make([]int64, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
	}
	return ids, nil
}

// Close closes the test database connection.
func (td *TestDatabase) Close() error {
	if td.DB != nil {
		return td.DB.Close()
	}
	return nil
}

// RunConcurrentLoads simulates numClients clients each loading the full
// dataset loadsPerClient times.
func (td *TestDatabase) RunConcurrentLoads(numClients, loadsPerClient int) (*LatencyStats, error) {
	return td.run(numClients, loadsPerClient, func(ctx context.Context, client, op int) error {
		snap, err := td.Loader.Load(ctx)
		if err != nil {
			return err
		}
		if len(snap.Tasks) == 0 {
			return fmt.Errorf("load returned no tasks")
		}
		return nil
	})
}

// RunConcurrentSyncs simulates numClients clients each sending
// syncsPerClient sync requests. Every request adds a task, updates an
// existing one and removes the task the client added in its previous
// request, so the dataset size stays stable.
func (td *TestDatabase) RunConcurrentSyncs(numClients, syncsPerClient int) (*LatencyStats, error) {
	var mu sync.Mutex
	lastAdded := make(map[int]int64, numClients)

	return td.run(numClients, syncsPerClient, func(ctx context.Context, client, op int) error {
		target := td.TaskIDs[(client*syncsPerClient+op)%len(td.TaskIDs)]

		req := &gsync.Request{
			RequestID: []byte(fmt.Sprintf("%d", client*syncsPerClient+op)),
			Tasks: &gsync.Changeset{
				Added: []schema.Record{{
					schema.PhantomIDField: fmt.Sprintf("_generated%d", op),
					"name":                fmt.Sprintf("Client %d op %d", client, op),
					"duration":            1,
				}},
				Updated: []schema.Record{{
					schema.IDField: target,
					"percentDone":  op % 100,
				}},
			},
		}

		mu.Lock()
		if prev, ok := lastAdded[client]; ok {
			req.Tasks.Removed = []schema.Record{{schema.IDField: prev}}
		}
		mu.Unlock()

		resp := td.Reconciler.Sync(ctx, req)
		if !resp.Success {
			return fmt.Errorf("%s", resp.Message)
		}

		mu.Lock()
		lastAdded[client] = resp.Tasks.Rows[0].ID
		mu.Unlock()
		return nil
	})
}

func (td *TestDatabase) run(numClients, opsPerClient int, op func(ctx context.Context, client, op int) error) (*LatencyStats, error) {
	var wg sync.WaitGroup
	var allDurations []time.Duration
	var errorCount int

	resultsChan := make(chan []time.Duration, numClients)
	errorsChan := make(chan error, numClients)

	for i := 0; i < numClients; i++ {
		wg.Add(1)
		go func(clientID int) {
			defer wg.Done()

			durations := make([]time.Duration, 0, opsPerClient)
			ctx := context.Background()

			for j := 0; j < opsPerClient; j++ {
				start := time.Now()
				err := op(ctx, clientID, j)
				durations = append(durations, time.Since(start))

				if err != nil {
					errorsChan <- fmt.Errorf("client %d op %d failed: %w", clientID, j, err)
					resultsChan <- durations[:len(durations)-1]
					return
				}
			}

			resultsChan <- durations
		}(i)
	}

	wg.Wait()
	close(resultsChan)
	close(errorsChan)

	for err := range errorsChan {
		errorCount++
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}

	for durations := range resultsChan {
		allDurations = append(allDurations, durations...)
	}

	if len(allDurations) == 0 {
		return nil, fmt.Errorf("no successful operations completed")
	}

	stats := computeLatencyStats(allDurations)
	stats.Errors = errorCount

	return stats, nil
}

// generateTasks creates count tasks with staggered start dates.
func generateTasks(count int) []schema.Record {
	tasks := make([]schema.Record, count)
	base := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)

	for i := 0; i < count; i++ {
		tasks[i] = schema.Record{
			schema.PhantomIDField: fmt.Sprintf("_generated%d", i),
			"name":                fmt.Sprintf("Task %d", i),
			"startDate":           base.AddDate(0, 0, i%90).Format("2006-01-02"),
			"duration":            1 + i%10,
			"percentDone":         (i * 7) % 100,
		}
	}

	return tasks
}

// generateDependencies links earlier tasks to later ones so that about
// depPct of the tasks have a predecessor.
func generateDependencies(taskIDs []int64, depPct float64) []schema.Record {
	if depPct <= 0 || depPct >= 1 || len(taskIDs) < 2 {
		return []schema.Record{}
	}

	deps := make([]schema.Record, 0)
	numToLink := int(float64(len(taskIDs)) * depPct)

	// Use deterministic random for reproducibility
	rng := rand.New(rand.NewSource(42))

	half := len(taskIDs) / 2
	for i := 0; i < numToLink; i++ {
		fromIdx := rng.Intn(half)
		toIdx := half + rng.Intn(len(taskIDs)-half)

		deps = append(deps, schema.Record{
			schema.PhantomIDField:   fmt.Sprintf("_generated%d", i),
			schema.DefaultFromField: taskIDs[fromIdx],
			schema.DefaultToField:   taskIDs[toIdx],
			"type":                  2,
		})
	}

	return deps
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}
	mean := sum / time.Duration(len(durations))

	return &LatencyStats{
		Min:       sorted[0],
		Max:       sorted[len(sorted)-1],
		Mean:      mean,
		P50:       sorted[len(sorted)*50/100],
		P95:       sorted[len(sorted)*95/100],
		P99:       sorted[len(sorted)*99/100],
		TotalOps:  len(durations),
		Durations: sorted,
	}
}

// PrintStats formats and prints latency statistics to stdout.
func (s *LatencyStats) PrintStats() {
	s.Fprint(os.Stdout)
}

// Fprint writes latency statistics to w.
func (s *LatencyStats) Fprint(w io.Writer) {
	fmt.Fprintf(w, "Latency Statistics:\n")
	fmt.Fprintf(w, "  Total Ops:     %d\n", s.TotalOps)
	fmt.Fprintf(w, "  Errors:        %d\n", s.Errors)
	fmt.Fprintf(w, "  Min:           %v\n", s.Min)
	fmt.Fprintf(w, "  P50 (Median):  %v\n", s.P50)
	fmt.Fprintf(w, "  Mean:          %v\n", s.Mean)
	fmt.Fprintf(w, "  P95:           %v\n", s.P95)
	fmt.Fprintf(w, "  P99:           %v\n", s.P99)
	fmt.Fprintf(w, "  Max:           %v\n", s.Max)
}

// VerifyNoRaceConditions runs loaders and syncers side by side for duration
// and checks every snapshot for missing or duplicate ids.
func (td *TestDatabase) VerifyNoRaceConditions(numClients int, duration time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	var wg sync.WaitGroup
	errorsChan := make(chan error, numClients*2)

	for i := 0; i < numClients; i++ {
		wg.Add(2)

		go func(clientID int) {
			defer wg.Done()
			for ctx.Err() == nil {
				snap, err := td.Loader.Load(ctx)
				if err != nil {
					if ctx.Err() == nil {
						errorsChan <- fmt.Errorf("client %d load failed: %w", clientID, err)
					}
					return
				}
				seen := make(map[int64]bool, len(snap.Tasks))
				for _, task := range snap.Tasks {
					id, err := task.ID()
					if err != nil || id == 0 {
						errorsChan <- fmt.Errorf("client %d found task without id", clientID)
						return
					}
					if seen[id] {
						errorsChan <- fmt.Errorf("client %d found task %d twice", clientID, id)
						return
					}
					seen[id] = true
				}
				time.Sleep(time.Millisecond)
			}
		}(i)

		go func(clientID int) {
			defer wg.Done()
			for op := 0; ctx.Err() == nil; op++ {
				target := td.TaskIDs[(clientID+op)%len(td.TaskIDs)]
				resp := td.Reconciler.Sync(ctx, &gsync.Request{
					Tasks: &gsync.Changeset{Updated: []schema.Record{{schema.IDField: target, "note": op}}},
				})
				if !resp.Success && ctx.Err() == nil {
					errorsChan <- fmt.Errorf("client %d sync failed: %s", clientID, resp.Message)
					return
				}
				time.Sleep(time.Millisecond)
			}
		}(i)
	}

	wg.Wait()
	close(errorsChan)

	for err := range errorsChan {
		if err != nil {
			return err
		}
	}

	return nil
}

// GetStats returns statistics about the test database.
func (td *TestDatabase) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"total_tasks":        td.TotalTasks,
		"total_dependencies": len(td.DepIDs),
		"dependency_percent": float64(len(td.DepIDs)) / float64(max(td.TotalTasks, 1)) * 100,
	}
}
