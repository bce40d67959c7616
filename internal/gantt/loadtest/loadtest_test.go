package loadtest

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MattDClarke/gantt-sync/internal/gantt/schema"
)

// TestCreateTestDatabase verifies the populated store matches the request.
func TestCreateTestDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	td, err := CreateTestDatabase(dbPath, 300, 0.3)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	defer td.Close()

	if len(td.TaskIDs) != 300 {
		t.Errorf("Expected 300 tasks, got %d", len(td.TaskIDs))
	}
	if len(td.DepIDs) != 90 {
		t.Errorf("Expected 90 dependencies, got %d", len(td.DepIDs))
	}

	ctx := context.Background()
	count, err := td.DB.Count(ctx, schema.KindTasks)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 300 {
		t.Errorf("Store holds %d tasks, expected 300", count)
	}

	seen := make(map[int64]bool)
	for _, id := range td.TaskIDs {
		if seen[id] {
			t.Fatalf("Task id %d assigned twice", id)
		}
		seen[id] = true
	}

	t.Logf("Database created: %v", td.GetStats())
}

func TestConcurrentLoads_Small(t *testing.T) {
	td, err := CreateTestDatabase(filepath.Join(t.TempDir(), "test.db"), 100, 0.3)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	defer td.Close()

	stats, err := td.RunConcurrentLoads(10, 5)
	if err != nil {
		t.Fatalf("Concurrent loads failed: %v", err)
	}

	if stats.Errors > 0 {
		t.Errorf("Got %d errors during loads", stats.Errors)
	}
	if stats.TotalOps != 50 {
		t.Errorf("Expected 50 total loads, got %d", stats.TotalOps)
	}
}

func TestConcurrentSyncs_KeepDatasetSize(t *testing.T) {
	td, err := CreateTestDatabase(filepath.Join(t.TempDir(), "test.db"), 50, 0)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	defer td.Close()

	const clients, syncs = 8, 5
	stats, err := td.RunConcurrentSyncs(clients, syncs)
	if err != nil {
		t.Fatalf("Concurrent syncs failed: %v", err)
	}
	if stats.Errors > 0 {
		t.Errorf("Got %d errors during syncs", stats.Errors)
	}
	if stats.TotalOps != clients*syncs {
		t.Errorf("Expected %d syncs, got %d", clients*syncs, stats.TotalOps)
	}

	// Each client leaves exactly one added task behind.
	count, err := td.DB.Count(context.Background(), schema.KindTasks)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 50+clients {
		t.Errorf("Store holds %d tasks, expected %d", count, 50+clients)
	}
}

func TestNoRaceConditions(t *testing.T) {
	td, err := CreateTestDatabase(filepath.Join(t.TempDir(), "test.db"), 100, 0.3)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	defer td.Close()

	if err := td.VerifyNoRaceConditions(4, 300*time.Millisecond); err != nil {
		t.Fatalf("Race check failed: %v", err)
	}
}

func TestComputeLatencyStats(t *testing.T) {
	durations := make([]time.Duration, 100)
	for i := range durations {
		durations[i] = time.Duration(100-i) * time.Millisecond
	}

	stats := computeLatencyStats(durations)

	if stats.Min != time.Millisecond {
		t.Errorf("Min = %v, want 1ms", stats.Min)
	}
	if stats.Max != 100*time.Millisecond {
		t.Errorf("Max = %v, want 100ms", stats.Max)
	}
	if stats.P50 != 51*time.Millisecond {
		t.Errorf("P50 = %v, want 51ms", stats.P50)
	}
	if stats.P95 != 96*time.Millisecond {
		t.Errorf("P95 = %v, want 96ms", stats.P95)
	}
	if stats.Mean != 50500*time.Microsecond {
		t.Errorf("Mean = %v, want 50.5ms", stats.Mean)
	}

	if empty := computeLatencyStats(nil); empty.TotalOps != 0 {
		t.Errorf("empty stats TotalOps = %d", empty.TotalOps)
	}
}

func TestFprint(t *testing.T) {
	var buf bytes.Buffer
	computeLatencyStats([]time.Duration{time.Millisecond}).Fprint(&buf)

	if !strings.Contains(buf.String(), "Total Ops:     1") {
		t.Errorf("unexpected output:\n%s", buf.String())
	}
}

func TestGenerateDependencies_PointForward(t *testing.T) {
	ids := make([]int64, 20)
	for i := range ids {
		ids[i] = int64(i + 1)
	}

	deps := generateDependencies(ids, 0.5)
	if len(deps) != 10 {
		t.Fatalf("Expected 10 dependencies, got %d", len(deps))
	}
	for _, dep := range deps {
		from, _ := dep.Ref(schema.DefaultFromField)
		to, _ := dep.Ref(schema.DefaultToField)
		if from >= to {
			t.Errorf("dependency %d -> %d does not point forward", from, to)
		}
	}

	if got := generateDependencies(ids, 0); len(got) != 0 {
		t.Errorf("Expected no dependencies for 0%%, got %d", len(got))
	}
}

func TestLargeDatabase(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping large database test in short mode")
	}

	td, err := CreateTestDatabase(filepath.Join(t.TempDir(), "large.db"), 5000, 0.3)
	if err != nil {
		t.Fatalf("Failed to create large test database: %v", err)
	}
	defer td.Close()

	stats, err := td.RunConcurrentLoads(20, 3)
	if err != nil {
		t.Fatalf("Concurrent loads failed: %v", err)
	}
	stats.PrintStats()
}

func BenchmarkSync_100Tasks(b *testing.B) {
	td, err := CreateTestDatabase(filepath.Join(b.TempDir(), "bench.db"), 100, 0.3)
	if err != nil {
		b.Fatalf("Failed to create test database: %v", err)
	}
	defer td.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := td.RunConcurrentSyncs(1, 1); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkLoad_1000Tasks(b *testing.B) {
	td, err := CreateTestDatabase(filepath.Join(b.TempDir(), "bench.db"), 1000, 0.3)
	if err != nil {
		b.Fatalf("Failed to create test database: %v", err)
	}
	defer td.Close()

	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := td.Loader.Load(ctx); err != nil {
			b.Fatal(err)
		}
	}
}
