package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/MattDClarke/gantt-sync/internal/gantt/loadtest"
	"github.com/MattDClarke/gantt-sync/internal/ui"
)

var benchCmd = &cobra.Command{
	Use:     "bench",
	GroupID: "setup",
	Short:   "Measure load and sync latency under concurrent clients",
	Long: `Populate a throwaway SQLite store and drive it with concurrent clients.

Each client first loads the full dataset, then sends sync requests that add,
update and remove tasks. Latency percentiles are reported for both.

Examples:
  gantt-sync bench
  gantt-sync bench --clients 50 --tasks 5000 --ops 20
  gantt-sync bench --json`,
	Run: runBench,
}

func init() {
	benchCmd.Flags().Int("clients", 20, "Number of concurrent clients to simulate")
	benchCmd.Flags().Int("tasks", 1000, "Number of tasks in the store")
	benchCmd.Flags().Int("ops", 10, "Operations per client for each workload")
	benchCmd.Flags().Float64("deps", 0.3, "Share of tasks with a predecessor (0.0-1.0)")
	benchCmd.Flags().Bool("json", false, "Output results as JSON")
	rootCmd.AddCommand(benchCmd)
}

type benchResult struct {
	Clients int                    `json:"clients"`
	Tasks   int                    `json:"tasks"`
	Ops     int                    `json:"ops_per_client"`
	Store   map[string]interface{} `json:"store"`
	Load    *loadtest.LatencyStats `json:"load"`
	Sync    *loadtest.LatencyStats `json:"sync"`
}

func runBench(cmd *cobra.Command, args []string) {
	clients, _ := cmd.Flags().GetInt("clients")
	tasks, _ := cmd.Flags().GetInt("tasks")
	ops, _ := cmd.Flags().GetInt("ops")
	deps, _ := cmd.Flags().GetFloat64("deps")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	if clients <= 0 {
		fmt.Fprintf(os.Stderr, "Error: --clients must be positive\n")
		os.Exit(1)
	}
	if tasks <= 0 {
		fmt.Fprintf(os.Stderr, "Error: --tasks must be positive\n")
		os.Exit(1)
	}
	if ops <= 0 {
		fmt.Fprintf(os.Stderr, "Error: --ops must be positive\n")
		os.Exit(1)
	}
	if deps < 0 || deps > 1 {
		fmt.Fprintf(os.Stderr, "Error: --deps must be between 0.0 and 1.0\n")
		os.Exit(1)
	}

	tmpDir, err := os.MkdirTemp("", "gantt-bench-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer os.RemoveAll(tmpDir)

	if !jsonOutput {
		fmt.Printf("%s Populating %d tasks...\n", ui.RenderAccent("🔄"), tasks)
	}
	td, err := loadtest.CreateTestDatabase(filepath.Join(tmpDir, "bench.db"), tasks, deps)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer td.Close()

	loadStats, err := td.RunConcurrentLoads(clients, ops)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error during load workload: %v\n", err)
		os.Exit(1)
	}
	syncStats, err := td.RunConcurrentSyncs(clients, ops)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error during sync workload: %v\n", err)
		os.Exit(1)
	}

	if jsonOutput {
		// Per-op durations are noise in JSON output.
		loadStats.Durations, syncStats.Durations = nil, nil
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(benchResult{
			Clients: clients,
			Tasks:   tasks,
			Ops:     ops,
			Store:   td.GetStats(),
			Load:    loadStats,
			Sync:    syncStats,
		})
		return
	}

	fmt.Printf("\n%s Load (%d clients x %d)\n", ui.RenderAccent("📊"), clients, ops)
	loadStats.PrintStats()
	fmt.Printf("\n%s Sync (%d clients x %d)\n", ui.RenderAccent("📊"), clients, ops)
	syncStats.PrintStats()

	if loadStats.Errors > 0 || syncStats.Errors > 0 {
		fmt.Printf("\n%s %d operations failed\n", ui.RenderWarn("⚠"), loadStats.Errors+syncStats.Errors)
		os.Exit(1)
	}
	fmt.Printf("\n%s No errors\n", ui.RenderPass("✓"))
}
