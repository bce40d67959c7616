package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/MattDClarke/gantt-sync/internal/gantt/seed"
	gsync "github.com/MattDClarke/gantt-sync/internal/gantt/sync"
	"github.com/MattDClarke/gantt-sync/internal/ui"
)

var loadCmd = &cobra.Command{
	Use:     "load",
	GroupID: "data",
	Short:   "Print the /load response for the configured store",
	Long: `Print exactly what GET /load would return, without starting a server.

Examples:
  gantt-sync load
  gantt-sync load --db backup.db --pretty`,
	Run: func(cmd *cobra.Command, args []string) {
		_, cfg := loadConfig(cmd)
		pretty, _ := cmd.Flags().GetBool("pretty")

		database := openStore(cmd, cfg, nil)
		defer database.Close()

		resp := gsync.NewLoader(database, nil).Respond(cmd.Context())

		enc := json.NewEncoder(os.Stdout)
		if pretty {
			enc.SetIndent("", "  ")
		}
		if err := enc.Encode(resp); err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding response: %v\n", err)
			os.Exit(1)
		}
		if !resp.Success {
			os.Exit(1)
		}
	},
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "data",
	Short:   "Show store status",
	Long: `Display the configured store and what it holds.

Shows:
  - Store location, driver and size
  - Schema version
  - Number of tasks and dependencies`,
	Run: func(cmd *cobra.Command, args []string) {
		_, cfg := loadConfig(cmd)

		info, statErr := os.Stat(cfg.Store.Path)
		if os.IsNotExist(statErr) && !strings.Contains(cfg.Store.Path, "://") {
			fmt.Printf("\n%s Store not initialized\n", ui.RenderWarn("⚠"))
			fmt.Printf("   Run 'gantt-sync serve' or 'gantt-sync seed FILE' to create %s\n\n", cfg.Store.Path)
			return
		}

		database := openStore(cmd, cfg, nil)
		defer database.Close()

		ctx := cmd.Context()
		taskCount, err := database.GetTaskCountContext(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error getting task count: %v\n", err)
			os.Exit(1)
		}
		depCount, err := database.GetDepCountContext(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error getting dependency count: %v\n", err)
			os.Exit(1)
		}
		version, err := database.SchemaVersion(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading schema version: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("\n%s Gantt Store Status\n\n", ui.RenderAccent("📊"))
		fmt.Printf("Location: %s\n", database.Path())
		fmt.Printf("Driver: %s\n", database.Driver())
		if statErr == nil {
			fmt.Printf("Size: %s\n", formatSize(info.Size()))
			fmt.Printf("Modified: %s\n", info.ModTime().Format("2006-01-02 15:04:05"))
		}
		fmt.Printf("Schema: v%d\n", version)
		fmt.Printf("Tasks: %d\n", taskCount)
		fmt.Printf("Dependencies: %d\n", depCount)
		fmt.Println()
	},
}

var seedCmd = &cobra.Command{
	Use:     "seed FILE",
	GroupID: "data",
	Short:   "Import tasks and dependencies from a dataset file",
	Long: `Import a dataset the way a client would: every record is sent through the
sync pipeline and receives a fresh id from the store.

FILE may be .json, .yaml/.yml or .toml, shaped either like a /load response
({"tasks": {"rows": [...]}}) or as bare lists ({"tasks": [...]}). Tasks may
nest subtasks under "children". parentId and the dependency endpoint fields
are rewritten to the new ids.

Examples:
  gantt-sync seed launch.json
  gantt-sync seed plan.yaml --dry-run`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		_, cfg := loadConfig(cmd)
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		batch, _ := cmd.Flags().GetInt("batch")

		ds, err := seed.ReadFile(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		sink := openLogging(cfg)
		defer sink.Close()

		database := openStore(cmd, cfg, nil)
		defer database.Close()

		reconciler := gsync.NewReconciler(database, &gsync.Config{
			Concurrency: cfg.Sync.Concurrency,
			Logger:      sink.Logger("sync"),
		})

		opts := seed.DefaultOptions()
		opts.BatchSize = batch
		opts.FromField = cfg.Dependencies.FromField
		opts.ToField = cfg.Dependencies.ToField
		opts.DryRun = dryRun
		if verbose {
			opts.Logger = sink.Logger("seed")
		}

		fmt.Printf("%s Importing %s into %s...\n", ui.RenderAccent("🔄"), args[0], database.Path())
		start := time.Now()

		result, err := seed.Import(cmd.Context(), reconciler, ds, opts)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s Import failed: %v\n", ui.RenderFail("✗"), err)
			os.Exit(1)
		}

		verb := "Imported"
		if dryRun {
			verb = "Would import"
		}
		fmt.Printf("%s %s in %v\n", ui.RenderPass("✓"), verb, time.Since(start).Round(time.Millisecond))
		fmt.Printf("   Tasks: %d (%d levels)\n", result.TasksCreated, result.Levels)
		fmt.Printf("   Dependencies: %d\n", result.DepsCreated)
		if !dryRun {
			fmt.Printf("   Requests: %d\n", result.Requests)
		}
	},
}

func formatSize(size int64) string {
	switch {
	case size > 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(size)/(1024*1024))
	case size > 1024:
		return fmt.Sprintf("%.1f KB", float64(size)/1024)
	default:
		return fmt.Sprintf("%d bytes", size)
	}
}

func init() {
	loadCmd.Flags().Bool("pretty", false, "Indent the JSON output")
	seedCmd.Flags().Bool("dry-run", false, "Resolve the import order without writing")
	seedCmd.Flags().Int("batch", 500, "Records per sync request")

	rootCmd.AddCommand(loadCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(seedCmd)
}
