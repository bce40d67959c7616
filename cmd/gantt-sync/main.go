package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/MattDClarke/gantt-sync/internal/config"
	"github.com/MattDClarke/gantt-sync/internal/gantt/db"
	"github.com/MattDClarke/gantt-sync/internal/logging"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "gantt-sync",
	Short: "Load and sync backend for Gantt chart clients",
	Long: `gantt-sync stores Gantt tasks and dependencies and serves the load/sync
protocol Gantt clients speak.

Clients fetch the whole dataset with GET /load and push their edits with
POST /sync. New records carry a temporary $PhantomId; the server answers with
the permanent id assigned to each one.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Config file (default: gantt-sync.yaml in . or ~/.gantt-sync)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log a summary line for every sync")
	rootCmd.PersistentFlags().String("db", "", "Store path or libsql URL (overrides store.path)")

	rootCmd.AddGroup(
		&cobra.Group{ID: "server", Title: "Server:"},
		&cobra.Group{ID: "data", Title: "Data:"},
		&cobra.Group{ID: "setup", Title: "Setup:"},
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the configuration with command flags bound on top.
func loadConfig(cmd *cobra.Command) (*config.Loader, *config.Config) {
	loader := config.NewLoader(cfgFile)
	v := loader.Viper()

	if f := cmd.Flags().Lookup("db"); f != nil {
		_ = v.BindPFlag("store.path", f)
	}
	if f := cmd.Flags().Lookup("verbose"); f != nil {
		_ = v.BindPFlag("log.verbose", f)
	}
	if f := cmd.Flags().Lookup("addr"); f != nil {
		_ = v.BindPFlag("server.addr", f)
	}

	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	return loader, cfg
}

// openLogging opens the configured log sink.
func openLogging(cfg *config.Config) *logging.Sink {
	sink, err := logging.Open(cfg.LogOptions())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening log: %v\n", err)
		os.Exit(1)
	}
	return sink
}

// openStore opens and migrates the configured store. A nil logger silences
// store logging, which keeps one-shot commands quiet.
func openStore(cmd *cobra.Command, cfg *config.Config, logger *log.Logger) *db.DB {
	opts := cfg.StoreOptions()
	opts.Logger = logger
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}

	database, err := db.OpenWithOptions(cfg.Store.Path, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening store: %v\n", err)
		os.Exit(1)
	}

	if err := database.Migrate(cmd.Context()); err != nil {
		_ = database.Close()
		fmt.Fprintf(os.Stderr, "Error migrating store: %v\n", err)
		os.Exit(1)
	}
	return database
}
