package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/MattDClarke/gantt-sync/internal/config"
	"github.com/MattDClarke/gantt-sync/internal/gantt/server"
	gsync "github.com/MattDClarke/gantt-sync/internal/gantt/sync"
	"github.com/MattDClarke/gantt-sync/internal/ui"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "server",
	Short:   "Start the load/sync HTTP server",
	Long: `Start the HTTP server Gantt clients talk to.

Endpoints:
  GET  /load    full dataset: {success, tasks: {rows}, dependencies: {rows}}
  POST /sync    apply a changeset, answer with the $PhantomId -> id mapping
  GET  /health  liveness plus record counts
  GET  /ws      websocket carrying {"type":"load"} and {"type":"sync", ...} frames

Any other GET is served from server.static_dirs (default: ./public).

Editing the config file while the server runs applies sync.concurrency and
log.verbose without a restart.

Examples:
  gantt-sync serve
  gantt-sync serve --addr :8080 --db ./data/gantt.db
  GANTT_SYNC_TRANSACTIONAL=true gantt-sync serve`,
	Run: func(cmd *cobra.Command, args []string) {
		loader, cfg := loadConfig(cmd)

		sink := openLogging(cfg)
		defer sink.Close()

		database := openStore(cmd, cfg, sink.Logger("store"))
		defer database.Close()

		if !cfg.Log.Verbose {
			gin.SetMode(gin.ReleaseMode)
		}

		reconciler := gsync.NewReconciler(database, &gsync.Config{
			Concurrency:   cfg.Sync.Concurrency,
			Transactional: cfg.Sync.Transactional,
			Verbose:       cfg.Log.Verbose,
			Logger:        sink.Logger("sync"),
		})

		srv := server.NewServer(gsync.NewLoader(database, sink.Logger("load")), reconciler, &server.Config{
			Addr:         cfg.Server.Addr,
			StaticDirs:   cfg.Server.StaticDirs,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			Counter:      database,
			Logger:       sink.Logger("server"),
		})

		configLog := sink.Logger("config")
		loader.Watch(func(next *config.Config) {
			reconciler.SetConcurrency(next.Sync.Concurrency)
			reconciler.SetVerbose(next.Log.Verbose)
			configLog.Printf("Reloaded %s (concurrency=%d verbose=%t)",
				loader.File(), next.Sync.Concurrency, next.Log.Verbose)
		}, func(err error) {
			configLog.Printf("Ignoring config change: %v", err)
		})

		if err := srv.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to start server: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Serving on http://%s\n", ui.RenderAccent("🚀"), srv.GetAddr())
		fmt.Printf("   Store: %s (%s)\n", database.Path(), database.Driver())
		if f := loader.File(); f != "" {
			fmt.Printf("   Config: %s\n", f)
		}
		if f := sink.File(); f != "" {
			fmt.Printf("   Log: %s\n", f)
		}
		fmt.Println("\nPress Ctrl+C to stop...")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		<-ctx.Done()

		fmt.Println("\nShutting down...")
		if err := srv.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Server stopped\n", ui.RenderPass("✓"))
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "Listen address (overrides server.addr)")
	rootCmd.AddCommand(serveCmd)
}
