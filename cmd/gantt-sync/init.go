package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/MattDClarke/gantt-sync/internal/config"
	"github.com/MattDClarke/gantt-sync/internal/gantt/db"
	"github.com/MattDClarke/gantt-sync/internal/ui"
)

var initCmd = &cobra.Command{
	Use:     "init [FILE]",
	GroupID: "setup",
	Short:   "Write a config file",
	Long: `Write a gantt-sync config file (default: gantt-sync.yaml).

On a terminal you are asked for the main settings; with --yes, or when not
attached to a terminal, the defaults are written as they are. The format
follows the file extension: .yaml, .toml or .json.

Examples:
  gantt-sync init
  gantt-sync init deploy/gantt-sync.toml --yes`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		yes, _ := cmd.Flags().GetBool("yes")
		force, _ := cmd.Flags().GetBool("force")

		path := config.FileName + ".yaml"
		if len(args) == 1 {
			path = args[0]
		}

		if _, err := os.Stat(path); err == nil && !force {
			fmt.Fprintf(os.Stderr, "Error: %s already exists (use --force to overwrite)\n", path)
			os.Exit(1)
		}

		cfg := config.Default()
		if !yes && ui.IsTerminal() {
			if err := promptConfig(cfg); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
		}

		if err := config.WriteFile(path, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		abs, _ := filepath.Abs(path)
		fmt.Printf("%s Wrote %s\n", ui.RenderPass("✓"), abs)
		fmt.Printf("   Start the server with: gantt-sync serve --config %s\n", path)
	},
}

func promptConfig(cfg *config.Config) error {
	concurrency := strconv.Itoa(cfg.Sync.Concurrency)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Listen address").
				Value(&cfg.Server.Addr).
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("address cannot be empty")
					}
					return nil
				}),
			huh.NewSelect[string]().
				Title("Store driver").
				Options(
					huh.NewOption("SQLite file", db.DriverSQLite),
					huh.NewOption("libSQL / Turso", db.DriverLibSQL),
				).
				Value(&cfg.Store.Driver),
			huh.NewInput().
				Title("Store path or URL").
				Value(&cfg.Store.Path),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Concurrent writes per phase").
				Value(&concurrency).
				Validate(func(s string) error {
					n, err := strconv.Atoi(s)
					if err != nil || n < 1 {
						return fmt.Errorf("enter a whole number of at least 1")
					}
					return nil
				}),
			huh.NewConfirm().
				Title("Run each entity kind in one transaction?").
				Value(&cfg.Sync.Transactional),
			huh.NewConfirm().
				Title("Delete dependencies together with their tasks?").
				Value(&cfg.Store.CascadeDependencies),
		),
	)

	if err := form.Run(); err != nil {
		return fmt.Errorf("config prompt cancelled: %w", err)
	}

	n, err := strconv.Atoi(concurrency)
	if err != nil {
		return fmt.Errorf("invalid concurrency: %w", err)
	}
	cfg.Sync.Concurrency = n
	return nil
}

func init() {
	initCmd.Flags().BoolP("yes", "y", false, "Write defaults without prompting")
	initCmd.Flags().BoolP("force", "f", false, "Overwrite an existing file")
	rootCmd.AddCommand(initCmd)
}
