// Package commands implements the weir command line.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/teranos/weir/am"
	"github.com/teranos/weir/logger"
	"github.com/teranos/weir/sym"
)

// NewRootCmd builds the weir command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "weir",
		Short: "weir - run transformations and jobs",
		Long: `weir - a dataflow and control-flow engine.

A transformation is a graph of steps running concurrently, connected by
bounded row channels. A job is a sequence of entries walked one at a time,
following success and failure edges, where an entry may run a nested
transformation or job.

Available commands:
  run      - ` + sym.Trans + ` run a transformation or ` + sym.Job + ` a job
  validate - Check a definition file without running it
  history  - ` + sym.History + ` Inspect recorded runs
  am       - ` + sym.AM + ` Show and change configuration
  version  - Show version information

Examples:
  weir run trans daily_load.yaml     # Run a transformation
  weir run job nightly.toml -v       # Run a job with info logging
  weir history ls --limit 10         # Last ten top-level runs
  weir am show --format json         # Effective configuration`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv)")
	root.PersistentFlags().Bool("json", false, "Machine-readable output and JSON logs")
	root.PersistentFlags().String("config", "", "Read configuration from this file only (defaults and WEIR_* still apply)")

	root.AddCommand(newRunCmd())
	root.AddCommand(newValidateCmd())
	root.AddCommand(newHistoryCmd())
	root.AddCommand(newAmCmd())
	root.AddCommand(newVersionCmd())
	return root
}

// loadConfig reads the configuration named by --config, or the layered
// configuration otherwise, and sets up the global logger from it. -v and
// --json win over the file.
func loadConfig(cmd *cobra.Command) (*am.Config, error) {
	var (
		cfg *am.Config
		err error
	)
	path, _ := cmd.Flags().GetString("config")
	if path != "" {
		cfg, err = am.LoadFromFile(path)
	} else {
		cfg, err = am.Load()
	}
	if err != nil {
		return nil, err
	}
	// the loaded config is cached and shared; flags only touch this copy
	local := *cfg
	cfg = &local

	verbosity, _ := cmd.Flags().GetCount("verbose")
	if verbosity > cfg.Log.Verbosity {
		cfg.Log.Verbosity = verbosity
	}
	if jsonOutput(cmd) {
		cfg.Log.JSON = true
	}
	if err := logger.Initialize(cfg.Log.JSON, cfg.Log.Verbosity); err != nil {
		return nil, err
	}
	logger.Logger.Debugw("Logging initialised", "verbosity", logger.LevelName(cfg.Log.Verbosity), "json", cfg.Log.JSON)
	return cfg, nil
}

func jsonOutput(cmd *cobra.Command) bool {
	j, _ := cmd.Flags().GetBool("json")
	return j
}
