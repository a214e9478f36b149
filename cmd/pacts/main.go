// Package main implements the pacts CLI - a self-healing browser test
// execution engine.
//
// This file serves as the entry point and command registration hub. Command
// implementations are split across cmd_*.go files for maintainability.
//
// # File Index
//
//   - main.go      - Entry point, rootCmd, global flags, init()
//   - cmd_run.go   - runCmd, runPlan()
//   - cmd_cache.go - cacheCmd, cacheInspectCmd, cacheInvalidateCmd
//   - cmd_show.go  - runShowCmd
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/example/pacts/internal/logging"
)

var (
	verbose    bool
	workspace  string
	configPath string
	timeout    time.Duration

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "pacts",
	Short: "pacts - self-healing browser test execution engine",
	Long: `pacts drives a browser through a plan of Intents, resolving each one to a
selector via a strategy ladder, gating it for actionability, and healing
a bounded number of times when the page has drifted since the plan was
written.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zapCfg := zap.NewProductionConfig()
		if verbose {
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zapCfg.Build()
		if err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}

		ws := workspace
		if ws == "" {
			ws, _ = os.Getwd()
		}
		if err := logging.Initialize(ws, verbose, os.Getenv("PACTS_LOG_FORMAT") == "json"); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to initialize file logging: %v\n", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.Close()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "workspace directory (default: current)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to pacts.yaml config")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Minute, "overall run timeout")

	cacheCmd.AddCommand(cacheInspectCmd, cacheInvalidateCmd)
	runCmd.AddCommand(runShowCmd)

	rootCmd.AddCommand(
		runCmd,
		cacheCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
