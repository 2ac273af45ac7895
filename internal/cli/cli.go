// ============================================================================
// mcpipe CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: Cobra command tree of the production orchestrator
//
// Command Structure:
//   mcpipe                          # Root command
//   ├── workflow                    # Submit the whole chain from a config file
//   ├── r0-to-dl1 INPUT_DIR         # Standalone reduction of one sample
//   ├── merge INPUT_DIR             # Standalone merge of one sample
//   ├── dl1-to-dl2 INPUT_DIR        # Standalone DL1 to DL2 of one sample
//   ├── irf                         # Standalone IRF computation
//   └── log
//       ├── show [PROD_ID]          # Print a persisted workflow log
//       └── recover PROD_ID         # Rebuild missing stages from the submission journal
//
// Persistent flags:
//   --config            production config file (YAML), required by workflow
//   --log-level         debug, info, warn, error
//   --log-format        text or json
//   --dry-run           print sbatch commands with synthetic handles
//   --metrics-textfile  write submission metrics when the command ends
//
// Environment:
//   MCPIPE_PROD_LOGS    workflow log and journal directory (default $HOME/MCPIPE_PROD_LOGS).
//                       This is the only place the process environment is read.
//
// Modes:
//   workflow runs unattended: output directories are cleared without asking
//   and every stage log is persisted. Each issued handle is also journaled
//   the moment sbatch returns it. The standalone commands ask before
//   clearing a non-empty directory (unless --yes) and print banners instead.
//
// ============================================================================

package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/ChuLiYu/mcpipe/internal/layout"
	"github.com/ChuLiYu/mcpipe/internal/metrics"
	"github.com/ChuLiYu/mcpipe/internal/scheduler"
	"github.com/ChuLiYu/mcpipe/internal/stage"
)

// EnvProdLogs names the workflow log directory.
const EnvProdLogs = "MCPIPE_PROD_LOGS"

type rootOptions struct {
	configFile      string
	logLevel        string
	logFormat       string
	dryRun          bool
	metricsTextfile string
	submitTimeout   time.Duration
}

func BuildCLI() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "mcpipe",
		Short: "mcpipe: Monte Carlo production orchestrator for Slurm",
		Long: `mcpipe turns simulated DL0 samples into DL1, DL2 and IRF products by
submitting chained Slurm jobs:
- reproducible train/test splits and bounded work units
- afterok dependencies between stages, no polling
- a persisted workflow log of every submitted job`,
		Version:       "0.4.0",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&opts.configFile, "config", "", "production config file (YAML)")
	pf.StringVar(&opts.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	pf.StringVar(&opts.logFormat, "log-format", "text", "log format: text or json")
	pf.BoolVar(&opts.dryRun, "dry-run", false, "print sbatch commands instead of submitting them")
	pf.StringVar(&opts.metricsTextfile, "metrics-textfile", "", "write submission metrics to this file when done")
	pf.DurationVar(&opts.submitTimeout, "submit-timeout", 2*time.Minute, "bound on a single sbatch call")

	rootCmd.AddCommand(buildWorkflowCommand(opts))
	rootCmd.AddCommand(buildReduceCommand(opts))
	rootCmd.AddCommand(buildMergeCommand(opts))
	rootCmd.AddCommand(buildDL2Command(opts))
	rootCmd.AddCommand(buildIRFCommand(opts))
	rootCmd.AddCommand(buildLogCommand())

	return rootCmd
}

// ============================================================================
// Session: one command's scheduler, orchestrator and metrics
// ============================================================================

type session struct {
	logger  *slog.Logger
	metrics *metrics.Collector
	orch    *stage.Orchestrator
}

func (o *rootOptions) newSession(cmd *cobra.Command, batch stage.Batch, cleaner layout.Cleaner, dryRun bool, timeout time.Duration, journal stage.Journal) *session {
	logger := newLogger(o.logLevel, o.logFormat, cmd.ErrOrStderr())
	collector := metrics.NewCollector()

	var runner scheduler.Runner = scheduler.ExecRunner{Timeout: timeout}
	if o.dryRun || dryRun {
		logger.Info("Dry run: nothing is submitted")
		runner = scheduler.NewDryRunRunner(1, cmd.OutOrStdout())
	}

	orch := stage.New(stage.Config{
		Submitter: scheduler.NewSubmitter(runner, logger, collector),
		Cleaner:   cleaner,
		Batch:     batch,
		Logger:    logger,
		Recorder:  collector,
		Journal:   journal,
	})
	return &session{logger: logger, metrics: collector, orch: orch}
}

// writeMetrics dumps the collector when path is set.
func (s *session) writeMetrics(path string) error {
	if path == "" {
		return nil
	}
	if err := s.metrics.WriteTextfile(path); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	s.logger.Debug("Metrics written", "path", path)
	return nil
}

func newLogger(levelStr, formatStr string, outW io.Writer) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if formatStr == "json" {
		handler = slog.NewJSONHandler(outW, handlerOpts)
	} else {
		handler = slog.NewTextHandler(outW, handlerOpts)
	}
	return slog.New(handler)
}

// resolveLogDir picks the workflow log directory: the config value, then
// MCPIPE_PROD_LOGS, then $HOME/MCPIPE_PROD_LOGS.
func resolveLogDir(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	if dir := os.Getenv(EnvProdLogs); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.New("cannot locate the workflow log directory: set " + EnvProdLogs)
	}
	return filepath.Join(home, EnvProdLogs), nil
}
