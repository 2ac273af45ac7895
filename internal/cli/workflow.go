package cli

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/ChuLiYu/mcpipe/internal/config"
	"github.com/ChuLiYu/mcpipe/internal/driver"
	"github.com/ChuLiYu/mcpipe/internal/journal"
	"github.com/ChuLiYu/mcpipe/internal/layout"
	"github.com/ChuLiYu/mcpipe/internal/stage"
	"github.com/ChuLiYu/mcpipe/internal/workflowlog"
	"github.com/ChuLiYu/mcpipe/pkg/types"
)

func buildWorkflowCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Submit the complete production chain described by --config",
		Long: `Submit reduction, merge, the optional DL1 to DL2 step and the IRF job for
every configured particle. Each stage depends on the jobs of the previous one,
so the command returns as soon as everything is queued. The workflow log is
written to log_dir, $MCPIPE_PROD_LOGS or $HOME/MCPIPE_PROD_LOGS, next to a
journal of every issued handle that "mcpipe log recover" can replay.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkflow(cmd, opts)
		},
	}
	return cmd
}

func runWorkflow(cmd *cobra.Command, opts *rootOptions) error {
	if opts.configFile == "" {
		return errors.New("a production config is required (use --config)")
	}
	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return err
	}
	particles, err := cfg.ParticleList()
	if err != nil {
		return err
	}
	prodID := cfg.ProdID(time.Now())

	logDir, err := resolveLogDir(cfg.LogDir)
	if err != nil {
		return err
	}
	store := workflowlog.NewStore(filepath.Join(logDir, workflowlog.FileName(prodID)), prodID)
	jrnl, err := journal.Create(filepath.Join(logDir, journal.FileName(prodID)))
	if err != nil {
		if errors.Is(err, journal.ErrInUse) {
			return fmt.Errorf("%w; run \"mcpipe log recover %s\" to keep its jobs on record, then move it aside", err, prodID)
		}
		return err
	}
	defer jrnl.Close()

	batch := stage.Batch{
		Kind:       cfg.Kind(),
		SourceEnv:  cfg.SourceEnvironment,
		Account:    cfg.SlurmAccount,
		ToolConfig: cfg.LstchainConfig,
		KeepImages: cfg.Merge.KeepImages,
	}
	s := opts.newSession(cmd, batch, layout.Cleaner{}, cfg.DryRun, cfg.SubmitTimeout, jrnl)
	s.logger.Info("Starting workflow", "prod_id", prodID, "config", opts.configFile, "log", store.Path(), "journal", jrnl.Path())

	plan := driver.Plan{
		ProdID:          prodID,
		DL0Template:     cfg.DL0Template,
		Particles:       particles,
		TrainTestRatio:  cfg.Reduce.TrainTestRatio,
		Seed:            cfg.Reduce.RandomSeed,
		FilesPerJob:     cfg.Reduce.FilesPerJob,
		TargetSizeMB:    cfg.Reduce.TargetDL1SizeMB,
		ReductionFactor: cfg.Reduce.ReductionFactor,
		DL2:             cfg.DL1ToDL2.Enabled,
		ModelsDir:       cfg.DL1ToDL2.ModelsDir,
		IRF:             cfg.IRF.Enabled,
		IRFMode:         cfg.IRFMode(),
	}
	res, runErr := driver.New(s.orch, store, s.logger).Run(cmd.Context(), plan)

	textfile := opts.metricsTextfile
	if textfile == "" {
		textfile = cfg.Metrics.Textfile
	}
	if err := s.writeMetrics(textfile); err != nil {
		return errors.Join(runErr, err)
	}
	if runErr != nil {
		return runErr
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Workflow log: %s\n", store.Path())
	fmt.Fprintln(out, types.JoinHandles(res.Handles))
	return nil
}
