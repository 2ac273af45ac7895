package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ChuLiYu/mcpipe/internal/display"
	"github.com/ChuLiYu/mcpipe/internal/layout"
	"github.com/ChuLiYu/mcpipe/internal/partition"
	"github.com/ChuLiYu/mcpipe/internal/stage"
	"github.com/ChuLiYu/mcpipe/internal/workflowlog"
	"github.com/ChuLiYu/mcpipe/pkg/types"
)

// ============================================================================
// Shared standalone flags
// ============================================================================

type batchFlags struct {
	toolConfig string
	account    string
	sourceEnv  string
	kind       string
	keepImages bool
	yes        bool
}

func (b *batchFlags) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVarP(&b.toolConfig, "config_file", "c", "", "lstchain configuration file, copied next to the outputs")
	f.StringVar(&b.account, "account", "", "Slurm account (-A)")
	f.StringVar(&b.sourceEnv, "source_env", "", "shell prefix activating the analysis environment")
	f.StringVar(&b.kind, "workflow_kind", string(types.KindLstchain), "tool family: lstchain or ctapipe")
	f.BoolVarP(&b.yes, "yes", "y", false, "clear non-empty output directories without asking")
}

func (b *batchFlags) batch() (stage.Batch, error) {
	kind, err := types.ParseWorkflowKind(b.kind)
	if err != nil {
		return stage.Batch{}, err
	}
	return stage.Batch{
		Kind:       kind,
		SourceEnv:  b.sourceEnv,
		Account:    b.account,
		ToolConfig: b.toolConfig,
		KeepImages: b.keepImages,
	}, nil
}

func (b *batchFlags) cleaner(cmd *cobra.Command) layout.Cleaner {
	return layout.Cleaner{
		Interactive: !b.yes,
		Prompt:      layout.NewStreamPrompter(cmd.InOrStdin(), cmd.OutOrStdout()),
	}
}

type sampleFlags struct {
	particle string
	prodID   string
}

func (s *sampleFlags) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&s.particle, "particle", "", "particle of the sample (electron, proton, gamma, gamma-diffuse, gamma_off0.0deg, gamma_off0.4deg)")
	f.StringVar(&s.prodID, "prod_id", "", "production identifier")
	cmd.MarkFlagRequired("particle")
	cmd.MarkFlagRequired("prod_id")
}

func (s *sampleFlags) context(dl0Dir string) (layout.ProductionContext, error) {
	particle, err := types.ParseParticle(s.particle)
	if err != nil {
		return layout.ProductionContext{}, err
	}
	return layout.NewProductionContext(s.prodID, particle, dl0Dir)
}

// runStandalone wraps one stage between banners and prints what it submitted.
func runStandalone(cmd *cobra.Command, opts *rootOptions, s *session, log *workflowlog.StageLog, run func() error) error {
	out := cmd.OutOrStdout()
	display.Start(out, log.Stage())
	runErr := run()
	if log.Len() > 0 {
		display.Log(out, log.Stage(), log.Entries())
	}
	if err := s.writeMetrics(opts.metricsTextfile); err != nil && runErr == nil {
		runErr = err
	}
	if runErr != nil {
		return runErr
	}
	display.End(out, log.Stage())
	return nil
}

// ============================================================================
// r0-to-dl1
// ============================================================================

func buildReduceCommand(opts *rootOptions) *cobra.Command {
	var (
		bf          batchFlags
		sf          sampleFlags
		ratio       float64
		seed        int64
		filesPerJob int
		targetMB    float64
		factor      float64
	)

	cmd := &cobra.Command{
		Use:   "r0-to-dl1 INPUT_DIR",
		Short: "Split a DL0 sample into train/test sets and submit one reduction job per chunk",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pc, err := sf.context(args[0])
			if err != nil {
				return err
			}
			batch, err := bf.batch()
			if err != nil {
				return err
			}
			s := opts.newSession(cmd, batch, bf.cleaner(cmd), false, opts.submitTimeout, nil)
			log := workflowlog.NewStageLog(workflowlog.StageR0ToDL1)

			return runStandalone(cmd, opts, s, log, func() error {
				tree, err := s.orch.Reduce(cmd.Context(), stage.ReduceRequest{
					Context:         pc,
					TrainTestRatio:  ratio,
					Seed:            seed,
					FilesPerJob:     filesPerJob,
					TargetSizeMB:    targetMB,
					ReductionFactor: factor,
				}, log)
				if err != nil {
					return err
				}
				display.Tree(cmd.OutOrStdout(), tree)
				return nil
			})
		},
	}

	bf.register(cmd)
	sf.register(cmd)
	f := cmd.Flags()
	f.Float64Var(&ratio, "train_test_ratio", 0.5, "fraction of the files used for training")
	f.Int64Var(&seed, "random_seed", 42, "seed of the train/test shuffle")
	f.IntVar(&filesPerJob, "n_files_per_dl1", 0, "files per job; 0 sizes jobs from --target_dl1_size_mb")
	f.Float64Var(&targetMB, "target_dl1_size_mb", partition.DefaultTargetSizeMB, "merged DL1 size automatic chunking aims for")
	f.Float64Var(&factor, "reduction_factor", partition.DefaultReductionFactor, "DL0 to DL1 size ratio")

	return cmd
}

// ============================================================================
// merge
// ============================================================================

func buildMergeCommand(opts *rootOptions) *cobra.Command {
	var (
		bf batchFlags
		sf sampleFlags
	)

	cmd := &cobra.Command{
		Use:   "merge INPUT_DIR",
		Short: "Merge the reduced training and testing files of a sample",
		Long: `Merge the DL1 files of the sample whose DL0 directory is INPUT_DIR. The
DL1 directories are derived from INPUT_DIR and --prod_id and must exist.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pc, err := sf.context(args[0])
			if err != nil {
				return err
			}
			batch, err := bf.batch()
			if err != nil {
				return err
			}
			s := opts.newSession(cmd, batch, bf.cleaner(cmd), false, opts.submitTimeout, nil)
			log := workflowlog.NewStageLog(workflowlog.StageMergeDL1)

			return runStandalone(cmd, opts, s, log, func() error {
				return s.orch.Merge(cmd.Context(), stage.MergeRequest{Tree: layout.DeriveTree(pc)}, log)
			})
		},
	}

	bf.register(cmd)
	sf.register(cmd)
	cmd.Flags().BoolVar(&bf.keepImages, "keep_images", false, "keep image tables in the merged files")

	return cmd
}

// ============================================================================
// dl1-to-dl2
// ============================================================================

func buildDL2Command(opts *rootOptions) *cobra.Command {
	var (
		bf     batchFlags
		sf     sampleFlags
		models string
	)

	cmd := &cobra.Command{
		Use:   "dl1-to-dl2 INPUT_DIR",
		Short: "Apply trained models to the merged testing file of a sample",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pc, err := sf.context(args[0])
			if err != nil {
				return err
			}
			batch, err := bf.batch()
			if err != nil {
				return err
			}
			s := opts.newSession(cmd, batch, bf.cleaner(cmd), false, opts.submitTimeout, nil)
			log := workflowlog.NewStageLog(workflowlog.StageDL1ToDL2)

			return runStandalone(cmd, opts, s, log, func() error {
				req := stage.DL2Request{Tree: layout.DeriveTree(pc), ModelsDir: models}
				return s.orch.DL1ToDL2(cmd.Context(), req, log)
			})
		},
	}

	bf.register(cmd)
	sf.register(cmd)
	cmd.Flags().StringVar(&models, "path_models", "", "directory of the trained models")
	cmd.MarkFlagRequired("path_models")

	return cmd
}

// ============================================================================
// irf
// ============================================================================

func buildIRFCommand(opts *rootOptions) *cobra.Command {
	var (
		bf        batchFlags
		template  string
		prodID    string
		pointLike bool
		offset    string
	)

	cmd := &cobra.Command{
		Use:   "irf",
		Short: "Compute IRFs from the DL2 testing files of gammas, protons and electrons",
		Long: `Compute IRFs from one DL2 testing file per role. --input_template is a DL2
directory path containing {particle}; each role's directory must hold exactly
one *testing.h5 file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			batch, err := bf.batch()
			if err != nil {
				return err
			}
			s := opts.newSession(cmd, batch, bf.cleaner(cmd), false, opts.submitTimeout, nil)
			log := workflowlog.NewStageLog(workflowlog.StageDL2ToIRF)

			return runStandalone(cmd, opts, s, log, func() error {
				res, err := s.orch.IRF(cmd.Context(), stage.IRFRequest{
					Mode:     layout.IRFMode{PointLike: pointLike, Offset: offset},
					ProdID:   prodID,
					Template: template,
				}, log)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "IRF output: %s\n", res.Output)
				return nil
			})
		},
	}

	bf.register(cmd)
	f := cmd.Flags()
	f.StringVar(&template, "input_template", "", "DL2 directory template containing "+layout.ParticlePlaceholder)
	f.StringVar(&prodID, "prod_id", "", "production identifier used in the output path and name")
	f.BoolVar(&pointLike, "point_like", false, "compute point-like IRFs")
	f.StringVar(&offset, "gamma_offset", "", "pointing offset of the point-like gammas (off0.0deg or off0.4deg)")
	cmd.MarkFlagRequired("input_template")

	return cmd
}
