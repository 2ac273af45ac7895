// ============================================================================
// mcpipe Driver - full workflow sequencing
// ============================================================================
//
// Package: internal/driver
// File: driver.go
// Purpose: Chain the stages of a production run through job dependencies
//
// Flow:
//   1. Reduce     every particle sample, no dependencies
//   2. Merge      every particle x set, after that pair's reduce jobs
//   3. DL1ToDL2   (optional) every particle, after its testing merge job
//   4. IRF        (optional) one job, after every job of the previous stage
//
// Each stage's log is persisted before the next stage starts, and the next
// stage reads its inputs and dependencies from that log. The driver never
// waits for a job: it returns as soon as the last stage has been submitted.
//
// ============================================================================

package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/ChuLiYu/mcpipe/internal/layout"
	"github.com/ChuLiYu/mcpipe/internal/stage"
	"github.com/ChuLiYu/mcpipe/internal/workflowlog"
	"github.com/ChuLiYu/mcpipe/pkg/types"
)

// ErrInvalidPlan is returned when a plan cannot run as a whole.
var ErrInvalidPlan = errors.New("driver: invalid plan")

// Plan is a complete production run.
type Plan struct {
	ProdID      string
	DL0Template string // data lake path with the particle placeholder
	Particles   []types.Particle

	TrainTestRatio  float64
	Seed            int64
	FilesPerJob     int
	TargetSizeMB    float64
	ReductionFactor float64

	DL2       bool
	ModelsDir string

	IRF     bool
	IRFMode layout.IRFMode
}

// Validate checks everything that would otherwise fail after some stages were
// already submitted.
func (p Plan) Validate() error {
	if p.ProdID == "" {
		return fmt.Errorf("%w: production id is required", ErrInvalidPlan)
	}
	if len(p.Particles) == 0 {
		return fmt.Errorf("%w: no particles", ErrInvalidPlan)
	}
	seen := make(map[types.Particle]bool, len(p.Particles))
	for _, particle := range p.Particles {
		if _, err := types.Lookup(particle); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPlan, err)
		}
		if seen[particle] {
			return fmt.Errorf("%w: particle %s listed twice", ErrInvalidPlan, particle)
		}
		seen[particle] = true
	}
	if p.DL2 && p.ModelsDir == "" {
		return fmt.Errorf("%w: dl1 to dl2 needs a models directory", ErrInvalidPlan)
	}
	if !p.IRF {
		return nil
	}
	roles, err := p.IRFMode.Particles()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPlan, err)
	}
	for _, role := range types.Roles() {
		if !seen[roles[role]] {
			return fmt.Errorf("%w: IRF %s role needs particle %s in the run", ErrInvalidPlan, role, roles[role])
		}
	}
	return nil
}

// Result is the structured state of a submitted run.
type Result struct {
	Logs    []*workflowlog.StageLog // in stage order
	Handles []types.JobHandle       // every handle, in submission order
	Trees   map[types.Particle]layout.DirectoryTree
	IRF     *stage.IRFResult
}

// Driver runs plans.
type Driver struct {
	orch   *stage.Orchestrator
	store  *workflowlog.Store // optional
	logger *slog.Logger
}

// New returns a driver. A nil store keeps logs in memory only.
func New(orch *stage.Orchestrator, store *workflowlog.Store, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{orch: orch, store: store, logger: logger}
}

// Run submits every stage of plan.
func (d *Driver) Run(ctx context.Context, plan Plan) (Result, error) {
	if err := plan.Validate(); err != nil {
		return Result{}, err
	}
	if d.store != nil {
		doc, err := d.store.Load()
		if err != nil {
			return Result{}, err
		}
		if len(doc.Stages) > 0 {
			return Result{}, fmt.Errorf("%w: %s already holds stages %v", ErrInvalidPlan, d.store.Path(), doc.StageNames())
		}
	}
	start := time.Now()
	res := Result{Trees: make(map[types.Particle]layout.DirectoryTree, len(plan.Particles))}

	plans, err := d.prepare(plan)
	if err != nil {
		return res, err
	}

	reduce := workflowlog.NewStageLog(workflowlog.StageR0ToDL1)
	err = d.runStage(reduce, &res, func() error {
		for _, rp := range plans {
			tree, err := d.orch.SubmitReduce(ctx, rp, reduce)
			if err != nil {
				return err
			}
			res.Trees[rp.Context.Particle()] = tree
		}
		return nil
	})
	if err != nil {
		return res, err
	}

	merge := workflowlog.NewStageLog(workflowlog.StageMergeDL1)
	err = d.runStage(merge, &res, func() error {
		for _, particle := range plan.Particles {
			req := stage.MergeRequest{Tree: res.Trees[particle], Upstream: reduce}
			if err := d.orch.Merge(ctx, req, merge); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return res, err
	}
	last := merge

	if plan.DL2 {
		dl2 := workflowlog.NewStageLog(workflowlog.StageDL1ToDL2)
		err = d.runStage(dl2, &res, func() error {
			for _, particle := range plan.Particles {
				req := stage.DL2Request{Tree: res.Trees[particle], ModelsDir: plan.ModelsDir, Upstream: merge}
				if err := d.orch.DL1ToDL2(ctx, req, dl2); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return res, err
		}
		last = dl2
	}

	if plan.IRF {
		irf := workflowlog.NewStageLog(workflowlog.StageDL2ToIRF)
		err = d.runStage(irf, &res, func() error {
			out, err := d.orch.IRF(ctx, stage.IRFRequest{
				Mode:     plan.IRFMode,
				ProdID:   plan.ProdID,
				Template: plan.DL0Template,
				Upstream: last,
			}, irf)
			if err != nil {
				return err
			}
			res.IRF = &out
			return nil
		})
		if err != nil {
			return res, err
		}
	}

	res.Handles = workflowlog.Flatten(res.Logs...)
	d.logger.Info("Workflow submitted",
		"prod_id", plan.ProdID,
		"stages", len(res.Logs),
		"jobs", len(res.Handles),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return res, nil
}

// prepare builds the context of every sample and partitions it. Any missing
// or empty sample, and any pair of samples whose trees would overlap, fails
// here, before a directory is cleaned or a job submitted.
func (d *Driver) prepare(plan Plan) ([]stage.ReducePlan, error) {
	contexts := make([]layout.ProductionContext, 0, len(plan.Particles))
	for _, particle := range plan.Particles {
		dir, err := layout.ParticleDir(plan.DL0Template, particle)
		if err != nil {
			return nil, err
		}
		pc, err := layout.NewProductionContext(plan.ProdID, particle, dir)
		if err != nil {
			return nil, err
		}
		contexts = append(contexts, pc)
	}
	if err := disjointTrees(contexts); err != nil {
		return nil, err
	}

	plans := make([]stage.ReducePlan, 0, len(contexts))
	jobs := 0
	for _, pc := range contexts {
		rp, err := d.orch.PlanReduce(stage.ReduceRequest{
			Context:         pc,
			TrainTestRatio:  plan.TrainTestRatio,
			Seed:            plan.Seed,
			FilesPerJob:     plan.FilesPerJob,
			TargetSizeMB:    plan.TargetSizeMB,
			ReductionFactor: plan.ReductionFactor,
		})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", workflowlog.StageR0ToDL1, err)
		}
		plans = append(plans, rp)
		jobs += rp.Jobs()
	}
	d.logger.Info("Samples partitioned", "particles", len(plans), "reduction_jobs", jobs)
	return plans, nil
}

// disjointTrees rejects samples whose directory trees nest: cleaning the
// outer one at its stage start would delete the inner one's queued inputs.
func disjointTrees(contexts []layout.ProductionContext) error {
	trees := make([]layout.DirectoryTree, len(contexts))
	for i, pc := range contexts {
		trees[i] = layout.DeriveTree(pc)
	}
	for i, outer := range trees {
		for j, inner := range trees {
			if i == j {
				continue
			}
			if within(inner.RunningDir, outer.RunningDir) || within(inner.DL1Dir, outer.DL1Dir) {
				return fmt.Errorf("%w: %s directories lie inside those of %s; run them separately",
					ErrInvalidPlan, inner.Particle(), outer.Particle())
			}
		}
	}
	return nil
}

func within(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// runStage runs submit, then persists log even when submit failed part way,
// so every handle already issued stays on record.
func (d *Driver) runStage(log *workflowlog.StageLog, res *Result, submit func() error) error {
	d.logger.Info("Stage started", "stage", log.Stage())
	submitErr := submit()
	res.Logs = append(res.Logs, log)

	if d.store != nil && log.Len() > 0 {
		if err := d.store.Persist(log); err != nil {
			return errors.Join(submitErr, err)
		}
	}
	if submitErr != nil {
		return fmt.Errorf("%s: %w", log.Stage(), submitErr)
	}
	d.logger.Info("Stage submitted", "stage", log.Stage(), "jobs", log.Len())
	return nil
}
