package stage

import (
	"context"
	"fmt"

	"github.com/ChuLiYu/mcpipe/internal/layout"
	"github.com/ChuLiYu/mcpipe/internal/partition"
	"github.com/ChuLiYu/mcpipe/internal/workflowlog"
	"github.com/ChuLiYu/mcpipe/pkg/types"
)

// ReduceRequest describes the reduction of one particle sample.
type ReduceRequest struct {
	Context         layout.ProductionContext
	TrainTestRatio  float64
	Seed            int64
	FilesPerJob     int     // 0 computes the chunk size from the input size
	TargetSizeMB    float64 // merged output size the auto chunk size aims for
	ReductionFactor float64
}

// ReducePlan is the partition of one sample, computed before any directory
// is touched or any job submitted.
type ReducePlan struct {
	Context layout.ProductionContext
	Split   partition.Split
	Size    int // files per job
	chunks  map[types.SetType][][]string
}

// Jobs is the number of reduction jobs the plan submits.
func (p ReducePlan) Jobs() int {
	n := 0
	for _, c := range p.chunks {
		n += len(c)
	}
	return n
}

// PlanReduce discovers, splits and chunks the sample of req. It has no side
// effects, so every sample of a run can be checked before the first submission.
func (o *Orchestrator) PlanReduce(req ReduceRequest) (ReducePlan, error) {
	pc := req.Context

	population, err := partition.Discover(pc.DL0Dir())
	if err != nil {
		return ReducePlan{}, err
	}
	split, err := partition.SplitFiles(population, req.TrainTestRatio, req.Seed)
	if err != nil {
		return ReducePlan{}, err
	}
	size, err := partition.ChunkSizeFor(population, req.FilesPerJob, req.TargetSizeMB, req.ReductionFactor)
	if err != nil {
		return ReducePlan{}, err
	}
	chunks := make(map[types.SetType][][]string, 2)
	for _, set := range types.SetTypes() {
		if chunks[set], err = partition.Chunk(split.Files(set), size); err != nil {
			return ReducePlan{}, err
		}
	}

	o.logger.Info("Partitioned input files",
		"particle", pc.Particle(),
		"dl0_dir", pc.DL0Dir(),
		"files", len(population),
		"training", len(split.Train),
		"testing", len(split.Test),
		"files_per_job", size)

	return ReducePlan{Context: pc, Split: split, Size: size, chunks: chunks}, nil
}

// Reduce splits the sample into train/test sets, writes one input list per
// chunk and submits one reduction job per list.
func (o *Orchestrator) Reduce(ctx context.Context, req ReduceRequest, log *workflowlog.StageLog) (layout.DirectoryTree, error) {
	plan, err := o.PlanReduce(req)
	if err != nil {
		return layout.DirectoryTree{}, err
	}
	return o.SubmitReduce(ctx, plan, log)
}

// SubmitReduce prepares the directories of a planned sample and submits its jobs.
func (o *Orchestrator) SubmitReduce(ctx context.Context, plan ReducePlan, log *workflowlog.StageLog) (layout.DirectoryTree, error) {
	pc := plan.Context
	particle := pc.Particle()
	split := plan.Split

	tree := layout.DeriveTree(pc)
	if err := o.cleaner.EnsureAll(tree.ReduceDirs()...); err != nil {
		return tree, err
	}
	for _, set := range types.SetTypes() {
		if err := partition.WriteFileList(tree.FullList(set), split.Files(set)); err != nil {
			return tree, err
		}
	}

	spec := pc.Spec()
	for _, set := range types.SetTypes() {
		chunks := plan.chunks[set]
		if o.recorder != nil {
			o.recorder.RecordPartition(particle, set, len(split.Files(set)), len(chunks))
		}
		for i, files := range chunks {
			list := tree.FileList(set, i)
			if err := partition.WriteFileList(list, files); err != nil {
				return tree, err
			}
			stdout, stderr := tree.ReduceJobLogs(set, i)
			j := job{
				particle: particle,
				set:      set,
				cmd: o.command(resources(spec.Queue, "r0dl1_"+spec.Tag), stdout, stderr, nil,
					o.reduceTool(list, tree.DL1SetDir(set))),
				output: tree.DL1SetDir(set),
			}
			if _, err := o.submit(ctx, log, j); err != nil {
				return tree, fmt.Errorf("reduce %s %s chunk %d: %w", particle, set, i, err)
			}
		}
		o.logger.Info("Reduction jobs submitted", "particle", particle, "set", set, "jobs", len(chunks))
	}

	return tree, o.copyToolConfig(tree.RunningDir)
}

// reduceTool runs the reduction tool once per line of list.
func (o *Orchestrator) reduceTool(list, outDir string) []string {
	argv := []string{
		"xargs", "-a", list, "-I", "{}",
		"lstchain_mc_r0_to_dl1", "--input-file", "{}", "--output-dir", outDir,
	}
	return o.withConfig(argv, "--config")
}
