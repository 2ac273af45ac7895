package stage

import (
	"context"
	"fmt"
	"os"

	"github.com/ChuLiYu/mcpipe/internal/layout"
	"github.com/ChuLiYu/mcpipe/internal/scheduler"
	"github.com/ChuLiYu/mcpipe/internal/workflowlog"
	"github.com/ChuLiYu/mcpipe/pkg/types"
)

// MergeRequest describes the merge of one particle sample.
type MergeRequest struct {
	Tree layout.DirectoryTree
	// Upstream is the reduction log of the same run. When nil the reduction
	// outputs must already be on disk and the jobs start unconstrained.
	Upstream *workflowlog.StageLog
}

// Merge submits one merge job per set. Each job depends on exactly the
// reduction jobs of its particle and set.
func (o *Orchestrator) Merge(ctx context.Context, req MergeRequest, log *workflowlog.StageLog) error {
	tree := req.Tree
	particle := tree.Particle()
	spec, err := types.Lookup(particle)
	if err != nil {
		return err
	}

	var jobs []job
	for _, set := range types.SetTypes() {
		inputDir := tree.DL1SetDir(set)
		var deps []types.JobHandle
		if req.Upstream != nil {
			deps = req.Upstream.HandlesFor(particle, set)
			if len(deps) == 0 {
				o.logger.Warn("No reduction jobs to merge", "particle", particle, "set", set)
				continue
			}
		} else if info, err := os.Stat(inputDir); err != nil || !info.IsDir() {
			return fmt.Errorf("%w: DL1 directory %s", ErrMissingOutput, inputDir)
		}

		output := tree.MergedDL1File(set)
		stdout, stderr := tree.StageJobLogs("merging_" + set.Short())
		jobs = append(jobs, job{
			particle: particle,
			set:      set,
			cmd: o.command(resources(defaultPartition, "merge_"+spec.Tag), stdout, stderr, deps,
				o.mergeTool(inputDir, output)),
			output: output,
		})
	}

	for _, j := range jobs {
		if _, err := o.submit(ctx, log, j); err != nil {
			return fmt.Errorf("merge %s %s: %w", j.particle, j.set, err)
		}
	}
	return nil
}

// mergeTool picks the merge entry point of the workflow kind.
func (o *Orchestrator) mergeTool(inputDir, output string) []string {
	if o.batch.Kind == types.KindCtapipe {
		argv := []string{"ctapipe-merge", "--input-dir", inputDir, "--output", output}
		if !o.batch.KeepImages {
			argv = append(argv, "--skip-images", "--skip-simu-images")
		}
		return argv
	}
	argv := []string{"lstchain_merge_hdf5_files", "-d", inputDir, "-o", output}
	if !o.batch.KeepImages {
		argv = append(argv, "--no-image")
	}
	return argv
}

func resources(partition, name string) scheduler.Resources {
	return scheduler.Resources{Partition: partition, JobName: name}
}
