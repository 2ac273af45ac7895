package stage

import (
	"context"
	"fmt"
	"os"

	"github.com/ChuLiYu/mcpipe/internal/layout"
	"github.com/ChuLiYu/mcpipe/internal/workflowlog"
	"github.com/ChuLiYu/mcpipe/pkg/types"
)

// DL2Request describes the DL1 to DL2 processing of one particle sample.
type DL2Request struct {
	Tree      layout.DirectoryTree
	ModelsDir string // trained reconstruction models
	// Upstream is the merge log of the same run. When nil the merged testing
	// file must already be on disk.
	Upstream *workflowlog.StageLog
}

// DL1ToDL2 applies the trained models to the merged testing file of the
// sample. The job depends on the merge job that produces that file.
func (o *Orchestrator) DL1ToDL2(ctx context.Context, req DL2Request, log *workflowlog.StageLog) error {
	tree := req.Tree
	particle := tree.Particle()
	spec, err := types.Lookup(particle)
	if err != nil {
		return err
	}
	if info, err := os.Stat(req.ModelsDir); err != nil || !info.IsDir() {
		return fmt.Errorf("%w: models directory %q", ErrMissingOutput, req.ModelsDir)
	}

	var (
		input string
		deps  []types.JobHandle
	)
	if req.Upstream != nil {
		input, err = single(req.Upstream.Outputs(particle, types.SetTesting),
			fmt.Sprintf("merged testing file of %s", particle))
		if err != nil {
			return err
		}
		deps = req.Upstream.HandlesFor(particle, types.SetTesting)
	} else {
		input = tree.MergedDL1File(types.SetTesting)
		if _, err := os.Stat(input); err != nil {
			return fmt.Errorf("%w: %s", ErrMissingOutput, input)
		}
	}

	if err := o.cleaner.EnsureClean(tree.DL2Dir); err != nil {
		return err
	}

	argv := []string{
		"lstchain_dl1_to_dl2",
		"--input-file", input,
		"--path-models", req.ModelsDir,
		"--output-dir", tree.DL2Dir,
	}
	stdout, stderr := tree.StageJobLogs("dl1_dl2_" + types.SetTesting.Short())
	j := job{
		particle: particle,
		set:      types.SetTesting,
		cmd: o.command(resources(defaultPartition, "dl1_dl2_"+spec.Tag), stdout, stderr, deps,
			o.withConfig(argv, "--config")),
		output: tree.DL2TestFile(),
	}
	if _, err := o.submit(ctx, log, j); err != nil {
		return fmt.Errorf("dl1 to dl2 %s: %w", particle, err)
	}
	return o.copyToolConfig(tree.DL2Dir)
}
