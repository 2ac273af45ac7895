package stage

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/ChuLiYu/mcpipe/internal/layout"
	"github.com/ChuLiYu/mcpipe/internal/workflowlog"
	"github.com/ChuLiYu/mcpipe/pkg/types"
)

// testingPattern matches the testing file of a DL2 sample directory.
const testingPattern = "*testing.h5"

// IRFRequest describes one IRF computation.
type IRFRequest struct {
	Mode   layout.IRFMode
	ProdID string // empty leaves the production out of the output path and name
	// Template is a data lake path with the particle placeholder. It locates
	// the output directory and, without Upstream, the DL2 inputs.
	Template string
	// Upstream is the log of the previous stage of the same run. Its recorded
	// testing outputs feed the roles and all its handles become dependencies.
	Upstream *workflowlog.StageLog
}

// IRFResult is what the IRF stage produced.
type IRFResult struct {
	Inputs map[types.Role]string
	Output string
	Handle types.JobHandle
}

// IRF resolves exactly one input per role, then submits a single job.
// Missing or ambiguous inputs fail the stage before anything is submitted.
func (o *Orchestrator) IRF(ctx context.Context, req IRFRequest, log *workflowlog.StageLog) (IRFResult, error) {
	if err := req.Mode.Validate(); err != nil {
		return IRFResult{}, err
	}
	inputs, err := o.irfInputs(req)
	if err != nil {
		return IRFResult{}, err
	}
	signal, err := req.Mode.SignalParticle()
	if err != nil {
		return IRFResult{}, err
	}

	outDir, err := layout.IRFDir(req.Template, req.ProdID, req.Mode)
	if err != nil {
		return IRFResult{}, err
	}
	output := filepath.Join(outDir, layout.IRFFileName(req.ProdID, req.Mode))

	var deps []types.JobHandle
	if req.Upstream != nil {
		deps = req.Upstream.Handles()
	}

	if err := o.cleaner.EnsureClean(outDir); err != nil {
		return IRFResult{}, err
	}

	kind := req.Mode.Kind()
	argv := []string{"lstchain_create_irf_files"}
	if req.Mode.PointLike {
		argv = append(argv, "--point-like")
	}
	argv = append(argv,
		"-g", inputs[types.RoleGamma],
		"-p", inputs[types.RoleProton],
		"-e", inputs[types.RoleElectron],
		"-o", output,
	)
	if o.batch.ToolConfig != "" {
		argv = append(argv, "--config="+o.batch.ToolConfig)
	}

	stem := filepath.Join(outDir, "job_dl2_to_irfs_gamma_"+kind)
	j := job{
		particle: signal,
		cmd:      o.command(resources(defaultPartition, "IRF_"+kind), stem+".o", stem+".e", deps, argv),
		output:   output,
	}
	handle, err := o.submit(ctx, log, j)
	if err != nil {
		return IRFResult{}, fmt.Errorf("irf %s: %w", kind, err)
	}
	o.logger.Info("IRF job submitted", "kind", kind, "output", output)

	if err := o.copyToolConfig(outDir); err != nil {
		return IRFResult{}, err
	}
	return IRFResult{Inputs: inputs, Output: output, Handle: handle}, nil
}

// irfInputs selects the testing file serving each role.
func (o *Orchestrator) irfInputs(req IRFRequest) (map[types.Role]string, error) {
	particles, err := req.Mode.Particles()
	if err != nil {
		return nil, err
	}

	inputs := make(map[types.Role]string, len(particles))
	for _, role := range types.Roles() {
		particle := particles[role]
		var path string
		if req.Upstream != nil {
			path, err = single(req.Upstream.Outputs(particle, types.SetTesting),
				fmt.Sprintf("%s testing output of %s", role, particle))
		} else {
			var dir string
			if dir, err = layout.ParticleDir(req.Template, particle); err == nil {
				path, err = exactlyOne(dir, testingPattern)
			}
		}
		if err != nil {
			return nil, fmt.Errorf("irf %s input: %w", role, err)
		}
		inputs[role] = path
	}
	return inputs, nil
}
