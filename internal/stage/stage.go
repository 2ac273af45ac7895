// ============================================================================
// mcpipe Stage Orchestrator
// ============================================================================
//
// Package: internal/stage
// File: stage.go
// Purpose: Run one pipeline stage: prepare its directories, submit one job per
//          work unit and record every handle in the stage's workflow log
//
// Stages:
//   Reduce     one job per chunk of the train/test split, no dependencies
//   Merge      one job per (particle x set), depending on that pair's reduce jobs
//   DL1ToDL2   one job per particle on its merged testing file
//   IRF        one job combining the signal and background roles, depending
//              on every job of the previous stage
//
// Nothing here waits for jobs to finish. Ordering between stages is carried
// entirely by the scheduler's afterok dependencies built from recorded handles.
// Every check that can fail (missing inputs, ambiguous matches) runs before
// the first submission of a stage. When a journal is configured, each handle
// is appended to it right after it is recorded.
//
// ============================================================================

package stage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ChuLiYu/mcpipe/internal/layout"
	"github.com/ChuLiYu/mcpipe/internal/scheduler"
	"github.com/ChuLiYu/mcpipe/internal/workflowlog"
	"github.com/ChuLiYu/mcpipe/pkg/types"
)

var (
	// ErrMissingOutput is returned when a required input file or directory is absent.
	ErrMissingOutput = errors.New("stage: required output not found")
	// ErrAmbiguousOutput is returned when more than one file matches a required input.
	ErrAmbiguousOutput = errors.New("stage: more than one output matches")
)

// defaultPartition serves jobs whose queue does not depend on the particle.
const defaultPartition = "short"

// Batch holds the settings shared by every submission of a run.
type Batch struct {
	Kind       types.WorkflowKind
	SourceEnv  string // shell prefix activating the tool environment
	Account    string // scheduler account, optional
	ToolConfig string // tool configuration file, optional
	KeepImages bool   // keep image tables when merging
}

// PartitionRecorder receives the size of each split side.
type PartitionRecorder interface {
	RecordPartition(particle types.Particle, set types.SetType, files, chunks int)
}

// Journal keeps a durable record of every issued handle.
type Journal interface {
	Append(stage string, handle types.JobHandle, entry types.WorkflowLogEntry) error
}

// Config wires an Orchestrator.
type Config struct {
	Submitter *scheduler.Submitter
	Cleaner   layout.Cleaner
	Batch     Batch
	Logger    *slog.Logger
	Recorder  PartitionRecorder // optional
	Journal   Journal           // optional
}

// Orchestrator runs stages against one scheduler.
type Orchestrator struct {
	submitter *scheduler.Submitter
	cleaner   layout.Cleaner
	batch     Batch
	logger    *slog.Logger
	recorder  PartitionRecorder
	journal   Journal
}

// New returns an orchestrator for cfg.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Batch.Kind == "" {
		cfg.Batch.Kind = types.KindLstchain
	}
	return &Orchestrator{
		submitter: cfg.Submitter,
		cleaner:   cfg.Cleaner,
		batch:     cfg.Batch,
		logger:    logger,
		recorder:  cfg.Recorder,
		journal:   cfg.Journal,
	}
}

// job is one submission and the workflow log entry it produces.
type job struct {
	particle types.Particle
	set      types.SetType
	cmd      scheduler.Command
	output   string
}

func (o *Orchestrator) command(res scheduler.Resources, stdout, stderr string, deps []types.JobHandle, tool []string) scheduler.Command {
	res.Account = o.batch.Account
	return scheduler.Command{
		Resources:    res,
		Stdout:       stdout,
		Stderr:       stderr,
		Dependencies: deps,
		Env:          o.batch.SourceEnv,
		Tool:         tool,
	}
}

// submit issues j and records its handle in log.
func (o *Orchestrator) submit(ctx context.Context, log *workflowlog.StageLog, j job) (types.JobHandle, error) {
	handle, err := o.submitter.Submit(ctx, log.Stage(), j.particle, j.cmd)
	if err != nil {
		return "", err
	}
	entry := types.WorkflowLogEntry{
		Particle:   j.particle,
		SetType:    j.set,
		Command:    j.cmd.String(),
		StdoutPath: j.cmd.Stdout,
		StderrPath: j.cmd.Stderr,
		OutputPath: j.output,
	}
	if err := log.Record(handle, entry); err != nil {
		return "", err
	}
	if o.journal != nil {
		if err := o.journal.Append(log.Stage(), handle, entry); err != nil {
			return "", fmt.Errorf("stage: journal: %w", err)
		}
	}
	return handle, nil
}

// copyToolConfig keeps a verbatim copy of the tool configuration in dir.
func (o *Orchestrator) copyToolConfig(dir string) error {
	if o.batch.ToolConfig == "" {
		return nil
	}
	if _, err := layout.CopyInto(o.batch.ToolConfig, dir); err != nil {
		return fmt.Errorf("stage: keep tool config: %w", err)
	}
	return nil
}

func (o *Orchestrator) withConfig(argv []string, flag string) []string {
	if o.batch.ToolConfig == "" {
		return argv
	}
	return append(argv, flag, o.batch.ToolConfig)
}

// exactlyOne returns the single file matching pattern in dir.
func exactlyOne(dir, pattern string) (string, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: directory %s", ErrMissingOutput, dir)
	}
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return "", fmt.Errorf("stage: glob %s: %w", pattern, err)
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: no %s in %s", ErrMissingOutput, pattern, dir)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%w: %d files match %s in %s", ErrAmbiguousOutput, len(matches), pattern, dir)
	}
}

// single returns the only element of outputs.
func single(outputs []string, what string) (string, error) {
	switch len(outputs) {
	case 0:
		return "", fmt.Errorf("%w: %s", ErrMissingOutput, what)
	case 1:
		return outputs[0], nil
	default:
		return "", fmt.Errorf("%w: %d candidates for %s", ErrAmbiguousOutput, len(outputs), what)
	}
}
