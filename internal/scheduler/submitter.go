package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ChuLiYu/mcpipe/pkg/types"
)

// ErrNoHandle is returned when the scheduler response holds no parsable job handle.
var ErrNoHandle = errors.New("scheduler: no parsable job handle in response")

// Observer is notified after every submission attempt.
type Observer interface {
	ObserveSubmission(stage string, particle types.Particle, elapsed time.Duration, err error)
}

// Submitter sends commands through a Runner and extracts their handles.
// Submissions are synchronous: Submit returns once the scheduler has issued a
// handle, not once the job has run.
type Submitter struct {
	runner   Runner
	logger   *slog.Logger
	observer Observer
}

// NewSubmitter wires runner with optional logger and observer.
func NewSubmitter(runner Runner, logger *slog.Logger, observer Observer) *Submitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Submitter{runner: runner, logger: logger, observer: observer}
}

// Submit validates cmd, issues it and returns the job handle. A response
// without a handle is fatal for the work unit; callers must not build
// dependents on it.
func (s *Submitter) Submit(ctx context.Context, stage string, particle types.Particle, cmd Command) (types.JobHandle, error) {
	if err := cmd.Validate(); err != nil {
		return "", err
	}

	start := time.Now()
	out, err := s.runner.Run(ctx, cmd.Args())
	var handle types.JobHandle
	if err == nil {
		handle, err = parseHandle(out)
	}
	if s.observer != nil {
		s.observer.ObserveSubmission(stage, particle, time.Since(start), err)
	}
	if err != nil {
		s.logger.Error("Submission failed", "stage", stage, "particle", particle, "job_name", cmd.JobName, "error", err)
		return "", fmt.Errorf("submit %s: %w", cmd.JobName, err)
	}

	s.logger.Info("Submitted batch job",
		"stage", stage,
		"particle", particle,
		"job_name", cmd.JobName,
		"job", handle,
		"dependency", cmd.DependencyClause())
	return handle, nil
}

// parseHandle reads the --parsable response: a single "<id>" or "<id>;<cluster>" token.
func parseHandle(out string) (types.JobHandle, error) {
	fields := strings.Fields(out)
	if len(fields) != 1 {
		return "", fmt.Errorf("%w: %q", ErrNoHandle, out)
	}
	id, _, _ := strings.Cut(fields[0], ";")
	if id == "" {
		return "", fmt.Errorf("%w: %q", ErrNoHandle, out)
	}
	return types.JobHandle(id), nil
}
