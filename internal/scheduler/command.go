// ============================================================================
// mcpipe Scheduler - Batch Submission
// ============================================================================
//
// Package: internal/scheduler
// File: command.go
// Purpose: Typed sbatch command construction
//
// Every submission is built from a Command value and serialized in one place:
//
//   sbatch --parsable -p <queue> [-A <account>] [--dependency=afterok:<h1>,<h2>]
//          -J <name> -e <stderr> -o <stdout> --wrap="<env> <tool argv>"
//
// The tool argv is shell-quoted into the --wrap payload, so paths with
// spaces or metacharacters reach the job intact.
//
// ============================================================================

package scheduler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kballard/go-shellquote"

	"github.com/ChuLiYu/mcpipe/pkg/types"
)

var (
	// ErrInvalidCommand is returned when a command lacks a required field.
	ErrInvalidCommand = errors.New("scheduler: invalid command")
	// ErrEmptyDependency is returned when a dependency list holds an empty handle.
	ErrEmptyDependency = errors.New("scheduler: empty dependency handle")
)

// SbatchBinary is the submission executable.
const SbatchBinary = "sbatch"

// Resources selects where and under which name a job runs.
type Resources struct {
	Partition string // queue class, e.g. short or long
	JobName   string
	Account   string // optional
}

// Command is one scheduler submission.
type Command struct {
	Resources

	Stdout string
	Stderr string

	// Dependencies must all complete successfully before the job may start.
	Dependencies []types.JobHandle

	// Env is a shell prefix run before the tool, e.g. an environment activation.
	Env string
	// Tool is the argument vector of the external program.
	Tool []string
}

// Validate checks the fields every submission needs.
func (c Command) Validate() error {
	switch {
	case c.Partition == "":
		return fmt.Errorf("%w: partition is required", ErrInvalidCommand)
	case c.JobName == "":
		return fmt.Errorf("%w: job name is required", ErrInvalidCommand)
	case len(c.Tool) == 0:
		return fmt.Errorf("%w: tool invocation is required", ErrInvalidCommand)
	case c.Stdout == "" || c.Stderr == "":
		return fmt.Errorf("%w: stdout and stderr paths are required", ErrInvalidCommand)
	}
	for i, h := range c.Dependencies {
		if strings.TrimSpace(string(h)) == "" {
			return fmt.Errorf("%w: position %d of job %s", ErrEmptyDependency, i, c.JobName)
		}
	}
	return nil
}

// DependencyClause returns the afterok clause, or "" when the job is unconstrained.
func (c Command) DependencyClause() string {
	if len(c.Dependencies) == 0 {
		return ""
	}
	return "afterok:" + types.JoinHandles(c.Dependencies)
}

// Wrap returns the shell payload executed by the job.
func (c Command) Wrap() string {
	tool := shellquote.Join(c.Tool...)
	env := strings.TrimSpace(c.Env)
	if env == "" {
		return tool
	}
	return env + " " + tool
}

// Args returns the complete sbatch argument vector.
func (c Command) Args() []string {
	args := make([]string, 0, 16)
	args = append(args, SbatchBinary, "--parsable", "-p", c.Partition)
	if c.Account != "" {
		args = append(args, "-A", c.Account)
	}
	if dep := c.DependencyClause(); dep != "" {
		args = append(args, "--dependency="+dep)
	}
	args = append(args,
		"-J", c.JobName,
		"-e", c.Stderr,
		"-o", c.Stdout,
		"--wrap="+c.Wrap(),
	)
	return args
}

// String renders the command as it would be typed in a shell. This is the
// form recorded in the workflow log.
func (c Command) String() string {
	return shellquote.Join(c.Args()...)
}
