package scheduler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ErrSubmitFailed is returned when the scheduler command itself fails.
var ErrSubmitFailed = errors.New("scheduler: submission command failed")

// Runner issues an argument vector to the scheduler and returns its stdout.
type Runner interface {
	Run(ctx context.Context, argv []string) (string, error)
}

// ExecRunner runs the scheduler binary on the local host.
type ExecRunner struct {
	// Timeout bounds a single submission; zero means no bound.
	Timeout time.Duration
}

// Run executes argv and returns its stdout. Stderr is attached to the error.
func (r ExecRunner) Run(ctx context.Context, argv []string) (string, error) {
	if len(argv) == 0 {
		return "", fmt.Errorf("%w: empty command", ErrSubmitFailed)
	}
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return stdout.String(), fmt.Errorf("%w: %v: %s", ErrSubmitFailed, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// DryRunRunner records commands instead of running them and answers with
// sequential synthetic handles, so a whole workflow can be inspected without
// touching the cluster.
type DryRunRunner struct {
	mu       sync.Mutex
	next     int64
	out      io.Writer
	commands [][]string
}

// NewDryRunRunner returns a runner whose first handle is first. Commands are
// echoed to out when it is non-nil.
func NewDryRunRunner(first int64, out io.Writer) *DryRunRunner {
	return &DryRunRunner{next: first, out: out}
}

// Run records argv and returns the next handle.
func (r *DryRunRunner) Run(_ context.Context, argv []string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.commands = append(r.commands, append([]string(nil), argv...))
	handle := strconv.FormatInt(r.next, 10)
	r.next++
	if r.out != nil {
		fmt.Fprintf(r.out, "[dry-run %s] %s\n", handle, strings.Join(argv, " "))
	}
	return handle + "\n", nil
}

// Commands returns a copy of every recorded argument vector.
func (r *DryRunRunner) Commands() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([][]string, len(r.commands))
	copy(out, r.commands)
	return out
}
