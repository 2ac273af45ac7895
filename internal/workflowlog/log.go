// ============================================================================
// mcpipe Workflow Log - per-stage submission record
// ============================================================================
//
// Package: internal/workflowlog
// File: log.go
// Purpose: Accumulate what each stage submitted and where its outputs will land
//
// Design:
//   entries map[JobHandle]Entry is the single source of truth; order keeps the
//   submission sequence so handle lists are reproducible. A StageLog is
//   append-only: handles are never replaced, and once persisted the log is
//   sealed and rejects further records.
//
//   Downstream stages read OutputPath from the log rather than from disk,
//   since outputs do not exist yet when the next stage is submitted.
//
// ============================================================================

package workflowlog

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ChuLiYu/mcpipe/pkg/types"
)

// ============================================================================
// Errors
// ============================================================================

var (
	ErrDuplicateHandle = errors.New("workflowlog: job handle already recorded")
	ErrEmptyHandle     = errors.New("workflowlog: empty job handle")
	ErrSealed          = errors.New("workflowlog: stage log already persisted")
	ErrStageExists     = errors.New("workflowlog: stage already persisted for this run")
)

// Stage names, in pipeline order.
const (
	StageR0ToDL1  = "r0_to_dl1"
	StageMergeDL1 = "merge_dl1"
	StageDL1ToDL2 = "dl1_to_dl2"
	StageDL2ToIRF = "dl2_to_irfs"
)

// ============================================================================
// StageLog
// ============================================================================

// StageLog is the append-only record of one stage. It is safe for concurrent use.
type StageLog struct {
	mu      sync.RWMutex
	stage   string
	order   []types.JobHandle
	entries map[types.JobHandle]types.WorkflowLogEntry
	sealed  bool
}

// NewStageLog returns an empty log for stage.
func NewStageLog(stage string) *StageLog {
	return &StageLog{
		stage:   stage,
		entries: make(map[types.JobHandle]types.WorkflowLogEntry),
	}
}

// Stage returns the stage name.
func (l *StageLog) Stage() string {
	return l.stage
}

// Record appends the entry of a submitted job.
func (l *StageLog) Record(handle types.JobHandle, entry types.WorkflowLogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sealed {
		return fmt.Errorf("%w: %s", ErrSealed, l.stage)
	}
	if handle == "" {
		return ErrEmptyHandle
	}
	if _, exists := l.entries[handle]; exists {
		return fmt.Errorf("%w: %s in %s", ErrDuplicateHandle, handle, l.stage)
	}
	l.entries[handle] = entry
	l.order = append(l.order, handle)
	return nil
}

// Len returns the number of recorded jobs.
func (l *StageLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.order)
}

// Lookup returns the entry of handle.
func (l *StageLog) Lookup(handle types.JobHandle) (types.WorkflowLogEntry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[handle]
	return e, ok
}

// Handles returns every handle in submission order.
func (l *StageLog) Handles() []types.JobHandle {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]types.JobHandle(nil), l.order...)
}

// HandlesFor returns, in submission order, the handles recorded for particle
// and set. An empty set matches every set.
func (l *StageLog) HandlesFor(particle types.Particle, set types.SetType) []types.JobHandle {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []types.JobHandle
	for _, h := range l.order {
		e := l.entries[h]
		if e.Particle != particle {
			continue
		}
		if set != "" && e.SetType != set {
			continue
		}
		out = append(out, h)
	}
	return out
}

// Outputs returns the output paths recorded for particle and set, in
// submission order. Entries without an output path are skipped.
func (l *StageLog) Outputs(particle types.Particle, set types.SetType) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []string
	for _, h := range l.order {
		e := l.entries[h]
		if e.Particle == particle && (set == "" || e.SetType == set) && e.OutputPath != "" {
			out = append(out, e.OutputPath)
		}
	}
	return out
}

// Entries returns a copy of every entry keyed by handle.
func (l *StageLog) Entries() map[types.JobHandle]types.WorkflowLogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[types.JobHandle]types.WorkflowLogEntry, len(l.entries))
	for h, e := range l.entries {
		out[h] = e
	}
	return out
}

// Stats counts recorded jobs per particle.
func (l *StageLog) Stats() map[types.Particle]int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := make(map[types.Particle]int)
	for _, e := range l.entries {
		stats[e.Particle]++
	}
	return stats
}

func (l *StageLog) seal() {
	l.mu.Lock()
	l.sealed = true
	l.mu.Unlock()
}

// Sealed reports whether the log has been persisted.
func (l *StageLog) Sealed() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sealed
}

// Flatten concatenates the handles of logs in order.
func Flatten(logs ...*StageLog) []types.JobHandle {
	var out []types.JobHandle
	for _, l := range logs {
		if l != nil {
			out = append(out, l.Handles()...)
		}
	}
	return out
}
