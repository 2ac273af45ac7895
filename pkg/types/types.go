// Package types defines the core domain model shared by the mcpipe packages.
package types

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ============================================================================
// Errors
// ============================================================================

var (
	// ErrUnknownParticle is returned for particle names outside the production table.
	ErrUnknownParticle = errors.New("unknown particle type")
	// ErrInvalidOffset is returned for pointing offsets without a point-like gamma sample.
	ErrInvalidOffset = errors.New("invalid gamma pointing offset")
)

// ============================================================================
// Job handles
// ============================================================================

// JobHandle is the opaque token the batch scheduler returns on submission.
// It is only ever used as a dependency token and as a workflow log key.
type JobHandle string

// JoinHandles renders handles as the comma-separated list the scheduler expects.
func JoinHandles(handles []JobHandle) string {
	parts := make([]string, len(handles))
	for i, h := range handles {
		parts[i] = string(h)
	}
	return strings.Join(parts, ",")
}

// ============================================================================
// Data sets
// ============================================================================

// SetType names one side of the train/test split.
type SetType string

const (
	SetTraining SetType = "training" // files used to train the reconstruction models
	SetTesting  SetType = "testing"  // files used to evaluate and build IRFs
)

// SetTypes returns both set types in submission order.
func SetTypes() []SetType {
	return []SetType{SetTraining, SetTesting}
}

// Short is the abbreviated form used in job log file names.
func (s SetType) Short() string {
	if s == SetTraining {
		return "train"
	}
	return "test"
}

// ============================================================================
// Particles
// ============================================================================

// Particle is one simulated particle sample of a production.
type Particle string

const (
	Electron     Particle = "electron"
	Proton       Particle = "proton"
	Gamma        Particle = "gamma"
	GammaDiffuse Particle = "gamma-diffuse"
	GammaOff00   Particle = "gamma_off0.0deg"
	GammaOff04   Particle = "gamma_off0.4deg"
)

// Role is the part a particle sample plays when computing IRFs.
type Role string

const (
	RoleGamma    Role = "gamma"    // signal
	RoleProton   Role = "proton"   // hadronic background
	RoleElectron Role = "electron" // electron background
)

// Roles lists every IRF input role.
func Roles() []Role {
	return []Role{RoleGamma, RoleProton, RoleElectron}
}

// ParticleSpec holds the per-particle scheduling and naming attributes.
type ParticleSpec struct {
	Tag    string // job name tag, e.g. r0dl1_<Tag>
	Queue  string // scheduler partition
	Role   Role   // IRF role
	Offset string // pointing offset for point-like gammas, empty otherwise
}

var particleTable = map[Particle]ParticleSpec{
	Electron:     {Tag: "e", Queue: "short", Role: RoleElectron},
	Proton:       {Tag: "p", Queue: "long", Role: RoleProton},
	Gamma:        {Tag: "g", Queue: "short", Role: RoleGamma},
	GammaDiffuse: {Tag: "gd", Queue: "short", Role: RoleGamma},
	GammaOff00:   {Tag: "g0.0", Queue: "short", Role: RoleGamma, Offset: "off0.0deg"},
	GammaOff04:   {Tag: "g0.4", Queue: "short", Role: RoleGamma, Offset: "off0.4deg"},
}

// ParseParticle validates a particle name against the production table.
func ParseParticle(name string) (Particle, error) {
	p := Particle(name)
	if _, ok := particleTable[p]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownParticle, name)
	}
	return p, nil
}

// Lookup returns the table entry for p.
func Lookup(p Particle) (ParticleSpec, error) {
	spec, ok := particleTable[p]
	if !ok {
		return ParticleSpec{}, fmt.Errorf("%w: %q", ErrUnknownParticle, string(p))
	}
	return spec, nil
}

// AllowedOffsets returns the pointing offsets that have a point-like gamma sample.
func AllowedOffsets() []string {
	var offsets []string
	for _, spec := range particleTable {
		if spec.Offset != "" {
			offsets = append(offsets, spec.Offset)
		}
	}
	sort.Strings(offsets)
	return offsets
}

// GammaForOffset returns the point-like gamma sample simulated at offset.
func GammaForOffset(offset string) (Particle, error) {
	for p, spec := range particleTable {
		if spec.Offset != "" && spec.Offset == offset {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %q (allowed: %s)", ErrInvalidOffset, offset, strings.Join(AllowedOffsets(), " or "))
}

// ============================================================================
// Workflow kinds
// ============================================================================

// WorkflowKind selects the tool family used by the stages.
type WorkflowKind string

const (
	KindLstchain WorkflowKind = "lstchain"
	KindCtapipe  WorkflowKind = "ctapipe"
)

// ParseWorkflowKind validates a workflow kind name.
func ParseWorkflowKind(name string) (WorkflowKind, error) {
	switch k := WorkflowKind(name); k {
	case KindLstchain, KindCtapipe:
		return k, nil
	}
	return "", fmt.Errorf("unknown workflow kind %q (allowed: %s or %s)", name, KindLstchain, KindCtapipe)
}

// ============================================================================
// Workflow log
// ============================================================================

// WorkflowLogEntry records one submitted job. Output paths do not exist yet at
// submission time; downstream stages rely on OutputPath to wire their inputs.
type WorkflowLogEntry struct {
	Particle   Particle `yaml:"particle" json:"particle"`
	SetType    SetType  `yaml:"set_type,omitempty" json:"set_type,omitempty"`
	Command    string   `yaml:"command" json:"command"`
	StdoutPath string   `yaml:"stdout_path" json:"stdout_path"`
	StderrPath string   `yaml:"stderr_path" json:"stderr_path"`
	OutputPath string   `yaml:"output_path,omitempty" json:"output_path,omitempty"`
}
