// Package layout derives the on-disk directory tree of a production run and
// manages its creation and cleanup.
//
// All paths are string transforms of the data lake input path: the tier
// segment (/DL0/) is swapped for the target tier and the production id (plus
// the pointing offset for point-like gammas) is appended. Nothing here reads
// the environment or touches the disk except the Cleaner.
package layout

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/ChuLiYu/mcpipe/pkg/types"
)

var (
	// ErrNoTierSegment is returned when a path lacks the tier segment to substitute.
	ErrNoTierSegment = errors.New("layout: path has no tier segment")
	// ErrNoPlaceholder is returned when a directory template lacks the particle placeholder.
	ErrNoPlaceholder = errors.New("layout: template has no particle placeholder")
	// ErrEmptyProdID is returned when a context is built without a production id.
	ErrEmptyProdID = errors.New("layout: production id is required")
)

// ParticlePlaceholder marks the particle component of a directory template.
const ParticlePlaceholder = "{particle}"

// Data lake tiers.
const (
	TierDL0     = "DL0"
	TierDL1     = "DL1"
	TierDL2     = "DL2"
	TierIRF     = "IRF"
	TierRunning = "running_analysis"
)

// ProdID builds the production identifier: date stamp and tool version,
// followed by the user suffix or _v00 for an official base production.
func ProdID(date time.Time, toolVersion, suffix string) string {
	base := fmt.Sprintf("%s_v%s", date.Format("20060102"), toolVersion)
	if suffix == "" {
		return base + "_v00"
	}
	return base + "_" + suffix
}

// ============================================================================
// IRF geometry
// ============================================================================

// IRFMode selects point-like IRFs at a pointing offset or diffuse IRFs.
type IRFMode struct {
	PointLike bool
	Offset    string // required when PointLike
}

// Validate rejects point-like modes whose offset has no gamma sample, and
// diffuse modes that carry an offset.
func (m IRFMode) Validate() error {
	if !m.PointLike {
		if m.Offset != "" {
			return fmt.Errorf("%w: %s given for diffuse IRFs", types.ErrInvalidOffset, m.Offset)
		}
		return nil
	}
	_, err := types.GammaForOffset(m.Offset)
	return err
}

// Kind is the directory and job-name component of the mode.
func (m IRFMode) Kind() string {
	if m.PointLike {
		return m.Offset
	}
	return "diffuse"
}

// SignalParticle returns the gamma sample the mode consumes.
func (m IRFMode) SignalParticle() (types.Particle, error) {
	if err := m.Validate(); err != nil {
		return "", err
	}
	if !m.PointLike {
		return types.GammaDiffuse, nil
	}
	return types.GammaForOffset(m.Offset)
}

// Particles returns the sample serving each IRF role under m.
func (m IRFMode) Particles() (map[types.Role]types.Particle, error) {
	signal, err := m.SignalParticle()
	if err != nil {
		return nil, err
	}
	return map[types.Role]types.Particle{
		types.RoleGamma:    signal,
		types.RoleProton:   types.Proton,
		types.RoleElectron: types.Electron,
	}, nil
}

// ============================================================================
// Production context
// ============================================================================

// ProductionContext identifies one particle sample of a production run. It is
// immutable once built.
type ProductionContext struct {
	prodID   string
	particle types.Particle
	spec     types.ParticleSpec
	dl0Dir   string
}

// NewProductionContext validates its inputs and returns the context.
func NewProductionContext(prodID string, particle types.Particle, dl0Dir string) (ProductionContext, error) {
	if prodID == "" {
		return ProductionContext{}, ErrEmptyProdID
	}
	spec, err := types.Lookup(particle)
	if err != nil {
		return ProductionContext{}, err
	}
	dir := filepath.Clean(dl0Dir)
	if !strings.Contains(dir, tierSegment(TierDL0)) {
		return ProductionContext{}, fmt.Errorf("%w: %s not in %s", ErrNoTierSegment, tierSegment(TierDL0), dl0Dir)
	}
	return ProductionContext{prodID: prodID, particle: particle, spec: spec, dl0Dir: dir}, nil
}

func (c ProductionContext) ProdID() string { return c.prodID }
func (c ProductionContext) Particle() types.Particle { return c.particle }
func (c ProductionContext) Spec() types.ParticleSpec { return c.spec }
func (c ProductionContext) DL0Dir() string { return c.dl0Dir }
func (c ProductionContext) Offset() string { return c.spec.Offset }

// ParticleDir expands a directory template for particle. Point-like gammas
// live under the gamma sample directory with the offset as last component.
func ParticleDir(template string, particle types.Particle) (string, error) {
	if !strings.Contains(template, ParticlePlaceholder) {
		return "", fmt.Errorf("%w: %s", ErrNoPlaceholder, template)
	}
	spec, err := types.Lookup(particle)
	if err != nil {
		return "", err
	}
	sample := string(particle)
	if spec.Offset != "" {
		sample = string(types.Gamma)
	}
	dir := strings.ReplaceAll(template, ParticlePlaceholder, sample)
	if spec.Offset != "" {
		dir = filepath.Join(dir, spec.Offset)
	}
	return filepath.Clean(dir), nil
}

func tierSegment(tier string) string {
	return "/" + tier + "/"
}
