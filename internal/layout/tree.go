package layout

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ChuLiYu/mcpipe/pkg/types"
)

// DirectoryTree is the set of paths one particle sample of a production uses.
type DirectoryTree struct {
	RunningDir string // file lists, copied configs, workflow provenance
	JobLogs    string // redirected scheduler stdout/stderr
	DL1Dir     string // per-set reduction outputs and merged DL1 files
	DL2Dir     string // DL2 outputs

	particle types.Particle
}

// DeriveTree computes the directory tree of ctx. It is a pure function of its
// input: equal contexts yield equal trees.
func DeriveTree(ctx ProductionContext) DirectoryTree {
	base := ctx.DL0Dir()
	suffix := []string{ctx.ProdID()}
	if off := ctx.Offset(); off != "" {
		base = strings.TrimSuffix(base, "/"+off)
		suffix = append(suffix, off)
	}

	running := joinTier(base, TierRunning, suffix)
	return DirectoryTree{
		RunningDir: running,
		JobLogs:    filepath.Join(running, "job_logs"),
		DL1Dir:     joinTier(base, TierDL1, suffix),
		DL2Dir:     joinTier(base, TierDL2, suffix),
		particle:   ctx.Particle(),
	}
}

// Particle is the sample the tree belongs to.
func (t DirectoryTree) Particle() types.Particle {
	return t.particle
}

// FileListDir holds the per-chunk input lists of set.
func (t DirectoryTree) FileListDir(set types.SetType) string {
	return filepath.Join(t.RunningDir, "file_lists_"+string(set))
}

// FileList is the input list of chunk i of set.
func (t DirectoryTree) FileList(set types.SetType, i int) string {
	return filepath.Join(t.FileListDir(set), fmt.Sprintf("%s_%d.list", set, i))
}

// FullList is the complete file list of set, kept for provenance.
func (t DirectoryTree) FullList(set types.SetType) string {
	return filepath.Join(t.RunningDir, string(set)+".list")
}

// DL1SetDir receives the reduction outputs of set.
func (t DirectoryTree) DL1SetDir(set types.SetType) string {
	return filepath.Join(t.DL1Dir, string(set))
}

// MergedDL1File is the merge stage output for set.
func (t DirectoryTree) MergedDL1File(set types.SetType) string {
	return filepath.Join(t.DL1Dir, fmt.Sprintf("dl1_%s_%s.h5", t.particle, set))
}

// DL2TestFile is the DL2 output produced from the merged testing DL1 file.
func (t DirectoryTree) DL2TestFile() string {
	name := filepath.Base(t.MergedDL1File(types.SetTesting))
	return filepath.Join(t.DL2Dir, strings.Replace(name, "dl1_", "dl2_", 1))
}

// ReduceJobLogs returns the stdout and stderr paths of reduction job i of set.
func (t DirectoryTree) ReduceJobLogs(set types.SetType, i int) (string, string) {
	stem := filepath.Join(t.JobLogs, fmt.Sprintf("job%d_%s", i, set.Short()))
	return stem + ".o", stem + ".e"
}

// StageJobLogs returns the stdout and stderr paths of a single named job.
func (t DirectoryTree) StageJobLogs(name string) (string, string) {
	stem := filepath.Join(t.JobLogs, name)
	return stem + ".o", stem + ".e"
}

// ReduceDirs lists the directories the reduction stage owns, parents first.
func (t DirectoryTree) ReduceDirs() []string {
	paths := []string{t.RunningDir, t.JobLogs, t.DL1Dir}
	for _, set := range types.SetTypes() {
		paths = append(paths, t.FileListDir(set), t.DL1SetDir(set))
	}
	return paths
}

// Paths lists every directory of the tree.
func (t DirectoryTree) Paths() []string {
	return append(t.ReduceDirs(), t.DL2Dir)
}

// IRFDir is the output directory of IRFs computed under mode. template is a
// data lake path with the particle placeholder; the particle component is
// dropped since IRFs combine all samples.
func IRFDir(template, prodID string, mode IRFMode) (string, error) {
	if !strings.Contains(template, ParticlePlaceholder) {
		return "", fmt.Errorf("%w: %s", ErrNoPlaceholder, template)
	}
	dir := filepath.Clean(strings.Replace(template, "/"+ParticlePlaceholder, "", 1))
	for _, tier := range []string{TierDL0, TierDL1, TierDL2} {
		if strings.Contains(dir, tierSegment(tier)) {
			dir = strings.Replace(dir, tierSegment(tier), tierSegment(TierIRF), 1)
			parts := []string{dir}
			if prodID != "" {
				parts = append(parts, prodID)
			}
			return filepath.Join(append(parts, mode.Kind())...), nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNoTierSegment, template)
}

// IRFFileName names the IRF file of a production under mode.
func IRFFileName(prodID string, mode IRFMode) string {
	if prodID == "" {
		return "irf.fits.gz"
	}
	id := strings.ReplaceAll(prodID, ".", "")
	if mode.PointLike {
		return fmt.Sprintf("irf_%s_gamma_point-like_%s.fits.gz", id, strings.ReplaceAll(mode.Offset, ".", ""))
	}
	return fmt.Sprintf("irf_%s_gamma_diffuse.fits.gz", id)
}

func joinTier(base, tier string, suffix []string) string {
	dir := strings.Replace(base, tierSegment(TierDL0), tierSegment(tier), 1)
	return filepath.Join(append([]string{dir}, suffix...)...)
}
