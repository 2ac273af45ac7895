package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/mcpipe/internal/journal"
	"github.com/ChuLiYu/mcpipe/internal/layout"
	"github.com/ChuLiYu/mcpipe/internal/workflowlog"
	"github.com/ChuLiYu/mcpipe/pkg/types"
)

const prodID = "20210101_v0.7.3_v00"

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := BuildCLI()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// dataLake creates n files per particle and returns the DL0 template.
func dataLake(t *testing.T, n int, particles ...types.Particle) string {
	t.Helper()
	template := filepath.Join(t.TempDir(), "DL0", "prod5", layout.ParticlePlaceholder, "zenith_20deg")
	for _, p := range particles {
		dir, err := layout.ParticleDir(template, p)
		require.NoError(t, err)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		for i := 0; i < n; i++ {
			require.NoError(t, os.WriteFile(filepath.Join(dir, fmt.Sprintf("run%02d.simtel.gz", i)), []byte("x"), 0o644))
		}
	}
	return template
}

func TestBuildCLI(t *testing.T) {
	cmd := BuildCLI()

	assert.NotNil(t, cmd, "BuildCLI should return a non-nil command")
	assert.Equal(t, "mcpipe", cmd.Use)

	names := make(map[string]bool)
	for _, c := range cmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"workflow", "r0-to-dl1", "merge", "dl1-to-dl2", "irf", "log"} {
		assert.True(t, names[want], "missing %q command", want)
	}

	for _, flag := range []string{"config", "log-level", "log-format", "dry-run", "metrics-textfile", "submit-timeout"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(flag), "missing --%s", flag)
	}
}

func TestBuildReduceCommand_Flags(t *testing.T) {
	cmd := buildReduceCommand(&rootOptions{})

	assert.Equal(t, "r0-to-dl1", cmd.Name())
	cfgFlag := cmd.Flags().Lookup("config_file")
	require.NotNil(t, cfgFlag)
	assert.Equal(t, "c", cfgFlag.Shorthand)
	assert.Equal(t, "0.5", cmd.Flags().Lookup("train_test_ratio").DefValue)
	assert.Equal(t, "42", cmd.Flags().Lookup("random_seed").DefValue)
	assert.Equal(t, "0", cmd.Flags().Lookup("n_files_per_dl1").DefValue)
}

// ============================================================================
// Standalone stages
// ============================================================================

func TestReduceCommand_DryRun(t *testing.T) {
	template := dataLake(t, 4, types.Proton)
	dir, err := layout.ParticleDir(template, types.Proton)
	require.NoError(t, err)

	out, err := execute(t, "", "--dry-run", "r0-to-dl1", dir,
		"--particle", "proton", "--prod_id", prodID, "--n_files_per_dl1", "2", "--account", "aswg")
	require.NoError(t, err)

	assert.Contains(t, out, "START r0_to_dl1")
	assert.Contains(t, out, "END r0_to_dl1")
	assert.Contains(t, out, "[dry-run 1] sbatch --parsable -p long -A aswg")
	assert.Contains(t, out, "[dry-run 2] sbatch")
	assert.NotContains(t, out, "[dry-run 3]")
	assert.Contains(t, out, "running_analysis")
}

func TestReduceCommand_UserAbort(t *testing.T) {
	template := dataLake(t, 4, types.Proton)
	dir, err := layout.ParticleDir(template, types.Proton)
	require.NoError(t, err)

	pc, err := layout.NewProductionContext(prodID, types.Proton, dir)
	require.NoError(t, err)
	running := layout.DeriveTree(pc).RunningDir
	require.NoError(t, os.MkdirAll(running, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(running, "previous.list"), []byte("x"), 0o644))

	out, err := execute(t, "n\n", "--dry-run", "r0-to-dl1", dir, "--particle", "proton", "--prod_id", prodID)
	assert.ErrorIs(t, err, layout.ErrUserAbort)
	assert.Contains(t, out, "is not empty")
	assert.NotContains(t, out, "[dry-run")
	assert.FileExists(t, filepath.Join(running, "previous.list"))
}

func TestReduceCommand_Errors(t *testing.T) {
	template := dataLake(t, 4, types.Proton)
	dir, err := layout.ParticleDir(template, types.Proton)
	require.NoError(t, err)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown particle", []string{"r0-to-dl1", dir, "--particle", "muon", "--prod_id", prodID}, "unknown particle"},
		{"missing prod id", []string{"r0-to-dl1", dir, "--particle", "proton"}, "prod_id"},
		{"bad kind", []string{"r0-to-dl1", dir, "--particle", "proton", "--prod_id", prodID, "--workflow_kind", "hiperta"}, "workflow kind"},
		{"missing input", []string{"r0-to-dl1", filepath.Join(dir, "nope"), "--particle", "proton", "--prod_id", prodID}, "must exist"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, "", append([]string{"--dry-run"}, tt.args...)...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestMergeCommand_NeedsReducedFiles(t *testing.T) {
	template := dataLake(t, 2, types.Electron)
	dir, err := layout.ParticleDir(template, types.Electron)
	require.NoError(t, err)

	_, err = execute(t, "", "--dry-run", "merge", dir, "--particle", "electron", "--prod_id", prodID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required output not found")
}

func TestMergeCommand_DryRun(t *testing.T) {
	template := dataLake(t, 2, types.Electron)
	dir, err := layout.ParticleDir(template, types.Electron)
	require.NoError(t, err)
	pc, err := layout.NewProductionContext(prodID, types.Electron, dir)
	require.NoError(t, err)
	tree := layout.DeriveTree(pc)
	for _, set := range types.SetTypes() {
		require.NoError(t, os.MkdirAll(tree.DL1SetDir(set), 0o755))
	}

	out, err := execute(t, "", "--dry-run", "merge", dir, "--particle", "electron", "--prod_id", prodID,
		"--workflow_kind", "ctapipe", "--keep_images")
	require.NoError(t, err)
	assert.Contains(t, out, "ctapipe-merge")
	assert.NotContains(t, out, "--skip-images")
	assert.Contains(t, out, "[dry-run 2]")
}

func TestIRFCommand_DryRun(t *testing.T) {
	root := t.TempDir()
	template := filepath.Join(root, "DL2", "prod5", layout.ParticlePlaceholder, "zenith_20deg")
	for _, p := range []types.Particle{types.GammaDiffuse, types.Proton, types.Electron} {
		dir, err := layout.ParticleDir(template, p)
		require.NoError(t, err)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		name := fmt.Sprintf("dl2_%s_testing.h5", p)
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}

	out, err := execute(t, "", "--dry-run", "irf", "--input_template", template, "--prod_id", prodID, "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "lstchain_create_irf_files")
	assert.Contains(t, out, "IRF output: "+filepath.Join(root, "IRF", "prod5", "zenith_20deg", prodID, "diffuse"))
}

func TestIRFCommand_OffsetNeedsPointLike(t *testing.T) {
	root := t.TempDir()
	template := filepath.Join(root, "DL2", "prod5", layout.ParticlePlaceholder, "zenith_20deg")

	out, err := execute(t, "", "--dry-run", "irf", "--input_template", template, "--gamma_offset", "off0.4deg", "--yes")
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrInvalidOffset)
	assert.NotContains(t, out, "[dry-run")
}

// ============================================================================
// Full workflow
// ============================================================================

func TestWorkflowCommand_RequiresConfig(t *testing.T) {
	_, err := execute(t, "", "workflow")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--config")
}

func TestWorkflowCommand_DryRun(t *testing.T) {
	template := dataLake(t, 4, types.GammaDiffuse, types.Proton, types.Electron)
	logDir := filepath.Join(t.TempDir(), "logs")
	textfile := filepath.Join(t.TempDir(), "mcpipe.prom")

	cfgPath := filepath.Join(t.TempDir(), "prod.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf(`
lstchain_version: 0.7.3
dl0_template: %q
particles: [gamma-diffuse, proton, electron]
r0_to_dl1:
  n_files_per_dl1: 2
log_dir: %q
dry_run: true
metrics:
  textfile: %q
`, template, logDir, textfile)), 0o644))

	out, err := execute(t, "", "--config", cfgPath, "workflow")
	require.NoError(t, err)

	// 6 reduce, 6 merge, 1 IRF.
	assert.Contains(t, out, "[dry-run 13]")
	assert.Contains(t, out, "1,2,3,4,5,6,7,8,9,10,11,12,13")

	logs, err := filepath.Glob(filepath.Join(logDir, "log_onsite_mc_r0_to_dl3_*_v0.7.3_v00.yml"))
	require.NoError(t, err)
	require.Len(t, logs, 1)
	doc, err := workflowlog.NewStore(logs[0], "").Load()
	require.NoError(t, err)
	assert.Len(t, doc.Stages, 3)

	journals, err := filepath.Glob(filepath.Join(logDir, "submissions_*_v0.7.3_v00.jsonl"))
	require.NoError(t, err)
	require.Len(t, journals, 1)
	rebuilt, err := journal.Rebuild(journals[0])
	require.NoError(t, err)
	assert.Equal(t, "1,2,3,4,5,6,7,8,9,10,11,12,13", types.JoinHandles(workflowlog.Flatten(rebuilt...)))

	// A rerun after a crash that persisted nothing must not append to the
	// earlier run's journal.
	require.NoError(t, os.Remove(logs[0]))
	out, err = execute(t, "", "--config", cfgPath, "workflow")
	require.Error(t, err)
	assert.ErrorIs(t, err, journal.ErrInUse)
	assert.Contains(t, err.Error(), "log recover")
	assert.NotContains(t, out, "[dry-run")
	again, err := journal.Rebuild(journals[0])
	require.NoError(t, err)
	assert.Equal(t, workflowlog.Flatten(rebuilt...), workflowlog.Flatten(again...))

	assert.FileExists(t, textfile)
	metrics, err := os.ReadFile(textfile)
	require.NoError(t, err)
	assert.Contains(t, string(metrics), "mcpipe_submissions_total")
}

// ============================================================================
// log show
// ============================================================================

func TestLogShow(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvProdLogs, dir)

	store := workflowlog.NewStore(filepath.Join(dir, workflowlog.FileName(prodID)), prodID)
	log := workflowlog.NewStageLog(workflowlog.StageR0ToDL1)
	require.NoError(t, log.Record("4242", types.WorkflowLogEntry{Particle: types.Proton, SetType: types.SetTraining}))
	require.NoError(t, store.Persist(log))

	out, err := execute(t, "", "log", "show", prodID)
	require.NoError(t, err)
	assert.Contains(t, out, "4242")
	assert.Contains(t, out, prodID)

	_, err = execute(t, "", "log", "show", "20000101_v0.1_v00")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read workflow log")

	_, err = execute(t, "", "log", "show")
	assert.Error(t, err)
}

func TestLogRecover(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvProdLogs, dir)

	store := workflowlog.NewStore(filepath.Join(dir, workflowlog.FileName(prodID)), prodID)
	reduce := workflowlog.NewStageLog(workflowlog.StageR0ToDL1)
	require.NoError(t, reduce.Record("1", types.WorkflowLogEntry{Particle: types.Proton, SetType: types.SetTraining}))
	require.NoError(t, store.Persist(reduce))

	j, err := journal.Open(filepath.Join(dir, journal.FileName(prodID)))
	require.NoError(t, err)
	require.NoError(t, j.Append(workflowlog.StageR0ToDL1, "1", types.WorkflowLogEntry{Particle: types.Proton, SetType: types.SetTraining}))
	require.NoError(t, j.Append(workflowlog.StageMergeDL1, "2", types.WorkflowLogEntry{Particle: types.Proton, SetType: types.SetTraining}))
	require.NoError(t, j.Close())

	out, err := execute(t, "", "log", "recover", prodID)
	require.NoError(t, err)
	assert.Contains(t, out, "Restored merge_dl1")
	assert.NotContains(t, out, "Restored r0_to_dl1")

	doc, err := store.Load()
	require.NoError(t, err)
	assert.Contains(t, doc.Stages[workflowlog.StageMergeDL1], types.JobHandle("2"))

	out, err = execute(t, "", "log", "recover", prodID)
	require.NoError(t, err)
	assert.Contains(t, out, "is complete")

	_, err = execute(t, "", "log", "recover", "20000101_v0.1_v00")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to replay journal")
}

func TestResolveLogDir(t *testing.T) {
	t.Setenv(EnvProdLogs, "/data/logs")

	dir, err := resolveLogDir("/override")
	require.NoError(t, err)
	assert.Equal(t, "/override", dir)

	dir, err = resolveLogDir("")
	require.NoError(t, err)
	assert.Equal(t, "/data/logs", dir)

	t.Setenv(EnvProdLogs, "")
	t.Setenv("HOME", "/home/operator")
	dir, err = resolveLogDir("")
	require.NoError(t, err)
	assert.Equal(t, "/home/operator/MCPIPE_PROD_LOGS", dir)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger("warn", "json", &buf)

	logger.Info("hidden")
	logger.Warn("shown", "stage", "merge_dl1")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
	assert.Contains(t, out, `"stage":"merge_dl1"`)
}
