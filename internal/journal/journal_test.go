package journal

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/mcpipe/internal/workflowlog"
	"github.com/ChuLiYu/mcpipe/pkg/types"
)

func entry(p types.Particle, set types.SetType) types.WorkflowLogEntry {
	return types.WorkflowLogEntry{
		Particle:   p,
		SetType:    set,
		Command:    "sbatch --parsable -p short -J merge_p '--wrap=lstchain_merge_hdf5_files'",
		StdoutPath: "/logs/merging_train.o",
		StderrPath: "/logs/merging_train.e",
	}
}

func collect(t *testing.T, path string) []Record {
	t.Helper()
	var got []Record
	require.NoError(t, Replay(path, func(r Record) error {
		got = append(got, r)
		return nil
	}))
	return got
}

func TestJournal_AppendAndReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", FileName("prod"))

	j, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, j.Append(workflowlog.StageR0ToDL1, "101", entry(types.Proton, types.SetTraining)))
	require.NoError(t, j.Append(workflowlog.StageR0ToDL1, "102", entry(types.Proton, types.SetTesting)))
	require.NoError(t, j.Append(workflowlog.StageMergeDL1, "103", entry(types.Proton, types.SetTraining)))
	assert.Equal(t, uint64(3), j.LastSeq())
	require.NoError(t, j.Close())

	got := collect(t, path)
	require.Len(t, got, 3)
	for i, r := range got {
		assert.Equal(t, uint64(i+1), r.Seq)
		assert.NotZero(t, r.Timestamp)
	}
	assert.Equal(t, types.JobHandle("102"), got[1].Handle)
	assert.Equal(t, entry(types.Proton, types.SetTesting), got[1].Entry)
	assert.Equal(t, workflowlog.StageMergeDL1, got[2].Stage)
}

func TestJournal_ReopenContinuesNumbering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "j.jsonl")

	j, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, j.Append(workflowlog.StageR0ToDL1, "1", entry(types.Gamma, types.SetTraining)))
	require.NoError(t, j.Close())

	j, err = Open(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), j.LastSeq())
	require.NoError(t, j.Append(workflowlog.StageR0ToDL1, "2", entry(types.Gamma, types.SetTesting)))
	require.NoError(t, j.Close())

	got := collect(t, path)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(2), got[1].Seq)
}

func TestCreate_RefusesUsedJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName("prod"))

	j, err := Create(path)
	require.NoError(t, err)
	require.NoError(t, j.Close())

	j, err = Create(path)
	require.NoError(t, err, "an empty journal is still fresh")
	require.NoError(t, j.Append(workflowlog.StageR0ToDL1, "1", entry(types.Proton, types.SetTraining)))
	require.NoError(t, j.Close())

	_, err = Create(path)
	assert.ErrorIs(t, err, ErrInUse)
	assert.Len(t, collect(t, path), 1, "the earlier run's records are kept")
}

func TestJournal_AppendAfterClose(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "j.jsonl"))
	require.NoError(t, err)
	require.NoError(t, j.Close())
	require.NoError(t, j.Close(), "second close is a no-op")

	assert.ErrorIs(t, j.Append(workflowlog.StageR0ToDL1, "1", entry(types.Gamma, "")), ErrClosed)
}

func TestJournal_TornTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "j.jsonl")

	j, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, j.Append(workflowlog.StageR0ToDL1, "1", entry(types.Electron, types.SetTraining)))
	require.NoError(t, j.Close())

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"seq":2,"stage":"r0_to_dl1","hand`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	assert.Len(t, collect(t, path), 1, "a torn final record is ignored")

	j, err = Open(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), j.LastSeq())
	require.NoError(t, j.Append(workflowlog.StageR0ToDL1, "2", entry(types.Electron, types.SetTesting)))
	require.NoError(t, j.Close())

	got := collect(t, path)
	require.Len(t, got, 2)
	assert.Equal(t, types.JobHandle("2"), got[1].Handle)
}

func TestReplay_Errors(t *testing.T) {
	dir := t.TempDir()

	err := Replay(filepath.Join(dir, "missing.jsonl"), func(Record) error { return nil })
	assert.True(t, os.IsNotExist(err))

	corrupted := filepath.Join(dir, "corrupted.jsonl")
	require.NoError(t, os.WriteFile(corrupted, []byte("not json\n"), 0o644))
	assert.ErrorIs(t, Replay(corrupted, func(Record) error { return nil }), ErrCorrupted)

	path := filepath.Join(dir, "tampered.jsonl")
	j, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, j.Append(workflowlog.StageR0ToDL1, "101", entry(types.Proton, types.SetTraining)))
	require.NoError(t, j.Close())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte(strings.Replace(string(data), `"101"`, `"999"`, 1)), 0o644))
	assert.ErrorIs(t, Replay(path, func(Record) error { return nil }), ErrChecksumMismatch)

	stop := errors.New("stop")
	clean := filepath.Join(dir, "clean.jsonl")
	j, err = Open(clean)
	require.NoError(t, err)
	require.NoError(t, j.Append(workflowlog.StageR0ToDL1, "1", entry(types.Proton, "")))
	require.NoError(t, j.Close())
	assert.ErrorIs(t, Replay(clean, func(Record) error { return stop }), stop)
}

func TestRebuild_GroupsByStage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "j.jsonl")
	j, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, j.Append(workflowlog.StageR0ToDL1, "101", entry(types.Proton, types.SetTraining)))
	require.NoError(t, j.Append(workflowlog.StageR0ToDL1, "102", entry(types.Proton, types.SetTesting)))
	require.NoError(t, j.Append(workflowlog.StageMergeDL1, "103", entry(types.Proton, types.SetTraining)))
	require.NoError(t, j.Close())

	logs, err := Rebuild(path)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, workflowlog.StageR0ToDL1, logs[0].Stage())
	assert.Equal(t, []types.JobHandle{"101", "102"}, logs[0].Handles())
	assert.Equal(t, []types.JobHandle{"103"}, logs[1].HandlesFor(types.Proton, types.SetTraining))
}
