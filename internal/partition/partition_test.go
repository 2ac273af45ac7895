package partition

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/ChuLiYu/mcpipe/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// makePopulation creates n files of size bytes under a temp dir.
func makePopulation(t *testing.T, n int, size int) (string, []string) {
	t.Helper()
	dir := t.TempDir()
	for i := 0; i < n; i++ {
		name := filepath.Join(dir, fmt.Sprintf("run%03d.simtel.gz", i))
		require.NoError(t, os.WriteFile(name, make([]byte, size), 0o644))
	}
	files, err := Discover(dir)
	require.NoError(t, err)
	return dir, files
}

func sorted(s []string) []string {
	out := append([]string(nil), s...)
	sort.Strings(out)
	return out
}

func TestDiscover(t *testing.T) {
	dir, files := makePopulation(t, 3, 1)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "subdir"), 0o755))

	again, err := Discover(dir)
	require.NoError(t, err)
	assert.Equal(t, files, again, "discovery order must be stable")
	assert.Len(t, again, 3, "directories are not part of the population")
	for _, f := range again {
		assert.True(t, filepath.IsAbs(f))
	}
}

func TestDiscover_Errors(t *testing.T) {
	_, err := Discover(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, ErrMissingInput)

	_, err = Discover(t.TempDir())
	assert.ErrorIs(t, err, ErrEmptyPopulation)
}

func TestSplitFiles_Sizes(t *testing.T) {
	tests := []struct {
		name      string
		n         int
		ratio     float64
		wantTrain int
	}{
		{"even half", 10, 0.5, 5},
		{"odd half floors", 7, 0.5, 3},
		{"small ratio", 10, 0.05, 0},
		{"large ratio", 10, 0.99, 9},
		{"single file", 1, 0.5, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pop := make([]string, tt.n)
			for i := range pop {
				pop[i] = fmt.Sprintf("/dl0/f%d", i)
			}
			split, err := SplitFiles(pop, tt.ratio, 42)
			require.NoError(t, err)

			assert.Len(t, split.Train, tt.wantTrain)
			assert.Len(t, split.Test, tt.n-tt.wantTrain)

			union := append(append([]string{}, split.Train...), split.Test...)
			assert.Equal(t, sorted(pop), sorted(union), "train and test must cover the population exactly once")
		})
	}
}

func TestSplitFiles_Deterministic(t *testing.T) {
	_, pop := makePopulation(t, 10, 1)
	original := append([]string(nil), pop...)

	a, err := SplitFiles(pop, 0.5, 42)
	require.NoError(t, err)
	b, err := SplitFiles(pop, 0.5, 42)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a.Train, 5)
	assert.Len(t, a.Test, 5)
	assert.Equal(t, original, pop, "input must not be reordered")

	c, err := SplitFiles(pop, 0.5, 7)
	require.NoError(t, err)
	assert.NotEqual(t, a, c, "a different seed should shuffle differently")
}

func TestSplitFiles_Preconditions(t *testing.T) {
	_, err := SplitFiles(nil, 0.5, 1)
	assert.ErrorIs(t, err, ErrEmptyPopulation)

	for _, r := range []float64{0, 1, -0.1, 1.5} {
		_, err := SplitFiles([]string{"a", "b"}, r, 1)
		assert.ErrorIs(t, err, ErrInvalidRatio, "ratio %v", r)
	}
}

func TestChunk(t *testing.T) {
	seq := []string{"a", "b", "c", "d", "e"}

	chunks, err := Chunk(seq, 2)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, []int{2, 2, 1}, []int{len(chunks[0]), len(chunks[1]), len(chunks[2])})

	var joined []string
	for _, c := range chunks {
		joined = append(joined, c...)
	}
	assert.Equal(t, seq, joined)

	one, err := Chunk(seq, 10)
	require.NoError(t, err)
	assert.Len(t, one, 1)

	none, err := Chunk(nil, 3)
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = Chunk(seq, 0)
	assert.ErrorIs(t, err, ErrInvalidChunkSize)
}

func TestChunk_AppendDoesNotAlias(t *testing.T) {
	seq := []string{"a", "b", "c", "d"}
	chunks, err := Chunk(seq, 2)
	require.NoError(t, err)

	_ = append(chunks[0], "x")
	assert.Equal(t, "c", seq[2])
}

func TestAutoChunkSize(t *testing.T) {
	tests := []struct {
		name      string
		sample    int64
		target    float64
		reduction float64
		want      int
	}{
		{"500MB inputs", 500e6, 1000, 5, 10},
		{"large inputs still one", 50e9, 1000, 5, 1},
		{"target below one file", 100e6, 1, 5, 1},
		{"non positive reduction uses default", 500e6, 1000, 0, 10},
		{"empty sample", 0, 1000, 5, maxChunkSize},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AutoChunkSize(tt.sample, tt.target, tt.reduction)
			assert.Equal(t, tt.want, got)
			assert.GreaterOrEqual(t, got, 1)
		})
	}
}

func TestChunkSizeFor(t *testing.T) {
	_, pop := makePopulation(t, 2, 1_000_000)

	n, err := ChunkSizeFor(pop, 3, DefaultTargetSizeMB, DefaultReductionFactor)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// 1 MB inputs shrunk 4x contribute 0.25 MB each.
	n, err = ChunkSizeFor(pop, 0, 2, 4)
	require.NoError(t, err)
	assert.Equal(t, 8, n)
}

func TestEndToEndSplitAndChunk(t *testing.T) {
	_, pop := makePopulation(t, 10, 1)

	split, err := SplitFiles(pop, 0.5, 42)
	require.NoError(t, err)
	rerun, err := SplitFiles(pop, 0.5, 42)
	require.NoError(t, err)
	assert.Equal(t, split, rerun)

	chunks, err := Chunk(split.Files(types.SetTraining), 2)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[2], 1)
}

func TestWriteFileList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "training_0.list")
	require.NoError(t, WriteFileList(path, []string{"/a/1", "/a/2"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/a/1\n/a/2\n", string(data))
	assert.Equal(t, 2, strings.Count(string(data), "\n"))
}
