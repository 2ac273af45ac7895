// Package partition turns a raw file population into reproducible train/test
// sets and splits each set into bounded work units for the batch scheduler.
package partition

import (
	"bufio"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/ChuLiYu/mcpipe/pkg/types"
)

var (
	// ErrEmptyPopulation is returned when the input directory holds no regular files.
	ErrEmptyPopulation = errors.New("partition: input directory is empty")
	// ErrMissingInput is returned when the input directory does not exist.
	ErrMissingInput = errors.New("partition: input directory must exist")
	// ErrInvalidRatio is returned for train/test ratios outside (0, 1).
	ErrInvalidRatio = errors.New("partition: train/test ratio must be in (0, 1)")
	// ErrInvalidChunkSize is returned for chunk sizes below one.
	ErrInvalidChunkSize = errors.New("partition: chunk size must be >= 1")
)

const (
	// DefaultTargetSizeMB is the merged artifact size the auto chunk size aims for.
	DefaultTargetSizeMB = 1000.0
	// DefaultReductionFactor is the observed input/output size ratio of the reduction tool.
	DefaultReductionFactor = 5.0

	maxChunkSize = math.MaxInt32
)

// Split is a train/test partition of a file population.
type Split struct {
	Train []string
	Test  []string
}

// Files returns the sequence for one side of the split.
func (s Split) Files(set types.SetType) []string {
	if set == types.SetTraining {
		return s.Train
	}
	return s.Test
}

// Discover lists the regular files directly under root as absolute paths.
// os.ReadDir sorts by name, so the discovery order is stable across runs.
func Discover(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrMissingInput, root)
		}
		return nil, fmt.Errorf("partition: stat %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrMissingInput, root)
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("partition: resolve %s: %w", root, err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("partition: read %s: %w", abs, err)
	}

	var files []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		files = append(files, filepath.Join(abs, e.Name()))
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyPopulation, root)
	}
	return files, nil
}

// SplitFiles shuffles a copy of population with a generator seeded by seed and
// assigns the first floor(len*ratio) files to the training set. The input
// slice is left untouched.
func SplitFiles(population []string, ratio float64, seed int64) (Split, error) {
	if len(population) == 0 {
		return Split{}, ErrEmptyPopulation
	}
	if !(ratio > 0 && ratio < 1) {
		return Split{}, fmt.Errorf("%w: got %v", ErrInvalidRatio, ratio)
	}

	shuffled := make([]string, len(population))
	copy(shuffled, population)
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	nTrain := int(math.Floor(float64(len(shuffled)) * ratio))
	return Split{
		Train: shuffled[:nTrain:nTrain],
		Test:  shuffled[nTrain:],
	}, nil
}

// Chunk cuts seq into contiguous sublists of size elements; the last one may be
// shorter. An empty sequence yields no chunks.
func Chunk(seq []string, size int) ([][]string, error) {
	if size < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidChunkSize, size)
	}
	chunks := make([][]string, 0, (len(seq)+size-1)/size)
	for start := 0; start < len(seq); start += size {
		end := start + size
		if end > len(seq) {
			end = len(seq)
		}
		chunks = append(chunks, seq[start:end:end])
	}
	return chunks, nil
}

// AutoChunkSize predicts how many input files of sampleBytes each fit in one
// merged output of targetMB, given the reduction tool shrinks files by
// reductionFactor. The result is never below one.
func AutoChunkSize(sampleBytes int64, targetMB, reductionFactor float64) int {
	if reductionFactor <= 0 {
		reductionFactor = DefaultReductionFactor
	}
	perFileMB := float64(sampleBytes) / 1e6 / reductionFactor
	if perFileMB <= 0 {
		return maxChunkSize
	}
	n := math.Floor(targetMB / perFileMB)
	if n < 1 {
		return 1
	}
	if n > maxChunkSize {
		return maxChunkSize
	}
	return int(n)
}

// ChunkSizeFor returns override when it is positive, otherwise the auto size
// computed from the first file of population.
func ChunkSizeFor(population []string, override int, targetMB, reductionFactor float64) (int, error) {
	if override > 0 {
		return override, nil
	}
	if len(population) == 0 {
		return 0, ErrEmptyPopulation
	}
	info, err := os.Stat(population[0])
	if err != nil {
		return 0, fmt.Errorf("partition: sample input size: %w", err)
	}
	return AutoChunkSize(info.Size(), targetMB, reductionFactor), nil
}

// WriteFileList writes one path per line, the input-list format of the reduction tools.
func WriteFileList(path string, files []string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("partition: create file list: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, name := range files {
		if _, err := w.WriteString(name + "\n"); err != nil {
			f.Close()
			return fmt.Errorf("partition: write file list: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("partition: flush file list: %w", err)
	}
	return f.Close()
}
