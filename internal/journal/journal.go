package journal

// ============================================================================
// Submission journal
// 1. Append-only JSON lines, one record per issued job handle
// 2. Every append is fsynced before the next submission goes out, so a handle
//    the scheduler issued is on disk even if the process dies mid-stage
// 3. Each record carries a CRC32 over its identifying fields
// 4. Replay feeds records back in order; a torn final line (crash during the
//    write) ends the replay, anything else malformed is corruption
// ============================================================================

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ChuLiYu/mcpipe/internal/workflowlog"
	"github.com/ChuLiYu/mcpipe/pkg/types"
)

var (
	// ErrCorrupted indicates a record that cannot be parsed.
	ErrCorrupted = errors.New("journal: file is corrupted")
	// ErrChecksumMismatch indicates a record whose checksum does not match its fields.
	ErrChecksumMismatch = errors.New("journal: checksum mismatch")
	// ErrClosed indicates an append after Close.
	ErrClosed = errors.New("journal: already closed")
	// ErrInUse indicates a fresh journal was requested over one holding records.
	ErrInUse = errors.New("journal: already holds submissions")
)

// Record is one issued job.
type Record struct {
	Seq       uint64                 `json:"seq"`
	Stage     string                 `json:"stage"`
	Handle    types.JobHandle        `json:"handle"`
	Entry     types.WorkflowLogEntry `json:"entry"`
	Timestamp int64                  `json:"timestamp"` // Unix milliseconds
	Checksum  uint32                 `json:"checksum"`
}

// Handler processes one replayed record.
type Handler func(Record) error

// file is the subset of *os.File the journal writes through.
type file interface {
	Write(p []byte) (n int, err error)
	Sync() error
	Close() error
}

// Journal appends records to one file.
type Journal struct {
	mu      sync.Mutex
	file    file
	encoder *json.Encoder
	path    string
	seq     uint64
	closed  bool
}

// Open creates or reopens the journal at path and continues its numbering.
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("journal: create dir: %w", err)
	}

	if err := dropTornTail(path); err != nil {
		return nil, err
	}
	var seq uint64
	err := Replay(path, func(r Record) error {
		seq = r.Seq
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	return &Journal{file: f, encoder: json.NewEncoder(f), path: path, seq: seq}, nil
}

// Create opens the journal of a new run. A journal that already holds records
// belongs to an earlier run and is refused, so replays never mix two runs.
func Create(path string) (*Journal, error) {
	j, err := Open(path)
	if err != nil {
		return nil, err
	}
	if n := j.LastSeq(); n > 0 {
		j.Close()
		return nil, fmt.Errorf("%w: %s has %d records", ErrInUse, path, n)
	}
	return j, nil
}

// dropTornTail cuts a final line left without its newline by an interrupted
// append, so the next record starts on a line of its own.
func dropTornTail(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("journal: read %s: %w", path, err)
	}
	if len(data) == 0 || data[len(data)-1] == '\n' {
		return nil
	}
	keep := bytes.LastIndexByte(data, '\n') + 1
	if err := os.Truncate(path, int64(keep)); err != nil {
		return fmt.Errorf("journal: truncate torn record: %w", err)
	}
	return nil
}

// FileName is the journal file name of a production.
func FileName(prodID string) string {
	return fmt.Sprintf("submissions_%s.jsonl", prodID)
}

// Path returns the journal file path.
func (j *Journal) Path() string {
	return j.path
}

// LastSeq returns the sequence number of the last appended record.
func (j *Journal) LastSeq() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.seq
}

// Append writes one record and syncs it to disk.
func (j *Journal) Append(stage string, handle types.JobHandle, entry types.WorkflowLogEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return ErrClosed
	}
	r := Record{
		Seq:       j.seq + 1,
		Stage:     stage,
		Handle:    handle,
		Entry:     entry,
		Timestamp: time.Now().UnixMilli(),
	}
	r.Checksum = checksum(r)

	if err := j.encoder.Encode(r); err != nil {
		return fmt.Errorf("journal: append seq=%d: %w", r.Seq, err)
	}
	if err := j.file.Sync(); err != nil {
		return fmt.Errorf("journal: sync seq=%d: %w", r.Seq, err)
	}
	j.seq = r.Seq
	return nil
}

// Close releases the file. The journal cannot be reused afterwards.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	j.closed = true
	return j.file.Close()
}

// Replay reads path from the start and calls h for every record in order.
// It stops at the first error h returns.
func Replay(path string, h Handler) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	rd := bufio.NewReader(f)
	for lineNo := 1; ; lineNo++ {
		line, readErr := rd.ReadString('\n')
		if readErr != nil && readErr != io.EOF {
			return fmt.Errorf("journal: read %s: %w", path, readErr)
		}
		torn := readErr == io.EOF
		if strings.TrimSpace(line) != "" {
			var r Record
			if err := json.Unmarshal([]byte(line), &r); err != nil {
				if torn {
					return nil
				}
				return fmt.Errorf("%w: line %d: %v", ErrCorrupted, lineNo, err)
			}
			if r.Checksum != checksum(r) {
				return fmt.Errorf("%w: seq=%d", ErrChecksumMismatch, r.Seq)
			}
			if err := h(r); err != nil {
				return err
			}
		}
		if torn {
			return nil
		}
	}
}

func checksum(r Record) uint32 {
	fields := []string{
		strconv.FormatUint(r.Seq, 10),
		r.Stage,
		string(r.Handle),
		string(r.Entry.Particle),
		string(r.Entry.SetType),
		r.Entry.Command,
	}
	return crc32.ChecksumIEEE([]byte(strings.Join(fields, "\x00")))
}

// Rebuild groups the records at path into one stage log per stage, in the
// order stages first appear.
func Rebuild(path string) ([]*workflowlog.StageLog, error) {
	var logs []*workflowlog.StageLog
	byStage := make(map[string]*workflowlog.StageLog)
	err := Replay(path, func(r Record) error {
		l, ok := byStage[r.Stage]
		if !ok {
			l = workflowlog.NewStageLog(r.Stage)
			byStage[r.Stage] = l
			logs = append(logs, l)
		}
		return l.Record(r.Handle, r.Entry)
	})
	if err != nil {
		return nil, err
	}
	return logs, nil
}
