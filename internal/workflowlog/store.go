package workflowlog

// ============================================================================
// Persisted workflow log
//
// 1. One YAML document per production run:
//      {run_id, schema_version, prod_id, stages: {stage: {handle: entry}}}
// 2. Each stage is persisted exactly once; a second persist of the same stage
//    fails with ErrStageExists instead of rewriting history.
// 3. Writes go through a temp file + rename so a crash never leaves a torn file.
// ============================================================================

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/ChuLiYu/mcpipe/pkg/types"
)

// SchemaVersion is the current document layout.
const SchemaVersion = 1

var (
	ErrCorruptedLog        = errors.New("workflowlog: log file is corrupted")
	ErrIncompatibleVersion = errors.New("workflowlog: schema version is incompatible")
)

// Document is the persisted form of a run's workflow log.
type Document struct {
	RunID         string                                                `yaml:"run_id"`
	SchemaVersion int                                                   `yaml:"schema_version"`
	ProdID        string                                                `yaml:"prod_id,omitempty"`
	CreatedAt     time.Time                                             `yaml:"created_at"`
	Stages        map[string]map[types.JobHandle]types.WorkflowLogEntry `yaml:"stages"`
}

// StageNames returns the persisted stages sorted by name.
func (d Document) StageNames() []string {
	names := make([]string, 0, len(d.Stages))
	for name := range d.Stages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Store reads and writes a workflow log file.
type Store struct {
	path   string
	prodID string
	mu     sync.Mutex
}

// NewStore returns a store for path. prodID is written into new documents.
func NewStore(path, prodID string) *Store {
	return &Store{path: path, prodID: prodID}
}

// Path returns the log file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the document. A missing file yields a fresh document with a new run id.
func (s *Store) Load() (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) load() (Document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Document{
				RunID:         uuid.New().String(),
				SchemaVersion: SchemaVersion,
				ProdID:        s.prodID,
				CreatedAt:     time.Now().UTC(),
				Stages:        make(map[string]map[types.JobHandle]types.WorkflowLogEntry),
			}, nil
		}
		return Document{}, fmt.Errorf("workflowlog: read %s: %w", s.path, err)
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrCorruptedLog, err)
	}
	if doc.SchemaVersion != SchemaVersion {
		return Document{}, fmt.Errorf("%w: got %d, want %d", ErrIncompatibleVersion, doc.SchemaVersion, SchemaVersion)
	}
	if doc.Stages == nil {
		doc.Stages = make(map[string]map[types.JobHandle]types.WorkflowLogEntry)
	}
	return doc, nil
}

// Persist adds the entries of l under its stage name and seals l.
func (s *Store) Persist(l *StageLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	if _, exists := doc.Stages[l.Stage()]; exists {
		return fmt.Errorf("%w: %s in %s", ErrStageExists, l.Stage(), s.path)
	}
	doc.Stages[l.Stage()] = l.Entries()

	if err := s.write(doc); err != nil {
		return err
	}
	l.seal()
	return nil
}

// Restore persists the logs whose stage is not stored yet, in one write, and
// returns the restored stage names. Stored stages are left untouched.
func (s *Store) Restore(logs ...*StageLog) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	var restored []*StageLog
	for _, l := range logs {
		if _, exists := doc.Stages[l.Stage()]; exists || l.Len() == 0 {
			continue
		}
		doc.Stages[l.Stage()] = l.Entries()
		restored = append(restored, l)
	}
	if len(restored) == 0 {
		return nil, nil
	}
	if err := s.write(doc); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(restored))
	for _, l := range restored {
		l.seal()
		names = append(names, l.Stage())
	}
	return names, nil
}

func (s *Store) write(doc Document) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("workflowlog: marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("workflowlog: create log dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("workflowlog: write temp log: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("workflowlog: rename log: %w", err)
	}
	return nil
}

// FileName is the log file name of a production.
func FileName(prodID string) string {
	return fmt.Sprintf("log_onsite_mc_r0_to_dl3_%s.yml", prodID)
}
