package workspace

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/openuav/fwctl/internal/version"
)

// StateFileName is the single structured record replacing the scattered
// per-action marker files the workspace used to accumulate.
const StateFileName = ".fwctl-state.json"

const stateSchemaVersion = 1

// historyLimit bounds the transition log kept in the record.
const historyLimit = 32

var (
	ErrIllegalTransition = errors.New("workspace: illegal state transition")
	ErrStateUnreadable   = errors.New("workspace: unreadable state record")
)

// Phase identifies how far a workspace has progressed through its
// one-time setup actions. Phases order linearly; reaching a phase means
// every earlier action completed, which is what makes repeated runs
// no-ops.
type Phase string

const (
	PhaseUninitialized Phase = "uninitialized"
	PhaseSynchronized  Phase = "synchronized"
	PhasePatched       Phase = "patched"
	PhaseInjected      Phase = "injected"
	PhaseReady         Phase = "ready"

	// PhaseConflicted records a patch that did not apply cleanly. The
	// checkout is unrecoverable in place; the next run destroys the
	// workspace and starts over.
	PhaseConflicted Phase = "conflicted"
)

// phaseOrder positions the linear phases for at-least checks.
// PhaseConflicted is deliberately absent: it is ahead of nothing.
var phaseOrder = map[Phase]int{
	PhaseUninitialized: 0,
	PhaseSynchronized:  1,
	PhasePatched:       2,
	PhaseInjected:      3,
	PhaseReady:         4,
}

// phaseTransitions lists the legal moves. Leaving PhaseConflicted or
// rewinding happens only through workspace destruction, which discards
// the record entirely.
var phaseTransitions = map[Phase][]Phase{
	PhaseUninitialized: {PhaseSynchronized},
	PhaseSynchronized:  {PhasePatched, PhaseConflicted},
	PhasePatched:       {PhaseInjected},
	PhaseInjected:      {PhaseReady, PhaseConflicted},
	PhaseReady:         {},
	PhaseConflicted:    {},
}

// Known reports whether p is a phase this tool understands.
func (p Phase) Known() bool {
	_, ok := phaseOrder[p]
	return ok || p == PhaseConflicted
}

// AtLeast reports whether p has progressed to target or beyond.
// A conflicted phase has progressed to nothing.
func (p Phase) AtLeast(target Phase) bool {
	self, ok := phaseOrder[p]
	if !ok {
		return false
	}
	want, ok := phaseOrder[target]
	if !ok {
		return false
	}
	return self >= want
}

// CanTransition reports whether moving from p to target is legal.
func (p Phase) CanTransition(target Phase) bool {
	for _, next := range phaseTransitions[p] {
		if next == target {
			return true
		}
	}
	return false
}

// Transition is one recorded phase change.
type Transition struct {
	From  Phase     `json:"from"`
	To    Phase     `json:"to"`
	RunID string    `json:"run_id"`
	At    time.Time `json:"at"`
}

// Record is the persisted per-workspace state.
type Record struct {
	SchemaVersion   int          `json:"schema_version"`
	Phase           Phase        `json:"phase"`
	FirmwareVersion string       `json:"firmware_version"`
	RunID           string       `json:"run_id"`
	UpdatedAt       time.Time    `json:"updated_at"`
	History         []Transition `json:"history,omitempty"`
}

// Store owns the workspace state record for one run. It is not safe for
// concurrent use; a workspace assumes a single run at a time.
type Store struct {
	path    string
	version version.Version
	runID   string
	rec     Record
	loaded  bool
	loadErr error
	now     func() time.Time
}

// NewStore returns a Store for the record at root, stamping runID on
// every transition it writes.
func NewStore(root string, v version.Version, runID string) *Store {
	return &Store{
		path:    filepath.Join(root, StateFileName),
		version: v,
		runID:   runID,
		now:     time.Now,
	}
}

// Load reads the record, normalizing anything that cannot guard this
// run: a missing file, a record for a different firmware version, or an
// unknown phase all yield a fresh uninitialized record. A record that
// exists but cannot be parsed is an error: the workspace needs operator
// attention, and the remedy is deleting it.
func (s *Store) Load() (Record, error) {
	s.loaded = true
	s.loadErr = nil
	s.rec = s.freshRecord()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return s.rec, nil
	}
	if err != nil {
		s.loadErr = fmt.Errorf("%w: %v", ErrStateUnreadable, err)
		return Record{}, s.loadErr
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		s.loadErr = fmt.Errorf("%w: %s: %v (delete the workspace directory to recover)", ErrStateUnreadable, s.path, err)
		return Record{}, s.loadErr
	}
	if rec.SchemaVersion != stateSchemaVersion || rec.FirmwareVersion != s.version.String() || !rec.Phase.Known() {
		return s.rec, nil
	}
	s.rec = rec
	return s.rec, nil
}

// Phase returns the current phase, loading the record on first use.
func (s *Store) Phase() Phase {
	if err := s.ensureLoaded(); err != nil {
		return PhaseUninitialized
	}
	return s.rec.Phase
}

// Advance moves the record to target, validating the transition, and
// persists it. The write happens strictly after the guarded action
// completed: callers advance only on success.
func (s *Store) Advance(target Phase) error {
	if err := s.ensureLoaded(); err != nil {
		return err
	}
	current := s.rec.Phase
	if !current.CanTransition(target) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, current, target)
	}

	now := s.now().UTC()
	s.rec.History = append(s.rec.History, Transition{
		From:  current,
		To:    target,
		RunID: s.runID,
		At:    now,
	})
	if len(s.rec.History) > historyLimit {
		s.rec.History = s.rec.History[len(s.rec.History)-historyLimit:]
	}
	s.rec.Phase = target
	s.rec.RunID = s.runID
	s.rec.UpdatedAt = now
	return s.save()
}

// Reset discards the in-memory record after the workspace directory was
// destroyed; the next action starts from uninitialized.
func (s *Store) Reset() {
	s.loaded = true
	s.loadErr = nil
	s.rec = s.freshRecord()
}

func (s *Store) ensureLoaded() error {
	if !s.loaded {
		_, err := s.Load()
		return err
	}
	return s.loadErr
}

// Path returns the record location.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) freshRecord() Record {
	return Record{
		SchemaVersion:   stateSchemaVersion,
		Phase:           PhaseUninitialized,
		FirmwareVersion: s.version.String(),
	}
}

// save writes the record atomically: temp file in the same directory,
// then rename.
func (s *Store) save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("workspace: create state directory: %w", err)
	}
	data, err := json.MarshalIndent(s.rec, "", "  ")
	if err != nil {
		return fmt.Errorf("workspace: encode state record: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("workspace: write state record: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("workspace: commit state record: %w", err)
	}
	return nil
}
