// Package state holds the engine's persisted control state: the quota
// window and the backup run history. The state file is replaced
// atomically so a crash never leaves it half-written.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/docvault/docvault/internal/quota"
)

type Mode string

const (
	ModeFull   Mode = "full"
	ModeSync   Mode = "sync"
	ModeDBOnly Mode = "db-only"
)

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomePartial Outcome = "partial-failure"
	OutcomeFailed  Outcome = "failed"
)

// RunRecord is the durable summary of one backup run. It is appended
// at run start with a zero FinishedAt and finalized at run end; an
// unfinalized record found later means that run crashed.
type RunRecord struct {
	ID         string    `json:"id"`
	Mode       Mode      `json:"mode"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	Outcome    Outcome   `json:"outcome,omitempty"`

	Added    int `json:"added"`
	Updated  int `json:"updated"`
	Deleted  int `json:"deleted"`
	Failed   int `json:"failed"`
	Deferred int `json:"deferred"`
	ScanErrs int `json:"scan_errors"`

	BytesTransferred int64 `json:"bytes_transferred"`

	DBArtifact string `json:"db_artifact,omitempty"`
	DBError    string `json:"db_error,omitempty"`
}

func (r *RunRecord) Finalized() bool {
	return !r.FinishedAt.IsZero()
}

// ControlState is everything the engine owns across runs.
type ControlState struct {
	Quota        quota.State `json:"quota"`
	DeferredFull bool        `json:"deferred_full"`
	Runs         []RunRecord `json:"runs"`
}

// maxHistory bounds the persisted run history. Trimming never drops
// the most recent successful full run (the scheduler's cadence anchor).
const maxHistory = 200

// Load reads the control state from path. A missing file yields a
// zero state, not an error: the first run starts from nothing.
func Load(path string) (*ControlState, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &ControlState{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state: %w", err)
	}

	var st ControlState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to parse state %s: %w", path, err)
	}
	return &st, nil
}

// Save writes the state via a temp file and rename so readers never
// observe a partial write.
func (s *ControlState) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create state dir: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to stage state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace state: %w", err)
	}
	return nil
}

// NewRun appends a fresh unfinalized record and returns a pointer into
// the history slice so callers finalize it in place.
func (s *ControlState) NewRun(mode Mode, now time.Time) *RunRecord {
	s.Runs = append(s.Runs, RunRecord{
		ID:        uuid.NewString(),
		Mode:      mode,
		StartedAt: now,
	})
	return &s.Runs[len(s.Runs)-1]
}

// FinalizeStale closes out records left unfinalized by a crashed run,
// marking them Failed. Returns how many were closed.
func (s *ControlState) FinalizeStale(now time.Time) int {
	n := 0
	for i := range s.Runs {
		if !s.Runs[i].Finalized() {
			s.Runs[i].FinishedAt = now
			s.Runs[i].Outcome = OutcomeFailed
			n++
		}
	}
	return n
}

// LastSuccessfulFull returns the most recent full run that succeeded,
// or nil if none exists.
func (s *ControlState) LastSuccessfulFull() *RunRecord {
	for i := len(s.Runs) - 1; i >= 0; i-- {
		r := &s.Runs[i]
		if r.Mode == ModeFull && r.Outcome == OutcomeSuccess {
			return r
		}
	}
	return nil
}

// Trim drops the oldest history beyond maxHistory while preserving the
// last successful full run.
func (s *ControlState) Trim() {
	if len(s.Runs) <= maxHistory {
		return
	}

	keepFull := s.LastSuccessfulFull()
	cut := len(s.Runs) - maxHistory
	trimmed := make([]RunRecord, 0, maxHistory+1)
	if keepFull != nil && keepFull.StartedAt.Before(s.Runs[cut].StartedAt) {
		trimmed = append(trimmed, *keepFull)
	}
	trimmed = append(trimmed, s.Runs[cut:]...)
	s.Runs = trimmed
}
