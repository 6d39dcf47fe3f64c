package runner

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ruarxive/apibackuper/pkg/cursor"
)

// Mode selects the archival semantics of a run.
type Mode string

const (
	// ModeFull writes every record returned by the source.
	ModeFull Mode = "full"

	// ModeIncremental skips records already archived by identity.
	ModeIncremental Mode = "incremental"

	// ModeUpdate rewrites records whose change fingerprint differs
	// from the archived version.
	ModeUpdate Mode = "update"
)

// ParseMode validates a mode string from the CLI.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeFull, ModeIncremental, ModeUpdate:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown mode %q (want full, incremental, or update)", s)
	}
}

// Status is the lifecycle state of a run.
type Status string

const (
	StatusRunning     Status = "running"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusInterrupted Status = "interrupted"
)

// ErrNoCheckpoint is returned by Continue when no resumable run state
// exists.
var ErrNoCheckpoint = errors.New("no checkpoint to continue from")

// stateFileName is the checkpoint file inside the storage directory.
const stateFileName = "runstate.json"

// RunState is the durable description of a run. It is persisted after
// every page, so a crash at any point loses at most the page in
// flight.
type RunState struct {
	Mode           Mode            `json:"mode"`
	Status         Status          `json:"status"`
	Cursor         cursor.Position `json:"cursor"`
	RecordsWritten int             `json:"records_written"`
	RecordsSkipped int             `json:"records_skipped"`
	StartedAt      time.Time       `json:"started_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	Error          string          `json:"error,omitempty"`
}

// Resumable reports whether a continue operation can pick this run up.
func (s *RunState) Resumable() bool {
	switch s.Status {
	case StatusInterrupted, StatusFailed:
		return true
	case StatusRunning:
		// A stale running state is the residue of a crash.
		return true
	default:
		return false
	}
}

func statePath(storageDir string) string {
	return filepath.Join(storageDir, stateFileName)
}

// saveState persists the run state durably. The write goes to a
// temporary file that is fsynced and renamed over the old state, so a
// crash never leaves a torn checkpoint.
func saveState(storageDir string, state *RunState) error {
	state.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run state: %w", err)
	}

	path := statePath(storageDir)
	tmp := path + ".tmp"

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("write run state: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write run state: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync run state: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close run state: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace run state: %w", err)
	}
	return nil
}

// loadState reads the checkpointed run state. ErrNoCheckpoint is
// returned when none has been written.
func loadState(storageDir string) (*RunState, error) {
	data, err := os.ReadFile(statePath(storageDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoCheckpoint
		}
		return nil, fmt.Errorf("read run state: %w", err)
	}

	var state RunState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode run state: %w", err)
	}
	return &state, nil
}
