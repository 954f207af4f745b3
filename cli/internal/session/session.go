// Package session holds per-repository run state under <git-dir>/commitai:
// an advisory lock so one generation runs per repository at a time, and
// last_run.json describing the most recent generation.
package session

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"commitai/cli/internal/erruser"
)

// ErrLocked indicates the repository lock is already held (e.g. another commitai generate).
var ErrLocked = errors.New("generation already running")

const (
	stateDirname   = "commitai"
	recordFilename = "last_run.json"
	lockFilename   = "lock"
)

// StateDir returns the state directory for a repository's git dir.
func StateDir(gitDir string) string {
	return filepath.Join(gitDir, stateDirname)
}

// Record describes one completed generation. Stored at stateDir/last_run.json.
type Record struct {
	RunID       string    `json:"run_id"`
	GeneratedAt time.Time `json:"generated_at"`
	Root        string    `json:"root"`
	Files       []string  `json:"files,omitempty"`
	Message     string    `json:"message"`
}

// Load reads stateDir/last_run.json. A missing file yields a zero Record and
// nil error. Load does not create stateDir.
func Load(stateDir string) (Record, error) {
	data, err := os.ReadFile(filepath.Join(stateDir, recordFilename))
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, nil
		}
		return Record{}, erruser.New("Could not read the last run record.", err)
	}
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return Record{}, erruser.New("Last run record is invalid or corrupted.", err)
	}
	return r, nil
}

// Save writes r to stateDir/last_run.json, creating stateDir if needed.
// Uses temp file then rename.
func Save(stateDir string, r *Record) error {
	if r == nil {
		return erruser.New("Cannot save nil run record.", nil)
	}
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return erruser.New("Could not create the state directory.", err)
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return erruser.New("Could not save the run record.", err)
	}
	f, err := os.CreateTemp(stateDir, "last_run.*.tmp")
	if err != nil {
		return erruser.New("Could not save the run record.", err)
	}
	tmpPath := f.Name()
	defer func() { _ = os.Remove(tmpPath) }()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return erruser.New("Could not save the run record.", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return erruser.New("Could not save the run record.", err)
	}
	if err := f.Close(); err != nil {
		return erruser.New("Could not save the run record.", err)
	}
	if err := os.Rename(tmpPath, filepath.Join(stateDir, recordFilename)); err != nil {
		return erruser.New("Could not save the run record.", err)
	}
	return nil
}
