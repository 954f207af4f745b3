package session

import (
	"fmt"
	"os"
	"path/filepath"
)

// AcquireLock takes the repository lock under stateDir, creating stateDir if
// needed. It never waits: a held lock yields ErrLocked. The returned release
// function unlocks and closes the lock file.
func AcquireLock(stateDir string) (release func(), err error) {
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("repository lock: create state dir: %w", err)
	}
	path := filepath.Join(stateDir, lockFilename)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("repository lock: open %s: %w", path, err)
	}
	if err := lockFile(f); err != nil {
		_ = f.Close()
		return nil, err
	}
	return func() {
		unlockFile(f)
		_ = f.Close()
	}, nil
}
