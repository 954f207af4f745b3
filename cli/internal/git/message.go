package git

import (
	"os"
	"path/filepath"
	"strings"

	"commitai/cli/internal/erruser"
)

// writeMessage atomically replaces gitDir/MessageFilename with msg plus a newline.
func writeMessage(gitDir, msg string) error {
	path := filepath.Join(gitDir, MessageFilename)
	f, err := os.CreateTemp(gitDir, MessageFilename+".*.tmp")
	if err != nil {
		return erruser.New("Could not write the commit message.", err)
	}
	tmpPath := f.Name()
	defer func() { _ = os.Remove(tmpPath) }()
	if _, err := f.WriteString(strings.TrimRight(msg, "\n") + "\n"); err != nil {
		_ = f.Close()
		return erruser.New("Could not write the commit message.", err)
	}
	if err := f.Close(); err != nil {
		return erruser.New("Could not write the commit message.", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return erruser.New("Could not write the commit message.", err)
	}
	return nil
}

// readMessage returns the pending message without its trailing newline.
func readMessage(gitDir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(gitDir, MessageFilename))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", erruser.New("Could not read the commit message.", err)
	}
	return strings.TrimRight(string(data), "\n"), nil
}

// WriteHookFile writes msg into a prepare-commit-msg/commit-msg file at path,
// keeping whatever git already put there (comments, templates) below it.
func WriteHookFile(path, msg string) error {
	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return erruser.New("Could not read the commit message file.", err)
	}
	content := strings.TrimRight(msg, "\n") + "\n"
	if len(existing) > 0 {
		content += "\n" + string(existing)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return erruser.New("Could not write the commit message file.", err)
	}
	return nil
}
