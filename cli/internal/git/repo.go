// Package git is the version-control collaborator: it lists a repository's
// staged changes, returns one path's staged diff, and owns the repository's
// pending commit message.
//
// Two backends implement Repository: the git binary (BackendCLI) and go-git
// (BackendGoGit). Both report changes of the index against HEAD with renames
// disabled, so every path is diffed on its own.
package git

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"commitai/cli/internal/erruser"
)

// ErrUnavailable indicates git could not be used for a directory: the git
// binary is missing, or the directory is not inside a repository.
var ErrUnavailable = errors.New("git unavailable")

// Backend names accepted by Open.
const (
	BackendCLI   = "cli"
	BackendGoGit = "go-git"
)

// MessageFilename is the pending commit message file inside the git dir.
// Use it with "git commit -F .git/COMMITAI_EDITMSG" or a prepare-commit-msg hook.
const MessageFilename = "COMMITAI_EDITMSG"

// Repository exposes what the pipeline needs from one repository.
type Repository interface {
	// Root is the canonical (absolute, symlink-resolved) worktree root.
	Root() string
	// GitDir is the absolute .git directory.
	GitDir() string
	// ChangedFiles lists staged paths (slash separated, relative to Root) in path order.
	ChangedFiles(ctx context.Context) ([]string, error)
	// Diff returns the staged unified diff of path against HEAD.
	Diff(ctx context.Context, path string) (string, error)
	// SetInputMessage replaces the pending commit message.
	SetInputMessage(ctx context.Context, msg string) error
	// InputMessage returns the pending commit message, or "" if none.
	InputMessage(ctx context.Context) (string, error)
}

// Open opens the repository containing dir with the named backend ("" means BackendCLI).
func Open(ctx context.Context, dir, backend string) (Repository, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendCLI:
		return OpenCLI(ctx, dir)
	case BackendGoGit:
		return OpenGoGit(dir)
	default:
		return nil, erruser.New(fmt.Sprintf("Unknown git backend %q; use %s or %s.", backend, BackendCLI, BackendGoGit), nil)
	}
}

// CanonicalPath returns the absolute, symlink-resolved form of p. Repository
// lookups compare only canonical paths.
func CanonicalPath(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", err
	}
	return filepath.Clean(resolved), nil
}

func unavailable(msg string, err error) error {
	if err == nil {
		err = ErrUnavailable
	} else {
		err = errors.Join(ErrUnavailable, err)
	}
	return erruser.New(msg, err)
}

func minimalEnv() []string {
	env := []string{
		"PATH=" + os.Getenv("PATH"),
		"GIT_TERMINAL_PROMPT=0",
		"GIT_PAGER=cat", // prevent pager; subprocess output is captured
		"LC_ALL=C",
	}
	if home := os.Getenv("HOME"); home != "" {
		env = append(env, "HOME="+home)
	} else if runtime.GOOS == "windows" {
		if profile := os.Getenv("USERPROFILE"); profile != "" {
			env = append(env, "HOME="+profile)
		}
	}
	return env
}

// MinimalEnv returns the environment used for git subprocesses. Exported for tests.
func MinimalEnv() []string {
	return minimalEnv()
}
