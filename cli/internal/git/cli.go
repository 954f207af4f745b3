package git

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

// CLIRepository runs the git binary.
type CLIRepository struct {
	root   string
	gitDir string
}

// OpenCLI resolves the repository containing dir with "git rev-parse".
// Returns an error wrapping ErrUnavailable if git is not installed or dir is
// not inside a work tree.
func OpenCLI(ctx context.Context, dir string) (*CLIRepository, error) {
	if _, err := exec.LookPath("git"); err != nil {
		return nil, unavailable("Git is not installed or not on PATH.", err)
	}
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--show-toplevel", "--absolute-git-dir")
	cmd.Dir = dir
	cmd.Env = minimalEnv()
	out, err := cmd.Output()
	if err != nil {
		return nil, unavailable(fmt.Sprintf("%s is not inside a Git repository.", dir), err)
	}
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) != 2 {
		return nil, unavailable(fmt.Sprintf("%s is not inside a Git work tree.", dir), nil)
	}
	root, err := CanonicalPath(strings.TrimSpace(lines[0]))
	if err != nil {
		return nil, unavailable("Could not resolve the repository root.", err)
	}
	gitDir, err := filepath.Abs(strings.TrimSpace(lines[1]))
	if err != nil {
		return nil, unavailable("Could not resolve the git directory.", err)
	}
	return &CLIRepository{root: root, gitDir: gitDir}, nil
}

// Root returns the canonical worktree root.
func (r *CLIRepository) Root() string { return r.root }

// GitDir returns the absolute git directory.
func (r *CLIRepository) GitDir() string { return r.gitDir }

// ChangedFiles runs "git diff --cached --name-only -z --no-renames".
func (r *CLIRepository) ChangedFiles(ctx context.Context) ([]string, error) {
	out, err := r.git(ctx, "diff", "--cached", "--name-only", "-z", "--no-renames")
	if err != nil {
		return nil, err
	}
	return parseNameList(out), nil
}

// Diff runs "git diff --cached" for path only. Pathspecs are literal.
func (r *CLIRepository) Diff(ctx context.Context, path string) (string, error) {
	return r.git(ctx, "diff", "--cached", "--no-color", "--no-ext-diff", "--no-renames", "--", path)
}

// SetInputMessage replaces GitDir()/COMMITAI_EDITMSG.
func (r *CLIRepository) SetInputMessage(ctx context.Context, msg string) error {
	return writeMessage(r.gitDir, msg)
}

// InputMessage reads GitDir()/COMMITAI_EDITMSG.
func (r *CLIRepository) InputMessage(ctx context.Context) (string, error) {
	return readMessage(r.gitDir)
}

func (r *CLIRepository) git(ctx context.Context, args ...string) (string, error) {
	full := append([]string{"--literal-pathspecs"}, args...)
	cmd := exec.CommandContext(ctx, "git", full...)
	cmd.Dir = r.root
	cmd.Env = minimalEnv()
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return string(out), nil
}

// parseNameList splits NUL-terminated "git diff -z --name-only" output.
func parseNameList(out string) []string {
	var paths []string
	for _, p := range strings.Split(out, "\x00") {
		if p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}
