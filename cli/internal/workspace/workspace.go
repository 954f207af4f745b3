// Package workspace is the set of repositories one invocation operates on.
// Repositories come from explicit paths, a YAML workspace file, or the
// current directory, and are keyed by canonical root path.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"commitai/cli/internal/erruser"
	"commitai/cli/internal/git"
)

// ErrNotFound indicates a path does not name an open repository.
var ErrNotFound = errors.New("repository not in workspace")

// Opener opens the repository containing dir.
type Opener func(ctx context.Context, dir string) (git.Repository, error)

// Workspace holds open repositories in the order they were given, without
// duplicates.
type Workspace struct {
	repos    []git.Repository
	byRoot   map[string]git.Repository
	failures []*OpenError
}

// OpenError records a directory that could not be opened as a repository.
type OpenError struct {
	Dir string
	Err error
}

func (e *OpenError) Error() string { return fmt.Sprintf("%s: %v", e.Dir, e.Err) }

func (e *OpenError) Unwrap() error { return e.Err }

// file is the YAML structure of a workspace file.
type file struct {
	Repositories interface{} `yaml:"repositories"` // string or []string
}

// LoadFile reads a workspace file and returns its repository paths. Relative
// paths are resolved against the file's directory.
func LoadFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, erruser.New(fmt.Sprintf("Could not read workspace file %s.", path), err)
	}
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, erruser.New(fmt.Sprintf("Workspace file %s is not valid YAML.", path), err)
	}
	dirs := normalizePaths(f.Repositories)
	if len(dirs) == 0 {
		return nil, erruser.New(fmt.Sprintf("Workspace file %s lists no repositories.", path), nil)
	}
	base := filepath.Dir(path)
	for i, d := range dirs {
		if !filepath.IsAbs(d) {
			dirs[i] = filepath.Join(base, d)
		}
	}
	return dirs, nil
}

func normalizePaths(v interface{}) []string {
	switch x := v.(type) {
	case string:
		if s := strings.TrimSpace(x); s != "" {
			return []string{s}
		}
	case []interface{}:
		var out []string
		for _, item := range x {
			if s, ok := item.(string); ok {
				if t := strings.TrimSpace(s); t != "" {
					out = append(out, t)
				}
			}
		}
		return out
	}
	return nil
}

// Dirs picks the directories to open: args if any, else the workspace file
// if set, else cwd.
func Dirs(args []string, workspaceFile, cwd string) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}
	if workspaceFile != "" {
		return LoadFile(workspaceFile)
	}
	return []string{cwd}, nil
}

// Open opens every dir with open. Dirs inside the same repository collapse
// to one entry. A dir that fails to open is recorded in Failures and the rest
// are still opened; Open returns an error only when nothing opened.
func Open(ctx context.Context, dirs []string, open Opener) (*Workspace, error) {
	w := &Workspace{byRoot: make(map[string]git.Repository, len(dirs))}
	for _, d := range dirs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		repo, err := open(ctx, d)
		if err != nil {
			w.failures = append(w.failures, &OpenError{Dir: d, Err: err})
			continue
		}
		if _, dup := w.byRoot[repo.Root()]; dup {
			continue
		}
		w.byRoot[repo.Root()] = repo
		w.repos = append(w.repos, repo)
	}
	if len(w.repos) > 0 {
		return w, nil
	}
	if len(w.failures) == 1 {
		// Keep the single cause intact so its user message prints as is.
		return nil, w.failures[0].Err
	}
	var errs *multierror.Error
	for _, f := range w.failures {
		errs = multierror.Append(errs, f)
	}
	return nil, errs.ErrorOrNil()
}

// Failures returns the dirs that could not be opened, in input order.
func (w *Workspace) Failures() []*OpenError {
	out := make([]*OpenError, len(w.failures))
	copy(out, w.failures)
	return out
}

// All returns the repositories in workspace order.
func (w *Workspace) All() []git.Repository {
	out := make([]git.Repository, len(w.repos))
	copy(out, w.repos)
	return out
}

// Lookup returns the repository whose root is path. path is canonicalized
// first, so a symlinked or relative spelling of the root matches.
func (w *Workspace) Lookup(path string) (git.Repository, error) {
	root, err := git.CanonicalPath(path)
	if err != nil {
		return nil, erruser.New(fmt.Sprintf("Repository %s does not exist.", path), errors.Join(ErrNotFound, err))
	}
	repo, ok := w.byRoot[root]
	if !ok {
		return nil, erruser.New(fmt.Sprintf("%s is not a repository root in this workspace.", path), ErrNotFound)
	}
	return repo, nil
}
