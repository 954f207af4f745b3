package git

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/filesystem"
	"github.com/pmezard/go-difflib/difflib"
)

// diffContext is the number of unchanged lines around each hunk, as git uses by default.
const diffContext = 3

// binarySniffLen bounds the NUL-byte scan used to classify blobs as binary.
const binarySniffLen = 8000

// GoGitRepository reads the index and HEAD with go-git and renders diffs
// itself. It needs no git binary.
type GoGitRepository struct {
	repo   *gogit.Repository
	root   string
	gitDir string
}

// OpenGoGit opens the repository containing dir, searching parent directories.
func OpenGoGit(dir string) (*GoGitRepository, error) {
	repo, err := gogit.PlainOpenWithOptions(dir, &gogit.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, unavailable(fmt.Sprintf("%s is not inside a Git repository.", dir), err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, unavailable(fmt.Sprintf("%s has no work tree.", dir), err)
	}
	root, err := CanonicalPath(wt.Filesystem.Root())
	if err != nil {
		return nil, unavailable("Could not resolve the repository root.", err)
	}
	storage, ok := repo.Storer.(*filesystem.Storage)
	if !ok {
		return nil, unavailable("Repository storage is not on disk.", nil)
	}
	return &GoGitRepository{repo: repo, root: root, gitDir: storage.Filesystem().Root()}, nil
}

// Root returns the canonical worktree root.
func (r *GoGitRepository) Root() string { return r.root }

// GitDir returns the git directory.
func (r *GoGitRepository) GitDir() string { return r.gitDir }

type blobRef struct {
	hash plumbing.Hash
	mode filemode.FileMode
}

// ChangedFiles compares index entries with the HEAD tree. An unborn HEAD
// counts as an empty tree. Paths with unresolved conflicts are listed once.
func (r *GoGitRepository) ChangedFiles(ctx context.Context) ([]string, error) {
	head, err := r.headFiles()
	if err != nil {
		return nil, err
	}
	staged, unmerged, err := r.indexFiles()
	if err != nil {
		return nil, err
	}
	var paths []string
	for p, s := range staged {
		if h, ok := head[p]; !ok || h != s {
			paths = append(paths, p)
		}
	}
	for p := range unmerged {
		paths = append(paths, p)
	}
	for p := range head {
		if _, ok := staged[p]; !ok && !unmerged[p] {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	return paths, ctx.Err()
}

// Diff renders a git-style unified diff of path between HEAD and the index.
// Returns "" when path is unchanged. A conflicted path renders the way
// git diff --cached reports it.
func (r *GoGitRepository) Diff(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	head, err := r.headFiles()
	if err != nil {
		return "", err
	}
	staged, unmerged, err := r.indexFiles()
	if err != nil {
		return "", err
	}
	if unmerged[path] {
		return fmt.Sprintf("* Unmerged path %s\n", path), nil
	}
	oldRef, inHead := head[path]
	newRef, inIndex := staged[path]
	if (!inHead && !inIndex) || (inHead && inIndex && oldRef == newRef) {
		return "", nil
	}
	var oldData, newData []byte
	if inHead {
		if oldData, err = r.blob(oldRef.hash); err != nil {
			return "", err
		}
	}
	if inIndex {
		if newData, err = r.blob(newRef.hash); err != nil {
			return "", err
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "diff --git a/%s b/%s\n", path, path)
	from, to := "a/"+path, "b/"+path
	switch {
	case !inHead:
		fmt.Fprintf(&b, "new file mode %o\n", uint32(newRef.mode))
		from = "/dev/null"
	case !inIndex:
		fmt.Fprintf(&b, "deleted file mode %o\n", uint32(oldRef.mode))
		to = "/dev/null"
	case oldRef.mode != newRef.mode:
		fmt.Fprintf(&b, "old mode %o\nnew mode %o\n", uint32(oldRef.mode), uint32(newRef.mode))
	}
	if isBinary(oldData) || isBinary(newData) {
		if oldRef.hash != newRef.hash {
			fmt.Fprintf(&b, "Binary files %s and %s differ\n", from, to)
		}
		return b.String(), nil
	}
	body, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        splitLines(string(oldData)),
		B:        splitLines(string(newData)),
		FromFile: from,
		ToFile:   to,
		Context:  diffContext,
	})
	if err != nil {
		return "", fmt.Errorf("render diff %s: %w", path, err)
	}
	b.WriteString(body)
	return b.String(), nil
}

// SetInputMessage replaces GitDir()/COMMITAI_EDITMSG.
func (r *GoGitRepository) SetInputMessage(ctx context.Context, msg string) error {
	return writeMessage(r.gitDir, msg)
}

// InputMessage reads GitDir()/COMMITAI_EDITMSG.
func (r *GoGitRepository) InputMessage(ctx context.Context) (string, error) {
	return readMessage(r.gitDir)
}

func (r *GoGitRepository) headFiles() (map[string]blobRef, error) {
	files := make(map[string]blobRef)
	ref, err := r.repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return files, nil
		}
		return nil, fmt.Errorf("resolve HEAD: %w", err)
	}
	commit, err := r.repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("read HEAD commit: %w", err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("read HEAD tree: %w", err)
	}
	err = tree.Files().ForEach(func(f *object.File) error {
		files[f.Name] = blobRef{hash: f.Hash, mode: f.Mode}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk HEAD tree: %w", err)
	}
	return files, nil
}

// indexFiles returns the stage-0 entries and the set of paths that still
// carry conflict stages (1-3).
func (r *GoGitRepository) indexFiles() (map[string]blobRef, map[string]bool, error) {
	idx, err := r.repo.Storer.Index()
	if err != nil {
		return nil, nil, fmt.Errorf("read index: %w", err)
	}
	files := make(map[string]blobRef, len(idx.Entries))
	unmerged := make(map[string]bool)
	for _, e := range idx.Entries {
		if e.Stage != 0 {
			unmerged[e.Name] = true
			continue
		}
		if e.IntentToAdd || e.Mode == filemode.Submodule {
			continue
		}
		files[e.Name] = blobRef{hash: e.Hash, mode: e.Mode}
	}
	for p := range unmerged {
		delete(files, p)
	}
	return files, unmerged, nil
}

func (r *GoGitRepository) blob(h plumbing.Hash) ([]byte, error) {
	blob, err := r.repo.BlobObject(h)
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", h, err)
	}
	rd, err := blob.Reader()
	if err != nil {
		return nil, fmt.Errorf("open blob %s: %w", h, err)
	}
	defer rd.Close()
	return io.ReadAll(rd)
}

func isBinary(data []byte) bool {
	if len(data) > binarySniffLen {
		data = data[:binarySniffLen]
	}
	for _, c := range data {
		if c == 0 {
			return true
		}
	}
	return false
}

// splitLines splits s into lines that keep their "\n". A final line without
// one gets it added so hunks render cleanly. Empty input yields no lines.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	} else {
		lines[len(lines)-1] += "\n"
	}
	return lines
}
