// Package pipeline orchestrates commit message generation for a set of
// repositories: check the credential once, then per repository summarize
// every staged file's diff concurrently, synthesize one message from the
// summaries in file order, and write it as the pending commit message.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"commitai/cli/internal/credential"
	"commitai/cli/internal/erruser"
	"commitai/cli/internal/git"
	"commitai/cli/internal/logging"
	"commitai/cli/internal/session"
)

// DefaultConcurrency caps in-flight summaries per repository.
const DefaultConcurrency = 4

// Gate reports whether a credential is present.
type Gate interface {
	Has(ctx context.Context) (bool, error)
}

// Summarizer turns one file's diff into a summary.
type Summarizer interface {
	Summarize(ctx context.Context, diff string) (string, error)
}

// Synthesizer turns ordered summaries into one commit message.
type Synthesizer interface {
	Synthesize(ctx context.Context, summaries []string) (string, error)
}

// Observer receives progress events. FileSummarized is called from worker
// goroutines, so implementations must be safe for concurrent use.
type Observer interface {
	RepositoryStarted(root string, files []string)
	FileSummarized(root, path string, index int)
	MessageSynthesized(root, msg string)
	RepositoryFailed(root string, err error)
}

type nopObserver struct{}

func (nopObserver) RepositoryStarted(string, []string) {}
func (nopObserver) FileSummarized(string, string, int) {}
func (nopObserver) MessageSynthesized(string, string)  {}
func (nopObserver) RepositoryFailed(string, error)     {}

// Options configures a Pipeline. Zero values select defaults.
type Options struct {
	// Concurrency caps concurrent summaries per repository. 0 means
	// DefaultConcurrency; negative means unlimited.
	Concurrency int
	Observer    Observer
	Logger      *zap.Logger
	// SkipLock disables the per-repository lock and run record.
	SkipLock bool
	// Now and NewRunID are overridable for tests.
	Now      func() time.Time
	NewRunID func() string
}

// Pipeline runs generation. It holds no state between runs.
type Pipeline struct {
	gate        Gate
	summarizer  Summarizer
	synthesizer Synthesizer
	concurrency int
	observer    Observer
	log         *zap.Logger
	skipLock    bool
	now         func() time.Time
	newRunID    func() string
}

// Result is one repository's outcome. Summaries[i] belongs to Files[i].
type Result struct {
	RunID     string
	Root      string
	Files     []string
	Summaries []string
	Message   string
}

// RepositoryError is a failure scoped to one repository.
type RepositoryError struct {
	Root string
	Err  error
}

func (e *RepositoryError) Error() string { return fmt.Sprintf("%s: %v", e.Root, e.Err) }

func (e *RepositoryError) Unwrap() error { return e.Err }

// New returns a Pipeline. gate, summarizer and synthesizer are required.
func New(gate Gate, summarizer Summarizer, synthesizer Synthesizer, opts Options) *Pipeline {
	p := &Pipeline{
		gate:        gate,
		summarizer:  summarizer,
		synthesizer: synthesizer,
		concurrency: opts.Concurrency,
		observer:    opts.Observer,
		log:         logging.OrNop(opts.Logger),
		skipLock:    opts.SkipLock,
		now:         opts.Now,
		newRunID:    opts.NewRunID,
	}
	if p.concurrency == 0 {
		p.concurrency = DefaultConcurrency
	}
	if p.observer == nil {
		p.observer = nopObserver{}
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.newRunID == nil {
		p.newRunID = func() string { return uuid.New().String() }
	}
	return p
}

// Run generates and writes the commit message for one repository. The
// credential is checked first; when absent nothing else happens.
func (p *Pipeline) Run(ctx context.Context, repo git.Repository) (Result, error) {
	if err := p.checkCredential(ctx); err != nil {
		return Result{}, err
	}
	res, err := p.runRepository(ctx, repo)
	if err != nil {
		p.observer.RepositoryFailed(repo.Root(), err)
		return Result{}, &RepositoryError{Root: repo.Root(), Err: err}
	}
	return res, nil
}

// RunAll checks the credential once, then runs each repository in order. A
// repository's failure does not stop the others; failures are returned
// together as a *multierror.Error of *RepositoryError.
func (p *Pipeline) RunAll(ctx context.Context, repos []git.Repository) ([]Result, error) {
	if err := p.checkCredential(ctx); err != nil {
		return nil, err
	}
	var (
		results []Result
		errs    *multierror.Error
	)
	for _, repo := range repos {
		if err := ctx.Err(); err != nil {
			errs = multierror.Append(errs, &RepositoryError{Root: repo.Root(), Err: err})
			continue
		}
		res, err := p.runRepository(ctx, repo)
		if err != nil {
			p.observer.RepositoryFailed(repo.Root(), err)
			errs = multierror.Append(errs, &RepositoryError{Root: repo.Root(), Err: err})
			continue
		}
		results = append(results, res)
	}
	if errs != nil {
		errs.ErrorFormat = formatErrors
	}
	return results, errs.ErrorOrNil()
}

func formatErrors(errs []error) string {
	if len(errs) == 1 {
		return errs[0].Error()
	}
	lines := make([]string, 0, len(errs)+1)
	lines = append(lines, fmt.Sprintf("%d repositories failed:", len(errs)))
	for _, err := range errs {
		lines = append(lines, "  "+err.Error())
	}
	return strings.Join(lines, "\n")
}

func (p *Pipeline) checkCredential(ctx context.Context) error {
	if p.gate == nil {
		return credential.ErrNotInitialized
	}
	ok, err := p.gate.Has(ctx)
	if err != nil {
		return erruser.New("Could not read the stored API key.", err)
	}
	if !ok {
		return credential.MissingError()
	}
	return nil
}

func (p *Pipeline) runRepository(ctx context.Context, repo git.Repository) (Result, error) {
	root := repo.Root()
	runID := p.newRunID()
	log := p.log.With(zap.String("repo", root), zap.String("run_id", runID))

	stateDir := session.StateDir(repo.GitDir())
	if !p.skipLock {
		release, err := session.AcquireLock(stateDir)
		if err != nil {
			if errors.Is(err, session.ErrLocked) {
				return Result{}, erruser.New("Another commitai run is generating a message for this repository.", err)
			}
			return Result{}, err
		}
		defer release()
	}

	files, err := repo.ChangedFiles(ctx)
	if err != nil {
		return Result{}, erruser.New("Could not list staged changes.", err)
	}
	log.Debug("changed files", zap.Int("count", len(files)))
	p.observer.RepositoryStarted(root, files)

	summaries, err := p.summarizeAll(ctx, repo, files)
	if err != nil {
		return Result{}, err
	}

	msg, err := p.synthesizer.Synthesize(ctx, summaries)
	if err != nil {
		return Result{}, fmt.Errorf("synthesize commit message: %w", err)
	}
	p.observer.MessageSynthesized(root, msg)

	if err := repo.SetInputMessage(ctx, msg); err != nil {
		return Result{}, err
	}
	log.Debug("commit message written", zap.String("message", msg))

	res := Result{RunID: runID, Root: root, Files: files, Summaries: summaries, Message: msg}
	if !p.skipLock {
		rec := session.Record{RunID: runID, GeneratedAt: p.now().UTC(), Root: root, Files: files, Message: msg}
		if err := session.Save(stateDir, &rec); err != nil {
			log.Warn("could not save run record", zap.Error(err))
		}
	}
	return res, nil
}

// summarizeAll diffs and summarizes files concurrently. summaries[i] always
// belongs to files[i]; the first error cancels the remaining work.
func (p *Pipeline) summarizeAll(ctx context.Context, repo git.Repository, files []string) ([]string, error) {
	summaries := make([]string, len(files))
	if len(files) == 0 {
		return summaries, nil
	}
	root := repo.Root()
	g, gctx := errgroup.WithContext(ctx)
	if p.concurrency > 0 {
		g.SetLimit(p.concurrency)
	}
	for i, path := range files {
		g.Go(func() error {
			diff, err := repo.Diff(gctx, path)
			if err != nil {
				return fmt.Errorf("diff %s: %w", path, err)
			}
			summary, err := p.summarizer.Summarize(gctx, diff)
			if err != nil {
				return fmt.Errorf("summarize %s: %w", path, err)
			}
			summaries[i] = summary
			p.observer.FileSummarized(root, path, i)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return summaries, nil
}
