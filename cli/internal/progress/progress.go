// Package progress prints pipeline progress lines to stderr. A Printer with a
// nil writer prints nothing, which is how --quiet is implemented.
package progress

import (
	"fmt"
	"io"
	"sync"
)

// Printer implements pipeline.Observer. Safe for concurrent use.
type Printer struct {
	mu     sync.Mutex
	w      io.Writer
	totals map[string]int
	done   map[string]int
}

// New returns a Printer writing to w. If w is nil, all methods no-op.
func New(w io.Writer) *Printer {
	return &Printer{w: w, totals: make(map[string]int), done: make(map[string]int)}
}

// Enabled reports whether the printer has a writer.
func (p *Printer) Enabled() bool {
	return p != nil && p.w != nil
}

// RepositoryStarted prints the number of staged files about to be summarized.
func (p *Printer) RepositoryStarted(root string, files []string) {
	if !p.Enabled() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.totals[root] = len(files)
	p.done[root] = 0
	if len(files) == 0 {
		fmt.Fprintf(p.w, "[commitai] %s: no staged changes\n", root)
		return
	}
	fmt.Fprintf(p.w, "[commitai] %s: summarizing %d staged %s\n", root, len(files), plural(len(files), "file", "files"))
}

// FileSummarized prints "[n/total] path" in completion order.
func (p *Printer) FileSummarized(root, path string, index int) {
	if !p.Enabled() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done[root]++
	fmt.Fprintf(p.w, "[commitai]   [%d/%d] %s\n", p.done[root], p.totals[root], path)
}

// MessageSynthesized prints that the commit message is ready.
func (p *Printer) MessageSynthesized(root, msg string) {
	if !p.Enabled() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "[commitai] %s: commit message ready\n", root)
}

// RepositoryFailed prints the repository's error.
func (p *Printer) RepositoryFailed(root string, err error) {
	if !p.Enabled() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.totals, root)
	delete(p.done, root)
	fmt.Fprintf(p.w, "[commitai] %s: failed: %v\n", root, err)
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
