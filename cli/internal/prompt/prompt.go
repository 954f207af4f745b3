// Package prompt builds the two completion prompts: the per-file diff summary
// prompt and the commit message synthesis prompt.
package prompt

import "strings"

const (
	// DiffSummaryInstruction precedes the raw diff of one file.
	DiffSummaryInstruction = "Get a summary of what is changing in the following `git diff` output:"

	// CommitMessageInstruction precedes the per-file summaries, one per line.
	CommitMessageInstruction = "Using the following summaries create a single commit message in the format of Conventional Commits with max of 40 characters:"

	commitMessageCue = "Commit message: "
)

// DiffSummary returns the instruction, a blank line, and diff verbatim.
func DiffSummary(diff string) string {
	return DiffSummaryInstruction + "\n\n" + diff
}

// CommitMessage returns the instruction followed by summaries (one per line)
// and a trailing "Commit message: " cue for the model to complete.
func CommitMessage(summaries []string) string {
	var b strings.Builder
	b.WriteString(CommitMessageInstruction)
	b.WriteString("\n")
	b.WriteString(strings.Join(summaries, "\n"))
	b.WriteString("\n\n")
	b.WriteString(commitMessageCue)
	return b.String()
}
