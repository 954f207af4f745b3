package prompt

import (
	"strings"
	"testing"
)

func TestDiffSummary(t *testing.T) {
	t.Parallel()
	diff := "diff --git a/a.go b/a.go\n+x\n"
	got := DiffSummary(diff)
	want := "Get a summary of what is changing in the following `git diff` output:\n\n" + diff
	if got != want {
		t.Errorf("DiffSummary = %q, want %q", got, want)
	}
}

func TestDiffSummary_emptyDiff(t *testing.T) {
	t.Parallel()
	if got := DiffSummary(""); got != DiffSummaryInstruction+"\n\n" {
		t.Errorf("DiffSummary(\"\") = %q", got)
	}
}

func TestCommitMessage(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		summaries []string
		want      string
	}{
		{
			name:      "two",
			summaries: []string{"adds x", "fixes y"},
			want:      CommitMessageInstruction + "\nadds x\nfixes y\n\nCommit message: ",
		},
		{
			name:      "none",
			summaries: nil,
			want:      CommitMessageInstruction + "\n\n\nCommit message: ",
		},
		{
			name:      "empty summary kept",
			summaries: []string{"", "b"},
			want:      CommitMessageInstruction + "\n\nb\n\nCommit message: ",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CommitMessage(tt.summaries); got != tt.want {
				t.Errorf("CommitMessage = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCommitMessage_mentionsConventionalCommits(t *testing.T) {
	t.Parallel()
	got := CommitMessage([]string{"s"})
	for _, s := range []string{"Conventional Commits", "40 characters"} {
		if !strings.Contains(got, s) {
			t.Errorf("prompt missing %q", s)
		}
	}
}
