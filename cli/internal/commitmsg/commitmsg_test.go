package commitmsg

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"commitai/cli/internal/openai"
	"commitai/cli/internal/prompt"
)

type fakeCompleter struct {
	text      string
	finish    string
	err       error
	prompts   []string
	maxTokens []int
}

func (f *fakeCompleter) Complete(ctx context.Context, p string, maxTokens int) (openai.Completion, error) {
	f.prompts = append(f.prompts, p)
	f.maxTokens = append(f.maxTokens, maxTokens)
	if f.err != nil {
		return openai.Completion{}, f.err
	}
	return openai.Completion{Text: f.text, FinishReason: f.finish}, nil
}

func TestSynthesize_returnsCompletion(t *testing.T) {
	t.Parallel()
	fc := &fakeCompleter{text: "feat: add parser"}
	got, err := New(fc, nil).Synthesize(context.Background(), []string{"adds parser", "adds tests"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if got != "feat: add parser" {
		t.Errorf("Synthesize = %q", got)
	}
	if len(fc.prompts) != 1 {
		t.Fatalf("calls = %d, want 1", len(fc.prompts))
	}
	if fc.prompts[0] != prompt.CommitMessage([]string{"adds parser", "adds tests"}) {
		t.Errorf("prompt = %q", fc.prompts[0])
	}
	if fc.maxTokens[0] != MaxTokens {
		t.Errorf("maxTokens = %d, want %d", fc.maxTokens[0], MaxTokens)
	}
}

func TestSynthesize_emptyCompletion_returnsFallback(t *testing.T) {
	t.Parallel()
	got, err := New(&fakeCompleter{text: ""}, nil).Synthesize(context.Background(), []string{"x"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if got != Fallback {
		t.Errorf("Synthesize = %q, want fallback", got)
	}
}

func TestSynthesize_noSummaries_stillCallsOnce(t *testing.T) {
	t.Parallel()
	fc := &fakeCompleter{text: "chore: nothing"}
	got, err := New(fc, nil).Synthesize(context.Background(), nil)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if got != "chore: nothing" || len(fc.prompts) != 1 {
		t.Errorf("Synthesize = %q after %d calls", got, len(fc.prompts))
	}
	if !strings.HasSuffix(fc.prompts[0], "Commit message: ") {
		t.Errorf("prompt = %q", fc.prompts[0])
	}
}

func TestSynthesize_propagatesError(t *testing.T) {
	t.Parallel()
	cause := &openai.RequestError{Op: "completion", StatusCode: 500, Err: openai.ErrUnreachable}
	_, err := New(&fakeCompleter{err: cause}, nil).Synthesize(context.Background(), []string{"x"})
	if !errors.Is(err, openai.ErrUnreachable) {
		t.Errorf("err = %v, want ErrUnreachable", err)
	}
}

func TestSynthesize_nilClient(t *testing.T) {
	t.Parallel()
	if _, err := New(nil, nil).Synthesize(context.Background(), nil); err == nil {
		t.Error("want error for nil client")
	}
	var s *Synthesizer
	if _, err := s.Synthesize(context.Background(), nil); err == nil {
		t.Error("want error for nil synthesizer")
	}
}

func TestSynthesize_logsBudgetCut(t *testing.T) {
	t.Parallel()
	core, logs := observer.New(zapcore.DebugLevel)
	fc := &fakeCompleter{text: "feat: add a very long", finish: "length"}
	if _, err := New(fc, zap.New(core)).Synthesize(context.Background(), []string{"x"}); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if logs.FilterMessage("commit message received").Len() != 1 {
		t.Error("want one usage entry")
	}
	if logs.FilterMessage("commit message cut at token budget").Len() != 1 {
		t.Error("want a budget entry when finish_reason is length")
	}
}
