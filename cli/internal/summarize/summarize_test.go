package summarize

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"commitai/cli/internal/openai"
	"commitai/cli/internal/prompt"
	"commitai/cli/internal/tokens"
)

type fakeCompleter struct {
	mu        sync.Mutex
	text      string
	finish    string
	err       error
	prompts   []string
	maxTokens []int
}

func (f *fakeCompleter) Complete(ctx context.Context, p string, maxTokens int) (openai.Completion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, p)
	f.maxTokens = append(f.maxTokens, maxTokens)
	if f.err != nil {
		return openai.Completion{}, f.err
	}
	return openai.Completion{Text: f.text, FinishReason: f.finish, PromptTokens: 12, CompletionTokens: 3}, nil
}

func TestSummarize_promptAndBudget(t *testing.T) {
	t.Parallel()
	fc := &fakeCompleter{text: "Adds x to a.ts"}
	got, err := New(fc, Options{}).Summarize(context.Background(), "+x")
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if got != "Adds x to a.ts" {
		t.Errorf("Summarize = %q", got)
	}
	if fc.prompts[0] != prompt.DiffSummary("+x") {
		t.Errorf("prompt = %q", fc.prompts[0])
	}
	if fc.maxTokens[0] != MaxTokens {
		t.Errorf("maxTokens = %d, want %d", fc.maxTokens[0], MaxTokens)
	}
}

func TestSummarize_emptyCompletion_returnsEmpty(t *testing.T) {
	t.Parallel()
	got, err := New(&fakeCompleter{}, Options{}).Summarize(context.Background(), "+x")
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if got != "" {
		t.Errorf("Summarize = %q, want empty", got)
	}
}

func TestSummarize_truncatesLargeDiff(t *testing.T) {
	t.Parallel()
	fc := &fakeCompleter{text: "s"}
	core, logs := observer.New(zapcore.DebugLevel)
	diff := strings.Repeat("+line of code\n", 1000)
	_, err := New(fc, Options{MaxDiffTokens: 100, Logger: zap.New(core)}).Summarize(context.Background(), diff)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	p := fc.prompts[0]
	if !strings.HasSuffix(p, tokens.TruncationMarker) {
		t.Errorf("prompt should end with truncation marker")
	}
	if body := strings.TrimPrefix(p, prompt.DiffSummaryInstruction+"\n\n"); tokens.Estimate(body) > 100+10 {
		t.Errorf("truncated diff estimate = %d, want about 100", tokens.Estimate(body))
	}
	if logs.FilterMessage("diff truncated").Len() != 1 {
		t.Errorf("want one 'diff truncated' log entry, got %d", logs.FilterMessage("diff truncated").Len())
	}
}

func TestSummarize_negativeMaxDisablesTruncation(t *testing.T) {
	t.Parallel()
	fc := &fakeCompleter{text: "s"}
	core, logs := observer.New(zapcore.WarnLevel)
	diff := strings.Repeat("+line of code\n", 2000)
	if _, err := New(fc, Options{MaxDiffTokens: -1, Logger: zap.New(core)}).Summarize(context.Background(), diff); err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if fc.prompts[0] != prompt.DiffSummary(diff) {
		t.Error("diff should be passed verbatim when truncation is disabled")
	}
	if logs.FilterMessage("summary prompt near context limit").Len() != 1 {
		t.Error("want a context-limit warning for an oversized prompt")
	}
}

func TestSummarize_propagatesError(t *testing.T) {
	t.Parallel()
	cause := &openai.RequestError{Op: "completion", Err: openai.ErrUnreachable}
	_, err := New(&fakeCompleter{err: cause}, Options{}).Summarize(context.Background(), "+x")
	var rerr *openai.RequestError
	if !errors.As(err, &rerr) {
		t.Errorf("err = %v, want *openai.RequestError", err)
	}
}

func TestSummarize_nilClient(t *testing.T) {
	t.Parallel()
	if _, err := New(nil, Options{}).Summarize(context.Background(), "+x"); err == nil {
		t.Error("want error for nil client")
	}
}

func TestSummarize_logsUsage(t *testing.T) {
	t.Parallel()
	core, logs := observer.New(zapcore.DebugLevel)
	fc := &fakeCompleter{text: "s", finish: "length"}
	if _, err := New(fc, Options{Logger: zap.New(core)}).Summarize(context.Background(), "+x"); err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	got := logs.FilterMessage("summary received").All()
	if len(got) != 1 {
		t.Fatalf("want one usage entry, got %d", len(got))
	}
	fields := got[0].ContextMap()
	if fields["finish_reason"] != "length" || fields["prompt_tokens"] != int64(12) || fields["completion_tokens"] != int64(3) {
		t.Errorf("usage fields = %v", fields)
	}
	if logs.FilterMessage("summary cut at token budget").Len() != 1 {
		t.Error("want a budget entry when finish_reason is length")
	}
}
