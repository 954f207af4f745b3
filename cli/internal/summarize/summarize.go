// Package summarize produces a short natural-language summary of one file's
// diff using the completion endpoint.
package summarize

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"commitai/cli/internal/logging"
	"commitai/cli/internal/openai"
	"commitai/cli/internal/prompt"
	"commitai/cli/internal/tokens"
)

// MaxTokens is the completion budget for one summary, regardless of diff size.
const MaxTokens = 500

// DefaultMaxDiffTokens caps the estimated size of a diff placed in the prompt.
const DefaultMaxDiffTokens = 3000

// warnThreshold is the fraction of openai.ContextLimit at which a warning is logged.
const warnThreshold = 0.9

// Completer is the part of *openai.Client the summarizer needs.
type Completer interface {
	Complete(ctx context.Context, prompt string, maxTokens int) (openai.Completion, error)
}

// Options configures New. Zero value means defaults.
type Options struct {
	// MaxDiffTokens caps the diff (estimated tokens). 0 means DefaultMaxDiffTokens;
	// negative disables truncation.
	MaxDiffTokens int
	Logger        *zap.Logger
}

// Summarizer summarizes diffs.
type Summarizer struct {
	client        Completer
	maxDiffTokens int
	log           *zap.Logger
}

// New returns a Summarizer using client.
func New(client Completer, opts Options) *Summarizer {
	max := opts.MaxDiffTokens
	if max == 0 {
		max = DefaultMaxDiffTokens
	}
	return &Summarizer{client: client, maxDiffTokens: max, log: logging.OrNop(opts.Logger)}
}

// Summarize returns the model's summary of diff. Oversized diffs are cut on a
// line boundary first (see tokens.Truncate). An empty completion yields "".
func (s *Summarizer) Summarize(ctx context.Context, diff string) (string, error) {
	if s == nil || s.client == nil {
		return "", errors.New("summarize: nil client")
	}
	diff, cut := tokens.Truncate(diff, s.maxDiffTokens)
	if cut {
		s.log.Debug("diff truncated", zap.Int("max_diff_tokens", s.maxDiffTokens))
	}
	p := prompt.DiffSummary(diff)
	if w := tokens.WarnIfOver(tokens.Estimate(p), MaxTokens, openai.ContextLimit, warnThreshold); w != "" {
		s.log.Warn("summary prompt near context limit", zap.String("detail", w))
	}
	res, err := s.client.Complete(ctx, p, MaxTokens)
	if err != nil {
		return "", err
	}
	s.log.Debug("summary received",
		zap.String("finish_reason", res.FinishReason),
		zap.Int("prompt_tokens", res.PromptTokens),
		zap.Int("completion_tokens", res.CompletionTokens))
	if res.Truncated() {
		s.log.Debug("summary cut at token budget", zap.Int("max_tokens", MaxTokens))
	}
	return res.Text, nil
}
