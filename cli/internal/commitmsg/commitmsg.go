// Package commitmsg synthesizes one Conventional Commits message from the
// per-file change summaries of a repository.
package commitmsg

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"commitai/cli/internal/logging"
	"commitai/cli/internal/openai"
	"commitai/cli/internal/prompt"
)

// MaxTokens is the completion budget for the commit message.
const MaxTokens = 45

// Fallback is returned when the model produces no text.
const Fallback = "It was not possible to create a commit message"

// Completer is the part of *openai.Client the synthesizer needs.
type Completer interface {
	Complete(ctx context.Context, prompt string, maxTokens int) (openai.Completion, error)
}

// Synthesizer turns summaries into a commit message.
type Synthesizer struct {
	client Completer
	log    *zap.Logger
}

// New returns a Synthesizer using client. log may be nil.
func New(client Completer, log *zap.Logger) *Synthesizer {
	return &Synthesizer{client: client, log: logging.OrNop(log)}
}

// Synthesize asks the model for a single commit message (about 40 characters,
// enforced only by the prompt). An empty completion yields Fallback, never "".
// Zero summaries still produce one request.
func (s *Synthesizer) Synthesize(ctx context.Context, summaries []string) (string, error) {
	if s == nil || s.client == nil {
		return "", errors.New("commitmsg: nil client")
	}
	res, err := s.client.Complete(ctx, prompt.CommitMessage(summaries), MaxTokens)
	if err != nil {
		return "", err
	}
	s.log.Debug("commit message received",
		zap.String("finish_reason", res.FinishReason),
		zap.Int("prompt_tokens", res.PromptTokens),
		zap.Int("completion_tokens", res.CompletionTokens))
	if res.Truncated() {
		// The 45-token budget ran out; the message may end mid-word.
		s.log.Debug("commit message cut at token budget", zap.Int("max_tokens", MaxTokens))
	}
	if res.Empty() {
		return Fallback, nil
	}
	return res.Text, nil
}
