// Package tokens provides byte-based token estimation and the diff truncation
// policy applied before a diff is placed into a prompt. Estimates use a
// chars/4 heuristic; they are not tokenizer-accurate.
package tokens

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"
)

// charsPerToken is the divisor for the simple byte-based estimator
// (roughly 4 bytes per token for typical English/code).
const charsPerToken = 4

// TruncationMarker is appended to text cut by Truncate.
const TruncationMarker = "[diff truncated]"

// Estimate returns an estimated token count for the given prompt text.
// It uses (len(prompt)+3)/4 (bytes), so 1–4 bytes map to 1 token, 5–8 to 2,
// etc. Empty string returns 0.
func Estimate(prompt string) int {
	n := len(prompt)
	if n == 0 {
		return 0
	}
	return (n + charsPerToken - 1) / charsPerToken
}

// Truncate cuts s so that its estimate stays within maxTokens, preferring the
// last line boundary inside the budget, and appends TruncationMarker on its own
// line. maxTokens <= 0 disables truncation. The returned bool reports whether
// s was cut.
func Truncate(s string, maxTokens int) (string, bool) {
	if maxTokens <= 0 || Estimate(s) <= maxTokens {
		return s, false
	}
	limit := maxTokens * charsPerToken
	if limit > math.MaxInt/2 || limit >= len(s) {
		return s, false
	}
	head := s[:limit]
	if idx := strings.LastIndex(head, "\n"); idx > 0 {
		head = head[:idx]
	} else {
		head = truncateUTF8(s, limit)
	}
	return head + "\n" + TruncationMarker, true
}

// truncateUTF8 returns at most maxBytes of s without splitting a rune.
func truncateUTF8(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	for maxBytes > 0 && !utf8.RuneStart(s[maxBytes]) {
		maxBytes--
	}
	return s[:maxBytes]
}

// WarnIfOver returns a non-empty warning string when the total estimated
// tokens (promptTokens + responseReserve) meet or exceed warnThreshold of
// contextLimit. If contextLimit <= 0, returns "".
func WarnIfOver(promptTokens, responseReserve, contextLimit int, warnThreshold float64) string {
	if contextLimit <= 0 {
		return ""
	}
	if promptTokens < 0 || responseReserve < 0 {
		return ""
	}
	if responseReserve > math.MaxInt-promptTokens {
		return fmt.Sprintf("token estimate overflow (prompt %d + reserve %d)", promptTokens, responseReserve)
	}
	total := promptTokens + responseReserve
	limit := float64(contextLimit) * warnThreshold
	threshold := int(limit)
	if limit > float64(threshold) {
		threshold++
	}
	if total < threshold {
		return ""
	}
	return fmt.Sprintf("estimated tokens %d (prompt %d + reserve %d) exceeds %.0f%% of context limit %d",
		total, promptTokens, responseReserve, warnThreshold*100, contextLimit)
}
