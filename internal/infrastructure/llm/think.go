package llm

import (
	"regexp"
	"strings"
)

var (
	thinkBlock      = regexp.MustCompile(`(?s)<think>.*?</think>\s*`)
	unterminatedTag = regexp.MustCompile(`(?s)<think>.*\z`)
)

// StripThink removes reasoning blocks a local model may emit ahead of its answer.
// Complete <think>…</think> spans go first, then anything after an unclosed
// <think>, then stray closing tags.
func StripThink(text string) string {
	text = thinkBlock.ReplaceAllString(text, "")
	text = unterminatedTag.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "</think>", "")
	return strings.TrimSpace(text)
}
