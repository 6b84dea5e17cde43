// Package sanitize strips disallowed characters from imported free text
// before it is persisted. It is not markup-aware: escaping for rendering is
// the presentation layer's job.
package sanitize

import "strings"

// MaxLen is the default cap on sanitized text length, in runes.
const MaxLen = 50000

// TruncationMarker is appended whenever text is cut at the cap.
const TruncationMarker = "…[truncated]"

// Clean removes NUL bytes and control characters other than newline and tab,
// and truncates to MaxLen runes. It returns the cleaned text and how many
// characters were dropped, so callers can escalate noisy input to a warning.
func Clean(text string) (string, int) {
	return CleanN(text, MaxLen)
}

// CleanN is Clean with an explicit cap.
func CleanN(text string, maxLen int) (string, int) {
	var sb strings.Builder
	sb.Grow(len(text))

	dropped := 0
	for _, r := range text {
		if r == '\n' || r == '\t' {
			sb.WriteRune(r)
			continue
		}
		// C0 controls, DEL, and C1 controls are all dropped.
		if r < 0x20 || (r >= 0x7f && r <= 0x9f) {
			dropped++
			continue
		}
		sb.WriteRune(r)
	}

	clean := sb.String()
	if maxLen > 0 {
		runes := []rune(clean)
		if len(runes) > maxLen {
			// The marker counts against the cap so the output never
			// exceeds maxLen runes.
			marker := []rune(TruncationMarker)
			if cut := maxLen - len(marker); cut > 0 {
				clean = string(runes[:cut]) + TruncationMarker
			} else {
				clean = string(runes[:maxLen])
			}
		}
	}
	return clean, dropped
}
