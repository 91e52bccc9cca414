// Package sanitize converts raw pseudo-terminal output into text suitable
// for a chat transport. It strips terminal control sequences, normalizes
// line endings, collapses excessive blank lines, and splits oversized
// responses into transport-sized chunks.
//
// All functions are pure: the same input always produces the same output,
// and Sanitize is idempotent.
package sanitize

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// ansiPattern matches terminal control sequences in three forms:
	// CSI (ESC [ parameter bytes, intermediate bytes, final byte), which
	// covers colors, cursor movement, and private modes like ?2004h;
	// OSC (ESC ] ... terminated by BEL or ESC \), which covers window
	// titles and hyperlinks; and short escapes (ESC plus optional
	// intermediates and one final byte), which covers cursor save/restore
	// and charset selection.
	ansiPattern = regexp.MustCompile(`\x1b\[[0-?]*[ -/]*[@-~]|\x1b\][^\x07\x1b]*(?:\x07|\x1b\\)|\x1b[ -/]*[0-~]`)

	// controlPattern matches residual control bytes after escape stripping.
	// Newline and tab are kept; everything else (including DEL) is noise.
	controlPattern = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)

	// trailingSpacePattern matches space/tab padding before a line break.
	// Terminal emulators pad lines to the configured width.
	trailingSpacePattern = regexp.MustCompile(`[ \t]+\n`)

	// blankRunPattern matches runs of three or more newlines, which render
	// as two or more consecutive blank lines.
	blankRunPattern = regexp.MustCompile(`\n{3,}`)
)

// StripAnsi removes terminal control sequences from text.
// It handles CSI sequences (colors, cursor movement, mode switches),
// OSC sequences (window titles, hyperlinks), and short escapes.
func StripAnsi(text string) string {
	return ansiPattern.ReplaceAllString(text, "")
}

// Sanitize cleans raw terminal output for delivery over a chat transport:
//
//  1. Strip ANSI escape and control sequences.
//  2. Normalize CRLF and bare CR to LF.
//  3. Drop remaining control bytes (except newline and tab).
//  4. Trim trailing space padding from each line.
//  5. Collapse runs of three or more newlines to exactly two.
//  6. Trim leading and trailing whitespace from the whole text.
//
// Applying Sanitize to its own output returns the input unchanged.
func Sanitize(raw string) string {
	text := StripAnsi(raw)

	// A bare CR is a progress-line overwrite. Without a screen model the
	// overwritten frames are kept as separate lines.
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	text = controlPattern.ReplaceAllString(text, "")
	text = trailingSpacePattern.ReplaceAllString(text, "\n")
	text = blankRunPattern.ReplaceAllString(text, "\n\n")

	return strings.TrimSpace(text)
}

// Chunk splits clean text into ordered pieces of at most limit bytes each.
// Splits happen after a newline when one falls inside the window, otherwise
// at the last rune boundary at or below the limit, so a chunk never ends
// mid-rune. Concatenating the returned chunks reproduces the input exactly.
//
// An empty input yields no chunks. A non-positive limit disables splitting.
func Chunk(text string, limit int) []string {
	if text == "" {
		return nil
	}
	if limit <= 0 || len(text) <= limit {
		return []string{text}
	}

	chunks := make([]string, 0, len(text)/limit+1)
	rest := text
	for len(rest) > limit {
		cut := splitPoint(rest, limit)
		chunks = append(chunks, rest[:cut])
		rest = rest[cut:]
	}
	if rest != "" {
		chunks = append(chunks, rest)
	}
	return chunks
}

// splitPoint returns the byte offset to cut s at, given that len(s) > limit.
// It prefers the position just after the last newline within the first
// limit bytes, falling back to the last rune boundary at or below limit.
func splitPoint(s string, limit int) int {
	window := s[:limit]
	if i := strings.LastIndexByte(window, '\n'); i >= 0 {
		return i + 1
	}

	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	if cut == 0 {
		// limit is smaller than a single rune; split mid-rune rather
		// than producing an empty chunk.
		return limit
	}
	return cut
}
