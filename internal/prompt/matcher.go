// Package prompt detects when the supervised agent's interactive prompt
// reappears in streamed terminal output. A reappearing prompt marks the
// end of a turn: everything captured since the input line was written,
// minus the prompt itself, is the agent's response.
package prompt

import (
	"regexp"

	"github.com/quillback/parley/internal/sanitize"
)

// tailWindow bounds how much of the capture buffer is scanned per check.
// Matching runs after every read, so only the most recent output matters.
const tailWindow = 2000

// Matcher checks a growing capture buffer for a configured prompt pattern.
// A match only counts when the pattern's last occurrence sits at the end
// of the buffer, followed by nothing but horizontal whitespace. Matcher is
// stateless and safe for concurrent use.
type Matcher struct {
	pattern *regexp.Regexp
}

// NewMatcher compiles the prompt pattern. The pattern is a regular
// expression; a plain string such as "\n> " works as a literal match.
func NewMatcher(pattern string) (*Matcher, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return &Matcher{pattern: re}, nil
}

// Pattern returns the pattern source string.
func (m *Matcher) Pattern() string {
	return m.pattern.String()
}

// Matches reports whether the prompt pattern appears at the end of the
// capture buffer. Only the most recent portion of the buffer is scanned,
// with control sequences stripped first so colored or cursor-decorated
// prompts still match.
func (m *Matcher) Matches(buf []byte) bool {
	if len(buf) == 0 {
		return false
	}

	text := string(buf)
	if len(text) > tailWindow {
		text = text[len(text)-tailWindow:]
	}
	text = sanitize.StripAnsi(text)

	_, ok := m.terminalMatch(text)
	return ok
}

// TrimPrompt strips control sequences from captured text and removes the
// trailing prompt occurrence, returning the response body. Text without a
// terminal prompt match is returned stripped but otherwise unchanged, which
// is the partial-output case after a timeout.
func (m *Matcher) TrimPrompt(text string) string {
	stripped := sanitize.StripAnsi(text)
	if start, ok := m.terminalMatch(stripped); ok {
		return stripped[:start]
	}
	return stripped
}

// terminalMatch locates the last pattern occurrence in text and reports
// its start offset, provided only horizontal whitespace follows it.
func (m *Matcher) terminalMatch(text string) (int, bool) {
	locs := m.pattern.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return 0, false
	}

	last := locs[len(locs)-1]
	if !onlyTrailingJunk(text[last[1]:]) {
		return 0, false
	}
	return last[0], true
}

// onlyTrailingJunk reports whether s holds nothing but the whitespace a
// terminal may emit after a prompt: spaces, tabs, and carriage returns.
func onlyTrailingJunk(s string) bool {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case ' ', '\t', '\r':
		default:
			return false
		}
	}
	return true
}
