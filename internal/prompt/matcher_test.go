package prompt

import (
	"strings"
	"testing"
)

func TestNewMatcher(t *testing.T) {
	t.Run("valid pattern", func(t *testing.T) {
		m, err := NewMatcher("\n> ")
		if err != nil {
			t.Fatalf("NewMatcher() error = %v", err)
		}
		if m.Pattern() != "\n> " {
			t.Errorf("Pattern() = %q, want %q", m.Pattern(), "\n> ")
		}
	})

	t.Run("invalid pattern", func(t *testing.T) {
		if _, err := NewMatcher("[unclosed"); err == nil {
			t.Error("NewMatcher() with invalid regex should return error")
		}
	})
}

func TestMatcher_Matches(t *testing.T) {
	m, err := NewMatcher("\n> ")
	if err != nil {
		t.Fatalf("NewMatcher() error = %v", err)
	}

	tests := []struct {
		name string
		buf  string
		want bool
	}{
		{
			name: "empty buffer",
			buf:  "",
			want: false,
		},
		{
			name: "no prompt",
			buf:  "still working on it",
			want: false,
		},
		{
			name: "prompt at end",
			buf:  "a.txt\nb.txt\n> ",
			want: true,
		},
		{
			name: "prompt with crlf line endings",
			buf:  "a.txt\r\nb.txt\r\n> ",
			want: true,
		},
		{
			name: "prompt followed by trailing spaces",
			buf:  "done\n>   \t",
			want: true,
		},
		{
			name: "prompt followed by carriage return",
			buf:  "done\n> \r",
			want: true,
		},
		{
			name: "prompt followed by more output",
			buf:  "done\n> and then more text",
			want: false,
		},
		{
			name: "prompt only mid-buffer",
			buf:  "header\n> quoted reply\nmore content",
			want: false,
		},
		{
			name: "colored prompt",
			buf:  "done\n\x1b[36m> \x1b[0m",
			want: true,
		},
		{
			name: "prompt interleaved with escapes",
			buf:  "done\x1b[?25l\n\x1b[1m> \x1b[0m\x1b[?25h",
			want: true,
		},
		{
			name: "multiple prompts last at end",
			buf:  "\n> first turn\noutput\n> ",
			want: true,
		},
		{
			name: "partial prompt",
			buf:  "output\n>",
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.Matches([]byte(tt.buf))
			if got != tt.want {
				t.Errorf("Matches(%q) = %v, want %v", tt.buf, got, tt.want)
			}
		})
	}
}

func TestMatcher_Matches_TailWindow(t *testing.T) {
	m, err := NewMatcher("\n> ")
	if err != nil {
		t.Fatalf("NewMatcher() error = %v", err)
	}

	t.Run("prompt at end of large buffer", func(t *testing.T) {
		buf := strings.Repeat("filler line\n", 1000) + "\n> "
		if !m.Matches([]byte(buf)) {
			t.Error("Matches() should find prompt at end of large buffer")
		}
	})

	t.Run("prompt outside scan window", func(t *testing.T) {
		buf := "\n> " + strings.Repeat("filler line\n", 1000)
		if m.Matches([]byte(buf)) {
			t.Error("Matches() should not find prompt buried before recent output")
		}
	})
}

func TestMatcher_Matches_AnchoredPattern(t *testing.T) {
	m, err := NewMatcher(`\$ $`)
	if err != nil {
		t.Fatalf("NewMatcher() error = %v", err)
	}

	if !m.Matches([]byte("total 4\n-rw-r--r-- file\n$ ")) {
		t.Error("Matches() should accept anchored shell prompt at end")
	}
	if m.Matches([]byte("price is $ 5 today")) {
		t.Error("Matches() should reject anchored pattern mid-text")
	}
}

func TestMatcher_TrimPrompt(t *testing.T) {
	m, err := NewMatcher("\n> ")
	if err != nil {
		t.Fatalf("NewMatcher() error = %v", err)
	}

	tests := []struct {
		name string
		text string
		want string
	}{
		{
			name: "trims trailing prompt",
			text: "a.txt\nb.txt\n> ",
			want: "a.txt\nb.txt",
		},
		{
			name: "trims prompt and trailing spaces",
			text: "done\n>   ",
			want: "done",
		},
		{
			name: "trims colored prompt",
			text: "done\n\x1b[36m> \x1b[0m",
			want: "done",
		},
		{
			name: "no prompt returns stripped text",
			text: "\x1b[31mpartial\x1b[0m output",
			want: "partial output",
		},
		{
			name: "mid-text prompt kept when content follows",
			text: "header\n> quoted\ntail",
			want: "header\n> quoted\ntail",
		},
		{
			name: "only prompt yields empty",
			text: "\n> ",
			want: "",
		},
		{
			name: "empty input",
			text: "",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.TrimPrompt(tt.text)
			if got != tt.want {
				t.Errorf("TrimPrompt(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestMatcher_GrowingBuffer(t *testing.T) {
	// Matching runs after every incremental read; the prompt must only
	// register once the full pattern has streamed in.
	m, err := NewMatcher("\n> ")
	if err != nil {
		t.Fatalf("NewMatcher() error = %v", err)
	}

	stages := []struct {
		buf  string
		want bool
	}{
		{"a.t", false},
		{"a.txt\nb.t", false},
		{"a.txt\nb.txt\n", false},
		{"a.txt\nb.txt\n> ", true},
	}

	for _, stage := range stages {
		if got := m.Matches([]byte(stage.buf)); got != stage.want {
			t.Errorf("Matches(%q) = %v, want %v", stage.buf, got, stage.want)
		}
	}

	final := "a.txt\nb.txt\n> "
	if got := m.TrimPrompt(final); got != "a.txt\nb.txt" {
		t.Errorf("TrimPrompt(%q) = %q, want %q", final, got, "a.txt\nb.txt")
	}
}
