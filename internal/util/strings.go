// Package util provides shared utility functions used across the codebase.
package util

// TruncateString truncates a string to maxLen runes, adding "..." if
// truncated. Multi-byte runes are never split. Used to bound previews of
// operator input in log lines.
func TruncateString(s string, maxLen int) string {
	if maxLen <= 3 {
		return "..."
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}
