// Package strutil provides string helpers for diagnostics.
package strutil

import "strings"

// Truncate shortens s to at most maxLen runes, appending "..." when cut.
// It never splits a multi-byte character. maxLen <= 0 yields "".
func Truncate(s string, maxLen int) string {
	if s == "" || maxLen <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}

// OneLine trims trailing line terminators and truncates, for logging protocol lines.
func OneLine(s string, maxLen int) string {
	return Truncate(strings.TrimRight(s, "\r\n"), maxLen)
}
