// Package compare implements the text comparison modes used to decide
// AC/WA for problems without a custom checker.
package compare

import "strings"

// Strict compares byte-exactly after stripping at most one trailing
// newline from each side.
func Strict(expected, actual string) bool {
	return stripOneTrailingNewline(expected) == stripOneTrailingNewline(actual)
}

// Standard compares line by line, ignoring trailing ASCII whitespace on
// each line and trailing blank lines overall.
func Standard(expected, actual string) bool {
	return normalize(expected) == normalize(actual)
}

func stripOneTrailingNewline(s string) string {
	if strings.HasSuffix(s, "\r\n") {
		return s[:len(s)-2]
	}
	if strings.HasSuffix(s, "\n") {
		return s[:len(s)-1]
	}
	return s
}

func normalize(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\r\v\f")
	}
	return strings.TrimRight(strings.Join(lines, "\n"), " \t\r\n\v\f")
}
