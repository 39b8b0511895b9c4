// Package match provides doublestar glob matching for run-directory paths.
//
// Paths are slash-separated and relative to the directory being scanned,
// e.g. "Lane1/S1_R1_001.fastq.gz".
package match

import (
	"strings"
)

// Glob metacharacters that can be escaped with backslash in patterns.
const globEscapable = `*?[]{}\`

// NormalizePattern converts a user-provided glob pattern to canonical form.
//
// Unescaped backslashes become forward slashes; escaped glob metacharacters
// (\*, \?, \[ ...) are preserved.
//
//	"Data\Fastq\**"     → "Data/Fastq/**"
//	"run/file\*.txt"    → "run/file\*.txt"
func NormalizePattern(pattern string) string {
	if pattern == "" {
		return ""
	}

	var result strings.Builder
	result.Grow(len(pattern))

	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		r := runes[i]

		if r == '\\' && i+1 < len(runes) {
			next := runes[i+1]
			if strings.ContainsRune(globEscapable, next) {
				result.WriteRune('\\')
				result.WriteRune(next)
				i++
				continue
			}
			result.WriteRune('/')
			continue
		}

		if r == '\\' {
			result.WriteRune('/')
			continue
		}

		result.WriteRune(r)
	}

	return result.String()
}

// IsHidden returns true if any path segment starts with a dot.
//
//	"Lane1/S1_R1_001.fastq.gz"   → false
//	".snapshot/S1_R1_001.fastq.gz" → true
//	"Lane1/._S1_R1_001.fastq.gz" → true
func IsHidden(path string) bool {
	if path == "" {
		return false
	}
	for _, seg := range strings.Split(path, "/") {
		if seg != "" && strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}
