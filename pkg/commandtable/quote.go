package commandtable

import "strings"

// ShellQuote single-quotes s when it holds characters the shell would split
// or expand. Plain paths are returned unchanged.
func ShellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n'\"$`\\*?[]{}()<>|&;#~!") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
