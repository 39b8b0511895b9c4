package match

import (
	"errors"

	"github.com/bmatcuk/doublestar/v4"
)

// Matcher evaluates glob patterns against slash-separated relative paths.
//
// A Matcher is configured with include and exclude patterns:
//   - Include patterns: path must match at least one
//   - Exclude patterns: path must not match any
//
// The Matcher is safe for concurrent use after creation.
type Matcher struct {
	includes      []string
	excludes      []string
	includeHidden bool
}

// Config configures a Matcher.
type Config struct {
	// Includes are glob patterns that paths must match (at least one).
	// Required: at least one include pattern must be specified.
	Includes []string

	// Excludes are glob patterns that paths must not match (any).
	// Optional: if empty, no excludes are applied.
	Excludes []string

	// IncludeHidden controls whether hidden files are matched.
	// Hidden files have path segments starting with '.'.
	// Default: false (hidden files are excluded).
	IncludeHidden bool
}

// Errors returned by Matcher operations.
var (
	// ErrNoIncludes is returned when no include patterns are provided.
	ErrNoIncludes = errors.New("at least one include pattern is required")

	// ErrInvalidPattern is returned when a pattern cannot be compiled.
	ErrInvalidPattern = errors.New("invalid glob pattern")
)

// PatternError wraps pattern-related errors with context.
type PatternError struct {
	Pattern string
	Err     error
}

func (e *PatternError) Error() string {
	return "pattern " + e.Pattern + ": " + e.Err.Error()
}

func (e *PatternError) Unwrap() error {
	return e.Err
}

// New creates a new Matcher from the given configuration.
//
// Patterns are normalized to handle Windows-style backslash separators
// while preserving escape sequences for literal glob metacharacters.
func New(cfg Config) (*Matcher, error) {
	if len(cfg.Includes) == 0 {
		return nil, ErrNoIncludes
	}

	includes, err := compile(cfg.Includes)
	if err != nil {
		return nil, err
	}
	excludes, err := compile(cfg.Excludes)
	if err != nil {
		return nil, err
	}

	return &Matcher{
		includes:      includes,
		excludes:      excludes,
		includeHidden: cfg.IncludeHidden,
	}, nil
}

func compile(raw []string) ([]string, error) {
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		normalized := NormalizePattern(p)
		if !doublestar.ValidatePattern(normalized) {
			return nil, &PatternError{Pattern: p, Err: ErrInvalidPattern}
		}
		out = append(out, normalized)
	}
	return out, nil
}

// Match returns true if the path matches the include/exclude patterns.
//
// A path matches if:
//  1. It is not hidden (unless IncludeHidden is true)
//  2. It matches at least one include pattern
//  3. It does not match any exclude pattern
func (m *Matcher) Match(path string) bool {
	if !m.includeHidden && IsHidden(path) {
		return false
	}

	matched := false
	for _, inc := range m.includes {
		if matchPattern(inc, path) {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}

	for _, exc := range m.excludes {
		if matchPattern(exc, path) {
			return false
		}
	}
	return true
}

// IncludePatterns returns the normalized include patterns.
func (m *Matcher) IncludePatterns() []string {
	return append([]string(nil), m.includes...)
}

// ExcludePatterns returns the normalized exclude patterns.
func (m *Matcher) ExcludePatterns() []string {
	return append([]string(nil), m.excludes...)
}

// matchPattern matches a path against a doublestar pattern.
func matchPattern(pattern, path string) bool {
	matched, err := doublestar.Match(pattern, path)
	if err != nil {
		// Pattern was validated at construction time.
		return false
	}
	return matched
}
