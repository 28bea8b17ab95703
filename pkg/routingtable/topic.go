package routingtable

import (
	"fmt"
	"strings"
)

const (
	// Separator splits topics and patterns into segments
	Separator = "."

	// SingleWildcard matches exactly one segment
	SingleWildcard = "*"

	// MultiWildcard matches zero or more trailing segments
	MultiWildcard = "#"
)

// ValidatePattern reports whether pattern is a well-formed topic pattern.
// Every segment must be non-empty, wildcards must occupy a whole segment and
// "#" may only appear as the final segment.
func ValidatePattern(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("%w: pattern cannot be empty", ErrInvalidPattern)
	}

	segments := strings.Split(pattern, Separator)
	for i, segment := range segments {
		switch {
		case segment == "":
			return fmt.Errorf("%w: empty segment in %q", ErrInvalidPattern, pattern)
		case segment == MultiWildcard:
			if i != len(segments)-1 {
				return fmt.Errorf("%w: %q must be the last segment in %q", ErrInvalidPattern, MultiWildcard, pattern)
			}
		case segment == SingleWildcard:
		case strings.ContainsAny(segment, SingleWildcard+MultiWildcard):
			return fmt.Errorf("%w: wildcard must be a whole segment in %q", ErrInvalidPattern, pattern)
		}
	}
	return nil
}

// IsWildcard reports whether pattern contains a wildcard segment.
func IsWildcard(pattern string) bool {
	for _, segment := range strings.Split(pattern, Separator) {
		if segment == SingleWildcard || segment == MultiWildcard {
			return true
		}
	}
	return false
}

// Matches reports whether topic matches pattern. Patterns that fail
// ValidatePattern never match.
func Matches(topic, pattern string) bool {
	if topic == "" || pattern == "" {
		return false
	}
	return matchSegments(strings.Split(pattern, Separator), strings.Split(topic, Separator))
}

func matchSegments(pattern, topic []string) bool {
	pi, ti := 0, 0

	for pi < len(pattern) && ti < len(topic) {
		switch pattern[pi] {
		case MultiWildcard:
			return pi == len(pattern)-1
		case SingleWildcard:
			if topic[ti] == "" {
				return false
			}
		default:
			if pattern[pi] == "" || pattern[pi] != topic[ti] {
				return false
			}
		}
		pi++
		ti++
	}

	if pi == len(pattern) && ti == len(topic) {
		return true
	}

	// Topic exhausted: only a trailing "#" (zero segments) may remain
	return ti == len(topic) && pi == len(pattern)-1 && pattern[pi] == MultiWildcard
}
