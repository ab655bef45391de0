// Package subject implements wildcard matching over dot-segmented
// routing keys, as used by endpoint subscriptions and access rules.
// See spec §4.1.
package subject

import (
	"fmt"
	"strings"
)

// Match reports whether subject matches pattern. '*' matches exactly one
// segment; '>' matches one or more trailing segments and is only valid as
// the last segment of pattern. Matching is case-sensitive. subject itself
// must not contain wildcards — if it does, Match always returns false.
func Match(pattern, subject string) bool {
	if ContainsWildcard(subject) {
		return false
	}
	pSegs := strings.Split(pattern, ".")
	sSegs := strings.Split(subject, ".")

	for i, p := range pSegs {
		if p == ">" {
			// '>' must be last segment of pattern (enforced at insert
			// time by ValidatePattern); here it just needs at least one
			// trailing subject segment to match against.
			return i < len(sSegs)
		}
		if i >= len(sSegs) {
			return false
		}
		if p == "*" {
			continue
		}
		if p != sSegs[i] {
			return false
		}
	}
	return len(pSegs) == len(sSegs)
}

// ContainsWildcard reports whether s contains a '*' or '>' segment.
func ContainsWildcard(s string) bool {
	for _, seg := range strings.Split(s, ".") {
		if seg == "*" || seg == ">" {
			return true
		}
	}
	return false
}

// ValidatePattern rejects degenerate forms: empty segments, or '>' used
// anywhere but the terminal segment. An empty pattern is invalid.
func ValidatePattern(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("subject: empty pattern")
	}
	segs := strings.Split(pattern, ".")
	for i, seg := range segs {
		if seg == "" {
			return fmt.Errorf("subject: empty segment in pattern %q", pattern)
		}
		if seg == ">" && i != len(segs)-1 {
			return fmt.Errorf("subject: '>' must be the terminal segment in pattern %q", pattern)
		}
	}
	return nil
}

// ValidateSubject rejects a concrete subject that contains wildcards or
// empty segments — subjects are routing keys, not patterns.
func ValidateSubject(subject string) error {
	if subject == "" {
		return fmt.Errorf("subject: empty subject")
	}
	for _, seg := range strings.Split(subject, ".") {
		if seg == "" {
			return fmt.Errorf("subject: empty segment in subject %q", subject)
		}
		if seg == "*" || seg == ">" {
			return fmt.Errorf("subject: subject %q must not contain wildcards", subject)
		}
	}
	return nil
}
