// Package namespace implements namespace derivation and normalisation
// for agent registration. See spec §4.17.
package namespace

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

const maxLength = 64

var nonAlphanumeric = regexp.MustCompile(`[^a-z0-9]+`)

// Normalize lowercases s, collapses runs of non-alphanumeric characters
// to a single hyphen, and trims leading/trailing hyphens.
func Normalize(s string) string {
	lower := strings.ToLower(s)
	collapsed := nonAlphanumeric.ReplaceAllString(lower, "-")
	return strings.Trim(collapsed, "-")
}

// Validate reports whether ns is a non-empty, length-bounded namespace.
func Validate(ns string) error {
	if ns == "" {
		return fmt.Errorf("namespace: empty")
	}
	if len(ns) > maxLength {
		return fmt.Errorf("namespace: %q exceeds %d characters", ns, maxLength)
	}
	return nil
}

// Resolve derives a namespace for an agent at projectPath under
// scanRoot. If manifestNamespace is non-empty it takes precedence (and
// must itself validate, since it is user-authored); otherwise the first
// path segment of projectPath relative to scanRoot is used.
func Resolve(projectPath, scanRoot, manifestNamespace string) (string, error) {
	if manifestNamespace != "" {
		normalized := Normalize(manifestNamespace)
		if err := Validate(normalized); err != nil {
			return "", fmt.Errorf("namespace: invalid manifest namespace %q: %w", manifestNamespace, err)
		}
		return normalized, nil
	}

	rel, err := filepath.Rel(scanRoot, projectPath)
	if err != nil {
		return "", fmt.Errorf("namespace: relative path: %w", err)
	}
	first := strings.SplitN(filepath.ToSlash(rel), "/", 2)[0]

	normalized := Normalize(first)
	if err := Validate(normalized); err != nil {
		return "", fmt.Errorf("namespace: derived namespace from %q: %w", projectPath, err)
	}
	return normalized, nil
}
