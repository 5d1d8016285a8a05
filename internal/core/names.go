package core

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// FullnameSeparator joins ancestor names in a fullname.
const FullnameSeparator = "/"

// NormalizeName returns name in Unicode NFC with surrounding space removed.
// Names that render the same must compare equal, or fullname uniqueness
// breaks.
func NormalizeName(name string) (string, error) {
	n := norm.NFC.String(strings.TrimSpace(name))
	if n == "" {
		return "", fmt.Errorf("entry name is empty")
	}
	if strings.Contains(n, FullnameSeparator) {
		return "", fmt.Errorf("entry name %q contains %q", n, FullnameSeparator)
	}
	return n, nil
}

// JoinFullname builds a child's fullname from its parent's fullname.
// parent is empty for productions.
func JoinFullname(parent, name string) (string, error) {
	n, err := NormalizeName(name)
	if err != nil {
		return "", err
	}
	if parent == "" {
		return n, nil
	}
	return parent + FullnameSeparator + n, nil
}

// SplitFullname returns the per-level names of a fullname.
func SplitFullname(fullname string) ([]string, error) {
	parts := strings.Split(norm.NFC.String(fullname), FullnameSeparator)
	if len(parts) > NumLevels {
		return nil, fmt.Errorf("fullname %q has %d parts, at most %d allowed", fullname, len(parts), NumLevels)
	}
	for _, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("fullname %q has an empty part", fullname)
		}
	}
	return parts, nil
}
