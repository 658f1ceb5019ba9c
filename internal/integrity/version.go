// Package integrity provides checksum, signature, and version comparison
// primitives the update lifecycle depends on.
package integrity

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// CompareVersions compares two semantic version strings. It returns -1 if
// a < b, 0 if a == b, and 1 if a > b, ordering each segment numerically.
func CompareVersions(a, b string) (int, error) {
	va, err := semver.NewVersion(a)
	if err != nil {
		return 0, fmt.Errorf("invalid version %q: %w", a, err)
	}
	vb, err := semver.NewVersion(b)
	if err != nil {
		return 0, fmt.Errorf("invalid version %q: %w", b, err)
	}
	return va.Compare(vb), nil
}

// UpdateAvailable reports whether candidate is strictly newer than current.
func UpdateAvailable(current, candidate string) (bool, error) {
	cmp, err := CompareVersions(candidate, current)
	if err != nil {
		return false, err
	}
	return cmp > 0, nil
}
