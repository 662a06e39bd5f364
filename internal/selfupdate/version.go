// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"fmt"
	"strings"

	"golang.org/x/mod/semver"
)

const (
	// Less means the left version has lower precedence.
	Less Ordering = -1
	// Equal means both versions have the same precedence.
	Equal Ordering = 0
	// Greater means the left version has higher precedence.
	Greater Ordering = 1
)

// Ordering is the result of comparing two versions.
type Ordering int

// String returns "less", "equal" or "greater".
func (o Ordering) String() string {
	switch o {
	case Less:
		return "less"
	case Equal:
		return "equal"
	case Greater:
		return "greater"
	}
	return fmt.Sprintf("Ordering(%d)", int(o))
}

// Compare orders a and b by semantic-versioning precedence. Both inputs must
// be full major.minor.patch versions, optionally prefixed with "v" and
// optionally carrying pre-release and build suffixes. Build metadata does not
// affect precedence.
func Compare(a, b string) (Ordering, error) {
	na, err := normalizeVersion(a)
	if err != nil {
		return Equal, err
	}
	nb, err := normalizeVersion(b)
	if err != nil {
		return Equal, err
	}
	return Ordering(semver.Compare(na, nb)), nil
}

// HasUpdate reports whether latest has strictly higher precedence than current.
func HasUpdate(current, latest string) (bool, error) {
	ord, err := Compare(current, latest)
	if err != nil {
		return false, err
	}
	return ord == Less, nil
}

// normalizeVersion ensures the version string has a "v" prefix as required by
// the semver package and rejects anything that is not a complete
// major.minor.patch version. semver.IsValid accepts the "v1" and "v1.2"
// shorthands, which registries never publish, so the core is checked too.
func normalizeVersion(v string) (string, error) {
	norm := strings.TrimSpace(v)
	if !strings.HasPrefix(norm, "v") {
		norm = "v" + norm
	}
	if !semver.IsValid(norm) {
		return "", fmt.Errorf("%w: %q", ErrInvalidVersion, v)
	}
	core := norm
	if i := strings.IndexAny(core, "-+"); i >= 0 {
		core = core[:i]
	}
	if strings.Count(core, ".") != 2 {
		return "", fmt.Errorf("%w: %q: expected major.minor.patch", ErrInvalidVersion, v)
	}
	return norm, nil
}
