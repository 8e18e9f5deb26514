// Package version owns release-tag parsing and ordering.
//
// Ownership boundary:
// - release tag validation
// - numeric version ordering
package version

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/mod/semver"
)

var ErrInvalidTag = errors.New("version: invalid release tag")

// Version is a validated upstream release tag. Ordering is numeric
// per component, so v1.9.0 sorts below v1.10.0. The raw tag is kept
// verbatim for git commands, patch lookup, and artifact names.
type Version struct {
	tag string
}

// Parse validates a release tag of the form vMAJOR[.MINOR[.PATCH]][-pre].
func Parse(tag string) (Version, error) {
	t := strings.TrimSpace(tag)
	if t == "" {
		return Version{}, fmt.Errorf("%w: empty", ErrInvalidTag)
	}
	if !semver.IsValid(t) {
		return Version{}, fmt.Errorf("%w: %q (expected a v-prefixed release tag like v1.13.0)", ErrInvalidTag, tag)
	}
	return Version{tag: t}, nil
}

// MustParse is Parse for known-good literals; it panics on invalid input.
func MustParse(tag string) Version {
	v, err := Parse(tag)
	if err != nil {
		panic(err)
	}
	return v
}

// String returns the tag exactly as parsed.
func (v Version) String() string {
	return v.tag
}

// IsZero reports whether v is the unset Version.
func (v Version) IsZero() bool {
	return v.tag == ""
}

// Compare orders two versions numerically: -1, 0, or +1.
func (v Version) Compare(o Version) int {
	return semver.Compare(v.tag, o.tag)
}

// Before reports whether v releases strictly earlier than o.
func (v Version) Before(o Version) bool {
	return v.Compare(o) < 0
}

// AtLeast reports whether v releases at or after o.
func (v Version) AtLeast(o Version) bool {
	return v.Compare(o) >= 0
}
