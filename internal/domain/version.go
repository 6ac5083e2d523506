package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is a firmware semantic version. Ordering is lexicographic on
// (Major, Minor, Patch).
type Version struct {
	Major uint8
	Minor uint8
	Patch uint8
}

// ParseVersion parses "major.minor.patch". Each component must be a
// decimal number in 0..255.
func ParseVersion(s string) (Version, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) != 3 {
		return Version{}, fmt.Errorf("%w: %q", ErrInvalidVersion, s)
	}

	var nums [3]uint8
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 8)
		if err != nil {
			return Version{}, fmt.Errorf("%w: %q", ErrInvalidVersion, s)
		}
		nums[i] = uint8(n)
	}
	return Version{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

// ParseBuildVersion extracts the version from a build string of the form
// "v<major>.<minor>.<patch>-<suffix>". The suffix is optional.
func ParseBuildVersion(build string) (Version, error) {
	s := strings.TrimSpace(build)
	if !strings.HasPrefix(s, "v") {
		return Version{}, fmt.Errorf("%w: build %q", ErrInvalidVersion, build)
	}
	s = s[1:]
	if i := strings.IndexByte(s, '-'); i >= 0 {
		s = s[:i]
	}
	v, err := ParseVersion(s)
	if err != nil {
		return Version{}, fmt.Errorf("%w: build %q", ErrInvalidVersion, build)
	}
	return v, nil
}

// Compare returns -1, 0 or +1 depending on whether v is lower than, equal
// to, or greater than o.
func (v Version) Compare(o Version) int {
	switch {
	case v.Major != o.Major:
		return cmpUint8(v.Major, o.Major)
	case v.Minor != o.Minor:
		return cmpUint8(v.Minor, o.Minor)
	default:
		return cmpUint8(v.Patch, o.Patch)
	}
}

// Less reports whether v sorts before o.
func (v Version) Less(o Version) bool { return v.Compare(o) < 0 }

// IsZero reports whether v is 0.0.0.
func (v Version) IsZero() bool { return v == Version{} }

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

func cmpUint8(a, b uint8) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}
