package strategy

import (
	"github.com/Masterminds/semver/v3"

	"github.com/metrolab/wafersample/pkg/errcode"
)

// BumpLevel selects which semver component a fork increments.
type BumpLevel string

const (
	BumpPatch BumpLevel = "patch"
	BumpMinor BumpLevel = "minor"
	BumpMajor BumpLevel = "major"
)

// Bump returns version incremented at the given level. Patch is the
// default for unknown levels.
func Bump(version string, level BumpLevel) (string, error) {
	v, err := semver.NewVersion(version)
	if err != nil {
		return "", errcode.Wrap(errcode.ValidationError, err, "invalid version %q", version)
	}
	var next semver.Version
	switch level {
	case BumpMajor:
		next = v.IncMajor()
	case BumpMinor:
		next = v.IncMinor()
	default:
		next = v.IncPatch()
	}
	return next.String(), nil
}

// CompareVersions orders two semver strings: -1, 0, or 1. Invalid versions
// sort first so corrupt records surface early in listings.
func CompareVersions(a, b string) int {
	va, errA := semver.NewVersion(a)
	vb, errB := semver.NewVersion(b)
	if errA != nil && errB != nil {
		return 0
	}
	if errA != nil {
		return -1
	}
	if errB != nil {
		return 1
	}
	return va.Compare(vb)
}

// Fork copies the definition into a new draft version at bump(version).
// Used when an approved-or-later strategy is edited.
func (d *Definition) Fork(level BumpLevel, author string) (*Definition, error) {
	next, err := Bump(d.Version, level)
	if err != nil {
		return nil, err
	}
	c := d.Clone(d.Name, author)
	c.ID = d.ID
	c.Version = next
	c.CreatedAt = d.CreatedAt
	return c, nil
}
