// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package version implements semantic versions with stability ordering and
// bracketed version ranges used by extension manifests.
package version

import (
	"cmp"
	"fmt"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/oops"
)

// Error codes returned by Parse and ParseRange.
const (
	CodeVersionFormat = "VERSION_FORMAT"
	CodeRangeFormat   = "RANGE_FORMAT"
)

// Stability identifies the release channel encoded in a pre-release tag.
type Stability int

// Stability values. The zero value is Stable so that the zero Version is a
// stable 0.0.0.
const (
	Stable Stability = iota
	Alpha
	Beta
	ReleaseCandidate
	Unknown
)

// rank orders stabilities from least to most stable.
func (s Stability) rank() int {
	switch s {
	case Alpha:
		return 0
	case Beta:
		return 1
	case ReleaseCandidate:
		return 2
	case Unknown:
		return 3
	default:
		return 4
	}
}

// String returns the lower-case name of the stability.
func (s Stability) String() string {
	switch s {
	case Alpha:
		return "alpha"
	case Beta:
		return "beta"
	case ReleaseCandidate:
		return "rc"
	case Unknown:
		return "unknown"
	default:
		return "stable"
	}
}

// stabilityKeywords maps lower-case pre-release keywords to stabilities.
var stabilityKeywords = map[string]Stability{
	"a":     Alpha,
	"alpha": Alpha,
	"b":     Beta,
	"beta":  Beta,
	"rc":    ReleaseCandidate,
}

// Version is an immutable semantic version.
type Version struct {
	major          uint64
	minor          uint64
	patch          uint64
	preRelease     string
	build          string
	stability      Stability
	stabilityIndex int
}

// Parse parses MAJOR.MINOR.PATCH[-PRERELEASE][+BUILD].
func Parse(text string) (Version, error) {
	sv, err := semver.StrictNewVersion(text)
	if err != nil {
		return Version{}, oops.Code(CodeVersionFormat).
			With("version", text).
			Wrapf(err, "malformed version %q", text)
	}

	v := Version{
		major:      sv.Major(),
		minor:      sv.Minor(),
		patch:      sv.Patch(),
		preRelease: sv.Prerelease(),
		build:      sv.Metadata(),
		stability:  Stable,
	}

	if v.preRelease != "" {
		segments := strings.Split(v.preRelease, ".")
		v.stability = Unknown
		if s, ok := stabilityKeywords[strings.ToLower(segments[0])]; ok {
			v.stability = s
		}
		if len(segments) >= 2 {
			if n, err := strconv.Atoi(segments[1]); err == nil {
				v.stabilityIndex = n
			}
		}
	}

	return v, nil
}

// MustParse is like Parse but panics on malformed input.
func MustParse(text string) Version {
	v, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return v
}

// Major returns the major component.
func (v Version) Major() uint64 { return v.major }

// Minor returns the minor component.
func (v Version) Minor() uint64 { return v.minor }

// Patch returns the patch component.
func (v Version) Patch() uint64 { return v.patch }

// PreRelease returns the pre-release tag without its leading '-'.
func (v Version) PreRelease() string { return v.preRelease }

// BuildMetadata returns the build metadata without its leading '+'.
func (v Version) BuildMetadata() string { return v.build }

// Stability returns the stability selected by the pre-release tag.
func (v Version) Stability() Stability { return v.stability }

// StabilityIndex returns the numeric index following the stability keyword.
func (v Version) StabilityIndex() int { return v.stabilityIndex }

// Compare returns -1, 0 or 1 when v sorts before, equal to or after other.
//
// Precedence is major, minor, patch, stability, stability index and finally
// the pre-release text, so that Compare returns 0 exactly when Equal is true.
// Build metadata never participates.
func (v Version) Compare(other Version) int {
	if c := cmp.Compare(v.major, other.major); c != 0 {
		return c
	}
	if c := cmp.Compare(v.minor, other.minor); c != 0 {
		return c
	}
	if c := cmp.Compare(v.patch, other.patch); c != 0 {
		return c
	}
	if c := cmp.Compare(v.stability.rank(), other.stability.rank()); c != 0 {
		return c
	}
	if c := cmp.Compare(v.stabilityIndex, other.stabilityIndex); c != 0 {
		return c
	}
	return strings.Compare(v.preRelease, other.preRelease)
}

// Less reports whether v sorts before other.
func (v Version) Less(other Version) bool {
	return v.Compare(other) < 0
}

// Equal reports whether v and other have the same numeric components and
// pre-release tag. Build metadata is ignored.
func (v Version) Equal(other Version) bool {
	return v.major == other.major &&
		v.minor == other.minor &&
		v.patch == other.patch &&
		v.preRelease == other.preRelease
}

// String returns the canonical text form including build metadata.
func (v Version) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d.%d.%d", v.major, v.minor, v.patch)
	if v.preRelease != "" {
		b.WriteByte('-')
		b.WriteString(v.preRelease)
	}
	if v.build != "" {
		b.WriteByte('+')
		b.WriteString(v.build)
	}
	return b.String()
}
