// Package vocab compares vocabulary versions between packages and the server
// and serves the current version/code sets with a redis cache in front of
// postgres.
package vocab

import (
	"strconv"
	"strings"

	"github.com/Ramsey-B/clover/pkg/models"
)

// semver is a parsed major.minor.patch tuple. Non-numeric or missing parts
// default to zero.
type semver struct {
	Major int
	Minor int
	Patch int
}

func parseSemver(v string) semver {
	parts := strings.SplitN(strings.TrimSpace(v), ".", 3)
	out := semver{}
	if len(parts) > 0 {
		out.Major = numOrZero(parts[0])
	}
	if len(parts) > 1 {
		out.Minor = numOrZero(parts[1])
	}
	if len(parts) > 2 {
		out.Patch = numOrZero(parts[2])
	}
	return out
}

func numOrZero(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// CompareVersions classifies the difference between two semver strings
func CompareVersions(a, b string) models.CompatLevel {
	va, vb := parseSemver(a), parseSemver(b)
	switch {
	case va.Major != vb.Major:
		return models.CompatMajorDifference
	case va.Minor != vb.Minor:
		return models.CompatMinorDifference
	case va.Patch != vb.Patch:
		return models.CompatPatchDifference
	default:
		return models.CompatIdentical
	}
}
