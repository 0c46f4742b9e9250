package vocab

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Ramsey-B/clover/pkg/models"
)

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		name     string
		a        string
		b        string
		expected models.CompatLevel
	}{
		{name: "patch difference", a: "1.2.3", b: "1.2.9", expected: models.CompatPatchDifference},
		{name: "minor difference", a: "1.3.0", b: "1.2.9", expected: models.CompatMinorDifference},
		{name: "major difference", a: "2.0.0", b: "1.9.9", expected: models.CompatMajorDifference},
		{name: "identical", a: "1.2.3", b: "1.2.3", expected: models.CompatIdentical},
		{name: "missing parts default to zero", a: "1.2", b: "1.2.0", expected: models.CompatIdentical},
		{name: "non-numeric parts default to zero", a: "1.x.3", b: "1.0.3", expected: models.CompatIdentical},
		{name: "empty versions are identical", a: "", b: "", expected: models.CompatIdentical},
		{name: "major wins over minor and patch", a: "2.9.9", b: "1.0.0", expected: models.CompatMajorDifference},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CompareVersions(tt.a, tt.b))
		})
	}
}
