package vocab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/models"
)

func TestCheckCompatibility(t *testing.T) {
	t.Run("major mismatch blocks import", func(t *testing.T) {
		report := CheckCompatibility(
			map[string]string{"relation_type": "1.0.0"},
			map[string]string{"relation_type": "2.0.0"},
		)

		assert.False(t, report.IsCompatible)
		assert.False(t, report.FullyCompatible)
		require.Len(t, report.Items, 1)
		assert.Equal(t, models.CompatMajorDifference, report.Items[0].Level)
	})

	t.Run("minor mismatch is compatible but flagged", func(t *testing.T) {
		report := CheckCompatibility(
			map[string]string{"evidence_type": "1.3.0"},
			map[string]string{"evidence_type": "1.2.9"},
		)

		assert.True(t, report.IsCompatible)
		assert.False(t, report.FullyCompatible)
		require.Len(t, report.Items, 1)
		assert.Equal(t, models.CompatMinorDifference, report.Items[0].Level)
	})

	t.Run("patch mismatch is fully compatible", func(t *testing.T) {
		report := CheckCompatibility(
			map[string]string{"claim_type": "1.2.3"},
			map[string]string{"claim_type": "1.2.9"},
		)

		assert.True(t, report.IsCompatible)
		assert.True(t, report.FullyCompatible)
	})

	t.Run("unknown domain is a soft failure", func(t *testing.T) {
		report := CheckCompatibility(
			map[string]string{"novel_domain": "1.0.0"},
			map[string]string{},
		)

		assert.True(t, report.IsCompatible)
		assert.False(t, report.FullyCompatible)
		require.Len(t, report.Items, 1)
		assert.Equal(t, models.CompatUnknownDomain, report.Items[0].Level)
	})

	t.Run("worst level across domains wins", func(t *testing.T) {
		report := CheckCompatibility(
			map[string]string{
				"relation_type": "1.0.0",
				"evidence_type": "1.0.0",
			},
			map[string]string{
				"relation_type": "1.0.0",
				"evidence_type": "2.0.0",
			},
		)

		assert.False(t, report.IsCompatible)
		require.Len(t, report.Items, 2)
		// sorted by domain
		assert.Equal(t, "evidence_type", report.Items[0].Domain)
		assert.Equal(t, models.CompatMajorDifference, report.Items[0].Level)
		assert.Equal(t, models.CompatIdentical, report.Items[1].Level)
	})

	t.Run("empty package map is fully compatible", func(t *testing.T) {
		report := CheckCompatibility(nil, map[string]string{"relation_type": "1.0.0"})
		assert.True(t, report.IsCompatible)
		assert.True(t, report.FullyCompatible)
		assert.Empty(t, report.Items)
	})
}
