package matching

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Ramsey-B/clover/pkg/models"
)

func strPtr(s string) *string       { return &s }
func intPtr(n int) *int             { return &n }
func datePtr(t time.Time) *time.Time { return &t }

func TestComparePersons(t *testing.T) {
	s := NewScorer()
	dob := time.Date(1985, 3, 12, 0, 0, 0, 0, time.UTC)

	t.Run("same person with a typo scores above high threshold", func(t *testing.T) {
		a := &models.StagedPerson{
			FirstName:   "Amal",
			LastName:    "Haddad",
			NationalID:  strPtr("1002003004"),
			DateOfBirth: datePtr(dob),
			Gender:      intPtr(2),
		}
		b := &models.StagedPerson{
			FirstName:   "Amal",
			LastName:    "Hadad",
			NationalID:  strPtr("1002003004"),
			DateOfBirth: datePtr(dob),
			Gender:      intPtr(2),
		}

		sim := s.ComparePersons(a, b)
		assert.GreaterOrEqual(t, sim.Score, 90.0)
		assert.Equal(t, 1.0, sim.FieldScores["national_id"])
	})

	t.Run("different people score low", func(t *testing.T) {
		a := &models.StagedPerson{
			FirstName:  "Amal",
			LastName:   "Haddad",
			NationalID: strPtr("1002003004"),
		}
		b := &models.StagedPerson{
			FirstName:  "Yusuf",
			LastName:   "Khalil",
			NationalID: strPtr("9998887776"),
		}

		sim := s.ComparePersons(a, b)
		assert.Less(t, sim.Score, 50.0)
	})

	t.Run("missing optional fields are not scored", func(t *testing.T) {
		a := &models.StagedPerson{FirstName: "Amal", LastName: "Haddad"}
		b := &models.StagedPerson{FirstName: "Amal", LastName: "Haddad"}

		sim := s.ComparePersons(a, b)
		assert.InDelta(t, 100.0, sim.Score, 0.0001)
		assert.NotContains(t, sim.FieldScores, "national_id")
		assert.NotContains(t, sim.FieldScores, "date_of_birth")
	})
}

func TestCompareClaims(t *testing.T) {
	s := NewScorer()

	t.Run("competing claims on the same unit score high", func(t *testing.T) {
		a := &models.StagedClaim{UnitOriginalID: "u-1", PersonOriginalID: "p-1", ClaimType: 1, ContractNumber: strPtr("C-100")}
		b := &models.StagedClaim{UnitOriginalID: "u-1", PersonOriginalID: "p-2", ClaimType: 1, ContractNumber: strPtr("C-100")}

		sim := s.CompareClaims(a, b)
		assert.GreaterOrEqual(t, sim.Score, 75.0)
		assert.Equal(t, 1.0, sim.FieldScores["unit"])
		assert.Equal(t, 0.0, sim.FieldScores["person"])
	})

	t.Run("claims on different units score low", func(t *testing.T) {
		a := &models.StagedClaim{UnitOriginalID: "u-1", PersonOriginalID: "p-1", ClaimType: 1}
		b := &models.StagedClaim{UnitOriginalID: "u-2", PersonOriginalID: "p-2", ClaimType: 2}

		sim := s.CompareClaims(a, b)
		assert.Less(t, sim.Score, 40.0)
	})
}
