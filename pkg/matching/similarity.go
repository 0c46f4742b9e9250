package matching

import (
	"strings"

	"github.com/Ramsey-B/clover/pkg/models"
)

// Similarity is a 0-100 aggregate with the per-field breakdown kept for the
// review UI
type Similarity struct {
	Score       float64
	FieldScores map[string]float64
}

var personWeights = map[string]float64{
	"national_id":   5.0,
	"first_name":    2.0,
	"last_name":     2.0,
	"father_name":   1.5,
	"date_of_birth": 2.0,
	"gender":        0.5,
}

var claimWeights = map[string]float64{
	"unit":            4.0,
	"claim_type":      2.0,
	"person":          2.0,
	"contract_number": 1.5,
}

// ComparePersons scores two person records for duplicate detection. A shared
// national id dominates the weighting; names use Jaro-Winkler so transposed
// or slightly misspelled fields still score high.
func (s *Scorer) ComparePersons(a, b *models.StagedPerson) Similarity {
	scores := map[string]float64{
		"first_name": s.JaroWinkler(normalizeName(a.FirstName), normalizeName(b.FirstName)),
		"last_name":  s.JaroWinkler(normalizeName(a.LastName), normalizeName(b.LastName)),
	}

	if a.NationalID != nil && b.NationalID != nil && *a.NationalID != "" && *b.NationalID != "" {
		scores["national_id"] = s.ExactMatch(*a.NationalID, *b.NationalID, false)
	}
	if a.FatherName != nil && b.FatherName != nil {
		scores["father_name"] = s.JaroWinkler(normalizeName(*a.FatherName), normalizeName(*b.FatherName))
	}
	if a.DateOfBirth != nil && b.DateOfBirth != nil {
		scores["date_of_birth"] = s.DateProximity(*a.DateOfBirth, *b.DateOfBirth, 365)
	}
	if a.Gender != nil && b.Gender != nil {
		if *a.Gender == *b.Gender {
			scores["gender"] = 1.0
		} else {
			scores["gender"] = 0.0
		}
	}

	return Similarity{
		Score:       s.WeightedScore(scores, personWeights) * 100,
		FieldScores: scores,
	}
}

// CompareClaims scores two ownership claims for overlap detection. Claims on
// the same unit by different persons are the interesting case; the unit match
// carries most of the weight.
func (s *Scorer) CompareClaims(a, b *models.StagedClaim) Similarity {
	scores := map[string]float64{
		"unit":   s.ExactMatch(a.UnitOriginalID, b.UnitOriginalID, false),
		"person": s.ExactMatch(a.PersonOriginalID, b.PersonOriginalID, false),
	}

	if a.ClaimType == b.ClaimType {
		scores["claim_type"] = 1.0
	} else {
		scores["claim_type"] = 0.0
	}
	if a.ContractNumber != nil && b.ContractNumber != nil && *a.ContractNumber != "" && *b.ContractNumber != "" {
		scores["contract_number"] = s.ExactMatch(*a.ContractNumber, *b.ContractNumber, false)
	}

	return Similarity{
		Score:       s.WeightedScore(scores, claimWeights) * 100,
		FieldScores: scores,
	}
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
