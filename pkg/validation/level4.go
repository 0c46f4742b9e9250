package validation

import (
	"context"
	"fmt"
	"time"

	"github.com/Ramsey-B/clover/pkg/matching"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// runLevel4 performs duplicate and overlap detection. Person pairs are scored
// staged-vs-staged within the package and staged-vs-committed against the
// system of record; claims are scored staged-vs-staged. Pairs at or above the
// medium threshold become ConflictResolution rows awaiting review; the high
// threshold only raises the priority.
func (r *Runner) runLevel4(ctx context.Context, tenantID string, packageID string, rows *Rows, acc *issues) (models.ValidationRunResult, bool, error) {
	ctx, span := tracing.StartSpan(ctx, "validation.Runner.runLevel4")
	defer span.End()

	start := time.Now()
	before := countIssues(acc)
	scorer := matching.NewScorer()

	var conflicts []models.ConflictResolution

	// staged-vs-staged persons
	for i := 0; i < len(rows.Persons); i++ {
		for j := i + 1; j < len(rows.Persons); j++ {
			a, b := rows.Persons[i], rows.Persons[j]
			sim := scorer.ComparePersons(a, b)
			if sim.Score < r.cfg.MediumThreshold {
				continue
			}
			conflicts = append(conflicts, r.newConflict(tenantID, packageID, models.FamilyPerson, models.ConflictTypeDuplicatePerson, a.ID, b.ID, false, sim))
			acc.addWarning(a.ID, fmt.Sprintf("possible duplicate of staged person %s (score %.1f)", b.OriginalID, sim.Score))
			acc.addWarning(b.ID, fmt.Sprintf("possible duplicate of staged person %s (score %.1f)", a.OriginalID, sim.Score))
		}
	}

	// staged-vs-committed persons
	for _, p := range rows.Persons {
		candidates, err := r.committed.SearchCommittedPersons(ctx, tenantID, p.NationalID, p.LastName, 50)
		if err != nil {
			return models.ValidationRunResult{}, false, err
		}
		for _, c := range candidates {
			committed := &models.StagedPerson{
				FirstName:   c.FirstName,
				LastName:    c.LastName,
				FatherName:  c.FatherName,
				NationalID:  c.NationalID,
				DateOfBirth: c.DateOfBirth,
				Gender:      c.Gender,
			}
			sim := scorer.ComparePersons(p, committed)
			if sim.Score < r.cfg.MediumThreshold {
				continue
			}
			conflicts = append(conflicts, r.newConflict(tenantID, packageID, models.FamilyPerson, models.ConflictTypeDuplicatePerson, p.ID, c.ID, true, sim))
			acc.addWarning(p.ID, fmt.Sprintf("possible duplicate of committed person %s (score %.1f)", c.ID, sim.Score))
		}
	}

	// overlapping claims on the same unit
	for i := 0; i < len(rows.Claims); i++ {
		for j := i + 1; j < len(rows.Claims); j++ {
			a, b := rows.Claims[i], rows.Claims[j]
			if a.UnitOriginalID != b.UnitOriginalID {
				continue
			}
			sim := scorer.CompareClaims(a, b)
			if sim.Score < r.cfg.MediumThreshold {
				continue
			}
			conflicts = append(conflicts, r.newConflict(tenantID, packageID, models.FamilyClaim, models.ConflictTypeOverlappingClaim, a.ID, b.ID, false, sim))
			acc.addWarning(a.ID, fmt.Sprintf("claim overlaps staged claim %s on unit %s (score %.1f)", b.OriginalID, a.UnitOriginalID, sim.Score))
			acc.addWarning(b.ID, fmt.Sprintf("claim overlaps staged claim %s on unit %s (score %.1f)", a.OriginalID, b.UnitOriginalID, sim.Score))
		}
	}

	if len(conflicts) > 0 {
		if err := r.conflicts.CreateBatch(ctx, conflicts); err != nil {
			return models.ValidationRunResult{}, false, err
		}
	}

	errs, warns := countIssuesSince(acc, before)
	return models.ValidationRunResult{
		Level:          4,
		ErrorCount:     errs,
		WarningCount:   warns,
		RecordsChecked: len(rows.Persons) + len(rows.Claims),
		Duration:       time.Since(start),
	}, len(conflicts) > 0, nil
}

func (r *Runner) newConflict(tenantID, packageID string, family models.EntityFamily, kind models.ConflictType, aID, bID string, bCommitted bool, sim matching.Similarity) models.ConflictResolution {
	priority := models.ConflictPriorityMedium
	if sim.Score >= r.cfg.HighThreshold {
		priority = models.ConflictPriorityHigh
	}
	conflict := models.ConflictResolution{
		TenantID:         tenantID,
		PackageID:        packageID,
		EntityType:       family,
		ConflictType:     kind,
		EntityAID:        aID,
		EntityBID:        bID,
		EntityBCommitted: bCommitted,
		SimilarityScore:  sim.Score,
		Status:           models.ConflictStatusPendingReview,
		Priority:         priority,
	}
	conflict.FieldScores.Data = sim.FieldScores
	return conflict
}
