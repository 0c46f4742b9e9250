package validation

import (
	"context"
	"fmt"
	"time"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// runLevel2 checks cross-family referential integrity. References use the
// original (device-generated) identifiers and resolve against the package
// first; a reference the package does not satisfy may point at an entity a
// previous package already committed, so those are looked up in the
// system-of-record tables before being reported as dangling.
func (r *Runner) runLevel2(ctx context.Context, tenantID string, rows *Rows, acc *issues) (models.ValidationRunResult, error) {
	ctx, span := tracing.StartSpan(ctx, "validation.Runner.runLevel2")
	defer span.End()

	start := time.Now()
	before := countIssues(acc)

	buildings := map[string]bool{}
	for _, b := range rows.Buildings {
		buildings[b.OriginalID] = true
	}
	units := map[string]bool{}
	for _, u := range rows.Units {
		units[u.OriginalID] = true
	}
	persons := map[string]bool{}
	for _, p := range rows.Persons {
		persons[p.OriginalID] = true
	}

	if err := r.mergeCommitted(ctx, tenantID, models.FamilyBuilding, buildings, buildingRefs(rows)); err != nil {
		return models.ValidationRunResult{}, err
	}
	if err := r.mergeCommitted(ctx, tenantID, models.FamilyUnit, units, unitRefs(rows)); err != nil {
		return models.ValidationRunResult{}, err
	}
	if err := r.mergeCommitted(ctx, tenantID, models.FamilyPerson, persons, personRefs(rows)); err != nil {
		return models.ValidationRunResult{}, err
	}

	for _, u := range rows.Units {
		if u.BuildingOriginalID != "" && !buildings[u.BuildingOriginalID] {
			acc.addError(u.ID, fmt.Sprintf("unit references building %s which is not in the package or committed", u.BuildingOriginalID))
		}
	}

	for _, h := range rows.Households {
		if h.UnitOriginalID != "" && !units[h.UnitOriginalID] {
			acc.addError(h.ID, fmt.Sprintf("household references unit %s which is not in the package or committed", h.UnitOriginalID))
		}
		if h.HeadPersonOriginalID != "" && !persons[h.HeadPersonOriginalID] {
			acc.addError(h.ID, fmt.Sprintf("household references head person %s which is not in the package or committed", h.HeadPersonOriginalID))
		}
	}

	for _, rel := range rows.Relations {
		if rel.PersonOriginalID != "" && !persons[rel.PersonOriginalID] {
			acc.addError(rel.ID, fmt.Sprintf("relation references person %s which is not in the package or committed", rel.PersonOriginalID))
		}
		if rel.UnitOriginalID != "" && !units[rel.UnitOriginalID] {
			acc.addError(rel.ID, fmt.Sprintf("relation references unit %s which is not in the package or committed", rel.UnitOriginalID))
		}
	}

	for _, e := range rows.Evidence {
		if e.PersonOriginalID != "" && !persons[e.PersonOriginalID] {
			acc.addError(e.ID, fmt.Sprintf("evidence references person %s which is not in the package or committed", e.PersonOriginalID))
		}
	}

	for _, c := range rows.Claims {
		if c.PersonOriginalID != "" && !persons[c.PersonOriginalID] {
			acc.addError(c.ID, fmt.Sprintf("claim references person %s which is not in the package or committed", c.PersonOriginalID))
		}
		if c.UnitOriginalID != "" && !units[c.UnitOriginalID] {
			acc.addError(c.ID, fmt.Sprintf("claim references unit %s which is not in the package or committed", c.UnitOriginalID))
		}
	}

	for _, s := range rows.Surveys {
		if s.BuildingOriginalID != "" && !buildings[s.BuildingOriginalID] {
			acc.addError(s.ID, fmt.Sprintf("survey references building %s which is not in the package or committed", s.BuildingOriginalID))
		}
	}

	errs, warns := countIssuesSince(acc, before)
	return models.ValidationRunResult{
		Level:          2,
		ErrorCount:     errs,
		WarningCount:   warns,
		RecordsChecked: totalRows(rows),
		Duration:       time.Since(start),
	}, nil
}

// mergeCommitted adds committed original ids to the known set for every
// referenced id the package itself does not contain. One lookup per family
// per run.
func (r *Runner) mergeCommitted(ctx context.Context, tenantID string, family models.EntityFamily, known map[string]bool, refs []string) error {
	var missing []string
	seen := map[string]bool{}
	for _, id := range refs {
		if id == "" || known[id] || seen[id] {
			continue
		}
		seen[id] = true
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return nil
	}

	found, err := r.committed.FindCommittedIDs(ctx, tenantID, family, missing)
	if err != nil {
		return err
	}
	for id := range found {
		known[id] = true
	}
	return nil
}

func buildingRefs(rows *Rows) []string {
	var refs []string
	for _, u := range rows.Units {
		refs = append(refs, u.BuildingOriginalID)
	}
	for _, s := range rows.Surveys {
		refs = append(refs, s.BuildingOriginalID)
	}
	return refs
}

func unitRefs(rows *Rows) []string {
	var refs []string
	for _, h := range rows.Households {
		refs = append(refs, h.UnitOriginalID)
	}
	for _, rel := range rows.Relations {
		refs = append(refs, rel.UnitOriginalID)
	}
	for _, c := range rows.Claims {
		refs = append(refs, c.UnitOriginalID)
	}
	return refs
}

func personRefs(rows *Rows) []string {
	var refs []string
	for _, h := range rows.Households {
		refs = append(refs, h.HeadPersonOriginalID)
	}
	for _, rel := range rows.Relations {
		refs = append(refs, rel.PersonOriginalID)
	}
	for _, e := range rows.Evidence {
		refs = append(refs, e.PersonOriginalID)
	}
	for _, c := range rows.Claims {
		refs = append(refs, c.PersonOriginalID)
	}
	return refs
}
