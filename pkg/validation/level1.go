package validation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// adminCodeSegments is the required digit count of each administrative code
// position, separated by dots: province/district/subdistrict/community/block/parcel
var adminCodeSegments = []int{2, 2, 2, 3, 3, 5}

// Vocabulary domains checked for enum membership
const (
	domainBuildingType    = "building_type"
	domainUnitUse         = "unit_use"
	domainOccupancyStatus = "occupancy_status"
	domainGender          = "gender"
	domainRelationType    = "relation_type"
	domainEvidenceType    = "evidence_type"
	domainClaimType       = "claim_type"
)

// runLevel1 checks per-record data consistency: required fields, admin code
// shape, non-negative counts, vocabulary enum membership, sub-count
// plausibility (warning) and coarse coordinate bounds (warning).
func (r *Runner) runLevel1(ctx context.Context, tenantID string, rows *Rows, acc *issues) models.ValidationRunResult {
	ctx, span := tracing.StartSpan(ctx, "validation.Runner.runLevel1")
	defer span.End()

	start := time.Now()
	before := countIssues(acc)

	for _, b := range rows.Buildings {
		if err := checkAdminCode(b.AdminCode); err != "" {
			acc.addError(b.ID, err)
		}
		if b.FloorCount < 0 {
			acc.addError(b.ID, "floor_count must not be negative")
		}
		if b.UnitTotal < 0 {
			acc.addError(b.ID, "unit_total must not be negative")
		}
		if b.BuildingType != nil {
			r.checkCode(ctx, tenantID, acc, b.ID, domainBuildingType, *b.BuildingType)
		}
		checkBounds(acc, b.ID, b.Latitude, b.Longitude, r.cfg.Bounds)
	}

	for _, u := range rows.Units {
		if strings.TrimSpace(u.UnitNumber) == "" {
			acc.addError(u.ID, "unit_number is required")
		}
		if u.BuildingOriginalID == "" {
			acc.addError(u.ID, "building reference is required")
		}
		if u.AreaSqm != nil && *u.AreaSqm < 0 {
			acc.addError(u.ID, "area_sqm must not be negative")
		}
		if u.UnitUse != nil {
			r.checkCode(ctx, tenantID, acc, u.ID, domainUnitUse, *u.UnitUse)
		}
		if u.OccupancyStatus != nil {
			r.checkCode(ctx, tenantID, acc, u.ID, domainOccupancyStatus, *u.OccupancyStatus)
		}
	}

	for _, p := range rows.Persons {
		if strings.TrimSpace(p.FirstName) == "" {
			acc.addError(p.ID, "first_name is required")
		}
		if strings.TrimSpace(p.LastName) == "" {
			acc.addError(p.ID, "last_name is required")
		}
		if p.Gender != nil {
			r.checkCode(ctx, tenantID, acc, p.ID, domainGender, *p.Gender)
		}
		if p.DateOfBirth != nil && p.DateOfBirth.After(time.Now()) {
			acc.addError(p.ID, "date_of_birth is in the future")
		}
	}

	for _, h := range rows.Households {
		if h.UnitOriginalID == "" {
			acc.addError(h.ID, "unit reference is required")
		}
		if h.HeadPersonOriginalID == "" {
			acc.addError(h.ID, "head person reference is required")
		}
		if h.MemberTotal < 0 || h.MaleCount < 0 || h.FemaleCount < 0 || h.ChildCount < 0 {
			acc.addError(h.ID, "member counts must not be negative")
		} else {
			if h.MaleCount+h.FemaleCount > h.MemberTotal {
				acc.addWarning(h.ID, fmt.Sprintf("male_count + female_count (%d) exceeds member_total (%d)", h.MaleCount+h.FemaleCount, h.MemberTotal))
			}
			if h.ChildCount > h.MemberTotal {
				acc.addWarning(h.ID, fmt.Sprintf("child_count (%d) exceeds member_total (%d)", h.ChildCount, h.MemberTotal))
			}
		}
	}

	for _, rel := range rows.Relations {
		if rel.PersonOriginalID == "" {
			acc.addError(rel.ID, "person reference is required")
		}
		if rel.UnitOriginalID == "" {
			acc.addError(rel.ID, "unit reference is required")
		}
		r.checkCode(ctx, tenantID, acc, rel.ID, domainRelationType, rel.RelationType)
		if rel.StartDate != nil && rel.EndDate != nil && rel.EndDate.Before(*rel.StartDate) {
			acc.addError(rel.ID, "end_date is before start_date")
		}
	}

	for _, e := range rows.Evidence {
		if e.PersonOriginalID == "" {
			acc.addError(e.ID, "person reference is required")
		}
		r.checkCode(ctx, tenantID, acc, e.ID, domainEvidenceType, e.EvidenceType)
	}

	for _, c := range rows.Claims {
		if c.PersonOriginalID == "" {
			acc.addError(c.ID, "person reference is required")
		}
		if c.UnitOriginalID == "" {
			acc.addError(c.ID, "unit reference is required")
		}
		r.checkCode(ctx, tenantID, acc, c.ID, domainClaimType, c.ClaimType)
	}

	for _, s := range rows.Surveys {
		if s.BuildingOriginalID == "" {
			acc.addError(s.ID, "building reference is required")
		}
		if s.SurveyorUserID == "" {
			acc.addError(s.ID, "surveyor_user_id is required")
		}
		checkBounds(acc, s.ID, s.Latitude, s.Longitude, r.cfg.Bounds)
	}

	errs, warns := countIssuesSince(acc, before)
	return models.ValidationRunResult{
		Level:          1,
		ErrorCount:     errs,
		WarningCount:   warns,
		RecordsChecked: totalRows(rows),
		Duration:       time.Since(start),
	}
}

// checkAdminCode validates the dotted administrative code shape. Returns an
// empty string when the code is well formed.
func checkAdminCode(code string) string {
	parts := strings.Split(code, ".")
	if len(parts) != len(adminCodeSegments) {
		return fmt.Sprintf("admin_code must have %d segments, got %d", len(adminCodeSegments), len(parts))
	}
	for i, part := range parts {
		if len(part) != adminCodeSegments[i] {
			return fmt.Sprintf("admin_code segment %d must be %d digits", i+1, adminCodeSegments[i])
		}
		for _, ch := range part {
			if ch < '0' || ch > '9' {
				return fmt.Sprintf("admin_code segment %d contains a non-digit character", i+1)
			}
		}
	}
	return ""
}

func checkBounds(acc *issues, id string, lat, lon *float64, bounds Bounds) {
	if lat == nil || lon == nil {
		return
	}
	if !bounds.Contains(*lat, *lon) {
		acc.addWarning(id, fmt.Sprintf("coordinates (%.6f, %.6f) fall outside the program area", *lat, *lon))
	}
}

func (r *Runner) checkCode(ctx context.Context, tenantID string, acc *issues, id string, domain string, code int) {
	valid, err := r.vocab.IsValidCode(ctx, tenantID, domain, code)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"domain": domain}).Warn("Vocabulary lookup failed; skipping enum check")
		return
	}
	if !valid {
		acc.addError(id, fmt.Sprintf("%s code %d is not a member of the current vocabulary", domain, code))
	}
}

func countIssues(acc *issues) (counts [2]int) {
	for _, msgs := range acc.errors {
		counts[0] += len(msgs)
	}
	for _, msgs := range acc.warnings {
		counts[1] += len(msgs)
	}
	return counts
}

func countIssuesSince(acc *issues, before [2]int) (int, int) {
	after := countIssues(acc)
	return after[0] - before[0], after[1] - before[1]
}
