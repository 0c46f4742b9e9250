package validation

import (
	"context"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	conflictrepo "github.com/Ramsey-B/clover/internal/repositories/conflict"
	"github.com/Ramsey-B/clover/internal/repositories/record"
	"github.com/Ramsey-B/clover/internal/repositories/staging"
	"github.com/Ramsey-B/clover/pkg/models"
)

var (
	_ store[*models.StagedPerson] = (*staging.Store[*models.StagedPerson])(nil)
	_ conflictWriter              = (*conflictrepo.Repository)(nil)
	_ committedSearcher           = (*record.Repository)(nil)
)

func newTestLogger() ectologger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

type fakeVocab struct {
	valid map[string]map[int]bool
}

func (f *fakeVocab) IsValidCode(ctx context.Context, tenantID, domain string, code int) (bool, error) {
	return f.valid[domain][code], nil
}

type fakeConflicts struct {
	created []models.ConflictResolution
}

func (f *fakeConflicts) CreateBatch(ctx context.Context, conflicts []models.ConflictResolution) error {
	f.created = append(f.created, conflicts...)
	return nil
}

type fakeCommitted struct {
	persons []CommittedPerson
	ids     map[models.EntityFamily]map[string]string
}

func (f *fakeCommitted) SearchCommittedPersons(ctx context.Context, tenantID string, nationalID *string, lastName string, limit int) ([]CommittedPerson, error) {
	return f.persons, nil
}

func (f *fakeCommitted) FindCommittedIDs(ctx context.Context, tenantID string, family models.EntityFamily, originalIDs []string) (map[string]string, error) {
	out := map[string]string{}
	for _, id := range originalIDs {
		if serverID, ok := f.ids[family][id]; ok {
			out[id] = serverID
		}
	}
	return out, nil
}

func testConfig() Config {
	return Config{
		HighThreshold:   90,
		MediumThreshold: 75,
		Bounds:          Bounds{MinLat: 30, MaxLat: 40, MinLon: 30, MaxLon: 45},
	}
}

func strPtr(s string) *string     { return &s }
func intPtr(n int) *int           { return &n }
func floatPtr(f float64) *float64 { return &f }

func header(id string) models.StagedHeader {
	return models.StagedHeader{ID: id, OriginalID: "orig-" + id, Status: models.ValidationStatusPending}
}

func TestCheckAdminCode(t *testing.T) {
	tests := []struct {
		name string
		code string
		ok   bool
	}{
		{name: "well formed", code: "01.02.03.001.002.00001", ok: true},
		{name: "too few segments", code: "01.02.03.001.002", ok: false},
		{name: "wrong segment length", code: "01.02.03.01.002.00001", ok: false},
		{name: "non-digit character", code: "01.02.0x.001.002.00001", ok: false},
		{name: "empty", code: "", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := checkAdminCode(tt.code)
			if tt.ok {
				assert.Empty(t, msg)
			} else {
				assert.NotEmpty(t, msg)
			}
		})
	}
}

func TestRunLevel1(t *testing.T) {
	vocab := &fakeVocab{valid: map[string]map[int]bool{
		"gender":        {1: true, 2: true},
		"relation_type": {1: true},
	}}
	r := NewRunner(Stores{}, vocab, nil, nil, testConfig(), newTestLogger())

	t.Run("clean rows pass", func(t *testing.T) {
		acc := newIssues()
		rows := &Rows{
			Buildings: []*models.StagedBuilding{{StagedHeader: header("b1"), AdminCode: "01.02.03.001.002.00001", Latitude: floatPtr(33.5), Longitude: floatPtr(36.3)}},
			Persons:   []*models.StagedPerson{{StagedHeader: header("p1"), FirstName: "Amal", LastName: "Haddad", Gender: intPtr(2)}},
		}
		result := r.runLevel1(context.Background(), "tenant-1", rows, acc)
		assert.Equal(t, 1, result.Level)
		assert.Zero(t, result.ErrorCount)
		assert.Empty(t, acc.errors)
	})

	t.Run("unknown vocab code is an error", func(t *testing.T) {
		acc := newIssues()
		rows := &Rows{
			Persons: []*models.StagedPerson{{StagedHeader: header("p1"), FirstName: "Amal", LastName: "Haddad", Gender: intPtr(9)}},
		}
		result := r.runLevel1(context.Background(), "tenant-1", rows, acc)
		assert.Equal(t, 1, result.ErrorCount)
		assert.Len(t, acc.errors["p1"], 1)
	})

	t.Run("out of bounds coordinates warn only", func(t *testing.T) {
		acc := newIssues()
		rows := &Rows{
			Buildings: []*models.StagedBuilding{{StagedHeader: header("b1"), AdminCode: "01.02.03.001.002.00001", Latitude: floatPtr(55.0), Longitude: floatPtr(10.0)}},
		}
		result := r.runLevel1(context.Background(), "tenant-1", rows, acc)
		assert.Zero(t, result.ErrorCount)
		assert.Equal(t, 1, result.WarningCount)
	})

	t.Run("household sub-count overflow warns", func(t *testing.T) {
		acc := newIssues()
		rows := &Rows{
			Households: []*models.StagedHousehold{{
				StagedHeader: header("h1"), UnitOriginalID: "u1", HeadPersonOriginalID: "p1",
				MemberTotal: 3, MaleCount: 2, FemaleCount: 2,
			}},
		}
		result := r.runLevel1(context.Background(), "tenant-1", rows, acc)
		assert.Zero(t, result.ErrorCount)
		assert.Equal(t, 1, result.WarningCount)
	})

	t.Run("missing required fields are errors", func(t *testing.T) {
		acc := newIssues()
		rows := &Rows{
			Persons: []*models.StagedPerson{{StagedHeader: header("p1"), FirstName: "", LastName: ""}},
		}
		result := r.runLevel1(context.Background(), "tenant-1", rows, acc)
		assert.Equal(t, 2, result.ErrorCount)
	})
}

func TestRunLevel2(t *testing.T) {
	t.Run("dangling relation reference is an error", func(t *testing.T) {
		r := NewRunner(Stores{}, nil, nil, &fakeCommitted{}, testConfig(), newTestLogger())
		acc := newIssues()
		rows := &Rows{
			Persons:   []*models.StagedPerson{{StagedHeader: header("p1"), FirstName: "Amal", LastName: "Haddad"}},
			Units:     []*models.StagedUnit{{StagedHeader: header("u1"), BuildingOriginalID: "orig-b1", UnitNumber: "1"}},
			Buildings: []*models.StagedBuilding{{StagedHeader: header("b1")}},
			Relations: []*models.StagedRelation{{
				StagedHeader:     header("r1"),
				PersonOriginalID: "missing-person",
				UnitOriginalID:   "orig-u1",
				RelationType:     1,
			}},
		}
		result, err := r.runLevel2(context.Background(), "tenant-1", rows, acc)
		require.NoError(t, err)
		assert.Equal(t, 1, result.ErrorCount)
		require.Len(t, acc.errors["r1"], 1)
		assert.Contains(t, acc.errors["r1"][0], "missing-person")
	})

	t.Run("complete references pass", func(t *testing.T) {
		r := NewRunner(Stores{}, nil, nil, &fakeCommitted{}, testConfig(), newTestLogger())
		acc := newIssues()
		rows := &Rows{
			Buildings: []*models.StagedBuilding{{StagedHeader: header("b1")}},
			Units:     []*models.StagedUnit{{StagedHeader: header("u1"), BuildingOriginalID: "orig-b1"}},
			Persons:   []*models.StagedPerson{{StagedHeader: header("p1")}},
			Claims: []*models.StagedClaim{{
				StagedHeader:     header("c1"),
				PersonOriginalID: "orig-p1",
				UnitOriginalID:   "orig-u1",
			}},
		}
		result, err := r.runLevel2(context.Background(), "tenant-1", rows, acc)
		require.NoError(t, err)
		assert.Zero(t, result.ErrorCount)
	})

	t.Run("references to previously committed entities pass", func(t *testing.T) {
		// a delta package can reference entities an earlier package committed
		committed := &fakeCommitted{ids: map[models.EntityFamily]map[string]string{
			models.FamilyBuilding: {"orig-b0": "srv-b0"},
			models.FamilyPerson:   {"orig-p0": "srv-p0"},
		}}
		r := NewRunner(Stores{}, nil, nil, committed, testConfig(), newTestLogger())
		acc := newIssues()
		rows := &Rows{
			Units: []*models.StagedUnit{{StagedHeader: header("u1"), BuildingOriginalID: "orig-b0"}},
			Evidence: []*models.StagedEvidence{{
				StagedHeader:     header("e1"),
				PersonOriginalID: "orig-p0",
			}},
		}
		result, err := r.runLevel2(context.Background(), "tenant-1", rows, acc)
		require.NoError(t, err)
		assert.Zero(t, result.ErrorCount)
		assert.Empty(t, acc.errors)
	})

	t.Run("reference unknown to package and committed records fails", func(t *testing.T) {
		committed := &fakeCommitted{ids: map[models.EntityFamily]map[string]string{
			models.FamilyBuilding: {"orig-b0": "srv-b0"},
		}}
		r := NewRunner(Stores{}, nil, nil, committed, testConfig(), newTestLogger())
		acc := newIssues()
		rows := &Rows{
			Units: []*models.StagedUnit{{StagedHeader: header("u1"), BuildingOriginalID: "orig-b9"}},
		}
		result, err := r.runLevel2(context.Background(), "tenant-1", rows, acc)
		require.NoError(t, err)
		assert.Equal(t, 1, result.ErrorCount)
		require.Len(t, acc.errors["u1"], 1)
		assert.Contains(t, acc.errors["u1"][0], "orig-b9")
	})
}

func TestRunLevel3(t *testing.T) {
	contractDate := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		claim  *models.StagedClaim
		errors int
	}{
		{
			name:   "zero ownership share",
			claim:  &models.StagedClaim{StagedHeader: header("c1"), OwnershipShare: 0},
			errors: 1,
		},
		{
			name: "rental contract missing number and date",
			claim: &models.StagedClaim{
				StagedHeader: header("c1"), OwnershipShare: 1,
				ContractType: intPtr(models.ContractTypeRental),
			},
			errors: 2,
		},
		{
			name: "purchase contract fully specified",
			claim: &models.StagedClaim{
				StagedHeader: header("c1"), OwnershipShare: 0.5,
				ContractType:   intPtr(models.ContractTypePurchase),
				ContractNumber: strPtr("C-100"),
				ContractDate:   &contractDate,
			},
			errors: 0,
		},
		{
			name:   "share above one",
			claim:  &models.StagedClaim{StagedHeader: header("c1"), OwnershipShare: 1.5},
			errors: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acc := newIssues()
			result := runLevel3(&Rows{Claims: []*models.StagedClaim{tt.claim}}, acc)
			assert.Equal(t, tt.errors, result.ErrorCount)
		})
	}
}

func TestRunLevel4(t *testing.T) {
	dob := time.Date(1985, 3, 12, 0, 0, 0, 0, time.UTC)

	t.Run("near-duplicate staged persons raise a high priority conflict", func(t *testing.T) {
		conflicts := &fakeConflicts{}
		r := NewRunner(Stores{}, nil, conflicts, &fakeCommitted{}, testConfig(), newTestLogger())

		rows := &Rows{Persons: []*models.StagedPerson{
			{StagedHeader: header("p1"), FirstName: "Amal", LastName: "Haddad", NationalID: strPtr("1002003004"), DateOfBirth: &dob, Gender: intPtr(2)},
			{StagedHeader: header("p2"), FirstName: "Amal", LastName: "Hadad", NationalID: strPtr("1002003004"), DateOfBirth: &dob, Gender: intPtr(2)},
		}}

		acc := newIssues()
		result, hasConflicts, err := r.runLevel4(context.Background(), "tenant-1", "pkg-1", rows, acc)
		require.NoError(t, err)
		assert.True(t, hasConflicts)
		assert.Equal(t, 4, result.Level)
		require.Len(t, conflicts.created, 1)
		assert.Equal(t, models.ConflictPriorityHigh, conflicts.created[0].Priority)
		assert.Equal(t, models.ConflictStatusPendingReview, conflicts.created[0].Status)
		assert.False(t, conflicts.created[0].EntityBCommitted)
	})

	t.Run("committed duplicate is flagged with entity_b_committed", func(t *testing.T) {
		conflicts := &fakeConflicts{}
		committed := &fakeCommitted{persons: []CommittedPerson{{
			ID: "server-1", FirstName: "Amal", LastName: "Haddad",
			NationalID: strPtr("1002003004"), DateOfBirth: &dob, Gender: intPtr(2),
		}}}
		r := NewRunner(Stores{}, nil, conflicts, committed, testConfig(), newTestLogger())

		rows := &Rows{Persons: []*models.StagedPerson{
			{StagedHeader: header("p1"), FirstName: "Amal", LastName: "Haddad", NationalID: strPtr("1002003004"), DateOfBirth: &dob, Gender: intPtr(2)},
		}}

		acc := newIssues()
		_, hasConflicts, err := r.runLevel4(context.Background(), "tenant-1", "pkg-1", rows, acc)
		require.NoError(t, err)
		assert.True(t, hasConflicts)
		require.Len(t, conflicts.created, 1)
		assert.True(t, conflicts.created[0].EntityBCommitted)
		assert.Equal(t, "server-1", conflicts.created[0].EntityBID)
	})

	t.Run("distinct persons raise nothing", func(t *testing.T) {
		conflicts := &fakeConflicts{}
		r := NewRunner(Stores{}, nil, conflicts, &fakeCommitted{}, testConfig(), newTestLogger())

		rows := &Rows{Persons: []*models.StagedPerson{
			{StagedHeader: header("p1"), FirstName: "Amal", LastName: "Haddad", NationalID: strPtr("1002003004")},
			{StagedHeader: header("p2"), FirstName: "Yusuf", LastName: "Khalil", NationalID: strPtr("9998887776")},
		}}

		acc := newIssues()
		_, hasConflicts, err := r.runLevel4(context.Background(), "tenant-1", "pkg-1", rows, acc)
		require.NoError(t, err)
		assert.False(t, hasConflicts)
		assert.Empty(t, conflicts.created)
	})

	t.Run("competing claims on the same unit raise an overlap conflict", func(t *testing.T) {
		conflicts := &fakeConflicts{}
		r := NewRunner(Stores{}, nil, conflicts, &fakeCommitted{}, testConfig(), newTestLogger())

		rows := &Rows{Claims: []*models.StagedClaim{
			{StagedHeader: header("c1"), UnitOriginalID: "u-1", PersonOriginalID: "p-1", ClaimType: 1, ContractNumber: strPtr("C-100")},
			{StagedHeader: header("c2"), UnitOriginalID: "u-1", PersonOriginalID: "p-2", ClaimType: 1, ContractNumber: strPtr("C-100")},
		}}

		acc := newIssues()
		_, hasConflicts, err := r.runLevel4(context.Background(), "tenant-1", "pkg-1", rows, acc)
		require.NoError(t, err)
		assert.True(t, hasConflicts)
		require.Len(t, conflicts.created, 1)
		assert.Equal(t, models.ConflictTypeOverlappingClaim, conflicts.created[0].ConflictType)
	})
}

func TestRunLevel5(t *testing.T) {
	cfg := testConfig()
	cfg.SurveyMaxDriftMeters = 500

	t.Run("survey far from its building is an error", func(t *testing.T) {
		acc := newIssues()
		rows := &Rows{
			Buildings: []*models.StagedBuilding{{StagedHeader: header("b1"), Latitude: floatPtr(33.5000), Longitude: floatPtr(36.3000)}},
			Surveys: []*models.StagedSurvey{{
				StagedHeader: header("s1"), BuildingOriginalID: "orig-b1",
				Latitude: floatPtr(33.5200), Longitude: floatPtr(36.3000), // ~2.2km north
			}},
		}
		result := runLevel5(rows, acc, cfg)
		assert.Equal(t, 1, result.ErrorCount)
	})

	t.Run("survey close to its building passes", func(t *testing.T) {
		acc := newIssues()
		rows := &Rows{
			Buildings: []*models.StagedBuilding{{StagedHeader: header("b1"), Latitude: floatPtr(33.5000), Longitude: floatPtr(36.3000)}},
			Surveys: []*models.StagedSurvey{{
				StagedHeader: header("s1"), BuildingOriginalID: "orig-b1",
				Latitude: floatPtr(33.5001), Longitude: floatPtr(36.3001),
			}},
		}
		result := runLevel5(rows, acc, cfg)
		assert.Zero(t, result.ErrorCount)
	})

	t.Run("coinciding buildings warn", func(t *testing.T) {
		acc := newIssues()
		rows := &Rows{
			Buildings: []*models.StagedBuilding{
				{StagedHeader: header("b1"), Latitude: floatPtr(33.5), Longitude: floatPtr(36.3)},
				{StagedHeader: header("b2"), Latitude: floatPtr(33.5), Longitude: floatPtr(36.3)},
			},
		}
		result := runLevel5(rows, acc, cfg)
		assert.Zero(t, result.ErrorCount)
		assert.Equal(t, 2, result.WarningCount)
	})
}

func TestHaversineMeters(t *testing.T) {
	// one degree of latitude is about 111km
	d := haversineMeters(33.0, 36.0, 34.0, 36.0)
	assert.InDelta(t, 111195, d, 200)
	assert.Zero(t, haversineMeters(33.5, 36.3, 33.5, 36.3))
}
