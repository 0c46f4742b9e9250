package commit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Ramsey-B/clover/internal/repositories/audit"
	conflictrepo "github.com/Ramsey-B/clover/internal/repositories/conflict"
	"github.com/Ramsey-B/clover/internal/repositories/importpackage"
	"github.com/Ramsey-B/clover/internal/repositories/record"
	"github.com/Ramsey-B/clover/internal/repositories/staging"
	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
)

// the concrete repositories bind to the engine's dependency surfaces
var (
	_ packageRepo                          = (*importpackage.Repository)(nil)
	_ conflictRepo                         = (*conflictrepo.Repository)(nil)
	_ stagingStore[*models.StagedBuilding] = (*staging.Store[*models.StagedBuilding])(nil)
	_ recordWriter                         = (*record.Repository)(nil)
	_ auditor                              = (*audit.Repository)(nil)
)

func newTestLogger() ectologger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

type fakeTx struct {
	database.Tx
	committed  bool
	rolledBack bool
}

func (f *fakeTx) IsOpen() bool { return !f.committed && !f.rolledBack }

func (f *fakeTx) Commit(ctx context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(ctx context.Context) error {
	if !f.committed {
		f.rolledBack = true
	}
	return nil
}

type fakeDB struct {
	database.DB
	tx *fakeTx
}

func (f *fakeDB) GetTx(ctx context.Context, opts *sql.TxOptions) (context.Context, database.Tx, error) {
	return ctx, f.tx, nil
}

type fakePackages struct {
	pkg      *models.ImportPackage
	statuses []models.PackageStatus
	reason   *string
}

func (f *fakePackages) Get(ctx context.Context, tenantID, id string) (*models.ImportPackage, error) {
	return f.pkg, nil
}

func (f *fakePackages) UpdateStatus(ctx context.Context, tenantID, id string, status models.PackageStatus, reason *string) error {
	f.statuses = append(f.statuses, status)
	f.reason = reason
	return nil
}

type fakeConflicts struct {
	pending  int
	resolved []models.ConflictResolution
}

func (f *fakeConflicts) CountPendingByPackage(ctx context.Context, tenantID, packageID string) (int, error) {
	return f.pending, nil
}

func (f *fakeConflicts) ListByPackage(ctx context.Context, tenantID, packageID string, status models.ConflictStatus, page, pageSize int) ([]models.ConflictResolution, int, error) {
	if status == models.ConflictStatusResolved {
		return f.resolved, len(f.resolved), nil
	}
	return nil, 0, nil
}

type fakeStore[T models.StagedRow] struct {
	rows      []T
	committed map[string]string
}

func (f *fakeStore[T]) ListByPackage(ctx context.Context, tenantID, packageID string) ([]T, error) {
	return f.rows, nil
}

func (f *fakeStore[T]) SetCommittedID(ctx context.Context, tenantID, id, committedID string) error {
	if f.committed == nil {
		f.committed = map[string]string{}
	}
	f.committed[id] = committedID
	return nil
}

type insertCall struct {
	family models.EntityFamily
	refs   []string
}

type fakeRecords struct {
	seq        int
	calls      []insertCall
	failFamily models.EntityFamily
	committed  map[models.EntityFamily]map[string]string
}

func (f *fakeRecords) FindCommittedIDs(ctx context.Context, tenantID string, family models.EntityFamily, originalIDs []string) (map[string]string, error) {
	out := map[string]string{}
	for _, id := range originalIDs {
		if serverID, ok := f.committed[family][id]; ok {
			out[id] = serverID
		}
	}
	return out, nil
}

func (f *fakeRecords) next(family models.EntityFamily, refs ...string) (string, error) {
	if family == f.failFamily {
		return "", errors.New("insert failed")
	}
	f.seq++
	f.calls = append(f.calls, insertCall{family: family, refs: refs})
	return fmt.Sprintf("srv-%d", f.seq), nil
}

func (f *fakeRecords) InsertBuilding(ctx context.Context, row *models.StagedBuilding) (string, error) {
	return f.next(models.FamilyBuilding)
}
func (f *fakeRecords) InsertUnit(ctx context.Context, row *models.StagedUnit, buildingID string) (string, error) {
	return f.next(models.FamilyUnit, buildingID)
}
func (f *fakeRecords) InsertPerson(ctx context.Context, row *models.StagedPerson) (string, error) {
	return f.next(models.FamilyPerson)
}
func (f *fakeRecords) InsertHousehold(ctx context.Context, row *models.StagedHousehold, unitID, headPersonID string) (string, error) {
	return f.next(models.FamilyHousehold, unitID, headPersonID)
}
func (f *fakeRecords) InsertRelation(ctx context.Context, row *models.StagedRelation, personID, unitID string) (string, error) {
	return f.next(models.FamilyRelation, personID, unitID)
}
func (f *fakeRecords) InsertEvidence(ctx context.Context, row *models.StagedEvidence, personID string) (string, error) {
	return f.next(models.FamilyEvidence, personID)
}
func (f *fakeRecords) InsertClaim(ctx context.Context, row *models.StagedClaim, personID, unitID string) (string, error) {
	return f.next(models.FamilyClaim, personID, unitID)
}
func (f *fakeRecords) InsertSurvey(ctx context.Context, row *models.StagedSurvey, buildingID string) (string, error) {
	return f.next(models.FamilySurvey, buildingID)
}

type fakeAudit struct {
	entries []models.AuditEntry
}

func (f *fakeAudit) Insert(ctx context.Context, entry models.AuditEntry) {
	f.entries = append(f.entries, entry)
}

type fixture struct {
	engine    *Engine
	db        *fakeDB
	packages  *fakePackages
	conflicts *fakeConflicts
	records   *fakeRecords
	audit     *fakeAudit

	buildings  *fakeStore[*models.StagedBuilding]
	units      *fakeStore[*models.StagedUnit]
	persons    *fakeStore[*models.StagedPerson]
	households *fakeStore[*models.StagedHousehold]
	relations  *fakeStore[*models.StagedRelation]
	evidence   *fakeStore[*models.StagedEvidence]
	claims     *fakeStore[*models.StagedClaim]
	surveys    *fakeStore[*models.StagedSurvey]
}

func approved(id, originalID string) models.StagedHeader {
	return models.StagedHeader{ID: id, OriginalID: originalID, Status: models.ValidationStatusApprovedForCommit}
}

func newFixture() *fixture {
	f := &fixture{
		db:        &fakeDB{tx: &fakeTx{}},
		packages:  &fakePackages{pkg: &models.ImportPackage{ID: "pkg-1", Status: models.PackageStatusReadyToCommit}},
		conflicts: &fakeConflicts{},
		records:   &fakeRecords{},
		audit:     &fakeAudit{},

		buildings:  &fakeStore[*models.StagedBuilding]{},
		units:      &fakeStore[*models.StagedUnit]{},
		persons:    &fakeStore[*models.StagedPerson]{},
		households: &fakeStore[*models.StagedHousehold]{},
		relations:  &fakeStore[*models.StagedRelation]{},
		evidence:   &fakeStore[*models.StagedEvidence]{},
		claims:     &fakeStore[*models.StagedClaim]{},
		surveys:    &fakeStore[*models.StagedSurvey]{},
	}
	f.engine = NewEngine(f.db, f.packages, f.conflicts, Stores{
		Buildings:  f.buildings,
		Units:      f.units,
		Persons:    f.persons,
		Households: f.households,
		Relations:  f.relations,
		Evidence:   f.evidence,
		Claims:     f.claims,
		Surveys:    f.surveys,
	}, f.records, f.audit, newTestLogger())
	return f
}

func TestCommitHappyPath(t *testing.T) {
	f := newFixture()
	f.buildings.rows = []*models.StagedBuilding{{StagedHeader: approved("b1", "orig-b1")}}
	f.units.rows = []*models.StagedUnit{{StagedHeader: approved("u1", "orig-u1"), BuildingOriginalID: "orig-b1"}}
	f.persons.rows = []*models.StagedPerson{{StagedHeader: approved("p1", "orig-p1")}}
	f.claims.rows = []*models.StagedClaim{{StagedHeader: approved("c1", "orig-c1"), PersonOriginalID: "orig-p1", UnitOriginalID: "orig-u1"}}

	result, err := f.engine.Commit(context.Background(), "tenant-1", "pkg-1", "actor-1")
	require.NoError(t, err)

	assert.Equal(t, 1, result.Committed[models.FamilyBuilding])
	assert.Equal(t, 1, result.Committed[models.FamilyClaim])
	assert.Zero(t, result.Skipped)

	// foreign keys are remapped to server identifiers
	require.Len(t, f.records.calls, 4)
	assert.Equal(t, []string{"srv-1"}, f.records.calls[1].refs)           // unit -> building
	assert.Equal(t, []string{"srv-3", "srv-2"}, f.records.calls[3].refs) // claim -> person, unit

	assert.Equal(t, "srv-1", f.buildings.committed["b1"])
	assert.True(t, f.db.tx.committed)
	assert.Equal(t, []models.PackageStatus{models.PackageStatusCommitting, models.PackageStatusCompleted}, f.packages.statuses)
	require.Len(t, f.audit.entries, 1)
	assert.Equal(t, models.AuditActionPackageCommitted, f.audit.entries[0].Action)
}

func TestCommitRequiresReadyToCommit(t *testing.T) {
	f := newFixture()
	f.packages.pkg.Status = models.PackageStatusValidated

	_, err := f.engine.Commit(context.Background(), "tenant-1", "pkg-1", "actor-1")
	assert.ErrorIs(t, err, models.ErrNotCommittable)
	assert.Empty(t, f.packages.statuses)
}

func TestCommitBlocksOnOpenConflicts(t *testing.T) {
	f := newFixture()
	f.conflicts.pending = 1

	_, err := f.engine.Commit(context.Background(), "tenant-1", "pkg-1", "actor-1")
	assert.ErrorIs(t, err, models.ErrUnresolvedConflict)
}

func TestCommitBlocksOnUnapprovedRows(t *testing.T) {
	f := newFixture()
	f.persons.rows = []*models.StagedPerson{{StagedHeader: models.StagedHeader{
		ID: "p1", OriginalID: "orig-p1", Status: models.ValidationStatusValid,
	}}}

	_, err := f.engine.Commit(context.Background(), "tenant-1", "pkg-1", "actor-1")
	assert.ErrorIs(t, err, models.ErrNotCommittable)
	assert.Empty(t, f.records.calls)
}

func TestCommitSkipsAlreadyCommittedRows(t *testing.T) {
	f := newFixture()
	serverID := "srv-existing"
	f.buildings.rows = []*models.StagedBuilding{{StagedHeader: models.StagedHeader{
		ID: "b1", OriginalID: "orig-b1",
		Status:            models.ValidationStatusCommitted,
		CommittedEntityID: &serverID,
	}}}
	f.units.rows = []*models.StagedUnit{{StagedHeader: approved("u1", "orig-u1"), BuildingOriginalID: "orig-b1"}}

	result, err := f.engine.Commit(context.Background(), "tenant-1", "pkg-1", "actor-1")
	require.NoError(t, err)

	assert.Equal(t, 1, result.Skipped)
	assert.Zero(t, result.Committed[models.FamilyBuilding])
	// the unit still wires to the previously committed building
	require.Len(t, f.records.calls, 1)
	assert.Equal(t, []string{"srv-existing"}, f.records.calls[0].refs)
}

func TestCommitResolvesReferencesToCommittedEntities(t *testing.T) {
	f := newFixture()
	// the delta package carries only the unit; its building was committed by
	// an earlier package and resolves by original identifier
	f.records.committed = map[models.EntityFamily]map[string]string{
		models.FamilyBuilding: {"orig-b0": "srv-prior"},
	}
	f.units.rows = []*models.StagedUnit{{StagedHeader: approved("u1", "orig-u1"), BuildingOriginalID: "orig-b0"}}

	result, err := f.engine.Commit(context.Background(), "tenant-1", "pkg-1", "actor-1")
	require.NoError(t, err)

	assert.Equal(t, 1, result.Committed[models.FamilyUnit])
	require.Len(t, f.records.calls, 1)
	assert.Equal(t, []string{"srv-prior"}, f.records.calls[0].refs)
	assert.True(t, f.db.tx.committed)
}

func TestCommitFailsOnUnknownReference(t *testing.T) {
	f := newFixture()
	f.units.rows = []*models.StagedUnit{{StagedHeader: approved("u1", "orig-u1"), BuildingOriginalID: "orig-missing"}}

	_, err := f.engine.Commit(context.Background(), "tenant-1", "pkg-1", "actor-1")
	require.Error(t, err)

	var commitErr *models.CommitError
	require.ErrorAs(t, err, &commitErr)
	assert.Equal(t, []string{"u1"}, commitErr.FailedIDs)
	assert.True(t, f.db.tx.rolledBack)
}

func TestCommitRollsBackAndFailsPackage(t *testing.T) {
	f := newFixture()
	f.buildings.rows = []*models.StagedBuilding{{StagedHeader: approved("b1", "orig-b1")}}
	f.units.rows = []*models.StagedUnit{{StagedHeader: approved("u1", "orig-u1"), BuildingOriginalID: "orig-b1"}}
	f.records.failFamily = models.FamilyUnit

	_, err := f.engine.Commit(context.Background(), "tenant-1", "pkg-1", "actor-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrCommitFailed)

	var commitErr *models.CommitError
	require.ErrorAs(t, err, &commitErr)
	assert.Equal(t, []string{"u1"}, commitErr.FailedIDs)

	assert.True(t, f.db.tx.rolledBack)
	assert.False(t, f.db.tx.committed)
	assert.Equal(t, []models.PackageStatus{models.PackageStatusCommitting, models.PackageStatusFailed}, f.packages.statuses)
	require.NotNil(t, f.packages.reason)
}

func TestCommitMergeRedirectsReferences(t *testing.T) {
	f := newFixture()
	f.buildings.rows = []*models.StagedBuilding{{StagedHeader: approved("b1", "orig-b1")}}
	f.units.rows = []*models.StagedUnit{{StagedHeader: approved("u1", "orig-u1"), BuildingOriginalID: "orig-b1"}}
	f.persons.rows = []*models.StagedPerson{
		{StagedHeader: approved("p1", "orig-p1")},
		{StagedHeader: models.StagedHeader{ID: "p2", OriginalID: "orig-p2", Status: models.ValidationStatusRejected}},
	}
	// the claim references the discarded person
	f.claims.rows = []*models.StagedClaim{{StagedHeader: approved("c1", "orig-c1"), PersonOriginalID: "orig-p2", UnitOriginalID: "orig-u1"}}

	surviving, discarded := "p1", "p2"
	f.conflicts.resolved = []models.ConflictResolution{{
		EntityType:  models.FamilyPerson,
		SurvivingID: &surviving,
		DiscardedID: &discarded,
	}}

	result, err := f.engine.Commit(context.Background(), "tenant-1", "pkg-1", "actor-1")
	require.NoError(t, err)

	assert.Equal(t, 1, result.Committed[models.FamilyPerson])
	// calls: building srv-1, unit srv-2, person srv-3, claim
	require.Len(t, f.records.calls, 4)
	assert.Equal(t, []string{"srv-3", "srv-2"}, f.records.calls[3].refs)
}
