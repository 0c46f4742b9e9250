package pipeline

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Ramsey-B/clover/internal/repositories/audit"
	conflictrepo "github.com/Ramsey-B/clover/internal/repositories/conflict"
	"github.com/Ramsey-B/clover/internal/repositories/importpackage"
	"github.com/Ramsey-B/clover/internal/repositories/staging"
	"github.com/Ramsey-B/clover/pkg/container"
	"github.com/Ramsey-B/clover/pkg/events"
	"github.com/Ramsey-B/clover/pkg/integrity"
	"github.com/Ramsey-B/clover/pkg/kafka"
	"github.com/Ramsey-B/clover/pkg/manifest"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/packagestore"
	"github.com/Ramsey-B/clover/pkg/validation"
)

// the concrete implementations bind to the processor's dependency surfaces
var (
	_ packageRepo                          = (*importpackage.Repository)(nil)
	_ conflictRepo                         = (*conflictrepo.Repository)(nil)
	_ stagingStore[*models.StagedBuilding] = (*staging.Store[*models.StagedBuilding])(nil)
	_ fileStore                            = (*packagestore.Store)(nil)
	_ validator                            = (*validation.Runner)(nil)
	_ emitter                              = (*events.Emitter)(nil)
	_ auditor                              = (*audit.Repository)(nil)
)

func newTestLogger() ectologger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

type fakePackages struct {
	pkgs     map[string]*models.ImportPackage
	byNumber map[string]*models.ImportPackage
	statuses []models.PackageStatus
	reason   *string
	vocab    []bool
}

func newFakePackages() *fakePackages {
	return &fakePackages{
		pkgs:     map[string]*models.ImportPackage{},
		byNumber: map[string]*models.ImportPackage{},
	}
}

func (f *fakePackages) Create(ctx context.Context, pkg *models.ImportPackage) (*models.ImportPackage, error) {
	if pkg.ID == "" {
		pkg.ID = fmt.Sprintf("pkg-%d", len(f.pkgs)+1)
	}
	pkg.Status = models.PackageStatusReceived
	f.pkgs[pkg.ID] = pkg
	f.byNumber[pkg.PackageNumber] = pkg
	return pkg, nil
}

func (f *fakePackages) Get(ctx context.Context, tenantID, id string) (*models.ImportPackage, error) {
	pkg, ok := f.pkgs[id]
	if !ok {
		return nil, fmt.Errorf("import package %s not found", id)
	}
	return pkg, nil
}

func (f *fakePackages) GetByPackageNumber(ctx context.Context, tenantID, packageNumber string) (*models.ImportPackage, error) {
	return f.byNumber[packageNumber], nil
}

func (f *fakePackages) UpdateStatus(ctx context.Context, tenantID, id string, status models.PackageStatus, reason *string) error {
	pkg := f.pkgs[id]
	if !pkg.Status.CanTransition(status) {
		return fmt.Errorf("package %s cannot move from %s to %s", id, pkg.Status, status)
	}
	pkg.Status = status
	f.statuses = append(f.statuses, status)
	f.reason = reason
	return nil
}

func (f *fakePackages) SetManifestFields(ctx context.Context, tenantID, id string, data *models.ManifestData) error {
	pkg := f.pkgs[id]
	pkg.SchemaVersion = data.SchemaVersion
	pkg.DeviceID = data.DeviceID
	pkg.PersonCount = data.PersonCount
	return nil
}

func (f *fakePackages) SetVocabCompatibility(ctx context.Context, tenantID, id string, compatible, fullyCompatible bool) error {
	f.vocab = []bool{compatible, fullyCompatible}
	f.pkgs[id].VocabCompatible = compatible
	f.pkgs[id].VocabFullyCompat = fullyCompatible
	return nil
}

func (f *fakePackages) SetHasConflicts(ctx context.Context, tenantID, id string, hasConflicts bool) error {
	f.pkgs[id].HasConflicts = hasConflicts
	return nil
}

func (f *fakePackages) SetPaths(ctx context.Context, tenantID, id string, quarantinePath, archivePath *string) error {
	if quarantinePath != nil {
		f.pkgs[id].QuarantinePath = quarantinePath
	}
	if archivePath != nil {
		f.pkgs[id].ArchivePath = archivePath
	}
	return nil
}

type fakeStore[T models.StagedRow] struct {
	created []T
	counts  map[models.ValidationStatus]int
}

func (f *fakeStore[T]) CreateBatch(ctx context.Context, rows []T) error {
	f.created = append(f.created, rows...)
	return nil
}

func (f *fakeStore[T]) CountByStatus(ctx context.Context, tenantID, packageID string) (map[models.ValidationStatus]int, error) {
	return f.counts, nil
}

func (f *fakeStore[T]) ListByPackage(ctx context.Context, tenantID, packageID string) ([]T, error) {
	return f.created, nil
}

type fakeValidator struct {
	results      []models.ValidationRunResult
	hasConflicts bool
	runs         int
}

func (f *fakeValidator) RunAll(ctx context.Context, tenantID, packageID string) ([]models.ValidationRunResult, bool, error) {
	f.runs++
	return f.results, f.hasConflicts, nil
}

type fakeConflicts struct {
	open    []models.ConflictResolution
	pending int
}

func (f *fakeConflicts) ListByPackage(ctx context.Context, tenantID, packageID string, status models.ConflictStatus, page, pageSize int) ([]models.ConflictResolution, int, error) {
	return f.open, len(f.open), nil
}

func (f *fakeConflicts) CountPendingByPackage(ctx context.Context, tenantID, packageID string) (int, error) {
	return f.pending, nil
}

type fakeEmitter struct {
	statuses  []models.PackageStatus
	conflicts int
}

func (f *fakeEmitter) EmitPackageStatus(ctx context.Context, pkg *models.ImportPackage, reason string) error {
	f.statuses = append(f.statuses, pkg.Status)
	return nil
}

func (f *fakeEmitter) EmitConflictsDetected(ctx context.Context, tenantID string, conflicts []models.ConflictResolution) error {
	f.conflicts += len(conflicts)
	return nil
}

type fakeAudit struct {
	entries []models.AuditEntry
}

func (f *fakeAudit) Insert(ctx context.Context, entry models.AuditEntry) {
	f.entries = append(f.entries, entry)
}

type fixture struct {
	processor *Processor
	packages  *fakePackages
	store     *packagestore.Store
	persons   *fakeStore[*models.StagedPerson]
	buildings *fakeStore[*models.StagedBuilding]
	validator *fakeValidator
	conflicts *fakeConflicts
	emitter   *fakeEmitter
	audit     *fakeAudit
}

func newFixture(t *testing.T, serverVersions map[string]string) *fixture {
	t.Helper()
	dir := t.TempDir()

	logger := newTestLogger()
	store, err := packagestore.NewStore(filepath.Join(dir, "quarantine"), filepath.Join(dir, "archive"), logger)
	require.NoError(t, err)

	f := &fixture{
		packages:  newFakePackages(),
		store:     store,
		persons:   &fakeStore[*models.StagedPerson]{counts: map[models.ValidationStatus]int{}},
		buildings: &fakeStore[*models.StagedBuilding]{counts: map[models.ValidationStatus]int{}},
		validator: &fakeValidator{results: []models.ValidationRunResult{{Level: 1}}},
		conflicts: &fakeConflicts{},
		emitter:   &fakeEmitter{},
		audit:     &fakeAudit{},
	}

	stores := Stores{
		Buildings:  f.buildings,
		Units:      &fakeStore[*models.StagedUnit]{counts: map[models.ValidationStatus]int{}},
		Persons:    f.persons,
		Households: &fakeStore[*models.StagedHousehold]{counts: map[models.ValidationStatus]int{}},
		Relations:  &fakeStore[*models.StagedRelation]{counts: map[models.ValidationStatus]int{}},
		Evidence:   &fakeStore[*models.StagedEvidence]{counts: map[models.ValidationStatus]int{}},
		Claims:     &fakeStore[*models.StagedClaim]{counts: map[models.ValidationStatus]int{}},
		Surveys:    &fakeStore[*models.StagedSurvey]{counts: map[models.ValidationStatus]int{}},
	}

	f.processor = NewProcessor(
		f.packages,
		store,
		manifest.NewReader(logger),
		integrity.NewVerifier(false),
		versionsFake(serverVersions),
		stores,
		f.validator,
		f.conflicts,
		f.emitter,
		f.audit,
		logger,
	)
	return f
}

type versionsFake map[string]string

func (v versionsFake) GetAllCurrentVersions(ctx context.Context, tenantID string) (map[string]string, error) {
	return v, nil
}

// buildPackageFile creates a container with data tables plus a consistent
// manifest (content checksum computed over the data tables) and returns the
// file bytes with their whole-file checksum.
func buildPackageFile(t *testing.T, dir string, vocabVersions string, dataStmts []string) ([]byte, string) {
	t.Helper()
	path := filepath.Join(dir, "upload.uhc")

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	for _, stmt := range dataStmts {
		_, err := db.Exec(stmt)
		require.NoError(t, err, stmt)
	}
	require.NoError(t, db.Close())

	c, err := container.Open(path)
	require.NoError(t, err)
	content, err := integrity.ComputeCanonicalContentChecksum(context.Background(), c)
	require.NoError(t, err)
	require.NoError(t, c.Close())

	db, err = sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE manifest (key TEXT, value TEXT)`)
	require.NoError(t, err)
	manifestRows := map[string]string{
		"package_id":          "6a9f86f0-8c59-4e5a-9a0e-2f25c31b8db3",
		"schema_version":      "3.1",
		"created_utc":         "2026-07-14T09:30:00Z",
		"exported_by_user_id": "9d2b41a7-64b4-43a8-9d50-dd3a853423c1",
		"checksum":            content,
		"device_id":           "tablet-12",
		"person_count":        "2",
	}
	if vocabVersions != "" {
		manifestRows["vocab_versions"] = vocabVersions
	}
	for k, v := range manifestRows {
		_, err = db.Exec(`INSERT INTO manifest VALUES (?, ?)`, k, v)
		require.NoError(t, err)
	}
	require.NoError(t, db.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	fileChecksum, err := integrity.ComputeWholeFileChecksum(path)
	require.NoError(t, err)
	return raw, fileChecksum
}

var personStmts = []string{
	`CREATE TABLE persons (id TEXT, first_name TEXT, last_name TEXT, national_id TEXT, date_of_birth TEXT, gender TEXT, is_head_of_household TEXT)`,
	`INSERT INTO persons VALUES ('p-1', 'Amal', 'Haddad', '1002003001', '1984-03-12', '2', '1')`,
	`INSERT INTO persons VALUES ('p-2', 'Nour', 'Haddad', NULL, NULL, NULL, '0')`,
	`CREATE TABLE buildings (id TEXT, admin_code TEXT, latitude TEXT, longitude TEXT, floor_count TEXT, unit_total TEXT)`,
	`INSERT INTO buildings VALUES ('b-1', '01.02.03.001.002.00001', '35.1', '36.2', '2', '4')`,
}

func receiveFixturePackage(t *testing.T, f *fixture, raw []byte, checksum string) *models.ImportPackage {
	t.Helper()
	pkg, err := f.processor.Receive(context.Background(), "tenant-1", ReceiveRequest{
		PackageNumber:    "PKG-2026-0001",
		DeviceID:         "tablet-12",
		DeclaredChecksum: checksum,
		UploadedBy:       "user-1",
	}, bytes.NewReader(raw))
	require.NoError(t, err)
	return pkg
}

func TestProcessHappyPath(t *testing.T) {
	f := newFixture(t, map[string]string{"relation_type": "2.0.0"})
	raw, checksum := buildPackageFile(t, t.TempDir(), `{"relation_type":"2.0.1"}`, personStmts)
	pkg := receiveFixturePackage(t, f, raw, checksum)

	require.NoError(t, f.processor.Process(context.Background(), "tenant-1", pkg.ID))

	assert.Equal(t, []models.PackageStatus{
		models.PackageStatusVerified,
		models.PackageStatusStaged,
		models.PackageStatusValidated,
		models.PackageStatusReadyToCommit,
	}, f.packages.statuses)

	require.Len(t, f.persons.created, 2)
	first := f.persons.created[0]
	assert.Equal(t, "p-1", first.OriginalID)
	assert.Equal(t, "Amal", first.FirstName)
	require.NotNil(t, first.NationalID)
	assert.Equal(t, "1002003001", *first.NationalID)
	require.NotNil(t, first.DateOfBirth)
	assert.True(t, first.IsHeadOfHousehold)

	second := f.persons.created[1]
	assert.Nil(t, second.NationalID)
	assert.Nil(t, second.DateOfBirth)
	assert.False(t, second.IsHeadOfHousehold)

	require.Len(t, f.buildings.created, 1)
	assert.Equal(t, "01.02.03.001.002.00001", f.buildings.created[0].AdminCode)

	assert.Equal(t, []bool{true, true}, f.packages.vocab)
	assert.Equal(t, 1, f.validator.runs)
	assert.NotNil(t, f.packages.pkgs[pkg.ID].ArchivePath)
	// received + one event per stage transition
	assert.Len(t, f.emitter.statuses, 5)
}

func TestProcessRejectsChecksumMismatch(t *testing.T) {
	f := newFixture(t, nil)
	raw, _ := buildPackageFile(t, t.TempDir(), "", personStmts)
	pkg := receiveFixturePackage(t, f, raw, "deadbeef")

	require.NoError(t, f.processor.Process(context.Background(), "tenant-1", pkg.ID))

	assert.Equal(t, []models.PackageStatus{models.PackageStatusRejected}, f.packages.statuses)
	require.NotNil(t, f.packages.reason)
	assert.Contains(t, *f.packages.reason, "integrity check (file) failed")
	assert.Zero(t, f.validator.runs)
	assert.Empty(t, f.persons.created)
}

func TestProcessRejectsVocabMajorMismatch(t *testing.T) {
	f := newFixture(t, map[string]string{"relation_type": "2.0.0"})
	raw, checksum := buildPackageFile(t, t.TempDir(), `{"relation_type":"1.0.0"}`, personStmts)
	pkg := receiveFixturePackage(t, f, raw, checksum)

	require.NoError(t, f.processor.Process(context.Background(), "tenant-1", pkg.ID))

	assert.Equal(t, []models.PackageStatus{models.PackageStatusRejected}, f.packages.statuses)
	assert.Equal(t, []bool{false, false}, f.packages.vocab)
	assert.NotEqual(t, models.PackageStatusReadyToCommit, f.packages.pkgs[pkg.ID].Status)
	assert.Zero(t, f.validator.runs)
}

func TestProcessEmitsDetectedConflicts(t *testing.T) {
	f := newFixture(t, nil)
	f.validator.hasConflicts = true
	f.conflicts.open = []models.ConflictResolution{{ID: "c-1"}, {ID: "c-2"}}
	f.conflicts.pending = 2
	raw, checksum := buildPackageFile(t, t.TempDir(), "", personStmts)
	pkg := receiveFixturePackage(t, f, raw, checksum)

	require.NoError(t, f.processor.Process(context.Background(), "tenant-1", pkg.ID))

	assert.Equal(t, 2, f.emitter.conflicts)
	assert.True(t, f.packages.pkgs[pkg.ID].HasConflicts)
	// Open conflicts keep the package at Validated
	assert.Equal(t, models.PackageStatusValidated, f.packages.pkgs[pkg.ID].Status)
}

func TestTryAdvanceBlocksOnInvalidRows(t *testing.T) {
	f := newFixture(t, nil)
	pkg, err := f.packages.Create(context.Background(), &models.ImportPackage{TenantID: "tenant-1", PackageNumber: "PKG-X"})
	require.NoError(t, err)
	pkg.Status = models.PackageStatusValidated
	f.persons.counts[models.ValidationStatusInvalid] = 1

	advanced, err := f.processor.TryAdvance(context.Background(), "tenant-1", pkg.ID)
	require.NoError(t, err)
	assert.False(t, advanced)
	assert.Equal(t, models.PackageStatusValidated, pkg.Status)

	f.persons.counts[models.ValidationStatusInvalid] = 0
	advanced, err = f.processor.TryAdvance(context.Background(), "tenant-1", pkg.ID)
	require.NoError(t, err)
	assert.True(t, advanced)
	assert.Equal(t, models.PackageStatusReadyToCommit, pkg.Status)
}

func TestTryAdvanceBlocksOnOpenConflicts(t *testing.T) {
	f := newFixture(t, nil)
	pkg, err := f.packages.Create(context.Background(), &models.ImportPackage{TenantID: "tenant-1", PackageNumber: "PKG-X"})
	require.NoError(t, err)
	pkg.Status = models.PackageStatusValidated
	f.conflicts.pending = 1

	advanced, err := f.processor.TryAdvance(context.Background(), "tenant-1", pkg.ID)
	require.NoError(t, err)
	assert.False(t, advanced)
	assert.Equal(t, models.PackageStatusValidated, pkg.Status)
}

func TestReceiveDuplicatePackage(t *testing.T) {
	f := newFixture(t, nil)
	raw, checksum := buildPackageFile(t, t.TempDir(), "", personStmts)
	first := receiveFixturePackage(t, f, raw, checksum)

	dup, err := f.processor.Receive(context.Background(), "tenant-1", ReceiveRequest{
		PackageNumber:    "PKG-2026-0001",
		DeclaredChecksum: checksum,
	}, bytes.NewReader(raw))
	assert.ErrorIs(t, err, models.ErrDuplicatePackage)
	require.NotNil(t, dup)
	assert.Equal(t, first.ID, dup.ID)
}

func TestHandleMessageSkipsMalformed(t *testing.T) {
	f := newFixture(t, nil)

	msg := &kafka.IncomingMessage{Value: []byte(`{"type":"something.else"}`)}
	require.NoError(t, msg.ParsePackageReceived())
	assert.NoError(t, f.processor.HandleMessage(context.Background(), msg))

	msg = &kafka.IncomingMessage{Value: []byte(`{"type":"package.received"}`)}
	require.NoError(t, msg.ParsePackageReceived())
	assert.NoError(t, f.processor.HandleMessage(context.Background(), msg))

	assert.Empty(t, f.packages.statuses)
}
