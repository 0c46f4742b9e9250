// Package pipeline orchestrates the import workflow for one package: store
// the upload, verify integrity, read the manifest, check vocabulary
// compatibility, stage the data tables, run the validators, then gate the
// package on unresolved conflicts before it may be committed. Stages advance
// the package status one step at a time, so an interrupted run resumes where
// it stopped when the intake message is redelivered.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/container"
	"github.com/Ramsey-B/clover/pkg/integrity"
	"github.com/Ramsey-B/clover/pkg/kafka"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
	"github.com/Ramsey-B/clover/pkg/vocab"
)

// packageRepo is the import package persistence surface the pipeline needs
type packageRepo interface {
	Create(ctx context.Context, pkg *models.ImportPackage) (*models.ImportPackage, error)
	Get(ctx context.Context, tenantID string, id string) (*models.ImportPackage, error)
	GetByPackageNumber(ctx context.Context, tenantID string, packageNumber string) (*models.ImportPackage, error)
	UpdateStatus(ctx context.Context, tenantID string, id string, status models.PackageStatus, reason *string) error
	SetManifestFields(ctx context.Context, tenantID string, id string, data *models.ManifestData) error
	SetVocabCompatibility(ctx context.Context, tenantID string, id string, compatible, fullyCompatible bool) error
	SetHasConflicts(ctx context.Context, tenantID string, id string, hasConflicts bool) error
	SetPaths(ctx context.Context, tenantID string, id string, quarantinePath, archivePath *string) error
}

// fileStore is the quarantine/archive surface of the package store
type fileStore interface {
	QuarantinePath(packageID string) string
	SaveToQuarantine(ctx context.Context, packageID string, declaredChecksum string, body io.Reader) (string, error)
	ReadDeclaredChecksum(packageID string) (string, error)
	Archive(ctx context.Context, packageID string, receivedAt time.Time) (string, error)
}

// manifestReader parses the manifest table out of a container
type manifestReader interface {
	Read(ctx context.Context, c *container.Container) (*models.ManifestData, error)
}

// signatureVerifier applies the signature policy
type signatureVerifier interface {
	VerifySignature(signature string) error
}

// versionSource serves the server's current vocabulary versions
type versionSource interface {
	GetAllCurrentVersions(ctx context.Context, tenantID string) (map[string]string, error)
}

// validator runs the staging validation levels for a package
type validator interface {
	RunAll(ctx context.Context, tenantID string, packageID string) ([]models.ValidationRunResult, bool, error)
}

// conflictRepo is the conflict surface the commit gate reads
type conflictRepo interface {
	ListByPackage(ctx context.Context, tenantID string, packageID string, status models.ConflictStatus, page, pageSize int) ([]models.ConflictResolution, int, error)
	CountPendingByPackage(ctx context.Context, tenantID string, packageID string) (int, error)
}

// stagingStore is the per-family staging surface the pipeline writes and counts
type stagingStore[T models.StagedRow] interface {
	batchCreator[T]
	CountByStatus(ctx context.Context, tenantID string, packageID string) (map[models.ValidationStatus]int, error)
	ListByPackage(ctx context.Context, tenantID string, packageID string) ([]T, error)
}

// Stores bundles the eight family staging stores
type Stores struct {
	Buildings  stagingStore[*models.StagedBuilding]
	Units      stagingStore[*models.StagedUnit]
	Persons    stagingStore[*models.StagedPerson]
	Households stagingStore[*models.StagedHousehold]
	Relations  stagingStore[*models.StagedRelation]
	Evidence   stagingStore[*models.StagedEvidence]
	Claims     stagingStore[*models.StagedClaim]
	Surveys    stagingStore[*models.StagedSurvey]
}

// emitter publishes package lifecycle events
type emitter interface {
	EmitPackageStatus(ctx context.Context, pkg *models.ImportPackage, reason string) error
	EmitConflictsDetected(ctx context.Context, tenantID string, conflicts []models.ConflictResolution) error
}

// auditor records pipeline actions
type auditor interface {
	Insert(ctx context.Context, entry models.AuditEntry)
}

// Processor drives a package through the import pipeline
type Processor struct {
	packages  packageRepo
	files     fileStore
	manifests manifestReader
	verifier  signatureVerifier
	versions  versionSource
	stores    Stores
	validator validator
	conflicts conflictRepo
	emitter   emitter
	audit     auditor
	logger    ectologger.Logger
}

// NewProcessor creates a pipeline processor
func NewProcessor(
	packages packageRepo,
	files fileStore,
	manifests manifestReader,
	verifier signatureVerifier,
	versions versionSource,
	stores Stores,
	val validator,
	conflicts conflictRepo,
	em emitter,
	audit auditor,
	logger ectologger.Logger,
) *Processor {
	return &Processor{
		packages:  packages,
		files:     files,
		manifests: manifests,
		verifier:  verifier,
		versions:  versions,
		stores:    stores,
		validator: val,
		conflicts: conflicts,
		emitter:   em,
		audit:     audit,
		logger:    logger,
	}
}

// ReceiveRequest carries the upload metadata accompanying a package file
type ReceiveRequest struct {
	PackageNumber    string
	DeviceID         string
	DeclaredChecksum string
	UploadedBy       string
}

// Receive persists an uploaded package into quarantine and registers it. A
// package number already on record is a duplicate delivery: the existing
// package is returned together with ErrDuplicatePackage and nothing is stored.
func (p *Processor) Receive(ctx context.Context, tenantID string, req ReceiveRequest, body io.Reader) (*models.ImportPackage, error) {
	ctx, span := tracing.StartSpan(ctx, "pipeline.Processor.Receive")
	defer span.End()

	existing, err := p.packages.GetByPackageNumber(ctx, tenantID, req.PackageNumber)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		p.logger.WithContext(ctx).WithFields(map[string]any{
			"package_number": req.PackageNumber,
			"package_id":     existing.ID,
		}).Warn("Duplicate package delivery")
		return existing, models.ErrDuplicatePackage
	}

	pkg, err := p.packages.Create(ctx, &models.ImportPackage{
		TenantID:         tenantID,
		PackageNumber:    req.PackageNumber,
		DeviceID:         req.DeviceID,
		DeclaredChecksum: req.DeclaredChecksum,
	})
	if err != nil {
		return nil, err
	}

	path, err := p.files.SaveToQuarantine(ctx, pkg.ID, req.DeclaredChecksum, body)
	if err != nil {
		reason := "failed to store uploaded package"
		if updateErr := p.packages.UpdateStatus(ctx, tenantID, pkg.ID, models.PackageStatusFailed, &reason); updateErr != nil {
			p.logger.WithContext(ctx).WithError(updateErr).WithFields(map[string]any{"package_id": pkg.ID}).Error("Failed to mark package failed")
		}
		return nil, err
	}
	if err := p.packages.SetPaths(ctx, tenantID, pkg.ID, &path, nil); err != nil {
		return nil, err
	}
	pkg.QuarantinePath = &path

	p.audit.Insert(ctx, models.AuditEntry{
		TenantID:   tenantID,
		ActorID:    req.UploadedBy,
		Action:     models.AuditActionPackageUploaded,
		ObjectType: "import_package",
		ObjectID:   pkg.ID,
	})
	p.emitStatus(ctx, pkg, "")

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"package_id":     pkg.ID,
		"package_number": pkg.PackageNumber,
		"device_id":      pkg.DeviceID,
	}).Info("Package received into quarantine")

	return pkg, nil
}

// HandleMessage is the kafka consumer entry point
func (p *Processor) HandleMessage(ctx context.Context, msg *kafka.IncomingMessage) error {
	ctx, span := tracing.StartSpan(ctx, "pipeline.Processor.HandleMessage")
	defer span.End()

	log := p.logger.WithContext(ctx).WithFields(map[string]any{
		"topic":  msg.Topic,
		"offset": msg.Offset,
	})

	if !msg.IsPackageReceived() {
		log.Debug("Ignoring message of unknown type")
		return nil
	}

	tenantID := msg.GetTenantID()
	packageID := msg.GetPackageID()
	if tenantID == "" || packageID == "" {
		// Malformed coordination message; retrying cannot fix it
		log.Warn("Package message missing tenant or package id, skipping")
		return nil
	}

	return p.Process(ctx, tenantID, packageID)
}

// Process runs the pipeline stages a package still needs. Terminal packages
// and stages already passed are skipped, so redelivered intake messages are
// harmless.
func (p *Processor) Process(ctx context.Context, tenantID string, packageID string) error {
	ctx, span := tracing.StartSpan(ctx, "pipeline.Processor.Process")
	defer span.End()

	pkg, err := p.packages.Get(ctx, tenantID, packageID)
	if err != nil {
		return err
	}

	if pkg.Status.IsTerminal() {
		p.logger.WithContext(ctx).WithFields(map[string]any{
			"package_id": packageID,
			"status":     pkg.Status,
		}).Info("Package already terminal, skipping")
		return nil
	}

	if pkg.Status == models.PackageStatusReceived {
		if pkg, err = p.verify(ctx, pkg); err != nil {
			return err
		}
	}
	if pkg.Status == models.PackageStatusVerified {
		if pkg, err = p.stage(ctx, pkg); err != nil {
			return err
		}
	}
	if pkg.Status == models.PackageStatusStaged {
		if pkg, err = p.validate(ctx, pkg); err != nil {
			return err
		}
	}
	if pkg.Status == models.PackageStatusValidated {
		if _, err := p.TryAdvance(ctx, tenantID, packageID); err != nil {
			return err
		}
	}

	return nil
}

// verify checks the package file and manifest: whole-file checksum against the
// upload sidecar, canonical content checksum against the manifest, signature
// policy, then vocabulary compatibility. Any mismatch rejects the package
// before a single row is staged.
func (p *Processor) verify(ctx context.Context, pkg *models.ImportPackage) (*models.ImportPackage, error) {
	ctx, span := tracing.StartSpan(ctx, "pipeline.Processor.verify")
	defer span.End()
	start := time.Now()
	defer func() { metrics.RecordStageDuration("verify", time.Since(start).Seconds()) }()

	path := p.files.QuarantinePath(pkg.ID)

	declared, err := p.files.ReadDeclaredChecksum(pkg.ID)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return p.reject(ctx, pkg, "declared checksum sidecar missing from quarantine")
		}
		return nil, err
	}

	actual, err := integrity.ComputeWholeFileChecksum(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return p.reject(ctx, pkg, "package file missing from quarantine")
		}
		return nil, err
	}
	if !integrity.VerifyChecksum(declared, actual) {
		ie := &models.IntegrityError{PackageID: pkg.ID, Expected: declared, Actual: actual, Kind: "file"}
		return p.reject(ctx, pkg, ie.Error())
	}

	c, err := container.Open(path)
	if err != nil {
		return p.reject(ctx, pkg, fmt.Sprintf("package container unreadable: %v", err))
	}
	defer c.Close()

	data, err := p.manifests.Read(ctx, c)
	if err != nil {
		if errors.Is(err, models.ErrContainerCorrupt) || errors.Is(err, models.ErrManifestInvalid) {
			return p.reject(ctx, pkg, err.Error())
		}
		return nil, err
	}

	content, err := integrity.ComputeCanonicalContentChecksum(ctx, c)
	if err != nil {
		return nil, err
	}
	if !integrity.VerifyChecksum(data.Checksum, content) {
		ie := &models.IntegrityError{PackageID: pkg.ID, Expected: data.Checksum, Actual: content, Kind: "content"}
		return p.reject(ctx, pkg, ie.Error())
	}

	if err := p.verifier.VerifySignature(data.DigitalSignature); err != nil {
		ie := &models.IntegrityError{PackageID: pkg.ID, Expected: "valid signature", Actual: "absent", Kind: "signature"}
		return p.reject(ctx, pkg, ie.Error())
	}

	if err := p.packages.SetManifestFields(ctx, pkg.TenantID, pkg.ID, data); err != nil {
		return nil, err
	}

	serverVersions, err := p.versions.GetAllCurrentVersions(ctx, pkg.TenantID)
	if err != nil {
		return nil, err
	}
	report := vocab.CheckCompatibility(data.VocabVersions, serverVersions)
	if err := p.packages.SetVocabCompatibility(ctx, pkg.TenantID, pkg.ID, report.IsCompatible, report.FullyCompatible); err != nil {
		return nil, err
	}
	pkg.VocabCompatible = report.IsCompatible
	pkg.VocabFullyCompat = report.FullyCompatible
	if !report.IsCompatible {
		return p.reject(ctx, pkg, models.ErrVocabIncompatible.Error())
	}
	if !report.FullyCompatible {
		p.logger.WithContext(ctx).WithFields(map[string]any{
			"package_id": pkg.ID,
		}).Warn("Package vocabulary versions differ from server, review encouraged")
	}

	if err := p.packages.UpdateStatus(ctx, pkg.TenantID, pkg.ID, models.PackageStatusVerified, nil); err != nil {
		return nil, err
	}
	pkg.Status = models.PackageStatusVerified
	p.emitStatus(ctx, pkg, "")

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"package_id": pkg.ID,
	}).Info("Package verified")

	return pkg, nil
}

// stage ingests the container's data tables into the staging stores
func (p *Processor) stage(ctx context.Context, pkg *models.ImportPackage) (*models.ImportPackage, error) {
	ctx, span := tracing.StartSpan(ctx, "pipeline.Processor.stage")
	defer span.End()
	start := time.Now()
	defer func() { metrics.RecordStageDuration("stage", time.Since(start).Seconds()) }()

	c, err := container.Open(p.files.QuarantinePath(pkg.ID))
	if err != nil {
		return p.reject(ctx, pkg, fmt.Sprintf("package container unreadable: %v", err))
	}
	defer c.Close()

	tenantID, packageID := pkg.TenantID, pkg.ID
	counts := map[string]int{}

	if counts[tableBuildings], err = ingestFamily(ctx, c, tableBuildings, p.stores.Buildings, decodeBuilding(tenantID, packageID)); err != nil {
		return nil, err
	}
	if counts[tableUnits], err = ingestFamily(ctx, c, tableUnits, p.stores.Units, decodeUnit(tenantID, packageID)); err != nil {
		return nil, err
	}
	if counts[tablePersons], err = ingestFamily(ctx, c, tablePersons, p.stores.Persons, decodePerson(tenantID, packageID)); err != nil {
		return nil, err
	}
	if counts[tableHouseholds], err = ingestFamily(ctx, c, tableHouseholds, p.stores.Households, decodeHousehold(tenantID, packageID)); err != nil {
		return nil, err
	}
	if counts[tableRelations], err = ingestFamily(ctx, c, tableRelations, p.stores.Relations, decodeRelation(tenantID, packageID)); err != nil {
		return nil, err
	}
	if counts[tableEvidence], err = ingestFamily(ctx, c, tableEvidence, p.stores.Evidence, decodeEvidence(tenantID, packageID)); err != nil {
		return nil, err
	}
	if counts[tableClaims], err = ingestFamily(ctx, c, tableClaims, p.stores.Claims, decodeClaim(tenantID, packageID)); err != nil {
		return nil, err
	}
	if counts[tableSurveys], err = ingestFamily(ctx, c, tableSurveys, p.stores.Surveys, decodeSurvey(tenantID, packageID)); err != nil {
		return nil, err
	}

	for family, n := range counts {
		if n > 0 {
			metrics.StagedRecordsTotal.WithLabelValues(tenantID, family).Add(float64(n))
		}
	}

	if err := p.packages.UpdateStatus(ctx, tenantID, packageID, models.PackageStatusStaged, nil); err != nil {
		return nil, err
	}
	pkg.Status = models.PackageStatusStaged
	p.emitStatus(ctx, pkg, "")

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"package_id": packageID,
		"counts":     counts,
	}).Info("Package data tables staged")

	return pkg, nil
}

// validate runs the five validation levels, records conflict findings, and
// archives the container once its content is fully staged and checked
func (p *Processor) validate(ctx context.Context, pkg *models.ImportPackage) (*models.ImportPackage, error) {
	ctx, span := tracing.StartSpan(ctx, "pipeline.Processor.validate")
	defer span.End()
	start := time.Now()
	defer func() { metrics.RecordStageDuration("validate", time.Since(start).Seconds()) }()

	results, hasConflicts, err := p.validator.RunAll(ctx, pkg.TenantID, pkg.ID)
	if err != nil {
		return nil, err
	}

	if err := p.packages.SetHasConflicts(ctx, pkg.TenantID, pkg.ID, hasConflicts); err != nil {
		return nil, err
	}
	pkg.HasConflicts = hasConflicts

	if hasConflicts {
		open, _, err := p.conflicts.ListByPackage(ctx, pkg.TenantID, pkg.ID, models.ConflictStatusPendingReview, 1, 500)
		if err != nil {
			return nil, err
		}
		for _, c := range open {
			metrics.RecordConflictDetected(pkg.TenantID, string(c.EntityType), c.Priority)
		}
		if err := p.emitter.EmitConflictsDetected(ctx, pkg.TenantID, open); err != nil {
			p.logger.WithContext(ctx).WithError(err).Warn("Continuing after conflict event emission failure")
		}
	}

	if err := p.packages.UpdateStatus(ctx, pkg.TenantID, pkg.ID, models.PackageStatusValidated, nil); err != nil {
		return nil, err
	}
	pkg.Status = models.PackageStatusValidated
	p.emitStatus(ctx, pkg, "")

	errorCount, warningCount := 0, 0
	for _, r := range results {
		errorCount += r.ErrorCount
		warningCount += r.WarningCount
		metrics.RecordValidationIssues(fmt.Sprintf("level%d", r.Level), r.ErrorCount, r.WarningCount)
	}
	p.logger.WithContext(ctx).WithFields(map[string]any{
		"package_id":    pkg.ID,
		"errors":        errorCount,
		"warnings":      warningCount,
		"has_conflicts": hasConflicts,
	}).Info("Package validated")

	// The container is no longer needed once staged and validated. Archive
	// failure is not fatal; the file simply stays in quarantine for a manual
	// sweep.
	if pkg.ArchivePath == nil {
		archivePath, err := p.files.Archive(ctx, pkg.ID, pkg.CreatedAt)
		if err != nil {
			p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"package_id": pkg.ID}).Error("Failed to archive package file")
		} else {
			if err := p.packages.SetPaths(ctx, pkg.TenantID, pkg.ID, nil, &archivePath); err != nil {
				return nil, err
			}
			pkg.ArchivePath = &archivePath
		}
	}

	return pkg, nil
}

// TryAdvance moves a Validated package to ReadyToCommit when nothing blocks
// it: no invalid or still-pending staged rows, no open conflicts. Called after
// validation and again whenever a conflict is resolved or a record corrected.
func (p *Processor) TryAdvance(ctx context.Context, tenantID string, packageID string) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "pipeline.Processor.TryAdvance")
	defer span.End()

	pkg, err := p.packages.Get(ctx, tenantID, packageID)
	if err != nil {
		return false, err
	}
	if pkg.Status != models.PackageStatusValidated {
		return false, nil
	}

	invalid, pendingRows, err := p.blockedRowCounts(ctx, tenantID, packageID)
	if err != nil {
		return false, err
	}
	if invalid > 0 || pendingRows > 0 {
		p.logger.WithContext(ctx).WithFields(map[string]any{
			"package_id":   packageID,
			"invalid_rows": invalid,
			"pending_rows": pendingRows,
		}).Info("Package not ready to commit, staged rows still blocked")
		return false, nil
	}

	openConflicts, err := p.conflicts.CountPendingByPackage(ctx, tenantID, packageID)
	if err != nil {
		return false, err
	}
	if openConflicts > 0 {
		p.logger.WithContext(ctx).WithFields(map[string]any{
			"package_id":     packageID,
			"open_conflicts": openConflicts,
		}).Info("Package not ready to commit, conflicts await resolution")
		return false, nil
	}

	if err := p.packages.UpdateStatus(ctx, tenantID, packageID, models.PackageStatusReadyToCommit, nil); err != nil {
		return false, err
	}
	pkg.Status = models.PackageStatusReadyToCommit
	p.emitStatus(ctx, pkg, "")

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"package_id": packageID,
	}).Info("Package ready to commit")

	return true, nil
}

// Revalidate sends a package back through the validators after record
// corrections. Allowed from Validated and ReadyToCommit.
func (p *Processor) Revalidate(ctx context.Context, tenantID string, packageID string) error {
	ctx, span := tracing.StartSpan(ctx, "pipeline.Processor.Revalidate")
	defer span.End()

	pkg, err := p.packages.Get(ctx, tenantID, packageID)
	if err != nil {
		return err
	}

	if pkg.Status == models.PackageStatusReadyToCommit {
		if err := p.packages.UpdateStatus(ctx, tenantID, packageID, models.PackageStatusValidated, nil); err != nil {
			return err
		}
		pkg.Status = models.PackageStatusValidated
	}
	if err := p.packages.UpdateStatus(ctx, tenantID, packageID, models.PackageStatusStaged, nil); err != nil {
		return err
	}

	return p.Process(ctx, tenantID, packageID)
}

// Status summarizes a package for the API: staged row counts per family,
// accumulated issue counts, and the number of open conflicts.
func (p *Processor) Status(ctx context.Context, tenantID string, packageID string) (*models.PackageStatusResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "pipeline.Processor.Status")
	defer span.End()

	pkg, err := p.packages.Get(ctx, tenantID, packageID)
	if err != nil {
		return nil, err
	}

	headers, err := p.allHeaders(ctx, tenantID, packageID)
	if err != nil {
		return nil, err
	}

	resp := &models.PackageStatusResponse{Package: pkg, StagedCounts: map[string]int{}}
	for family, hs := range headers {
		resp.StagedCounts[string(family)] = len(hs)
		for _, h := range hs {
			resp.ErrorCount += len(h.Errors.Data)
			resp.WarningCount += len(h.Warnings.Data)
		}
	}

	if resp.OpenConflicts, err = p.conflicts.CountPendingByPackage(ctx, tenantID, packageID); err != nil {
		return nil, err
	}

	return resp, nil
}

// Issues lists every staged record of a package that carries validation
// errors or warnings
func (p *Processor) Issues(ctx context.Context, tenantID string, packageID string) ([]models.RecordIssue, error) {
	ctx, span := tracing.StartSpan(ctx, "pipeline.Processor.Issues")
	defer span.End()

	headers, err := p.allHeaders(ctx, tenantID, packageID)
	if err != nil {
		return nil, err
	}

	issues := []models.RecordIssue{}
	for _, family := range models.CommitOrder {
		for _, h := range headers[family] {
			if len(h.Errors.Data) == 0 && len(h.Warnings.Data) == 0 {
				continue
			}
			issues = append(issues, models.RecordIssue{
				Family:     family,
				RecordID:   h.ID,
				OriginalID: h.OriginalID,
				Status:     h.Status,
				Errors:     h.Errors.Data,
				Warnings:   h.Warnings.Data,
			})
		}
	}
	return issues, nil
}

func headersOf[T models.StagedRow](rows []T, err error) ([]*models.StagedHeader, error) {
	if err != nil {
		return nil, err
	}
	hs := make([]*models.StagedHeader, len(rows))
	for i, r := range rows {
		hs[i] = r.GetHeader()
	}
	return hs, nil
}

func (p *Processor) allHeaders(ctx context.Context, tenantID string, packageID string) (map[models.EntityFamily][]*models.StagedHeader, error) {
	out := map[models.EntityFamily][]*models.StagedHeader{}
	var err error

	if out[models.FamilyBuilding], err = headersOf(p.stores.Buildings.ListByPackage(ctx, tenantID, packageID)); err != nil {
		return nil, err
	}
	if out[models.FamilyUnit], err = headersOf(p.stores.Units.ListByPackage(ctx, tenantID, packageID)); err != nil {
		return nil, err
	}
	if out[models.FamilyPerson], err = headersOf(p.stores.Persons.ListByPackage(ctx, tenantID, packageID)); err != nil {
		return nil, err
	}
	if out[models.FamilyHousehold], err = headersOf(p.stores.Households.ListByPackage(ctx, tenantID, packageID)); err != nil {
		return nil, err
	}
	if out[models.FamilyRelation], err = headersOf(p.stores.Relations.ListByPackage(ctx, tenantID, packageID)); err != nil {
		return nil, err
	}
	if out[models.FamilyEvidence], err = headersOf(p.stores.Evidence.ListByPackage(ctx, tenantID, packageID)); err != nil {
		return nil, err
	}
	if out[models.FamilyClaim], err = headersOf(p.stores.Claims.ListByPackage(ctx, tenantID, packageID)); err != nil {
		return nil, err
	}
	if out[models.FamilySurvey], err = headersOf(p.stores.Surveys.ListByPackage(ctx, tenantID, packageID)); err != nil {
		return nil, err
	}

	return out, nil
}

func (p *Processor) blockedRowCounts(ctx context.Context, tenantID string, packageID string) (invalid int, pending int, err error) {
	add := func(counts map[models.ValidationStatus]int, e error) error {
		if e != nil {
			return e
		}
		invalid += counts[models.ValidationStatusInvalid]
		pending += counts[models.ValidationStatusPending]
		return nil
	}

	if err = add(p.stores.Buildings.CountByStatus(ctx, tenantID, packageID)); err != nil {
		return 0, 0, err
	}
	if err = add(p.stores.Units.CountByStatus(ctx, tenantID, packageID)); err != nil {
		return 0, 0, err
	}
	if err = add(p.stores.Persons.CountByStatus(ctx, tenantID, packageID)); err != nil {
		return 0, 0, err
	}
	if err = add(p.stores.Households.CountByStatus(ctx, tenantID, packageID)); err != nil {
		return 0, 0, err
	}
	if err = add(p.stores.Relations.CountByStatus(ctx, tenantID, packageID)); err != nil {
		return 0, 0, err
	}
	if err = add(p.stores.Evidence.CountByStatus(ctx, tenantID, packageID)); err != nil {
		return 0, 0, err
	}
	if err = add(p.stores.Claims.CountByStatus(ctx, tenantID, packageID)); err != nil {
		return 0, 0, err
	}
	if err = add(p.stores.Surveys.CountByStatus(ctx, tenantID, packageID)); err != nil {
		return 0, 0, err
	}
	return invalid, pending, nil
}

// reject marks a package Rejected. Rejection is a terminal pipeline outcome,
// not a processing error, so the caller's intake message still commits.
func (p *Processor) reject(ctx context.Context, pkg *models.ImportPackage, reason string) (*models.ImportPackage, error) {
	ctx, span := tracing.StartSpan(ctx, "pipeline.Processor.reject")
	defer span.End()

	if err := p.packages.UpdateStatus(ctx, pkg.TenantID, pkg.ID, models.PackageStatusRejected, &reason); err != nil {
		return nil, err
	}
	pkg.Status = models.PackageStatusRejected
	pkg.StatusReason = &reason
	metrics.RecordPackageProcessed(pkg.TenantID, string(models.PackageStatusRejected))

	p.audit.Insert(ctx, models.AuditEntry{
		TenantID:   pkg.TenantID,
		ActorID:    "pipeline",
		Action:     models.AuditActionPackageRejected,
		ObjectType: "import_package",
		ObjectID:   pkg.ID,
	})
	p.emitStatus(ctx, pkg, reason)

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"package_id": pkg.ID,
		"reason":     reason,
	}).Warn("Package rejected")

	return pkg, nil
}

func (p *Processor) emitStatus(ctx context.Context, pkg *models.ImportPackage, reason string) {
	if err := p.emitter.EmitPackageStatus(ctx, pkg, reason); err != nil {
		p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"package_id": pkg.ID,
		}).Warn("Continuing after lifecycle event emission failure")
	}
}
