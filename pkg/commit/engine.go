// Package commit promotes approved staging records into the system of record.
// The whole package commits in one transaction: client-generated identifiers
// are remapped to server identifiers family by family in dependency order, and
// any failure rolls the entire package back.
package commit

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

type packageRepo interface {
	Get(ctx context.Context, tenantID string, id string) (*models.ImportPackage, error)
	UpdateStatus(ctx context.Context, tenantID string, id string, status models.PackageStatus, reason *string) error
}

type conflictRepo interface {
	CountPendingByPackage(ctx context.Context, tenantID string, packageID string) (int, error)
	ListByPackage(ctx context.Context, tenantID string, packageID string, status models.ConflictStatus, page, pageSize int) ([]models.ConflictResolution, int, error)
}

type stagingStore[T models.StagedRow] interface {
	ListByPackage(ctx context.Context, tenantID string, packageID string) ([]T, error)
	SetCommittedID(ctx context.Context, tenantID string, id string, committedID string) error
}

// recordWriter inserts committed entities on the transaction carried in ctx
// and resolves original identifiers committed by earlier packages
type recordWriter interface {
	FindCommittedIDs(ctx context.Context, tenantID string, family models.EntityFamily, originalIDs []string) (map[string]string, error)
	InsertBuilding(ctx context.Context, row *models.StagedBuilding) (string, error)
	InsertUnit(ctx context.Context, row *models.StagedUnit, buildingID string) (string, error)
	InsertPerson(ctx context.Context, row *models.StagedPerson) (string, error)
	InsertHousehold(ctx context.Context, row *models.StagedHousehold, unitID, headPersonID string) (string, error)
	InsertRelation(ctx context.Context, row *models.StagedRelation, personID, unitID string) (string, error)
	InsertEvidence(ctx context.Context, row *models.StagedEvidence, personID string) (string, error)
	InsertClaim(ctx context.Context, row *models.StagedClaim, personID, unitID string) (string, error)
	InsertSurvey(ctx context.Context, row *models.StagedSurvey, buildingID string) (string, error)
}

type auditor interface {
	Insert(ctx context.Context, entry models.AuditEntry)
}

// Stores bundles the eight family staging stores for the engine
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

// Result summarizes a commit run
type Result struct {
	Committed map[models.EntityFamily]int `json:"committed"`
	Skipped   int                         `json:"skipped"`
}

// Engine runs package commits
type Engine struct {
	db       database.DB
	packages packageRepo
	conflicts conflictRepo
	stores   Stores
	records  recordWriter
	audit    auditor
	logger   ectologger.Logger
}

// NewEngine creates a commit engine
func NewEngine(db database.DB, packages packageRepo, conflicts conflictRepo, stores Stores, records recordWriter, audit auditor, logger ectologger.Logger) *Engine {
	return &Engine{
		db:        db,
		packages:  packages,
		conflicts: conflicts,
		stores:    stores,
		records:   records,
		audit:     audit,
		logger:    logger,
	}
}

// idMap tracks original identifier -> committed server identifier per family
type idMap map[models.EntityFamily]map[string]string

func (m idMap) put(family models.EntityFamily, originalID, serverID string) {
	if m[family] == nil {
		m[family] = map[string]string{}
	}
	m[family][originalID] = serverID
}

func (m idMap) get(family models.EntityFamily, originalID string) (string, bool) {
	serverID, ok := m[family][originalID]
	return serverID, ok
}

// resolve maps an original reference to its server identifier: first from the
// rows committed in this run, then from entities committed by earlier
// packages. Committed hits are cached in the map for the rest of the run.
func (e *Engine) resolve(ctx context.Context, tenantID string, family models.EntityFamily, originalID string, ids idMap) (string, bool, error) {
	if serverID, ok := ids.get(family, originalID); ok {
		return serverID, true, nil
	}
	found, err := e.records.FindCommittedIDs(ctx, tenantID, family, []string{originalID})
	if err != nil {
		return "", false, err
	}
	serverID, ok := found[originalID]
	if ok {
		ids.put(family, originalID, serverID)
	}
	return serverID, ok, nil
}

// Commit promotes every approved staged record of the package.
//
// Preconditions: the package must be ReadyToCommit, every conflict closed, and
// every non-rejected record ApprovedForCommit (or already Committed from a
// prior attempt, which is skipped). Any insert failure rolls the whole
// transaction back and moves the package to Failed.
func (e *Engine) Commit(ctx context.Context, tenantID string, packageID string, actorID string) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "commit.Engine.Commit")
	defer span.End()

	pkg, err := e.packages.Get(ctx, tenantID, packageID)
	if err != nil {
		return nil, err
	}
	if pkg.Status != models.PackageStatusReadyToCommit {
		return nil, fmt.Errorf("%w: status is %s", models.ErrNotCommittable, pkg.Status)
	}

	pending, err := e.conflicts.CountPendingByPackage(ctx, tenantID, packageID)
	if err != nil {
		return nil, err
	}
	if pending > 0 {
		return nil, fmt.Errorf("%w: %d conflicts open", models.ErrUnresolvedConflict, pending)
	}

	rows, err := e.loadRows(ctx, tenantID, packageID)
	if err != nil {
		return nil, err
	}
	if blocked := rows.uncommittable(); len(blocked) > 0 {
		return nil, fmt.Errorf("%w: %d records are not approved for commit", models.ErrNotCommittable, len(blocked))
	}

	aliases, err := e.personAliases(ctx, tenantID, packageID, rows)
	if err != nil {
		return nil, err
	}

	if err := e.packages.UpdateStatus(ctx, tenantID, packageID, models.PackageStatusCommitting, nil); err != nil {
		return nil, err
	}

	started := time.Now()
	result, err := e.run(ctx, tenantID, packageID, rows, aliases)
	if err != nil {
		reason := err.Error()
		if statusErr := e.packages.UpdateStatus(ctx, tenantID, packageID, models.PackageStatusFailed, &reason); statusErr != nil {
			e.logger.WithContext(ctx).WithError(statusErr).Error("Failed to mark package failed after commit error")
		}
		metrics.RecordPackageProcessed(tenantID, string(models.PackageStatusFailed))
		return nil, err
	}

	if err := e.packages.UpdateStatus(ctx, tenantID, packageID, models.PackageStatusCompleted, nil); err != nil {
		return nil, err
	}

	committed := make(map[string]int, len(result.Committed))
	for family, n := range result.Committed {
		committed[string(family)] = n
	}
	metrics.RecordCommit(tenantID, committed, time.Since(started).Seconds())
	metrics.RecordPackageProcessed(tenantID, string(models.PackageStatusCompleted))

	e.audit.Insert(ctx, models.AuditEntry{
		TenantID: tenantID, ActorID: actorID,
		Action: models.AuditActionPackageCommitted, ObjectType: "package", ObjectID: packageID,
		Detail: database.JSONB[map[string]any]{Data: map[string]any{"committed": result.Committed, "skipped": result.Skipped}},
	})
	e.logger.WithContext(ctx).WithFields(map[string]any{
		"package_id": packageID,
		"skipped":    result.Skipped,
	}).Info("Package committed")

	return result, nil
}

// run executes the transactional promotion. The deferred rollback uses the
// pre-transaction context: rolling back with the transaction-carrying context
// is suppressed by the open-transaction marker.
func (e *Engine) run(ctx context.Context, tenantID string, packageID string, rows *packageRows, aliases map[string]string) (*Result, error) {
	parent := ctx
	ctx, tx, err := e.db.GetTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrCommitFailed, err)
	}
	defer tx.Rollback(parent)

	ids := idMap{}
	result := &Result{Committed: map[models.EntityFamily]int{}}

	if err := e.commitAll(ctx, tenantID, packageID, rows, ids, aliases, result); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrCommitFailed, err)
	}
	return result, nil
}

func (e *Engine) commitAll(ctx context.Context, tenantID string, packageID string, rows *packageRows, ids idMap, aliases map[string]string, result *Result) error {
	// buildings
	for _, b := range rows.buildings {
		if skip(b.GetHeader(), models.FamilyBuilding, ids, result) {
			continue
		}
		serverID, err := e.records.InsertBuilding(ctx, b)
		if err != nil {
			return e.commitErr(packageID, models.FamilyBuilding, b.ID, err)
		}
		if err := e.stores.Buildings.SetCommittedID(ctx, tenantID, b.ID, serverID); err != nil {
			return e.commitErr(packageID, models.FamilyBuilding, b.ID, err)
		}
		ids.put(models.FamilyBuilding, b.OriginalID, serverID)
		result.Committed[models.FamilyBuilding]++
	}

	// units
	for _, u := range rows.units {
		if skip(u.GetHeader(), models.FamilyUnit, ids, result) {
			continue
		}
		buildingID, ok, err := e.resolve(ctx, tenantID, models.FamilyBuilding, u.BuildingOriginalID, ids)
		if err != nil {
			return e.commitErr(packageID, models.FamilyUnit, u.ID, err)
		}
		if !ok {
			return e.commitErr(packageID, models.FamilyUnit, u.ID, fmt.Errorf("building %s was not committed", u.BuildingOriginalID))
		}
		serverID, err := e.records.InsertUnit(ctx, u, buildingID)
		if err != nil {
			return e.commitErr(packageID, models.FamilyUnit, u.ID, err)
		}
		if err := e.stores.Units.SetCommittedID(ctx, tenantID, u.ID, serverID); err != nil {
			return e.commitErr(packageID, models.FamilyUnit, u.ID, err)
		}
		ids.put(models.FamilyUnit, u.OriginalID, serverID)
		result.Committed[models.FamilyUnit]++
	}

	// persons
	for _, p := range rows.persons {
		if skip(p.GetHeader(), models.FamilyPerson, ids, result) {
			continue
		}
		serverID, err := e.records.InsertPerson(ctx, p)
		if err != nil {
			return e.commitErr(packageID, models.FamilyPerson, p.ID, err)
		}
		if err := e.stores.Persons.SetCommittedID(ctx, tenantID, p.ID, serverID); err != nil {
			return e.commitErr(packageID, models.FamilyPerson, p.ID, err)
		}
		ids.put(models.FamilyPerson, p.OriginalID, serverID)
		result.Committed[models.FamilyPerson]++
	}

	// merge aliases: references to a discarded person resolve to the survivor
	for _, p := range rows.persons {
		if p.Status != models.ValidationStatusRejected {
			continue
		}
		if target, ok := aliases[p.ID]; ok {
			serverID := target
			// the survivor may itself be a staged row committed above
			for _, s := range rows.persons {
				if s.ID == target {
					if mapped, ok := ids.get(models.FamilyPerson, s.OriginalID); ok {
						serverID = mapped
					}
					break
				}
			}
			ids.put(models.FamilyPerson, p.OriginalID, serverID)
		}
	}

	// households
	for _, h := range rows.households {
		if skip(h.GetHeader(), models.FamilyHousehold, ids, result) {
			continue
		}
		unitID, ok, err := e.resolve(ctx, tenantID, models.FamilyUnit, h.UnitOriginalID, ids)
		if err != nil {
			return e.commitErr(packageID, models.FamilyHousehold, h.ID, err)
		}
		if !ok {
			return e.commitErr(packageID, models.FamilyHousehold, h.ID, fmt.Errorf("unit %s was not committed", h.UnitOriginalID))
		}
		headID, ok, err := e.resolve(ctx, tenantID, models.FamilyPerson, h.HeadPersonOriginalID, ids)
		if err != nil {
			return e.commitErr(packageID, models.FamilyHousehold, h.ID, err)
		}
		if !ok {
			return e.commitErr(packageID, models.FamilyHousehold, h.ID, fmt.Errorf("person %s was not committed", h.HeadPersonOriginalID))
		}
		serverID, err := e.records.InsertHousehold(ctx, h, unitID, headID)
		if err != nil {
			return e.commitErr(packageID, models.FamilyHousehold, h.ID, err)
		}
		if err := e.stores.Households.SetCommittedID(ctx, tenantID, h.ID, serverID); err != nil {
			return e.commitErr(packageID, models.FamilyHousehold, h.ID, err)
		}
		ids.put(models.FamilyHousehold, h.OriginalID, serverID)
		result.Committed[models.FamilyHousehold]++
	}

	// relations
	for _, rel := range rows.relations {
		if skip(rel.GetHeader(), models.FamilyRelation, ids, result) {
			continue
		}
		personID, ok, err := e.resolve(ctx, tenantID, models.FamilyPerson, rel.PersonOriginalID, ids)
		if err != nil {
			return e.commitErr(packageID, models.FamilyRelation, rel.ID, err)
		}
		if !ok {
			return e.commitErr(packageID, models.FamilyRelation, rel.ID, fmt.Errorf("person %s was not committed", rel.PersonOriginalID))
		}
		unitID, ok, err := e.resolve(ctx, tenantID, models.FamilyUnit, rel.UnitOriginalID, ids)
		if err != nil {
			return e.commitErr(packageID, models.FamilyRelation, rel.ID, err)
		}
		if !ok {
			return e.commitErr(packageID, models.FamilyRelation, rel.ID, fmt.Errorf("unit %s was not committed", rel.UnitOriginalID))
		}
		serverID, err := e.records.InsertRelation(ctx, rel, personID, unitID)
		if err != nil {
			return e.commitErr(packageID, models.FamilyRelation, rel.ID, err)
		}
		if err := e.stores.Relations.SetCommittedID(ctx, tenantID, rel.ID, serverID); err != nil {
			return e.commitErr(packageID, models.FamilyRelation, rel.ID, err)
		}
		ids.put(models.FamilyRelation, rel.OriginalID, serverID)
		result.Committed[models.FamilyRelation]++
	}

	// evidence
	for _, ev := range rows.evidence {
		if skip(ev.GetHeader(), models.FamilyEvidence, ids, result) {
			continue
		}
		personID, ok, err := e.resolve(ctx, tenantID, models.FamilyPerson, ev.PersonOriginalID, ids)
		if err != nil {
			return e.commitErr(packageID, models.FamilyEvidence, ev.ID, err)
		}
		if !ok {
			return e.commitErr(packageID, models.FamilyEvidence, ev.ID, fmt.Errorf("person %s was not committed", ev.PersonOriginalID))
		}
		serverID, err := e.records.InsertEvidence(ctx, ev, personID)
		if err != nil {
			return e.commitErr(packageID, models.FamilyEvidence, ev.ID, err)
		}
		if err := e.stores.Evidence.SetCommittedID(ctx, tenantID, ev.ID, serverID); err != nil {
			return e.commitErr(packageID, models.FamilyEvidence, ev.ID, err)
		}
		ids.put(models.FamilyEvidence, ev.OriginalID, serverID)
		result.Committed[models.FamilyEvidence]++
	}

	// claims
	for _, c := range rows.claims {
		if skip(c.GetHeader(), models.FamilyClaim, ids, result) {
			continue
		}
		personID, ok, err := e.resolve(ctx, tenantID, models.FamilyPerson, c.PersonOriginalID, ids)
		if err != nil {
			return e.commitErr(packageID, models.FamilyClaim, c.ID, err)
		}
		if !ok {
			return e.commitErr(packageID, models.FamilyClaim, c.ID, fmt.Errorf("person %s was not committed", c.PersonOriginalID))
		}
		unitID, ok, err := e.resolve(ctx, tenantID, models.FamilyUnit, c.UnitOriginalID, ids)
		if err != nil {
			return e.commitErr(packageID, models.FamilyClaim, c.ID, err)
		}
		if !ok {
			return e.commitErr(packageID, models.FamilyClaim, c.ID, fmt.Errorf("unit %s was not committed", c.UnitOriginalID))
		}
		serverID, err := e.records.InsertClaim(ctx, c, personID, unitID)
		if err != nil {
			return e.commitErr(packageID, models.FamilyClaim, c.ID, err)
		}
		if err := e.stores.Claims.SetCommittedID(ctx, tenantID, c.ID, serverID); err != nil {
			return e.commitErr(packageID, models.FamilyClaim, c.ID, err)
		}
		ids.put(models.FamilyClaim, c.OriginalID, serverID)
		result.Committed[models.FamilyClaim]++
	}

	// surveys
	for _, s := range rows.surveys {
		if skip(s.GetHeader(), models.FamilySurvey, ids, result) {
			continue
		}
		buildingID, ok, err := e.resolve(ctx, tenantID, models.FamilyBuilding, s.BuildingOriginalID, ids)
		if err != nil {
			return e.commitErr(packageID, models.FamilySurvey, s.ID, err)
		}
		if !ok {
			return e.commitErr(packageID, models.FamilySurvey, s.ID, fmt.Errorf("building %s was not committed", s.BuildingOriginalID))
		}
		serverID, err := e.records.InsertSurvey(ctx, s, buildingID)
		if err != nil {
			return e.commitErr(packageID, models.FamilySurvey, s.ID, err)
		}
		if err := e.stores.Surveys.SetCommittedID(ctx, tenantID, s.ID, serverID); err != nil {
			return e.commitErr(packageID, models.FamilySurvey, s.ID, err)
		}
		ids.put(models.FamilySurvey, s.OriginalID, serverID)
		result.Committed[models.FamilySurvey]++
	}

	return nil
}

// skip decides whether a row takes part in the promotion. Already-committed
// rows keep their server identifier in the map so re-commits stay idempotent;
// rejected rows are left behind.
func skip(h *models.StagedHeader, family models.EntityFamily, ids idMap, result *Result) bool {
	switch h.Status {
	case models.ValidationStatusCommitted:
		if h.CommittedEntityID != nil {
			ids.put(family, h.OriginalID, *h.CommittedEntityID)
		}
		result.Skipped++
		return true
	case models.ValidationStatusRejected:
		return true
	}
	return false
}

func (e *Engine) commitErr(packageID string, family models.EntityFamily, rowID string, cause error) error {
	return &models.CommitError{
		PackageID: packageID,
		Family:    string(family),
		FailedIDs: []string{rowID},
		Cause:     cause,
	}
}

type packageRows struct {
	buildings  []*models.StagedBuilding
	units      []*models.StagedUnit
	persons    []*models.StagedPerson
	households []*models.StagedHousehold
	relations  []*models.StagedRelation
	evidence   []*models.StagedEvidence
	claims     []*models.StagedClaim
	surveys    []*models.StagedSurvey
}

func (r *packageRows) headers() []*models.StagedHeader {
	var hs []*models.StagedHeader
	for _, x := range r.buildings {
		hs = append(hs, x.GetHeader())
	}
	for _, x := range r.units {
		hs = append(hs, x.GetHeader())
	}
	for _, x := range r.persons {
		hs = append(hs, x.GetHeader())
	}
	for _, x := range r.households {
		hs = append(hs, x.GetHeader())
	}
	for _, x := range r.relations {
		hs = append(hs, x.GetHeader())
	}
	for _, x := range r.evidence {
		hs = append(hs, x.GetHeader())
	}
	for _, x := range r.claims {
		hs = append(hs, x.GetHeader())
	}
	for _, x := range r.surveys {
		hs = append(hs, x.GetHeader())
	}
	return hs
}

// uncommittable returns rows that block the commit: anything not approved,
// already committed, or rejected
func (r *packageRows) uncommittable() []string {
	var blocked []string
	for _, h := range r.headers() {
		switch h.Status {
		case models.ValidationStatusApprovedForCommit, models.ValidationStatusCommitted, models.ValidationStatusRejected:
		default:
			blocked = append(blocked, h.ID)
		}
	}
	return blocked
}

func (e *Engine) loadRows(ctx context.Context, tenantID string, packageID string) (*packageRows, error) {
	var rows packageRows
	var err error

	if rows.buildings, err = e.stores.Buildings.ListByPackage(ctx, tenantID, packageID); err != nil {
		return nil, err
	}
	if rows.units, err = e.stores.Units.ListByPackage(ctx, tenantID, packageID); err != nil {
		return nil, err
	}
	if rows.persons, err = e.stores.Persons.ListByPackage(ctx, tenantID, packageID); err != nil {
		return nil, err
	}
	if rows.households, err = e.stores.Households.ListByPackage(ctx, tenantID, packageID); err != nil {
		return nil, err
	}
	if rows.relations, err = e.stores.Relations.ListByPackage(ctx, tenantID, packageID); err != nil {
		return nil, err
	}
	if rows.evidence, err = e.stores.Evidence.ListByPackage(ctx, tenantID, packageID); err != nil {
		return nil, err
	}
	if rows.claims, err = e.stores.Claims.ListByPackage(ctx, tenantID, packageID); err != nil {
		return nil, err
	}
	if rows.surveys, err = e.stores.Surveys.ListByPackage(ctx, tenantID, packageID); err != nil {
		return nil, err
	}

	return &rows, nil
}

// personAliases maps each discarded staged person row id to the surviving
// identifier recorded on its resolved conflict
func (e *Engine) personAliases(ctx context.Context, tenantID string, packageID string, rows *packageRows) (map[string]string, error) {
	aliases := map[string]string{}

	for _, status := range []models.ConflictStatus{models.ConflictStatusResolved} {
		page := 1
		for {
			conflicts, total, err := e.conflicts.ListByPackage(ctx, tenantID, packageID, status, page, 200)
			if err != nil {
				return nil, err
			}
			for _, c := range conflicts {
				if c.EntityType != models.FamilyPerson || c.DiscardedID == nil || c.SurvivingID == nil {
					continue
				}
				aliases[*c.DiscardedID] = *c.SurvivingID
			}
			if page*200 >= total {
				break
			}
			page++
		}
	}

	return aliases, nil
}
