// Package validation runs the five staging validation levels over one
// package. Levels accumulate into shared per-record error and warning buffers;
// a record ends the run Invalid exactly when its error buffer is non-empty.
package validation

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/internal/repositories/record"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// store is the slice of the staging store a validator run needs
type store[T models.StagedRow] interface {
	ListByPackage(ctx context.Context, tenantID string, packageID string) ([]T, error)
	UpdateValidation(ctx context.Context, tenantID string, id string, status models.ValidationStatus, errs []string, warnings []string) error
}

// vocabChecker answers enum membership questions during Level 1
type vocabChecker interface {
	IsValidCode(ctx context.Context, tenantID string, domain string, code int) (bool, error)
}

// conflictWriter persists Level 4 findings
type conflictWriter interface {
	CreateBatch(ctx context.Context, conflicts []models.ConflictResolution) error
}

// committedSearcher is the system-of-record lookup surface: Level 2 resolves
// cross-package references by original identifier, Level 4 narrows the
// committed population for staged-vs-committed duplicate detection
type committedSearcher interface {
	SearchCommittedPersons(ctx context.Context, tenantID string, nationalID *string, lastName string, limit int) ([]CommittedPerson, error)
	FindCommittedIDs(ctx context.Context, tenantID string, family models.EntityFamily, originalIDs []string) (map[string]string, error)
}

// CommittedPerson is the committed person slice compared during Level 4
type CommittedPerson = record.CommittedPerson

// Stores bundles the eight family staging stores
type Stores struct {
	Buildings  store[*models.StagedBuilding]
	Units      store[*models.StagedUnit]
	Persons    store[*models.StagedPerson]
	Households store[*models.StagedHousehold]
	Relations  store[*models.StagedRelation]
	Evidence   store[*models.StagedEvidence]
	Claims     store[*models.StagedClaim]
	Surveys    store[*models.StagedSurvey]
}

// Rows is every staged record of one package, loaded once per run
type Rows struct {
	Buildings  []*models.StagedBuilding
	Units      []*models.StagedUnit
	Persons    []*models.StagedPerson
	Households []*models.StagedHousehold
	Relations  []*models.StagedRelation
	Evidence   []*models.StagedEvidence
	Claims     []*models.StagedClaim
	Surveys    []*models.StagedSurvey
}

// Bounds is the program-area bounding box used by Levels 1 and 5
type Bounds struct {
	MinLat float64
	MaxLat float64
	MinLon float64
	MaxLon float64
}

// Contains reports whether the point lies inside the box
func (b Bounds) Contains(lat, lon float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lon >= b.MinLon && lon <= b.MaxLon
}

// Config carries the tunables the validators read
type Config struct {
	HighThreshold        float64
	MediumThreshold      float64
	Bounds               Bounds
	SurveyMaxDriftMeters float64
}

// issues accumulates errors and warnings per staged record id across levels
type issues struct {
	errors   map[string][]string
	warnings map[string][]string
}

func newIssues() *issues {
	return &issues{
		errors:   map[string][]string{},
		warnings: map[string][]string{},
	}
}

func (i *issues) addError(id, msg string) {
	i.errors[id] = append(i.errors[id], msg)
}

func (i *issues) addWarning(id, msg string) {
	i.warnings[id] = append(i.warnings[id], msg)
}

// Runner executes the validation levels for a package
type Runner struct {
	stores    Stores
	vocab     vocabChecker
	conflicts conflictWriter
	committed committedSearcher
	cfg       Config
	logger    ectologger.Logger
}

// NewRunner creates a validation runner
func NewRunner(stores Stores, vocab vocabChecker, conflicts conflictWriter, committed committedSearcher, cfg Config, logger ectologger.Logger) *Runner {
	return &Runner{
		stores:    stores,
		vocab:     vocab,
		conflicts: conflicts,
		committed: committed,
		cfg:       cfg,
		logger:    logger,
	}
}

// RunAll executes levels 1 through 5 in order, persists each record's final
// status and buffers, and reports whether Level 4 raised conflicts.
func (r *Runner) RunAll(ctx context.Context, tenantID string, packageID string) ([]models.ValidationRunResult, bool, error) {
	ctx, span := tracing.StartSpan(ctx, "validation.Runner.RunAll")
	defer span.End()

	rows, err := r.load(ctx, tenantID, packageID)
	if err != nil {
		return nil, false, err
	}

	acc := newIssues()
	results := make([]models.ValidationRunResult, 0, 5)

	results = append(results, r.runLevel1(ctx, tenantID, rows, acc))

	l2, err := r.runLevel2(ctx, tenantID, rows, acc)
	if err != nil {
		return nil, false, err
	}
	results = append(results, l2)
	results = append(results, runLevel3(rows, acc))

	l4, hasConflicts, err := r.runLevel4(ctx, tenantID, packageID, rows, acc)
	if err != nil {
		return nil, false, err
	}
	results = append(results, l4)
	results = append(results, runLevel5(rows, acc, r.cfg))

	if err := r.persist(ctx, tenantID, rows, acc); err != nil {
		return nil, false, err
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"package_id":    packageID,
		"has_conflicts": hasConflicts,
	}).Info("Validation run complete")

	return results, hasConflicts, nil
}

func (r *Runner) load(ctx context.Context, tenantID string, packageID string) (*Rows, error) {
	ctx, span := tracing.StartSpan(ctx, "validation.Runner.load")
	defer span.End()

	var rows Rows
	var err error

	if rows.Buildings, err = r.stores.Buildings.ListByPackage(ctx, tenantID, packageID); err != nil {
		return nil, err
	}
	if rows.Units, err = r.stores.Units.ListByPackage(ctx, tenantID, packageID); err != nil {
		return nil, err
	}
	if rows.Persons, err = r.stores.Persons.ListByPackage(ctx, tenantID, packageID); err != nil {
		return nil, err
	}
	if rows.Households, err = r.stores.Households.ListByPackage(ctx, tenantID, packageID); err != nil {
		return nil, err
	}
	if rows.Relations, err = r.stores.Relations.ListByPackage(ctx, tenantID, packageID); err != nil {
		return nil, err
	}
	if rows.Evidence, err = r.stores.Evidence.ListByPackage(ctx, tenantID, packageID); err != nil {
		return nil, err
	}
	if rows.Claims, err = r.stores.Claims.ListByPackage(ctx, tenantID, packageID); err != nil {
		return nil, err
	}
	if rows.Surveys, err = r.stores.Surveys.ListByPackage(ctx, tenantID, packageID); err != nil {
		return nil, err
	}

	return &rows, nil
}

func (r *Runner) persist(ctx context.Context, tenantID string, rows *Rows, acc *issues) error {
	ctx, span := tracing.StartSpan(ctx, "validation.Runner.persist")
	defer span.End()

	if err := persistFamily(ctx, r.stores.Buildings, tenantID, rows.Buildings, acc); err != nil {
		return err
	}
	if err := persistFamily(ctx, r.stores.Units, tenantID, rows.Units, acc); err != nil {
		return err
	}
	if err := persistFamily(ctx, r.stores.Persons, tenantID, rows.Persons, acc); err != nil {
		return err
	}
	if err := persistFamily(ctx, r.stores.Households, tenantID, rows.Households, acc); err != nil {
		return err
	}
	if err := persistFamily(ctx, r.stores.Relations, tenantID, rows.Relations, acc); err != nil {
		return err
	}
	if err := persistFamily(ctx, r.stores.Evidence, tenantID, rows.Evidence, acc); err != nil {
		return err
	}
	if err := persistFamily(ctx, r.stores.Claims, tenantID, rows.Claims, acc); err != nil {
		return err
	}
	return persistFamily(ctx, r.stores.Surveys, tenantID, rows.Surveys, acc)
}

func persistFamily[T models.StagedRow](ctx context.Context, s store[T], tenantID string, rows []T, acc *issues) error {
	for _, row := range rows {
		h := row.GetHeader()
		// only Pending rows are (re)validated; committed or rejected rows keep
		// their buffers
		if h.Status != models.ValidationStatusPending {
			continue
		}

		status := models.ValidationStatusValid
		if len(acc.errors[h.ID]) > 0 {
			status = models.ValidationStatusInvalid
		}
		if err := s.UpdateValidation(ctx, tenantID, h.ID, status, acc.errors[h.ID], acc.warnings[h.ID]); err != nil {
			return err
		}
	}
	return nil
}

func totalRows(rows *Rows) int {
	return len(rows.Buildings) + len(rows.Units) + len(rows.Persons) + len(rows.Households) +
		len(rows.Relations) + len(rows.Evidence) + len(rows.Claims) + len(rows.Surveys)
}
