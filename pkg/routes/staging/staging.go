package staging

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/clover/internal/repositories/staging"
	"github.com/Ramsey-B/clover/pkg/appcontext"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/pipeline"
)

// Register registers staging record routes
func Register(g *echo.Group) {
	g.GET("/:family", ListStagedRecords)
	g.POST("/:family/:id/approve", ApproveStagedRecord)
	g.POST("/:family/:id/correct", CorrectStagedRecord)
}

// ListStagedRecords lists one family's staged records for a package
func ListStagedRecords(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := appcontext.GetTenantID(ctx)

	packageID := c.QueryParam("package_id")
	if packageID == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "package_id query parameter is required")
	}

	var items any
	var err error
	switch models.EntityFamily(c.Param("family")) {
	case models.FamilyBuilding:
		items, err = listFamily[*models.StagedBuilding](ctx, tenantID, packageID)
	case models.FamilyUnit:
		items, err = listFamily[*models.StagedUnit](ctx, tenantID, packageID)
	case models.FamilyPerson:
		items, err = listFamily[*models.StagedPerson](ctx, tenantID, packageID)
	case models.FamilyHousehold:
		items, err = listFamily[*models.StagedHousehold](ctx, tenantID, packageID)
	case models.FamilyRelation:
		items, err = listFamily[*models.StagedRelation](ctx, tenantID, packageID)
	case models.FamilyEvidence:
		items, err = listFamily[*models.StagedEvidence](ctx, tenantID, packageID)
	case models.FamilyClaim:
		items, err = listFamily[*models.StagedClaim](ctx, tenantID, packageID)
	case models.FamilySurvey:
		items, err = listFamily[*models.StagedSurvey](ctx, tenantID, packageID)
	default:
		return httperror.NewHTTPError(http.StatusBadRequest, "unknown staged record family")
	}
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, items)
}

// ApproveStagedRecord approves a valid staged record for commit. The package's
// commit gate is re-checked afterwards so the last approval can flip the
// package to ready.
func ApproveStagedRecord(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := appcontext.GetTenantID(ctx)
	id := c.Param("id")
	actorID := appcontext.GetUserID(ctx)

	packageID, err := dispatchApprove(ctx, models.EntityFamily(c.Param("family")), tenantID, id, actorID)
	if err != nil {
		return err
	}

	advanced := tryAdvance(ctx, tenantID, packageID)

	return c.JSON(http.StatusOK, map[string]any{
		"status":          "approved",
		"package_advanced": advanced,
	})
}

// CorrectStagedRecord marks an invalid record corrected, returning it to
// Pending so the next revalidation re-checks it
func CorrectStagedRecord(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := appcontext.GetTenantID(ctx)
	id := c.Param("id")

	if _, err := dispatchSetStatus(ctx, models.EntityFamily(c.Param("family")), tenantID, id, models.ValidationStatusPending); err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "pending"})
}

func listFamily[T models.StagedRow](ctx context.Context, tenantID, packageID string) ([]T, error) {
	ctx, store, err := ectoinject.GetContext[*staging.Store[T]](ctx)
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}
	return store.ListByPackage(ctx, tenantID, packageID)
}

// approveFamily approves one record and reports which package it belongs to
func approveFamily[T models.StagedRow](ctx context.Context, tenantID, id, actorID string) (string, error) {
	ctx, store, err := ectoinject.GetContext[*staging.Store[T]](ctx)
	if err != nil {
		return "", httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}
	row, err := store.Get(ctx, tenantID, id)
	if err != nil {
		return "", err
	}
	if err := store.Approve(ctx, tenantID, id, actorID); err != nil {
		return "", err
	}
	return row.GetHeader().PackageID, nil
}

func setStatusFamily[T models.StagedRow](ctx context.Context, tenantID, id string, status models.ValidationStatus) (string, error) {
	ctx, store, err := ectoinject.GetContext[*staging.Store[T]](ctx)
	if err != nil {
		return "", httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}
	row, err := store.Get(ctx, tenantID, id)
	if err != nil {
		return "", err
	}
	if err := store.SetStatus(ctx, tenantID, id, status); err != nil {
		return "", err
	}
	return row.GetHeader().PackageID, nil
}

func dispatchApprove(ctx context.Context, family models.EntityFamily, tenantID, id, actorID string) (string, error) {
	switch family {
	case models.FamilyBuilding:
		return approveFamily[*models.StagedBuilding](ctx, tenantID, id, actorID)
	case models.FamilyUnit:
		return approveFamily[*models.StagedUnit](ctx, tenantID, id, actorID)
	case models.FamilyPerson:
		return approveFamily[*models.StagedPerson](ctx, tenantID, id, actorID)
	case models.FamilyHousehold:
		return approveFamily[*models.StagedHousehold](ctx, tenantID, id, actorID)
	case models.FamilyRelation:
		return approveFamily[*models.StagedRelation](ctx, tenantID, id, actorID)
	case models.FamilyEvidence:
		return approveFamily[*models.StagedEvidence](ctx, tenantID, id, actorID)
	case models.FamilyClaim:
		return approveFamily[*models.StagedClaim](ctx, tenantID, id, actorID)
	case models.FamilySurvey:
		return approveFamily[*models.StagedSurvey](ctx, tenantID, id, actorID)
	}
	return "", httperror.NewHTTPError(http.StatusBadRequest, "unknown staged record family")
}

func dispatchSetStatus(ctx context.Context, family models.EntityFamily, tenantID, id string, status models.ValidationStatus) (string, error) {
	switch family {
	case models.FamilyBuilding:
		return setStatusFamily[*models.StagedBuilding](ctx, tenantID, id, status)
	case models.FamilyUnit:
		return setStatusFamily[*models.StagedUnit](ctx, tenantID, id, status)
	case models.FamilyPerson:
		return setStatusFamily[*models.StagedPerson](ctx, tenantID, id, status)
	case models.FamilyHousehold:
		return setStatusFamily[*models.StagedHousehold](ctx, tenantID, id, status)
	case models.FamilyRelation:
		return setStatusFamily[*models.StagedRelation](ctx, tenantID, id, status)
	case models.FamilyEvidence:
		return setStatusFamily[*models.StagedEvidence](ctx, tenantID, id, status)
	case models.FamilyClaim:
		return setStatusFamily[*models.StagedClaim](ctx, tenantID, id, status)
	case models.FamilySurvey:
		return setStatusFamily[*models.StagedSurvey](ctx, tenantID, id, status)
	}
	return "", httperror.NewHTTPError(http.StatusBadRequest, "unknown staged record family")
}

// tryAdvance re-checks the commit gate; a failure here is reported by the gate
// itself on the next check, not by the approval that triggered it
func tryAdvance(ctx context.Context, tenantID, packageID string) bool {
	ctx, processor, err := ectoinject.GetContext[*pipeline.Processor](ctx)
	if err != nil || processor == nil {
		return false
	}
	advanced, err := processor.TryAdvance(ctx, tenantID, packageID)
	if err != nil {
		return false
	}
	return advanced
}
