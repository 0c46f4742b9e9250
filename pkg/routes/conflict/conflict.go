package conflict

import (
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	conflictrepo "github.com/Ramsey-B/clover/internal/repositories/conflict"
	"github.com/Ramsey-B/clover/pkg/appcontext"
	"github.com/Ramsey-B/clover/pkg/conflict"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/pipeline"
)

var validate = validator.New()

// Register registers conflict review routes
func Register(g *echo.Group) {
	g.GET("", ListConflicts)
	g.GET("/:id", GetConflict)
	g.POST("/:id/resolve", ResolveConflict)
	g.POST("/:id/escalate", EscalateConflict)
	g.POST("/:id/assign", AssignConflict)
}

// ListConflicts lists a package's conflicts with optional status filter
func ListConflicts(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := appcontext.GetTenantID(ctx)

	packageID := c.QueryParam("package_id")
	if packageID == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "package_id query parameter is required")
	}
	status := models.ConflictStatus(c.QueryParam("status"))

	page, _ := strconv.Atoi(c.QueryParam("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(c.QueryParam("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	ctx, repo, err := ectoinject.GetContext[*conflictrepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	items, total, err := repo.ListByPackage(ctx, tenantID, packageID, status, page, pageSize)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, models.ConflictListResponse{
		Items:      items,
		TotalCount: total,
		Page:       page,
		PageSize:   pageSize,
	})
}

// GetConflict gets a conflict by ID
func GetConflict(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := appcontext.GetTenantID(ctx)
	id := c.Param("id")

	ctx, repo, err := ectoinject.GetContext[*conflictrepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	found, err := repo.Get(ctx, tenantID, id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, found)
}

// ResolveConflict applies a reviewer's decision and re-checks the package's
// commit gate, so resolving the last conflict can flip the package to ready
func ResolveConflict(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := appcontext.GetTenantID(ctx)
	id := c.Param("id")
	actorID := appcontext.GetUserID(ctx)

	var req models.ResolveConflictRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if err := validate.Struct(req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx, resolver, err := ectoinject.GetContext[*conflict.Resolver](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	resolved, err := resolver.Resolve(ctx, tenantID, id, req, actorID)
	if err != nil {
		return err
	}

	ctx, processor, err := ectoinject.GetContext[*pipeline.Processor](ctx)
	if err == nil && processor != nil {
		// gate failures surface on the next check
		_, _ = processor.TryAdvance(ctx, tenantID, resolved.PackageID)
	}

	return c.JSON(http.StatusOK, resolved)
}

// EscalateConflict raises a conflict's priority and keeps it open for a
// senior reviewer
func EscalateConflict(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := appcontext.GetTenantID(ctx)
	id := c.Param("id")
	actorID := appcontext.GetUserID(ctx)

	ctx, resolver, err := ectoinject.GetContext[*conflict.Resolver](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	escalated, err := resolver.Resolve(ctx, tenantID, id, models.ResolveConflictRequest{
		Action: models.ConflictActionEscalate,
	}, actorID)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, escalated)
}

// AssignConflict routes a conflict to a reviewer
func AssignConflict(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := appcontext.GetTenantID(ctx)
	id := c.Param("id")
	actorID := appcontext.GetUserID(ctx)

	var req models.AssignConflictRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.AssignedTo == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "assigned_to is required")
	}

	ctx, resolver, err := ectoinject.GetContext[*conflict.Resolver](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	if err := resolver.Assign(ctx, tenantID, id, req.AssignedTo, actorID); err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "assigned"})
}
