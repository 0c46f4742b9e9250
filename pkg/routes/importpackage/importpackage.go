package importpackage

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/clover/internal/repositories/importpackage"
	"github.com/Ramsey-B/clover/pkg/appcontext"
	"github.com/Ramsey-B/clover/pkg/commit"
	"github.com/Ramsey-B/clover/pkg/events"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/pipeline"
)

// Register registers import package routes
func Register(g *echo.Group) {
	g.POST("", UploadPackage)
	g.GET("", ListPackages)
	g.GET("/:id", GetPackageStatus)
	g.GET("/:id/errors", ListPackageErrors)
	g.POST("/:id/revalidate", RevalidatePackage)
	g.POST("/:id/commit", CommitPackage)
}

// UploadPackage receives a field package file into quarantine. The package
// file arrives as the "file" part of a multipart form together with the
// device's metadata fields.
func UploadPackage(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := appcontext.GetTenantID(ctx)

	packageNumber := c.FormValue("package_number")
	if packageNumber == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "package_number is required")
	}
	declaredChecksum := c.FormValue("checksum")
	if declaredChecksum == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "checksum is required")
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "file part is required")
	}
	file, err := fileHeader.Open()
	if err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "file part is unreadable")
	}
	defer file.Close()

	ctx, processor, err := ectoinject.GetContext[*pipeline.Processor](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	pkg, err := processor.Receive(ctx, tenantID, pipeline.ReceiveRequest{
		PackageNumber:    packageNumber,
		DeviceID:         c.FormValue("device_id"),
		DeclaredChecksum: declaredChecksum,
		UploadedBy:       appcontext.GetUserID(ctx),
	}, file)
	if errors.Is(err, models.ErrDuplicatePackage) {
		// idempotent re-upload: report the package already on record
		return c.JSON(http.StatusConflict, pkg)
	}
	if err != nil {
		return err
	}

	return c.JSON(http.StatusAccepted, pkg)
}

// ListPackages lists import packages with optional status filter
func ListPackages(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := appcontext.GetTenantID(ctx)

	status := models.PackageStatus(c.QueryParam("status"))

	page, _ := strconv.Atoi(c.QueryParam("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(c.QueryParam("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	ctx, repo, err := ectoinject.GetContext[*importpackage.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	items, total, err := repo.List(ctx, tenantID, status, page, pageSize)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, models.PackageListResponse{
		Items:      items,
		TotalCount: total,
		Page:       page,
		PageSize:   pageSize,
	})
}

// GetPackageStatus returns a package with its staged counts, issue totals, and
// open conflict count
func GetPackageStatus(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := appcontext.GetTenantID(ctx)
	id := c.Param("id")

	ctx, processor, err := ectoinject.GetContext[*pipeline.Processor](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	status, err := processor.Status(ctx, tenantID, id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, status)
}

// ListPackageErrors lists every staged record of the package that carries
// validation errors or warnings
func ListPackageErrors(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := appcontext.GetTenantID(ctx)
	id := c.Param("id")

	ctx, processor, err := ectoinject.GetContext[*pipeline.Processor](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	issues, err := processor.Issues(ctx, tenantID, id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, issues)
}

// RevalidatePackage sends a package back through the validators after record
// corrections
func RevalidatePackage(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := appcontext.GetTenantID(ctx)
	id := c.Param("id")

	ctx, processor, err := ectoinject.GetContext[*pipeline.Processor](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	if err := processor.Revalidate(ctx, tenantID, id); err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "revalidating"})
}

// CommitPackage promotes a ready package into the system of record
func CommitPackage(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := appcontext.GetTenantID(ctx)
	id := c.Param("id")
	actorID := appcontext.GetUserID(ctx)

	ctx, engine, err := ectoinject.GetContext[*commit.Engine](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	result, err := engine.Commit(ctx, tenantID, id, actorID)
	if errors.Is(err, models.ErrNotCommittable) || errors.Is(err, models.ErrUnresolvedConflict) {
		return httperror.NewHTTPError(http.StatusConflict, err.Error())
	}
	if err != nil {
		return err
	}

	// the commit completion event is best effort; the commit itself is durable
	ctx, emitter, emitErr := ectoinject.GetContext[*events.Emitter](ctx)
	if emitErr == nil && emitter != nil {
		ctx, repo, repoErr := ectoinject.GetContext[*importpackage.Repository](ctx)
		if repoErr == nil {
			if pkg, getErr := repo.Get(ctx, tenantID, id); getErr == nil {
				committed := make(map[string]int, len(result.Committed))
				for family, n := range result.Committed {
					committed[string(family)] = n
				}
				_ = emitter.EmitPackageCommitted(ctx, pkg, committed, result.Skipped)
			}
		}
	}

	return c.JSON(http.StatusOK, result)
}
