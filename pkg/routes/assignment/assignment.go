package assignment

import (
	"net/http"
	"strconv"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/clover/pkg/appcontext"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/transfer"
)

var validate = validator.New()

// Register registers building assignment routes
func Register(g *echo.Group) {
	g.POST("", CreateAssignment)
	g.GET("", ListAssignments)
	g.POST("/pull", PullAssignments)
	g.POST("/acknowledge", AcknowledgeTransfer)
	g.POST("/:id/fail", FailTransfer)
	g.POST("/:id/cancel", CancelAssignment)
}

// CreateAssignment hands a building to a collector
func CreateAssignment(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := appcontext.GetTenantID(ctx)

	var req models.CreateAssignmentRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx, tracker, err := ectoinject.GetContext[*transfer.Tracker](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	created, err := tracker.Assign(ctx, tenantID, req)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, created)
}

// ListAssignments lists a collector's assignments with optional status filter
func ListAssignments(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := appcontext.GetTenantID(ctx)

	collectorUserID := c.QueryParam("collector_user_id")
	if collectorUserID == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "collector_user_id query parameter is required")
	}
	status := models.TransferStatus(c.QueryParam("status"))

	page, _ := strconv.Atoi(c.QueryParam("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(c.QueryParam("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	ctx, tracker, err := ectoinject.GetContext[*transfer.Tracker](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	items, total, err := tracker.List(ctx, tenantID, collectorUserID, status, page, pageSize)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, models.AssignmentListResponse{
		Items:      items,
		TotalCount: total,
		Page:       page,
		PageSize:   pageSize,
	})
}

// PullAssignments hands the incremental transfer set to a device: everything
// assigned or retried since the device's last sync point
func PullAssignments(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := appcontext.GetTenantID(ctx)

	collectorUserID := c.QueryParam("collector_user_id")
	if collectorUserID == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "collector_user_id query parameter is required")
	}

	since := time.Time{}
	if raw := c.QueryParam("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return httperror.NewHTTPError(http.StatusBadRequest, "since must be RFC3339")
		}
		since = parsed
	}

	ctx, tracker, err := ectoinject.GetContext[*transfer.Tracker](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	items, err := tracker.Pull(ctx, tenantID, collectorUserID, since)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, items)
}

// AcknowledgeTransfer records device receipt of pulled assignments
func AcknowledgeTransfer(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := appcontext.GetTenantID(ctx)

	var req models.AcknowledgeTransferRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx, tracker, err := ectoinject.GetContext[*transfer.Tracker](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	acked, err := tracker.Acknowledge(ctx, tenantID, req)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]any{"acknowledged": acked})
}

// FailTransfer records a transfer failure reported by a device. An assignment
// out of retries comes back cancelled.
func FailTransfer(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := appcontext.GetTenantID(ctx)
	id := c.Param("id")

	var body struct {
		ErrorMessage *string `json:"error_message,omitempty"`
	}
	if err := c.Bind(&body); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ctx, tracker, err := ectoinject.GetContext[*transfer.Tracker](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	updated, err := tracker.Fail(ctx, tenantID, id, body.ErrorMessage)
	if err != nil && updated == nil {
		return err
	}
	if err != nil {
		// retry budget exhausted; report the cancelled assignment
		return c.JSON(http.StatusConflict, updated)
	}

	return c.JSON(http.StatusOK, updated)
}

// CancelAssignment withdraws an assignment that has not transferred
func CancelAssignment(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := appcontext.GetTenantID(ctx)
	id := c.Param("id")

	ctx, tracker, err := ectoinject.GetContext[*transfer.Tracker](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	cancelled, err := tracker.Cancel(ctx, tenantID, id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, cancelled)
}
