// Package routes assembles the service's HTTP surface: the shared middleware
// stack, the metrics endpoint, and every versioned route group.
package routes

import (
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/Ramsey-B/clover/pkg/middleware"
	"github.com/Ramsey-B/clover/pkg/routes/assignment"
	"github.com/Ramsey-B/clover/pkg/routes/conflict"
	"github.com/Ramsey-B/clover/pkg/routes/health"
	"github.com/Ramsey-B/clover/pkg/routes/importpackage"
	"github.com/Ramsey-B/clover/pkg/routes/staging"
)

// Setup wires middleware and registers all route groups on the echo instance
func Setup(e *echo.Echo, serviceName string, logger ectologger.Logger, checker *health.Checker) {
	e.Use(otelecho.Middleware(serviceName))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(logger))
	e.HTTPErrorHandler = middleware.Error(logger)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	checker.RegisterRoutes(e)

	api := e.Group("/api/v1")
	importpackage.Register(api.Group("/packages"))
	staging.Register(api.Group("/staging"))
	conflict.Register(api.Group("/conflicts"))
	assignment.Register(api.Group("/assignments"))
}
