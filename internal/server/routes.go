package server

import (
	"github.com/OFFIS-RIT/ctilinker/internal/server/middleware"
	"github.com/OFFIS-RIT/ctilinker/internal/server/routes"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func RegisterRoutes(e *echo.Echo) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(200, "OK")
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Source routes
	e.GET("/sources", routes.GetSourcesHandler, middleware.AuthMiddleware)
	e.GET("/results/:source", routes.GetSourceResultsHandler, middleware.AuthMiddleware)
	e.GET("/results/:source/*", routes.GetResultHandler, middleware.AuthMiddleware)

	// Run routes
	e.POST("/runs", routes.CreateRunHandler, middleware.AuthMiddleware)
}
