package export

import (
	"github.com/labstack/echo/v4"

	"github.com/modelzoo/modelzoo/internal/api"
)

// RegisterAPIHandler registers export submission under /models and the /exports endpoints.
// Every endpoint requires an admin; the caller passes the authentication and admin middleware.
func RegisterAPIHandler(e *echo.Echo, s *Service, middleware ...echo.MiddlewareFunc) {
	e.POST("/models/export", api.Route(s.postExport), middleware...)

	exports := e.Group("/exports", middleware...)
	exports.POST("", api.Route(s.postExportList))
	exports.POST("/", api.Route(s.postExportList))
	exports.DELETE("", api.Route(s.deleteExports))
	exports.DELETE("/", api.Route(s.deleteExports))
}
