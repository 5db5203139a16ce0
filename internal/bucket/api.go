package bucket

import (
	"github.com/labstack/echo/v4"

	"github.com/modelzoo/modelzoo/internal/api"
)

// RegisterAPIHandler registers the /buckets endpoints behind the given (authentication)
// middleware.
func RegisterAPIHandler(e *echo.Echo, s *Service, middleware ...echo.MiddlewareFunc) {
	buckets := e.Group("/buckets", middleware...)
	buckets.POST("/video", api.Route(s.postVideo))
	buckets.PUT("/video", api.Route(s.putVideo))
}
