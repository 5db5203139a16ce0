package connector

import (
	"github.com/labstack/echo/v4"

	"github.com/modelzoo/modelzoo/internal/api"
)

// RegisterAPIHandler registers the /experiments and /datasets endpoints behind the given
// middleware.
func RegisterAPIHandler(e *echo.Echo, s *Service, middleware ...echo.MiddlewareFunc) {
	experiments := e.Group("/experiments", middleware...)
	experiments.POST("/clone", api.Route(s.postClone))
	experiments.GET("/:id", api.Route(s.getExperiment))

	datasets := e.Group("/datasets", middleware...)
	datasets.POST("/search", api.Route(s.postDatasetSearch))
	datasets.GET("/:id", api.Route(s.getDataset))
}
