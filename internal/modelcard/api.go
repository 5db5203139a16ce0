package modelcard

import (
	"github.com/labstack/echo/v4"

	"github.com/modelzoo/modelzoo/internal/api"
)

// RegisterAPIHandler registers the /models endpoints behind the given (authentication)
// middleware.
func RegisterAPIHandler(e *echo.Echo, s *Service, middleware ...echo.MiddlewareFunc) {
	models := e.Group("/models", middleware...)
	models.GET("/_db/options/filters", api.Route(s.getFilterOptions))
	models.GET("/_db/options/filters/", api.Route(s.getFilterOptions))
	models.GET("", api.Route(s.getCards))
	models.GET("/", api.Route(s.getCards))
	models.POST("", api.Route(s.postCard))
	models.POST("/", api.Route(s.postCard))
	models.DELETE("/multi", api.Route(s.deleteCards))
	models.GET("/:creator", api.Route(s.getUserCards))
	models.GET("/:creator/:model", api.Route(s.getCard))
	models.PUT("/:creator/:model", api.Route(s.putCard))
	models.DELETE("/:creator/:model", api.Route(s.deleteCard))
}
