package session

import (
	"github.com/labstack/echo/v4"

	"github.com/modelzoo/modelzoo/internal/api"
)

// RegisterAPIHandler registers the /auth endpoints.
func RegisterAPIHandler(e *echo.Echo, s *Service) {
	authGroup := e.Group("/auth")
	authGroup.POST("", api.Route(s.postLogin))
	authGroup.POST("/", api.Route(s.postLogin))
	authGroup.POST("/refresh", api.Route(s.postRefresh))
	authGroup.DELETE("/logout", api.Route(s.deleteLogout))
	authGroup.GET("/is_admin", api.Route(s.getIsAdmin), s.ProcessAuthentication, RequireAdmin)
}
