package user

import (
	"github.com/labstack/echo/v4"

	"github.com/modelzoo/modelzoo/internal/api"
)

// RegisterAPIHandler registers the /iam endpoints. Every endpoint requires an admin; the caller
// passes the authentication middleware.
func RegisterAPIHandler(e *echo.Echo, s *Service, middleware ...echo.MiddlewareFunc) {
	iamGroup := e.Group("/iam", middleware...)
	iamGroup.POST("", api.Route(s.postUserList))
	iamGroup.POST("/", api.Route(s.postUserList))
	iamGroup.POST("/add", api.Route(s.postUser))
	iamGroup.DELETE("/delete", api.Route(s.deleteUsers))
	iamGroup.PUT("/edit", api.Route(s.putUser))
	iamGroup.PUT("/edit/multi", api.Route(s.putUsersPriv))
}
