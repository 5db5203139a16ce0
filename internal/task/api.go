package task

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/modelzoo/modelzoo/internal/api"
)

// RegisterAPIHandler registers GET /tasks/:id behind the given middleware.
func RegisterAPIHandler(e *echo.Echo, p *Pool, middleware ...echo.MiddlewareFunc) {
	e.GET("/tasks/:id", api.Route(func(c echo.Context) (interface{}, error) {
		r, ok := p.Get(c.Param("id"))
		if !ok {
			return nil, echo.NewHTTPError(http.StatusNotFound, "Task not found")
		}
		return r, nil
	}), middleware...)
}
