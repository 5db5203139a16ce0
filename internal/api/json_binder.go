package api

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/modelzoo/modelzoo/pkg/check"
)

// BindJSON decodes the JSON request body into i. Malformed bodies and bodies that fail
// check.Validate are rejected with a 422.
func BindJSON(i interface{}, c echo.Context) error {
	req := c.Request()
	if req.Body == nil || req.ContentLength == 0 {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "request body is required")
	}
	if err := json.NewDecoder(req.Body).Decode(i); err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	if err := check.Validate(i); err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return nil
}
