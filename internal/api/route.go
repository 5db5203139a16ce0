package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Response carries a result with a status code other than 200. A nil Body sends no content.
type Response struct {
	Code int
	Body interface{}
}

// Route wraps a handler returning Go objects into something that responds in a
// more HTTP native way by serializing responses and setting status codes.
// A nil result is sent as 204 No Content.
func Route(handler func(c echo.Context) (interface{}, error)) echo.HandlerFunc {
	return func(c echo.Context) error {
		result, err := handler(c)
		switch {
		case err != nil:
			return err
		case c.Response().Committed:
			return nil
		case result == nil:
			return c.NoContent(http.StatusNoContent)
		}

		if r, ok := result.(Response); ok {
			if r.Body == nil {
				return c.NoContent(r.Code)
			}
			return c.JSON(r.Code, r.Body)
		}
		return c.JSON(http.StatusOK, result)
	}
}
