package context

import (
	"github.com/labstack/echo/v4"

	"github.com/modelzoo/modelzoo/pkg/model"
)

// ZooContext is a wrapper around echo.Context so that some convenience functions that depend on
// context can be made accessible to handlers.
type ZooContext struct {
	echo.Context
}

// SetUser sets the user for an echo request context.
func (c *ZooContext) SetUser(user model.User) {
	c.Set("user", user)
}

// GetUser returns the user for the request, if authentication resolved one.
func (c *ZooContext) GetUser() (model.User, bool) {
	user, ok := c.Get("user").(model.User)
	return user, ok
}

// MustGetUser returns the user for the relevant echo request context. Panics if the user has not
// been set, so this method should only be used inside handlers that _require_ authentication.
func (c *ZooContext) MustGetUser() model.User {
	user, ok := c.GetUser()
	if !ok {
		panic("Failed to get authenticated user from request context!")
	}
	return user
}

// Extend is the echo middleware that wraps every request context in a ZooContext.
func Extend(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, ok := c.(*ZooContext); ok {
			return next(c)
		}
		return next(&ZooContext{c})
	}
}

// MustGetUser returns the authenticated user of c, which must have passed through Extend.
func MustGetUser(c echo.Context) model.User {
	return c.(*ZooContext).MustGetUser()
}
