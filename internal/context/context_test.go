package context

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/modelzoo/modelzoo/pkg/model"
)

func TestZooContextUser(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

	var seen model.User
	h := Extend(func(c echo.Context) error {
		zc := c.(*ZooContext)
		_, ok := zc.GetUser()
		require.False(t, ok)
		require.Panics(t, func() { zc.MustGetUser() })

		zc.SetUser(model.User{UserID: "alice", AdminPriv: true})
		seen = MustGetUser(c)
		return nil
	})
	require.NoError(t, h(c))
	require.Equal(t, "alice", seen.UserID)
	require.True(t, seen.AdminPriv)
}
