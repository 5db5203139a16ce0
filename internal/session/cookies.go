package session

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

// Cookie and header names.
const (
	AccessTokenCookie  = "access_token"
	RefreshTokenCookie = "refresh_token"
	CSRFCookie         = "fastapi-csrf-token"
	CSRFHeader         = "X-CSRF-Token"

	bearerPrefix = "Bearer "
)

func (s *Service) setCookie(c echo.Context, name, value string, ttl time.Duration) {
	c.SetCookie(&http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		Expires:  time.Now().Add(ttl),
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Service) clearCookie(c echo.Context, name string) {
	c.SetCookie(&http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

// setCSRF issues a fresh CSRF token: the signature goes to the cookie and the token itself to the
// response header, for the client to echo back.
func (s *Service) setCSRF(c echo.Context) (string, error) {
	token, signature, err := s.tokens.NewCSRF()
	if err != nil {
		return "", err
	}
	s.setCookie(c, CSRFCookie, signature, s.csrfTTL)
	c.Response().Header().Set(CSRFHeader, token)
	return token, nil
}

func (s *Service) checkCSRF(c echo.Context) error {
	cookie, err := c.Cookie(CSRFCookie)
	if err != nil {
		return ErrCSRFMismatch
	}
	return s.tokens.CheckCSRF(c.Request().Header.Get(CSRFHeader), cookie.Value)
}

func stripBearer(value string) string {
	if len(value) >= len(bearerPrefix) && strings.EqualFold(value[:len(bearerPrefix)], bearerPrefix) {
		return value[len(bearerPrefix):]
	}
	return value
}

func isStateChanging(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}
