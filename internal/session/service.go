package session

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/modelzoo/modelzoo/internal/api"
	"github.com/modelzoo/modelzoo/internal/config"
	zooContext "github.com/modelzoo/modelzoo/internal/context"
	"github.com/modelzoo/modelzoo/internal/db"
	"github.com/modelzoo/modelzoo/pkg/model"
)

// Accounts looks up the accounts that tokens are issued for.
type Accounts interface {
	ByUserID(ctx context.Context, userID string) (*model.User, error)
}

// Service issues sessions and authenticates requests. Sessions are not stored server side, so
// logging out only clears the client's cookies and a token stays valid until it expires.
type Service struct {
	tokens        *Tokens
	accounts      Accounts
	accessTTL     time.Duration
	refreshTTL    time.Duration
	csrfTTL       time.Duration
	secureCookies bool
}

// New creates a session service.
func New(cfg config.AuthConfig, accounts Accounts) *Service {
	secure := false
	if cfg.SecureCookies != nil {
		secure = *cfg.SecureCookies
	}
	return &Service{
		tokens:        NewTokens(cfg.SecretKey),
		accounts:      accounts,
		accessTTL:     time.Duration(cfg.AccessTokenMinutes) * time.Minute,
		refreshTTL:    time.Duration(cfg.RefreshTokenDays) * 24 * time.Hour,
		csrfTTL:       time.Duration(cfg.CSRFTokenMaxAgeHours) * time.Hour,
		secureCookies: secure,
	}
}

// Tokens exposes the token issuer.
func (s *Service) Tokens() *Tokens {
	return s.tokens
}

var (
	errNotAuthenticated = echo.NewHTTPError(http.StatusUnauthorized, "Not authenticated")
	errBadCredentials   = echo.NewHTTPError(http.StatusUnauthorized, "Could not validate credentials")
	errAccessExpired    = echo.NewHTTPError(http.StatusUnauthorized, "Access Token Expired")
	errUserNotFound     = echo.NewHTTPError(http.StatusNotFound, "User not found")
	errCSRF             = echo.NewHTTPError(http.StatusConflict, ErrCSRFMismatch.Error())
	errNotAdmin         = echo.NewHTTPError(http.StatusForbidden, "User does not have admin access")
)

func tokenError(err error) error {
	switch {
	case errors.Is(err, ErrSigningKeyMissing):
		return echo.NewHTTPError(http.StatusInternalServerError, "No secret key set")
	case errors.Is(err, ErrExpiredCredential):
		return errAccessExpired
	default:
		return errBadCredentials
	}
}

// ProcessAuthentication is a middleware processing function that authenticates incoming HTTP
// requests. The token is read from the "access_token" cookie, or failing that from a Bearer
// Authorization header. Cookie-authenticated requests that change state must also pass the CSRF
// check. The account is fetched again on every request, so deleted accounts and changed
// privileges take effect immediately.
func (s *Service) ProcessAuthentication(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		var (
			raw        string
			fromCookie bool
		)
		if cookie, err := c.Cookie(AccessTokenCookie); err == nil && cookie.Value != "" {
			raw, fromCookie = stripBearer(cookie.Value), true
		} else if header := c.Request().Header.Get(echo.HeaderAuthorization); header != "" {
			raw = stripBearer(header)
		}
		if raw == "" {
			return errNotAuthenticated
		}

		claims, err := s.tokens.Verify(raw)
		if err != nil {
			return tokenError(err)
		}
		if fromCookie && isStateChanging(c.Request().Method) {
			if err := s.checkCSRF(c); err != nil {
				return errCSRF
			}
		}

		user, err := s.confirmAccount(c.Request().Context(), claims)
		if err != nil {
			return err
		}
		c.(*zooContext.ZooContext).SetUser(*user)
		return next(c)
	}
}

// confirmAccount re-reads the account named by claims and checks that its privilege still
// matches the token's role.
func (s *Service) confirmAccount(ctx context.Context, claims *Claims) (*model.User, error) {
	user, err := s.accounts.ByUserID(ctx, claims.Subject)
	switch {
	case errors.Is(err, db.ErrNotFound):
		return nil, errUserNotFound
	case err != nil:
		return nil, errors.Wrapf(err, "looking up user %s", claims.Subject)
	case user.Role() != claims.Role:
		return nil, errUserNotFound
	}
	return user, nil
}

// RequireAdmin rejects requests whose authenticated user is not an admin. It must run after
// ProcessAuthentication.
func RequireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !zooContext.MustGetUser(c).AdminPriv {
			return errNotAdmin
		}
		return next(c)
	}
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	CSRFToken    string `json:"csrf_token"`
}

func (s *Service) postLogin(c echo.Context) (interface{}, error) {
	userID, password := c.FormValue("username"), c.FormValue("password")
	if userID == "" {
		return nil, echo.NewHTTPError(http.StatusUnprocessableEntity, "username is required")
	}

	user, err := s.accounts.ByUserID(c.Request().Context(), userID)
	switch {
	case errors.Is(err, db.ErrNotFound):
		c.Response().Header().Set(echo.HeaderWWWAuthenticate, "Bearer")
		return nil, echo.NewHTTPError(http.StatusNotFound, "User ID does not exist")
	case err != nil:
		return nil, err
	case !user.ValidatePassword(password):
		c.Response().Header().Set(echo.HeaderWWWAuthenticate, "Bearer")
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "Invalid password")
	}

	access, err := s.tokens.Issue(user.UserID, user.Role(), user.Name, s.accessTTL)
	if err != nil {
		return nil, tokenError(err)
	}
	refresh, err := s.tokens.Issue(user.UserID, user.Role(), user.Name, s.refreshTTL)
	if err != nil {
		return nil, tokenError(err)
	}
	csrf, err := s.setCSRF(c)
	if err != nil {
		return nil, tokenError(err)
	}
	s.setCookie(c, AccessTokenCookie, bearerPrefix+access, s.accessTTL)
	s.setCookie(c, RefreshTokenCookie, bearerPrefix+refresh, s.refreshTTL)

	log.WithField("component", "session").Debugf("user %s logged in", user.UserID)
	return tokenResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		CSRFToken:    csrf,
	}, nil
}

func (s *Service) postRefresh(c echo.Context) (interface{}, error) {
	wrongMethod := echo.NewHTTPError(http.StatusBadRequest, "Wrong access method")

	var params struct {
		GrantType string `json:"grant_type"`
	}
	if err := api.BindJSON(&params, c); err != nil || params.GrantType != "refresh_token" {
		return nil, wrongMethod
	}
	cookie, err := c.Cookie(RefreshTokenCookie)
	if err != nil || cookie.Value == "" {
		return nil, wrongMethod
	}

	claims, err := s.tokens.Verify(stripBearer(cookie.Value))
	switch {
	case errors.Is(err, ErrExpiredCredential):
		return nil, echo.NewHTTPError(http.StatusForbidden, "Refresh Token Expired. Please login again.")
	case err != nil:
		return nil, tokenError(err)
	}
	if err := s.checkCSRF(c); err != nil {
		return nil, errCSRF
	}

	user, err := s.confirmAccount(c.Request().Context(), claims)
	if errors.Is(err, errUserNotFound) {
		return nil, echo.NewHTTPError(http.StatusNotFound, "User ID does not exist")
	} else if err != nil {
		return nil, err
	}

	access, err := s.tokens.Issue(user.UserID, user.Role(), user.Name, s.accessTTL)
	if err != nil {
		return nil, tokenError(err)
	}
	csrf, err := s.setCSRF(c)
	if err != nil {
		return nil, tokenError(err)
	}
	s.setCookie(c, AccessTokenCookie, bearerPrefix+access, s.accessTTL)

	return tokenResponse{
		AccessToken:  access,
		RefreshToken: cookie.Value,
		TokenType:    "bearer",
		CSRFToken:    csrf,
	}, nil
}

func (s *Service) deleteLogout(c echo.Context) (interface{}, error) {
	for _, name := range []string{AccessTokenCookie, RefreshTokenCookie, CSRFCookie} {
		s.clearCookie(c, name)
	}
	return nil, nil
}

func (s *Service) getIsAdmin(c echo.Context) (interface{}, error) {
	return nil, nil
}
