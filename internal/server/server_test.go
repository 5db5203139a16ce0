package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/modelzoo/modelzoo/internal/bucket"
	"github.com/modelzoo/modelzoo/internal/config"
	"github.com/modelzoo/modelzoo/internal/connector"
	"github.com/modelzoo/modelzoo/internal/db"
	"github.com/modelzoo/modelzoo/internal/export"
	"github.com/modelzoo/modelzoo/internal/modelcard"
	"github.com/modelzoo/modelzoo/internal/session"
	"github.com/modelzoo/modelzoo/internal/storage/storagetest"
	"github.com/modelzoo/modelzoo/internal/task"
	"github.com/modelzoo/modelzoo/internal/user"
	"github.com/modelzoo/modelzoo/pkg/model"
)

type accounts map[string]model.User

func (a accounts) ByUserID(_ context.Context, userID string) (*model.User, error) {
	u, ok := a[userID]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &u, nil
}

type testServer struct {
	e        *echo.Echo
	sessions *session.Service
	accounts accounts
	health   error
}

func newTestServer(t *testing.T) *testServer {
	cfg := config.DefaultConfig()
	cfg.FrontendHost = "http://localhost:3000, https://zoo.example.com/"
	cfg.Auth.SecretKey = "test-secret"
	require.NoError(t, cfg.Resolve())

	ts := &testServer{
		accounts: accounts{
			"alice": {UserID: "alice", Name: "Alice", AdminPriv: true},
			"bob":   {UserID: "bob", Name: "Bob"},
		},
	}
	ts.sessions = session.New(cfg.Auth, ts.accounts)

	pool := task.NewPool(cfg.Tasks, nil)
	t.Cleanup(pool.Close)

	objects := storagetest.NewMemoryStore("zoo")
	cards := modelcard.NewMemStore()
	ts.e = NewEcho(cfg)
	RegisterRoutes(ts.e, Handlers{
		Sessions:   ts.sessions,
		Users:      user.NewService(nil),
		Cards:      modelcard.NewService(cards, nil, nil, nil),
		Exports:    export.NewService(nil, objects, nil, pool),
		Buckets:    bucket.NewService(objects, cards, cfg.MaxUploadBytes()),
		Connectors: connector.NewService(connector.NewRegistry(cfg.ClearML)),
		Pool:       pool,
		Health: func(context.Context) error {
			return ts.health
		},
	})
	return ts
}

func (ts *testServer) do(t *testing.T, req *http.Request, as string) *httptest.ResponseRecorder {
	if as != "" {
		u := ts.accounts[as]
		token, err := ts.sessions.Tokens().Issue(u.UserID, u.Role(), u.Name, time.Minute)
		require.NoError(t, err)
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.e.ServeHTTP(rec, req)
	return rec
}

func TestRoot(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, httptest.NewRequest(http.MethodGet, "/", nil), "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "Hello World", body["message"])

	require.Equal(t, "SAMEORIGIN", rec.Header().Get(echo.HeaderXFrameOptions))
	require.Equal(t, "nosniff", rec.Header().Get(echo.HeaderXContentTypeOptions))
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, httptest.NewRequest(http.MethodGet, "/health", nil), "")
	require.Equal(t, http.StatusOK, rec.Code)

	ts.health = errors.New("connection refused")
	rec = ts.do(t, httptest.NewRequest(http.MethodGet, "/health", nil), "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "connection refused")
}

func TestMetrics(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, httptest.NewRequest(http.MethodGet, "/", nil), "")

	rec := ts.do(t, httptest.NewRequest(http.MethodGet, "/metrics", nil), "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "modelzoo_requests_total")
}

func TestCORS(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/models", nil)
	req.Header.Set(echo.HeaderOrigin, "https://zoo.example.com")
	req.Header.Set(echo.HeaderAccessControlRequestMethod, http.MethodPost)
	rec := ts.do(t, req, "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "https://zoo.example.com", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
	require.Equal(t, "true", rec.Header().Get(echo.HeaderAccessControlAllowCredentials))

	req = httptest.NewRequest(http.MethodOptions, "/models", nil)
	req.Header.Set(echo.HeaderOrigin, "https://evil.example.com")
	req.Header.Set(echo.HeaderAccessControlRequestMethod, http.MethodPost)
	rec = ts.do(t, req, "")
	require.Empty(t, rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
}

func TestAuthentication(t *testing.T) {
	ts := newTestServer(t)

	cases := []struct {
		name   string
		method string
		target string
		as     string
		code   int
	}{
		{"cards need a session", http.MethodGet, "/models", "", http.StatusUnauthorized},
		{"cards with a session", http.MethodGet, "/models", "bob", http.StatusOK},
		{"tasks need an admin", http.MethodGet, "/tasks/missing", "bob", http.StatusForbidden},
		{"tasks as admin", http.MethodGet, "/tasks/missing", "alice", http.StatusNotFound},
		{"users need an admin", http.MethodPost, "/iam", "bob", http.StatusForbidden},
		{"exports need an admin", http.MethodPost, "/exports", "bob", http.StatusForbidden},
		{"is_admin for a user", http.MethodGet, "/auth/is_admin", "bob", http.StatusForbidden},
		{"is_admin for an admin", http.MethodGet, "/auth/is_admin", "alice", http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := ts.do(t, httptest.NewRequest(tc.method, tc.target, nil), tc.as)
			require.Equal(t, tc.code, rec.Code, rec.Body.String())
		})
	}
}
