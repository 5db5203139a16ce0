package user

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/modelzoo/modelzoo/internal/api"
	"github.com/modelzoo/modelzoo/internal/db"
	"github.com/modelzoo/modelzoo/internal/db/bunutils"
	"github.com/modelzoo/modelzoo/pkg/model"
)

type memStore struct {
	mu    sync.Mutex
	users map[string]model.User
}

func newMemStore() *memStore {
	return &memStore{users: map[string]model.User{}}
}

func (m *memStore) ByUserID(_ context.Context, userID string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &u, nil
}

func (m *memStore) Add(_ context.Context, user *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user.UserID]; ok {
		return db.ErrDuplicateRecord
	}
	m.users[user.UserID] = *user
	return nil
}

func (m *memStore) Replace(_ context.Context, user *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user.UserID]; !ok {
		return db.ErrNotFound
	}
	m.users[user.UserID] = *user
	return nil
}

func (m *memStore) Delete(_ context.Context, userIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range userIDs {
		delete(m.users, id)
	}
	return nil
}

func (m *memStore) SetAdmin(_ context.Context, userIDs []string, admin bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range userIDs {
		if u, ok := m.users[id]; ok {
			u.AdminPriv = admin
			m.users[id] = u
		}
	}
	return nil
}

func (m *memStore) List(_ context.Context, f Filter) ([]model.User, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.User
	for _, u := range m.users {
		if f.AdminPriv != nil && u.AdminPriv != *f.AdminPriv {
			continue
		}
		if f.UserID != "" && !strings.Contains(strings.ToLower(u.UserID), strings.ToLower(f.UserID)) {
			continue
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	p := bunutils.Bounds(len(out), f.Page, f.PageSize)
	return out[p.StartIndex:p.EndIndex], len(out), nil
}

func newTestEcho(store Store) *echo.Echo {
	model.BCryptCost = bcrypt.MinCost
	e := echo.New()
	e.HTTPErrorHandler = api.JSONErrorHandler
	RegisterAPIHandler(e, NewService(store))
	return e
}

func send(e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestAddUser(t *testing.T) {
	store := newMemStore()
	e := newTestEcho(store)

	rec := send(e, http.MethodPost, "/iam/add",
		`{"name":"Jane","user_id":"Jane.Doe","password":"Passw0rd!","password_confirm":"Passw0rd!"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.JSONEq(t, `"User of ID: jane_doe created"`, rec.Body.String())
	stored, err := store.ByUserID(context.Background(), "jane_doe")
	require.NoError(t, err)
	require.True(t, stored.ValidatePassword("Passw0rd!"))
	require.False(t, stored.AdminPriv)

	rec = send(e, http.MethodPost, "/iam/add",
		`{"name":"Jane","user_id":"jane_doe","password":"Passw0rd!","password_confirm":"Passw0rd!"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "User with ID of jane_doe already exists")

	rec = send(e, http.MethodPost, "/iam/add",
		`{"name":"Generated Name","password":"Passw0rd!","password_confirm":"Passw0rd!","admin_priv":true}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Contains(t, rec.Body.String(), "generat_")
}

func TestAddUserValidation(t *testing.T) {
	e := newTestEcho(newMemStore())
	cases := map[string]string{
		"mismatch": `{"name":"J","password":"Passw0rd!","password_confirm":"Passw0rd?"}`,
		"weak":     `{"name":"J","password":"password","password_confirm":"password"}`,
		"no name":  `{"name":"","password":"Passw0rd!","password_confirm":"Passw0rd!"}`,
	}
	for name, body := range cases {
		rec := send(e, http.MethodPost, "/iam/add", body)
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code, name)
	}
	rec := send(e, http.MethodPost, "/iam/add", cases["mismatch"])
	require.Contains(t, rec.Body.String(), "Passwords do not match")
}

func TestEditUser(t *testing.T) {
	store := newMemStore()
	e := newTestEcho(store)
	require.NoError(t, store.Add(context.Background(), &model.User{UserID: "bob", Name: "Bob"}))

	rec := send(e, http.MethodPut, "/iam/edit",
		`{"name":"Robert","user_id":"bob","password":"N3wPassw0rd!","password_confirm":"N3wPassw0rd!","admin_priv":true}`)
	require.Equal(t, http.StatusNoContent, rec.Code)
	bob, err := store.ByUserID(context.Background(), "bob")
	require.NoError(t, err)
	require.Equal(t, "Robert", bob.Name)
	require.True(t, bob.AdminPriv)
	require.True(t, bob.ValidatePassword("N3wPassw0rd!"))

	rec = send(e, http.MethodPut, "/iam/edit",
		`{"name":"Ghost","user_id":"ghost","password":"Passw0rd!","password_confirm":"Passw0rd!"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.JSONEq(t, `{"message":"User not found"}`, rec.Body.String())
}

func TestBulkPrivilegeAndDelete(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	e := newTestEcho(store)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.Add(ctx, &model.User{UserID: id, Name: id}))
	}

	rec := send(e, http.MethodPut, "/iam/edit/multi", `{"users":["a","b"]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.JSONEq(t, `{"message":"Privilege must be set properly"}`, rec.Body.String())

	rec = send(e, http.MethodPut, "/iam/edit/multi", `{"users":["a","b"],"priv":true}`)
	require.Equal(t, http.StatusNoContent, rec.Code)
	a, _ := store.ByUserID(ctx, "a")
	c, _ := store.ByUserID(ctx, "c")
	require.True(t, a.AdminPriv)
	require.False(t, c.AdminPriv)

	rec = send(e, http.MethodDelete, "/iam/delete", `{"users":["a","missing"]}`)
	require.Equal(t, http.StatusNoContent, rec.Code)
	_, err := store.ByUserID(ctx, "a")
	require.ErrorIs(t, err, db.ErrNotFound)
}

func TestListUsers(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	e := newTestEcho(store)
	for i, id := range []string{"ann", "ben", "cat", "dan", "eve", "fay", "gus"} {
		u := &model.User{UserID: id, Name: id, AdminPriv: i%2 == 0}
		u.PasswordHash.SetValid("hash")
		require.NoError(t, store.Add(ctx, u))
	}

	rec := send(e, http.MethodPost, "/iam/", `{}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Results   []map[string]interface{} `json:"results"`
		TotalRows int                      `json:"total_rows"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Equal(t, 7, page.TotalRows)
	require.Len(t, page.Results, 5)
	require.NotContains(t, page.Results[0], "passwordHash")
	require.NotContains(t, rec.Body.String(), "hash")

	rec = send(e, http.MethodPost, "/iam/?sort=userId&desc=false", `{"page_num":2,"user_num":3,"admin_priv":1}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Equal(t, 4, page.TotalRows)
	require.Len(t, page.Results, 1)
	require.Equal(t, "gus", page.Results[0]["userId"])

	rec = send(e, http.MethodPost, "/iam/?sort=password_hash", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = send(e, http.MethodPost, "/iam/", `{"page_num":0}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Contains(t, rec.Body.String(), "Page number should be above one")
}
