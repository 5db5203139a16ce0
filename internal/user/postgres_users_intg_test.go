//go:build integration
// +build integration

package user

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/modelzoo/modelzoo/internal/db"
	"github.com/modelzoo/modelzoo/pkg/model"
)

func TestPgStore(t *testing.T) {
	ctx := context.Background()
	pgDB := db.MustResolveTestPostgres(t)
	defer pgDB.Close()
	db.MustMigrateTestPostgres(t, pgDB, "file://../../static/migrations")
	db.MustTruncate(t, pgDB, "users")

	store := NewPgStore(pgDB.Bun())
	for _, u := range []*model.User{
		{UserID: "ann", Name: "Ann", AdminPriv: true},
		{UserID: "ben", Name: "Ben"},
		{UserID: "cat", Name: "Cat"},
	} {
		require.NoError(t, store.Add(ctx, u))
	}
	require.ErrorIs(t, store.Add(ctx, &model.User{UserID: "ann", Name: "Dup"}), db.ErrDuplicateRecord)

	ben, err := store.ByUserID(ctx, "ben")
	require.NoError(t, err)
	ben.Name = "Benjamin"
	require.NoError(t, store.Replace(ctx, ben))
	require.ErrorIs(t, store.Replace(ctx, &model.User{UserID: "nobody"}), db.ErrNotFound)

	require.NoError(t, store.SetAdmin(ctx, []string{"ben", "cat"}, true))
	admin := true
	users, total, err := store.List(ctx, Filter{
		AdminPriv: &admin, SortColumn: "user_id", Page: 1, PageSize: 2,
	})
	require.NoError(t, err)
	require.Equal(t, 3, total)
	require.Len(t, users, 2)
	require.Equal(t, "ann", users[0].UserID)

	users, total, err = store.List(ctx, Filter{UserID: "EN", SortColumn: "user_id", Page: 1, PageSize: 5})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, "Benjamin", users[0].Name)

	require.NoError(t, store.Delete(ctx, []string{"ann", "ghost"}))
	_, err = store.ByUserID(ctx, "ann")
	require.ErrorIs(t, err, db.ErrNotFound)
}
