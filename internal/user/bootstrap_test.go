package user

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/modelzoo/modelzoo/internal/config"
	"github.com/modelzoo/modelzoo/pkg/model"
)

func TestEnsureSuperuser(t *testing.T) {
	model.BCryptCost = bcrypt.MinCost
	ctx := context.Background()
	store := newMemStore()

	cfg := *config.DefaultAuthConfig()
	require.NoError(t, EnsureSuperuser(ctx, store, cfg))
	require.Empty(t, store.users)

	cfg.FirstSuperuserID = "root"
	cfg.FirstSuperuserPassword = "R00tPassword!"
	require.NoError(t, EnsureSuperuser(ctx, store, cfg))
	root, err := store.ByUserID(ctx, "root")
	require.NoError(t, err)
	require.True(t, root.AdminPriv)
	require.Equal(t, "Root", root.Name)
	require.True(t, root.ValidatePassword("R00tPassword!"))

	cfg.FirstSuperuserPassword = "Different1!"
	require.NoError(t, EnsureSuperuser(ctx, store, cfg))
	root, err = store.ByUserID(ctx, "root")
	require.NoError(t, err)
	require.True(t, root.ValidatePassword("R00tPassword!"))
}
