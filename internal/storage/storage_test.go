package storage_test

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/modelzoo/modelzoo/internal/storage"
	"github.com/modelzoo/modelzoo/internal/storage/storagetest"
)

func TestURI(t *testing.T) {
	require.Equal(t, "s3://zoo/images/a.png", storage.URI("zoo", "images/a.png"))

	bucket, key, err := storage.ParseURI("s3://zoo/exports/1/a/model.pt")
	require.NoError(t, err)
	require.Equal(t, "zoo", bucket)
	require.Equal(t, "exports/1/a/model.pt", key)

	for _, bad := range []string{"https://zoo/a", "s3://zoo", "s3:///key", "s3://zoo/"} {
		_, _, err := storage.ParseURI(bad)
		require.Error(t, err, bad)
	}
	require.True(t, storage.IsURI("s3://x/y"))
	require.Equal(t, "mp4", storage.Ext("videos/abc.mp4"))
	require.Equal(t, "", storage.Ext("videos/abc"))
}

func TestDeletePrefix(t *testing.T) {
	ctx := context.Background()
	store := storagetest.NewMemoryStore("zoo")
	store.Seed("zoo", "exports/1/a/card-metadata.json", []byte("{}"), "application/json")
	store.Seed("zoo", "exports/1/b/card-metadata.json", []byte("{}"), "application/json")
	store.Seed("zoo", "exports/2/a/card-metadata.json", []byte("{}"), "application/json")

	failed, err := storage.DeletePrefix(ctx, store, "exports/1/")
	require.NoError(t, err)
	require.Empty(t, failed)
	keys, err := store.List(ctx, "exports/")
	require.NoError(t, err)
	require.Equal(t, []string{"exports/2/a/card-metadata.json"}, keys)

	store.FailDelete = func(key string) error { return errors.New("denied") }
	failed, err = storage.DeletePrefix(ctx, store, "exports/2/")
	require.Error(t, err)
	require.Equal(t, []string{"exports/2/a/card-metadata.json"}, failed)
}

func TestCopyMissingSource(t *testing.T) {
	store := storagetest.NewMemoryStore("zoo")
	err := store.Copy(context.Background(), "other", "missing.pt", "dst.pt")
	require.ErrorIs(t, err, storage.ErrObjectNotFound)
}
