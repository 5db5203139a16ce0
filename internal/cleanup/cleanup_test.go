package cleanup

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/modelzoo/modelzoo/internal/inference"
	"github.com/modelzoo/modelzoo/internal/storage/storagetest"
	"github.com/modelzoo/modelzoo/internal/task"
	"github.com/modelzoo/modelzoo/pkg/model"
)

type fakeCards struct {
	docs     []string
	services []string
}

func (f fakeCards) RichText(context.Context) ([]string, error)     { return f.docs, nil }
func (f fakeCards) ServiceNames(context.Context) ([]string, error) { return f.services, nil }

type fakeCluster struct {
	names   []string
	deleted map[string]model.ServiceBackend
	failOn  string
}

func (f *fakeCluster) ServiceNames(context.Context) ([]string, error) { return f.names, nil }

func (f *fakeCluster) DeleteService(_ context.Context, name string, backend model.ServiceBackend) error {
	if name == f.failOn {
		return errors.New("forbidden")
	}
	f.deleted[name] = backend
	return nil
}

type fakeSubmitter struct {
	kinds []task.Kind
	err   error
}

func (f *fakeSubmitter) Submit(kind task.Kind, _ task.Func) (string, error) {
	f.kinds = append(f.kinds, kind)
	return "id", f.err
}

func TestOrphanMedia(t *testing.T) {
	ctx := context.Background()
	store := storagetest.NewMemoryStore("zoo")
	for _, key := range []string{"images/used.png", "images/orphan.png", "images/other-used.jpg"} {
		store.Seed("zoo", key, []byte("x"), "image/png")
	}
	store.Seed("zoo", "videos/keep.mp4", []byte("x"), "video/mp4")

	cards := fakeCards{docs: []string{
		`<p>a</p><img src="s3://zoo/images/used.png">`,
		`<img src="s3://zoo/images/other-used.jpg"><img src="s3://elsewhere/images/orphan.png">`,
		``,
	}}
	c := New(store, cards, inference.NewMemStore(), nil)
	require.NoError(t, c.OrphanMedia(ctx))

	require.True(t, store.Has("images/used.png"))
	require.True(t, store.Has("images/other-used.jpg"))
	require.False(t, store.Has("images/orphan.png"))
	require.True(t, store.Has("videos/keep.mp4"))
}

func TestOrphanMediaDeleteFailure(t *testing.T) {
	store := storagetest.NewMemoryStore("zoo")
	store.Seed("zoo", "images/a.png", []byte("x"), "image/png")
	store.Seed("zoo", "images/b.png", []byte("x"), "image/png")
	store.FailDelete = func(key string) error {
		if key == "images/a.png" {
			return errors.New("denied")
		}
		return nil
	}
	c := New(store, fakeCards{}, inference.NewMemStore(), nil)
	err := c.OrphanMedia(context.Background())
	require.ErrorContains(t, err, "images/a.png")
	require.False(t, store.Has("images/b.png"))
}

// imageNamedAt returns an image key whose UUIDv7 name encodes the given upload time.
func imageNamedAt(t *testing.T, at time.Time) string {
	id, err := uuid.NewV7()
	require.NoError(t, err)
	ms := at.UnixMilli()
	for i := 5; i >= 0; i-- {
		id[i] = byte(ms)
		ms >>= 8
	}
	return "images/" + id.String() + ".png"
}

func TestOrphanMediaKeepsRecentUploads(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	fresh := imageNamedAt(t, now.Add(-time.Minute))
	stale := imageNamedAt(t, now.Add(-time.Hour))
	store := storagetest.NewMemoryStore("zoo")
	store.Seed("zoo", fresh, []byte("x"), "image/png")
	store.Seed("zoo", stale, []byte("x"), "image/png")

	c := New(store, fakeCards{}, inference.NewMemStore(), nil)
	c.now = func() time.Time { return now }
	require.NoError(t, c.OrphanMedia(context.Background()))

	require.True(t, store.Has(fresh))
	require.False(t, store.Has(stale))
}

func TestOrphanServices(t *testing.T) {
	ctx := context.Background()
	services := inference.NewMemStore(
		model.InferenceService{ServiceName: "orphan-knative", Backend: model.BackendKnative},
		model.InferenceService{ServiceName: "used", Backend: model.BackendEmissary},
	)
	cl := &fakeCluster{
		names:   []string{"used", "orphan-knative", "orphan-unrecorded", "broken"},
		deleted: map[string]model.ServiceBackend{},
		failOn:  "broken",
	}
	c := New(storagetest.NewMemoryStore("zoo"), fakeCards{services: []string{"used"}}, services, cl)

	err := c.OrphanServices(ctx)
	require.ErrorContains(t, err, "forbidden")

	var deleted []string
	for name := range cl.deleted {
		deleted = append(deleted, name)
	}
	sort.Strings(deleted)
	require.Equal(t, []string{"orphan-knative", "orphan-unrecorded"}, deleted)
	require.Equal(t, model.BackendKnative, cl.deleted["orphan-knative"])
	require.Equal(t, model.ServiceBackend(""), cl.deleted["orphan-unrecorded"])

	_, err = services.ByName(ctx, "orphan-knative")
	require.Error(t, err)
	_, err = services.ByName(ctx, "used")
	require.NoError(t, err)
}

func TestOrphanServicesWithoutCluster(t *testing.T) {
	c := New(storagetest.NewMemoryStore("zoo"), fakeCards{}, inference.NewMemStore(), nil)
	require.NoError(t, c.OrphanServices(context.Background()))
}

func TestSchedule(t *testing.T) {
	c := New(storagetest.NewMemoryStore("zoo"), fakeCards{}, inference.NewMemStore(), nil)
	s := &fakeSubmitter{err: task.ErrQueueFull}
	c.Schedule(s, task.KindCleanOrphanMedia, task.KindExport, task.KindCleanOrphanServices)
	require.Equal(t, []task.Kind{task.KindCleanOrphanMedia, task.KindCleanOrphanServices}, s.kinds)
}
