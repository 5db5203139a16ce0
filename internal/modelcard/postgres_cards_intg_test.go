//go:build integration
// +build integration

package modelcard

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/guregu/null.v3"

	"github.com/modelzoo/modelzoo/internal/db"
	"github.com/modelzoo/modelzoo/pkg/model"
)

func seedCards(ctx context.Context, t *testing.T, store *PgStore) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	cards := []model.ModelCard{
		{
			ModelID: "bert", CreatorUserID: "ann", Title: "BERT base", Task: "Text Classification",
			Tags: []string{"NLP", "transformer"}, Frameworks: []string{"PyTorch"},
			Owner: null.StringFrom("Language team"),
		},
		{
			ModelID: "yolo", CreatorUserID: "ann", Title: "YOLO v8", Task: "Object Detection",
			Tags: []string{"vision", "realtime"}, Frameworks: []string{"PyTorch", "ONNX"},
			InferenceServiceName: null.StringFrom("yolo-svc"),
			Markdown:             `<img src="s3://zoo/images/yolo.png">`,
		},
		{
			ModelID: "dqn", CreatorUserID: "bob", Title: "Atari DQN", Task: model.TaskReinforcementLearning,
			Tags: []string{"rl", "transformer"}, Frameworks: []string{"JAX"},
			VideoLocation: null.StringFrom("s3://zoo/videos/dqn.mp4"),
		},
	}
	for i := range cards {
		cards[i].Artifacts = []model.Artifact{}
		cards[i].Created = base.Add(time.Duration(i) * time.Hour)
		cards[i].LastModified = cards[i].Created
		require.NoError(t, store.Add(ctx, &cards[i]))
	}
}

func ids(cards []model.ModelCard) []string {
	out := make([]string, 0, len(cards))
	for _, c := range cards {
		out = append(out, c.ModelID)
	}
	return out
}

func TestPgStoreSearch(t *testing.T) {
	ctx := context.Background()
	pgDB := db.MustResolveTestPostgres(t)
	defer pgDB.Close()
	db.MustMigrateTestPostgres(t, pgDB, "file://../../static/migrations")
	db.MustTruncate(t, pgDB, "models")
	store := NewPgStore(pgDB.Bun())
	seedCards(ctx, t, store)

	cases := map[string]struct {
		q        Query
		expected []string
		total    int
	}{
		"all":              {Query{Page: 1}, []string{"bert", "yolo", "dqn"}, 3},
		"paged desc":       {Query{Page: 1, PageSize: 2, Desc: true}, []string{"dqn", "yolo"}, 3},
		"generic in tag":   {Query{GenericText: "REALTIME", Page: 1}, []string{"yolo"}, 1},
		"generic in owner": {Query{GenericText: "language", Page: 1}, []string{"bert"}, 1},
		"title contains":   {Query{Title: "dq", Page: 1}, []string{"dqn"}, 1},
		"tasks any of": {
			Query{Tasks: []string{"detection", "reinforcement"}, Page: 1}, []string{"yolo", "dqn"}, 2,
		},
		"tags all of": {Query{Tags: []string{"nlp", "transformer"}, Page: 1}, []string{"bert"}, 1},
		"frameworks any of": {
			Query{Frameworks: []string{"onnx", "jax"}, Page: 1}, []string{"yolo", "dqn"}, 2,
		},
		"creator":         {Query{Creator: "bob", Page: 1}, []string{"dqn"}, 1},
		"creator partial": {Query{CreatorPartial: "AN", Page: 1}, []string{"bert", "yolo"}, 2},
		"sort by title": {
			Query{SortColumn: "title", Page: 1}, []string{"dqn", "bert", "yolo"}, 3,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			cards, total, err := store.Search(ctx, tc.q)
			require.NoError(t, err)
			require.Equal(t, tc.expected, ids(cards))
			require.Equal(t, tc.total, total)
		})
	}
}

func TestPgStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	pgDB := db.MustResolveTestPostgres(t)
	defer pgDB.Close()
	db.MustMigrateTestPostgres(t, pgDB, "file://../../static/migrations")
	db.MustTruncate(t, pgDB, "models")
	store := NewPgStore(pgDB.Bun())
	seedCards(ctx, t, store)

	dup := &model.ModelCard{ModelID: "bert", CreatorUserID: "ann", Title: "again", Task: "x"}
	require.ErrorIs(t, store.Add(ctx, dup), db.ErrDuplicateRecord)

	key := model.CardKey{ModelID: "yolo", CreatorUserID: "ann"}
	updated, err := store.Update(ctx, key, func(card *model.ModelCard) error {
		card.Title = "YOLO v9"
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, "YOLO v9", updated.Title)
	got, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, "YOLO v9", got.Title)
	require.Equal(t, []string{"PyTorch", "ONNX"}, got.Frameworks)

	_, err = store.Update(ctx, model.CardKey{ModelID: "nope", CreatorUserID: "ann"},
		func(*model.ModelCard) error { return nil })
	require.ErrorIs(t, err, db.ErrNotFound)

	opts, err := store.FilterOptions(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"NLP", "realtime", "rl", "transformer", "vision"}, opts.Tags)
	require.Equal(t, []string{"JAX", "ONNX", "PyTorch"}, opts.Frameworks)
	require.Len(t, opts.Tasks, 3)

	names, err := store.ServiceNames(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"yolo-svc"}, names)
	docs, err := store.RichText(ctx)
	require.NoError(t, err)
	require.Contains(t, docs, `<img src="s3://zoo/images/yolo.png">`)

	denied := errForbidden()
	require.ErrorIs(t, store.Delete(ctx, key, func(model.ModelCard) error { return denied }), denied)
	require.NoError(t, store.Delete(ctx, key, func(model.ModelCard) error { return nil }))
	require.NoError(t, store.Delete(ctx, key, func(model.ModelCard) error { return denied }))
	_, err = store.Get(ctx, key)
	require.ErrorIs(t, err, db.ErrNotFound)
}
