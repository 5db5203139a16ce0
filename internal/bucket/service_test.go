package bucket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"gopkg.in/guregu/null.v3"

	"github.com/modelzoo/modelzoo/internal/api"
	zooContext "github.com/modelzoo/modelzoo/internal/context"
	"github.com/modelzoo/modelzoo/internal/modelcard"
	"github.com/modelzoo/modelzoo/internal/storage/storagetest"
	"github.com/modelzoo/modelzoo/pkg/model"
)

const userHeader = "X-Test-User"

func authAs(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		c.(*zooContext.ZooContext).SetUser(model.User{UserID: c.Request().Header.Get(userHeader)})
		return next(c)
	}
}

func newTestEcho(objects *storagetest.MemoryStore, cards Cards, maxBytes int64) *echo.Echo {
	e := echo.New()
	e.HTTPErrorHandler = api.JSONErrorHandler
	e.Use(zooContext.Extend)
	RegisterAPIHandler(e, NewService(objects, cards, maxBytes), authAs)
	return e
}

type upload struct {
	field, contentType string
	data               []byte
}

func sendForm(
	e *echo.Echo, method, caller string, file upload, fields map[string]string,
) *httptest.ResponseRecorder {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		_ = w.WriteField(k, v)
	}
	h := textproto.MIMEHeader{}
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename="clip"`, file.field))
	h.Set("Content-Type", file.contentType)
	part, _ := w.CreatePart(h)
	_, _ = part.Write(file.data)
	_ = w.Close()

	req := httptest.NewRequest(method, "/buckets/video", &body)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	req.Header.Set(userHeader, caller)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func location(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp videoLocation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.VideoLocation
}

func TestPostVideo(t *testing.T) {
	ctx := context.Background()
	objects := storagetest.NewMemoryStore("zoo")
	e := newTestEcho(objects, modelcard.NewMemStore(), 16)

	rec := sendForm(e, http.MethodPost, "ann", upload{"video", "video/webm", []byte("webm data")}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	loc := location(t, rec)
	require.True(t, strings.HasPrefix(loc, "s3://zoo/videos/"), loc)
	require.True(t, strings.HasSuffix(loc, ".webm"), loc)
	require.NotContains(t, strings.TrimPrefix(loc, "s3://zoo/videos/"), "-")

	data, contentType, err := objects.Get(ctx, strings.TrimPrefix(loc, "s3://zoo/"))
	require.NoError(t, err)
	require.Equal(t, "webm data", string(data))
	require.Equal(t, "video/webm", contentType)
}

func TestPostVideoRejections(t *testing.T) {
	objects := storagetest.NewMemoryStore("zoo")
	e := newTestEcho(objects, modelcard.NewMemStore(), 4)

	rec := sendForm(e, http.MethodPost, "ann", upload{"video", "image/png", []byte("png")}, nil)
	require.Equal(t, http.StatusUnsupportedMediaType, rec.Code)

	rec = sendForm(e, http.MethodPost, "ann", upload{"video", "video/mp4", []byte("too large")}, nil)
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	rec = sendForm(e, http.MethodPost, "ann", upload{"clip", "video/mp4", []byte("ok")}, nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	keys, err := objects.List(context.Background(), "videos/")
	require.NoError(t, err)
	require.Empty(t, keys)
}

func TestPutVideo(t *testing.T) {
	ctx := context.Background()
	objects := storagetest.NewMemoryStore("zoo")
	objects.Seed("zoo", "videos/old.mp4", []byte("old"), "video/mp4")
	cards := modelcard.NewMemStore(model.ModelCard{
		ModelID: "dqn", CreatorUserID: "ann", Task: model.TaskReinforcementLearning,
		VideoLocation: null.StringFrom("s3://zoo/videos/old.mp4"),
	})
	e := newTestEcho(objects, cards, 1024)
	fields := map[string]string{"userId": "ann", "modelId": "dqn"}

	rec := sendForm(e, http.MethodPut, "bob", upload{"new_video", "video/mp4", []byte("new")}, fields)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.True(t, objects.Has("videos/old.mp4"))

	rec = sendForm(e, http.MethodPut, "ann", upload{"new_video", "video/mp4", []byte("new")},
		map[string]string{"userId": "ann", "modelId": "nope"})
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = sendForm(e, http.MethodPut, "ann", upload{"new_video", "video/mp4", []byte("new")}, fields)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	loc := location(t, rec)
	require.False(t, objects.Has("videos/old.mp4"))
	require.True(t, objects.Has(strings.TrimPrefix(loc, "s3://zoo/")))

	card, err := cards.Get(ctx, model.CardKey{ModelID: "dqn", CreatorUserID: "ann"})
	require.NoError(t, err)
	require.Equal(t, loc, card.VideoLocation.String)
}

func TestPutVideoKeepsOldVideoWhenUploadFails(t *testing.T) {
	objects := storagetest.NewMemoryStore("zoo")
	objects.Seed("zoo", "videos/old.mp4", []byte("old"), "video/mp4")
	objects.FailPut = func(string) error { return errors.New("bucket unavailable") }
	key := model.CardKey{ModelID: "dqn", CreatorUserID: "ann"}
	cards := modelcard.NewMemStore(model.ModelCard{
		ModelID: key.ModelID, CreatorUserID: key.CreatorUserID, Task: model.TaskReinforcementLearning,
		VideoLocation: null.StringFrom("s3://zoo/videos/old.mp4"),
	})
	e := newTestEcho(objects, cards, 1024)

	rec := sendForm(e, http.MethodPut, "ann", upload{"new_video", "video/mp4", []byte("new")},
		map[string]string{"userId": "ann", "modelId": "dqn"})
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	card, err := cards.Get(context.Background(), key)
	require.NoError(t, err)
	require.Equal(t, "s3://zoo/videos/old.mp4", card.VideoLocation.String)
	require.True(t, objects.Has("videos/old.mp4"))
}

// rejectingCards applies the update and then fails, as a failed commit would.
type rejectingCards struct {
	*modelcard.MemStore
}

func (r rejectingCards) Update(
	ctx context.Context, key model.CardKey, fn func(card *model.ModelCard) error,
) (*model.ModelCard, error) {
	card, err := r.MemStore.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := fn(card); err != nil {
		return nil, err
	}
	return nil, errors.New("commit failed")
}

func TestPutVideoRemovesUploadWhenUpdateFails(t *testing.T) {
	objects := storagetest.NewMemoryStore("zoo")
	objects.Seed("zoo", "videos/old.mp4", []byte("old"), "video/mp4")
	cards := rejectingCards{modelcard.NewMemStore(model.ModelCard{
		ModelID: "dqn", CreatorUserID: "ann", Task: model.TaskReinforcementLearning,
		VideoLocation: null.StringFrom("s3://zoo/videos/old.mp4"),
	})}
	e := newTestEcho(objects, cards, 1024)

	rec := sendForm(e, http.MethodPut, "ann", upload{"new_video", "video/mp4", []byte("new")},
		map[string]string{"userId": "ann", "modelId": "dqn"})
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	keys, err := objects.List(context.Background(), "videos/")
	require.NoError(t, err)
	require.Equal(t, []string{"videos/old.mp4"}, keys)
}
