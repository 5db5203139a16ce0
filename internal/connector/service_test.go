package connector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/modelzoo/modelzoo/internal/api"
)

type stubConnector struct {
	experiments map[string]*Experiment
	datasets    []Dataset
	lastOpts    ExperimentOptions
	clonedName  string
}

func (s *stubConnector) GetExperiment(_ context.Context, id string, opts ExperimentOptions) (*Experiment, error) {
	s.lastOpts = opts
	if id == "explode" {
		return nil, errors.New("tracker down")
	}
	exp, ok := s.experiments[id]
	if !ok {
		return nil, ErrNotFound
	}
	return exp, nil
}

func (s *stubConnector) CloneExperiment(_ context.Context, id, name string) (*Experiment, error) {
	s.clonedName = name
	return &Experiment{ID: id + "-clone", Name: name}, nil
}

func (s *stubConnector) SearchDatasets(context.Context, DatasetQuery) ([]Dataset, error) {
	return s.datasets, nil
}

func (s *stubConnector) GetDataset(_ context.Context, id string) (*Dataset, error) {
	for _, ds := range s.datasets {
		if ds.ID == id {
			return &ds, nil
		}
	}
	return nil, ErrNotFound
}

func newServer() (*echo.Echo, *stubConnector) {
	stub := &stubConnector{
		experiments: map[string]*Experiment{"e1": {ID: "e1", Name: "train"}},
		datasets:    []Dataset{{ID: "d1", Name: "coco", Tags: []string{}}},
	}
	e := echo.New()
	e.HTTPErrorHandler = api.JSONErrorHandler
	RegisterAPIHandler(e, NewService(NewRegistryWith(stub)))
	return e, stub
}

func do(e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestGetExperimentHandler(t *testing.T) {
	e, stub := newServer()

	rec := do(e, http.MethodGet, "/experiments/e1?connector=clearml&return_plots=false", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"name":"train"`)
	require.Equal(t, ExperimentOptions{Plots: false, Artifacts: true}, stub.lastOpts)

	rec = do(e, http.MethodGet, "/experiments/nope?connector=clearml", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.JSONEq(t, `{"message":"Experiment with ID nope not found."}`, rec.Body.String())

	rec = do(e, http.MethodGet, "/experiments/explode?connector=clearml", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.JSONEq(t, `{"message":"Error getting experiment with ID explode."}`, rec.Body.String())

	rec = do(e, http.MethodGet, "/experiments/e1?connector=wandb", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCloneHandler(t *testing.T) {
	e, stub := newServer()

	rec := do(e, http.MethodPost, "/experiments/clone?connector=clearml", `{"id":"e1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"id":"e1","name":"train","clone_id":"e1-clone","clone_name":"Clone of train"}`,
		rec.Body.String())

	rec = do(e, http.MethodPost, "/experiments/clone?connector=clearml", `{"id":"e1","clone_name":"mine"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "mine", stub.clonedName)

	rec = do(e, http.MethodPost, "/experiments/clone?connector=clearml", `{"id":"zzz"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDatasetHandlers(t *testing.T) {
	e, _ := newServer()

	rec := do(e, http.MethodPost, "/datasets/search", `{"name":"co"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"id":"d1"`)

	rec = do(e, http.MethodPost, "/datasets/search?connectors[]=other", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(e, http.MethodGet, "/datasets/d1?connector=clearml", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(e, http.MethodGet, "/datasets/d2?connector=clearml", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.JSONEq(t, `{"message":"Dataset with ID d2 not found."}`, rec.Body.String())

	rec = do(e, http.MethodGet, "/datasets/d1", "")
	require.Equal(t, http.StatusBadRequest, rec.Code, "connector is required")
}
