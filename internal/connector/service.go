package connector

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/modelzoo/modelzoo/internal/api"
	"github.com/modelzoo/modelzoo/pkg/ptrs"
)

// Service serves the /experiments and /datasets endpoints.
type Service struct {
	log      *log.Entry
	registry *Registry
}

// NewService returns a Service over registry.
func NewService(registry *Registry) *Service {
	return &Service{log: log.WithField("component", "connectors"), registry: registry}
}

func (s *Service) connector(kind string) (Connector, error) {
	conn, err := s.registry.For(Kind(kind))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return conn, nil
}

func (s *Service) getExperiment(c echo.Context) (interface{}, error) {
	args := struct {
		ID              string  `path:"id"`
		Connector       *string `query:"connector"`
		ReturnPlots     *bool   `query:"return_plots"`
		ReturnArtifacts *bool   `query:"return_artifacts"`
	}{}
	if err := api.BindArgs(&args, c); err != nil {
		return nil, err
	}
	conn, err := s.connector(ptrs.Deref(args.Connector, ""))
	if err != nil {
		return nil, err
	}

	exp, err := conn.GetExperiment(c.Request().Context(), args.ID, ExperimentOptions{
		Plots:     args.ReturnPlots == nil || *args.ReturnPlots,
		Artifacts: args.ReturnArtifacts == nil || *args.ReturnArtifacts,
	})
	switch {
	case errors.Is(err, ErrNotFound):
		s.log.WithError(err).Warn("experiment lookup failed")
		return nil, echo.NewHTTPError(http.StatusNotFound,
			fmt.Sprintf("Experiment with ID %s not found.", args.ID))
	case err != nil:
		s.log.WithError(err).Error("experiment lookup failed")
		return nil, echo.NewHTTPError(http.StatusInternalServerError,
			fmt.Sprintf("Error getting experiment with ID %s.", args.ID))
	}
	return exp, nil
}

type clonePackage struct {
	ID        string  `json:"id"`
	CloneName *string `json:"clone_name"`
}

type cloneResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CloneID   string `json:"clone_id"`
	CloneName string `json:"clone_name"`
}

func (s *Service) postClone(c echo.Context) (interface{}, error) {
	args := struct {
		Connector *string `query:"connector"`
	}{}
	if err := api.BindArgs(&args, c); err != nil {
		return nil, err
	}
	var params clonePackage
	if err := api.BindJSON(&params, c); err != nil {
		return nil, err
	}
	conn, err := s.connector(ptrs.Deref(args.Connector, ""))
	if err != nil {
		return nil, err
	}

	ctx := c.Request().Context()
	source, err := conn.GetExperiment(ctx, params.ID, ExperimentOptions{})
	if errors.Is(err, ErrNotFound) {
		return nil, echo.NewHTTPError(http.StatusNotFound,
			fmt.Sprintf("Experiment with ID %s not found.", params.ID))
	} else if err != nil {
		return nil, err
	}
	name := ptrs.Deref(params.CloneName, "")
	if name == "" {
		name = "Clone of " + source.Name
	}
	clone, err := conn.CloneExperiment(ctx, source.ID, name)
	if err != nil {
		return nil, err
	}
	return cloneResponse{
		ID:        source.ID,
		Name:      source.Name,
		CloneID:   clone.ID,
		CloneName: clone.Name,
	}, nil
}

func (s *Service) postDatasetSearch(c echo.Context) (interface{}, error) {
	args := struct {
		Connectors []string `query:"connectors[]"`
	}{}
	if err := api.BindArgs(&args, c); err != nil {
		return nil, err
	}
	var q DatasetQuery
	if err := api.BindJSON(&q, c); err != nil {
		return nil, err
	}

	kinds := Kinds
	if len(args.Connectors) > 0 {
		kinds = nil
		for _, k := range args.Connectors {
			kinds = append(kinds, Kind(k))
		}
	}
	datasets := []Dataset{}
	for _, kind := range kinds {
		conn, err := s.connector(string(kind))
		if err != nil {
			return nil, err
		}
		found, err := conn.SearchDatasets(c.Request().Context(), q)
		if err != nil {
			return nil, err
		}
		datasets = append(datasets, found...)
	}
	return datasets, nil
}

func (s *Service) getDataset(c echo.Context) (interface{}, error) {
	args := struct {
		ID        string `path:"id"`
		Connector string `query:"connector"`
	}{}
	if err := api.BindArgs(&args, c); err != nil {
		return nil, err
	}
	conn, err := s.connector(args.Connector)
	if err != nil {
		return nil, err
	}
	ds, err := conn.GetDataset(c.Request().Context(), args.ID)
	if errors.Is(err, ErrNotFound) {
		return nil, echo.NewHTTPError(http.StatusNotFound,
			fmt.Sprintf("Dataset with ID %s not found.", args.ID))
	}
	return ds, err
}
