// Package connector reads experiments and datasets from external experiment trackers.
package connector

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/modelzoo/modelzoo/internal/config"
	"github.com/modelzoo/modelzoo/pkg/model"
)

// Kind identifies a tracker backend.
type Kind string

// Known connector kinds. KindNone means a card is not linked to any tracker.
const (
	KindNone    Kind = ""
	KindClearML Kind = "clearml"
)

// Kinds lists every usable connector kind.
var Kinds = []Kind{KindClearML}

var (
	// ErrUnsupportedConnector is returned for kinds without an implementation.
	ErrUnsupportedConnector = errors.New("unsupported connector")
	// ErrNotFound is returned when the tracker has no object with the requested id.
	ErrNotFound = errors.New("not found in tracker")
)

// ExperimentOptions selects the optional parts of an experiment to fetch.
type ExperimentOptions struct {
	Plots     bool
	Artifacts bool
}

// Plot is a plotly-compatible figure.
type Plot map[string]interface{}

// Experiment is a tracked training run.
type Experiment struct {
	ID          string                    `json:"id"`
	Name        string                    `json:"name"`
	OutputURL   *string                   `json:"output_url"`
	ProjectName string                    `json:"project_name"`
	Tags        []string                  `json:"tags"`
	Frameworks  []string                  `json:"frameworks"`
	Config      map[string]interface{}    `json:"config"`
	Owner       string                    `json:"owner"`
	Scalars     []Plot                    `json:"scalars,omitempty"`
	Plots       []Plot                    `json:"plots,omitempty"`
	Artifacts   map[string]model.Artifact `json:"artifacts,omitempty"`
}

// Dataset is a versioned dataset held by a tracker.
type Dataset struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Created   *time.Time       `json:"created"`
	Tags      []string         `json:"tags"`
	Project   string           `json:"project"`
	Artifacts []model.Artifact `json:"artifacts,omitempty"`
}

// IDList accepts either a single id or a list of ids.
type IDList []string

// UnmarshalJSON implements json.Unmarshaler.
func (l *IDList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		if single == "" {
			*l = nil
		} else {
			*l = IDList{single}
		}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return errors.New("id must be a string or a list of strings")
	}
	*l = many
	return nil
}

// DatasetQuery filters a dataset search. Empty fields match everything.
type DatasetQuery struct {
	ID      IDList   `json:"id"`
	Name    string   `json:"name"`
	Tags    []string `json:"tags"`
	Project string   `json:"project"`
}

// Connector is implemented by every tracker backend.
type Connector interface {
	GetExperiment(ctx context.Context, id string, opts ExperimentOptions) (*Experiment, error)
	// CloneExperiment copies the experiment under a new name and returns the copy.
	CloneExperiment(ctx context.Context, id, name string) (*Experiment, error)
	SearchDatasets(ctx context.Context, q DatasetQuery) ([]Dataset, error)
	GetDataset(ctx context.Context, id string) (*Dataset, error)
}

// Registry hands out the connector for a kind.
type Registry struct {
	clearml Connector
}

// NewRegistry builds the connectors from their configuration.
func NewRegistry(cfg config.ClearMLConfig) *Registry {
	return &Registry{clearml: NewClearML(cfg)}
}

// NewRegistryWith wraps existing connectors.
func NewRegistryWith(clearml Connector) *Registry {
	return &Registry{clearml: clearml}
}

// For returns the connector implementing kind.
func (r *Registry) For(kind Kind) (Connector, error) {
	switch kind {
	case KindClearML:
		return r.clearml, nil
	default:
		return nil, errors.Wrapf(ErrUnsupportedConnector, "%q", string(kind))
	}
}

// OutputURL returns the tracker's web page for an experiment.
func (r *Registry) OutputURL(ctx context.Context, kind Kind, experimentID string) (*string, error) {
	conn, err := r.For(kind)
	if err != nil {
		return nil, err
	}
	exp, err := conn.GetExperiment(ctx, experimentID, ExperimentOptions{})
	if err != nil {
		return nil, err
	}
	return exp.OutputURL, nil
}
