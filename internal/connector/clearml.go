package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"

	"github.com/modelzoo/modelzoo/internal/config"
	"github.com/modelzoo/modelzoo/pkg/model"
)

const (
	datasetSystemTag = "dataset"
	datasetTaskType  = "data_processing"
	// subcodeInvalidID is the ClearML result subcode for an unknown task, project or model id.
	subcodeInvalidID = 101
)

// ClearML talks to the ClearML API server.
type ClearML struct {
	log       *log.Entry
	client    *http.Client
	apiHost   string
	webHost   string
	accessKey string
	secretKey string
}

// NewClearML returns a ClearML connector.
func NewClearML(cfg config.ClearMLConfig) *ClearML {
	client := cleanhttp.DefaultPooledClient()
	client.Timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	return &ClearML{
		log:       log.WithField("component", "clearml"),
		client:    client,
		apiHost:   strings.TrimSuffix(cfg.APIHost, "/"),
		webHost:   strings.TrimSuffix(cfg.WebHost, "/"),
		accessKey: cfg.AccessKey,
		secretKey: cfg.SecretKey,
	}
}

type apiError struct {
	endpoint string
	code     int
	subcode  int
	msg      string
}

func (e apiError) Error() string {
	return fmt.Sprintf("clearml %s: %d/%d %s", e.endpoint, e.code, e.subcode, e.msg)
}

type apiResponse struct {
	Meta struct {
		ResultCode    int    `json:"result_code"`
		ResultSubcode int    `json:"result_subcode"`
		ResultMsg     string `json:"result_msg"`
	} `json:"meta"`
	Data json.RawMessage `json:"data"`
}

// call posts body to the API endpoint (e.g. "tasks.get_by_id") and decodes the data field.
func (c *ClearML) call(ctx context.Context, endpoint string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.apiHost+"/"+endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.accessKey, c.secretKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "calling clearml %s", endpoint)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.log.WithError(err).Warn("failed to close response body")
		}
	}()

	var parsed apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return errors.Wrapf(err, "decoding clearml %s response (HTTP %d)", endpoint, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		aerr := apiError{
			endpoint: endpoint,
			code:     resp.StatusCode,
			subcode:  parsed.Meta.ResultSubcode,
			msg:      parsed.Meta.ResultMsg,
		}
		if resp.StatusCode == http.StatusNotFound ||
			(resp.StatusCode == http.StatusBadRequest && aerr.subcode == subcodeInvalidID) {
			return errors.Wrap(ErrNotFound, aerr.Error())
		}
		return aerr
	}
	if out == nil {
		return nil
	}
	return errors.Wrapf(json.Unmarshal(parsed.Data, out), "decoding clearml %s data", endpoint)
}

type clearmlArtifact struct {
	Key       string `json:"key"`
	Type      string `json:"type"`
	URI       string `json:"uri"`
	Timestamp int64  `json:"timestamp"`
}

type clearmlTaskModel struct {
	Name  string `json:"name"`
	Model string `json:"model"`
}

type clearmlTask struct {
	ID          string                                  `json:"id"`
	Name        string                                  `json:"name"`
	Project     string                                  `json:"project"`
	Tags        []string                                `json:"tags"`
	SystemTags  []string                                `json:"system_tags"`
	User        string                                  `json:"user"`
	Created     *time.Time                              `json:"created"`
	Hyperparams map[string]map[string]clearmlParamValue `json:"hyperparams"`
	Execution   struct {
		Artifacts []clearmlArtifact `json:"artifacts"`
	} `json:"execution"`
	Models struct {
		Input  []clearmlTaskModel `json:"input"`
		Output []clearmlTaskModel `json:"output"`
	} `json:"models"`
}

type clearmlParamValue struct {
	Value string `json:"value"`
}

type clearmlModel struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	URI       string `json:"uri"`
	Framework string `json:"framework"`
}

type clearmlProject struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (c *ClearML) task(ctx context.Context, id string) (*clearmlTask, error) {
	var out struct {
		Task clearmlTask `json:"task"`
	}
	if err := c.call(ctx, "tasks.get_by_id", map[string]interface{}{"task": id}, &out); err != nil {
		return nil, err
	}
	return &out.Task, nil
}

func (c *ClearML) projectName(ctx context.Context, id string) (string, error) {
	if id == "" {
		return "", nil
	}
	var out struct {
		Project clearmlProject `json:"project"`
	}
	if err := c.call(ctx, "projects.get_by_id", map[string]interface{}{"project": id}, &out); err != nil {
		return "", err
	}
	return out.Project.Name, nil
}

func (c *ClearML) outputURL(t *clearmlTask) *string {
	if c.webHost == "" {
		return nil
	}
	project := t.Project
	if project == "" {
		project = "*"
	}
	url := fmt.Sprintf("%s/projects/%s/experiments/%s", c.webHost, project, t.ID)
	return &url
}

// GetExperiment implements Connector.
func (c *ClearML) GetExperiment(
	ctx context.Context, id string, opts ExperimentOptions,
) (*Experiment, error) {
	t, err := c.task(ctx, id)
	if err != nil {
		return nil, err
	}
	exp := &Experiment{
		ID:        t.ID,
		Name:      t.Name,
		OutputURL: c.outputURL(t),
		Tags:      nonNil(t.Tags),
		Config:    flattenHyperparams(t.Hyperparams),
		Owner:     t.User,
	}

	var models []clearmlModel
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		name, err := c.projectName(gctx, t.Project)
		exp.ProjectName = name
		return err
	})
	g.Go(func() (err error) {
		models, err = c.taskModels(gctx, t)
		return err
	})
	if opts.Plots {
		g.Go(func() (err error) {
			exp.Scalars, err = c.scalars(gctx, t.ID)
			return err
		})
		g.Go(func() (err error) {
			exp.Plots, err = c.plots(gctx, t.ID)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	exp.Frameworks = []string{}
	for _, m := range models {
		if m.Framework != "" && !slices.Contains(exp.Frameworks, m.Framework) {
			exp.Frameworks = append(exp.Frameworks, m.Framework)
		}
	}
	sort.Strings(exp.Frameworks)

	if opts.Artifacts {
		exp.Artifacts = map[string]model.Artifact{}
		for _, a := range t.Execution.Artifacts {
			ts := time.Unix(a.Timestamp, 0).UTC().Format(time.RFC3339)
			exp.Artifacts[a.Key] = model.Artifact{
				ArtifactType: a.Type,
				Name:         a.Key,
				URL:          a.URI,
				Timestamp:    &ts,
			}
		}
		for _, m := range models {
			framework := m.Framework
			exp.Artifacts[m.Name] = model.Artifact{
				ArtifactType: "model",
				Name:         m.Name,
				URL:          m.URI,
				Framework:    &framework,
			}
		}
	}
	return exp, nil
}

func flattenHyperparams(params map[string]map[string]clearmlParamValue) map[string]interface{} {
	out := map[string]interface{}{}
	for section, values := range params {
		for name, v := range values {
			out[section+"/"+name] = v.Value
		}
	}
	return out
}

func (c *ClearML) taskModels(ctx context.Context, t *clearmlTask) ([]clearmlModel, error) {
	var ids []string
	for _, m := range append(append([]clearmlTaskModel{}, t.Models.Input...), t.Models.Output...) {
		if m.Model != "" {
			ids = append(ids, m.Model)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	var out struct {
		Models []clearmlModel `json:"models"`
	}
	err := c.call(ctx, "models.get_all", map[string]interface{}{
		"id":          ids,
		"only_fields": []string{"id", "name", "uri", "framework"},
	}, &out)
	return out.Models, err
}

// scalars converts the reported scalar series into one plotly figure per metric.
func (c *ClearML) scalars(ctx context.Context, id string) ([]Plot, error) {
	var metrics map[string]map[string]map[string]interface{}
	if err := c.call(ctx, "events.scalar_metrics_iter_histogram",
		map[string]interface{}{"task": id}, &metrics); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(metrics))
	for name := range metrics {
		names = append(names, name)
	}
	sort.Strings(names)

	plots := make([]Plot, 0, len(names))
	for _, name := range names {
		variants := make([]string, 0, len(metrics[name]))
		for v := range metrics[name] {
			variants = append(variants, v)
		}
		sort.Strings(variants)
		data := make([]interface{}, 0, len(variants))
		for _, v := range variants {
			series := map[string]interface{}{"mode": "lines+markers"}
			for k, val := range metrics[name][v] {
				series[k] = val
			}
			data = append(data, series)
		}
		plots = append(plots, Plot{
			"data":   data,
			"layout": map[string]interface{}{"title": name},
		})
	}
	return plots, nil
}

func (c *ClearML) plots(ctx context.Context, id string) ([]Plot, error) {
	var out struct {
		Plots []struct {
			PlotStr string `json:"plot_str"`
		} `json:"plots"`
	}
	if err := c.call(ctx, "events.get_task_plots", map[string]interface{}{"task": id}, &out); err != nil {
		return nil, err
	}
	plots := make([]Plot, 0, len(out.Plots))
	for _, p := range out.Plots {
		var plot Plot
		if err := json.Unmarshal([]byte(p.PlotStr), &plot); err != nil {
			return nil, errors.Wrap(err, "decoding reported plot")
		}
		plots = append(plots, plot)
	}
	return plots, nil
}

// CloneExperiment implements Connector.
func (c *ClearML) CloneExperiment(ctx context.Context, id, name string) (*Experiment, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := c.call(ctx, "tasks.clone", map[string]interface{}{
		"task":          id,
		"new_task_name": name,
	}, &out); err != nil {
		return nil, err
	}
	return c.GetExperiment(ctx, out.ID, ExperimentOptions{})
}

// SearchDatasets implements Connector.
func (c *ClearML) SearchDatasets(ctx context.Context, q DatasetQuery) ([]Dataset, error) {
	filter := map[string]interface{}{
		"system_tags":   []string{datasetSystemTag},
		"type":          []string{datasetTaskType},
		"search_hidden": true,
		"only_fields":   []string{"id", "name", "tags", "project", "created"},
	}
	if len(q.ID) > 0 {
		filter["id"] = []string(q.ID)
	}
	if q.Name != "" {
		filter["name"] = regexp.QuoteMeta(q.Name)
	}
	if len(q.Tags) > 0 {
		filter["tags"] = q.Tags
	}
	if q.Project != "" {
		var projects struct {
			Projects []clearmlProject `json:"projects"`
		}
		if err := c.call(ctx, "projects.get_all", map[string]interface{}{
			"name":          "^" + regexp.QuoteMeta(q.Project) + "$",
			"search_hidden": true,
			"only_fields":   []string{"id"},
		}, &projects); err != nil {
			return nil, err
		}
		if len(projects.Projects) == 0 {
			return []Dataset{}, nil
		}
		var ids []string
		for _, p := range projects.Projects {
			ids = append(ids, p.ID)
		}
		filter["project"] = ids
	}

	var out struct {
		Tasks []clearmlTask `json:"tasks"`
	}
	if err := c.call(ctx, "tasks.get_all", filter, &out); err != nil {
		return nil, err
	}

	names, err := c.projectNames(ctx, out.Tasks)
	if err != nil {
		return nil, err
	}
	datasets := make([]Dataset, 0, len(out.Tasks))
	for _, t := range out.Tasks {
		datasets = append(datasets, Dataset{
			ID:      t.ID,
			Name:    t.Name,
			Created: t.Created,
			Tags:    nonNil(t.Tags),
			Project: names[t.Project],
		})
	}
	return datasets, nil
}

func (c *ClearML) projectNames(ctx context.Context, tasks []clearmlTask) (map[string]string, error) {
	var ids []string
	for _, t := range tasks {
		if t.Project != "" && !slices.Contains(ids, t.Project) {
			ids = append(ids, t.Project)
		}
	}
	names := map[string]string{}
	if len(ids) == 0 {
		return names, nil
	}
	var out struct {
		Projects []clearmlProject `json:"projects"`
	}
	if err := c.call(ctx, "projects.get_all", map[string]interface{}{
		"id":            ids,
		"search_hidden": true,
		"only_fields":   []string{"id", "name"},
	}, &out); err != nil {
		return nil, err
	}
	for _, p := range out.Projects {
		names[p.ID] = p.Name
	}
	return names, nil
}

// GetDataset implements Connector.
func (c *ClearML) GetDataset(ctx context.Context, id string) (*Dataset, error) {
	t, err := c.task(ctx, id)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(t.SystemTags, datasetSystemTag) {
		return nil, errors.Wrapf(ErrNotFound, "task %s is not a dataset", id)
	}
	project, err := c.projectName(ctx, t.Project)
	if err != nil {
		return nil, err
	}
	ds := &Dataset{
		ID:      t.ID,
		Name:    t.Name,
		Created: t.Created,
		Tags:    nonNil(t.Tags),
		Project: project,
	}
	for _, a := range t.Execution.Artifacts {
		ds.Artifacts = append(ds.Artifacts, model.Artifact{
			ArtifactType: "dataset",
			Name:         a.Key,
			URL:          a.URI,
		})
	}
	return ds, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
