package export

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/modelzoo/modelzoo/internal/api"
	zooContext "github.com/modelzoo/modelzoo/internal/context"
	"github.com/modelzoo/modelzoo/internal/db"
	"github.com/modelzoo/modelzoo/internal/modelcard"
	"github.com/modelzoo/modelzoo/internal/storage"
	"github.com/modelzoo/modelzoo/internal/task"
	"github.com/modelzoo/modelzoo/pkg/check"
	"github.com/modelzoo/modelzoo/pkg/model"
)

var sortColumns = map[string]string{
	"userId":         "user_id",
	"user_id":        "user_id",
	"status":         "status",
	"timeInitiated":  "time_initiated",
	"time_initiated": "time_initiated",
	"timeCompleted":  "time_completed",
	"time_completed": "time_completed",
}

// Service serves export submission, listing and removal.
type Service struct {
	log      *log.Entry
	store    Store
	objects  storage.ObjectStore
	exporter *Exporter
	tasks    task.Submitter
}

// NewService returns the export service. Batches run on tasks.
func NewService(store Store, objects storage.ObjectStore, exporter *Exporter, tasks task.Submitter) *Service {
	return &Service{
		log:      log.WithField("component", "exports"),
		store:    store,
		objects:  objects,
		exporter: exporter,
		tasks:    tasks,
	}
}

type submitted struct {
	TaskID string `json:"task_id"`
}

func (s *Service) postExport(c echo.Context) (interface{}, error) {
	var params modelcard.CardPackage
	if err := api.BindJSON(&params, c); err != nil {
		return nil, err
	}
	caller := zooContext.MustGetUser(c)
	keys := params.Cards

	id, err := s.tasks.Submit(task.KindExport, func(ctx context.Context) error {
		return s.exporter.Run(ctx, caller.UserID, keys)
	})
	switch {
	case errors.Is(err, task.ErrQueueFull), errors.Is(err, task.ErrClosed):
		return nil, echo.NewHTTPError(http.StatusServiceUnavailable,
			"Export could not be queued, please try again later")
	case err != nil:
		return nil, err
	}
	return api.Response{Code: http.StatusAccepted, Body: submitted{TaskID: id}}, nil
}

type exportsPage struct {
	PageNum            int           `json:"page_num"`
	ExportsNum         int           `json:"exports_num"`
	UserID             string        `json:"userId"`
	TimeInitiatedRange *db.TimeRange `json:"time_initiated_range"`
	TimeCompletedRange *db.TimeRange `json:"time_completed_range"`
}

func (p exportsPage) Validate() []error {
	return []error{
		check.True(p.PageNum > 0, "Page number should be above one"),
		check.True(p.ExportsNum > 0, "Number of exports displayed must be more than one"),
	}
}

type exportList struct {
	Results   []model.ExportLog `json:"results"`
	TotalRows int               `json:"total_rows"`
}

func (s *Service) postExportList(c echo.Context) (interface{}, error) {
	args := struct {
		Desc *bool   `query:"desc"`
		Sort *string `query:"sort"`
	}{}
	if err := api.BindArgs(&args, c); err != nil {
		return nil, err
	}
	sortKey := "timeInitiated"
	if args.Sort != nil {
		sortKey = *args.Sort
	}
	column, ok := sortColumns[sortKey]
	if !ok {
		return nil, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid sort key: %s", sortKey))
	}

	params := exportsPage{PageNum: 1, ExportsNum: 5}
	if err := api.BindJSON(&params, c); err != nil {
		return nil, err
	}

	logs, total, err := s.store.List(c.Request().Context(), Filter{
		UserID:             params.UserID,
		TimeInitiatedRange: params.TimeInitiatedRange,
		TimeCompletedRange: params.TimeCompletedRange,
		SortColumn:         column,
		Desc:               args.Desc == nil || *args.Desc,
		Page:               params.PageNum,
		PageSize:           params.ExportsNum,
	})
	if err != nil {
		return nil, err
	}
	if logs == nil {
		logs = []model.ExportLog{}
	}
	return exportList{Results: logs, TotalRows: total}, nil
}

type logRef struct {
	UserID        string     `json:"userId"`
	TimeInitiated time.Time  `json:"timeInitiated"`
	TimeCompleted *time.Time `json:"timeCompleted"`
}

type logsPackage struct {
	Logs []logRef `json:"logs_package"`
}

type removalFailures struct {
	Failed []string `json:"failed"`
}

func (s *Service) deleteExports(c echo.Context) (interface{}, error) {
	var params logsPackage
	if err := api.BindJSON(&params, c); err != nil {
		return nil, err
	}
	ctx := c.Request().Context()

	var failed []string
	for _, ref := range params.Logs {
		exportLog, err := s.store.Get(ctx, ref.UserID, ref.TimeInitiated)
		switch {
		case errors.Is(err, db.ErrNotFound):
			continue
		case err != nil:
			return nil, err
		}
		if err := s.remove(ctx, exportLog); err != nil {
			s.log.WithError(err).Warnf("removal of export %s failed", exportLog.ExportLocation.String)
			failed = append(failed, exportLog.ExportLocation.String)
		}
	}
	if len(failed) > 0 {
		return api.Response{Code: http.StatusPartialContent, Body: removalFailures{Failed: failed}}, nil
	}
	return nil, nil
}

// remove deletes the bundle of an export and then its log. The log is kept if any object
// remains.
func (s *Service) remove(ctx context.Context, exportLog *model.ExportLog) error {
	if exportLog.ExportLocation.Valid {
		_, prefix, err := storage.ParseURI(exportLog.ExportLocation.String)
		if err != nil {
			return err
		}
		var result *multierror.Error
		remaining, err := storage.DeletePrefix(ctx, s.objects, prefix+"/")
		if err != nil {
			result = multierror.Append(result, err)
		}
		for _, key := range remaining {
			result = multierror.Append(result, errors.Errorf("%s was not removed", key))
		}
		if err := result.ErrorOrNil(); err != nil {
			return err
		}
	}
	return s.store.Delete(ctx, exportLog)
}
