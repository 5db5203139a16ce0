package modelcard

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/copier"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
	"gopkg.in/guregu/null.v3"

	"github.com/modelzoo/modelzoo/internal/api"
	"github.com/modelzoo/modelzoo/internal/connector"
	zooContext "github.com/modelzoo/modelzoo/internal/context"
	"github.com/modelzoo/modelzoo/internal/db"
	"github.com/modelzoo/modelzoo/internal/htmlmedia"
	"github.com/modelzoo/modelzoo/internal/task"
	"github.com/modelzoo/modelzoo/internal/user"
	"github.com/modelzoo/modelzoo/pkg/check"
	"github.com/modelzoo/modelzoo/pkg/model"
	"github.com/modelzoo/modelzoo/pkg/ptrs"
)

const maxModelIDLength = 64

// genericTextColumns are the text columns searched by genericSearchText.
var genericTextColumns = []string{
	"title", "task", "creator_user_id", "owner", "point_of_contact", "markdown", "performance",
	"description", "explanation", "usage", "limitations",
}

// sortColumns maps the accepted sort keys, camelCase or snake_case, to columns.
var sortColumns = func() map[string]string {
	m := map[string]string{}
	for camel, column := range map[string]string{
		"modelId":              "model_id",
		"creatorUserId":        "creator_user_id",
		"title":                "title",
		"markdown":             "markdown",
		"performance":          "performance",
		"task":                 "task",
		"inferenceServiceName": "inference_service_name",
		"videoLocation":        "video_location",
		"tags":                 "tags",
		"frameworks":           "frameworks",
		"description":          "description",
		"explanation":          "explanation",
		"usage":                "usage",
		"limitations":          "limitations",
		"owner":                "owner",
		"pointOfContact":       "point_of_contact",
		"created":              "created",
		"lastModified":         "last_modified",
	} {
		m[camel], m[column] = column, column
	}
	return m
}()

// OutputURLs resolves where an experiment's results can be viewed.
type OutputURLs interface {
	OutputURL(ctx context.Context, kind connector.Kind, experimentID string) (*string, error)
}

// Service serves the /models endpoints.
type Service struct {
	log        *log.Entry
	store      Store
	media      *htmlmedia.Processor
	connectors OutputURLs
	cleanup    func(kinds ...task.Kind)
}

// NewService creates the model card service. cleanup queues the named orphan cleanups; it may be
// nil.
func NewService(
	store Store, media *htmlmedia.Processor, connectors OutputURLs, cleanup func(kinds ...task.Kind),
) *Service {
	if cleanup == nil {
		cleanup = func(...task.Kind) {}
	}
	return &Service{
		log:        log.WithField("component", "model-cards"),
		store:      store,
		media:      media,
		connectors: connectors,
		cleanup:    cleanup,
	}
}

type cardArgs struct {
	Creator string `path:"creator"`
	ModelID string `path:"model"`
}

func (a cardArgs) key() model.CardKey {
	return model.CardKey{ModelID: a.ModelID, CreatorUserID: a.Creator}
}

func (s *Service) getFilterOptions(c echo.Context) (interface{}, error) {
	return s.store.FilterOptions(c.Request().Context())
}

func (s *Service) getCard(c echo.Context) (interface{}, error) {
	args := struct {
		cardArgs
		ConvertS3 *bool `query:"convert_s3"`
	}{}
	if err := api.BindArgs(&args.cardArgs, c); err != nil {
		return nil, err
	}
	if err := api.BindArgs(&args, c); err != nil {
		return nil, err
	}

	card, err := s.store.Get(c.Request().Context(), args.key())
	switch {
	case errors.Is(err, db.ErrNotFound):
		return nil, echo.NewHTTPError(http.StatusNotFound,
			fmt.Sprintf("Unable to find: %s/%s", args.Creator, args.ModelID))
	case err != nil:
		return nil, err
	}
	if args.ConvertS3 == nil || *args.ConvertS3 {
		s.presign(card)
	}
	return card, nil
}

// presign swaps the card's s3:// links for presigned URLs. Failures are logged; a video that
// cannot be presigned is dropped from the response.
func (s *Service) presign(card *model.ModelCard) {
	clog := s.log.WithField("card", card.Key())
	for _, doc := range []*string{&card.Markdown, &card.Performance} {
		presigned, err := s.media.PresignImages(*doc)
		if err != nil {
			clog.WithError(err).Warn("failed to presign card images")
		}
		*doc = presigned
	}
	if card.VideoLocation.Valid {
		url, err := s.media.PresignURI(card.VideoLocation.String)
		if err != nil {
			clog.WithError(err).Warn("failed to presign card video")
			card.VideoLocation = null.String{}
			return
		}
		card.VideoLocation = null.StringFrom(url)
	}
}

type searchArgs struct {
	Page              *int     `query:"p"`
	PageSize          *int     `query:"n"`
	Desc              *bool    `query:"desc"`
	Sort              *string  `query:"sort"`
	GenericSearchText *string  `query:"genericSearchText"`
	Title             *string  `query:"title"`
	Tasks             []string `query:"tasks[]"`
	Tags              []string `query:"tags[]"`
	Frameworks        []string `query:"frameworks[]"`
	Creator           *string  `query:"creator"`
	CreatorPartial    *string  `query:"creatorUserIdPartial"`
	Return            []string `query:"return[]"`
	All               *bool    `query:"all"`
}

func (a searchArgs) Validate() []error {
	var errs []error
	if a.Page != nil {
		errs = append(errs, check.True(*a.Page > 0, "p must be greater than 0"))
	}
	if a.PageSize != nil {
		errs = append(errs, check.True(*a.PageSize >= 0, "n must not be negative"))
	}
	return errs
}

func (a searchArgs) query() (Query, error) {
	q := Query{
		GenericText:    ptrs.Deref(a.GenericSearchText, ""),
		Title:          ptrs.Deref(a.Title, ""),
		Tasks:          a.Tasks,
		Tags:           a.Tags,
		Frameworks:     a.Frameworks,
		Creator:        ptrs.Deref(a.Creator, ""),
		CreatorPartial: ptrs.Deref(a.CreatorPartial, ""),
		Desc:           a.Desc != nil && *a.Desc,
		Page:           1,
		PageSize:       10,
	}
	sortKey := "created"
	if a.Sort != nil && *a.Sort != "" {
		sortKey = *a.Sort
	}
	column, ok := sortColumns[sortKey]
	if !ok {
		return Query{}, echo.NewHTTPError(http.StatusBadRequest,
			fmt.Sprintf("invalid sort key: %s", sortKey))
	}
	q.SortColumn = column

	if a.Page != nil {
		q.Page = *a.Page
	}
	if a.PageSize != nil {
		q.PageSize = *a.PageSize
	}
	if a.All != nil && *a.All {
		q.Page, q.PageSize = 1, 0
	}
	return q, nil
}

type searchResults struct {
	Results interface{} `json:"results"`
	Total   int         `json:"total"`
}

func (s *Service) getCards(c echo.Context) (interface{}, error) {
	var args searchArgs
	if err := api.BindArgs(&args, c); err != nil {
		return nil, err
	}
	if err := check.Validate(args); err != nil {
		return nil, echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	q, err := args.query()
	if err != nil {
		return nil, err
	}

	cards, total, err := s.store.Search(c.Request().Context(), q)
	if err != nil {
		return nil, err
	}
	results, err := project(cards, args.Return)
	if err != nil {
		return nil, err
	}
	return searchResults{Results: results, Total: total}, nil
}

func (s *Service) getUserCards(c echo.Context) (interface{}, error) {
	args := struct {
		Creator string   `path:"creator"`
		Return  []string `query:"return[]"`
	}{}
	if err := api.BindArgs(&args, c); err != nil {
		return nil, err
	}
	cards, _, err := s.store.Search(c.Request().Context(), Query{
		Creator:    args.Creator,
		SortColumn: "created",
		Desc:       true,
		Page:       1,
	})
	if err != nil {
		return nil, err
	}
	return project(cards, args.Return)
}

// project keeps only the named JSON fields of each card. No fields keeps the whole card.
func project(cards []model.ModelCard, fields []string) (interface{}, error) {
	if cards == nil {
		cards = []model.ModelCard{}
	}
	if len(fields) == 0 {
		return cards, nil
	}
	projected := make([]map[string]json.RawMessage, 0, len(cards))
	for _, card := range cards {
		bs, err := json.Marshal(card)
		if err != nil {
			return nil, err
		}
		var full map[string]json.RawMessage
		if err := json.Unmarshal(bs, &full); err != nil {
			return nil, err
		}
		kept := make(map[string]json.RawMessage, len(fields))
		for _, f := range fields {
			if v, ok := full[f]; ok {
				kept[f] = v
			}
		}
		projected = append(projected, kept)
	}
	return projected, nil
}

// labels trims, deduplicates and sorts a tag or framework list.
func labels(in []string) []string {
	out := make([]string, 0, len(in))
	for _, l := range in {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func snakeCase(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "_")
}

// newModelID derives a URL-safe card id from the title.
func newModelID(title string) string {
	id := []rune(snakeCase(title) + "-" + uuid.NewString())
	if len(id) > maxModelIDLength {
		id = id[:maxModelIDLength]
	}
	return user.SanitizeForURL(string(id))
}

type cardInsert struct {
	Title                string                  `json:"title"`
	Markdown             string                  `json:"markdown"`
	Performance          string                  `json:"performance"`
	Task                 string                  `json:"task"`
	InferenceServiceName *string                 `json:"inferenceServiceName"`
	VideoLocation        *string                 `json:"videoLocation"`
	Tags                 []string                `json:"tags"`
	Frameworks           []string                `json:"frameworks"`
	Description          *string                 `json:"description"`
	Explanation          *string                 `json:"explanation"`
	Usage                *string                 `json:"usage"`
	Limitations          *string                 `json:"limitations"`
	Owner                *string                 `json:"owner"`
	PointOfContact       *string                 `json:"pointOfContact"`
	Artifacts            []model.Artifact        `json:"artifacts"`
	Experiment           *model.LinkedExperiment `json:"experiment"`
	Dataset              *model.LinkedDataset    `json:"dataset"`
}

func (c cardInsert) Validate() []error {
	return []error{
		check.NotEmpty(strings.TrimSpace(c.Title), "title"),
		check.True(len([]rune(c.Title)) <= model.MaxTitleLength,
			"title must be at most %d characters", model.MaxTitleLength),
		check.NotEmpty(c.Task, "task"),
	}
}

func (s *Service) linkExperiment(ctx context.Context, exp *model.LinkedExperiment) error {
	if exp == nil {
		return nil
	}
	if exp.Connector == string(connector.KindNone) {
		exp.OutputURL = nil
		return nil
	}
	url, err := s.connectors.OutputURL(ctx, connector.Kind(exp.Connector), exp.ExperimentID)
	switch {
	case errors.Is(err, connector.ErrUnsupportedConnector):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, connector.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound,
			fmt.Sprintf("Experiment with ID %s not found.", exp.ExperimentID))
	case err != nil:
		return errors.Wrapf(err, "resolving output url of experiment %s", exp.ExperimentID)
	}
	exp.OutputURL = url
	return nil
}

func (s *Service) prepareDocs(ctx context.Context, docs ...*string) error {
	for _, doc := range docs {
		prepared, err := s.media.PreparePost(ctx, *doc)
		if err != nil {
			return errors.Wrap(err, "preparing card document")
		}
		*doc = prepared
	}
	return nil
}

func (s *Service) postCard(c echo.Context) (interface{}, error) {
	var params cardInsert
	if err := api.BindJSON(&params, c); err != nil {
		return nil, err
	}
	ctx := c.Request().Context()
	caller := zooContext.MustGetUser(c)

	if err := s.prepareDocs(ctx, &params.Markdown, &params.Performance); err != nil {
		return nil, err
	}
	if err := s.linkExperiment(ctx, params.Experiment); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	card := &model.ModelCard{
		ModelID:              newModelID(params.Title),
		CreatorUserID:        caller.UserID,
		Title:                params.Title,
		Markdown:             params.Markdown,
		Performance:          params.Performance,
		Task:                 params.Task,
		InferenceServiceName: null.StringFromPtr(params.InferenceServiceName),
		VideoLocation:        null.StringFromPtr(params.VideoLocation),
		Tags:                 labels(params.Tags),
		Frameworks:           labels(params.Frameworks),
		Description:          null.StringFromPtr(params.Description),
		Explanation:          null.StringFromPtr(params.Explanation),
		Usage:                null.StringFromPtr(params.Usage),
		Limitations:          null.StringFromPtr(params.Limitations),
		Owner:                null.StringFromPtr(params.Owner),
		PointOfContact:       null.StringFromPtr(params.PointOfContact),
		Artifacts:            params.Artifacts,
		Experiment:           params.Experiment,
		Dataset:              params.Dataset,
		Created:              now,
		LastModified:         now,
	}
	if card.Artifacts == nil {
		card.Artifacts = []model.Artifact{}
	}

	switch err := s.store.Add(ctx, card); {
	case errors.Is(err, db.ErrDuplicateRecord):
		return nil, echo.NewHTTPError(http.StatusConflict, fmt.Sprintf(
			"Unable to add model with user and ID %s/%s as the ID already exists.",
			card.CreatorUserID, card.ModelID))
	case err != nil:
		return nil, err
	}
	s.cleanup(task.KindCleanOrphanServices)
	return api.Response{Code: http.StatusCreated, Body: card}, nil
}

// cardPatch holds the fields of a partial update. Fields left nil are not changed.
type cardPatch struct {
	Title                *string                 `json:"title"`
	Markdown             *string                 `json:"markdown"`
	Performance          *string                 `json:"performance"`
	Task                 *string                 `json:"task"`
	InferenceServiceName *string                 `json:"inferenceServiceName"`
	VideoLocation        *string                 `json:"videoLocation"`
	Tags                 *[]string               `json:"tags"`
	Frameworks           *[]string               `json:"frameworks"`
	Description          *string                 `json:"description"`
	Explanation          *string                 `json:"explanation"`
	Usage                *string                 `json:"usage"`
	Limitations          *string                 `json:"limitations"`
	Owner                *string                 `json:"owner"`
	PointOfContact       *string                 `json:"pointOfContact"`
	Artifacts            *[]model.Artifact       `json:"artifacts"`
	Experiment           *model.LinkedExperiment `json:"experiment" copier:"-"`
	Dataset              *model.LinkedDataset    `json:"dataset" copier:"-"`
}

func (p cardPatch) Validate() []error {
	if p.Title == nil {
		return nil
	}
	return []error{
		check.NotEmpty(strings.TrimSpace(*p.Title), "title"),
		check.True(len([]rune(*p.Title)) <= model.MaxTitleLength,
			"title must be at most %d characters", model.MaxTitleLength),
	}
}

func (p cardPatch) empty() bool {
	return p == cardPatch{}
}

var patchConverters = []copier.TypeConverter{
	{
		SrcType: (*string)(nil),
		DstType: null.String{},
		Fn: func(src interface{}) (interface{}, error) {
			return null.StringFromPtr(src.(*string)), nil
		},
	},
	{
		SrcType: (*string)(nil),
		DstType: "",
		Fn: func(src interface{}) (interface{}, error) {
			return *src.(*string), nil
		},
	},
	{
		SrcType: (*[]string)(nil),
		DstType: []string{},
		Fn: func(src interface{}) (interface{}, error) {
			return labels(*src.(*[]string)), nil
		},
	},
	{
		SrcType: (*[]model.Artifact)(nil),
		DstType: []model.Artifact{},
		Fn: func(src interface{}) (interface{}, error) {
			if a := *src.(*[]model.Artifact); a != nil {
				return a, nil
			}
			return []model.Artifact{}, nil
		},
	},
}

// apply writes the supplied fields onto card.
func (p cardPatch) apply(card *model.ModelCard, now time.Time) error {
	if err := copier.CopyWithOption(card, &p, copier.Option{
		IgnoreEmpty: true,
		Converters:  patchConverters,
	}); err != nil {
		return errors.Wrap(err, "applying card update")
	}
	if p.Experiment != nil {
		card.Experiment = p.Experiment
	}
	if p.Dataset != nil {
		card.Dataset = p.Dataset
	}
	if p.Task != nil {
		if *p.Task == model.TaskReinforcementLearning {
			card.InferenceServiceName = null.String{}
		} else {
			card.VideoLocation = null.String{}
		}
	}
	card.LastModified = now
	return nil
}

func errForbidden() error {
	return echo.NewHTTPError(http.StatusForbidden, "User does not have editor access to this model card")
}

func (s *Service) putCard(c echo.Context) (interface{}, error) {
	var args cardArgs
	if err := api.BindArgs(&args, c); err != nil {
		return nil, err
	}
	var patch cardPatch
	if err := api.BindJSON(&patch, c); err != nil {
		return nil, err
	}
	ctx := c.Request().Context()
	caller := zooContext.MustGetUser(c)

	for _, doc := range []*string{patch.Markdown, patch.Performance} {
		if doc != nil {
			if err := s.prepareDocs(ctx, doc); err != nil {
				return nil, err
			}
		}
	}
	if err := s.linkExperiment(ctx, patch.Experiment); err != nil {
		return nil, err
	}

	card, err := s.store.Update(ctx, args.key(), func(card *model.ModelCard) error {
		if !card.CanBeModifiedBy(caller) {
			return errForbidden()
		}
		if patch.empty() {
			return nil
		}
		return patch.apply(card, time.Now().UTC())
	})
	switch {
	case errors.Is(err, db.ErrNotFound):
		return nil, echo.NewHTTPError(http.StatusNotFound,
			fmt.Sprintf("Model Card with ID: %s not found", args.ModelID))
	case err != nil:
		return nil, err
	}
	s.cleanup(task.KindCleanOrphanMedia, task.KindCleanOrphanServices)
	return card, nil
}

func (s *Service) allowCaller(caller model.User) func(card model.ModelCard) error {
	return func(card model.ModelCard) error {
		if !card.CanBeModifiedBy(caller) {
			return errForbidden()
		}
		return nil
	}
}

func (s *Service) deleteCard(c echo.Context) (interface{}, error) {
	var args cardArgs
	if err := api.BindArgs(&args, c); err != nil {
		return nil, err
	}
	caller := zooContext.MustGetUser(c)
	if err := s.store.Delete(c.Request().Context(), args.key(), s.allowCaller(caller)); err != nil {
		return nil, err
	}
	s.cleanup(task.KindCleanOrphanMedia, task.KindCleanOrphanServices)
	return nil, nil
}

// CardPackage is a list of card keys sent by bulk endpoints.
type CardPackage struct {
	Cards []model.CardKey `json:"card_package"`
}

// Validate implements check.Validatable.
func (p CardPackage) Validate() []error {
	errs := make([]error, 0, len(p.Cards))
	for i, k := range p.Cards {
		errs = append(errs, check.True(k.ModelID != "" && k.CreatorUserID != "",
			"card_package[%d] needs model_id and creator_user_id", i))
	}
	return errs
}

func (s *Service) deleteCards(c echo.Context) (interface{}, error) {
	var params CardPackage
	if err := api.BindJSON(&params, c); err != nil {
		return nil, err
	}
	ctx := c.Request().Context()
	allow := s.allowCaller(zooContext.MustGetUser(c))

	var deleted int
	defer func() {
		if deleted > 0 {
			s.cleanup(task.KindCleanOrphanMedia, task.KindCleanOrphanServices)
		}
	}()
	for _, key := range params.Cards {
		if err := s.store.Delete(ctx, key, allow); err != nil {
			return nil, err
		}
		deleted++
	}
	return nil, nil
}
