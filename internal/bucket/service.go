// Package bucket serves uploads of card media to the object store.
package bucket

import (
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
	"gopkg.in/guregu/null.v3"

	"github.com/modelzoo/modelzoo/internal/api"
	zooContext "github.com/modelzoo/modelzoo/internal/context"
	"github.com/modelzoo/modelzoo/internal/db"
	"github.com/modelzoo/modelzoo/internal/storage"
	"github.com/modelzoo/modelzoo/pkg/model"
)

// VideoTypes are the accepted video content types.
var VideoTypes = []string{"video/mp4", "video/avi", "video/mov", "video/mkv", "video/webm"}

// Cards updates the card a video belongs to.
type Cards interface {
	Update(
		ctx context.Context, key model.CardKey, fn func(card *model.ModelCard) error,
	) (*model.ModelCard, error)
}

// Service serves the /buckets endpoints.
type Service struct {
	log      *log.Entry
	objects  storage.ObjectStore
	cards    Cards
	maxBytes int64
}

// NewService returns the bucket service. Uploads above maxBytes are rejected.
func NewService(objects storage.ObjectStore, cards Cards, maxBytes int64) *Service {
	return &Service{
		log:      log.WithField("component", "buckets"),
		objects:  objects,
		cards:    cards,
		maxBytes: maxBytes,
	}
}

type videoLocation struct {
	VideoLocation string `json:"video_location"`
}

// video reads and checks the uploaded file in the named form field.
func (s *Service) video(c echo.Context, field string) (*multipart.FileHeader, string, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		return nil, "", echo.NewHTTPError(http.StatusUnprocessableEntity,
			fmt.Sprintf("%s file is required", field))
	}
	contentType := fh.Header.Get(echo.HeaderContentType)
	if !slices.Contains(VideoTypes, contentType) {
		return nil, "", echo.NewHTTPError(http.StatusUnsupportedMediaType,
			fmt.Sprintf("We accept only the following file types: %s", strings.Join(VideoTypes, ", ")))
	}
	if fh.Size > s.maxBytes {
		return nil, "", echo.NewHTTPError(http.StatusRequestEntityTooLarge,
			fmt.Sprintf("File is too large. Max size is %d, file size is %d", s.maxBytes, fh.Size))
	}
	return fh, contentType, nil
}

// upload stores the video at videos/<hex>.<subtype> and returns its s3:// location.
func (s *Service) upload(ctx context.Context, fh *multipart.FileHeader, contentType string) (string, error) {
	f, err := fh.Open()
	if err != nil {
		return "", errors.Wrap(err, "opening uploaded video")
	}
	defer f.Close()

	key := storage.VideosPrefix + strings.ReplaceAll(uuid.NewString(), "-", "") + "." +
		strings.TrimPrefix(contentType, "video/")
	if err := s.objects.Put(ctx, key, f, contentType); err != nil {
		return "", errors.Wrapf(err, "uploading video %s", key)
	}
	return storage.URI(s.objects.Bucket(), key), nil
}

func (s *Service) postVideo(c echo.Context) (interface{}, error) {
	fh, contentType, err := s.video(c, "video")
	if err != nil {
		return nil, err
	}
	location, err := s.upload(c.Request().Context(), fh, contentType)
	if err != nil {
		return nil, err
	}
	return api.Response{Code: http.StatusCreated, Body: videoLocation{VideoLocation: location}}, nil
}

func (s *Service) putVideo(c echo.Context) (interface{}, error) {
	fh, contentType, err := s.video(c, "new_video")
	if err != nil {
		return nil, err
	}
	key := model.CardKey{ModelID: c.FormValue("modelId"), CreatorUserID: c.FormValue("userId")}
	if key.ModelID == "" || key.CreatorUserID == "" {
		return nil, echo.NewHTTPError(http.StatusUnprocessableEntity, "userId and modelId are required")
	}
	ctx := c.Request().Context()
	caller := zooContext.MustGetUser(c)

	// The old object is only removed once the card points at the new one.
	var location, previous string
	_, err = s.cards.Update(ctx, key, func(card *model.ModelCard) error {
		if !card.CanBeModifiedBy(caller) {
			return echo.NewHTTPError(http.StatusForbidden,
				"User does not have editor access to this model card")
		}
		uploaded, err := s.upload(ctx, fh, contentType)
		if err != nil {
			return err
		}
		location, previous = uploaded, card.VideoLocation.String
		card.VideoLocation = null.StringFrom(uploaded)
		card.LastModified = time.Now().UTC()
		return nil
	})
	vlog := s.log.WithField("card", key)
	if err != nil {
		if location != "" {
			if rmErr := s.removeVideo(ctx, location); rmErr != nil {
				vlog.WithError(rmErr).Warn("uploaded video was not removed after a failed update")
			}
		}
		if errors.Is(err, db.ErrNotFound) {
			return nil, echo.NewHTTPError(http.StatusNotFound,
				fmt.Sprintf("Model Card with ID: %s not found", key.ModelID))
		}
		return nil, err
	}
	if previous != "" && previous != location {
		if err := s.removeVideo(ctx, previous); err != nil {
			vlog.WithError(err).Warn("old video was not removed")
		}
	}
	return videoLocation{VideoLocation: location}, nil
}

func (s *Service) removeVideo(ctx context.Context, location string) error {
	bucket, key, err := storage.ParseURI(location)
	if err != nil {
		return err
	}
	if bucket != s.objects.Bucket() {
		return errors.Errorf("video %s is outside bucket %s", location, s.objects.Bucket())
	}
	return s.objects.Delete(ctx, key)
}
