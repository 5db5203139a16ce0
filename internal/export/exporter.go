package export

import (
	"bytes"
	"context"
	"encoding/json"
	"path"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/guregu/null.v3"

	"github.com/modelzoo/modelzoo/internal/htmlmedia"
	"github.com/modelzoo/modelzoo/internal/storage"
	"github.com/modelzoo/modelzoo/pkg/model"
)

// stampLayout names the directory of one batch under exports/.
const stampLayout = "2006-01-02_15:04:05.000000"

// Reasons recorded on failed export items.
const (
	ReasonCardMetadata    = "Card metadata could not be retrieved"
	ReasonModelFile       = "Model file could not be retrieved"
	ReasonVideo           = "Example video could not be retrieved"
	ReasonServiceMetadata = "Service metadata could not be retrieved"
	ReasonUnexpected      = "Unexpected error"
)

// Cards reads the cards being exported.
type Cards interface {
	Get(ctx context.Context, key model.CardKey) (*model.ModelCard, error)
}

// Services reads inference service records.
type Services interface {
	ByName(ctx context.Context, serviceName string) (*model.InferenceService, error)
}

// Exporter runs export batches.
type Exporter struct {
	log      *log.Entry
	store    Store
	objects  storage.ObjectStore
	media    *htmlmedia.Processor
	cards    Cards
	services Services
	now      func() time.Time
}

// NewExporter returns an Exporter writing bundles to objects and logs to store.
func NewExporter(
	store Store, objects storage.ObjectStore, media *htmlmedia.Processor, cards Cards, services Services,
) *Exporter {
	return &Exporter{
		log:      log.WithField("component", "exporter"),
		store:    store,
		objects:  objects,
		media:    media,
		cards:    cards,
		services: services,
		now:      time.Now,
	}
}

// Run exports every card in keys on behalf of userID. A card that fails is marked Failed with its
// reasons and the batch moves on; the returned error only covers the export log itself.
func (x *Exporter) Run(ctx context.Context, userID string, keys []model.CardKey) error {
	started := x.now().UTC().Truncate(time.Microsecond)
	exportLog := &model.ExportLog{
		UserID:        userID,
		Status:        model.ExportInProgress,
		TimeInitiated: started,
		Models:        make([]model.ExportItem, 0, len(keys)),
	}
	for _, k := range keys {
		exportLog.Models = append(exportLog.Models, model.ExportItem{
			ModelID:       k.ModelID,
			CreatorUserID: k.CreatorUserID,
			Status:        model.ExportInProgress,
		})
	}
	if err := x.store.Add(ctx, exportLog); err != nil {
		return errors.Wrap(err, "recording export")
	}

	prefix := storage.ExportsPrefix + started.Format(stampLayout)
	xlog := x.log.WithFields(log.Fields{"user-id": userID, "location": prefix})
	xlog.Infof("exporting %d model cards", len(keys))

	for i := range exportLog.Models {
		item := &exportLog.Models[i]
		key := model.CardKey{ModelID: item.ModelID, CreatorUserID: item.CreatorUserID}
		if reasons := x.exportCard(ctx, xlog.WithField("card", key), prefix, key); len(reasons) > 0 {
			item.Status = model.ExportFailed
			item.Reasons = append(item.Reasons, reasons...)
		} else {
			item.Status = model.ExportCompleted
		}
		// Each item is written as it finishes so the log shows progress while the batch runs.
		if err := x.store.SaveItems(ctx, exportLog); err != nil {
			return errors.Wrap(err, "recording export item status")
		}
	}

	exportLog.Status = model.ExportCompleted
	if exportLog.Failed() {
		exportLog.Status = model.ExportCompletedWithErrors
	}
	exportLog.TimeCompleted = null.TimeFrom(x.now().UTC())
	exportLog.ExportLocation = null.StringFrom(storage.URI(x.objects.Bucket(), prefix))
	if err := x.store.Finish(ctx, exportLog); err != nil {
		return errors.Wrap(err, "recording export completion")
	}
	xlog.WithField("status", exportLog.Status).Info("export finished")
	return nil
}

// exportCard writes one card's bundle under prefix and returns why parts of it failed.
func (x *Exporter) exportCard(
	ctx context.Context, clog *log.Entry, prefix string, key model.CardKey,
) []string {
	card, err := x.cards.Get(ctx, key)
	if err != nil {
		clog.WithError(err).Warn("could not read card")
		return []string{ReasonCardMetadata}
	}
	for _, doc := range []*string{&card.Markdown, &card.Performance} {
		inlined, err := x.media.InlineImages(ctx, *doc)
		if err != nil {
			clog.WithError(err).Warn("could not inline card images")
			return []string{ReasonUnexpected}
		}
		*doc = inlined
	}

	dir := path.Join(prefix, key.CreatorUserID+"-"+key.ModelID)
	var reasons []string
	if err := x.putJSON(ctx, path.Join(dir, "card-metadata.json"), card); err != nil {
		clog.WithError(err).Warn("could not upload card metadata")
		reasons = append(reasons, ReasonCardMetadata)
	}
	if err := x.copyMainModel(ctx, dir, card); err != nil {
		clog.WithError(err).Warn("could not copy model file")
		reasons = append(reasons, ReasonModelFile)
	}

	if card.Task == model.TaskReinforcementLearning && card.VideoLocation.Valid {
		if err := x.copyVideo(ctx, dir, card.VideoLocation.String); err != nil {
			clog.WithError(err).Warn("could not copy example video")
			reasons = append(reasons, ReasonVideo)
		}
		return reasons
	}
	if err := x.putServiceMetadata(ctx, dir, card); err != nil {
		clog.WithError(err).Warn("could not upload service metadata")
		reasons = append(reasons, ReasonServiceMetadata)
	}
	return reasons
}

func (x *Exporter) putJSON(ctx context.Context, key string, v interface{}) error {
	bs, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return err
	}
	return x.objects.Put(ctx, key, bytes.NewReader(bs), "application/json")
}

func (x *Exporter) copyMainModel(ctx context.Context, dir string, card *model.ModelCard) error {
	artifact, ok := card.MainModel()
	if !ok {
		return errors.New("card has no main model artifact")
	}
	bucket, key, err := storage.ParseURI(artifact.URL)
	if err != nil {
		return err
	}
	return x.objects.Copy(ctx, bucket, key, path.Join(dir, path.Base(key)))
}

func (x *Exporter) copyVideo(ctx context.Context, dir, location string) error {
	bucket, key, err := storage.ParseURI(location)
	if err != nil {
		return err
	}
	return x.objects.Copy(ctx, bucket, key, path.Join(dir, "example-video."+storage.Ext(key)))
}

func (x *Exporter) putServiceMetadata(ctx context.Context, dir string, card *model.ModelCard) error {
	if !card.InferenceServiceName.Valid {
		return errors.New("card has no inference service")
	}
	svc, err := x.services.ByName(ctx, card.InferenceServiceName.String)
	if err != nil {
		return err
	}
	return x.putJSON(ctx, path.Join(dir, "service-metadata.json"), svc)
}
