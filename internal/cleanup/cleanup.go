// Package cleanup removes object store media and cluster services that no model card refers to.
package cleanup

import (
	"context"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/modelzoo/modelzoo/internal/db"
	"github.com/modelzoo/modelzoo/internal/htmlmedia"
	"github.com/modelzoo/modelzoo/internal/inference"
	"github.com/modelzoo/modelzoo/internal/storage"
	"github.com/modelzoo/modelzoo/internal/task"
	"github.com/modelzoo/modelzoo/pkg/model"
)

// Cards exposes what the cleanups need to know about the stored model cards.
type Cards interface {
	// RichText returns the markdown and performance documents of every card.
	RichText(ctx context.Context) ([]string, error)
	// ServiceNames returns the inference service names referenced by cards.
	ServiceNames(ctx context.Context) ([]string, error)
}

// Cluster lists and removes inference service resources.
type Cluster interface {
	ServiceNames(ctx context.Context) ([]string, error)
	DeleteService(ctx context.Context, name string, backend model.ServiceBackend) error
}

// Cleaner runs the orphan cleanups.
type Cleaner struct {
	log      *log.Entry
	store    storage.ObjectStore
	cards    Cards
	services inference.Store
	cluster  Cluster
	now      func() time.Time
}

// New returns a Cleaner. cluster may be nil, in which case service cleanup is skipped.
func New(store storage.ObjectStore, cards Cards, services inference.Store, cluster Cluster) *Cleaner {
	return &Cleaner{
		log:      log.WithField("component", "cleanup"),
		store:    store,
		cards:    cards,
		services: services,
		cluster:  cluster,
		now:      time.Now,
	}
}

// Schedule submits the given cleanups to p. A full queue is logged and otherwise ignored.
func (c *Cleaner) Schedule(p task.Submitter, kinds ...task.Kind) {
	for _, kind := range kinds {
		var fn task.Func
		switch kind {
		case task.KindCleanOrphanMedia:
			fn = c.OrphanMedia
		case task.KindCleanOrphanServices:
			fn = c.OrphanServices
		default:
			c.log.Errorf("unknown cleanup kind %s", kind)
			continue
		}
		if _, err := p.Submit(kind, fn); err != nil {
			c.log.WithError(err).Warnf("could not schedule %s", kind)
		}
	}
}

// OrphanMedia deletes every stored image that no card's markdown or performance refers to.
// Images younger than htmlmedia.UploadGracePeriod are kept.
func (c *Cleaner) OrphanMedia(ctx context.Context) error {
	stored, err := c.store.List(ctx, storage.ImagesPrefix)
	if err != nil {
		return errors.Wrap(err, "listing stored images")
	}
	docs, err := c.cards.RichText(ctx)
	if err != nil {
		return errors.Wrap(err, "reading model cards")
	}

	prefix := storage.URI(c.store.Bucket(), "")
	referenced := map[string]bool{}
	for _, doc := range docs {
		refs, err := htmlmedia.ImageReferences(doc)
		if err != nil {
			return err
		}
		for _, ref := range refs {
			if key, ok := strings.CutPrefix(ref, prefix); ok {
				referenced[key] = true
			}
		}
	}

	var (
		result  *multierror.Error
		removed int
	)
	for _, key := range stored {
		if referenced[key] {
			continue
		}
		if at, ok := htmlmedia.UploadedAt(key); ok && c.now().Sub(at) < htmlmedia.UploadGracePeriod {
			continue
		}
		if err := c.store.Delete(ctx, key); err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "deleting %s", key))
			continue
		}
		removed++
	}
	c.log.Infof("removed %d of %d stored images, %d referenced", removed, len(stored), len(referenced))
	return result.ErrorOrNil()
}

// OrphanServices deletes the records and cluster resources of services no card refers to.
func (c *Cleaner) OrphanServices(ctx context.Context) error {
	if c.cluster == nil {
		c.log.Info("no cluster configured, skipping orphaned service cleanup")
		return nil
	}
	deployed, err := c.cluster.ServiceNames(ctx)
	if err != nil {
		return err
	}
	used, err := c.cards.ServiceNames(ctx)
	if err != nil {
		return errors.Wrap(err, "reading model cards")
	}
	inUse := make(map[string]bool, len(used))
	for _, name := range used {
		inUse[name] = true
	}

	var result *multierror.Error
	for _, name := range deployed {
		if inUse[name] {
			continue
		}
		var backend model.ServiceBackend
		switch svc, err := c.services.ByName(ctx, name); {
		case errors.Is(err, db.ErrNotFound):
		case err != nil:
			result = multierror.Append(result, err)
			continue
		default:
			backend = svc.Backend
			if err := c.services.Delete(ctx, name); err != nil {
				result = multierror.Append(result, errors.Wrapf(err, "deleting service record %s", name))
				continue
			}
		}
		if err := c.cluster.DeleteService(ctx, name, backend); err != nil {
			result = multierror.Append(result, err)
			continue
		}
		c.log.Infof("removed orphaned service %s", name)
	}
	return result.ErrorOrNil()
}
