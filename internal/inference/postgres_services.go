// Package inference persists the records of deployed inference services.
package inference

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"

	"github.com/modelzoo/modelzoo/internal/db"
	"github.com/modelzoo/modelzoo/pkg/model"
)

// Store persists inference service records.
type Store interface {
	ByName(ctx context.Context, serviceName string) (*model.InferenceService, error)
	Add(ctx context.Context, svc *model.InferenceService) error
	Delete(ctx context.Context, serviceName string) error
}

// PgStore is the bun-backed Store.
type PgStore struct {
	db bun.IDB
}

// NewPgStore returns a Store over idb.
func NewPgStore(idb bun.IDB) *PgStore {
	return &PgStore{db: idb}
}

// ByName returns the service with the given name.
func (s *PgStore) ByName(ctx context.Context, serviceName string) (*model.InferenceService, error) {
	var svc model.InferenceService
	if err := s.db.NewSelect().Model(&svc).Where("service_name = ?", serviceName).Scan(ctx); err != nil {
		return nil, db.MatchSentinelError(err)
	}
	return &svc, nil
}

// Add inserts a service record.
func (s *PgStore) Add(ctx context.Context, svc *model.InferenceService) error {
	now := time.Now().UTC()
	svc.Created, svc.LastModified = now, now
	if _, err := s.db.NewInsert().Model(svc).ExcludeColumn("id").Returning("id").Exec(ctx); err != nil {
		if matched := db.MatchSentinelError(err); matched == db.ErrDuplicateRecord {
			return matched
		}
		return errors.Wrapf(err, "error inserting service %s", svc.ServiceName)
	}
	return nil
}

// Delete removes the service with the given name. A missing record is not an error.
func (s *PgStore) Delete(ctx context.Context, serviceName string) error {
	_, err := s.db.NewDelete().
		Model((*model.InferenceService)(nil)).
		Where("service_name = ?", serviceName).
		Exec(ctx)
	return err
}
