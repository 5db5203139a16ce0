// Package export bundles model cards, their artifacts and service metadata into the object store
// and keeps a log of every batch.
package export

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"

	"github.com/modelzoo/modelzoo/internal/db"
	"github.com/modelzoo/modelzoo/internal/db/bunutils"
	"github.com/modelzoo/modelzoo/pkg/model"
)

// Filter narrows an export log listing.
type Filter struct {
	UserID             string
	TimeInitiatedRange *db.TimeRange
	TimeCompletedRange *db.TimeRange
	SortColumn         string
	Desc               bool
	Page               int
	PageSize           int
}

// Store persists export logs.
type Store interface {
	Add(ctx context.Context, log *model.ExportLog) error
	// SaveItems writes the per-card statuses of the log.
	SaveItems(ctx context.Context, log *model.ExportLog) error
	// Finish writes the batch status, completion time and location.
	Finish(ctx context.Context, log *model.ExportLog) error
	Get(ctx context.Context, userID string, timeInitiated time.Time) (*model.ExportLog, error)
	Delete(ctx context.Context, log *model.ExportLog) error
	List(ctx context.Context, f Filter) ([]model.ExportLog, int, error)
}

// PgStore is the bun-backed Store.
type PgStore struct {
	db bun.IDB
}

// NewPgStore returns a Store over idb.
func NewPgStore(idb bun.IDB) *PgStore {
	return &PgStore{db: idb}
}

// Add inserts a new log.
func (s *PgStore) Add(ctx context.Context, log *model.ExportLog) error {
	if _, err := s.db.NewInsert().Model(log).ExcludeColumn("id").Returning("id").Exec(ctx); err != nil {
		if matched := db.MatchSentinelError(err); matched == db.ErrDuplicateRecord {
			return matched
		}
		return errors.Wrap(err, "error inserting export log")
	}
	return nil
}

// SaveItems implements Store.
func (s *PgStore) SaveItems(ctx context.Context, log *model.ExportLog) error {
	return db.MustHaveAffectedRows(s.db.NewUpdate().Model(log).Column("models").WherePK().Exec(ctx))
}

// Finish implements Store.
func (s *PgStore) Finish(ctx context.Context, log *model.ExportLog) error {
	return db.MustHaveAffectedRows(s.db.NewUpdate().
		Model(log).
		Column("status", "time_completed", "export_location", "models").
		WherePK().
		Exec(ctx))
}

// Get returns the log a user started at the given time.
func (s *PgStore) Get(
	ctx context.Context, userID string, timeInitiated time.Time,
) (*model.ExportLog, error) {
	var log model.ExportLog
	if err := s.db.NewSelect().
		Model(&log).
		Where("user_id = ?", userID).
		Where("time_initiated = ?", timeInitiated).
		Scan(ctx); err != nil {
		return nil, db.MatchSentinelError(err)
	}
	return &log, nil
}

// Delete removes a log. A missing log is not an error.
func (s *PgStore) Delete(ctx context.Context, log *model.ExportLog) error {
	_, err := s.db.NewDelete().Model(log).WherePK().Exec(ctx)
	return err
}

// List returns one page of logs matching f and the total number of matches.
func (s *PgStore) List(ctx context.Context, f Filter) ([]model.ExportLog, int, error) {
	var logs []model.ExportLog
	q := s.db.NewSelect().Model(&logs)
	if f.UserID != "" {
		q = q.Where("user_id ILIKE ?", db.LikePattern(f.UserID))
	}
	q = db.ApplyTimeRange(q, "time_initiated", f.TimeInitiatedRange)
	q = db.ApplyTimeRange(q, "time_completed", f.TimeCompletedRange)
	q = q.OrderExpr("? "+db.OrderDirection(f.Desc), bun.Ident(f.SortColumn))

	q, p, err := bunutils.Paginate(ctx, q, f.Page, f.PageSize)
	if err != nil {
		return nil, 0, err
	}
	if err := q.Scan(ctx); err != nil {
		return nil, 0, err
	}
	return logs, p.Total, nil
}
