package user

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/modelzoo/modelzoo/internal/db"
	"github.com/modelzoo/modelzoo/internal/db/bunutils"
	"github.com/modelzoo/modelzoo/pkg/model"
)

// Filter narrows a user listing.
type Filter struct {
	Name              string
	UserID            string
	AdminPriv         *bool
	LastModifiedRange *db.TimeRange
	DateCreatedRange  *db.TimeRange
	SortColumn        string
	Desc              bool
	Page              int
	PageSize          int
}

// Store persists accounts.
type Store interface {
	ByUserID(ctx context.Context, userID string) (*model.User, error)
	Add(ctx context.Context, user *model.User) error
	Replace(ctx context.Context, user *model.User) error
	Delete(ctx context.Context, userIDs []string) error
	SetAdmin(ctx context.Context, userIDs []string, admin bool) error
	List(ctx context.Context, f Filter) ([]model.User, int, error)
}

// PgStore is the bun-backed Store.
type PgStore struct {
	db bun.IDB
}

// NewPgStore returns a Store over idb.
func NewPgStore(idb bun.IDB) *PgStore {
	return &PgStore{db: idb}
}

// ByUserID returns the account with the given user id.
func (s *PgStore) ByUserID(ctx context.Context, userID string) (*model.User, error) {
	var user model.User
	err := s.db.NewSelect().Model(&user).Where("user_id = ?", userID).Scan(ctx)
	if err != nil {
		return nil, db.MatchSentinelError(err)
	}
	return &user, nil
}

// Add inserts a new account.
func (s *PgStore) Add(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	user.Created, user.LastModified = now, now
	if _, err := s.db.NewInsert().Model(user).ExcludeColumn("id").Returning("id").Exec(ctx); err != nil {
		if matched := db.MatchSentinelError(err); matched == db.ErrDuplicateRecord {
			return matched
		}
		return fmt.Errorf("error inserting user: %w", err)
	}
	return nil
}

// Replace overwrites the name, password and privilege of an existing account.
func (s *PgStore) Replace(ctx context.Context, user *model.User) error {
	user.LastModified = time.Now().UTC()
	return db.MustHaveAffectedRows(s.db.NewUpdate().
		Model(user).
		Column("name", "password_hash", "admin_priv", "last_modified").
		Where("user_id = ?", user.UserID).
		Exec(ctx))
}

// Delete removes the accounts with the given ids. Missing ids are ignored.
func (s *PgStore) Delete(ctx context.Context, userIDs []string) error {
	if len(userIDs) == 0 {
		return nil
	}
	_, err := s.db.NewDelete().
		Model((*model.User)(nil)).
		Where("user_id IN (?)", bun.In(userIDs)).
		Exec(ctx)
	return err
}

// SetAdmin changes the privilege of multiple accounts.
func (s *PgStore) SetAdmin(ctx context.Context, userIDs []string, admin bool) error {
	if len(userIDs) == 0 {
		return nil
	}
	if _, err := s.db.NewUpdate().
		Table("users").
		Set("admin_priv = ?", admin).
		Set("last_modified = ?", time.Now().UTC()).
		Where("user_id IN (?)", bun.In(userIDs)).Exec(ctx); err != nil {
		return fmt.Errorf("error updating %q: %w", userIDs, err)
	}
	return nil
}

// List returns one page of accounts matching f and the total number of matches.
func (s *PgStore) List(ctx context.Context, f Filter) ([]model.User, int, error) {
	var users []model.User
	q := s.db.NewSelect().Model(&users)
	if f.Name != "" {
		q = q.Where("name ILIKE ?", db.LikePattern(f.Name))
	}
	if f.UserID != "" {
		q = q.Where("user_id ILIKE ?", db.LikePattern(f.UserID))
	}
	if f.AdminPriv != nil {
		q = q.Where("admin_priv = ?", *f.AdminPriv)
	}
	q = db.ApplyTimeRange(q, "last_modified", f.LastModifiedRange)
	q = db.ApplyTimeRange(q, "created", f.DateCreatedRange)
	q = q.OrderExpr("? "+db.OrderDirection(f.Desc), bun.Ident(f.SortColumn))

	q, p, err := bunutils.Paginate(ctx, q, f.Page, f.PageSize)
	if err != nil {
		return nil, 0, err
	}
	if err := q.Scan(ctx); err != nil {
		return nil, 0, err
	}
	return users, p.Total, nil
}
