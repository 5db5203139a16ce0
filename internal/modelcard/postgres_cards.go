// Package modelcard stores and serves model cards.
package modelcard

import (
	"context"
	"database/sql"
	"sort"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"

	"github.com/modelzoo/modelzoo/internal/db"
	"github.com/modelzoo/modelzoo/internal/db/bunutils"
	"github.com/modelzoo/modelzoo/pkg/model"
)

// Query is a card search. Empty fields do not filter.
type Query struct {
	// GenericText matches, case-insensitively, any of the text and label fields.
	GenericText    string
	Title          string
	Tasks          []string // any of
	Tags           []string // all of
	Frameworks     []string // any of
	Creator        string
	CreatorPartial string
	SortColumn     string
	Desc           bool
	Page           int
	// PageSize of 0 returns every match.
	PageSize int
}

// FilterOptions are the distinct labels in use, offered as search filters.
type FilterOptions struct {
	Tags       []string `json:"tags"`
	Frameworks []string `json:"frameworks"`
	Tasks      []string `json:"tasks"`
}

// Store persists model cards.
type Store interface {
	Get(ctx context.Context, key model.CardKey) (*model.ModelCard, error)
	Add(ctx context.Context, card *model.ModelCard) error
	// Update locks the card, lets fn modify it and writes it back, all in one transaction. An
	// error from fn aborts the update and is returned as is.
	Update(
		ctx context.Context, key model.CardKey, fn func(card *model.ModelCard) error,
	) (*model.ModelCard, error)
	// Delete removes the card if allow accepts it. A missing card is not an error.
	Delete(ctx context.Context, key model.CardKey, allow func(card model.ModelCard) error) error
	Search(ctx context.Context, q Query) ([]model.ModelCard, int, error)
	FilterOptions(ctx context.Context) (*FilterOptions, error)
	RichText(ctx context.Context) ([]string, error)
	ServiceNames(ctx context.Context) ([]string, error)
}

// PgStore is the bun-backed Store.
type PgStore struct {
	db bun.IDB
}

// NewPgStore returns a Store over idb.
func NewPgStore(idb bun.IDB) *PgStore {
	return &PgStore{db: idb}
}

func byKey(q *bun.SelectQuery, key model.CardKey) *bun.SelectQuery {
	return q.Where("m.model_id = ?", key.ModelID).Where("m.creator_user_id = ?", key.CreatorUserID)
}

// Get returns one card.
func (s *PgStore) Get(ctx context.Context, key model.CardKey) (*model.ModelCard, error) {
	var card model.ModelCard
	if err := byKey(s.db.NewSelect().Model(&card), key).Scan(ctx); err != nil {
		return nil, db.MatchSentinelError(err)
	}
	return &card, nil
}

// Add inserts a card. A taken (creator, model id) pair yields db.ErrDuplicateRecord.
func (s *PgStore) Add(ctx context.Context, card *model.ModelCard) error {
	if _, err := s.db.NewInsert().Model(card).ExcludeColumn("id").Returning("id").Exec(ctx); err != nil {
		if matched := db.MatchSentinelError(err); matched == db.ErrDuplicateRecord {
			return matched
		}
		return errors.Wrap(err, "error inserting model card")
	}
	return nil
}

// Update implements Store.
func (s *PgStore) Update(
	ctx context.Context, key model.CardKey, fn func(card *model.ModelCard) error,
) (*model.ModelCard, error) {
	var card model.ModelCard
	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if err := byKey(tx.NewSelect().Model(&card), key).For("UPDATE").Scan(ctx); err != nil {
			return db.MatchSentinelError(err)
		}
		if err := fn(&card); err != nil {
			return err
		}
		_, err := tx.NewUpdate().Model(&card).ExcludeColumn("id", "created").WherePK().Exec(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &card, nil
}

// Delete implements Store.
func (s *PgStore) Delete(
	ctx context.Context, key model.CardKey, allow func(card model.ModelCard) error,
) error {
	return s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		var card model.ModelCard
		switch err := byKey(tx.NewSelect().Model(&card), key).For("UPDATE").Scan(ctx); {
		case errors.Is(err, sql.ErrNoRows):
			return nil
		case err != nil:
			return err
		}
		if err := allow(card); err != nil {
			return err
		}
		_, err := tx.NewDelete().Model(&card).WherePK().Exec(ctx)
		return err
	})
}

// labelMatches is true when any element of the array column matches the pattern.
const labelMatches = "EXISTS (SELECT 1 FROM unnest(?) AS l(v) WHERE l.v ILIKE ?)"

// Search implements Store.
func (s *PgStore) Search(ctx context.Context, q Query) ([]model.ModelCard, int, error) {
	var cards []model.ModelCard
	sq := s.db.NewSelect().Model(&cards)

	if q.GenericText != "" {
		pattern := db.LikePattern(q.GenericText)
		sq = sq.WhereGroup(" AND ", func(sq *bun.SelectQuery) *bun.SelectQuery {
			for _, col := range genericTextColumns {
				sq = sq.WhereOr("? ILIKE ?", bun.Ident("m."+col), pattern)
			}
			for _, col := range []string{"tags", "frameworks"} {
				sq = sq.WhereOr(labelMatches, bun.Ident("m."+col), pattern)
			}
			return sq
		})
	}
	if q.Title != "" {
		sq = sq.Where("m.title ILIKE ?", db.LikePattern(q.Title))
	}
	if len(q.Tasks) > 0 {
		sq = sq.WhereGroup(" AND ", func(sq *bun.SelectQuery) *bun.SelectQuery {
			for _, t := range q.Tasks {
				sq = sq.WhereOr("m.task ILIKE ?", db.LikePattern(t))
			}
			return sq
		})
	}
	for _, tag := range q.Tags {
		sq = sq.Where(labelMatches, bun.Ident("m.tags"), db.LikePattern(tag))
	}
	if len(q.Frameworks) > 0 {
		sq = sq.WhereGroup(" AND ", func(sq *bun.SelectQuery) *bun.SelectQuery {
			for _, f := range q.Frameworks {
				sq = sq.WhereOr(labelMatches, bun.Ident("m.frameworks"), db.LikePattern(f))
			}
			return sq
		})
	}
	if q.Creator != "" {
		sq = sq.Where("m.creator_user_id = ?", q.Creator)
	}
	if q.CreatorPartial != "" {
		sq = sq.Where("m.creator_user_id ILIKE ?", db.LikePattern(q.CreatorPartial))
	}

	sortColumn := q.SortColumn
	if sortColumn == "" {
		sortColumn = "created"
	}
	direction := db.OrderDirection(q.Desc)
	sq = sq.OrderExpr("? "+direction, bun.Ident("m."+sortColumn)).OrderExpr("m.id " + direction)

	sq, p, err := bunutils.Paginate(ctx, sq, q.Page, q.PageSize)
	if err != nil {
		return nil, 0, err
	}
	if err := sq.Scan(ctx); err != nil {
		return nil, 0, err
	}
	return cards, p.Total, nil
}

// FilterOptions implements Store.
func (s *PgStore) FilterOptions(ctx context.Context) (*FilterOptions, error) {
	opts := &FilterOptions{}
	for _, f := range []struct {
		expr string
		out  *[]string
	}{
		{"unnest(m.tags)", &opts.Tags},
		{"unnest(m.frameworks)", &opts.Frameworks},
		{"m.task", &opts.Tasks},
	} {
		var values []string
		if err := s.db.NewSelect().
			Model((*model.ModelCard)(nil)).
			ColumnExpr("DISTINCT " + f.expr).
			Scan(ctx, &values); err != nil {
			return nil, errors.Wrapf(err, "listing distinct %s", f.expr)
		}
		sort.Strings(values)
		if values == nil {
			values = []string{}
		}
		*f.out = values
	}
	return opts, nil
}

// RichText returns the markdown and performance documents of every card.
func (s *PgStore) RichText(ctx context.Context) ([]string, error) {
	var rows []struct {
		Markdown    string `bun:"markdown"`
		Performance string `bun:"performance"`
	}
	if err := s.db.NewSelect().
		Model((*model.ModelCard)(nil)).
		Column("markdown", "performance").
		Scan(ctx, &rows); err != nil {
		return nil, err
	}
	docs := make([]string, 0, 2*len(rows))
	for _, r := range rows {
		docs = append(docs, r.Markdown, r.Performance)
	}
	return docs, nil
}

// ServiceNames returns the inference service names referenced by any card.
func (s *PgStore) ServiceNames(ctx context.Context) ([]string, error) {
	var names []string
	err := s.db.NewSelect().
		Model((*model.ModelCard)(nil)).
		ColumnExpr("DISTINCT m.inference_service_name").
		Where("m.inference_service_name IS NOT NULL").
		Scan(ctx, &names)
	return names, err
}
