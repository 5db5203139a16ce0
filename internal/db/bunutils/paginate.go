package bunutils

import (
	"context"

	"github.com/uptrace/bun"
)

// Pagination describes the page a query was cut down to.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	Total      int `json:"total"`
	StartIndex int `json:"start_index"`
	EndIndex   int `json:"end_index"`
}

// Paginate counts the rows matched by q and then limits q to the requested 1-based page. A
// pageSize of 0 leaves the query unlimited. The caller executes the returned query.
func Paginate(
	ctx context.Context, q *bun.SelectQuery, page, pageSize int,
) (*bun.SelectQuery, *Pagination, error) {
	// Count number of items without any limits or offsets.
	total, err := q.Count(ctx)
	if err != nil {
		return nil, nil, err
	}

	p := Bounds(total, page, pageSize)
	if pageSize > 0 {
		q.Offset(p.StartIndex)
		q.Limit(p.EndIndex - p.StartIndex)
	}
	return q, p, nil
}

// Bounds computes the start and end indexes of a page over total rows.
func Bounds(total, page, pageSize int) *Pagination {
	if page < 1 {
		page = 1
	}
	p := &Pagination{Page: page, PageSize: pageSize, Total: total, EndIndex: total}
	if pageSize <= 0 {
		return p
	}

	p.StartIndex = (page - 1) * pageSize
	if p.StartIndex > total {
		p.StartIndex = total
	}
	p.EndIndex = p.StartIndex + pageSize
	if p.EndIndex > total {
		p.EndIndex = total
	}
	return p
}
