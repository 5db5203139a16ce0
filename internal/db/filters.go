package db

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

var rangeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"2006/01/02",
}

// TimeRange bounds a timestamp column. It only filters when both ends are set; clients send
// empty strings (or an empty string in place of the whole range) to mean "no bound".
type TimeRange struct {
	From *time.Time `json:"from"`
	To   *time.Time `json:"to"`
}

// UnmarshalJSON accepts {"from": ..., "to": ...} with any of the supported layouts, as well as a
// bare string or null, which leave the range unset.
func (r *TimeRange) UnmarshalJSON(data []byte) error {
	*r = TimeRange{}
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" || strings.HasPrefix(trimmed, `"`) {
		return nil
	}

	var raw struct {
		From string `json:"from"`
		To   string `json:"to"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var err error
	if r.From, err = parseRangeTime(raw.From); err != nil {
		return err
	}
	if r.To, err = parseRangeTime(raw.To); err != nil {
		return err
	}
	return nil
}

func parseRangeTime(s string) (*time.Time, error) {
	if s = strings.TrimSpace(s); s == "" {
		return nil, nil
	}
	for _, layout := range rangeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	return nil, errors.Errorf("unable to parse time %q", s)
}

// Set reports whether both ends of the range are present.
func (r *TimeRange) Set() bool {
	return r != nil && r.From != nil && r.To != nil
}

// ApplyTimeRange adds "column BETWEEN from AND to" to q when the range is set.
func ApplyTimeRange(q *bun.SelectQuery, column string, r *TimeRange) *bun.SelectQuery {
	if !r.Set() {
		return q
	}
	return q.Where("? >= ?", bun.Ident(column), *r.From).
		Where("? <= ?", bun.Ident(column), *r.To)
}

// OrderDirection maps a descending flag to SQL.
func OrderDirection(desc bool) string {
	if desc {
		return "DESC"
	}
	return "ASC"
}
