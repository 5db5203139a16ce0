package db

import (
	"database/sql"

	"github.com/jackc/pgconn"
	"github.com/pkg/errors"
)

// MatchSentinelError checks if the error belongs to specific families of errors
// and ensures that the returned error has the proper type and text.
func MatchSentinelError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}

	switch pgErrCode(err) {
	case CodeForeignKeyViolation:
		return ErrNotFound
	case CodeUniqueViolation:
		return ErrDuplicateRecord
	}

	return err
}

// MustHaveAffectedRows checks if bun has affected rows in a table or not.
// Returns ErrNotFound if no rows were affected and returns the provided error otherwise.
func MustHaveAffectedRows(result sql.Result, err error) error {
	if err == nil {
		rowsAffected, affectedErr := result.RowsAffected()
		if affectedErr != nil {
			return affectedErr
		}
		if rowsAffected == 0 {
			return ErrNotFound
		}
	}

	return err
}

func pgErrCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// LikePattern escapes s for use in a LIKE/ILIKE "contains" match.
func LikePattern(s string) string {
	out := make([]rune, 0, len(s)+2)
	out = append(out, '%')
	for _, r := range s {
		if r == '%' || r == '_' || r == '\\' {
			out = append(out, '\\')
		}
		out = append(out, r)
	}
	return string(append(out, '%'))
}
