package db

import (
	"database/sql"
	"testing"

	"github.com/jackc/pgconn"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type fakeResult int64

func (r fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r fakeResult) RowsAffected() (int64, error) { return int64(r), nil }

func TestMatchSentinelError(t *testing.T) {
	require.Equal(t, ErrNotFound, MatchSentinelError(sql.ErrNoRows))
	require.Equal(t, ErrNotFound, MatchSentinelError(errors.Wrap(sql.ErrNoRows, "select")))
	require.Equal(t, ErrDuplicateRecord,
		MatchSentinelError(errors.Wrap(&pgconn.PgError{Code: CodeUniqueViolation}, "insert")))
	require.Equal(t, ErrNotFound,
		MatchSentinelError(&pgconn.PgError{Code: CodeForeignKeyViolation}))

	other := errors.New("boom")
	require.Equal(t, other, MatchSentinelError(other))
}

func TestMustHaveAffectedRows(t *testing.T) {
	require.NoError(t, MustHaveAffectedRows(fakeResult(1), nil))
	require.ErrorIs(t, MustHaveAffectedRows(fakeResult(0), nil), ErrNotFound)
	boom := errors.New("boom")
	require.Equal(t, boom, MustHaveAffectedRows(nil, boom))
}

func TestLikePattern(t *testing.T) {
	require.Equal(t, "%res%", LikePattern("res"))
	require.Equal(t, `%50\%\_off\\%`, LikePattern(`50%_off\`))
}

func TestMakeGoPgOpts(t *testing.T) {
	opts, err := makeGoPgOpts(
		"postgres://zoo:pw@db:5432/modelzoo?application_name=x&sslmode=disable&sslrootcert=")
	require.NoError(t, err)
	require.Equal(t, "db:5432", opts.Addr)
	require.Equal(t, "zoo", opts.User)
	require.Equal(t, "modelzoo", opts.Database)
	require.Nil(t, opts.TLSConfig)
}
