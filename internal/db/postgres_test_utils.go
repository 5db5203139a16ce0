//go:build integration
// +build integration

package db

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

const migrationsFromDB = "file://../../static/migrations"

// ResolveTestPostgres resolves a connection to a postgres database. To debug tests that use this
// outside of CI, make sure to set ZOO_INTEGRATION_POSTGRES_URL.
func ResolveTestPostgres() (*PgDB, error) {
	pgDB, err := ConnectPostgres(os.Getenv("ZOO_INTEGRATION_POSTGRES_URL"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return pgDB, nil
}

// MustResolveTestPostgres is the same as ResolveTestPostgres but with panics on errors.
func MustResolveTestPostgres(t *testing.T) *PgDB {
	pgDB, err := ResolveTestPostgres()
	require.NoError(t, err, "failed to connect to postgres")
	return pgDB
}

// MustMigrateTestPostgres ensures the integrations DB has migrations applied.
func MustMigrateTestPostgres(t *testing.T, db *PgDB, migrationsPath string) {
	err := db.Migrate(migrationsPath, []string{"up"})
	require.NoError(t, err, "failed to migrate postgres")
}

// MustTruncate empties the given tables.
func MustTruncate(t *testing.T, db *PgDB, tables ...string) {
	for _, table := range tables {
		_, err := db.Bun().NewTruncateTable().TableExpr(table).Cascade().Exec(context.Background())
		require.NoError(t, err, "failed to truncate %s", table)
	}
}
