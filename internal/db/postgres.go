package db

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v4/stdlib" // Import Postgres driver.
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/extra/bundebug"
)

const (
	connectAttempts = 15
	connectBackoff  = 4 * time.Second
)

// PgDB represents a Postgres database connection.
type PgDB struct {
	URL string
	sql *sql.DB
	bun *bun.DB
}

// ConnectPostgres connects to a Postgres database, retrying while the server comes up.
func ConnectPostgres(url string) (*PgDB, error) {
	numTries := 0
	for {
		sqlDB, err := open(url)
		if err == nil {
			bunDB := bun.NewDB(sqlDB, pgdialect.New())
			bunDB.AddQueryHook(bundebug.NewQueryHook(
				bundebug.WithVerbose(true),
				bundebug.FromEnv("BUNDEBUG"),
			))
			return &PgDB{URL: url, sql: sqlDB, bun: bunDB}, nil
		}
		numTries++
		if numTries >= connectAttempts {
			return nil, errors.Wrapf(err, "could not connect to database after %v tries", numTries)
		}
		log.WithError(err).Warnf("failed to connect to postgres, trying again in %s", connectBackoff)
		time.Sleep(connectBackoff)
	}
}

func open(url string) (*sql.DB, error) {
	sqlDB, err := sql.Open("pgx", url)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return sqlDB, nil
}

// Bun returns the bun handle for building queries.
func (db *PgDB) Bun() *bun.DB {
	return db.bun
}

// Close closes the underlying connection pool.
func (db *PgDB) Close() error {
	return db.bun.Close()
}
