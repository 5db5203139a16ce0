package db

import (
	"net"
	"net/url"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/modelzoo/modelzoo/internal/config"
)

// The pool stays below the default Postgres max_connections of 100.
const maxOpenConns = 48

// dataSourceName renders opts as a postgres:// URL for the pgx stdlib driver.
func dataSourceName(opts *config.DBConfig) string {
	q := url.Values{}
	q.Set("application_name", "modelzoo-server")
	if opts.SSLMode != "" {
		q.Set("sslmode", opts.SSLMode)
	}
	if opts.SSLRootCert != "" {
		q.Set("sslrootcert", opts.SSLRootCert)
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(opts.User, opts.Password),
		Host:     net.JoinHostPort(opts.Host, opts.Port),
		Path:     "/" + opts.Name,
		RawQuery: q.Encode(),
	}
	return u.String()
}

// Connect opens the pool without touching the schema.
func Connect(opts *config.DBConfig) (*PgDB, error) {
	addr := net.JoinHostPort(opts.Host, opts.Port)
	log.WithField("addr", addr).Info("connecting to model card database")
	db, err := ConnectPostgres(dataSourceName(opts))
	if err != nil {
		return nil, errors.Wrapf(err, "connecting to database at %s", addr)
	}
	db.sql.SetMaxOpenConns(maxOpenConns)
	return db, nil
}

// Setup is Connect followed by every pending up migration.
func Setup(opts *config.DBConfig) (*PgDB, error) {
	db, err := Connect(opts)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(opts.Migrations, []string{"up"}); err != nil {
		return nil, errors.Wrap(err, "running migrations")
	}
	return db, nil
}
