package db

import (
	"fmt"
	"regexp"

	"github.com/go-pg/migrations/v8"
	"github.com/go-pg/pg/v10"
	"github.com/jackc/pgconn"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var migrationURLPattern = regexp.MustCompile(`file://(.+)`)

func makeGoPgOpts(dbURL string) (*pg.Options, error) {
	// go-pg ParseURL doesn't support sslrootcert, so strip it and do manually.
	re := regexp.MustCompile(`&sslrootcert=([^&]*)`)
	opts, err := pg.ParseURL(re.ReplaceAllString(dbURL, ""))
	if err != nil {
		return nil, err
	}

	if opts.TLSConfig != nil {
		pgxConfig, err := pgconn.ParseConfig(dbURL)
		if err != nil {
			return nil, err
		}
		opts.TLSConfig = pgxConfig.TLSConfig
	}
	return opts, nil
}

// Migrate runs the SQL migrations found in the directory named by migrationURL
// (file://<dir>).
func (db *PgDB) Migrate(migrationURL string, actions []string) error {
	match := migrationURLPattern.FindStringSubmatch(migrationURL)
	if len(match) != 2 {
		return fmt.Errorf("failed to parse migrations URL: %s", migrationURL)
	}

	// go-pg/migrations uses go-pg/pg connection API, which is not compatible
	// with pgx, so we use a one-off go-pg/pg connection.
	pgOpts, err := makeGoPgOpts(db.URL)
	if err != nil {
		return err
	}
	pgConn := pg.Connect(pgOpts)
	defer func() {
		if errd := pgConn.Close(); errd != nil {
			log.Errorf("error closing pg connection: %s", errd)
		}
	}()

	collection := migrations.NewCollection()
	collection.DisableSQLAutodiscover(true)
	if err = collection.DiscoverSQLMigrations(match[1]); err != nil {
		return err
	}
	if len(collection.Migrations()) == 0 {
		return errors.New("failed to discover any migrations")
	}

	if _, _, err = collection.Run(pgConn, "init"); err != nil {
		return errors.Wrap(err, "error creating migrations table")
	}

	log.Infof("running DB migrations from %s", migrationURL)
	oldVersion, newVersion, err := collection.Run(pgConn, actions...)
	if err != nil {
		return errors.Wrap(err, "error applying migrations")
	}

	if oldVersion == newVersion {
		log.Infof("no migrations to apply; version: %d", newVersion)
	} else {
		log.Infof("migrated from %d to %d", oldVersion, newVersion)
	}
	return nil
}
