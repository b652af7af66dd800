package dbops

import (
	"time"

	"github.com/go-pg/pg/v10"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Alias to pg.DB.
type PgDB = pg.DB

// Alias to pg.Conn.
type PgConn = pg.Conn

// Alias to pg.Options.
type PgOptions = pg.Options

// A type for a generic object that can communicate with the database,
// i.e. a connection or a transaction.
type DBI = pg.DBI

// Establishes a connection to the database described by the settings
// and verifies it with a ping. The connection attempt is retried a few
// times to survive a database which is still starting up.
func NewPgDBConn(settings *DatabaseSettings) (*PgDB, error) {
	pgParams, err := settings.ConvertToPgOptions()
	if err != nil {
		return nil, err
	}

	db := pg.Connect(pgParams)
	if settings.TraceSQL.IsRuntimeEnabled() {
		db.AddQueryHook(DBLogger{})
	}

	for tries := 0; ; tries++ {
		var n int
		_, err = db.QueryOne(pg.Scan(&n), "SELECT 1")
		if err == nil {
			break
		}
		if tries >= 9 {
			db.Close()
			return nil, errors.Wrapf(err, "unable to connect to the database using provided credentials")
		}
		log.WithError(err).Info("Retrying database connection")
		time.Sleep(2 * time.Second)
	}
	return db, nil
}

// Establishes a connection and migrates the schema to the latest
// version. This is the connection entry point used by the server.
func NewApplicationDatabaseConn(settings *DatabaseSettings) (*PgDB, error) {
	db, err := NewPgDBConn(settings)
	if err != nil {
		return nil, err
	}

	oldVer, newVer, err := MigrateToLatest(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	if oldVer != newVer {
		log.WithFields(log.Fields{
			"old-version": oldVer,
			"new-version": newVer,
		}).Info("Successfully migrated database schema")
	}

	log.WithFields(log.Fields{
		"database": settings.DBName,
		"version":  newVer,
	}).Info("Connected to the lease database")
	return db, nil
}
