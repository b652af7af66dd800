// Package dbtest prepares the lease database instances for the unit
// tests. The tests require access to a running PostgreSQL server with
// a template database. The template database name must be set in the
// DHCP6D_TEST_DATABASE variable. The tests are skipped when the
// variable is unset, so the default test runs do not require the
// database server. The connection details can be overridden with the
// DHCP6D_DATABASE_* variables.
package dbtest

import (
	"fmt"
	"math/rand"
	"os"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	dbops "isc.org/dhcp6d/database"
)

// Prepares unit test setup by creating a database from the template
// and returns the settings of the created database together with the
// maintenance settings pointing at it.
func createDatabaseTestCase(tb testing.TB) (settings *dbops.DatabaseSettings, maintenanceSettings *dbops.DatabaseSettings, err error) {
	templateDBName := os.Getenv("DHCP6D_TEST_DATABASE")
	if templateDBName == "" {
		tb.Skip("lease database tests require the DHCP6D_TEST_DATABASE variable holding the template database name")
	}

	// Default configuration.
	flags := &dbops.DatabaseCLIFlagsWithMaintenance{
		DatabaseCLIFlags: dbops.DatabaseCLIFlags{
			DBName: templateDBName,
			User:   templateDBName,
			Host:   "/var/run/postgresql",
			Port:   5432,
		},
		MaintenanceDBName: "postgres",
		MaintenanceUser:   "postgres",
	}

	flags.ReadFromEnvironment()

	// Connect to maintenance database to be able to create test database.
	maintenanceSettings, err = flags.ConvertToMaintenanceDatabaseSettings()
	if err != nil {
		return
	}

	db, err := dbops.NewPgDBConn(maintenanceSettings)
	if db == nil {
		log.
			WithField("database", maintenanceSettings.DBName).
			WithField("user", maintenanceSettings.User).
			Fatalf("Unable to create database instance: %+v", err)
	}
	if nil != err {
		return
	}

	defer db.Close()

	// Create test database from template. No tests should use the template
	// directly. Test database name is the template name and a big random
	// number, e.g.: dhcp6d_test9817239871871478571.
	dbName := fmt.Sprintf("%s%d", templateDBName, rand.Int63()) //nolint:gosec

	cmd := fmt.Sprintf(`DROP DATABASE IF EXISTS %s;`, dbName)
	_, err = db.Exec(cmd)
	if err != nil {
		return
	}

	cmd = fmt.Sprintf(`CREATE DATABASE %s TEMPLATE %s;`, dbName, templateDBName)
	_, err = db.Exec(cmd)
	if err != nil {
		return
	}

	// Create an instance of the test database.
	settings, err = flags.ConvertToDatabaseSettings()
	if err != nil {
		return
	}

	settings.DBName = dbName
	maintenanceSettings.DBName = dbName

	return settings, maintenanceSettings, nil
}

func prepareDBInstance(settings *dbops.DatabaseSettings) (*dbops.PgDB, func(), error) {
	db, err := dbops.NewPgDBConn(settings)
	if err != nil {
		return nil, nil, err
	}

	return db, func() {
		db.Close()
	}, nil
}

// Prepares unit test setup by creating a new test database and returns
// the teardown function. The test is skipped when the test database is
// not configured.
func SetupDatabaseTestCase(tb testing.TB) (*dbops.PgDB, *dbops.DatabaseSettings, func()) {
	settings, _, err := createDatabaseTestCase(tb)
	require.NoError(tb, err)
	db, teardown, err := prepareDBInstance(settings)
	require.NoError(tb, err)
	return db, settings, teardown
}

// Prepares unit test setup like SetupDatabaseTestCase but the returned
// connection uses the maintenance credentials.
func SetupDatabaseTestCaseAsMaintenance(tb testing.TB) (*dbops.PgDB, *dbops.DatabaseSettings, func()) {
	_, settings, err := createDatabaseTestCase(tb)
	require.NoError(tb, err)
	db, teardown, err := prepareDBInstance(settings)
	require.NoError(tb, err)
	return db, settings, teardown
}
