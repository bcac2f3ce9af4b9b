package main

import (
	"os"

	"github.com/golang-migrate/migrate"
	"github.com/golang-migrate/migrate/database/postgres"
	_ "github.com/golang-migrate/migrate/source/file"
	dbconf "github.com/kthomas/go-db-config"

	"github.com/heldobjects/passport/common"
)

func main() {
	sourceURL := os.Getenv("MIGRATIONS_PATH")
	if sourceURL == "" {
		sourceURL = "file://./ops/migrations"
	}

	db := dbconf.DatabaseConnection()

	driver, err := postgres.WithInstance(db.DB(), &postgres.Config{})
	if err != nil {
		common.Log.Panicf("failed to initialize postgres migration driver; %s", err.Error())
	}

	m, err := migrate.NewWithDatabaseInstance(sourceURL, "postgres", driver)
	if err != nil {
		common.Log.Panicf("failed to initialize migrations; %s", err.Error())
	}

	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		common.Log.Panicf("failed to apply migrations; %s", err.Error())
	}

	common.Log.Debug("passport db migrations applied")
}
