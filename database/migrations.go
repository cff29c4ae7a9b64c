/*
Copyright 2024 Hamlet Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package database

import (
	"database/sql"
	"embed"
	"fmt"

	migrate "github.com/rubenv/sql-migrate"

	"github.com/hamletgame/hamlet/config"
)

//go:embed sql/postgres/*.sql sql/sqlite/*.sql
var SQLFiles embed.FS

// MigrationSource returns the embedded migration set for the given driver.
func MigrationSource(driver string) migrate.MigrationSource {
	root := "sql/postgres"
	if driver == config.DriverSQLite {
		root = "sql/sqlite"
	}
	return migrate.EmbedFileSystemMigrationSource{
		FileSystem: SQLFiles,
		Root:       root,
	}
}

// Migrate applies (or rolls back) every embedded migration and returns how many ran.
func Migrate(db *sql.DB, driver string, direction migrate.MigrationDirection) (int, error) {
	dialect := "postgres"
	if driver == config.DriverSQLite {
		dialect = "sqlite3"
	}
	n, err := migrate.Exec(db, dialect, MigrationSource(driver), direction)
	if err != nil {
		return n, fmt.Errorf("migrate %s: %w", dialect, err)
	}
	return n, nil
}
