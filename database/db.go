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
	"context"
	"database/sql"
	"log"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/lib/pq"           // postgres driver
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver

	"github.com/hamletgame/hamlet/cache"
	"github.com/hamletgame/hamlet/config"
	"github.com/hamletgame/hamlet/internal/apierror"
)

// Declare a package-level variable to hold the singleton instance.
// Ensure the instance is not accessible outside the package.
var instance *Datasource
var once sync.Once

type Datasource struct {
	Conn   *sql.DB
	Driver string
	Cache  cache.Cache
}

func NewDataSource(configuration *config.Configuration) (IDataSource, error) {
	con, err := GetDBConnection(configuration)
	if err != nil {
		return nil, err
	}
	return con, nil
}

// GetDBConnection provides a global access point to the instance and initializes it if it's not already.
func GetDBConnection(configuration *config.Configuration) (*Datasource, error) {
	var err error
	once.Do(func() {
		con, errConn := ConnectDB(configuration.DataSource.Driver, configuration.DataSource.Dns)
		if errConn != nil {
			err = errConn
			return
		}

		var actionCache cache.Cache
		if configuration.Redis.Dns != "" {
			actionCache, errConn = cache.NewCache(configuration.Redis)
			if errConn != nil {
				// Continue without cache instead of failing completely.
				log.Printf("Error creating cache: %v", errConn)
				actionCache = nil
			}
		}
		instance = &Datasource{Conn: con, Driver: configuration.DataSource.Driver, Cache: actionCache}
	})
	if err != nil {
		return nil, err
	}
	return instance, nil
}

// NewDatasourceFromDB wraps an already opened connection.
func NewDatasourceFromDB(db *sql.DB, driver string, c cache.Cache) *Datasource {
	return &Datasource{Conn: db, Driver: driver, Cache: c}
}

// ConnectDB opens the database, waits for it to answer and applies pooling settings.
func ConnectDB(driver, dns string) (*sql.DB, error) {
	if driver == "" {
		driver = config.DriverPostgres
	}
	if driver == config.DriverSQLite {
		dns = sqliteDSN(dns)
	}

	db, err := sql.Open(driver, dns)
	if err != nil {
		return nil, err
	}

	if driver == config.DriverSQLite {
		// One connection serializes writers and keeps in-memory databases shared.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
		db.SetConnMaxIdleTime(5 * time.Minute)
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5)
	err = backoff.Retry(func() error {
		pingErr := db.Ping()
		if pingErr != nil {
			log.Printf("database connection error: %v", pingErr)
		}
		return pingErr
	}, policy)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	log.Println("Database connection established")
	return db, nil
}

// sqliteDSN turns on foreign keys and immediate write transactions.
func sqliteDSN(dns string) string {
	params := []string{}
	if !strings.Contains(dns, "_foreign_keys") && !strings.Contains(dns, "_fk") {
		params = append(params, "_foreign_keys=on")
	}
	if !strings.Contains(dns, "_txlock") {
		params = append(params, "_txlock=immediate")
	}
	if !strings.Contains(dns, "_busy_timeout") {
		params = append(params, "_busy_timeout=5000")
	}
	if len(params) == 0 {
		return dns
	}
	sep := "?"
	if strings.Contains(dns, "?") {
		sep = "&"
	}
	return dns + sep + strings.Join(params, "&")
}

var positionalParam = regexp.MustCompile(`\$(\d+)`)

// rebind rewrites postgres placeholders ($1) into sqlite numbered placeholders (?1).
func (d Datasource) rebind(query string) string {
	if d.Driver != config.DriverSQLite {
		return query
	}
	return positionalParam.ReplaceAllString(query, "?$1")
}

// forUpdate returns the row lock clause; sqlite relies on BEGIN IMMEDIATE instead.
func (d Datasource) forUpdate() string {
	if d.Driver == config.DriverSQLite {
		return ""
	}
	return " FOR UPDATE"
}

// WithTx runs fn inside one database transaction. The transaction is rolled back when fn
// returns an error or panics, and committed otherwise.
func (d Datasource) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit transaction", err)
	}
	return nil
}
