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


package main

import (
	"fmt"
	"log"

	migrate "github.com/rubenv/sql-migrate"
	"github.com/spf13/cobra"

	"github.com/hamletgame/hamlet/config"
	"github.com/hamletgame/hamlet/database"
)

func migrateCommands(h *hamletInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "run hamlet database migrations",
	}

	cmd.AddCommand(migrateDirectionCommand(h, "up", "apply all pending migrations", migrate.Up))
	cmd.AddCommand(migrateDirectionCommand(h, "down", "roll back applied migrations", migrate.Down))

	return cmd
}

func migrateDirectionCommand(h *hamletInstance, use, short string, direction migrate.MigrationDirection) *cobra.Command {
	return &cobra.Command{
		Use:         use,
		Short:       short,
		Annotations: map[string]string{configOnly: "true"},
		Run: func(cmd *cobra.Command, args []string) {
			db, err := database.ConnectDB(h.cnf.DataSource.Driver, h.cnf.DataSource.Dns)
			if err != nil {
				log.Printf("Error connecting to database: %v", err)
				return
			}
			defer func() { _ = db.Close() }()

			n, err := database.Migrate(db, h.cnf.DataSource.Driver, direction)
			if err != nil {
				log.Printf("Error migrating %s: %v", use, err)
				return
			}
			fmt.Printf("Migrated %s %d migrations on %s!\n", use, n, h.driverName())
		},
	}
}

func (h *hamletInstance) driverName() string {
	if h.cnf == nil || h.cnf.DataSource.Driver == "" {
		return config.DriverPostgres
	}
	return h.cnf.DataSource.Driver
}
