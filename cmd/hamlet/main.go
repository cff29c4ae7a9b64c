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
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/hamletgame/hamlet"
	"github.com/hamletgame/hamlet/config"
	"github.com/hamletgame/hamlet/database"
	"github.com/hamletgame/hamlet/internal/notification"
)

// Hamlet represents the CLI application, encapsulating the root Cobra command.
type Hamlet struct {
	cmd *cobra.Command
}

// configOnly marks commands that need the configuration but no database connection.
const configOnly = "config_only"

// hamletInstance holds the runtime instance and configuration shared by all commands.
type hamletInstance struct {
	hamlet *hamlet.Hamlet
	cnf    *config.Configuration
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration and builds the Hamlet instance before any command runs.
func preRun(app *hamletInstance, configFile *string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := config.InitConfig(*configFile); err != nil {
			log.Fatal("error loading config ", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}
		app.cnf = cnf

		if cmd.Annotations[configOnly] == "true" {
			return nil
		}

		newHamlet, err := setupHamlet(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}
		app.hamlet = newHamlet
		return nil
	}
}

func setupHamlet(cfg *config.Configuration) (*hamlet.Hamlet, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	newHamlet, err := hamlet.NewHamlet(db)
	if err != nil {
		return nil, fmt.Errorf("error creating hamlet: %v", err)
	}
	return newHamlet, nil
}

// NewCLI creates the root command with the start, workers and migrate subcommands.
func NewCLI() *Hamlet {
	var configFile string
	h := &hamletInstance{}

	var rootCmd = &cobra.Command{
		Use:   "hamlet",
		Short: "Village game backend: resource ledger, action scheduler and worker",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./hamlet.json", "Configuration file for hamlet")
	rootCmd.PersistentPreRunE = preRun(h, &configFile)

	rootCmd.AddCommand(serverCommands(h))
	rootCmd.AddCommand(workerCommands(h))
	rootCmd.AddCommand(migrateCommands(h))
	rootCmd.AddCommand(configCommands(h))

	return &Hamlet{cmd: rootCmd}
}

func (w Hamlet) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
