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

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5001"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL    bool   `json:"ssl" envconfig:"HAMLET_SERVER_SSL"`
	Domain string `json:"domain" envconfig:"HAMLET_SERVER_SSL_DOMAIN"`
	Email  string `json:"ssl_email" envconfig:"HAMLET_SERVER_SSL_EMAIL"`
	Port   string `json:"port" envconfig:"HAMLET_SERVER_PORT"`
}

type DataSourceConfig struct {
	Driver string `json:"driver" envconfig:"HAMLET_DATA_SOURCE_DRIVER"`
	Dns    string `json:"dns" envconfig:"HAMLET_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"HAMLET_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"HAMLET_REDIS_SKIP_TLS_VERIFY"`
}

// GameConfig holds the tunables of the resource economy.
type GameConfig struct {
	ProductionRate          float64 `json:"production_rate" envconfig:"HAMLET_GAME_PRODUCTION_RATE"`
	StartingResources       float64 `json:"starting_resources" envconfig:"HAMLET_GAME_STARTING_RESOURCES"`
	BuildUpgradeCost        float64 `json:"build_upgrade_cost" envconfig:"HAMLET_GAME_BUILD_UPGRADE_COST"`
	BuildUpgradeDurationSec int     `json:"build_upgrade_duration_sec" envconfig:"HAMLET_GAME_BUILD_UPGRADE_DURATION_SEC"`
}

// WorkerConfig controls the action worker and the stuck action monitor.
type WorkerConfig struct {
	PollIntervalMs        int    `json:"poll_interval_ms" envconfig:"HAMLET_WORKER_POLL_INTERVAL_MS"`
	BatchSize             int    `json:"batch_size" envconfig:"HAMLET_WORKER_BATCH_SIZE"`
	StuckThresholdSec     int    `json:"stuck_threshold_sec" envconfig:"HAMLET_WORKER_STUCK_THRESHOLD_SEC"`
	StuckCheckIntervalSec int    `json:"stuck_check_interval_sec" envconfig:"HAMLET_WORKER_STUCK_CHECK_INTERVAL_SEC"`
	// FailStuckActions moves stuck actions to FAILED. The monitor can not tell a dead worker
	// from a slow handler: an effect still running past stuck_threshold_sec is marked FAILED
	// even if it later completes, and its worker then gets a CONFLICT. Keep the threshold
	// well above the slowest effect when enabling this.
	FailStuckActions      bool   `json:"fail_stuck_actions" envconfig:"HAMLET_WORKER_FAIL_STUCK_ACTIONS"`
	WebhookQueue          string `json:"webhook_queue" envconfig:"HAMLET_WORKER_WEBHOOK_QUEUE"`
	MonitoringPort        string `json:"monitoring_port" envconfig:"HAMLET_WORKER_MONITORING_PORT"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"HAMLET_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"HAMLET_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"HAMLET_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type Notification struct {
	Slack struct {
		WebhookUrl string `json:"webhook_url" envconfig:"HAMLET_SLACK_WEBHOOK_URL"`
	} `json:"slack"`
	Webhook struct {
		Url     string            `json:"url" envconfig:"HAMLET_WEBHOOK_URL"`
		Headers map[string]string `json:"headers"`
	} `json:"webhook"`
}

type Configuration struct {
	ProjectName     string           `json:"project_name" envconfig:"HAMLET_PROJECT_NAME"`
	EnableTelemetry bool             `json:"enable_telemetry" envconfig:"HAMLET_ENABLE_TELEMETRY"`
	Server          ServerConfig     `json:"server"`
	DataSource      DataSourceConfig `json:"data_source"`
	Redis           RedisConfig      `json:"redis"`
	Game            GameConfig       `json:"game"`
	Worker          WorkerConfig     `json:"worker"`
	Notification    Notification     `json:"notification"`
	RateLimit       RateLimitConfig  `json:"rate_limit"`
}

// PollInterval returns the configured worker tick as a duration.
func (w WorkerConfig) PollInterval() time.Duration {
	return time.Duration(w.PollIntervalMs) * time.Millisecond
}

// StuckThreshold returns how long an action may stay in PROCESSING before it is reported.
func (w WorkerConfig) StuckThreshold() time.Duration {
	return time.Duration(w.StuckThresholdSec) * time.Second
}

func (w WorkerConfig) StuckCheckInterval() time.Duration {
	return time.Duration(w.StuckCheckIntervalSec) * time.Second
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}

	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("hamlet", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called hamlet.json with your config")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Hamlet Server"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.DataSource.Driver = strings.ToLower(strings.TrimSpace(cnf.DataSource.Driver))
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	switch cnf.DataSource.Driver {
	case "":
		cnf.DataSource.Driver = DriverPostgres
	case "sqlite":
		cnf.DataSource.Driver = DriverSQLite
	case DriverPostgres, DriverSQLite:
	default:
		return errors.New("data source driver must be postgres or sqlite3")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Warning: Redis DNS is empty. Action cache, webhooks and the stuck action lock are disabled.")
	}

	// Set default value for Port if it's empty
	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	if cnf.Game.ProductionRate < 0 || cnf.Game.StartingResources < 0 || cnf.Game.BuildUpgradeCost < 0 {
		return errors.New("game rates and amounts cannot be negative")
	}
	if cnf.Game.ProductionRate == 0 {
		cnf.Game.ProductionRate = 10
	}
	if cnf.Game.StartingResources == 0 {
		cnf.Game.StartingResources = 500
	}
	if cnf.Game.BuildUpgradeCost == 0 {
		cnf.Game.BuildUpgradeCost = 50
	}
	if cnf.Game.BuildUpgradeDurationSec <= 0 {
		cnf.Game.BuildUpgradeDurationSec = 10
	}

	if cnf.Worker.PollIntervalMs <= 0 {
		cnf.Worker.PollIntervalMs = 1000
	}
	if cnf.Worker.BatchSize <= 0 {
		cnf.Worker.BatchSize = 10
	}
	if cnf.Worker.StuckThresholdSec <= 0 {
		cnf.Worker.StuckThresholdSec = 300
	}
	if cnf.Worker.StuckCheckIntervalSec <= 0 {
		cnf.Worker.StuckCheckIntervalSec = 60
	}
	if cnf.Worker.WebhookQueue == "" {
		cnf.Worker.WebhookQueue = "hamlet_webhooks"
	}
	if cnf.Worker.MonitoringPort == "" {
		cnf.Worker.MonitoringPort = "5004"
	}

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800 // 3 hours in seconds
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
