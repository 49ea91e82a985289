/*
Package config loads runtime configuration from the environment.

PURPOSE:
  One place that knows every knob the server reads. A .env file in the
  working directory is loaded first when present (local development);
  real environments set variables directly.

VARIABLES:
  PORT                HTTP listen port            (default 8080)
  DB_PATH             SQLite database path        (default ./data/ledger.db)
  DATABASE_URL        PostgreSQL DSN; when set, used instead of SQLite
  CHART_FILE          YAML chart of accounts; built-in default when empty
  KAFKA_BROKERS       comma-separated brokers; events disabled when empty
  SCHEDULER_ENABLED   run the recurring charge scheduler (default true)
  SCHEDULER_INTERVAL  scheduler tick interval     (default 1h)
*/
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything the server needs at startup.
type Config struct {
	Port              int
	DBPath            string
	DatabaseURL       string
	ChartFile         string
	KafkaBrokers      []string
	SchedulerEnabled  bool
	SchedulerInterval time.Duration
}

// Load reads configuration from the environment, after loading an
// optional .env file.
func Load() (Config, error) {
	// Missing .env is the normal case outside local development.
	_ = godotenv.Load()

	cfg := Config{
		Port:              8080,
		DBPath:            "./data/ledger.db",
		SchedulerEnabled:  true,
		SchedulerInterval: time.Hour,
	}

	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return Config{}, fmt.Errorf("invalid PORT %q", v)
		}
		cfg.Port = port
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.ChartFile = os.Getenv("CHART_FILE")

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	if v := os.Getenv("SCHEDULER_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SCHEDULER_ENABLED %q", v)
		}
		cfg.SchedulerEnabled = enabled
	}
	if v := os.Getenv("SCHEDULER_INTERVAL"); v != "" {
		interval, err := time.ParseDuration(v)
		if err != nil || interval <= 0 {
			return Config{}, fmt.Errorf("invalid SCHEDULER_INTERVAL %q", v)
		}
		cfg.SchedulerInterval = interval
	}

	return cfg, nil
}
