// Package config loads AVESA's process configuration from the environment
// (spec.md §6), with an optional .env overlay the way cmd/tarsy/main.go
// loads one ahead of parsing.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the umbrella runtime configuration for every AVESA subcommand.
type Config struct {
	StateStoreEndpoint  string `env:"STATE_STORE_ENDPOINT,required"`
	BlobStoreEndpoint   string `env:"BLOB_STORE_ENDPOINT,required"`
	BlobStoreAccessKey  string `env:"BLOB_STORE_ACCESS_KEY"`
	BlobStoreSecretKey  string `env:"BLOB_STORE_SECRET_KEY"`
	BlobStoreUseTLS     bool   `env:"BLOB_STORE_USE_TLS" envDefault:"true"`
	BlobStoreBucket     string `env:"BLOB_STORE_BUCKET" envDefault:"avesa"`
	ColumnStoreEndpoint string `env:"COLUMN_STORE_ENDPOINT,required"`
	SecretStoreEndpoint string `env:"SECRET_STORE_ENDPOINT"`
	SecretStoreClientID string `env:"SECRET_STORE_CLIENT_ID"`
	SecretStoreSecret   string `env:"SECRET_STORE_CLIENT_SECRET"`
	RedisURL            string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	SlackBotToken       string `env:"SLACK_BOT_TOKEN"`
	SlackChannel        string `env:"SLACK_ALERT_CHANNEL"`
	DashboardURL        string `env:"DASHBOARD_URL"`

	ConnectWiseBaseURL string `env:"CONNECTWISE_BASE_URL"`
	ServiceNowBaseURL  string `env:"SERVICENOW_BASE_URL"`

	MappingDir string `env:"MAPPING_DIR" envDefault:"./config/mappings"`

	TenantsConcurrency int           `env:"TENANTS_CONCURRENCY" envDefault:"10"`
	TablesConcurrency  int           `env:"TABLES_CONCURRENCY" envDefault:"4"`
	ChunksConcurrency  int           `env:"CHUNKS_CONCURRENCY" envDefault:"3"`
	ChunkDuration      time.Duration `env:"CHUNK_DURATION" envDefault:"0"`
	ChunkTimeout       time.Duration `env:"CHUNK_TIMEOUT" envDefault:"15m"`
	JobTimeout         time.Duration `env:"JOB_TIMEOUT" envDefault:"4h"`
	MaxPagesInMemory   int           `env:"MAX_PAGES_IN_MEMORY" envDefault:"5"`
	RejectRatioMax     float64       `env:"REJECT_RATIO_MAX" envDefault:"0.05"`
	ClockSkewGuard     time.Duration `env:"CLOCK_SKEW_GUARD" envDefault:"30s"`
	ScheduleInterval   time.Duration `env:"SCHEDULE_INTERVAL" envDefault:"1h"`
	RateLimitWaitMax   time.Duration `env:"RATE_LIMIT_WAIT_MAX" envDefault:"60s"`

	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9090"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load loads a .env file (if present, from envPath) then parses the process
// environment into Config. Any error from loading the .env file, a missing
// file included, is ignored and not reported to the caller.
func Load(envPath string) (*Config, error) {
	if envPath != "" {
		_ = godotenv.Load(envPath)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config from env: %w", err)
	}
	return cfg, nil
}

// MaxOpenChunks is the process-wide in-flight chunk-processor bound
// (spec.md §4.7): tenants_concurrency × tables_concurrency × chunks_concurrency.
func (c *Config) MaxOpenChunks() int {
	return c.TenantsConcurrency * c.TablesConcurrency * c.ChunksConcurrency
}
