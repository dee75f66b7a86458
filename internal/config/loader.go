package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"tabimport/internal/db"
	"tabimport/internal/persist"
	"tabimport/internal/storage/s3blob"
)

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig
	Database  db.Config
	Blob      s3blob.Config
	Ingest    IngestConfig
	Queue     QueueConfig
	Reconcile ReconcileConfig
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
}

// IngestConfig holds import pipeline tuning.
type IngestConfig struct {
	TempDir string
	Policy  persist.Policy
}

// QueueConfig holds processing queue settings.
type QueueConfig struct {
	Enabled      bool
	Concurrency  int
	PollInterval time.Duration
}

// ReconcileConfig holds the background sweep settings.
type ReconcileConfig struct {
	Schedule string
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:5173"},
		},
		Database: db.DefaultConfig(),
		Blob: s3blob.Config{
			Bucket:    "tabimport-uploads",
			Region:    "eu-west-2",
			KeyPrefix: "imports",
		},
		Ingest: IngestConfig{
			Policy: persist.DefaultPolicy(),
		},
		Queue: QueueConfig{
			Enabled:      true,
			Concurrency:  3,
			PollInterval: 250 * time.Millisecond,
		},
		Reconcile: ReconcileConfig{
			Schedule: "@every 1h",
		},
	}
}

// Load reads config.yaml from configPath and applies environment overrides.
func Load(configPath string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AutomaticEnv() // allow environment overrides
	v.SetEnvPrefix("TABIMPORT")

	// Map nested keys to flat env vars like TABIMPORT_DATABASE_HOST.
	for _, key := range []string{
		"server.addr",
		"database.host", "database.port", "database.user",
		"database.password", "database.dbname", "database.sslmode",
		"blob.bucket", "blob.region", "blob.endpoint", "blob.public_base_url",
		"ingest.temp_dir", "ingest.batch_size", "ingest.max_attempts",
		"queue.enabled", "queue.concurrency",
		"reconcile.schedule",
	} {
		v.BindEnv(key)
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found? Just log it, use defaults + env
		fmt.Println("No config.yaml found, using defaults and env vars")
	} else {
		fmt.Println("Loaded config.yaml")
	}

	if v.IsSet("server.addr") {
		cfg.Server.Addr = v.GetString("server.addr")
	}
	if v.IsSet("server.allowed_origins") {
		cfg.Server.AllowedOrigins = v.GetStringSlice("server.allowed_origins")
	}

	if v.IsSet("database.host") {
		cfg.Database.Host = v.GetString("database.host")
	}
	if v.IsSet("database.port") {
		cfg.Database.Port = v.GetInt("database.port")
	}
	if v.IsSet("database.user") {
		cfg.Database.User = v.GetString("database.user")
	}
	if v.IsSet("database.password") {
		cfg.Database.Password = v.GetString("database.password")
	}
	if v.IsSet("database.dbname") {
		cfg.Database.DBName = v.GetString("database.dbname")
	}
	if v.IsSet("database.sslmode") {
		cfg.Database.SSLMode = v.GetString("database.sslmode")
	}

	if v.IsSet("blob.bucket") {
		cfg.Blob.Bucket = v.GetString("blob.bucket")
	}
	if v.IsSet("blob.region") {
		cfg.Blob.Region = v.GetString("blob.region")
	}
	if v.IsSet("blob.endpoint") {
		cfg.Blob.Endpoint = v.GetString("blob.endpoint")
	}
	if v.IsSet("blob.public_base_url") {
		cfg.Blob.PublicBaseURL = v.GetString("blob.public_base_url")
	}
	if v.IsSet("blob.key_prefix") {
		cfg.Blob.KeyPrefix = v.GetString("blob.key_prefix")
	}

	if v.IsSet("ingest.temp_dir") {
		cfg.Ingest.TempDir = v.GetString("ingest.temp_dir")
	}
	if v.IsSet("ingest.batch_size") {
		cfg.Ingest.Policy.BatchSize = v.GetInt("ingest.batch_size")
	}
	if v.IsSet("ingest.max_attempts") {
		cfg.Ingest.Policy.MaxAttempts = v.GetInt("ingest.max_attempts")
	}
	if v.IsSet("ingest.base_backoff") {
		cfg.Ingest.Policy.BaseBackoff = v.GetDuration("ingest.base_backoff")
	}
	if v.IsSet("ingest.max_backoff") {
		cfg.Ingest.Policy.MaxBackoff = v.GetDuration("ingest.max_backoff")
	}
	if v.IsSet("ingest.abort_failure_rate") {
		cfg.Ingest.Policy.AbortFailureRate = v.GetFloat64("ingest.abort_failure_rate")
	}

	if v.IsSet("queue.enabled") {
		cfg.Queue.Enabled = v.GetBool("queue.enabled")
	}
	if v.IsSet("queue.concurrency") {
		cfg.Queue.Concurrency = v.GetInt("queue.concurrency")
	}
	if v.IsSet("queue.poll_interval") {
		cfg.Queue.PollInterval = v.GetDuration("queue.poll_interval")
	}

	if v.IsSet("reconcile.schedule") {
		cfg.Reconcile.Schedule = v.GetString("reconcile.schedule")
	}

	return cfg, nil
}
