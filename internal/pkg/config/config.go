package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

// Config holds all application configuration.
type Config struct {
	LogLevel         string `env:"LOG_LEVEL" envDefault:"info"`
	IngestServerAddr string `env:"INGEST_SERVER_ADDR" envDefault:":8080"`
	AdminServerAddr  string `env:"ADMIN_SERVER_ADDR" envDefault:":9091"`
	AdminToken       string `env:"ADMIN_TOKEN"`
	MaxBodyBytes     int64  `env:"MAX_BODY_BYTES" envDefault:"1048576"` // 1MB

	StoreBackend string `env:"STORE_BACKEND" envDefault:"postgres"`
	PlayerStore  string `env:"PLAYER_STORE" envDefault:"postgres"`
	PostgresURL  string `env:"POSTGRES_URL"`
	AutoMigrate  bool   `env:"AUTO_MIGRATE" envDefault:"false"`
	RedisAddr    string `env:"REDIS_ADDR"`

	APIKeyCacheTTL time.Duration `env:"API_KEY_CACHE_TTL" envDefault:"5m"`
	APIKeyPepper   string        `env:"API_KEY_PEPPER"`

	ClaimBatchSize      int           `env:"CLAIM_BATCH_SIZE" envDefault:"20"`
	CommandExpiry       time.Duration `env:"COMMAND_EXPIRY" envDefault:"10m"`
	ExpirySweepInterval time.Duration `env:"EXPIRY_SWEEP_INTERVAL" envDefault:"30s"`

	WALPath        string `env:"WAL_PATH" envDefault:"./wal"`
	WALSegmentSize int64  `env:"WAL_SEGMENT_SIZE_BYTES" envDefault:"104857600"`   // 100MB
	WALMaxDiskSize int64  `env:"WAL_MAX_DISK_SIZE_BYTES" envDefault:"1073741824"` // 1GB

	ActivityStream       string `env:"ACTIVITY_STREAM" envDefault:"dispatch:activity"`
	ActivityStreamMaxLen int64  `env:"ACTIVITY_STREAM_MAXLEN" envDefault:"10000"`
	// Command payload keys masked in published activity events.
	ActivityRedactFields []string `env:"ACTIVITY_REDACT_FIELDS" envSeparator:","`

	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"dispatch.activity"`

	TenantSeedFile string `env:"TENANT_SEED_FILE"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	// Attempt to load .env file for local development.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the selected backends have what they need.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendPostgres:
		if c.PostgresURL == "" {
			return fmt.Errorf("POSTGRES_URL is required when STORE_BACKEND=%s", c.StoreBackend)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}

	switch c.PlayerStore {
	case BackendPostgres:
		if c.PostgresURL == "" {
			return fmt.Errorf("POSTGRES_URL is required when PLAYER_STORE=%s", c.PlayerStore)
		}
	case BackendRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required when PLAYER_STORE=%s", c.PlayerStore)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown PLAYER_STORE %q", c.PlayerStore)
	}

	if c.ClaimBatchSize <= 0 {
		return fmt.Errorf("CLAIM_BATCH_SIZE must be positive, got %d", c.ClaimBatchSize)
	}
	if c.CommandExpiry <= 0 {
		return fmt.Errorf("COMMAND_EXPIRY must be positive, got %s", c.CommandExpiry)
	}
	if len(c.APIKeyPepper) > 64 {
		return fmt.Errorf("API_KEY_PEPPER must be at most 64 bytes, got %d", len(c.APIKeyPepper))
	}
	return nil
}
