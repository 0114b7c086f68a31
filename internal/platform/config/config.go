package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Server captures process level configuration.
type Server struct {
	Addr          string `env:"CAREDROP_ADDR" envDefault:":8080"`
	JWTSigningKey string `env:"JWT_SIGNING_KEY" envDefault:"dev-secret-key-change-in-production"`
	JWTIssuer     string `env:"JWT_ISSUER" envDefault:"caredrop"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`

	// DatabaseURL selects the postgres store; empty keeps everything in memory.
	DatabaseURL string `env:"DATABASE_URL"`
	// SeedDemo loads demo agencies and roster entries into the in-memory store.
	SeedDemo bool `env:"SEED_DEMO" envDefault:"false"`

	Redis    RedisConfig
	Kafka    KafkaConfig
	Donation DonationConfig
}

// RedisConfig configures the shared redis client used by guards.
type RedisConfig struct {
	URL          string        `env:"REDIS_URL"`
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

// KafkaConfig configures the audit event sink. No brokers keeps audit in memory.
type KafkaConfig struct {
	Brokers    []string `env:"KAFKA_BROKERS" envSeparator:","`
	AuditTopic string   `env:"KAFKA_AUDIT_TOPIC" envDefault:"caredrop.claims.audit"`
	Partitions int32    `env:"KAFKA_AUDIT_PARTITIONS" envDefault:"3"`
}

// DonationConfig tunes the allocation and redemption engine.
type DonationConfig struct {
	// SweepInterval enables the background expiry sweep when positive.
	SweepInterval       time.Duration `env:"CLAIM_SWEEP_INTERVAL" envDefault:"0s"`
	AllocationLockTTL   time.Duration `env:"ALLOCATION_LOCK_TTL" envDefault:"30s"`
	RedeemMaxFailures   int           `env:"REDEEM_MAX_FAILURES" envDefault:"10"`
	RedeemFailureWindow time.Duration `env:"REDEEM_FAILURE_WINDOW" envDefault:"15m"`
	CampaignCacheSize   int           `env:"CAMPAIGN_CACHE_SIZE" envDefault:"1024"`
	AuditBuffer         int           `env:"AUDIT_BUFFER" envDefault:"256"`
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() (Server, error) {
	var cfg Server
	if err := env.Parse(&cfg); err != nil {
		return Server{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.JWTSigningKey == "" {
		return Server{}, fmt.Errorf("JWT_SIGNING_KEY must not be empty")
	}
	return cfg, nil
}
