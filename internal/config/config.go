package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	HTTPAddr    string
	PostgresDSN string
	LogLevel    string

	AdminAPIKey string

	// Authorization gate windows, in seconds. Replay retention must cover
	// the freshness window; the accessor below enforces the floor.
	MaxSkewSeconds         int
	ReplayRetentionSeconds int
	ReplaySweepSeconds     int

	AnchorLedgerEndpoint    string
	AnchorLedgerAPIKey      string
	AnchorSigningKeySeedHex string
	AnchorSigningKeyID      string
	AnchorTimeoutSeconds    int
	AnchorQueueSize         int

	PolicyBundlePath  string
	DefaultExpiryDays int

	RateLimitRequests      int
	RateLimitWindowSeconds int
	RateLimitFailClosed    bool
	RateLimitMaxKeys       int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

func FromEnv() Config {
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	return Config{
		HTTPAddr:                addr,
		PostgresDSN:             os.Getenv("POSTGRES_DSN"),
		LogLevel:                envDefault("LOG_LEVEL", "info"),
		AdminAPIKey:             os.Getenv("ADMIN_API_KEY"),
		MaxSkewSeconds:          envIntDefault("MAX_SKEW_SECONDS", 300),
		ReplayRetentionSeconds:  envIntDefault("REPLAY_RETENTION_SECONDS", 600),
		ReplaySweepSeconds:      envIntDefault("REPLAY_SWEEP_SECONDS", 150),
		AnchorLedgerEndpoint:    os.Getenv("ANCHOR_LEDGER_ENDPOINT"),
		AnchorLedgerAPIKey:      os.Getenv("ANCHOR_LEDGER_API_KEY"),
		AnchorSigningKeySeedHex: os.Getenv("ANCHOR_SIGNING_KEY_SEED_HEX"),
		AnchorSigningKeyID:      os.Getenv("ANCHOR_SIGNING_KEY_ID"),
		AnchorTimeoutSeconds:    envIntDefault("ANCHOR_TIMEOUT_SECONDS", 5),
		AnchorQueueSize:         envIntDefault("ANCHOR_QUEUE_SIZE", 64),
		PolicyBundlePath:        os.Getenv("POLICY_BUNDLE_PATH"),
		DefaultExpiryDays:       envIntDefault("DEFAULT_EXPIRY_DAYS", 0),
		RateLimitRequests:       envIntDefault("RATE_LIMIT_REQUESTS", 0),
		RateLimitWindowSeconds:  envIntDefault("RATE_LIMIT_WINDOW_SECONDS", 60),
		RateLimitFailClosed:     envBoolDefault("RATE_LIMIT_FAIL_CLOSED", false),
		RateLimitMaxKeys:        envIntDefault("RATE_LIMIT_MAX_KEYS", 10000),
		RedisAddr:               os.Getenv("REDIS_ADDR"),
		RedisPassword:           os.Getenv("REDIS_PASSWORD"),
		RedisDB:                 envIntDefault("REDIS_DB", 0),
	}
}

func envDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func envIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func envBoolDefault(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	switch v {
	case "1", "true", "TRUE", "True", "yes", "YES", "Yes":
		return true
	case "0", "false", "FALSE", "False", "no", "NO", "No":
		return false
	default:
		return def
	}
}

// MaxSkew is the authorization freshness window.
func (c Config) MaxSkew() time.Duration {
	if c.MaxSkewSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.MaxSkewSeconds) * time.Second
}

// ReplayRetention is how long consumed signatures stay reserved. Never
// below MaxSkew: a signature must not become reusable while it would
// still pass the freshness check.
func (c Config) ReplayRetention() time.Duration {
	retention := time.Duration(c.ReplayRetentionSeconds) * time.Second
	if retention <= 0 {
		retention = 2 * c.MaxSkew()
	}
	if retention < c.MaxSkew() {
		retention = c.MaxSkew()
	}
	return retention
}

func (c Config) ReplaySweepInterval() time.Duration {
	if c.ReplaySweepSeconds <= 0 {
		return c.ReplayRetention() / 4
	}
	return time.Duration(c.ReplaySweepSeconds) * time.Second
}

func (c Config) AnchorTimeout() time.Duration {
	if c.AnchorTimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.AnchorTimeoutSeconds) * time.Second
}

func (c Config) RateLimitWindow() time.Duration {
	if c.RateLimitWindowSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.RateLimitWindowSeconds) * time.Second
}

// DefaultExpiry is the fallback consent lifetime applied at grant time when
// the request carries no expiry. Zero disables the fallback: consents
// without an expiry stay open-ended.
func (c Config) DefaultExpiry() time.Duration {
	if c.DefaultExpiryDays <= 0 {
		return 0
	}
	return time.Duration(c.DefaultExpiryDays) * 24 * time.Hour
}
