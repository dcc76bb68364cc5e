package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"anchor-platform/internal/domain"
)

const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"

	LockBackendLocal = "local"
	LockBackendRedis = "redis"

	DepositInfoSelf    = "self"
	DepositInfoCustody = "custody"
	DepositInfoNone    = "none"
)

// Config is built once at start-up and passed by value; nothing mutates it afterwards.
type Config struct {
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	ServerPort    string
	StorageDriver string

	RPCBatchSizeLimit int
	RPCConcurrency    int
	ActionMaxRetries  int

	LockBackend   string
	RedisAddr     string
	LockExpiry    time.Duration
	LockTries     int
	LockRetryWait time.Duration

	CustodyEnabled bool
	CustodyURL     string
	CustodyTimeout time.Duration

	DepositInfo         map[domain.Protocol]string
	DistributionAccount string

	AssetsFile       string
	EventsWebhookURL string
	EventsQueueSize  int
}

// Load reads configuration from the environment, falling back to defaults.
func Load() *Config {
	return &Config{
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "password"),
		DBName:     getEnv("DB_NAME", "anchor_platform"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		ServerPort:    getEnv("SERVER_PORT", "8080"),
		StorageDriver: getEnv("STORAGE_DRIVER", StorageDriverPostgres),

		RPCBatchSizeLimit: getEnvInt("RPC_BATCH_SIZE_LIMIT", 10),
		RPCConcurrency:    getEnvInt("RPC_CONCURRENCY", 4),
		ActionMaxRetries:  getEnvInt("ACTION_MAX_RETRIES", 3),

		LockBackend:   getEnv("LOCK_BACKEND", LockBackendLocal),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		LockExpiry:    getEnvDuration("LOCK_EXPIRY", 60*time.Second),
		LockTries:     getEnvInt("LOCK_TRIES", 32),
		LockRetryWait: getEnvDuration("LOCK_RETRY_WAIT", 100*time.Millisecond),

		CustodyEnabled: getEnvBool("CUSTODY_ENABLED", false),
		CustodyURL:     getEnv("CUSTODY_URL", "http://localhost:8086"),
		CustodyTimeout: getEnvDuration("CUSTODY_TIMEOUT", 10*time.Second),

		DepositInfo: map[domain.Protocol]string{
			domain.ProtocolSEP6:  getEnv("DEPOSIT_INFO_SEP6", DepositInfoSelf),
			domain.ProtocolSEP24: getEnv("DEPOSIT_INFO_SEP24", DepositInfoSelf),
			domain.ProtocolSEP31: getEnv("DEPOSIT_INFO_SEP31", DepositInfoSelf),
		},
		DistributionAccount: getEnv("DISTRIBUTION_ACCOUNT", ""),

		AssetsFile:       getEnv("ASSETS_FILE", "assets.yaml"),
		EventsWebhookURL: getEnv("EVENTS_WEBHOOK_URL", ""),
		EventsQueueSize:  getEnvInt("EVENTS_QUEUE_SIZE", 1024),
	}
}

// Validate reports inconsistent settings before any dependency is built.
func (c *Config) Validate() error {
	if c.StorageDriver != StorageDriverPostgres && c.StorageDriver != StorageDriverMemory {
		return fmt.Errorf("unsupported storage driver %q", c.StorageDriver)
	}
	if c.LockBackend != LockBackendLocal && c.LockBackend != LockBackendRedis {
		return fmt.Errorf("unsupported lock backend %q", c.LockBackend)
	}
	// An action may call custody twice while holding its lock: address generation and the
	// custody transaction itself.
	if c.LockBackend == LockBackendRedis && c.CustodyEnabled && c.LockExpiry <= 2*c.CustodyTimeout {
		return fmt.Errorf("LOCK_EXPIRY %s must exceed twice CUSTODY_TIMEOUT %s", c.LockExpiry, c.CustodyTimeout)
	}
	if c.RPCBatchSizeLimit < 1 {
		return fmt.Errorf("RPC_BATCH_SIZE_LIMIT must be positive")
	}
	if c.RPCConcurrency < 1 {
		return fmt.Errorf("RPC_CONCURRENCY must be positive")
	}
	if c.EventsQueueSize < 1 {
		return fmt.Errorf("EVENTS_QUEUE_SIZE must be positive")
	}
	for protocol, kind := range c.DepositInfo {
		switch kind {
		case DepositInfoSelf:
			if c.DistributionAccount == "" {
				return fmt.Errorf("DISTRIBUTION_ACCOUNT is required for %s self deposit info", protocol)
			}
		case DepositInfoCustody:
			if !c.CustodyEnabled {
				return fmt.Errorf("%s custody deposit info requires CUSTODY_ENABLED", protocol)
			}
		case DepositInfoNone:
		default:
			return fmt.Errorf("unsupported deposit info generator %q for %s", kind, protocol)
		}
	}
	return nil
}

// GetDBConnectionString returns the lib/pq DSN.
func (c *Config) GetDBConnectionString() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

func getEnvBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}
