package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aussiebroadwan/roster/internal/roster/directory"
	"github.com/aussiebroadwan/roster/internal/roster/domain"
	"github.com/aussiebroadwan/roster/pkg/httpx"
)

type Config struct {
	Env                 string        // Environment (dev, staging, prod) (default: dev)
	LogLevel            string        // Log level (debug, info, warn, error) (default: info)
	LogFormat           string        // Log format (json, text) (default: json)
	Port                int           // HTTP server port (default: 8080)
	ShutdownGracePeriod time.Duration // Graceful shutdown timeout (default: 10s)
	DatabaseFile        string        // Path to SQLite database file (default: ./roster.db)
	PepperFile          string        // Path to the password pepper, created on first start (default: ./pepper)
	BootstrapToken      string        // Optional: enables POST /v1/bootstrap when set

	SessionSecret string        // Required: HS256 key for session tokens, at least 32 bytes
	SessionIssuer string        // Issuer claim (default: roster)
	SessionTTL    time.Duration // Session lifetime (default: 8h)

	Directory    directory.Config
	SearchFilter string        // Optional: overrides the default user filter
	SyncInterval time.Duration // Scheduled sync period (default: 1h)
	SyncTimeout  time.Duration // Upper bound on one sync (default: 10m)

	Lockout          domain.LockoutPolicy
	AttemptRetention time.Duration // Attempts older than this are purged (default: 720h)

	Retention            domain.RetentionPolicy
	RetentionInterval    time.Duration // Scheduled lifecycle pass period (default: 24h)
	RetentionConcurrency int           // Identities processed in parallel per pass (default: 4)

	RedisURL   string        // Optional: shares the sync run lock across replicas
	RunLockTTL time.Duration // Lease on the shared run lock (default: 15m)

	LoginLimit httpx.RateLimitConfig
	AdminLimit httpx.RateLimitConfig
}

func LoadConfig() Config {
	cfg := Config{
		Env:                 getEnvOrDefault("ENV", "dev"),
		LogLevel:            getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:           getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                getEnvIntOrDefault("PORT", 8080),
		ShutdownGracePeriod: getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		DatabaseFile:        getEnvOrDefault("DATABASE_FILE", "roster.db"),
		PepperFile:          getEnvOrDefault("PEPPER_FILE", "pepper"),
		BootstrapToken:      os.Getenv("BOOTSTRAP_TOKEN"),

		SessionSecret: os.Getenv("SESSION_SECRET"),
		SessionIssuer: getEnvOrDefault("SESSION_ISSUER", "roster"),
		SessionTTL:    getEnvDurationOrDefault("SESSION_TTL", 8*time.Hour),

		Directory: directory.Config{
			URL:           os.Getenv("DIRECTORY_URL"),
			BaseDN:        os.Getenv("DIRECTORY_BASE_DN"),
			Domain:        os.Getenv("DIRECTORY_DOMAIN"),
			BindUser:      os.Getenv("DIRECTORY_BIND_USER"),
			BindPassword:  os.Getenv("DIRECTORY_BIND_PASSWORD"),
			StartTLS:      getEnvBoolOrDefault("DIRECTORY_START_TLS", false),
			SkipTLSVerify: getEnvBoolOrDefault("DIRECTORY_SKIP_TLS_VERIFY", false),
			PageSize:      uint32(max(getEnvIntOrDefault("DIRECTORY_PAGE_SIZE", 500), 1)),
		},
		SearchFilter: os.Getenv("DIRECTORY_SEARCH_FILTER"),
		SyncInterval: getEnvDurationOrDefault("SYNC_INTERVAL", time.Hour),
		SyncTimeout:  getEnvDurationOrDefault("SYNC_TIMEOUT", 10*time.Minute),

		Lockout: domain.LockoutPolicy{
			MaxAttempts: getEnvIntOrDefault("LOCKOUT_MAX_ATTEMPTS", domain.DefaultLockoutPolicy.MaxAttempts),
			ResetWindow: getEnvDurationOrDefault("LOCKOUT_RESET_WINDOW", domain.DefaultLockoutPolicy.ResetWindow),
			Duration:    getEnvDurationOrDefault("LOCKOUT_DURATION", domain.DefaultLockoutPolicy.Duration),
		},
		AttemptRetention: getEnvDurationOrDefault("ATTEMPT_RETENTION", 720*time.Hour),

		Retention: domain.RetentionPolicy{
			AnonymizeAfter:       getEnvDurationOrDefault("RETENTION_ANONYMIZE_AFTER", domain.DefaultRetentionPolicy.AnonymizeAfter),
			ArchiveAfter:         getEnvDurationOrDefault("RETENTION_ARCHIVE_AFTER", domain.DefaultRetentionPolicy.ArchiveAfter),
			DeleteAfter:          getEnvDurationOrDefault("RETENTION_DELETE_AFTER", 0),
			ArchiveFrom:          domain.ArchiveFrom(strings.ToLower(getEnvOrDefault("RETENTION_ARCHIVE_FROM", string(domain.ArchiveFromDeactivation)))),
			ReassignSubordinates: getEnvBoolOrDefault("RETENTION_REASSIGN_SUBORDINATES", true),
		},
		RetentionInterval:    getEnvDurationOrDefault("RETENTION_INTERVAL", 24*time.Hour),
		RetentionConcurrency: getEnvIntOrDefault("RETENTION_CONCURRENCY", 4),

		RedisURL:   os.Getenv("REDIS_URL"),
		RunLockTTL: getEnvDurationOrDefault("RUN_LOCK_TTL", 15*time.Minute),

		LoginLimit: rateLimitFromEnv("LOGIN_RATE_LIMIT", httpx.LoginLimit),
		AdminLimit: rateLimitFromEnv("ADMIN_RATE_LIMIT", httpx.AdminLimit),
	}

	return cfg
}

// Validate rejects settings the application cannot start with.
func (c Config) Validate() error {
	if c.SessionSecret == "" {
		return fmt.Errorf("SESSION_SECRET is required")
	}
	if c.Lockout.MaxAttempts < 1 {
		return fmt.Errorf("LOCKOUT_MAX_ATTEMPTS must be at least 1")
	}
	if err := c.Retention.Validate(); err != nil {
		return err
	}
	if c.SyncTimeout <= 0 {
		return fmt.Errorf("SYNC_TIMEOUT must be positive")
	}
	// The run lock lease must outlive a run or a second replica can start.
	if c.RedisURL != "" && c.SyncTimeout >= c.RunLockTTL {
		return fmt.Errorf("SYNC_TIMEOUT (%s) must be shorter than RUN_LOCK_TTL (%s)", c.SyncTimeout, c.RunLockTTL)
	}
	if c.Directory.URL != "" && c.Directory.BaseDN == "" {
		return fmt.Errorf("DIRECTORY_BASE_DN is required when DIRECTORY_URL is set")
	}
	return nil
}

// rateLimitFromEnv reads <prefix>_PER_MINUTE and <prefix>_BURST.
func rateLimitFromEnv(prefix string, def httpx.RateLimitConfig) httpx.RateLimitConfig {
	return httpx.RateLimitConfig{
		RequestsPerWindow: getEnvIntOrDefault(prefix+"_PER_MINUTE", def.RequestsPerWindow),
		Window:            time.Minute,
		Burst:             getEnvIntOrDefault(prefix+"_BURST", def.Burst),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Bare integers are minutes.
	if minutes, err := strconv.Atoi(value); err == nil {
		return time.Duration(minutes) * time.Minute
	}

	return defaultValue
}
