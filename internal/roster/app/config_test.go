package app

import (
	"strings"
	"testing"
	"time"

	"github.com/aussiebroadwan/roster/internal/roster/domain"
	"github.com/aussiebroadwan/roster/pkg/httpx"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("SESSION_SECRET", strings.Repeat("x", 32))

	cfg := LoadConfig()
	require.NoError(t, cfg.Validate())

	require.Equal(t, 8080, cfg.Port)
	require.Equal(t, "roster", cfg.SessionIssuer)
	require.Equal(t, 8*time.Hour, cfg.SessionTTL)
	require.Equal(t, domain.DefaultLockoutPolicy, cfg.Lockout)
	require.Equal(t, domain.DefaultRetentionPolicy, cfg.Retention)
	require.Equal(t, 720*time.Hour, cfg.AttemptRetention)
	require.Equal(t, httpx.LoginLimit, cfg.LoginLimit)
	require.Equal(t, httpx.AdminLimit, cfg.AdminLimit)
	require.False(t, cfg.Directory.Configured())
	require.Equal(t, uint32(500), cfg.Directory.PageSize)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("SESSION_SECRET", strings.Repeat("x", 32))
	t.Setenv("DIRECTORY_URL", "ldaps://dc.example.com")
	t.Setenv("DIRECTORY_BASE_DN", "DC=example,DC=com")
	t.Setenv("DIRECTORY_START_TLS", "true")
	t.Setenv("LOCKOUT_MAX_ATTEMPTS", "3")
	t.Setenv("LOCKOUT_DURATION", "45")
	t.Setenv("RETENTION_DELETE_AFTER", "26280h")
	t.Setenv("RETENTION_ARCHIVE_FROM", "ANONYMIZATION")
	t.Setenv("RETENTION_REASSIGN_SUBORDINATES", "false")
	t.Setenv("LOGIN_RATE_LIMIT_BURST", "1000")
	t.Setenv("PORT", "not-a-number")

	cfg := LoadConfig()
	require.NoError(t, cfg.Validate())

	require.True(t, cfg.Directory.Configured())
	require.True(t, cfg.Directory.StartTLS)
	require.Equal(t, 3, cfg.Lockout.MaxAttempts)
	require.Equal(t, 45*time.Minute, cfg.Lockout.Duration)
	require.Equal(t, 26280*time.Hour, cfg.Retention.DeleteAfter)
	require.Equal(t, domain.ArchiveFromAnonymization, cfg.Retention.ArchiveFrom)
	require.False(t, cfg.Retention.ReassignSubordinates)
	require.Equal(t, 1000, cfg.LoginLimit.Burst)
	require.Equal(t, 8080, cfg.Port)
}

func TestConfigValidate(t *testing.T) {
	t.Setenv("SESSION_SECRET", strings.Repeat("x", 32))
	base := LoadConfig()

	cases := []struct {
		name string
		mut  func(*Config)
	}{
		{"missing session secret", func(c *Config) { c.SessionSecret = "" }},
		{"zero attempts", func(c *Config) { c.Lockout.MaxAttempts = 0 }},
		{"negative retention", func(c *Config) { c.Retention.AnonymizeAfter = -time.Hour }},
		{"unknown archive origin", func(c *Config) { c.Retention.ArchiveFrom = "never" }},
		{"directory without base", func(c *Config) { c.Directory.URL = "ldap://dc" }},
		{"unbounded sync", func(c *Config) { c.SyncTimeout = 0 }},
		{"sync outlives shared lock", func(c *Config) {
			c.RedisURL = "redis://localhost:6379"
			c.SyncTimeout = c.RunLockTTL
		}},
	}

	t.Run("sync within shared lock", func(t *testing.T) {
		cfg := base
		cfg.RedisURL = "redis://localhost:6379"
		cfg.SyncTimeout = cfg.RunLockTTL - time.Minute
		require.NoError(t, cfg.Validate())
	})

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mut(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
