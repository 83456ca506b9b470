//go:build integration

package roster_test

import (
	"context"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aussiebroadwan/roster/internal/roster/app"
	"github.com/aussiebroadwan/roster/pkg/rostersdk"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

/*
 * Common constants and helpers for the roster end-to-end tests. The service
 * runs in-process against a temporary database; the sync run lock goes
 * through a real Redis container shared by every test.
 */

const (
	bootstrapToken = "test-bootstrap-token-12345"
	adminEmail     = "admin@example.com"
	adminPassword  = "Admin123!Admin123!"
)

var redisURL string

func TestMain(m *testing.M) {
	ctx := context.Background()

	fmt.Fprintf(os.Stdout, "Starting Redis container...")
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		fmt.Fprintf(os.Stderr, "\nFailed to start Redis: %v\n", err)
		os.Exit(1)
	}
	redisURL, err = container.ConnectionString(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "\nFailed to resolve Redis address: %v\n", err)
		_ = testcontainers.TerminateContainer(container)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stdout, " done\n")

	exitCode := m.Run()

	if err := testcontainers.TerminateContainer(container); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to terminate Redis: %v\n", err)
	}
	os.Exit(exitCode)
}

// setupRoster starts the service and returns a client for it. env
// overrides the test defaults.
func setupRoster(t *testing.T, env map[string]string) *rostersdk.Client {
	t.Helper()
	dir := t.TempDir()

	defaults := map[string]string{
		"SESSION_SECRET":         strings.Repeat("e2e-secret-", 4),
		"SESSION_ISSUER":         "roster-e2e",
		"BOOTSTRAP_TOKEN":        bootstrapToken,
		"DATABASE_FILE":          filepath.Join(dir, "roster.db"),
		"PEPPER_FILE":            filepath.Join(dir, "secrets", "pepper"),
		"REDIS_URL":              redisURL,
		"ENV":                    "test",
		"LOG_LEVEL":              "error",
		"LOG_FORMAT":             "json",
		"ADMIN_RATE_LIMIT_BURST": "1000",
	}
	for k, v := range env {
		defaults[k] = v
	}
	for k, v := range defaults {
		t.Setenv(k, v)
	}

	application, err := app.New(app.LoadConfig())
	require.NoError(t, err)

	srv := httptest.NewServer(application.Handler())
	t.Cleanup(func() {
		srv.Close()
		if err := application.Shutdown(); err != nil {
			t.Logf("failed to shut down: %v", err)
		}
	})

	return rostersdk.NewClient(srv.URL)
}

// bootstrapAdmin creates the first administrator and logs in.
func bootstrapAdmin(t *testing.T, client *rostersdk.Client) (*rostersdk.Session, string) {
	t.Helper()

	res, err := client.Bootstrap(t.Context(), bootstrapToken, rostersdk.BootstrapRequest{
		Email:      adminEmail,
		Password:   adminPassword,
		GivenName:  "Ada",
		FamilyName: "Admin",
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.IdentityID)

	sess, err := client.Login(t.Context(), adminEmail, adminPassword)
	require.NoError(t, err)
	return sess, res.IdentityID
}
