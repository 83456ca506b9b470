//go:build integration

package roster_test

import (
	"errors"
	"net/http"
	"testing"

	"github.com/aussiebroadwan/roster/pkg/rostersdk"
	"github.com/stretchr/testify/require"
)

func TestAdminRoutesRequireSession(t *testing.T) {
	client := setupRoster(t, nil)

	_, err := client.NewSession("garbage").RetentionStats(t.Context())
	require.True(t, rostersdk.IsUnauthorized(err))

	_, err = client.NewSession("").DirectoryStatus(t.Context())
	require.True(t, rostersdk.IsUnauthorized(err))
}

func TestDirectorySyncWithoutDirectory(t *testing.T) {
	client := setupRoster(t, nil)
	admin, _ := bootstrapAdmin(t, client)

	_, err := admin.SyncDirectory(t.Context())
	var apiErr *rostersdk.APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	require.Equal(t, rostersdk.ErrorCodeUnavailable, apiErr.Code)

	status, err := admin.DirectoryStatus(t.Context())
	require.NoError(t, err)
	require.False(t, status.Configured)
	require.Zero(t, status.Total)
}

func TestRetentionEndpoints(t *testing.T) {
	client := setupRoster(t, nil)
	admin, adminID := bootstrapAdmin(t, client)

	stats, err := admin.RetentionStats(t.Context())
	require.NoError(t, err)
	require.Equal(t, rostersdk.StatsResponse{Active: 1}, *stats)

	report, err := admin.AdvanceRetention(t.Context())
	require.NoError(t, err)
	require.Empty(t, report.Anonymized)
	require.Empty(t, report.Archived)
	require.Empty(t, report.Deleted)
	require.Empty(t, report.Errors)

	err = admin.Deactivate(t.Context(), "01HZZZZZZZZZZZZZZZZZZZZZZZ")
	var apiErr *rostersdk.APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusNotFound, apiErr.StatusCode)

	// Deactivating yourself is allowed; the token stays valid until it
	// expires but logins stop.
	require.NoError(t, admin.Deactivate(t.Context(), adminID))

	stats, err = admin.RetentionStats(t.Context())
	require.NoError(t, err)
	require.Equal(t, 0, stats.Active)
	require.Equal(t, 1, stats.Deactivated)

	_, err = client.Login(t.Context(), adminEmail, adminPassword)
	require.True(t, rostersdk.IsUnauthorized(err))
}
