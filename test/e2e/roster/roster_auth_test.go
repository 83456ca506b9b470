//go:build integration

package roster_test

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/aussiebroadwan/roster/pkg/rostersdk"
	"github.com/stretchr/testify/require"
)

func TestBootstrapOnlyOnce(t *testing.T) {
	client := setupRoster(t, nil)

	_, err := client.Bootstrap(t.Context(), "wrong-token", rostersdk.BootstrapRequest{
		Email:    adminEmail,
		Password: adminPassword,
	})
	require.True(t, rostersdk.IsUnauthorized(err))

	bootstrapAdmin(t, client)

	_, err = client.Bootstrap(t.Context(), bootstrapToken, rostersdk.BootstrapRequest{
		Email:    "second@example.com",
		Password: adminPassword,
	})
	var apiErr *rostersdk.APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusConflict, apiErr.StatusCode)
	require.Equal(t, rostersdk.ErrorCodeConflict, apiErr.Code)
}

func TestBootstrapDisabledWithoutToken(t *testing.T) {
	client := setupRoster(t, map[string]string{"BOOTSTRAP_TOKEN": ""})

	_, err := client.Bootstrap(t.Context(), "", rostersdk.BootstrapRequest{
		Email:    adminEmail,
		Password: adminPassword,
	})
	var apiErr *rostersdk.APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func TestLoginIssuesSession(t *testing.T) {
	client := setupRoster(t, nil)
	sess, adminID := bootstrapAdmin(t, client)

	require.NotEmpty(t, sess.Token())
	require.WithinDuration(t, time.Now().Add(8*time.Hour), sess.ExpiresAt(), time.Minute)

	history, err := sess.Attempts(t.Context(), adminID, 10)
	require.NoError(t, err)
	require.Len(t, history.Attempts, 1)
	require.True(t, history.Attempts[0].Success)
	require.Equal(t, adminEmail, history.Attempts[0].Email)
}

func TestLoginLockoutAndUnlock(t *testing.T) {
	client := setupRoster(t, map[string]string{"LOCKOUT_MAX_ATTEMPTS": "3"})
	admin, _ := bootstrapAdmin(t, client)

	_, err := client.Login(t.Context(), "nobody@example.com", "whatever")
	require.True(t, rostersdk.IsUnauthorized(err), "unknown emails are plain rejections")

	for range 2 {
		_, err := client.Login(t.Context(), adminEmail, "wrong-password")
		require.True(t, rostersdk.IsUnauthorized(err))
	}

	_, err = client.Login(t.Context(), adminEmail, "wrong-password")
	require.True(t, rostersdk.IsLocked(err))
	var apiErr *rostersdk.APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, 30, apiErr.RemainingMinutes)

	_, err = client.Login(t.Context(), adminEmail, adminPassword)
	require.True(t, rostersdk.IsLocked(err), "the right password does not bypass the lock")

	// The session issued before the lock still works.
	status, err := admin.Lockout(t.Context(), adminEmail)
	require.NoError(t, err)
	require.True(t, status.Locked)
	require.Zero(t, status.AttemptsRemaining)

	require.NoError(t, admin.Unlock(t.Context(), adminEmail))

	status, err = admin.Lockout(t.Context(), adminEmail)
	require.NoError(t, err)
	require.False(t, status.Locked)
	require.Equal(t, 3, status.AttemptsRemaining)

	_, err = client.Login(t.Context(), adminEmail, adminPassword)
	require.NoError(t, err)
}

func TestLoginRateLimit(t *testing.T) {
	client := setupRoster(t, map[string]string{
		"LOGIN_RATE_LIMIT_PER_MINUTE": "3",
		"LOGIN_RATE_LIMIT_BURST":      "3",
	})

	for range 3 {
		_, err := client.Login(t.Context(), "ghost@example.com", "nope")
		require.True(t, rostersdk.IsUnauthorized(err))
	}

	_, err := client.Login(t.Context(), "ghost@example.com", "nope")
	var apiErr *rostersdk.APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	require.Equal(t, rostersdk.ErrorCodeRateLimited, apiErr.Code)

	// Another email from the same address has its own bucket.
	_, err = client.Login(t.Context(), "other@example.com", "nope")
	require.True(t, rostersdk.IsUnauthorized(err))
}
