package rostersdk_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aussiebroadwan/roster/pkg/rostersdk"
	"github.com/stretchr/testify/require"
)

func TestLoginAndSession(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var req rostersdk.LoginRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		switch req.Password {
		case "right":
			_ = json.NewEncoder(w).Encode(rostersdk.LoginResponse{
				AccessToken: "tok", TokenType: "Bearer", ExpiresAt: 1700000000, IdentityID: "id-1", Role: "ADMIN",
			})
		case "locked":
			w.WriteHeader(http.StatusLocked)
			_ = json.NewEncoder(w).Encode(rostersdk.ErrorResponse{Error: rostersdk.ErrorCodeAccountLocked, RemainingMinutes: 12})
		default:
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(rostersdk.ErrorResponse{Error: rostersdk.ErrorCodeInvalidCredentials})
		}
	})
	mux.HandleFunc("POST /v1/admin/lockout/unlock", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		var req rostersdk.UnlockRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "a@example.com", req.Email)
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c := rostersdk.NewClient(srv.URL + "/")

	sess, err := c.Login(t.Context(), "a@example.com", "right")
	require.NoError(t, err)
	require.Equal(t, "tok", sess.Token())
	require.Equal(t, "ADMIN", sess.Role)
	require.Equal(t, int64(1700000000), sess.ExpiresAt().Unix())
	require.NoError(t, sess.Unlock(t.Context(), "a@example.com"))

	_, err = c.Login(t.Context(), "a@example.com", "locked")
	require.True(t, rostersdk.IsLocked(err))
	var apiErr *rostersdk.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, 12, apiErr.RemainingMinutes)

	_, err = c.Login(t.Context(), "a@example.com", "wrong")
	require.True(t, rostersdk.IsUnauthorized(err))
	require.False(t, rostersdk.IsLocked(err))
}

func TestNonJSONErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream gone", http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	_, err := rostersdk.NewClient(srv.URL).Liveness(t.Context())
	var apiErr *rostersdk.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	require.Equal(t, "upstream gone", apiErr.Description)
}
