package rostersdk

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Session is an authenticated handle. The admin endpoints need the ADMIN
// role; retention stats also accept HR.
type Session struct {
	client    *Client
	token     string
	expiresAt time.Time

	IdentityID string
	Role       string
}

// Token returns the bearer token.
func (s *Session) Token() string { return s.token }

// ExpiresAt is zero for sessions built with NewSession.
func (s *Session) ExpiresAt() time.Time { return s.expiresAt }

func (s *Session) do(ctx context.Context, method, path string, body any, want int, out any) error {
	headers := map[string]string{"Authorization": "Bearer " + s.token}
	return s.client.do(ctx, method, path, headers, body, want, out)
}

// SyncDirectory runs a reconciliation pass and waits for its result.
func (s *Session) SyncDirectory(ctx context.Context) (*SyncResponse, error) {
	var out SyncResponse
	if err := s.do(ctx, http.MethodPost, "/v1/admin/directory/sync", nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Session) DirectoryStatus(ctx context.Context) (*DirectoryStatusResponse, error) {
	var out DirectoryStatusResponse
	if err := s.do(ctx, http.MethodGet, "/v1/admin/directory/status", nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Lockout reports the lockout state of email.
func (s *Session) Lockout(ctx context.Context, email string) (*LockoutResponse, error) {
	var out LockoutResponse
	path := "/v1/admin/lockout?email=" + url.QueryEscape(email)
	if err := s.do(ctx, http.MethodGet, path, nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Unlock clears the failure history of email.
func (s *Session) Unlock(ctx context.Context, email string) error {
	return s.do(ctx, http.MethodPost, "/v1/admin/lockout/unlock", UnlockRequest{Email: email}, http.StatusNoContent, nil)
}

// Attempts lists the newest attempts of an identity. limit <= 0 uses the
// server default.
func (s *Session) Attempts(ctx context.Context, identityID string, limit int) (*AttemptsResponse, error) {
	path := "/v1/admin/identities/" + url.PathEscape(identityID) + "/attempts"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out AttemptsResponse
	if err := s.do(ctx, http.MethodGet, path, nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Deactivate deactivates an identity and cascades to its reports and work
// items.
func (s *Session) Deactivate(ctx context.Context, identityID string) error {
	path := "/v1/admin/identities/" + url.PathEscape(identityID) + "/deactivate"
	return s.do(ctx, http.MethodPost, path, nil, http.StatusNoContent, nil)
}

// AdvanceRetention runs one retention pass with the server's policy.
func (s *Session) AdvanceRetention(ctx context.Context) (*AdvanceResponse, error) {
	var out AdvanceResponse
	if err := s.do(ctx, http.MethodPost, "/v1/admin/retention/advance", nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Session) RetentionStats(ctx context.Context) (*StatsResponse, error) {
	var out StatsResponse
	if err := s.do(ctx, http.MethodGet, "/v1/admin/retention/stats", nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
