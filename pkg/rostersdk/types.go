package rostersdk

// ErrorResponse is the JSON body of every non-2xx response.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`

	// RemainingMinutes is set on 423 Locked login responses.
	RemainingMinutes int `json:"remaining_minutes,omitempty"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresAt   int64  `json:"expires_at"`
	IdentityID  string `json:"identity_id"`
	Role        string `json:"role"`
}

// BootstrapRequest creates the first local administrator.
type BootstrapRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
}

type BootstrapResponse struct {
	IdentityID string `json:"identity_id"`
}

// SyncResponse reports one directory reconciliation run.
type SyncResponse struct {
	Created     int      `json:"created"`
	Updated     int      `json:"updated"`
	Deactivated int      `json:"deactivated"`
	Errors      []string `json:"errors"`
}

type DirectoryStatusResponse struct {
	Configured  bool  `json:"configured"`
	Total       int   `json:"total"`
	Active      int   `json:"active"`
	LastRunUnix int64 `json:"last_run_unix,omitempty"`
}

type LockoutResponse struct {
	Email             string `json:"email"`
	Locked            bool   `json:"locked"`
	RemainingMinutes  int    `json:"remaining_minutes,omitempty"`
	AttemptsRemaining int    `json:"attempts_remaining"`
}

type UnlockRequest struct {
	Email string `json:"email"`
}

type Attempt struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	Origin      string `json:"origin"`
	Success     bool   `json:"success"`
	AttemptedAt int64  `json:"attempted_at"`
}

type AttemptsResponse struct {
	Attempts []Attempt `json:"attempts"`
}

// AdvanceResponse reports one retention pass. Errors lists identities the
// pass failed on; the rest of the pass still ran.
type AdvanceResponse struct {
	Anonymized []string `json:"anonymized"`
	Archived   []string `json:"archived"`
	Deleted    []string `json:"deleted"`
	Skipped    []string `json:"skipped"`
	Errors     []string `json:"errors,omitempty"`
}

type StatsResponse struct {
	Active      int `json:"active"`
	Deactivated int `json:"deactivated"`
	Anonymized  int `json:"anonymized"`
	Archived    int `json:"archived"`
}

type HealthResponse struct {
	Status  string        `json:"status"`
	Uptime  string        `json:"uptime,omitempty"`
	Version string        `json:"version,omitempty"`
	Checks  *HealthChecks `json:"checks,omitempty"`
}

// HealthChecks is only filled in by /readyz.
type HealthChecks struct {
	Database  string `json:"database"`
	Directory string `json:"directory"`
}
