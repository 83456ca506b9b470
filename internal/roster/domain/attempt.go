package domain

import "time"

// AttemptRecord is one authentication attempt. Rows are append-only.
type AttemptRecord struct {
	ID          string
	IdentityID  *string
	Email       string
	Origin      string
	Success     bool
	AttemptedAt time.Time
}

// LockoutPolicy configures the derived lockout.
type LockoutPolicy struct {
	MaxAttempts int
	ResetWindow time.Duration
	Duration    time.Duration
}

// DefaultLockoutPolicy allows 5 failures in 15 minutes and then locks for
// 30 minutes after the latest one.
var DefaultLockoutPolicy = LockoutPolicy{
	MaxAttempts: 5,
	ResetWindow: 15 * time.Minute,
	Duration:    30 * time.Minute,
}

// LockoutDecision answers whether an email may attempt to authenticate.
type LockoutDecision struct {
	Locked            bool `json:"locked"`
	RemainingMinutes  int  `json:"remaining_minutes,omitempty"`
	AttemptsRemaining int  `json:"attempts_remaining"`
}
