package service

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrSyncInProgress     = errors.New("directory sync already in progress")
	ErrSupervisorCycle    = errors.New("supervisor assignment would create a cycle")
	ErrIdentityNotFound   = errors.New("identity not found")
	ErrDirectoryDisabled  = errors.New("directory is not configured")
)

// LockedError rejects a login while the identity is locked out.
type LockedError struct {
	RemainingMinutes int
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked, retry in %d minutes", e.RemainingMinutes)
}

// clock returns c, or time.Now when c is nil.
func clock(c func() time.Time) time.Time {
	if c == nil {
		return time.Now().UTC()
	}
	return c().UTC()
}
