package domain

import (
	"time"
)

// Role is the closed set of roles an identity can hold.
type Role string

const (
	RoleEmployee   Role = "EMPLOYEE"
	RoleSupervisor Role = "SUPERVISOR"
	RoleHR         Role = "HR"
	RoleAdmin      Role = "ADMIN"
)

func (r Role) Valid() bool {
	switch r {
	case RoleEmployee, RoleSupervisor, RoleHR, RoleAdmin:
		return true
	}
	return false
}

// Source records where an identity was provisioned from.
type Source string

const (
	SourceDirectory Source = "directory"
	SourceLocal     Source = "local"
)

// Deactivation and supervisor-change reasons.
const (
	ReasonDirectoryDeleted   = "DIRECTORY_ACCOUNT_DELETED"
	ReasonDirectoryDisabled  = "DIRECTORY_ACCOUNT_DISABLED"
	ReasonManual             = "MANUAL_DEACTIVATION"
	ReasonManagerDeactivated = "MANAGER_DEACTIVATED"
	ReasonManagerCycle       = "MANAGER_CYCLE"
	ReasonDirectoryManager   = "DIRECTORY_MANAGER"
)

// Identity is the canonical local employee record.
type Identity struct {
	ID             string
	ExternalID     *string // nil for local identities and after anonymization
	Source         Source
	Email          string
	GivenName      string
	FamilyName     string
	EmployeeNumber string
	Department     *string
	Position       *string
	Role           Role
	SupervisorID   *string
	PasswordHash   string // argon2id, empty for directory identities

	Active              bool
	Anonymized          bool
	AnonymizationExempt bool
	Archived            bool

	DeactivatedAt      *time.Time
	DeactivationReason string
	AnonymizedAt       *time.Time
	ArchivedAt         *time.Time

	SupervisorChangedAt     *time.Time
	SupervisorChangedReason string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// LifecycleState is the position of an identity in the retention state
// machine.
type LifecycleState string

const (
	StateActive      LifecycleState = "ACTIVE"
	StateDeactivated LifecycleState = "DEACTIVATED"
	StateAnonymized  LifecycleState = "ANONYMIZED"
	StateArchived    LifecycleState = "ARCHIVED"
)

// State derives the lifecycle state from the flags.
func (i *Identity) State() LifecycleState {
	switch {
	case i.Archived:
		return StateArchived
	case i.Anonymized:
		return StateAnonymized
	case !i.Active:
		return StateDeactivated
	default:
		return StateActive
	}
}

// DisplayName is "Given Family", falling back to the email.
func (i *Identity) DisplayName() string {
	switch {
	case i.GivenName != "" && i.FamilyName != "":
		return i.GivenName + " " + i.FamilyName
	case i.GivenName != "":
		return i.GivenName
	case i.FamilyName != "":
		return i.FamilyName
	}
	return i.Email
}

// Deactivate clears the active flag and stamps the time and reason.
func (i *Identity) Deactivate(reason string, at time.Time) {
	i.Active = false
	i.DeactivatedAt = &at
	i.DeactivationReason = reason
	i.UpdatedAt = at
}

// Reactivate restores an identity that the directory reports as enabled
// again. Anonymized identities stay inactive.
func (i *Identity) Reactivate(at time.Time) bool {
	if i.Active || i.Anonymized {
		return false
	}
	i.Active = true
	i.DeactivatedAt = nil
	i.DeactivationReason = ""
	i.UpdatedAt = at
	return true
}

// SetSupervisor points the identity at a new supervisor (nil to clear).
func (i *Identity) SetSupervisor(supervisorID *string, reason string, at time.Time) {
	i.SupervisorID = supervisorID
	i.SupervisorChangedAt = &at
	i.SupervisorChangedReason = reason
	i.UpdatedAt = at
}
