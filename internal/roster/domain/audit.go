package domain

import "time"

// SystemActor is the actor recorded for background jobs.
const SystemActor = "SYSTEM"

const (
	EntityIdentity  = "IDENTITY"
	EntityDirectory = "DIRECTORY"
)

// Audit actions.
const (
	ActionDirectorySync          = "DIRECTORY_SYNC"
	ActionIdentityDeactivated    = "IDENTITY_DEACTIVATED"
	ActionSubordinatesReassigned = "SUBORDINATES_REASSIGNED"
	ActionIdentityAnonymized     = "IDENTITY_ANONYMIZED"
	ActionIdentityArchived       = "IDENTITY_ARCHIVED"
	ActionIdentityDeleted        = "IDENTITY_DELETED"
	ActionIdentityUnlocked       = "IDENTITY_UNLOCKED"
	ActionIdentityBootstrapped   = "IDENTITY_BOOTSTRAPPED"
)

// AuditEvent is one row of the audit trail.
type AuditEvent struct {
	ID         string
	ActorID    string
	Action     string
	EntityType string
	EntityID   string
	Details    map[string]any
	CreatedAt  time.Time
}
