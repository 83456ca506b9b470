package store

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/roster/internal/roster/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the root data access interface. Sub-repositories are methods so
// a Tx-scoped Store hands out repositories bound to the same transaction.
type Store interface {
	Identities() Identities
	Attempts() Attempts
	WorkItems() WorkItems
	Archives() Archives
	AuditLogs() AuditLogs

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx runs fn in a transaction, committing when fn returns nil and
	// rolling back otherwise.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	Close() error
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Identities interface {
	GetByID(ctx context.Context, id string) (domain.Identity, error)

	// GetByEmail matches case-insensitively.
	GetByEmail(ctx context.Context, email string) (domain.Identity, error)

	GetByExternalID(ctx context.Context, source domain.Source, externalID string) (domain.Identity, error)

	// Create inserts a new identity. Duplicate email or (source, external id)
	// yields ErrAlreadyExists.
	Create(ctx context.Context, i domain.Identity) error

	// Update overwrites every mutable column of the identity.
	Update(ctx context.Context, i domain.Identity) error

	// SetSupervisor changes only the supervisor columns.
	SetSupervisor(ctx context.Context, id string, supervisorID *string, reason string, at time.Time) error

	ListBySource(ctx context.Context, source domain.Source) ([]domain.Identity, error)
	ListBySupervisor(ctx context.Context, supervisorID string) ([]domain.Identity, error)

	// ListPendingAnonymization returns inactive, non-anonymized, non-exempt
	// identities deactivated at or before cutoff.
	ListPendingAnonymization(ctx context.Context, cutoff time.Time) ([]domain.Identity, error)

	// ListPendingArchival returns inactive, non-archived identities that are
	// anonymized or exempt and whose origin timestamp is at or before cutoff.
	ListPendingArchival(ctx context.Context, from domain.ArchiveFrom, cutoff time.Time) ([]domain.Identity, error)

	// ListPendingDeletion returns archived identities deactivated at or
	// before cutoff.
	ListPendingDeletion(ctx context.Context, cutoff time.Time) ([]domain.Identity, error)

	Delete(ctx context.Context, id string) error

	Stats(ctx context.Context) (domain.LifecycleStats, error)
	CountBySource(ctx context.Context, source domain.Source) (total, active int, err error)
}

type Attempts interface {
	Append(ctx context.Context, a domain.AttemptRecord) error

	// RecentFailures counts failures for the identity at or after since and
	// returns the newest one's time (zero when count is 0).
	RecentFailures(ctx context.Context, identityID string, since time.Time) (count int, latest time.Time, err error)

	// DeleteFailures purges failure rows for the identity.
	DeleteFailures(ctx context.Context, identityID string) (int64, error)

	DeleteByIdentity(ctx context.Context, identityID string) (int64, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	// ListByIdentity returns the newest attempts first.
	ListByIdentity(ctx context.Context, identityID string, limit int) ([]domain.AttemptRecord, error)
}

type WorkItems interface {
	Create(ctx context.Context, w domain.WorkItem) error
	GetByID(ctx context.Context, id string) (domain.WorkItem, error)

	// ListOpenBySubject and ListOpenBySecondary return items that are not in
	// a terminal phase and not already marked incomplete.
	ListOpenBySubject(ctx context.Context, identityID string) ([]domain.WorkItem, error)
	ListOpenBySecondary(ctx context.Context, identityID string) ([]domain.WorkItem, error)

	MarkIncomplete(ctx context.Context, id, reason string, at time.Time) error
	ReassignSecondary(ctx context.Context, id string, secondaryID *string, at time.Time) error

	// CountReferencing counts every item naming the identity as subject or
	// secondary party, in any phase.
	CountReferencing(ctx context.Context, identityID string) (int, error)
}

type Archives interface {
	// Create writes the snapshot once. A second snapshot for the same
	// original id is ignored.
	Create(ctx context.Context, a domain.ArchiveSnapshot) error
	GetByOriginalID(ctx context.Context, originalID string) (domain.ArchiveSnapshot, error)
}

type AuditLogs interface {
	Append(ctx context.Context, e domain.AuditEvent) error

	// ListByEntity returns the newest events first.
	ListByEntity(ctx context.Context, entityType, entityID string, limit int) ([]domain.AuditEvent, error)

	// DeleteByActor removes events the identity performed.
	DeleteByActor(ctx context.Context, actorID string) (int64, error)
}
