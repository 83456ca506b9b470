package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/aussiebroadwan/roster/internal/roster/audit"
	"github.com/aussiebroadwan/roster/internal/roster/domain"
	"github.com/aussiebroadwan/roster/internal/roster/metrics"
	"github.com/aussiebroadwan/roster/internal/roster/store"
	"github.com/aussiebroadwan/roster/pkg/idx"
)

// DefaultAttemptRetention is how long attempt rows are kept by Cleanup.
const DefaultAttemptRetention = 30 * 24 * time.Hour

// AttemptTracker records authentication attempts and derives lockout from
// the recent failure log. Nothing is stored about the lock itself, so it
// expires on its own.
type AttemptTracker struct {
	Store   store.Store
	Policy  domain.LockoutPolicy
	Audit   audit.Sink
	Metrics *metrics.Metrics
	Clock   func() time.Time
}

func (t *AttemptTracker) policy() domain.LockoutPolicy {
	if t.Policy.MaxAttempts <= 0 {
		return domain.DefaultLockoutPolicy
	}
	return t.Policy
}

func (t *AttemptTracker) lookup(ctx context.Context, email string) (domain.Identity, error) {
	return t.Store.Identities().GetByEmail(ctx, strings.TrimSpace(email))
}

// RecordFailure appends a failed attempt for the identity owning email.
// Unknown emails are dropped.
func (t *AttemptTracker) RecordFailure(ctx context.Context, email, origin string) error {
	ident, err := t.lookup(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("record failure: %w", err)
	}

	at := clock(t.Clock)
	if err := t.Store.Attempts().Append(ctx, domain.AttemptRecord{
		ID:          idx.NewAt(at).String(),
		IdentityID:  &ident.ID,
		Email:       email,
		Origin:      originOrUnknown(origin),
		Success:     false,
		AttemptedAt: at,
	}); err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	t.Metrics.ObserveAttempt(false)
	return nil
}

// RecordSuccess appends a successful attempt and resets the failure count.
func (t *AttemptTracker) RecordSuccess(ctx context.Context, identityID, email, origin string) error {
	at := clock(t.Clock)
	err := t.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Attempts().Append(ctx, domain.AttemptRecord{
			ID:          idx.NewAt(at).String(),
			IdentityID:  &identityID,
			Email:       email,
			Origin:      originOrUnknown(origin),
			Success:     true,
			AttemptedAt: at,
		}); err != nil {
			return err
		}
		_, err := tx.Attempts().DeleteFailures(ctx, identityID)
		return err
	})
	if err != nil {
		return fmt.Errorf("record success: %w", err)
	}
	t.Metrics.ObserveAttempt(true)
	return nil
}

// CheckLocked counts failures in the reset window. Once the count reaches
// the maximum the identity stays locked until the lockout duration has
// passed since the newest failure.
func (t *AttemptTracker) CheckLocked(ctx context.Context, email string) (domain.LockoutDecision, error) {
	p := t.policy()

	ident, err := t.lookup(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return domain.LockoutDecision{AttemptsRemaining: p.MaxAttempts}, nil
	}
	if err != nil {
		return domain.LockoutDecision{}, fmt.Errorf("check locked: %w", err)
	}

	now := clock(t.Clock)
	count, latest, err := t.Store.Attempts().RecentFailures(ctx, ident.ID, now.Add(-p.ResetWindow))
	if err != nil {
		return domain.LockoutDecision{}, fmt.Errorf("check locked: %w", err)
	}
	return decideLockout(p, count, latest, now), nil
}

func decideLockout(p domain.LockoutPolicy, failures int, latest, now time.Time) domain.LockoutDecision {
	if failures >= p.MaxAttempts {
		until := latest.Add(p.Duration)
		if now.Before(until) {
			return domain.LockoutDecision{
				Locked:           true,
				RemainingMinutes: int(math.Ceil(until.Sub(now).Minutes())),
			}
		}
	}
	return domain.LockoutDecision{AttemptsRemaining: max(p.MaxAttempts-failures, 0)}
}

// Unlock clears the failure log for email regardless of the lockout state.
func (t *AttemptTracker) Unlock(ctx context.Context, actorID, email string) error {
	ident, err := t.lookup(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return ErrIdentityNotFound
	}
	if err != nil {
		return fmt.Errorf("unlock: %w", err)
	}

	n, err := t.Store.Attempts().DeleteFailures(ctx, ident.ID)
	if err != nil {
		return fmt.Errorf("unlock: %w", err)
	}
	t.audit().Record(ctx, actorID, domain.ActionIdentityUnlocked, domain.EntityIdentity, ident.ID, map[string]any{
		"cleared_failures": n,
	})
	return nil
}

// History returns the newest attempts for email.
func (t *AttemptTracker) History(ctx context.Context, email string, limit int) ([]domain.AttemptRecord, error) {
	ident, err := t.lookup(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t.HistoryByIdentity(ctx, ident.ID, limit)
}

func (t *AttemptTracker) HistoryByIdentity(ctx context.Context, identityID string, limit int) ([]domain.AttemptRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 20
	}
	return t.Store.Attempts().ListByIdentity(ctx, identityID, limit)
}

// Cleanup deletes attempts older than retention.
func (t *AttemptTracker) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		retention = DefaultAttemptRetention
	}
	return t.Store.Attempts().DeleteOlderThan(ctx, clock(t.Clock).Add(-retention))
}

func (t *AttemptTracker) audit() audit.Sink {
	if t.Audit == nil {
		return audit.Discard
	}
	return t.Audit
}

func originOrUnknown(origin string) string {
	if origin == "" {
		return "unknown"
	}
	return origin
}
