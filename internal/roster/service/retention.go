package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aussiebroadwan/roster/internal/roster/audit"
	"github.com/aussiebroadwan/roster/internal/roster/domain"
	"github.com/aussiebroadwan/roster/internal/roster/metrics"
	"github.com/aussiebroadwan/roster/internal/roster/store"
	"github.com/aussiebroadwan/roster/pkg/idx"
	"github.com/aussiebroadwan/roster/pkg/slogx"
	"golang.org/x/sync/errgroup"
)

// RetentionService moves deactivated identities through anonymization,
// archival and, when the policy allows it, deletion. Each step for one
// identity commits atomically.
type RetentionService struct {
	Store       store.Store
	Policy      domain.RetentionPolicy // used by OnDeactivation
	Concurrency int
	Audit       audit.Sink
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
	Clock       func() time.Time
}

// OnDeactivation deactivates the identity and cascades to its subordinates
// and open work items.
func (s *RetentionService) OnDeactivation(ctx context.Context, identityID, reason string) error {
	return s.deactivate(ctx, domain.SystemActor, identityID, reason)
}

// Deactivate is the manual path, recorded against actorID.
func (s *RetentionService) Deactivate(ctx context.Context, actorID, identityID string) error {
	return s.deactivate(ctx, actorID, identityID, domain.ReasonManual)
}

type cascadeResult struct {
	newlyDeactivated  bool
	supervisorID      *string
	subordinates      int
	itemsIncomplete   int
	itemsReassigned   int
	subordinateCycles int
}

func (s *RetentionService) deactivate(ctx context.Context, actorID, identityID, reason string) error {
	now := clock(s.Clock)
	var res cascadeResult

	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		ident, err := tx.Identities().GetByID(ctx, identityID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrIdentityNotFound
		}
		if err != nil {
			return err
		}

		// An identity that is already inactive keeps its original
		// deactivation time so retention thresholds do not restart.
		if ident.Active {
			ident.Deactivate(reason, now)
			if err := tx.Identities().Update(ctx, ident); err != nil {
				return fmt.Errorf("deactivate: %w", err)
			}
			res.newlyDeactivated = true
		}
		res.supervisorID = ident.SupervisorID

		if s.Policy.ReassignSubordinates {
			if err := reassignSubordinates(ctx, tx, ident, now, &res); err != nil {
				return err
			}
		}
		return cascadeWorkItems(ctx, tx, ident, now, &res)
	})
	if err != nil {
		return err
	}

	log := slogx.FromContext(ctx)
	if res.newlyDeactivated {
		s.Metrics.ObserveDeactivation()
		s.audit().Record(ctx, actorID, domain.ActionIdentityDeactivated, domain.EntityIdentity, identityID, map[string]any{
			"reason": reason,
		})
	}
	if res.subordinates > 0 || res.itemsReassigned > 0 {
		details := map[string]any{
			"count":                 res.subordinates,
			"work_items_reassigned": res.itemsReassigned,
			"reason":                reason,
		}
		if res.supervisorID != nil {
			details["new_supervisor_id"] = *res.supervisorID
		}
		s.audit().Record(ctx, domain.SystemActor, domain.ActionSubordinatesReassigned, domain.EntityIdentity, identityID, details)
	}
	log.Info("identity deactivated",
		"identity_id", identityID,
		"reason", reason,
		"subordinates", res.subordinates,
		"cycles_broken", res.subordinateCycles,
		"work_items_incomplete", res.itemsIncomplete,
		"work_items_reassigned", res.itemsReassigned,
	)
	return nil
}

// reassignSubordinates promotes the identity's direct reports one level up
// the chain. A promotion that would close a cycle clears the supervisor
// instead.
func reassignSubordinates(ctx context.Context, tx store.Tx, ident domain.Identity, now time.Time, res *cascadeResult) error {
	subs, err := tx.Identities().ListBySupervisor(ctx, ident.ID)
	if err != nil {
		return fmt.Errorf("list subordinates: %w", err)
	}

	for _, sub := range subs {
		target, reason := ident.SupervisorID, domain.ReasonManagerDeactivated
		err := checkSupervisor(ctx, tx.Identities(), sub.ID, target)
		if errors.Is(err, ErrSupervisorCycle) {
			slogx.FromContext(ctx).Warn("subordinate promotion would create a cycle, clearing supervisor",
				"identity_id", sub.ID, "supervisor_id", *target)
			target, reason = nil, domain.ReasonManagerCycle
			res.subordinateCycles++
		} else if err != nil {
			return err
		}

		if err := tx.Identities().SetSupervisor(ctx, sub.ID, target, reason, now); err != nil {
			return fmt.Errorf("reassign subordinate %s: %w", sub.ID, err)
		}
		res.subordinates++
	}
	return nil
}

// cascadeWorkItems closes the identity's own open items and hands the items
// it was reviewing to its supervisor, if it has one.
func cascadeWorkItems(ctx context.Context, tx store.Tx, ident domain.Identity, now time.Time, res *cascadeResult) error {
	owned, err := tx.WorkItems().ListOpenBySubject(ctx, ident.ID)
	if err != nil {
		return fmt.Errorf("list work items: %w", err)
	}
	for _, w := range owned {
		if err := tx.WorkItems().MarkIncomplete(ctx, w.ID, domain.IncompleteSubjectDeactivated, now); err != nil {
			return fmt.Errorf("mark work item %s incomplete: %w", w.ID, err)
		}
		res.itemsIncomplete++
	}

	replacement := ident.SupervisorID
	if replacement == nil {
		return nil
	}
	reviewing, err := tx.WorkItems().ListOpenBySecondary(ctx, ident.ID)
	if err != nil {
		return fmt.Errorf("list reviewed work items: %w", err)
	}
	for _, w := range reviewing {
		if w.SubjectID == *replacement {
			continue
		}
		if err := tx.WorkItems().ReassignSecondary(ctx, w.ID, replacement, now); err != nil {
			return fmt.Errorf("reassign work item %s: %w", w.ID, err)
		}
		res.itemsReassigned++
	}
	return nil
}

// Advance runs one lifecycle pass under policy. Identities are processed
// independently; failures are joined into the returned error and do not
// stop the pass.
func (s *RetentionService) Advance(ctx context.Context, policy domain.RetentionPolicy) (domain.AdvanceReport, error) {
	if err := policy.Validate(); err != nil {
		return domain.AdvanceReport{}, err
	}

	ctx = slogx.WithRun(slogx.WithContext(ctx, s.logger(ctx)), "retention", idx.New().String())
	now := clock(s.Clock)
	p := &pass{svc: s, now: now}

	if policy.AnonymizeAfter > 0 {
		pending, err := s.Store.Identities().ListPendingAnonymization(ctx, now.Add(-policy.AnonymizeAfter))
		if err != nil {
			return p.report, fmt.Errorf("list pending anonymization: %w", err)
		}
		p.each(ctx, pending, p.anonymize)
	}

	if policy.ArchiveAfter > 0 {
		pending, err := s.Store.Identities().ListPendingArchival(ctx, policy.ArchiveFrom, now.Add(-policy.ArchiveAfter))
		if err != nil {
			return p.report, errors.Join(append(p.errs, fmt.Errorf("list pending archival: %w", err))...)
		}
		p.each(ctx, pending, p.archive)
	}

	if policy.DeleteAfter > 0 {
		pending, err := s.Store.Identities().ListPendingDeletion(ctx, now.Add(-policy.DeleteAfter))
		if err != nil {
			return p.report, errors.Join(append(p.errs, fmt.Errorf("list pending deletion: %w", err))...)
		}
		p.each(ctx, pending, p.delete)
	}

	s.Metrics.ObserveAdvance(p.report)
	slogx.FromContext(ctx).Info("retention pass completed",
		"anonymized", len(p.report.Anonymized),
		"archived", len(p.report.Archived),
		"deleted", len(p.report.Deleted),
		"skipped", len(p.report.Skipped),
		"failed", len(p.errs),
	)
	return p.report, errors.Join(p.errs...)
}

// Stats counts identities per lifecycle flag.
func (s *RetentionService) Stats(ctx context.Context) (domain.LifecycleStats, error) {
	return s.Store.Identities().Stats(ctx)
}

// pass collects the outcome of one Advance call across workers.
type pass struct {
	svc *RetentionService
	now time.Time

	mu     sync.Mutex
	report domain.AdvanceReport
	errs   []error
}

type step func(ctx context.Context, ident domain.Identity) error

func (p *pass) each(ctx context.Context, idents []domain.Identity, fn step) {
	var g errgroup.Group
	g.SetLimit(p.svc.concurrency())

	for _, ident := range idents {
		g.Go(func() error {
			err := ctx.Err()
			if err == nil {
				err = fn(ctx, ident)
			}
			if err != nil {
				p.fail(ctx, ident.ID, err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (p *pass) fail(ctx context.Context, id string, err error) {
	slogx.FromContext(ctx).Error("retention step failed", "identity_id", id, "error", err)
	p.mu.Lock()
	p.errs = append(p.errs, fmt.Errorf("identity %s: %w", id, err))
	p.mu.Unlock()
}

func (p *pass) record(list *[]string, id string) {
	p.mu.Lock()
	*list = append(*list, id)
	p.mu.Unlock()
}

// anonymize overwrites PII with placeholders derived from the id so unique
// columns stay unique.
func (p *pass) anonymize(ctx context.Context, ident domain.Identity) error {
	done := false
	err := p.svc.Store.WithTx(ctx, func(tx store.Tx) error {
		cur, err := tx.Identities().GetByID(ctx, ident.ID)
		if err != nil {
			return err
		}
		if cur.Active || cur.Anonymized || cur.AnonymizationExempt {
			return nil
		}

		now := p.now
		cur.Email = fmt.Sprintf("deleted-%s@anonymous.local", cur.ID)
		cur.GivenName = "Deleted"
		cur.FamilyName = "User"
		cur.EmployeeNumber = "DELETED-" + idx.ID(cur.ID).Short(8)
		cur.Department = nil
		cur.Position = nil
		cur.ExternalID = nil
		cur.PasswordHash = ""
		cur.Anonymized = true
		cur.AnonymizedAt = &now
		cur.UpdatedAt = now
		if err := tx.Identities().Update(ctx, cur); err != nil {
			return err
		}
		done = true
		return nil
	})
	if err != nil || !done {
		return err
	}

	p.record(&p.report.Anonymized, ident.ID)
	p.svc.audit().Record(ctx, domain.SystemActor, domain.ActionIdentityAnonymized, domain.EntityIdentity, ident.ID, map[string]any{
		"deactivated_at": formatTime(ident.DeactivatedAt),
	})
	return nil
}

// identitySnapshot is the archived JSON form of an identity. The password
// hash is left out.
type identitySnapshot struct {
	ID                      string     `json:"id"`
	ExternalID              *string    `json:"external_id"`
	Source                  string     `json:"source"`
	Email                   string     `json:"email"`
	GivenName               string     `json:"given_name"`
	FamilyName              string     `json:"family_name"`
	EmployeeNumber          string     `json:"employee_number"`
	Department              *string    `json:"department"`
	Position                *string    `json:"position"`
	Role                    string     `json:"role"`
	SupervisorID            *string    `json:"supervisor_id"`
	Active                  bool       `json:"active"`
	Anonymized              bool       `json:"anonymized"`
	AnonymizationExempt     bool       `json:"anonymization_exempt"`
	DeactivatedAt           *time.Time `json:"deactivated_at"`
	DeactivationReason      string     `json:"deactivation_reason"`
	AnonymizedAt            *time.Time `json:"anonymized_at"`
	SupervisorChangedAt     *time.Time `json:"supervisor_changed_at"`
	SupervisorChangedReason string     `json:"supervisor_changed_reason"`
	CreatedAt               time.Time  `json:"created_at"`
	UpdatedAt               time.Time  `json:"updated_at"`
}

func snapshotOf(i domain.Identity) identitySnapshot {
	return identitySnapshot{
		ID:                      i.ID,
		ExternalID:              i.ExternalID,
		Source:                  string(i.Source),
		Email:                   i.Email,
		GivenName:               i.GivenName,
		FamilyName:              i.FamilyName,
		EmployeeNumber:          i.EmployeeNumber,
		Department:              i.Department,
		Position:                i.Position,
		Role:                    string(i.Role),
		SupervisorID:            i.SupervisorID,
		Active:                  i.Active,
		Anonymized:              i.Anonymized,
		AnonymizationExempt:     i.AnonymizationExempt,
		DeactivatedAt:           i.DeactivatedAt,
		DeactivationReason:      i.DeactivationReason,
		AnonymizedAt:            i.AnonymizedAt,
		SupervisorChangedAt:     i.SupervisorChangedAt,
		SupervisorChangedReason: i.SupervisorChangedReason,
		CreatedAt:               i.CreatedAt,
		UpdatedAt:               i.UpdatedAt,
	}
}

// archive writes the snapshot and flags the identity in one transaction.
func (p *pass) archive(ctx context.Context, ident domain.Identity) error {
	var workItems int
	done := false
	err := p.svc.Store.WithTx(ctx, func(tx store.Tx) error {
		cur, err := tx.Identities().GetByID(ctx, ident.ID)
		if err != nil {
			return err
		}
		if cur.Active || cur.Archived || !(cur.Anonymized || cur.AnonymizationExempt) {
			return nil
		}

		workItems, err = tx.WorkItems().CountReferencing(ctx, cur.ID)
		if err != nil {
			return err
		}
		blob, err := json.Marshal(snapshotOf(cur))
		if err != nil {
			return err
		}
		if err := tx.Archives().Create(ctx, domain.ArchiveSnapshot{
			ID:            idx.NewAt(p.now).String(),
			OriginalID:    cur.ID,
			Snapshot:      blob,
			WorkItemCount: workItems,
			ArchivedAt:    p.now,
		}); err != nil {
			return err
		}

		now := p.now
		cur.Archived = true
		cur.ArchivedAt = &now
		cur.UpdatedAt = now
		if err := tx.Identities().Update(ctx, cur); err != nil {
			return err
		}
		done = true
		return nil
	})
	if err != nil || !done {
		return err
	}

	p.record(&p.report.Archived, ident.ID)
	p.svc.audit().Record(ctx, domain.SystemActor, domain.ActionIdentityArchived, domain.EntityIdentity, ident.ID, map[string]any{
		"work_item_count": workItems,
	})
	return nil
}

// delete removes an archived identity with its attempt and audit history.
// Identities still referenced by work items are skipped, never forced.
func (p *pass) delete(ctx context.Context, ident domain.Identity) error {
	log := slogx.FromContext(ctx)
	skipped, done := false, false

	err := p.svc.Store.WithTx(ctx, func(tx store.Tx) error {
		// The listing was read outside this transaction; a reactivation or
		// an earlier pass may have changed the row since.
		cur, err := tx.Identities().GetByID(ctx, ident.ID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if cur.Active || !cur.Archived {
			return nil
		}

		refs, err := tx.WorkItems().CountReferencing(ctx, cur.ID)
		if err != nil {
			return err
		}
		if refs > 0 {
			log.Warn("refusing to delete identity referenced by work items",
				"identity_id", cur.ID, "work_items", refs)
			skipped = true
			return nil
		}

		// Written inside the transaction so the event lands before the
		// row is gone and only if the delete commits.
		(&audit.Recorder{Logs: tx.AuditLogs(), Clock: func() time.Time { return p.now }}).Record(ctx,
			domain.SystemActor, domain.ActionIdentityDeleted, domain.EntityIdentity, cur.ID, map[string]any{
				"archived_at": formatTime(cur.ArchivedAt),
			})

		if _, err := tx.Attempts().DeleteByIdentity(ctx, cur.ID); err != nil {
			return err
		}
		if _, err := tx.AuditLogs().DeleteByActor(ctx, cur.ID); err != nil {
			return err
		}
		if err := tx.Identities().Delete(ctx, cur.ID); err != nil {
			return err
		}
		done = true
		return nil
	})
	if err != nil {
		return err
	}
	if skipped {
		p.record(&p.report.Skipped, ident.ID)
		return nil
	}
	if !done {
		return nil
	}

	p.record(&p.report.Deleted, ident.ID)
	return nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func (s *RetentionService) concurrency() int {
	if s.Concurrency <= 0 {
		return 4
	}
	return s.Concurrency
}

func (s *RetentionService) logger(ctx context.Context) *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slogx.FromContext(ctx)
}

func (s *RetentionService) audit() audit.Sink {
	if s.Audit == nil {
		return audit.Discard
	}
	return s.Audit
}
