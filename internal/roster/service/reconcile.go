package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aussiebroadwan/roster/internal/roster/audit"
	"github.com/aussiebroadwan/roster/internal/roster/directory"
	"github.com/aussiebroadwan/roster/internal/roster/domain"
	"github.com/aussiebroadwan/roster/internal/roster/metrics"
	"github.com/aussiebroadwan/roster/internal/roster/runlock"
	"github.com/aussiebroadwan/roster/internal/roster/store"
	"github.com/aussiebroadwan/roster/pkg/idx"
	"github.com/aussiebroadwan/roster/pkg/slogx"
)

// DeactivationListener is told about every identity the sync deactivates.
// The listener performs the deactivation itself together with its
// cascade.
type DeactivationListener interface {
	OnDeactivation(ctx context.Context, identityID, reason string) error
}

// ReconcileService converges directory-sourced identities onto the
// directory's current user set.
type ReconcileService struct {
	Store      store.Store
	Directory  directory.Directory
	SourceID   string // run lock key, typically the directory URL
	BaseDN     string
	Filter     string
	Attributes []string
	RoleRules  []RoleRule
	Timeout    time.Duration

	Lock      runlock.Locker
	Lifecycle DeactivationListener
	Audit     audit.Sink
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	Clock     func() time.Time

	lastRun atomic.Int64
}

// syncRun is the state of one Synchronize call. Records are keyed by
// external id and carry the local identity id once upserted.
type syncRun struct {
	now     time.Time
	result  domain.SyncResult
	known   map[string]domain.Identity // directory identities before the run, by external id
	present map[string]struct{}        // every external id the directory returned, valid or not
	seen    map[string]string          // external id -> identity id, for records upserted this run
	records []domain.DirectoryRecord
}

// Synchronize runs one reconciliation pass. A connection or search failure
// is returned before anything is written. Per-record problems end up in
// SyncResult.Errors.
func (s *ReconcileService) Synchronize(ctx context.Context) (domain.SyncResult, error) {
	if s.Directory == nil {
		return domain.SyncResult{}, ErrDirectoryDisabled
	}

	if s.Lock != nil {
		release, err := s.Lock.Acquire(ctx, "directory:"+s.SourceID)
		if errors.Is(err, runlock.ErrHeld) {
			return domain.SyncResult{}, ErrSyncInProgress
		}
		if err != nil {
			return domain.SyncResult{}, err
		}
		defer release()
	}

	start := time.Now()
	runID := idx.New().String()
	ctx = slogx.WithRun(slogx.WithContext(ctx, s.logger()), "directory_sync", runID)
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	res, err := s.synchronize(ctx)
	s.Metrics.ObserveSync(res, start, err)

	log := slogx.FromContext(ctx)
	if err != nil {
		log.Error("directory sync failed", "error", err)
		return res, err
	}

	s.lastRun.Store(clock(s.Clock).Unix())
	log.Info("directory sync completed",
		"created", res.Created,
		"updated", res.Updated,
		"deactivated", res.Deactivated,
		"errors", len(res.Errors),
		"duration", time.Since(start),
	)
	s.audit().Record(ctx, domain.SystemActor, domain.ActionDirectorySync, domain.EntityDirectory, s.SourceID, map[string]any{
		"run_id":      runID,
		"created":     res.Created,
		"updated":     res.Updated,
		"deactivated": res.Deactivated,
		"errors":      len(res.Errors),
	})
	return res, nil
}

func (s *ReconcileService) synchronize(ctx context.Context) (domain.SyncResult, error) {
	if err := s.Directory.Connect(ctx); err != nil {
		return domain.SyncResult{}, fmt.Errorf("connect: %w", err)
	}
	defer s.Directory.Disconnect()

	records, err := s.Directory.SearchAll(ctx, s.BaseDN, s.filter(), s.attributes())
	if err != nil {
		return domain.SyncResult{}, fmt.Errorf("search: %w", err)
	}

	existing, err := s.Store.Identities().ListBySource(ctx, domain.SourceDirectory)
	if err != nil {
		return domain.SyncResult{}, fmt.Errorf("load identities: %w", err)
	}

	run := &syncRun{
		now:     clock(s.Clock),
		result:  domain.SyncResult{Errors: []string{}},
		known:   make(map[string]domain.Identity, len(existing)),
		present: make(map[string]struct{}, len(records)),
		seen:    make(map[string]string, len(records)),
		records: records,
	}
	for _, ident := range existing {
		if ident.ExternalID != nil {
			run.known[*ident.ExternalID] = ident
		}
	}

	log := slogx.FromContext(ctx)
	log.Info("directory sync started", "records", len(records), "known", len(run.known))

	for _, rec := range records {
		// Stopping here leaves the present set incomplete, so the
		// deactivation pass must not run.
		if err := ctx.Err(); err != nil {
			return run.result, fmt.Errorf("sync aborted: %w", err)
		}
		// A record that fails below is still in the directory and must not
		// be treated as deleted.
		if rec.ExternalID != "" {
			run.present[rec.ExternalID] = struct{}{}
		}
		if err := s.upsert(ctx, run, rec); err != nil {
			log.Warn("directory record rejected", "record", rec.Label(), "error", err)
			run.result.Errors = append(run.result.Errors, err.Error())
		}
	}

	s.deactivateMissing(ctx, run)
	s.resolveManagers(ctx, run)

	return run.result, ctx.Err()
}

// upsert applies one directory record. The returned error is already
// formatted for SyncResult.Errors.
func (s *ReconcileService) upsert(ctx context.Context, run *syncRun, rec domain.DirectoryRecord) error {
	if rec.ExternalID == "" || rec.Email == "" {
		return fmt.Errorf("skipping user %s: missing email or username", rec.Label())
	}

	ident, exists := run.known[rec.ExternalID]
	if !exists {
		ident = domain.Identity{
			ID:        idx.NewAt(run.now).String(),
			Source:    domain.SourceDirectory,
			Active:    true,
			CreatedAt: run.now,
		}
	}
	applyRecord(&ident, rec, DeriveRole(s.roleRules(), rec.Groups), run.now)

	// Disabled accounts go through the lifecycle cascade once the profile
	// is stored, so the profile write keeps the current active flag.
	disable := !rec.Enabled && ident.Active
	if rec.Enabled && !ident.Active {
		ident.Reactivate(run.now)
	}
	if disable && !exists {
		ident.Deactivate(domain.ReasonDirectoryDisabled, run.now)
		disable = false
	}

	var err error
	if exists {
		err = s.Store.Identities().Update(ctx, ident)
	} else {
		err = s.Store.Identities().Create(ctx, ident)
	}
	if err != nil {
		return fmt.Errorf("processing user %s: %w", rec.Label(), err)
	}

	if exists {
		run.result.Updated++
	} else {
		run.result.Created++
	}
	run.known[rec.ExternalID] = ident
	run.seen[rec.ExternalID] = ident.ID

	if disable {
		if err := s.deactivate(ctx, ident, domain.ReasonDirectoryDisabled, run.now); err != nil {
			return fmt.Errorf("processing user %s: %w", rec.Label(), err)
		}
	}
	return nil
}

// applyRecord copies directory-owned fields onto ident.
func applyRecord(ident *domain.Identity, rec domain.DirectoryRecord, role domain.Role, now time.Time) {
	given, family := splitDisplayName(rec.DisplayName)
	if rec.GivenName != "" {
		given = rec.GivenName
	}
	if rec.FamilyName != "" {
		family = rec.FamilyName
	}

	ext := rec.ExternalID
	ident.ExternalID = &ext
	ident.Email = strings.ToLower(rec.Email)
	ident.GivenName = given
	ident.FamilyName = family
	ident.EmployeeNumber = rec.EmployeeNumber
	if ident.EmployeeNumber == "" {
		ident.EmployeeNumber = rec.ExternalID
	}
	ident.Department = optional(rec.Department)
	ident.Position = optional(rec.Position)
	ident.Role = role
	ident.UpdatedAt = now
}

// splitDisplayName falls back to "Unknown User" when the directory carries
// no usable name.
func splitDisplayName(display string) (given, family string) {
	fields := strings.Fields(display)
	given, family = "Unknown", "User"
	if len(fields) > 0 {
		given = fields[0]
	}
	if len(fields) > 1 {
		family = strings.Join(fields[1:], " ")
	}
	return given, family
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

// deactivateMissing deactivates active identities the directory no longer
// returns. Records that were returned but failed to apply are left alone.
func (s *ReconcileService) deactivateMissing(ctx context.Context, run *syncRun) {
	for ext, ident := range run.known {
		if _, ok := run.present[ext]; ok || !ident.Active {
			continue
		}
		if err := s.deactivate(ctx, ident, domain.ReasonDirectoryDeleted, run.now); err != nil {
			slogx.FromContext(ctx).Warn("failed to deactivate identity", "identity_id", ident.ID, "error", err)
			run.result.Errors = append(run.result.Errors,
				fmt.Sprintf("deactivating user %s: %v", ident.DisplayName(), err))
			continue
		}
		run.result.Deactivated++
	}
}

func (s *ReconcileService) deactivate(ctx context.Context, ident domain.Identity, reason string, now time.Time) error {
	if s.Lifecycle != nil {
		return s.Lifecycle.OnDeactivation(ctx, ident.ID, reason)
	}

	cur, err := s.Store.Identities().GetByID(ctx, ident.ID)
	if err != nil {
		return err
	}
	cur.Deactivate(reason, now)
	return s.Store.Identities().Update(ctx, cur)
}

// resolveManagers points each upserted identity at its manager when the
// manager is part of the same batch. Misses are left for a later run.
func (s *ReconcileService) resolveManagers(ctx context.Context, run *syncRun) {
	log := slogx.FromContext(ctx)

	// A manager DN names its CN, which is matched against display name or
	// account name. The first record carrying a key owns it. Disabled
	// accounts cannot be managers.
	byKey := make(map[string]string, 2*len(run.seen))
	for _, rec := range run.records {
		id, ok := run.seen[rec.ExternalID]
		if !ok || !rec.Enabled {
			continue
		}
		for _, key := range []string{rec.DisplayName, rec.ExternalID} {
			if _, taken := byKey[key]; key != "" && !taken {
				byKey[key] = id
			}
		}
	}

	for _, rec := range run.records {
		if ctx.Err() != nil {
			return
		}
		id, ok := run.seen[rec.ExternalID]
		if !ok || rec.ManagerRef == "" {
			continue
		}
		managerID, ok := byKey[directory.ManagerKey(rec.ManagerRef)]
		if !ok || managerID == id {
			continue
		}

		ident, err := s.Store.Identities().GetByID(ctx, id)
		if err != nil {
			log.Warn("failed to load identity for manager resolution", "identity_id", id, "error", err)
			continue
		}
		if ident.SupervisorID != nil && *ident.SupervisorID == managerID {
			continue
		}

		err = checkSupervisor(ctx, s.Store.Identities(), id, &managerID)
		if errors.Is(err, ErrSupervisorCycle) {
			log.Warn("skipping manager that would create a cycle", "identity_id", id, "manager_id", managerID)
			continue
		}
		if err == nil {
			err = s.Store.Identities().SetSupervisor(ctx, id, &managerID, domain.ReasonDirectoryManager, run.now)
		}
		if err != nil {
			log.Warn("failed to set supervisor", "identity_id", id, "manager_id", managerID, "error", err)
		}
	}
}

// Status reports how many identities the directory owns.
func (s *ReconcileService) Status(ctx context.Context) (domain.DirectoryStatus, error) {
	total, active, err := s.Store.Identities().CountBySource(ctx, domain.SourceDirectory)
	if err != nil {
		return domain.DirectoryStatus{}, err
	}
	return domain.DirectoryStatus{
		Configured:  s.Directory != nil,
		Total:       total,
		Active:      active,
		LastRunUnix: s.lastRun.Load(),
	}, nil
}

func (s *ReconcileService) filter() string {
	if s.Filter == "" {
		return directory.DefaultFilter
	}
	return s.Filter
}

func (s *ReconcileService) attributes() []string {
	if len(s.Attributes) == 0 {
		return directory.DefaultAttributes
	}
	return s.Attributes
}

func (s *ReconcileService) roleRules() []RoleRule {
	if s.RoleRules == nil {
		return DefaultRoleRules
	}
	return s.RoleRules
}

func (s *ReconcileService) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *ReconcileService) audit() audit.Sink {
	if s.Audit == nil {
		return audit.Discard
	}
	return s.Audit
}
