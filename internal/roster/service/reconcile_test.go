package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aussiebroadwan/roster/internal/roster/audit"
	"github.com/aussiebroadwan/roster/internal/roster/directory"
	mock_directory "github.com/aussiebroadwan/roster/internal/roster/directory/mock"
	"github.com/aussiebroadwan/roster/internal/roster/domain"
	"github.com/aussiebroadwan/roster/internal/roster/runlock"
	"github.com/aussiebroadwan/roster/internal/roster/store/drivers/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const testBaseDN = "DC=example,DC=com"

func record(ext, email, display string) domain.DirectoryRecord {
	return domain.DirectoryRecord{
		ExternalID:  ext,
		DN:          fmt.Sprintf("CN=%s,OU=Staff,%s", display, testBaseDN),
		Email:       email,
		DisplayName: display,
		Enabled:     true,
	}
}

func managedBy(r domain.DirectoryRecord, managerCN string) domain.DirectoryRecord {
	r.ManagerRef = fmt.Sprintf("CN=%s,OU=Staff,%s", managerCN, testBaseDN)
	return r
}

type reconcileFixture struct {
	store *sqlite.Store
	dir   *mock_directory.MockDirectory
	clk   *fakeClock
	svc   *ReconcileService
}

func newReconcileFixture(t *testing.T) *reconcileFixture {
	t.Helper()

	s := newTestStore(t)
	clk := newClock()
	dir := mock_directory.NewMockDirectory(gomock.NewController(t))
	rec := &audit.Recorder{Logs: s.AuditLogs(), Clock: clk.Now}

	return &reconcileFixture{
		store: s,
		dir:   dir,
		clk:   clk,
		svc: &ReconcileService{
			Store:     s,
			Directory: dir,
			SourceID:  "ldaps://dc.example.com",
			BaseDN:    testBaseDN,
			Audit:     rec,
			Clock:     clk.Now,
			Lifecycle: &RetentionService{
				Store:  s,
				Policy: domain.DefaultRetentionPolicy,
				Audit:  rec,
				Clock:  clk.Now,
			},
		},
	}
}

// expectRun scripts one healthy connect/search/disconnect cycle.
func (f *reconcileFixture) expectRun(records ...domain.DirectoryRecord) {
	gomock.InOrder(
		f.dir.EXPECT().Connect(gomock.Any()).Return(nil),
		f.dir.EXPECT().SearchAll(gomock.Any(), testBaseDN, directory.DefaultFilter, directory.DefaultAttributes).Return(records, nil),
		f.dir.EXPECT().Disconnect(),
	)
}

func (f *reconcileFixture) byExternalID(t *testing.T, ext string) domain.Identity {
	t.Helper()
	i, err := f.store.Identities().GetByExternalID(context.Background(), domain.SourceDirectory, ext)
	require.NoError(t, err)
	return i
}

func TestSynchronizeIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newReconcileFixture(t)

	batch := []domain.DirectoryRecord{
		record("alice", "Alice@Example.com", "Alice Able"),
		record("bob", "bob@example.com", "Bob Baker"),
		record("carol", "carol@example.com", "Carol"),
	}

	f.expectRun(batch...)
	res, err := f.svc.Synchronize(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.SyncResult{Created: 3, Errors: []string{}}, res)

	f.clk.Advance(time.Hour)
	f.expectRun(batch...)
	res, err = f.svc.Synchronize(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.SyncResult{Updated: 3, Errors: []string{}}, res)

	alice := f.byExternalID(t, "alice")
	require.Equal(t, "alice@example.com", alice.Email)
	require.Equal(t, "Alice", alice.GivenName)
	require.Equal(t, "Able", alice.FamilyName)
	require.Equal(t, "alice", alice.EmployeeNumber)
	require.Equal(t, domain.RoleEmployee, alice.Role)
	require.Empty(t, alice.PasswordHash)
	require.True(t, alice.Active)

	carol := f.byExternalID(t, "carol")
	require.Equal(t, "Carol", carol.GivenName)
	require.Equal(t, "User", carol.FamilyName)

	status, err := f.svc.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, status.Total)
	require.Equal(t, 3, status.Active)
	require.True(t, status.Configured)
	require.Equal(t, f.clk.Now().Unix(), status.LastRunUnix)

	events, err := f.store.AuditLogs().ListByEntity(ctx, domain.EntityDirectory, f.svc.SourceID, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, domain.ActionDirectorySync, events[0].Action)
}

func TestSynchronizePropagatesDeletion(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newReconcileFixture(t)

	alice := record("alice", "alice@example.com", "Alice Able")
	bob := record("bob", "bob@example.com", "Bob Baker")
	bob.Department = "Finance"

	f.expectRun(alice, bob)
	_, err := f.svc.Synchronize(ctx)
	require.NoError(t, err)
	before := f.byExternalID(t, "bob")

	f.clk.Advance(time.Hour)
	f.expectRun(alice)
	res, err := f.svc.Synchronize(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Updated)
	require.Equal(t, 1, res.Deactivated)
	require.Empty(t, res.Errors)

	after := f.byExternalID(t, "bob")
	require.False(t, after.Active)
	require.Equal(t, domain.ReasonDirectoryDeleted, after.DeactivationReason)
	require.True(t, after.DeactivatedAt.Equal(f.clk.Now()))
	require.Equal(t, before.Email, after.Email)
	require.Equal(t, "Finance", *after.Department)

	t.Run("absent identities are not deactivated twice", func(t *testing.T) {
		f.clk.Advance(time.Hour)
		f.expectRun(alice)
		res, err := f.svc.Synchronize(ctx)
		require.NoError(t, err)
		require.Zero(t, res.Deactivated)

		again := f.byExternalID(t, "bob")
		require.True(t, again.DeactivatedAt.Equal(*after.DeactivatedAt))
	})

	t.Run("returning identity is reactivated", func(t *testing.T) {
		f.expectRun(alice, bob)
		res, err := f.svc.Synchronize(ctx)
		require.NoError(t, err)
		require.Equal(t, 2, res.Updated)

		back := f.byExternalID(t, "bob")
		require.True(t, back.Active)
		require.Nil(t, back.DeactivatedAt)
		require.Empty(t, back.DeactivationReason)
	})
}

func TestSynchronizeIsolatesMalformedRecords(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newReconcileFixture(t)

	broken := record("dave", "", "Dave Nomail")
	f.expectRun(
		record("alice", "alice@example.com", "Alice Able"),
		broken,
		record("bob", "bob@example.com", "Bob Baker"),
		record("", "ghost@example.com", "Ghost"),
		record("carol", "carol@example.com", "Carol Cole"),
	)

	res, err := f.svc.Synchronize(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, res.Created)
	require.Len(t, res.Errors, 2)
	require.Contains(t, res.Errors[0], "Dave Nomail")
	require.Contains(t, res.Errors[1], "Ghost")

	total, _, err := f.store.Identities().CountBySource(ctx, domain.SourceDirectory)
	require.NoError(t, err)
	require.Equal(t, 3, total)
}

func TestSynchronizeRecordsStorageErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newReconcileFixture(t)

	// A local identity already owns the email.
	seedIdentity(t, f.store, "taken@example.com", f.clk.Now())

	f.expectRun(
		record("alice", "alice@example.com", "Alice Able"),
		record("imposter", "TAKEN@example.com", "Imposter"),
	)
	res, err := f.svc.Synchronize(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Created)
	require.Len(t, res.Errors, 1)
	require.Contains(t, res.Errors[0], "Imposter")
}

func TestSynchronizeKeepsFailedRecordsActive(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("record loses its mail", func(t *testing.T) {
		f := newReconcileFixture(t)
		f.expectRun(record("alice", "alice@example.com", "Alice Able"))
		_, err := f.svc.Synchronize(ctx)
		require.NoError(t, err)

		f.clk.Advance(time.Hour)
		f.expectRun(record("alice", "", "Alice Able"))
		res, err := f.svc.Synchronize(ctx)
		require.NoError(t, err)
		require.Zero(t, res.Deactivated)
		require.Len(t, res.Errors, 1)

		alice := f.byExternalID(t, "alice")
		require.True(t, alice.Active)
		require.Empty(t, alice.DeactivationReason)
		require.Equal(t, "alice@example.com", alice.Email)
	})

	t.Run("record collides with a local email", func(t *testing.T) {
		f := newReconcileFixture(t)
		f.expectRun(record("alice", "alice@example.com", "Alice Able"))
		_, err := f.svc.Synchronize(ctx)
		require.NoError(t, err)

		seedIdentity(t, f.store, "taken@example.com", f.clk.Now())
		f.clk.Advance(time.Hour)
		f.expectRun(record("alice", "taken@example.com", "Alice Able"))
		res, err := f.svc.Synchronize(ctx)
		require.NoError(t, err)
		require.Zero(t, res.Deactivated)
		require.Len(t, res.Errors, 1)
		require.Contains(t, res.Errors[0], "Alice Able")

		alice := f.byExternalID(t, "alice")
		require.True(t, alice.Active)
		require.Empty(t, alice.DeactivationReason)
	})
}

func TestSynchronizeRolePrecedence(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newReconcileFixture(t)

	r := record("hana", "hana@example.com", "Hana Hart")
	r.Groups = []string{"CN=Admins,OU=Groups," + testBaseDN, "CN=HR,OU=Groups," + testBaseDN}
	f.expectRun(r)

	_, err := f.svc.Synchronize(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.RoleHR, f.byExternalID(t, "hana").Role)
}

func TestSynchronizeResolvesManagers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newReconcileFixture(t)

	// Reports are listed before their managers to show order does not matter.
	f.expectRun(
		managedBy(record("bob", "bob@example.com", "Bob Baker"), "Alice Able"),
		managedBy(record("carol", "carol@example.com", "Carol Cole"), "bob"),
		managedBy(record("dan", "dan@example.com", "Dan Dunn"), "Nobody Here"),
		record("alice", "alice@example.com", "Alice Able"),
		// x and y name each other; only the first write can land.
		managedBy(record("x", "x@example.com", "Xavier"), "Yolanda"),
		managedBy(record("y", "y@example.com", "Yolanda"), "Xavier"),
	)

	res, err := f.svc.Synchronize(ctx)
	require.NoError(t, err)
	require.Empty(t, res.Errors)

	alice := f.byExternalID(t, "alice")
	bob := f.byExternalID(t, "bob")
	require.Equal(t, alice.ID, *bob.SupervisorID)
	require.Equal(t, domain.ReasonDirectoryManager, bob.SupervisorChangedReason)
	require.Equal(t, bob.ID, *f.byExternalID(t, "carol").SupervisorID)
	require.Nil(t, f.byExternalID(t, "dan").SupervisorID)
	require.Nil(t, alice.SupervisorID)

	x, y := f.byExternalID(t, "x"), f.byExternalID(t, "y")
	require.Equal(t, y.ID, *x.SupervisorID)
	require.Nil(t, y.SupervisorID)

	t.Run("unchanged manager is not rewritten", func(t *testing.T) {
		f.clk.Advance(time.Hour)
		f.expectRun(
			managedBy(record("bob", "bob@example.com", "Bob Baker"), "Alice Able"),
			record("alice", "alice@example.com", "Alice Able"),
		)
		_, err := f.svc.Synchronize(ctx)
		require.NoError(t, err)

		again := f.byExternalID(t, "bob")
		require.True(t, again.SupervisorChangedAt.Equal(*bob.SupervisorChangedAt))
	})
}

func TestSynchronizeDisabledAccounts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newReconcileFixture(t)

	boss := record("boss", "boss@example.com", "Big Boss")
	worker := managedBy(record("worker", "worker@example.com", "Will Worker"), "Big Boss")
	fresh := record("fresh", "fresh@example.com", "Fresh Hire")
	fresh.Enabled = false

	f.expectRun(boss, worker, fresh)
	res, err := f.svc.Synchronize(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, res.Created)

	created := f.byExternalID(t, "fresh")
	require.False(t, created.Active)
	require.Equal(t, domain.ReasonDirectoryDisabled, created.DeactivationReason)

	f.clk.Advance(time.Hour)
	boss.Enabled = false
	f.expectRun(boss, worker, fresh)
	res, err = f.svc.Synchronize(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, res.Updated)
	require.Zero(t, res.Deactivated)

	disabled := f.byExternalID(t, "boss")
	require.False(t, disabled.Active)
	require.Equal(t, domain.ReasonDirectoryDisabled, disabled.DeactivationReason)

	// The boss had no supervisor to promote the worker to, and a disabled
	// account is never picked as a manager again.
	w := f.byExternalID(t, "worker")
	require.Nil(t, w.SupervisorID)
	require.Equal(t, domain.ReasonManagerDeactivated, w.SupervisorChangedReason)
}

func TestSynchronizeFatalErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("connection failure writes nothing", func(t *testing.T) {
		f := newReconcileFixture(t)
		f.dir.EXPECT().Connect(gomock.Any()).Return(fmt.Errorf("%w: dial tcp: refused", directory.ErrConnection))

		_, err := f.svc.Synchronize(ctx)
		require.ErrorIs(t, err, directory.ErrConnection)

		total, _, err := f.store.Identities().CountBySource(ctx, domain.SourceDirectory)
		require.NoError(t, err)
		require.Zero(t, total)
	})

	t.Run("search failure writes nothing", func(t *testing.T) {
		f := newReconcileFixture(t)
		f.expectRun(record("alice", "alice@example.com", "Alice Able"))
		_, err := f.svc.Synchronize(ctx)
		require.NoError(t, err)

		gomock.InOrder(
			f.dir.EXPECT().Connect(gomock.Any()).Return(nil),
			f.dir.EXPECT().SearchAll(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, directory.ErrSearch),
			f.dir.EXPECT().Disconnect(),
		)
		_, err = f.svc.Synchronize(ctx)
		require.ErrorIs(t, err, directory.ErrSearch)
		require.True(t, f.byExternalID(t, "alice").Active)
	})

	t.Run("not configured", func(t *testing.T) {
		svc := &ReconcileService{Store: newTestStore(t)}
		_, err := svc.Synchronize(ctx)
		require.ErrorIs(t, err, ErrDirectoryDisabled)

		status, err := svc.Status(ctx)
		require.NoError(t, err)
		require.False(t, status.Configured)
	})
}

func TestSynchronizeTimeout(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newReconcileFixture(t)

	f.expectRun(
		record("alice", "alice@example.com", "Alice Able"),
		record("bob", "bob@example.com", "Bob Baker"),
	)
	_, err := f.svc.Synchronize(ctx)
	require.NoError(t, err)

	f.svc.Timeout = 50 * time.Millisecond
	gomock.InOrder(
		f.dir.EXPECT().Connect(gomock.Any()).Return(nil),
		f.dir.EXPECT().SearchAll(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			DoAndReturn(func(ctx context.Context, _, _ string, _ []string) ([]domain.DirectoryRecord, error) {
				<-ctx.Done()
				return nil, fmt.Errorf("%w: %w", directory.ErrSearch, ctx.Err())
			}),
		f.dir.EXPECT().Disconnect(),
	)

	_, err = f.svc.Synchronize(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	_, active, err := f.store.Identities().CountBySource(ctx, domain.SourceDirectory)
	require.NoError(t, err)
	require.Equal(t, 2, active)
}

func TestSynchronizeRunLock(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newReconcileFixture(t)
	lock := runlock.NewLocal()
	f.svc.Lock = lock

	release, err := lock.Acquire(ctx, "directory:"+f.svc.SourceID)
	require.NoError(t, err)

	_, err = f.svc.Synchronize(ctx)
	require.ErrorIs(t, err, ErrSyncInProgress)

	release()
	f.expectRun()
	_, err = f.svc.Synchronize(ctx)
	require.NoError(t, err)
}

func TestSynchronizeWithoutLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newReconcileFixture(t)
	f.svc.Lifecycle = nil

	f.expectRun(record("alice", "alice@example.com", "Alice Able"))
	_, err := f.svc.Synchronize(ctx)
	require.NoError(t, err)

	f.expectRun()
	res, err := f.svc.Synchronize(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Deactivated)

	alice := f.byExternalID(t, "alice")
	require.False(t, alice.Active)
	require.Equal(t, domain.ReasonDirectoryDeleted, alice.DeactivationReason)
}

var errBoom = errors.New("boom")

// failingListener rejects every deactivation.
type failingListener struct{}

func (failingListener) OnDeactivation(context.Context, string, string) error { return errBoom }

func TestSynchronizeCountsOnlyCommittedDeactivations(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newReconcileFixture(t)

	f.expectRun(record("alice", "alice@example.com", "Alice Able"))
	_, err := f.svc.Synchronize(ctx)
	require.NoError(t, err)

	f.svc.Lifecycle = failingListener{}
	f.expectRun()
	res, err := f.svc.Synchronize(ctx)
	require.NoError(t, err)
	require.Zero(t, res.Deactivated)
	require.Len(t, res.Errors, 1)

	require.Contains(t, res.Errors[0], "boom")
	require.True(t, f.byExternalID(t, "alice").Active)
}
