package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	mock_directory "github.com/aussiebroadwan/roster/internal/roster/directory/mock"
	"github.com/aussiebroadwan/roster/internal/roster/domain"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestSchedulerRunsJobsOnStart(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now().UTC()

	stale := seedIdentity(t, s, "stale@example.com", now, deactivatedAgo(now, 400*day))

	dir := mock_directory.NewMockDirectory(gomock.NewController(t))
	synced := make(chan struct{})
	dir.EXPECT().Connect(gomock.Any()).Return(nil)
	dir.EXPECT().SearchAll(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return([]domain.DirectoryRecord{record("alice", "alice@example.com", "Alice Able")}, nil)
	dir.EXPECT().Disconnect().Do(func() { close(synced) })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sched := NewScheduler(logger, time.Hour, time.Hour)
	sched.Reconcile = &ReconcileService{Store: s, Directory: dir, Logger: logger}
	sched.Retention = &RetentionService{Store: s, Logger: logger}
	sched.Attempts = &AttemptTracker{Store: s}
	sched.Policy = domain.DefaultRetentionPolicy

	sched.Start()
	<-synced

	require.Eventually(t, func() bool {
		i, err := s.Identities().GetByID(ctx, stale.ID)
		return err == nil && i.Anonymized
	}, 5*time.Second, 10*time.Millisecond)
	sched.Stop()

	_, err := s.Identities().GetByExternalID(ctx, domain.SourceDirectory, "alice")
	require.NoError(t, err)
}

func TestSchedulerDefaults(t *testing.T) {
	t.Parallel()
	sched := NewScheduler(slog.New(slog.NewTextHandler(io.Discard, nil)), 0, -time.Second)
	require.Equal(t, time.Hour, sched.SyncInterval)
	require.Equal(t, 24*time.Hour, sched.RetentionInterval)
	require.Equal(t, DefaultAttemptRetention, sched.AttemptRetention)

	// Nothing configured still starts and stops cleanly.
	sched.Start()
	sched.Stop()
}
