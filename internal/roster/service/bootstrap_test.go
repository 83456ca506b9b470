package service

import (
	"context"
	"sync"
	"testing"

	"github.com/aussiebroadwan/roster/internal/roster/audit"
	"github.com/aussiebroadwan/roster/internal/roster/domain"
	"github.com/aussiebroadwan/roster/pkg/cryptox"
	"github.com/stretchr/testify/require"
)

func TestBootstrap(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)
	clk := newClock()
	svc := &BootstrapService{
		Store:  s,
		Hasher: cryptox.Hasher{Pepper: "p"},
		Token:  "boot-token",
		Audit:  &audit.Recorder{Logs: s.AuditLogs(), Clock: clk.Now},
		Clock:  clk.Now,
	}
	req := BootstrapRequest{Email: " Admin@Example.com", Password: "long enough password"}

	done, err := svc.IsBootstrapped(ctx)
	require.NoError(t, err)
	require.False(t, done)

	_, err = svc.Bootstrap(ctx, "wrong", req)
	require.ErrorIs(t, err, ErrBootstrapUnauthorized)

	_, err = svc.Bootstrap(ctx, "boot-token", BootstrapRequest{Email: "a@example.com", Password: "short"})
	require.ErrorIs(t, err, ErrBootstrapInvalid)

	id, err := svc.Bootstrap(ctx, "boot-token", req)
	require.NoError(t, err)

	admin := getIdentity(t, s, id)
	require.Equal(t, "admin@example.com", admin.Email)
	require.Equal(t, domain.RoleAdmin, admin.Role)
	require.Equal(t, domain.SourceLocal, admin.Source)
	require.Equal(t, "Administrator", admin.GivenName)
	require.NoError(t, svc.Hasher.Verify("long enough password", admin.PasswordHash))
	require.Len(t, auditEvents(t, s, id, domain.ActionIdentityBootstrapped), 1)

	_, err = svc.Bootstrap(ctx, "boot-token", BootstrapRequest{Email: "second@example.com", Password: "long enough password"})
	require.ErrorIs(t, err, ErrBootstrapAlready)

	done, err = svc.IsBootstrapped(ctx)
	require.NoError(t, err)
	require.True(t, done)
}

func TestBootstrapDisabledWithoutToken(t *testing.T) {
	t.Parallel()
	svc := &BootstrapService{Store: newTestStore(t)}
	_, err := svc.Bootstrap(context.Background(), "", BootstrapRequest{Email: "a@example.com", Password: "long enough password"})
	require.ErrorIs(t, err, ErrBootstrapUnauthorized)
}

func TestBootstrapRace(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)
	svc := &BootstrapService{Store: s, Token: "t"}

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.Bootstrap(ctx, "t", BootstrapRequest{
				Email:    "admin" + string(rune('a'+i)) + "@example.com",
				Password: "long enough password",
			})
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		}
	}
	require.Equal(t, 1, succeeded)
}
