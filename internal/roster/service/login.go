package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aussiebroadwan/roster/internal/roster/directory"
	"github.com/aussiebroadwan/roster/internal/roster/domain"
	"github.com/aussiebroadwan/roster/internal/roster/metrics"
	"github.com/aussiebroadwan/roster/internal/roster/store"
	"github.com/aussiebroadwan/roster/pkg/cryptox"
	"github.com/aussiebroadwan/roster/pkg/jwtx"
	"github.com/aussiebroadwan/roster/pkg/slogx"
)

// LoginService checks credentials behind the lockout gate and issues
// session tokens.
type LoginService struct {
	Store      store.Store
	Attempts   *AttemptTracker
	Directory  directory.Directory // nil when no directory is configured
	Hasher     cryptox.Hasher
	Signer     jwtx.Signer
	Issuer     string
	SessionTTL time.Duration
	Metrics    *metrics.Metrics
	Clock      func() time.Time
}

// Session is the result of a successful login.
type Session struct {
	Token      string
	ExpiresAt  time.Time
	IdentityID string
	Email      string
	Role       domain.Role
}

// Login returns *LockedError while the identity is locked out and
// ErrInvalidCredentials for any other rejection, including unknown and
// inactive identities.
func (s *LoginService) Login(ctx context.Context, email, secret, origin string) (Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	log := slogx.FromContext(ctx)

	decision, err := s.Attempts.CheckLocked(ctx, email)
	if err != nil {
		return Session{}, err
	}
	if decision.Locked {
		s.Metrics.IncrementLockout()
		return Session{}, &LockedError{RemainingMinutes: decision.RemainingMinutes}
	}

	ident, err := s.Store.Identities().GetByEmail(ctx, email)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return Session{}, fmt.Errorf("login: %w", err)
	}

	var ok bool
	switch {
	case errors.Is(err, store.ErrNotFound), !ident.Active:
		_ = s.Hasher.VerifyDummy(secret)
	default:
		ok, err = s.verify(ctx, ident, secret)
		if err != nil {
			return Session{}, err
		}
	}

	if !ok {
		if err := s.Attempts.RecordFailure(ctx, email, origin); err != nil {
			log.Warn("failed to record login failure", "error", err)
		}
		// The failure just recorded may be the one that trips the lock.
		if after, err := s.Attempts.CheckLocked(ctx, email); err == nil && after.Locked {
			s.Metrics.IncrementLockout()
			return Session{}, &LockedError{RemainingMinutes: after.RemainingMinutes}
		}
		return Session{}, ErrInvalidCredentials
	}

	if err := s.Attempts.RecordSuccess(ctx, ident.ID, email, origin); err != nil {
		log.Warn("failed to record login success", "identity_id", ident.ID, "error", err)
	}

	ttl := s.SessionTTL
	if ttl <= 0 {
		ttl = jwtx.DefaultSessionTTL
	}
	now := clock(s.Clock)
	claims := jwtx.NewSessionClaims(ident.ID, ident.Email, string(ident.Role), string(ident.Source), s.Issuer, ttl, now)
	token, err := s.Signer.Sign(claims)
	if err != nil {
		return Session{}, fmt.Errorf("sign session: %w", err)
	}

	log.Info("login succeeded", "identity_id", ident.ID, "source", ident.Source)
	return Session{
		Token:      token,
		ExpiresAt:  now.Add(ttl),
		IdentityID: ident.ID,
		Email:      ident.Email,
		Role:       ident.Role,
	}, nil
}

// verify checks secret against wherever the identity's credential lives.
// An unreachable directory is an error, not a failed attempt.
func (s *LoginService) verify(ctx context.Context, ident domain.Identity, secret string) (bool, error) {
	if ident.Source == domain.SourceDirectory {
		if s.Directory == nil || ident.ExternalID == nil {
			_ = s.Hasher.VerifyDummy(secret)
			return false, nil
		}
		_, err := s.Directory.Authenticate(ctx, *ident.ExternalID, secret)
		switch {
		case errors.Is(err, directory.ErrAuthFailure):
			return false, nil
		case err != nil:
			return false, fmt.Errorf("directory authentication: %w", err)
		}
		return true, nil
	}

	if ident.PasswordHash == "" {
		_ = s.Hasher.VerifyDummy(secret)
		return false, nil
	}
	err := s.Hasher.Verify(secret, ident.PasswordHash)
	switch {
	case errors.Is(err, cryptox.ErrMismatch):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("verify password: %w", err)
	}
	return true, nil
}
