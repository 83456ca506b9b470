package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aussiebroadwan/roster/internal/roster/audit"
	"github.com/aussiebroadwan/roster/internal/roster/domain"
	"github.com/aussiebroadwan/roster/internal/roster/store"
	"github.com/aussiebroadwan/roster/pkg/cryptox"
	"github.com/aussiebroadwan/roster/pkg/idx"
	"github.com/aussiebroadwan/roster/pkg/slogx"
)

var (
	ErrBootstrapAlready      = errors.New("system already bootstrapped")
	ErrBootstrapUnauthorized = errors.New("unauthorized bootstrap attempt")
	ErrBootstrapInvalid      = errors.New("bootstrap requires an email and a password of at least 12 characters")
)

const minBootstrapPassword = 12

// BootstrapService creates the first local administrator so the admin API
// is reachable before any directory sync has run.
type BootstrapService struct {
	Store  store.Store
	Hasher cryptox.Hasher
	Token  string // empty disables bootstrap
	Audit  audit.Sink
	Clock  func() time.Time
}

// BootstrapRequest is the administrator to create.
type BootstrapRequest struct {
	Email      string
	Password   string
	GivenName  string
	FamilyName string
}

// IsBootstrapped reports whether any local identity exists.
func (s *BootstrapService) IsBootstrapped(ctx context.Context) (bool, error) {
	total, _, err := s.Store.Identities().CountBySource(ctx, domain.SourceLocal)
	return total > 0, err
}

// Bootstrap returns the new identity id.
func (s *BootstrapService) Bootstrap(ctx context.Context, token string, req BootstrapRequest) (string, error) {
	log := slogx.FromContext(ctx)

	if s.Token == "" || !cryptox.EqualTokens(token, s.Token) {
		log.Warn("unauthorized bootstrap attempt")
		return "", ErrBootstrapUnauthorized
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || len(req.Password) < minBootstrapPassword {
		return "", ErrBootstrapInvalid
	}

	hash, err := s.Hasher.Hash(req.Password)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}

	now := clock(s.Clock)
	ident := domain.Identity{
		ID:             idx.NewAt(now).String(),
		Source:         domain.SourceLocal,
		Email:          email,
		GivenName:      req.GivenName,
		FamilyName:     req.FamilyName,
		EmployeeNumber: "LOCAL-ADMIN",
		Role:           domain.RoleAdmin,
		PasswordHash:   hash,
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if ident.GivenName == "" {
		ident.GivenName = "Administrator"
	}

	// Checked inside the transaction so two concurrent calls cannot both
	// succeed.
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		total, _, err := tx.Identities().CountBySource(ctx, domain.SourceLocal)
		if err != nil {
			return err
		}
		if total > 0 {
			return ErrBootstrapAlready
		}
		return tx.Identities().Create(ctx, ident)
	})
	if errors.Is(err, ErrBootstrapAlready) {
		log.Warn("attempted bootstrap on already-bootstrapped system")
		return "", err
	}
	if err != nil {
		return "", fmt.Errorf("create administrator: %w", err)
	}

	if s.Audit != nil {
		s.Audit.Record(ctx, domain.SystemActor, domain.ActionIdentityBootstrapped, domain.EntityIdentity, ident.ID, map[string]any{
			"email": email,
		})
	}
	log.Info("bootstrap completed", "identity_id", ident.ID)
	return ident.ID, nil
}
