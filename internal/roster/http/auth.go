package http

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aussiebroadwan/roster/internal/roster/service"
	"github.com/aussiebroadwan/roster/pkg/httpx"
	"github.com/aussiebroadwan/roster/pkg/rostersdk"
	"github.com/aussiebroadwan/roster/pkg/slogx"
)

// LoginHandler handles POST /v1/auth/login.
type LoginHandler struct {
	LoginService *service.LoginService
}

// ServeHTTP answers 423 with the remaining minutes while the identity is
// locked and a generic 401 for every other rejection.
func (h *LoginHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req rostersdk.LoginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeBadRequest(w, "Invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeBadRequest(w, "email and password are required")
		return
	}

	sess, err := h.LoginService.Login(ctx, req.Email, req.Password, httpx.IPKeyExtractor(r))

	var locked *service.LockedError
	switch {
	case errors.As(err, &locked):
		httpx.WriteJSON(w, http.StatusLocked, rostersdk.ErrorResponse{
			Error:            rostersdk.ErrorCodeAccountLocked,
			ErrorDescription: fmt.Sprintf("Too many failed attempts, try again in %d minutes", locked.RemainingMinutes),
			RemainingMinutes: locked.RemainingMinutes,
		})
		return
	case errors.Is(err, service.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, rostersdk.ErrorCodeInvalidCredentials, "Invalid email or password")
		return
	case err != nil:
		log.Error("login failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, rostersdk.ErrorCodeUnavailable, "Authentication is temporarily unavailable")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, rostersdk.LoginResponse{
		AccessToken: sess.Token,
		TokenType:   "Bearer",
		ExpiresAt:   sess.ExpiresAt.Unix(),
		IdentityID:  sess.IdentityID,
		Role:        string(sess.Role),
	})
}

// BootstrapHandler handles POST /v1/bootstrap. The token travels in the
// X-Bootstrap-Token header.
type BootstrapHandler struct {
	BootstrapService *service.BootstrapService
}

func (h *BootstrapHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req rostersdk.BootstrapRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		writeBadRequest(w, "Invalid JSON body")
		return
	}

	id, err := h.BootstrapService.Bootstrap(ctx, r.Header.Get("X-Bootstrap-Token"), service.BootstrapRequest{
		Email:      req.Email,
		Password:   req.Password,
		GivenName:  req.GivenName,
		FamilyName: req.FamilyName,
	})
	switch {
	case errors.Is(err, service.ErrBootstrapUnauthorized):
		writeError(w, http.StatusUnauthorized, rostersdk.ErrorCodeInvalidToken, "Invalid bootstrap token")
		return
	case errors.Is(err, service.ErrBootstrapAlready):
		writeError(w, http.StatusConflict, rostersdk.ErrorCodeConflict, "System already bootstrapped")
		return
	case errors.Is(err, service.ErrBootstrapInvalid):
		writeBadRequest(w, err.Error())
		return
	case err != nil:
		slogx.FromContext(ctx).Error("bootstrap failed", "error", err)
		writeServerError(w, "Bootstrap failed")
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, rostersdk.BootstrapResponse{IdentityID: id})
}
