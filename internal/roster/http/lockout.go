package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/aussiebroadwan/roster/internal/roster/service"
	"github.com/aussiebroadwan/roster/pkg/httpx"
	"github.com/aussiebroadwan/roster/pkg/rostersdk"
	"github.com/aussiebroadwan/roster/pkg/slogx"
)

type LockoutHandler struct {
	AttemptTracker *service.AttemptTracker
}

// HandleGet handles GET /v1/admin/lockout?email=.
func (h *LockoutHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	email := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("email")))
	if email == "" {
		writeBadRequest(w, "email is required")
		return
	}

	d, err := h.AttemptTracker.CheckLocked(r.Context(), email)
	if err != nil {
		slogx.FromContext(r.Context()).Error("failed to check lockout", "error", err)
		writeServerError(w, "Failed to check lockout")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, rostersdk.LockoutResponse{
		Email:             email,
		Locked:            d.Locked,
		RemainingMinutes:  d.RemainingMinutes,
		AttemptsRemaining: d.AttemptsRemaining,
	})
}

// HandleUnlock handles POST /v1/admin/lockout/unlock.
func (h *LockoutHandler) HandleUnlock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req rostersdk.UnlockRequest
	if err := httpx.DecodeJSON(r, &req); err != nil || strings.TrimSpace(req.Email) == "" {
		writeBadRequest(w, "email is required")
		return
	}

	err := h.AttemptTracker.Unlock(ctx, httpx.SubjectFromContext(ctx), req.Email)
	switch {
	case errors.Is(err, service.ErrIdentityNotFound):
		writeError(w, http.StatusNotFound, rostersdk.ErrorCodeNotFound, "No identity with that email")
		return
	case err != nil:
		slogx.FromContext(ctx).Error("failed to unlock", "error", err)
		writeServerError(w, "Failed to unlock")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
