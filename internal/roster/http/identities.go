package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/aussiebroadwan/roster/internal/roster/service"
	"github.com/aussiebroadwan/roster/pkg/httpx"
	"github.com/aussiebroadwan/roster/pkg/rostersdk"
	"github.com/aussiebroadwan/roster/pkg/slogx"
)

type IdentitiesHandler struct {
	AttemptTracker   *service.AttemptTracker
	RetentionService *service.RetentionService
}

// HandleAttempts handles GET /v1/admin/identities/{id}/attempts.
func (h *IdentitiesHandler) HandleAttempts(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	records, err := h.AttemptTracker.HistoryByIdentity(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		slogx.FromContext(r.Context()).Error("failed to list attempts", "error", err)
		writeServerError(w, "Failed to list attempts")
		return
	}

	out := rostersdk.AttemptsResponse{Attempts: make([]rostersdk.Attempt, 0, len(records))}
	for _, a := range records {
		out.Attempts = append(out.Attempts, rostersdk.Attempt{
			ID:          a.ID,
			Email:       a.Email,
			Origin:      a.Origin,
			Success:     a.Success,
			AttemptedAt: a.AttemptedAt.Unix(),
		})
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

// HandleDeactivate handles POST /v1/admin/identities/{id}/deactivate.
func (h *IdentitiesHandler) HandleDeactivate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	err := h.RetentionService.Deactivate(ctx, httpx.SubjectFromContext(ctx), r.PathValue("id"))
	switch {
	case errors.Is(err, service.ErrIdentityNotFound):
		writeError(w, http.StatusNotFound, rostersdk.ErrorCodeNotFound, "Identity not found")
		return
	case err != nil:
		slogx.FromContext(ctx).Error("failed to deactivate identity", "error", err)
		writeServerError(w, "Failed to deactivate identity")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
