package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/aussiebroadwan/roster/internal/roster/directory"
	"github.com/aussiebroadwan/roster/internal/roster/service"
	"github.com/aussiebroadwan/roster/pkg/httpx"
	"github.com/aussiebroadwan/roster/pkg/rostersdk"
	"github.com/aussiebroadwan/roster/pkg/slogx"
)

// DirectoryHandler exposes directory reconciliation to administrators.
type DirectoryHandler struct {
	ReconcileService *service.ReconcileService
}

// HandleSync handles POST /v1/admin/directory/sync. The run is detached
// from the request so a dropped client cannot leave it half applied; the
// service timeout still bounds it.
func (h *DirectoryHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	res, err := h.ReconcileService.Synchronize(context.WithoutCancel(ctx))
	switch {
	case errors.Is(err, service.ErrDirectoryDisabled):
		writeError(w, http.StatusServiceUnavailable, rostersdk.ErrorCodeUnavailable, "Directory is not configured")
		return
	case errors.Is(err, service.ErrSyncInProgress):
		writeError(w, http.StatusConflict, rostersdk.ErrorCodeConflict, "A directory sync is already running")
		return
	case errors.Is(err, directory.ErrConnection), errors.Is(err, directory.ErrSearch):
		writeError(w, http.StatusBadGateway, rostersdk.ErrorCodeUnavailable, "Directory unavailable: "+err.Error())
		return
	case err != nil:
		log.Error("directory sync failed", "error", err)
		writeServerError(w, "Directory sync failed")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, rostersdk.SyncResponse{
		Created:     res.Created,
		Updated:     res.Updated,
		Deactivated: res.Deactivated,
		Errors:      res.Errors,
	})
}

// HandleStatus handles GET /v1/admin/directory/status.
func (h *DirectoryHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.ReconcileService.Status(r.Context())
	if err != nil {
		slogx.FromContext(r.Context()).Error("failed to load directory status", "error", err)
		writeServerError(w, "Failed to load directory status")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, rostersdk.DirectoryStatusResponse{
		Configured:  st.Configured,
		Total:       st.Total,
		Active:      st.Active,
		LastRunUnix: st.LastRunUnix,
	})
}
