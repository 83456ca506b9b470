package http

import (
	"net/http"
	"time"

	"github.com/aussiebroadwan/roster/internal/roster/service"
	"github.com/aussiebroadwan/roster/internal/roster/store"
	"github.com/aussiebroadwan/roster/pkg/httpx"
	"github.com/aussiebroadwan/roster/pkg/rostersdk"
)

// LivezHandler always answers 200 while the process is up.
func LivezHandler(startTime time.Time, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, rostersdk.HealthResponse{
			Status:  "ok",
			Uptime:  time.Since(startTime).String(),
			Version: version,
		})
	}
}

// ReadyzHandler answers 503 when the database is unreachable. The
// directory is reported but never fails readiness: logins for local
// identities and the lifecycle keep working without it.
func ReadyzHandler(startTime time.Time, version string, st store.Store, reconcile *service.ReconcileService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := &rostersdk.HealthChecks{
			Database:  "ok",
			Directory: "disabled",
		}
		status, code := "ok", http.StatusOK

		if err := st.Ping(r.Context()); err != nil {
			checks.Database = "error: " + err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
		}

		if reconcile != nil && reconcile.Directory != nil {
			checks.Directory = "configured"
			if ds, err := reconcile.Status(r.Context()); err == nil && ds.LastRunUnix > 0 {
				checks.Directory = "last sync " + time.Unix(ds.LastRunUnix, 0).UTC().Format(time.RFC3339)
			}
		}

		httpx.WriteJSON(w, code, rostersdk.HealthResponse{
			Status:  status,
			Uptime:  time.Since(startTime).String(),
			Version: version,
			Checks:  checks,
		})
	}
}
