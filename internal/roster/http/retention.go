package http

import (
	"context"
	"net/http"

	"github.com/aussiebroadwan/roster/internal/roster/domain"
	"github.com/aussiebroadwan/roster/internal/roster/service"
	"github.com/aussiebroadwan/roster/pkg/httpx"
	"github.com/aussiebroadwan/roster/pkg/rostersdk"
	"github.com/aussiebroadwan/roster/pkg/slogx"
)

type RetentionHandler struct {
	RetentionService *service.RetentionService
	Policy           domain.RetentionPolicy
}

// HandleAdvance handles POST /v1/admin/retention/advance. Per-identity
// failures are reported next to the successes with a 200.
func (h *RetentionHandler) HandleAdvance(w http.ResponseWriter, r *http.Request) {
	report, err := h.RetentionService.Advance(context.WithoutCancel(r.Context()), h.Policy)

	out := rostersdk.AdvanceResponse{
		Anonymized: nonNil(report.Anonymized),
		Archived:   nonNil(report.Archived),
		Deleted:    nonNil(report.Deleted),
		Skipped:    nonNil(report.Skipped),
	}
	if err != nil {
		slogx.FromContext(r.Context()).Warn("retention pass finished with errors", "error", err)
		out.Errors = splitErrors(err)
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

// HandleStats handles GET /v1/admin/retention/stats.
func (h *RetentionHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.RetentionService.Stats(r.Context())
	if err != nil {
		slogx.FromContext(r.Context()).Error("failed to load lifecycle stats", "error", err)
		writeServerError(w, "Failed to load lifecycle stats")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, rostersdk.StatsResponse{
		Active:      st.Active,
		Deactivated: st.Deactivated,
		Anonymized:  st.Anonymized,
		Archived:    st.Archived,
	})
}

// splitErrors unpacks an errors.Join result.
func splitErrors(err error) []string {
	joined, ok := err.(interface{ Unwrap() []error })
	if !ok {
		return []string{err.Error()}
	}
	var out []string
	for _, e := range joined.Unwrap() {
		out = append(out, e.Error())
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
