package http

import (
	"net/http"

	"github.com/aussiebroadwan/roster/pkg/httpx"
	"github.com/aussiebroadwan/roster/pkg/rostersdk"
)

func writeError(w http.ResponseWriter, status int, code, desc string) {
	httpx.WriteJSON(w, status, rostersdk.ErrorResponse{
		Error:            code,
		ErrorDescription: desc,
	})
}

func writeBadRequest(w http.ResponseWriter, desc string) {
	writeError(w, http.StatusBadRequest, rostersdk.ErrorCodeInvalidRequest, desc)
}

func writeServerError(w http.ResponseWriter, desc string) {
	writeError(w, http.StatusInternalServerError, rostersdk.ErrorCodeServerError, desc)
}
