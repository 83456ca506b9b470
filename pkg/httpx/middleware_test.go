package httpx_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aussiebroadwan/roster/pkg/httpx"
	"github.com/aussiebroadwan/roster/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

func TestChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) httpx.Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := httpx.Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		order = append(order, "handler")
	}), mw("a"), mw("b"))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, []string{"a", "b", "handler"}, order)
}

func TestAuthnAndRoles(t *testing.T) {
	signer, err := jwtx.NewHS256([]byte(strings.Repeat("k", jwtx.MinSecretLength)), jwtx.VerifyOptions{Issuer: "roster"})
	require.NoError(t, err)

	token := func(role string) string {
		raw, err := signer.Sign(jwtx.NewSessionClaims("subj", "a@x.io", role, "local", "roster", time.Hour, time.Now()))
		require.NoError(t, err)
		return raw
	}

	h := httpx.Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(httpx.SubjectFromContext(r.Context())))
	}), httpx.Authn(signer), httpx.RequireAnyRole("ADMIN", "HR"))

	serve := func(authz string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if authz != "" {
			req.Header.Set("Authorization", authz)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	t.Run("missing token", func(t *testing.T) {
		rec := serve("")
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Contains(t, rec.Header().Get("WWW-Authenticate"), "invalid_token")
	})

	t.Run("bad token", func(t *testing.T) {
		require.Equal(t, http.StatusUnauthorized, serve("Bearer nope").Code)
	})

	t.Run("role not permitted", func(t *testing.T) {
		require.Equal(t, http.StatusForbidden, serve("Bearer "+token("EMPLOYEE")).Code)
	})

	t.Run("permitted", func(t *testing.T) {
		rec := serve("Bearer " + token("HR"))
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "subj", rec.Body.String())
	})
}
