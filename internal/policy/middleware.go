package policy

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/partnerportal/portal/internal/platform/httpx"
	"github.com/partnerportal/portal/internal/shared"
)

// PartnerParam is the chi route parameter holding the partner id.
const PartnerParam = "partnerID"

// Middleware wires the Evaluator into chi routes.
type Middleware struct {
	Evaluator *Evaluator
	Logger    *slog.Logger
}

// RequirePartner authorizes action on the partner named by {partnerID}.
func (m Middleware) RequirePartner(action Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := shared.PrincipalFromContext(r.Context())
			if !ok {
				httpx.RespondError(w, shared.ErrUnauthenticated)
				return
			}
			partnerID := chi.URLParam(r, PartnerParam)
			if partnerID == "" {
				httpx.RespondError(w, shared.ErrNotFound)
				return
			}
			if err := m.Evaluator.Authorize(r.Context(), principal, action, Partner(partnerID)); err != nil {
				m.fail(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireSuperAdmin restricts a route to platform super admins.
func (m Middleware) RequireSuperAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := shared.PrincipalFromContext(r.Context())
			if !ok {
				httpx.RespondError(w, shared.ErrUnauthenticated)
				return
			}
			if err := m.Evaluator.RequireSuperAdmin(r.Context(), principal); err != nil {
				m.fail(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m Middleware) fail(w http.ResponseWriter, r *http.Request, err error) {
	if !errors.Is(err, shared.ErrForbidden) && m.Logger != nil {
		m.Logger.Error("policy check", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
