package members

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/partnerportal/portal/internal/platform/httpx"
	"github.com/partnerportal/portal/internal/policy"
	"github.com/partnerportal/portal/internal/shared"
)

// UserParam is the chi route parameter holding the member id.
const UserParam = "userID"

// Handler exposes membership endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	policy  policy.Middleware
}

// NewHandler builds a Handler.
func NewHandler(logger *slog.Logger, service *Service, mw policy.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, policy: mw}
}

// MountRoutes registers membership routes on an authenticated router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/me/partners", h.mine)
	r.Route("/partners/{partnerID}/members", func(r chi.Router) {
		r.Use(h.policy.RequirePartner(policy.ActionManageMembers))
		r.Get("/", h.list)
		r.Post("/", h.invite)
		r.Put("/{userID}", h.change)
		r.Delete("/{userID}", h.remove)
		r.Post("/{userID}/suspend", h.suspend)
		r.Post("/{userID}/reactivate", h.reactivate)
	})
}

func (h *Handler) mine(w http.ResponseWriter, r *http.Request) {
	principal, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return
	}
	items, err := h.service.Mine(r.Context(), principal)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"memberships": items})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.List(r.Context(), chi.URLParam(r, policy.PartnerParam))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"members": items})
}

func (h *Handler) invite(w http.ResponseWriter, r *http.Request) {
	principal, _ := shared.PrincipalFromContext(r.Context())
	var in InviteInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	assignment, err := h.service.Invite(r.Context(), principal, chi.URLParam(r, policy.PartnerParam), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, assignment)
}

func (h *Handler) change(w http.ResponseWriter, r *http.Request) {
	principal, _ := shared.PrincipalFromContext(r.Context())
	var in ChangeInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	assignment, err := h.service.Change(r.Context(), principal,
		chi.URLParam(r, policy.PartnerParam), chi.URLParam(r, UserParam), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, assignment)
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	principal, _ := shared.PrincipalFromContext(r.Context())
	err := h.service.Remove(r.Context(), principal, chi.URLParam(r, policy.PartnerParam), chi.URLParam(r, UserParam))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) suspend(w http.ResponseWriter, r *http.Request) {
	principal, _ := shared.PrincipalFromContext(r.Context())
	assignment, err := h.service.Suspend(r.Context(), principal, chi.URLParam(r, policy.PartnerParam), chi.URLParam(r, UserParam))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, assignment)
}

func (h *Handler) reactivate(w http.ResponseWriter, r *http.Request) {
	principal, _ := shared.PrincipalFromContext(r.Context())
	assignment, err := h.service.Reactivate(r.Context(), principal, chi.URLParam(r, policy.PartnerParam), chi.URLParam(r, UserParam))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, assignment)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if httpx.StatusFor(err) == http.StatusInternalServerError {
		h.logger.Error("members request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
