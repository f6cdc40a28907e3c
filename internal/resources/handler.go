package resources

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/partnerportal/portal/internal/platform/httpx"
	"github.com/partnerportal/portal/internal/policy"
	"github.com/partnerportal/portal/internal/shared"
)

const idParam = "resourceID"

// Handler exposes the resource endpoints of every kind.
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

// MountRoutes registers the routes of every kind on an authenticated router.
func (h *Handler) MountRoutes(r chi.Router) {
	for _, kind := range Kinds {
		plural := kind.Plural()
		r.With(h.policy.RequirePartner(policy.ActionView)).Get("/partners/{partnerID}/"+plural, h.listByPartner(kind))
		r.With(h.policy.RequirePartner(policy.ActionEdit)).Post("/partners/{partnerID}/"+plural, h.create(kind))
		r.Get("/"+plural, h.listVisible(kind))
		r.Get("/"+plural+"/{resourceID}", h.show(kind))
		r.Put("/"+plural+"/{resourceID}", h.update(kind))
		r.Delete("/"+plural+"/{resourceID}", h.remove(kind))
		r.Post("/"+plural+"/{resourceID}/restore", h.restore(kind))
	}
}

func (h *Handler) listByPartner(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page := shared.PageFromRequest(r)
		res, err := h.service.ListByPartner(r.Context(), kind, chi.URLParam(r, policy.PartnerParam),
			httpx.BoolQuery(r, "include_archived"), page)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		h.page(w, res, page)
	}
}

func (h *Handler) listVisible(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := shared.PrincipalFromContext(r.Context())
		if !ok {
			httpx.RespondError(w, shared.ErrUnauthenticated)
			return
		}
		page := shared.PageFromRequest(r)
		res, err := h.service.ListVisible(r.Context(), principal, kind, page)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		h.page(w, res, page)
	}
}

func (h *Handler) page(w http.ResponseWriter, res ListResult, page shared.PageRequest) {
	httpx.JSON(w, http.StatusOK, map[string]any{
		"resources":  res.Resources,
		"pagination": shared.NewPagination(page.Page, page.PerPage, res.Total),
	})
}

func (h *Handler) create(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, _ := shared.PrincipalFromContext(r.Context())
		var in CreateInput
		if err := httpx.DecodeJSON(r, &in); err != nil {
			h.fail(w, r, err)
			return
		}
		m, err := h.service.Create(r.Context(), principal, kind, chi.URLParam(r, policy.PartnerParam), in, httpx.IdempotencyKey(r))
		if err != nil {
			h.fail(w, r, err)
			return
		}
		httpx.JSON(w, http.StatusCreated, m)
	}
}

func (h *Handler) show(kind Kind) http.HandlerFunc {
	return h.withResource(func(w http.ResponseWriter, r *http.Request, p shared.Principal, id string) {
		res, err := h.service.Get(r.Context(), p, kind, id)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		httpx.JSON(w, http.StatusOK, res)
	})
}

func (h *Handler) update(kind Kind) http.HandlerFunc {
	return h.withResource(func(w http.ResponseWriter, r *http.Request, p shared.Principal, id string) {
		var in UpdateInput
		if err := httpx.DecodeJSON(r, &in); err != nil {
			h.fail(w, r, err)
			return
		}
		m, err := h.service.Update(r.Context(), p, kind, id, in)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		httpx.JSON(w, http.StatusOK, m)
	})
}

func (h *Handler) remove(kind Kind) http.HandlerFunc {
	return h.withResource(func(w http.ResponseWriter, r *http.Request, p shared.Principal, id string) {
		m, err := h.service.Delete(r.Context(), p, kind, id, httpx.BoolQuery(r, "hard"))
		if err != nil {
			h.fail(w, r, err)
			return
		}
		if len(m.Warnings) > 0 {
			httpx.JSON(w, http.StatusOK, m)
			return
		}
		httpx.NoContent(w)
	})
}

func (h *Handler) restore(kind Kind) http.HandlerFunc {
	return h.withResource(func(w http.ResponseWriter, r *http.Request, p shared.Principal, id string) {
		m, err := h.service.Restore(r.Context(), p, kind, id)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		httpx.JSON(w, http.StatusOK, m)
	})
}

func (h *Handler) withResource(fn func(http.ResponseWriter, *http.Request, shared.Principal, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := shared.PrincipalFromContext(r.Context())
		if !ok {
			httpx.RespondError(w, shared.ErrUnauthenticated)
			return
		}
		id, err := httpx.UUIDParam(r, idParam)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		fn(w, r, principal, id)
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if httpx.StatusFor(err) == http.StatusInternalServerError {
		h.logger.Error("resources request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
