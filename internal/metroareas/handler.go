package metroareas

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/partnerportal/portal/internal/platform/httpx"
	"github.com/partnerportal/portal/internal/policy"
	"github.com/partnerportal/portal/internal/shared"
)

// Handler exposes /metro-areas.
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

// MountRoutes registers the routes on an authenticated router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/metro-areas", func(r chi.Router) {
		r.Get("/", h.list)
		r.Get("/{id}", h.show)
		r.Group(func(r chi.Router) {
			r.Use(h.policy.RequireSuperAdmin())
			r.Post("/", h.create)
			r.Put("/{id}", h.update)
			r.Delete("/{id}", h.remove)
		})
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	if _, ok := shared.PrincipalFromContext(r.Context()); !ok {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return
	}
	page := shared.PageFromRequest(r)
	items, total, err := h.service.List(r.Context(), page)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"metro_areas": items,
		"pagination":  shared.NewPagination(page.Page, page.PerPage, total),
	})
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	if _, ok := shared.PrincipalFromContext(r.Context()); !ok {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return
	}
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	m, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, m)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	principal, _ := shared.PrincipalFromContext(r.Context())
	var in Input
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	m, err := h.service.Create(r.Context(), principal, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, m)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	principal, _ := shared.PrincipalFromContext(r.Context())
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var in Input
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	m, err := h.service.Update(r.Context(), principal, id, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, m)
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	principal, _ := shared.PrincipalFromContext(r.Context())
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.service.Delete(r.Context(), principal, id); err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if httpx.StatusFor(err) == http.StatusInternalServerError {
		h.logger.Error("metro areas request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
