package partners

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/partnerportal/portal/internal/platform/httpx"
	"github.com/partnerportal/portal/internal/policy"
	"github.com/partnerportal/portal/internal/shared"
)

// Handler exposes partner endpoints.
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

// MountRoutes registers partner routes on an authenticated router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/partners", h.list)
	r.Post("/partners", h.create)
	r.With(h.policy.RequirePartner(policy.ActionView)).Get("/partners/{partnerID}", h.show)
	r.Put("/partners/{partnerID}", h.update)
	r.Delete("/partners/{partnerID}", h.deactivate)
}

type listResponse struct {
	ListResult
	Pagination shared.Pagination `json:"pagination"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	principal, _ := shared.PrincipalFromContext(r.Context())
	page := shared.PageFromRequest(r)
	res, err := h.service.List(r.Context(), principal, ListFilter{
		Type:   Type(r.URL.Query().Get("type")),
		Limit:  page.PerPage,
		Offset: page.Offset(),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, listResponse{ListResult: res, Pagination: shared.NewPagination(page.Page, page.PerPage, res.Total)})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	principal, _ := shared.PrincipalFromContext(r.Context())
	var in CreateInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	created, err := h.service.Create(r.Context(), principal, in, httpx.IdempotencyKey(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, policy.PartnerParam)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	principal, _ := shared.PrincipalFromContext(r.Context())
	id, err := httpx.UUIDParam(r, policy.PartnerParam)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var in UpdateInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := h.service.Update(r.Context(), principal, id, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) deactivate(w http.ResponseWriter, r *http.Request) {
	principal, _ := shared.PrincipalFromContext(r.Context())
	id, err := httpx.UUIDParam(r, policy.PartnerParam)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.service.Deactivate(r.Context(), principal, id); err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if httpx.StatusFor(err) == http.StatusInternalServerError {
		h.logger.Error("partners request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
