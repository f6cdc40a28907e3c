package partners

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/partnerportal/portal/internal/fga"
	"github.com/partnerportal/portal/internal/identity"
	"github.com/partnerportal/portal/internal/policy"
	"github.com/partnerportal/portal/internal/shared"
)

const idempotencyModule = "partners.create"

// Authorizer is the subset of policy.Evaluator used here.
type Authorizer interface {
	RequireSuperAdmin(ctx context.Context, p shared.Principal) error
	Authorize(ctx context.Context, p shared.Principal, action policy.Action, res policy.Resource) error
	VisibleIDs(ctx context.Context, p shared.Principal, objectType string) (policy.Visible, error)
}

// Auditor records audit trail entries.
type Auditor interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyGuard deduplicates create requests.
type IdempotencyGuard interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Release(ctx context.Context, key, module string) error
}

// Service implements partner use cases.
type Service struct {
	repo        Repository
	authz       Authorizer
	directory   identity.Directory
	audit       Auditor
	idempotency IdempotencyGuard
	logger      *slog.Logger
}

// NewService constructs a Service. directory, audit and idempotency may be nil.
func NewService(repo Repository, authz Authorizer, directory identity.Directory, audit Auditor, idempotency IdempotencyGuard, logger *slog.Logger) *Service {
	if directory == nil {
		directory = identity.NoopDirectory{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, authz: authz, directory: directory, audit: audit, idempotency: idempotency, logger: logger}
}

// List returns the partners visible to the principal.
func (s *Service) List(ctx context.Context, p shared.Principal, filter ListFilter) (ListResult, error) {
	visible, err := s.authz.VisibleIDs(ctx, p, fga.TypePartner)
	if err != nil {
		return ListResult{}, err
	}
	filter.All = visible.All
	filter.IDs = visible.IDs
	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return ListResult{}, err
	}
	if items == nil {
		items = []Partner{}
	}
	return ListResult{Partners: items, Total: total}, nil
}

// Get returns a partner. Callers authorize through the route middleware.
func (s *Service) Get(ctx context.Context, id string) (Partner, error) {
	return s.repo.Get(ctx, id)
}

// Create registers a partner. Only super admins may create partners. The
// identity provider organization is created best-effort.
func (s *Service) Create(ctx context.Context, p shared.Principal, in CreateInput, idempotencyKey string) (Partner, error) {
	if err := s.authz.RequireSuperAdmin(ctx, p); err != nil {
		return Partner{}, err
	}
	in.Name = strings.TrimSpace(in.Name)
	if err := shared.ValidateStruct(in); err != nil {
		return Partner{}, err
	}
	slug := shared.Slugify(in.Name)
	if slug == "" {
		return Partner{}, fmt.Errorf("%w: name must contain letters or digits", shared.ErrValidation)
	}
	if s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, idempotencyKey, idempotencyModule); err != nil {
			return Partner{}, err
		}
	}
	created, err := s.repo.Create(ctx, Partner{Name: in.Name, Slug: slug, Type: Type(in.Type), Status: StatusActive})
	if err != nil {
		if s.idempotency != nil {
			_ = s.idempotency.Release(ctx, idempotencyKey, idempotencyModule)
		}
		return Partner{}, err
	}

	orgID, err := s.directory.CreateOrganization(ctx, created.Slug, created.Name)
	switch {
	case err != nil:
		s.logger.Warn("create identity organization", slog.String("partner_id", created.ID), slog.Any("error", err))
	case orgID != "":
		if err := s.repo.SetOrgID(ctx, created.ID, orgID); err != nil {
			s.logger.Warn("store identity organization", slog.String("partner_id", created.ID), slog.Any("error", err))
		} else {
			created.Auth0OrgID = orgID
		}
	}
	s.record(ctx, p, created.ID, "partner.created", map[string]any{"name": created.Name, "type": created.Type})
	return created, nil
}

// Update edits a partner; requires admin on the partner.
func (s *Service) Update(ctx context.Context, p shared.Principal, id string, in UpdateInput) (Partner, error) {
	if err := s.authz.Authorize(ctx, p, policy.ActionAdmin, policy.Partner(id)); err != nil {
		return Partner{}, err
	}
	if err := shared.ValidateStruct(in); err != nil {
		return Partner{}, err
	}
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return Partner{}, err
	}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		slug := shared.Slugify(name)
		if slug == "" {
			return Partner{}, fmt.Errorf("%w: name must contain letters or digits", shared.ErrValidation)
		}
		current.Name, current.Slug = name, slug
	}
	// type decides supplier eligibility; type and status are platform decisions
	if in.Type != nil {
		if Type(*in.Type) != current.Type {
			if err := s.authz.RequireSuperAdmin(ctx, p); err != nil {
				return Partner{}, err
			}
		}
		current.Type = Type(*in.Type)
	}
	if in.Status != nil {
		if Status(*in.Status) != current.Status {
			if err := s.authz.RequireSuperAdmin(ctx, p); err != nil {
				return Partner{}, err
			}
		}
		current.Status = Status(*in.Status)
	}
	updated, err := s.repo.Update(ctx, current)
	if err != nil {
		return Partner{}, err
	}
	s.record(ctx, p, id, "partner.updated", nil)
	return updated, nil
}

// Deactivate soft-deletes a partner. Memberships and resources are kept so
// that reactivation restores the tenant unchanged.
func (s *Service) Deactivate(ctx context.Context, p shared.Principal, id string) error {
	if err := s.authz.RequireSuperAdmin(ctx, p); err != nil {
		return err
	}
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if current.Status == StatusInactive {
		return nil
	}
	current.Status = StatusInactive
	if _, err := s.repo.Update(ctx, current); err != nil {
		return err
	}
	s.record(ctx, p, id, "partner.deactivated", nil)
	return nil
}

func (s *Service) record(ctx context.Context, p shared.Principal, partnerID, action string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID: p.ID, PartnerID: partnerID, Action: action, Entity: "partner", EntityID: partnerID, Meta: meta,
	})
	if err != nil {
		s.logger.Warn("audit partner", slog.String("action", action), slog.Any("error", err))
	}
}
