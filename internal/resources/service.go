package resources

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/partnerportal/portal/internal/partners"
	"github.com/partnerportal/portal/internal/policy"
	"github.com/partnerportal/portal/internal/shared"
	"github.com/partnerportal/portal/internal/tuplesync"
)

const idempotencyModule = "resources.create"

// Linker is the subset of tuplesync.Synchronizer used here.
type Linker interface {
	AttachResource(ctx context.Context, objectType, id, partnerID string) error
	DetachResource(ctx context.Context, objectType, id, partnerID string) error
	AttachSupplier(ctx context.Context, skuID, supplierPartnerID string) error
	DetachSupplier(ctx context.Context, skuID, supplierPartnerID string) error
}

// Authorizer is the subset of policy.Evaluator used here.
type Authorizer interface {
	Allow(ctx context.Context, p shared.Principal, action policy.Action, res policy.Resource) (bool, error)
	VisibleIDs(ctx context.Context, p shared.Principal, objectType string) (policy.Visible, error)
}

// PartnerReader loads partners.
type PartnerReader interface {
	Get(ctx context.Context, id string) (partners.Partner, error)
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

// Config tunes the service.
type Config struct {
	// DetachOnArchive removes hierarchy tuples when a resource is archived
	// (SOFT_DELETE_POLICY=detach). Otherwise archived rows keep their tuples
	// and stay reachable through the FGA service.
	DetachOnArchive bool
}

// Service implements resource use cases.
type Service struct {
	repo        Repository
	links       Linker
	authz       Authorizer
	partners    PartnerReader
	audit       Auditor
	idempotency IdempotencyGuard
	cfg         Config
	logger      *slog.Logger
}

// NewService constructs a Service. audit and idempotency may be nil.
func NewService(repo Repository, links Linker, authz Authorizer, partnerReader PartnerReader, audit Auditor, idempotency IdempotencyGuard, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo: repo, links: links, authz: authz, partners: partnerReader,
		audit: audit, idempotency: idempotency, cfg: cfg, logger: logger,
	}
}

// ListResult is a page of resources.
type ListResult struct {
	Resources []Resource `json:"resources"`
	Total     int        `json:"total"`
}

// ListByPartner returns rows owned by partnerID. Callers hold view on the
// partner; the listing is relational and does not depend on tuples.
func (s *Service) ListByPartner(ctx context.Context, kind Kind, partnerID string, includeArchived bool, page shared.PageRequest) (ListResult, error) {
	return s.list(ctx, ListFilter{
		Kind: kind, PartnerID: partnerID, IncludeArchived: includeArchived,
		Limit: page.PerPage, Offset: page.Offset(),
	})
}

// ListVisible returns every row of kind the principal can view through the
// FGA service, across partners.
func (s *Service) ListVisible(ctx context.Context, p shared.Principal, kind Kind, page shared.PageRequest) (ListResult, error) {
	visible, err := s.authz.VisibleIDs(ctx, p, string(kind))
	if err != nil {
		return ListResult{}, err
	}
	return s.list(ctx, ListFilter{
		Kind: kind, IDs: visible.IDs, All: visible.All,
		Limit: page.PerPage, Offset: page.Offset(),
	})
}

func (s *Service) list(ctx context.Context, f ListFilter) (ListResult, error) {
	items, total, err := s.repo.List(ctx, f)
	if err != nil {
		return ListResult{}, err
	}
	if items == nil {
		items = []Resource{}
	}
	return ListResult{Resources: items, Total: total}, nil
}

// Create inserts a resource under partnerID and links it. Callers hold edit
// on the partner. Tuple failures become warnings; the row is never rolled
// back.
func (s *Service) Create(ctx context.Context, p shared.Principal, kind Kind, partnerID string, in CreateInput, idempotencyKey string) (Mutation, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := shared.ValidateStruct(in); err != nil {
		return Mutation{}, err
	}
	attrs, err := normalizeAttributes(kind, in.Attributes)
	if err != nil {
		return Mutation{}, err
	}
	owner, err := s.partners.Get(ctx, partnerID)
	if err != nil {
		return Mutation{}, err
	}
	if owner.Status != partners.StatusActive {
		return Mutation{}, fmt.Errorf("resources: partner is inactive: %w", shared.ErrValidation)
	}
	if err := s.checkSupplier(ctx, kind, partnerID, in.SupplierPartnerID); err != nil {
		return Mutation{}, err
	}
	if s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, idempotencyKey, idempotencyModule); err != nil {
			return Mutation{}, err
		}
	}
	created, err := s.repo.Create(ctx, Resource{
		PartnerID: partnerID, Kind: kind, Name: in.Name, Status: StatusActive,
		SupplierPartnerID: in.SupplierPartnerID, Attributes: attrs, CreatedBy: p.ID,
	})
	if err != nil {
		if s.idempotency != nil {
			_ = s.idempotency.Release(ctx, idempotencyKey, idempotencyModule)
		}
		return Mutation{}, err
	}

	m := Mutation{Resource: created}
	if err := m.collect(s.links.AttachResource(ctx, string(kind), created.ID, partnerID)); err != nil {
		return Mutation{}, err
	}
	if created.SupplierPartnerID != "" {
		if err := m.collect(s.links.AttachSupplier(ctx, created.ID, created.SupplierPartnerID)); err != nil {
			return Mutation{}, err
		}
	}
	s.record(ctx, p, created, "resource.created")
	return m, nil
}

// Get returns a resource the principal can view. Rows outside the caller's
// scope are reported as not found.
func (s *Service) Get(ctx context.Context, p shared.Principal, kind Kind, id string) (Resource, error) {
	r, err := s.repo.Get(ctx, kind, id)
	if err != nil {
		return Resource{}, err
	}
	ok, err := s.allowed(ctx, p, policy.ActionView, r)
	if err != nil {
		return Resource{}, err
	}
	if !ok {
		return Resource{}, ErrNotFound
	}
	return r, nil
}

// Update edits name, attributes or supplier of an active resource.
func (s *Service) Update(ctx context.Context, p shared.Principal, kind Kind, id string, in UpdateInput) (Mutation, error) {
	if err := shared.ValidateStruct(in); err != nil {
		return Mutation{}, err
	}
	current, err := s.editable(ctx, p, kind, id)
	if err != nil {
		return Mutation{}, err
	}
	if current.Status != StatusActive {
		return Mutation{}, fmt.Errorf("resources: archived resources are read-only: %w", shared.ErrValidation)
	}
	next := current
	if in.Name != nil {
		next.Name = strings.TrimSpace(*in.Name)
		if next.Name == "" {
			return Mutation{}, fmt.Errorf("%w: name is required", shared.ErrValidation)
		}
	}
	if in.Attributes != nil {
		if next.Attributes, err = normalizeAttributes(kind, in.Attributes); err != nil {
			return Mutation{}, err
		}
	}
	if in.SupplierPartnerID != nil {
		next.SupplierPartnerID = *in.SupplierPartnerID
		if next.SupplierPartnerID != current.SupplierPartnerID {
			if err := s.checkSupplier(ctx, kind, current.PartnerID, next.SupplierPartnerID); err != nil {
				return Mutation{}, err
			}
		}
	}
	updated, err := s.repo.Update(ctx, next)
	if err != nil {
		return Mutation{}, err
	}

	m := Mutation{Resource: updated}
	if current.SupplierPartnerID != updated.SupplierPartnerID {
		if current.SupplierPartnerID != "" {
			if err := m.collect(s.links.DetachSupplier(ctx, id, current.SupplierPartnerID)); err != nil {
				return Mutation{}, err
			}
		}
		if updated.SupplierPartnerID != "" {
			if err := m.collect(s.links.AttachSupplier(ctx, id, updated.SupplierPartnerID)); err != nil {
				return Mutation{}, err
			}
		}
	}
	s.record(ctx, p, updated, "resource.updated")
	return m, nil
}

// Delete archives a resource, or removes it permanently when hard is set.
// Archiving keeps or removes tuples according to Config.DetachOnArchive; a
// hard delete always removes them.
func (s *Service) Delete(ctx context.Context, p shared.Principal, kind Kind, id string, hard bool) (Mutation, error) {
	current, err := s.editable(ctx, p, kind, id)
	if err != nil {
		return Mutation{}, err
	}
	m := Mutation{Resource: current}
	if hard {
		if err := s.repo.Delete(ctx, kind, id); err != nil {
			return Mutation{}, err
		}
		if err := s.unlink(ctx, &m); err != nil {
			return Mutation{}, err
		}
		s.record(ctx, p, current, "resource.deleted")
		return m, nil
	}

	if current.Status == StatusArchived {
		return m, nil
	}
	archived, err := s.repo.SetStatus(ctx, kind, id, StatusArchived)
	if err != nil {
		return Mutation{}, err
	}
	m.Resource = archived
	if s.cfg.DetachOnArchive {
		if err := s.unlink(ctx, &m); err != nil {
			return Mutation{}, err
		}
	}
	s.record(ctx, p, archived, "resource.archived")
	return m, nil
}

// Restore reactivates an archived resource and relinks it when archiving had
// removed its tuples.
func (s *Service) Restore(ctx context.Context, p shared.Principal, kind Kind, id string) (Mutation, error) {
	current, err := s.editable(ctx, p, kind, id)
	if err != nil {
		return Mutation{}, err
	}
	if current.Status == StatusActive {
		return Mutation{Resource: current}, nil
	}
	restored, err := s.repo.SetStatus(ctx, kind, id, StatusActive)
	if err != nil {
		return Mutation{}, err
	}
	m := Mutation{Resource: restored}
	if s.cfg.DetachOnArchive {
		if err := m.collect(s.links.AttachResource(ctx, string(kind), id, restored.PartnerID)); err != nil {
			return Mutation{}, err
		}
		if restored.SupplierPartnerID != "" {
			if err := m.collect(s.links.AttachSupplier(ctx, id, restored.SupplierPartnerID)); err != nil {
				return Mutation{}, err
			}
		}
	}
	s.record(ctx, p, restored, "resource.restored")
	return m, nil
}

func (s *Service) unlink(ctx context.Context, m *Mutation) error {
	if err := m.collect(s.links.DetachResource(ctx, string(m.Kind), m.ID, m.PartnerID)); err != nil {
		return err
	}
	if m.SupplierPartnerID != "" {
		return m.collect(s.links.DetachSupplier(ctx, m.ID, m.SupplierPartnerID))
	}
	return nil
}

// editable loads a row and requires edit on it. A caller who cannot even
// view the row gets not found.
func (s *Service) editable(ctx context.Context, p shared.Principal, kind Kind, id string) (Resource, error) {
	r, err := s.Get(ctx, p, kind, id)
	if err != nil {
		return Resource{}, err
	}
	ok, err := s.allowed(ctx, p, policy.ActionEdit, r)
	if err != nil {
		return Resource{}, err
	}
	if !ok {
		return Resource{}, fmt.Errorf("resources: edit %s %s: %w", kind, id, shared.ErrForbidden)
	}
	return r, nil
}

// allowed checks the resource itself, then the owning partner. The fallback
// keeps rows whose hierarchy tuple is still queued reachable by id.
func (s *Service) allowed(ctx context.Context, p shared.Principal, action policy.Action, r Resource) (bool, error) {
	ok, err := s.authz.Allow(ctx, p, action, policy.Resource{Type: string(r.Kind), ID: r.ID})
	if err != nil || ok {
		return ok, err
	}
	return s.authz.Allow(ctx, p, action, policy.Partner(r.PartnerID))
}

func (s *Service) checkSupplier(ctx context.Context, kind Kind, ownerID, supplierID string) error {
	if supplierID == "" {
		return nil
	}
	if kind != KindSKU {
		return fmt.Errorf("%w: supplier_partner_id applies to skus only", shared.ErrValidation)
	}
	if supplierID == ownerID {
		return fmt.Errorf("%w: a partner cannot supply its own sku", shared.ErrValidation)
	}
	supplier, err := s.partners.Get(ctx, supplierID)
	if errors.Is(err, shared.ErrNotFound) {
		return fmt.Errorf("%w: supplier partner not found", shared.ErrValidation)
	}
	if err != nil {
		return err
	}
	if supplier.Type != partners.TypeMerchSupplier {
		return fmt.Errorf("%w: supplier partner must be a merch_supplier", shared.ErrValidation)
	}
	return nil
}

// collect turns a consistency warning into a response warning and passes any
// other error through.
func (m *Mutation) collect(err error) error {
	if err == nil {
		return nil
	}
	if w, ok := tuplesync.AsWarning(err); ok {
		m.Warnings = append(m.Warnings, w.Message())
		return nil
	}
	return err
}

func (s *Service) record(ctx context.Context, p shared.Principal, r Resource, action string) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID: p.ID, PartnerID: r.PartnerID, Action: action, Entity: string(r.Kind), EntityID: r.ID,
		Meta: map[string]any{"name": r.Name, "status": r.Status},
	})
	if err != nil {
		s.logger.Warn("audit resource", slog.String("action", action), slog.Any("error", err))
	}
}
