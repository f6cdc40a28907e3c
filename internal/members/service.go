// Package members manages who belongs to a partner and with which role. All
// role mutations go through the tuple synchronizer.
package members

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/partnerportal/portal/internal/identity"
	"github.com/partnerportal/portal/internal/partners"
	"github.com/partnerportal/portal/internal/policy"
	"github.com/partnerportal/portal/internal/shared"
	"github.com/partnerportal/portal/internal/tuplesync"
)

// ErrCannotRemoveSelf prevents an admin from locking themselves out.
var ErrCannotRemoveSelf = fmt.Errorf("members: use another admin account to remove or downgrade yourself: %w", shared.ErrValidation)

// InviteInput is the body of POST /partners/{id}/members.
type InviteInput struct {
	UserID string `json:"user_id" validate:"required_without=Email"`
	Email  string `json:"email" validate:"omitempty,email"`
	Name   string `json:"name" validate:"max=120"`
	Role   string `json:"role" validate:"required"`
}

// ChangeInput is the body of PUT /partners/{id}/members/{userID}. OldRole is
// optional; when set, the change fails if the stored role differs.
type ChangeInput struct {
	Role    string `json:"role" validate:"required"`
	OldRole string `json:"old_role,omitempty"`
}

// Membership is a role assignment joined with its partner.
type Membership struct {
	tuplesync.RoleAssignment
	PartnerName string `json:"partner_name"`
	PartnerSlug string `json:"partner_slug"`
}

// Synchronizer is the subset of tuplesync.Synchronizer used here.
type Synchronizer interface {
	GrantRole(ctx context.Context, userID, partnerID string, role tuplesync.Role) (tuplesync.RoleAssignment, error)
	RevokeRole(ctx context.Context, userID, partnerID string) error
	SuspendRole(ctx context.Context, userID, partnerID string) (tuplesync.RoleAssignment, error)
	ChangeRole(ctx context.Context, userID, partnerID string, oldRole, newRole tuplesync.Role) (tuplesync.RoleAssignment, error)
	Assignment(ctx context.Context, userID, partnerID string) (tuplesync.RoleAssignment, error)
	Members(ctx context.Context, partnerID string) ([]tuplesync.RoleAssignment, error)
	Memberships(ctx context.Context, userID string) ([]tuplesync.RoleAssignment, error)
}

// PartnerReader loads partners.
type PartnerReader interface {
	Get(ctx context.Context, id string) (partners.Partner, error)
}

// Authorizer is the subset of policy.Evaluator used here.
type Authorizer interface {
	Allow(ctx context.Context, p shared.Principal, action policy.Action, res policy.Resource) (bool, error)
}

// Auditor records audit trail entries.
type Auditor interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service implements member use cases.
type Service struct {
	sync      Synchronizer
	partners  PartnerReader
	authz     Authorizer
	directory identity.Directory
	audit     Auditor
	logger    *slog.Logger
}

// NewService constructs a Service.
func NewService(sync Synchronizer, partnerReader PartnerReader, authz Authorizer, directory identity.Directory, audit Auditor, logger *slog.Logger) *Service {
	if directory == nil {
		directory = identity.NoopDirectory{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{sync: sync, partners: partnerReader, authz: authz, directory: directory, audit: audit, logger: logger}
}

// List returns the members of a partner. Callers hold manage_members.
func (s *Service) List(ctx context.Context, partnerID string) ([]tuplesync.RoleAssignment, error) {
	items, err := s.sync.Members(ctx, partnerID)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []tuplesync.RoleAssignment{}
	}
	return items, nil
}

// Invite grants a role on partnerID. An email invite resolves or creates the
// identity provider account first so the tuple is written for the real
// subject.
func (s *Service) Invite(ctx context.Context, actor shared.Principal, partnerID string, in InviteInput) (tuplesync.RoleAssignment, error) {
	in.UserID = strings.TrimSpace(in.UserID)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if err := shared.ValidateStruct(in); err != nil {
		return tuplesync.RoleAssignment{}, err
	}
	role, err := tuplesync.ParseRole(in.Role)
	if err != nil {
		return tuplesync.RoleAssignment{}, err
	}
	if err := s.requireAdminFor(ctx, actor, partnerID, role); err != nil {
		return tuplesync.RoleAssignment{}, err
	}
	partner, err := s.partners.Get(ctx, partnerID)
	if err != nil {
		return tuplesync.RoleAssignment{}, err
	}
	if partner.Status != partners.StatusActive {
		return tuplesync.RoleAssignment{}, fmt.Errorf("members: partner is inactive: %w", shared.ErrValidation)
	}

	userID := in.UserID
	if userID == "" {
		userID, err = s.directory.EnsureUser(ctx, in.Email, in.Name)
		if err != nil {
			return tuplesync.RoleAssignment{}, err
		}
	}
	existing, err := s.sync.Assignment(ctx, userID, partnerID)
	switch {
	case err == nil:
		if userID == actor.ID && existing.Role == tuplesync.RoleAdmin && role != tuplesync.RoleAdmin {
			return tuplesync.RoleAssignment{}, ErrCannotRemoveSelf
		}
		// A re-invite replaces the stored role, so it needs the same rights as a change.
		if err := s.requireAdminFor(ctx, actor, partnerID, existing.Role); err != nil {
			return tuplesync.RoleAssignment{}, err
		}
	case !errors.Is(err, shared.ErrNotFound):
		return tuplesync.RoleAssignment{}, err
	}
	assignment, err := s.sync.GrantRole(ctx, userID, partnerID, role)
	if err != nil {
		return tuplesync.RoleAssignment{}, err
	}
	if partner.Auth0OrgID != "" {
		if err := s.directory.AddOrganizationMember(ctx, partner.Auth0OrgID, userID); err != nil {
			s.logger.Warn("add organization member",
				slog.String("partner_id", partnerID), slog.String("user_id", userID), slog.Any("error", err))
		}
	}
	s.record(ctx, actor, partnerID, "member.invited", userID, map[string]any{"role": role})
	return assignment, nil
}

// Change moves a member to another role.
func (s *Service) Change(ctx context.Context, actor shared.Principal, partnerID, userID string, in ChangeInput) (tuplesync.RoleAssignment, error) {
	if err := shared.ValidateStruct(in); err != nil {
		return tuplesync.RoleAssignment{}, err
	}
	newRole, err := tuplesync.ParseRole(in.Role)
	if err != nil {
		return tuplesync.RoleAssignment{}, err
	}
	current, err := s.sync.Assignment(ctx, userID, partnerID)
	if err != nil {
		return tuplesync.RoleAssignment{}, err
	}
	oldRole := current.Role
	if in.OldRole != "" {
		if oldRole, err = tuplesync.ParseRole(in.OldRole); err != nil {
			return tuplesync.RoleAssignment{}, err
		}
	}
	if userID == actor.ID && current.Role == tuplesync.RoleAdmin && newRole != tuplesync.RoleAdmin {
		return tuplesync.RoleAssignment{}, ErrCannotRemoveSelf
	}
	if err := s.requireAdminFor(ctx, actor, partnerID, oldRole, newRole); err != nil {
		return tuplesync.RoleAssignment{}, err
	}
	if oldRole == newRole && current.Status == tuplesync.StatusActive {
		return current, nil
	}
	assignment, err := s.sync.ChangeRole(ctx, userID, partnerID, oldRole, newRole)
	if err != nil {
		return tuplesync.RoleAssignment{}, err
	}
	s.record(ctx, actor, partnerID, "member.role_changed", userID, map[string]any{"from": oldRole, "to": newRole})
	return assignment, nil
}

// Remove revokes a membership.
func (s *Service) Remove(ctx context.Context, actor shared.Principal, partnerID, userID string) error {
	current, err := s.sync.Assignment(ctx, userID, partnerID)
	if err != nil {
		return err
	}
	if userID == actor.ID && current.Role == tuplesync.RoleAdmin {
		return ErrCannotRemoveSelf
	}
	if err := s.requireAdminFor(ctx, actor, partnerID, current.Role); err != nil {
		return err
	}
	if err := s.sync.RevokeRole(ctx, userID, partnerID); err != nil {
		return err
	}
	s.record(ctx, actor, partnerID, "member.removed", userID, map[string]any{"role": current.Role})
	return nil
}

// Suspend withdraws access but keeps the membership row.
func (s *Service) Suspend(ctx context.Context, actor shared.Principal, partnerID, userID string) (tuplesync.RoleAssignment, error) {
	current, err := s.sync.Assignment(ctx, userID, partnerID)
	if err != nil {
		return tuplesync.RoleAssignment{}, err
	}
	if userID == actor.ID {
		return tuplesync.RoleAssignment{}, ErrCannotRemoveSelf
	}
	if err := s.requireAdminFor(ctx, actor, partnerID, current.Role); err != nil {
		return tuplesync.RoleAssignment{}, err
	}
	assignment, err := s.sync.SuspendRole(ctx, userID, partnerID)
	if err != nil {
		return tuplesync.RoleAssignment{}, err
	}
	s.record(ctx, actor, partnerID, "member.suspended", userID, nil)
	return assignment, nil
}

// Reactivate grants the stored role of a suspended or pending membership again.
func (s *Service) Reactivate(ctx context.Context, actor shared.Principal, partnerID, userID string) (tuplesync.RoleAssignment, error) {
	current, err := s.sync.Assignment(ctx, userID, partnerID)
	if err != nil {
		return tuplesync.RoleAssignment{}, err
	}
	if err := s.requireAdminFor(ctx, actor, partnerID, current.Role); err != nil {
		return tuplesync.RoleAssignment{}, err
	}
	if current.Status == tuplesync.StatusActive {
		return current, nil
	}
	assignment, err := s.sync.GrantRole(ctx, userID, partnerID, current.Role)
	if err != nil {
		return tuplesync.RoleAssignment{}, err
	}
	s.record(ctx, actor, partnerID, "member.reactivated", userID, nil)
	return assignment, nil
}

// Mine lists the memberships of the caller with partner names.
func (s *Service) Mine(ctx context.Context, actor shared.Principal) ([]Membership, error) {
	rows, err := s.sync.Memberships(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	out := make([]Membership, 0, len(rows))
	for _, row := range rows {
		m := Membership{RoleAssignment: row}
		p, err := s.partners.Get(ctx, row.PartnerID)
		switch {
		case err == nil:
			m.PartnerName, m.PartnerSlug = p.Name, p.Slug
		case !errors.Is(err, shared.ErrNotFound):
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// requireAdminFor enforces that only partner admins touch admin roles.
func (s *Service) requireAdminFor(ctx context.Context, actor shared.Principal, partnerID string, roles ...tuplesync.Role) error {
	for _, role := range roles {
		if role != tuplesync.RoleAdmin {
			continue
		}
		ok, err := s.authz.Allow(ctx, actor, policy.ActionAdmin, policy.Partner(partnerID))
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("members: only partner admins can assign or remove can_admin: %w", shared.ErrForbidden)
		}
		return nil
	}
	return nil
}

func (s *Service) record(ctx context.Context, actor shared.Principal, partnerID, action, userID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID: actor.ID, PartnerID: partnerID, Action: action, Entity: "membership", EntityID: userID, Meta: meta,
	})
	if err != nil {
		s.logger.Warn("audit membership", slog.String("action", action), slog.Any("error", err))
	}
}
