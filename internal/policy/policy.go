// Package policy is the single authorization gate of the portal. Every route
// asks the Evaluator before touching relational data.
package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/partnerportal/portal/internal/fga"
	"github.com/partnerportal/portal/internal/shared"
)

// Action is what a principal wants to do with a resource.
type Action string

const (
	ActionView          Action = "view"
	ActionEdit          Action = "edit"
	ActionManageMembers Action = "manage_members"
	ActionAdmin         Action = "admin"
)

// ErrUnknownAction is returned for actions without a relation mapping.
var ErrUnknownAction = errors.New("policy: unknown action")

// Resource addresses an authorization object.
type Resource struct {
	Type string
	ID   string
}

// Partner addresses partner:<id>.
func Partner(id string) Resource {
	return Resource{Type: fga.TypePartner, ID: id}
}

// Object renders the tuple form.
func (r Resource) Object() string {
	return fga.Object(r.Type, r.ID)
}

// RelationFor maps an action to the relation checked on objectType.
func RelationFor(action Action, objectType string) (string, error) {
	if objectType == fga.TypePartner {
		switch action {
		case ActionView:
			return fga.RelationViewer, nil
		case ActionManageMembers:
			return fga.RelationManager, nil
		case ActionEdit, ActionAdmin:
			return fga.RelationCanAdmin, nil
		}
		return "", fmt.Errorf("%w: %s on %s", ErrUnknownAction, action, objectType)
	}
	if !slices.Contains(fga.ResourceTypes, objectType) {
		return "", fmt.Errorf("%w: %s on %s", ErrUnknownAction, action, objectType)
	}
	switch action {
	case ActionView:
		return fga.RelationCanView, nil
	case ActionEdit, ActionAdmin:
		return fga.RelationCanEdit, nil
	}
	return "", fmt.Errorf("%w: %s on %s", ErrUnknownAction, action, objectType)
}

// Evaluator answers authorization questions against the FGA service.
type Evaluator struct {
	client     fga.Client
	platformID string
	logger     *slog.Logger
}

// NewEvaluator constructs an Evaluator. platformID names the platform object
// holding super_admin tuples.
func NewEvaluator(client fga.Client, platformID string, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{client: client, platformID: platformID, logger: logger}
}

// IsSuperAdmin checks super_admin on platform:<platformID>.
func (e *Evaluator) IsSuperAdmin(ctx context.Context, p shared.Principal) (bool, error) {
	if p.ID == "" {
		return false, shared.ErrUnauthenticated
	}
	ok, err := e.client.Check(ctx, fga.TupleKey{
		User:     p.FGAUser(),
		Relation: fga.RelationSuperAdmin,
		Object:   fga.Object(fga.TypePlatform, e.platformID),
	})
	if err != nil {
		return false, upstream("super admin check", err)
	}
	return ok, nil
}

// Allow reports whether p may perform action on res. Super admins bypass
// per-object checks.
func (e *Evaluator) Allow(ctx context.Context, p shared.Principal, action Action, res Resource) (bool, error) {
	relation, err := RelationFor(action, res.Type)
	if err != nil {
		return false, err
	}
	admin, err := e.IsSuperAdmin(ctx, p)
	if err != nil {
		return false, err
	}
	if admin {
		return true, nil
	}
	ok, err := e.client.Check(ctx, fga.TupleKey{User: p.FGAUser(), Relation: relation, Object: res.Object()})
	if err != nil {
		return false, upstream("check", err)
	}
	if !ok {
		e.logger.Debug("authorization denied",
			slog.String("principal", p.ID),
			slog.String("action", string(action)),
			slog.String("object", res.Object()))
	}
	return ok, nil
}

// Authorize is Allow returning shared.ErrForbidden on deny.
func (e *Evaluator) Authorize(ctx context.Context, p shared.Principal, action Action, res Resource) error {
	ok, err := e.Allow(ctx, p, action, res)
	if err != nil {
		return err
	}
	if !ok {
		return shared.ErrForbidden
	}
	return nil
}

// RequireSuperAdmin returns shared.ErrForbidden unless p is a super admin.
func (e *Evaluator) RequireSuperAdmin(ctx context.Context, p shared.Principal) error {
	ok, err := e.IsSuperAdmin(ctx, p)
	if err != nil {
		return err
	}
	if !ok {
		return shared.ErrForbidden
	}
	return nil
}

// Visible is the set of objects of one type a principal can view.
type Visible struct {
	All bool
	IDs []string
}

// Contains reports whether id is visible.
func (v Visible) Contains(id string) bool {
	return v.All || slices.Contains(v.IDs, id)
}

// VisibleIDs lists what p can view of objectType in one ListObjects call
// instead of N point checks.
func (e *Evaluator) VisibleIDs(ctx context.Context, p shared.Principal, objectType string) (Visible, error) {
	relation, err := RelationFor(ActionView, objectType)
	if err != nil {
		return Visible{}, err
	}
	admin, err := e.IsSuperAdmin(ctx, p)
	if err != nil {
		return Visible{}, err
	}
	if admin {
		return Visible{All: true}, nil
	}
	ids, err := e.client.ListObjects(ctx, p.FGAUser(), relation, objectType)
	if err != nil {
		return Visible{}, upstream("list objects", err)
	}
	return Visible{IDs: ids}, nil
}

func upstream(op string, err error) error {
	return fmt.Errorf("policy: %s: %w", op, errors.Join(shared.ErrUpstream, err))
}
