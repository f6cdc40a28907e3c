// Package tuplesync keeps relational role and resource rows in step with the
// relationship tuples stored in the FGA service.
//
// Every operation writes the relational side first and the tuple side
// second. Failures are fail closed for memberships (an operation that could
// not remove or grant a capability reports an error and leaves the row in a
// non-active state) and non-fatal for resource hierarchy tuples (the row is
// kept, a *ConsistencyWarning is returned and the tuple is queued in the
// outbox for retry).
package tuplesync

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/partnerportal/portal/internal/fga"
	"github.com/partnerportal/portal/internal/shared"
)

// Role is a membership relation on a partner.
type Role string

const (
	RoleAdmin         Role = fga.RelationCanAdmin
	RoleManageMembers Role = fga.RelationCanManageMembers
	RoleView          Role = fga.RelationCanView
)

// ParseRole validates s against the fixed role set.
func ParseRole(s string) (Role, error) {
	r := Role(strings.TrimSpace(s))
	if !r.Valid() {
		return "", fmt.Errorf("%w %q", ErrInvalidRole, s)
	}
	return r, nil
}

// Valid reports whether r is one of the enumerated roles.
func (r Role) Valid() bool {
	return fga.IsRole(string(r))
}

// Status of a role assignment row. Only active rows have a membership tuple.
type Status string

const (
	StatusPending  Status = "pending"
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// RoleAssignment is one (partner, user) membership row.
type RoleAssignment struct {
	PartnerID string    `json:"partner_id"`
	UserID    string    `json:"user_id"`
	Role      Role      `json:"role"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Tuple returns the membership tuple the row stands for.
func (a RoleAssignment) Tuple() fga.TupleKey {
	return fga.MembershipTuple(a.UserID, string(a.Role), a.PartnerID)
}

// ResourceLink is the part of a resource row that determines its tuples.
type ResourceLink struct {
	ID                string
	Kind              string
	PartnerID         string
	SupplierPartnerID string
	Archived          bool
}

// OutboxOp is the pending tuple mutation.
type OutboxOp string

const (
	OutboxWrite  OutboxOp = "write"
	OutboxDelete OutboxOp = "delete"
)

// OutboxEntry is a tuple mutation that failed inline and waits for retry.
type OutboxEntry struct {
	ID        int64
	Op        OutboxOp
	Tuple     fga.TupleKey
	PartnerID string
	Attempts  int
	LastError string
	CreatedAt time.Time
}

var (
	ErrInvalidRole        = fmt.Errorf("tuplesync: invalid role: %w", shared.ErrValidation)
	ErrInvalidPrincipal   = fmt.Errorf("tuplesync: principal required: %w", shared.ErrValidation)
	ErrInvalidResource    = fmt.Errorf("tuplesync: resource type and id required: %w", shared.ErrValidation)
	ErrRoleMismatch       = fmt.Errorf("tuplesync: current role differs from expected role: %w", shared.ErrValidation)
	ErrPartnerNotFound    = fmt.Errorf("tuplesync: partner not found: %w", shared.ErrNotFound)
	ErrAssignmentNotFound = fmt.Errorf("tuplesync: role assignment not found: %w", shared.ErrNotFound)
	// ErrAuthorizationService marks a fatal failure of the FGA service.
	ErrAuthorizationService = fmt.Errorf("tuplesync: authorization service error: %w", shared.ErrUpstream)
)

func authzError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrAuthorizationService, op, err)
}

// ConsistencyWarning reports that the relational write committed but the
// matching tuple mutation failed. The mutation is queued for retry.
type ConsistencyWarning struct {
	Op     OutboxOp
	Tuple  fga.TupleKey
	Err    error
	Queued bool
}

func (w *ConsistencyWarning) Error() string {
	return fmt.Sprintf("tuplesync: %s %s not applied: %v", w.Op, w.Tuple, w.Err)
}

func (w *ConsistencyWarning) Unwrap() error { return w.Err }

// Message is the client-facing form of the warning.
func (w *ConsistencyWarning) Message() string {
	return fmt.Sprintf("authorization tuple %s pending (%s); access through sharing may lag until reconciled", w.Tuple, w.Op)
}

// AsWarning extracts a *ConsistencyWarning from err.
func AsWarning(err error) (*ConsistencyWarning, bool) {
	var w *ConsistencyWarning
	if errors.As(err, &w) {
		return w, true
	}
	return nil, false
}

func isNotFound(err error) bool {
	return errors.Is(err, shared.ErrNotFound)
}
