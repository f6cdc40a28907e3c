package tuplesync

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/partnerportal/portal/internal/events"
	"github.com/partnerportal/portal/internal/fga"
	"github.com/partnerportal/portal/internal/shared"
)

// Locker serializes role operations on one (partner, user) pair.
type Locker interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

// Options tunes a Synchronizer.
type Options struct {
	// Locker is optional; without it concurrent role changes on the same
	// pair are last-write-wins at each layer.
	Locker Locker
	// Publisher receives domain events; NoopPublisher when nil.
	Publisher events.Publisher
	Metrics   *Metrics
	Logger    *slog.Logger
	// MaxOutboxAttempts bounds retries of a queued mutation.
	MaxOutboxAttempts int
	// RetainArchived keeps hierarchy tuples of archived resources.
	RetainArchived bool
}

// Synchronizer performs paired relational and tuple writes.
type Synchronizer struct {
	store          Store
	fga            fga.Client
	locker         Locker
	publisher      events.Publisher
	metrics        *Metrics
	logger         *slog.Logger
	maxAttempts    int
	retainArchived bool
}

// New constructs a Synchronizer.
func New(store Store, client fga.Client, opts Options) *Synchronizer {
	s := &Synchronizer{
		store:          store,
		fga:            client,
		locker:         opts.Locker,
		publisher:      opts.Publisher,
		metrics:        opts.Metrics,
		logger:         opts.Logger,
		maxAttempts:    opts.MaxOutboxAttempts,
		retainArchived: opts.RetainArchived,
	}
	if s.publisher == nil {
		s.publisher = events.NoopPublisher{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = 10
	}
	return s
}

// RetainArchived reports the soft-delete tuple policy.
func (s *Synchronizer) RetainArchived() bool {
	return s.retainArchived
}

func (s *Synchronizer) lock(ctx context.Context, partnerID, userID string) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	release, err := s.locker.Acquire(ctx, shared.MembershipLockKey(partnerID, userID))
	if err != nil {
		return nil, fmt.Errorf("tuplesync: lock %s/%s: %w", partnerID, userID, err)
	}
	return release, nil
}

// GrantRole makes userID a member of partnerID with role. The row is stored
// as pending, the membership tuple written, then the row activated. A failed
// tuple write leaves the row pending and is returned as an error.
func (s *Synchronizer) GrantRole(ctx context.Context, userID, partnerID string, role Role) (assignment RoleAssignment, err error) {
	defer func() { s.metrics.observe("grant", err) }()
	if err := validatePair(userID, partnerID); err != nil {
		return RoleAssignment{}, err
	}
	if !role.Valid() {
		return RoleAssignment{}, fmt.Errorf("%w %q", ErrInvalidRole, role)
	}
	exists, err := s.store.PartnerExists(ctx, partnerID)
	if err != nil {
		return RoleAssignment{}, err
	}
	if !exists {
		return RoleAssignment{}, ErrPartnerNotFound
	}
	release, err := s.lock(ctx, partnerID, userID)
	if err != nil {
		return RoleAssignment{}, err
	}
	defer release()

	previous, err := s.store.GetAssignment(ctx, partnerID, userID)
	hadRow := err == nil
	if err != nil && !isNotFound(err) {
		return RoleAssignment{}, err
	}
	if hadRow && previous.Role == role && previous.Status == StatusActive {
		// Nothing to grant. The row stays active; a failed rewrite of its
		// tuple is queued instead of demoting the row.
		if err := s.apply(ctx, OutboxWrite, previous.Tuple()); err != nil {
			s.queue(ctx, OutboxWrite, previous.Tuple(), partnerID, err)
			s.logger.Warn("re-grant tuple write deferred",
				slog.String("partner_id", partnerID), slog.String("user_id", userID), slog.Any("error", err))
		}
		return previous, nil
	}
	assignment, err = s.store.UpsertAssignment(ctx, partnerID, userID, role, StatusPending)
	if err != nil {
		return RoleAssignment{}, err
	}
	if hadRow && previous.Role != role {
		if err := s.deleteMembership(ctx, previous.Tuple(), partnerID); err != nil {
			return RoleAssignment{}, err
		}
	}
	if err := s.apply(ctx, OutboxWrite, assignment.Tuple()); err != nil {
		s.logger.Error("grant role tuple write failed",
			slog.String("partner_id", partnerID), slog.String("user_id", userID),
			slog.String("role", string(role)), slog.Any("error", err))
		return RoleAssignment{}, authzError("write membership", err)
	}
	if err := s.store.SetStatus(ctx, partnerID, userID, StatusActive); err != nil {
		return RoleAssignment{}, err
	}
	assignment.Status = StatusActive
	s.publish(ctx, events.Event{
		Type: events.RoleGranted, PartnerID: partnerID, Subject: userID,
		Attributes: map[string]string{"role": string(role)},
	})
	return assignment, nil
}

// RevokeRole removes userID from partnerID. The row is marked inactive, the
// membership tuple deleted and the row removed. When the tuple delete fails
// the row stays inactive and the delete is queued.
func (s *Synchronizer) RevokeRole(ctx context.Context, userID, partnerID string) (err error) {
	defer func() { s.metrics.observe("revoke", err) }()
	if err := validatePair(userID, partnerID); err != nil {
		return err
	}
	release, err := s.lock(ctx, partnerID, userID)
	if err != nil {
		return err
	}
	defer release()

	current, err := s.store.GetAssignment(ctx, partnerID, userID)
	if err != nil {
		return err
	}
	if err := s.store.SetStatus(ctx, partnerID, userID, StatusInactive); err != nil {
		return err
	}
	if err := s.deleteMembership(ctx, current.Tuple(), partnerID); err != nil {
		return err
	}
	if err := s.store.DeleteAssignment(ctx, partnerID, userID); err != nil {
		return err
	}
	s.publish(ctx, events.Event{
		Type: events.RoleRevoked, PartnerID: partnerID, Subject: userID,
		Attributes: map[string]string{"role": string(current.Role)},
	})
	return nil
}

// SuspendRole removes the capability of an active member but keeps the row
// (status inactive) so that the membership can be granted again later.
func (s *Synchronizer) SuspendRole(ctx context.Context, userID, partnerID string) (assignment RoleAssignment, err error) {
	defer func() { s.metrics.observe("suspend", err) }()
	if err := validatePair(userID, partnerID); err != nil {
		return RoleAssignment{}, err
	}
	release, err := s.lock(ctx, partnerID, userID)
	if err != nil {
		return RoleAssignment{}, err
	}
	defer release()

	assignment, err = s.store.GetAssignment(ctx, partnerID, userID)
	if err != nil {
		return RoleAssignment{}, err
	}
	if err := s.store.SetStatus(ctx, partnerID, userID, StatusInactive); err != nil {
		return RoleAssignment{}, err
	}
	assignment.Status = StatusInactive
	if err := s.deleteMembership(ctx, assignment.Tuple(), partnerID); err != nil {
		return RoleAssignment{}, err
	}
	s.publish(ctx, events.Event{
		Type: events.RoleSuspended, PartnerID: partnerID, Subject: userID,
		Attributes: map[string]string{"role": string(assignment.Role)},
	})
	return assignment, nil
}

// ChangeRole moves userID from oldRole to newRole. The old tuple is deleted
// before the new one is written, so a failed write leaves no access at all.
func (s *Synchronizer) ChangeRole(ctx context.Context, userID, partnerID string, oldRole, newRole Role) (assignment RoleAssignment, err error) {
	defer func() { s.metrics.observe("change", err) }()
	if err := validatePair(userID, partnerID); err != nil {
		return RoleAssignment{}, err
	}
	if !oldRole.Valid() {
		return RoleAssignment{}, fmt.Errorf("%w %q", ErrInvalidRole, oldRole)
	}
	if !newRole.Valid() {
		return RoleAssignment{}, fmt.Errorf("%w %q", ErrInvalidRole, newRole)
	}
	release, err := s.lock(ctx, partnerID, userID)
	if err != nil {
		return RoleAssignment{}, err
	}
	defer release()

	assignment, err = s.store.CompareAndSetRole(ctx, partnerID, userID, oldRole, newRole, StatusPending)
	if err != nil {
		return RoleAssignment{}, err
	}
	if err := s.deleteMembership(ctx, fga.MembershipTuple(userID, string(oldRole), partnerID), partnerID); err != nil {
		return RoleAssignment{}, err
	}
	if err := s.apply(ctx, OutboxWrite, assignment.Tuple()); err != nil {
		s.logger.Error("change role tuple write failed, member left without access",
			slog.String("partner_id", partnerID), slog.String("user_id", userID),
			slog.String("role", string(newRole)), slog.Any("error", err))
		return RoleAssignment{}, authzError("write membership", err)
	}
	if err := s.store.SetStatus(ctx, partnerID, userID, StatusActive); err != nil {
		return RoleAssignment{}, err
	}
	assignment.Status = StatusActive
	s.publish(ctx, events.Event{
		Type: events.RoleChanged, PartnerID: partnerID, Subject: userID,
		Attributes: map[string]string{"from": string(oldRole), "to": string(newRole)},
	})
	return assignment, nil
}

// AttachResource writes the hierarchy tuple of a committed resource row. A
// failure is returned as a *ConsistencyWarning and queued for retry.
func (s *Synchronizer) AttachResource(ctx context.Context, objectType, id, partnerID string) error {
	if err := validateResource(objectType, id, partnerID); err != nil {
		return err
	}
	return s.link(ctx, "attach", OutboxWrite, fga.HierarchyTuple(partnerID, objectType, id), partnerID, events.ResourceAttached)
}

// DetachResource deletes the hierarchy tuple. Failures are warnings.
func (s *Synchronizer) DetachResource(ctx context.Context, objectType, id, partnerID string) error {
	if err := validateResource(objectType, id, partnerID); err != nil {
		return err
	}
	return s.link(ctx, "detach", OutboxDelete, fga.HierarchyTuple(partnerID, objectType, id), partnerID, events.ResourceDetached)
}

// AttachSupplier lets supplierPartnerID view the sku. Failures are warnings.
func (s *Synchronizer) AttachSupplier(ctx context.Context, skuID, supplierPartnerID string) error {
	if err := validateResource(fga.TypeSKU, skuID, supplierPartnerID); err != nil {
		return err
	}
	return s.link(ctx, "attach_supplier", OutboxWrite, fga.SupplierTuple(supplierPartnerID, skuID), supplierPartnerID, events.ResourceAttached)
}

// DetachSupplier removes the supplier tuple. Failures are warnings.
func (s *Synchronizer) DetachSupplier(ctx context.Context, skuID, supplierPartnerID string) error {
	if err := validateResource(fga.TypeSKU, skuID, supplierPartnerID); err != nil {
		return err
	}
	return s.link(ctx, "detach_supplier", OutboxDelete, fga.SupplierTuple(supplierPartnerID, skuID), supplierPartnerID, events.ResourceDetached)
}

func (s *Synchronizer) link(ctx context.Context, name string, op OutboxOp, tuple fga.TupleKey, partnerID, eventType string) error {
	err := s.apply(ctx, op, tuple)
	s.metrics.observe(name, err)
	if err != nil {
		return s.warning(ctx, op, tuple, partnerID, err)
	}
	s.publish(ctx, events.Event{
		Type: eventType, PartnerID: partnerID, Subject: tuple.Object,
		Attributes: map[string]string{"relation": tuple.Relation},
	})
	return nil
}

// deleteMembership removes a membership tuple, queueing the delete when the
// FGA call fails so that the capability is eventually removed.
func (s *Synchronizer) deleteMembership(ctx context.Context, tuple fga.TupleKey, partnerID string) error {
	err := s.apply(ctx, OutboxDelete, tuple)
	if err == nil {
		return nil
	}
	s.queue(ctx, OutboxDelete, tuple, partnerID, err)
	s.logger.Error("membership tuple delete failed",
		slog.String("tuple", tuple.String()), slog.Any("error", err))
	return authzError("delete membership", err)
}

// apply performs one tuple mutation and supersedes queued mutations of the
// same tuple, which would otherwise replay stale intent.
func (s *Synchronizer) apply(ctx context.Context, op OutboxOp, tuple fga.TupleKey) error {
	var err error
	switch op {
	case OutboxWrite:
		err = s.fga.WriteTuple(ctx, tuple)
	case OutboxDelete:
		err = s.fga.DeleteTuple(ctx, tuple)
	default:
		err = fmt.Errorf("tuplesync: unknown op %q", op)
	}
	if err != nil {
		return err
	}
	if cerr := s.store.CancelOutbox(ctx, tuple); cerr != nil {
		s.logger.Warn("cancel outbox entries", slog.String("tuple", tuple.String()), slog.Any("error", cerr))
	}
	return nil
}

func (s *Synchronizer) warning(ctx context.Context, op OutboxOp, tuple fga.TupleKey, partnerID string, cause error) error {
	s.metrics.warn(op)
	w := &ConsistencyWarning{Op: op, Tuple: tuple, Err: cause}
	w.Queued = s.queue(ctx, op, tuple, partnerID, cause)
	s.logger.Warn("tuple mutation deferred",
		slog.String("op", string(op)), slog.String("tuple", tuple.String()),
		slog.Bool("queued", w.Queued), slog.Any("error", cause))
	s.publish(ctx, events.Event{
		Type: events.SyncWarning, PartnerID: partnerID, Subject: tuple.Object,
		Attributes: map[string]string{"op": string(op), "tuple": tuple.String()},
	})
	return w
}

func (s *Synchronizer) queue(ctx context.Context, op OutboxOp, tuple fga.TupleKey, partnerID string, cause error) bool {
	err := s.store.EnqueueOutbox(ctx, OutboxEntry{Op: op, Tuple: tuple, PartnerID: partnerID, LastError: cause.Error()})
	if err != nil {
		s.logger.Error("enqueue outbox", slog.String("tuple", tuple.String()), slog.Any("error", err))
		return false
	}
	return true
}

func (s *Synchronizer) publish(ctx context.Context, event events.Event) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("publish event", slog.String("type", event.Type), slog.Any("error", err))
	}
}

// Assignment returns the current row of a pair.
func (s *Synchronizer) Assignment(ctx context.Context, userID, partnerID string) (RoleAssignment, error) {
	return s.store.GetAssignment(ctx, partnerID, userID)
}

// Members lists the role assignments of a partner.
func (s *Synchronizer) Members(ctx context.Context, partnerID string) ([]RoleAssignment, error) {
	return s.store.ListAssignments(ctx, partnerID)
}

// Memberships lists the role assignments of a user.
func (s *Synchronizer) Memberships(ctx context.Context, userID string) ([]RoleAssignment, error) {
	return s.store.ListAssignmentsByUser(ctx, userID)
}

func validatePair(userID, partnerID string) error {
	if strings.TrimSpace(userID) == "" {
		return ErrInvalidPrincipal
	}
	if strings.TrimSpace(partnerID) == "" {
		return ErrPartnerNotFound
	}
	return nil
}

func validateResource(objectType, id, partnerID string) error {
	if objectType == "" || id == "" || partnerID == "" {
		return ErrInvalidResource
	}
	return nil
}
