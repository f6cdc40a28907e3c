package tuplesync

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/partnerportal/portal/internal/fga"
	"github.com/partnerportal/portal/internal/platform/db"
)

// Store persists role assignments and the tuple outbox.
type Store interface {
	PartnerExists(ctx context.Context, partnerID string) (bool, error)
	ListPartnerIDs(ctx context.Context) ([]string, error)

	GetAssignment(ctx context.Context, partnerID, userID string) (RoleAssignment, error)
	UpsertAssignment(ctx context.Context, partnerID, userID string, role Role, status Status) (RoleAssignment, error)
	CompareAndSetRole(ctx context.Context, partnerID, userID string, oldRole, newRole Role, status Status) (RoleAssignment, error)
	SetStatus(ctx context.Context, partnerID, userID string, status Status) error
	DeleteAssignment(ctx context.Context, partnerID, userID string) error
	ListAssignments(ctx context.Context, partnerID string) ([]RoleAssignment, error)
	ListAssignmentsByUser(ctx context.Context, userID string) ([]RoleAssignment, error)

	ListResourceLinks(ctx context.Context, partnerID string) ([]ResourceLink, error)

	EnqueueOutbox(ctx context.Context, entry OutboxEntry) error
	CancelOutbox(ctx context.Context, tuple fga.TupleKey) error
	PendingOutbox(ctx context.Context, limit int) ([]OutboxEntry, error)
	CompleteOutbox(ctx context.Context, id int64) error
	FailOutbox(ctx context.Context, id int64, lastError string, dead bool) error
}

// Repository implements Store on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const assignmentColumns = `partner_id, user_id, role, status, created_at, updated_at`

func scanAssignment(row pgx.Row) (RoleAssignment, error) {
	var a RoleAssignment
	err := row.Scan(&a.PartnerID, &a.UserID, &a.Role, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func collectAssignments(rows pgx.Rows) ([]RoleAssignment, error) {
	defer rows.Close()
	var out []RoleAssignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// PartnerExists reports whether an active partner row exists.
func (r *Repository) PartnerExists(ctx context.Context, partnerID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM partners WHERE id = $1::uuid AND status = 'active')`, partnerID).Scan(&exists)
	if db.IsInvalidInput(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("tuplesync: partner exists: %w", err)
	}
	return exists, nil
}

// ListPartnerIDs returns every partner id, active or not.
func (r *Repository) ListPartnerIDs(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT id::text FROM partners ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("tuplesync: list partners: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("tuplesync: list partners: %w", err)
	}
	return ids, nil
}

// GetAssignment loads one row.
func (r *Repository) GetAssignment(ctx context.Context, partnerID, userID string) (RoleAssignment, error) {
	a, err := scanAssignment(r.pool.QueryRow(ctx,
		`SELECT `+assignmentColumns+` FROM role_assignments WHERE partner_id = $1::uuid AND user_id = $2`,
		partnerID, userID))
	if db.IsNotFound(err) {
		return RoleAssignment{}, ErrAssignmentNotFound
	}
	if err != nil {
		return RoleAssignment{}, fmt.Errorf("tuplesync: get assignment: %w", err)
	}
	return a, nil
}

// UpsertAssignment creates the row or overwrites role and status.
func (r *Repository) UpsertAssignment(ctx context.Context, partnerID, userID string, role Role, status Status) (RoleAssignment, error) {
	a, err := scanAssignment(r.pool.QueryRow(ctx, `
		INSERT INTO role_assignments (partner_id, user_id, role, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (partner_id, user_id) DO UPDATE
		SET role = EXCLUDED.role, status = EXCLUDED.status, updated_at = NOW()
		RETURNING `+assignmentColumns,
		partnerID, userID, string(role), string(status)))
	if err != nil {
		return RoleAssignment{}, fmt.Errorf("tuplesync: upsert assignment: %w", err)
	}
	return a, nil
}

// CompareAndSetRole switches the role only when the row still holds oldRole.
func (r *Repository) CompareAndSetRole(ctx context.Context, partnerID, userID string, oldRole, newRole Role, status Status) (RoleAssignment, error) {
	a, err := scanAssignment(r.pool.QueryRow(ctx, `
		UPDATE role_assignments
		SET role = $4, status = $5, updated_at = NOW()
		WHERE partner_id = $1::uuid AND user_id = $2 AND role = $3
		RETURNING `+assignmentColumns,
		partnerID, userID, string(oldRole), string(newRole), string(status)))
	if err == nil {
		return a, nil
	}
	if !db.IsNotFound(err) {
		return RoleAssignment{}, fmt.Errorf("tuplesync: change role: %w", err)
	}
	if _, err := r.GetAssignment(ctx, partnerID, userID); err != nil {
		return RoleAssignment{}, err
	}
	return RoleAssignment{}, ErrRoleMismatch
}

// SetStatus updates the status of an existing row.
func (r *Repository) SetStatus(ctx context.Context, partnerID, userID string, status Status) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE role_assignments SET status = $3, updated_at = NOW() WHERE partner_id = $1::uuid AND user_id = $2`,
		partnerID, userID, string(status))
	if db.IsInvalidInput(err) {
		return ErrAssignmentNotFound
	}
	if err != nil {
		return fmt.Errorf("tuplesync: set status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAssignmentNotFound
	}
	return nil
}

// DeleteAssignment removes the row. Deleting a missing row succeeds.
func (r *Repository) DeleteAssignment(ctx context.Context, partnerID, userID string) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM role_assignments WHERE partner_id = $1::uuid AND user_id = $2`, partnerID, userID)
	if err != nil && !db.IsInvalidInput(err) {
		return fmt.Errorf("tuplesync: delete assignment: %w", err)
	}
	return nil
}

// ListAssignments returns every row of a partner.
func (r *Repository) ListAssignments(ctx context.Context, partnerID string) ([]RoleAssignment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+assignmentColumns+` FROM role_assignments WHERE partner_id = $1::uuid ORDER BY created_at, user_id`, partnerID)
	if err != nil {
		return nil, fmt.Errorf("tuplesync: list assignments: %w", err)
	}
	out, err := collectAssignments(rows)
	if db.IsInvalidInput(err) {
		return nil, nil
	}
	return out, err
}

// ListAssignmentsByUser returns every row of a user across partners.
func (r *Repository) ListAssignmentsByUser(ctx context.Context, userID string) ([]RoleAssignment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+assignmentColumns+` FROM role_assignments WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("tuplesync: list user assignments: %w", err)
	}
	return collectAssignments(rows)
}

// ListResourceLinks returns the resources owned or supplied by a partner.
func (r *Repository) ListResourceLinks(ctx context.Context, partnerID string) ([]ResourceLink, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, kind, partner_id::text, COALESCE(supplier_partner_id::text, ''), status = 'archived'
		FROM resources
		WHERE partner_id = $1::uuid OR supplier_partner_id = $1::uuid`, partnerID)
	if err != nil {
		return nil, fmt.Errorf("tuplesync: list resources: %w", err)
	}
	defer rows.Close()
	var out []ResourceLink
	for rows.Next() {
		var l ResourceLink
		if err := rows.Scan(&l.ID, &l.Kind, &l.PartnerID, &l.SupplierPartnerID, &l.Archived); err != nil {
			return nil, fmt.Errorf("tuplesync: scan resource: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// EnqueueOutbox stores a failed mutation. Older pending entries for the same
// tuple are superseded.
func (r *Repository) EnqueueOutbox(ctx context.Context, e OutboxEntry) error {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			UPDATE tuple_outbox SET status = 'superseded', updated_at = NOW()
			WHERE status = 'pending' AND tuple_user = $1 AND tuple_relation = $2 AND tuple_object = $3`,
			e.Tuple.User, e.Tuple.Relation, e.Tuple.Object); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO tuple_outbox (op, tuple_user, tuple_relation, tuple_object, partner_id, last_error)
			VALUES ($1, $2, $3, $4, NULLIF($5, '')::uuid, $6)`,
			string(e.Op), e.Tuple.User, e.Tuple.Relation, e.Tuple.Object, e.PartnerID, e.LastError)
		return err
	})
	if err != nil {
		return fmt.Errorf("tuplesync: enqueue outbox: %w", err)
	}
	return nil
}

// CancelOutbox supersedes pending entries for tuple after it was applied inline.
func (r *Repository) CancelOutbox(ctx context.Context, t fga.TupleKey) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE tuple_outbox SET status = 'superseded', updated_at = NOW()
		WHERE status = 'pending' AND tuple_user = $1 AND tuple_relation = $2 AND tuple_object = $3`,
		t.User, t.Relation, t.Object)
	if err != nil {
		return fmt.Errorf("tuplesync: cancel outbox: %w", err)
	}
	return nil
}

// PendingOutbox returns the oldest pending entries.
func (r *Repository) PendingOutbox(ctx context.Context, limit int) ([]OutboxEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, op, tuple_user, tuple_relation, tuple_object, COALESCE(partner_id::text, ''), attempts, COALESCE(last_error, ''), created_at
		FROM tuple_outbox
		WHERE status = 'pending'
		ORDER BY id
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("tuplesync: pending outbox: %w", err)
	}
	defer rows.Close()
	var out []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		if err := rows.Scan(&e.ID, &e.Op, &e.Tuple.User, &e.Tuple.Relation, &e.Tuple.Object, &e.PartnerID, &e.Attempts, &e.LastError, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("tuplesync: scan outbox: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CompleteOutbox marks an entry applied.
func (r *Repository) CompleteOutbox(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx, `UPDATE tuple_outbox SET status = 'done', updated_at = NOW() WHERE id = $1`, id)
	return err
}

// FailOutbox records a failed attempt; dead entries are not retried.
func (r *Repository) FailOutbox(ctx context.Context, id int64, lastError string, dead bool) error {
	status := "pending"
	if dead {
		status = "dead"
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE tuple_outbox SET attempts = attempts + 1, last_error = $2, status = $3, updated_at = NOW()
		WHERE id = $1`, id, lastError, status)
	return err
}

var _ Store = (*Repository)(nil)
