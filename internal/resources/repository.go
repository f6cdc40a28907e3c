package resources

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/partnerportal/portal/internal/platform/db"
	"github.com/partnerportal/portal/internal/shared"
)

// ErrNotFound indicates a missing resource or one outside the caller's scope.
var ErrNotFound = fmt.Errorf("resources: resource not found: %w", shared.ErrNotFound)

// Repository is the persistence contract of the service.
type Repository interface {
	Create(ctx context.Context, r Resource) (Resource, error)
	Get(ctx context.Context, kind Kind, id string) (Resource, error)
	List(ctx context.Context, filter ListFilter) ([]Resource, int, error)
	Update(ctx context.Context, r Resource) (Resource, error)
	SetStatus(ctx context.Context, kind Kind, id string, status Status) (Resource, error)
	Delete(ctx context.Context, kind Kind, id string) error
}

// PGRepository implements Repository on the resources table.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PGRepository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const resourceColumns = `id::text, partner_id::text, kind, name, status,
	COALESCE(supplier_partner_id::text, ''), attributes, created_by, created_at, updated_at`

func scanResource(row pgx.Row) (Resource, error) {
	var r Resource
	var attrs []byte
	err := row.Scan(&r.ID, &r.PartnerID, &r.Kind, &r.Name, &r.Status,
		&r.SupplierPartnerID, &attrs, &r.CreatedBy, &r.CreatedAt, &r.UpdatedAt)
	r.Attributes = attrs
	return r, err
}

// Create inserts a row.
func (p *PGRepository) Create(ctx context.Context, r Resource) (Resource, error) {
	created, err := scanResource(p.pool.QueryRow(ctx, `
		INSERT INTO resources (partner_id, kind, name, status, supplier_partner_id, attributes, created_by)
		VALUES ($1::uuid, $2, $3, $4, NULLIF($5, '')::uuid, $6, $7)
		RETURNING `+resourceColumns,
		r.PartnerID, string(r.Kind), r.Name, string(r.Status), r.SupplierPartnerID, []byte(r.Attributes), r.CreatedBy))
	if err != nil {
		return Resource{}, fmt.Errorf("resources: create: %w", err)
	}
	return created, nil
}

// Get loads a row of kind by id.
func (p *PGRepository) Get(ctx context.Context, kind Kind, id string) (Resource, error) {
	r, err := scanResource(p.pool.QueryRow(ctx,
		`SELECT `+resourceColumns+` FROM resources WHERE id = $1::uuid AND kind = $2`, id, string(kind)))
	if db.IsNotFound(err) {
		return Resource{}, ErrNotFound
	}
	if err != nil {
		return Resource{}, fmt.Errorf("resources: get: %w", err)
	}
	return r, nil
}

// List returns a page of rows and the total count.
func (p *PGRepository) List(ctx context.Context, f ListFilter) ([]Resource, int, error) {
	args := []any{string(f.Kind)}
	where := []string{"kind = $1"}
	switch {
	case f.PartnerID != "":
		args = append(args, f.PartnerID)
		where = append(where, fmt.Sprintf("partner_id = $%d::uuid", len(args)))
	case !f.All:
		if len(f.IDs) == 0 {
			return nil, 0, nil
		}
		ids := db.FilterUUIDs(f.IDs)
		if len(ids) == 0 {
			return nil, 0, nil
		}
		args = append(args, ids)
		where = append(where, fmt.Sprintf("id = ANY($%d::uuid[])", len(args)))
	}
	if !f.IncludeArchived {
		where = append(where, "status = 'active'")
	}
	clause := " WHERE " + strings.Join(where, " AND ")

	var total int
	if err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM resources`+clause, args...).Scan(&total); err != nil {
		if db.IsInvalidInput(err) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("resources: count: %w", err)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	args = append(args, limit, f.Offset)
	rows, err := p.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM resources%s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
			resourceColumns, clause, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, fmt.Errorf("resources: list: %w", err)
	}
	defer rows.Close()
	var out []Resource
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("resources: scan: %w", err)
		}
		out = append(out, r)
	}
	return out, total, rows.Err()
}

// Update writes name, supplier and attributes.
func (p *PGRepository) Update(ctx context.Context, r Resource) (Resource, error) {
	updated, err := scanResource(p.pool.QueryRow(ctx, `
		UPDATE resources
		SET name = $3, supplier_partner_id = NULLIF($4, '')::uuid, attributes = $5, updated_at = NOW()
		WHERE id = $1::uuid AND kind = $2
		RETURNING `+resourceColumns,
		r.ID, string(r.Kind), r.Name, r.SupplierPartnerID, []byte(r.Attributes)))
	if db.IsNotFound(err) {
		return Resource{}, ErrNotFound
	}
	if err != nil {
		return Resource{}, fmt.Errorf("resources: update: %w", err)
	}
	return updated, nil
}

// SetStatus archives or restores a row.
func (p *PGRepository) SetStatus(ctx context.Context, kind Kind, id string, status Status) (Resource, error) {
	updated, err := scanResource(p.pool.QueryRow(ctx, `
		UPDATE resources SET status = $3, updated_at = NOW()
		WHERE id = $1::uuid AND kind = $2
		RETURNING `+resourceColumns,
		id, string(kind), string(status)))
	if db.IsNotFound(err) {
		return Resource{}, ErrNotFound
	}
	if err != nil {
		return Resource{}, fmt.Errorf("resources: set status: %w", err)
	}
	return updated, nil
}

// Delete removes a row permanently.
func (p *PGRepository) Delete(ctx context.Context, kind Kind, id string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM resources WHERE id = $1::uuid AND kind = $2`, id, string(kind))
	if db.IsInvalidInput(err) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("resources: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

var _ Repository = (*PGRepository)(nil)
