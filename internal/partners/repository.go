package partners

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/partnerportal/portal/internal/platform/db"
	"github.com/partnerportal/portal/internal/shared"
)

// ErrNotFound indicates a missing partner.
var ErrNotFound = fmt.Errorf("partners: partner not found: %w", shared.ErrNotFound)

// ErrDuplicateSlug indicates a partner with the same slug exists.
var ErrDuplicateSlug = fmt.Errorf("partners: a partner with this name already exists: %w", shared.ErrDuplicate)

// Repository is the persistence contract of the service.
type Repository interface {
	Create(ctx context.Context, p Partner) (Partner, error)
	Get(ctx context.Context, id string) (Partner, error)
	List(ctx context.Context, filter ListFilter) ([]Partner, int, error)
	Update(ctx context.Context, p Partner) (Partner, error)
	SetOrgID(ctx context.Context, id, orgID string) error
}

// PGRepository implements Repository on PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PGRepository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const partnerColumns = `id::text, name, slug, type, status, COALESCE(auth0_org_id, ''), created_at, updated_at`

func scanPartner(row pgx.Row) (Partner, error) {
	var p Partner
	err := row.Scan(&p.ID, &p.Name, &p.Slug, &p.Type, &p.Status, &p.Auth0OrgID, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

// Create inserts a partner.
func (r *PGRepository) Create(ctx context.Context, p Partner) (Partner, error) {
	created, err := scanPartner(r.pool.QueryRow(ctx, `
		INSERT INTO partners (name, slug, type, status)
		VALUES ($1, $2, $3, $4)
		RETURNING `+partnerColumns,
		p.Name, p.Slug, string(p.Type), string(p.Status)))
	if shared.IsUniqueViolation(err) {
		return Partner{}, ErrDuplicateSlug
	}
	if err != nil {
		return Partner{}, fmt.Errorf("partners: create: %w", err)
	}
	return created, nil
}

// Get loads a partner by id.
func (r *PGRepository) Get(ctx context.Context, id string) (Partner, error) {
	p, err := scanPartner(r.pool.QueryRow(ctx, `SELECT `+partnerColumns+` FROM partners WHERE id = $1::uuid`, id))
	if db.IsNotFound(err) {
		return Partner{}, ErrNotFound
	}
	if err != nil {
		return Partner{}, fmt.Errorf("partners: get: %w", err)
	}
	return p, nil
}

// List returns a page of partners matching filter and the total count.
func (r *PGRepository) List(ctx context.Context, f ListFilter) ([]Partner, int, error) {
	var (
		where []string
		args  []any
	)
	if !f.All {
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
	if f.Type != "" {
		args = append(args, string(f.Type))
		where = append(where, fmt.Sprintf("type = $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM partners`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("partners: count: %w", err)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	args = append(args, limit, f.Offset)
	rows, err := r.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM partners%s ORDER BY name, id LIMIT $%d OFFSET $%d`, partnerColumns, clause, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, fmt.Errorf("partners: list: %w", err)
	}
	defer rows.Close()
	var out []Partner
	for rows.Next() {
		p, err := scanPartner(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("partners: scan: %w", err)
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

// Update writes name, slug, type and status.
func (r *PGRepository) Update(ctx context.Context, p Partner) (Partner, error) {
	updated, err := scanPartner(r.pool.QueryRow(ctx, `
		UPDATE partners SET name = $2, slug = $3, type = $4, status = $5, updated_at = NOW()
		WHERE id = $1::uuid
		RETURNING `+partnerColumns,
		p.ID, p.Name, p.Slug, string(p.Type), string(p.Status)))
	if db.IsNotFound(err) {
		return Partner{}, ErrNotFound
	}
	if shared.IsUniqueViolation(err) {
		return Partner{}, ErrDuplicateSlug
	}
	if err != nil {
		return Partner{}, fmt.Errorf("partners: update: %w", err)
	}
	return updated, nil
}

// SetOrgID stores the identity provider organization id.
func (r *PGRepository) SetOrgID(ctx context.Context, id, orgID string) error {
	_, err := r.pool.Exec(ctx, `UPDATE partners SET auth0_org_id = $2, updated_at = NOW() WHERE id = $1::uuid`, id, orgID)
	if err != nil {
		return fmt.Errorf("partners: set org id: %w", err)
	}
	return nil
}

var _ Repository = (*PGRepository)(nil)
