// Package metroareas manages the global metro area reference list used by
// fleet maintenance partners. Areas are not partner scoped.
package metroareas

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/partnerportal/portal/internal/platform/db"
	"github.com/partnerportal/portal/internal/shared"
)

var (
	// ErrNotFound indicates a missing metro area.
	ErrNotFound = fmt.Errorf("metroareas: metro area not found: %w", shared.ErrNotFound)
	// ErrDuplicateCode indicates the airport code is taken.
	ErrDuplicateCode = fmt.Errorf("metroareas: airport code already registered: %w", shared.ErrDuplicate)
)

// MetroArea is one reference row.
type MetroArea struct {
	ID          string    `json:"id"`
	AirportCode string    `json:"airport_code"`
	Name        string    `json:"name"`
	Region      string    `json:"region"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Input is the body of create and update requests.
type Input struct {
	AirportCode string `json:"airport_code" validate:"required,len=3,alpha"`
	Name        string `json:"name" validate:"required,max=120"`
	Region      string `json:"region" validate:"max=120"`
}

func (in *Input) normalize() {
	in.AirportCode = strings.ToUpper(strings.TrimSpace(in.AirportCode))
	in.Name = strings.TrimSpace(in.Name)
	in.Region = strings.TrimSpace(in.Region)
}

// Repository persists metro areas.
type Repository interface {
	List(ctx context.Context, limit, offset int) ([]MetroArea, int, error)
	Get(ctx context.Context, id string) (MetroArea, error)
	Create(ctx context.Context, in Input) (MetroArea, error)
	Update(ctx context.Context, id string, in Input) (MetroArea, error)
	Delete(ctx context.Context, id string) error
}

// PGRepository implements Repository on the metro_areas table.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PGRepository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const columns = `id::text, airport_code, name, region, created_at, updated_at`

func scan(row pgx.Row) (MetroArea, error) {
	var m MetroArea
	err := row.Scan(&m.ID, &m.AirportCode, &m.Name, &m.Region, &m.CreatedAt, &m.UpdatedAt)
	return m, err
}

func (r *PGRepository) List(ctx context.Context, limit, offset int) ([]MetroArea, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM metro_areas`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("metroareas: count: %w", err)
	}
	rows, err := r.pool.Query(ctx, `SELECT `+columns+` FROM metro_areas ORDER BY airport_code LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("metroareas: list: %w", err)
	}
	defer rows.Close()
	var out []MetroArea
	for rows.Next() {
		m, err := scan(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("metroareas: scan: %w", err)
		}
		out = append(out, m)
	}
	return out, total, rows.Err()
}

func (r *PGRepository) Get(ctx context.Context, id string) (MetroArea, error) {
	m, err := scan(r.pool.QueryRow(ctx, `SELECT `+columns+` FROM metro_areas WHERE id = $1::uuid`, id))
	if db.IsNotFound(err) {
		return MetroArea{}, ErrNotFound
	}
	if err != nil {
		return MetroArea{}, fmt.Errorf("metroareas: get: %w", err)
	}
	return m, nil
}

func (r *PGRepository) Create(ctx context.Context, in Input) (MetroArea, error) {
	m, err := scan(r.pool.QueryRow(ctx,
		`INSERT INTO metro_areas (airport_code, name, region) VALUES ($1, $2, $3) RETURNING `+columns,
		in.AirportCode, in.Name, in.Region))
	if shared.IsUniqueViolation(err) {
		return MetroArea{}, ErrDuplicateCode
	}
	if err != nil {
		return MetroArea{}, fmt.Errorf("metroareas: create: %w", err)
	}
	return m, nil
}

func (r *PGRepository) Update(ctx context.Context, id string, in Input) (MetroArea, error) {
	m, err := scan(r.pool.QueryRow(ctx, `
		UPDATE metro_areas SET airport_code = $2, name = $3, region = $4, updated_at = NOW()
		WHERE id = $1::uuid RETURNING `+columns,
		id, in.AirportCode, in.Name, in.Region))
	switch {
	case db.IsNotFound(err):
		return MetroArea{}, ErrNotFound
	case shared.IsUniqueViolation(err):
		return MetroArea{}, ErrDuplicateCode
	case err != nil:
		return MetroArea{}, fmt.Errorf("metroareas: update: %w", err)
	}
	return m, nil
}

func (r *PGRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM metro_areas WHERE id = $1::uuid`, id)
	if db.IsInvalidInput(err) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("metroareas: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Auditor records audit trail entries.
type Auditor interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service implements metro area use cases. Authorization is applied by the
// routes: reads need a principal, writes a super admin.
type Service struct {
	repo   Repository
	audit  Auditor
	logger *slog.Logger
}

// NewService constructs a Service.
func NewService(repo Repository, audit Auditor, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger}
}

func (s *Service) List(ctx context.Context, page shared.PageRequest) ([]MetroArea, int, error) {
	items, total, err := s.repo.List(ctx, page.PerPage, page.Offset())
	if items == nil {
		items = []MetroArea{}
	}
	return items, total, err
}

func (s *Service) Get(ctx context.Context, id string) (MetroArea, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) Create(ctx context.Context, actor shared.Principal, in Input) (MetroArea, error) {
	in.normalize()
	if err := shared.ValidateStruct(in); err != nil {
		return MetroArea{}, err
	}
	m, err := s.repo.Create(ctx, in)
	if err != nil {
		return MetroArea{}, err
	}
	s.record(ctx, actor, "metro_area.created", m)
	return m, nil
}

func (s *Service) Update(ctx context.Context, actor shared.Principal, id string, in Input) (MetroArea, error) {
	in.normalize()
	if err := shared.ValidateStruct(in); err != nil {
		return MetroArea{}, err
	}
	m, err := s.repo.Update(ctx, id, in)
	if err != nil {
		return MetroArea{}, err
	}
	s.record(ctx, actor, "metro_area.updated", m)
	return m, nil
}

func (s *Service) Delete(ctx context.Context, actor shared.Principal, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.record(ctx, actor, "metro_area.deleted", MetroArea{ID: id})
	return nil
}

func (s *Service) record(ctx context.Context, actor shared.Principal, action string, m MetroArea) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID: actor.ID, Action: action, Entity: "metro_area", EntityID: m.ID,
		Meta: map[string]any{"airport_code": m.AirportCode},
	})
	if err != nil {
		s.logger.Warn("audit metro area", slog.String("action", action), slog.Any("error", err))
	}
}

var _ Repository = (*PGRepository)(nil)
