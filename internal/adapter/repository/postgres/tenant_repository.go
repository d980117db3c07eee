package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/V4T54L/fleet-dispatch/internal/domain"
)

var _ domain.TenantRepository = (*TenantRepository)(nil)

// TenantRepository stores places and their key digests in Postgres.
type TenantRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewTenantRepository(db *sql.DB, logger *slog.Logger) *TenantRepository {
	return &TenantRepository{db: db, logger: logger.With("component", "postgres_tenant_repository")}
}

const tenantColumns = `place_id, name, key_hash, created_at, updated_at`

func scanTenant(row interface{ Scan(...any) error }) (*domain.Tenant, error) {
	var t domain.Tenant
	if err := row.Scan(&t.PlaceID, &t.Name, &t.KeyHash, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *TenantRepository) FindByKeyHash(ctx context.Context, hash []byte) (*domain.Tenant, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+tenantColumns+` FROM places WHERE key_hash = $1`, hash)
	t, err := scanTenant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up place by key: %w", err)
	}
	return t, nil
}

func (r *TenantRepository) Get(ctx context.Context, placeID string) (*domain.Tenant, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+tenantColumns+` FROM places WHERE place_id = $1`, placeID)
	t, err := scanTenant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get place %s: %w", placeID, err)
	}
	return t, nil
}

func (r *TenantRepository) List(ctx context.Context) ([]domain.Tenant, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+tenantColumns+` FROM places ORDER BY place_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list places: %w", err)
	}
	defer rows.Close()

	var out []domain.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan place: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (r *TenantRepository) Create(ctx context.Context, t *domain.Tenant) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO places (place_id, name, key_hash, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		t.PlaceID, t.Name, t.KeyHash, t.CreatedAt, t.UpdatedAt)
	if isUniqueViolation(err) {
		return domain.ErrTenantExists
	}
	if err != nil {
		return fmt.Errorf("failed to create place %s: %w", t.PlaceID, err)
	}
	return nil
}

func (r *TenantRepository) UpdateKeyHash(ctx context.Context, placeID string, hash []byte, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE places SET key_hash = $2, updated_at = $3 WHERE place_id = $1`, placeID, hash, at)
	if isUniqueViolation(err) {
		return domain.ErrTenantExists
	}
	if err != nil {
		return fmt.Errorf("failed to rotate key for place %s: %w", placeID, err)
	}
	return requireOneRow(res, domain.ErrTenantNotFound)
}

func (r *TenantRepository) Delete(ctx context.Context, placeID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM places WHERE place_id = $1`, placeID)
	if err != nil {
		return fmt.Errorf("failed to delete place %s: %w", placeID, err)
	}
	return requireOneRow(res, domain.ErrTenantNotFound)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation"
}

func requireOneRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
