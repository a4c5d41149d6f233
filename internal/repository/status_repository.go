package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/routedesk/routing-engine/internal/domain"
)

// StatusRepository stores tenant-defined status labels.
type StatusRepository interface {
	List(ctx context.Context, tenantID string) ([]domain.StatusDefinition, error)
	Upsert(ctx context.Context, def domain.StatusDefinition) error
}

type statusRepository struct {
	pool *pgxpool.Pool
}

// NewStatusRepository builds repository.
func NewStatusRepository(pool *pgxpool.Pool) StatusRepository {
	return &statusRepository{pool: pool}
}

func (r *statusRepository) List(ctx context.Context, tenantID string) ([]domain.StatusDefinition, error) {
	rows, err := r.pool.Query(ctx, `SELECT tenant_id, name, class FROM tenant_statuses WHERE tenant_id=$1 ORDER BY name`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []domain.StatusDefinition
	for rows.Next() {
		var def domain.StatusDefinition
		if err := rows.Scan(&def.TenantID, &def.Name, &def.Class); err != nil {
			return nil, err
		}
		result = append(result, def)
	}
	return result, rows.Err()
}

func (r *statusRepository) Upsert(ctx context.Context, def domain.StatusDefinition) error {
	_, err := r.pool.Exec(ctx, `
        INSERT INTO tenant_statuses (tenant_id, name, class) VALUES ($1,$2,$3)
        ON CONFLICT (tenant_id, name) DO UPDATE SET class=EXCLUDED.class`, def.TenantID, def.Name, def.Class)
	return err
}
