package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TenantRepository enumerates tenants that have routing configuration.
type TenantRepository interface {
	ListTenants(ctx context.Context) ([]string, error)
}

type tenantRepository struct {
	pool *pgxpool.Pool
}

// NewTenantRepository builds repository.
func NewTenantRepository(pool *pgxpool.Pool) TenantRepository {
	return &tenantRepository{pool: pool}
}

func (r *tenantRepository) ListTenants(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
        SELECT tenant_id FROM queues
        UNION
        SELECT tenant_id FROM sla_policies
        ORDER BY tenant_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tenants []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		tenants = append(tenants, id)
	}
	return tenants, rows.Err()
}
