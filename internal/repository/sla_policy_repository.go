package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/routedesk/routing-engine/internal/calendar"
	"github.com/routedesk/routing-engine/internal/domain"
)

// SlaPolicyRepository persists SLA policies.
type SlaPolicyRepository interface {
	Create(ctx context.Context, policy *domain.SlaPolicy) error
	Update(ctx context.Context, policy *domain.SlaPolicy) error
	GetByID(ctx context.Context, tenantID, id string) (*domain.SlaPolicy, error)
	// FindActive matches (tenant, priority, channel) exactly; a nil channel matches only wildcard rows.
	FindActive(ctx context.Context, tenantID string, priority domain.TicketPriority, channel *string) (*domain.SlaPolicy, error)
	List(ctx context.Context, tenantID string) ([]domain.SlaPolicy, error)
}

type slaPolicyRepository struct {
	pool *pgxpool.Pool
}

// NewSlaPolicyRepository builds repository.
func NewSlaPolicyRepository(pool *pgxpool.Pool) SlaPolicyRepository {
	return &slaPolicyRepository{pool: pool}
}

const slaPolicyColumns = `id, tenant_id, name, priority, channel, response_time_minutes, resolution_time_minutes,
               business_hours, alert_threshold_percent, notify_email, notify_system, active, created_at, updated_at`

func (r *slaPolicyRepository) Create(ctx context.Context, policy *domain.SlaPolicy) error {
	hours, err := encodeSchedule(policy.BusinessHours)
	if err != nil {
		return err
	}
	const query = `
        INSERT INTO sla_policies (id, tenant_id, name, priority, channel, response_time_minutes, resolution_time_minutes,
            business_hours, alert_threshold_percent, notify_email, notify_system, active)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
        RETURNING created_at, updated_at`
	return r.pool.QueryRow(ctx, query,
		policy.ID,
		policy.TenantID,
		policy.Name,
		policy.Priority,
		policy.Channel,
		policy.ResponseTimeMinutes,
		policy.ResolutionTimeMinutes,
		hours,
		policy.AlertThresholdPercent,
		policy.NotifyEmail,
		policy.NotifySystem,
		policy.Active,
	).Scan(&policy.CreatedAt, &policy.UpdatedAt)
}

func (r *slaPolicyRepository) Update(ctx context.Context, policy *domain.SlaPolicy) error {
	hours, err := encodeSchedule(policy.BusinessHours)
	if err != nil {
		return err
	}
	const query = `
        UPDATE sla_policies SET name=$1, priority=$2, channel=$3, response_time_minutes=$4, resolution_time_minutes=$5,
            business_hours=$6, alert_threshold_percent=$7, notify_email=$8, notify_system=$9, active=$10, updated_at=NOW()
        WHERE tenant_id=$11 AND id=$12
        RETURNING updated_at`
	err = r.pool.QueryRow(ctx, query,
		policy.Name,
		policy.Priority,
		policy.Channel,
		policy.ResponseTimeMinutes,
		policy.ResolutionTimeMinutes,
		hours,
		policy.AlertThresholdPercent,
		policy.NotifyEmail,
		policy.NotifySystem,
		policy.Active,
		policy.TenantID,
		policy.ID,
	).Scan(&policy.UpdatedAt)
	return mapNoRows(err)
}

func (r *slaPolicyRepository) GetByID(ctx context.Context, tenantID, id string) (*domain.SlaPolicy, error) {
	policies, err := r.query(ctx, `SELECT `+slaPolicyColumns+` FROM sla_policies WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	if err != nil {
		return nil, err
	}
	if len(policies) == 0 {
		return nil, ErrNotFound
	}
	return &policies[0], nil
}

func (r *slaPolicyRepository) FindActive(ctx context.Context, tenantID string, priority domain.TicketPriority, channel *string) (*domain.SlaPolicy, error) {
	var (
		policies []domain.SlaPolicy
		err      error
	)
	if channel == nil {
		policies, err = r.query(ctx, `SELECT `+slaPolicyColumns+` FROM sla_policies
            WHERE tenant_id=$1 AND priority=$2 AND channel IS NULL AND active
            ORDER BY created_at ASC LIMIT 1`, tenantID, priority)
	} else {
		policies, err = r.query(ctx, `SELECT `+slaPolicyColumns+` FROM sla_policies
            WHERE tenant_id=$1 AND priority=$2 AND channel=$3 AND active
            ORDER BY created_at ASC LIMIT 1`, tenantID, priority, *channel)
	}
	if err != nil {
		return nil, err
	}
	if len(policies) == 0 {
		return nil, ErrNotFound
	}
	return &policies[0], nil
}

func (r *slaPolicyRepository) List(ctx context.Context, tenantID string) ([]domain.SlaPolicy, error) {
	return r.query(ctx, `SELECT `+slaPolicyColumns+` FROM sla_policies WHERE tenant_id=$1 ORDER BY created_at ASC`, tenantID)
}

func (r *slaPolicyRepository) query(ctx context.Context, query string, args ...any) ([]domain.SlaPolicy, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPolicies(rows)
}

func scanPolicies(rows pgx.Rows) ([]domain.SlaPolicy, error) {
	var result []domain.SlaPolicy
	for rows.Next() {
		var (
			p     domain.SlaPolicy
			hours []byte
		)
		if err := rows.Scan(
			&p.ID,
			&p.TenantID,
			&p.Name,
			&p.Priority,
			&p.Channel,
			&p.ResponseTimeMinutes,
			&p.ResolutionTimeMinutes,
			&hours,
			&p.AlertThresholdPercent,
			&p.NotifyEmail,
			&p.NotifySystem,
			&p.Active,
			&p.CreatedAt,
			&p.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if len(hours) > 0 {
			var s calendar.Schedule
			if err := json.Unmarshal(hours, &s); err != nil {
				return nil, fmt.Errorf("decode business hours of policy %s: %w", p.ID, err)
			}
			p.BusinessHours = &s
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func encodeSchedule(s *calendar.Schedule) ([]byte, error) {
	if s == nil {
		return nil, nil
	}
	return json.Marshal(s)
}
