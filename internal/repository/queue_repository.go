package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/routedesk/routing-engine/internal/domain"
)

// QueueRepository persists queues and their agent memberships.
type QueueRepository interface {
	Create(ctx context.Context, queue *domain.Queue) error
	Update(ctx context.Context, queue *domain.Queue) error
	GetByID(ctx context.Context, tenantID, id string) (*domain.Queue, error)
	List(ctx context.Context, tenantID string) ([]domain.Queue, error)
	Count(ctx context.Context, tenantID string) (int, error)
	UpsertMember(ctx context.Context, member *domain.QueueMember) error
	RemoveMember(ctx context.Context, tenantID, queueID, agentID string) error
	ListMembers(ctx context.Context, tenantID, queueID string) ([]domain.QueueMember, error)
	ListQueueIDsForAgent(ctx context.Context, tenantID, agentID string) ([]string, error)
}

type queueRepository struct {
	pool *pgxpool.Pool
}

// NewQueueRepository instantiates the repository.
func NewQueueRepository(pool *pgxpool.Pool) QueueRepository {
	return &queueRepository{pool: pool}
}

const queueColumns = `id, tenant_id, name, algorithm, active, default_capacity_per_agent, auto_distribution,
               consider_skills, prioritize_online, timeout_minutes, allow_overflow, overflow_queue_id, created_at, updated_at`

func (r *queueRepository) Create(ctx context.Context, queue *domain.Queue) error {
	const query = `
        INSERT INTO queues (id, tenant_id, name, algorithm, active, default_capacity_per_agent, auto_distribution,
            consider_skills, prioritize_online, timeout_minutes, allow_overflow, overflow_queue_id)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
        RETURNING created_at, updated_at`
	return r.pool.QueryRow(ctx, query,
		queue.ID,
		queue.TenantID,
		queue.Name,
		queue.Algorithm,
		queue.Active,
		queue.DefaultCapacityPerAgent,
		queue.AutoDistribution,
		queue.ConsiderSkills,
		queue.PrioritizeOnline,
		queue.TimeoutMinutes,
		queue.AllowOverflow,
		queue.OverflowQueueID,
	).Scan(&queue.CreatedAt, &queue.UpdatedAt)
}

func (r *queueRepository) Update(ctx context.Context, queue *domain.Queue) error {
	const query = `
        UPDATE queues SET name=$1, algorithm=$2, active=$3, default_capacity_per_agent=$4, auto_distribution=$5,
            consider_skills=$6, prioritize_online=$7, timeout_minutes=$8, allow_overflow=$9, overflow_queue_id=$10,
            updated_at=NOW()
        WHERE tenant_id=$11 AND id=$12
        RETURNING updated_at`
	err := r.pool.QueryRow(ctx, query,
		queue.Name,
		queue.Algorithm,
		queue.Active,
		queue.DefaultCapacityPerAgent,
		queue.AutoDistribution,
		queue.ConsiderSkills,
		queue.PrioritizeOnline,
		queue.TimeoutMinutes,
		queue.AllowOverflow,
		queue.OverflowQueueID,
		queue.TenantID,
		queue.ID,
	).Scan(&queue.UpdatedAt)
	return mapNoRows(err)
}

func (r *queueRepository) GetByID(ctx context.Context, tenantID, id string) (*domain.Queue, error) {
	query := `SELECT ` + queueColumns + ` FROM queues WHERE tenant_id=$1 AND id=$2`
	rows, err := r.pool.Query(ctx, query, tenantID, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	queues, err := scanQueues(rows)
	if err != nil {
		return nil, err
	}
	if len(queues) == 0 {
		return nil, ErrNotFound
	}
	return &queues[0], nil
}

func (r *queueRepository) List(ctx context.Context, tenantID string) ([]domain.Queue, error) {
	query := `SELECT ` + queueColumns + ` FROM queues WHERE tenant_id=$1 ORDER BY created_at ASC, id ASC`
	rows, err := r.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanQueues(rows)
}

func (r *queueRepository) Count(ctx context.Context, tenantID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM queues WHERE tenant_id=$1`, tenantID).Scan(&count)
	return count, err
}

func (r *queueRepository) UpsertMember(ctx context.Context, member *domain.QueueMember) error {
	const query = `
        INSERT INTO queue_members (tenant_id, queue_id, agent_id, capacity_override, priority, active)
        VALUES ($1,$2,$3,$4,$5,$6)
        ON CONFLICT (queue_id, agent_id) DO UPDATE
            SET capacity_override=EXCLUDED.capacity_override, priority=EXCLUDED.priority, active=EXCLUDED.active
        RETURNING created_at`
	return r.pool.QueryRow(ctx, query,
		member.TenantID,
		member.QueueID,
		member.AgentID,
		member.CapacityOverride,
		member.Priority,
		member.Active,
	).Scan(&member.CreatedAt)
}

func (r *queueRepository) RemoveMember(ctx context.Context, tenantID, queueID, agentID string) error {
	cmd, err := r.pool.Exec(ctx, `DELETE FROM queue_members WHERE tenant_id=$1 AND queue_id=$2 AND agent_id=$3`, tenantID, queueID, agentID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *queueRepository) ListMembers(ctx context.Context, tenantID, queueID string) ([]domain.QueueMember, error) {
	const query = `
        SELECT tenant_id, queue_id, agent_id, capacity_override, priority, active, created_at
        FROM queue_members WHERE tenant_id=$1 AND queue_id=$2
        ORDER BY created_at ASC, agent_id ASC`
	rows, err := r.pool.Query(ctx, query, tenantID, queueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.QueueMember
	for rows.Next() {
		var m domain.QueueMember
		if err := rows.Scan(&m.TenantID, &m.QueueID, &m.AgentID, &m.CapacityOverride, &m.Priority, &m.Active, &m.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

func (r *queueRepository) ListQueueIDsForAgent(ctx context.Context, tenantID, agentID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
        SELECT queue_id FROM queue_members
        WHERE tenant_id=$1 AND agent_id=$2 AND active ORDER BY created_at ASC`, tenantID, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanQueues(rows pgx.Rows) ([]domain.Queue, error) {
	var result []domain.Queue
	for rows.Next() {
		var q domain.Queue
		if err := rows.Scan(
			&q.ID,
			&q.TenantID,
			&q.Name,
			&q.Algorithm,
			&q.Active,
			&q.DefaultCapacityPerAgent,
			&q.AutoDistribution,
			&q.ConsiderSkills,
			&q.PrioritizeOnline,
			&q.TimeoutMinutes,
			&q.AllowOverflow,
			&q.OverflowQueueID,
			&q.CreatedAt,
			&q.UpdatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, q)
	}
	return result, rows.Err()
}
