package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/routedesk/routing-engine/internal/domain"
)

// AgentRepository persists agents, their load counters and skills.
type AgentRepository interface {
	Create(ctx context.Context, agent *domain.Agent) error
	GetByID(ctx context.Context, tenantID, id string) (*domain.Agent, error)
	List(ctx context.Context, tenantID string) ([]domain.Agent, error)
	ListByIDs(ctx context.Context, tenantID string, ids []string) ([]domain.Agent, error)
	UpdateStatus(ctx context.Context, tenantID, id string, status domain.AgentStatus) error
	UpdateCapacity(ctx context.Context, tenantID, id string, maxCapacity int) error
	// TryIncrementLoad commits load+1 only if the result stays within capacity.
	TryIncrementLoad(ctx context.Context, tenantID, id string, capacity int) (int, bool, error)
	// DecrementLoad releases one slot unconditionally, never going below zero.
	DecrementLoad(ctx context.Context, tenantID, id string) (int, error)
	ReplaceSkills(ctx context.Context, tenantID, agentID string, skills []domain.AgentSkill) error
	ListSkills(ctx context.Context, tenantID string, agentIDs []string) ([]domain.AgentSkill, error)
}

type agentRepository struct {
	pool *pgxpool.Pool
}

// NewAgentRepository instantiates the repository.
func NewAgentRepository(pool *pgxpool.Pool) AgentRepository {
	return &agentRepository{pool: pool}
}

const agentColumns = `id, tenant_id, name, status, max_capacity, active_ticket_count, version, created_at, updated_at`

func (r *agentRepository) Create(ctx context.Context, agent *domain.Agent) error {
	const query = `
        INSERT INTO agents (id, tenant_id, name, status, max_capacity)
        VALUES ($1,$2,$3,$4,$5)
        RETURNING active_ticket_count, version, created_at, updated_at`
	return r.pool.QueryRow(ctx, query,
		agent.ID,
		agent.TenantID,
		agent.Name,
		agent.Status,
		agent.MaxCapacity,
	).Scan(&agent.ActiveTicketCount, &agent.Version, &agent.CreatedAt, &agent.UpdatedAt)
}

func (r *agentRepository) GetByID(ctx context.Context, tenantID, id string) (*domain.Agent, error) {
	agents, err := r.query(ctx, `SELECT `+agentColumns+` FROM agents WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	if err != nil {
		return nil, err
	}
	if len(agents) == 0 {
		return nil, ErrNotFound
	}
	return &agents[0], nil
}

func (r *agentRepository) List(ctx context.Context, tenantID string) ([]domain.Agent, error) {
	return r.query(ctx, `SELECT `+agentColumns+` FROM agents WHERE tenant_id=$1 ORDER BY created_at ASC, id ASC`, tenantID)
}

func (r *agentRepository) ListByIDs(ctx context.Context, tenantID string, ids []string) ([]domain.Agent, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return r.query(ctx, `SELECT `+agentColumns+` FROM agents WHERE tenant_id=$1 AND id = ANY($2)`, tenantID, ids)
}

func (r *agentRepository) UpdateStatus(ctx context.Context, tenantID, id string, status domain.AgentStatus) error {
	cmd, err := r.pool.Exec(ctx, `
        UPDATE agents SET status=$1, version=version+1, updated_at=NOW()
        WHERE tenant_id=$2 AND id=$3`, status, tenantID, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *agentRepository) UpdateCapacity(ctx context.Context, tenantID, id string, maxCapacity int) error {
	cmd, err := r.pool.Exec(ctx, `
        UPDATE agents SET max_capacity=$1, version=version+1, updated_at=NOW()
        WHERE tenant_id=$2 AND id=$3`, maxCapacity, tenantID, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *agentRepository) TryIncrementLoad(ctx context.Context, tenantID, id string, capacity int) (int, bool, error) {
	const query = `
        UPDATE agents SET active_ticket_count=active_ticket_count+1, version=version+1, updated_at=NOW()
        WHERE tenant_id=$1 AND id=$2 AND active_ticket_count+1 <= $3
        RETURNING active_ticket_count`
	var load int
	err := r.pool.QueryRow(ctx, query, tenantID, id, capacity).Scan(&load)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return load, true, nil
}

func (r *agentRepository) DecrementLoad(ctx context.Context, tenantID, id string) (int, error) {
	const query = `
        UPDATE agents SET active_ticket_count=GREATEST(active_ticket_count-1, 0), version=version+1, updated_at=NOW()
        WHERE tenant_id=$1 AND id=$2
        RETURNING active_ticket_count`
	var load int
	err := r.pool.QueryRow(ctx, query, tenantID, id).Scan(&load)
	return load, mapNoRows(err)
}

func (r *agentRepository) ReplaceSkills(ctx context.Context, tenantID, agentID string, skills []domain.AgentSkill) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM agent_skills WHERE tenant_id=$1 AND agent_id=$2`, tenantID, agentID); err != nil {
		return err
	}
	for _, skill := range skills {
		if _, err := tx.Exec(ctx, `
            INSERT INTO agent_skills (tenant_id, agent_id, skill, level, active)
            VALUES ($1,$2,$3,$4,$5)`, tenantID, agentID, skill.Skill, skill.Level, skill.Active); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *agentRepository) ListSkills(ctx context.Context, tenantID string, agentIDs []string) ([]domain.AgentSkill, error) {
	if len(agentIDs) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `
        SELECT tenant_id, agent_id, skill, level, active
        FROM agent_skills WHERE tenant_id=$1 AND agent_id = ANY($2)`, tenantID, agentIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.AgentSkill
	for rows.Next() {
		var s domain.AgentSkill
		if err := rows.Scan(&s.TenantID, &s.AgentID, &s.Skill, &s.Level, &s.Active); err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

func (r *agentRepository) query(ctx context.Context, query string, args ...any) ([]domain.Agent, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Agent
	for rows.Next() {
		var a domain.Agent
		if err := rows.Scan(
			&a.ID,
			&a.TenantID,
			&a.Name,
			&a.Status,
			&a.MaxCapacity,
			&a.ActiveTicketCount,
			&a.Version,
			&a.CreatedAt,
			&a.UpdatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}
