package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/routedesk/routing-engine/internal/domain"
)

// TicketFilter captures listing parameters.
type TicketFilter struct {
	TenantID      string
	QueueID       *string
	AgentID       *string
	StatusClasses []domain.StatusClass
	CreatedFrom   *time.Time
	CreatedTo     *time.Time
	Limit         int
	Offset        int
}

// TicketRepository encapsulates ticket persistence. Update is optimistic on Version.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	Update(ctx context.Context, ticket *domain.Ticket) error
	GetByID(ctx context.Context, tenantID, id string) (*domain.Ticket, error)
	ListWithFilter(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error)
	ListTimedOut(ctx context.Context, tenantID string, now time.Time, limit int) ([]domain.Ticket, error)
	OldestQueued(ctx context.Context, tenantID string, queueIDs []string) (*domain.Ticket, error)
	ListOpenByAgent(ctx context.Context, tenantID, agentID string) ([]domain.Ticket, error)
	ListWithOpenClocks(ctx context.Context, tenantID string, limit, offset int) ([]domain.Ticket, error)
	CountOpenByAgent(ctx context.Context, tenantID string) (map[string]int, error)
}

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

const ticketColumns = `id, tenant_id, queue_id, status, status_class, assigned_agent_id, priority, channel,
               required_skill, required_skill_level, queued_reason, timeout_at, assign_count,
               sla_policy_id, response_due_at, resolution_due_at, sla_started_at,
               created_at, updated_at, first_response_at, resolved_at, cancelled_at, version`

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	skill, level := splitSkill(ticket.RequiredSkill)
	const query = `
        INSERT INTO tickets (id, tenant_id, queue_id, status, status_class, assigned_agent_id, priority, channel,
            required_skill, required_skill_level, queued_reason, timeout_at, assign_count, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
        RETURNING updated_at, version`
	return r.pool.QueryRow(ctx, query,
		ticket.ID,
		ticket.TenantID,
		ticket.QueueID,
		ticket.Status,
		ticket.StatusClass,
		ticket.AssignedAgentID,
		ticket.Priority,
		ticket.Channel,
		skill,
		level,
		ticket.QueuedReason,
		ticket.TimeoutAt,
		ticket.AssignCount,
		ticket.CreatedAt,
	).Scan(&ticket.UpdatedAt, &ticket.Version)
}

func (r *ticketRepository) Update(ctx context.Context, ticket *domain.Ticket) error {
	const query = `
        UPDATE tickets SET queue_id=$1, status=$2, status_class=$3, assigned_agent_id=$4, priority=$5,
            queued_reason=$6, timeout_at=$7, assign_count=$8, sla_policy_id=$9, response_due_at=$10,
            resolution_due_at=$11, sla_started_at=$12, first_response_at=$13, resolved_at=$14,
            cancelled_at=$15, version=version+1, updated_at=NOW()
        WHERE tenant_id=$16 AND id=$17 AND version=$18
        RETURNING updated_at, version`
	err := r.pool.QueryRow(ctx, query,
		ticket.QueueID,
		ticket.Status,
		ticket.StatusClass,
		ticket.AssignedAgentID,
		ticket.Priority,
		ticket.QueuedReason,
		ticket.TimeoutAt,
		ticket.AssignCount,
		ticket.SLA.PolicyID,
		ticket.SLA.ResponseDueAt,
		ticket.SLA.ResolutionDueAt,
		ticket.SLA.StartedAt,
		ticket.FirstResponseAt,
		ticket.ResolvedAt,
		ticket.CancelledAt,
		ticket.TenantID,
		ticket.ID,
		ticket.Version,
	).Scan(&ticket.UpdatedAt, &ticket.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrVersionConflict
	}
	return err
}

func (r *ticketRepository) GetByID(ctx context.Context, tenantID, id string) (*domain.Ticket, error) {
	tickets, err := r.query(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	if err != nil {
		return nil, err
	}
	if len(tickets) == 0 {
		return nil, ErrNotFound
	}
	return &tickets[0], nil
}

func (r *ticketRepository) ListWithFilter(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	clauses := []string{"tenant_id=$1"}
	args := []any{filter.TenantID}

	if filter.QueueID != nil {
		args = append(args, *filter.QueueID)
		clauses = append(clauses, fmt.Sprintf("queue_id=$%d", len(args)))
	}
	if filter.AgentID != nil {
		args = append(args, *filter.AgentID)
		clauses = append(clauses, fmt.Sprintf("assigned_agent_id=$%d", len(args)))
	}
	if len(filter.StatusClasses) > 0 {
		placeholders := make([]string, len(filter.StatusClasses))
		for i, class := range filter.StatusClasses {
			args = append(args, class)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("status_class IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.CreatedFrom != nil {
		args = append(args, *filter.CreatedFrom)
		clauses = append(clauses, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.CreatedTo != nil {
		args = append(args, *filter.CreatedTo)
		clauses = append(clauses, fmt.Sprintf("created_at <= $%d", len(args)))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(`SELECT %s FROM tickets WHERE %s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		ticketColumns, strings.Join(clauses, " AND "), limit, offset)
	return r.query(ctx, query, args...)
}

func (r *ticketRepository) ListTimedOut(ctx context.Context, tenantID string, now time.Time, limit int) ([]domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets
        WHERE tenant_id=$1 AND status_class=$2 AND timeout_at IS NOT NULL AND timeout_at <= $3
        ORDER BY created_at ASC LIMIT $4`
	return r.query(ctx, query, tenantID, domain.StatusClassQueued, now, limit)
}

func (r *ticketRepository) OldestQueued(ctx context.Context, tenantID string, queueIDs []string) (*domain.Ticket, error) {
	if len(queueIDs) == 0 {
		return nil, ErrNotFound
	}
	query := `SELECT ` + ticketColumns + ` FROM tickets
        WHERE tenant_id=$1 AND status_class=$2 AND queue_id = ANY($3)
        ORDER BY created_at ASC LIMIT 1`
	tickets, err := r.query(ctx, query, tenantID, domain.StatusClassQueued, queueIDs)
	if err != nil {
		return nil, err
	}
	if len(tickets) == 0 {
		return nil, ErrNotFound
	}
	return &tickets[0], nil
}

func (r *ticketRepository) ListOpenByAgent(ctx context.Context, tenantID, agentID string) ([]domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets
        WHERE tenant_id=$1 AND assigned_agent_id=$2 AND status_class IN ($3,$4)
        ORDER BY created_at ASC`
	return r.query(ctx, query, tenantID, agentID, domain.StatusClassOpen, domain.StatusClassWaiting)
}

func (r *ticketRepository) ListWithOpenClocks(ctx context.Context, tenantID string, limit, offset int) ([]domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets
        WHERE tenant_id=$1 AND sla_policy_id IS NOT NULL AND status_class NOT IN ($2,$3)
        ORDER BY created_at ASC, id ASC LIMIT $4 OFFSET $5`
	return r.query(ctx, query, tenantID, domain.StatusClassClosed, domain.StatusClassCancelled, limit, offset)
}

func (r *ticketRepository) CountOpenByAgent(ctx context.Context, tenantID string) (map[string]int, error) {
	rows, err := r.pool.Query(ctx, `
        SELECT assigned_agent_id, COUNT(*) FROM tickets
        WHERE tenant_id=$1 AND assigned_agent_id IS NOT NULL AND status_class IN ($2,$3)
        GROUP BY assigned_agent_id`, tenantID, domain.StatusClassOpen, domain.StatusClassWaiting)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var agentID string
		var count int
		if err := rows.Scan(&agentID, &count); err != nil {
			return nil, err
		}
		counts[agentID] = count
	}
	return counts, rows.Err()
}

func (r *ticketRepository) query(ctx context.Context, query string, args ...any) ([]domain.Ticket, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

func scanTickets(rows pgx.Rows) ([]domain.Ticket, error) {
	var result []domain.Ticket
	for rows.Next() {
		var (
			ticket domain.Ticket
			skill  *string
			level  *int
		)
		if err := rows.Scan(
			&ticket.ID,
			&ticket.TenantID,
			&ticket.QueueID,
			&ticket.Status,
			&ticket.StatusClass,
			&ticket.AssignedAgentID,
			&ticket.Priority,
			&ticket.Channel,
			&skill,
			&level,
			&ticket.QueuedReason,
			&ticket.TimeoutAt,
			&ticket.AssignCount,
			&ticket.SLA.PolicyID,
			&ticket.SLA.ResponseDueAt,
			&ticket.SLA.ResolutionDueAt,
			&ticket.SLA.StartedAt,
			&ticket.CreatedAt,
			&ticket.UpdatedAt,
			&ticket.FirstResponseAt,
			&ticket.ResolvedAt,
			&ticket.CancelledAt,
			&ticket.Version,
		); err != nil {
			return nil, err
		}
		if skill != nil {
			req := domain.SkillRequirement{Skill: *skill}
			if level != nil {
				req.MinLevel = *level
			}
			ticket.RequiredSkill = &req
		}
		result = append(result, ticket)
	}
	return result, rows.Err()
}

func splitSkill(req *domain.SkillRequirement) (*string, *int) {
	if req == nil {
		return nil, nil
	}
	skill := req.Skill
	level := req.MinLevel
	return &skill, &level
}
