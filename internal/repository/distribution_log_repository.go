package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/routedesk/routing-engine/internal/domain"
)

// DistributionLogFilter captures audit stream parameters.
type DistributionLogFilter struct {
	TenantID string
	QueueID  *string
	AgentID  *string
	From     *time.Time
	To       *time.Time
	Limit    int
	Offset   int
}

// DistributionLogRepository stores append-only assignment audit entries.
type DistributionLogRepository interface {
	Append(ctx context.Context, entry *domain.DistributionLogEntry) error
	ListByTicket(ctx context.Context, tenantID, ticketID string) ([]domain.DistributionLogEntry, error)
	List(ctx context.Context, filter DistributionLogFilter) ([]domain.DistributionLogEntry, error)
}

type distributionLogRepository struct {
	pool *pgxpool.Pool
}

// NewDistributionLogRepository builds repository.
func NewDistributionLogRepository(pool *pgxpool.Pool) DistributionLogRepository {
	return &distributionLogRepository{pool: pool}
}

const distributionLogColumns = `id, tenant_id, ticket_id, agent_id, queue_id, algorithm, reason,
               agent_load_at_assignment, is_reassignment, reassignment_reason, created_at`

func (r *distributionLogRepository) Append(ctx context.Context, entry *domain.DistributionLogEntry) error {
	const query = `
        INSERT INTO distribution_log (id, tenant_id, ticket_id, agent_id, queue_id, algorithm, reason,
            agent_load_at_assignment, is_reassignment, reassignment_reason, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
        ON CONFLICT (id) DO NOTHING`
	_, err := r.pool.Exec(ctx, query,
		entry.ID,
		entry.TenantID,
		entry.TicketID,
		entry.AgentID,
		entry.QueueID,
		entry.Algorithm,
		entry.Reason,
		entry.AgentLoadAtAssignment,
		entry.IsReassignment,
		entry.ReassignmentReason,
		entry.CreatedAt,
	)
	return err
}

func (r *distributionLogRepository) ListByTicket(ctx context.Context, tenantID, ticketID string) ([]domain.DistributionLogEntry, error) {
	query := `SELECT ` + distributionLogColumns + ` FROM distribution_log
        WHERE tenant_id=$1 AND ticket_id=$2 ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, query, tenantID, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDistributionLog(rows)
}

func (r *distributionLogRepository) List(ctx context.Context, filter DistributionLogFilter) ([]domain.DistributionLogEntry, error) {
	clauses := []string{"tenant_id=$1"}
	args := []any{filter.TenantID}
	if filter.QueueID != nil {
		args = append(args, *filter.QueueID)
		clauses = append(clauses, fmt.Sprintf("queue_id=$%d", len(args)))
	}
	if filter.AgentID != nil {
		args = append(args, *filter.AgentID)
		clauses = append(clauses, fmt.Sprintf("agent_id=$%d", len(args)))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		clauses = append(clauses, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		clauses = append(clauses, fmt.Sprintf("created_at <= $%d", len(args)))
	}
	limit, offset := pageBounds(filter.Limit, filter.Offset)
	query := fmt.Sprintf(`SELECT %s FROM distribution_log WHERE %s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		distributionLogColumns, strings.Join(clauses, " AND "), limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDistributionLog(rows)
}

func scanDistributionLog(rows pgx.Rows) ([]domain.DistributionLogEntry, error) {
	var result []domain.DistributionLogEntry
	for rows.Next() {
		var e domain.DistributionLogEntry
		if err := rows.Scan(
			&e.ID,
			&e.TenantID,
			&e.TicketID,
			&e.AgentID,
			&e.QueueID,
			&e.Algorithm,
			&e.Reason,
			&e.AgentLoadAtAssignment,
			&e.IsReassignment,
			&e.ReassignmentReason,
			&e.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func pageBounds(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
