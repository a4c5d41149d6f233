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

// SlaEventFilter captures SLA event stream parameters.
type SlaEventFilter struct {
	TenantID   string
	EventTypes []domain.SlaEventType
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}

// SlaEventRepository stores append-only SLA events.
type SlaEventRepository interface {
	// Append inserts the event unless one with the same (ticket, clock, type) exists.
	Append(ctx context.Context, event *domain.SlaEvent) (bool, error)
	ListByTicket(ctx context.Context, tenantID, ticketID string) ([]domain.SlaEvent, error)
	ListByTickets(ctx context.Context, tenantID string, ticketIDs []string) (map[string][]domain.SlaEvent, error)
	List(ctx context.Context, filter SlaEventFilter) ([]domain.SlaEvent, error)
}

type slaEventRepository struct {
	pool *pgxpool.Pool
}

// NewSlaEventRepository builds repository.
func NewSlaEventRepository(pool *pgxpool.Pool) SlaEventRepository {
	return &slaEventRepository{pool: pool}
}

const slaEventColumns = `id, tenant_id, ticket_id, policy_id, clock, event_type, elapsed_minutes, limit_minutes,
               percent_used, detail, created_at`

func (r *slaEventRepository) Append(ctx context.Context, event *domain.SlaEvent) (bool, error) {
	const query = `
        INSERT INTO sla_events (id, tenant_id, ticket_id, policy_id, clock, event_type, elapsed_minutes,
            limit_minutes, percent_used, detail, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
        ON CONFLICT (tenant_id, ticket_id, clock, event_type) DO NOTHING`
	cmd, err := r.pool.Exec(ctx, query,
		event.ID,
		event.TenantID,
		event.TicketID,
		event.PolicyID,
		event.Clock,
		event.EventType,
		event.ElapsedMinutes,
		event.LimitMinutes,
		event.PercentUsed,
		event.Detail,
		event.CreatedAt,
	)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *slaEventRepository) ListByTicket(ctx context.Context, tenantID, ticketID string) ([]domain.SlaEvent, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+slaEventColumns+` FROM sla_events
        WHERE tenant_id=$1 AND ticket_id=$2 ORDER BY created_at ASC`, tenantID, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSlaEvents(rows)
}

func (r *slaEventRepository) ListByTickets(ctx context.Context, tenantID string, ticketIDs []string) (map[string][]domain.SlaEvent, error) {
	result := make(map[string][]domain.SlaEvent, len(ticketIDs))
	if len(ticketIDs) == 0 {
		return result, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT `+slaEventColumns+` FROM sla_events
        WHERE tenant_id=$1 AND ticket_id = ANY($2) ORDER BY created_at ASC`, tenantID, ticketIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	events, err := scanSlaEvents(rows)
	if err != nil {
		return nil, err
	}
	for _, e := range events {
		result[e.TicketID] = append(result[e.TicketID], e)
	}
	return result, nil
}

func (r *slaEventRepository) List(ctx context.Context, filter SlaEventFilter) ([]domain.SlaEvent, error) {
	clauses := []string{"tenant_id=$1"}
	args := []any{filter.TenantID}
	if len(filter.EventTypes) > 0 {
		placeholders := make([]string, len(filter.EventTypes))
		for i, t := range filter.EventTypes {
			args = append(args, t)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("event_type IN (%s)", strings.Join(placeholders, ",")))
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
	query := fmt.Sprintf(`SELECT %s FROM sla_events WHERE %s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		slaEventColumns, strings.Join(clauses, " AND "), limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSlaEvents(rows)
}

func scanSlaEvents(rows pgx.Rows) ([]domain.SlaEvent, error) {
	var result []domain.SlaEvent
	for rows.Next() {
		var e domain.SlaEvent
		if err := rows.Scan(
			&e.ID,
			&e.TenantID,
			&e.TicketID,
			&e.PolicyID,
			&e.Clock,
			&e.EventType,
			&e.ElapsedMinutes,
			&e.LimitMinutes,
			&e.PercentUsed,
			&e.Detail,
			&e.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}
