package service

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/routedesk/routing-engine/internal/domain"
	"github.com/routedesk/routing-engine/internal/observability"
	"github.com/routedesk/routing-engine/internal/repository"
)

type pendingWrite struct {
	log      *domain.DistributionLogEntry
	event    *domain.SlaEvent
	inserted func(context.Context, domain.SlaEvent)
	attempts int
}

// Recorder writes audit rows without letting store failures reach the ticket transition.
// Failed writes are buffered and retried by Flush.
type Recorder struct {
	logs        repository.DistributionLogRepository
	events      repository.SlaEventRepository
	logger      *zap.Logger
	metrics     *observability.Metrics
	maxAttempts int
	capacity    int

	mu      sync.Mutex
	pending []pendingWrite
}

// RecorderDependencies bundles repositories and retry limits.
type RecorderDependencies struct {
	LogRepo     repository.DistributionLogRepository
	EventRepo   repository.SlaEventRepository
	Logger      *zap.Logger
	Metrics     *observability.Metrics
	MaxAttempts int
	BufferSize  int
}

// NewRecorder constructs the recorder.
func NewRecorder(deps RecorderDependencies) *Recorder {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxAttempts := deps.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	capacity := deps.BufferSize
	if capacity <= 0 {
		capacity = 1024
	}
	return &Recorder{
		logs:        deps.LogRepo,
		events:      deps.EventRepo,
		logger:      logger,
		metrics:     deps.Metrics,
		maxAttempts: maxAttempts,
		capacity:    capacity,
	}
}

// AppendLog writes a distribution log entry, deferring it on failure.
func (r *Recorder) AppendLog(ctx context.Context, entry domain.DistributionLogEntry) {
	if err := r.logs.Append(ctx, &entry); err != nil {
		r.logger.Warn("distribution log write deferred",
			zap.String("tenant_id", entry.TenantID),
			zap.String("ticket_id", entry.TicketID),
			zap.Error(err))
		r.enqueue(pendingWrite{log: &entry, attempts: 1})
	}
}

// AppendEvent writes an SLA event. inserted runs only when the row is new, now or on a later retry.
func (r *Recorder) AppendEvent(ctx context.Context, event domain.SlaEvent, inserted func(context.Context, domain.SlaEvent)) {
	fresh, err := r.events.Append(ctx, &event)
	if err != nil {
		r.logger.Warn("sla event write deferred",
			zap.String("tenant_id", event.TenantID),
			zap.String("ticket_id", event.TicketID),
			zap.String("event_type", string(event.EventType)),
			zap.Error(err))
		r.enqueue(pendingWrite{event: &event, inserted: inserted, attempts: 1})
		return
	}
	if fresh {
		r.afterInsert(ctx, event, inserted)
	}
}

func (r *Recorder) afterInsert(ctx context.Context, event domain.SlaEvent, inserted func(context.Context, domain.SlaEvent)) {
	r.metrics.RecordSlaEvent(string(event.EventType))
	if inserted != nil {
		inserted(ctx, event)
	}
}

func (r *Recorder) enqueue(w pendingWrite) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pending) >= r.capacity {
		r.metrics.RecordRetryDropped("buffer_full")
		r.logger.Error("audit retry buffer full; dropping write", zap.Int("capacity", r.capacity))
		return
	}
	r.pending = append(r.pending, w)
	r.metrics.SetRetryBacklog(len(r.pending))
}

// Pending returns the number of buffered writes.
func (r *Recorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Flush retries every buffered write once. Writes that exhaust their attempts are dropped.
func (r *Recorder) Flush(ctx context.Context) int {
	r.mu.Lock()
	batch := r.pending
	r.pending = nil
	r.mu.Unlock()

	var retry []pendingWrite
	written := 0
	for i, w := range batch {
		if ctx.Err() != nil {
			retry = append(retry, batch[i:]...)
			break
		}
		var err error
		switch {
		case w.log != nil:
			err = r.logs.Append(ctx, w.log)
		case w.event != nil:
			var fresh bool
			fresh, err = r.events.Append(ctx, w.event)
			if err == nil && fresh {
				r.afterInsert(ctx, *w.event, w.inserted)
			}
		}
		if err == nil {
			written++
			continue
		}
		w.attempts++
		if w.attempts >= r.maxAttempts {
			r.metrics.RecordRetryDropped("max_attempts")
			r.logger.Error("audit write dropped after retries", zap.Int("attempts", w.attempts), zap.Error(err))
			continue
		}
		retry = append(retry, w)
	}

	r.mu.Lock()
	r.pending = append(retry, r.pending...)
	if len(r.pending) > r.capacity {
		r.pending = r.pending[:r.capacity]
	}
	r.metrics.SetRetryBacklog(len(r.pending))
	r.mu.Unlock()
	return written
}
