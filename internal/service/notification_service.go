package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/routedesk/routing-engine/internal/config"
	"github.com/routedesk/routing-engine/internal/events"
	"github.com/routedesk/routing-engine/internal/notify"
	"github.com/routedesk/routing-engine/internal/observability"
)

// NotificationService turns freshly recorded breach and near-breach events into
// notifications. Delivery is asynchronous and never blocks the recording path.
type NotificationService struct {
	dispatcher events.Dispatcher
	publisher  notify.Publisher
	limiter    *notify.TenantLimiter
	queue      chan notify.Notification
	logger     *zap.Logger
	metrics    *observability.Metrics
}

// NotificationDependencies bundles collaborators.
type NotificationDependencies struct {
	Dispatcher events.Dispatcher
	Publisher  notify.Publisher
	Logger     *zap.Logger
	Metrics    *observability.Metrics
	Config     config.NotificationConfig
}

// NewNotificationService creates the service.
func NewNotificationService(deps NotificationDependencies) *NotificationService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	size := deps.Config.QueueSize
	if size <= 0 {
		size = 256
	}
	return &NotificationService{
		dispatcher: deps.Dispatcher,
		publisher:  deps.Publisher,
		limiter:    notify.NewTenantLimiter(deps.Config.RatePerSecond, deps.Config.Burst),
		queue:      make(chan notify.Notification, size),
		logger:     logger,
		metrics:    deps.Metrics,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventSlaRecorded, n.handleSlaRecorded)
	n.dispatcher.Subscribe(events.EventTicketAssigned, n.handleTicketAssigned)
	n.dispatcher.Subscribe(events.EventTicketQueued, n.handleTicketQueued)
	n.dispatcher.Subscribe(events.EventTicketStatusChanged, n.handleTicketStatusChanged)
}

func (n *NotificationService) handleSlaRecorded(_ context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.SlaRecordedPayload)
	if !ok || !payload.Event.EventType.Notifiable() {
		return nil
	}
	if !payload.NotifyEmail && !payload.NotifySystem {
		n.metrics.RecordNotification("disabled")
		return nil
	}
	if !n.limiter.Allow(event.TenantID) {
		n.metrics.RecordNotification("throttled")
		n.logger.Warn("sla notification throttled",
			zap.String("tenant_id", event.TenantID),
			zap.String("ticket_id", event.TicketID))
		return nil
	}

	select {
	case n.queue <- notify.FromEvent(payload.Event, payload.NotifyEmail, payload.NotifySystem):
	default:
		n.metrics.RecordNotification("dropped")
		n.logger.Error("notification queue full; dropping",
			zap.String("tenant_id", event.TenantID),
			zap.String("ticket_id", event.TicketID))
	}
	return nil
}

func (n *NotificationService) handleTicketAssigned(_ context.Context, event events.Event) error {
	n.logger.Debug("TicketAssigned", zap.String("tenant_id", event.TenantID), zap.String("ticket_id", event.TicketID), zap.Any("payload", event.Payload))
	return nil
}

func (n *NotificationService) handleTicketQueued(_ context.Context, event events.Event) error {
	n.logger.Debug("TicketQueued", zap.String("tenant_id", event.TenantID), zap.String("ticket_id", event.TicketID), zap.Any("payload", event.Payload))
	return nil
}

func (n *NotificationService) handleTicketStatusChanged(_ context.Context, event events.Event) error {
	n.logger.Debug("TicketStatusChanged", zap.String("tenant_id", event.TenantID), zap.String("ticket_id", event.TicketID), zap.Any("payload", event.Payload))
	return nil
}

// Pending returns the number of notifications waiting for delivery.
func (n *NotificationService) Pending() int {
	return len(n.queue)
}

// Run delivers queued notifications until ctx is cancelled.
func (n *NotificationService) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-n.queue:
			n.deliver(ctx, msg)
		}
	}
}

// Drain delivers whatever is queued right now and returns.
func (n *NotificationService) Drain(ctx context.Context) {
	for {
		select {
		case msg := <-n.queue:
			n.deliver(ctx, msg)
		default:
			return
		}
	}
}

func (n *NotificationService) deliver(ctx context.Context, msg notify.Notification) {
	if n.publisher == nil {
		return
	}
	if err := n.publisher.Publish(ctx, msg); err != nil {
		n.metrics.RecordNotification("failed")
		n.logger.Warn("publish sla notification",
			zap.String("tenant_id", msg.TenantID),
			zap.String("ticket_id", msg.TicketID),
			zap.String("event_type", string(msg.EventType)),
			zap.Error(err))
		return
	}
	n.metrics.RecordNotification("sent")
}
