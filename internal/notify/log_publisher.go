package notify

import (
	"context"

	"go.uber.org/zap"
)

// LogPublisher logs notifications. Used when no brokers are configured.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, notifications ...Notification) error {
	for _, n := range notifications {
		p.logger.Info("sla notification",
			zap.String("tenant_id", n.TenantID),
			zap.String("ticket_id", n.TicketID),
			zap.String("event_type", string(n.EventType)),
			zap.String("clock", string(n.Clock)),
			zap.Float64("percent_used", n.PercentUsed),
			zap.Strings("channels", n.Channels))
	}
	return nil
}

func (p *LogPublisher) Close() error { return nil }
