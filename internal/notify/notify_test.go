package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routedesk/routing-engine/internal/domain"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaPublisherKeysByTicket(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{writer: w}
	policy := "pol-1"
	n := FromEvent(domain.SlaEvent{
		TenantID:    "acme",
		TicketID:    "t-1",
		PolicyID:    &policy,
		Clock:       domain.ClockResponse,
		EventType:   domain.SlaResponseBreach,
		PercentUsed: 150,
		CreatedAt:   time.Date(2026, 10, 18, 10, 0, 0, 0, time.UTC),
	}, true, false)

	require.NoError(t, p.Publish(context.Background(), n))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "acme:t-1", string(w.msgs[0].Key))

	var decoded Notification
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, domain.SlaResponseBreach, decoded.EventType)
	assert.Equal(t, 150.0, decoded.PercentUsed)
	assert.Equal(t, []string{"email"}, decoded.Channels)
	require.NotNil(t, decoded.PolicyID)
	assert.Equal(t, "pol-1", *decoded.PolicyID)
}

func TestKafkaPublisherWrapsWriteErrors(t *testing.T) {
	p := &KafkaPublisher{writer: &fakeWriter{err: errors.New("broker down")}}
	err := p.Publish(context.Background(), Notification{TicketID: "t"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
	assert.NoError(t, p.Publish(context.Background()))
}

func TestTenantLimiterIsolatesTenants(t *testing.T) {
	l := NewTenantLimiter(0.001, 2)
	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"))
}

func TestTenantLimiterUnlimited(t *testing.T) {
	l := NewTenantLimiter(0, 0)
	for i := 0; i < 100; i++ {
		require.True(t, l.Allow("a"))
	}
}
