package observability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/routedesk/routing-engine/internal/config"
)

func TestNewLoggerLevels(t *testing.T) {
	logger, err := NewLogger(config.LoggerConfig{Level: "DEBUG", Encoding: "console", Development: true})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	logger, err = NewLogger(config.LoggerConfig{Level: "loud", Service: "routing-engine"})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
	assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordRequest("/tickets", "GET", 200, time.Millisecond)
		m.RecordDecision("assigned", "round_robin", "", time.Millisecond)
		m.RecordCapacityRace()
		m.RecordNotification("sent")
		m.ObserveSweep(time.Second)
	})
	assert.NotNil(t, m.Handler())
}
