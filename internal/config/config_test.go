package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "")
	t.Setenv("KAFKA_BROKERS", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Empty(t, cfg.Postgres.DSN)
	assert.Nil(t, cfg.Kafka.Brokers)
	assert.Equal(t, 2*time.Minute, cfg.Engine.SweepInterval)
	assert.Equal(t, 30*time.Second, cfg.Engine.SweepTenantTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Engine.ConfigCacheTTL)
	assert.Equal(t, 10*time.Minute, cfg.Engine.SkillsCacheTTL)
	assert.Equal(t, 5, cfg.Engine.RetryMaxAttempts)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ENGINE_SWEEP_INTERVAL", "45s")
	t.Setenv("ENGINE_SWEEP_CONCURRENCY", "8")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("ENGINE_RETRY_INTERVAL", "not-a-duration")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 45*time.Second, cfg.Engine.SweepInterval)
	assert.Equal(t, 8, cfg.Engine.SweepConcurrency)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 15*time.Second, cfg.Engine.RetryInterval)
}

func TestLoadRejectsZeroConcurrency(t *testing.T) {
	t.Setenv("ENGINE_SWEEP_CONCURRENCY", "0")
	_, err := Load()
	require.Error(t, err)
}
