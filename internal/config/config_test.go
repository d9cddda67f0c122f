package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/stock-count/internal/core/domain"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultPolicy(), cfg.Policy)
	assert.Equal(t, 1000, cfg.OutcomeQueueSize)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite3")
	t.Setenv("DB_DSN", "file:counts.db")
	t.Setenv("LOCK_TTL", "3s")
	t.Setenv("PUBLISHER_WORKERS", "4")
	t.Setenv("VARIANCE_CRITICAL_THRESHOLD", "0.35")
	t.Setenv("AUTO_COMMIT_LOW_SEVERITY", "true")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "sqlite3", cfg.DBDriver)
	assert.Equal(t, "file:counts.db", cfg.DBDSN)
	assert.Equal(t, 3*time.Second, cfg.LockTTL)
	assert.Equal(t, 4, cfg.PublisherWorkers)
	assert.InDelta(t, 0.35, cfg.Policy.VarianceCriticalThreshold, 1e-9)
	assert.True(t, cfg.Policy.AutoCommitLowSeverity)
}

func TestFromEnv_Invalid(t *testing.T) {
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("LOCK_TTL", "soon")
	t.Setenv("VARIANCE_WARNING_THRESHOLD", "0.9")

	_, err := FromEnv()
	require.Error(t, err)
	assert.ErrorContains(t, err, "DB_DRIVER")
	assert.ErrorContains(t, err, "LOCK_TTL")
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}
