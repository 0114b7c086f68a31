package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv(t *testing.T) {
	t.Run("applies defaults", func(t *testing.T) {
		cfg, err := FromEnv()
		require.NoError(t, err)
		assert.Equal(t, ":8080", cfg.Addr)
		assert.Equal(t, 10, cfg.Donation.RedeemMaxFailures)
		assert.Equal(t, 15*time.Minute, cfg.Donation.RedeemFailureWindow)
		assert.Empty(t, cfg.Kafka.Brokers)
	})

	t.Run("reads overrides", func(t *testing.T) {
		t.Setenv("CAREDROP_ADDR", ":9090")
		t.Setenv("KAFKA_BROKERS", "a:9092,b:9092")
		t.Setenv("CLAIM_SWEEP_INTERVAL", "1m")
		t.Setenv("SEED_DEMO", "true")

		cfg, err := FromEnv()
		require.NoError(t, err)
		assert.Equal(t, ":9090", cfg.Addr)
		assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
		assert.Equal(t, time.Minute, cfg.Donation.SweepInterval)
		assert.True(t, cfg.SeedDemo)
	})

	t.Run("rejects malformed durations", func(t *testing.T) {
		t.Setenv("CLAIM_SWEEP_INTERVAL", "soon")
		_, err := FromEnv()
		require.Error(t, err)
	})
}
