package broker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSettingsFromEnvDefaults(t *testing.T) {
	s := SettingsFromEnv()
	assert.Equal(t, "kafka", s.Driver)
	assert.Equal(t, []string{"localhost:9092"}, s.Endpoints)
	assert.Equal(t, OffsetLatest, s.OffsetResetPolicy)
	assert.False(t, s.Enabled)
	assert.Equal(t, 500*time.Millisecond, s.PollTimeout)
}

func TestSettingsFromEnvOverrides(t *testing.T) {
	t.Setenv("CONFBUS_BROKER_DRIVER", "nats")
	t.Setenv("CONFBUS_BROKER_ENDPOINTS", "nats-1:4222, nats-2:4222 ,")
	t.Setenv("CONFBUS_CONSUMER_GROUP", "svc-group")
	t.Setenv("CONFBUS_OFFSET_RESET", OffsetEarliest)
	t.Setenv("CONFBUS_BROKER_ENABLED", "true")
	t.Setenv("CONFBUS_POLL_TIMEOUT", "250ms")
	t.Setenv("CONFBUS_FLUSH_TIMEOUT", "10s")
	t.Setenv("CONFBUS_JOIN_TIMEOUT", "2s")

	s := SettingsFromEnv()
	assert.Equal(t, "nats", s.Driver)
	assert.Equal(t, []string{"nats-1:4222", "nats-2:4222"}, s.Endpoints)
	assert.Equal(t, "svc-group", s.Group)
	assert.Equal(t, OffsetEarliest, s.OffsetResetPolicy)
	assert.True(t, s.Enabled)
	assert.Equal(t, 250*time.Millisecond, s.PollTimeout)
	assert.Equal(t, 10*time.Second, s.FlushTimeout)
	assert.Equal(t, 2*time.Second, s.JoinTimeout)
}

func TestSettingsFromEnvIgnoresInvalidValues(t *testing.T) {
	t.Setenv("CONFBUS_BROKER_ENABLED", "not-a-bool")
	t.Setenv("CONFBUS_POLL_TIMEOUT", "soon")
	t.Setenv("CONFBUS_FLUSH_TIMEOUT", "-3s")

	s := SettingsFromEnv()
	assert.False(t, s.Enabled)
	assert.Equal(t, 500*time.Millisecond, s.PollTimeout)
	assert.Equal(t, 3*time.Second, s.FlushTimeout)
}
