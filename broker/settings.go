// Package broker holds the driver registry and the broker-facing settings,
// and owns the shared connection lifecycle (idempotent connect, bounded
// close).
package broker

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Offset reset policies. The policy applies only the first time a consumer
// group has no committed offset.
const (
	OffsetLatest   = "latest"
	OffsetEarliest = "earliest"
)

// Settings is the broker configuration, overridable from the environment.
type Settings struct {
	// Driver is the registered driver name ("kafka", "nats", "rabbitmq").
	Driver string

	// Endpoints are the bootstrap addresses.
	Endpoints []string

	// Group is the consumer group id.
	Group string

	// OffsetResetPolicy is where a new consumer group starts reading.
	OffsetResetPolicy string

	// Enabled gates the whole subsystem. When false no producer or consumer
	// is ever instantiated and no network calls are made.
	Enabled bool

	// PollTimeout bounds one consumer poll iteration.
	PollTimeout time.Duration

	// FlushTimeout bounds one publish attempt.
	FlushTimeout time.Duration

	// JoinTimeout bounds how long Stop waits for the consumer to exit.
	JoinTimeout time.Duration

	// CloseGrace bounds how long Close waits on the driver.
	CloseGrace time.Duration

	// Extra holds driver-specific configuration.
	Extra map[string]any
}

// DefaultSettings returns the compiled-in defaults.
func DefaultSettings() Settings {
	return Settings{
		Driver:            "kafka",
		Endpoints:         []string{"localhost:9092"},
		OffsetResetPolicy: OffsetLatest,
		Enabled:           false,
		PollTimeout:       500 * time.Millisecond,
		FlushTimeout:      3 * time.Second,
		JoinTimeout:       5 * time.Second,
		CloseGrace:        5 * time.Second,
	}
}

// SettingsFromEnv starts from DefaultSettings and applies environment
// overrides:
//
//	CONFBUS_BROKER_DRIVER
//	CONFBUS_BROKER_ENDPOINTS   comma-separated
//	CONFBUS_CONSUMER_GROUP
//	CONFBUS_OFFSET_RESET       "latest" | "earliest"
//	CONFBUS_BROKER_ENABLED     boolean
//	CONFBUS_POLL_TIMEOUT       duration, e.g. "500ms"
//	CONFBUS_FLUSH_TIMEOUT      duration
//	CONFBUS_JOIN_TIMEOUT       duration
func SettingsFromEnv() Settings {
	s := DefaultSettings()
	s.Driver = getenvStr("CONFBUS_BROKER_DRIVER", s.Driver)
	if raw := os.Getenv("CONFBUS_BROKER_ENDPOINTS"); raw != "" {
		var eps []string
		for _, e := range strings.Split(raw, ",") {
			if e = strings.TrimSpace(e); e != "" {
				eps = append(eps, e)
			}
		}
		if len(eps) > 0 {
			s.Endpoints = eps
		}
	}
	s.Group = getenvStr("CONFBUS_CONSUMER_GROUP", s.Group)
	s.OffsetResetPolicy = getenvStr("CONFBUS_OFFSET_RESET", s.OffsetResetPolicy)
	s.Enabled = getenvBool("CONFBUS_BROKER_ENABLED", s.Enabled)
	s.PollTimeout = getenvDuration("CONFBUS_POLL_TIMEOUT", s.PollTimeout)
	s.FlushTimeout = getenvDuration("CONFBUS_FLUSH_TIMEOUT", s.FlushTimeout)
	s.JoinTimeout = getenvDuration("CONFBUS_JOIN_TIMEOUT", s.JoinTimeout)
	return s
}

func getenvStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
