// Package config defines the versioned service configuration, the merge rule
// used during the startup handshake, and the process-wide snapshot store.
package config

import (
	"errors"
)

// ErrNoConfig is returned when an operation requires a config and none exists.
// A service without a compiled-in default is treated as a startup error rather
// than silently inventing one.
var ErrNoConfig = errors.New("confbus/config: no configuration available")

// BrokerSettings is the broker-facing slice of a service configuration. It
// mirrors the environment settings in package broker so a central authority
// can push updated endpoints.
type BrokerSettings struct {
	Endpoints         []string `json:"endpoints"`
	ConsumerGroup     string   `json:"consumer_group"`
	OffsetResetPolicy string   `json:"offset_reset_policy"`
	Enabled           bool     `json:"enabled"`
}

// Config is the versioned service configuration exchanged during the startup
// handshake. ConfigVersion is monotonic: merging never decreases it.
type Config struct {
	ServiceName    string          `json:"service_name"`
	ServiceVersion string          `json:"service_version"`
	ConfigVersion  int64           `json:"config_version"`
	Broker         BrokerSettings  `json:"broker_settings"`
	Features       map[string]bool `json:"features,omitempty"`
	Extra          map[string]any  `json:"extra,omitempty"`
}

// Clone returns a deep copy. Merge and the store hand out copies so no caller
// can mutate a published snapshot.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	out := *c
	if c.Broker.Endpoints != nil {
		out.Broker.Endpoints = append([]string(nil), c.Broker.Endpoints...)
	}
	if c.Features != nil {
		out.Features = make(map[string]bool, len(c.Features))
		for k, v := range c.Features {
			out.Features[k] = v
		}
	}
	if c.Extra != nil {
		out.Extra = make(map[string]any, len(c.Extra))
		for k, v := range c.Extra {
			out.Extra[k] = v
		}
	}
	return &out
}

// MergeResult reports the outcome of merging a remote config into a local one.
type MergeResult struct {
	// Config is the winning configuration (a copy, inputs are not mutated).
	Config *Config
	// Adopted is true when the remote config won.
	Adopted bool
	// ReloadNeeded is true when the remote won and changed a feature flag
	// listed in restartFlags.
	ReloadNeeded bool
}

// Merge applies the handshake version rule: a remote config is adopted only
// when its ConfigVersion is strictly greater than the local one. A stale or
// equal remote version keeps the local config untouched, which guards against
// an older central config regressing a newer local one.
func Merge(local, remote *Config, restartFlags ...string) MergeResult {
	if remote == nil || local == nil {
		return MergeResult{Config: local.Clone()}
	}
	if remote.ConfigVersion <= local.ConfigVersion {
		return MergeResult{Config: local.Clone()}
	}
	res := MergeResult{Config: remote.Clone(), Adopted: true}
	for _, flag := range restartFlags {
		if local.Features[flag] != remote.Features[flag] {
			res.ReloadNeeded = true
			break
		}
	}
	return res
}
