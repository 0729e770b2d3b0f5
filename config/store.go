package config

import "sync/atomic"

// Store holds the process-wide configuration snapshot.
//
// It is single-writer by construction: only the configsync client calls
// Replace, and only after its merge decision completes. Readers always
// observe either the previous or the fully-merged config, never a partial
// state.
type Store struct {
	current atomic.Pointer[Config]
}

// NewStore creates a store seeded with the given config. A nil seed is
// allowed; Load then returns nil until the first Replace.
func NewStore(initial *Config) *Store {
	s := &Store{}
	if initial != nil {
		s.current.Store(initial.Clone())
	}
	return s
}

// Load returns the current snapshot. The returned value is shared between
// readers and must be treated as read-only.
func (s *Store) Load() *Config {
	return s.current.Load()
}

// Replace publishes a new snapshot. Reserved for the configsync client.
func (s *Store) Replace(c *Config) {
	s.current.Store(c.Clone())
}
