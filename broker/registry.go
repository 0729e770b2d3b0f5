package broker

import (
	"fmt"
	"sync"

	"github.com/confbus/confbus/core"
)

// Factory creates a Bus from the given Settings.
type Factory func(s Settings) (core.Bus, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register adds a named driver factory. Driver plugins call this from init().
func Register(name string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[name] = factory
}

// Create instantiates a bus by driver name using the registered factory.
func Create(name string, s Settings) (core.Bus, error) {
	mu.RLock()
	f, ok := factories[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("confbus: unknown driver %q", name)
	}
	return f(s)
}
