package connector

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Factory is a function that creates a new Connector instance.
type Factory func() Connector

// Registry manages connector factories and open connections keyed by name.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	active    map[string]Connector // keyed by connection name
}

// NewRegistry creates a new empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		active:    make(map[string]Connector),
	}
}

// RegisterDriver registers a connector factory for a driver type.
func (r *Registry) RegisterDriver(driver string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[driver] = factory
}

// HasDriver reports whether a factory is registered for driver.
func (r *Registry) HasDriver(driver string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[driver]
	return ok
}

// Connect creates a new connector for the given driver, connects it and
// stores it under name, replacing any previous connection of that name.
func (r *Registry) Connect(ctx context.Context, name string, cfg ConnectionConfig) (Connector, error) {
	r.mu.RLock()
	factory, ok := r.factories[cfg.Driver]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported driver: %s (available: %v)", cfg.Driver, r.Drivers())
	}

	// Connecting can block on the network; the lock is not held meanwhile.
	conn := factory()
	if err := conn.Connect(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to connect %q: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.active[name]; ok {
		existing.Disconnect()
	}
	r.active[name] = conn
	return conn, nil
}

// Get returns the connector stored under name.
func (r *Registry) Get(name string) (Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.active[name]
	if !ok {
		return nil, fmt.Errorf("connection %q not found (available: %v)", name, r.activeNames())
	}
	return conn, nil
}

// Disconnect removes and disconnects a named connection.
func (r *Registry) Disconnect(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.active[name]
	if !ok {
		return fmt.Errorf("connection %q not found", name)
	}

	err := conn.Disconnect()
	delete(r.active, name)
	return err
}

// CloseAll disconnects every connection.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, conn := range r.active {
		conn.Disconnect()
		delete(r.active, name)
	}
}

// ListConnections returns the open connection names, sorted.
func (r *Registry) ListConnections() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activeNames()
}

// Drivers returns the registered driver names, sorted.
func (r *Registry) Drivers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	drivers := make([]string, 0, len(r.factories))
	for d := range r.factories {
		drivers = append(drivers, d)
	}
	sort.Strings(drivers)
	return drivers
}

func (r *Registry) activeNames() []string {
	names := make([]string, 0, len(r.active))
	for n := range r.active {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
