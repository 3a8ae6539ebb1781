package adapter

import (
	"fmt"
	"sync"
)

// Registry resolves (platform, broker) pairs to adapters. Broker-managed
// accounts resolve through the broker adapter regardless of platform.
type Registry struct {
	mu      sync.RWMutex
	direct  map[string]Adapter
	brokers map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{
		direct:  make(map[string]Adapter),
		brokers: make(map[string]Adapter),
	}
}

func (r *Registry) Register(a Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := a.PlatformName()
	if _, exists := r.direct[name]; exists {
		return fmt.Errorf("adapter for platform %s already registered", name)
	}
	r.direct[name] = a
	return nil
}

func (r *Registry) RegisterBroker(brokerType string, a Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.brokers[brokerType]; exists {
		return fmt.Errorf("broker adapter %s already registered", brokerType)
	}
	r.brokers[brokerType] = a
	return nil
}

// Resolve returns the adapter for a destination. A non-empty brokerType
// takes precedence over the direct platform integration.
func (r *Registry) Resolve(platform, brokerType string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if brokerType != "" {
		if a, ok := r.brokers[brokerType]; ok {
			return a, nil
		}
		return nil, fmt.Errorf("broker adapter %s not found", brokerType)
	}
	if a, ok := r.direct[platform]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("adapter for platform %s not found", platform)
}

// Platforms lists registered direct platform names.
func (r *Registry) Platforms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	for name := range r.direct {
		names = append(names, name)
	}
	return names
}
