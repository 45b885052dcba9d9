package llm

import (
	"fmt"
	"sync"
)

// ProviderRegistry manages provider instances
type ProviderRegistry struct {
	mu        sync.RWMutex
	providers map[ProviderType]Provider
}

var globalRegistry = &ProviderRegistry{
	providers: make(map[ProviderType]Provider),
}

// RegisterProvider registers a provider
func RegisterProvider(p Provider) {
	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()
	globalRegistry.providers[p.Type()] = p
}

// GetProvider returns a provider by type
func GetProvider(t ProviderType) (Provider, error) {
	globalRegistry.mu.RLock()
	p, ok := globalRegistry.providers[t]
	globalRegistry.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("provider %s not registered", t)
	}
	return p, nil
}

// ListProviders returns all registered providers
func ListProviders() []ProviderType {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()
	types := make([]ProviderType, 0, len(globalRegistry.providers))
	for t := range globalRegistry.providers {
		types = append(types, t)
	}
	return types
}
