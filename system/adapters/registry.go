package adapters

import (
	"context"
	"errors"
	"fmt"
	"sync"

	coreerr "github.com/mcp-tool-shop-org/consensusos/infrastructure/errors"
)

type registryKey struct {
	family  string
	network string
}

// Info describes one registered adapter instance.
type Info struct {
	Family    string `json:"family"`
	NetworkID string `json:"network_id"`
	Status    Status `json:"status"`
}

// Registry indexes chain adapters by (family, networkID). It sits parallel
// to the core loader: adapters are external collaborators, not plugins.
type Registry struct {
	mu    sync.Mutex
	byKey map[registryKey]ChainAdapter
	order []registryKey
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{
		byKey: make(map[registryKey]ChainAdapter),
	}
}

// Register indexes an adapter instance under its family and the given
// network id. Duplicate instances are refused.
func (r *Registry) Register(networkID string, adapter ChainAdapter) error {
	if adapter == nil {
		return fmt.Errorf("adapter required")
	}
	if networkID == "" {
		return fmt.Errorf("network id required")
	}

	key := registryKey{family: adapter.Family(), network: networkID}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byKey[key]; exists {
		return coreerr.DuplicateAdapter(key.family, key.network)
	}
	r.byKey[key] = adapter
	r.order = append(r.order, key)
	return nil
}

// Get returns the adapter registered under (family, networkID).
func (r *Registry) Get(family, networkID string) (ChainAdapter, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	adapter, ok := r.byKey[registryKey{family: family, network: networkID}]
	return adapter, ok
}

// List returns instance infos in registration order.
func (r *Registry) List() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Info, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, Info{
			Family:    key.family,
			NetworkID: key.network,
			Status:    r.byKey[key].Status(),
		})
	}
	return out
}

// DisconnectAll disconnects every adapter in reverse registration order,
// joining any errors.
func (r *Registry) DisconnectAll(ctx context.Context) error {
	r.mu.Lock()
	adapters := make([]ChainAdapter, 0, len(r.order))
	for i := len(r.order) - 1; i >= 0; i-- {
		adapters = append(adapters, r.byKey[r.order[i]])
	}
	r.mu.Unlock()

	var errs []error
	for _, adapter := range adapters {
		if err := adapter.Disconnect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", adapter.Family(), err))
		}
	}
	return errors.Join(errs...)
}
