// Package state implements the append-only, globally versioned state
// registry plugin.
package state

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mcp-tool-shop-org/consensusos/infrastructure/logging"
	engine "github.com/mcp-tool-shop-org/consensusos/system/core"
)

// PluginID is the registry's id in the core loader.
const PluginID = "state-registry"

// TopicStateChanged is published after every mutation.
const TopicStateChanged = "core.state.changed"

// Transition records one mutation of the versioned map.
type Transition struct {
	Key       string `json:"key"`
	Previous  any    `json:"previous,omitempty"`
	New       any    `json:"new,omitempty"`
	Version   uint64 `json:"version"`
	UpdatedBy string `json:"updated_by"`
	Timestamp string `json:"timestamp"`
}

// Snapshot is a serializable point-in-time view of the registry.
type Snapshot struct {
	Entries   map[string]any `json:"entries"`
	Version   uint64         `json:"version"`
	Timestamp string         `json:"timestamp"`
}

// Registry is a versioned key/value map with an append-only transition log.
// Every mutation increments the global version by exactly one.
type Registry struct {
	mu          sync.Mutex
	entries     map[string]any
	version     uint64
	transitions []Transition

	bus *engine.Bus
	log *logging.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]any),
	}
}

// Manifest implements engine.Plugin.
func (r *Registry) Manifest() engine.Manifest {
	return engine.Manifest{
		ID:           PluginID,
		Name:         "State Registry",
		Version:      "1.0.0",
		Capabilities: []string{"state"},
	}
}

// Init implements engine.Plugin.
func (r *Registry) Init(ctx *engine.PluginContext) engine.Result {
	r.mu.Lock()
	r.bus = ctx.Events
	r.log = ctx.Log
	r.mu.Unlock()
	return engine.OK()
}

// Start implements engine.Plugin.
func (r *Registry) Start() engine.Result { return engine.OK() }

// Stop implements engine.Plugin.
func (r *Registry) Stop() engine.Result { return engine.OK() }

// Set writes a value and appends one transition.
func (r *Registry) Set(key string, value any, updatedBy string) Transition {
	r.mu.Lock()
	previous := r.entries[key]
	r.entries[key] = value
	r.version++
	tr := Transition{
		Key:       key,
		Previous:  previous,
		New:       value,
		Version:   r.version,
		UpdatedBy: updatedBy,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	r.transitions = append(r.transitions, tr)
	bus := r.bus
	r.mu.Unlock()

	if bus != nil {
		bus.Publish(TopicStateChanged, PluginID, map[string]any{
			"key":        key,
			"version":    tr.Version,
			"updated_by": updatedBy,
		})
	}
	return tr
}

// Delete removes a key and appends one transition. Deleting an absent key is
// a no-op returning false.
func (r *Registry) Delete(key, updatedBy string) (Transition, bool) {
	r.mu.Lock()
	previous, exists := r.entries[key]
	if !exists {
		r.mu.Unlock()
		return Transition{}, false
	}
	delete(r.entries, key)
	r.version++
	tr := Transition{
		Key:       key,
		Previous:  previous,
		Version:   r.version,
		UpdatedBy: updatedBy,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	r.transitions = append(r.transitions, tr)
	bus := r.bus
	r.mu.Unlock()

	if bus != nil {
		bus.Publish(TopicStateChanged, PluginID, map[string]any{
			"key":        key,
			"version":    tr.Version,
			"updated_by": updatedBy,
			"deleted":    true,
		})
	}
	return tr, true
}

// Get returns the current value for a key.
func (r *Registry) Get(key string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.entries[key]
	return v, ok
}

// Keys returns the current key set, sorted.
func (r *Registry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for k := range r.entries {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Version returns the current global version.
func (r *Registry) Version() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.version
}

// Transitions returns a copy of the transition log in append order.
func (r *Registry) Transitions() []Transition {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Transition, len(r.transitions))
	copy(out, r.transitions)
	return out
}

// Snapshot returns a serializable deep copy of the current map and version.
func (r *Registry) Snapshot() (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := deepCopyEntries(r.entries)
	if err != nil {
		return Snapshot{}, err
	}

	return Snapshot{
		Entries:   entries,
		Version:   r.version,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}, nil
}

// Restore atomically replaces the current map and version from a snapshot.
// The transition log is untouched; restores are not mutations of record.
func (r *Registry) Restore(snapshot Snapshot) error {
	entries, err := deepCopyEntries(snapshot.Entries)
	if err != nil {
		return err
	}
	if entries == nil {
		entries = make(map[string]any)
	}

	r.mu.Lock()
	r.entries = entries
	r.version = snapshot.Version
	r.mu.Unlock()
	return nil
}

// deepCopyEntries copies values through their JSON encoding so snapshots
// never alias live state.
func deepCopyEntries(in map[string]any) (map[string]any, error) {
	if in == nil {
		return nil, nil
	}
	raw, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encode entries: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode entries: %w", err)
	}
	return out, nil
}
