package engine

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/mcp-tool-shop-org/consensusos/infrastructure/logging"
)

// kebabID matches lowercase-kebab plugin ids.
var kebabID = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// Manifest declares a plugin's identity, version, capabilities, and
// dependencies. Manifests are immutable after registration.
type Manifest struct {
	ID           string   `json:"id"`
	Name         string   `json:"name,omitempty"`
	Version      string   `json:"version,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`
}

// Normalize cleans up whitespace and dedupes list fields.
func (m *Manifest) Normalize() {
	if m == nil {
		return
	}
	m.ID = strings.TrimSpace(strings.ToLower(m.ID))
	m.Name = strings.TrimSpace(m.Name)
	m.Version = strings.TrimSpace(m.Version)
	m.Capabilities = dedupeStrings(m.Capabilities)
	m.Dependencies = dedupeStrings(m.Dependencies)
}

// Validate performs lightweight checks before registration.
func (m *Manifest) Validate() error {
	if m == nil {
		return fmt.Errorf("manifest required")
	}
	if m.ID == "" {
		return fmt.Errorf("manifest id required")
	}
	if !kebabID.MatchString(m.ID) {
		return fmt.Errorf("manifest id %q must be lowercase-kebab", m.ID)
	}
	for _, dep := range m.Dependencies {
		if dep == m.ID {
			return fmt.Errorf("manifest %q depends on itself", m.ID)
		}
	}
	return nil
}

// HasCapability checks if the manifest declares a specific capability tag.
func (m *Manifest) HasCapability(cap string) bool {
	if m == nil {
		return false
	}
	capLower := strings.ToLower(strings.TrimSpace(cap))
	for _, c := range m.Capabilities {
		if strings.ToLower(c) == capLower {
			return true
		}
	}
	return false
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" || seen[strings.ToLower(v)] {
			continue
		}
		seen[strings.ToLower(v)] = true
		out = append(out, v)
	}
	return out
}

// Result is the outcome of a lifecycle operation. A non-OK result from Init
// or Start halts boot.
type Result struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

// OK returns a successful lifecycle result.
func OK() Result {
	return Result{OK: true}
}

// Fail returns a failed lifecycle result carrying a message.
func Fail(message string) Result {
	return Result{OK: false, Message: message}
}

// Failf returns a failed lifecycle result with a formatted message.
func Failf(format string, args ...interface{}) Result {
	return Result{OK: false, Message: fmt.Sprintf(format, args...)}
}

// Plugin is the four-operation lifecycle contract every managed component
// implements. Manifest must return the same value for the lifetime of the
// plugin.
type Plugin interface {
	Manifest() Manifest
	Init(ctx *PluginContext) Result
	Start() Result
	Stop() Result
}

// Destroyer is optionally implemented by plugins that hold resources beyond
// Stop. Destroy is invoked during the loader's final shutdown pass.
type Destroyer interface {
	Destroy()
}

// PluginState tracks a managed plugin through its lifecycle.
type PluginState string

const (
	StateRegistered  PluginState = "registered"
	StateInitialized PluginState = "initialized"
	StateStarted     PluginState = "started"
	StateStopped     PluginState = "stopped"
	StateDestroyed   PluginState = "destroyed"
	StateError       PluginState = "error"
)

// validTransitions enumerates the monotonic lifecycle graph. StateError is a
// terminal sink reachable from anywhere.
var validTransitions = map[PluginState][]PluginState{
	StateRegistered:  {StateInitialized, StateError},
	StateInitialized: {StateStarted, StateError},
	StateStarted:     {StateStopped, StateError},
	StateStopped:     {StateDestroyed, StateError},
	StateDestroyed:   {StateError},
	StateError:       {},
}

// CanTransition reports whether from → to is a legal lifecycle move.
func CanTransition(from, to PluginState) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// PluginContext is the only window a plugin gets into the core: the shared
// bus, the shared invariant engine, the plugin's own config map, and a logger
// scoped to the plugin id.
type PluginContext struct {
	Events     *Bus
	Invariants *InvariantEngine
	Config     map[string]any
	Log        *logging.Logger
}

// ConfigString reads a string value from the plugin config map.
func (c *PluginContext) ConfigString(key, defaultValue string) string {
	if c == nil || c.Config == nil {
		return defaultValue
	}
	if v, ok := c.Config[key].(string); ok && v != "" {
		return v
	}
	return defaultValue
}

// ConfigInt reads an integer value from the plugin config map. Accepts int
// and float64 (JSON-decoded) representations.
func (c *PluginContext) ConfigInt(key string, defaultValue int) int {
	if c == nil || c.Config == nil {
		return defaultValue
	}
	switch v := c.Config[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return defaultValue
	}
}

// ConfigBool reads a boolean value from the plugin config map.
func (c *PluginContext) ConfigBool(key string, defaultValue bool) bool {
	if c == nil || c.Config == nil {
		return defaultValue
	}
	if v, ok := c.Config[key].(bool); ok {
		return v
	}
	return defaultValue
}
