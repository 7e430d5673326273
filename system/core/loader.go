package engine

import (
	"context"
	"sync"
	"time"

	coreerr "github.com/mcp-tool-shop-org/consensusos/infrastructure/errors"
	"github.com/mcp-tool-shop-org/consensusos/infrastructure/logging"
	"github.com/mcp-tool-shop-org/consensusos/infrastructure/metrics"
)

// Topics published by the loader itself.
const (
	TopicBootComplete     = "core.boot.complete"
	TopicShutdownComplete = "core.shutdown.complete"
)

// loaderSource is the source id stamped on loader-published events.
const loaderSource = "core"

type managedPlugin struct {
	plugin   Plugin
	manifest Manifest
	state    PluginState
	ctx      *PluginContext
}

// Loader owns plugin lifecycle: registration, dependency-ordered boot,
// reverse-ordered shutdown, and context construction. It exclusively owns
// the single Bus and single InvariantEngine it injects into plugins.
type Loader struct {
	mu         sync.Mutex
	bus        *Bus
	invariants *InvariantEngine
	log        *logging.Logger
	metrics    *metrics.Metrics
	plugins    []*managedPlugin
	byID       map[string]*managedPlugin
	configs    map[string]map[string]any
	bootOrder  []string
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithLogger sets the root logger; per-plugin loggers are scoped from it.
func WithLogger(log *logging.Logger) LoaderOption {
	return func(l *Loader) { l.log = log }
}

// WithMetrics attaches prometheus collectors to the loader and the owned bus
// and invariant engine.
func WithMetrics(m *metrics.Metrics) LoaderOption {
	return func(l *Loader) { l.metrics = m }
}

// WithPluginConfig supplies per-plugin configuration maps keyed by plugin id.
func WithPluginConfig(configs map[string]map[string]any) LoaderOption {
	return func(l *Loader) { l.configs = configs }
}

// NewLoader creates a loader with a fresh bus and invariant engine.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		byID:    make(map[string]*managedPlugin),
		configs: make(map[string]map[string]any),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.log == nil {
		l.log = logging.Default()
	}
	l.bus = NewBus(l.log.Scoped("bus"))
	l.invariants = NewInvariantEngine(l.log.Scoped("invariants"))
	if l.metrics != nil {
		l.bus.SetMetrics(l.metrics)
		l.invariants.SetMetrics(l.metrics)
	}
	return l
}

// Bus returns the loader-owned event bus.
func (l *Loader) Bus() *Bus {
	return l.bus
}

// Invariants returns the loader-owned invariant engine.
func (l *Loader) Invariants() *InvariantEngine {
	return l.invariants
}

// Register adds a plugin in state "registered". Duplicate ids and invalid
// manifests are rejected.
func (l *Loader) Register(p Plugin) error {
	manifest := p.Manifest()
	manifest.Normalize()
	if err := manifest.Validate(); err != nil {
		return coreerr.InvalidManifest(manifest.ID, err.Error())
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.byID[manifest.ID]; exists {
		return coreerr.DuplicatePlugin(manifest.ID)
	}

	mp := &managedPlugin{
		plugin:   p,
		manifest: manifest,
		state:    StateRegistered,
	}
	l.plugins = append(l.plugins, mp)
	l.byID[manifest.ID] = mp
	l.setStateMetric(manifest.ID, StateRegistered)

	return nil
}

// resolveOrder computes the boot order over currently registered plugins.
func (l *Loader) resolveOrder() ([]string, error) {
	ids := make([]string, 0, len(l.plugins))
	deps := make(map[string][]string, len(l.plugins))
	for _, mp := range l.plugins {
		ids = append(ids, mp.manifest.ID)
		deps[mp.manifest.ID] = mp.manifest.Dependencies
	}
	return ResolveOrder(ids, deps)
}

// Boot resolves the dependency order, then drives every plugin through Init
// and Start in that order. A non-OK result or panic moves the plugin to the
// error state and halts boot (fail-fast). On success the loader publishes
// core.boot.complete naming the order.
func (l *Loader) Boot(ctx context.Context) error {
	start := time.Now()

	l.mu.Lock()
	order, err := l.resolveOrder()
	if err != nil {
		l.mu.Unlock()
		return err
	}
	l.bootOrder = append([]string{}, order...)
	l.mu.Unlock()

	for _, id := range order {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := l.initPlugin(id); err != nil {
			return err
		}
	}

	for _, id := range order {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := l.startPlugin(id); err != nil {
			return err
		}
	}

	if l.metrics != nil {
		l.metrics.BootDuration.Observe(time.Since(start).Seconds())
	}

	l.bus.Publish(TopicBootComplete, loaderSource, map[string]any{"order": order})
	return nil
}

func (l *Loader) initPlugin(id string) error {
	l.mu.Lock()
	mp := l.byID[id]
	if mp.state != StateRegistered {
		l.mu.Unlock()
		return coreerr.IllegalTransition(id, string(mp.state), string(StateInitialized))
	}
	pctx := &PluginContext{
		Events:     l.bus,
		Invariants: l.invariants,
		Config:     l.configs[id],
		Log:        l.log.Scoped(id),
	}
	if pctx.Config == nil {
		pctx.Config = make(map[string]any)
	}
	mp.ctx = pctx
	l.mu.Unlock()

	result := l.guardLifecycle(id, "init", func() Result { return mp.plugin.Init(pctx) })
	if !result.OK {
		l.transition(mp, StateError)
		return coreerr.InitFailed(id, result.Message)
	}

	l.transition(mp, StateInitialized)
	return nil
}

func (l *Loader) startPlugin(id string) error {
	l.mu.Lock()
	mp := l.byID[id]
	if mp.state != StateInitialized {
		l.mu.Unlock()
		return coreerr.IllegalTransition(id, string(mp.state), string(StateStarted))
	}
	l.mu.Unlock()

	result := l.guardLifecycle(id, "start", func() Result { return mp.plugin.Start() })
	if !result.OK {
		l.transition(mp, StateError)
		return coreerr.StartFailed(id, result.Message)
	}

	l.transition(mp, StateStarted)
	return nil
}

// guardLifecycle runs one lifecycle operation, converting a panic into a
// failed result so boot fails fast instead of crashing.
func (l *Loader) guardLifecycle(id, op string, fn func() Result) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			l.log.WithFields(map[string]interface{}{
				"plugin":    id,
				"operation": op,
				"panic":     r,
			}).Error("Plugin lifecycle panic")
			result = Failf("%s panic: %v", op, r)
		}
	}()
	return fn()
}

// Shutdown stops every started plugin in the reverse of the boot order. A
// stop failure is logged and does not halt the rest. A second pass invokes
// the optional Destroy. Finally core.shutdown.complete is published.
func (l *Loader) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	order := append([]string{}, l.bootOrder...)
	l.mu.Unlock()

	if len(order) == 0 {
		// Never booted; fall back to registration order.
		l.mu.Lock()
		for _, mp := range l.plugins {
			order = append(order, mp.manifest.ID)
		}
		l.mu.Unlock()
	}

	for i := len(order) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return err
		}

		l.mu.Lock()
		mp := l.byID[order[i]]
		state := mp.state
		l.mu.Unlock()

		if state != StateStarted {
			continue
		}

		result := l.guardLifecycle(order[i], "stop", func() Result { return mp.plugin.Stop() })
		if !result.OK {
			l.log.WithFields(map[string]interface{}{
				"plugin": order[i],
				"reason": result.Message,
			}).Error("Plugin stop failed")
		}
		// A failed stop still counts as stopped; shutdown keeps unwinding.
		l.transition(mp, StateStopped)
	}

	for i := len(order) - 1; i >= 0; i-- {
		l.mu.Lock()
		mp := l.byID[order[i]]
		state := mp.state
		l.mu.Unlock()

		if state != StateStopped {
			continue
		}
		if d, ok := mp.plugin.(Destroyer); ok {
			d.Destroy()
		}
		l.transition(mp, StateDestroyed)
	}

	l.bus.Publish(TopicShutdownComplete, loaderSource, map[string]any{"order": order})
	return nil
}

// transition moves a plugin to a new state, logging the move and updating the
// state gauge. Illegal moves other than the error sink are programming
// errors; they are logged loudly and ignored.
func (l *Loader) transition(mp *managedPlugin, to PluginState) {
	l.mu.Lock()
	from := mp.state
	if to != StateError && !CanTransition(from, to) {
		l.mu.Unlock()
		l.log.WithFields(map[string]interface{}{
			"plugin": mp.manifest.ID,
			"from":   from,
			"to":     to,
		}).Error("Illegal lifecycle transition ignored")
		return
	}
	mp.state = to
	l.mu.Unlock()

	l.log.LogLifecycle(mp.manifest.ID, string(from), string(to))
	l.setStateMetric(mp.manifest.ID, to)
}

func (l *Loader) setStateMetric(id string, state PluginState) {
	if l.metrics == nil {
		return
	}
	for _, s := range []PluginState{StateRegistered, StateInitialized, StateStarted, StateStopped, StateDestroyed, StateError} {
		val := 0.0
		if s == state {
			val = 1.0
		}
		l.metrics.PluginState.WithLabelValues(id, string(s)).Set(val)
	}
}

// State returns the current lifecycle state for a plugin id.
func (l *Loader) State(id string) (PluginState, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	mp, ok := l.byID[id]
	if !ok {
		return "", false
	}
	return mp.state, true
}

// Plugins returns the manifests of all registered plugins in registration
// order.
func (l *Loader) Plugins() []Manifest {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Manifest, 0, len(l.plugins))
	for _, mp := range l.plugins {
		out = append(out, mp.manifest)
	}
	return out
}

// BootOrder returns the most recently resolved boot order.
func (l *Loader) BootOrder() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string{}, l.bootOrder...)
}

// WithCapability returns manifests declaring the given capability tag.
func (l *Loader) WithCapability(cap string) []Manifest {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Manifest
	for _, mp := range l.plugins {
		if mp.manifest.HasCapability(cap) {
			out = append(out, mp.manifest)
		}
	}
	return out
}
