package sandbox

import (
	"sync"

	"github.com/mcp-tool-shop-org/consensusos/infrastructure/logging"
	engine "github.com/mcp-tool-shop-org/consensusos/system/core"
)

// PluginID is the sandbox's id in the core loader.
const PluginID = "sandbox"

// Topics published by the sandbox.
const (
	TopicSnapshotCaptured = "sandbox.snapshot.captured"
)

// Sandbox is the plugin wrapper tying the snapshot, replay, and amendment
// primitives to the core: while started it mirrors every bus event into its
// capture buffer so replays and snapshots see the full history.
type Sandbox struct {
	mu        sync.Mutex
	events    []engine.Event
	simulator *Simulator
	replay    *ReplayEngine

	bus    *engine.Bus
	log    *logging.Logger
	cancel func()
}

// New creates a sandbox plugin.
func New() *Sandbox {
	return &Sandbox{
		simulator: NewSimulator(),
		replay:    NewReplayEngine(),
	}
}

// Manifest implements engine.Plugin.
func (s *Sandbox) Manifest() engine.Manifest {
	return engine.Manifest{
		ID:           PluginID,
		Name:         "Sandbox",
		Version:      "1.0.0",
		Capabilities: []string{"simulation", "replay"},
	}
}

// Init implements engine.Plugin.
func (s *Sandbox) Init(ctx *engine.PluginContext) engine.Result {
	s.mu.Lock()
	s.bus = ctx.Events
	s.log = ctx.Log
	s.mu.Unlock()
	return engine.OK()
}

// Start implements engine.Plugin, beginning event mirroring.
func (s *Sandbox) Start() engine.Result {
	s.mu.Lock()
	bus := s.bus
	s.mu.Unlock()

	cancel := bus.Subscribe("*", func(evt engine.Event) error {
		s.mu.Lock()
		s.events = append(s.events, evt)
		s.mu.Unlock()
		return nil
	})

	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	return engine.OK()
}

// Stop implements engine.Plugin, ending event mirroring.
func (s *Sandbox) Stop() engine.Result {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return engine.OK()
}

// Simulator exposes the amendment simulator.
func (s *Sandbox) Simulator() *Simulator { return s.simulator }

// Replay exposes the replay engine.
func (s *Sandbox) Replay() *ReplayEngine { return s.replay }

// Events returns a copy of the mirrored events.
func (s *Sandbox) Events() []engine.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]engine.Event, len(s.events))
	copy(out, s.events)
	return out
}

// Capture assembles the current sandbox view over the given state and
// publishes sandbox.snapshot.captured with the serialized size.
func (s *Sandbox) Capture(state map[string]any) ([]byte, error) {
	capture := Capture{
		State:      cloneState(state),
		Events:     s.Events(),
		Amendments: s.simulator.Records(),
	}

	raw, err := Serialize(capture)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	bus := s.bus
	s.mu.Unlock()
	if bus != nil {
		bus.Publish(TopicSnapshotCaptured, PluginID, map[string]any{
			"bytes":  len(raw),
			"events": len(capture.Events),
		})
	}

	return raw, nil
}
