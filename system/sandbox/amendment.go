package sandbox

import (
	"fmt"
	"sync"

	"github.com/dop251/goja"

	coreerr "github.com/mcp-tool-shop-org/consensusos/infrastructure/errors"
)

// EffectFunc is a pure amendment effect: it receives a cloned state and
// returns the amended state without touching the original.
type EffectFunc func(state map[string]any) map[string]any

// Amendment is a simulated governance change. Its effect is either a Go
// function or a JavaScript function source of the form
// "function(state) { ...; return state }" evaluated in an isolated runtime.
type Amendment struct {
	ID          string
	Description string
	Requires    []string
	Effect      EffectFunc
	Script      string
}

// Simulator applies amendment effects against cloned states, enforcing that
// every prerequisite amendment is active first.
type Simulator struct {
	mu         sync.Mutex
	amendments map[string]*Amendment
	order      []string
	active     map[string]bool
}

// NewSimulator creates an empty amendment simulator.
func NewSimulator() *Simulator {
	return &Simulator{
		amendments: make(map[string]*Amendment),
		active:     make(map[string]bool),
	}
}

// Register adds an amendment definition. Duplicate ids and effect-less
// amendments are rejected.
func (s *Simulator) Register(a Amendment) error {
	if a.ID == "" {
		return fmt.Errorf("amendment id required")
	}
	if a.Effect == nil && a.Script == "" {
		return fmt.Errorf("amendment %q has no effect", a.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.amendments[a.ID]; exists {
		return fmt.Errorf("amendment %q already registered", a.ID)
	}
	copied := a
	s.amendments[a.ID] = &copied
	s.order = append(s.order, a.ID)
	return nil
}

// missingLocked returns unmet prerequisites for an amendment.
func (s *Simulator) missingLocked(a *Amendment) []string {
	var missing []string
	for _, req := range a.Requires {
		if !s.active[req] {
			missing = append(missing, req)
		}
	}
	return missing
}

// Activate marks an amendment active once its prerequisites are.
func (s *Simulator) Activate(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.amendments[id]
	if !ok {
		return fmt.Errorf("amendment %q not registered", id)
	}
	if missing := s.missingLocked(a); len(missing) > 0 {
		return coreerr.AmendmentBlocked(id, missing)
	}
	s.active[id] = true
	return nil
}

// Active returns ids of active amendments in registration order.
func (s *Simulator) Active() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, id := range s.order {
		if s.active[id] {
			out = append(out, id)
		}
	}
	return out
}

// Records returns the activation state of every amendment in registration
// order, for capture into snapshots.
func (s *Simulator) Records() []AmendmentRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AmendmentRecord, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, AmendmentRecord{ID: id, Active: s.active[id]})
	}
	return out
}

// Simulate applies an amendment's effect against a clone of the given state
// and returns the simulated result. The input state is never mutated.
// Prerequisite activation is enforced.
func (s *Simulator) Simulate(id string, state map[string]any) (map[string]any, error) {
	s.mu.Lock()
	a, ok := s.amendments[id]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("amendment %q not registered", id)
	}
	if missing := s.missingLocked(a); len(missing) > 0 {
		s.mu.Unlock()
		return nil, coreerr.AmendmentBlocked(id, missing)
	}
	s.mu.Unlock()

	clone := cloneState(state)

	if a.Effect != nil {
		out := a.Effect(clone)
		if out == nil {
			out = map[string]any{}
		}
		return out, nil
	}

	return runScriptEffect(a.Script, clone)
}

// runScriptEffect evaluates a JavaScript effect in a fresh isolated runtime.
func runScriptEffect(script string, state map[string]any) (map[string]any, error) {
	vm := goja.New()

	value, err := vm.RunString("(" + script + ")")
	if err != nil {
		return nil, fmt.Errorf("compile effect: %w", err)
	}

	fn, ok := goja.AssertFunction(value)
	if !ok {
		return nil, fmt.Errorf("effect script is not a function")
	}

	result, err := fn(goja.Undefined(), vm.ToValue(state))
	if err != nil {
		return nil, fmt.Errorf("run effect: %w", err)
	}

	exported := result.Export()
	out, ok := exported.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("effect must return a state object, got %T", exported)
	}
	return out, nil
}
