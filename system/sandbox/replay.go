package sandbox

import (
	"encoding/json"
	"sort"

	engine "github.com/mcp-tool-shop-org/consensusos/system/core"
)

// ReplayHandler is a pure state transformer applied to matching events. It
// receives a private copy of the state and returns the next state.
type ReplayHandler func(state map[string]any, evt engine.Event) map[string]any

// ReplayOptions bounds a replay run. Zero values mean unbounded.
type ReplayOptions struct {
	MaxEvents      int
	StopAtSequence uint64
}

// StateDiff describes how one replay step changed the state.
type StateDiff struct {
	Added   map[string]any `json:"added,omitempty"`
	Removed []string       `json:"removed,omitempty"`
	Changed map[string]any `json:"changed,omitempty"`
}

// Empty reports whether the step changed nothing.
func (d StateDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// ReplayStep records one applied event and its state diff.
type ReplayStep struct {
	Sequence uint64    `json:"sequence"`
	Topic    string    `json:"topic"`
	Diff     StateDiff `json:"diff"`
}

// ReplayResult is the outcome of a replay run.
type ReplayResult struct {
	FinalState map[string]any `json:"final_state"`
	Steps      []ReplayStep   `json:"steps"`
	Applied    int            `json:"applied"`
}

type replayHandler struct {
	pattern string
	fn      ReplayHandler
}

// ReplayEngine re-applies recorded events to a state through pure handlers
// registered per topic pattern. Patterns match exactly like bus
// subscriptions: exact, "prefix.*", or "*".
type ReplayEngine struct {
	handlers []replayHandler
}

// NewReplayEngine creates an empty replay engine.
func NewReplayEngine() *ReplayEngine {
	return &ReplayEngine{}
}

// Handle registers a pure handler for a topic pattern. Handlers fire in
// registration order for each matching event.
func (r *ReplayEngine) Handle(pattern string, fn ReplayHandler) *ReplayEngine {
	r.handlers = append(r.handlers, replayHandler{pattern: pattern, fn: fn})
	return r
}

// Replay sorts events by sequence and applies matching handlers to a cloned
// state, honoring the MaxEvents and StopAtSequence bounds. Per-step diffs
// are computed between the state before and after each applied event.
func (r *ReplayEngine) Replay(initial map[string]any, events []engine.Event, opts ReplayOptions) ReplayResult {
	state := cloneState(initial)

	ordered := make([]engine.Event, len(events))
	copy(ordered, events)
	sort.Slice(ordered, func(a, b int) bool {
		return ordered[a].Sequence < ordered[b].Sequence
	})

	result := ReplayResult{}
	for _, evt := range ordered {
		if opts.MaxEvents > 0 && result.Applied >= opts.MaxEvents {
			break
		}
		if opts.StopAtSequence > 0 && evt.Sequence > opts.StopAtSequence {
			break
		}

		before := cloneState(state)
		touched := false
		for _, h := range r.handlers {
			if !engine.MatchTopic(h.pattern, evt.Topic) {
				continue
			}
			touched = true
			if next := h.fn(cloneState(state), evt); next != nil {
				state = next
			}
		}
		if !touched {
			continue
		}

		result.Applied++
		result.Steps = append(result.Steps, ReplayStep{
			Sequence: evt.Sequence,
			Topic:    evt.Topic,
			Diff:     diffStates(before, state),
		})
	}

	result.FinalState = state
	return result
}

// cloneState deep-copies a state map through its JSON encoding.
func cloneState(state map[string]any) map[string]any {
	if state == nil {
		return map[string]any{}
	}
	raw, err := json.Marshal(state)
	if err != nil {
		// Non-encodable states fall back to a shallow copy.
		out := make(map[string]any, len(state))
		for k, v := range state {
			out[k] = v
		}
		return out
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil || out == nil {
		return map[string]any{}
	}
	return out
}

// diffStates computes added, removed, and changed keys between two states.
func diffStates(before, after map[string]any) StateDiff {
	diff := StateDiff{}

	for k, v := range after {
		prev, existed := before[k]
		if !existed {
			if diff.Added == nil {
				diff.Added = make(map[string]any)
			}
			diff.Added[k] = v
			continue
		}
		if !jsonEqual(prev, v) {
			if diff.Changed == nil {
				diff.Changed = make(map[string]any)
			}
			diff.Changed[k] = v
		}
	}

	for k := range before {
		if _, exists := after[k]; !exists {
			diff.Removed = append(diff.Removed, k)
		}
	}
	sort.Strings(diff.Removed)

	return diff
}

func jsonEqual(a, b any) bool {
	ra, errA := json.Marshal(a)
	rb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(ra) == string(rb)
}
