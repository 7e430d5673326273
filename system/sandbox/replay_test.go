package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	engine "github.com/mcp-tool-shop-org/consensusos/system/core"
)

func heightEvents() []engine.Event {
	return []engine.Event{
		{Topic: "chain.block", Sequence: 3, Data: map[string]any{"height": 3}},
		{Topic: "chain.block", Sequence: 1, Data: map[string]any{"height": 1}},
		{Topic: "config.updated", Sequence: 2, Data: map[string]any{"key": "limit", "value": 10}},
	}
}

func TestReplay_SortsBySequence(t *testing.T) {
	replay := NewReplayEngine().Handle("chain.*", func(state map[string]any, evt engine.Event) map[string]any {
		state["height"] = evt.JSON("height").Int()
		return state
	})

	result := replay.Replay(nil, heightEvents(), ReplayOptions{})

	assert.Equal(t, 2, result.Applied)
	assert.Equal(t, int64(3), result.FinalState["height"])

	require.Len(t, result.Steps, 2)
	assert.Equal(t, uint64(1), result.Steps[0].Sequence)
	assert.Equal(t, uint64(3), result.Steps[1].Sequence)
}

func TestReplay_WildcardAndExactHandlers(t *testing.T) {
	var order []string
	replay := NewReplayEngine().
		Handle("*", func(state map[string]any, evt engine.Event) map[string]any {
			order = append(order, "all:"+evt.Topic)
			return state
		}).
		Handle("config.updated", func(state map[string]any, evt engine.Event) map[string]any {
			order = append(order, "exact")
			state[evt.JSON("key").String()] = evt.JSON("value").Int()
			return state
		})

	result := replay.Replay(nil, heightEvents(), ReplayOptions{})

	assert.Equal(t, 3, result.Applied)
	assert.Equal(t, int64(10), result.FinalState["limit"])
	assert.Equal(t, []string{"all:chain.block", "all:config.updated", "exact", "all:chain.block"}, order)
}

func TestReplay_MaxEventsBound(t *testing.T) {
	replay := NewReplayEngine().Handle("*", func(state map[string]any, evt engine.Event) map[string]any {
		state["last"] = int64(evt.Sequence)
		return state
	})

	result := replay.Replay(nil, heightEvents(), ReplayOptions{MaxEvents: 2})
	assert.Equal(t, 2, result.Applied)
	assert.Equal(t, int64(2), result.FinalState["last"])
}

func TestReplay_StopAtSequence(t *testing.T) {
	replay := NewReplayEngine().Handle("*", func(state map[string]any, evt engine.Event) map[string]any {
		state["last"] = int64(evt.Sequence)
		return state
	})

	result := replay.Replay(nil, heightEvents(), ReplayOptions{StopAtSequence: 2})
	assert.Equal(t, 2, result.Applied)
	assert.Equal(t, int64(2), result.FinalState["last"])
}

func TestReplay_InitialStateNotMutated(t *testing.T) {
	initial := map[string]any{"height": 0}

	replay := NewReplayEngine().Handle("chain.*", func(state map[string]any, evt engine.Event) map[string]any {
		state["height"] = evt.JSON("height").Int()
		return state
	})

	replay.Replay(initial, heightEvents(), ReplayOptions{})
	assert.Equal(t, 0, initial["height"])
}

func TestReplay_DiffsPerStep(t *testing.T) {
	replay := NewReplayEngine().
		Handle("chain.*", func(state map[string]any, evt engine.Event) map[string]any {
			state["height"] = evt.JSON("height").Int()
			return state
		}).
		Handle("config.updated", func(state map[string]any, _ engine.Event) map[string]any {
			delete(state, "height")
			return state
		})

	result := replay.Replay(nil, heightEvents(), ReplayOptions{})

	require.Len(t, result.Steps, 3)

	// Step 1: height added.
	assert.Contains(t, result.Steps[0].Diff.Added, "height")

	// Step 2 (sequence 2): height removed by the config handler.
	assert.Equal(t, []string{"height"}, result.Steps[1].Diff.Removed)

	// Step 3 (sequence 3): height re-added.
	assert.Contains(t, result.Steps[2].Diff.Added, "height")
}

func TestReplay_UnmatchedEventsSkipped(t *testing.T) {
	replay := NewReplayEngine().Handle("governor.*", func(state map[string]any, _ engine.Event) map[string]any {
		return state
	})

	result := replay.Replay(nil, heightEvents(), ReplayOptions{})
	assert.Zero(t, result.Applied)
	assert.Empty(t, result.Steps)
}
