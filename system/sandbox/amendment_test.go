package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreerr "github.com/mcp-tool-shop-org/consensusos/infrastructure/errors"
)

func TestSimulator_GoEffect(t *testing.T) {
	sim := NewSimulator()

	require.NoError(t, sim.Register(Amendment{
		ID:          "double-limit",
		Description: "doubles the rate limit",
		Effect: func(state map[string]any) map[string]any {
			state["limit"] = state["limit"].(float64) * 2
			return state
		},
	}))

	original := map[string]any{"limit": float64(10)}
	out, err := sim.Simulate("double-limit", original)
	require.NoError(t, err)

	assert.Equal(t, float64(20), out["limit"])
	assert.Equal(t, float64(10), original["limit"])
}

func TestSimulator_ScriptEffect(t *testing.T) {
	sim := NewSimulator()

	require.NoError(t, sim.Register(Amendment{
		ID:     "freeze",
		Script: `function(state) { state.frozen = true; state.reason = "audit"; return state }`,
	}))

	out, err := sim.Simulate("freeze", map[string]any{"height": float64(5)})
	require.NoError(t, err)

	assert.Equal(t, true, out["frozen"])
	assert.Equal(t, "audit", out["reason"])
	assert.Equal(t, float64(5), out["height"])
}

func TestSimulator_ScriptMustReturnObject(t *testing.T) {
	sim := NewSimulator()

	require.NoError(t, sim.Register(Amendment{
		ID:     "broken",
		Script: `function(state) { return 42 }`,
	}))

	_, err := sim.Simulate("broken", map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "state object")
}

func TestSimulator_PrerequisiteEnforcement(t *testing.T) {
	sim := NewSimulator()

	require.NoError(t, sim.Register(Amendment{
		ID:     "base",
		Effect: func(state map[string]any) map[string]any { return state },
	}))
	require.NoError(t, sim.Register(Amendment{
		ID:       "dependent",
		Requires: []string{"base"},
		Effect:   func(state map[string]any) map[string]any { return state },
	}))

	_, err := sim.Simulate("dependent", map[string]any{})
	require.Error(t, err)
	assert.True(t, coreerr.HasCode(err, coreerr.ErrCodeAmendmentBlocked))

	err = sim.Activate("dependent")
	require.Error(t, err)

	require.NoError(t, sim.Activate("base"))
	require.NoError(t, sim.Activate("dependent"))

	_, err = sim.Simulate("dependent", map[string]any{})
	assert.NoError(t, err)

	assert.Equal(t, []string{"base", "dependent"}, sim.Active())
}

func TestSimulator_DuplicateAndUnknown(t *testing.T) {
	sim := NewSimulator()

	a := Amendment{ID: "once", Effect: func(state map[string]any) map[string]any { return state }}
	require.NoError(t, sim.Register(a))
	assert.Error(t, sim.Register(a))

	_, err := sim.Simulate("never-registered", map[string]any{})
	assert.Error(t, err)

	assert.Error(t, sim.Activate("never-registered"))
}

func TestSimulator_Records(t *testing.T) {
	sim := NewSimulator()

	require.NoError(t, sim.Register(Amendment{ID: "a", Effect: func(s map[string]any) map[string]any { return s }}))
	require.NoError(t, sim.Register(Amendment{ID: "b", Effect: func(s map[string]any) map[string]any { return s }}))
	require.NoError(t, sim.Activate("a"))

	records := sim.Records()
	assert.Equal(t, []AmendmentRecord{{ID: "a", Active: true}, {ID: "b", Active: false}}, records)
}
