package governor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreerr "github.com/mcp-tool-shop-org/consensusos/infrastructure/errors"
)

func TestPolicyEngine_AllowWhenNoRules(t *testing.T) {
	engine := NewPolicyEngine(nil)

	verdict := engine.Evaluate(PolicyRequest{Owner: "alice"}, PolicyContext{})
	assert.Equal(t, VerdictAllow, verdict.Verdict)
	assert.Empty(t, verdict.DecidingRule)
}

func TestPolicyEngine_DuplicateIDRejected(t *testing.T) {
	engine := NewPolicyEngine(nil)

	rule := Rule{ID: "dup", Priority: 1, Evaluate: func(PolicyRequest, PolicyContext) VerdictKind { return VerdictAllow }}
	require.NoError(t, engine.AddRule(rule))

	err := engine.AddRule(rule)
	require.Error(t, err)
	assert.True(t, coreerr.HasCode(err, coreerr.ErrCodeDuplicateRule))
}

func TestPolicyEngine_PriorityOrderFirstNonAllowWins(t *testing.T) {
	engine := NewPolicyEngine(nil)

	var visited []string
	mk := func(id string, priority int, out VerdictKind) Rule {
		return Rule{
			ID:       id,
			Priority: priority,
			Evaluate: func(PolicyRequest, PolicyContext) VerdictKind {
				visited = append(visited, id)
				return out
			},
		}
	}

	require.NoError(t, engine.AddRule(mk("low-deny", 1, VerdictDeny)))
	require.NoError(t, engine.AddRule(mk("high-allow", 10, VerdictAllow)))
	require.NoError(t, engine.AddRule(mk("mid-throttle", 5, VerdictThrottle)))

	verdict := engine.Evaluate(PolicyRequest{Owner: "alice"}, PolicyContext{})

	assert.Equal(t, VerdictThrottle, verdict.Verdict)
	assert.Equal(t, "mid-throttle", verdict.DecidingRule)
	assert.Equal(t, []string{"high-allow", "mid-throttle"}, visited)
}

func TestPolicyEngine_RemoveRule(t *testing.T) {
	engine := NewPolicyEngine(nil)

	deny := Rule{ID: "deny-all", Priority: 1, Evaluate: func(PolicyRequest, PolicyContext) VerdictKind { return VerdictDeny }}
	require.NoError(t, engine.AddRule(deny))

	assert.Equal(t, VerdictDeny, engine.Evaluate(PolicyRequest{}, PolicyContext{}).Verdict)

	assert.True(t, engine.RemoveRule("deny-all"))
	assert.False(t, engine.RemoveRule("deny-all"))
	assert.Equal(t, VerdictAllow, engine.Evaluate(PolicyRequest{}, PolicyContext{}).Verdict)
}

func TestPolicyEngine_EveryEvaluationAudited(t *testing.T) {
	audit := NewAuditLog()
	engine := NewPolicyEngine(audit)

	engine.Evaluate(PolicyRequest{Owner: "alice", CPUMillis: 100}, PolicyContext{})

	entries := audit.ByAction(ActionPolicyEvaluated)
	require.Len(t, entries, 1)
	assert.Equal(t, "allow", entries[0].Details["verdict"])
	assert.Equal(t, "none", entries[0].Details["deciding_rule"])
}

func TestCPUThresholdRule(t *testing.T) {
	rule := CPUThresholdRule(10, 0.8)

	assert.Equal(t, VerdictAllow, rule.Evaluate(PolicyRequest{}, PolicyContext{Usage: Usage{CPUUtilization: 0.5}}))
	assert.Equal(t, VerdictDeny, rule.Evaluate(PolicyRequest{}, PolicyContext{Usage: Usage{CPUUtilization: 0.8}}))
	assert.Equal(t, VerdictDeny, rule.Evaluate(PolicyRequest{}, PolicyContext{Usage: Usage{CPUUtilization: 0.95}}))
}

func TestMemoryThresholdRule(t *testing.T) {
	rule := MemoryThresholdRule(10, 0.9)

	assert.Equal(t, VerdictAllow, rule.Evaluate(PolicyRequest{}, PolicyContext{Usage: Usage{MemoryUtilization: 0.89}}))
	assert.Equal(t, VerdictDeny, rule.Evaluate(PolicyRequest{}, PolicyContext{Usage: Usage{MemoryUtilization: 0.9}}))
}

func TestQueueDepthRule(t *testing.T) {
	rule := QueueDepthRule(10, 5)

	assert.Equal(t, VerdictAllow, rule.Evaluate(PolicyRequest{}, PolicyContext{QueuedTasks: 4}))
	assert.Equal(t, VerdictDeny, rule.Evaluate(PolicyRequest{}, PolicyContext{QueuedTasks: 5}))
}

func TestPriorityThrottleRule(t *testing.T) {
	rule := PriorityThrottleRule(10, 7, 0.6)

	loaded := PolicyContext{Usage: Usage{CPUUtilization: 0.75, MemoryUtilization: 0.45}}

	// Average load 0.6 and priority below the floor: throttle.
	assert.Equal(t, VerdictThrottle, rule.Evaluate(PolicyRequest{Priority: 3}, loaded))

	// High-priority requests pass untouched.
	assert.Equal(t, VerdictAllow, rule.Evaluate(PolicyRequest{Priority: 8}, loaded))

	// Light load allows everything.
	idle := PolicyContext{Usage: Usage{CPUUtilization: 0.1, MemoryUtilization: 0.1}}
	assert.Equal(t, VerdictAllow, rule.Evaluate(PolicyRequest{Priority: 3}, idle))
}
