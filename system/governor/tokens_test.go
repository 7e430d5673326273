package governor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreerr "github.com/mcp-tool-shop-org/consensusos/infrastructure/errors"
)

func testLimits() Limits {
	return Limits{
		TotalCPUMillis:   4000,
		TotalMemoryBytes: 1 << 30,
		MaxConcurrent:    2,
		MaxQueueDepth:    16,
	}
}

func TestIssuer_Defaults(t *testing.T) {
	issuer := NewIssuer(testLimits(), nil)

	token, err := issuer.Issue(TokenRequest{Owner: "alice"})
	require.NoError(t, err)

	assert.Equal(t, DefaultCPUMillis, token.CPUMillis)
	assert.Equal(t, DefaultMemoryBytes, token.MemoryBytes)
	assert.Equal(t, DefaultTimeoutMs, token.TimeoutMs)
	assert.Equal(t, DefaultPriority, token.Priority)
	assert.Nil(t, token.ExpiresAt)
	assert.NotEmpty(t, token.ID)
}

func TestIssuer_PriorityClamped(t *testing.T) {
	issuer := NewIssuer(testLimits(), nil)

	low, err := issuer.Issue(TokenRequest{Owner: "alice", Priority: -5, CPUMillis: 10, MemoryBytes: 10})
	require.NoError(t, err)
	assert.Equal(t, MinPriority, low.Priority)

	high, err := issuer.Issue(TokenRequest{Owner: "alice", Priority: 42, CPUMillis: 10, MemoryBytes: 10})
	require.NoError(t, err)
	assert.Equal(t, MaxPriority, high.Priority)
}

func TestIssuer_BudgetEnforcement(t *testing.T) {
	issuer := NewIssuer(testLimits(), nil)

	_, err := issuer.Issue(TokenRequest{Owner: "alice", CPUMillis: 3000, MemoryBytes: 1 << 20})
	require.NoError(t, err)

	_, err = issuer.Issue(TokenRequest{Owner: "bob", CPUMillis: 2000, MemoryBytes: 1 << 20})
	require.Error(t, err)
	assert.True(t, coreerr.HasCode(err, coreerr.ErrCodeBudgetExceeded))
	assert.Contains(t, err.Error(), "remaining 1000")
}

func TestIssuer_UsageSumsActiveTokens(t *testing.T) {
	issuer := NewIssuer(testLimits(), nil)

	a, _ := issuer.Issue(TokenRequest{Owner: "alice", CPUMillis: 500, MemoryBytes: 1 << 20})
	b, _ := issuer.Issue(TokenRequest{Owner: "bob", CPUMillis: 700, MemoryBytes: 2 << 20})
	c, _ := issuer.Issue(TokenRequest{Owner: "carol", CPUMillis: 300, MemoryBytes: 4 << 20})

	usage := issuer.Usage()
	assert.Equal(t, int64(1500), usage.CPUMillis)
	assert.Equal(t, int64(7<<20), usage.MemoryBytes)
	assert.Equal(t, 3, usage.ActiveTokens)

	require.True(t, issuer.Revoke(a.ID, "tester"))
	require.True(t, issuer.Consume(b.ID, "tester"))

	usage = issuer.Usage()
	assert.Equal(t, int64(300), usage.CPUMillis)
	assert.Equal(t, int64(4<<20), usage.MemoryBytes)
	assert.Equal(t, 1, usage.ActiveTokens)

	// Releasing the budget makes room for new issuance.
	_, err := issuer.Issue(TokenRequest{Owner: "dave", CPUMillis: 3700, MemoryBytes: 1 << 20})
	require.NoError(t, err)

	assert.True(t, issuer.Validate(c.ID))
}

func TestIssuer_ValidateLifecycle(t *testing.T) {
	issuer := NewIssuer(testLimits(), nil)

	token, _ := issuer.Issue(TokenRequest{Owner: "alice", CPUMillis: 10, MemoryBytes: 10})
	assert.True(t, issuer.Validate(token.ID))

	issuer.Consume(token.ID, "tester")
	assert.False(t, issuer.Validate(token.ID))

	assert.False(t, issuer.Validate("no-such-token"))
}

func TestIssuer_ExpiryAutoRevokes(t *testing.T) {
	issuer := NewIssuer(testLimits(), nil)

	clock := time.Now()
	issuer.SetClock(func() time.Time { return clock })

	token, err := issuer.Issue(TokenRequest{Owner: "alice", CPUMillis: 100, MemoryBytes: 100, TTLMs: 1000})
	require.NoError(t, err)
	require.NotNil(t, token.ExpiresAt)
	assert.True(t, issuer.Validate(token.ID))

	clock = clock.Add(2 * time.Second)
	assert.False(t, issuer.Validate(token.ID))

	snapshot, ok := issuer.Get(token.ID)
	require.True(t, ok)
	assert.True(t, snapshot.Revoked)

	expired := issuer.Audit().ByAction(ActionTokenExpired)
	require.Len(t, expired, 1)
	assert.Equal(t, token.ID, expired[0].EntityID)

	// The expired reservation no longer counts against the budget.
	assert.Zero(t, issuer.Usage().CPUMillis)
}

func TestIssuer_SweepRevokesAllExpired(t *testing.T) {
	issuer := NewIssuer(testLimits(), nil)

	clock := time.Now()
	issuer.SetClock(func() time.Time { return clock })

	short, _ := issuer.Issue(TokenRequest{Owner: "a", CPUMillis: 10, MemoryBytes: 10, TTLMs: 100})
	long, _ := issuer.Issue(TokenRequest{Owner: "b", CPUMillis: 10, MemoryBytes: 10, TTLMs: 60_000})

	clock = clock.Add(time.Second)
	swept := issuer.Sweep()

	assert.Equal(t, []string{short.ID}, swept)
	assert.True(t, issuer.Validate(long.ID))
}

func TestIssuer_RevokeInactiveReturnsFalse(t *testing.T) {
	issuer := NewIssuer(testLimits(), nil)

	token, _ := issuer.Issue(TokenRequest{Owner: "alice", CPUMillis: 10, MemoryBytes: 10})
	require.True(t, issuer.Revoke(token.ID, "tester"))
	assert.False(t, issuer.Revoke(token.ID, "tester"))
	assert.False(t, issuer.Consume(token.ID, "tester"))
}

func TestIssuer_AuditTrail(t *testing.T) {
	issuer := NewIssuer(testLimits(), nil)

	token, _ := issuer.Issue(TokenRequest{Owner: "alice", CPUMillis: 10, MemoryBytes: 10})
	issuer.Revoke(token.ID, "operator")

	entries := issuer.Audit().Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, ActionTokenIssued, entries[0].Action)
	assert.Equal(t, ActionTokenRevoked, entries[1].Action)
	assert.Equal(t, "operator", entries[1].Actor)
}

func TestLimitsFromHost(t *testing.T) {
	limits := LimitsFromHost()
	assert.Positive(t, limits.TotalCPUMillis)
	assert.Positive(t, limits.TotalMemoryBytes)
	assert.Positive(t, limits.MaxConcurrent)
}
