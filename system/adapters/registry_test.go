package adapters

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreerr "github.com/mcp-tool-shop-org/consensusos/infrastructure/errors"
)

func TestRegistry_RegisterAndGet(t *testing.T) {
	reg := NewRegistry()

	mainnet := NewSimAdapter("neo")
	testnet := NewSimAdapter("neo")

	require.NoError(t, reg.Register("mainnet", mainnet))
	require.NoError(t, reg.Register("testnet", testnet))

	got, ok := reg.Get("neo", "mainnet")
	require.True(t, ok)
	assert.Same(t, mainnet, got.(*SimAdapter))

	_, ok = reg.Get("neo", "privnet")
	assert.False(t, ok)
}

func TestRegistry_DuplicateRefused(t *testing.T) {
	reg := NewRegistry()

	require.NoError(t, reg.Register("mainnet", NewSimAdapter("neo")))
	err := reg.Register("mainnet", NewSimAdapter("neo"))
	require.Error(t, err)
	assert.True(t, coreerr.HasCode(err, coreerr.ErrCodeDuplicateAdapter))

	// Same family, different network is fine.
	require.NoError(t, reg.Register("testnet", NewSimAdapter("neo")))
}

func TestRegistry_ListReflectsStatus(t *testing.T) {
	reg := NewRegistry()

	connected := NewSimAdapter("neo")
	require.NoError(t, connected.Connect(context.Background(), Config{}))
	idle := NewSimAdapter("eth")

	require.NoError(t, reg.Register("mainnet", connected))
	require.NoError(t, reg.Register("sepolia", idle))

	infos := reg.List()
	require.Len(t, infos, 2)
	assert.Equal(t, "neo", infos[0].Family)
	assert.Equal(t, StatusConnected, infos[0].Status)
	assert.Equal(t, StatusDisconnected, infos[1].Status)
}

func TestRegistry_DisconnectAll(t *testing.T) {
	reg := NewRegistry()

	a := NewSimAdapter("neo")
	b := NewSimAdapter("eth")
	require.NoError(t, a.Connect(context.Background(), Config{}))
	require.NoError(t, b.Connect(context.Background(), Config{}))

	require.NoError(t, reg.Register("mainnet", a))
	require.NoError(t, reg.Register("mainnet", b))

	require.NoError(t, reg.DisconnectAll(context.Background()))
	assert.Equal(t, StatusDisconnected, a.Status())
	assert.Equal(t, StatusDisconnected, b.Status())
}

func TestSimAdapter_QueryLifecycle(t *testing.T) {
	sim := NewSimAdapter("neo").Respond("getblockcount", 42)
	require.NoError(t, sim.Connect(context.Background(), Config{}))

	res := sim.Query(context.Background(), "getblockcount", nil)
	assert.True(t, res.Success)
	assert.Equal(t, 42, res.Data)

	res = sim.Query(context.Background(), "unknown", nil)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "not scripted")

	health := sim.HealthCheck(context.Background())
	assert.True(t, health.Healthy)

	sim.SetFailing(true)
	res = sim.Query(context.Background(), "getblockcount", nil)
	assert.False(t, res.Success)
	assert.False(t, sim.HealthCheck(context.Background()).Healthy)
}
