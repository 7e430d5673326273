package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeNeoNode answers JSON-RPC with canned results per method.
func fakeNeoNode(t *testing.T, results map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		result, ok := results[req.Method]
		w.Header().Set("Content-Type", "application/json")
		if !ok {
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"Method not found"}}`)
			return
		}
		raw, err := json.Marshal(result)
		require.NoError(t, err)
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":1,"result":%s}`, raw)
	}))
}

func TestNeoAdapter_ConnectAndQuery(t *testing.T) {
	node := fakeNeoNode(t, map[string]any{
		"getversion": map[string]any{
			"useragent": "/Neo:3.6.0/",
			"nonce":     12345,
			"protocol":  map[string]any{"network": 860833102},
		},
		"getblockcount": 777,
	})
	defer node.Close()

	adapter := NewNeoAdapter()
	assert.Equal(t, StatusDisconnected, adapter.Status())

	require.NoError(t, adapter.Connect(context.Background(), Config{RPCURL: node.URL, NetworkID: "mainnet"}))
	assert.Equal(t, StatusConnected, adapter.Status())

	info := adapter.GetInfo(context.Background())
	require.True(t, info.Success)
	data := info.Data.(map[string]any)
	assert.Equal(t, "/Neo:3.6.0/", data["user_agent"])
	assert.Equal(t, int64(860833102), data["network"])

	res := adapter.Query(context.Background(), "getblockcount", nil)
	require.True(t, res.Success)
	assert.Equal(t, float64(777), res.Data)
	assert.GreaterOrEqual(t, res.LatencyMs, int64(0))

	health := adapter.HealthCheck(context.Background())
	assert.True(t, health.Healthy)

	require.NoError(t, adapter.Disconnect(context.Background()))
	assert.Equal(t, StatusDisconnected, adapter.Status())
}

func TestNeoAdapter_RPCErrorSurfacesStructurally(t *testing.T) {
	node := fakeNeoNode(t, map[string]any{
		"getversion": map[string]any{"useragent": "/Neo:3.6.0/"},
	})
	defer node.Close()

	adapter := NewNeoAdapter()
	require.NoError(t, adapter.Connect(context.Background(), Config{RPCURL: node.URL}))

	res := adapter.Query(context.Background(), "bogusmethod", nil)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "Method not found")
}

func TestNeoAdapter_ConnectFailsOnUnreachableNode(t *testing.T) {
	adapter := NewNeoAdapter()

	err := adapter.Connect(context.Background(), Config{RPCURL: "http://127.0.0.1:1"})
	require.Error(t, err)
	assert.Equal(t, StatusError, adapter.Status())
}

func TestNeoAdapter_QueryBeforeConnect(t *testing.T) {
	adapter := NewNeoAdapter()

	res := adapter.Query(context.Background(), "getblockcount", nil)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "not connected")
}
