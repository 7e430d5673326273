package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/mcp-tool-shop-org/consensusos/infrastructure/ratelimit"
)

// neoFamily is the adapter family served by NeoAdapter.
const neoFamily = "neo"

const (
	defaultNeoTimeout  = 30 * time.Second
	maxRPCResponseSize = 8 << 20
)

// rpcRequest is a JSON-RPC 2.0 request envelope.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      int    `json:"id"`
}

// rpcError is a JSON-RPC 2.0 error object.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// rpcResponse is a JSON-RPC 2.0 response envelope.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	ID      int             `json:"id"`
}

// NeoAdapter speaks JSON-RPC to a Neo N3 node. Queries are rate limited so a
// misbehaving plugin cannot saturate the node.
type NeoAdapter struct {
	mu         sync.Mutex
	status     Status
	rpcURL     string
	httpClient *http.Client
	limiter    *ratelimit.Limiter
}

// NewNeoAdapter creates a disconnected neo adapter.
func NewNeoAdapter() *NeoAdapter {
	return &NeoAdapter{
		status:  StatusDisconnected,
		limiter: ratelimit.New(ratelimit.DefaultConfig()),
	}
}

// Family implements ChainAdapter.
func (a *NeoAdapter) Family() string { return neoFamily }

// Status implements ChainAdapter.
func (a *NeoAdapter) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

func (a *NeoAdapter) setStatus(s Status) {
	a.mu.Lock()
	a.status = s
	a.mu.Unlock()
}

// Connect implements ChainAdapter. It probes the node with getversion and
// errors on transport failures.
func (a *NeoAdapter) Connect(ctx context.Context, cfg Config) error {
	if strings.TrimSpace(cfg.RPCURL) == "" {
		return fmt.Errorf("rpc url required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultNeoTimeout
	}

	a.mu.Lock()
	a.rpcURL = strings.TrimRight(strings.TrimSpace(cfg.RPCURL), "/")
	a.httpClient = &http.Client{Timeout: timeout}
	a.status = StatusConnecting
	a.mu.Unlock()

	if _, err := a.call(ctx, "getversion", nil); err != nil {
		a.setStatus(StatusError)
		return fmt.Errorf("connect %s: %w", cfg.RPCURL, err)
	}

	a.setStatus(StatusConnected)
	return nil
}

// Disconnect implements ChainAdapter.
func (a *NeoAdapter) Disconnect(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status = StatusDisconnected
	a.httpClient = nil
	return nil
}

// GetInfo implements ChainAdapter, reporting the node version and network.
func (a *NeoAdapter) GetInfo(ctx context.Context) QueryResult {
	started := time.Now()

	raw, err := a.call(ctx, "getversion", nil)
	if err != nil {
		return failure(err, started)
	}

	parsed := gjson.ParseBytes(raw)
	return success(map[string]any{
		"user_agent": parsed.Get("useragent").String(),
		"network":    parsed.Get("protocol.network").Int(),
		"nonce":      parsed.Get("nonce").Int(),
	}, started)
}

// Query implements ChainAdapter: a generic JSON-RPC dispatch returning the
// decoded result.
func (a *NeoAdapter) Query(ctx context.Context, method string, params []any) QueryResult {
	started := time.Now()

	raw, err := a.call(ctx, method, params)
	if err != nil {
		return failure(err, started)
	}

	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return failure(fmt.Errorf("decode result: %w", err), started)
	}
	return success(data, started)
}

// HealthCheck implements ChainAdapter using getblockcount latency.
func (a *NeoAdapter) HealthCheck(ctx context.Context) Health {
	started := time.Now()
	_, err := a.call(ctx, "getblockcount", nil)
	return Health{
		Healthy:   err == nil,
		LatencyMs: time.Since(started).Milliseconds(),
	}
}

// call performs one rate-limited JSON-RPC round trip.
func (a *NeoAdapter) call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	a.mu.Lock()
	client := a.httpClient
	url := a.rpcURL
	a.mu.Unlock()

	if client == nil {
		return nil, fmt.Errorf("not connected")
	}

	if err := a.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	if params == nil {
		params = []any{}
	}
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      1,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxRPCResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("rpc http error %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}

	return rpcResp.Result, nil
}
