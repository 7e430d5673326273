package adapters

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// SimAdapter is an in-memory adapter for tests and the verify runtime.
// Responses, latency, and failures are scriptable per method.
type SimAdapter struct {
	mu        sync.Mutex
	family    string
	status    Status
	responses map[string]any
	latency   time.Duration
	failing   bool
	queries   []string
}

// NewSimAdapter creates a disconnected simulated adapter for the given
// family.
func NewSimAdapter(family string) *SimAdapter {
	if family == "" {
		family = "sim"
	}
	return &SimAdapter{
		family:    family,
		status:    StatusDisconnected,
		responses: make(map[string]any),
	}
}

// Respond scripts the response for a method.
func (a *SimAdapter) Respond(method string, data any) *SimAdapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.responses[method] = data
	return a
}

// SetLatency scripts a fixed artificial latency.
func (a *SimAdapter) SetLatency(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.latency = d
}

// SetFailing makes every query and health check fail until cleared.
func (a *SimAdapter) SetFailing(failing bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failing = failing
}

// Queries returns the methods queried so far.
func (a *SimAdapter) Queries() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string{}, a.queries...)
}

// Family implements ChainAdapter.
func (a *SimAdapter) Family() string { return a.family }

// Status implements ChainAdapter.
func (a *SimAdapter) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// Connect implements ChainAdapter.
func (a *SimAdapter) Connect(_ context.Context, _ Config) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failing {
		a.status = StatusError
		return fmt.Errorf("simulated connect failure")
	}
	a.status = StatusConnected
	return nil
}

// Disconnect implements ChainAdapter.
func (a *SimAdapter) Disconnect(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status = StatusDisconnected
	return nil
}

// GetInfo implements ChainAdapter.
func (a *SimAdapter) GetInfo(ctx context.Context) QueryResult {
	return a.Query(ctx, "getinfo", nil)
}

// Query implements ChainAdapter.
func (a *SimAdapter) Query(_ context.Context, method string, _ []any) QueryResult {
	started := time.Now()

	a.mu.Lock()
	latency := a.latency
	failing := a.failing
	data, scripted := a.responses[method]
	a.queries = append(a.queries, method)
	a.mu.Unlock()

	if latency > 0 {
		time.Sleep(latency)
	}

	if failing {
		return failure(fmt.Errorf("simulated failure for %s", method), started)
	}
	if !scripted {
		return failure(fmt.Errorf("method %s not scripted", method), started)
	}
	return success(data, started)
}

// HealthCheck implements ChainAdapter.
func (a *SimAdapter) HealthCheck(_ context.Context) Health {
	started := time.Now()

	a.mu.Lock()
	latency := a.latency
	failing := a.failing
	status := a.status
	a.mu.Unlock()

	if latency > 0 {
		time.Sleep(latency)
	}

	return Health{
		Healthy:   !failing && status == StatusConnected,
		LatencyMs: time.Since(started).Milliseconds(),
	}
}
