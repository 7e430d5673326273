package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	coreerr "github.com/mcp-tool-shop-org/consensusos/infrastructure/errors"
	"github.com/mcp-tool-shop-org/consensusos/infrastructure/logging"
	"github.com/mcp-tool-shop-org/consensusos/infrastructure/metrics"
)

// TransitionContext is the caller-supplied view of a proposed transition.
// Predicates must treat it as read-only.
type TransitionContext map[string]any

// CheckFunc is an invariant predicate. Returning nil means the invariant
// holds; a non-nil error or a panic counts as a violation (fail-closed).
type CheckFunc func(ctx context.Context, tc TransitionContext) error

// Invariant is a governance predicate registered by a plugin. Names are
// unique for the lifetime of the process; the registry is append-only.
type Invariant struct {
	Name        string
	Owner       string
	Description string
	Check       CheckFunc
}

// InvariantResult is the outcome of one predicate within a verdict.
type InvariantResult struct {
	Name     string        `json:"name"`
	Owner    string        `json:"owner"`
	Passed   bool          `json:"passed"`
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
}

// Verdict is the structured result of evaluating every registered invariant
// against one transition context.
type Verdict struct {
	Allowed   bool              `json:"allowed"`
	Results   []InvariantResult `json:"results"`
	Timestamp string            `json:"timestamp"`
}

// Violations returns the names of the invariants that failed.
func (v Verdict) Violations() []string {
	var out []string
	for _, r := range v.Results {
		if !r.Passed {
			out = append(out, r.Name)
		}
	}
	return out
}

// InvariantEngine evaluates the conjunction of registered predicates and
// records every verdict. Evaluation is sequential in registration order so
// the audit trail is deterministic.
type InvariantEngine struct {
	mu         sync.Mutex
	invariants []Invariant
	names      map[string]bool
	audit      []Verdict
	log        *logging.Logger
	metrics    *metrics.Metrics
}

// NewInvariantEngine creates an empty invariant engine.
func NewInvariantEngine(log *logging.Logger) *InvariantEngine {
	if log == nil {
		log = logging.Default().Scoped("invariants")
	}
	return &InvariantEngine{
		names: make(map[string]bool),
		log:   log,
	}
}

// SetMetrics attaches prometheus collectors. Nil-safe.
func (e *InvariantEngine) SetMetrics(m *metrics.Metrics) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.metrics = m
}

// Register appends an invariant. Duplicate names and nil predicates are
// rejected loudly; there is no unregister.
func (e *InvariantEngine) Register(inv Invariant) error {
	if inv.Name == "" {
		return fmt.Errorf("invariant name required")
	}
	if inv.Check == nil {
		return fmt.Errorf("invariant %q has no predicate", inv.Name)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.names[inv.Name] {
		return coreerr.DuplicateInvariant(inv.Name)
	}
	e.names[inv.Name] = true
	e.invariants = append(e.invariants, inv)
	return nil
}

// Check evaluates every registered invariant in registration order and
// returns the verdict. All predicates run even after a failure so callers
// see the full violation set. The verdict is appended to the audit log.
func (e *InvariantEngine) Check(ctx context.Context, tc TransitionContext) Verdict {
	e.mu.Lock()
	snapshot := make([]Invariant, len(e.invariants))
	copy(snapshot, e.invariants)
	m := e.metrics
	e.mu.Unlock()

	verdict := Verdict{
		Allowed:   true,
		Results:   make([]InvariantResult, 0, len(snapshot)),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}

	for _, inv := range snapshot {
		result := e.evaluate(ctx, inv, tc)
		if !result.Passed {
			verdict.Allowed = false
			if m != nil {
				m.InvariantViolations.WithLabelValues(inv.Name).Inc()
			}
		}
		verdict.Results = append(verdict.Results, result)
	}

	if m != nil {
		m.InvariantChecks.Inc()
	}

	e.mu.Lock()
	e.audit = append(e.audit, verdict)
	e.mu.Unlock()

	return verdict
}

// evaluate runs one predicate under a fail-closed guard: a panic counts as a
// violation with the panic value captured as the error.
func (e *InvariantEngine) evaluate(ctx context.Context, inv Invariant, tc TransitionContext) (result InvariantResult) {
	result = InvariantResult{Name: inv.Name, Owner: inv.Owner}
	start := time.Now()

	defer func() {
		result.Duration = time.Since(start)
		if r := recover(); r != nil {
			result.Passed = false
			result.Err = fmt.Errorf("invariant panic: %v", r)
			e.log.WithFields(map[string]interface{}{
				"invariant": inv.Name,
				"owner":     inv.Owner,
				"panic":     fmt.Sprint(r),
			}).Error("Invariant predicate panicked")
		}
	}()

	if err := inv.Check(ctx, tc); err != nil {
		result.Passed = false
		result.Err = err
		return result
	}

	result.Passed = true
	return result
}

// Registered returns a copy of the registered invariants in order.
func (e *InvariantEngine) Registered() []Invariant {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Invariant, len(e.invariants))
	copy(out, e.invariants)
	return out
}

// AuditLog returns a copy of every verdict produced so far, in order.
func (e *InvariantEngine) AuditLog() []Verdict {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Verdict, len(e.audit))
	copy(out, e.audit)
	return out
}
