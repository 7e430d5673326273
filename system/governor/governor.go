package governor

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	coreerr "github.com/mcp-tool-shop-org/consensusos/infrastructure/errors"
	"github.com/mcp-tool-shop-org/consensusos/infrastructure/logging"
	"github.com/mcp-tool-shop-org/consensusos/infrastructure/metrics"
	engine "github.com/mcp-tool-shop-org/consensusos/system/core"
)

// PluginID is the governor's id in the core loader.
const PluginID = "governor"

// Topics published by the governor facade.
const (
	TopicTokenIssued   = "governor.token.issued"
	TopicTokenDenied   = "governor.token.denied"
	TopicTaskQueued    = "governor.task.queued"
	TopicTaskCompleted = "governor.task.completed"
	TopicTaskFailed    = "governor.task.failed"
)

// Invariant names registered by the governor.
const (
	InvariantResourceLimits = "resource-limits"
	InvariantQueueDepth     = "queue-depth"
)

// TokenGrant is the outcome of a facade token request: the policy verdict,
// and a token when one was issued.
type TokenGrant struct {
	Verdict PolicyVerdict `json:"verdict"`
	Token   *Token        `json:"token,omitempty"`
}

// Governor composes the token issuer, policy engine, audit log, and build
// queue behind one scheduling facade. It is itself a plugin: it registers
// the governor invariants during Init and publishes scheduling events on the
// shared bus.
type Governor struct {
	limits  Limits
	issuer  *Issuer
	policy  *PolicyEngine
	queue   *BuildQueue
	audit   *AuditLog
	log     *logging.Logger
	metrics *metrics.Metrics

	bus *engine.Bus

	sweepSchedule string
	sweeper       *cron.Cron
}

// Option configures a Governor.
type Option func(*Governor)

// WithMetrics attaches prometheus collectors to all collaborators.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Governor) { g.metrics = m }
}

// WithSweepSchedule enables the cron expiry sweeper, e.g. "@every 30s".
// Expiry is otherwise only enforced opportunistically on Validate.
func WithSweepSchedule(schedule string) Option {
	return func(g *Governor) { g.sweepSchedule = schedule }
}

// New creates a governor with fixed limits and the executor used for every
// task this instance processes.
func New(limits Limits, executor Executor, opts ...Option) *Governor {
	g := &Governor{limits: limits}
	for _, opt := range opts {
		opt(g)
	}

	g.audit = NewAuditLog()
	g.issuer = NewIssuer(limits, g.audit)
	g.policy = NewPolicyEngine(g.audit)
	g.queue = NewBuildQueue(limits, g.issuer, executor, g.audit)

	if g.metrics != nil {
		g.issuer.SetMetrics(g.metrics)
		g.queue.SetMetrics(g.metrics)
	}

	return g
}

// Manifest implements engine.Plugin.
func (g *Governor) Manifest() engine.Manifest {
	return engine.Manifest{
		ID:           PluginID,
		Name:         "Governor",
		Version:      "1.0.0",
		Capabilities: []string{"scheduling", "governance"},
	}
}

// Init implements engine.Plugin: capture the shared bus and logger, then
// register the governor invariants on the shared engine.
func (g *Governor) Init(ctx *engine.PluginContext) engine.Result {
	g.bus = ctx.Events
	g.log = ctx.Log

	err := ctx.Invariants.Register(engine.Invariant{
		Name:        InvariantResourceLimits,
		Owner:       PluginID,
		Description: "proposed reservation fits the remaining fleet budget",
		Check:       g.checkResourceLimits,
	})
	if err != nil {
		return engine.Failf("register %s: %v", InvariantResourceLimits, err)
	}

	err = ctx.Invariants.Register(engine.Invariant{
		Name:        InvariantQueueDepth,
		Owner:       PluginID,
		Description: "build queue depth stays under the configured maximum",
		Check:       g.checkQueueDepth,
	})
	if err != nil {
		return engine.Failf("register %s: %v", InvariantQueueDepth, err)
	}

	return engine.OK()
}

// Start implements engine.Plugin, starting the optional expiry sweeper.
func (g *Governor) Start() engine.Result {
	if g.sweepSchedule != "" {
		g.sweeper = cron.New()
		_, err := g.sweeper.AddFunc(g.sweepSchedule, func() {
			if swept := g.issuer.Sweep(); len(swept) > 0 {
				g.log.WithField("count", len(swept)).Info("Swept expired tokens")
			}
		})
		if err != nil {
			return engine.Failf("invalid sweep schedule %q: %v", g.sweepSchedule, err)
		}
		g.sweeper.Start()
	}
	return engine.OK()
}

// Stop implements engine.Plugin.
func (g *Governor) Stop() engine.Result {
	if g.sweeper != nil {
		<-g.sweeper.Stop().Done()
		g.sweeper = nil
	}
	return engine.OK()
}

// checkResourceLimits is the resource-limits invariant: the proposed
// cpuMillis/memoryBytes reservation in the transition context must fit the
// remaining budget.
func (g *Governor) checkResourceLimits(_ context.Context, tc engine.TransitionContext) error {
	usage := g.issuer.Usage()

	cpu := asInt64(tc["cpuMillis"])
	mem := asInt64(tc["memoryBytes"])

	if usage.CPUMillis+cpu > g.limits.TotalCPUMillis {
		return fmt.Errorf("cpu reservation %d exceeds remaining budget %d",
			cpu, g.limits.TotalCPUMillis-usage.CPUMillis)
	}
	if usage.MemoryBytes+mem > g.limits.TotalMemoryBytes {
		return fmt.Errorf("memory reservation %d exceeds remaining budget %d",
			mem, g.limits.TotalMemoryBytes-usage.MemoryBytes)
	}
	return nil
}

// checkQueueDepth is the queue-depth invariant.
func (g *Governor) checkQueueDepth(_ context.Context, tc engine.TransitionContext) error {
	proposed := int(asInt64(tc["queuedTasks"]))
	if proposed == 0 {
		proposed = g.queue.Depth()
	}
	if g.limits.MaxQueueDepth > 0 && proposed >= g.limits.MaxQueueDepth {
		return fmt.Errorf("queue depth %d at maximum %d", proposed, g.limits.MaxQueueDepth)
	}
	return nil
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

// RequestToken evaluates policy against the live usage and either denies,
// throttles (halving the requested reservation), or issues a token.
func (g *Governor) RequestToken(req TokenRequest) (TokenGrant, error) {
	req = req.normalized()

	pc := PolicyContext{
		Usage:       g.issuer.Usage(),
		QueuedTasks: g.queue.Depth(),
	}
	verdict := g.policy.Evaluate(PolicyRequest{
		Owner:       req.Owner,
		CPUMillis:   req.CPUMillis,
		MemoryBytes: req.MemoryBytes,
		Priority:    req.Priority,
	}, pc)

	switch verdict.Verdict {
	case VerdictDeny:
		g.audit.Record(ActionTokenDenied, req.Owner, "", map[string]any{
			"deciding_rule": verdict.DecidingRule,
		})
		if g.metrics != nil {
			g.metrics.TokensDenied.WithLabelValues("policy").Inc()
		}
		g.publish(TopicTokenDenied, map[string]any{
			"owner":         req.Owner,
			"deciding_rule": verdict.DecidingRule,
		})
		return TokenGrant{Verdict: verdict}, coreerr.PolicyDenied(verdict.DecidingRule)

	case VerdictThrottle:
		req.CPUMillis = req.CPUMillis / 2
		req.MemoryBytes = req.MemoryBytes / 2
		g.audit.Record(ActionThrottleApplied, req.Owner, "", map[string]any{
			"deciding_rule": verdict.DecidingRule,
			"cpu_millis":    req.CPUMillis,
			"memory_bytes":  req.MemoryBytes,
		})
	}

	token, err := g.issuer.Issue(req)
	if err != nil {
		if g.metrics != nil {
			g.metrics.TokensDenied.WithLabelValues("budget").Inc()
		}
		g.publish(TopicTokenDenied, map[string]any{
			"owner":  req.Owner,
			"reason": err.Error(),
		})
		return TokenGrant{Verdict: verdict}, err
	}

	g.publish(TopicTokenIssued, map[string]any{
		"token_id":     token.ID,
		"owner":        token.Owner,
		"cpu_millis":   token.CPUMillis,
		"memory_bytes": token.MemoryBytes,
		"priority":     token.Priority,
	})

	return TokenGrant{Verdict: verdict, Token: &token}, nil
}

// SubmitTask enqueues a token-bound task and publishes governor.task.queued.
func (g *Governor) SubmitTask(spec TaskSpec) (Task, error) {
	task, err := g.queue.Submit(spec)
	if err != nil {
		return Task{}, err
	}

	g.publish(TopicTaskQueued, map[string]any{
		"task_id":  task.ID,
		"label":    task.Label,
		"owner":    task.Owner,
		"priority": task.Priority,
	})
	return task, nil
}

// ProcessTasks drains the queue and publishes one completion or failure
// event per finished task.
func (g *Governor) ProcessTasks(ctx context.Context) []Task {
	resolved := g.queue.Drain(ctx)

	for _, task := range resolved {
		data := map[string]any{
			"task_id": task.ID,
			"label":   task.Label,
			"owner":   task.Owner,
			"status":  string(task.Status),
		}
		if task.Status == TaskCompleted {
			g.publish(TopicTaskCompleted, data)
		} else {
			data["error"] = task.Error
			g.publish(TopicTaskFailed, data)
		}
	}

	return resolved
}

func (g *Governor) publish(topic string, data map[string]any) {
	if g.bus != nil {
		g.bus.Publish(topic, PluginID, data)
	}
}

// Limits returns the fixed fleet limits.
func (g *Governor) Limits() Limits { return g.limits }

// Usage returns the live reservation totals.
func (g *Governor) Usage() Usage { return g.issuer.Usage() }

// Issuer exposes the token issuer.
func (g *Governor) Issuer() *Issuer { return g.issuer }

// Policy exposes the policy engine for dynamic rule management.
func (g *Governor) Policy() *PolicyEngine { return g.policy }

// Queue exposes the build queue.
func (g *Governor) Queue() *BuildQueue { return g.queue }

// Audit exposes the governor audit trail.
func (g *Governor) Audit() *AuditLog { return g.audit }
