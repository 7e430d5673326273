package governor

import (
	"sort"
	"sync"

	coreerr "github.com/mcp-tool-shop-org/consensusos/infrastructure/errors"
)

// VerdictKind is the outcome of one policy rule and, by first-non-allow, of
// a full evaluation.
type VerdictKind string

const (
	VerdictAllow    VerdictKind = "allow"
	VerdictDeny     VerdictKind = "deny"
	VerdictThrottle VerdictKind = "throttle"
)

// PolicyRequest sketches the token request under evaluation.
type PolicyRequest struct {
	Owner       string `json:"owner"`
	CPUMillis   int64  `json:"cpu_millis"`
	MemoryBytes int64  `json:"memory_bytes"`
	Priority    int    `json:"priority"`
}

// PolicyContext carries the live state rules evaluate against.
type PolicyContext struct {
	Usage       Usage `json:"usage"`
	QueuedTasks int   `json:"queued_tasks"`
}

// RuleFunc evaluates one rule against a request and the live context.
type RuleFunc func(req PolicyRequest, pc PolicyContext) VerdictKind

// Rule is one policy predicate. Rules evaluate highest priority first.
type Rule struct {
	ID       string
	Priority int
	Evaluate RuleFunc
}

// PolicyVerdict is the final outcome of a policy evaluation.
type PolicyVerdict struct {
	Verdict      VerdictKind `json:"verdict"`
	DecidingRule string      `json:"deciding_rule,omitempty"`
}

// PolicyEngine keeps rules sorted by priority descending and evaluates them
// top-down; the first non-allow verdict is final.
type PolicyEngine struct {
	mu    sync.Mutex
	rules []Rule
	seq   map[string]int
	next  int
	audit *AuditLog
}

// NewPolicyEngine creates an engine recording evaluations into audit.
func NewPolicyEngine(audit *AuditLog) *PolicyEngine {
	if audit == nil {
		audit = NewAuditLog()
	}
	return &PolicyEngine{
		seq:   make(map[string]int),
		audit: audit,
	}
}

// AddRule inserts a rule. Duplicate ids reject.
func (p *PolicyEngine) AddRule(rule Rule) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, r := range p.rules {
		if r.ID == rule.ID {
			return coreerr.DuplicateRule(rule.ID)
		}
	}

	p.seq[rule.ID] = p.next
	p.next++
	p.rules = append(p.rules, rule)

	// Priority descending, insertion order for ties.
	sort.SliceStable(p.rules, func(a, b int) bool {
		if p.rules[a].Priority != p.rules[b].Priority {
			return p.rules[a].Priority > p.rules[b].Priority
		}
		return p.seq[p.rules[a].ID] < p.seq[p.rules[b].ID]
	})

	return nil
}

// RemoveRule deletes a rule by id. Returns false when absent.
func (p *PolicyEngine) RemoveRule(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, r := range p.rules {
		if r.ID == id {
			p.rules = append(p.rules[:i], p.rules[i+1:]...)
			delete(p.seq, id)
			return true
		}
	}
	return false
}

// Rules returns the rules in evaluation order.
func (p *PolicyEngine) Rules() []Rule {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Rule, len(p.rules))
	copy(out, p.rules)
	return out
}

// Evaluate walks the rules top-down. The first non-allow verdict becomes the
// final verdict with DecidingRule set; otherwise the verdict is allow. Every
// evaluation is audited with the outcome and a request sketch.
func (p *PolicyEngine) Evaluate(req PolicyRequest, pc PolicyContext) PolicyVerdict {
	p.mu.Lock()
	rules := make([]Rule, len(p.rules))
	copy(rules, p.rules)
	p.mu.Unlock()

	verdict := PolicyVerdict{Verdict: VerdictAllow}
	for _, rule := range rules {
		if out := rule.Evaluate(req, pc); out != VerdictAllow {
			verdict = PolicyVerdict{Verdict: out, DecidingRule: rule.ID}
			break
		}
	}

	deciding := verdict.DecidingRule
	if deciding == "" {
		deciding = "none"
	}
	p.audit.Record(ActionPolicyEvaluated, req.Owner, "", map[string]any{
		"verdict":       string(verdict.Verdict),
		"deciding_rule": deciding,
		"request": map[string]any{
			"owner":        req.Owner,
			"cpu_millis":   req.CPUMillis,
			"memory_bytes": req.MemoryBytes,
			"priority":     req.Priority,
		},
	})

	return verdict
}

// Built-in rules.

// CPUThresholdRule denies when cpu utilization has reached the threshold.
func CPUThresholdRule(priority int, threshold float64) Rule {
	return Rule{
		ID:       "cpu-threshold",
		Priority: priority,
		Evaluate: func(_ PolicyRequest, pc PolicyContext) VerdictKind {
			if pc.Usage.CPUUtilization >= threshold {
				return VerdictDeny
			}
			return VerdictAllow
		},
	}
}

// MemoryThresholdRule denies when memory utilization has reached the
// threshold.
func MemoryThresholdRule(priority int, threshold float64) Rule {
	return Rule{
		ID:       "memory-threshold",
		Priority: priority,
		Evaluate: func(_ PolicyRequest, pc PolicyContext) VerdictKind {
			if pc.Usage.MemoryUtilization >= threshold {
				return VerdictDeny
			}
			return VerdictAllow
		},
	}
}

// QueueDepthRule denies when the build queue has reached the given depth.
func QueueDepthRule(priority, depth int) Rule {
	return Rule{
		ID:       "queue-depth",
		Priority: priority,
		Evaluate: func(_ PolicyRequest, pc PolicyContext) VerdictKind {
			if pc.QueuedTasks >= depth {
				return VerdictDeny
			}
			return VerdictAllow
		},
	}
}

// PriorityThrottleRule throttles low-priority requests under load: a request
// with priority below minPriority while the average of cpu and memory
// utilization has reached loadThreshold is throttled.
func PriorityThrottleRule(priority, minPriority int, loadThreshold float64) Rule {
	return Rule{
		ID:       "priority-throttle",
		Priority: priority,
		Evaluate: func(req PolicyRequest, pc PolicyContext) VerdictKind {
			load := (pc.Usage.CPUUtilization + pc.Usage.MemoryUtilization) / 2
			if req.Priority < minPriority && load >= loadThreshold {
				return VerdictThrottle
			}
			return VerdictAllow
		},
	}
}
