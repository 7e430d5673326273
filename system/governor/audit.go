// Package governor implements token-issued resource allocation, policy
// evaluation, and the priority build queue behind the scheduling facade.
package governor

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Audit action tags recorded by the governor.
const (
	ActionTokenIssued     = "token.issued"
	ActionTokenRevoked    = "token.revoked"
	ActionTokenConsumed   = "token.consumed"
	ActionTokenExpired    = "token.expired"
	ActionTokenDenied     = "token.denied"
	ActionPolicyEvaluated = "policy.evaluated"
	ActionThrottleApplied = "throttle.applied"
	ActionTaskQueued      = "task.queued"
	ActionTaskCompleted   = "task.completed"
	ActionTaskFailed      = "task.failed"
	ActionTaskCancelled   = "task.cancelled"
)

// AuditEntry is one append-only record of a governor action.
type AuditEntry struct {
	ID        string         `json:"id"`
	Action    string         `json:"action"`
	Actor     string         `json:"actor"`
	EntityID  string         `json:"entity_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp string         `json:"timestamp"`
}

// AuditLog is the governor's append-only action trail. Every token, task,
// policy, and throttle action lands here.
type AuditLog struct {
	mu      sync.Mutex
	entries []AuditEntry
}

// NewAuditLog creates an empty audit log.
func NewAuditLog() *AuditLog {
	return &AuditLog{}
}

// Record appends one entry and returns it.
func (a *AuditLog) Record(action, actor, entityID string, details map[string]any) AuditEntry {
	entry := AuditEntry{
		ID:        uuid.New().String(),
		Action:    action,
		Actor:     actor,
		EntityID:  entityID,
		Details:   details,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}

	a.mu.Lock()
	a.entries = append(a.entries, entry)
	a.mu.Unlock()

	return entry
}

// Entries returns a copy of all entries in append order.
func (a *AuditLog) Entries() []AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]AuditEntry, len(a.entries))
	copy(out, a.entries)
	return out
}

// ByAction returns entries carrying the given action tag.
func (a *AuditLog) ByAction(action string) []AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []AuditEntry
	for _, e := range a.entries {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

// ByActor returns entries recorded for the given actor.
func (a *AuditLog) ByActor(actor string) []AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []AuditEntry
	for _, e := range a.entries {
		if e.Actor == actor {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of entries.
func (a *AuditLog) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}
