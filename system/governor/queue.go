package governor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	coreerr "github.com/mcp-tool-shop-org/consensusos/infrastructure/errors"
	"github.com/mcp-tool-shop-org/consensusos/infrastructure/metrics"
)

// TaskStatus tracks a queued task through its lifecycle.
type TaskStatus string

const (
	TaskQueued    TaskStatus = "queued"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// Terminal reports whether the status is a terminal one.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// TaskSpec describes a task submission. Priority is inherited from the bound
// token.
type TaskSpec struct {
	Label   string `json:"label"`
	Owner   string `json:"owner"`
	TokenID string `json:"token_id"`
	Payload any    `json:"payload,omitempty"`
}

// Task is a value snapshot of a queued task.
type Task struct {
	ID         string     `json:"id"`
	Label      string     `json:"label"`
	Owner      string     `json:"owner"`
	TokenID    string     `json:"token_id"`
	Priority   int        `json:"priority"`
	Status     TaskStatus `json:"status"`
	Payload    any        `json:"payload,omitempty"`
	Result     any        `json:"result,omitempty"`
	Error      string     `json:"error,omitempty"`
	EnqueuedAt time.Time  `json:"enqueued_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Executor runs one task. A returned error marks the task failed; the result
// value lands on the completed task. Per-task timeout enforcement is the
// executor's responsibility.
type Executor func(ctx context.Context, task Task) (any, error)

type taskRecord struct {
	task Task
	seq  uint64
}

// BuildQueue is a priority queue of token-bound tasks drained subject to
// MaxConcurrent. Higher priority drains first; ties drain FIFO.
type BuildQueue struct {
	mu       sync.Mutex
	queued   []*taskRecord
	all      map[string]*taskRecord
	active   int
	nextSeq  uint64
	executor Executor
	limits   Limits
	issuer   *Issuer
	audit    *AuditLog
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewBuildQueue creates a queue bound to an issuer and one executor for the
// governor instance's lifetime.
func NewBuildQueue(limits Limits, issuer *Issuer, executor Executor, audit *AuditLog) *BuildQueue {
	if audit == nil {
		audit = NewAuditLog()
	}
	return &BuildQueue{
		all:      make(map[string]*taskRecord),
		executor: executor,
		limits:   limits,
		issuer:   issuer,
		audit:    audit,
		now:      time.Now,
	}
}

// SetMetrics attaches prometheus collectors. Nil-safe.
func (q *BuildQueue) SetMetrics(m *metrics.Metrics) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.metrics = m
}

// Submit validates the bound token and enqueues the task with the token's
// priority. Inactive tokens and a full queue reject.
func (q *BuildQueue) Submit(spec TaskSpec) (Task, error) {
	if !q.issuer.Validate(spec.TokenID) {
		return Task{}, coreerr.InvalidToken(spec.TokenID)
	}

	token, _ := q.issuer.Get(spec.TokenID)

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.limits.MaxQueueDepth > 0 && len(q.queued) >= q.limits.MaxQueueDepth {
		return Task{}, coreerr.QueueFull(len(q.queued), q.limits.MaxQueueDepth)
	}

	q.nextSeq++
	rec := &taskRecord{
		task: Task{
			ID:         uuid.New().String(),
			Label:      spec.Label,
			Owner:      spec.Owner,
			TokenID:    spec.TokenID,
			Priority:   token.Priority,
			Status:     TaskQueued,
			Payload:    spec.Payload,
			EnqueuedAt: q.now(),
		},
		seq: q.nextSeq,
	}

	// Insert-sort: strictly lower priority after, FIFO within a priority.
	pos := len(q.queued)
	for idx, existing := range q.queued {
		if existing.task.Priority < rec.task.Priority {
			pos = idx
			break
		}
	}
	q.queued = append(q.queued, nil)
	copy(q.queued[pos+1:], q.queued[pos:])
	q.queued[pos] = rec

	q.all[rec.task.ID] = rec
	q.audit.Record(ActionTaskQueued, spec.Owner, rec.task.ID, map[string]any{
		"label":    spec.Label,
		"priority": rec.task.Priority,
	})
	q.updateDepthLocked()

	return rec.task, nil
}

// ProcessNext pops the highest-priority queued task and runs it through the
// executor. It refuses to start while the in-flight count has reached
// MaxConcurrent. The second return is false when nothing was processed.
func (q *BuildQueue) ProcessNext(ctx context.Context) (Task, bool) {
	q.mu.Lock()
	if len(q.queued) == 0 {
		q.mu.Unlock()
		return Task{}, false
	}
	if q.limits.MaxConcurrent > 0 && q.active >= q.limits.MaxConcurrent {
		q.mu.Unlock()
		return Task{}, false
	}

	rec := q.queued[0]
	q.queued = q.queued[1:]
	q.updateDepthLocked()

	// Re-validate the bound token before starting.
	q.mu.Unlock()
	valid := q.issuer.Validate(rec.task.TokenID)
	q.mu.Lock()

	if !valid {
		now := q.now()
		rec.task.Status = TaskCancelled
		rec.task.Error = "token no longer valid"
		rec.task.FinishedAt = &now
		snapshot := rec.task
		q.mu.Unlock()

		q.audit.Record(ActionTaskCancelled, snapshot.Owner, snapshot.ID, map[string]any{
			"reason": snapshot.Error,
		})
		q.markFinished(TaskCancelled)
		return snapshot, true
	}

	started := q.now()
	rec.task.Status = TaskRunning
	rec.task.StartedAt = &started
	q.active++
	task := rec.task
	q.mu.Unlock()

	result, err := q.runExecutor(ctx, task)

	q.mu.Lock()
	finished := q.now()
	q.active--
	rec.task.FinishedAt = &finished
	if err != nil {
		rec.task.Status = TaskFailed
		rec.task.Error = err.Error()
	} else {
		rec.task.Status = TaskCompleted
		rec.task.Result = result
	}
	snapshot := rec.task
	q.mu.Unlock()

	if err != nil {
		q.audit.Record(ActionTaskFailed, snapshot.Owner, snapshot.ID, map[string]any{
			"error": snapshot.Error,
		})
		q.markFinished(TaskFailed)
	} else {
		q.issuer.Consume(snapshot.TokenID, snapshot.Owner)
		q.audit.Record(ActionTaskCompleted, snapshot.Owner, snapshot.ID, nil)
		q.markFinished(TaskCompleted)
	}

	return snapshot, true
}

// runExecutor guards the executor: a panic counts as a failure.
func (q *BuildQueue) runExecutor(ctx context.Context, task Task) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()
	return q.executor(ctx, task)
}

// Drain processes queued tasks until the queue is empty, returning the
// resolved tasks in completion order.
func (q *BuildQueue) Drain(ctx context.Context) []Task {
	var resolved []Task
	for {
		if err := ctx.Err(); err != nil {
			return resolved
		}
		task, ok := q.ProcessNext(ctx)
		if !ok {
			return resolved
		}
		resolved = append(resolved, task)
	}
}

// Cancel removes a queued task. Running tasks are unaffected and return
// false.
func (q *BuildQueue) Cancel(id string) bool {
	q.mu.Lock()

	rec, ok := q.all[id]
	if !ok || rec.task.Status != TaskQueued {
		q.mu.Unlock()
		return false
	}

	for idx, queued := range q.queued {
		if queued.task.ID == id {
			q.queued = append(q.queued[:idx], q.queued[idx+1:]...)
			break
		}
	}
	now := q.now()
	rec.task.Status = TaskCancelled
	rec.task.FinishedAt = &now
	owner := rec.task.Owner
	q.updateDepthLocked()
	q.mu.Unlock()

	q.audit.Record(ActionTaskCancelled, owner, id, map[string]any{"reason": "cancelled by caller"})
	q.markFinished(TaskCancelled)
	return true
}

// Clear drops all queued (not running) tasks and returns how many were
// dropped.
func (q *BuildQueue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	dropped := len(q.queued)
	now := q.now()
	for _, rec := range q.queued {
		rec.task.Status = TaskCancelled
		rec.task.FinishedAt = &now
	}
	q.queued = nil
	q.updateDepthLocked()
	return dropped
}

// Depth returns the number of queued tasks.
func (q *BuildQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queued)
}

// ActiveCount returns the number of in-flight tasks.
func (q *BuildQueue) ActiveCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active
}

// Get returns a value snapshot of a task by id.
func (q *BuildQueue) Get(id string) (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	rec, ok := q.all[id]
	if !ok {
		return Task{}, false
	}
	return rec.task, true
}

// Tasks returns value snapshots of every task ever submitted.
func (q *BuildQueue) Tasks() []Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Task, 0, len(q.all))
	for _, rec := range q.all {
		out = append(out, rec.task)
	}
	return out
}

func (q *BuildQueue) updateDepthLocked() {
	if q.metrics != nil {
		q.metrics.QueueDepth.Set(float64(len(q.queued)))
	}
}

func (q *BuildQueue) markFinished(status TaskStatus) {
	q.mu.Lock()
	m := q.metrics
	q.mu.Unlock()
	if m != nil {
		m.TasksFinished.WithLabelValues(string(status)).Inc()
	}
}
