package governor

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	coreerr "github.com/mcp-tool-shop-org/consensusos/infrastructure/errors"
	"github.com/mcp-tool-shop-org/consensusos/infrastructure/metrics"
)

// Token request defaults.
const (
	DefaultCPUMillis   = int64(1000)
	DefaultMemoryBytes = int64(256 << 20)
	DefaultTimeoutMs   = int64(30_000)
	DefaultPriority    = 5

	MinPriority = 1
	MaxPriority = 10
)

// Limits fixes the fleet resource budget for the lifetime of the governor.
type Limits struct {
	TotalCPUMillis   int64 `json:"total_cpu_millis"`
	TotalMemoryBytes int64 `json:"total_memory_bytes"`
	MaxConcurrent    int   `json:"max_concurrent"`
	MaxQueueDepth    int   `json:"max_queue_depth"`
}

// DefaultLimits returns conservative fixed limits for hosts where probing
// fails.
func DefaultLimits() Limits {
	return Limits{
		TotalCPUMillis:   4000,
		TotalMemoryBytes: 4 << 30,
		MaxConcurrent:    4,
		MaxQueueDepth:    256,
	}
}

// LimitsFromHost derives limits from the host: one thousand cpu-millis per
// logical core and half of physical memory.
func LimitsFromHost() Limits {
	limits := DefaultLimits()

	if cores, err := cpu.Counts(true); err == nil && cores > 0 {
		limits.TotalCPUMillis = int64(cores) * 1000
		limits.MaxConcurrent = cores
	}
	if vm, err := mem.VirtualMemory(); err == nil && vm.Total > 0 {
		limits.TotalMemoryBytes = int64(vm.Total / 2)
	}

	return limits
}

// TokenRequest describes a resource reservation ask.
type TokenRequest struct {
	Owner       string `json:"owner"`
	CPUMillis   int64  `json:"cpu_millis,omitempty"`
	MemoryBytes int64  `json:"memory_bytes,omitempty"`
	TimeoutMs   int64  `json:"timeout_ms,omitempty"`
	Priority    int    `json:"priority,omitempty"`
	TTLMs       int64  `json:"ttl_ms,omitempty"`
}

// normalized applies defaults and clamps priority into [1,10].
func (r TokenRequest) normalized() TokenRequest {
	if r.CPUMillis <= 0 {
		r.CPUMillis = DefaultCPUMillis
	}
	if r.MemoryBytes <= 0 {
		r.MemoryBytes = DefaultMemoryBytes
	}
	if r.TimeoutMs <= 0 {
		r.TimeoutMs = DefaultTimeoutMs
	}
	if r.Priority == 0 {
		r.Priority = DefaultPriority
	}
	if r.Priority < MinPriority {
		r.Priority = MinPriority
	}
	if r.Priority > MaxPriority {
		r.Priority = MaxPriority
	}
	return r
}

// Token is a value snapshot of an execution token. The mutable record stays
// encapsulated inside the issuer.
type Token struct {
	ID          string     `json:"id"`
	Owner       string     `json:"owner"`
	CPUMillis   int64      `json:"cpu_millis"`
	MemoryBytes int64      `json:"memory_bytes"`
	TimeoutMs   int64      `json:"timeout_ms"`
	Priority    int        `json:"priority"`
	IssuedAt    time.Time  `json:"issued_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Revoked     bool       `json:"revoked"`
	Consumed    bool       `json:"consumed"`
}

type tokenRecord struct {
	token Token
}

// active reports the token's live predicate at the given instant.
func (r *tokenRecord) active(now time.Time) bool {
	if r.token.Revoked || r.token.Consumed {
		return false
	}
	if r.token.ExpiresAt != nil && !r.token.ExpiresAt.After(now) {
		return false
	}
	return true
}

// expired reports wall-clock expiry independent of the other flags.
func (r *tokenRecord) expired(now time.Time) bool {
	return r.token.ExpiresAt != nil && !r.token.ExpiresAt.After(now)
}

// Usage summarizes the resources reserved by currently active tokens.
type Usage struct {
	CPUMillis         int64   `json:"cpu_millis"`
	MemoryBytes       int64   `json:"memory_bytes"`
	CPUUtilization    float64 `json:"cpu_utilization"`
	MemoryUtilization float64 `json:"memory_utilization"`
	ActiveTokens      int     `json:"active_tokens"`
}

// Issuer mints, revokes, consumes, and validates execution tokens, and owns
// the token map. Resource accounting counts only active tokens.
type Issuer struct {
	mu      sync.Mutex
	limits  Limits
	tokens  map[string]*tokenRecord
	order   []string
	audit   *AuditLog
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewIssuer creates an issuer bound to fixed limits and an audit log.
func NewIssuer(limits Limits, audit *AuditLog) *Issuer {
	if audit == nil {
		audit = NewAuditLog()
	}
	return &Issuer{
		limits: limits,
		tokens: make(map[string]*tokenRecord),
		audit:  audit,
		now:    time.Now,
	}
}

// SetMetrics attaches prometheus collectors. Nil-safe.
func (i *Issuer) SetMetrics(m *metrics.Metrics) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.metrics = m
}

// SetClock overrides the issuer clock. Test hook.
func (i *Issuer) SetClock(now func() time.Time) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.now = now
}

// Limits returns the fixed fleet limits.
func (i *Issuer) Limits() Limits {
	return i.limits
}

// Audit returns the audit log this issuer records into.
func (i *Issuer) Audit() *AuditLog {
	return i.audit
}

// Issue allocates a token if the requested reservation fits the remaining
// budget. Failures name the remaining budget precisely.
func (i *Issuer) Issue(req TokenRequest) (Token, error) {
	req = req.normalized()

	i.mu.Lock()
	defer i.mu.Unlock()

	now := i.now()
	usage := i.usageLocked(now)

	if usage.CPUMillis+req.CPUMillis > i.limits.TotalCPUMillis {
		return Token{}, coreerr.BudgetExceeded("cpu-millis", req.CPUMillis, i.limits.TotalCPUMillis-usage.CPUMillis)
	}
	if usage.MemoryBytes+req.MemoryBytes > i.limits.TotalMemoryBytes {
		return Token{}, coreerr.BudgetExceeded("memory-bytes", req.MemoryBytes, i.limits.TotalMemoryBytes-usage.MemoryBytes)
	}

	token := Token{
		ID:          uuid.New().String(),
		Owner:       req.Owner,
		CPUMillis:   req.CPUMillis,
		MemoryBytes: req.MemoryBytes,
		TimeoutMs:   req.TimeoutMs,
		Priority:    req.Priority,
		IssuedAt:    now,
	}
	if req.TTLMs > 0 {
		expires := now.Add(time.Duration(req.TTLMs) * time.Millisecond)
		token.ExpiresAt = &expires
	}

	i.tokens[token.ID] = &tokenRecord{token: token}
	i.order = append(i.order, token.ID)

	i.audit.Record(ActionTokenIssued, token.Owner, token.ID, map[string]any{
		"cpu_millis":   token.CPUMillis,
		"memory_bytes": token.MemoryBytes,
		"priority":     token.Priority,
	})
	if i.metrics != nil {
		i.metrics.TokensIssued.Inc()
	}
	i.updateGaugesLocked(i.now())

	return token, nil
}

// Revoke marks a token revoked. Returns false for unknown or already
// inactive tokens.
func (i *Issuer) Revoke(id, actor string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	rec, ok := i.tokens[id]
	if !ok || !rec.active(i.now()) {
		return false
	}
	rec.token.Revoked = true

	i.audit.Record(ActionTokenRevoked, actor, id, nil)
	if i.metrics != nil {
		i.metrics.TokensRevoked.Inc()
	}
	i.updateGaugesLocked(i.now())
	return true
}

// Consume marks a token consumed, releasing its reservation. Returns false
// for unknown or already inactive tokens.
func (i *Issuer) Consume(id, actor string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	rec, ok := i.tokens[id]
	if !ok || !rec.active(i.now()) {
		return false
	}
	rec.token.Consumed = true

	i.audit.Record(ActionTokenConsumed, actor, id, nil)
	i.updateGaugesLocked(i.now())
	return true
}

// Validate reports whether a token is active. Observed expiry auto-revokes
// the token and records a token.expired entry.
func (i *Issuer) Validate(id string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	rec, ok := i.tokens[id]
	if !ok {
		return false
	}

	now := i.now()
	if rec.token.Revoked || rec.token.Consumed {
		return false
	}
	if rec.expired(now) {
		rec.token.Revoked = true
		i.audit.Record(ActionTokenExpired, rec.token.Owner, id, nil)
		if i.metrics != nil {
			i.metrics.TokensExpired.Inc()
		}
		i.updateGaugesLocked(now)
		return false
	}

	return true
}

// Get returns a value snapshot of a token.
func (i *Issuer) Get(id string) (Token, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	rec, ok := i.tokens[id]
	if !ok {
		return Token{}, false
	}
	return rec.token, true
}

// Active returns value snapshots of all currently active tokens in issuance
// order.
func (i *Issuer) Active() []Token {
	i.mu.Lock()
	defer i.mu.Unlock()

	now := i.now()
	var out []Token
	for _, id := range i.order {
		if rec := i.tokens[id]; rec.active(now) {
			out = append(out, rec.token)
		}
	}
	return out
}

// Usage returns the live reservation totals over active tokens.
func (i *Issuer) Usage() Usage {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.usageLocked(i.now())
}

// Sweep validates every live token once, revoking the expired. Returns the
// ids swept to expiry.
func (i *Issuer) Sweep() []string {
	i.mu.Lock()
	candidates := make([]string, 0, len(i.order))
	now := i.now()
	for _, id := range i.order {
		rec := i.tokens[id]
		if !rec.token.Revoked && !rec.token.Consumed && rec.expired(now) {
			candidates = append(candidates, id)
		}
	}
	i.mu.Unlock()

	var swept []string
	for _, id := range candidates {
		if !i.Validate(id) {
			swept = append(swept, id)
		}
	}
	return swept
}

func (i *Issuer) usageLocked(now time.Time) Usage {
	usage := Usage{}
	for _, rec := range i.tokens {
		if rec.active(now) {
			usage.CPUMillis += rec.token.CPUMillis
			usage.MemoryBytes += rec.token.MemoryBytes
			usage.ActiveTokens++
		}
	}
	if i.limits.TotalCPUMillis > 0 {
		usage.CPUUtilization = float64(usage.CPUMillis) / float64(i.limits.TotalCPUMillis)
	}
	if i.limits.TotalMemoryBytes > 0 {
		usage.MemoryUtilization = float64(usage.MemoryBytes) / float64(i.limits.TotalMemoryBytes)
	}
	return usage
}

func (i *Issuer) updateGaugesLocked(now time.Time) {
	if i.metrics == nil {
		return
	}
	usage := i.usageLocked(now)
	i.metrics.CPUReserved.Set(float64(usage.CPUMillis))
	i.metrics.MemoryReserved.Set(float64(usage.MemoryBytes))
}
