package engine

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/mcp-tool-shop-org/consensusos/infrastructure/logging"
	"github.com/mcp-tool-shop-org/consensusos/infrastructure/metrics"
)

// Event is the envelope delivered to subscribers and appended to history.
// Sequence numbers are assigned by the bus, start at 1, and are strictly
// increasing with no gaps until Reset.
type Event struct {
	Topic     string `json:"topic"`
	Source    string `json:"source"`
	Sequence  uint64 `json:"sequence"`
	Timestamp string `json:"timestamp"`
	Data      any    `json:"data,omitempty"`
}

// JSON returns a gjson view over the event payload for schemaless access.
// An empty path returns the whole payload. Payloads that cannot be encoded
// as JSON yield a zero Result.
func (e Event) JSON(path string) gjson.Result {
	raw, err := json.Marshal(e.Data)
	if err != nil {
		return gjson.Result{}
	}
	if path == "" {
		return gjson.ParseBytes(raw)
	}
	return gjson.GetBytes(raw, path)
}

// Handler receives matching events. A returned error is logged and swallowed;
// a panic is recovered and logged. Neither escapes Publish.
type Handler func(Event) error

type subscription struct {
	id      uint64
	pattern string
	handler Handler
}

// Bus is the ordered in-process publish/subscribe fabric. It owns the event
// history and the subscription list; dispatch is synchronous within a single
// Publish call and visits subscribers in registration order.
type Bus struct {
	mu      sync.Mutex
	seq     uint64
	nextSub uint64
	history []Event
	subs    []subscription
	log     *logging.Logger
	metrics *metrics.Metrics
}

// NewBus creates a new bus instance.
func NewBus(log *logging.Logger) *Bus {
	if log == nil {
		log = logging.Default().Scoped("bus")
	}
	return &Bus{log: log}
}

// SetMetrics attaches prometheus collectors. Nil-safe; call before traffic.
func (b *Bus) SetMetrics(m *metrics.Metrics) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.metrics = m
}

// MatchTopic reports whether a subscription pattern matches a topic.
// Patterns are an exact topic, "prefix.*" (any topic whose first segments
// equal prefix followed by a dot), or the literal "*" matching everything.
func MatchTopic(pattern, topic string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, ".*") {
		prefix := strings.TrimSuffix(pattern, ".*")
		return strings.HasPrefix(topic, prefix+".")
	}
	return pattern == topic
}

// Publish assigns the next sequence number, stamps the event, appends it to
// history, and synchronously dispatches to every matching subscriber in
// registration order. Handler faults never propagate. Returns the assigned
// sequence.
func (b *Bus) Publish(topic, source string, data any) uint64 {
	b.mu.Lock()
	b.seq++
	evt := Event{
		Topic:     topic,
		Source:    source,
		Sequence:  b.seq,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Data:      data,
	}
	b.history = append(b.history, evt)

	// Snapshot matching subscribers before releasing the lock so handlers may
	// subscribe or unsubscribe without deadlocking. Subscribers registered
	// after this point do not see the in-flight event.
	matched := make([]subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if MatchTopic(sub.pattern, topic) {
			matched = append(matched, sub)
		}
	}
	m := b.metrics
	b.mu.Unlock()

	if m != nil {
		m.EventsPublished.WithLabelValues(metrics.Namespace(topic)).Inc()
	}

	for _, sub := range matched {
		b.dispatch(sub, evt)
	}

	return evt.Sequence
}

// dispatch invokes one handler under a fault guard.
func (b *Bus) dispatch(sub subscription, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			b.recordFault(evt, fmt.Errorf("panic: %v", r))
		}
	}()

	if err := sub.handler(evt); err != nil {
		b.recordFault(evt, err)
	}
}

func (b *Bus) recordFault(evt Event, err error) {
	b.log.LogHandlerFault(evt.Topic, evt.Sequence, err)
	b.mu.Lock()
	m := b.metrics
	b.mu.Unlock()
	if m != nil {
		m.HandlerFaults.WithLabelValues(metrics.Namespace(evt.Topic)).Inc()
	}
}

// Subscribe registers a handler for a topic pattern and returns a cancel
// function. Multiple subscribers on the same pattern each receive matching
// events. A subscriber registered after a publish does not see earlier
// events.
func (b *Bus) Subscribe(pattern string, handler Handler) (cancel func()) {
	b.mu.Lock()
	b.nextSub++
	id := b.nextSub
	b.subs = append(b.subs, subscription{id: id, pattern: pattern, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, sub := range b.subs {
			if sub.id == id {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// History returns a snapshot copy of all published events in sequence order.
func (b *Bus) History() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.history))
	copy(out, b.history)
	return out
}

// Sequence returns the last assigned sequence number (0 before any publish).
func (b *Bus) Sequence() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}

// Subscriptions returns the number of live subscriptions.
func (b *Bus) Subscriptions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Reset clears the sequence counter, history, and all subscriptions. The next
// Publish yields sequence 1.
func (b *Bus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq = 0
	b.history = nil
	b.subs = nil
}
