package events

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/metrics"
	"github.com/miradorstack/mirador-sentinel/internal/models"
)

// Sink receives fire-and-forget notifications from the coordination core.
type Sink interface {
	Publish(eventType, incidentID, agent string, data map[string]any)
}

// Discard is a Sink that drops every event.
var Discard Sink = discard{}

type discard struct{}

func (discard) Publish(string, string, string, map[string]any) {}

// Subscriber receives broadcast events. A non-nil error removes the subscriber.
type Subscriber interface {
	Send(event models.Event) error
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(event models.Event) error

// Send calls f.
func (f SubscriberFunc) Send(event models.Event) error {
	return f(event)
}

type subscription struct {
	id  uint64
	sub Subscriber
}

// Broadcaster fans events out to every live subscriber, synchronously and in
// registration order. Delivery is at-most-once with no replay.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   []subscription
	nextID atomic.Uint64
	logger *slog.Logger
}

// NewBroadcaster constructs an empty broadcaster.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{logger: logger}
}

// Subscribe registers sub and returns an id usable with Unsubscribe.
func (b *Broadcaster) Subscribe(sub Subscriber) uint64 {
	id := b.nextID.Add(1)
	b.mu.Lock()
	b.subs = append(b.subs, subscription{id: id, sub: sub})
	b.mu.Unlock()
	return id
}

// Unsubscribe removes a subscriber. It reports whether the id was registered.
func (b *Broadcaster) Unsubscribe(id uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return true
		}
	}
	return false
}

// SubscriberCount returns the number of live subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish builds an event and delivers it. Subscribers that fail are dropped.
func (b *Broadcaster) Publish(eventType, incidentID, agent string, data map[string]any) {
	event := models.Event{
		Type:       eventType,
		IncidentID: incidentID,
		Agent:      agent,
		Data:       data,
		Timestamp:  time.Now().UTC(),
	}
	metrics.ObserveEvent(eventType)

	b.mu.RLock()
	snapshot := append([]subscription(nil), b.subs...)
	b.mu.RUnlock()

	for _, s := range snapshot {
		if err := b.deliver(s.sub, event); err != nil {
			b.logger.Debug("dropping event subscriber",
				slog.Uint64("subscriber", s.id),
				slog.String("event_type", eventType),
				slog.Any("error", err))
			if b.Unsubscribe(s.id) {
				metrics.ObserveSubscriberDropped()
			}
		}
	}
}

func (b *Broadcaster) deliver(sub Subscriber, event models.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event subscriber panicked",
				slog.String("event_type", event.Type),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			err = fmt.Errorf("subscriber panic: %v", r)
		}
	}()
	return sub.Send(event)
}

// Recorder is a Sink that keeps every event in memory. Useful for tests and the simulate command.
type Recorder struct {
	mu     sync.Mutex
	events []models.Event
}

// Publish appends the event.
func (r *Recorder) Publish(eventType, incidentID, agent string, data map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, models.Event{
		Type:       eventType,
		IncidentID: incidentID,
		Agent:      agent,
		Data:       data,
		Timestamp:  time.Now().UTC(),
	})
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Event(nil), r.events...)
}

// OfType returns the recorded events with the given type, in publish order.
func (r *Recorder) OfType(eventType string) []models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Event
	for _, e := range r.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// Send lets a Recorder subscribe to a Broadcaster.
func (r *Recorder) Send(event models.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Fanout publishes to several sinks in order.
type Fanout []Sink

// Publish forwards to every sink.
func (f Fanout) Publish(eventType, incidentID, agent string, data map[string]any) {
	for _, sink := range f {
		sink.Publish(eventType, incidentID, agent, data)
	}
}
