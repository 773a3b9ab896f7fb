// Package events provides a publish/subscribe event bus for operational
// observability. Events flow from components (signal bus, prep queue,
// pollers, hygiene scanner) to subscribers (the GUI-host WebSocket
// handler, future metrics collectors). The bus is nil-safe: calling Publish on a nil *Bus is a
// no-op, so components do not need guard checks.
package events

import (
	"sync"
	"time"
)

// Source constants identify which component published an event.
const (
	// SourceSignalBus identifies events from signal emission and propagation.
	SourceSignalBus = "signalbus"
	// SourceResolver identifies events from entity resolution.
	SourceResolver = "resolver"
	// SourcePrepQueue identifies events from the meeting prep processor.
	SourcePrepQueue = "prepqueue"
	// SourceHygiene identifies events from the hygiene scanner.
	SourceHygiene = "hygiene"
	// SourceIntake identifies events from the calendar and email pollers.
	SourceIntake = "intake"
	// SourceOrchestrator identifies events from poller lifecycle management.
	SourceOrchestrator = "orchestrator"
	// SourceWorkflow identifies events from workflow execution.
	SourceWorkflow = "workflow"
)

// Kind constants describe the type of event within a source.
const (
	// KindPrepReady signals a meeting prep finished generating.
	// Data: meeting_id.
	KindPrepReady = "prep-ready"
	// KindPrepFailed signals prep generation failed after retries.
	// Data: meeting_id, error.
	KindPrepFailed = "prep_failed"

	// KindSignalEmitted reports a new signal event on the bus.
	// Data: signal_id, entity_kind, entity_id, signal_type, source.
	KindSignalEmitted = "signal_emitted"
	// KindSignalPropagated reports derived signals from a propagation rule.
	// Data: source_signal_id, rule_name, derived_count.
	KindSignalPropagated = "signal_propagated"

	// KindResolved reports a meeting resolved to an entity.
	// Data: meeting_id, entity_kind, entity_id, confidence, outcome.
	KindResolved = "resolved"

	// KindPollStart signals the start of a poll cycle.
	// Data: poller.
	KindPollStart = "poll_start"
	// KindPollComplete signals the end of a poll cycle.
	// Data: poller, new_items.
	KindPollComplete = "poll_complete"

	// KindHygieneReport carries the counters from a hygiene pass.
	// Data: report (camelCase JSON object).
	KindHygieneReport = "hygiene_report"

	// KindWake reports an explicit wake signal routed to a poller.
	// Data: poller.
	KindWake = "wake"

	// KindTaskFired signals a scheduled workflow has begun executing.
	// Data: workflow_id.
	KindTaskFired = "task_fired"
	// KindTaskComplete signals a scheduled workflow has finished.
	// Data: workflow_id, ok, duration_ms.
	KindTaskComplete = "task_complete"
)

// Event represents a single operational event published by a component.
type Event struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"ts"`
	// Source identifies the component that published the event.
	Source string `json:"source"`
	// Kind describes the type of event within the source.
	Kind string `json:"kind"`
	// Data holds event-specific key/value pairs.
	Data map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast event bus. Subscribers receive events
// on buffered channels; a slow subscriber misses events rather than
// blocking the publisher.
type Bus struct {
	mu sync.RWMutex
	// subs is keyed by the receive-only view handed to the caller, so
	// Unsubscribe can take the channel the caller actually holds.
	subs map[<-chan Event]chan Event
}

// New creates an event bus ready for use.
func New() *Bus {
	return &Bus{subs: make(map[<-chan Event]chan Event)}
}

// Publish sends an event to every subscriber whose buffer has room.
// Safe to call on a nil receiver (no-op).
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Full buffer: drop for this subscriber.
		}
	}
}

// Subscribe returns a channel of published events. The caller must
// eventually Unsubscribe it. bufSize of 64 suits WebSocket consumers.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes its channel. Repeated
// calls for the same channel are no-ops.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	send, ok := b.subs[ch]
	if !ok {
		return
	}
	delete(b.subs, ch)
	close(send)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
