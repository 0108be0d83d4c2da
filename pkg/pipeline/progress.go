package pipeline

import (
	"sync"
)

// ProgressBroker fans progress events out to per-run subscribers. Delivery
// is at-most-once and best-effort: a slow or disconnected consumer drops
// events rather than stalling the executor, and a reconnecting consumer
// re-derives current status from the RunState snapshot, not from missed
// events.
type ProgressBroker struct {
	mu      sync.RWMutex
	subs    map[string]map[int]chan ProgressEvent
	nextSub int
	buffer  int
}

// NewProgressBroker creates a broker; buffer is the per-subscriber channel
// capacity.
func NewProgressBroker(buffer int) *ProgressBroker {
	if buffer <= 0 {
		buffer = 16
	}
	return &ProgressBroker{
		subs:   make(map[string]map[int]chan ProgressEvent),
		buffer: buffer,
	}
}

// Subscribe registers a consumer for a run's events. The returned cancel
// function must be called when the consumer goes away; it is safe to call
// after the stream has been closed.
func (b *ProgressBroker) Subscribe(runID string) (<-chan ProgressEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan ProgressEvent, b.buffer)
	if b.subs[runID] == nil {
		b.subs[runID] = make(map[int]chan ProgressEvent)
	}
	id := b.nextSub
	b.nextSub++
	b.subs[runID][id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if subs, ok := b.subs[runID]; ok {
			if c, ok := subs[id]; ok {
				delete(subs, id)
				close(c)
			}
			if len(subs) == 0 {
				delete(b.subs, runID)
			}
		}
	}
	return ch, cancel
}

// Publish delivers an event to the run's subscribers without blocking.
// Events for runs with no subscribers are dropped; RunState remains the
// durable source of truth.
func (b *ProgressBroker) Publish(event ProgressEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[event.RunID] {
		select {
		case ch <- event:
		default:
			// Subscriber is not keeping up; drop rather than stall.
		}
	}
}

// CloseRun closes all subscriber channels for a run after its terminal
// event has been published.
func (b *ProgressBroker) CloseRun(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs[runID] {
		close(ch)
	}
	delete(b.subs, runID)
}
