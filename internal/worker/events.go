package worker

import "sync"

// EventKind tags an ObservationEvent broadcast by the worker pool.
type EventKind string

const (
	EventCreated EventKind = "created"
	EventUpdated EventKind = "updated"
)

// ObservationEvent is emitted, in the order the worker pool completes messages, each time a
// message's judged result creates or merges an observation (§4.3 step 7). Subscribers may
// see interleavings across sessions — ordering is only guaranteed per-publisher.
type ObservationEvent struct {
	Kind          EventKind
	ObservationID int64
	Project       string
}

// Broadcaster fans ObservationEvents out to every current subscriber. Grounded on the
// teacher's SSE client-map pattern but adapted to in-process pub/sub: there is no streaming
// HTTP endpoint in this system's transport surface, so subscribers are in-process (the
// consolidation scheduler, logging, metrics) rather than network clients.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[chan ObservationEvent]struct{}
}

// NewBroadcaster builds an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subscribers: make(map[chan ObservationEvent]struct{})}
}

// Subscribe registers a new buffered channel and returns it plus an unsubscribe func that
// removes and closes it. Callers must call unsubscribe exactly once.
func (b *Broadcaster) Subscribe(buffer int) (<-chan ObservationEvent, func()) {
	ch := make(chan ObservationEvent, buffer)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsubscribe
}

// Publish fans ev out to every current subscriber without blocking: a subscriber whose
// buffer is full simply misses the event rather than stalling the worker pool.
func (b *Broadcaster) Publish(ev ObservationEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}
