package log

import (
	"sync"
	"sync/atomic"

	"github.com/sentinel-dev/sentinel/domain/entities"
	"github.com/sentinel-dev/sentinel/domain/ports"
)

// DefaultSubscriberBuffer is used when Subscribe is given a
// non-positive buffer.
const DefaultSubscriberBuffer = 256

// Broadcaster fans log entries out to subscribers. Publish never
// blocks: a subscriber whose buffer is full misses the entry.
type Broadcaster struct {
	subs    map[uint64]chan entities.LogEntry
	next    uint64
	dropped atomic.Uint64
	mu      sync.RWMutex
}

var _ ports.LogSink = (*Broadcaster)(nil)

// NewBroadcaster creates an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[uint64]chan entities.LogEntry)}
}

// Publish delivers entry to every subscriber with room for it.
func (b *Broadcaster) Publish(entry entities.LogEntry) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- entry:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribe returns a channel receiving entries published from now on,
// and a cancel func that closes it. Cancel may be called more than once.
func (b *Broadcaster) Subscribe(buffer int) (<-chan entities.LogEntry, func()) {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	ch := make(chan entities.LogEntry, buffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers returns the number of live subscriptions.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were skipped because a
// subscriber was full.
func (b *Broadcaster) Dropped() uint64 {
	return b.dropped.Load()
}
