package logging

import (
	"sync"

	"github.com/invoice-relay/store"
)

// Broadcaster fans persisted log entries out to live subscribers. A
// subscriber that falls behind misses entries rather than blocking the
// logger.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[chan store.LogEntry]struct{}
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[chan store.LogEntry]struct{})}
}

// Subscribe returns a channel of new entries and a function that
// unsubscribes and closes it.
func (b *Broadcaster) Subscribe(buffer int) (<-chan store.LogEntry, func()) {
	ch := make(chan store.LogEntry, buffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *Broadcaster) Publish(e store.LogEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
