package events

import (
	"sync"
	"time"
)

type Kind string

const (
	CartChanged      Kind = "cart_changed"
	CacheInvalidated Kind = "cache_invalidated"
	ReauthRequired   Kind = "reauth_required"
	CartSynced       Kind = "cart_synced"
)

type Event struct {
	Kind    Kind      `json:"kind"`
	Session string    `json:"session,omitempty"`
	Detail  string    `json:"detail,omitempty"`
	At      time.Time `json:"at"`
}

// SubscriberBuffer is the per-subscriber channel size. A subscriber that
// falls this far behind loses events.
const SubscriberBuffer = 16

// Bus fans events out to subscribers without ever blocking the publisher.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*subscriber
	nextID uint64
	closed bool
}

type subscriber struct {
	session string
	ch      chan Event
}

func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]*subscriber)}
}

// Subscribe returns a channel receiving events for session, plus events with
// no session. An empty session receives everything. cancel closes the channel.
func (b *Bus) Subscribe(session string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, SubscriberBuffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = &subscriber{session: session, ch: ch}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if s, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(s.ch)
			}
		})
	}
}

// Publish delivers e to matching subscribers, dropping it for those whose
// buffer is full.
func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if s.session != "" && e.Session != "" && s.session != e.Session {
			continue
		}
		select {
		case s.ch <- e:
		default:
		}
	}
}

func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscriber channel. Later subscriptions get a closed
// channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subs {
		delete(b.subs, id)
		close(s.ch)
	}
}
