// Package monitor delivers input and output value updates to interested
// consumers without polling. Publishing never blocks: a subscriber that
// cannot keep up loses updates and the loss is counted against it.
package monitor

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/zitlem/DMXX-sub001/internal/dmx"
)

var (
	ErrBusClosed          = errors.New("monitor: bus is closed")
	ErrSubscriberExists   = errors.New("monitor: subscriber already exists")
	ErrSubscriberNotFound = errors.New("monitor: subscriber not found")
	ErrNilChannel         = errors.New("monitor: nil channel provided")
)

// Kind says which stage of the pipeline an update reflects.
type Kind string

const (
	// KindInput carries the raw external values as written by an input
	// adapter, before any merge or visibility gating.
	KindInput Kind = "input"
	// KindShow carries the pre-scaling display values.
	KindShow Kind = "show"
	// KindOutput carries the final post-grandmaster values.
	KindOutput Kind = "output"
)

// Update is one published frame of values for a universe.
type Update struct {
	Universe string
	Kind     Kind
	Data     dmx.Frame
	Seq      uint64
	Time     time.Time
}

// SubscriberStats tracks update distribution per subscriber.
type SubscriberStats struct {
	Sent    uint64
	Dropped uint64
}

type subscriber struct {
	id       string
	universe string // empty means all universes
	ch       chan<- Update
	sent     atomic.Uint64
	dropped  atomic.Uint64
}

// Bus fans updates out to subscribers.
type Bus struct {
	mu        sync.RWMutex
	subs      map[string]*subscriber
	published atomic.Uint64
	closed    bool
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]*subscriber)}
}

// Subscribe registers ch for updates. An empty id gets a generated one; an
// empty universe receives updates for every universe. The chosen id is
// returned for Unsubscribe.
func (b *Bus) Subscribe(id, universe string, ch chan<- Update) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return "", ErrBusClosed
	}
	if ch == nil {
		return "", ErrNilChannel
	}
	if id == "" {
		id = uuid.NewString()
	}
	if _, exists := b.subs[id]; exists {
		return "", ErrSubscriberExists
	}

	b.subs[id] = &subscriber{id: id, universe: universe, ch: ch}
	return id, nil
}

// Unsubscribe removes a subscriber. Its channel is not closed; the
// subscriber owns it.
func (b *Bus) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subs[id]; !exists {
		return ErrSubscriberNotFound
	}
	delete(b.subs, id)
	return nil
}

// Publish distributes u to every matching subscriber without blocking.
func (b *Bus) Publish(u Update) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	if u.Time.IsZero() {
		u.Time = time.Now()
	}
	u.Seq = b.published.Add(1)

	for _, s := range b.subs {
		if s.universe != "" && s.universe != u.Universe {
			continue
		}
		select {
		case s.ch <- u:
			s.sent.Add(1)
		default:
			s.dropped.Add(1)
		}
	}
}

// Stats reports the distribution counters for one subscriber.
func (b *Bus) Stats(id string) (SubscriberStats, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s, exists := b.subs[id]
	if !exists {
		return SubscriberStats{}, ErrSubscriberNotFound
	}
	return SubscriberStats{Sent: s.sent.Load(), Dropped: s.dropped.Load()}, nil
}

// Published returns the total number of updates published on the bus.
func (b *Bus) Published() uint64 {
	return b.published.Load()
}

// Close stops the bus; further publishes are dropped and subscriptions
// rejected.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = make(map[string]*subscriber)
}
