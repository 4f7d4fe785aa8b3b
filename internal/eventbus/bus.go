package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event is an in-memory signal used to decouple the poller from observers.
//
// Publish never blocks. Subscribers get a buffered channel and a slow
// subscriber simply misses events.
type Event struct {
	Type string
	Time time.Time
	Data any
}

const (
	// TypeTick carries a TickEvent after every tick of a polling task.
	TypeTick = "poller.tick"
	// TypeTask carries a TaskEvent when a polling task starts or stops.
	TypeTask = "poller.task"
)

// TickOutcome classifies what a single tick did.
type TickOutcome string

const (
	TickSent       TickOutcome = "sent"
	TickSuppressed TickOutcome = "suppressed"
	TickFetchErr   TickOutcome = "fetch_error"
	TickSendErr    TickOutcome = "send_error"
	TickDiscarded  TickOutcome = "discarded" // task stopped while the tick was in flight
)

type TickEvent struct {
	Key        string
	Generation string
	Outcome    TickOutcome
	Price      float64
	Changed    bool
	Heartbeat  bool
	Took       time.Duration
	Err        string
}

type TaskEvent struct {
	Key        string
	Generation string
	Running    bool
	Ticks      uint64
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

// Nop discards everything.
func Nop() Bus { return nopBus{} }

type nopBus struct{}

func (nopBus) Publish(Event) {}
func (nopBus) Subscribe(int) (<-chan Event, func()) {
	ch := make(chan Event)
	close(ch)
	return ch, func() {}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		deliver(ch, e)
	}
}

// deliver drops on a full buffer and tolerates a channel closed by a concurrent unsubscribe.
func deliver(ch chan Event, e Event) {
	defer func() { _ = recover() }()
	select {
	case ch <- e:
	default:
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
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
