package poller

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"pricebot/internal/delivery"
	"pricebot/internal/subscription"
)

// task is the live polling timer of one destination. Only the Poller holds it.
type task struct {
	dest       subscription.Destination
	generation string
	startedAt  time.Time
	period     time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	entryID cron.EntryID // written once before the task is published

	mu         sync.Mutex
	stopped    bool
	inFlight   bool
	ticks      uint64
	sent       uint64
	suppressed uint64
	failures   uint64
	skipped    uint64
	lastTickAt time.Time
	lastErr    string
}

func newTask(parent context.Context, dest subscription.Destination, period time.Duration, now time.Time) *task {
	ctx, cancel := context.WithCancel(parent)
	return &task{
		dest:       dest,
		generation: uuid.NewString(),
		startedAt:  now,
		period:     period,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// begin claims the task for one tick. It refuses when the task is stopped or
// the previous tick is still running.
func (t *task) begin(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return false
	}
	if t.inFlight {
		t.skipped++
		return false
	}
	t.inFlight = true
	t.ticks++
	t.lastTickAt = now
	return true
}

func (t *task) end(outcome outcome, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inFlight = false
	switch outcome {
	case outcomeSent:
		t.sent++
		t.lastErr = ""
	case outcomeSuppressed:
		t.suppressed++
		t.lastErr = ""
	case outcomeFailed:
		t.failures++
		if err != nil {
			t.lastErr = err.Error()
		}
	}
}

// commit runs fn unless the task was stopped meanwhile.
func (t *task) commit(fn func()) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return false
	}
	fn()
	return true
}

// stop blocks every future begin and commit and aborts in-flight I/O.
func (t *task) stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
	t.cancel()
}

type outcome int

const (
	outcomeSent outcome = iota
	outcomeSuppressed
	outcomeFailed
	outcomeDiscarded
)

// TaskInfo is a read-only view of a polling task.
type TaskInfo struct {
	Key        string         `json:"key"`
	Generation string         `json:"generation"`
	StartedAt  time.Time      `json:"started_at"`
	Period     time.Duration  `json:"period"`
	InFlight   bool           `json:"in_flight"`
	Ticks      uint64         `json:"ticks"`
	Sent       uint64         `json:"sent"`
	Suppressed uint64         `json:"suppressed"`
	Failures   uint64         `json:"failures"`
	Skipped    uint64         `json:"skipped"`
	LastTickAt time.Time      `json:"last_tick_at,omitempty"`
	LastErr    string         `json:"last_err,omitempty"`
	State      delivery.State `json:"state"`
}

func (t *task) info() TaskInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	return TaskInfo{
		Key:        t.dest.String(),
		Generation: t.generation,
		StartedAt:  t.startedAt,
		Period:     t.period,
		InFlight:   t.inFlight,
		Ticks:      t.ticks,
		Sent:       t.sent,
		Suppressed: t.suppressed,
		Failures:   t.failures,
		Skipped:    t.skipped,
		LastTickAt: t.lastTickAt,
		LastErr:    t.lastErr,
	}
}
