package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"pricebot/internal/eventbus"
	kit "pricebot/internal/transport"
	logx "pricebot/pkg/logx"
)

type reportConfig struct {
	Enabled  bool
	Interval time.Duration
	To       kit.ChatTarget
}

// reportCounts aggregates poller events between two reports.
type reportCounts struct {
	Ticks        map[eventbus.TickOutcome]uint64
	TasksStarted uint64
	TasksStopped uint64
}

func (c *reportCounts) observe(e eventbus.Event) {
	switch d := e.Data.(type) {
	case eventbus.TickEvent:
		if c.Ticks == nil {
			c.Ticks = make(map[eventbus.TickOutcome]uint64)
		}
		c.Ticks[d.Outcome]++
	case eventbus.TaskEvent:
		if d.Running {
			c.TasksStarted++
		} else {
			c.TasksStopped++
		}
	}
}

func (c *reportCounts) empty() bool {
	return len(c.Ticks) == 0 && c.TasksStarted == 0 && c.TasksStopped == 0
}

func formatReport(c reportCounts, window time.Duration, active int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 Price updates, last %s\n", window)
	fmt.Fprintf(&b, "active tasks: %d (started %d, stopped %d)\n", active, c.TasksStarted, c.TasksStopped)
	fmt.Fprintf(&b, "sent: %d, suppressed: %d\n", c.Ticks[eventbus.TickSent], c.Ticks[eventbus.TickSuppressed])
	fmt.Fprintf(&b, "fetch errors: %d, send errors: %d, discarded: %d",
		c.Ticks[eventbus.TickFetchErr], c.Ticks[eventbus.TickSendErr], c.Ticks[eventbus.TickDiscarded])
	return b.String()
}

// reporter periodically sends a tick summary to the log chat.
type reporter struct {
	bus    eventbus.Bus
	out    kit.Sender
	active func() int
	log    logx.Logger

	mu  sync.Mutex
	cfg reportConfig
	cur reportCounts
}

func newReporter(cfg reportConfig, bus eventbus.Bus, out kit.Sender, active func() int, log logx.Logger) *reporter {
	return &reporter{bus: bus, out: out, active: active, log: log.With(logx.String("comp", "report")), cfg: cfg}
}

// Apply takes effect when the current window closes.
func (r *reporter) Apply(cfg reportConfig) {
	r.mu.Lock()
	r.cfg = cfg
	r.mu.Unlock()
}

func (r *reporter) config() reportConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg
}

func (r *reporter) run(ctx context.Context) {
	events, unsub := r.bus.Subscribe(256)
	defer unsub()

	window := r.config().Interval
	timer := time.NewTimer(window)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			r.mu.Lock()
			r.cur.observe(e)
			r.mu.Unlock()
		case <-timer.C:
			r.flush(ctx, window)
			window = r.config().Interval
			timer.Reset(window)
		}
	}
}

func (r *reporter) flush(ctx context.Context, window time.Duration) {
	r.mu.Lock()
	counts := r.cur
	r.cur = reportCounts{}
	cfg := r.cfg
	r.mu.Unlock()

	if !cfg.Enabled || counts.empty() {
		return
	}
	active := 0
	if r.active != nil {
		active = r.active()
	}
	sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := r.out.SendText(sctx, cfg.To, formatReport(counts, window, active), &kit.SendOptions{DisablePreview: true}); err != nil {
		r.log.Warn("report send failed", logx.Err(err))
	}
}
