// Package poller runs one recurring price task per subscribed destination.
//
// Destinations move through three states: unregistered, registered
// (Subscribe) and polling (StartPolling). StopPolling returns a destination
// to registered; there is no way back to unregistered.
//
// All tasks share a single cron clock. Each tick runs in its own goroutine,
// so a slow quote or send for one destination never delays another. Ticks of
// the same task never overlap: a tick that comes due while the previous one
// is still running is skipped.
package poller

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"pricebot/internal/delivery"
	"pricebot/internal/eventbus"
	"pricebot/internal/notifier"
	"pricebot/internal/quote"
	"pricebot/internal/shardmap"
	"pricebot/internal/subscription"
	logx "pricebot/pkg/logx"
)

// Config holds the tick parameters. Period applies to tasks started after a
// change; the other fields take effect on the next tick of every task.
type Config struct {
	Period      time.Duration
	Heartbeat   time.Duration
	CallTimeout time.Duration
	Symbol      string
	Format      delivery.Formatter
}

func (c Config) withDefaults() Config {
	if c.Period <= 0 {
		c.Period = 30 * time.Second
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = 2 * time.Minute
	}
	if c.CallTimeout <= 0 || c.CallTimeout >= c.Period {
		c.CallTimeout = c.Period * 9 / 10
	}
	if c.Symbol == "" {
		c.Symbol = "TONUSDT"
	}
	return c
}

type Deps struct {
	Quotes   quote.Source
	Notifier notifier.Sender
	Registry *subscription.Registry
	States   *delivery.Store
	Bus      eventbus.Bus
	Log      logx.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

type Poller struct {
	quotes quote.Source
	out    notifier.Sender
	reg    *subscription.Registry
	states *delivery.Store
	bus    eventbus.Bus
	log    logx.Logger
	now    func() time.Time

	cfg atomic.Pointer[Config]

	keys  *shardmap.KeyMutex
	tasks *shardmap.Map[*task]

	c      *cron.Cron
	ctx    context.Context // parent of every task context
	cancel context.CancelFunc

	mu      sync.Mutex
	started bool
	closed  bool
}

func New(cfg Config, d Deps) *Poller {
	if d.Registry == nil {
		d.Registry = subscription.NewRegistry()
	}
	if d.States == nil {
		d.States = delivery.NewStore()
	}
	if d.Bus == nil {
		d.Bus = eventbus.Nop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	log := d.Log.With(logx.String("comp", "poller"))
	ctx, cancel := context.WithCancel(context.Background())
	p := &Poller{
		quotes: d.Quotes,
		out:    d.Notifier,
		reg:    d.Registry,
		states: d.States,
		bus:    d.Bus,
		log:    log,
		now:    d.Now,
		keys:   shardmap.NewKeyMutex(),
		tasks:  shardmap.New[*task](0),
		ctx:    ctx,
		cancel: cancel,
	}
	cl := cronLogger{log: log}
	p.c = cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl)))
	p.Apply(cfg)
	return p
}

// Apply swaps the tick configuration.
func (p *Poller) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	p.cfg.Store(&cfg)
}

// Config returns the settings the next tick will use.
func (p *Poller) Config() Config { return *p.cfg.Load() }

// Start runs the shared clock. Tasks started earlier get their first tick now.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if p.started {
		return nil
	}
	p.started = true
	p.c.Start()
	cfg := p.Config()
	p.log.Info("poller started",
		logx.Duration("period", cfg.Period),
		logx.Duration("heartbeat", cfg.Heartbeat),
		logx.String("symbol", cfg.Symbol),
	)
	return nil
}

// Stop cancels every task and waits for in-flight ticks until ctx expires.
func (p *Poller) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	started := p.started
	p.mu.Unlock()

	for _, key := range p.tasks.Keys() {
		unlock := p.keys.Lock(key)
		if t, ok := p.tasks.LoadAndDelete(key); ok {
			t.stop()
			p.c.Remove(t.entryID)
			p.publishTask(t, false)
		}
		unlock()
	}
	p.cancel()
	if !started {
		return nil
	}
	done := p.c.Stop()
	select {
	case <-done.Done():
		p.log.Info("poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers dest. A destination that is already known, polling or
// not, yields ErrAlreadySubscribed.
func (p *Poller) Subscribe(dest subscription.Destination) error {
	key := dest.String()
	unlock := p.keys.Lock(key)
	defer unlock()
	if !p.reg.Add(dest) {
		return conflict("subscribe", key, ErrAlreadySubscribed)
	}
	p.log.Info("destination subscribed", logx.String("key", key))
	return nil
}

// StartPolling creates the recurring task for a registered destination. The
// first tick fires immediately once the poller is started.
func (p *Poller) StartPolling(dest subscription.Destination) error {
	key := dest.String()
	unlock := p.keys.Lock(key)
	defer unlock()

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if !p.reg.Contains(dest) {
		return conflict("start", key, ErrNotSubscribed)
	}
	if _, ok := p.tasks.Load(key); ok {
		return conflict("start", key, ErrAlreadyRunning)
	}

	cfg := p.Config()
	t := newTask(p.ctx, dest, cfg.Period, p.now())
	t.entryID = p.c.Schedule(everyFromNow(cfg.Period), cron.FuncJob(func() { p.tick(t) }))
	p.tasks.Store(key, t)

	p.log.Info("polling started",
		logx.String("key", key),
		logx.String("generation", t.generation),
		logx.Duration("period", cfg.Period),
	)
	p.publishTask(t, true)
	return nil
}

// StopPolling cancels the task of dest. No tick of that task begins after
// StopPolling returns; one already in flight may finish but cannot commit state.
func (p *Poller) StopPolling(dest subscription.Destination) error {
	key := dest.String()
	unlock := p.keys.Lock(key)
	defer unlock()

	t, ok := p.tasks.LoadAndDelete(key)
	if !ok {
		return conflict("stop", key, ErrNotRunning)
	}
	t.stop()
	p.c.Remove(t.entryID)

	p.log.Info("polling stopped", logx.String("key", key), logx.String("generation", t.generation))
	p.publishTask(t, false)
	return nil
}

// IsPolling reports whether dest has a live task.
func (p *Poller) IsPolling(dest subscription.Destination) bool {
	_, ok := p.tasks.Load(dest.String())
	return ok
}

func (p *Poller) ActiveCount() int { return p.tasks.Len() }

func (p *Poller) Registry() *subscription.Registry { return p.reg }

// Snapshot lists live tasks sorted by key, each with its current price state.
func (p *Poller) Snapshot() []TaskInfo {
	out := make([]TaskInfo, 0, p.tasks.Len())
	p.tasks.Range(func(key string, t *task) bool {
		ti := t.info()
		ti.State = p.states.Get(key)
		out = append(out, ti)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// tick fetches, decides and conditionally delivers for one task.
func (p *Poller) tick(t *task) {
	started := p.now()
	if !t.begin(started) {
		return
	}
	cfg := p.Config()
	key := t.dest.String()
	ev := eventbus.TickEvent{Key: key, Generation: t.generation}
	log := p.log.With(logx.String("key", key))

	finish := func(o outcome, to eventbus.TickOutcome, err error) {
		t.end(o, err)
		ev.Outcome = to
		ev.Took = p.now().Sub(started)
		if err != nil {
			ev.Err = err.Error()
		}
		p.bus.Publish(eventbus.Event{Type: eventbus.TypeTick, Data: ev})
	}

	fctx, cancel := context.WithTimeout(t.ctx, cfg.CallTimeout)
	price, err := p.quotes.Fetch(fctx, cfg.Symbol)
	cancel()
	if err != nil {
		if errors.Is(err, context.Canceled) && t.ctx.Err() != nil {
			finish(outcomeDiscarded, eventbus.TickDiscarded, nil)
			return
		}
		var herr *quote.HTTPError
		if errors.As(err, &herr) && !herr.Temporary() {
			log.Error("quote request rejected", logx.String("symbol", cfg.Symbol), logx.Int("status", herr.StatusCode), logx.Err(err))
		} else {
			log.Warn("quote fetch failed", logx.String("symbol", cfg.Symbol), logx.Err(err))
		}
		finish(outcomeFailed, eventbus.TickFetchErr, err)
		return
	}
	ev.Price = price

	now := p.now()
	d := delivery.Decide(price, p.states.Get(key), now, cfg.Heartbeat)
	ev.Changed, ev.Heartbeat = d.Changed, d.HeartbeatDue
	if !d.Send {
		log.Trace("price unchanged; suppressed", logx.Float64("price", price))
		finish(outcomeSuppressed, eventbus.TickSuppressed, nil)
		return
	}

	sctx, cancel := context.WithTimeout(t.ctx, cfg.CallTimeout)
	err = p.out.Send(sctx, t.dest, cfg.Format.Format(price))
	cancel()
	if err != nil {
		if errors.Is(err, context.Canceled) && t.ctx.Err() != nil {
			finish(outcomeDiscarded, eventbus.TickDiscarded, nil)
			return
		}
		log.Warn("price delivery failed", logx.Float64("price", price), logx.Err(err))
		finish(outcomeFailed, eventbus.TickSendErr, err)
		return
	}

	if !t.commit(func() { p.states.Put(key, delivery.Sent(price, now)) }) {
		finish(outcomeDiscarded, eventbus.TickDiscarded, nil)
		return
	}
	log.Debug("price sent",
		logx.Float64("price", price),
		logx.Bool("changed", d.Changed),
		logx.Bool("heartbeat", d.HeartbeatDue),
	)
	finish(outcomeSent, eventbus.TickSent, nil)
}

func (p *Poller) publishTask(t *task, running bool) {
	info := t.info()
	p.bus.Publish(eventbus.Event{Type: eventbus.TypeTask, Data: eventbus.TaskEvent{
		Key:        info.Key,
		Generation: info.Generation,
		Running:    running,
		Ticks:      info.Ticks,
	}})
}
