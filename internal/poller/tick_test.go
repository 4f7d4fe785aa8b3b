package poller

import (
	"context"
	"sync"
	"testing"
	"time"

	"pricebot/internal/delivery"
	"pricebot/internal/subscription"
	logx "pricebot/pkg/logx"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type seqSource struct {
	mu     sync.Mutex
	prices []float64
	calls  int
}

func (s *seqSource) Fetch(context.Context, string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.prices[min(s.calls, len(s.prices)-1)]
	s.calls++
	return p, nil
}

type countingSender struct {
	mu    sync.Mutex
	texts []string
}

func (s *countingSender) Send(_ context.Context, _ subscription.Destination, text string) error {
	s.mu.Lock()
	s.texts = append(s.texts, text)
	s.mu.Unlock()
	return nil
}

// newManualPoller returns a poller whose clock is never started, so ticks run
// only when the test calls tick directly.
func newManualPoller(t *testing.T, prices ...float64) (*Poller, *task, *fakeClock, *seqSource, *countingSender) {
	t.Helper()
	clk := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	src := &seqSource{prices: prices}
	out := &countingSender{}
	p := New(Config{
		Period:      30 * time.Second,
		Heartbeat:   120 * time.Second,
		CallTimeout: time.Second,
		Format:      delivery.Formatter{Label: "TON Price", Suffix: "$"},
	}, Deps{Quotes: src, Notifier: out, Log: logx.Nop(), Now: clk.Now})
	t.Cleanup(func() { _ = p.Stop(context.Background()) })

	if err := p.Subscribe("@chan"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := p.StartPolling("@chan"); err != nil {
		t.Fatalf("StartPolling: %v", err)
	}
	tk, ok := p.tasks.Load("@chan")
	if !ok {
		t.Fatal("task not registered")
	}
	return p, tk, clk, src, out
}

func TestTick_HeartbeatScenario(t *testing.T) {
	t.Parallel()

	p, tk, clk, _, out := newManualPoller(t, 1.00)
	t0 := clk.Now()
	for _, off := range []time.Duration{0, 30 * time.Second, 60 * time.Second, 120 * time.Second} {
		clk.Set(t0.Add(off))
		p.tick(tk)
	}

	if len(out.texts) != 2 {
		t.Fatalf("sends = %d (%v), want 2 (t=0 and t=120s)", len(out.texts), out.texts)
	}
	if out.texts[0] != "TON Price: 1.00$" {
		t.Fatalf("text = %q", out.texts[0])
	}
	st := p.states.Get("@chan")
	if !st.LastSentAt.Equal(t0.Add(120 * time.Second)) {
		t.Fatalf("LastSentAt = %v, want t0+120s", st.LastSentAt)
	}
	info := tk.info()
	if info.Ticks != 4 || info.Sent != 2 || info.Suppressed != 2 {
		t.Fatalf("counters = %+v", info)
	}
}

func TestTick_ChangeScenario(t *testing.T) {
	t.Parallel()

	p, tk, clk, _, out := newManualPoller(t, 1.00, 1.01)
	t0 := clk.Now()
	p.tick(tk)
	clk.Set(t0.Add(30 * time.Second))
	p.tick(tk)

	if len(out.texts) != 2 {
		t.Fatalf("sends = %v, want 2", out.texts)
	}
	if got := p.states.Get("@chan").LastPrice; got != 1.01 {
		t.Fatalf("LastPrice = %v, want 1.01", got)
	}
}

func TestTick_OverlapIsSkipped(t *testing.T) {
	t.Parallel()

	_, tk, clk, _, _ := newManualPoller(t, 1.00)
	if !tk.begin(clk.Now()) {
		t.Fatal("first begin refused")
	}
	if tk.begin(clk.Now()) {
		t.Fatal("overlapping begin accepted")
	}
	tk.end(outcomeSuppressed, nil)
	if info := tk.info(); info.Skipped != 1 || info.InFlight {
		t.Fatalf("info = %+v", info)
	}
}

func TestTick_StoppedTaskDoesNothing(t *testing.T) {
	t.Parallel()

	p, tk, _, src, out := newManualPoller(t, 1.00)
	if err := p.StopPolling("@chan"); err != nil {
		t.Fatalf("StopPolling: %v", err)
	}
	p.tick(tk)
	if src.calls != 0 || len(out.texts) != 0 {
		t.Fatalf("stopped task ran: fetches=%d sends=%d", src.calls, len(out.texts))
	}
	if tk.commit(func() { t.Fatal("commit ran on stopped task") }) {
		t.Fatal("commit accepted on stopped task")
	}
}

func TestConfig_WithDefaults(t *testing.T) {
	t.Parallel()

	c := Config{Period: 10 * time.Second, CallTimeout: time.Minute}.withDefaults()
	if c.CallTimeout != 9*time.Second {
		t.Fatalf("CallTimeout = %v, want clamped below period", c.CallTimeout)
	}
	if c.Heartbeat != 2*time.Minute || c.Symbol != "TONUSDT" {
		t.Fatalf("defaults = %+v", c)
	}
}

func TestImmediateSchedule(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 1, 1, 0, 0, 0, 500, time.UTC)
	s := everyFromNow(30 * time.Second)
	if got := s.Next(now); !got.Equal(now) {
		t.Fatalf("first Next = %v, want now", got)
	}
	if got := s.Next(now); got.Sub(now) < 29*time.Second || got.Sub(now) > 30*time.Second {
		t.Fatalf("second Next = %v, want about one period later", got)
	}
}
