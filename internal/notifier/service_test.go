package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	kit "pricebot/internal/transport"
	logx "pricebot/pkg/logx"
)

type recordingSender struct {
	mu      sync.Mutex
	calls   []call
	err     error
	block   chan struct{}
	entered chan struct{}
}

type call struct {
	to   kit.ChatTarget
	text string
	opt  kit.SendOptions
}

func (r *recordingSender) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if r.entered != nil {
		r.entered <- struct{}{}
	}
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return kit.MessageRef{}, ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call{to: to, text: text, opt: *opt})
	return kit.MessageRef{MessageID: len(r.calls)}, r.err
}

func TestService_SendAddressesChannelByUsername(t *testing.T) {
	t.Parallel()

	out := &recordingSender{}
	s := New(Config{ParseMode: "MarkdownV2"}, out, logx.Nop())
	if err := s.Send(context.Background(), "@chan", "hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(out.calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(out.calls))
	}
	c := out.calls[0]
	if c.to.Username != "@chan" || c.to.ChatID != 0 {
		t.Fatalf("target = %+v", c.to)
	}
	if c.opt.ParseMode != "MarkdownV2" || !c.opt.DisablePreview {
		t.Fatalf("options = %+v", c.opt)
	}
	if h := s.Snapshot(); len(h) != 1 || h[0].Err != "" || h[0].To != "@chan" {
		t.Fatalf("history = %+v", h)
	}
}

func TestService_SendWrapsTransportError(t *testing.T) {
	t.Parallel()

	boom := errors.New("chat not found")
	s := New(Config{}, &recordingSender{err: boom}, logx.Nop())
	err := s.Send(context.Background(), "@chan", "x")
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapping %v", err, boom)
	}
	if h := s.Snapshot(); len(h) != 1 || h[0].Err == "" {
		t.Fatalf("history should record the failure: %+v", h)
	}
}

func TestService_StopRejectsAndDrains(t *testing.T) {
	t.Parallel()

	out := &recordingSender{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	s := New(Config{}, out, logx.Nop())

	errCh := make(chan error, 1)
	go func() { errCh <- s.Send(context.Background(), "@chan", "x") }()

	select {
	case <-out.entered:
	case <-time.After(time.Second):
		t.Fatal("send never reached the transport")
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Stop(stopCtx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Stop with blocked send = %v, want deadline exceeded", err)
	}
	if err := s.Send(context.Background(), "@other", "y"); !errors.Is(err, ErrStopped) {
		t.Fatalf("Send after Stop = %v, want ErrStopped", err)
	}

	close(out.block)
	if err := <-errCh; err != nil {
		t.Fatalf("in-flight send: %v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestService_ApplyKeepsLimiterWhenRateUnchanged(t *testing.T) {
	t.Parallel()

	s := New(Config{RatePerSec: 5}, &recordingSender{}, logx.Nop())
	before := s.limiter
	s.Apply(Config{RatePerSec: 5, ParseMode: ""})
	if s.limiter != before {
		t.Fatal("limiter replaced without a rate change")
	}
	s.Apply(Config{RatePerSec: 7})
	if s.limiter == before {
		t.Fatal("limiter not replaced after rate change")
	}
}
