package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"pricebot/internal/subscription"
	kit "pricebot/internal/transport"
	logx "pricebot/pkg/logx"
)

// Sender delivers text to a destination.
//
//go:generate mockgen -package=poller_test -destination=../poller/mock_sender_test.go -source=service.go Sender
type Sender interface {
	Send(ctx context.Context, dest subscription.Destination, text string) error
}

var ErrStopped = errors.New("notifier stopped")

type Config struct {
	RatePerSec int
	ParseMode  string // "" for plain text
}

type HistoryItem struct {
	At   time.Time `json:"at"`
	To   string    `json:"to"`
	Text string    `json:"text"`
	Err  string    `json:"err,omitempty"`
}

const historySize = 100

// Service is a Sender backed by a transport. Safe for concurrent use.
type Service struct {
	out kit.Sender
	log logx.Logger

	mu        sync.Mutex
	cfg       Config
	limiter   *rate.Limiter
	accepting bool
	inflight  sync.WaitGroup

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, out kit.Sender, log logx.Logger) *Service {
	s := &Service{out: out, log: log.With(logx.String("comp", "notifier")), accepting: true}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 20
	}
	if s.limiter == nil || s.cfg.RatePerSec != cfg.RatePerSec {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}
	s.cfg = cfg
}

// Send blocks until the transport answers, ctx expires, or the service stops.
func (s *Service) Send(ctx context.Context, dest subscription.Destination, text string) error {
	s.mu.Lock()
	if !s.accepting {
		s.mu.Unlock()
		return ErrStopped
	}
	lim := s.limiter
	opt := &kit.SendOptions{ParseMode: s.cfg.ParseMode, DisablePreview: true}
	s.inflight.Add(1)
	s.mu.Unlock()
	defer s.inflight.Done()

	if err := lim.Wait(ctx); err != nil {
		return fmt.Errorf("notifier: throttled: %w", err)
	}
	_, err := s.out.SendText(ctx, kit.ChatTarget{Username: dest.String()}, text, opt)
	s.record(dest, text, err)
	if err != nil {
		return fmt.Errorf("notifier: send to %s: %w", dest, err)
	}
	s.log.Debug("price delivered", logx.String("to", dest.String()))
	return nil
}

// Stop rejects new sends and waits for in-flight ones until ctx expires.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.accepting = false
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	out := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return out
}

func (s *Service) record(dest subscription.Destination, text string, err error) {
	it := HistoryItem{At: time.Now(), To: dest.String(), Text: text}
	if err != nil {
		it.Err = err.Error()
	}
	s.hmu.Lock()
	s.history = append(s.history, it)
	if len(s.history) > historySize {
		s.history = s.history[len(s.history)-historySize:]
	}
	s.hmu.Unlock()
}
