package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	kit "pricebot/internal/transport"
)

const (
	telegramQueueCap = 256
	telegramMaxText  = 3500
	telegramMaxValue = 600
)

// telegramSink is a zerolog.LevelWriter that forwards records to a chat from
// one background goroutine. Writes never block: records over the rate limit
// or beyond a full queue are dropped.
type telegramSink struct {
	sender kit.Sender
	queue  chan telegramItem

	mu       sync.Mutex
	to       kit.ChatTarget
	minLevel zerolog.Level
	limiter  *rate.Limiter
	cancel   context.CancelFunc
	done     chan struct{}
}

type telegramItem struct {
	to   kit.ChatTarget
	text string
}

func newTelegramSink(sender kit.Sender, threadID int) *telegramSink {
	return &telegramSink{
		sender:   sender,
		queue:    make(chan telegramItem, telegramQueueCap),
		to:       kit.ChatTarget{ThreadID: threadID},
		minLevel: zerolog.WarnLevel,
	}
}

func (t *telegramSink) setTarget(chatID int64, threadID int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.to.ChatID = chatID
	if threadID != 0 {
		t.to.ThreadID = threadID
	}
}

func (t *telegramSink) configure(cfg TelegramConfig) {
	rps := max(1, cfg.RatePerSec)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.minLevel = parseLevel(cfg.MinLevel, zerolog.WarnLevel)
	t.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	if cfg.ThreadID != 0 {
		t.to.ThreadID = cfg.ThreadID
	}
}

func (t *telegramSink) start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel, t.done = cancel, make(chan struct{})
	go t.run(ctx, t.done)
}

func (t *telegramSink) stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	t.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (t *telegramSink) run(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case it := <-t.queue:
			if t.sender != nil {
				_, _ = t.sender.SendText(ctx, it.to, it.text, &kit.SendOptions{DisablePreview: true})
			}
		}
	}
}

func (t *telegramSink) Write(p []byte) (int, error) {
	return t.WriteLevel(zerolog.InfoLevel, p)
}

func (t *telegramSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	t.mu.Lock()
	to, minLevel, lim := t.to, t.minLevel, t.limiter
	t.mu.Unlock()

	if to.ChatID == 0 || t.sender == nil || lim == nil || level < minLevel || !lim.Allow() {
		return len(p), nil
	}
	if text := formatTelegramJSON(p); text != "" {
		select {
		case t.queue <- telegramItem{to: to, text: text}:
		default:
		}
	}
	return len(p), nil
}

// formatTelegramJSON renders one JSON record as "[LEVEL] message" followed by
// "- key=value" lines in key order. Non-JSON input is passed through.
func formatTelegramJSON(p []byte) string {
	raw := strings.TrimSpace(string(p))
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return truncate(raw, telegramMaxText)
	}

	var b strings.Builder
	if lvl, _ := m["level"].(string); lvl != "" {
		b.WriteString("[" + strings.ToUpper(lvl) + "] ")
	}
	msg, _ := m["message"].(string)
	b.WriteString(msg)

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case "time", "level", "message":
		default:
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n- %s=%s", k, truncate(fmt.Sprint(m[k]), telegramMaxValue))
	}
	return truncate(b.String(), telegramMaxText)
}

func truncate(s string, n int) string {
	switch {
	case n <= 0 || len(s) <= n:
		return s
	case n < 10:
		return s[:n]
	default:
		return s[:n-3] + "..."
	}
}
