package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pricebot/internal/config"
	"pricebot/internal/eventbus"
	"pricebot/internal/storage"
	kit "pricebot/internal/transport"
	logx "pricebot/pkg/logx"
)

type sentText struct {
	to   kit.ChatTarget
	text string
	opt  kit.SendOptions
}

// fakeAdapter stands in for Telegram: tests push updates and read what was sent.
type fakeAdapter struct {
	mu   sync.Mutex
	out  chan<- kit.Update
	sent []sentText
	menu []kit.BotCommand
}

func (f *fakeAdapter) Start(_ context.Context, out chan<- kit.Update) error {
	f.mu.Lock()
	f.out = out
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) Stop(context.Context) error { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := sentText{to: to, text: text}
	if opt != nil {
		st.opt = *opt
	}
	f.sent = append(f.sent, st)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeAdapter) UpdateMenuCommands(_ context.Context, cmds []kit.BotCommand) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.menu = cmds
	return nil
}

func (f *fakeAdapter) push(chatID int64, text string) {
	f.mu.Lock()
	out := f.out
	f.mu.Unlock()
	out <- kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: chatID, FromID: 9, Text: text}}
}

func (f *fakeAdapter) waitFor(t *testing.T, match func(sentText) bool) sentText {
	t.Helper()
	var found sentText
	require.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		for _, s := range f.sent {
			if match(s) {
				found = s
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
	return found
}

func writeConfig(t *testing.T, dir, body string) *config.ConfigManager {
	t.Helper()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return config.NewConfigManager(path)
}

func TestApp_EndToEnd(t *testing.T) {
	binance := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/ticker/price" || r.URL.Query().Get("symbol") != "TONUSDT" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"symbol":"TONUSDT","price":"2.35000000"}`))
	}))
	defer binance.Close()

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "pricebot.db")
	cfgm := writeConfig(t, dir, `{
		"telegram": {"token": "123:abc"},
		"logging": {"level": "error"},
		"poller": {"period": "1m", "call_timeout": "5s"},
		"quote": {"base_url": "`+binance.URL+`"},
		"storage": {"driver": "file", "path": "`+filepath.ToSlash(dbPath)+`"}
	}`)
	cfg, err := cfgm.Load()
	require.NoError(t, err)

	ad := &fakeAdapter{}
	a, err := build(cfgm, cfg, ad)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))

	ad.push(7, "/ton @chan")
	ad.waitFor(t, func(s sentText) bool { return s.to.ChatID == 7 && strings.HasPrefix(s.text, "✅ Channel @chan added") })

	ad.push(7, "/tonstart@PriceBot @chan")
	ad.waitFor(t, func(s sentText) bool { return s.to.ChatID == 7 && s.text == "🚀 Started sending updates to @chan" })

	price := ad.waitFor(t, func(s sentText) bool { return s.to.Username == "@chan" })
	require.Equal(t, `TON Price: *2\.35$*`, price.text)
	require.Equal(t, "MarkdownV2", price.opt.ParseMode)
	require.True(t, a.Poller().IsPolling("@chan"))

	ad.push(7, "/tonstart @nope-nope")
	ad.push(7, "/tonstop @chan")
	ad.waitFor(t, func(s sentText) bool { return s.to.ChatID == 7 && s.text == "🛑 Stopped updates for @chan" })

	ad.mu.Lock()
	require.NotEmpty(t, ad.menu)
	ad.mu.Unlock()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	require.NoError(t, a.Stop(stopCtx, StopAppStop))

	st, err := storage.Open(storage.Config{Driver: "file", Path: dbPath}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	entries, err := st.RecentAudit(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, "tonstop", entries[0].Command)
	require.Equal(t, "ton", entries[2].Command)
	require.Equal(t, int64(9), entries[2].ActorID)
}

func TestApp_ApplyConfigUpdatesPoller(t *testing.T) {
	dir := t.TempDir()
	cfgm := writeConfig(t, dir, `{"telegram": {"token": "123:abc"}, "logging": {"level": "error"}}`)
	cfg, err := cfgm.Load()
	require.NoError(t, err)

	a, err := build(cfgm, cfg, &fakeAdapter{})
	require.NoError(t, err)

	next := *cfg
	next.Poller.Heartbeat = "5m"
	next.Quote.Label = "Toncoin"
	a.applyConfig(cfg, &next)

	snap := a.poller.Config()
	require.Equal(t, 5*time.Minute, snap.Heartbeat)
	require.Equal(t, "Toncoin", snap.Format.Label)
	require.NoError(t, a.logs.Close())
}

func TestMapping(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		Telegram: config.TelegramConfig{GroupLog: " -100123 "},
		Logging:  config.LoggingConfig{Telegram: config.LoggingTelegram{ThreadID: 4}},
		Notifier: config.NotifierConfig{ParseMode: "none"},
		Report:   config.ReportConfig{Enabled: true, Interval: "15m"},
	}

	to, ok := groupLogTarget(cfg)
	require.True(t, ok)
	require.Equal(t, kit.ChatTarget{ChatID: -100123, ThreadID: 4}, to)

	pc, err := mapPollerConfig(cfg)
	require.NoError(t, err)
	require.Equal(t, 30*time.Second, pc.Period)
	require.Equal(t, 2*time.Minute, pc.Heartbeat)
	require.Equal(t, "TONUSDT", pc.Symbol)
	require.False(t, pc.Format.Markdown)

	rc, err := mapReportConfig(cfg)
	require.NoError(t, err)
	require.True(t, rc.Enabled)
	require.Equal(t, 15*time.Minute, rc.Interval)

	_, enabled, err := mapStorageConfig(cfg)
	require.NoError(t, err)
	require.False(t, enabled)

	cfg.Telegram.GroupLog = "@logs"
	_, ok = groupLogTarget(cfg)
	require.False(t, ok)
	rc, err = mapReportConfig(cfg)
	require.NoError(t, err)
	require.False(t, rc.Enabled)

	_, ok = mapDebugConfig(cfg)
	require.False(t, ok)
	cfg.Debug = config.DebugConfig{Enabled: true, Addr: " 127.0.0.1:0 "}
	dc, ok := mapDebugConfig(cfg)
	require.True(t, ok)
	require.Equal(t, "127.0.0.1:0", dc.Addr)
}

func TestReporter_FlushesSummary(t *testing.T) {
	t.Parallel()

	out := &fakeAdapter{}
	bus := eventbus.New()
	r := newReporter(reportConfig{Enabled: true, Interval: 20 * time.Millisecond, To: kit.ChatTarget{ChatID: -1}}, bus, out, func() int { return 2 }, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.run(ctx)

	require.Eventually(t, func() bool {
		bus.Publish(eventbus.Event{Type: eventbus.TypeTick, Data: eventbus.TickEvent{Outcome: eventbus.TickSent}})
		out.mu.Lock()
		defer out.mu.Unlock()
		return len(out.sent) > 0
	}, 5*time.Second, 5*time.Millisecond)

	got := out.waitFor(t, func(s sentText) bool { return s.to.ChatID == -1 })
	require.Contains(t, got.text, "active tasks: 2")
	require.Contains(t, got.text, "sent: ")
}

func TestFormatReport(t *testing.T) {
	t.Parallel()

	var c reportCounts
	require.True(t, c.empty())
	c.observe(eventbus.Event{Data: eventbus.TickEvent{Outcome: eventbus.TickSent}})
	c.observe(eventbus.Event{Data: eventbus.TickEvent{Outcome: eventbus.TickSuppressed}})
	c.observe(eventbus.Event{Data: eventbus.TickEvent{Outcome: eventbus.TickSuppressed}})
	c.observe(eventbus.Event{Data: eventbus.TickEvent{Outcome: eventbus.TickFetchErr}})
	c.observe(eventbus.Event{Data: eventbus.TaskEvent{Running: true}})
	require.False(t, c.empty())

	got := formatReport(c, time.Hour, 1)
	want := "📊 Price updates, last 1h0m0s\n" +
		"active tasks: 1 (started 1, stopped 0)\n" +
		"sent: 1, suppressed: 2\n" +
		"fetch errors: 1, send errors: 0, discarded: 0"
	require.Equal(t, want, got)
}
