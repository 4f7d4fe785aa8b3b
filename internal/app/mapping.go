package app

import (
	"strconv"
	"strings"

	"pricebot/internal/config"
	"pricebot/internal/delivery"
	"pricebot/internal/notifier"
	"pricebot/internal/observability/debugsrv"
	"pricebot/internal/poller"
	"pricebot/internal/storage"
	kit "pricebot/internal/transport"
	logx "pricebot/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

// groupLogTarget returns the chat that receives log records and reports.
// ok is false when telegram.group_log is unset or not a chat id.
func groupLogTarget(cfg *config.Config) (kit.ChatTarget, bool) {
	raw := strings.TrimSpace(cfg.Telegram.GroupLog)
	if raw == "" {
		return kit.ChatTarget{}, false
	}
	chatID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || chatID == 0 {
		return kit.ChatTarget{}, false
	}
	return kit.ChatTarget{ChatID: chatID, ThreadID: cfg.Logging.Telegram.ThreadID}, true
}

func mapPollerConfig(cfg *config.Config) (poller.Config, error) {
	timing, err := cfg.Poller.Resolve()
	if err != nil {
		return poller.Config{}, err
	}
	qs, err := cfg.Quote.Resolve()
	if err != nil {
		return poller.Config{}, err
	}
	ns, err := cfg.Notifier.Resolve()
	if err != nil {
		return poller.Config{}, err
	}
	return poller.Config{
		Period:      timing.Period,
		Heartbeat:   timing.Heartbeat,
		CallTimeout: timing.CallTimeout,
		Symbol:      qs.Symbol,
		Format: delivery.Formatter{
			Label:    qs.Label,
			Suffix:   qs.Suffix,
			Markdown: ns.ParseMode != "",
		},
	}, nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	ns, err := cfg.Notifier.Resolve()
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{RatePerSec: ns.RatePerSec, ParseMode: ns.ParseMode}, nil
}

// mapStorageConfig returns enabled=false when no storage section or driver is set.
func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{Driver: driver, Path: cfg.Storage.Path, BusyTimeout: busy}, true, nil
}

func mapReportConfig(cfg *config.Config) (reportConfig, error) {
	interval, err := config.ParseDurationOrDefault("report.interval", cfg.Report.Interval, config.DefaultReportInterval)
	if err != nil {
		return reportConfig{}, err
	}
	rc := reportConfig{Interval: interval}
	if to, ok := groupLogTarget(cfg); ok && cfg.Report.Enabled {
		rc.Enabled, rc.To = true, to
	}
	return rc, nil
}

func mapDebugConfig(cfg *config.Config) (debugsrv.Config, bool) {
	if !cfg.Debug.Enabled {
		return debugsrv.Config{}, false
	}
	return debugsrv.Config{
		Addr:  strings.TrimSpace(cfg.Debug.Addr),
		Token: strings.TrimSpace(cfg.Debug.Token),
	}, true
}
