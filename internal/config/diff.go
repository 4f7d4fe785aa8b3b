package config

import (
	"reflect"
	"strings"

	logx "pricebot/pkg/logx"
)

// SummarizeConfigChange lists the sections that differ between two configs and
// returns log-safe attributes describing the new values. Tokens are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) ||
		strings.TrimSpace(ot.GroupLog) != strings.TrimSpace(nt.GroupLog) ||
		(ot.Token != nt.Token) || strings.TrimSpace(ot.TokenFile) != strings.TrimSpace(nt.TokenFile) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.poll_timeout", strings.TrimSpace(nt.PollTimeout)),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(nt.GroupLog) != ""),
			logx.Bool("telegram.token_changed", ot.Token != nt.Token || ot.TokenFile != nt.TokenFile),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if oldCfg.Poller != newCfg.Poller {
		changed = append(changed, "poller")
		attrs = append(attrs,
			logx.String("poller.period", newCfg.Poller.Period),
			logx.String("poller.heartbeat", newCfg.Poller.Heartbeat),
			logx.String("poller.call_timeout", newCfg.Poller.CallTimeout),
		)
	}

	if oldCfg.Quote != newCfg.Quote {
		changed = append(changed, "quote")
		attrs = append(attrs,
			logx.String("quote.symbol", newCfg.Quote.Symbol),
			logx.String("quote.base_url", newCfg.Quote.BaseURL),
			logx.String("quote.cache_ttl", newCfg.Quote.CacheTTL),
		)
	}

	if oldCfg.Notifier != newCfg.Notifier {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Int("notifier.rate_per_sec", newCfg.Notifier.RatePerSec),
			logx.String("notifier.parse_mode", newCfg.Notifier.ParseMode),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		if newCfg.Storage != nil {
			attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
		}
	}

	if oldCfg.Debug != newCfg.Debug {
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.Bool("debug.enabled", newCfg.Debug.Enabled),
			logx.String("debug.addr", newCfg.Debug.Addr),
			logx.Bool("debug.token_set", newCfg.Debug.Token != ""),
		)
	}

	if oldCfg.Report != newCfg.Report {
		changed = append(changed, "report")
		attrs = append(attrs,
			logx.Bool("report.enabled", newCfg.Report.Enabled),
			logx.String("report.interval", newCfg.Report.Interval),
		)
	}

	return changed, attrs
}

// RequiresRestart reports whether a change touches settings that are only read at startup.
func RequiresRestart(oldCfg, newCfg *Config) bool {
	if oldCfg == nil || newCfg == nil {
		return false
	}
	ot, nt := oldCfg.Telegram, newCfg.Telegram
	oq, nq := oldCfg.Quote, newCfg.Quote
	return ot.Token != nt.Token || ot.TokenFile != nt.TokenFile ||
		ot.PollTimeout != nt.PollTimeout ||
		oq.BaseURL != nq.BaseURL || oq.Timeout != nq.Timeout || oq.RatePerSec != nq.RatePerSec ||
		oldCfg.Debug != newCfg.Debug ||
		!reflect.DeepEqual(oldCfg.Storage, newCfg.Storage)
}
