package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "30s", "2m").
// Unknown keys are rejected so typos surface on load and on reload.
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Poller   PollerConfig   `json:"poller"`
	Quote    QuoteConfig    `json:"quote"`
	Notifier NotifierConfig `json:"notifier"`
	Storage  *StorageConfig `json:"storage,omitempty"`
	Report   ReportConfig   `json:"report"`
	Debug    DebugConfig    `json:"debug"`
}

type TelegramConfig struct {
	// Token wins over TokenFile when both are set.
	Token     string `json:"token"`
	TokenFile string `json:"token_file,omitempty"`
	// GroupLog is the chat id receiving log records and reports ("" disables).
	GroupLog string `json:"group_log"`
	// PollTimeout is the long-poll timeout (default "10s").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// PollerConfig controls per-destination polling.
//
// Defaults (when fields are omitted/zero):
//   - period: "30s"
//   - heartbeat: "2m"
//   - call_timeout: "10s" (must stay below period)
type PollerConfig struct {
	Period      string `json:"period"`
	Heartbeat   string `json:"heartbeat"`
	CallTimeout string `json:"call_timeout"`
}

// QuoteConfig controls the price feed.
//
// Defaults: base_url "https://api.binance.com", symbol "TONUSDT", label "TON Price",
// suffix "$", timeout "10s", rate_per_sec 5, cache_ttl "0s" (disabled).
type QuoteConfig struct {
	BaseURL    string `json:"base_url"`
	Symbol     string `json:"symbol"`
	Label      string `json:"label"`
	Suffix     string `json:"suffix"`
	Timeout    string `json:"timeout"`
	RatePerSec int    `json:"rate_per_sec"`
	// CacheTTL lets concurrent tasks share one upstream quote for a short window.
	CacheTTL string `json:"cache_ttl"`
}

// NotifierConfig controls outbound price messages.
type NotifierConfig struct {
	RatePerSec int    `json:"rate_per_sec"`
	ParseMode  string `json:"parse_mode"` // "MarkdownV2" (default) or "none"
}

// StorageConfig controls the optional command audit log.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./pricebot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// ReportConfig controls the periodic tick summary sent to telegram.group_log.
type ReportConfig struct {
	Enabled  bool   `json:"enabled"`
	Interval string `json:"interval"` // default "1h"
}

// DebugConfig controls the optional HTTP endpoint with pprof and JSON
// snapshots of tasks, sends and the audit trail.
type DebugConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`  // default "127.0.0.1:6060"
	Token   string `json:"token"` // required for non-loopback addr
}
