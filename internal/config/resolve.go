package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	logx "pricebot/pkg/logx"
)

const (
	DefaultPeriod      = 30 * time.Second
	DefaultHeartbeat   = 2 * time.Minute
	DefaultCallTimeout = 10 * time.Second
	DefaultPollTimeout = 10 * time.Second

	DefaultQuoteBaseURL = "https://api.binance.com"
	DefaultSymbol       = "TONUSDT"
	DefaultLabel        = "TON Price"
	DefaultSuffix       = "$"
	DefaultQuoteTimeout = 10 * time.Second
	DefaultQuoteRate    = 5

	DefaultNotifierRate = 20
	DefaultParseMode    = "MarkdownV2"

	DefaultReportInterval = time.Hour
)

var symbolRe = regexp.MustCompile(`^[A-Z0-9]{2,20}$`)

// ParseDurationField parses a Go duration string and prefixes errors with the config path.
// Empty input yields 0.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def substituted for zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// PollerTiming is the resolved form of PollerConfig.
type PollerTiming struct {
	Period      time.Duration
	Heartbeat   time.Duration
	CallTimeout time.Duration
}

func (c PollerConfig) Resolve() (PollerTiming, error) {
	var (
		t   PollerTiming
		err error
	)
	if t.Period, err = ParseDurationField("poller.period", c.Period); err != nil {
		return t, err
	}
	if t.Period == 0 {
		if strings.TrimSpace(c.Period) != "" {
			return t, errors.New("poller.period must be > 0")
		}
		t.Period = DefaultPeriod
	}
	if t.Heartbeat, err = ParseDurationOrDefault("poller.heartbeat", c.Heartbeat, DefaultHeartbeat); err != nil {
		return t, err
	}
	if t.CallTimeout, err = ParseDurationOrDefault("poller.call_timeout", c.CallTimeout, DefaultCallTimeout); err != nil {
		return t, err
	}
	// An explicit call_timeout must be shorter than the period; the default shrinks to fit.
	if t.CallTimeout >= t.Period {
		if strings.TrimSpace(c.CallTimeout) != "" {
			return t, fmt.Errorf("poller.call_timeout (%s) must be shorter than poller.period (%s)", t.CallTimeout, t.Period)
		}
		t.CallTimeout = t.Period * 9 / 10
	}
	return t, nil
}

// QuoteSettings is the resolved form of QuoteConfig.
type QuoteSettings struct {
	BaseURL    string
	Symbol     string
	Label      string
	Suffix     string
	Timeout    time.Duration
	RatePerSec int
	CacheTTL   time.Duration
}

func (c QuoteConfig) Resolve() (QuoteSettings, error) {
	s := QuoteSettings{
		BaseURL:    strings.TrimRight(strings.TrimSpace(c.BaseURL), "/"),
		Symbol:     strings.ToUpper(strings.TrimSpace(c.Symbol)),
		Label:      strings.TrimSpace(c.Label),
		Suffix:     c.Suffix,
		RatePerSec: c.RatePerSec,
	}
	if s.BaseURL == "" {
		s.BaseURL = DefaultQuoteBaseURL
	}
	if s.Symbol == "" {
		s.Symbol = DefaultSymbol
	}
	if !symbolRe.MatchString(s.Symbol) {
		return s, fmt.Errorf("quote.symbol: invalid symbol %q", c.Symbol)
	}
	if s.Label == "" {
		s.Label = DefaultLabel
	}
	if s.Suffix == "" {
		s.Suffix = DefaultSuffix
	}
	if s.RatePerSec < 0 {
		return s, errors.New("quote.rate_per_sec must be >= 0")
	}
	if s.RatePerSec == 0 {
		s.RatePerSec = DefaultQuoteRate
	}
	var err error
	if s.Timeout, err = ParseDurationOrDefault("quote.timeout", c.Timeout, DefaultQuoteTimeout); err != nil {
		return s, err
	}
	if s.CacheTTL, err = ParseDurationField("quote.cache_ttl", c.CacheTTL); err != nil {
		return s, err
	}
	return s, nil
}

// NotifierSettings is the resolved form of NotifierConfig.
type NotifierSettings struct {
	RatePerSec int
	ParseMode  string // "" means plain text
}

func (c NotifierConfig) Resolve() (NotifierSettings, error) {
	s := NotifierSettings{RatePerSec: c.RatePerSec}
	if s.RatePerSec < 0 {
		return s, errors.New("notifier.rate_per_sec must be >= 0")
	}
	if s.RatePerSec == 0 {
		s.RatePerSec = DefaultNotifierRate
	}
	switch strings.ToLower(strings.TrimSpace(c.ParseMode)) {
	case "", "markdownv2":
		s.ParseMode = DefaultParseMode
	case "none", "plain":
		s.ParseMode = ""
	default:
		return s, fmt.Errorf("notifier.parse_mode: unsupported %q", c.ParseMode)
	}
	return s, nil
}

// Validate checks every section without side effects. It is used on load and
// as the reload validator, so a bad edit never reaches running components.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if strings.TrimSpace(cfg.Telegram.Token) == "" && strings.TrimSpace(cfg.Telegram.TokenFile) == "" {
		errs = append(errs, errors.New("telegram: token or token_file is required"))
	}
	if _, err := ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		errs = append(errs, err)
	}
	if lvl := strings.TrimSpace(cfg.Logging.Level); lvl != "" {
		if _, ok := logx.ParseLevel(lvl); !ok {
			errs = append(errs, fmt.Errorf("logging.level: unknown level %q", lvl))
		}
	}
	if _, err := cfg.Poller.Resolve(); err != nil {
		errs = append(errs, err)
	}
	if _, err := cfg.Quote.Resolve(); err != nil {
		errs = append(errs, err)
	}
	if _, err := cfg.Notifier.Resolve(); err != nil {
		errs = append(errs, err)
	}
	if cfg.Storage != nil {
		switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
		case "", "none", "file", "sqlite":
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unsupported %q", cfg.Storage.Driver))
		}
		if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}
	if _, err := ParseDurationField("report.interval", cfg.Report.Interval); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// LoadToken returns the bot token, reading telegram.token_file when token is empty.
func (c TelegramConfig) LoadToken() (string, error) {
	if tok := strings.TrimSpace(c.Token); tok != "" {
		return tok, nil
	}
	path := strings.TrimSpace(c.TokenFile)
	if path == "" {
		return "", errors.New("telegram: token or token_file is required")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("telegram.token_file: %w", err)
	}
	tok := strings.TrimSpace(string(b))
	if tok == "" {
		return "", fmt.Errorf("telegram.token_file: %s is empty", path)
	}
	return tok, nil
}
