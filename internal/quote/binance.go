package quote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL = "https://api.binance.com"
	userAgent      = "pricebot/1.0"
)

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -package=quote_test -destination=mock_http_client_test.go -source=binance.go HTTPClient
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Binance reads /api/v3/ticker/price.
type Binance struct {
	baseURL    string
	httpClient HTTPClient
	limiter    *rate.Limiter
}

type BinanceOption func(*Binance)

func WithBaseURL(baseURL string) BinanceOption {
	return func(b *Binance) {
		if s := strings.TrimRight(strings.TrimSpace(baseURL), "/"); s != "" {
			b.baseURL = s
		}
	}
}

func WithHTTPClient(c HTTPClient) BinanceOption {
	return func(b *Binance) {
		if c != nil {
			b.httpClient = c
		}
	}
}

// WithRateLimit caps outgoing requests per second (0 disables the limiter).
func WithRateLimit(perSec int) BinanceOption {
	return func(b *Binance) {
		if perSec <= 0 {
			b.limiter = nil
			return
		}
		b.limiter = rate.NewLimiter(rate.Limit(perSec), perSec)
	}
}

// NewHTTPClient returns an http.Client with bounded dial and header timeouts.
func NewHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 3 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   10,
		ForceAttemptHTTP2:     true,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   3 * time.Second,
		ExpectContinueTimeout: time.Second,
		ResponseHeaderTimeout: 5 * time.Second,
	}
	return &http.Client{Timeout: timeout, Transport: transport}
}

func NewBinance(opts ...BinanceOption) *Binance {
	b := &Binance{
		baseURL:    defaultBaseURL,
		httpClient: NewHTTPClient(10 * time.Second),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

type tickerPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// Fetch returns the last traded price for symbol.
func (b *Binance) Fetch(ctx context.Context, symbol string) (float64, error) {
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return 0, fmt.Errorf("quote: rate limit: %w", err)
		}
	}

	q := url.Values{}
	q.Set("symbol", strings.ToUpper(symbol))
	u := b.baseURL + "/api/v3/ticker/price?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	res, err := b.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("performing request: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	if err != nil {
		return 0, fmt.Errorf("reading response: %w", err)
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		herr := &HTTPError{StatusCode: res.StatusCode}
		var ae apiError
		if json.Unmarshal(body, &ae) == nil {
			herr.Code, herr.Msg = ae.Code, ae.Msg
		}
		return 0, herr
	}

	var tp tickerPrice
	if err := json.Unmarshal(body, &tp); err != nil {
		return 0, fmt.Errorf("decoding ticker response: %w", err)
	}
	if tp.Price == "" {
		return 0, fmt.Errorf("%w: empty price for %s", ErrBadQuote, symbol)
	}
	d, err := decimal.NewFromString(tp.Price)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrBadQuote, tp.Price, err)
	}
	if !d.IsPositive() {
		return 0, fmt.Errorf("%w: non-positive price %s", ErrBadQuote, d)
	}
	f, _ := d.Float64()
	return f, nil
}
