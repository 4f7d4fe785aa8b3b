// Package quote fetches spot prices from an exchange.
package quote

import (
	"context"
	"errors"
	"fmt"
)

// Source returns the current price for symbol.
//
//go:generate mockgen -package=poller_test -destination=../poller/mock_quote_source_test.go -source=source.go Source
type Source interface {
	Fetch(ctx context.Context, symbol string) (float64, error)
}

// ErrBadQuote marks a response that decoded but carried no usable price.
var ErrBadQuote = errors.New("bad quote")

// HTTPError is returned for non-2xx responses.
type HTTPError struct {
	StatusCode int
	Code       int    // exchange error code, 0 if absent
	Msg        string // exchange error message, if any
}

func (e *HTTPError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("quote: http %d: %s (code %d)", e.StatusCode, e.Msg, e.Code)
	}
	return fmt.Sprintf("quote: http %d", e.StatusCode)
}

// Temporary reports whether retrying on the next tick is reasonable.
func (e *HTTPError) Temporary() bool {
	return e.StatusCode == 429 || e.StatusCode == 418 || e.StatusCode >= 500
}
