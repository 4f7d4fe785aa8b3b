package quote_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"pricebot/internal/quote"
)

func TestBinance_FetchParsesStringPrice(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/ticker/price", r.URL.Path)
		require.Equal(t, "TONUSDT", r.URL.Query().Get("symbol"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"symbol":"TONUSDT","price":"2.34500000"}`)
	}))
	defer srv.Close()

	c := quote.NewBinance(quote.WithBaseURL(srv.URL+"/"), quote.WithHTTPClient(srv.Client()))
	p, err := c.Fetch(t.Context(), "tonusdt")
	require.NoError(t, err)
	require.InDelta(t, 2.345, p, 1e-12)
}

func TestBinance_FetchErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{
			name:   "exchange error",
			status: http.StatusBadRequest,
			body:   `{"code":-1121,"msg":"Invalid symbol."}`,
			check: func(t *testing.T, err error) {
				var herr *quote.HTTPError
				require.ErrorAs(t, err, &herr)
				require.Equal(t, http.StatusBadRequest, herr.StatusCode)
				require.Equal(t, -1121, herr.Code)
				require.False(t, herr.Temporary())
			},
		},
		{
			name:   "rate limited",
			status: http.StatusTooManyRequests,
			body:   ``,
			check: func(t *testing.T, err error) {
				var herr *quote.HTTPError
				require.ErrorAs(t, err, &herr)
				require.True(t, herr.Temporary())
			},
		},
		{
			name:   "empty price",
			status: http.StatusOK,
			body:   `{"symbol":"TONUSDT"}`,
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, quote.ErrBadQuote)
			},
		},
		{
			name:   "garbage price",
			status: http.StatusOK,
			body:   `{"symbol":"TONUSDT","price":"n/a"}`,
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, quote.ErrBadQuote)
			},
		},
		{
			name:   "malformed json",
			status: http.StatusOK,
			body:   `{"price":`,
			check: func(t *testing.T, err error) {
				require.ErrorContains(t, err, "decoding ticker response")
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ctrl := gomock.NewController(t)
			httpClient := NewMockHTTPClient(ctrl)
			httpClient.EXPECT().
				Do(gomock.Any()).
				DoAndReturn(func(req *http.Request) (*http.Response, error) {
					require.True(t, strings.HasPrefix(req.URL.String(), "http://binance.test/api/v3/ticker/price"))
					return &http.Response{
						StatusCode: tc.status,
						Body:       io.NopCloser(strings.NewReader(tc.body)),
					}, nil
				}).
				Times(1)

			c := quote.NewBinance(quote.WithBaseURL("http://binance.test"), quote.WithHTTPClient(httpClient))
			_, err := c.Fetch(t.Context(), "TONUSDT")
			require.Error(t, err)
			tc.check(t, err)
		})
	}
}

func TestBinance_TransportError(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	boom := errors.New("connection reset")
	httpClient.EXPECT().Do(gomock.Any()).Return(nil, boom).Times(1)

	c := quote.NewBinance(quote.WithHTTPClient(httpClient))
	_, err := c.Fetch(t.Context(), "TONUSDT")
	require.ErrorIs(t, err, boom)
}

func TestBinance_RateLimitHonoursContext(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().Do(gomock.Any()).Times(0)

	c := quote.NewBinance(quote.WithHTTPClient(httpClient), quote.WithRateLimit(1))
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err := c.Fetch(ctx, "TONUSDT")
	require.Error(t, err)
}
