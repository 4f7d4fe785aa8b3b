package quote_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pricebot/internal/quote"
)

type slowSource struct {
	calls   atomic.Int32
	release chan struct{}
	price   float64
	err     error
}

func (s *slowSource) Fetch(ctx context.Context, _ string) (float64, error) {
	s.calls.Add(1)
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return s.price, s.err
}

func TestCached_CoalescesConcurrentMisses(t *testing.T) {
	t.Parallel()

	src := &slowSource{release: make(chan struct{}), price: 2.5}
	c := quote.NewCached(src, time.Hour)

	var wg sync.WaitGroup
	results := make([]float64, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := c.Fetch(t.Context(), "TONUSDT")
			require.NoError(t, err)
			results[i] = p
		}(i)
	}
	// Let the callers pile up on the in-flight call before releasing it.
	require.Eventually(t, func() bool { return src.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(src.release)
	wg.Wait()

	require.Equal(t, int32(1), src.calls.Load())
	for _, p := range results {
		require.Equal(t, 2.5, p)
	}
}

func TestCached_TTL(t *testing.T) {
	t.Parallel()

	src := &slowSource{price: 1.0}
	c := quote.NewCached(src, time.Hour)

	for i := 0; i < 3; i++ {
		p, err := c.Fetch(t.Context(), "TONUSDT")
		require.NoError(t, err)
		require.Equal(t, 1.0, p)
	}
	require.Equal(t, int32(1), src.calls.Load())

	c.SetTTL(0)
	_, err := c.Fetch(t.Context(), "TONUSDT")
	require.NoError(t, err)
	require.Equal(t, int32(2), src.calls.Load())
}

func TestCached_ErrorsAreNotCached(t *testing.T) {
	t.Parallel()

	boom := errors.New("down")
	src := &slowSource{err: boom}
	c := quote.NewCached(src, time.Hour)

	_, err := c.Fetch(t.Context(), "TONUSDT")
	require.ErrorIs(t, err, boom)
	_, err = c.Fetch(t.Context(), "TONUSDT")
	require.ErrorIs(t, err, boom)
	require.Equal(t, int32(2), src.calls.Load())
}
