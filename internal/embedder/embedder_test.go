package embedder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalProviderDeterminism(t *testing.T) {
	p, err := NewLocalProvider(nil)
	require.NoError(t, err)
	ctx := context.Background()

	a, err := p.Embed(ctx, "payment worker retry semantics")
	require.NoError(t, err)
	b, err := p.Embed(ctx, "payment worker retry semantics")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := p.Embed(ctx, "completely different text")
	require.NoError(t, err)
	assert.NotEqual(t, a, c)

	assert.Len(t, a, p.Dimension())
	assert.Equal(t, ProviderLocal, p.Provider())
}

func TestLocalProviderNormalized(t *testing.T) {
	p, err := NewLocalProvider(nil)
	require.NoError(t, err)

	vec, err := p.Embed(context.Background(), "normalize me please")
	require.NoError(t, err)

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, norm, 1e-5)
}

func TestLocalProviderEmptyText(t *testing.T) {
	p, err := NewLocalProvider(nil)
	require.NoError(t, err)

	_, err = p.Embed(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyText)
}

func TestCacheReturnsCopies(t *testing.T) {
	cache := NewCache(10)
	hash := ComputeHash("some text")
	cache.Set(hash, []float32{1, 2, 3})

	got, ok := cache.Get(hash)
	require.True(t, ok)
	got[0] = 99

	again, ok := cache.Get(hash)
	require.True(t, ok)
	assert.Equal(t, float32(1), again[0], "caller mutation must not poison the cache")
}

func TestCacheMiss(t *testing.T) {
	cache := NewCache(10)
	_, ok := cache.Get(ComputeHash("never stored"))
	assert.False(t, ok)
	assert.Zero(t, cache.Size())
}

func TestComputeHashStable(t *testing.T) {
	assert.Equal(t, ComputeHash("abc"), ComputeHash("abc"))
	assert.NotEqual(t, ComputeHash("abc"), ComputeHash("abd"))
	assert.Len(t, ComputeHash("abc"), 64)
}

func TestRetryWithBackoff(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}

	t.Run("succeeds after transient failures", func(t *testing.T) {
		attempts := 0
		result, err := retryWithBackoff(context.Background(), cfg, func() (string, error) {
			attempts++
			if attempts < 3 {
				return "", errors.New("transient")
			}
			return "ok", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "ok", result)
		assert.Equal(t, 3, attempts)
	})

	t.Run("returns last error when exhausted", func(t *testing.T) {
		sentinel := errors.New("always fails")
		attempts := 0
		_, err := retryWithBackoff(context.Background(), cfg, func() (int, error) {
			attempts++
			return 0, sentinel
		})
		assert.ErrorIs(t, err, sentinel)
		assert.Equal(t, cfg.MaxRetries, attempts)
	})

	t.Run("stops on cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := retryWithBackoff(ctx, cfg, func() (int, error) {
			return 0, errors.New("nope")
		})
		assert.ErrorIs(t, err, context.Canceled)
	})
}
