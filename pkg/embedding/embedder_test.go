package embedding

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeModel struct {
	dim    int
	delay  time.Duration
	encode atomic.Int64
	closed atomic.Bool
}

func (m *fakeModel) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	m.encode.Add(1)
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, m.dim)
		for j := range vec {
			vec[j] = float32(len(text)%7 + j%3 + 1)
		}
		out[i] = vec
	}
	return out, nil
}

func (m *fakeModel) Close() error {
	m.closed.Store(true)
	return nil
}

func newTestEmbedder(t *testing.T, model *fakeModel, opts Options) (*Embedder, *atomic.Int64) {
	t.Helper()
	var loads atomic.Int64
	loader := func(context.Context) (Model, error) {
		loads.Add(1)
		return model, nil
	}
	e, err := New(loader, opts)
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e, &loads
}

func TestEmbedderLazyLoadOnce(t *testing.T) {
	t.Parallel()

	model := &fakeModel{dim: 1024}
	e, loads := newTestEmbedder(t, model, Options{})

	assert.False(t, e.Loaded())
	assert.Equal(t, int64(0), loads.Load())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.EncodeSingle(context.Background(), "same text")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.True(t, e.Loaded())
	assert.Equal(t, int64(1), loads.Load())
}

func TestEmbedderTruncatesAndNormalizes(t *testing.T) {
	t.Parallel()

	model := &fakeModel{dim: 1024}
	e, _ := newTestEmbedder(t, model, Options{})

	vec, err := e.EncodeSingle(context.Background(), "hello")
	require.NoError(t, err)
	require.Len(t, vec, Dim)

	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-5)
}

func TestEmbedderShortVectorPassesThrough(t *testing.T) {
	t.Parallel()

	model := &fakeModel{dim: 128}
	e, _ := newTestEmbedder(t, model, Options{})

	vec, err := e.EncodeSingle(context.Background(), "short")
	require.NoError(t, err)
	assert.Len(t, vec, 128)
}

func TestEmbedderCacheBypassesModelAndBreaker(t *testing.T) {
	t.Parallel()

	model := &fakeModel{dim: 1024}
	e, _ := newTestEmbedder(t, model, Options{})

	first, err := e.EncodeSingle(context.Background(), "cached text")
	require.NoError(t, err)
	require.Equal(t, int64(1), model.encode.Load())

	// Force the breaker open; the cached text must still be served while a
	// cold text is refused.
	e.breaker.rss = func() (uint64, error) { return 1 << 40, nil }

	again, err := e.EncodeSingle(context.Background(), "cached text")
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.Equal(t, int64(1), model.encode.Load())

	_, err = e.EncodeSingle(context.Background(), "cold text")
	assert.ErrorIs(t, err, ErrResourceExhausted)
}

func TestEmbedderCacheReturnsCopies(t *testing.T) {
	t.Parallel()

	model := &fakeModel{dim: 1024}
	e, _ := newTestEmbedder(t, model, Options{})

	first, err := e.EncodeSingle(context.Background(), "mutate me")
	require.NoError(t, err)
	first[0] = 42

	second, err := e.EncodeSingle(context.Background(), "mutate me")
	require.NoError(t, err)
	assert.NotEqual(t, float32(42), second[0])
}

func TestEmbedderTimeout(t *testing.T) {
	t.Parallel()

	model := &fakeModel{dim: 1024, delay: time.Second}
	e, _ := newTestEmbedder(t, model, Options{Timeout: 20 * time.Millisecond})

	_, err := e.EncodeSingle(context.Background(), "slow")
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestEmbedderTimeoutCoversFirstLoad(t *testing.T) {
	t.Parallel()

	// A loader slower than the ceiling must trip the same timeout as a
	// slow encode; the lazy load is not exempt.
	loader := func(ctx context.Context) (Model, error) {
		select {
		case <-time.After(time.Second):
			return &fakeModel{dim: 1024}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	e, err := New(loader, Options{Timeout: 20 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(e.Close)

	_, err = e.EncodeSingle(context.Background(), "cold start")
	assert.ErrorIs(t, err, ErrTimeout)
	assert.False(t, e.Loaded())
}

func TestEmbedderBatchServesCacheHitsWithoutModel(t *testing.T) {
	t.Parallel()

	model := &fakeModel{dim: 1024}
	e, _ := newTestEmbedder(t, model, Options{})

	_, err := e.EncodeSingle(context.Background(), "warm")
	require.NoError(t, err)
	callsAfterWarm := model.encode.Load()

	vecs, err := e.EncodeBatch(context.Background(), []string{"warm", "cold one", "cold two"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	for _, v := range vecs {
		assert.Len(t, v, Dim)
	}
	// One extra model call carrying only the two misses.
	assert.Equal(t, callsAfterWarm+1, model.encode.Load())
	assert.Equal(t, 3, e.CacheLen())
}

func TestEmbedderUnloadReloads(t *testing.T) {
	t.Parallel()

	model := &fakeModel{dim: 1024}
	e, loads := newTestEmbedder(t, model, Options{})

	_, err := e.EncodeSingle(context.Background(), "a")
	require.NoError(t, err)
	require.True(t, e.Loaded())

	e.Unload()
	assert.False(t, e.Loaded())
	assert.True(t, model.closed.Load())

	_, err = e.EncodeSingle(context.Background(), "b")
	require.NoError(t, err)
	assert.True(t, e.Loaded())
	assert.Equal(t, int64(2), loads.Load())
}
