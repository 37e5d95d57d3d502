// Package embedding supplies 256-dimensional L2-normalized vectors under
// strict memory limits in a shared cloud environment.
//
// The heavy model is not loaded at process start. The first encode triggers
// a one-time initialization inside a global mutex so exactly one loader is
// ever active; every caller, including global search, shares the same
// embedder instance.
package embedding

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/daydreamer-ai/daydreamer-memory/pkg/logger"
)

// Dim is the fixed output dimensionality (Matryoshka truncation from the
// underlying 1024-dim model).
const Dim = 256

// DefaultTimeout is the per-call ceiling, sized to absorb first-call model
// load.
const DefaultTimeout = 40 * time.Second

// DefaultMemoryLimit is the breaker's soft RSS threshold: 4.5 GiB, leaving
// headroom on an 8 GiB shared host.
const DefaultMemoryLimit = uint64(4608) * 1024 * 1024

// Sentinel errors surfaced to callers. Embedding is best-effort: the write
// pipeline treats any of these as "no vector", never as a failed write.
var (
	// ErrUnavailable means the model could not be loaded or reached.
	ErrUnavailable = errors.New("embedding model unavailable")

	// ErrResourceExhausted means the memory circuit breaker is open.
	ErrResourceExhausted = errors.New("embedding refused: memory circuit breaker open")

	// ErrTimeout means the encode call exceeded its ceiling.
	ErrTimeout = errors.New("embedding call timed out")
)

// Options configures the embedder.
type Options struct {
	// Timeout is the per-call ceiling. Zero means DefaultTimeout.
	Timeout time.Duration

	// CacheSize is the LRU capacity. Zero means DefaultCacheSize.
	CacheSize int

	// MemoryLimitBytes is the breaker's soft RSS threshold.
	MemoryLimitBytes uint64

	// MemoryRecoverBytes is the RSS level below which the breaker closes
	// again. Zero defaults to 90% of the limit.
	MemoryRecoverBytes uint64
}

// Embedder is the process-wide singleton encoder front.
type Embedder struct {
	loader  Loader
	timeout time.Duration
	cache   *vectorCache
	breaker *MemoryBreaker

	// loadMu serializes load and unload; exactly one loader is ever active.
	loadMu    sync.Mutex
	model     Model
	loadedRSS uint64

	// activeMu guards lastUsed for the auto-unload sweeper.
	activeMu sync.Mutex
	lastUsed time.Time
}

// New creates an embedder. The model is not loaded until the first encode.
func New(loader Loader, opts Options) (*Embedder, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MemoryLimitBytes == 0 {
		opts.MemoryLimitBytes = DefaultMemoryLimit
	}
	cache, err := newVectorCache(opts.CacheSize)
	if err != nil {
		return nil, err
	}
	return &Embedder{
		loader:  loader,
		timeout: opts.Timeout,
		cache:   cache,
		breaker: NewMemoryBreaker(opts.MemoryLimitBytes, opts.MemoryRecoverBytes),
	}, nil
}

// EncodeSingle returns the 256-dim normalized vector for text.
// Cache hits bypass both the model and the circuit breaker.
func (e *Embedder) EncodeSingle(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := e.cache.get(text); ok {
		return vec, nil
	}

	vecs, err := e.encode(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	e.cache.put(text, vecs[0])
	return vecs[0], nil
}

// EncodeBatch returns one vector per input text. Cached entries are served
// from the LRU; only the misses go to the model.
func (e *Embedder) EncodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int
	for i, text := range texts {
		if vec, ok := e.cache.get(text); ok {
			out[i] = vec
			continue
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	vecs, err := e.encode(ctx, missing)
	if err != nil {
		return nil, err
	}
	for j, vec := range vecs {
		e.cache.put(missing[j], vec)
		out[missingIdx[j]] = vec
	}
	return out, nil
}

func (e *Embedder) encode(ctx context.Context, texts []string) ([][]float32, error) {
	if err := e.breaker.Allow(); err != nil {
		return nil, err
	}

	// The ceiling covers the whole call, first-call model load included.
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	model, err := e.ensureLoaded(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, err
	}
	e.touch()

	raw, err := model.Encode(ctx, texts)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, err
	}

	out := make([][]float32, len(raw))
	for i, vec := range raw {
		out[i] = normalize(truncate(vec, Dim))
	}
	return out, nil
}

// ensureLoaded performs the one-time lazy load under the load mutex.
func (e *Embedder) ensureLoaded(ctx context.Context) (Model, error) {
	e.loadMu.Lock()
	defer e.loadMu.Unlock()

	if e.model != nil {
		return e.model, nil
	}

	start := time.Now()
	model, err := e.loader(ctx)
	if err != nil {
		return nil, err
	}
	e.model = model

	// Record the post-load resident memory for diagnostics.
	if rss, rssErr := processRSS(); rssErr == nil {
		e.loadedRSS = rss
	}
	logger.Infow("embedding model loaded",
		"duration", time.Since(start).String(),
		"post_load_rss_bytes", e.loadedRSS,
	)
	return model, nil
}

// Loaded reports whether the model is currently resident.
func (e *Embedder) Loaded() bool {
	e.loadMu.Lock()
	defer e.loadMu.Unlock()
	return e.model != nil
}

// BreakerState returns the circuit breaker state for diagnostics.
func (e *Embedder) BreakerState() string {
	return e.breaker.State()
}

// CacheLen returns the number of cached vectors.
func (e *Embedder) CacheLen() int {
	return e.cache.len()
}

// Unload releases the model. The next encode reloads it lazily.
func (e *Embedder) Unload() {
	e.loadMu.Lock()
	defer e.loadMu.Unlock()
	if e.model == nil {
		return
	}
	if err := e.model.Close(); err != nil {
		logger.Warnw("error closing embedding model", "error", err)
	}
	e.model = nil
	logger.Info("embedding model unloaded")
}

// StartAutoUnload unloads the model after idle stretches. It runs until ctx
// is done.
func (e *Embedder) StartAutoUnload(ctx context.Context, idle time.Duration) {
	go func() {
		ticker := time.NewTicker(idle / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.activeMu.Lock()
				last := e.lastUsed
				e.activeMu.Unlock()
				if e.Loaded() && !last.IsZero() && time.Since(last) > idle {
					e.Unload()
				}
			}
		}
	}()
}

// Close unloads the model if resident.
func (e *Embedder) Close() {
	e.Unload()
}

func (e *Embedder) touch() {
	e.activeMu.Lock()
	e.lastUsed = time.Now()
	e.activeMu.Unlock()
}

func truncate(vec []float32, dim int) []float32 {
	if len(vec) <= dim {
		return vec
	}
	return vec[:dim]
}

func normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}
	norm := float32(math.Sqrt(sum))
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = v / norm
	}
	return out
}
