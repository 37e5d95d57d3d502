package embedding

import (
	"crypto/sha256"
	"encoding/hex"
	"slices"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the default vector cache capacity.
const DefaultCacheSize = 1000

// vectorCache is an LRU of computed vectors keyed by SHA-256 of the input
// text. Hits bypass both the model and the circuit breaker.
type vectorCache struct {
	cache *lru.Cache[string, []float32]
}

func newVectorCache(size int) (*vectorCache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, err
	}
	return &vectorCache{cache: c}, nil
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func (c *vectorCache) get(text string) ([]float32, bool) {
	vec, ok := c.cache.Get(cacheKey(text))
	if !ok {
		return nil, false
	}
	// Copy so callers cannot mutate the cached vector.
	return slices.Clone(vec), true
}

func (c *vectorCache) put(text string, vec []float32) {
	c.cache.Add(cacheKey(text), slices.Clone(vec))
}

func (c *vectorCache) len() int {
	return c.cache.Len()
}
