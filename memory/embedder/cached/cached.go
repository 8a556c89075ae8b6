// Package cached puts an in-process ristretto cache in front of an
// embedder. Repeated texts, such as a search query issued twice, skip the
// model.
package cached

import (
	"context"
	"fmt"
	"log"
	"slices"

	"github.com/dgraph-io/ristretto"
)

// Inner is the embedder being cached.
type Inner interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// Config sizes the cache.
type Config struct {
	// MaxEntries is the approximate number of embeddings kept.
	// Default: 10000
	MaxEntries int64
}

// DefaultConfig is used when New gets a nil config.
var DefaultConfig = &Config{MaxEntries: 10000}

// Embedder caches the vectors of an inner embedder by exact text.
type Embedder struct {
	inner Inner
	cache *ristretto.Cache
}

// New wraps inner. A nil config uses DefaultConfig.
func New(inner Inner, config *Config) (*Embedder, error) {
	if config == nil || config.MaxEntries <= 0 {
		config = DefaultConfig
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: config.MaxEntries * 10,
		MaxCost:     config.MaxEntries,
		BufferItems: 64,
		// Cost counts entries, not bytes
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}

	return &Embedder{inner: inner, cache: cache}, nil
}

// Embed returns the cached vector for text, embedding it on a miss.
// Errors are not cached.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := e.cache.Get(text); ok {
		return slices.Clone(v.([]float32)), nil
	}

	vec, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	if !e.cache.Set(text, slices.Clone(vec), 1) {
		log.Printf("[EMBED] Cache dropped entry for %d-byte text", len(text))
	}
	return vec, nil
}

// Dimensions returns the inner embedder's vector size.
func (e *Embedder) Dimensions() int {
	return e.inner.Dimensions()
}

// Wait blocks until pending cache writes are applied.
func (e *Embedder) Wait() {
	e.cache.Wait()
}

// Close stops the cache's background goroutines.
func (e *Embedder) Close() {
	e.cache.Close()
}
