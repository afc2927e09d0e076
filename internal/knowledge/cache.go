package knowledge

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// CachingEmbedder memoizes embeddings by exact text. Embedding is one of the
// two declared latency points of the pipeline and query text repeats often
// enough that a small cache pays for itself.
type CachingEmbedder struct {
	inner Embedder
	cache *ristretto.Cache
}

func NewCachingEmbedder(inner Embedder, maxEntries int64) (*CachingEmbedder, error) {
	if maxEntries <= 0 {
		maxEntries = 4096
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("init embedding cache: %w", err)
	}
	return &CachingEmbedder{inner: inner, cache: cache}, nil
}

func (e *CachingEmbedder) Dimensions() int { return e.inner.Dimensions() }

func (e *CachingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := e.cache.Get(text); ok {
		if vec, ok := v.([]float32); ok {
			return vec, nil
		}
	}
	vec, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	e.cache.Set(text, vec, 1)
	return vec, nil
}

func (e *CachingEmbedder) Close() {
	e.cache.Close()
}
