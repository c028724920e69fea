// Package embedding provides an LRU cache decorator for providers that
// support the embeddings operation.
package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"llm-relay/domain/llm"
)

const defaultCacheSize = 1024

// CachedProvider serves repeated embedding requests from an in-process LRU
// instead of the vendor. Keys include the provider id, so two providers
// embedding the same text never share entries.
type CachedProvider struct {
	llm.Provider
	cache  *lru.Cache[string, []float32]
	hits   atomic.Int64
	misses atomic.Int64
}

// WithCache decorates p's embeddings path with an LRU of the given size.
// Providers without embedding support are returned unwrapped.
func WithCache(p llm.Provider, size int) (llm.Provider, error) {
	if !p.SupportsEmbeddings() {
		return p, nil
	}
	if size <= 0 {
		size = defaultCacheSize
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"provider":   p.ID(),
		"cache_size": size,
	}).Debug("Embedding cache enabled")

	return &CachedProvider{Provider: p, cache: cache}, nil
}

func (c *CachedProvider) Embeddings(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(c.Provider.ID(), text)
	if vec, ok := c.cache.Get(key); ok {
		c.hits.Add(1)
		// Hand out a copy so callers can never mutate the cached slice.
		out := make([]float32, len(vec))
		copy(out, vec)
		return out, nil
	}

	vec, err := c.Provider.Embeddings(ctx, text)
	if err != nil {
		return nil, err
	}

	stored := make([]float32, len(vec))
	copy(stored, vec)
	c.cache.Add(key, stored)
	c.misses.Add(1)
	return vec, nil
}

// Stats reports cache hits and misses since startup.
func (c *CachedProvider) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Len reports the number of cached vectors.
func (c *CachedProvider) Len() int {
	return c.cache.Len()
}

func cacheKey(providerID, text string) string {
	hash := sha256.Sum256([]byte(providerID + "\x00" + text))
	return hex.EncodeToString(hash[:16])
}
