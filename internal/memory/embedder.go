package memory

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultEmbedderCacheSize bounds the embedding LRU cache.
const DefaultEmbedderCacheSize = 10000

// hashDimensions is the vector width of the hash fallback embedder.
const hashDimensions = 64

// Embedder generates L2-normalized text embeddings. It is an external
// collaborator: the memory layer never assumes a particular provider.
type Embedder interface {
	// Embed generates the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)
	// Dimensions returns the embedding width.
	Dimensions() int
}

// isSemantic reports whether an embedder's vectors carry meaning.
// Embedders may opt out by implementing Semantic() bool; the hash
// fallback does, since its vectors only identify content.
func isSemantic(e Embedder) bool {
	if e == nil {
		return false
	}
	if r, ok := e.(interface{ Semantic() bool }); ok {
		return r.Semantic()
	}
	return true
}

// HashEmbedder derives a deterministic pseudo-vector from a SHA-256
// digest of the text. It stands in when no embedding collaborator is
// configured: the vectors are stable identifiers for deduplication,
// but cosine distance between them is meaningless, so retrieval falls
// back to term matching.
type HashEmbedder struct{}

// NewHashEmbedder creates the fallback embedder.
func NewHashEmbedder() *HashEmbedder {
	return &HashEmbedder{}
}

// Embed expands the text's SHA-256 digest into a unit vector.
func (h *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, hashDimensions)
	var counter uint32
	i := 0
	for i < hashDimensions {
		var block [4]byte
		binary.BigEndian.PutUint32(block[:], counter)
		sum := sha256.Sum256(append([]byte(text), block[:]...))
		for j := 0; j+4 <= len(sum) && i < hashDimensions; j += 4 {
			bits := binary.BigEndian.Uint32(sum[j : j+4])
			// Map each 32-bit word into [-1,1).
			vec[i] = float32(int32(bits)) / float32(1<<31)
			i++
		}
		counter++
	}
	return l2Normalize(vec), nil
}

// Dimensions returns the fallback vector width.
func (h *HashEmbedder) Dimensions() int { return hashDimensions }

// Semantic reports that hash vectors carry no meaning.
func (h *HashEmbedder) Semantic() bool { return false }

// CachedEmbedder wraps another embedder with an LRU cache keyed by the
// exact input text.
type CachedEmbedder struct {
	inner Embedder
	cache *lru.Cache[string, []float32]
}

// NewCachedEmbedder wraps inner with a cache of the given size. A size
// of zero or less uses DefaultEmbedderCacheSize.
func NewCachedEmbedder(inner Embedder, size int) (*CachedEmbedder, error) {
	if size <= 0 {
		size = DefaultEmbedderCacheSize
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &CachedEmbedder{inner: inner, cache: cache}, nil
}

// Embed returns the cached vector when present, otherwise delegates to
// the wrapped embedder and caches the result.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if cached, ok := c.cache.Get(text); ok {
		return cached, nil
	}
	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(text, vec)
	return vec, nil
}

// Dimensions returns the wrapped embedder's vector width.
func (c *CachedEmbedder) Dimensions() int { return c.inner.Dimensions() }

// Semantic reports whether the wrapped embedder's vectors carry meaning.
func (c *CachedEmbedder) Semantic() bool { return isSemantic(c.inner) }
