package memory

import (
	"context"
	"math"
	"strings"
	"testing"
)

// vocabEmbedder maps known words onto fixed axes so tests can control
// similarity ordering. The last axis carries a constant bias so no text
// embeds to the zero vector.
type vocabEmbedder struct{}

var vocabAxes = map[string]int{
	"cache": 0, "redis": 1, "merge": 2, "git": 3, "worker": 4, "queue": 5,
}

func (vocabEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, 8)
	for _, f := range strings.Fields(strings.ToLower(text)) {
		if ax, ok := vocabAxes[strings.Trim(f, ".,")]; ok {
			vec[ax]++
		}
	}
	vec[7] = 0.1
	return l2Normalize(vec), nil
}

func (vocabEmbedder) Dimensions() int { return 8 }

// countingEmbedder records how often the wrapped embedder is invoked.
type countingEmbedder struct {
	inner Embedder
	calls int
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls++
	return c.inner.Embed(ctx, text)
}

func (c *countingEmbedder) Dimensions() int { return c.inner.Dimensions() }

func TestHashEmbedder_Deterministic(t *testing.T) {
	h := NewHashEmbedder()
	ctx := context.Background()

	a1, err := h.Embed(ctx, "same text")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	a2, err := h.Embed(ctx, "same text")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(a1) != h.Dimensions() {
		t.Fatalf("got %d dimensions, want %d", len(a1), h.Dimensions())
	}
	for i := range a1 {
		if a1[i] != a2[i] {
			t.Fatalf("embeddings differ at %d: %v vs %v", i, a1[i], a2[i])
		}
	}

	b, err := h.Embed(ctx, "different text")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	same := true
	for i := range a1 {
		if a1[i] != b[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("different texts produced identical embeddings")
	}
}

func TestHashEmbedder_UnitNorm(t *testing.T) {
	h := NewHashEmbedder()
	vec, err := h.Embed(context.Background(), "normalize me")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var norm float64
	for _, x := range vec {
		norm += float64(x) * float64(x)
	}
	if math.Abs(norm-1.0) > 1e-5 {
		t.Errorf("squared norm = %v, want 1.0", norm)
	}
}

func TestHashEmbedder_NotSemantic(t *testing.T) {
	if isSemantic(NewHashEmbedder()) {
		t.Error("hash embedder reported as semantic")
	}
	if isSemantic(nil) {
		t.Error("nil embedder reported as semantic")
	}
	if !isSemantic(vocabEmbedder{}) {
		t.Error("plain embedder should default to semantic")
	}
}

func TestCachedEmbedder_CachesByText(t *testing.T) {
	inner := &countingEmbedder{inner: vocabEmbedder{}}
	cached, err := NewCachedEmbedder(inner, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := cached.Embed(ctx, "redis cache"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if inner.calls != 1 {
		t.Errorf("inner embedder called %d times, want 1", inner.calls)
	}

	if _, err := cached.Embed(ctx, "git merge"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inner.calls != 2 {
		t.Errorf("inner embedder called %d times, want 2", inner.calls)
	}
}

func TestCachedEmbedder_ForwardsSemantic(t *testing.T) {
	hashed, err := NewCachedEmbedder(NewHashEmbedder(), 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if isSemantic(hashed) {
		t.Error("cache over hash embedder reported as semantic")
	}

	semantic, err := NewCachedEmbedder(vocabEmbedder{}, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !isSemantic(semantic) {
		t.Error("cache over semantic embedder lost semantic flag")
	}
}
