package memory

import (
	"context"
	"sort"
)

// Reranker re-scores (query, candidate) pairs, typically with a
// cross-encoder. It is an optional collaborator: when absent, retrieval
// keeps its initial similarity ordering.
type Reranker interface {
	// Score returns one score per text, aligned by index.
	Score(ctx context.Context, query string, texts []string) ([]float64, error)
}

// rerank reorders candidates by the reranker's scores, descending.
// A nil reranker, a scoring error, or a length mismatch leaves the
// initial order untouched.
func rerank[T any](ctx context.Context, r Reranker, query string, candidates []T, text func(T) string) []T {
	if r == nil || len(candidates) < 2 {
		return candidates
	}
	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = text(c)
	}
	scores, err := r.Score(ctx, query, texts)
	if err != nil || len(scores) != len(candidates) {
		return candidates
	}
	order := make([]int, len(candidates))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})
	out := make([]T, len(candidates))
	for i, idx := range order {
		out[i] = candidates[idx]
	}
	return out
}
