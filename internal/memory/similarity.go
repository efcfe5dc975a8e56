package memory

import (
	"math"
	"strings"
)

// CosineSimilarity returns the cosine of the angle between two vectors,
// mapped into [0,1]. Mismatched or empty vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	cos := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	// Clamp rounding drift, then shift from [-1,1] into [0,1] so scores
	// compose with relevance weights.
	if cos > 1 {
		cos = 1
	}
	if cos < -1 {
		cos = -1
	}
	return (cos + 1) / 2
}

// JaccardSimilarity returns |A ∩ B| / |A ∪ B| over the whitespace-split
// lowercase terms of two texts. Two empty texts score 0.
func JaccardSimilarity(a, b string) float64 {
	setA := termSet(a)
	setB := termSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	inter := 0
	for term := range setA {
		if _, ok := setB[term]; ok {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// termOverlap returns the fraction of query terms that appear in the
// candidate text. Unlike Jaccard it does not penalize long candidates,
// which suits matching a short task description against a verbose
// pattern body.
func termOverlap(query, candidate string) float64 {
	queryTerms := termSet(query)
	if len(queryTerms) == 0 {
		return 0
	}
	candidateTerms := termSet(candidate)
	hits := 0
	for term := range queryTerms {
		if _, ok := candidateTerms[term]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(queryTerms))
}

// termSet splits text on whitespace into a set of lowercase terms.
func termSet(text string) map[string]struct{} {
	fields := strings.Fields(strings.ToLower(text))
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// l2Normalize scales the vector to unit length in place and returns it.
// The zero vector is returned unchanged.
func l2Normalize(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return v
	}
	inv := 1 / math.Sqrt(norm)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
	return v
}
