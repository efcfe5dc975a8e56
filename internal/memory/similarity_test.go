package memory

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a    []float32
		b    []float32
		want float64
	}{
		{"identical", []float32{1, 0, 0}, []float32{1, 0, 0}, 1.0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0.5},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, 0.0},
		{"mismatched lengths", []float32{1, 0}, []float32{1, 0, 0}, 0.0},
		{"empty", nil, nil, 0.0},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if !almostEqual(got, tt.want) {
				t.Errorf("CosineSimilarity() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCosineSimilarity_ScaleInvariant(t *testing.T) {
	a := []float32{3, 4}
	b := []float32{0.3, 0.4}
	if got := CosineSimilarity(a, b); !almostEqual(got, 1.0) {
		t.Errorf("CosineSimilarity() = %v, want 1.0", got)
	}
}

func TestJaccardSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a    string
		b    string
		want float64
	}{
		{"identical", "alpha beta", "alpha beta", 1.0},
		{"disjoint", "alpha beta", "gamma delta", 0.0},
		{"partial overlap", "alpha beta", "beta gamma", 1.0 / 3.0},
		{"case insensitive", "Alpha", "alpha", 1.0},
		{"duplicate terms collapse", "alpha alpha beta", "alpha beta", 1.0},
		{"empty query", "", "alpha", 0.0},
		{"both empty", "", "", 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := JaccardSimilarity(tt.a, tt.b)
			if !almostEqual(got, tt.want) {
				t.Errorf("JaccardSimilarity() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTermOverlap(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		candidate string
		want      float64
	}{
		{"fully contained", "retry backoff", "wrap calls with retry and exponential backoff", 1.0},
		{"half contained", "retry database", "wrap calls with retry", 0.5},
		{"no penalty for long candidates", "cache", "a very long text mentioning cache among many many other words", 1.0},
		{"empty query", "", "anything", 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := termOverlap(tt.query, tt.candidate)
			if !almostEqual(got, tt.want) {
				t.Errorf("termOverlap() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestL2Normalize(t *testing.T) {
	v := l2Normalize([]float32{3, 4})
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if math.Abs(norm-1.0) > 1e-6 {
		t.Errorf("norm after normalize = %v, want 1.0", norm)
	}
	if math.Abs(float64(v[0])-0.6) > 1e-6 || math.Abs(float64(v[1])-0.8) > 1e-6 {
		t.Errorf("normalized vector = %v, want [0.6 0.8]", v)
	}

	zero := l2Normalize([]float32{0, 0})
	if zero[0] != 0 || zero[1] != 0 {
		t.Errorf("zero vector changed: %v", zero)
	}
}
