package embedding

import (
	"math"
	"testing"
)

func TestCosineSimilarityZeroVector(t *testing.T) {
	t.Parallel()
	zero := []float32{0, 0, 0}
	v := []float32{1, 2, 3}

	if got := CosineSimilarity(zero, v); got != 0.0 {
		t.Fatalf("zero vector similarity = %f, want 0.0", got)
	}
	if got := CosineSimilarity(v, zero); got != 0.0 {
		t.Fatalf("zero vector similarity (swapped) = %f, want 0.0", got)
	}
	if got := CosineSimilarity(zero, zero); got != 0.0 {
		t.Fatalf("zero-zero similarity = %f, want 0.0", got)
	}
}

func TestCosineSimilaritySymmetric(t *testing.T) {
	t.Parallel()
	a := []float32{0.3, -1.2, 4.5}
	b := []float32{2.1, 0.4, -0.9}

	ab := CosineSimilarity(a, b)
	ba := CosineSimilarity(b, a)
	if math.Abs(ab-ba) > 1e-12 {
		t.Fatalf("similarity not symmetric: %f vs %f", ab, ba)
	}
}

func TestCosineSimilarityIdentical(t *testing.T) {
	t.Parallel()
	v := []float32{1, 2, 2}

	if got := CosineSimilarity(v, v); math.Abs(got-1.0) > 1e-6 {
		t.Fatalf("self similarity = %f, want 1.0", got)
	}
}

func TestCosineSimilarityDimensionMismatch(t *testing.T) {
	t.Parallel()
	if got := CosineSimilarity([]float32{1, 0}, []float32{1, 0, 0}); got != 0.0 {
		t.Fatalf("mismatched dimensions = %f, want 0.0", got)
	}
}

func TestCosineSimilarityOrthogonal(t *testing.T) {
	t.Parallel()
	if got := CosineSimilarity([]float32{1, 0}, []float32{0, 1}); got != 0.0 {
		t.Fatalf("orthogonal similarity = %f, want 0.0", got)
	}
}
