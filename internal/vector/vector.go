// Package vector holds the small amount of linear algebra the selector needs.
// Inputs are float32 embeddings; accumulation happens in float64.
package vector

import (
	"errors"
	"fmt"
	"math"
)

// ErrDimensionMismatch is returned when two embeddings that must be compared
// have different lengths. It signals a programming error (mixed model
// versions), not a recoverable runtime state.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Cosine returns the cosine similarity of a and b. A zero vector is never
// similar to anything, so its similarity is 0.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

// Euclidean returns the L2 distance between a float32 vector and a float64 point.
func Euclidean(a []float32, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}

	var sum float64
	for i := range a {
		d := float64(a[i]) - b[i]
		sum += d * d
	}
	return math.Sqrt(sum), nil
}

// Centroid returns the element-wise arithmetic mean of vs.
// All vectors must share the same length.
func Centroid(vs [][]float32) ([]float64, error) {
	if len(vs) == 0 {
		return nil, nil
	}

	dim := len(vs[0])
	mean := make([]float64, dim)
	for i, v := range vs {
		if len(v) != dim {
			return nil, fmt.Errorf("%w: vector %d has %d dimensions, want %d", ErrDimensionMismatch, i, len(v), dim)
		}
		for j, x := range v {
			mean[j] += float64(x)
		}
	}

	n := float64(len(vs))
	for j := range mean {
		mean[j] /= n
	}
	return mean, nil
}
