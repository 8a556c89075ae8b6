// Package vector holds the small amount of float32 arithmetic shared by the
// index and embedder implementations.
package vector

import "math"

// Epsilon keeps cosine similarity finite when one of the vectors is zero.
const Epsilon = 1e-8

// Dot returns the dot product of a and b. Both must have the same length.
func Dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// Norm returns the Euclidean length of v.
func Norm(v []float32) float64 {
	return math.Sqrt(Dot(v, v))
}

// Cosine returns dot(a,b) / (|a|*|b| + Epsilon).
func Cosine(a, b []float32) float64 {
	return Dot(a, b) / (Norm(a)*Norm(b) + Epsilon)
}

// SquaredL2 returns the squared Euclidean distance between a and b.
func SquaredL2(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}

// Normalize returns v scaled to unit length. A zero vector is returned as is.
func Normalize(v []float32) []float32 {
	norm := Norm(v)
	if norm == 0 {
		return v
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
