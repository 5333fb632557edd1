package vectorstore

import "math"

// Normalize returns v scaled to unit length, so a dot product of two
// normalized vectors is their cosine similarity. A zero vector stays zero.
func Normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return out
	}
	inv := 1 / math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out
}
