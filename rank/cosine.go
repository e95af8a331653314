package rank

import "math"

// Cosine returns the cosine similarity of a and b.
// It returns 0 when the vectors differ in length, are empty, or either has zero
// magnitude. Non-finite components also score 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	s := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if math.IsNaN(s) || math.IsInf(s, 0) {
		return 0
	}
	return s
}
