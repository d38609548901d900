package cache

import (
	"math"

	"encore.app/embedding"
)

// cosineSimilarity computes dot(a,b) / (||a|| * ||b||), clamped to
// [-1, 1] per spec.md §4.5. Vectors of mismatched length are the caller's
// responsibility to filter out before calling this (find_semantic_match
// skips them rather than treating them as zero-similarity).
func cosineSimilarity(a, b embedding.Vector) float64 {
	var dot, normA, normB float64
	for i := range a {
		ai, bi := float64(a[i]), float64(b[i])
		dot += ai * bi
		normA += ai * ai
		normB += bi * bi
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if sim > 1 {
		return 1
	}
	if sim < -1 {
		return -1
	}
	return sim
}
