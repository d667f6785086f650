package util

import "math"

// CosineSimilarity returns the cosine similarity of two vectors, 0 when
// either has no magnitude or the dimensions differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
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
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// CosineDistance is 1 minus cosine similarity.
func CosineDistance(a, b []float32) float64 {
	return 1 - CosineSimilarity(a, b)
}

// MeanVector returns the elementwise mean of the vectors. Vectors whose
// dimension differs from the first are skipped.
func MeanVector(vectors [][]float32) []float32 {
	if len(vectors) == 0 {
		return nil
	}
	dim := len(vectors[0])
	if dim == 0 {
		return nil
	}
	sum := make([]float64, dim)
	count := 0
	for _, v := range vectors {
		if len(v) != dim {
			continue
		}
		for i := range v {
			sum[i] += float64(v[i])
		}
		count++
	}
	if count == 0 {
		return nil
	}
	mean := make([]float32, dim)
	for i := range sum {
		mean[i] = float32(sum[i] / float64(count))
	}
	return mean
}
