package hierarchy

import (
	"math"
	"sort"

	"github.com/tesselab/ariadne/internal/util"
)

// point is one clustering input: a node id and its embedding.
type point struct {
	id  string
	vec []float32
}

// cluster is one k-means output cell with its quality metrics.
type cluster struct {
	memberIDs  []string
	centroid   []float32
	coherence  float64
	silhouette float64
}

const maxKMeansIterations = 25

// clusterPoints partitions points into at most k clusters with k-means over
// cosine distance. Seeding and iteration order are fixed by sorting the input
// by id, so repeated runs over the same data produce the same partition.
// Empty clusters are dropped from the result.
func clusterPoints(points []point, k int) []cluster {
	if len(points) == 0 || k <= 0 {
		return nil
	}
	sorted := make([]point, len(points))
	copy(sorted, points)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].id < sorted[j].id })

	if k > len(sorted) {
		k = len(sorted)
	}

	// Evenly spaced seeds over the sorted input instead of random ones.
	centroids := make([][]float32, k)
	for i := range k {
		centroids[i] = sorted[i*len(sorted)/k].vec
	}

	assignment := make([]int, len(sorted))
	for range maxKMeansIterations {
		changed := false
		for i, p := range sorted {
			best := nearestCentroid(p.vec, centroids)
			if best != assignment[i] {
				assignment[i] = best
				changed = true
			}
		}
		if !changed {
			break
		}
		for c := range k {
			var members [][]float32
			for i, p := range sorted {
				if assignment[i] == c {
					members = append(members, p.vec)
				}
			}
			if mean := util.MeanVector(members); mean != nil {
				centroids[c] = mean
			}
		}
	}

	clusters := make([]cluster, 0, k)
	for c := range k {
		var memberIDs []string
		var members [][]float32
		for i, p := range sorted {
			if assignment[i] == c {
				memberIDs = append(memberIDs, p.id)
				members = append(members, p.vec)
			}
		}
		if len(memberIDs) == 0 {
			continue
		}
		clusters = append(clusters, cluster{
			memberIDs: memberIDs,
			centroid:  util.MeanVector(members),
			coherence: coherenceOf(members),
		})
	}

	attachSilhouettes(clusters, sorted)
	return clusters
}

func nearestCentroid(vec []float32, centroids [][]float32) int {
	best, bestDist := 0, math.Inf(1)
	for c, centroid := range centroids {
		if d := util.CosineDistance(vec, centroid); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

// coherenceOf is 1 minus the mean pairwise cosine distance of the members.
// A single member carries no evidence of internal agreement, so it scores 0.
func coherenceOf(members [][]float32) float64 {
	if len(members) < 2 {
		return 0
	}
	var sum float64
	pairs := 0
	for i := range members {
		for j := i + 1; j < len(members); j++ {
			sum += util.CosineDistance(members[i], members[j])
			pairs++
		}
	}
	return 1 - sum/float64(pairs)
}

// attachSilhouettes computes the mean silhouette coefficient per cluster.
// For each point, a is its mean distance within its own cluster and b the
// smallest mean distance to any other cluster.
func attachSilhouettes(clusters []cluster, points []point) {
	if len(clusters) < 2 {
		return
	}

	// assignment indexes the original k cells, some of which were dropped
	// when empty; remap to positions in clusters.
	cellOf := make(map[string]int, len(points))
	for ci, c := range clusters {
		for _, id := range c.memberIDs {
			cellOf[id] = ci
		}
	}

	sums := make([]float64, len(clusters))
	counts := make([]int, len(clusters))
	for i, p := range points {
		own := cellOf[p.id]
		if len(clusters[own].memberIDs) < 2 {
			continue
		}

		var a float64
		bs := make([]float64, len(clusters))
		bn := make([]int, len(clusters))
		for j, q := range points {
			if i == j {
				continue
			}
			d := util.CosineDistance(p.vec, q.vec)
			other := cellOf[q.id]
			if other == own {
				a += d
			} else {
				bs[other] += d
				bn[other]++
			}
		}
		a /= float64(len(clusters[own].memberIDs) - 1)

		b := math.Inf(1)
		for c := range clusters {
			if c == own || bn[c] == 0 {
				continue
			}
			if mean := bs[c] / float64(bn[c]); mean < b {
				b = mean
			}
		}
		if math.IsInf(b, 1) {
			continue
		}
		if m := math.Max(a, b); m > 0 {
			sums[own] += (b - a) / m
			counts[own]++
		}
	}

	for ci := range clusters {
		if counts[ci] > 0 {
			clusters[ci].silhouette = sums[ci] / float64(counts[ci])
		}
	}
}
