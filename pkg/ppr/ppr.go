// Package ppr ranks knowledge-graph entities by personalized PageRank,
// biased toward seed entities resolved from the query.
package ppr

import (
	"sort"

	"github.com/tesselab/ariadne/pkg/common"
)

// Options tunes the power iteration. Zero values fall back to the defaults.
type Options struct {
	Damping       float64
	Epsilon       float64
	MaxIterations int
}

const (
	defaultDamping       = 0.85
	defaultEpsilon       = 1e-6
	defaultMaxIterations = 50
)

func (o Options) withDefaults() Options {
	if o.Damping <= 0 || o.Damping >= 1 {
		o.Damping = defaultDamping
	}
	if o.Epsilon <= 0 {
		o.Epsilon = defaultEpsilon
	}
	if o.MaxIterations <= 0 {
		o.MaxIterations = defaultMaxIterations
	}
	return o
}

// Score is one ranked entity.
type Score struct {
	EntityID string
	Score    float64
}

// Rank runs personalized PageRank over the undirected entity graph with a
// uniform restart distribution over the seeds. Nodes are processed in sorted
// id order, so equal inputs produce equal rankings.
//
// When the iteration budget runs out before the L1 residual drops below
// epsilon, the best ranking so far is returned together with
// common.ErrConvergenceFailure; callers treat it as a low-confidence result,
// not a failure.
func Rank(nodeIDs []string, edges []common.Relationship, seedIDs []string, opts Options) ([]Score, error) {
	opts = opts.withDefaults()

	ids := make([]string, len(nodeIDs))
	copy(ids, nodeIDs)
	sort.Strings(ids)
	index := make(map[string]int, len(ids))
	for i, id := range ids {
		index[id] = i
	}
	n := len(ids)
	if n == 0 {
		return nil, nil
	}

	restart := make([]float64, n)
	seedCount := 0
	for _, id := range seedIDs {
		if i, ok := index[id]; ok {
			restart[i]++
			seedCount++
		}
	}
	if seedCount == 0 {
		return nil, nil
	}
	for i := range restart {
		restart[i] /= float64(seedCount)
	}

	// Undirected adjacency with summed weights.
	adjacency := make([]map[int]float64, n)
	outWeight := make([]float64, n)
	for _, e := range edges {
		src, okSrc := index[e.SourceID]
		dst, okDst := index[e.TargetID]
		if !okSrc || !okDst || src == dst {
			continue
		}
		w := e.Weight
		if w <= 0 {
			w = 1
		}
		if adjacency[src] == nil {
			adjacency[src] = make(map[int]float64)
		}
		if adjacency[dst] == nil {
			adjacency[dst] = make(map[int]float64)
		}
		adjacency[src][dst] += w
		adjacency[dst][src] += w
		outWeight[src] += w
		outWeight[dst] += w
	}

	rank := make([]float64, n)
	copy(rank, restart)
	next := make([]float64, n)

	converged := false
	for range opts.MaxIterations {
		dangling := 0.0
		for i := range next {
			next[i] = 0
		}
		for i := range n {
			if outWeight[i] == 0 {
				dangling += rank[i]
				continue
			}
			share := rank[i] / outWeight[i]
			for j, w := range adjacency[i] {
				next[j] += share * w
			}
		}

		var residual float64
		for i := range n {
			// Dangling mass restarts at the seeds like a teleport.
			value := (1-opts.Damping)*restart[i] + opts.Damping*(next[i]+dangling*restart[i])
			residual += abs(value - rank[i])
			next[i] = value
		}
		rank, next = next, rank

		if residual < opts.Epsilon {
			converged = true
			break
		}
	}

	scores := make([]Score, n)
	for i, id := range ids {
		scores[i] = Score{EntityID: id, Score: rank[i]}
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		return scores[i].EntityID < scores[j].EntityID
	})

	if !converged {
		return scores, common.ErrConvergenceFailure
	}
	return scores, nil
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
