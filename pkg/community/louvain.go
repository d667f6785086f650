package community

import (
	"sort"

	"github.com/tesselab/ariadne/pkg/common"
)

// louvain implements modularity-based community detection over the undirected
// entity graph. Each aggregation pass yields one level of the partition:
// level 0 is the finest, later levels merge level-0 communities. Within every
// level the communities partition the full entity set, including entities
// with no edges, which end up in singleton communities.

type weightedGraph struct {
	n       int
	weights []map[int]float64 // adjacency, undirected, no self loops
	loops   []float64         // self-loop weight per node (from aggregation)
	degree  []float64         // weighted degree including self loops
	total   float64           // sum of all edge weights (m)
}

func buildEntityGraph(entities []common.Entity, relationships []common.Relationship) (*weightedGraph, []string) {
	ids := make([]string, 0, len(entities))
	for _, e := range entities {
		ids = append(ids, e.ID)
	}
	sort.Strings(ids)

	index := make(map[string]int, len(ids))
	for i, id := range ids {
		index[id] = i
	}

	g := newWeightedGraph(len(ids))
	for _, r := range relationships {
		src, okSrc := index[r.SourceID]
		dst, okDst := index[r.TargetID]
		if !okSrc || !okDst || src == dst {
			continue
		}
		w := r.Weight
		if w <= 0 {
			w = 1
		}
		g.addEdge(src, dst, w)
	}
	g.finalize()
	return g, ids
}

func newWeightedGraph(n int) *weightedGraph {
	g := &weightedGraph{
		n:       n,
		weights: make([]map[int]float64, n),
		loops:   make([]float64, n),
		degree:  make([]float64, n),
	}
	for i := range g.weights {
		g.weights[i] = make(map[int]float64)
	}
	return g
}

func (g *weightedGraph) addEdge(a, b int, w float64) {
	g.weights[a][b] += w
	g.weights[b][a] += w
}

// finalize recomputes degrees and the total edge weight. Self loops count
// twice toward a node's degree and once toward the total.
func (g *weightedGraph) finalize() {
	g.total = 0
	for i := range g.n {
		d := 2 * g.loops[i]
		for _, w := range g.weights[i] {
			d += w
		}
		g.degree[i] = d
		g.total += g.loops[i]
		for j, w := range g.weights[i] {
			if j > i {
				g.total += w
			}
		}
	}
}

// partitionLevels returns one assignment per level: levels[l][i] is the
// community index of original node i at level l. Node order is fixed, so the
// result is deterministic for a given graph.
func partitionLevels(g *weightedGraph, maxLevels int) [][]int {
	if g.n == 0 {
		return nil
	}
	if maxLevels <= 0 {
		maxLevels = 4
	}

	// projection[i] is the current-graph node holding original node i.
	projection := make([]int, g.n)
	for i := range projection {
		projection[i] = i
	}

	var levels [][]int
	current := g
	for range maxLevels {
		assignment, moved := moveNodes(current)
		assignment = compactAssignment(assignment)

		level := make([]int, g.n)
		for i, node := range projection {
			level[i] = assignment[node]
		}

		communityCount := 0
		for _, c := range assignment {
			if c+1 > communityCount {
				communityCount = c + 1
			}
		}

		if !moved && len(levels) > 0 {
			break
		}
		levels = append(levels, level)

		if communityCount == current.n || communityCount <= 1 {
			break
		}

		current = aggregate(current, assignment, communityCount)
		for i := range projection {
			projection[i] = level[i]
		}
	}

	return levels
}

// moveNodes is one Louvain local-moving phase. Nodes are visited in index
// order until a full sweep makes no move.
func moveNodes(g *weightedGraph) ([]int, bool) {
	assignment := make([]int, g.n)
	communityDegree := make([]float64, g.n)
	for i := range g.n {
		assignment[i] = i
		communityDegree[i] = g.degree[i]
	}
	if g.total == 0 {
		return assignment, false
	}

	m2 := 2 * g.total
	movedAny := false
	for {
		movedInSweep := false
		for node := range g.n {
			home := assignment[node]
			communityDegree[home] -= g.degree[node]

			// Weight from node into each neighboring community.
			linkTo := map[int]float64{home: 0}
			neighbors := make([]int, 0, len(g.weights[node]))
			for nb := range g.weights[node] {
				neighbors = append(neighbors, nb)
			}
			sort.Ints(neighbors)
			for _, nb := range neighbors {
				linkTo[assignment[nb]] += g.weights[node][nb]
			}

			best, bestGain := home, 0.0
			candidates := make([]int, 0, len(linkTo))
			for c := range linkTo {
				candidates = append(candidates, c)
			}
			sort.Ints(candidates)
			for _, c := range candidates {
				gain := linkTo[c] - communityDegree[c]*g.degree[node]/m2
				if gain > bestGain+1e-12 {
					best, bestGain = c, gain
				}
			}

			assignment[node] = best
			communityDegree[best] += g.degree[node]
			if best != home {
				movedInSweep = true
				movedAny = true
			}
		}
		if !movedInSweep {
			break
		}
	}
	return assignment, movedAny
}

// compactAssignment renumbers community ids to 0..k-1 in order of first
// appearance.
func compactAssignment(assignment []int) []int {
	next := 0
	seen := make(map[int]int)
	out := make([]int, len(assignment))
	for i, c := range assignment {
		id, ok := seen[c]
		if !ok {
			id = next
			seen[c] = id
			next++
		}
		out[i] = id
	}
	return out
}

// aggregate collapses each community into one node, summing edge weights and
// folding intra-community weight into self loops.
func aggregate(g *weightedGraph, assignment []int, communityCount int) *weightedGraph {
	agg := newWeightedGraph(communityCount)
	for i := range g.n {
		ci := assignment[i]
		agg.loops[ci] += g.loops[i]
		for j, w := range g.weights[i] {
			if j < i {
				continue
			}
			cj := assignment[j]
			if ci == cj {
				agg.loops[ci] += w
			} else {
				agg.addEdge(ci, cj, w)
			}
		}
	}
	agg.finalize()
	return agg
}
