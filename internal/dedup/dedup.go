// Package dedup finds near-duplicate knowledge by embedding similarity and
// picks one survivor per duplicate cluster.
package dedup

import "math"

// DefaultThreshold is the cosine similarity above which two items are
// considered duplicates.
const DefaultThreshold = 0.85

// Pair is two records whose similarity exceeds a threshold.
type Pair[K comparable] struct {
	A          K
	B          K
	Similarity float64
}

// Cosine returns the cosine similarity of a and b, or 0 when either is
// empty, zero, or the dimensions differ.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// FindPairs compares every pair of vectors and returns index pairs whose
// similarity is strictly above threshold. Nil vectors never pair.
func FindPairs(vectors [][]float32, threshold float64) []Pair[int] {
	var pairs []Pair[int]
	for i := 0; i < len(vectors); i++ {
		if vectors[i] == nil {
			continue
		}
		for j := i + 1; j < len(vectors); j++ {
			if vectors[j] == nil {
				continue
			}
			if sim := Cosine(vectors[i], vectors[j]); sim > threshold {
				pairs = append(pairs, Pair[int]{A: i, B: j, Similarity: sim})
			}
		}
	}
	return pairs
}

// ClusterPairs groups pairs into connected components using union-find.
// Only components with at least two members are returned.
func ClusterPairs[K comparable](pairs []Pair[K]) [][]K {
	if len(pairs) == 0 {
		return nil
	}

	parent := make(map[K]K)
	var order []K
	for _, p := range pairs {
		for _, id := range []K{p.A, p.B} {
			if _, ok := parent[id]; !ok {
				parent[id] = id
				order = append(order, id)
			}
		}
	}

	var find func(K) K
	find = func(id K) K {
		if parent[id] != id {
			parent[id] = find(parent[id]) // path compression
		}
		return parent[id]
	}

	for _, p := range pairs {
		ra, rb := find(p.A), find(p.B)
		if ra != rb {
			parent[rb] = ra
		}
	}

	// Walk in first-seen order so output is deterministic.
	groups := make(map[K][]K)
	var roots []K
	for _, id := range order {
		root := find(id)
		if _, ok := groups[root]; !ok {
			roots = append(roots, root)
		}
		groups[root] = append(groups[root], id)
	}

	var clusters [][]K
	for _, root := range roots {
		if len(groups[root]) > 1 {
			clusters = append(clusters, groups[root])
		}
	}
	return clusters
}
