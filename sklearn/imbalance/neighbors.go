package imbalance

import (
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/churnscope/core/parallel"
)

// neighbourThreshold is the query count below which the search stays sequential.
const neighbourThreshold = 64

type neighbour struct {
	d   float64
	idx int
}

// kNearest returns, for every row index in queries, the k nearest rows of X
// among candidates by squared Euclidean distance. A query never matches
// itself. Equal distances resolve to the lower row index.
func kNearest(X *mat.Dense, queries, candidates []int, k int) [][]int {
	out := make([][]int, len(queries))
	parallel.ParallelizeWithThreshold(len(queries), neighbourThreshold, func(start, end int) {
		nbrs := make([]neighbour, 0, k+1)
		for q := start; q < end; q++ {
			qi := queries[q]
			xi := X.RawRowView(qi)
			nbrs = nbrs[:0]
			for _, cj := range candidates {
				if cj == qi {
					continue
				}
				n := neighbour{d: squaredDistance(xi, X.RawRowView(cj)), idx: cj}
				if len(nbrs) == k && !closer(n, nbrs[k-1]) {
					continue
				}
				if len(nbrs) < k {
					nbrs = append(nbrs, n)
				} else {
					nbrs[k-1] = n
				}
				sort.Slice(nbrs, func(a, b int) bool { return closer(nbrs[a], nbrs[b]) })
			}
			ids := make([]int, len(nbrs))
			for i, n := range nbrs {
				ids[i] = n.idx
			}
			out[q] = ids
		}
	})
	return out
}

func closer(a, b neighbour) bool {
	if a.d != b.d {
		return a.d < b.d
	}
	return a.idx < b.idx
}

func squaredDistance(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
