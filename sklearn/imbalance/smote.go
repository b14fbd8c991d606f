// Package imbalance rebalances binary and multiclass training sets.
//
// SMOTE は少数クラスの近傍間を線形補間して合成サンプルを追加し、
// EditedNearestNeighbours は近傍と多数決が一致しないサンプルを取り除きます。
// SMOTEENN はその二つを順に適用します。
package imbalance

import (
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/churnscope/pkg/errors"
	"github.com/YuminosukeSato/churnscope/pkg/log"
)

// Resampler returns a new (X, y) pair; the inputs are not modified.
type Resampler interface {
	FitResample(X, y mat.Matrix) (*mat.Dense, *mat.Dense, error)
}

// SMOTE oversamples every class up to the size of the largest class.
type SMOTE struct {
	KNeighbors  int
	RandomState uint64
}

// NewSMOTE returns SMOTE with k=5.
func NewSMOTE(seed uint64) *SMOTE {
	return &SMOTE{KNeighbors: 5, RandomState: seed}
}

// classRows groups row indices by label, labels sorted ascending.
func classRows(y mat.Matrix) ([]float64, map[float64][]int) {
	n, _ := y.Dims()
	groups := map[float64][]int{}
	for i := 0; i < n; i++ {
		v := y.At(i, 0)
		groups[v] = append(groups[v], i)
	}
	labels := make([]float64, 0, len(groups))
	for v := range groups {
		labels = append(labels, v)
	}
	sort.Float64s(labels)
	return labels, groups
}

func checkXY(op string, X, y mat.Matrix) error {
	n, p := X.Dims()
	yr, yc := y.Dims()
	if n != yr {
		return errors.NewRowCountMismatchError(op, n, yr)
	}
	if yc != 1 {
		return errors.NewDimensionError(op, 1, yc, 1)
	}
	if n == 0 || p == 0 {
		return errors.NewModelError(op, "empty data", errors.ErrEmptyData)
	}
	return errors.CheckMatrix(op, X, n, p)
}

// FitResample returns the original rows followed by the synthetic ones.
func (s *SMOTE) FitResample(X, y mat.Matrix) (*mat.Dense, *mat.Dense, error) {
	if err := checkXY("SMOTE.FitResample", X, y); err != nil {
		return nil, nil, err
	}
	if s.KNeighbors < 1 {
		return nil, nil, errors.NewValidationError("k_neighbors", "must be at least 1", s.KNeighbors)
	}
	n, p := X.Dims()
	labels, groups := classRows(y)
	if len(labels) < 2 {
		return nil, nil, errors.NewModelError("SMOTE.FitResample", "single class", errors.ErrSingleClass)
	}
	majority := 0
	for _, v := range labels {
		majority = max(majority, len(groups[v]))
	}

	Xd := mat.DenseCopyOf(X)
	rng := rand.New(rand.NewPCG(s.RandomState, 0x5bd1e995))
	var synthX []float64
	var synthY []float64
	for _, label := range labels {
		rows := groups[label]
		need := majority - len(rows)
		if need == 0 {
			continue
		}
		if len(rows) <= s.KNeighbors {
			return nil, nil, errors.NewValidationError("k_neighbors",
				"must be smaller than the number of samples in every class to oversample", s.KNeighbors)
		}
		nn := kNearest(Xd, rows, rows, s.KNeighbors)
		for m := 0; m < need; m++ {
			q := rng.IntN(len(rows))
			base := Xd.RawRowView(rows[q])
			other := Xd.RawRowView(nn[q][rng.IntN(len(nn[q]))])
			gap := rng.Float64()
			for j := 0; j < p; j++ {
				synthX = append(synthX, base[j]+gap*(other[j]-base[j]))
			}
			synthY = append(synthY, label)
		}
	}

	total := n + len(synthY)
	outX := mat.NewDense(total, p, nil)
	outY := mat.NewDense(total, 1, nil)
	outX.Slice(0, n, 0, p).(*mat.Dense).Copy(Xd)
	for i := 0; i < n; i++ {
		outY.Set(i, 0, y.At(i, 0))
	}
	for m, label := range synthY {
		outX.SetRow(n+m, synthX[m*p:(m+1)*p])
		outY.Set(n+m, 0, label)
	}

	log.GetLoggerWithName("imbalance").Debug("SMOTE resampled",
		log.SamplesKey, total,
		"synthetic", len(synthY),
	)
	return outX, outY, nil
}

// EditedNearestNeighbours removes samples that disagree with their neighbours.
// With Kind "all" a sample is kept only if all K neighbours share its class;
// with "mode" it is kept if the most common neighbour class is its own.
type EditedNearestNeighbours struct {
	KNeighbors int
	Kind       string
}

// NewEditedNearestNeighbours returns ENN with k=3 and kind "all".
func NewEditedNearestNeighbours() *EditedNearestNeighbours {
	return &EditedNearestNeighbours{KNeighbors: 3, Kind: "all"}
}

// FitResample returns the kept rows in their original order.
func (e *EditedNearestNeighbours) FitResample(X, y mat.Matrix) (*mat.Dense, *mat.Dense, error) {
	if err := checkXY("EditedNearestNeighbours.FitResample", X, y); err != nil {
		return nil, nil, err
	}
	if e.Kind != "all" && e.Kind != "mode" {
		return nil, nil, errors.NewValidationError("kind_sel", "must be \"all\" or \"mode\"", e.Kind)
	}
	n, p := X.Dims()
	if e.KNeighbors < 1 || e.KNeighbors >= n {
		return nil, nil, errors.NewValidationError("n_neighbors", "must be in [1, n_samples)", e.KNeighbors)
	}

	Xd := mat.DenseCopyOf(X)
	all := make([]int, n)
	for i := range all {
		all[i] = i
	}
	nn := kNearest(Xd, all, all, e.KNeighbors)

	var kept []int
	for i, nbrs := range nn {
		if e.keep(y, i, nbrs) {
			kept = append(kept, i)
		}
	}
	if len(kept) == 0 {
		return nil, nil, errors.NewEmptyTableError("EditedNearestNeighbours", n, n)
	}

	outX := mat.NewDense(len(kept), p, nil)
	outY := mat.NewDense(len(kept), 1, nil)
	for r, i := range kept {
		outX.SetRow(r, Xd.RawRowView(i))
		outY.Set(r, 0, y.At(i, 0))
	}

	log.GetLoggerWithName("imbalance").Debug("ENN cleaned",
		log.SamplesKey, len(kept),
		log.RowsDroppedKey, n-len(kept),
	)
	return outX, outY, nil
}

func (e *EditedNearestNeighbours) keep(y mat.Matrix, i int, nbrs []int) bool {
	label := y.At(i, 0)
	if e.Kind == "all" {
		for _, j := range nbrs {
			if y.At(j, 0) != label {
				return false
			}
		}
		return true
	}
	votes := map[float64]int{}
	for _, j := range nbrs {
		votes[y.At(j, 0)]++
	}
	best, bestVotes := math.NaN(), -1
	for v, c := range votes {
		if c > bestVotes || (c == bestVotes && v < best) {
			best, bestVotes = v, c
		}
	}
	return best == label
}

// SMOTEENN oversamples with SMOTE and then cleans with ENN.
type SMOTEENN struct {
	SMOTE *SMOTE
	ENN   *EditedNearestNeighbours
}

// NewSMOTEENN returns SMOTE(k=5) followed by ENN(k=3, kind "all").
func NewSMOTEENN(seed uint64) *SMOTEENN {
	return &SMOTEENN{SMOTE: NewSMOTE(seed), ENN: NewEditedNearestNeighbours()}
}

// FitResample applies both steps and checks that features and labels stay aligned.
func (s *SMOTEENN) FitResample(X, y mat.Matrix) (*mat.Dense, *mat.Dense, error) {
	sx, sy, err := s.SMOTE.FitResample(X, y)
	if err != nil {
		return nil, nil, errors.Wrap(err, "SMOTEENN: oversample")
	}
	ex, ey, err := s.ENN.FitResample(sx, sy)
	if err != nil {
		return nil, nil, errors.Wrap(err, "SMOTEENN: clean")
	}
	if xr, _ := ex.Dims(); xr != ey.RawMatrix().Rows {
		return nil, nil, errors.NewRowCountMismatchError("SMOTEENN.FitResample", xr, ey.RawMatrix().Rows)
	}
	return ex, ey, nil
}

// ClassBalance returns the share of each label, keyed by label.
func ClassBalance(y mat.Matrix) map[float64]float64 {
	n, _ := y.Dims()
	labels, groups := classRows(y)
	out := make(map[float64]float64, len(labels))
	for _, v := range labels {
		out[v] = float64(len(groups[v])) / float64(n)
	}
	return out
}

// MinorityShare returns the share of the least frequent label.
func MinorityShare(y mat.Matrix) float64 {
	share := 1.0
	for _, v := range ClassBalance(y) {
		share = math.Min(share, v)
	}
	return share
}
