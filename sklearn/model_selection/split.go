// Package model_selection splits data into train and test partitions.
package model_selection

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/churnscope/pkg/errors"
)

// Split holds both partitions and the source row of every partition row.
type Split struct {
	XTrain, XTest *mat.Dense
	YTrain, YTest *mat.Dense
	TrainIndex    []int
	TestIndex     []int
}

// SplitIndices shuffles 0..n-1 with seed and returns the train and test row
// indices. The test partition holds ceil(n*testSize) rows; both partitions
// must be non-empty. The same (n, testSize, seed) always yields the same split.
func SplitIndices(n int, testSize float64, seed uint64) (train, test []int, err error) {
	if testSize <= 0 || testSize >= 1 {
		return nil, nil, errors.NewValidationError("test_size", "must be in (0, 1)", testSize)
	}
	nTest := int(math.Ceil(float64(n) * testSize))
	if nTest < 1 || n-nTest < 1 {
		return nil, nil, errors.NewValueError("SplitIndices",
			"with n_samples and test_size the resulting train or test set would be empty")
	}
	perm := rand.New(rand.NewPCG(seed, 0x2545f491)).Perm(n)
	return perm[nTest:], perm[:nTest], nil
}

// TrainTestSplit splits X and y with SplitIndices.
func TrainTestSplit(X, y mat.Matrix, testSize float64, seed uint64) (*Split, error) {
	n, _ := X.Dims()
	if yr, _ := y.Dims(); yr != n {
		return nil, errors.NewRowCountMismatchError("TrainTestSplit", n, yr)
	}
	train, test, err := SplitIndices(n, testSize, seed)
	if err != nil {
		return nil, err
	}
	return &Split{
		XTrain:     TakeRows(X, train),
		XTest:      TakeRows(X, test),
		YTrain:     TakeRows(y, train),
		YTest:      TakeRows(y, test),
		TrainIndex: train,
		TestIndex:  test,
	}, nil
}

// TakeRows copies the given rows of m, in order.
func TakeRows(m mat.Matrix, rows []int) *mat.Dense {
	_, c := m.Dims()
	out := mat.NewDense(len(rows), c, nil)
	for r, i := range rows {
		for j := 0; j < c; j++ {
			out.Set(r, j, m.At(i, j))
		}
	}
	return out
}
