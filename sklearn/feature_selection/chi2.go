// Package feature_selection scores and selects feature columns.
//
// Chi2 と SelectKBest は統計量による単変量選択、SelectFromModel は学習済み
// モデルの係数または重要度による選択です。どれも入力行列を変更しません。
package feature_selection

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/YuminosukeSato/churnscope/pkg/errors"
)

// Chi2 computes chi-squared statistics between each non-negative feature and
// the class labels in y. Features are treated as frequencies: the observed
// table is the per-class feature sum and the expected table assumes
// independence from the class. The p-value is the chi-squared survival
// function with n_classes-1 degrees of freedom.
//
// A feature whose expected counts are all zero (an all-zero column) scores 0
// with p-value 1.
func Chi2(X, y mat.Matrix) (scores, pvalues []float64, err error) {
	n, p := X.Dims()
	if yr, _ := y.Dims(); yr != n {
		return nil, nil, errors.NewRowCountMismatchError("Chi2", n, yr)
	}
	if n == 0 || p == 0 {
		return nil, nil, errors.NewModelError("Chi2", "empty data", errors.ErrEmptyData)
	}
	for i := 0; i < n; i++ {
		for j := 0; j < p; j++ {
			if v := X.At(i, j); v < 0 || math.IsNaN(v) {
				return nil, nil, errors.Wrapf(errors.ErrNegativeValue, "Chi2: X[%d, %d] = %v", i, j, v)
			}
		}
	}

	classIndex := map[float64]int{}
	var classes []float64
	for i := 0; i < n; i++ {
		c := y.At(i, 0)
		if _, ok := classIndex[c]; !ok {
			classIndex[c] = len(classes)
			classes = append(classes, c)
		}
	}
	k := len(classes)

	observed := mat.NewDense(k, p, nil)
	classCount := make([]float64, k)
	featureCount := make([]float64, p)
	for i := 0; i < n; i++ {
		c := classIndex[y.At(i, 0)]
		classCount[c]++
		for j := 0; j < p; j++ {
			v := X.At(i, j)
			observed.Set(c, j, observed.At(c, j)+v)
			featureCount[j] += v
		}
	}

	scores = make([]float64, p)
	pvalues = make([]float64, p)
	dof := float64(k - 1)
	for j := 0; j < p; j++ {
		stat := 0.0
		for c := 0; c < k; c++ {
			expected := classCount[c] / float64(n) * featureCount[j]
			if expected == 0 {
				continue
			}
			d := observed.At(c, j) - expected
			stat += d * d / expected
		}
		scores[j] = stat
		if dof < 1 || stat == 0 {
			pvalues[j] = 1
			continue
		}
		pvalues[j] = distuv.ChiSquared{K: dof}.Survival(stat)
	}
	return scores, pvalues, nil
}
