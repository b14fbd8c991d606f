package feature_selection

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/churnscope/pkg/errors"
	"github.com/YuminosukeSato/churnscope/sklearn/ensemble"
	"github.com/YuminosukeSato/churnscope/sklearn/linear_model"
)

func TestChi2(t *testing.T) {
	// feature 0 follows the class, feature 1 is independent of it
	X := mat.NewDense(4, 2, []float64{
		1, 1,
		1, 0,
		0, 1,
		0, 0,
	})
	y := mat.NewDense(4, 1, []float64{1, 1, 0, 0})

	scores, pvalues, err := Chi2(X, y)
	require.NoError(t, err)
	// observed [0 2], expected [1 1] -> (1/1 + 1/1) = 2
	assert.InDelta(t, 2.0, scores[0], 1e-12)
	assert.InDelta(t, 0.0, scores[1], 1e-12)
	// survival of chi2(1) at 2
	assert.InDelta(t, 0.157299, pvalues[0], 1e-6)
	assert.Equal(t, 1.0, pvalues[1])
}

func TestChi2RejectsNegativeValues(t *testing.T) {
	X := mat.NewDense(2, 1, []float64{1, -0.5})
	y := mat.NewDense(2, 1, []float64{0, 1})
	_, _, err := Chi2(X, y)
	assert.True(t, errors.Is(err, errors.ErrNegativeValue))
}

func TestChi2ZeroColumn(t *testing.T) {
	X := mat.NewDense(3, 1, nil)
	y := mat.NewDense(3, 1, []float64{0, 1, 1})
	scores, pvalues, err := Chi2(X, y)
	require.NoError(t, err)
	assert.Equal(t, 0.0, scores[0])
	assert.Equal(t, 1.0, pvalues[0])
}

func TestSelectKBest(t *testing.T) {
	X := mat.NewDense(4, 3, []float64{
		1, 1, 5,
		1, 0, 0,
		0, 1, 5,
		0, 0, 0,
	})
	y := mat.NewDense(4, 1, []float64{1, 1, 0, 0})

	s := NewSelectKBest(nil, 1)
	_, err := s.GetSupport()
	require.Error(t, err)

	require.NoError(t, s.Fit(X, y))
	support, err := s.GetSupport()
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false, false}, support)

	out, err := s.Transform(X)
	require.NoError(t, err)
	r, c := out.Dims()
	assert.Equal(t, 4, r)
	assert.Equal(t, 1, c)

	all := NewSelectKBest(Chi2, 10)
	require.NoError(t, all.Fit(X, y))
	support, _ = all.GetSupport()
	assert.Equal(t, []bool{true, true, true}, support)
}

func TestRankDescending(t *testing.T) {
	assert.Equal(t, []int{1, 0, 2, 3}, RankDescending([]float64{2, 5, 2, math.NaN()}))
}

func TestSelectFromModelLasso(t *testing.T) {
	X := mat.NewDense(20, 2, nil)
	y := mat.NewDense(20, 1, nil)
	for i := 0; i < 20; i++ {
		X.Set(i, 0, float64(i))
		X.Set(i, 1, float64((i*7)%5))
		y.Set(i, 0, 3*float64(i))
	}
	s := NewSelectFromModel(linear_model.NewLasso(linear_model.WithAlpha(0.1)))
	require.NoError(t, s.Fit(X, y))
	assert.Equal(t, 1e-5, s.EffectiveThreshold())

	support, err := s.GetSupport()
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false}, support)
}

func TestSelectFromModelImportances(t *testing.T) {
	X := mat.NewDense(20, 3, nil)
	y := mat.NewDense(20, 1, nil)
	for i := 0; i < 20; i++ {
		c := float64(i % 2)
		X.Set(i, 0, c*4+float64(i%3)*0.1)
		X.Set(i, 1, float64((i*3)%7))
		X.Set(i, 2, float64((i*5)%4))
		y.Set(i, 0, c)
	}
	s := NewSelectFromModel(ensemble.NewRandomForestClassifier(ensemble.WithNEstimators(20)))
	require.NoError(t, s.Fit(X, y))
	support, err := s.GetSupport()
	require.NoError(t, err)
	assert.True(t, support[0])
	assert.InDelta(t, 1.0/3, s.EffectiveThreshold(), 1e-9)
}

func TestSelectReport(t *testing.T) {
	n := 40
	X := mat.NewDense(n, 3, nil)
	y := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		c := float64(i % 2)
		X.Set(i, 0, c)
		X.Set(i, 1, float64(i%3))
		X.Set(i, 2, 10+float64((i*7)%5))
		y.Set(i, 0, c)
	}
	names := []string{"Contract_Month-to-month", "SeniorCitizen", "MonthlyCharges"}

	opts := DefaultOptions()
	opts.K = 2
	opts.ExtraTreesEstimators = 10
	r, err := Select(X, y, names, opts)
	require.NoError(t, err)

	require.Len(t, r.Chi2, 3)
	assert.Equal(t, "Contract_Month-to-month", r.Chi2[0].Feature)
	assert.GreaterOrEqual(t, r.Chi2[0].Score, r.Chi2[1].Score)
	assert.GreaterOrEqual(t, r.Chi2[1].Score, r.Chi2[2].Score)
	assert.Equal(t, "Contract_Month-to-month", r.Importance[0].Feature)
	assert.Len(t, r.LassoSupport, 3)
	assert.True(t, r.LassoSupport[0])
	assert.Contains(t, r.LassoKept, "Contract_Month-to-month")
	assert.Len(t, r.Selected, 2)
	assert.Contains(t, r.Selected, "Contract_Month-to-month")

	// X is untouched
	assert.Equal(t, 10+float64((3*7)%5), X.At(3, 2))

	_, err = Select(X, y, names[:2], opts)
	assert.Error(t, err)
}
