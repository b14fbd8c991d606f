package linear_model

import (
	"bytes"
	"encoding/gob"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/churnscope/pkg/errors"
)

// churnData returns 24 encoded customers with columns
// [MonthlyCharges, Contract_Month-to-month, Contract_One year, Contract_Two year, tenure_group_1-12].
// Month-to-month customers in their first year churn.
func churnData() (*mat.Dense, *mat.Dense) {
	X := mat.NewDense(24, 5, nil)
	y := mat.NewDense(24, 1, nil)
	for i := 0; i < 24; i++ {
		contract := i % 3
		short := (i/3)%2 == 0
		X.Set(i, 0, float64(20+(i*37)%100)/100)
		X.Set(i, 1+contract, 1)
		if short {
			X.Set(i, 4, 1)
		}
		if contract == 0 && short {
			y.Set(i, 0, 1)
		}
	}
	return X, y
}

func coefNorm(lr *LogisticRegression) float64 {
	s := 0.0
	for _, w := range lr.coef_[0] {
		s += w * w
	}
	return math.Sqrt(s)
}

func TestLogisticRegressionFitPredict(t *testing.T) {
	X, y := churnData()
	lr := NewLogisticRegression(WithLRC(100), WithLRMaxIter(1000))
	require.NoError(t, lr.Fit(X, y))

	assert.Equal(t, []int{0, 1}, lr.Classes())
	assert.Equal(t, 1.0, lr.Score(X, y))

	newCustomers := mat.NewDense(3, 5, []float64{
		0.5, 1, 0, 0, 1, // month-to-month, first year
		0.9, 0, 0, 1, 0, // two year, long tenure
		0.7, 1, 0, 0, 0, // month-to-month, long tenure
	})
	pred, err := lr.Predict(newCustomers)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0, 0}, mat.Col(nil, 0, pred))
}

func TestLogisticRegressionPredictProba(t *testing.T) {
	X, y := churnData()
	lr := NewLogisticRegression(WithLRC(100), WithLRMaxIter(1000))
	require.NoError(t, lr.Fit(X, y))

	proba, err := lr.PredictProba(X)
	require.NoError(t, err)
	rows, cols := proba.Dims()
	require.Equal(t, 24, rows)
	require.Equal(t, 2, cols)

	minChurner, maxStayer := 1.0, 0.0
	for i := 0; i < rows; i++ {
		assert.InDelta(t, 1.0, proba.At(i, 0)+proba.At(i, 1), 1e-12)
		p := proba.At(i, 1)
		if y.At(i, 0) == 1 {
			minChurner = math.Min(minChurner, p)
		} else {
			maxStayer = math.Max(maxStayer, p)
		}
	}
	assert.Greater(t, minChurner, 0.5)
	assert.Less(t, maxStayer, 0.5)
}

func TestLogisticRegressionCoefficientSigns(t *testing.T) {
	X, y := churnData()
	lr := NewLogisticRegression(WithLRC(10), WithLRMaxIter(1000))
	require.NoError(t, lr.Fit(X, y))

	w := lr.coef_[0]
	assert.Greater(t, w[1], 0.0, "month-to-month raises churn")
	assert.Greater(t, w[4], 0.0, "first-year tenure raises churn")
	assert.Less(t, w[2], 0.0, "one year contract lowers churn")
	assert.Less(t, w[3], 0.0, "two year contract lowers churn")
	assert.Less(t, lr.intercept_[0], 0.0, "churners are the minority")
}

func TestLogisticRegressionRegularization(t *testing.T) {
	X, y := churnData()

	norms := make([]float64, 0, 4)
	for _, opts := range [][]LogisticRegressionOption{
		{WithLRC(1)},
		{WithLRC(10)},
		{WithLRC(100)},
		{WithLRPenalty("none")},
	} {
		lr := NewLogisticRegression(append(opts, WithLRMaxIter(1000))...)
		require.NoError(t, lr.Fit(X, y))
		norms = append(norms, coefNorm(lr))
	}
	for i := 1; i < len(norms); i++ {
		assert.Less(t, norms[i-1], norms[i], "weaker penalty must grow the weights")
	}

	// a strong penalty leaves every customer below 0.5 and scores the majority share
	lr := NewLogisticRegression()
	require.NoError(t, lr.Fit(X, y))
	assert.InDelta(t, 20.0/24, lr.Score(X, y), 1e-12)
}

func TestLogisticRegressionConvergenceWarning(t *testing.T) {
	var warnings []error
	errors.SetWarningHandler(func(w error) { warnings = append(warnings, w) })
	defer errors.SetWarningHandler(func(error) {})

	X, y := churnData()
	lr := NewLogisticRegression(WithLRMaxIter(5))
	require.NoError(t, lr.Fit(X, y))

	require.Len(t, warnings, 1)
	var cw *errors.ConvergenceWarning
	assert.True(t, errors.As(warnings[0], &cw))
	assert.Equal(t, []int{5}, lr.nIter_)
}

func TestLogisticRegressionOneVsRest(t *testing.T) {
	// predicting the contract type from its own indicators
	X := mat.NewDense(12, 3, nil)
	y := mat.NewDense(12, 1, nil)
	for i := 0; i < 12; i++ {
		X.Set(i, i%3, 1)
		y.Set(i, 0, float64(i%3))
	}
	lr := NewLogisticRegression(WithLRPenalty("none"), WithLRMaxIter(300))
	require.NoError(t, lr.Fit(X, y))
	assert.Equal(t, []int{0, 1, 2}, lr.Classes())
	assert.Len(t, lr.coef_, 3)
	assert.Equal(t, 1.0, lr.Score(X, y))

	proba, err := lr.PredictProba(X)
	require.NoError(t, err)
	for i := 0; i < 12; i++ {
		row := mat.Row(nil, i, proba)
		assert.InDelta(t, 1.0, row[0]+row[1]+row[2], 1e-12)
		assert.Greater(t, row[i%3], 0.9)
	}
}

func TestLogisticRegressionGetSetParams(t *testing.T) {
	lr := NewLogisticRegression()
	params := lr.GetParams()
	assert.Equal(t, "l2", params["penalty"])
	assert.Equal(t, 1.0, params["C"])
	assert.Equal(t, true, params["fit_intercept"])
	assert.Equal(t, 100, params["max_iter"])

	require.NoError(t, lr.SetParams(map[string]interface{}{
		"C":        0.5,
		"max_iter": 250,
		"penalty":  "none",
	}))
	assert.Equal(t, 0.5, lr.C)
	assert.Equal(t, 250, lr.maxIter)
	assert.Equal(t, "none", lr.penalty)

	var verr *errors.ValidationError
	assert.True(t, errors.As(lr.SetParams(map[string]interface{}{"l1_ratio": 0.5}), &verr))
	assert.True(t, errors.As(lr.SetParams(map[string]interface{}{"max_iter": "many"}), &verr))
}

func TestLogisticRegressionErrors(t *testing.T) {
	X, y := churnData()
	lr := NewLogisticRegression()

	_, err := lr.Predict(X)
	var nf *errors.NotFittedError
	assert.True(t, errors.As(err, &nf))

	// a sample with no churners at all
	err = lr.Fit(X, mat.NewDense(24, 1, nil))
	assert.True(t, errors.Is(err, errors.ErrSingleClass))

	err = lr.Fit(X, mat.NewDense(10, 1, nil))
	var rc *errors.RowCountMismatchError
	assert.True(t, errors.As(err, &rc))

	var verr *errors.ValidationError
	assert.True(t, errors.As(NewLogisticRegression(WithLRC(0)).Fit(X, y), &verr))
	assert.True(t, errors.As(NewLogisticRegression(WithLRPenalty("l1")).Fit(X, y), &verr))

	require.NoError(t, lr.Fit(X, y))
	_, err = lr.PredictProba(mat.NewDense(1, 4, nil))
	var derr *errors.DimensionError
	assert.True(t, errors.As(err, &derr))
}

func TestLogisticRegressionGobRoundTrip(t *testing.T) {
	X, y := churnData()
	lr := NewLogisticRegression(WithLRC(10), WithLRMaxIter(300))
	require.NoError(t, lr.Fit(X, y))

	var buf bytes.Buffer
	require.NoError(t, gob.NewEncoder(&buf).Encode(lr))
	restored := &LogisticRegression{}
	require.NoError(t, gob.NewDecoder(&buf).Decode(restored))

	want, _ := lr.PredictProba(X)
	got, err := restored.PredictProba(X)
	require.NoError(t, err)
	assert.True(t, mat.Equal(want, got))
	assert.Equal(t, lr.Classes(), restored.Classes())
	assert.Equal(t, lr.GetParams(), restored.GetParams())
}
