package ensemble

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

// twoClusters has an informative feature 0, a weak feature 1 and noise in 2-3.
func twoClusters(n int) (*mat.Dense, *mat.Dense) {
	X := mat.NewDense(n, 4, nil)
	y := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		c := float64(i % 2)
		X.Set(i, 0, c*5+math.Sin(float64(i)))
		X.Set(i, 1, c+math.Cos(float64(i)*3))
		X.Set(i, 2, float64((i*7)%11))
		X.Set(i, 3, float64((i*13)%5))
		y.Set(i, 0, c)
	}
	return X, y
}

func TestRandomForestFitPredict(t *testing.T) {
	X, y := twoClusters(60)
	rf := NewRandomForestClassifier(WithNEstimators(15), WithRandomState(0))
	require.NoError(t, rf.Fit(X, y))

	assert.Equal(t, []int{0, 1}, rf.Classes())
	assert.GreaterOrEqual(t, rf.Score(X, y), 0.95)
	assert.Len(t, rf.Estimators(), 15)

	proba, err := rf.PredictProba(X)
	require.NoError(t, err)
	r, c := proba.Dims()
	require.Equal(t, 60, r)
	require.Equal(t, 2, c)
	for i := 0; i < r; i++ {
		assert.InDelta(t, 1.0, proba.At(i, 0)+proba.At(i, 1), 1e-9)
	}
}

func TestForestIsDeterministicAcrossJobs(t *testing.T) {
	X, y := twoClusters(40)
	a := NewRandomForestClassifier(WithNEstimators(8), WithRandomState(5), WithNJobs(1))
	b := NewRandomForestClassifier(WithNEstimators(8), WithRandomState(5), WithNJobs(4))
	require.NoError(t, a.Fit(X, y))
	require.NoError(t, b.Fit(X, y))

	pa, _ := a.PredictProba(X)
	pb, _ := b.PredictProba(X)
	assert.True(t, mat.Equal(pa, pb))
}

func TestExtraTreesImportances(t *testing.T) {
	X, y := twoClusters(80)
	et := NewExtraTreesClassifier(WithNEstimators(30), WithRandomState(1))
	require.NoError(t, et.Fit(X, y))

	imp := et.GetFeatureImportances()
	require.Len(t, imp, 4)
	sum := 0.0
	for _, v := range imp {
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.Greater(t, imp[0], imp[2])
	assert.Greater(t, imp[0], imp[3])
}

func TestForestGobRoundTrip(t *testing.T) {
	X, y := twoClusters(30)
	rf := NewRandomForestClassifier(WithNEstimators(5), WithRandomState(2))
	require.NoError(t, rf.Fit(X, y))

	var buf bytes.Buffer
	require.NoError(t, gob.NewEncoder(&buf).Encode(rf))
	restored := &RandomForestClassifier{}
	require.NoError(t, gob.NewDecoder(&buf).Decode(restored))

	want, _ := rf.PredictProba(X)
	got, err := restored.PredictProba(X)
	require.NoError(t, err)
	assert.True(t, mat.Equal(want, got))
	assert.Equal(t, rf.GetParams(), restored.GetParams())
}

func TestForestErrors(t *testing.T) {
	rf := NewRandomForestClassifier()
	_, err := rf.Predict(mat.NewDense(1, 2, nil))
	var nf *errors.NotFittedError
	assert.True(t, errors.As(err, &nf))

	X, y := twoClusters(10)
	err = NewRandomForestClassifier(WithMaxFeatures("half")).Fit(X, y)
	var verr *errors.ValidationError
	assert.True(t, errors.As(err, &verr))

	err = NewRandomForestClassifier().Fit(X, mat.NewDense(9, 1, nil))
	var rerr *errors.RowCountMismatchError
	assert.True(t, errors.As(err, &rerr))
}
