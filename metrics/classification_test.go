package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/churnscope/pkg/errors"
)

func vec(v []float64) *mat.VecDense {
	if len(v) == 0 {
		return nil
	}
	return mat.NewVecDense(len(v), v)
}

func TestAUC(t *testing.T) {
	tests := []struct {
		name    string
		yTrue   []float64
		yPred   []float64
		want    float64
		wantErr bool
	}{
		{
			name:  "churners ranked above every stayer",
			yTrue: []float64{0, 0, 0, 0, 0, 0, 1, 1},
			yPred: []float64{0.05, 0.10, 0.12, 0.20, 0.31, 0.40, 0.66, 0.91},
			want:  1.0,
		},
		{
			name:  "one churner ranked below a stayer",
			yTrue: []float64{0, 0, 0, 1, 0, 1},
			yPred: []float64{0.1, 0.2, 0.3, 0.35, 0.6, 0.8},
			want:  7.0 / 8,
		},
		{
			name:  "tied scores count half",
			yTrue: []float64{0, 1, 0, 1},
			yPred: []float64{0.3, 0.3, 0.2, 0.7},
			want:  0.875,
		},
		{
			name:  "inverted ranking",
			yTrue: []float64{1, 1, 0, 0, 0},
			yPred: []float64{0.1, 0.2, 0.7, 0.8, 0.9},
			want:  0.0,
		},
		{
			name:  "constant score",
			yTrue: []float64{0, 1, 0, 0},
			yPred: []float64{0.27, 0.27, 0.27, 0.27},
			want:  0.5,
		},
		{
			name:    "label not encoded as 0/1",
			yTrue:   []float64{0, 2, 1},
			yPred:   []float64{0.1, 0.5, 0.9},
			wantErr: true,
		},
		{
			name:    "length mismatch",
			yTrue:   []float64{0, 1},
			yPred:   []float64{0.5},
			wantErr: true,
		},
		{
			name:    "no rows",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := AUC(vec(tt.yTrue), vec(tt.yPred))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}
}

func TestAUCSingleClassWarns(t *testing.T) {
	var warnings []error
	errors.SetWarningHandler(func(w error) { warnings = append(warnings, w) })
	defer errors.SetWarningHandler(func(error) {})

	// a holdout without a single churner
	got, err := AUC(vec([]float64{0, 0, 0, 0}), vec([]float64{0.1, 0.4, 0.35, 0.8}))
	require.NoError(t, err)
	assert.Equal(t, 0.5, got)
	require.Len(t, warnings, 1)
	var uw *errors.UndefinedMetricWarning
	assert.True(t, errors.As(warnings[0], &uw))
}

func TestAUCMatrix(t *testing.T) {
	got, err := AUCMatrix(
		mat.NewDense(6, 1, []float64{0, 0, 0, 1, 0, 1}),
		mat.NewDense(6, 1, []float64{0.1, 0.2, 0.3, 0.35, 0.6, 0.8}),
	)
	require.NoError(t, err)
	assert.InDelta(t, 0.875, got, 1e-12)

	// only the first column is read
	got, err = AUCMatrix(
		mat.NewDense(4, 2, []float64{0, 9, 0, 9, 1, 9, 1, 9}),
		mat.NewDense(4, 2, []float64{0.1, 9, 0.4, 9, 0.35, 9, 0.8, 9}),
	)
	require.NoError(t, err)
	assert.InDelta(t, 0.75, got, 1e-12)

	_, err = AUCMatrix(nil, mat.NewDense(1, 1, []float64{0.5}))
	assert.Error(t, err)
	_, err = AUCMatrix(&mat.Dense{}, &mat.Dense{})
	assert.True(t, errors.Is(err, errors.ErrEmptyData))
}

func TestBinaryLogLoss(t *testing.T) {
	tests := []struct {
		name    string
		yTrue   []float64
		yPred   []float64
		want    float64
		wantErr bool
	}{
		{
			name:  "confident and right",
			yTrue: []float64{0, 1},
			yPred: []float64{0, 1},
			want:  0,
		},
		{
			name:  "typical churn probabilities",
			yTrue: []float64{0, 1},
			yPred: []float64{0.2, 0.6},
			want:  0.36698459,
		},
		{
			name:  "base rate for every customer",
			yTrue: []float64{0, 0, 0, 1},
			yPred: []float64{0.25, 0.25, 0.25, 0.25},
			want:  0.56233515,
		},
		{
			name:    "label not encoded as 0/1",
			yTrue:   []float64{0, 0.5, 1},
			yPred:   []float64{0.1, 0.5, 0.9},
			wantErr: true,
		},
		{
			name:    "no rows",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BinaryLogLoss(vec(tt.yTrue), vec(tt.yPred))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-6)
		})
	}
}

func TestAccuracyAndError(t *testing.T) {
	// 3 churners in 10 customers; one churner missed, one stayer flagged
	yTrue := vec([]float64{0, 0, 0, 0, 1, 1, 0, 1, 0, 0})
	yPred := vec([]float64{0, 0, 0, 1, 1, 0, 0, 1, 0, 0})

	acc, err := Accuracy(yTrue, yPred)
	require.NoError(t, err)
	assert.InDelta(t, 0.8, acc, 1e-12)
	e, err := ClassificationError(yTrue, yPred)
	require.NoError(t, err)
	assert.InDelta(t, 0.2, e, 1e-12)

	// predicting "stays" for everyone scores the majority share
	acc, err = Accuracy(yTrue, vec(make([]float64, 10)))
	require.NoError(t, err)
	assert.InDelta(t, 0.7, acc, 1e-12)

	_, err = Accuracy(nil, nil)
	assert.Error(t, err)
	_, err = ClassificationError(vec([]float64{0, 1}), vec([]float64{0}))
	var derr *errors.DimensionError
	assert.True(t, errors.As(err, &derr))
}

func TestHoldoutReport(t *testing.T) {
	yTrue := mat.NewDense(10, 1, []float64{0, 0, 0, 0, 1, 1, 0, 1, 0, 0})
	yPred := mat.NewDense(10, 1, []float64{0, 0, 0, 1, 1, 0, 0, 1, 0, 0})

	cm, err := NewConfusionMatrix(yTrue, yPred)
	require.NoError(t, err)
	assert.Equal(t, [][]int{{6, 1}, {1, 2}}, cm.Counts)

	r := NewClassificationReport(cm)
	churn, ok := r.Class(1)
	require.True(t, ok)
	assert.InDelta(t, 2.0/3, churn.Precision, 1e-12)
	assert.InDelta(t, 2.0/3, churn.Recall, 1e-12)
	assert.InDelta(t, 2.0/3, churn.F1, 1e-12)
	assert.Equal(t, 3, churn.Support)
	assert.InDelta(t, 0.8, r.Accuracy, 1e-12)
}

func BenchmarkAUC(b *testing.B) {
	// 27% churners with noisy scores
	n := 1000
	yTrue := make([]float64, n)
	yPred := make([]float64, n)
	for i := 0; i < n; i++ {
		if i%100 < 27 {
			yTrue[i] = 1
		}
		yPred[i] = float64((i*37)%n) / float64(n)
	}
	yTrueVec := mat.NewVecDense(n, yTrue)
	yPredVec := mat.NewVecDense(n, yPred)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = AUC(yTrueVec, yPredVec)
	}
}

func BenchmarkBinaryLogLoss(b *testing.B) {
	n := 1000
	yTrue := make([]float64, n)
	yPred := make([]float64, n)
	for i := 0; i < n; i++ {
		yPred[i] = 0.1 + 0.3*float64(i%100)/100
		if i%100 < 27 {
			yTrue[i] = 1
			yPred[i] += 0.5
		}
	}
	yTrueVec := mat.NewVecDense(n, yTrue)
	yPredVec := mat.NewVecDense(n, yPred)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = BinaryLogLoss(yTrueVec, yPredVec)
	}
}
