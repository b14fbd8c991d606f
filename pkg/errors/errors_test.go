package errors

import (
	"fmt"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewModelError(t *testing.T) {
	tests := []struct {
		name    string
		op      string
		kind    string
		err     error
		wantMsg string
	}{
		{
			name:    "with original error",
			op:      "Fit",
			kind:    "invalid input",
			err:     fmt.Errorf("test error"),
			wantMsg: "churnscope: Fit: invalid input: test error",
		},
		{
			name:    "without original error",
			op:      "Predict",
			kind:    "not fitted",
			err:     nil,
			wantMsg: "churnscope: Predict: not fitted",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewModelError(tt.op, tt.kind, tt.err)

			if err.Error() != tt.wantMsg {
				t.Errorf("Error() = %v, want %v", err.Error(), tt.wantMsg)
			}

			// スタックトレースの存在確認
			formatted := fmt.Sprintf("%+v", err)
			if !strings.Contains(formatted, "errors_test.go") {
				t.Error("Expected stack trace to contain test file name")
			}

			var modelErr *ModelError
			if !As(err, &modelErr) {
				t.Error("Error should be castable to *ModelError")
			}
		})
	}
}

func TestNewDimensionError(t *testing.T) {
	err := NewDimensionError("Predict", 10, 8, 1)

	want := "churnscope: Predict: dimension mismatch on axis 1 (features). Expected 10, got 8"
	assert.Equal(t, want, err.Error())

	var dimErr *DimensionError
	require.True(t, As(err, &dimErr))
	assert.Equal(t, 10, dimErr.Expected)
	assert.Equal(t, 8, dimErr.Got)
}

func TestNewNotFittedError(t *testing.T) {
	err := NewNotFittedError("DecisionTreeClassifier", "Predict")

	assert.Contains(t, err.Error(), "DecisionTreeClassifier")
	assert.Contains(t, err.Error(), "Call Fit() before using Predict()")

	var nfe *NotFittedError
	assert.True(t, As(err, &nfe))
}

func TestEmptyTableError(t *testing.T) {
	err := NewEmptyTableError("clean", 10, 10)

	assert.Equal(t, "churnscope: clean: table is empty (10 of 10 rows dropped)", err.Error())

	var ete *EmptyTableError
	require.True(t, As(err, &ete))
	assert.Equal(t, "clean", ete.Stage)
	assert.True(t, Is(err, ErrEmptyData), "EmptyTableError should match ErrEmptyData")

	wrapped := Wrap(err, "prepare")
	assert.True(t, As(wrapped, &ete), "wrapped error should still be an EmptyTableError")
}

func TestSchemaMismatchError(t *testing.T) {
	tests := []struct {
		name       string
		missing    []string
		unexpected []string
		want       string
	}{
		{
			name:    "missing only",
			missing: []string{"gender", "Partner"},
			want:    "churnscope: schema mismatch in predict phase: missing columns [gender, Partner]",
		},
		{
			name:       "both",
			missing:    []string{"gender"},
			unexpected: []string{"extra"},
			want:       "churnscope: schema mismatch in predict phase: missing columns [gender]; unexpected columns [extra]",
		},
		{
			name: "order only",
			want: "churnscope: schema mismatch in predict phase: column order differs",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewSchemaMismatchError("predict", tt.missing, tt.unexpected)
			assert.Equal(t, tt.want, err.Error())

			var sme *SchemaMismatchError
			assert.True(t, As(err, &sme))
		})
	}
}

func TestRowCountMismatchError(t *testing.T) {
	err := NewRowCountMismatchError("SMOTEENN", 120, 118)
	assert.Equal(t, "churnscope: SMOTEENN: feature rows (120) and label rows (118) differ", err.Error())

	var rce *RowCountMismatchError
	require.True(t, As(err, &rce))
	assert.Equal(t, 120, rce.FeatureRows)
	assert.Equal(t, 118, rce.LabelRows)
}

func TestMarshalZerologObject(t *testing.T) {
	var buf strings.Builder
	logger := zerolog.New(&buf)

	logger.Error().Object("error", &SchemaMismatchError{Phase: "predict", Missing: []string{"gender"}}).Msg("failed")
	out := buf.String()
	assert.Contains(t, out, `"type":"SchemaMismatchError"`)
	assert.Contains(t, out, `"phase":"predict"`)
	assert.Contains(t, out, `"missing":["gender"]`)

	buf.Reset()
	logger.Warn().Object("warning", NewUnseenCategoryWarning("Contract", []string{"Weekly"}, 3)).Msg("unseen")
	out = buf.String()
	assert.Contains(t, out, `"type":"UnseenCategoryWarning"`)
	assert.Contains(t, out, `"rows":3`)
}

func TestWarn(t *testing.T) {
	var got []error
	SetWarningHandler(func(w error) { got = append(got, w) })
	defer SetWarningHandler(func(w error) {})

	Warn(NewConvergenceWarning("Lasso", 1000, ""))
	Warn(NewUnseenCategoryWarning("Contract", []string{"Weekly"}, 1))

	require.Len(t, got, 2)
	assert.Contains(t, got[0].Error(), "Lasso failed to converge after 1000 iterations")
	assert.Contains(t, got[1].Error(), `column "Contract"`)
}

func TestWrapAndIs(t *testing.T) {
	wrapped := Wrap(ErrNegativeValue, "chi2")
	assert.True(t, Is(wrapped, ErrNegativeValue))
	assert.Equal(t, "chi2: input contains negative values", wrapped.Error())

	wrappedf := Wrapf(ErrSingleClass, "stage %s", "train")
	assert.True(t, Is(wrappedf, ErrSingleClass))
	assert.False(t, Is(wrappedf, ErrEmptyData))
}

func TestCheckMatrix(t *testing.T) {
	m := stubMatrix{{1, 2}, {3, nan()}}
	err := CheckMatrix("Fit", m, 2, 2)
	require.Error(t, err)

	var nie *NumericalInstabilityError
	assert.True(t, As(err, &nie))

	assert.NoError(t, CheckMatrix("Fit", stubMatrix{{1, 2}}, 1, 2))
	assert.Equal(t, 0.0, SafeDivide(1, 0))
	assert.Equal(t, 0.5, SafeDivide(1, 2))
}

type stubMatrix [][]float64

func (s stubMatrix) At(i, j int) float64 { return s[i][j] }

func nan() float64 {
	zero := 0.0
	return zero / zero
}
