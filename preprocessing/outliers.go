package preprocessing

import (
	"math"
	"sort"

	"github.com/YuminosukeSato/churnscope/dataset"
	"github.com/YuminosukeSato/churnscope/pkg/errors"
	"github.com/YuminosukeSato/churnscope/pkg/log"
)

// Fence is an interquartile outlier fence.
type Fence struct {
	Q1    float64 `yaml:"q1"`
	Q3    float64 `yaml:"q3"`
	IQR   float64 `yaml:"iqr"`
	Lower float64 `yaml:"lower"`
	Upper float64 `yaml:"upper"`
}

// Outside reports whether v falls outside the fence.
func (f Fence) Outside(v float64) bool {
	return v < f.Lower || v > f.Upper
}

// IQRFence computes the fences Q1 - k*IQR and Q3 + k*IQR over the non-missing values.
func IQRFence(values []float64, k float64) (Fence, error) {
	sorted := presentSorted(values)
	if len(sorted) == 0 {
		return Fence{}, errors.Wrap(errors.ErrEmptyData, "IQRFence")
	}
	if k < 0 {
		return Fence{}, errors.NewValidationError("k", "must be non-negative", k)
	}
	q1 := quantileLinear(sorted, 0.25)
	q3 := quantileLinear(sorted, 0.75)
	iqr := q3 - q1
	return Fence{Q1: q1, Q3: q3, IQR: iqr, Lower: q1 - k*iqr, Upper: q3 + k*iqr}, nil
}

// Quantile returns the p-quantile of the non-missing values using linear interpolation.
func Quantile(values []float64, p float64) (float64, error) {
	if p < 0 || p > 1 {
		return 0, errors.NewValidationError("p", "must be within [0, 1]", p)
	}
	sorted := presentSorted(values)
	if len(sorted) == 0 {
		return 0, errors.Wrap(errors.ErrEmptyData, "Quantile")
	}
	return quantileLinear(sorted, p), nil
}

// ClipBounds are the fixed limits a column is clipped to.
type ClipBounds struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// PercentileBounds returns the [lo, hi] quantiles of the non-missing values.
func PercentileBounds(values []float64, lo, hi float64) (ClipBounds, error) {
	if lo > hi {
		return ClipBounds{}, errors.NewValidationError("percentiles", "lower percentile exceeds upper", [2]float64{lo, hi})
	}
	lower, err := Quantile(values, lo)
	if err != nil {
		return ClipBounds{}, err
	}
	upper, err := Quantile(values, hi)
	if err != nil {
		return ClipBounds{}, err
	}
	return ClipBounds{Min: lower, Max: upper}, nil
}

// ClipPercentile clips the numeric column col to its [lo, hi] quantiles and
// returns the new table and the number of values changed.
func ClipPercentile(t *dataset.Table, col string, lo, hi float64) (*dataset.Table, int, error) {
	c, err := numericColumn(t, col)
	if err != nil {
		return nil, 0, err
	}
	b, err := PercentileBounds(c.Num, lo, hi)
	if err != nil {
		return nil, 0, err
	}
	return ClipRange(t, col, b)
}

// ClipRange clips the numeric column col to b. Missing cells stay missing.
func ClipRange(t *dataset.Table, col string, b ClipBounds) (*dataset.Table, int, error) {
	c, err := numericColumn(t, col)
	if err != nil {
		return nil, 0, err
	}
	vals := make([]float64, len(c.Num))
	changed := 0
	for i, v := range c.Num {
		switch {
		case math.IsNaN(v):
			vals[i] = v
		case v < b.Min:
			vals[i] = b.Min
			changed++
		case v > b.Max:
			vals[i] = b.Max
			changed++
		default:
			vals[i] = v
		}
	}
	out, err := t.ReplaceColumn(dataset.NewNumericColumn(col, vals))
	if err != nil {
		return nil, 0, err
	}

	log.GetLoggerWithName("preprocessing.outliers").Debug("Clipped column",
		log.ColumnKey, col,
		"lower", b.Min,
		"upper", b.Max,
		"changed", changed,
	)
	return out, changed, nil
}

// CountOutside counts the non-missing values outside the fence.
func (f Fence) CountOutside(values []float64) int {
	n := 0
	for _, v := range values {
		if !math.IsNaN(v) && f.Outside(v) {
			n++
		}
	}
	return n
}

func numericColumn(t *dataset.Table, col string) (*dataset.Column, error) {
	c := t.Column(col)
	if c == nil {
		return nil, errors.NewSchemaMismatchError("clip", []string{col}, nil)
	}
	if c.Kind != dataset.Numeric {
		return nil, errors.NewValueError("ClipPercentile", "column "+col+" is not numeric")
	}
	return c, nil
}

func presentSorted(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	sort.Float64s(out)
	return out
}
