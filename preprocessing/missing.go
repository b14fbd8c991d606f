package preprocessing

import (
	"math"
	"sort"

	"github.com/YuminosukeSato/churnscope/dataset"
	"github.com/YuminosukeSato/churnscope/pkg/errors"
)

// MissingStrategy selects how missing cells are handled.
type MissingStrategy string

const (
	// DropRows removes every row with a missing value in any column.
	DropRows MissingStrategy = "drop"
	// Impute fills numeric cells with the column median and categorical
	// cells with the column mode.
	Impute MissingStrategy = "impute"
)

// MissingPolicy is the caller-selected missing-value policy.
type MissingPolicy struct {
	Strategy MissingStrategy
}

// ParseMissingStrategy converts a configuration value into a strategy.
func ParseMissingStrategy(s string) (MissingStrategy, error) {
	switch MissingStrategy(s) {
	case DropRows, "":
		return DropRows, nil
	case Impute:
		return Impute, nil
	default:
		return "", errors.NewValidationError("missing_policy", "must be \"drop\" or \"impute\"", s)
	}
}

// Imputer holds fill values learned from a training table.
// It is stored in the model bundle so that inference fills with training statistics.
type Imputer struct {
	Numeric     map[string]float64
	Categorical map[string]string
}

// FitImputer computes the median of each numeric column and the mode of each
// categorical column, ignoring missing cells. Ties in the mode resolve to the
// lexicographically smallest value.
func FitImputer(t *dataset.Table) (*Imputer, error) {
	imp := &Imputer{Numeric: map[string]float64{}, Categorical: map[string]string{}}
	for _, c := range t.Columns() {
		if c.Kind == dataset.Numeric {
			var vals []float64
			for _, v := range c.Num {
				if !math.IsNaN(v) {
					vals = append(vals, v)
				}
			}
			if len(vals) == 0 {
				return nil, errors.NewValueError("FitImputer", "column "+c.Name+" has no observed values")
			}
			imp.Numeric[c.Name] = median(vals)
			continue
		}

		counts := map[string]int{}
		for i, s := range c.Str {
			if !c.Missing[i] {
				counts[s]++
			}
		}
		if len(counts) == 0 {
			return nil, errors.NewValueError("FitImputer", "column "+c.Name+" has no observed values")
		}
		keys := make([]string, 0, len(counts))
		for k := range counts {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		best := keys[0]
		for _, k := range keys[1:] {
			if counts[k] > counts[best] {
				best = k
			}
		}
		imp.Categorical[c.Name] = best
	}
	return imp, nil
}

// Transform fills missing cells of columns known to the imputer.
func (imp *Imputer) Transform(t *dataset.Table) (*dataset.Table, error) {
	out := t.Clone()
	for _, c := range out.Columns() {
		if c.Kind == dataset.Numeric {
			fill, ok := imp.Numeric[c.Name]
			if !ok {
				continue
			}
			for i, v := range c.Num {
				if math.IsNaN(v) {
					c.Num[i] = fill
				}
			}
			continue
		}
		fill, ok := imp.Categorical[c.Name]
		if !ok {
			continue
		}
		for i := range c.Str {
			if c.Missing[i] {
				c.Str[i] = fill
				c.Missing[i] = false
			}
		}
	}
	return out, nil
}

func median(vals []float64) float64 {
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	return quantileLinear(sorted, 0.5)
}

// quantileLinear matches the default (linear) quantile definition used by
// numpy/pandas: position h = (n-1)p, interpolated between neighbours.
// sorted must be in ascending order.
func quantileLinear(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	h := float64(n-1) * p
	lo := int(math.Floor(h))
	if lo >= n-1 {
		return sorted[n-1]
	}
	return sorted[lo] + (h-float64(lo))*(sorted[lo+1]-sorted[lo])
}

// dropMissingRows removes rows with any missing cell and returns the count removed.
func dropMissingRows(t *dataset.Table) (*dataset.Table, int, error) {
	missing := t.MissingRows()
	keep := make([]bool, len(missing))
	dropped := 0
	for i, m := range missing {
		keep[i] = !m
		if m {
			dropped++
		}
	}
	out, err := t.FilterRows(keep)
	return out, dropped, err
}
