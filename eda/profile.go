// Package eda provides exploratory summaries of a churn table: per-column
// profiles, descriptive statistics, value counts split by the target and
// correlation of every numeric column with the target. Charts are rendered
// with gonum/plot (see charts.go).
package eda

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/churnscope/dataset"
	"github.com/YuminosukeSato/churnscope/pkg/errors"
	"github.com/YuminosukeSato/churnscope/pkg/log"
)

// DefaultTopValues is the number of most frequent values kept per categorical column.
const DefaultTopValues = 10

// ValueCount is one entry of a value_counts style listing.
type ValueCount struct {
	Value string `json:"value" yaml:"value"`
	Count int    `json:"count" yaml:"count"`
}

// Describe holds the summary statistics of a numeric column.
// Std is the sample standard deviation and Skew the adjusted Fisher-Pearson
// coefficient, both computed over non-missing values.
type Describe struct {
	Count  int     `json:"count" yaml:"count"`
	Mean   float64 `json:"mean" yaml:"mean"`
	Std    float64 `json:"std" yaml:"std"`
	Min    float64 `json:"min" yaml:"min"`
	Q25    float64 `json:"q25" yaml:"q25"`
	Median float64 `json:"median" yaml:"median"`
	Q75    float64 `json:"q75" yaml:"q75"`
	Max    float64 `json:"max" yaml:"max"`
	Skew   float64 `json:"skew" yaml:"skew"`
}

// ColumnProfile summarizes one column.
type ColumnProfile struct {
	Name           string       `json:"name" yaml:"name"`
	Kind           string       `json:"kind" yaml:"kind"`
	Missing        int          `json:"missing" yaml:"missing"`
	MissingPercent float64      `json:"missing_percent" yaml:"missing_percent"`
	Unique         int          `json:"unique" yaml:"unique"`
	TopValues      []ValueCount `json:"top_values,omitempty" yaml:"top_values,omitempty"`
	Describe       *Describe    `json:"describe,omitempty" yaml:"describe,omitempty"`
}

// Profile is the column-by-column summary of a table.
type Profile struct {
	Rows    int             `json:"rows" yaml:"rows"`
	Columns []ColumnProfile `json:"columns" yaml:"columns"`
}

// Column returns the profile of the named column or nil.
func (p *Profile) Column(name string) *ColumnProfile {
	for i := range p.Columns {
		if p.Columns[i].Name == name {
			return &p.Columns[i]
		}
	}
	return nil
}

// WithMissing returns the names of the columns that have at least one missing value.
func (p *Profile) WithMissing() []string {
	var names []string
	for _, c := range p.Columns {
		if c.Missing > 0 {
			names = append(names, c.Name)
		}
	}
	return names
}

// ProfileTable computes a Profile. Numeric columns get a Describe block,
// categorical columns their topN most frequent values (topN <= 0 keeps all).
func ProfileTable(t *dataset.Table, topN int) (*Profile, error) {
	if t == nil || t.Rows() == 0 {
		return nil, errors.NewModelError("eda.ProfileTable", "empty data", errors.ErrEmptyData)
	}
	p := &Profile{Rows: t.Rows(), Columns: make([]ColumnProfile, 0, t.NumCols())}
	for _, c := range t.Columns() {
		cp := ColumnProfile{
			Name:    c.Name,
			Kind:    c.Kind.String(),
			Missing: c.MissingCount(),
		}
		cp.MissingPercent = 100 * float64(cp.Missing) / float64(t.Rows())
		counts := ValueCounts(c)
		cp.Unique = len(counts)
		if c.Kind == dataset.Numeric {
			if d, ok := DescribeColumn(c); ok {
				cp.Describe = &d
			}
		} else {
			if topN > 0 && len(counts) > topN {
				counts = counts[:topN]
			}
			cp.TopValues = counts
		}
		p.Columns = append(p.Columns, cp)
	}

	log.GetLoggerWithName("eda").Info("Table profiled",
		log.SamplesKey, p.Rows,
		log.FeaturesKey, len(p.Columns),
		"columns_with_missing", len(p.WithMissing()),
	)
	return p, nil
}

// ValueCounts counts the non-missing values of a column, most frequent first.
// Ties are ordered by value.
func ValueCounts(c *dataset.Column) []ValueCount {
	m := make(map[string]int)
	for i := 0; i < c.Len(); i++ {
		if c.IsMissing(i) {
			continue
		}
		m[c.String(i)]++
	}
	out := make([]ValueCount, 0, len(m))
	for v, n := range m {
		out = append(out, ValueCount{Value: v, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Value < out[j].Value
	})
	return out
}

// DescribeColumn computes Describe over the non-missing values of a numeric
// column. ok is false when the column is categorical or has no values.
// Quartiles use the empirical quantile of the sorted values.
func DescribeColumn(c *dataset.Column) (Describe, bool) {
	if c.Kind != dataset.Numeric {
		return Describe{}, false
	}
	vals := presentValues(c)
	if len(vals) == 0 {
		return Describe{}, false
	}
	sort.Float64s(vals)
	mean, std := stat.MeanStdDev(vals, nil)
	d := Describe{
		Count:  len(vals),
		Mean:   mean,
		Std:    std,
		Min:    vals[0],
		Q25:    stat.Quantile(0.25, stat.Empirical, vals, nil),
		Median: stat.Quantile(0.5, stat.Empirical, vals, nil),
		Q75:    stat.Quantile(0.75, stat.Empirical, vals, nil),
		Max:    vals[len(vals)-1],
		Skew:   math.NaN(),
	}
	if len(vals) > 2 && std > 0 {
		d.Skew = stat.Skew(vals, nil)
	}
	return d, true
}

// LogSkew is the skewness of log(x) over the strictly positive values of a
// numeric column; NaN when fewer than three such values exist.
func LogSkew(c *dataset.Column) float64 {
	var logs []float64
	for _, v := range presentValues(c) {
		if v > 0 {
			logs = append(logs, math.Log(v))
		}
	}
	if len(logs) < 3 || floats.Max(logs) == floats.Min(logs) {
		return math.NaN()
	}
	return stat.Skew(logs, nil)
}

// CountsByTarget counts the values of col separately for every target value.
// The result maps target value -> column value -> count. Rows where either
// cell is missing are skipped.
func CountsByTarget(t *dataset.Table, col, target string) (map[string]map[string]int, error) {
	c, y, err := columnPair(t, "eda.CountsByTarget", col, target)
	if err != nil {
		return nil, err
	}
	out := make(map[string]map[string]int)
	for i := 0; i < t.Rows(); i++ {
		if c.IsMissing(i) || y.IsMissing(i) {
			continue
		}
		k := y.String(i)
		if out[k] == nil {
			out[k] = make(map[string]int)
		}
		out[k][c.String(i)]++
	}
	return out, nil
}

// Correlation is the Pearson correlation of one column with the target.
type Correlation struct {
	Feature string  `json:"feature" yaml:"feature"`
	Value   float64 `json:"value" yaml:"value"`
}

// CorrelationWithTarget computes the Pearson correlation of every numeric
// column with the numeric target column, sorted descending. Pairs with a
// missing cell are skipped; constant columns are left out because their
// correlation is undefined.
func CorrelationWithTarget(t *dataset.Table, target string) ([]Correlation, error) {
	y := t.Column(target)
	if y == nil {
		return nil, errors.NewSchemaMismatchError("eda.CorrelationWithTarget", []string{target}, nil)
	}
	if y.Kind != dataset.Numeric {
		return nil, errors.NewValidationError("target", "must be numeric (encode it first)", target)
	}

	var out []Correlation
	for _, c := range t.Columns() {
		if c.Name == target || c.Kind != dataset.Numeric {
			continue
		}
		xs := make([]float64, 0, t.Rows())
		ys := make([]float64, 0, t.Rows())
		for i := 0; i < t.Rows(); i++ {
			if c.IsMissing(i) || y.IsMissing(i) {
				continue
			}
			xs = append(xs, c.Num[i])
			ys = append(ys, y.Num[i])
		}
		if len(xs) < 2 {
			continue
		}
		r := stat.Correlation(xs, ys, nil)
		if math.IsNaN(r) {
			continue
		}
		out = append(out, Correlation{Feature: c.Name, Value: r})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Value > out[j].Value })
	return out, nil
}

func presentValues(c *dataset.Column) []float64 {
	vals := make([]float64, 0, c.Len())
	for i := 0; i < c.Len(); i++ {
		if !c.IsMissing(i) {
			vals = append(vals, c.Num[i])
		}
	}
	return vals
}

func columnPair(t *dataset.Table, op, col, target string) (*dataset.Column, *dataset.Column, error) {
	var missing []string
	c, y := t.Column(col), t.Column(target)
	if c == nil {
		missing = append(missing, col)
	}
	if y == nil {
		missing = append(missing, target)
	}
	if len(missing) > 0 {
		return nil, nil, errors.NewSchemaMismatchError(op, missing, nil)
	}
	return c, y, nil
}
