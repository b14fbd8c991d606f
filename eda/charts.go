package eda

import (
	"math"
	"os"
	"path/filepath"
	"sort"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/YuminosukeSato/churnscope/dataset"
	"github.com/YuminosukeSato/churnscope/pkg/errors"
	"github.com/YuminosukeSato/churnscope/pkg/log"
)

// ChartSize is the side length of every rendered chart.
var ChartSize = 6 * vg.Inch

// DefaultBins is the histogram bin count used by WriteCharts.
const DefaultBins = 30

// MissingChart renders the missing percentage of every column.
func MissingChart(p *Profile, path string) error {
	names := make([]string, len(p.Columns))
	vals := make(plotter.Values, len(p.Columns))
	for i, c := range p.Columns {
		names[i] = c.Name
		vals[i] = c.MissingPercent
	}
	return barChart("Missing values", "% missing", names, vals, path)
}

// CorrelationChart renders correlations with the target as a bar chart,
// in the order given.
func CorrelationChart(corrs []Correlation, target, path string) error {
	if len(corrs) == 0 {
		return errors.NewValueError("eda.CorrelationChart", "no correlations to plot")
	}
	names := make([]string, len(corrs))
	vals := make(plotter.Values, len(corrs))
	for i, c := range corrs {
		names[i] = c.Feature
		vals[i] = c.Value
	}
	return barChart("Correlation with "+target, "pearson r", names, vals, path)
}

// CountByTargetChart renders the value counts of col as grouped bars, one
// group per target value.
func CountByTargetChart(t *dataset.Table, col, target, path string) error {
	counts, err := CountsByTarget(t, col, target)
	if err != nil {
		return err
	}
	if len(counts) == 0 {
		return errors.NewValueError("eda.CountByTargetChart", "no complete rows for "+col)
	}

	categorySet := map[string]struct{}{}
	targets := make([]string, 0, len(counts))
	for k, m := range counts {
		targets = append(targets, k)
		for v := range m {
			categorySet[v] = struct{}{}
		}
	}
	sort.Strings(targets)
	categories := make([]string, 0, len(categorySet))
	for v := range categorySet {
		categories = append(categories, v)
	}
	sort.Strings(categories)

	p := plot.New()
	p.Title.Text = col + " by " + target
	p.Y.Label.Text = "count"
	p.Legend.Top = true

	w := vg.Points(40) / vg.Length(len(targets))
	for gi, k := range targets {
		vals := make(plotter.Values, len(categories))
		for ci, v := range categories {
			vals[ci] = float64(counts[k][v])
		}
		bars, err := plotter.NewBarChart(vals, w)
		if err != nil {
			return errors.Wrapf(err, "eda: bars for %s=%s", target, k)
		}
		bars.LineStyle.Width = vg.Length(0)
		bars.Color = plotutil.Color(gi)
		bars.Offset = w * (vg.Length(gi) - vg.Length(len(targets)-1)/2)
		p.Add(bars)
		p.Legend.Add(target+"="+k, bars)
	}
	p.NominalX(categories...)
	rotateTicks(p, len(categories))
	return save(p, path)
}

// HistogramChart renders a histogram of the non-missing values of a numeric column.
func HistogramChart(t *dataset.Table, col string, bins int, path string) error {
	c := t.Column(col)
	if c == nil {
		return errors.NewSchemaMismatchError("eda.HistogramChart", []string{col}, nil)
	}
	if c.Kind != dataset.Numeric {
		return errors.NewValidationError("column", "must be numeric", col)
	}
	vals := plotter.Values(presentValues(c))
	if len(vals) == 0 {
		return errors.NewValueError("eda.HistogramChart", "no values in "+col)
	}
	if bins <= 0 {
		bins = DefaultBins
	}

	p := plot.New()
	p.Title.Text = col
	p.X.Label.Text = col
	p.Y.Label.Text = "count"
	h, err := plotter.NewHist(vals, bins)
	if err != nil {
		return errors.Wrapf(err, "eda: histogram of %s", col)
	}
	h.FillColor = plotutil.Color(0)
	p.Add(h)
	return save(p, path)
}

// WriteCharts renders the standard chart set into dir and returns the files
// written: missing values, one count chart per categorical column, one
// histogram per non-constant numeric column and, when the target is numeric,
// the correlation chart.
func WriteCharts(t *dataset.Table, target, dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "eda: create %s", dir)
	}
	prof, err := ProfileTable(t, DefaultTopValues)
	if err != nil {
		return nil, err
	}

	var written []string
	emit := func(name string, render func(string) error) error {
		path := filepath.Join(dir, name+".png")
		if err := render(path); err != nil {
			return err
		}
		written = append(written, path)
		return nil
	}

	if err := emit("missing", func(path string) error { return MissingChart(prof, path) }); err != nil {
		return written, err
	}
	for _, c := range t.Columns() {
		if c.Name == target {
			continue
		}
		c := c
		if c.Kind == dataset.Categorical {
			if !t.Has(target) {
				continue
			}
			if err := emit("count_"+c.Name, func(path string) error {
				return CountByTargetChart(t, c.Name, target, path)
			}); err != nil {
				return written, err
			}
			continue
		}
		if d, ok := DescribeColumn(c); !ok || d.Min == d.Max {
			continue
		}
		if err := emit("hist_"+c.Name, func(path string) error {
			return HistogramChart(t, c.Name, DefaultBins, path)
		}); err != nil {
			return written, err
		}
	}

	if y := t.Column(target); y != nil && y.Kind == dataset.Numeric {
		corrs, err := CorrelationWithTarget(t, target)
		if err != nil {
			return written, err
		}
		if len(corrs) > 0 {
			if err := emit("correlation", func(path string) error {
				return CorrelationChart(corrs, target, path)
			}); err != nil {
				return written, err
			}
		}
	}

	log.GetLoggerWithName("eda").Info("Charts written",
		log.PathKey, dir,
		"charts", len(written),
	)
	return written, nil
}

func barChart(title, ylabel string, names []string, vals plotter.Values, path string) error {
	p := plot.New()
	p.Title.Text = title
	p.Y.Label.Text = ylabel
	bars, err := plotter.NewBarChart(vals, vg.Points(12))
	if err != nil {
		return errors.Wrapf(err, "eda: %s", title)
	}
	bars.LineStyle.Width = vg.Length(0)
	bars.Color = plotutil.Color(0)
	p.Add(bars)
	p.NominalX(names...)
	rotateTicks(p, len(names))
	return save(p, path)
}

// 項目が多いときはラベルを縦にする
func rotateTicks(p *plot.Plot, n int) {
	if n <= 6 {
		return
	}
	p.X.Tick.Label.Rotation = math.Pi / 2
	p.X.Tick.Label.XAlign = draw.XRight
	p.X.Tick.Label.YAlign = draw.YCenter
}

func save(p *plot.Plot, path string) error {
	if err := p.Save(ChartSize, ChartSize, path); err != nil {
		return errors.Wrapf(err, "eda: save chart %s", path)
	}
	return nil
}
