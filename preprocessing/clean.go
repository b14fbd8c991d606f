// Package preprocessing turns the raw churn table into a numeric feature table:
// cleaning, bucketing, encoding and scaling.
package preprocessing

import (
	"math"
	"strconv"
	"strings"

	"github.com/YuminosukeSato/churnscope/dataset"
	"github.com/YuminosukeSato/churnscope/pkg/errors"
	"github.com/YuminosukeSato/churnscope/pkg/log"
)

// rowIDColumn tracks source row positions through cleaning.
const rowIDColumn = "__row_id"

// OutlierClip configures optional percentile clipping of one numeric column.
// Bounds is nil until the percentiles are fitted on training rows; once set,
// every later Clean clips to the same limits.
type OutlierClip struct {
	Enabled bool
	Column  string
	Lower   float64
	Upper   float64
	Bounds  *ClipBounds
}

// CleanConfig holds every cleaning constant. It is stored in the model bundle
// so that inference cleans raw rows exactly like training did.
type CleanConfig struct {
	// CoerceColumns are parsed as numbers; unparseable cells become missing.
	CoerceColumns []string
	// RowFilter is an optional CEL expression; see RowFilter.
	RowFilter string
	// OutlierClip is applied after filtering when enabled.
	OutlierClip OutlierClip
	// BucketSource is bucketed into BucketColumn. Empty disables bucketing.
	BucketSource string
	BucketColumn string
	Bucket       Bucketizer
	// Missing selects drop or impute.
	Missing MissingPolicy
	// DropColumns are removed at the end; names absent from the table are ignored.
	DropColumns []string
}

// DefaultCleanConfig returns the configuration used for the Telco churn data.
func DefaultCleanConfig() CleanConfig {
	return CleanConfig{
		CoerceColumns: []string{"TotalCharges"},
		OutlierClip:   OutlierClip{Column: "TotalCharges", Lower: 0.15, Upper: 0.85},
		BucketSource:  "tenure",
		BucketColumn:  "tenure_group",
		Bucket:        *NewTenureBucketizer(),
		Missing:       MissingPolicy{Strategy: DropRows},
		DropColumns:   []string{"customerID", "tenure"},
	}
}

// CleanReport summarizes what a Clean call did.
type CleanReport struct {
	RowsIn   int
	RowsOut  int
	Coerced  int // cells turned into missing by numeric coercion
	Filtered int // rows removed by the row filter
	Clipped  int // values changed by outlier clipping
	Dropped  int // rows removed by the missing-value policy
	Imputed  int // cells filled by the missing-value policy
	// ClipBounds are the limits used by outlier clipping, fitted or frozen.
	ClipBounds *ClipBounds
	// SourceRows maps each output row to its position in the input table.
	SourceRows []int
	// Imputer is the fill model used when the policy is Impute.
	Imputer *Imputer
}

// Cleaner applies CleanConfig to raw tables.
type Cleaner struct {
	Config  CleanConfig
	imputer *Imputer
	logger  log.Logger
}

// CleanerOption configures a Cleaner.
type CleanerOption func(*Cleaner)

// WithImputer freezes the fill values used by the Impute policy.
func WithImputer(imp *Imputer) CleanerOption {
	return func(c *Cleaner) {
		c.imputer = imp
	}
}

// WithCleanerLogger replaces the component logger.
func WithCleanerLogger(l log.Logger) CleanerOption {
	return func(c *Cleaner) {
		c.logger = l
	}
}

// NewCleaner creates a Cleaner.
func NewCleaner(cfg CleanConfig, opts ...CleanerOption) *Cleaner {
	c := &Cleaner{Config: cfg}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = log.GetLoggerWithName("preprocessing.cleaner")
	}
	return c
}

// Clean runs coerce, row filter, outlier clip, bucketing, missing policy and
// column drop, in that order. The input table is not modified.
// Clip percentiles are fitted on t unless OutlierClip.Bounds is set.
//
// The result has no missing cells. An empty result is an EmptyTableError.
func (c *Cleaner) Clean(t *dataset.Table) (*dataset.Table, *CleanReport, error) {
	cfg := c.Config
	rep := &CleanReport{RowsIn: t.Rows()}

	ids := make([]float64, t.Rows())
	for i := range ids {
		ids[i] = float64(i)
	}
	cur, err := t.AddColumn(dataset.NewNumericColumn(rowIDColumn, ids))
	if err != nil {
		return nil, nil, err
	}

	cur, rep.Coerced, err = CoerceNumeric(cur, cfg.CoerceColumns...)
	if err != nil {
		return nil, nil, err
	}

	if cfg.RowFilter != "" {
		f, err := NewRowFilter(cfg.RowFilter)
		if err != nil {
			return nil, nil, err
		}
		if cur, rep.Filtered, err = f.Apply(cur); err != nil {
			return nil, nil, err
		}
	}

	if cfg.OutlierClip.Enabled {
		oc := cfg.OutlierClip
		b := oc.Bounds
		if b == nil {
			col, err := numericColumn(cur, oc.Column)
			if err != nil {
				return nil, nil, err
			}
			fitted, err := PercentileBounds(col.Num, oc.Lower, oc.Upper)
			if err != nil {
				return nil, nil, err
			}
			b = &fitted
		}
		if cur, rep.Clipped, err = ClipRange(cur, oc.Column, *b); err != nil {
			return nil, nil, err
		}
		rep.ClipBounds = b
	}

	if cfg.BucketSource != "" {
		b := cfg.Bucket
		if cur, err = b.Apply(cur, cfg.BucketSource, cfg.BucketColumn); err != nil {
			return nil, nil, err
		}
	}

	switch cfg.Missing.Strategy {
	case DropRows, "":
		if cur, rep.Dropped, err = dropMissingRows(cur); err != nil {
			return nil, nil, err
		}
	case Impute:
		imp := c.imputer
		if imp == nil {
			imp, err = FitImputer(cur.Drop(rowIDColumn))
			if err != nil {
				return nil, nil, err
			}
		}
		rep.Imputed = countMissing(cur)
		if cur, err = imp.Transform(cur); err != nil {
			return nil, nil, err
		}
		// Columns unknown to a frozen imputer may still hold gaps.
		var dropped int
		if cur, dropped, err = dropMissingRows(cur); err != nil {
			return nil, nil, err
		}
		rep.Dropped = dropped
		rep.Imputer = imp
	default:
		return nil, nil, errors.NewValidationError("missing_policy", "unknown strategy", cfg.Missing.Strategy)
	}

	rep.SourceRows = make([]int, cur.Rows())
	for i, v := range cur.Column(rowIDColumn).Num {
		rep.SourceRows[i] = int(v)
	}
	cur = cur.Drop(append([]string{rowIDColumn}, cfg.DropColumns...)...)
	rep.RowsOut = cur.Rows()

	if cur.Rows() == 0 {
		return nil, rep, errors.NewEmptyTableError("clean", rep.RowsIn, rep.RowsIn)
	}

	c.logger.Info("Cleaning completed",
		log.StageKey, "clean",
		log.SamplesKey, rep.RowsOut,
		log.FeaturesKey, cur.NumCols(),
		log.RowsDroppedKey, rep.RowsIn-rep.RowsOut,
	)
	c.logger.Debug("Cleaning details",
		log.StageKey, "clean",
		"coerced", rep.Coerced,
		"filtered", rep.Filtered,
		"clipped", rep.Clipped,
		"imputed", rep.Imputed,
	)
	return cur, rep, nil
}

// CoerceNumeric parses the named columns as float64. Unparseable cells become
// missing and are counted. Numeric columns pass through unchanged.
func CoerceNumeric(t *dataset.Table, cols ...string) (*dataset.Table, int, error) {
	out := t
	coerced := 0
	for _, name := range cols {
		c := out.Column(name)
		if c == nil {
			return nil, 0, errors.NewSchemaMismatchError("coerce", []string{name}, nil)
		}
		if c.Kind == dataset.Numeric {
			continue
		}
		vals := make([]float64, c.Len())
		for i, s := range c.Str {
			if c.Missing[i] {
				vals[i] = math.NaN()
				continue
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil {
				vals[i] = math.NaN()
				coerced++
				continue
			}
			vals[i] = v
		}
		var err error
		if out, err = out.ReplaceColumn(dataset.NewNumericColumn(name, vals)); err != nil {
			return nil, 0, err
		}
	}
	return out, coerced, nil
}

func countMissing(t *dataset.Table) int {
	n := 0
	for _, c := range t.Columns() {
		n += c.MissingCount()
	}
	return n
}
