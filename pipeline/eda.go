package pipeline

import (
	"os"
	"path/filepath"

	"github.com/YuminosukeSato/churnscope/config"
	"github.com/YuminosukeSato/churnscope/dataset"
	"github.com/YuminosukeSato/churnscope/eda"
	"github.com/YuminosukeSato/churnscope/pkg/errors"
	"github.com/YuminosukeSato/churnscope/pkg/log"
	"github.com/YuminosukeSato/churnscope/preprocessing"
)

// EDAResult holds the profiles and chart files of an exploration run.
type EDAResult struct {
	Raw     *eda.Profile `yaml:"raw"`
	Cleaned *eda.Profile `yaml:"cleaned"`
	// Correlations of every encoded feature with the 0/1 target.
	Correlations []eda.Correlation `yaml:"correlations"`
	Charts       []string          `yaml:"charts"`
	// Outliers is the interquartile fence of the outlier column, nil when
	// the raw table has no such numeric column.
	Outliers    *OutlierSummary `yaml:"outliers,omitempty"`
	ProfilePath string          `yaml:"-"`
}

// OutlierSummary counts the raw values outside Q1 - K*IQR and Q3 + K*IQR.
type OutlierSummary struct {
	Column string              `yaml:"column"`
	K      float64             `yaml:"k"`
	Fence  preprocessing.Fence `yaml:"fence"`
	Count  int                 `yaml:"count"`
}

// RunEDA profiles the raw and cleaned tables and renders the charts under the
// configured chart directory. Nothing here feeds the model.
func RunEDA(raw *dataset.Table, cfg *config.Config) (*EDAResult, error) {
	var res *EDAResult
	err := errors.SafeExecute("pipeline.RunEDA", func() error {
		var err error
		res, err = runEDA(raw, cfg)
		return err
	})
	return res, err
}

func runEDA(raw *dataset.Table, cfg *config.Config) (*EDAResult, error) {
	logger := log.GetLoggerWithName("pipeline")
	dir := cfg.Path(cfg.Output.Charts)
	target := cfg.Data.Target

	// 空白だけのセルを欠損として数えるため、先に数値化する
	coerced, _, err := preprocessing.CoerceNumeric(raw, presentColumns(raw, cfg.Clean.CoerceColumns)...)
	if err != nil {
		return nil, err
	}
	rawProfile, err := eda.ProfileTable(coerced, eda.DefaultTopValues)
	if err != nil {
		return nil, err
	}
	res := &EDAResult{Raw: rawProfile}
	if res.Outliers, err = outlierSummary(coerced, cfg); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "pipeline: create %s", dir)
	}
	missingPath := filepath.Join(dir, "missing_raw.png")
	if err := eda.MissingChart(rawProfile, missingPath); err != nil {
		return nil, err
	}
	res.Charts = append(res.Charts, missingPath)

	cleaned, _, err := Clean(raw, cfg, nil)
	if err != nil {
		return nil, err
	}
	if res.Cleaned, err = eda.ProfileTable(cleaned, eda.DefaultTopValues); err != nil {
		return nil, err
	}

	labelled, err := preprocessing.EncodeBinary(cleaned, target, cfg.Data.Positive)
	if err != nil {
		return nil, err
	}
	charts, err := eda.WriteCharts(labelled, target, dir)
	if err != nil {
		return nil, err
	}
	res.Charts = append(res.Charts, charts...)

	enc, err := Encode(cleaned, cfg)
	if err != nil {
		return nil, err
	}
	if res.Correlations, err = eda.CorrelationWithTarget(enc.Table, target); err != nil {
		return nil, err
	}
	corrPath := filepath.Join(dir, "correlation_encoded.png")
	if len(res.Correlations) > 0 {
		if err := eda.CorrelationChart(res.Correlations, target, corrPath); err != nil {
			return nil, err
		}
		res.Charts = append(res.Charts, corrPath)
	}

	res.ProfilePath = cfg.Path(cfg.Output.Profile)
	if err := writeYAML(res.ProfilePath, res); err != nil {
		return nil, err
	}
	logger.Info("EDA completed",
		log.StageKey, "eda",
		log.SamplesKey, raw.Rows(),
		"charts", len(res.Charts),
		log.PathKey, res.ProfilePath,
	)
	return res, nil
}

func outlierSummary(t *dataset.Table, cfg *config.Config) (*OutlierSummary, error) {
	oc := cfg.Clean.Outlier
	c := t.Column(oc.Column)
	if c == nil || c.Kind != dataset.Numeric || c.MissingCount() == c.Len() {
		return nil, nil
	}
	fence, err := preprocessing.IQRFence(c.Num, oc.IQRK)
	if err != nil {
		return nil, err
	}
	return &OutlierSummary{Column: oc.Column, K: oc.IQRK, Fence: fence, Count: fence.CountOutside(c.Num)}, nil
}

func presentColumns(t *dataset.Table, names []string) []string {
	var out []string
	for _, n := range names {
		if t.Has(n) {
			out = append(out, n)
		}
	}
	return out
}
