// Package config holds every tunable constant of the churn pipeline.
//
// 値の優先順位: CLI フラグ > 環境変数 (CHURN_*) > 設定ファイル (YAML) > デフォルト。
// The defaults reproduce the choices made for the Telco churn data set; they
// are empirical and not expected to generalize to other data.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/YuminosukeSato/churnscope/dataset"
	"github.com/YuminosukeSato/churnscope/pkg/errors"
	"github.com/YuminosukeSato/churnscope/preprocessing"
)

// EnvPrefix is the prefix of environment overrides, e.g. CHURN_TRAIN_TEST_SIZE.
const EnvPrefix = "CHURN"

// Config is the root configuration.
type Config struct {
	LogLevel  string          `mapstructure:"log_level" yaml:"log_level"`
	Data      DataConfig      `mapstructure:"data" yaml:"data"`
	Clean     CleanConfig     `mapstructure:"clean" yaml:"clean"`
	Encode    EncodeConfig    `mapstructure:"encode" yaml:"encode"`
	Selection SelectionConfig `mapstructure:"selection" yaml:"selection"`
	Train     TrainConfig     `mapstructure:"train" yaml:"train"`
	Output    OutputConfig    `mapstructure:"output" yaml:"output"`
}

// DataConfig describes the raw CSV.
type DataConfig struct {
	Delimiter string   `mapstructure:"delimiter" yaml:"delimiter"`
	NAValues  []string `mapstructure:"na_values" yaml:"na_values"`
	Target    string   `mapstructure:"target" yaml:"target"`
	Positive  string   `mapstructure:"positive" yaml:"positive"`
}

// CleanConfig mirrors preprocessing.CleanConfig in a flat, file-friendly form.
type CleanConfig struct {
	CoerceColumns []string      `mapstructure:"coerce_columns" yaml:"coerce_columns"`
	RowFilter     string        `mapstructure:"row_filter" yaml:"row_filter"`
	Missing       string        `mapstructure:"missing" yaml:"missing"`
	DropColumns   []string      `mapstructure:"drop_columns" yaml:"drop_columns"`
	Bucket        BucketConfig  `mapstructure:"bucket" yaml:"bucket"`
	Outlier       OutlierConfig `mapstructure:"outlier" yaml:"outlier"`
}

// BucketConfig defines the fixed-width grouping of Source into Column.
type BucketConfig struct {
	Source string   `mapstructure:"source" yaml:"source"`
	Column string   `mapstructure:"column" yaml:"column"`
	Start  float64  `mapstructure:"start" yaml:"start"`
	Width  float64  `mapstructure:"width" yaml:"width"`
	Count  int      `mapstructure:"count" yaml:"count"`
	Labels []string `mapstructure:"labels" yaml:"labels"`
}

// OutlierConfig clips Column to its [Lower, Upper] percentiles when Enabled.
// IQRK is the multiplier of the interquartile fence reported by eda.
type OutlierConfig struct {
	Enabled bool    `mapstructure:"enabled" yaml:"enabled"`
	Column  string  `mapstructure:"column" yaml:"column"`
	Lower   float64 `mapstructure:"lower" yaml:"lower"`
	Upper   float64 `mapstructure:"upper" yaml:"upper"`
	IQRK    float64 `mapstructure:"iqr_k" yaml:"iqr_k"`
}

// EncodeConfig controls categorical encoding.
type EncodeConfig struct {
	// BinaryColumns are label-encoded (1 iff value == Positive) instead of one-hot.
	BinaryColumns []string `mapstructure:"binary_columns" yaml:"binary_columns"`
	Positive      string   `mapstructure:"positive" yaml:"positive"`
}

// SelectionConfig configures the feature-selection report.
type SelectionConfig struct {
	K                    int     `mapstructure:"k" yaml:"k"`
	ExtraTreesEstimators int     `mapstructure:"extra_trees_estimators" yaml:"extra_trees_estimators"`
	LassoAlpha           float64 `mapstructure:"lasso_alpha" yaml:"lasso_alpha"`
	RandomState          uint64  `mapstructure:"random_state" yaml:"random_state"`
	// Apply keeps only the chi2 top-K features in the persisted table.
	Apply bool `mapstructure:"apply" yaml:"apply"`
}

// TrainConfig configures splitting, candidates and rebalancing.
type TrainConfig struct {
	TestSize           float64        `mapstructure:"test_size" yaml:"test_size"`
	Seed               uint64         `mapstructure:"seed" yaml:"seed"`
	Candidates         []string       `mapstructure:"candidates" yaml:"candidates"`
	SelectionMetric    string         `mapstructure:"selection_metric" yaml:"selection_metric"`
	Rebalance          bool           `mapstructure:"rebalance" yaml:"rebalance"`
	ImbalanceThreshold float64        `mapstructure:"imbalance_threshold" yaml:"imbalance_threshold"`
	Tree               TreeConfig     `mapstructure:"tree" yaml:"tree"`
	Forest             ForestConfig   `mapstructure:"forest" yaml:"forest"`
	Logistic           LogisticConfig `mapstructure:"logistic" yaml:"logistic"`
	NJobs              int            `mapstructure:"n_jobs" yaml:"n_jobs"`
}

// TreeConfig holds decision tree hyperparameters. MaxDepth 0 means unlimited.
type TreeConfig struct {
	Criterion       string `mapstructure:"criterion" yaml:"criterion"`
	MaxDepth        int    `mapstructure:"max_depth" yaml:"max_depth"`
	MinSamplesSplit int    `mapstructure:"min_samples_split" yaml:"min_samples_split"`
	MinSamplesLeaf  int    `mapstructure:"min_samples_leaf" yaml:"min_samples_leaf"`
}

// ForestConfig holds random forest hyperparameters.
type ForestConfig struct {
	NEstimators    int    `mapstructure:"n_estimators" yaml:"n_estimators"`
	Criterion      string `mapstructure:"criterion" yaml:"criterion"`
	MaxDepth       int    `mapstructure:"max_depth" yaml:"max_depth"`
	MinSamplesLeaf int    `mapstructure:"min_samples_leaf" yaml:"min_samples_leaf"`
	MaxFeatures    string `mapstructure:"max_features" yaml:"max_features"`
}

// LogisticConfig holds logistic regression hyperparameters.
type LogisticConfig struct {
	C       float64 `mapstructure:"c" yaml:"c"`
	MaxIter int     `mapstructure:"max_iter" yaml:"max_iter"`
}

// OutputConfig names the files written under Dir.
type OutputConfig struct {
	Dir             string `mapstructure:"dir" yaml:"dir"`
	ScaledCSV       string `mapstructure:"scaled_csv" yaml:"scaled_csv"`
	Preprocessor    string `mapstructure:"preprocessor" yaml:"preprocessor"`
	SelectionReport string `mapstructure:"selection_report" yaml:"selection_report"`
	Model           string `mapstructure:"model" yaml:"model"`
	Report          string `mapstructure:"report" yaml:"report"`
	Profile         string `mapstructure:"profile" yaml:"profile"`
	Charts          string `mapstructure:"charts" yaml:"charts"`
}

// Candidate model names.
const (
	DecisionTree       = "decision_tree"
	RandomForest       = "random_forest"
	LogisticRegression = "logistic_regression"
)

var defaults = map[string]interface{}{
	"log_level": "info",

	"data.delimiter": ",",
	"data.na_values": []string{},
	"data.target":    "Churn",
	"data.positive":  "Yes",

	"clean.coerce_columns":  []string{"TotalCharges"},
	"clean.row_filter":      "",
	"clean.missing":         string(preprocessing.DropRows),
	"clean.drop_columns":    []string{"customerID", "tenure"},
	"clean.bucket.source":   "tenure",
	"clean.bucket.column":   "tenure_group",
	"clean.bucket.start":    1.0,
	"clean.bucket.width":    12.0,
	"clean.bucket.count":    6,
	"clean.bucket.labels":   []string{},
	"clean.outlier.enabled": false,
	"clean.outlier.column":  "TotalCharges",
	"clean.outlier.lower":   0.15,
	"clean.outlier.upper":   0.85,
	"clean.outlier.iqr_k":   0.5,

	"encode.binary_columns": []string{},
	"encode.positive":       "Yes",

	"selection.k":                      12,
	"selection.extra_trees_estimators": 100,
	"selection.lasso_alpha":            0.005,
	"selection.random_state":           0,
	"selection.apply":                  false,

	"train.test_size":               0.2,
	"train.seed":                    0,
	"train.candidates":              []string{DecisionTree, RandomForest},
	"train.selection_metric":        "f1",
	"train.rebalance":               true,
	"train.imbalance_threshold":     0.35,
	"train.n_jobs":                  0,
	"train.tree.criterion":          "gini",
	"train.tree.max_depth":          0,
	"train.tree.min_samples_split":  2,
	"train.tree.min_samples_leaf":   1,
	"train.forest.n_estimators":     100,
	"train.forest.criterion":        "gini",
	"train.forest.max_depth":        0,
	"train.forest.min_samples_leaf": 1,
	"train.forest.max_features":     "sqrt",
	"train.logistic.c":              1.0,
	"train.logistic.max_iter":       100,

	"output.dir":              "out",
	"output.scaled_csv":       "scaled_churn.csv",
	"output.preprocessor":     "preprocessor.gob",
	"output.selection_report": "selection.yaml",
	"output.model":            "model.gob",
	"output.report":           "training.yaml",
	"output.profile":          "profile.yaml",
	"output.charts":           "charts",
}

// NewViper returns a viper instance with every default registered and
// CHURN_* environment overrides enabled. Nested keys map to env names by
// replacing dots with underscores.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	return v
}

// Default returns the configuration with every default applied and no
// file or environment lookup.
func Default() *Config {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		panic(err)
	}
	return &c
}

// Load reads defaults, then cfgFile (optional), then the environment.
func Load(cfgFile string) (*Config, error) {
	return LoadWith(NewViper(), cfgFile)
}

// LoadWith is Load on a caller-provided viper instance, so that the CLI can
// bind flags before unmarshalling.
func LoadWith(v *viper.Viper, cfgFile string) (*Config, error) {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "config: read %s", cfgFile)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, errors.Wrap(err, "config: unmarshal")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Save writes c as YAML, creating the parent directory.
func Save(c *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "config: create directory for %s", path)
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "config: marshal yaml")
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return errors.Wrapf(err, "config: write %s", path)
	}
	return nil
}

// Validate checks value ranges that would otherwise fail deep inside a stage.
func (c *Config) Validate() error {
	if c.Data.Target == "" {
		return errors.NewValidationError("data.target", "must not be empty", c.Data.Target)
	}
	if utf8.RuneCountInString(c.Data.Delimiter) > 1 {
		return errors.NewValidationError("data.delimiter", "must be a single character", c.Data.Delimiter)
	}
	if _, err := preprocessing.ParseMissingStrategy(c.Clean.Missing); err != nil {
		return err
	}
	if c.Clean.Bucket.Source != "" {
		if err := c.Bucketizer().Validate(); err != nil {
			return err
		}
	}
	if c.Clean.Outlier.Enabled && !(0 <= c.Clean.Outlier.Lower && c.Clean.Outlier.Lower < c.Clean.Outlier.Upper && c.Clean.Outlier.Upper <= 1) {
		return errors.NewValidationError("clean.outlier", "need 0 <= lower < upper <= 1", [2]float64{c.Clean.Outlier.Lower, c.Clean.Outlier.Upper})
	}
	if c.Clean.Outlier.IQRK < 0 {
		return errors.NewValidationError("clean.outlier.iqr_k", "must be non-negative", c.Clean.Outlier.IQRK)
	}
	if c.Selection.K <= 0 {
		return errors.NewValidationError("selection.k", "must be positive", c.Selection.K)
	}
	if c.Selection.LassoAlpha < 0 {
		return errors.NewValidationError("selection.lasso_alpha", "must be non-negative", c.Selection.LassoAlpha)
	}
	if c.Train.TestSize <= 0 || c.Train.TestSize >= 1 {
		return errors.NewValidationError("train.test_size", "must be in (0, 1)", c.Train.TestSize)
	}
	if c.Train.ImbalanceThreshold < 0 || c.Train.ImbalanceThreshold > 0.5 {
		return errors.NewValidationError("train.imbalance_threshold", "must be in [0, 0.5]", c.Train.ImbalanceThreshold)
	}
	if len(c.Train.Candidates) == 0 {
		return errors.NewValidationError("train.candidates", "need at least one model", c.Train.Candidates)
	}
	for _, name := range c.Train.Candidates {
		switch name {
		case DecisionTree, RandomForest, LogisticRegression:
		default:
			return errors.NewValidationError("train.candidates", "unknown model", name)
		}
	}
	switch c.Train.SelectionMetric {
	case "f1", "recall", "precision", "accuracy", "auc":
	default:
		return errors.NewValidationError("train.selection_metric", "must be one of f1, recall, precision, accuracy, auc", c.Train.SelectionMetric)
	}
	return nil
}

// Bucketizer builds the tenure bucketizer from the config.
func (c *Config) Bucketizer() *preprocessing.Bucketizer {
	b := c.Clean.Bucket
	return &preprocessing.Bucketizer{Start: b.Start, Width: b.Width, Count: b.Count, Labels: b.Labels}
}

// CleanConfig converts the file form into the cleaner's configuration.
func (c *Config) CleanConfig() (preprocessing.CleanConfig, error) {
	strategy, err := preprocessing.ParseMissingStrategy(c.Clean.Missing)
	if err != nil {
		return preprocessing.CleanConfig{}, err
	}
	cc := preprocessing.CleanConfig{
		CoerceColumns: c.Clean.CoerceColumns,
		RowFilter:     c.Clean.RowFilter,
		OutlierClip: preprocessing.OutlierClip{
			Enabled: c.Clean.Outlier.Enabled,
			Column:  c.Clean.Outlier.Column,
			Lower:   c.Clean.Outlier.Lower,
			Upper:   c.Clean.Outlier.Upper,
		},
		BucketSource: c.Clean.Bucket.Source,
		BucketColumn: c.Clean.Bucket.Column,
		Bucket:       *c.Bucketizer(),
		Missing:      preprocessing.MissingPolicy{Strategy: strategy},
		DropColumns:  c.Clean.DropColumns,
	}
	return cc, nil
}

// ReadOptions returns the CSV options for raw input. The empty cell is always
// missing; NAValues add further markers.
func (c *Config) ReadOptions() dataset.ReadOptions {
	var opts dataset.ReadOptions
	if c.Data.Delimiter != "" {
		opts.Delimiter, _ = utf8.DecodeRuneInString(c.Data.Delimiter)
	}
	if len(c.Data.NAValues) > 0 {
		opts.NAValues = append([]string{""}, c.Data.NAValues...)
	}
	return opts
}

// Path joins name onto the output directory.
func (c *Config) Path(name string) string {
	return filepath.Join(c.Output.Dir, name)
}
