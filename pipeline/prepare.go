package pipeline

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/YuminosukeSato/churnscope/artifact"
	"github.com/YuminosukeSato/churnscope/config"
	"github.com/YuminosukeSato/churnscope/dataset"
	"github.com/YuminosukeSato/churnscope/pkg/errors"
	"github.com/YuminosukeSato/churnscope/pkg/log"
	"github.com/YuminosukeSato/churnscope/preprocessing"
	"github.com/YuminosukeSato/churnscope/sklearn/feature_selection"
	"github.com/YuminosukeSato/churnscope/sklearn/model_selection"
)

// Encoded is the all-numeric table produced by Encode: the feature columns in
// order followed by the 0/1 target.
type Encoded struct {
	Table         *dataset.Table
	Features      []string
	Target        string
	Vocabulary    *preprocessing.Vocabulary
	BinaryColumns map[string]string
}

// Prepared is the outcome of Prepare.
type Prepared struct {
	// Table holds the scaled features followed by the target.
	Table        *dataset.Table
	Preprocessor *artifact.Preprocessor
	CleanReport  *preprocessing.CleanReport
	Selection    *feature_selection.Report
	// TrainIndex and TestIndex are the rows of the split used to fit the scaler.
	TrainIndex []int
	TestIndex  []int
	// Path is where the scaled table was written; empty when not persisted.
	Path string
}

// Load reads the raw CSV with the configured delimiter and missing markers.
func Load(path string, cfg *config.Config) (*dataset.Table, error) {
	t, err := dataset.LoadCSV(path, cfg.ReadOptions())
	if err != nil {
		return nil, err
	}
	log.GetLoggerWithName("pipeline").Info("Table loaded",
		log.StageKey, "load",
		log.PathKey, path,
		log.SamplesKey, t.Rows(),
		log.FeaturesKey, t.NumCols(),
	)
	return t, nil
}

// Clean applies the configured cleaning steps. A non-nil imputer freezes the
// fill values of the impute policy.
func Clean(raw *dataset.Table, cfg *config.Config, imputer *preprocessing.Imputer) (*dataset.Table, *preprocessing.CleanReport, error) {
	cc, err := cfg.CleanConfig()
	if err != nil {
		return nil, nil, err
	}
	var opts []preprocessing.CleanerOption
	if imputer != nil {
		opts = append(opts, preprocessing.WithImputer(imputer))
	}
	return preprocessing.NewCleaner(cc, opts...).Clean(raw)
}

// Encode label-encodes the target and the configured yes/no columns, then
// one-hot encodes every remaining categorical column. Every bucket label is
// part of the vocabulary even when no row falls into it.
func Encode(cleaned *dataset.Table, cfg *config.Config) (*Encoded, error) {
	target := cfg.Data.Target
	t, err := preprocessing.EncodeBinary(cleaned, target, cfg.Data.Positive)
	if err != nil {
		return nil, err
	}

	binary := make(map[string]string)
	for _, col := range cfg.Encode.BinaryColumns {
		if col == target || !t.Has(col) {
			continue
		}
		if t, err = preprocessing.EncodeBinary(t, col, cfg.Encode.Positive); err != nil {
			return nil, err
		}
		binary[col] = cfg.Encode.Positive
	}

	enc := preprocessing.NewOneHotEncoder()
	if b := cfg.Clean.Bucket; b.Source != "" && t.Has(b.Column) {
		enc.Known = map[string][]string{b.Column: cfg.Bucketizer().BucketLabels()}
	}
	out, err := enc.FitTransform(t)
	if err != nil {
		return nil, err
	}

	var features []string
	for _, name := range out.Names() {
		if name != target {
			features = append(features, name)
		}
	}
	if out, err = out.Select(append(append([]string(nil), features...), target)...); err != nil {
		return nil, err
	}
	return &Encoded{
		Table:         out,
		Features:      features,
		Target:        target,
		Vocabulary:    enc.Vocabulary,
		BinaryColumns: binary,
	}, nil
}

// SelectionOptions converts the selection config into scorer options.
func SelectionOptions(cfg *config.Config) feature_selection.Options {
	return feature_selection.Options{
		K:                    cfg.Selection.K,
		ExtraTreesEstimators: cfg.Selection.ExtraTreesEstimators,
		LassoAlpha:           cfg.Selection.LassoAlpha,
		RandomState:          cfg.Selection.RandomState,
	}
}

// SelectFeatures scores the encoded features against the target. The table
// is not modified.
func SelectFeatures(enc *Encoded, cfg *config.Config) (*feature_selection.Report, error) {
	X, err := enc.Table.Matrix(enc.Features...)
	if err != nil {
		return nil, err
	}
	y, err := enc.Table.Matrix(enc.Target)
	if err != nil {
		return nil, err
	}
	return feature_selection.Select(X, y, enc.Features, SelectionOptions(cfg))
}

// Scale fits a standard scaler on the training rows of the split the trainer
// will use and applies it to every row. The returned table holds the scaled
// features followed by the untouched target.
func Scale(enc *Encoded, features []string, cfg *config.Config) (*dataset.Table, *preprocessing.StandardScaler, []int, []int, error) {
	train, test, err := model_selection.SplitIndices(enc.Table.Rows(), cfg.Train.TestSize, cfg.Train.Seed)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	scaler := preprocessing.NewStandardScalerDefault()
	if err := scaler.FitTable(enc.Table, features, train); err != nil {
		return nil, nil, nil, nil, err
	}
	t, err := enc.Table.Select(append(append([]string(nil), features...), enc.Target)...)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	scaled, err := scaler.TransformTable(t)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	return scaled, scaler, train, test, nil
}

// Prepare cleans, encodes, scores and scales a loaded raw table. With persist
// set, the scaled table, the preprocessor and the selection report are
// written under the output directory.
func Prepare(raw *dataset.Table, cfg *config.Config, tr *Tracker, persist bool) (*Prepared, error) {
	logger := log.GetLoggerWithName("pipeline")
	if tr.Current() == StageInit {
		if err := tr.Advance(StageLoaded); err != nil {
			return nil, err
		}
	}

	cleaned, rep, err := Clean(raw, cfg, nil)
	if err != nil {
		return nil, tr.Fail(err)
	}
	if err := tr.Advance(StageCleaned); err != nil {
		return nil, err
	}

	enc, err := Encode(cleaned, cfg)
	if err != nil {
		return nil, tr.Fail(err)
	}
	if err := tr.Advance(StageEncoded); err != nil {
		return nil, err
	}

	selection, err := SelectFeatures(enc, cfg)
	if err != nil {
		return nil, tr.Fail(err)
	}
	if err := tr.Advance(StageScored); err != nil {
		return nil, err
	}

	features, pruned := enc.Features, []string(nil)
	if cfg.Selection.Apply {
		features = selection.Selected
		kept := make(map[string]bool, len(features))
		for _, f := range features {
			kept[f] = true
		}
		for _, f := range enc.Features {
			if !kept[f] {
				pruned = append(pruned, f)
			}
		}
		logger.Info("Feature selection applied",
			log.StageKey, "select",
			log.FeaturesKey, len(features),
			"pruned", len(pruned),
		)
	}

	scaled, scaler, train, test, err := Scale(enc, features, cfg)
	if err != nil {
		return nil, tr.Fail(err)
	}

	cc, _ := cfg.CleanConfig()
	// 学習時のクリップ範囲を固定して推論でも同じ値に揃える
	cc.OutlierClip.Bounds = rep.ClipBounds
	p := &Prepared{
		Table: scaled,
		Preprocessor: &artifact.Preprocessor{
			Clean:         cc,
			Imputer:       rep.Imputer,
			Vocabulary:    enc.Vocabulary,
			BinaryColumns: enc.BinaryColumns,
			Scaler:        scaler,
			Features:      append([]string(nil), features...),
			Pruned:        pruned,
			Target:        cfg.Data.Target,
			Positive:      cfg.Data.Positive,
		},
		CleanReport: rep,
		Selection:   selection,
		TrainIndex:  train,
		TestIndex:   test,
	}

	if persist {
		if err := p.save(cfg); err != nil {
			return nil, tr.Fail(err)
		}
	}
	if err := tr.Advance(StageScaled); err != nil {
		return nil, err
	}

	logger.Info("Preparation completed",
		log.StageKey, "scale",
		log.SamplesKey, scaled.Rows(),
		log.FeaturesKey, len(features),
		log.PathKey, p.Path,
	)
	return p, nil
}

func (p *Prepared) save(cfg *config.Config) error {
	path := cfg.Path(cfg.Output.ScaledCSV)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "pipeline: create %s", filepath.Dir(path))
	}
	if err := dataset.SaveCSV(path, p.Table); err != nil {
		return err
	}
	p.Path = path
	if err := artifact.SavePreprocessor(cfg.Path(cfg.Output.Preprocessor), p.Preprocessor); err != nil {
		return err
	}
	return writeYAML(cfg.Path(cfg.Output.SelectionReport), p.Selection)
}

func writeYAML(path string, v interface{}) error {
	b, err := yaml.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "pipeline: marshal %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "pipeline: create %s", filepath.Dir(path))
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return errors.Wrapf(err, "pipeline: write %s", path)
	}
	return nil
}
