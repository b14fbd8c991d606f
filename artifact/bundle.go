// Package artifact persists a trained classifier together with everything
// needed to score raw rows: the cleaning config, the frozen vocabulary, the
// fitted scaler and the ordered feature names.
//
// バンドルは gob で保存し、人が読むためのメタデータを YAML で横に書き出します。
package artifact

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/YuminosukeSato/churnscope/core/model"
	"github.com/YuminosukeSato/churnscope/metrics"
	"github.com/YuminosukeSato/churnscope/pkg/errors"
	"github.com/YuminosukeSato/churnscope/pkg/log"
	"github.com/YuminosukeSato/churnscope/preprocessing"
	"github.com/YuminosukeSato/churnscope/sklearn/ensemble"
	"github.com/YuminosukeSato/churnscope/sklearn/linear_model"
	"github.com/YuminosukeSato/churnscope/sklearn/tree"
)

// FormatVersion is bumped whenever the Bundle layout changes incompatibly.
const FormatVersion = 1

func init() {
	gob.Register(&tree.DecisionTreeClassifier{})
	gob.Register(&ensemble.RandomForestClassifier{})
	gob.Register(&ensemble.ExtraTreesClassifier{})
	gob.Register(&linear_model.LogisticRegression{})
}

// Metadata describes how and when a bundle was produced.
type Metadata struct {
	FormatVersion   int                           `yaml:"format_version"`
	RunID           string                        `yaml:"run_id"`
	ModelName       string                        `yaml:"model_name"`
	CreatedAt       time.Time                     `yaml:"created_at"`
	Target          string                        `yaml:"target"`
	Features        []string                      `yaml:"features"`
	Metrics         map[string]float64            `yaml:"metrics"`
	Report          *metrics.ClassificationReport `yaml:"report,omitempty"`
	ConfusionMatrix *metrics.ConfusionMatrix      `yaml:"confusion_matrix,omitempty"`
	ClassBalance    map[string]float64            `yaml:"class_balance"`
	Rebalanced      bool                          `yaml:"rebalanced"`
	TrainRows       int                           `yaml:"train_rows"`
	TestRows        int                           `yaml:"test_rows"`
	// Params are the model hyperparameters rendered as text.
	Params map[string]string `yaml:"params,omitempty"`
}

// NewMetadata stamps a fresh run id and creation time.
func NewMetadata(modelName string) Metadata {
	return Metadata{
		FormatVersion: FormatVersion,
		RunID:         uuid.NewString(),
		ModelName:     modelName,
		CreatedAt:     time.Now().UTC(),
		Metrics:       map[string]float64{},
		ClassBalance:  map[string]float64{},
	}
}

// RecordParams copies the hyperparameters of clf when it exposes them.
func (m *Metadata) RecordParams(clf interface{}) {
	pg, ok := clf.(model.ParameterGetter)
	if !ok {
		return
	}
	m.Params = make(map[string]string)
	for k, v := range pg.GetParams() {
		m.Params[k] = fmt.Sprint(v)
	}
}

// Preprocessor is everything needed to turn raw rows into model features.
// It is written by the prepare stage and embedded in every Bundle.
type Preprocessor struct {
	Clean      preprocessing.CleanConfig
	Imputer    *preprocessing.Imputer
	Vocabulary *preprocessing.Vocabulary
	// BinaryColumns maps label-encoded yes/no feature columns to their positive value.
	BinaryColumns map[string]string
	Scaler        *preprocessing.StandardScaler
	// Features are the model inputs in matrix column order.
	Features []string
	// Pruned are encoded columns removed by feature selection.
	Pruned   []string
	Target   string
	Positive string
}

// Validate checks that every part needed for transforming rows is present.
func (p *Preprocessor) Validate() error {
	switch {
	case p.Vocabulary == nil:
		return errors.New("artifact: preprocessor has no vocabulary")
	case p.Scaler == nil || !p.Scaler.IsFitted():
		return errors.New("artifact: preprocessor has no fitted scaler")
	case len(p.Features) == 0:
		return errors.New("artifact: preprocessor has no feature names")
	}
	return nil
}

// SavePreprocessor writes p to path with gob.
func SavePreprocessor(path string, p *Preprocessor) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "artifact: create directory for %s", path)
	}
	if err := model.SaveModel(p, path); err != nil {
		return errors.Wrapf(err, "artifact: save %s", path)
	}
	return nil
}

// LoadPreprocessor reads a preprocessor written by SavePreprocessor.
func LoadPreprocessor(path string) (*Preprocessor, error) {
	p := &Preprocessor{}
	if err := model.LoadModel(p, path); err != nil {
		return nil, errors.Wrapf(err, "artifact: unreadable preprocessor %s", path)
	}
	if err := p.Validate(); err != nil {
		return nil, errors.Wrapf(err, "artifact: invalid preprocessor %s", path)
	}
	return p, nil
}

// Bundle is the persisted model artifact.
type Bundle struct {
	Model model.Classifier
	Preprocessor
	Metadata Metadata
}

// Validate checks that every part needed for scoring is present and consistent.
func (b *Bundle) Validate() error {
	if b.Model == nil {
		return errors.New("artifact: bundle has no model")
	}
	if err := b.Preprocessor.Validate(); err != nil {
		return err
	}
	if b.Metadata.FormatVersion != FormatVersion {
		return errors.Newf("artifact: unsupported bundle format %d (want %d)", b.Metadata.FormatVersion, FormatVersion)
	}
	return nil
}

// Save writes the bundle to path with gob and the metadata to MetadataPath(path).
func Save(path string, b *Bundle) error {
	if err := b.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "artifact: create directory for %s", path)
	}
	if err := model.SaveModel(b, path); err != nil {
		return errors.Wrapf(err, "artifact: save %s", path)
	}

	meta, err := yaml.Marshal(b.Metadata)
	if err != nil {
		return errors.Wrap(err, "artifact: marshal metadata")
	}
	if err := os.WriteFile(MetadataPath(path), meta, 0o644); err != nil {
		return errors.Wrapf(err, "artifact: write metadata for %s", path)
	}

	log.GetLoggerWithName("artifact").Info("Bundle saved",
		log.PathKey, path,
		log.ModelNameKey, b.Metadata.ModelName,
		"run_id", b.Metadata.RunID,
	)
	return nil
}

// Load reads a bundle written by Save.
func Load(path string) (*Bundle, error) {
	b := &Bundle{}
	if err := model.LoadModel(b, path); err != nil {
		return nil, errors.Wrapf(err, "artifact: unreadable bundle %s", path)
	}
	if err := b.Validate(); err != nil {
		return nil, errors.Wrapf(err, "artifact: invalid bundle %s", path)
	}
	return b, nil
}

// LoadMetadata reads the YAML sidecar of a bundle.
func LoadMetadata(path string) (*Metadata, error) {
	raw, err := os.ReadFile(MetadataPath(path))
	if err != nil {
		return nil, errors.Wrapf(err, "artifact: read metadata for %s", path)
	}
	var m Metadata
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, errors.Wrapf(err, "artifact: parse metadata for %s", path)
	}
	return &m, nil
}

// MetadataPath returns the sidecar path: model.gob -> model.meta.yaml.
func MetadataPath(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ".meta.yaml"
}
