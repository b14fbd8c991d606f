package pipeline

import (
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/churnscope/artifact"
	"github.com/YuminosukeSato/churnscope/dataset"
	"github.com/YuminosukeSato/churnscope/pkg/errors"
	"github.com/YuminosukeSato/churnscope/pkg/log"
	"github.com/YuminosukeSato/churnscope/preprocessing"
)

// Prediction column names written by Prediction.Table.
const (
	PredictionColumn  = "churn_prediction"
	ProbabilityColumn = "churn_probability"
)

// Prediction holds the model output for the raw rows that survived cleaning.
type Prediction struct {
	// SourceRows maps each prediction to its row in the raw input.
	SourceRows    []int
	Labels        []float64
	Probabilities []float64
}

// Transform turns raw rows into the model's feature matrix with the frozen
// cleaning config, vocabulary and scaler. A target column in raw is ignored.
// The returned rows map each matrix row to its raw row.
func Transform(p *artifact.Preprocessor, raw *dataset.Table) (*mat.Dense, []int, error) {
	in := raw
	if raw.Has(p.Target) {
		in = raw.Drop(p.Target)
	}
	var opts []preprocessing.CleanerOption
	if p.Imputer != nil {
		opts = append(opts, preprocessing.WithImputer(p.Imputer))
	}
	cleaned, rep, err := preprocessing.NewCleaner(p.Clean, opts...).Clean(in)
	if err != nil {
		return nil, nil, err
	}

	t := cleaned
	for col, positive := range p.BinaryColumns {
		if t, err = preprocessing.EncodeBinary(t, col, positive); err != nil {
			return nil, nil, err
		}
	}
	if t, err = preprocessing.NewOneHotEncoderFromVocabulary(p.Vocabulary).Transform(t); err != nil {
		return nil, nil, err
	}

	expected := make(map[string]bool, len(p.Features)+len(p.Pruned))
	for _, f := range p.Features {
		expected[f] = true
	}
	for _, f := range p.Pruned {
		expected[f] = true
	}
	var unexpected []string
	for _, name := range t.Names() {
		if !expected[name] {
			unexpected = append(unexpected, name)
		}
	}
	missing := missingFrom(t.Names(), p.Features)
	if len(missing) > 0 || len(unexpected) > 0 {
		return nil, nil, errors.NewSchemaMismatchError("predict", missing, unexpected)
	}

	aligned, err := t.Select(p.Features...)
	if err != nil {
		return nil, nil, err
	}
	scaled, err := p.Scaler.TransformTable(aligned)
	if err != nil {
		return nil, nil, err
	}
	X, err := scaled.Matrix(p.Features...)
	if err != nil {
		return nil, nil, err
	}
	return X, rep.SourceRows, nil
}

// Predict scores raw rows with a saved bundle.
func Predict(b *artifact.Bundle, raw *dataset.Table) (pred *Prediction, err error) {
	defer errors.Recover(&err, "pipeline.Predict")

	X, rows, err := Transform(&b.Preprocessor, raw)
	if err != nil {
		return nil, err
	}
	labels, err := b.Model.Predict(X)
	if err != nil {
		return nil, err
	}
	proba, err := positiveProba(b.Model, X)
	if err != nil {
		return nil, err
	}
	n, _ := X.Dims()
	pred = &Prediction{
		SourceRows:    rows,
		Labels:        mat.Col(nil, 0, labels),
		Probabilities: mat.Col(nil, 0, proba),
	}
	log.GetLoggerWithName("pipeline").Info("Rows scored",
		log.StageKey, "predict",
		log.ModelNameKey, b.Metadata.ModelName,
		log.EstimatorIDKey, b.Metadata.RunID,
		log.SamplesKey, n,
		log.RowsDroppedKey, raw.Rows()-n,
	)
	return pred, nil
}

// Table renders the prediction with the idColumn of raw, when present, as
// the first column.
func (p *Prediction) Table(raw *dataset.Table, idColumn string) (*dataset.Table, error) {
	var cols []*dataset.Column
	if id := raw.Column(idColumn); id != nil {
		vals := make([]string, len(p.SourceRows))
		for i, r := range p.SourceRows {
			vals[i] = id.String(r)
		}
		cols = append(cols, dataset.NewCategoricalColumn(idColumn, vals))
	}
	cols = append(cols,
		dataset.NewNumericColumn(PredictionColumn, append([]float64(nil), p.Labels...)),
		dataset.NewNumericColumn(ProbabilityColumn, append([]float64(nil), p.Probabilities...)),
	)
	return dataset.NewTable(cols...)
}
