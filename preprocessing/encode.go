package preprocessing

import (
	"sort"

	"github.com/YuminosukeSato/churnscope/core/model"
	"github.com/YuminosukeSato/churnscope/dataset"
	"github.com/YuminosukeSato/churnscope/pkg/errors"
	"github.com/YuminosukeSato/churnscope/pkg/log"
)

// EncodeBinary replaces col with a 0/1 numeric column.
//
// A categorical column maps to 1 iff the value equals positive exactly.
// A numeric column maps to 1 iff the value equals 1, so encoding an already
// encoded column is a no-op. Missing cells map to 0.
func EncodeBinary(t *dataset.Table, col, positive string) (*dataset.Table, error) {
	c := t.Column(col)
	if c == nil {
		return nil, errors.NewSchemaMismatchError("encode", []string{col}, nil)
	}
	vals := make([]float64, c.Len())
	for i := range vals {
		if c.IsMissing(i) {
			continue
		}
		if c.Kind == dataset.Numeric {
			if c.Num[i] == 1 {
				vals[i] = 1
			}
			continue
		}
		if c.Str[i] == positive {
			vals[i] = 1
		}
	}
	return t.ReplaceColumn(dataset.NewNumericColumn(col, vals))
}

// Vocabulary is the frozen set of categories per categorical column.
// Columns keep the order they had in the fitted table; categories are sorted.
type Vocabulary struct {
	Columns    []string
	Categories map[string][]string
}

// IndicatorName returns the name of the indicator column for col == value.
func IndicatorName(col, value string) string {
	return col + "_" + value
}

// FeatureNames returns the indicator column names in output order.
func (v *Vocabulary) FeatureNames() []string {
	var names []string
	for _, col := range v.Columns {
		for _, cat := range v.Categories[col] {
			names = append(names, IndicatorName(col, cat))
		}
	}
	return names
}

// Size returns the number of indicator columns.
func (v *Vocabulary) Size() int {
	n := 0
	for _, col := range v.Columns {
		n += len(v.Categories[col])
	}
	return n
}

// OneHotEncoder expands categorical columns into 0/1 indicator columns.
//
// The output holds every non-encoded column first, in input order, followed by
// the indicators of each vocabulary column. Transform always uses the
// vocabulary learned in Fit: unseen categories produce an all-zero indicator
// row and indicators for categories absent from the input are still emitted.
type OneHotEncoder struct {
	Vocabulary *Vocabulary
	State      *model.StateManager
	// Known seeds categories that Fit adds even when unobserved,
	// e.g. every label of a bucketed column.
	Known  map[string][]string
	logger log.Logger
}

// NewOneHotEncoder creates an unfitted encoder.
func NewOneHotEncoder() *OneHotEncoder {
	return &OneHotEncoder{State: model.NewStateManager()}
}

// NewOneHotEncoderFromVocabulary creates a fitted encoder from a stored vocabulary.
func NewOneHotEncoderFromVocabulary(v *Vocabulary) *OneHotEncoder {
	e := NewOneHotEncoder()
	e.Vocabulary = v
	e.State.SetDimensions(len(v.Columns), 0)
	e.State.SetFitted()
	return e
}

func (e *OneHotEncoder) getLogger() log.Logger {
	if e.logger == nil {
		e.logger = log.GetLoggerWithName("preprocessing.encoder")
	}
	return e.logger
}

// SetLogger replaces the component logger.
func (e *OneHotEncoder) SetLogger(l log.Logger) {
	e.logger = l
}

// Fit learns the vocabulary of cols. With no cols, every categorical column is used.
func (e *OneHotEncoder) Fit(t *dataset.Table, cols ...string) error {
	if t.Rows() == 0 {
		return errors.NewModelError("OneHotEncoder.Fit", "empty data", errors.ErrEmptyData)
	}
	if len(cols) == 0 {
		for _, c := range t.Columns() {
			if c.Kind == dataset.Categorical {
				cols = append(cols, c.Name)
			}
		}
	}

	vocab := &Vocabulary{Categories: make(map[string][]string, len(cols))}
	var missing []string
	for _, name := range cols {
		c := t.Column(name)
		if c == nil {
			missing = append(missing, name)
			continue
		}
		seen := map[string]bool{}
		for _, s := range e.Known[name] {
			seen[s] = true
		}
		for i := 0; i < c.Len(); i++ {
			if !c.IsMissing(i) {
				seen[c.String(i)] = true
			}
		}
		cats := make([]string, 0, len(seen))
		for s := range seen {
			cats = append(cats, s)
		}
		sort.Strings(cats)
		vocab.Columns = append(vocab.Columns, name)
		vocab.Categories[name] = cats
	}
	if len(missing) > 0 {
		return errors.NewSchemaMismatchError("fit", missing, nil)
	}

	if e.State == nil {
		e.State = model.NewStateManager()
	}
	e.Vocabulary = vocab
	e.State.SetDimensions(len(cols), t.Rows())
	e.State.SetFitted()
	return nil
}

// Transform expands the vocabulary columns of t.
//
// A vocabulary column missing from t, or a categorical column of t not in the
// vocabulary, is a SchemaMismatchError.
func (e *OneHotEncoder) Transform(t *dataset.Table) (*dataset.Table, error) {
	if e.State == nil || !e.State.IsFitted() {
		return nil, errors.NewNotFittedError("OneHotEncoder", "Transform")
	}
	vocab := e.Vocabulary

	inVocab := make(map[string]bool, len(vocab.Columns))
	var missing, unexpected []string
	for _, name := range vocab.Columns {
		inVocab[name] = true
		if !t.Has(name) {
			missing = append(missing, name)
		}
	}
	for _, c := range t.Columns() {
		if c.Kind == dataset.Categorical && !inVocab[c.Name] {
			unexpected = append(unexpected, c.Name)
		}
	}
	if len(missing) > 0 || len(unexpected) > 0 {
		return nil, errors.NewSchemaMismatchError("encode", missing, unexpected)
	}

	var cols []*dataset.Column
	for _, c := range t.Columns() {
		if !inVocab[c.Name] {
			cols = append(cols, c.Clone())
		}
	}

	n := t.Rows()
	for _, name := range vocab.Columns {
		c := t.Column(name)
		cats := vocab.Categories[name]
		pos := make(map[string]int, len(cats))
		indicators := make([][]float64, len(cats))
		for k, cat := range cats {
			pos[cat] = k
			indicators[k] = make([]float64, n)
		}

		unseen := map[string]bool{}
		unseenRows := 0
		for i := 0; i < n; i++ {
			if c.IsMissing(i) {
				continue
			}
			k, ok := pos[c.String(i)]
			if !ok {
				unseen[c.String(i)] = true
				unseenRows++
				continue
			}
			indicators[k][i] = 1
		}
		if unseenRows > 0 {
			values := make([]string, 0, len(unseen))
			for v := range unseen {
				values = append(values, v)
			}
			sort.Strings(values)
			w := errors.NewUnseenCategoryWarning(name, values, unseenRows)
			errors.Warn(w)
			e.getLogger().Warn("Unseen categories encoded as zeros",
				log.StageKey, "encode",
				log.ColumnKey, name,
				"rows", unseenRows,
			)
		}

		for k, cat := range cats {
			cols = append(cols, dataset.NewNumericColumn(IndicatorName(name, cat), indicators[k]))
		}
	}

	out, err := dataset.NewTable(cols...)
	if err != nil {
		return nil, errors.Wrap(err, "OneHotEncoder.Transform")
	}
	e.getLogger().Info("Encoding completed",
		log.StageKey, "encode",
		log.SamplesKey, out.Rows(),
		log.FeaturesKey, out.NumCols(),
	)
	return out, nil
}

// FitTransform learns the vocabulary of t and expands it.
func (e *OneHotEncoder) FitTransform(t *dataset.Table, cols ...string) (*dataset.Table, error) {
	if err := e.Fit(t, cols...); err != nil {
		return nil, err
	}
	return e.Transform(t)
}
