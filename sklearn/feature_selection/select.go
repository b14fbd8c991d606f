package feature_selection

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/churnscope/core/model"
	"github.com/YuminosukeSato/churnscope/pkg/errors"
)

// ScoreFunc scores every column of X against y.
type ScoreFunc func(X, y mat.Matrix) (scores, pvalues []float64, err error)

// SelectKBest keeps the k highest-scoring features.
type SelectKBest struct {
	ScoreFunc ScoreFunc
	K         int

	Scores  []float64
	PValues []float64
	support []bool
	state   *model.StateManager
}

// NewSelectKBest returns a selector; a nil score function defaults to Chi2.
func NewSelectKBest(score ScoreFunc, k int) *SelectKBest {
	if score == nil {
		score = Chi2
	}
	return &SelectKBest{ScoreFunc: score, K: k, state: model.NewStateManager()}
}

// Fit scores the features. K larger than the feature count keeps everything.
func (s *SelectKBest) Fit(X, y mat.Matrix) error {
	if s.K < 0 {
		return errors.NewValidationError("k", "must be non-negative", s.K)
	}
	scores, pvalues, err := s.ScoreFunc(X, y)
	if err != nil {
		return err
	}
	s.Scores, s.PValues = scores, pvalues

	s.support = make([]bool, len(scores))
	for _, j := range RankDescending(scores)[:min(s.K, len(scores))] {
		s.support[j] = true
	}
	n, p := X.Dims()
	s.state.SetDimensions(p, n)
	s.state.SetFitted()
	return nil
}

// GetSupport returns the keep mask.
func (s *SelectKBest) GetSupport() ([]bool, error) {
	if err := s.state.RequireFitted("SelectKBest", "GetSupport"); err != nil {
		return nil, err
	}
	return append([]bool(nil), s.support...), nil
}

// Transform keeps the selected columns of X.
func (s *SelectKBest) Transform(X mat.Matrix) (mat.Matrix, error) {
	if err := s.state.RequireFitted("SelectKBest", "Transform"); err != nil {
		return nil, err
	}
	_, p := X.Dims()
	if err := s.state.CheckFeatures("SelectKBest.Transform", p); err != nil {
		return nil, err
	}
	return keepColumns("SelectKBest.Transform", X, s.support)
}

// RankDescending returns column indices ordered by score, highest first.
// Ties keep the lower index first; NaN ranks last.
func RankDescending(scores []float64) []int {
	idx := make([]int, len(scores))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		sa, sb := scores[idx[a]], scores[idx[b]]
		if math.IsNaN(sb) {
			return !math.IsNaN(sa)
		}
		return sa > sb
	})
	return idx
}

func keepColumns(op string, X mat.Matrix, support []bool) (mat.Matrix, error) {
	n, _ := X.Dims()
	var cols []int
	for j, keep := range support {
		if keep {
			cols = append(cols, j)
		}
	}
	if len(cols) == 0 {
		return nil, errors.NewValueError(op, "no features selected")
	}
	out := mat.NewDense(n, len(cols), nil)
	for i := 0; i < n; i++ {
		for k, j := range cols {
			out.Set(i, k, X.At(i, j))
		}
	}
	return out, nil
}

// SelectFromModel keeps features whose model weight magnitude reaches Threshold.
// The estimator must expose either coefficients (model.LinearModel) or
// importances (model.FeatureImportancer).
type SelectFromModel struct {
	Estimator model.Fitter
	// Threshold below which a feature is dropped. NaN picks the default:
	// 1e-5 for linear models (L1 penalized) and the mean importance otherwise.
	Threshold float64

	Importances []float64
	threshold   float64
	support     []bool
	state       *model.StateManager
}

// SelectFromModelOption configures SelectFromModel.
type SelectFromModelOption func(*SelectFromModel)

// WithThreshold sets an explicit threshold.
func WithThreshold(t float64) SelectFromModelOption {
	return func(s *SelectFromModel) { s.Threshold = t }
}

// NewSelectFromModel wraps an unfitted estimator.
func NewSelectFromModel(est model.Fitter, opts ...SelectFromModelOption) *SelectFromModel {
	s := &SelectFromModel{Estimator: est, Threshold: math.NaN(), state: model.NewStateManager()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Fit fits the estimator and derives the support mask.
func (s *SelectFromModel) Fit(X, y mat.Matrix) error {
	if err := s.Estimator.Fit(X, y); err != nil {
		return errors.Wrap(err, "SelectFromModel: fit estimator")
	}

	var importance []float64
	defaultThreshold := 0.0
	switch est := s.Estimator.(type) {
	case model.LinearModel:
		for _, w := range est.Weights() {
			importance = append(importance, math.Abs(w))
		}
		defaultThreshold = 1e-5
	case model.FeatureImportancer:
		importance = est.GetFeatureImportances()
		defaultThreshold = stat.Mean(importance, nil)
	default:
		return errors.NewValueError("SelectFromModel.Fit", "estimator exposes neither weights nor feature importances")
	}

	s.threshold = s.Threshold
	if math.IsNaN(s.threshold) {
		s.threshold = defaultThreshold
	}
	s.Importances = importance
	s.support = make([]bool, len(importance))
	for j, v := range importance {
		s.support[j] = v >= s.threshold
	}
	n, p := X.Dims()
	s.state.SetDimensions(p, n)
	s.state.SetFitted()
	return nil
}

// EffectiveThreshold returns the threshold used by the last Fit.
func (s *SelectFromModel) EffectiveThreshold() float64 { return s.threshold }

// GetSupport returns the keep mask.
func (s *SelectFromModel) GetSupport() ([]bool, error) {
	if err := s.state.RequireFitted("SelectFromModel", "GetSupport"); err != nil {
		return nil, err
	}
	return append([]bool(nil), s.support...), nil
}

// Transform keeps the selected columns of X.
func (s *SelectFromModel) Transform(X mat.Matrix) (mat.Matrix, error) {
	if err := s.state.RequireFitted("SelectFromModel", "Transform"); err != nil {
		return nil, err
	}
	_, p := X.Dims()
	if err := s.state.CheckFeatures("SelectFromModel.Transform", p); err != nil {
		return nil, err
	}
	return keepColumns("SelectFromModel.Transform", X, s.support)
}
