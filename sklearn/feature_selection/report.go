package feature_selection

import (
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/churnscope/pkg/errors"
	"github.com/YuminosukeSato/churnscope/pkg/log"
	"github.com/YuminosukeSato/churnscope/sklearn/ensemble"
	"github.com/YuminosukeSato/churnscope/sklearn/linear_model"
)

// FeatureScore is one (feature, score) pair of a ranking.
type FeatureScore struct {
	Feature string  `json:"feature" yaml:"feature"`
	Score   float64 `json:"score" yaml:"score"`
	PValue  float64 `json:"p_value,omitempty" yaml:"p_value,omitempty"`
}

// Report is the outcome of scoring the encoded feature table against the
// target. Chi2 and Importance are sorted by score, highest first.
type Report struct {
	Chi2         []FeatureScore `json:"chi2" yaml:"chi2"`
	Importance   []FeatureScore `json:"importance" yaml:"importance"`
	LassoSupport []bool         `json:"lasso_support" yaml:"lasso_support"`
	LassoKept    []string       `json:"lasso_kept" yaml:"lasso_kept"`
	// Selected holds the K best features by chi-squared score.
	Selected []string `json:"selected" yaml:"selected"`
}

// Options holds the constants of the three selection methods.
type Options struct {
	K                    int
	ExtraTreesEstimators int
	LassoAlpha           float64
	RandomState          uint64
}

// DefaultOptions returns k=12, 100 extra trees and Lasso alpha 0.005.
func DefaultOptions() Options {
	return Options{K: 12, ExtraTreesEstimators: 100, LassoAlpha: 0.005}
}

// Select scores every column of X (named by features) against y with
// chi-squared, extra-trees importance and an L1 model. X is not modified.
func Select(X, y mat.Matrix, features []string, opts Options) (*Report, error) {
	_, p := X.Dims()
	if len(features) != p {
		return nil, errors.NewDimensionError("feature_selection.Select", len(features), p, 1)
	}
	logger := log.GetLoggerWithName("feature_selection")

	kbest := NewSelectKBest(Chi2, opts.K)
	if err := kbest.Fit(X, y); err != nil {
		return nil, errors.Wrap(err, "chi-squared scoring")
	}

	trees := ensemble.NewExtraTreesClassifier(
		ensemble.WithNEstimators(opts.ExtraTreesEstimators),
		ensemble.WithRandomState(opts.RandomState),
	)
	if err := trees.Fit(X, y); err != nil {
		return nil, errors.Wrap(err, "extra-trees importance")
	}

	lasso := NewSelectFromModel(linear_model.NewLasso(linear_model.WithAlpha(opts.LassoAlpha)))
	if err := lasso.Fit(X, y); err != nil {
		return nil, errors.Wrap(err, "lasso selection")
	}

	r := &Report{
		Chi2:       ranked(features, kbest.Scores, kbest.PValues),
		Importance: ranked(features, trees.GetFeatureImportances(), nil),
	}
	r.LassoSupport, _ = lasso.GetSupport()
	for j, keep := range r.LassoSupport {
		if keep {
			r.LassoKept = append(r.LassoKept, features[j])
		}
	}
	support, _ := kbest.GetSupport()
	for j, keep := range support {
		if keep {
			r.Selected = append(r.Selected, features[j])
		}
	}

	logger.Info("Feature scoring completed",
		log.FeaturesKey, p,
		"chi2_top", r.Chi2[0].Feature,
		"importance_top", r.Importance[0].Feature,
		"lasso_kept", len(r.LassoKept),
	)
	return r, nil
}

func ranked(features []string, scores, pvalues []float64) []FeatureScore {
	out := make([]FeatureScore, 0, len(scores))
	for _, j := range RankDescending(scores) {
		fs := FeatureScore{Feature: features[j], Score: scores[j]}
		if pvalues != nil {
			fs.PValue = pvalues[j]
		}
		out = append(out, fs)
	}
	return out
}
