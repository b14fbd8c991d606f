// Package model provides the estimator interfaces shared by classifiers,
// selectors and transformers.
package model

import (
	"gonum.org/v1/gonum/mat"
)

// Classifier combines interfaces for classification models.
// Labels are encoded as float64 class values in a single-column matrix.
type Classifier interface {
	Fitter
	Predictor

	// PredictProba returns probability estimates for each class.
	// Columns follow the order of Classes().
	PredictProba(X mat.Matrix) (mat.Matrix, error)

	// Classes returns the unique classes seen during fitting.
	Classes() []int
}

// FeatureImportancer is implemented by models that expose impurity-based importances.
type FeatureImportancer interface {
	// GetFeatureImportances returns importances normalized to sum to 1.
	GetFeatureImportances() []float64
}

// ParameterGetter is the interface for models that expose their parameters.
type ParameterGetter interface {
	// GetParams returns the model's hyperparameters.
	GetParams() map[string]interface{}
}

// ParameterSetter is the interface for models that allow parameter modification.
type ParameterSetter interface {
	// SetParams sets the model's hyperparameters.
	SetParams(params map[string]interface{}) error
}
