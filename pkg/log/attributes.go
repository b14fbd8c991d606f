// Package log defines standard attribute keys for pipeline operations.
//
// Keys follow a hierarchical naming convention ("data.samples",
// "pipeline.stage") so that a run's log stream can be filtered per stage.

package log

// Model and Operation Context
const (
	// ModelNameKey identifies the type of model or transformer.
	// Examples: "DecisionTreeClassifier", "StandardScaler", "Lasso"
	ModelNameKey = "model.name"

	// EstimatorIDKey provides a unique identifier for a specific model instance.
	// The pipeline uses the bundle run id.
	EstimatorIDKey = "estimator.id"

	// OperationKey specifies the operation being performed.
	// Standard values: "fit", "predict", "transform", "fit_transform", "score"
	OperationKey = "ml.operation"

	// ComponentKey identifies which component is emitting the record.
	ComponentKey = "ml.component"

	// PhaseKey indicates the phase of model lifecycle.
	PhaseKey = "ml.phase"
)

// Pipeline Context
const (
	// StageKey names the pipeline stage ("load", "clean", "encode", "select",
	// "scale", "split", "train", "evaluate", "rebalance", "persist").
	StageKey = "pipeline.stage"

	// ColumnKey names the table column an operation applies to.
	ColumnKey = "data.column"

	// RowsDroppedKey records how many rows a stage removed.
	RowsDroppedKey = "data.rows_dropped"

	// PathKey records an input or output file path.
	PathKey = "io.path"
)

// Data Shape and Characteristics
const (
	// SamplesKey indicates the number of samples (rows) in the dataset.
	SamplesKey = "data.samples"

	// FeaturesKey indicates the number of features (columns) in the dataset.
	FeaturesKey = "data.features"

	// ClassBalanceKey records the positive-class share of the target.
	ClassBalanceKey = "data.class_balance"
)

// Performance Metrics
const (
	// DurationMsKey records the execution time of an operation in milliseconds.
	DurationMsKey = "perf.duration_ms"

	// AccuracyKey records model accuracy for evaluation operations.
	AccuracyKey = "metrics.accuracy"

	// F1Key records the F1 score of the positive class.
	F1Key = "metrics.f1"

	// IterationKey records the current iteration number during iterative processes.
	IterationKey = "training.iteration"
)

// Hyperparameters and Configuration
const (
	// RegularizationKey records regularization strength (Lasso alpha).
	RegularizationKey = "hyperparams.regularization"

	// RandomSeedKey records the random seed for reproducibility.
	RandomSeedKey = "config.random_seed"
)

// Standard attribute value constants.
const (
	OperationFit          = "fit"
	OperationPredict      = "predict"
	OperationTransform    = "transform"
	OperationFitTransform = "fit_transform"
	OperationScore        = "score"

	PhaseTraining      = "training"
	PhaseTesting       = "testing"
	PhaseInference     = "inference"
	PhasePreprocessing = "preprocessing"
)
