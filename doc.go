// Package churnscope is a batch pipeline for customer churn prediction on
// tabular subscription data such as the Telco customer churn set.
//
// A run loads a CSV, cleans it, encodes the categorical columns, scores the
// features, standardizes them, trains tree and linear classifiers (with
// SMOTE-ENN rebalancing when churners are scarce) and saves the best model
// together with the frozen preprocessing state, so that raw rows can be
// scored later exactly the way the training rows were.
//
// # Quick Start
//
//	cfg := config.Default()
//	cfg.Output.Dir = "out"
//
//	res, err := pipeline.Run("data/telco.csv", cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Print(res.Training.Summary())
//
//	bundle, err := artifact.Load(res.ModelPath)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	pred, err := pipeline.Predict(bundle, newCustomers)
//
// The same steps are available from the command line:
//
//	churn eda data/telco.csv
//	churn run data/telco.csv --out out
//	churn predict out/model.gob data/new_customers.csv
//
// # Packages
//
//   - dataset: column table, CSV loading and saving
//   - preprocessing: cleaning, bucketing, one-hot encoding, scaling
//   - eda: column profiles, statistics and charts
//   - sklearn/feature_selection: chi-squared, extra-trees and Lasso scoring
//   - sklearn/imbalance: SMOTE, ENN and SMOTE-ENN resampling
//   - sklearn/tree, sklearn/ensemble, sklearn/linear_model: classifiers
//   - sklearn/model_selection: seeded train/test split
//   - metrics: confusion matrix, classification report, ROC AUC
//   - artifact: model bundle persistence
//   - pipeline: stage tracking and the end-to-end run
//   - config: viper-based configuration
//   - core/model, core/parallel: estimator interfaces and worker fan-out
//   - pkg/errors, pkg/log: typed errors and structured logging
package churnscope
