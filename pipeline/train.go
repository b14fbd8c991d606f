package pipeline

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/churnscope/artifact"
	"github.com/YuminosukeSato/churnscope/config"
	"github.com/YuminosukeSato/churnscope/core/model"
	"github.com/YuminosukeSato/churnscope/dataset"
	"github.com/YuminosukeSato/churnscope/metrics"
	"github.com/YuminosukeSato/churnscope/pkg/errors"
	"github.com/YuminosukeSato/churnscope/pkg/log"
	"github.com/YuminosukeSato/churnscope/sklearn/ensemble"
	"github.com/YuminosukeSato/churnscope/sklearn/imbalance"
	"github.com/YuminosukeSato/churnscope/sklearn/linear_model"
	"github.com/YuminosukeSato/churnscope/sklearn/model_selection"
	"github.com/YuminosukeSato/churnscope/sklearn/tree"
)

// positiveLabel is the encoded value of the positive (churned) class.
const positiveLabel = 1

// NewClassifier builds the named candidate from the training config.
func NewClassifier(name string, cfg *config.Config) (model.Classifier, error) {
	tc := cfg.Train
	switch name {
	case config.DecisionTree:
		return tree.NewDecisionTreeClassifier(
			tree.WithCriterion(tc.Tree.Criterion),
			tree.WithMaxDepth(tc.Tree.MaxDepth),
			tree.WithMinSamplesSplit(tc.Tree.MinSamplesSplit),
			tree.WithMinSamplesLeaf(tc.Tree.MinSamplesLeaf),
			tree.WithRandomState(tc.Seed),
		), nil
	case config.RandomForest:
		return ensemble.NewRandomForestClassifier(
			ensemble.WithNEstimators(tc.Forest.NEstimators),
			ensemble.WithCriterion(tc.Forest.Criterion),
			ensemble.WithMaxDepth(tc.Forest.MaxDepth),
			ensemble.WithMinSamplesLeaf(tc.Forest.MinSamplesLeaf),
			ensemble.WithMaxFeatures(tc.Forest.MaxFeatures),
			ensemble.WithRandomState(tc.Seed),
			ensemble.WithNJobs(tc.NJobs),
		), nil
	case config.LogisticRegression:
		return linear_model.NewLogisticRegression(
			linear_model.WithLRC(tc.Logistic.C),
			linear_model.WithLRMaxIter(tc.Logistic.MaxIter),
		), nil
	default:
		return nil, errors.NewValidationError("train.candidates", "unknown model", name)
	}
}

// Evaluation holds the test-partition metrics of one fitted candidate.
type Evaluation struct {
	Model      string                        `yaml:"model"`
	Rebalanced bool                          `yaml:"rebalanced"`
	Confusion  *metrics.ConfusionMatrix      `yaml:"confusion_matrix"`
	Report     *metrics.ClassificationReport `yaml:"report"`
	AUC        float64                       `yaml:"roc_auc"`
	LogLoss    float64                       `yaml:"log_loss"`
	// Score is the value of the selection metric.
	Score float64 `yaml:"score"`

	classifier model.Classifier
}

// Classifier returns the fitted model that produced the evaluation.
func (e *Evaluation) Classifier() model.Classifier { return e.classifier }

// Positive returns the metrics of the positive class.
func (e *Evaluation) Positive() metrics.ClassMetrics {
	m, _ := e.Report.Class(positiveLabel)
	return m
}

// metricValue extracts the named selection metric.
func (e *Evaluation) metricValue(name string) float64 {
	pos := e.Positive()
	switch name {
	case "recall":
		return pos.Recall
	case "precision":
		return pos.Precision
	case "accuracy":
		return e.Report.Accuracy
	case "auc":
		return e.AUC
	default:
		return pos.F1
	}
}

// TrainResult is the outcome of Train.
type TrainResult struct {
	Evaluations   []*Evaluation      `yaml:"evaluations"`
	Best          *Evaluation        `yaml:"best"`
	Rebalanced    bool               `yaml:"rebalanced"`
	MinorityShare float64            `yaml:"minority_share"`
	ClassBalance  map[string]float64 `yaml:"class_balance"`
	TrainRows     int                `yaml:"train_rows"`
	TestRows      int                `yaml:"test_rows"`
	Features      []string           `yaml:"features"`
}

// Train fits and evaluates every configured candidate on a persisted, scaled
// table, rebalances with SMOTE-ENN when the minority class is scarce, and
// returns the best evaluation under the configured selection metric.
func Train(t *dataset.Table, cfg *config.Config, tr *Tracker) (*TrainResult, error) {
	logger := log.GetLoggerWithName("pipeline")
	target := cfg.Data.Target

	if tr.Current() != StageLoaded {
		if err := tr.Advance(StageLoaded); err != nil {
			return nil, err
		}
	}

	// The persisted table carries no missing cells; dropping keeps the
	// trainer safe against hand-edited input.
	keep := t.MissingRows()
	dropped := 0
	for i, miss := range keep {
		keep[i] = !miss
		if miss {
			dropped++
		}
	}
	t, err := t.FilterRows(keep)
	if err != nil {
		return nil, tr.Fail(err)
	}
	if t.Rows() == 0 {
		return nil, tr.Fail(errors.NewEmptyTableError("train", len(keep), dropped))
	}

	X, y, features, err := t.SplitXY(target)
	if err != nil {
		return nil, tr.Fail(err)
	}
	res := &TrainResult{
		Features:      features,
		MinorityShare: imbalance.MinorityShare(y),
		ClassBalance:  balanceByLabel(y),
	}
	logger.Info("Training data ready",
		log.StageKey, "train",
		log.SamplesKey, t.Rows(),
		log.FeaturesKey, len(features),
		log.RowsDroppedKey, dropped,
		log.ClassBalanceKey, res.MinorityShare,
	)

	split, err := model_selection.TrainTestSplit(X, y, cfg.Train.TestSize, cfg.Train.Seed)
	if err != nil {
		return nil, tr.Fail(err)
	}
	if err := tr.Advance(StageSplit); err != nil {
		return nil, err
	}
	res.TrainRows, res.TestRows = len(split.TrainIndex), len(split.TestIndex)

	evals, err := fitCandidates(split, cfg, false)
	if err != nil {
		return nil, tr.Fail(err)
	}
	if err := tr.Advance(StageTrained); err != nil {
		return nil, err
	}
	if err := tr.Advance(StageEvaluated); err != nil {
		return nil, err
	}
	res.Evaluations = append(res.Evaluations, evals...)

	if cfg.Train.Rebalance && res.MinorityShare < cfg.Train.ImbalanceThreshold {
		if err := tr.Advance(StageRebalanced); err != nil {
			return nil, err
		}
		rsplit, err := rebalance(X, y, cfg)
		if err != nil {
			return nil, tr.Fail(err)
		}
		evals, err := fitCandidates(rsplit, cfg, true)
		if err != nil {
			return nil, tr.Fail(err)
		}
		if err := tr.Advance(StageRetrained); err != nil {
			return nil, err
		}
		if err := tr.Advance(StageEvaluated); err != nil {
			return nil, err
		}
		res.Evaluations = append(res.Evaluations, evals...)
		res.Rebalanced = true
		res.TrainRows, res.TestRows = len(rsplit.TrainIndex), len(rsplit.TestIndex)
	}

	res.Best = selectBest(res.Evaluations, res.Rebalanced)
	logger.Info("Best model selected",
		log.StageKey, "evaluate",
		log.ModelNameKey, res.Best.Model,
		"rebalanced", res.Best.Rebalanced,
		cfg.Train.SelectionMetric, res.Best.Score,
	)
	return res, nil
}

// rebalance resamples the full data set with SMOTE-ENN and splits it again
// with the same seed and test fraction.
func rebalance(X, y *mat.Dense, cfg *config.Config) (*model_selection.Split, error) {
	Xr, yr, err := imbalance.NewSMOTEENN(cfg.Train.Seed).FitResample(X, y)
	if err != nil {
		return nil, err
	}
	xr, _ := Xr.Dims()
	if yrows, _ := yr.Dims(); xr != yrows {
		return nil, errors.NewRowCountMismatchError("rebalance", xr, yrows)
	}
	rows, _ := X.Dims()
	log.GetLoggerWithName("pipeline").Info("Data rebalanced",
		log.StageKey, "rebalance",
		log.SamplesKey, xr,
		"rows_before", rows,
		log.ClassBalanceKey, imbalance.MinorityShare(yr),
	)
	return model_selection.TrainTestSplit(Xr, yr, cfg.Train.TestSize, cfg.Train.Seed)
}

func fitCandidates(split *model_selection.Split, cfg *config.Config, rebalanced bool) ([]*Evaluation, error) {
	var evals []*Evaluation
	for _, name := range cfg.Train.Candidates {
		clf, err := NewClassifier(name, cfg)
		if err != nil {
			return nil, err
		}
		start := time.Now()
		if err := clf.Fit(split.XTrain, split.YTrain); err != nil {
			return nil, errors.Wrapf(err, "fit %s", name)
		}
		ev, err := Evaluate(name, clf, split.XTest, split.YTest)
		if err != nil {
			return nil, errors.Wrapf(err, "evaluate %s", name)
		}
		ev.Rebalanced = rebalanced
		ev.Score = ev.metricValue(cfg.Train.SelectionMetric)
		evals = append(evals, ev)

		pos := ev.Positive()
		log.GetLoggerWithName("pipeline").Info("Candidate evaluated",
			log.StageKey, "evaluate",
			log.ModelNameKey, name,
			"rebalanced", rebalanced,
			log.AccuracyKey, ev.Report.Accuracy,
			log.F1Key, pos.F1,
			"recall", pos.Recall,
			"roc_auc", ev.AUC,
			log.DurationMsKey, time.Since(start).Milliseconds(),
		)
	}
	return evals, nil
}

// Evaluate scores a fitted classifier on a held-out partition.
func Evaluate(name string, clf model.Classifier, X, y mat.Matrix) (*Evaluation, error) {
	pred, err := clf.Predict(X)
	if err != nil {
		return nil, err
	}
	cm, err := metrics.NewConfusionMatrix(y, pred)
	if err != nil {
		return nil, err
	}
	ev := &Evaluation{
		Model:      name,
		Confusion:  cm,
		Report:     metrics.NewClassificationReport(cm),
		classifier: clf,
	}

	proba, err := positiveProba(clf, X)
	if err != nil {
		return nil, err
	}
	n, _ := y.Dims()
	yv := mat.NewVecDense(n, mat.Col(nil, 0, y))
	if ev.AUC, err = metrics.AUC(yv, proba); err != nil {
		return nil, err
	}
	if ev.LogLoss, err = metrics.BinaryLogLoss(yv, proba); err != nil {
		return nil, err
	}
	return ev, nil
}

// positiveProba returns the positive-class column of PredictProba. A model
// that never saw the positive class scores every row 0.
func positiveProba(clf model.Classifier, X mat.Matrix) (*mat.VecDense, error) {
	proba, err := clf.PredictProba(X)
	if err != nil {
		return nil, err
	}
	n, _ := proba.Dims()
	out := mat.NewVecDense(n, nil)
	for k, c := range clf.Classes() {
		if c == positiveLabel {
			out.CopyVec(mat.NewVecDense(n, mat.Col(nil, k, proba)))
			break
		}
	}
	return out, nil
}

// selectBest returns the highest-scoring evaluation. When rebalancing ran,
// only the rebalanced candidates compete, as the original partition is no
// longer the one being reported on.
func selectBest(evals []*Evaluation, rebalanced bool) *Evaluation {
	var best *Evaluation
	for _, ev := range evals {
		if rebalanced && !ev.Rebalanced {
			continue
		}
		if best == nil || ev.Score > best.Score {
			best = ev
		}
	}
	return best
}

func balanceByLabel(y mat.Matrix) map[string]float64 {
	out := make(map[string]float64)
	for label, share := range imbalance.ClassBalance(y) {
		out[strconv.FormatFloat(label, 'g', -1, 64)] = share
	}
	return out
}

// NewBundle packages the best model of a training run with the preprocessor
// that produced its inputs.
func NewBundle(res *TrainResult, prep *artifact.Preprocessor) (*artifact.Bundle, error) {
	if res.Best == nil {
		return nil, errors.New("pipeline: no evaluated model to bundle")
	}
	if !sameStrings(res.Features, prep.Features) {
		return nil, errors.NewSchemaMismatchError("bundle", missingFrom(prep.Features, res.Features), missingFrom(res.Features, prep.Features))
	}
	meta := artifact.NewMetadata(res.Best.Model)
	meta.Target = prep.Target
	meta.Features = append([]string(nil), prep.Features...)
	meta.Report = res.Best.Report
	meta.ConfusionMatrix = res.Best.Confusion
	meta.Rebalanced = res.Rebalanced
	meta.TrainRows, meta.TestRows = res.TrainRows, res.TestRows
	for k, v := range res.ClassBalance {
		meta.ClassBalance[k] = v
	}
	pos := res.Best.Positive()
	meta.Metrics["accuracy"] = res.Best.Report.Accuracy
	meta.Metrics["precision"] = pos.Precision
	meta.Metrics["recall"] = pos.Recall
	meta.Metrics["f1"] = pos.F1
	meta.Metrics["roc_auc"] = res.Best.AUC
	meta.Metrics["log_loss"] = res.Best.LogLoss
	meta.RecordParams(res.Best.classifier)

	return &artifact.Bundle{
		Model:        res.Best.classifier,
		Preprocessor: *prep,
		Metadata:     meta,
	}, nil
}

// Summary renders the evaluations as text, best first.
func (r *TrainResult) Summary() string {
	evals := append([]*Evaluation(nil), r.Evaluations...)
	sort.SliceStable(evals, func(i, j int) bool { return evals[i].Score > evals[j].Score })
	var b strings.Builder
	for _, ev := range evals {
		tag := ""
		if ev.Rebalanced {
			tag = " (SMOTE-ENN)"
		}
		fmt.Fprintf(&b, "== %s%s  score=%.4f  roc_auc=%.4f\n%s\n", ev.Model, tag, ev.Score, ev.AUC, ev.Report)
	}
	return b.String()
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// missingFrom returns the entries of want absent from have.
func missingFrom(have, want []string) []string {
	set := make(map[string]bool, len(have))
	for _, h := range have {
		set[h] = true
	}
	var out []string
	for _, w := range want {
		if !set[w] {
			out = append(out, w)
		}
	}
	return out
}
