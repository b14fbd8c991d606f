// Package ensemble provides bagged tree ensembles: RandomForestClassifier and
// ExtraTreesClassifier.
//
// 木は errgroup で並列に学習し、予測は core/parallel で行単位に分割します。
// 木 i のシードは RandomState+i なので、並列度に関係なく結果は同一です。
package ensemble

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/churnscope/core/model"
	"github.com/YuminosukeSato/churnscope/core/parallel"
	"github.com/YuminosukeSato/churnscope/pkg/errors"
	"github.com/YuminosukeSato/churnscope/pkg/log"
	"github.com/YuminosukeSato/churnscope/sklearn/tree"
)

// predictThreshold is the row count below which prediction stays on one goroutine.
const predictThreshold = 512

var (
	_ model.FeatureImportancer = (*Forest)(nil)
	_ model.ParameterGetter    = (*Forest)(nil)
)

// Forest is the shared implementation behind RandomForestClassifier and
// ExtraTreesClassifier.
type Forest struct {
	name            string
	nEstimators     int
	criterion       string
	splitter        string
	maxDepth        int
	minSamplesSplit int
	minSamplesLeaf  int
	maxFeatures     string // "sqrt", "log2" or "all"
	bootstrap       bool
	randomState     uint64
	nJobs           int

	state       *model.StateManager
	trees       []*tree.DecisionTreeClassifier
	classes     []int
	importances []float64
}

// RandomForestClassifier averages best-split trees grown on bootstrap samples.
type RandomForestClassifier struct{ Forest }

// ExtraTreesClassifier averages random-split trees grown on the full sample.
type ExtraTreesClassifier struct{ Forest }

// Option configures a forest.
type Option func(*Forest)

// WithNEstimators sets the number of trees.
func WithNEstimators(n int) Option { return func(f *Forest) { f.nEstimators = n } }

// WithCriterion sets the impurity measure of every tree.
func WithCriterion(c string) Option { return func(f *Forest) { f.criterion = c } }

// WithMaxDepth limits tree depth; 0 means unlimited.
func WithMaxDepth(d int) Option { return func(f *Forest) { f.maxDepth = d } }

// WithMinSamplesSplit sets the per-tree minimum samples to split.
func WithMinSamplesSplit(n int) Option { return func(f *Forest) { f.minSamplesSplit = n } }

// WithMinSamplesLeaf sets the per-tree minimum samples per leaf.
func WithMinSamplesLeaf(n int) Option { return func(f *Forest) { f.minSamplesLeaf = n } }

// WithMaxFeatures sets the features considered per split: "sqrt", "log2" or "all".
func WithMaxFeatures(m string) Option { return func(f *Forest) { f.maxFeatures = m } }

// WithBootstrap toggles bootstrap sampling.
func WithBootstrap(b bool) Option { return func(f *Forest) { f.bootstrap = b } }

// WithRandomState seeds the ensemble.
func WithRandomState(seed uint64) Option { return func(f *Forest) { f.randomState = seed } }

// WithNJobs limits concurrent tree fits. 0 uses all CPUs.
func WithNJobs(n int) Option { return func(f *Forest) { f.nJobs = n } }

func newForest(name, splitter string, bootstrap bool, opts []Option) Forest {
	f := Forest{
		name:            name,
		nEstimators:     100,
		criterion:       "gini",
		splitter:        splitter,
		minSamplesSplit: 2,
		minSamplesLeaf:  1,
		maxFeatures:     "sqrt",
		bootstrap:       bootstrap,
		state:           model.NewStateManager(),
	}
	for _, opt := range opts {
		opt(&f)
	}
	return f
}

// NewRandomForestClassifier returns a random forest with 100 trees,
// bootstrap sampling and sqrt feature sampling.
func NewRandomForestClassifier(opts ...Option) *RandomForestClassifier {
	return &RandomForestClassifier{newForest("RandomForestClassifier", "best", true, opts)}
}

// NewExtraTreesClassifier returns an extremely randomized trees ensemble with
// 100 trees and no bootstrap.
func NewExtraTreesClassifier(opts ...Option) *ExtraTreesClassifier {
	return &ExtraTreesClassifier{newForest("ExtraTreesClassifier", "random", false, opts)}
}

func (f *Forest) featuresPerSplit(p int) (int, error) {
	var k int
	switch f.maxFeatures {
	case "sqrt":
		k = int(math.Sqrt(float64(p)))
	case "log2":
		k = int(math.Log2(float64(p)))
	case "all", "":
		k = p
	default:
		return 0, errors.NewValidationError("max_features", "must be \"sqrt\", \"log2\" or \"all\"", f.maxFeatures)
	}
	if k < 1 {
		k = 1
	}
	return k, nil
}

// Fit grows nEstimators trees concurrently.
func (f *Forest) Fit(X, y mat.Matrix) (err error) {
	defer errors.Recover(&err, f.name+".Fit")

	if f.nEstimators < 1 {
		return errors.NewValidationError("n_estimators", "must be at least 1", f.nEstimators)
	}
	n, p := X.Dims()
	if n == 0 || p == 0 {
		return errors.NewModelError(f.name+".Fit", "empty data", errors.ErrEmptyData)
	}
	if yr, _ := y.Dims(); yr != n {
		return errors.NewRowCountMismatchError(f.name+".Fit", n, yr)
	}
	k, err := f.featuresPerSplit(p)
	if err != nil {
		return err
	}

	trees := make([]*tree.DecisionTreeClassifier, f.nEstimators)
	var g errgroup.Group
	jobs := f.nJobs
	if jobs <= 0 {
		jobs = runtime.NumCPU()
	}
	g.SetLimit(jobs)

	for i := range trees {
		seed := f.randomState + uint64(i)
		g.Go(func() error {
			t := tree.NewDecisionTreeClassifier(
				tree.WithCriterion(f.criterion),
				tree.WithSplitter(f.splitter),
				tree.WithMaxDepth(f.maxDepth),
				tree.WithMinSamplesSplit(f.minSamplesSplit),
				tree.WithMinSamplesLeaf(f.minSamplesLeaf),
				tree.WithMaxFeatures(k),
				tree.WithRandomState(seed),
			)
			if err := t.FitSubset(X, y, sampleRows(n, f.bootstrap, seed)); err != nil {
				return errors.Wrapf(err, "%s: tree %d", f.name, i)
			}
			trees[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	f.trees = trees
	f.classes = trees[0].Classes()
	f.importances = meanImportances(trees, p)
	f.state.SetDimensions(p, n)
	f.state.SetFitted()

	log.GetLoggerWithName("ensemble").Info("Forest fitted",
		log.ModelNameKey, f.name,
		log.SamplesKey, n,
		log.FeaturesKey, p,
		"n_estimators", f.nEstimators,
	)
	return nil
}

// sampleRows returns bootstrap indices, or every row when bootstrap is off.
func sampleRows(n int, bootstrap bool, seed uint64) []int {
	rows := make([]int, n)
	if !bootstrap {
		for i := range rows {
			rows[i] = i
		}
		return rows
	}
	rng := rand.New(rand.NewPCG(seed, 0xb5297a4d))
	for i := range rows {
		rows[i] = rng.IntN(n)
	}
	return rows
}

// meanImportances averages the importances of trees that split at least once
// and renormalizes to sum 1.
func meanImportances(trees []*tree.DecisionTreeClassifier, p int) []float64 {
	out := make([]float64, p)
	used := 0
	for _, t := range trees {
		if t.GetNLeaves() <= 1 {
			continue
		}
		used++
		for j, v := range t.GetFeatureImportances() {
			out[j] += v
		}
	}
	if used == 0 {
		return out
	}
	total := 0.0
	for _, v := range out {
		total += v
	}
	if total > 0 {
		for j := range out {
			out[j] /= total
		}
	}
	return out
}

// PredictProba returns the mean class probabilities over all trees,
// columns ordered as Classes().
func (f *Forest) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	if err := f.state.RequireFitted(f.name, "PredictProba"); err != nil {
		return nil, err
	}
	n, p := X.Dims()
	if err := f.state.CheckFeatures(f.name+".PredictProba", p); err != nil {
		return nil, err
	}

	Xd := mat.DenseCopyOf(X)
	out := mat.NewDense(n, len(f.classes), nil)
	inv := 1 / float64(len(f.trees))

	var mu sync.Mutex
	var firstErr error
	parallel.ParallelizeWithThreshold(n, predictThreshold, func(start, end int) {
		sub := Xd.Slice(start, end, 0, p)
		acc := mat.NewDense(end-start, len(f.classes), nil)
		for _, t := range f.trees {
			proba, err := t.PredictProba(sub)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return
			}
			acc.Add(acc, proba)
		}
		acc.Scale(inv, acc)
		out.Slice(start, end, 0, len(f.classes)).(*mat.Dense).Copy(acc)
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

// Predict returns the class with the highest mean probability (n x 1).
func (f *Forest) Predict(X mat.Matrix) (mat.Matrix, error) {
	proba, err := f.PredictProba(X)
	if err != nil {
		return nil, err
	}
	n, c := proba.Dims()
	out := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		best := 0
		for k := 1; k < c; k++ {
			if proba.At(i, k) > proba.At(i, best) {
				best = k
			}
		}
		out.Set(i, 0, float64(f.classes[best]))
	}
	return out, nil
}

// Score returns the accuracy on (X, y); 0 if prediction fails.
func (f *Forest) Score(X, y mat.Matrix) float64 {
	pred, err := f.Predict(X)
	if err != nil {
		return 0
	}
	n, _ := pred.Dims()
	correct := 0
	for i := 0; i < n; i++ {
		if pred.At(i, 0) == y.At(i, 0) {
			correct++
		}
	}
	return float64(correct) / float64(n)
}

// Classes returns the sorted class labels.
func (f *Forest) Classes() []int { return append([]int(nil), f.classes...) }

// GetFeatureImportances returns the normalized mean impurity decrease per feature.
func (f *Forest) GetFeatureImportances() []float64 {
	return append([]float64(nil), f.importances...)
}

// Estimators returns the fitted trees.
func (f *Forest) Estimators() []*tree.DecisionTreeClassifier { return f.trees }

// GetParams returns the hyperparameters.
func (f *Forest) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"n_estimators":      f.nEstimators,
		"criterion":         f.criterion,
		"max_depth":         f.maxDepth,
		"min_samples_split": f.minSamplesSplit,
		"min_samples_leaf":  f.minSamplesLeaf,
		"max_features":      f.maxFeatures,
		"bootstrap":         f.bootstrap,
		"random_state":      f.randomState,
	}
}

func (f *Forest) String() string {
	return fmt.Sprintf("%s(n_estimators=%d, max_depth=%d, max_features=%s)",
		f.name, f.nEstimators, f.maxDepth, f.maxFeatures)
}

type forestSnapshot struct {
	Name            string
	NEstimators     int
	Criterion       string
	Splitter        string
	MaxDepth        int
	MinSamplesSplit int
	MinSamplesLeaf  int
	MaxFeatures     string
	Bootstrap       bool
	RandomState     uint64
	NJobs           int
	State           model.ModelState
	Trees           []*tree.DecisionTreeClassifier
	Classes         []int
	Importances     []float64
}

// GobEncode implements gob.GobEncoder.
func (f *Forest) GobEncode() ([]byte, error) {
	s := forestSnapshot{
		Name:            f.name,
		NEstimators:     f.nEstimators,
		Criterion:       f.criterion,
		Splitter:        f.splitter,
		MaxDepth:        f.maxDepth,
		MinSamplesSplit: f.minSamplesSplit,
		MinSamplesLeaf:  f.minSamplesLeaf,
		MaxFeatures:     f.maxFeatures,
		Bootstrap:       f.bootstrap,
		RandomState:     f.randomState,
		NJobs:           f.nJobs,
		State:           f.state.GetState(),
		Trees:           f.trees,
		Classes:         f.classes,
		Importances:     f.importances,
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(s); err != nil {
		return nil, errors.Wrapf(err, "encode %s", f.name)
	}
	return buf.Bytes(), nil
}

// GobDecode implements gob.GobDecoder.
func (f *Forest) GobDecode(data []byte) error {
	var s forestSnapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return errors.Wrap(err, "decode forest")
	}
	*f = Forest{
		name:            s.Name,
		nEstimators:     s.NEstimators,
		criterion:       s.Criterion,
		splitter:        s.Splitter,
		maxDepth:        s.MaxDepth,
		minSamplesSplit: s.MinSamplesSplit,
		minSamplesLeaf:  s.MinSamplesLeaf,
		maxFeatures:     s.MaxFeatures,
		bootstrap:       s.Bootstrap,
		randomState:     s.RandomState,
		nJobs:           s.NJobs,
		state:           model.NewStateManager(),
		trees:           s.Trees,
		classes:         s.Classes,
		importances:     s.Importances,
	}
	f.state.SetState(s.State)
	return nil
}
