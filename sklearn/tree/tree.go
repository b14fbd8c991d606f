// Package tree implements CART decision tree classifiers.
package tree

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/churnscope/core/model"
	"github.com/YuminosukeSato/churnscope/pkg/errors"
	"github.com/YuminosukeSato/churnscope/pkg/log"
)

// node is one tree node stored in a flat slice; children are slice indices.
type node struct {
	Leaf      bool
	Feature   int
	Threshold float64 // x[Feature] <= Threshold goes left
	Left      int
	Right     int
	Proba     []float64 // class distribution, aligned with classes
	NSamples  int
	Impurity  float64
}

var (
	_ model.Classifier         = (*DecisionTreeClassifier)(nil)
	_ model.FeatureImportancer = (*DecisionTreeClassifier)(nil)
	_ model.ParameterGetter    = (*DecisionTreeClassifier)(nil)
	_ model.ParameterSetter    = (*DecisionTreeClassifier)(nil)
)

// DecisionTreeClassifier is a CART classifier.
//
// Splits are binary thresholds on a single feature. With the "best" splitter
// every midpoint between distinct feature values is evaluated; with "random"
// one uniform threshold per candidate feature is drawn (as in extremely
// randomized trees).
type DecisionTreeClassifier struct {
	criterion           string
	splitter            string
	maxDepth            int // 0 means unlimited
	minSamplesSplit     int
	minSamplesLeaf      int
	maxFeatures         int // 0 means all features
	minImpurityDecrease float64
	randomState         uint64

	state              *model.StateManager
	nodes              []node
	classes            []int
	nClasses_          int
	featureImportances []float64
	depth              int
	nLeaves            int
}

// Option configures a DecisionTreeClassifier.
type Option func(*DecisionTreeClassifier)

// WithCriterion sets the impurity measure: "gini" (default) or "entropy".
func WithCriterion(c string) Option {
	return func(t *DecisionTreeClassifier) { t.criterion = c }
}

// WithSplitter sets the split strategy: "best" (default) or "random".
func WithSplitter(s string) Option {
	return func(t *DecisionTreeClassifier) { t.splitter = s }
}

// WithMaxDepth limits the tree depth (root depth 0). 0 means unlimited.
func WithMaxDepth(d int) Option {
	return func(t *DecisionTreeClassifier) { t.maxDepth = d }
}

// WithMinSamplesSplit sets the minimum samples required to split a node.
func WithMinSamplesSplit(n int) Option {
	return func(t *DecisionTreeClassifier) { t.minSamplesSplit = n }
}

// WithMinSamplesLeaf sets the minimum samples required in each leaf.
func WithMinSamplesLeaf(n int) Option {
	return func(t *DecisionTreeClassifier) { t.minSamplesLeaf = n }
}

// WithMaxFeatures sets the number of features considered per split. 0 means all.
func WithMaxFeatures(k int) Option {
	return func(t *DecisionTreeClassifier) { t.maxFeatures = k }
}

// WithMinImpurityDecrease sets the weighted impurity decrease a split must reach.
func WithMinImpurityDecrease(v float64) Option {
	return func(t *DecisionTreeClassifier) { t.minImpurityDecrease = v }
}

// WithRandomState seeds feature sampling and random thresholds.
func WithRandomState(seed uint64) Option {
	return func(t *DecisionTreeClassifier) { t.randomState = seed }
}

// NewDecisionTreeClassifier returns a classifier with scikit-learn defaults
// (seeded with 0 so repeated runs are identical).
func NewDecisionTreeClassifier(opts ...Option) *DecisionTreeClassifier {
	t := &DecisionTreeClassifier{
		criterion:       "gini",
		splitter:        "best",
		minSamplesSplit: 2,
		minSamplesLeaf:  1,
		state:           model.NewStateManager(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *DecisionTreeClassifier) validate() error {
	if t.criterion != "gini" && t.criterion != "entropy" {
		return errors.NewValidationError("criterion", "must be \"gini\" or \"entropy\"", t.criterion)
	}
	if t.splitter != "best" && t.splitter != "random" {
		return errors.NewValidationError("splitter", "must be \"best\" or \"random\"", t.splitter)
	}
	if t.maxDepth < 0 {
		return errors.NewValidationError("max_depth", "must be non-negative", t.maxDepth)
	}
	if t.minSamplesSplit < 2 {
		return errors.NewValidationError("min_samples_split", "must be at least 2", t.minSamplesSplit)
	}
	if t.minSamplesLeaf < 1 {
		return errors.NewValidationError("min_samples_leaf", "must be at least 1", t.minSamplesLeaf)
	}
	if t.maxFeatures < 0 {
		return errors.NewValidationError("max_features", "must be non-negative", t.maxFeatures)
	}
	return nil
}

// Fit builds the tree from X (n_samples x n_features) and integer class labels y.
func (t *DecisionTreeClassifier) Fit(X, y mat.Matrix) error {
	n, _ := X.Dims()
	rows := make([]int, n)
	for i := range rows {
		rows[i] = i
	}
	return t.FitSubset(X, y, rows)
}

// FitSubset builds the tree from the given rows of X and y. Rows may repeat
// (bootstrap samples). Classes are taken from all of y so that trees fitted on
// different subsets share one class order.
func (t *DecisionTreeClassifier) FitSubset(X, y mat.Matrix, rows []int) (err error) {
	defer errors.Recover(&err, "DecisionTreeClassifier.Fit")

	if err := t.validate(); err != nil {
		return err
	}
	n, p := X.Dims()
	if n == 0 || p == 0 || len(rows) == 0 {
		return errors.NewModelError("DecisionTreeClassifier.Fit", "empty data", errors.ErrEmptyData)
	}
	yr, _ := y.Dims()
	if yr != n {
		return errors.NewDimensionError("DecisionTreeClassifier.Fit", n, yr, 0)
	}
	if err := errors.CheckMatrix("DecisionTreeClassifier.Fit", X, n, p); err != nil {
		return err
	}

	classes, labels, err := encodeLabels(y)
	if err != nil {
		return err
	}
	t.classes = classes
	t.nClasses_ = len(classes)

	b := &builder{
		tree:       t,
		X:          X,
		labels:     labels,
		nFeatures:  p,
		nTotal:     float64(len(rows)),
		importance: make([]float64, p),
		rng:        rand.New(rand.NewPCG(t.randomState, 0x9e3779b97f4a7c15)),
	}
	if t.criterion == "entropy" {
		b.impurity = entropy
	} else {
		b.impurity = gini
	}

	t.nodes = t.nodes[:0]
	t.depth, t.nLeaves = 0, 0
	idx := append([]int(nil), rows...)
	b.build(idx, 0)

	total := 0.0
	for _, v := range b.importance {
		total += v
	}
	t.featureImportances = make([]float64, p)
	if total > 0 {
		for j, v := range b.importance {
			t.featureImportances[j] = v / total
		}
	}

	if t.state == nil {
		t.state = model.NewStateManager()
	}
	t.state.SetDimensions(p, len(rows))
	t.state.SetFitted()

	log.GetLoggerWithName("tree").Debug("Decision tree fitted",
		log.ModelNameKey, "DecisionTreeClassifier",
		log.SamplesKey, len(rows),
		log.FeaturesKey, p,
		"depth", t.depth,
		"leaves", t.nLeaves,
	)
	return nil
}

// encodeLabels maps y to indices into the sorted unique class list.
func encodeLabels(y mat.Matrix) ([]int, []int, error) {
	n, _ := y.Dims()
	seen := map[int]bool{}
	raw := make([]int, n)
	for i := 0; i < n; i++ {
		v := y.At(i, 0)
		if v != math.Trunc(v) || math.IsNaN(v) {
			return nil, nil, errors.NewValueError("DecisionTreeClassifier.Fit", fmt.Sprintf("label %v at row %d is not an integer class", v, i))
		}
		raw[i] = int(v)
		seen[raw[i]] = true
	}
	classes := make([]int, 0, len(seen))
	for c := range seen {
		classes = append(classes, c)
	}
	sort.Ints(classes)
	pos := make(map[int]int, len(classes))
	for k, c := range classes {
		pos[c] = k
	}
	labels := make([]int, n)
	for i, c := range raw {
		labels[i] = pos[c]
	}
	return classes, labels, nil
}

type builder struct {
	tree       *DecisionTreeClassifier
	X          mat.Matrix
	labels     []int
	nFeatures  int
	nTotal     float64
	importance []float64
	impurity   func(counts []float64, n float64) float64
	rng        *rand.Rand
}

type split struct {
	feature   int
	threshold float64
	gain      float64 // weighted impurity decrease, unnormalized
	left      []int
	right     []int
}

func (b *builder) counts(idx []int) []float64 {
	c := make([]float64, b.tree.nClasses_)
	for _, i := range idx {
		c[b.labels[i]]++
	}
	return c
}

// build appends the node for idx and its subtree, returning the node index.
func (b *builder) build(idx []int, depth int) int {
	t := b.tree
	counts := b.counts(idx)
	n := float64(len(idx))
	imp := b.impurity(counts, n)

	proba := make([]float64, len(counts))
	for k, c := range counts {
		proba[k] = c / n
	}
	self := len(t.nodes)
	t.nodes = append(t.nodes, node{Leaf: true, Proba: proba, NSamples: len(idx), Impurity: imp})
	if depth > t.depth {
		t.depth = depth
	}

	canSplit := imp > 0 &&
		(t.maxDepth == 0 || depth < t.maxDepth) &&
		len(idx) >= t.minSamplesSplit &&
		len(idx) >= 2*t.minSamplesLeaf
	if !canSplit {
		t.nLeaves++
		return self
	}

	best, ok := b.findSplit(idx, counts, imp)
	if !ok || (t.minImpurityDecrease > 0 && best.gain/b.nTotal < t.minImpurityDecrease) {
		t.nLeaves++
		return self
	}

	b.importance[best.feature] += best.gain
	left := b.build(best.left, depth+1)
	right := b.build(best.right, depth+1)
	nd := &t.nodes[self]
	nd.Leaf = false
	nd.Feature = best.feature
	nd.Threshold = best.threshold
	nd.Left = left
	nd.Right = right
	return self
}

func (b *builder) candidateFeatures() []int {
	perm := b.rng.Perm(b.nFeatures)
	k := b.tree.maxFeatures
	if k == 0 || k > b.nFeatures {
		k = b.nFeatures
	}
	return perm[:k]
}

func (b *builder) findSplit(idx []int, parent []float64, parentImp float64) (split, bool) {
	t := b.tree
	n := float64(len(idx))
	var best split
	found := false

	values := make([]float64, len(idx))
	order := make([]int, len(idx))
	for _, f := range b.candidateFeatures() {
		for k, i := range idx {
			values[k] = b.X.At(i, f)
		}

		var threshold float64
		var gain float64
		var ok bool
		if t.splitter == "random" {
			threshold, gain, ok = b.randomThreshold(idx, values, parent, parentImp)
		} else {
			threshold, gain, ok = b.bestThreshold(idx, values, order, parent, parentImp)
		}
		if !ok || (found && gain <= best.gain+1e-12*n) {
			continue
		}
		best = split{feature: f, threshold: threshold, gain: gain}
		found = true
	}
	if !found {
		return split{}, false
	}

	for _, i := range idx {
		if b.X.At(i, best.feature) <= best.threshold {
			best.left = append(best.left, i)
		} else {
			best.right = append(best.right, i)
		}
	}
	return best, true
}

// bestThreshold sweeps the sorted values of one feature.
func (b *builder) bestThreshold(idx []int, values []float64, order []int, parent []float64, parentImp float64) (float64, float64, bool) {
	t := b.tree
	n := len(idx)
	for k := range order {
		order[k] = k
	}
	sort.SliceStable(order, func(a, c int) bool { return values[order[a]] < values[order[c]] })
	if values[order[0]] == values[order[n-1]] {
		return 0, 0, false
	}

	left := make([]float64, len(parent))
	right := append([]float64(nil), parent...)
	nf := float64(n)
	bestGain := math.Inf(-1)
	var bestThr float64
	ok := false
	for k := 0; k < n-1; k++ {
		lab := b.labels[idx[order[k]]]
		left[lab]++
		right[lab]--
		nl := k + 1
		nr := n - nl
		v, next := values[order[k]], values[order[k+1]]
		if v == next || nl < t.minSamplesLeaf || nr < t.minSamplesLeaf {
			continue
		}
		li := b.impurity(left, float64(nl))
		ri := b.impurity(right, float64(nr))
		gain := nf*parentImp - float64(nl)*li - float64(nr)*ri
		if gain > bestGain {
			bestGain = gain
			bestThr = v + (next-v)/2
			if bestThr == next {
				bestThr = v
			}
			ok = true
		}
	}
	return bestThr, bestGain, ok
}

// randomThreshold draws one threshold uniformly between the feature's min and max.
func (b *builder) randomThreshold(idx []int, values []float64, parent []float64, parentImp float64) (float64, float64, bool) {
	t := b.tree
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if lo == hi {
		return 0, 0, false
	}
	thr := lo + b.rng.Float64()*(hi-lo)
	if thr >= hi {
		thr = lo
	}

	left := make([]float64, len(parent))
	nl := 0
	for k, v := range values {
		if v <= thr {
			left[b.labels[idx[k]]]++
			nl++
		}
	}
	n := len(idx)
	nr := n - nl
	if nl < t.minSamplesLeaf || nr < t.minSamplesLeaf {
		return 0, 0, false
	}
	right := make([]float64, len(parent))
	for k := range parent {
		right[k] = parent[k] - left[k]
	}
	li := b.impurity(left, float64(nl))
	ri := b.impurity(right, float64(nr))
	gain := float64(n)*parentImp - float64(nl)*li - float64(nr)*ri
	return thr, gain, true
}

func gini(counts []float64, n float64) float64 {
	if n == 0 {
		return 0
	}
	s := 1.0
	for _, c := range counts {
		p := c / n
		s -= p * p
	}
	return s
}

func entropy(counts []float64, n float64) float64 {
	if n == 0 {
		return 0
	}
	e := 0.0
	for _, c := range counts {
		if c > 0 {
			p := c / n
			e -= p * math.Log2(p)
		}
	}
	return e
}

func (t *DecisionTreeClassifier) leaf(X mat.Matrix, i int) *node {
	nd := &t.nodes[0]
	for !nd.Leaf {
		if X.At(i, nd.Feature) <= nd.Threshold {
			nd = &t.nodes[nd.Left]
		} else {
			nd = &t.nodes[nd.Right]
		}
	}
	return nd
}

func (t *DecisionTreeClassifier) checkPredict(X mat.Matrix, method string) error {
	if t.state == nil || !t.state.IsFitted() {
		return errors.NewNotFittedError("DecisionTreeClassifier", method)
	}
	_, p := X.Dims()
	return t.state.CheckFeatures("DecisionTreeClassifier."+method, p)
}

// PredictProba returns class probabilities (n_samples x n_classes), columns
// ordered as Classes().
func (t *DecisionTreeClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	if err := t.checkPredict(X, "PredictProba"); err != nil {
		return nil, err
	}
	n, _ := X.Dims()
	out := mat.NewDense(n, t.nClasses_, nil)
	for i := 0; i < n; i++ {
		out.SetRow(i, t.leaf(X, i).Proba)
	}
	return out, nil
}

// Predict returns the most probable class per row as an n x 1 matrix.
// Ties resolve to the smallest class.
func (t *DecisionTreeClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	if err := t.checkPredict(X, "Predict"); err != nil {
		return nil, err
	}
	n, _ := X.Dims()
	out := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		out.Set(i, 0, float64(t.classes[argmax(t.leaf(X, i).Proba)]))
	}
	return out, nil
}

func argmax(v []float64) int {
	best := 0
	for k := 1; k < len(v); k++ {
		if v[k] > v[best] {
			best = k
		}
	}
	return best
}

// Score returns the accuracy on (X, y); 0 if prediction fails.
func (t *DecisionTreeClassifier) Score(X, y mat.Matrix) float64 {
	pred, err := t.Predict(X)
	if err != nil {
		return 0
	}
	n, _ := X.Dims()
	correct := 0
	for i := 0; i < n; i++ {
		if pred.At(i, 0) == y.At(i, 0) {
			correct++
		}
	}
	return float64(correct) / float64(n)
}

// Classes returns the sorted class labels seen in Fit.
func (t *DecisionTreeClassifier) Classes() []int {
	return append([]int(nil), t.classes...)
}

// GetFeatureImportances returns the normalized mean decrease in impurity per feature.
func (t *DecisionTreeClassifier) GetFeatureImportances() []float64 {
	return append([]float64(nil), t.featureImportances...)
}

// GetDepth returns the depth of the fitted tree.
func (t *DecisionTreeClassifier) GetDepth() int { return t.depth }

// GetNLeaves returns the number of leaves of the fitted tree.
func (t *DecisionTreeClassifier) GetNLeaves() int { return t.nLeaves }

// GetParams returns the hyperparameters.
func (t *DecisionTreeClassifier) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"criterion":             t.criterion,
		"splitter":              t.splitter,
		"max_depth":             t.maxDepth,
		"min_samples_split":     t.minSamplesSplit,
		"min_samples_leaf":      t.minSamplesLeaf,
		"max_features":          t.maxFeatures,
		"min_impurity_decrease": t.minImpurityDecrease,
		"random_state":          t.randomState,
	}
}

// SetParams updates hyperparameters. Unknown keys and wrong types are errors.
func (t *DecisionTreeClassifier) SetParams(params map[string]interface{}) error {
	for k, v := range params {
		switch k {
		case "criterion", "splitter":
			s, ok := v.(string)
			if !ok {
				return errors.NewValidationError(k, "must be a string", v)
			}
			if k == "criterion" {
				t.criterion = s
			} else {
				t.splitter = s
			}
		case "max_depth", "min_samples_split", "min_samples_leaf", "max_features":
			i, ok := v.(int)
			if !ok {
				return errors.NewValidationError(k, "must be an int", v)
			}
			switch k {
			case "max_depth":
				t.maxDepth = i
			case "min_samples_split":
				t.minSamplesSplit = i
			case "min_samples_leaf":
				t.minSamplesLeaf = i
			default:
				t.maxFeatures = i
			}
		case "min_impurity_decrease":
			f, ok := v.(float64)
			if !ok {
				return errors.NewValidationError(k, "must be a float64", v)
			}
			t.minImpurityDecrease = f
		case "random_state":
			switch s := v.(type) {
			case uint64:
				t.randomState = s
			case int:
				t.randomState = uint64(s)
			case int64:
				t.randomState = uint64(s)
			default:
				return errors.NewValidationError(k, "must be an integer", v)
			}
		default:
			return errors.NewValidationError(k, "unknown parameter", v)
		}
	}
	return t.validate()
}

// snapshot is the gob wire form of a fitted tree.
type snapshot struct {
	Criterion           string
	Splitter            string
	MaxDepth            int
	MinSamplesSplit     int
	MinSamplesLeaf      int
	MaxFeatures         int
	MinImpurityDecrease float64
	RandomState         uint64
	State               model.ModelState
	Nodes               []node
	Classes             []int
	FeatureImportances  []float64
	Depth               int
	NLeaves             int
}

// GobEncode implements gob.GobEncoder.
func (t *DecisionTreeClassifier) GobEncode() ([]byte, error) {
	s := snapshot{
		Criterion:           t.criterion,
		Splitter:            t.splitter,
		MaxDepth:            t.maxDepth,
		MinSamplesSplit:     t.minSamplesSplit,
		MinSamplesLeaf:      t.minSamplesLeaf,
		MaxFeatures:         t.maxFeatures,
		MinImpurityDecrease: t.minImpurityDecrease,
		RandomState:         t.randomState,
		Nodes:               t.nodes,
		Classes:             t.classes,
		FeatureImportances:  t.featureImportances,
		Depth:               t.depth,
		NLeaves:             t.nLeaves,
	}
	if t.state != nil {
		s.State = t.state.GetState()
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(s); err != nil {
		return nil, errors.Wrap(err, "encode decision tree")
	}
	return buf.Bytes(), nil
}

// GobDecode implements gob.GobDecoder.
func (t *DecisionTreeClassifier) GobDecode(data []byte) error {
	var s snapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return errors.Wrap(err, "decode decision tree")
	}
	t.criterion = s.Criterion
	t.splitter = s.Splitter
	t.maxDepth = s.MaxDepth
	t.minSamplesSplit = s.MinSamplesSplit
	t.minSamplesLeaf = s.MinSamplesLeaf
	t.maxFeatures = s.MaxFeatures
	t.minImpurityDecrease = s.MinImpurityDecrease
	t.randomState = s.RandomState
	t.nodes = s.Nodes
	t.classes = s.Classes
	t.nClasses_ = len(s.Classes)
	t.featureImportances = s.FeatureImportances
	t.depth = s.Depth
	t.nLeaves = s.NLeaves
	t.state = model.NewStateManager()
	t.state.SetState(s.State)
	return nil
}

// String returns a short description.
func (t *DecisionTreeClassifier) String() string {
	return fmt.Sprintf("DecisionTreeClassifier(criterion=%s, splitter=%s, max_depth=%d, min_samples_leaf=%d)",
		t.criterion, t.splitter, t.maxDepth, t.minSamplesLeaf)
}
