// Package metrics provides classification metrics: accuracy, ROC AUC, log
// loss, the confusion matrix and a per-class precision/recall/F1 report.
package metrics

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/churnscope/pkg/errors"
)

// logLossEps clips probabilities away from 0 and 1.
const logLossEps = 1e-15

func vecPair(op string, yTrue, yPred *mat.VecDense) ([]float64, []float64, error) {
	if yTrue == nil || yPred == nil {
		return nil, nil, errors.NewValueError(op, "input vectors must not be nil")
	}
	n, m := yTrue.Len(), yPred.Len()
	if n != m {
		return nil, nil, errors.NewDimensionError(op, n, m, 0)
	}
	if n == 0 {
		return nil, nil, errors.NewModelError(op, "empty input", errors.ErrEmptyData)
	}
	return mat.Col(nil, 0, yTrue), mat.Col(nil, 0, yPred), nil
}

func checkBinary(op string, y []float64) error {
	for i, v := range y {
		if v != 0 && v != 1 {
			return errors.NewValueError(op, fmt.Sprintf("labels must be 0 or 1, got %v at index %d", v, i))
		}
	}
	return nil
}

// Accuracy returns the fraction of exact matches.
func Accuracy(yTrue, yPred *mat.VecDense) (float64, error) {
	t, p, err := vecPair("Accuracy", yTrue, yPred)
	if err != nil {
		return 0, err
	}
	correct := 0
	for i := range t {
		if t[i] == p[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(t)), nil
}

// ClassificationError returns 1 - Accuracy.
func ClassificationError(yTrue, yPred *mat.VecDense) (float64, error) {
	acc, err := Accuracy(yTrue, yPred)
	if err != nil {
		return 0, err
	}
	return 1 - acc, nil
}

// AUC returns the area under the ROC curve for 0/1 labels and positive-class
// scores, computed as the Mann-Whitney U statistic with tied scores sharing
// their mean rank. With a single class present the metric is undefined: a
// warning is raised and 0.5 returned.
func AUC(yTrue, yPred *mat.VecDense) (float64, error) {
	t, p, err := vecPair("AUC", yTrue, yPred)
	if err != nil {
		return 0, err
	}
	if err := checkBinary("AUC", t); err != nil {
		return 0, err
	}

	order := make([]int, len(p))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return p[order[a]] < p[order[b]] })

	var nPos, nNeg, rankSum float64
	for start := 0; start < len(order); {
		end := start
		for end < len(order) && p[order[end]] == p[order[start]] {
			end++
		}
		rank := float64(start+end+1) / 2 // mean of 1-based ranks start+1..end
		for k := start; k < end; k++ {
			if t[order[k]] == 1 {
				rankSum += rank
				nPos++
			} else {
				nNeg++
			}
		}
		start = end
	}
	if nPos == 0 || nNeg == 0 {
		errors.Warn(errors.NewUndefinedMetricWarning("roc_auc", "only one class present in y_true", 0.5))
		return 0.5, nil
	}
	return (rankSum - nPos*(nPos+1)/2) / (nPos * nNeg), nil
}

// AUCMatrix is AUC over the first column of each matrix.
func AUCMatrix(yTrue, yPred mat.Matrix) (float64, error) {
	if yTrue == nil || yPred == nil {
		return 0, errors.NewValueError("AUCMatrix", "input matrices must not be nil")
	}
	if d, ok := yTrue.(*mat.Dense); ok && d.IsEmpty() {
		return 0, errors.NewModelError("AUCMatrix", "empty input", errors.ErrEmptyData)
	}
	if d, ok := yPred.(*mat.Dense); ok && d.IsEmpty() {
		return 0, errors.NewModelError("AUCMatrix", "empty input", errors.ErrEmptyData)
	}
	return AUC(firstColumn(yTrue), firstColumn(yPred))
}

func firstColumn(m mat.Matrix) *mat.VecDense {
	r, _ := m.Dims()
	return mat.NewVecDense(r, mat.Col(nil, 0, m))
}

// BinaryLogLoss returns the mean negative log-likelihood of 0/1 labels under
// positive-class probabilities, clipped to [eps, 1-eps].
func BinaryLogLoss(yTrue, yPred *mat.VecDense) (float64, error) {
	t, p, err := vecPair("BinaryLogLoss", yTrue, yPred)
	if err != nil {
		return 0, err
	}
	if err := checkBinary("BinaryLogLoss", t); err != nil {
		return 0, err
	}
	loss := 0.0
	for i := range t {
		q := math.Min(math.Max(p[i], logLossEps), 1-logLossEps)
		if t[i] == 1 {
			loss -= math.Log(q)
		} else {
			loss -= math.Log(1 - q)
		}
	}
	return loss / float64(len(t)), nil
}

// ConfusionMatrix counts (true, predicted) label pairs. Counts[i][j] is the
// number of samples with true label Labels[i] predicted as Labels[j].
type ConfusionMatrix struct {
	Labels []int   `yaml:"labels" json:"labels"`
	Counts [][]int `yaml:"counts" json:"counts"`
}

// NewConfusionMatrix builds the matrix over the sorted union of labels in
// both inputs (first column of each).
func NewConfusionMatrix(yTrue, yPred mat.Matrix) (*ConfusionMatrix, error) {
	n, _ := yTrue.Dims()
	if m, _ := yPred.Dims(); m != n {
		return nil, errors.NewDimensionError("ConfusionMatrix", n, m, 0)
	}
	if n == 0 {
		return nil, errors.NewModelError("ConfusionMatrix", "empty input", errors.ErrEmptyData)
	}
	seen := map[int]bool{}
	for i := 0; i < n; i++ {
		seen[int(yTrue.At(i, 0))] = true
		seen[int(yPred.At(i, 0))] = true
	}
	labels := make([]int, 0, len(seen))
	for l := range seen {
		labels = append(labels, l)
	}
	sort.Ints(labels)
	pos := make(map[int]int, len(labels))
	for k, l := range labels {
		pos[l] = k
	}
	counts := make([][]int, len(labels))
	for k := range counts {
		counts[k] = make([]int, len(labels))
	}
	for i := 0; i < n; i++ {
		counts[pos[int(yTrue.At(i, 0))]][pos[int(yPred.At(i, 0))]]++
	}
	return &ConfusionMatrix{Labels: labels, Counts: counts}, nil
}

// Total returns the number of samples.
func (c *ConfusionMatrix) Total() int {
	total := 0
	for _, row := range c.Counts {
		for _, v := range row {
			total += v
		}
	}
	return total
}

func (c *ConfusionMatrix) String() string {
	var b strings.Builder
	b.WriteString("true\\pred")
	for _, l := range c.Labels {
		fmt.Fprintf(&b, "\t%d", l)
	}
	for i, row := range c.Counts {
		fmt.Fprintf(&b, "\n%d", c.Labels[i])
		for _, v := range row {
			fmt.Fprintf(&b, "\t%d", v)
		}
	}
	return b.String()
}

// ClassMetrics holds precision, recall, F1 and support for one label or average.
type ClassMetrics struct {
	Label     string  `yaml:"label" json:"label"`
	Precision float64 `yaml:"precision" json:"precision"`
	Recall    float64 `yaml:"recall" json:"recall"`
	F1        float64 `yaml:"f1" json:"f1"`
	Support   int     `yaml:"support" json:"support"`
}

// ClassificationReport mirrors the familiar per-class text report.
type ClassificationReport struct {
	Classes     []ClassMetrics `yaml:"classes" json:"classes"`
	Accuracy    float64        `yaml:"accuracy" json:"accuracy"`
	MacroAvg    ClassMetrics   `yaml:"macro_avg" json:"macro_avg"`
	WeightedAvg ClassMetrics   `yaml:"weighted_avg" json:"weighted_avg"`
	Support     int            `yaml:"support" json:"support"`
}

// NewClassificationReport derives per-class metrics from a confusion matrix.
// Precision with no predicted samples, or recall with no true samples, is
// set to 0 and reported through an UndefinedMetricWarning.
func NewClassificationReport(cm *ConfusionMatrix) *ClassificationReport {
	k := len(cm.Labels)
	r := &ClassificationReport{Support: cm.Total()}
	correct := 0
	for i := 0; i < k; i++ {
		tp := cm.Counts[i][i]
		correct += tp
		predicted, actual := 0, 0
		for j := 0; j < k; j++ {
			predicted += cm.Counts[j][i]
			actual += cm.Counts[i][j]
		}
		label := fmt.Sprint(cm.Labels[i])
		m := ClassMetrics{Label: label, Support: actual}
		if predicted == 0 {
			errors.Warn(errors.NewUndefinedMetricWarning("precision", "no predicted samples for label "+label, 0))
		} else {
			m.Precision = float64(tp) / float64(predicted)
		}
		if actual == 0 {
			errors.Warn(errors.NewUndefinedMetricWarning("recall", "no true samples for label "+label, 0))
		} else {
			m.Recall = float64(tp) / float64(actual)
		}
		if m.Precision+m.Recall > 0 {
			m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
		}
		r.Classes = append(r.Classes, m)
	}
	if r.Support > 0 {
		r.Accuracy = float64(correct) / float64(r.Support)
	}

	r.MacroAvg = ClassMetrics{Label: "macro avg", Support: r.Support}
	r.WeightedAvg = ClassMetrics{Label: "weighted avg", Support: r.Support}
	for _, m := range r.Classes {
		r.MacroAvg.Precision += m.Precision / float64(k)
		r.MacroAvg.Recall += m.Recall / float64(k)
		r.MacroAvg.F1 += m.F1 / float64(k)
		if r.Support > 0 {
			w := float64(m.Support) / float64(r.Support)
			r.WeightedAvg.Precision += m.Precision * w
			r.WeightedAvg.Recall += m.Recall * w
			r.WeightedAvg.F1 += m.F1 * w
		}
	}
	return r
}

// Class returns the metrics for label, and false if the label is absent.
func (r *ClassificationReport) Class(label int) (ClassMetrics, bool) {
	want := fmt.Sprint(label)
	for _, m := range r.Classes {
		if m.Label == want {
			return m, true
		}
	}
	return ClassMetrics{}, false
}

func (r *ClassificationReport) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%14s %9s %9s %9s %9s\n\n", "", "precision", "recall", "f1-score", "support")
	for _, m := range r.Classes {
		fmt.Fprintf(&b, "%14s %9.2f %9.2f %9.2f %9d\n", m.Label, m.Precision, m.Recall, m.F1, m.Support)
	}
	fmt.Fprintf(&b, "\n%14s %9s %9s %9.2f %9d\n", "accuracy", "", "", r.Accuracy, r.Support)
	for _, m := range []ClassMetrics{r.MacroAvg, r.WeightedAvg} {
		fmt.Fprintf(&b, "%14s %9.2f %9.2f %9.2f %9d\n", m.Label, m.Precision, m.Recall, m.F1, m.Support)
	}
	return b.String()
}
