package linear_model

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/churnscope/core/model"
	"github.com/YuminosukeSato/churnscope/pkg/errors"
	"github.com/YuminosukeSato/churnscope/pkg/log"
)

// Lasso は L1 正則化付き線形回帰です。座標降下法で
//
//	(1 / (2 * n_samples)) * ||y - Xw - b||^2 + alpha * ||w||_1
//
// を最小化します。SelectFromModel の特徴量選択に使います。
type Lasso struct {
	state *model.StateManager

	// Hyperparameters
	alpha        float64
	fitIntercept bool
	maxIter      int
	tol          float64

	// Learned parameters
	coef_      []float64
	intercept_ float64
	nIter_     int
}

// LassoOption は設定オプション
type LassoOption func(*Lasso)

// WithAlpha は L1 正則化の強さを設定
func WithAlpha(alpha float64) LassoOption {
	return func(l *Lasso) { l.alpha = alpha }
}

// WithFitIntercept は切片の学習有無を設定
func WithFitIntercept(fit bool) LassoOption {
	return func(l *Lasso) { l.fitIntercept = fit }
}

// WithMaxIter は最大反復回数を設定
func WithMaxIter(n int) LassoOption {
	return func(l *Lasso) { l.maxIter = n }
}

// WithTol は収束判定の許容誤差を設定
func WithTol(tol float64) LassoOption {
	return func(l *Lasso) { l.tol = tol }
}

// NewLasso は新しい Lasso を作成（alpha=1.0, max_iter=1000, tol=1e-4）
func NewLasso(options ...LassoOption) *Lasso {
	l := &Lasso{
		state:        model.NewStateManager(),
		alpha:        1.0,
		fitIntercept: true,
		maxIter:      1000,
		tol:          1e-4,
	}
	for _, opt := range options {
		opt(l)
	}
	return l
}

// Fit はモデルを訓練データで学習
func (l *Lasso) Fit(X, y mat.Matrix) (err error) {
	defer errors.Recover(&err, "Lasso.Fit")

	rows, cols := X.Dims()
	yRows, yCols := y.Dims()
	if rows != yRows {
		return errors.NewRowCountMismatchError("Lasso.Fit", rows, yRows)
	}
	if yCols != 1 {
		return errors.NewDimensionError("Lasso.Fit", 1, yCols, 1)
	}
	if rows == 0 || cols == 0 {
		return errors.NewModelError("Lasso.Fit", "empty data", errors.ErrEmptyData)
	}
	if l.alpha < 0 {
		return errors.NewValidationError("alpha", "must be non-negative", l.alpha)
	}
	if err := errors.CheckMatrix("Lasso.Fit", X, rows, cols); err != nil {
		return err
	}

	// 切片は中心化で扱う
	Xc := mat.DenseCopyOf(X)
	yc := make([]float64, rows)
	for i := range yc {
		yc[i] = y.At(i, 0)
	}
	xMean := make([]float64, cols)
	yMean := 0.0
	if l.fitIntercept {
		for j := 0; j < cols; j++ {
			col := mat.Col(nil, j, Xc)
			xMean[j] = stat.Mean(col, nil)
			for i := range col {
				Xc.Set(i, j, col[i]-xMean[j])
			}
		}
		yMean = stat.Mean(yc, nil)
		for i := range yc {
			yc[i] -= yMean
		}
	}

	n := float64(rows)
	norms := make([]float64, cols)
	for j := 0; j < cols; j++ {
		col := Xc.ColView(j)
		norms[j] = mat.Dot(col, col) / n
	}

	w := make([]float64, cols)
	residual := append([]float64(nil), yc...)
	converged := false
	iter := 0
	for iter = 1; iter <= l.maxIter; iter++ {
		maxDelta, maxW := 0.0, 0.0
		for j := 0; j < cols; j++ {
			if norms[j] == 0 {
				continue
			}
			old := w[j]
			rho := 0.0
			for i := 0; i < rows; i++ {
				rho += Xc.At(i, j) * residual[i]
			}
			rho = rho/n + norms[j]*old
			w[j] = softThreshold(rho, l.alpha) / norms[j]

			if d := w[j] - old; d != 0 {
				for i := 0; i < rows; i++ {
					residual[i] -= Xc.At(i, j) * d
				}
				maxDelta = math.Max(maxDelta, math.Abs(d))
			}
			maxW = math.Max(maxW, math.Abs(w[j]))
		}
		if err := errors.CheckScalar("Lasso.Fit", maxDelta, iter); err != nil {
			return err
		}
		if maxW == 0 || maxDelta <= l.tol*maxW {
			converged = true
			break
		}
	}
	if !converged {
		iter = l.maxIter
		errors.Warn(errors.NewConvergenceWarning("Lasso", l.maxIter,
			"Objective did not converge. Consider increasing max_iter or alpha."))
	}

	l.coef_ = w
	l.intercept_ = 0
	if l.fitIntercept {
		l.intercept_ = yMean
		for j := range w {
			l.intercept_ -= xMean[j] * w[j]
		}
	}
	l.nIter_ = iter
	l.state.SetDimensions(cols, rows)
	l.state.SetFitted()

	nonZero := 0
	for _, v := range w {
		if v != 0 {
			nonZero++
		}
	}
	log.GetLoggerWithName("linear_model").Debug("Lasso fitted",
		log.ModelNameKey, "Lasso",
		log.RegularizationKey, l.alpha,
		log.IterationKey, iter,
		"non_zero", nonZero,
	)
	return nil
}

func softThreshold(x, lambda float64) float64 {
	switch {
	case x > lambda:
		return x - lambda
	case x < -lambda:
		return x + lambda
	default:
		return 0
	}
}

// Predict は入力データに対する予測を行う
func (l *Lasso) Predict(X mat.Matrix) (mat.Matrix, error) {
	if err := l.state.RequireFitted("Lasso", "Predict"); err != nil {
		return nil, err
	}
	rows, cols := X.Dims()
	if err := l.state.CheckFeatures("Lasso.Predict", cols); err != nil {
		return nil, err
	}
	w := mat.NewVecDense(cols, l.coef_)
	out := mat.NewDense(rows, 1, nil)
	var pred mat.VecDense
	pred.MulVec(X, w)
	for i := 0; i < rows; i++ {
		out.Set(i, 0, pred.AtVec(i)+l.intercept_)
	}
	return out, nil
}

// Score はモデルの決定係数（R²）を計算
func (l *Lasso) Score(X, y mat.Matrix) (float64, error) {
	pred, err := l.Predict(X)
	if err != nil {
		return 0, err
	}
	rows, _ := y.Dims()
	yTrue := mat.Col(nil, 0, y)
	yMean := stat.Mean(yTrue, nil)
	var ssTot, ssRes float64
	for i := 0; i < rows; i++ {
		ssTot += (yTrue[i] - yMean) * (yTrue[i] - yMean)
		r := yTrue[i] - pred.At(i, 0)
		ssRes += r * r
	}
	if ssTot == 0 {
		return 0, errors.NewValueError("Lasso.Score", "Cannot compute score with zero variance in y_true")
	}
	return 1 - ssRes/ssTot, nil
}

// Weights は学習された重み係数を返す
func (l *Lasso) Weights() []float64 {
	return append([]float64(nil), l.coef_...)
}

// Intercept は学習された切片を返す
func (l *Lasso) Intercept() float64 { return l.intercept_ }

// NIter は収束までの反復回数を返す
func (l *Lasso) NIter() int { return l.nIter_ }

// IsFitted returns whether the model has been fitted
func (l *Lasso) IsFitted() bool { return l.state.IsFitted() }

// GetParams returns the model's hyperparameters
func (l *Lasso) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"alpha":         l.alpha,
		"fit_intercept": l.fitIntercept,
		"max_iter":      l.maxIter,
		"tol":           l.tol,
	}
}

// SetParams sets the model's hyperparameters
func (l *Lasso) SetParams(params map[string]interface{}) error {
	if v, ok := params["alpha"].(float64); ok {
		l.alpha = v
	}
	if v, ok := params["fit_intercept"].(bool); ok {
		l.fitIntercept = v
	}
	if v, ok := params["max_iter"].(int); ok {
		l.maxIter = v
	}
	if v, ok := params["tol"].(float64); ok {
		l.tol = v
	}
	return nil
}

type lassoSnapshot struct {
	Alpha        float64
	FitIntercept bool
	MaxIter      int
	Tol          float64
	Coef         []float64
	Intercept    float64
	NIter        int
	State        model.ModelState
}

// GobEncode implements gob.GobEncoder.
func (l *Lasso) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(lassoSnapshot{
		Alpha: l.alpha, FitIntercept: l.fitIntercept, MaxIter: l.maxIter, Tol: l.tol,
		Coef: l.coef_, Intercept: l.intercept_, NIter: l.nIter_, State: l.state.GetState(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "encode lasso")
	}
	return buf.Bytes(), nil
}

// GobDecode implements gob.GobDecoder.
func (l *Lasso) GobDecode(data []byte) error {
	var s lassoSnapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return errors.Wrap(err, "decode lasso")
	}
	l.alpha, l.fitIntercept, l.maxIter, l.tol = s.Alpha, s.FitIntercept, s.MaxIter, s.Tol
	l.coef_, l.intercept_, l.nIter_ = s.Coef, s.Intercept, s.NIter
	l.state = model.NewStateManager()
	l.state.SetState(s.State)
	return nil
}

// String returns the string representation of the model
func (l *Lasso) String() string {
	return fmt.Sprintf("Lasso(alpha=%g, fit_intercept=%t, max_iter=%d, tol=%g)",
		l.alpha, l.fitIntercept, l.maxIter, l.tol)
}
