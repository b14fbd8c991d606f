package model

import "gonum.org/v1/gonum/mat"

// Transformer は教師なしで学習する行列変換のインターフェース
// preprocessing.StandardScaler が実装する。テーブル単位の変換はラベル列を
// 保持したまま行うため、各実装が別途 *Table 版を持つ。
type Transformer interface {
	// Fit は変換に必要な統計量を学習する
	Fit(X mat.Matrix) error

	// Transform は学習済みの統計量で X を変換する
	Transform(X mat.Matrix) (mat.Matrix, error)

	// FitTransform は Fit と Transform を続けて実行する
	FitTransform(X mat.Matrix) (mat.Matrix, error)
}
