package preprocessing

import (
	"math"
	"strconv"

	"github.com/YuminosukeSato/churnscope/dataset"
	"github.com/YuminosukeSato/churnscope/pkg/errors"
)

// Bucketizer partitions a numeric column into fixed-width, labelled,
// right-open ranges [Start+k*Width, Start+(k+1)*Width).
//
// The defaults (1, 12, 6) produce the tenure groups "1-12" ... "61-72".
// A value equal to an edge belongs to the bucket that edge opens.
// Values outside [Start, Start+Width*Count) and missing values get no label.
type Bucketizer struct {
	Start  float64
	Width  float64
	Count  int
	Labels []string // optional; generated from the edges when empty
}

// NewTenureBucketizer returns the default tenure grouping.
func NewTenureBucketizer() *Bucketizer {
	return &Bucketizer{Start: 1, Width: 12, Count: 6}
}

// Validate checks the configuration.
func (b *Bucketizer) Validate() error {
	if b.Width <= 0 || math.IsNaN(b.Width) || math.IsInf(b.Width, 0) {
		return errors.NewValidationError("width", "must be a positive finite number", b.Width)
	}
	if b.Count <= 0 {
		return errors.NewValidationError("count", "must be positive", b.Count)
	}
	if len(b.Labels) != 0 && len(b.Labels) != b.Count {
		return errors.NewValidationError("labels", "must have one label per bucket", len(b.Labels))
	}
	return nil
}

// Edges returns the Count+1 bucket edges.
func (b *Bucketizer) Edges() []float64 {
	edges := make([]float64, b.Count+1)
	for k := range edges {
		edges[k] = b.Start + float64(k)*b.Width
	}
	return edges
}

// BucketLabels returns the label of each bucket, e.g. "1-12" for [1, 13).
func (b *Bucketizer) BucketLabels() []string {
	if len(b.Labels) == b.Count {
		return b.Labels
	}
	edges := b.Edges()
	labels := make([]string, b.Count)
	for k := 0; k < b.Count; k++ {
		labels[k] = formatEdge(edges[k]) + "-" + formatEdge(edges[k+1]-1)
	}
	return labels
}

func formatEdge(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Index returns the bucket index of v, or -1 if v is outside the domain.
func (b *Bucketizer) Index(v float64) int {
	if math.IsNaN(v) {
		return -1
	}
	edges := b.Edges()
	if v < edges[0] || v >= edges[b.Count] {
		return -1
	}
	// 浮動小数点の丸めで除算が隣の区間に入るのを避けるため、端点と直接比較する
	k := int(math.Floor((v - b.Start) / b.Width))
	if k >= b.Count {
		k = b.Count - 1
	}
	for k > 0 && v < edges[k] {
		k--
	}
	for k < b.Count-1 && v >= edges[k+1] {
		k++
	}
	return k
}

// Label returns the label for v and whether v fell inside the domain.
func (b *Bucketizer) Label(v float64) (string, bool) {
	k := b.Index(v)
	if k < 0 {
		return "", false
	}
	return b.BucketLabels()[k], true
}

// Apply adds a categorical column named out holding the bucket label of
// column src. Out-of-domain values become missing labels.
func (b *Bucketizer) Apply(t *dataset.Table, src, out string) (*dataset.Table, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	c := t.Column(src)
	if c == nil {
		return nil, errors.NewSchemaMismatchError("bucketize", []string{src}, nil)
	}
	if c.Kind != dataset.Numeric {
		return nil, errors.NewValueError("Bucketizer.Apply", "column "+strconv.Quote(src)+" is not numeric")
	}

	labels := b.BucketLabels()
	col := &dataset.Column{
		Name:    out,
		Kind:    dataset.Categorical,
		Str:     make([]string, t.Rows()),
		Missing: make([]bool, t.Rows()),
	}
	for i, v := range c.Num {
		k := b.Index(v)
		if k < 0 {
			col.Missing[i] = true
			continue
		}
		col.Str[i] = labels[k]
	}
	if t.Has(out) {
		return t.ReplaceColumn(col)
	}
	return t.AddColumn(col)
}
