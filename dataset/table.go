// Package dataset holds the in-memory table that flows between pipeline stages.
//
// A Table is an ordered set of equally long columns. Numeric columns store
// float64 values with NaN marking a missing cell; categorical columns store
// strings with an explicit missing mask. Every operation returns a new Table
// and leaves its receiver untouched.
package dataset

import (
	"math"
	"strconv"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/churnscope/pkg/errors"
)

// Kind is the storage kind of a column.
type Kind int

const (
	// Numeric columns hold float64 values; NaN is missing.
	Numeric Kind = iota
	// Categorical columns hold strings with a missing mask.
	Categorical
)

func (k Kind) String() string {
	if k == Numeric {
		return "numeric"
	}
	return "categorical"
}

// Column is a single named column.
type Column struct {
	Name    string
	Kind    Kind
	Num     []float64
	Str     []string
	Missing []bool
}

// NewNumericColumn creates a numeric column. NaN values are missing.
func NewNumericColumn(name string, values []float64) *Column {
	return &Column{Name: name, Kind: Numeric, Num: values}
}

// NewCategoricalColumn creates a categorical column. Empty strings are missing.
func NewCategoricalColumn(name string, values []string) *Column {
	missing := make([]bool, len(values))
	for i, v := range values {
		missing[i] = v == ""
	}
	return &Column{Name: name, Kind: Categorical, Str: values, Missing: missing}
}

// Len returns the number of rows in the column.
func (c *Column) Len() int {
	if c.Kind == Numeric {
		return len(c.Num)
	}
	return len(c.Str)
}

// IsMissing reports whether row i is missing.
func (c *Column) IsMissing(i int) bool {
	if c.Kind == Numeric {
		return math.IsNaN(c.Num[i])
	}
	return c.Missing[i]
}

// MissingCount returns the number of missing cells.
func (c *Column) MissingCount() int {
	n := 0
	for i := 0; i < c.Len(); i++ {
		if c.IsMissing(i) {
			n++
		}
	}
	return n
}

// String returns row i as text; missing cells are empty.
func (c *Column) String(i int) string {
	if c.IsMissing(i) {
		return ""
	}
	if c.Kind == Numeric {
		return strconv.FormatFloat(c.Num[i], 'g', -1, 64)
	}
	return c.Str[i]
}

// Clone returns a deep copy of the column.
func (c *Column) Clone() *Column {
	out := &Column{Name: c.Name, Kind: c.Kind}
	if c.Num != nil {
		out.Num = append([]float64(nil), c.Num...)
	}
	if c.Str != nil {
		out.Str = append([]string(nil), c.Str...)
	}
	if c.Missing != nil {
		out.Missing = append([]bool(nil), c.Missing...)
	}
	return out
}

// Renamed returns a copy of the column under a new name.
func (c *Column) Renamed(name string) *Column {
	out := c.Clone()
	out.Name = name
	return out
}

func (c *Column) take(rows []int) *Column {
	out := &Column{Name: c.Name, Kind: c.Kind}
	if c.Kind == Numeric {
		out.Num = make([]float64, len(rows))
		for j, r := range rows {
			out.Num[j] = c.Num[r]
		}
		return out
	}
	out.Str = make([]string, len(rows))
	out.Missing = make([]bool, len(rows))
	for j, r := range rows {
		out.Str[j] = c.Str[r]
		out.Missing[j] = c.Missing[r]
	}
	return out
}

// Table is an ordered collection of equally long columns.
type Table struct {
	cols  []*Column
	index map[string]int
	rows  int
}

// NewTable builds a table from columns. Column names must be unique and
// all columns must have the same length.
func NewTable(cols ...*Column) (*Table, error) {
	t := &Table{index: make(map[string]int, len(cols))}
	for i, c := range cols {
		if c == nil {
			return nil, errors.NewValueError("NewTable", "nil column")
		}
		if _, dup := t.index[c.Name]; dup {
			return nil, errors.NewValidationError("columns", "duplicate column name", c.Name)
		}
		if c.Kind == Categorical && len(c.Missing) != len(c.Str) {
			return nil, errors.NewValidationError(c.Name, "missing mask length differs from values", len(c.Missing))
		}
		if i == 0 {
			t.rows = c.Len()
		} else if c.Len() != t.rows {
			return nil, errors.NewDimensionError("NewTable", t.rows, c.Len(), 0)
		}
		t.index[c.Name] = i
		t.cols = append(t.cols, c)
	}
	return t, nil
}

// Rows returns the number of rows.
func (t *Table) Rows() int { return t.rows }

// NumCols returns the number of columns.
func (t *Table) NumCols() int { return len(t.cols) }

// Names returns the column names in order.
func (t *Table) Names() []string {
	names := make([]string, len(t.cols))
	for i, c := range t.cols {
		names[i] = c.Name
	}
	return names
}

// Columns returns the columns in order. Callers must not mutate them.
func (t *Table) Columns() []*Column { return t.cols }

// Has reports whether the table has a column called name.
func (t *Table) Has(name string) bool {
	_, ok := t.index[name]
	return ok
}

// Column returns the named column or nil.
func (t *Table) Column(name string) *Column {
	i, ok := t.index[name]
	if !ok {
		return nil
	}
	return t.cols[i]
}

// Clone returns a deep copy of the table.
func (t *Table) Clone() *Table {
	cols := make([]*Column, len(t.cols))
	for i, c := range t.cols {
		cols[i] = c.Clone()
	}
	out, _ := NewTable(cols...)
	return out
}

// Drop returns a table without the named columns. Names not in the table are ignored.
func (t *Table) Drop(names ...string) *Table {
	skip := make(map[string]bool, len(names))
	for _, n := range names {
		skip[n] = true
	}
	var cols []*Column
	for _, c := range t.cols {
		if !skip[c.Name] {
			cols = append(cols, c.Clone())
		}
	}
	out, _ := NewTable(cols...)
	if len(cols) == 0 {
		out.rows = t.rows
	}
	return out
}

// Select returns a table with exactly the named columns, in the given order.
func (t *Table) Select(names ...string) (*Table, error) {
	cols := make([]*Column, 0, len(names))
	var missing []string
	for _, n := range names {
		c := t.Column(n)
		if c == nil {
			missing = append(missing, n)
			continue
		}
		cols = append(cols, c.Clone())
	}
	if len(missing) > 0 {
		return nil, errors.NewSchemaMismatchError("select", missing, nil)
	}
	return NewTable(cols...)
}

// AddColumn returns a table with c appended.
func (t *Table) AddColumn(c *Column) (*Table, error) {
	if len(t.cols) > 0 && c.Len() != t.rows {
		return nil, errors.NewDimensionError("AddColumn", t.rows, c.Len(), 0)
	}
	out := t.Clone()
	cols := append(out.cols, c.Clone())
	return NewTable(cols...)
}

// ReplaceColumn returns a table where the column with c's name is replaced by c,
// keeping its position.
func (t *Table) ReplaceColumn(c *Column) (*Table, error) {
	i, ok := t.index[c.Name]
	if !ok {
		return nil, errors.NewValueError("ReplaceColumn", "no column named "+strconv.Quote(c.Name))
	}
	cols := make([]*Column, len(t.cols))
	for j, old := range t.cols {
		if j == i {
			cols[j] = c.Clone()
		} else {
			cols[j] = old.Clone()
		}
	}
	return NewTable(cols...)
}

// FilterRows returns a table with the rows where keep is true.
func (t *Table) FilterRows(keep []bool) (*Table, error) {
	if len(keep) != t.rows {
		return nil, errors.NewDimensionError("FilterRows", t.rows, len(keep), 0)
	}
	rows := make([]int, 0, t.rows)
	for i, k := range keep {
		if k {
			rows = append(rows, i)
		}
	}
	return t.Take(rows), nil
}

// Take returns a table with the given rows in the given order.
func (t *Table) Take(rows []int) *Table {
	cols := make([]*Column, len(t.cols))
	for i, c := range t.cols {
		cols[i] = c.take(rows)
	}
	out, _ := NewTable(cols...)
	if len(cols) == 0 {
		out.rows = len(rows)
	}
	return out
}

// MissingRows returns, per row, whether any column is missing.
func (t *Table) MissingRows() []bool {
	missing := make([]bool, t.rows)
	for _, c := range t.cols {
		for i := 0; i < t.rows; i++ {
			if !missing[i] && c.IsMissing(i) {
				missing[i] = true
			}
		}
	}
	return missing
}

// Matrix converts the named numeric columns into a rows x len(names) matrix.
// With no names, every column is used.
func (t *Table) Matrix(names ...string) (*mat.Dense, error) {
	if len(names) == 0 {
		names = t.Names()
	}
	if t.rows == 0 || len(names) == 0 {
		return nil, errors.Wrap(errors.ErrEmptyData, "Matrix")
	}
	X := mat.NewDense(t.rows, len(names), nil)
	for j, n := range names {
		c := t.Column(n)
		if c == nil {
			return nil, errors.NewSchemaMismatchError("matrix", []string{n}, nil)
		}
		if c.Kind != Numeric {
			return nil, errors.NewValueError("Matrix", "column "+strconv.Quote(n)+" is categorical; encode it first")
		}
		for i, v := range c.Num {
			X.Set(i, j, v)
		}
	}
	return X, nil
}

// SplitXY returns the feature matrix (every column except target), the target
// as a single-column matrix, and the feature names.
func (t *Table) SplitXY(target string) (*mat.Dense, *mat.Dense, []string, error) {
	if !t.Has(target) {
		return nil, nil, nil, errors.NewSchemaMismatchError("split", []string{target}, nil)
	}
	var features []string
	for _, n := range t.Names() {
		if n != target {
			features = append(features, n)
		}
	}
	X, err := t.Matrix(features...)
	if err != nil {
		return nil, nil, nil, err
	}
	y, err := t.Matrix(target)
	if err != nil {
		return nil, nil, nil, err
	}
	return X, y, features, nil
}

// FromMatrix builds a numeric table from a matrix and its column names.
func FromMatrix(names []string, X mat.Matrix) (*Table, error) {
	r, c := X.Dims()
	if len(names) != c {
		return nil, errors.NewDimensionError("FromMatrix", c, len(names), 1)
	}
	cols := make([]*Column, c)
	for j := 0; j < c; j++ {
		vals := make([]float64, r)
		for i := 0; i < r; i++ {
			vals[i] = X.At(i, j)
		}
		cols[j] = NewNumericColumn(names[j], vals)
	}
	return NewTable(cols...)
}
