package dataset

import (
	"bytes"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/churnscope/pkg/errors"
)

const sample = `customerID,gender,tenure,MonthlyCharges,TotalCharges,Churn
0001,Female,1,29.85,29.85,No
0002,Male,34,56.95,1889.5,No
0003,Male,2,53.85,108.15,Yes
0004,Male,0,42.3, ,No
`

func TestReadCSVInfersKinds(t *testing.T) {
	tbl, err := ReadCSV(strings.NewReader(sample), ReadOptions{})
	require.NoError(t, err)

	assert.Equal(t, 4, tbl.Rows())
	assert.Equal(t, []string{"customerID", "gender", "tenure", "MonthlyCharges", "TotalCharges", "Churn"}, tbl.Names())

	tests := []struct {
		col  string
		kind Kind
	}{
		{"customerID", Numeric}, // leading zeros still parse
		{"gender", Categorical},
		{"tenure", Numeric},
		{"MonthlyCharges", Numeric},
		{"TotalCharges", Categorical}, // " " placeholder blocks inference
		{"Churn", Categorical},
	}
	for _, tt := range tests {
		t.Run(tt.col, func(t *testing.T) {
			assert.Equal(t, tt.kind, tbl.Column(tt.col).Kind)
		})
	}
	assert.Equal(t, " ", tbl.Column("TotalCharges").Str[3])
	assert.False(t, tbl.Column("TotalCharges").IsMissing(3))
}

func TestReadCSVMissingAndDelimiter(t *testing.T) {
	in := "a;b\n1;\n;x\n3;y\n"
	tbl, err := ReadCSV(strings.NewReader(in), ReadOptions{Delimiter: ';'})
	require.NoError(t, err)

	a := tbl.Column("a")
	assert.Equal(t, Numeric, a.Kind)
	assert.True(t, math.IsNaN(a.Num[1]))
	assert.Equal(t, 1, a.MissingCount())

	b := tbl.Column("b")
	assert.Equal(t, Categorical, b.Kind)
	assert.True(t, b.IsMissing(0))
	assert.Equal(t, []bool{true, true, false}, tbl.MissingRows())

	tbl, err = ReadCSV(strings.NewReader("a,b\nNA,1\n2,1\n"), ReadOptions{NAValues: []string{"", "NA"}})
	require.NoError(t, err)
	assert.Equal(t, Numeric, tbl.Column("a").Kind)
	assert.True(t, tbl.Column("a").IsMissing(0))
}

func TestReadCSVErrors(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"empty input", ""},
		{"header only", "a,b\n"},
		{"empty header name", "a,,c\n1,2,3\n"},
		{"ragged row", "a,b\n1,2\n3\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadCSV(strings.NewReader(tt.in), ReadOptions{})
			assert.Error(t, err)
		})
	}

	_, err := ReadCSV(strings.NewReader(""), ReadOptions{})
	assert.True(t, errors.Is(err, errors.ErrEmptyData))

	_, err = ReadCSV(strings.NewReader("a,b\n1,2\n3\n"), ReadOptions{})
	assert.Contains(t, err.Error(), "line 3")
}

func TestCSVRoundTripIsExact(t *testing.T) {
	vals := []float64{0.1, 1.0 / 3.0, -2.5e-17, 1e300, math.NaN(), 42}
	tbl, err := NewTable(
		NewNumericColumn("x", vals),
		NewCategoricalColumn("s", []string{"a", "b,c", "", "d", "e", "f"}),
	)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, tbl))
	assert.True(t, strings.HasPrefix(buf.String(), "x,s\n"), "header row without index")

	back, err := ReadCSV(&buf, ReadOptions{})
	require.NoError(t, err)
	x := back.Column("x")
	for i, v := range vals {
		if math.IsNaN(v) {
			assert.True(t, x.IsMissing(i))
			continue
		}
		assert.Equal(t, math.Float64bits(v), math.Float64bits(x.Num[i]), "row %d", i)
	}
	assert.Equal(t, "b,c", back.Column("s").Str[1])
	assert.True(t, back.Column("s").IsMissing(2))
}

func TestSaveLoadCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "scaled.csv")
	tbl, err := NewTable(NewNumericColumn("f", []float64{1, 2}), NewNumericColumn("Churn", []float64{0, 1}))
	require.NoError(t, err)

	require.NoError(t, SaveCSV(path, tbl))
	back, err := LoadCSV(path, ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, tbl.Names(), back.Names())
	assert.Equal(t, []float64{0, 1}, back.Column("Churn").Num)

	_, err = LoadCSV(filepath.Join(t.TempDir(), "nope.csv"), ReadOptions{})
	assert.Error(t, err)
}

func TestTableOperationsDoNotMutate(t *testing.T) {
	tbl, err := NewTable(
		NewNumericColumn("a", []float64{1, 2, 3}),
		NewCategoricalColumn("b", []string{"x", "y", "z"}),
		NewNumericColumn("c", []float64{4, 5, 6}),
	)
	require.NoError(t, err)

	dropped := tbl.Drop("b", "absent")
	assert.Equal(t, []string{"a", "c"}, dropped.Names())
	assert.Equal(t, 3, tbl.NumCols())

	filtered, err := tbl.FilterRows([]bool{true, false, true})
	require.NoError(t, err)
	assert.Equal(t, 2, filtered.Rows())
	assert.Equal(t, []string{"x", "z"}, filtered.Column("b").Str)
	assert.Equal(t, 3, tbl.Rows())

	replaced, err := tbl.ReplaceColumn(NewNumericColumn("a", []float64{9, 9, 9}))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, replaced.Names())
	assert.Equal(t, 1.0, tbl.Column("a").Num[0])

	added, err := tbl.AddColumn(NewNumericColumn("d", []float64{0, 0, 0}))
	require.NoError(t, err)
	assert.Equal(t, 4, added.NumCols())
	assert.False(t, tbl.Has("d"))

	_, err = tbl.AddColumn(NewNumericColumn("e", []float64{0}))
	assert.Error(t, err)

	sel, err := tbl.Select("c", "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a"}, sel.Names())

	_, err = tbl.Select("a", "zz")
	var sme *errors.SchemaMismatchError
	require.True(t, errors.As(err, &sme))
	assert.Equal(t, []string{"zz"}, sme.Missing)

	_, err = NewTable(NewNumericColumn("a", []float64{1}), NewNumericColumn("a", []float64{2}))
	assert.Error(t, err)
}

func TestMatrixAndSplitXY(t *testing.T) {
	tbl, err := NewTable(
		NewNumericColumn("f1", []float64{1, 2}),
		NewNumericColumn("Churn", []float64{0, 1}),
		NewNumericColumn("f2", []float64{3, 4}),
	)
	require.NoError(t, err)

	X, y, names, err := tbl.SplitXY("Churn")
	require.NoError(t, err)
	assert.Equal(t, []string{"f1", "f2"}, names)
	assert.True(t, mat.Equal(mat.NewDense(2, 2, []float64{1, 3, 2, 4}), X))
	assert.True(t, mat.Equal(mat.NewDense(2, 1, []float64{0, 1}), y))

	back, err := FromMatrix(names, X)
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 4}, back.Column("f2").Num)

	_, _, _, err = tbl.SplitXY("target")
	assert.Error(t, err)

	cat, err := NewTable(NewCategoricalColumn("s", []string{"a"}))
	require.NoError(t, err)
	_, err = cat.Matrix()
	assert.Error(t, err)
}
