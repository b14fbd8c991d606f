package preprocessing

import (
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/YuminosukeSato/churnscope/dataset"
	"github.com/YuminosukeSato/churnscope/pkg/errors"
)

var (
	// celEnv is shared; cel.Env is safe for concurrent use.
	celEnv     *cel.Env
	celEnvErr  error
	celEnvOnce sync.Once
)

func rowEnv() (*cel.Env, error) {
	celEnvOnce.Do(func() {
		celEnv, celEnvErr = cel.NewEnv(
			cel.Variable("row", cel.DynType),
			cel.CrossTypeNumericComparisons(true),
		)
	})
	return celEnv, celEnvErr
}

// RowFilter keeps the rows for which a CEL expression evaluates to true.
//
// The expression sees one variable, row, mapping column name to value:
// numeric cells are doubles, categorical cells are strings and missing
// cells are null. Examples:
//
//	row.TotalCharges > 0.0
//	row.Contract != "Month-to-month" || row.tenure >= 6
//
// A row whose evaluation fails while it has a missing cell is kept so that
// the missing-value policy decides its fate.
type RowFilter struct {
	Expr string
	prg  cel.Program
}

// NewRowFilter compiles expr.
func NewRowFilter(expr string) (*RowFilter, error) {
	env, err := rowEnv()
	if err != nil {
		return nil, errors.Wrap(err, "create CEL environment")
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, errors.NewValidationError("row_filter", issues.Err().Error(), expr)
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, errors.NewValidationError("row_filter", "expression must return bool, got "+out.String(), expr)
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, errors.Wrapf(err, "build program for %q", expr)
	}
	return &RowFilter{Expr: expr, prg: prg}, nil
}

// Apply returns the rows of t for which the expression holds, and the number removed.
func (f *RowFilter) Apply(t *dataset.Table) (*dataset.Table, int, error) {
	cols := t.Columns()
	keep := make([]bool, t.Rows())
	dropped := 0
	row := make(map[string]interface{}, len(cols))
	for i := 0; i < t.Rows(); i++ {
		hasMissing := false
		for _, c := range cols {
			switch {
			case c.IsMissing(i):
				row[c.Name] = nil
				hasMissing = true
			case c.Kind == dataset.Numeric:
				row[c.Name] = c.Num[i]
			default:
				row[c.Name] = c.Str[i]
			}
		}

		out, _, err := f.prg.Eval(map[string]interface{}{"row": row})
		if err != nil {
			if hasMissing {
				keep[i] = true
				continue
			}
			return nil, 0, errors.Wrapf(err, "row filter %q at row %d", f.Expr, i)
		}
		ok, isBool := out.Value().(bool)
		if !isBool {
			return nil, 0, errors.NewValueError("RowFilter.Apply", "expression must return boolean")
		}
		keep[i] = ok
		if !ok {
			dropped++
		}
	}
	filtered, err := t.FilterRows(keep)
	if err != nil {
		return nil, 0, err
	}
	return filtered, dropped, nil
}
