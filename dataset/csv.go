package dataset

import (
	"encoding/csv"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/YuminosukeSato/churnscope/pkg/errors"
	"github.com/YuminosukeSato/churnscope/pkg/log"
)

// ReadOptions controls CSV parsing.
type ReadOptions struct {
	// Delimiter separates fields. Zero means ','.
	Delimiter rune
	// NAValues are cell values treated as missing, compared verbatim.
	// Nil means only the empty string.
	NAValues []string
}

func (o ReadOptions) delimiter() rune {
	if o.Delimiter == 0 {
		return ','
	}
	return o.Delimiter
}

func (o ReadOptions) isNA(s string) bool {
	if o.NAValues == nil {
		return s == ""
	}
	for _, na := range o.NAValues {
		if s == na {
			return true
		}
	}
	return false
}

// ReadCSV parses a delimited table with a header row.
//
// A column is Numeric when every non-missing cell parses as float64 and at
// least one cell is present; otherwise it is Categorical. Whitespace-only
// cells are not missing, so a column containing " " stays Categorical.
func ReadCSV(r io.Reader, opts ReadOptions) (*Table, error) {
	reader := csv.NewReader(r)
	reader.Comma = opts.delimiter()
	reader.FieldsPerRecord = 0
	reader.ReuseRecord = false

	header, err := reader.Read()
	if err == io.EOF {
		return nil, errors.Wrap(errors.ErrEmptyData, "read csv: missing header row")
	}
	if err != nil {
		return nil, errors.Wrap(err, "read csv header")
	}
	for i, h := range header {
		if h == "" {
			return nil, errors.NewValidationError("header", "empty column name", i)
		}
	}

	raw := make([][]string, len(header))
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// csv.ParseError carries the line number of ragged or malformed rows.
			return nil, errors.Wrap(err, "read csv")
		}
		for j, v := range rec {
			raw[j] = append(raw[j], v)
		}
	}

	cols := make([]*Column, len(header))
	for j, name := range header {
		cols[j] = inferColumn(name, raw[j], opts)
	}
	t, err := NewTable(cols...)
	if err != nil {
		return nil, err
	}
	if t.Rows() == 0 {
		return nil, errors.Wrap(errors.ErrEmptyData, "read csv: no data rows")
	}
	return t, nil
}

func inferColumn(name string, cells []string, opts ReadOptions) *Column {
	nums := make([]float64, len(cells))
	present := 0
	numeric := true
	for i, s := range cells {
		if opts.isNA(s) {
			nums[i] = math.NaN()
			continue
		}
		present++
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			numeric = false
			break
		}
		nums[i] = v
	}
	if numeric && present > 0 {
		return NewNumericColumn(name, nums)
	}

	c := &Column{Name: name, Kind: Categorical, Str: make([]string, len(cells)), Missing: make([]bool, len(cells))}
	for i, s := range cells {
		if opts.isNA(s) {
			c.Missing[i] = true
			continue
		}
		c.Str[i] = s
	}
	return c
}

// LoadCSV reads a CSV file.
func LoadCSV(path string, opts ReadOptions) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	t, err := ReadCSV(f, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", path)
	}
	log.GetLoggerWithName("dataset").Info("Loaded table",
		log.StageKey, "load",
		log.PathKey, path,
		log.SamplesKey, t.Rows(),
		log.FeaturesKey, t.NumCols(),
	)
	return t, nil
}

// WriteCSV writes the table with a header row and no index column.
// Numbers use the shortest representation that parses back to the same float64;
// missing cells are written empty.
func WriteCSV(w io.Writer, t *Table) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(t.Names()); err != nil {
		return errors.Wrap(err, "write csv header")
	}
	rec := make([]string, t.NumCols())
	for i := 0; i < t.Rows(); i++ {
		for j, c := range t.cols {
			rec[j] = c.String(i)
		}
		if err := writer.Write(rec); err != nil {
			return errors.Wrapf(err, "write csv row %d", i)
		}
	}
	writer.Flush()
	return errors.Wrap(writer.Error(), "flush csv")
}

// SaveCSV writes the table to path, creating parent directories as needed.
func SaveCSV(path string, t *Table) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "create directory for %s", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	if err := WriteCSV(f, t); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return errors.Wrapf(err, "close %s", path)
	}
	log.GetLoggerWithName("dataset").Info("Saved table",
		log.PathKey, path,
		log.SamplesKey, t.Rows(),
		log.FeaturesKey, t.NumCols(),
	)
	return nil
}
