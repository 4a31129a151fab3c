// Package tabular loads emission-factor CSV files into an immutable in-memory
// table and answers search, summary and per-code trend queries over it.
package tabular

import (
	"math"
	"strconv"
	"strings"
)

// Header substrings identifying the classification columns. The year prefix
// ("2017 NAICS Code") varies between dataset releases.
const (
	CodeColumnMarker  = "NAICS Code"
	TitleColumnMarker = "NAICS Title"
)

// Required value columns, in document rendering order.
const (
	ColumnGHG            = "GHG"
	ColumnUnit           = "Unit"
	ColumnFactorNoMargin = "Supply Chain Emission Factors without Margins"
	ColumnMargin         = "Margins of Supply Chain Emission Factors"
	ColumnFactorMargin   = "Supply Chain Emission Factors with Margins"
)

// RequiredColumns lists the fixed-name columns every dataset must carry.
var RequiredColumns = []string{ColumnGHG, ColumnUnit, ColumnFactorNoMargin, ColumnMargin, ColumnFactorMargin}

// Kind is the inferred type of a column.
type Kind int

const (
	KindText Kind = iota
	KindInteger
	KindFloat
)

func (k Kind) Numeric() bool { return k == KindInteger || k == KindFloat }

func (k Kind) String() string {
	switch k {
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	default:
		return "text"
	}
}

// Column describes one header entry.
type Column struct {
	Name string
	Kind Kind
}

// Table is an immutable, row-ordered dataset. A nil *Table is a valid empty
// table: every query on it returns an empty result.
type Table struct {
	columns  []Column
	index    map[string]int
	cells    [][]string
	nums     [][]float64
	ints     [][]int64
	codeCol  int
	titleCol int
}

// Row is a read-only view of one table row.
type Row struct {
	t *Table
	i int
}

func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.cells)
}

// Columns returns a copy of the column descriptors in header order.
func (t *Table) Columns() []Column {
	if t == nil {
		return nil
	}
	return append([]Column(nil), t.columns...)
}

func (t *Table) CodeColumn() string {
	if t == nil {
		return ""
	}
	return t.columns[t.codeCol].Name
}

func (t *Table) TitleColumn() string {
	if t == nil {
		return ""
	}
	return t.columns[t.titleCol].Name
}

// NumericColumns returns numeric column names in header order.
func (t *Table) NumericColumns() []string {
	if t == nil {
		return nil
	}
	var out []string
	for _, c := range t.columns {
		if c.Kind.Numeric() {
			out = append(out, c.Name)
		}
	}
	return out
}

// Row returns the i-th row. It panics when i is out of range.
func (t *Table) Row(i int) Row {
	if i < 0 || i >= t.Len() {
		panic("tabular: row index out of range")
	}
	return Row{t: t, i: i}
}

func (r Row) Code() string  { return r.t.cells[r.i][r.t.codeCol] }
func (r Row) Title() string { return r.t.cells[r.i][r.t.titleCol] }

// Value returns the cell text of the named column after null-fill.
func (r Row) Value(column string) (string, bool) {
	j, ok := r.t.index[column]
	if !ok {
		return "", false
	}
	return r.t.cells[r.i][j], true
}

// Float returns the numeric value of the named column.
func (r Row) Float(column string) (float64, bool) {
	j, ok := r.t.index[column]
	if !ok || r.t.nums[j] == nil {
		return 0, false
	}
	return r.t.nums[j][r.i], true
}

// Display renders a cell the way a dataframe prints it: integers plain,
// floats in shortest repr with a trailing ".0" when integral, text verbatim.
func (r Row) Display(column string) (string, bool) {
	j, ok := r.t.index[column]
	if !ok {
		return "", false
	}
	switch r.t.columns[j].Kind {
	case KindInteger:
		return strconv.FormatInt(r.t.ints[j][r.i], 10), true
	case KindFloat:
		return formatFloat(r.t.nums[j][r.i]), true
	default:
		return r.t.cells[r.i][j], true
	}
}

// Map returns the row as column -> cell text.
func (r Row) Map() map[string]string {
	m := make(map[string]string, len(r.t.columns))
	for j, c := range r.t.columns {
		m[c.Name] = r.t.cells[r.i][j]
	}
	return m
}

func formatFloat(v float64) string {
	switch {
	case math.IsNaN(v):
		return "nan"
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}
	sci := strconv.FormatFloat(v, 'e', -1, 64)
	exp, err := strconv.Atoi(sci[strings.IndexByte(sci, 'e')+1:])
	if err == nil && (exp < -4 || exp >= 16) {
		return sci
	}
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsRune(s, '.') {
		s += ".0"
	}
	return s
}
