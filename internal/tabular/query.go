package tabular

import (
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"ghgrag/internal/domain"
)

// ColumnStats are the descriptive statistics of one numeric column.
type ColumnStats struct {
	Count int     `json:"count"`
	Mean  float64 `json:"mean"`
	Std   float64 `json:"std"`
	Min   float64 `json:"min"`
	P25   float64 `json:"25%"`
	P50   float64 `json:"50%"`
	P75   float64 `json:"75%"`
	Max   float64 `json:"max"`
}

// SummaryColumns names the columns a summary was computed over.
type SummaryColumns struct {
	CodeColumn     string   `json:"naics_code_col"`
	TitleColumn    string   `json:"naics_title_col"`
	NumericColumns []string `json:"numeric_cols"`
}

// Summary is a recomputed-on-demand aggregate over the whole table.
type Summary struct {
	TotalRecords  int                    `json:"total_records"`
	UniqueNAICS   int                    `json:"unique_naics"`
	EmissionStats map[string]ColumnStats `json:"emission_stats"`
	Columns       *SummaryColumns        `json:"columns,omitempty"`
}

// Trends holds per-code averages.
type Trends struct {
	NAICSCode       string             `json:"naics_code"`
	Description     string             `json:"description"`
	EmissionFactors map[string]float64 `json:"emission_factors"`
}

// Search returns the (code, title) pair of every row whose code or title
// contains query, ignoring case. Duplicates are kept, in table order.
func (t *Table) Search(query string) []domain.CodeTitle {
	if t == nil {
		return nil
	}
	q := strings.ToLower(query)
	var out []domain.CodeTitle
	for i := range t.cells {
		r := Row{t: t, i: i}
		code, title := r.Code(), r.Title()
		if strings.Contains(strings.ToLower(code), q) || strings.Contains(strings.ToLower(title), q) {
			out = append(out, domain.CodeTitle{Code: code, Title: title})
		}
	}
	return out
}

// EmissionFactors returns the rows with the given code, or every row when
// code is empty.
func (t *Table) EmissionFactors(code string) []Row {
	if t == nil {
		return nil
	}
	var out []Row
	for i := range t.cells {
		r := Row{t: t, i: i}
		if code == "" || r.Code() == code {
			out = append(out, r)
		}
	}
	return out
}

// EmissionSummary computes record counts and statistics for every numeric
// column whose name does not mention NAICS. A nil table yields a zero summary.
func (t *Table) EmissionSummary() Summary {
	if t == nil {
		return Summary{EmissionStats: map[string]ColumnStats{}}
	}
	codes := make(map[string]struct{})
	for i := range t.cells {
		codes[t.cells[i][t.codeCol]] = struct{}{}
	}
	s := Summary{
		TotalRecords:  t.Len(),
		UniqueNAICS:   len(codes),
		EmissionStats: make(map[string]ColumnStats),
		Columns: &SummaryColumns{
			CodeColumn:     t.CodeColumn(),
			TitleColumn:    t.TitleColumn(),
			NumericColumns: []string{},
		},
	}
	for j, c := range t.columns {
		if !c.Kind.Numeric() || strings.Contains(c.Name, "NAICS") {
			continue
		}
		s.Columns.NumericColumns = append(s.Columns.NumericColumns, c.Name)
		s.EmissionStats[c.Name] = describe(t.nums[j])
	}
	return s
}

// EmissionTrends returns the first matching row's title and the mean of every
// numeric column over the rows sharing code exactly.
func (t *Table) EmissionTrends(code string) (Trends, bool) {
	rows := t.EmissionFactors(code)
	if code == "" || len(rows) == 0 {
		return Trends{}, false
	}
	tr := Trends{
		NAICSCode:       code,
		Description:     rows[0].Title(),
		EmissionFactors: make(map[string]float64),
	}
	vals := make([]float64, len(rows))
	for j, c := range t.columns {
		if !c.Kind.Numeric() {
			continue
		}
		for n, r := range rows {
			vals[n] = t.nums[j][r.i]
		}
		tr.EmissionFactors[c.Name] = stat.Mean(vals, nil)
	}
	return tr, true
}

func describe(values []float64) ColumnStats {
	n := len(values)
	if n == 0 {
		return ColumnStats{}
	}
	mean, std := stat.MeanStdDev(values, nil)
	if n < 2 || math.IsNaN(std) {
		std = 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return ColumnStats{
		Count: n,
		Mean:  mean,
		Std:   std,
		Min:   floats.Min(values),
		P25:   quantile(sorted, 0.25),
		P50:   quantile(sorted, 0.50),
		P75:   quantile(sorted, 0.75),
		Max:   floats.Max(values),
	}
}

// quantile interpolates linearly between the closest ranks at p*(n-1).
func quantile(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := p * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	return sorted[lo] + (sorted[hi]-sorted[lo])*(pos-float64(lo))
}
