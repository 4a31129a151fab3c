// Package encoder renders table rows into the flattened text documents that
// are embedded and retrieved.
package encoder

import (
	"fmt"
	"strconv"
	"strings"

	"ghgrag/internal/domain"
	"ghgrag/internal/log"
	"ghgrag/internal/tabular"
)

// Metadata keys attached to every rendered document.
const (
	MetaRow  = "row"
	MetaCode = "naics_code"
)

type field struct {
	label  string
	column func(t *tabular.Table) string
}

func fixed(name string) func(*tabular.Table) string {
	return func(*tabular.Table) string { return name }
}

// fields is the rendering order; labels differ from column names only for
// the detected code and title columns.
var fields = []field{
	{"NAICS Code", (*tabular.Table).CodeColumn},
	{"Title", (*tabular.Table).TitleColumn},
	{tabular.ColumnGHG, fixed(tabular.ColumnGHG)},
	{tabular.ColumnUnit, fixed(tabular.ColumnUnit)},
	{tabular.ColumnFactorNoMargin, fixed(tabular.ColumnFactorNoMargin)},
	{tabular.ColumnMargin, fixed(tabular.ColumnMargin)},
	{tabular.ColumnFactorMargin, fixed(tabular.ColumnFactorMargin)},
}

// Render produces the document for row i of t.
func Render(t *tabular.Table, i int) (domain.Document, error) {
	if i < 0 || i >= t.Len() {
		return domain.Document{}, fmt.Errorf("render row %d: out of range", i)
	}
	row := t.Row(i)
	var b strings.Builder
	for _, f := range fields {
		col := f.column(t)
		v, ok := row.Display(col)
		if !ok {
			return domain.Document{}, fmt.Errorf("render row %d: missing column %q", i, col)
		}
		b.WriteString(f.label)
		b.WriteString(": ")
		b.WriteString(v)
		b.WriteByte('\n')
	}
	return domain.Document{
		ID:      "row-" + strconv.Itoa(i),
		Content: b.String(),
		Metadata: map[string]string{
			MetaRow:  strconv.Itoa(i),
			MetaCode: row.Code(),
		},
	}, nil
}

// RenderAll renders every row, skipping rows that fail with a warning.
// It returns domain.ErrNoDocuments when nothing could be rendered.
func RenderAll(t *tabular.Table, logger *log.Logger) ([]domain.Document, error) {
	if logger == nil {
		logger = log.Nop()
	}
	docs := make([]domain.Document, 0, t.Len())
	for i := 0; i < t.Len(); i++ {
		doc, err := Render(t, i)
		if err != nil {
			logger.Warn("skipping row", "row", i, "err", err)
			continue
		}
		docs = append(docs, doc)
	}
	if len(docs) == 0 {
		return nil, domain.ErrNoDocuments
	}
	return docs, nil
}
