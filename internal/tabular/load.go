package tabular

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"ghgrag/internal/domain"
	"ghgrag/internal/log"
)

// DefaultChunkSize is the number of records parsed per chunk.
const DefaultChunkSize = 10000

// Options tune Load.
type Options struct {
	ChunkSize int
	Logger    *log.Logger
}

// naValues are the cell texts treated as missing, mirroring the usual
// dataframe reader defaults.
var naValues = map[string]struct{}{
	"": {}, "#N/A": {}, "#N/A N/A": {}, "#NA": {}, "-1.#IND": {}, "-1.#QNAN": {},
	"-NaN": {}, "-nan": {}, "1.#IND": {}, "1.#QNAN": {}, "<NA>": {}, "N/A": {},
	"NA": {}, "NULL": {}, "NaN": {}, "None": {}, "n/a": {}, "nan": {}, "null": {},
}

const nullFill = "0"

// LoadFile opens path and calls Load.
func LoadFile(path string, opts Options) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &domain.LoadError{Reason: "could not open file", Err: err}
	}
	defer f.Close()
	return Load(f, opts)
}

// Load parses a CSV stream into a validated Table. Records are read in
// chunks of opts.ChunkSize and concatenated in order; missing cells become
// zero. Any validation failure returns a *domain.LoadError.
func Load(r io.Reader, opts Options) (*Table, error) {
	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Nop()
	}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, &domain.LoadError{Reason: "no data could be loaded from the CSV file"}
	}
	if err != nil {
		return nil, &domain.LoadError{Reason: "could not parse CSV header", Err: err}
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	header = dedupeHeader(header)

	var rows [][]string
	chunks := 0
	for {
		chunk, err := readChunk(cr, len(header), chunkSize)
		if err != nil {
			return nil, &domain.LoadError{Reason: "could not parse CSV", Err: err}
		}
		if len(chunk) == 0 {
			break
		}
		rows = append(rows, chunk...)
		chunks++
		logger.Debug("csv chunk parsed", "chunk", chunks, "rows", len(chunk))
		if len(chunk) < chunkSize {
			break
		}
	}

	t, err := newTable(header, rows)
	if err != nil {
		return nil, err
	}
	logger.Info("dataset loaded", "records", t.Len(), "chunks", chunks,
		"code_column", t.CodeColumn(), "title_column", t.TitleColumn())
	return t, nil
}

// readChunk reads up to n records, padding short records and filling nulls.
func readChunk(cr *csv.Reader, width, n int) ([][]string, error) {
	chunk := make([][]string, 0, min(n, 1024))
	for len(chunk) < n {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return chunk, nil
		}
		if err != nil {
			return nil, err
		}
		if len(rec) > width {
			line, _ := cr.FieldPos(0)
			return nil, fmt.Errorf("line %d: expected %d fields, saw %d", line, width, len(rec))
		}
		row := make([]string, width)
		for j := range row {
			if j < len(rec) {
				row[j] = rec[j]
			}
			if _, na := naValues[strings.TrimSpace(row[j])]; na {
				row[j] = nullFill
			}
		}
		chunk = append(chunk, row)
	}
	return chunk, nil
}

func newTable(header []string, rows [][]string) (*Table, error) {
	codeCol, titleCol := -1, -1
	for j, name := range header {
		if codeCol < 0 && strings.Contains(name, CodeColumnMarker) {
			codeCol = j
		}
		if titleCol < 0 && strings.Contains(name, TitleColumnMarker) {
			titleCol = j
		}
	}
	if codeCol < 0 || titleCol < 0 {
		return nil, &domain.LoadError{Reason: "could not find NAICS Code and Title columns"}
	}

	index := make(map[string]int, len(header))
	for j, name := range header {
		index[name] = j
	}
	var missing []string
	for _, name := range RequiredColumns {
		if _, ok := index[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, &domain.LoadError{Reason: "missing required columns", Missing: missing}
	}
	if len(rows) == 0 {
		return nil, &domain.LoadError{Reason: "no valid data after preprocessing"}
	}

	t := &Table{
		columns:  make([]Column, len(header)),
		index:    index,
		cells:    rows,
		nums:     make([][]float64, len(header)),
		ints:     make([][]int64, len(header)),
		codeCol:  codeCol,
		titleCol: titleCol,
	}
	for j, name := range header {
		t.columns[j] = Column{Name: name, Kind: KindText}
		if j == codeCol {
			continue
		}
		kind, nums, ints := inferColumn(rows, j)
		t.columns[j].Kind = kind
		t.nums[j] = nums
		t.ints[j] = ints
	}
	return t, nil
}

// inferColumn returns the column kind and, for numeric columns, its parsed
// values. Integer columns also keep their exact int64 values.
func inferColumn(rows [][]string, j int) (Kind, []float64, []int64) {
	kind := KindInteger
	nums := make([]float64, len(rows))
	ints := make([]int64, len(rows))
	for i, row := range rows {
		cell := strings.TrimSpace(row[j])
		if kind == KindInteger {
			if n, err := strconv.ParseInt(cell, 10, 64); err == nil {
				nums[i] = float64(n)
				ints[i] = n
				continue
			}
			kind = KindFloat
			ints = nil
		}
		f, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			return KindText, nil, nil
		}
		nums[i] = f
	}
	return kind, nums, ints
}

// dedupeHeader renames repeated names to "name.1", "name.2", ... skipping
// suffixes already taken, so every column keeps its own statistics.
func dedupeHeader(header []string) []string {
	taken := make(map[string]struct{}, len(header))
	for _, name := range header {
		taken[name] = struct{}{}
	}
	seen := make(map[string]int, len(header))
	out := make([]string, len(header))
	for j, name := range header {
		n := seen[name]
		seen[name] = n + 1
		if n == 0 {
			out[j] = name
			continue
		}
		renamed := name + "." + strconv.Itoa(n)
		for {
			if _, dup := taken[renamed]; !dup {
				break
			}
			n++
			renamed = name + "." + strconv.Itoa(n)
		}
		seen[name] = n + 1
		taken[renamed] = struct{}{}
		out[j] = renamed
	}
	return out
}
