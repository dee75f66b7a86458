// Package tabular converts uploaded CSV and Excel files into ordered row
// records with typed cell values and advisory field types.
package tabular

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ErrUnsupportedFormat is returned when an uploaded file is not supported.
var ErrUnsupportedFormat = errors.New("unsupported file format")

var byteOrderMark = []byte{0xEF, 0xBB, 0xBF}

// TransformRow mutates or replaces one parsed row. Returning skip drops the
// row from the result without counting it; returning an error records a row
// error and parsing continues.
type TransformRow func(values map[string]any, rowNumber int) (map[string]any, bool, error)

// Options tune a parse run.
type Options struct {
	MaxRows          int
	IncludeEmptyRows bool
	TransformRow     TransformRow
}

// Row is one parsed data row. Number is 1-based over data rows.
type Row struct {
	Number int
	Values map[string]any
}

// RowError records one row that failed to map, with its raw cell values.
type RowError struct {
	Row     int
	Message string
	Data    map[string]any
}

// Result is the outcome of parsing one file. ValidRows plus the number of
// row errors always equals TotalRows.
type Result struct {
	Headers   []string
	Rows      []Row
	TotalRows int
	ValidRows int
	Errors    []RowError
}

type fileFormat int

const (
	formatCSV fileFormat = iota
	formatExcel
)

// Supported reports whether a file name / MIME type pair can be parsed.
// It runs before any heavy I/O so unsupported uploads fail fast.
func Supported(fileName, mimeType string) error {
	_, err := detectFormat(fileName, mimeType)
	return err
}

// Parse reads an entire CSV or Excel file into rows keyed by header name.
// One bad row never aborts the parse; it is recorded in Errors instead.
func Parse(r io.Reader, fileName, mimeType string, opts Options) (*Result, error) {
	format, err := detectFormat(fileName, mimeType)
	if err != nil {
		return nil, err
	}

	payload, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if len(payload) == 0 {
		return nil, errors.New("file is empty")
	}

	var records [][]string
	switch format {
	case formatCSV:
		records, err = readCSV(payload)
	case formatExcel:
		records, err = readExcel(payload)
	}
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, errors.New("no rows found in file")
	}

	headers := sanitizeHeaders(records[0])
	return buildResult(headers, records[1:], opts), nil
}

func detectFormat(fileName, mimeType string) (fileFormat, error) {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".csv":
		return formatCSV, nil
	case ".xlsx":
		return formatExcel, nil
	}

	switch strings.ToLower(strings.TrimSpace(mimeType)) {
	case "text/csv", "application/csv":
		return formatCSV, nil
	case "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		return formatExcel, nil
	}

	return 0, fmt.Errorf("%w: %s (%s)", ErrUnsupportedFormat, fileName, mimeType)
}

func readCSV(payload []byte) ([][]string, error) {
	payload = bytes.TrimPrefix(payload, byteOrderMark)

	delimiter := DetectDelimiter(sampleLines(payload))

	reader := csv.NewReader(bufio.NewReader(bytes.NewReader(payload)))
	reader.Comma = delimiter
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}
	return records, nil
}

func readExcel(payload []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("excel file has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read rows from xlsx: %w", err)
	}
	return rows, nil
}

func sampleLines(payload []byte) []string {
	scanner := bufio.NewScanner(bytes.NewReader(payload))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var lines []string
	for scanner.Scan() && len(lines) < DelimiterSampleLines {
		lines = append(lines, scanner.Text())
	}
	return lines
}

func buildResult(headers []string, records [][]string, opts Options) *Result {
	result := &Result{
		Headers: headers,
		Rows:    []Row{},
		Errors:  []RowError{},
	}

	for _, record := range records {
		if isEmptyRow(record) && !opts.IncludeEmptyRows {
			continue
		}
		if opts.MaxRows > 0 && result.TotalRows >= opts.MaxRows {
			break
		}

		result.TotalRows++
		rowNumber := result.TotalRows

		values := make(map[string]any, len(headers))
		for idx, header := range headers {
			if idx < len(record) {
				values[header] = CoerceCell(record[idx])
			} else {
				values[header] = nil
			}
		}

		if opts.TransformRow != nil {
			transformed, skip, err := opts.TransformRow(values, rowNumber)
			if err != nil {
				result.Errors = append(result.Errors, RowError{
					Row:     rowNumber,
					Message: err.Error(),
					Data:    rawRowData(headers, record),
				})
				continue
			}
			if skip {
				result.TotalRows--
				continue
			}
			values = transformed
		}

		result.Rows = append(result.Rows, Row{Number: rowNumber, Values: values})
		result.ValidRows++
	}

	return result
}

func rawRowData(headers []string, record []string) map[string]any {
	data := make(map[string]any, len(headers))
	for idx, header := range headers {
		if idx < len(record) {
			data[header] = record[idx]
		}
	}
	return data
}

func isEmptyRow(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func sanitizeHeaders(raw []string) []string {
	headers := make([]string, len(raw))
	seen := make(map[string]int)

	for idx, value := range raw {
		name := strings.TrimSpace(value)
		if name == "" {
			name = fmt.Sprintf("column_%d", idx+1)
		}

		base := name
		count := seen[base]
		if count > 0 {
			name = fmt.Sprintf("%s_%d", base, count+1)
		}
		seen[base] = count + 1

		headers[idx] = name
	}

	return headers
}
