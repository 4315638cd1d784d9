package attachment

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"
)

var ErrEmptyTable = errors.New("attachment: no columns to parse from file")

const missingCell = "NaN"

// RenderCSV reads CSV data and renders it as an aligned text table: a header
// line, then one line per record prefixed with its zero-based row index.
// Columns are right-aligned and padded to their widest cell; short records
// are padded with NaN.
func RenderCSV(r io.Reader) (string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	records, err := cr.ReadAll()
	if err != nil {
		return "", fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		return "", ErrEmptyTable
	}

	header := records[0]
	rows := records[1:]
	if len(rows) == 0 {
		return fmt.Sprintf("Empty DataFrame\nColumns: [%s]\nIndex: []", strings.Join(header, ", ")), nil
	}

	cols := len(header)
	for _, row := range rows {
		if len(row) > cols {
			cols = len(row)
		}
	}
	for len(header) < cols {
		header = append(header, fmt.Sprintf("Unnamed: %d", len(header)))
	}

	widths := make([]int, cols)
	for i, h := range header {
		widths[i] = utf8.RuneCountInString(h)
	}
	for _, row := range rows {
		for i := 0; i < cols; i++ {
			if w := utf8.RuneCountInString(cell(row, i)); w > widths[i] {
				widths[i] = w
			}
		}
	}
	indexWidth := len(strconv.Itoa(len(rows) - 1))

	var b strings.Builder
	b.WriteString(strings.Repeat(" ", indexWidth))
	for i, h := range header {
		b.WriteString("  ")
		b.WriteString(padLeft(h, widths[i]))
	}
	for n, row := range rows {
		b.WriteByte('\n')
		idx := strconv.Itoa(n)
		b.WriteString(idx)
		b.WriteString(strings.Repeat(" ", indexWidth-len(idx)))
		for i := 0; i < cols; i++ {
			b.WriteString("  ")
			b.WriteString(padLeft(cell(row, i), widths[i]))
		}
	}
	return b.String(), nil
}

func cell(row []string, i int) string {
	if i >= len(row) || row[i] == "" {
		return missingCell
	}
	return row[i]
}

func padLeft(s string, width int) string {
	if n := utf8.RuneCountInString(s); n < width {
		return strings.Repeat(" ", width-n) + s
	}
	return s
}
