package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
)

// Dataset defines tabular export content.
type Dataset struct {
	Headers []string
	Rows    []map[string]string
}

// CardRow is one ranked line of a class report card export.
type CardRow struct {
	Rank       int
	Student    string
	TotalMarks float64
	MaxMarks   float64
	Percentage float64
	Average    float64
	Grade      string
}

// CSVExporter renders report card exports into CSV bytes.
type CSVExporter struct{}

// NewCSVExporter builds a CSV exporter.
func NewCSVExporter() *CSVExporter {
	return &CSVExporter{}
}

var cardTableHeader = []string{"Rank", "Student", "Total Marks", "Max Marks", "Percentage", "Average", "Grade"}

// RenderCardTable writes one line per ranked student, in the order given.
func (e *CSVExporter) RenderCardTable(rows []CardRow) ([]byte, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("csv requires at least one card")
	}
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)
	if err := writer.Write(cardTableHeader); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	for _, row := range rows {
		record := []string{
			strconv.Itoa(row.Rank),
			row.Student,
			formatMarks(row.TotalMarks),
			formatMarks(row.MaxMarks),
			formatMarks(row.Percentage),
			formatMarks(row.Average),
			row.Grade,
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

func formatMarks(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
