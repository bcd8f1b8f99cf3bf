package export

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/jung-kurt/gofpdf"
)

// CardDocument describes one report card page: a headline, summary lines and
// the per-subject table.
type CardDocument struct {
	Heading string
	Student string
	Summary [][2]string
	Table   Dataset
}

// PDFExporter renders report-card documents into a paginated PDF.
type PDFExporter struct{}

// NewPDFExporter constructs a PDF exporter.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{}
}

// RenderCards creates a PDF with one page per report card.
func (e *PDFExporter) RenderCards(title string, docs []CardDocument) ([]byte, error) {
	if len(docs) == 0 {
		return nil, fmt.Errorf("pdf requires at least one card")
	}
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(10, 15, 10)

	for _, doc := range docs {
		pdf.AddPage()

		if title != "" {
			pdf.SetFont("Arial", "B", 14)
			pdf.CellFormat(0, 10, strings.ToUpper(title), "", 1, "C", false, 0, "")
		}
		pdf.SetFont("Arial", "B", 12)
		pdf.CellFormat(0, 8, doc.Heading, "", 1, "C", false, 0, "")
		pdf.SetFont("Arial", "", 11)
		pdf.CellFormat(0, 8, doc.Student, "", 1, "L", false, 0, "")
		pdf.Ln(3)

		if err := e.renderTable(pdf, doc.Table); err != nil {
			return nil, err
		}

		pdf.Ln(4)
		pdf.SetFont("Arial", "", 10)
		for _, line := range doc.Summary {
			pdf.CellFormat(60, 7, line[0], "", 0, "L", false, 0, "")
			pdf.CellFormat(0, 7, line[1], "", 1, "L", false, 0, "")
		}
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func (e *PDFExporter) renderTable(pdf *gofpdf.Fpdf, data Dataset) error {
	if len(data.Headers) == 0 {
		return fmt.Errorf("pdf table requires at least one header")
	}
	pdf.SetFont("Arial", "B", 10)
	colWidth := 190.0 / float64(len(data.Headers))
	for _, header := range data.Headers {
		pdf.CellFormat(colWidth, 8, header, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 9)
	for _, row := range data.Rows {
		for _, header := range data.Headers {
			pdf.CellFormat(colWidth, 7, row[header], "1", 0, "", false, 0, "")
		}
		pdf.Ln(-1)
	}
	return nil
}
