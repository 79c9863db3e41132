package export

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/jung-kurt/gofpdf"
)

// CredentialLine is one account printed on a credentials sheet.
type CredentialLine struct {
	Name     string
	Username string
	Secret   string
}

// CredentialSheet is the printable summary handed to a guardian after an
// enrollment is activated.
type CredentialSheet struct {
	Title        string
	EnrollmentID string
	Guardian     CredentialLine
	Students     []CredentialLine
	Footer       string
}

// PDFExporter renders documents with gofpdf core fonts. Text is translated to
// cp1252 so Spanish accents survive.
type PDFExporter struct{}

// NewPDFExporter constructs a PDF exporter.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{}
}

// Render creates a landscape PDF with an optional title and table body.
func (e *PDFExporter) Render(data Dataset, title string) ([]byte, error) {
	if len(data.Headers) == 0 {
		return nil, fmt.Errorf("pdf requires at least one header")
	}
	pdf := gofpdf.New("L", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetMargins(10, 15, 10)
	pdf.AddPage()

	if title != "" {
		pdf.SetFont("Arial", "B", 14)
		pdf.CellFormat(0, 10, tr(strings.ToUpper(title)), "", 1, "C", false, 0, "")
		pdf.Ln(5)
	}

	pdf.SetFont("Arial", "B", 9)
	colWidth := 277.0 / float64(len(data.Headers))
	for _, header := range data.Headers {
		pdf.CellFormat(colWidth, 8, tr(header), "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 8)
	for _, row := range data.Rows {
		for _, value := range data.record(row) {
			pdf.CellFormat(colWidth, 7, tr(value), "1", 0, "", false, 0, "")
		}
		pdf.Ln(-1)
	}

	return output(pdf)
}

// RenderCredentials prints the guardian and student access data.
func (e *PDFExporter) RenderCredentials(sheet CredentialSheet) ([]byte, error) {
	if len(sheet.Students) == 0 && sheet.Guardian.Username == "" {
		return nil, fmt.Errorf("credentials sheet is empty")
	}
	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetMargins(15, 20, 15)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 16)
	pdf.CellFormat(0, 10, tr(sheet.Title), "", 1, "C", false, 0, "")
	pdf.SetFont("Arial", "", 9)
	pdf.CellFormat(0, 6, tr("Inscripción "+sheet.EnrollmentID), "", 1, "C", false, 0, "")
	pdf.Ln(6)

	widths := []float64{80, 55, 45}
	header := func(cols ...string) {
		pdf.SetFont("Arial", "B", 10)
		for i, col := range cols {
			pdf.CellFormat(widths[i], 8, tr(col), "1", 0, "C", false, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetFont("Arial", "", 10)
	}
	line := func(l CredentialLine) {
		for i, v := range []string{l.Name, l.Username, l.Secret} {
			pdf.CellFormat(widths[i], 8, tr(v), "1", 0, "", false, 0, "")
		}
		pdf.Ln(-1)
	}

	if sheet.Guardian.Username != "" {
		header("Tutor", "Usuario", "Contraseña temporal")
		line(sheet.Guardian)
		pdf.Ln(6)
	}
	if len(sheet.Students) > 0 {
		header("Estudiante", "Usuario", "PIN")
		for _, s := range sheet.Students {
			line(s)
		}
	}

	if sheet.Footer != "" {
		pdf.Ln(8)
		pdf.SetFont("Arial", "I", 9)
		pdf.MultiCell(0, 5, tr(sheet.Footer), "", "L", false)
	}

	return output(pdf)
}

func output(pdf *gofpdf.Fpdf) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}
