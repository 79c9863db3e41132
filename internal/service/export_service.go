package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/tutoring-enrollment-api/internal/models"
	appErrors "github.com/noah-isme/tutoring-enrollment-api/pkg/errors"
	"github.com/noah-isme/tutoring-enrollment-api/pkg/export"
)

// ExportFormat selects the rendered file type.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

const exportPageSize = 100

type enrollmentLister interface {
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, int, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
	RenderCredentials(sheet export.CredentialSheet) ([]byte, error)
}

// ExportFile is a rendered download.
type ExportFile struct {
	Filename    string
	ContentType string
	Body        []byte
}

// ExportService renders enrollment listings and credential sheets.
type ExportService struct {
	enrollments enrollmentLister
	csv         csvRenderer
	pdf         pdfRenderer
	logger      *zap.Logger
	now         func() time.Time
}

// NewExportService constructs an ExportService.
func NewExportService(enrollments enrollmentLister, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{
		enrollments: enrollments,
		csv:         csv,
		pdf:         pdf,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

var enrollmentExportHeaders = []string{"ID", "Tipo", "Estado", "Tutor", "Email", "Matrícula", "Mensual", "Descuento", "Creada"}

// Enrollments renders every enrollment matching filter.
func (s *ExportService) Enrollments(ctx context.Context, filter models.EnrollmentFilter, format ExportFormat) (*ExportFile, error) {
	dataset := export.Dataset{Headers: enrollmentExportHeaders}

	filter.PageSize = exportPageSize
	for page := 1; ; page++ {
		filter.Page = page
		items, total, err := s.enrollments.List(ctx, filter)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollments for export")
		}
		for _, e := range items {
			dataset.Append(map[string]string{
				"ID":        e.ID,
				"Tipo":      string(e.Type),
				"Estado":    string(e.Status),
				"Tutor":     e.GuardianName,
				"Email":     e.GuardianEmail,
				"Matrícula": strconv.FormatInt(e.InscriptionFee, 10),
				"Mensual":   strconv.FormatInt(e.MonthlyTotal, 10),
				"Descuento": fmt.Sprintf("%d%%", e.DiscountPercent),
				"Creada":    e.CreatedAt.Format("2006-01-02 15:04"),
			})
		}
		if len(items) == 0 || page*exportPageSize >= total {
			break
		}
	}

	timestamp := s.now().Format("20060102_150405")
	var (
		file ExportFile
		err  error
	)
	switch format {
	case ExportFormatCSV:
		file.Body, err = s.csv.Render(dataset)
		file.ContentType = "text/csv"
	case ExportFormatPDF:
		file.Body, err = s.pdf.Render(dataset, "Inscripciones 2026")
		file.ContentType = "application/pdf"
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported format %s", format))
	}
	if err != nil {
		return nil, err
	}
	file.Filename = fmt.Sprintf("inscripciones_%s.%s", timestamp, format)
	s.logger.Info("enrollments exported", zap.String("format", string(format)), zap.Int("rows", len(dataset.Rows)))
	return &file, nil
}

// CredentialsSheet renders the PDF handed to the guardian after activation.
func (s *ExportService) CredentialsSheet(notice CredentialsNotice) (*ExportFile, error) {
	sheet := export.CredentialSheet{
		Title:        "Credenciales de acceso",
		EnrollmentID: notice.EnrollmentID,
		Guardian: export.CredentialLine{
			Name:     notice.GuardianName,
			Username: notice.GuardianUsername,
			Secret:   notice.TemporaryPassword,
		},
		Footer: "Guardá este documento en un lugar seguro.",
	}
	for _, st := range notice.Students {
		sheet.Students = append(sheet.Students, export.CredentialLine{Name: st.StudentName, Username: st.Username, Secret: st.PIN})
	}
	body, err := s.pdf.RenderCredentials(sheet)
	if err != nil {
		return nil, err
	}
	return &ExportFile{
		Filename:    fmt.Sprintf("credenciales_%s.pdf", sanitizeFilename(notice.EnrollmentID)),
		ContentType: "application/pdf",
		Body:        body,
	}, nil
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}
