package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tutoring-enrollment-api/internal/dto"
	"github.com/noah-isme/tutoring-enrollment-api/internal/middleware"
	"github.com/noah-isme/tutoring-enrollment-api/internal/models"
	"github.com/noah-isme/tutoring-enrollment-api/internal/service"
	"github.com/noah-isme/tutoring-enrollment-api/pkg/response"
)

type enrollmentService interface {
	Quote(req dto.EnrollmentRequest) (*dto.Quote, error)
	Submit(ctx context.Context, req dto.EnrollmentRequest) (*dto.SubmitEnrollmentResponse, error)
	Get(ctx context.Context, id string, claims *models.JWTClaims) (*models.EnrollmentDetail, bool, error)
	List(ctx context.Context, filter models.EnrollmentFilter) (*service.EnrollmentList, error)
	History(ctx context.Context, id string, claims *models.JWTClaims) ([]models.StatusHistoryEntry, error)
	UpdateStatus(ctx context.Context, id string, req dto.UpdateEnrollmentStatusRequest, actorID string) (*models.Enrollment, error)
	OpenMonthlyCheckout(ctx context.Context, id string, claims *models.JWTClaims) (*dto.CheckoutResponse, error)
}

type enrollmentExporter interface {
	Enrollments(ctx context.Context, filter models.EnrollmentFilter, format service.ExportFormat) (*service.ExportFile, error)
}

// EnrollmentHandler exposes enrollment endpoints.
type EnrollmentHandler struct {
	enrollments enrollmentService
	exports     enrollmentExporter
}

// NewEnrollmentHandler constructs EnrollmentHandler.
func NewEnrollmentHandler(enrollments enrollmentService, exports enrollmentExporter) *EnrollmentHandler {
	return &EnrollmentHandler{enrollments: enrollments, exports: exports}
}

// Quote godoc
// @Summary Price an enrollment
// @Description Validates the selection rules and returns fee, monthly total and sibling discount
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param payload body dto.EnrollmentRequest true "Enrollment payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /enrollments/quote [post]
func (h *EnrollmentHandler) Quote(c *gin.Context) {
	var req dto.EnrollmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err, "invalid enrollment payload"))
		return
	}
	quote, err := h.enrollments.Quote(req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, quote, nil)
}

// Submit godoc
// @Summary Submit an enrollment
// @Description Creates a pending enrollment and the checkout for its inscription fee
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param payload body dto.EnrollmentRequest true "Enrollment payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Router /enrollments [post]
func (h *EnrollmentHandler) Submit(c *gin.Context) {
	var req dto.EnrollmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err, "invalid enrollment payload"))
		return
	}
	res, err := h.enrollments.Submit(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, res)
}

// Get godoc
// @Summary Get enrollment detail
// @Tags Enrollments
// @Produce json
// @Security BearerAuth
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /enrollments/{id} [get]
func (h *EnrollmentHandler) Get(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	detail, hit, err := h.enrollments.Get(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, hit)
	response.JSON(c, http.StatusOK, detail, nil, middleware.ExtractMeta(c))
}

// List godoc
// @Summary List enrollments
// @Tags Enrollments
// @Produce json
// @Security BearerAuth
// @Param status query string false "pending, active, cancelled or rejected"
// @Param type query string false "COLONIA, CICLO_2026 or PACK_COMPLETO"
// @Param search query string false "Guardian name or email"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /enrollments [get]
func (h *EnrollmentHandler) List(c *gin.Context) {
	filter, ok := bindFilter(c)
	if !ok {
		return
	}
	h.list(c, filter)
}

// Mine godoc
// @Summary List the guardian's own enrollments
// @Tags Enrollments
// @Produce json
// @Security BearerAuth
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /me/enrollments [get]
func (h *EnrollmentHandler) Mine(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	filter, ok := bindFilter(c)
	if !ok {
		return
	}
	filter.GuardianID = claims.UserID
	filter.Search = ""
	h.list(c, filter)
}

func (h *EnrollmentHandler) list(c *gin.Context, filter models.EnrollmentFilter) {
	list, err := h.enrollments.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, list.Items, &list.Pagination)
}

// History godoc
// @Summary Enrollment status history
// @Tags Enrollments
// @Produce json
// @Security BearerAuth
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /enrollments/{id}/history [get]
func (h *EnrollmentHandler) History(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	entries, err := h.enrollments.History(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, nil)
}

// UpdateStatus godoc
// @Summary Cancel or reject an enrollment
// @Tags Enrollments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Enrollment ID"
// @Param payload body dto.UpdateEnrollmentStatusRequest true "Status change"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /enrollments/{id}/status [patch]
func (h *EnrollmentHandler) UpdateStatus(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var req dto.UpdateEnrollmentStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err, "invalid status payload"))
		return
	}
	req.Status = models.EnrollmentStatus(strings.ToLower(string(req.Status)))
	enrollment, err := h.enrollments.UpdateStatus(c.Request.Context(), c.Param("id"), req, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}

// MonthlyCheckout godoc
// @Summary Open the monthly checkout
// @Tags Enrollments
// @Produce json
// @Security BearerAuth
// @Param id path string true "Enrollment ID"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /enrollments/{id}/monthly-checkout [post]
func (h *EnrollmentHandler) MonthlyCheckout(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	res, err := h.enrollments.OpenMonthlyCheckout(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, res)
}

// Export godoc
// @Summary Export enrollments
// @Tags Enrollments
// @Produce text/csv
// @Produce application/pdf
// @Security BearerAuth
// @Param format query string false "csv or pdf"
// @Param status query string false "Filter by status"
// @Param type query string false "Filter by type"
// @Success 200 {file} file
// @Router /enrollments/export [get]
func (h *EnrollmentHandler) Export(c *gin.Context) {
	filter, ok := bindFilter(c)
	if !ok {
		return
	}
	format := service.ExportFormat(strings.ToLower(c.DefaultQuery("format", string(service.ExportFormatCSV))))
	file, err := h.exports.Enrollments(c.Request.Context(), filter, format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Body)
}

func bindFilter(c *gin.Context) (models.EnrollmentFilter, bool) {
	var query dto.EnrollmentListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, invalidPayload(err, "invalid query parameters"))
		return models.EnrollmentFilter{}, false
	}
	return models.EnrollmentFilter{
		Status:   models.EnrollmentStatus(strings.ToLower(strings.TrimSpace(query.Status))),
		Type:     models.EnrollmentType(strings.ToUpper(strings.TrimSpace(query.Type))),
		Search:   strings.TrimSpace(query.Search),
		Page:     query.Page,
		PageSize: query.PageSize,
	}, true
}
