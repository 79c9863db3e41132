package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"github.com/noah-isme/tutoring-enrollment-api/internal/dto"
	"github.com/noah-isme/tutoring-enrollment-api/internal/middleware"
	"github.com/noah-isme/tutoring-enrollment-api/internal/service"
	"github.com/noah-isme/tutoring-enrollment-api/pkg/response"
)

type settlementProcessor interface {
	Process(ctx context.Context, notification dto.PaymentNotification) (*dto.SettlementResult, error)
}

// WebhookHandler receives payment gateway notifications.
type WebhookHandler struct {
	settlement settlementProcessor
}

// NewWebhookHandler constructs WebhookHandler.
func NewWebhookHandler(settlement settlementProcessor) *WebhookHandler {
	return &WebhookHandler{settlement: settlement}
}

// MercadoPago godoc
// @Summary MercadoPago payment notification
// @Description Settles the referenced payment. Repeated deliveries return the original outcome.
// @Tags Webhooks
// @Accept json
// @Produce json
// @Param x-signature header string false "ts=<unix>,v1=<hmac>"
// @Param payload body dto.PaymentNotification true "Notification"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /webhooks/mercadopago [post]
func (h *WebhookHandler) MercadoPago(c *gin.Context) {
	var notification dto.PaymentNotification
	if err := c.ShouldBindBodyWith(&notification, binding.JSON); err != nil {
		response.Error(c, invalidPayload(err, "invalid notification payload"))
		return
	}

	result, err := h.settlement.Process(c.Request.Context(), notification)
	if err != nil {
		response.Error(c, err)
		return
	}
	if result.Message == service.MessageAlreadyProcessed {
		middleware.SetIdempotentReplay(c)
	}

	response.JSON(c, http.StatusOK, result, nil, middleware.ExtractMeta(c))
}
