// Package mercadopago is a thin REST client for the MercadoPago payments and
// checkout preference APIs.
package mercadopago

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/tutoring-enrollment-api/pkg/config"
)

// ErrPaymentNotFound is returned when the gateway does not know the payment id.
var ErrPaymentNotFound = errors.New("mercadopago payment not found")

// APIError describes a non-2xx gateway response.
type APIError struct {
	StatusCode int    `json:"status"`
	Message    string `json:"message"`
	Code       string `json:"error"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mercadopago api error %d: %s", e.StatusCode, e.Message)
}

// Client talks to the MercadoPago REST API.
type Client struct {
	http            *resty.Client
	notificationURL string
	backURL         string
	mock            bool
	logger          *zap.Logger
}

// NewClient builds a client from configuration. Gateway calls are not retried
// here; webhook redelivery and idempotent settlement cover transient failures.
func NewClient(cfg config.MercadoPagoConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetAuthToken(cfg.AccessToken).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:            httpClient,
		notificationURL: cfg.NotificationURL,
		backURL:         cfg.BackURL,
		mock:            cfg.Mock,
		logger:          logger,
	}
}

// IsMock reports whether preferences are faked locally.
func (c *Client) IsMock() bool {
	return c.mock
}

// GetPayment fetches the authoritative payment detail for id.
func (c *Client) GetPayment(ctx context.Context, id string) (*Payment, error) {
	var (
		payment Payment
		apiErr  APIError
	)
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetResult(&payment).
		SetError(&apiErr).
		Get("/v1/payments/{id}")
	if err != nil {
		return nil, fmt.Errorf("get payment %s: %w", id, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, ErrPaymentNotFound
	}
	if resp.IsError() {
		apiErr.StatusCode = resp.StatusCode()
		return nil, fmt.Errorf("get payment %s: %w", id, &apiErr)
	}
	return &payment, nil
}

// CreatePreference registers a checkout preference and returns its init point.
func (c *Client) CreatePreference(ctx context.Context, req PreferenceRequest) (*Preference, error) {
	if req.NotificationURL == "" {
		req.NotificationURL = c.notificationURL
	}
	if req.BackURLs == nil && c.backURL != "" {
		req.BackURLs = &BackURLs{
			Success: c.backURL + "/exito",
			Failure: c.backURL + "/error",
			Pending: c.backURL + "/pendiente",
		}
		req.AutoReturn = "approved"
	}

	if c.mock {
		id := "MP-MOCK-" + uuid.NewString()
		c.logger.Warn("mercadopago mock mode, returning placeholder preference",
			zap.String("preference_id", id),
			zap.String("external_reference", req.ExternalReference))
		return &Preference{ID: id, InitPoint: c.backURL + "/mock-checkout?preference_id=" + id}, nil
	}

	key := req.IdempotencyKey
	if key == "" {
		key = req.ExternalReference
	}

	var (
		pref   Preference
		apiErr APIError
	)
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("X-Idempotency-Key", key).
		SetBody(req).
		SetResult(&pref).
		SetError(&apiErr).
		Post("/checkout/preferences")
	if err != nil {
		return nil, fmt.Errorf("create preference: %w", err)
	}
	if resp.IsError() {
		apiErr.StatusCode = resp.StatusCode()
		return nil, fmt.Errorf("create preference: %w", &apiErr)
	}
	c.logger.Info("mercadopago preference created",
		zap.String("preference_id", pref.ID),
		zap.String("external_reference", req.ExternalReference),
		zap.String("amount", strconv.FormatFloat(sumItems(req.Items), 'f', 2, 64)))
	return &pref, nil
}

func sumItems(items []Item) float64 {
	var total float64
	for _, it := range items {
		total += it.UnitPrice * float64(it.Quantity)
	}
	return total
}
