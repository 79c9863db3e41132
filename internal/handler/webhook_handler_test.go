package handler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tutoring-enrollment-api/internal/dto"
	"github.com/noah-isme/tutoring-enrollment-api/internal/middleware"
	"github.com/noah-isme/tutoring-enrollment-api/internal/service"
	appErrors "github.com/noah-isme/tutoring-enrollment-api/pkg/errors"
)

type settlementMock struct {
	result *dto.SettlementResult
	err    error
	seen   []dto.PaymentNotification
}

func (m *settlementMock) Process(ctx context.Context, n dto.PaymentNotification) (*dto.SettlementResult, error) {
	m.seen = append(m.seen, n)
	return m.result, m.err
}

const notificationBody = `{"action":"payment.updated","api_version":"v1","data":{"id":"555"},"date_created":"2026-01-01T00:00:00Z","id":1,"live_mode":false,"type":"payment","user_id":"9"}`

func webhookRouter(settlement settlementProcessor, secret string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.WithResponseMeta())
	r.POST("/webhooks/mercadopago",
		middleware.WebhookSignature(middleware.WebhookSignatureConfig{Secret: secret, Strict: true}),
		NewWebhookHandler(settlement).MercadoPago)
	return r
}

func signedNotification(secret, body string) *http.Request {
	ts := time.Now().Unix()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/mercadopago", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.SignatureHeader, fmt.Sprintf("ts=%d,v1=%s", ts, middleware.SignWebhookPayload(secret, ts, []byte(body))))
	return req
}

func TestWebhookHandlerSettlesSignedNotification(t *testing.T) {
	settlement := &settlementMock{result: &dto.SettlementResult{Success: true, InscripcionID: "enr-1", PaymentStatus: "approved", InscripcionStatus: "active"}}
	r := webhookRouter(settlement, "secret")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, signedNotification("secret", notificationBody))

	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, settlement.seen, 1)
	assert.Equal(t, "555", settlement.seen[0].Data.ID)
	assert.Equal(t, "payment", settlement.seen[0].Type)
	env := decodeEnvelope(t, w)
	assert.Contains(t, string(env.Data), `"inscripcionStatus":"active"`)
	assert.Nil(t, env.Meta)
}

func TestWebhookHandlerFlagsReplay(t *testing.T) {
	settlement := &settlementMock{result: &dto.SettlementResult{Success: true, Message: service.MessageAlreadyProcessed}}
	r := webhookRouter(settlement, "secret")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, signedNotification("secret", notificationBody))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decodeEnvelope(t, w).Meta["idempotent"])
}

func TestWebhookHandlerRejectsBadSignatureBeforeSettlement(t *testing.T) {
	settlement := &settlementMock{}
	r := webhookRouter(settlement, "secret")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, signedNotification("wrong", notificationBody))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, settlement.seen)
}

func TestWebhookHandlerMapsSettlementErrors(t *testing.T) {
	cases := map[string]struct {
		err    error
		status int
	}{
		"amount mismatch": {appErrors.ErrAmountMismatch, http.StatusBadRequest},
		"not found":       {appErrors.Clone(appErrors.ErrNotFound, "Payment not found"), http.StatusNotFound},
		"gateway":         {appErrors.ErrGateway, http.StatusBadGateway},
		"storage":         {fmt.Errorf("tx: connection refused"), http.StatusInternalServerError},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			r := webhookRouter(&settlementMock{err: tc.err}, "secret")
			w := httptest.NewRecorder()
			r.ServeHTTP(w, signedNotification("secret", notificationBody))
			assert.Equal(t, tc.status, w.Code)
		})
	}
}
