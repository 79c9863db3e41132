package mercadopago

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tutoring-enrollment-api/pkg/config"
)

func newTestClient(url string, mock bool) *Client {
	return NewClient(config.MercadoPagoConfig{
		AccessToken:     "TEST-token",
		BaseURL:         url,
		Timeout:         2 * time.Second,
		NotificationURL: "https://api.example/webhooks/mercadopago",
		BackURL:         "https://app.example/inscripcion-2026",
		Mock:            mock,
	}, nil)
}

func TestGetPayment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payments/123", r.URL.Path)
		assert.Equal(t, "Bearer TEST-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":123,"status":"approved","transaction_amount":50000,"external_reference":"ref"}`))
	}))
	defer srv.Close()

	payment, err := newTestClient(srv.URL, false).GetPayment(context.Background(), "123")
	require.NoError(t, err)
	assert.Equal(t, OutcomeApproved, payment.Outcome())
	amount, err := payment.AmountUnits()
	require.NoError(t, err)
	assert.Equal(t, int64(50000), amount)
	assert.Equal(t, "ref", payment.ExternalReference)
}

func TestGetPaymentNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, false).GetPayment(context.Background(), "999")
	assert.ErrorIs(t, err, ErrPaymentNotFound)
}

func TestGetPaymentAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"invalid access token","error":"unauthorized","status":401}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, false).GetPayment(context.Background(), "1")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "invalid access token", apiErr.Message)
}

func TestCreatePreference(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/checkout/preferences", r.URL.Path)
		assert.Equal(t, "inscripcion2026-e1-tipo-COLONIA-pago-FEE", r.Header.Get("X-Idempotency-Key"))
		var body PreferenceRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "https://api.example/webhooks/mercadopago", body.NotificationURL)
		require.NotNil(t, body.BackURLs)
		assert.Equal(t, "https://app.example/inscripcion-2026/exito", body.BackURLs.Success)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"pref-1","init_point":"https://mp.example/checkout/pref-1"}`))
	}))
	defer srv.Close()

	pref, err := newTestClient(srv.URL, false).CreatePreference(context.Background(), PreferenceRequest{
		Items:             []Item{{Title: "Inscripción", Quantity: 1, CurrencyID: "ARS", UnitPrice: 25000}},
		ExternalReference: "inscripcion2026-e1-tipo-COLONIA-pago-FEE",
	})
	require.NoError(t, err)
	assert.Equal(t, "pref-1", pref.ID)
	assert.Equal(t, "https://mp.example/checkout/pref-1", pref.InitPoint)
}

func TestCreatePreferenceMock(t *testing.T) {
	client := newTestClient("http://127.0.0.1:1", true)
	pref, err := client.CreatePreference(context.Background(), PreferenceRequest{ExternalReference: "x"})
	require.NoError(t, err)
	assert.True(t, client.IsMock())
	assert.Contains(t, pref.ID, "MP-MOCK-")
}

func TestOutcomeMapping(t *testing.T) {
	cases := map[string]Outcome{
		"approved":     OutcomeApproved,
		"rejected":     OutcomeRejected,
		"cancelled":    OutcomeRejected,
		"refunded":     OutcomeRejected,
		"charged_back": OutcomeRejected,
		"in_process":   OutcomePending,
		"pending":      OutcomePending,
		"authorized":   OutcomePending,
		"":             OutcomePending,
	}
	for status, want := range cases {
		assert.Equal(t, want, Payment{Status: status}.Outcome(), status)
	}
}

func TestAmountUnitsRejectsFractions(t *testing.T) {
	_, err := Payment{TransactionAmount: 50000.5}.AmountUnits()
	assert.Error(t, err)
}
