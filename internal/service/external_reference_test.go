package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tutoring-enrollment-api/internal/models"
	appErrors "github.com/noah-isme/tutoring-enrollment-api/pkg/errors"
)

func TestExternalReferenceRoundTrip(t *testing.T) {
	ref := ExternalReference{EnrollmentID: "4b1c7a2e-9f0d-4e55-8a61-2f7d3c9b0e11", Type: models.EnrollmentTypePackCompleto, Kind: models.PaymentKindMonthly}
	raw := ref.String()
	assert.Equal(t, "inscripcion2026-4b1c7a2e-9f0d-4e55-8a61-2f7d3c9b0e11-tipo-PACK_COMPLETO-pago-MONTHLY", raw)

	parsed, err := ParseExternalReference(raw)
	require.NoError(t, err)
	assert.Equal(t, ref, parsed)
}

func TestParseExternalReferenceRejects(t *testing.T) {
	cases := map[string]string{
		"":    "Payment without external_reference",
		"   ": "Payment without external_reference",
		"inscripcion2026-abc-tipo-VERANO-pago-FEE":  "Invalid external_reference format",
		"inscripcion2026-abc-tipo-COLONIA-pago-ALL": "Invalid external_reference format",
		"inscripcion2026--tipo-COLONIA-pago-FEE":    "Invalid external_reference format",
		"order-12345":                               "Invalid external_reference format",
	}
	for raw, msg := range cases {
		_, err := ParseExternalReference(raw)
		require.Error(t, err, raw)
		appErr := appErrors.FromError(err)
		assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
		assert.Equal(t, msg, appErr.Message, raw)
	}
}
