package service

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/noah-isme/tutoring-enrollment-api/internal/models"
	appErrors "github.com/noah-isme/tutoring-enrollment-api/pkg/errors"
)

var externalReferencePattern = regexp.MustCompile(`^inscripcion2026-(.+)-tipo-(COLONIA|CICLO_2026|PACK_COMPLETO)-pago-(FEE|MONTHLY)$`)

// ExternalReference ties a gateway payment back to an enrollment charge.
type ExternalReference struct {
	EnrollmentID string
	Type         models.EnrollmentType
	Kind         models.PaymentKind
}

// String renders the reference sent to the gateway on checkout.
func (r ExternalReference) String() string {
	return fmt.Sprintf("inscripcion2026-%s-tipo-%s-pago-%s", r.EnrollmentID, r.Type, r.Kind)
}

// ParseExternalReference decodes the reference echoed back by the gateway.
func ParseExternalReference(raw string) (ExternalReference, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ExternalReference{}, appErrors.Clone(appErrors.ErrValidation, "Payment without external_reference")
	}
	m := externalReferencePattern.FindStringSubmatch(raw)
	if m == nil {
		return ExternalReference{}, appErrors.Clone(appErrors.ErrValidation, "Invalid external_reference format")
	}
	return ExternalReference{
		EnrollmentID: m[1],
		Type:         models.EnrollmentType(m[2]),
		Kind:         models.PaymentKind(m[3]),
	}, nil
}
