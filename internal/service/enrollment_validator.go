package service

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/tutoring-enrollment-api/internal/dto"
	"github.com/noah-isme/tutoring-enrollment-api/internal/models"
	appErrors "github.com/noah-isme/tutoring-enrollment-api/pkg/errors"
)

// EnrollmentValidator enforces the per-type selection rules and prices the
// enrollment.
type EnrollmentValidator struct {
	pricing  *PricingService
	validate *validator.Validate
}

// NewEnrollmentValidator constructs the validator.
func NewEnrollmentValidator(pricing *PricingService, validate *validator.Validate) *EnrollmentValidator {
	if pricing == nil {
		pricing = NewPricingService(DefaultPriceTable())
	}
	if validate == nil {
		validate = validator.New()
	}
	return &EnrollmentValidator{pricing: pricing, validate: validate}
}

// Validate checks req and returns its quote. The first offending student
// stops validation; errors are not aggregated.
func (v *EnrollmentValidator) Validate(req dto.EnrollmentRequest) (*dto.Quote, error) {
	if !req.Type.Valid() {
		return nil, appErrors.ErrInvalidEnrollmentType
	}
	if err := v.validate.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}
	if err := v.CheckStructure(req.Type, req.Students); err != nil {
		return nil, err
	}

	coursesPerStudent := make([]int, len(req.Students))
	for i, student := range req.Students {
		coursesPerStudent[i] = len(student.Courses)
	}
	quote := v.QuoteFor(req.Type, coursesPerStudent)
	return &quote, nil
}

// CheckStructure applies the selection rules for enrollmentType to each
// student, reporting the 1-based position of the first violation.
func (v *EnrollmentValidator) CheckStructure(enrollmentType models.EnrollmentType, students []dto.StudentSelection) error {
	if !enrollmentType.Valid() {
		return appErrors.ErrInvalidEnrollmentType
	}
	for i, student := range students {
		if msg := structureViolation(enrollmentType, len(student.Courses) > 0, hasWorld(student.World)); msg != "" {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("Estudiante %d: %s", i+1, msg))
		}
	}
	return nil
}

// QuoteFor prices an enrollment of the given shape. The type must be valid.
func (v *EnrollmentValidator) QuoteFor(enrollmentType models.EnrollmentType, coursesPerStudent []int) dto.Quote {
	total := v.pricing.TotalForEnrollment(enrollmentType, len(coursesPerStudent), coursesPerStudent)
	return dto.Quote{
		IsValid:          true,
		InscripcionFee:   v.pricing.FeeForType(enrollmentType),
		MonthlyTotal:     total.Total,
		SiblingDiscount:  total.DiscountPercent,
		CursosPerStudent: coursesPerStudent,
	}
}

func structureViolation(enrollmentType models.EnrollmentType, hasCourses, world bool) string {
	switch enrollmentType {
	case models.EnrollmentTypeColonia:
		if !hasCourses {
			return "Debe seleccionar al menos 1 curso de Colonia"
		}
		if world {
			return "No debe seleccionar mundo STEAM para Colonia"
		}
	case models.EnrollmentTypeCiclo:
		if !world {
			return "Debe seleccionar un mundo STEAM para Ciclo 2026"
		}
		if hasCourses {
			return "No debe seleccionar cursos de Colonia para Ciclo 2026"
		}
	case models.EnrollmentTypePackCompleto:
		if !hasCourses {
			return "Debe seleccionar al menos 1 curso de Colonia para Pack Completo"
		}
		if !world {
			return "Debe seleccionar un mundo STEAM para Pack Completo"
		}
	}
	return ""
}

func hasWorld(world *models.World) bool {
	return world != nil && *world != ""
}
