package dto

import "github.com/noah-isme/tutoring-enrollment-api/internal/models"

// GuardianPayload identifies the paying guardian.
type GuardianPayload struct {
	Name  string  `json:"nombre" validate:"required,min=2,max=120"`
	Email string  `json:"email" validate:"required,email"`
	Phone *string `json:"telefono,omitempty" validate:"omitempty,max=30"`
	DNI   *string `json:"dni,omitempty" validate:"omitempty,max=20"`
	CUIL  *string `json:"cuil,omitempty" validate:"omitempty,max=20"`
}

// CourseSelectionPayload is one chosen summer camp course.
type CourseSelectionPayload struct {
	CourseID   string `json:"course_id" validate:"required"`
	CourseName string `json:"course_name" validate:"required"`
	CourseArea string `json:"course_area"`
	Instructor string `json:"instructor"`
	DayOfWeek  string `json:"day_of_week"`
	TimeSlot   string `json:"time_slot"`
}

// StudentSelection is the per-student part of an enrollment request.
type StudentSelection struct {
	Name    string                   `json:"nombre" validate:"required,min=2,max=120"`
	Age     int                      `json:"edad" validate:"required,min=3,max=18"`
	DNI     *string                  `json:"dni,omitempty" validate:"omitempty,max=20"`
	Courses []CourseSelectionPayload `json:"cursos_seleccionados,omitempty" validate:"omitempty,dive"`
	World   *models.World            `json:"mundo_seleccionado,omitempty" validate:"omitempty,oneof=MATEMATICA PROGRAMACION CIENCIAS"`
}

// EnrollmentRequest is the submission payload.
type EnrollmentRequest struct {
	Type     models.EnrollmentType `json:"tipo_inscripcion" validate:"required"`
	Guardian GuardianPayload       `json:"tutor" validate:"required"`
	Students []StudentSelection    `json:"estudiantes" validate:"required,min=1,max=10,dive"`
	Origin   *string               `json:"origen_inscripcion,omitempty"`
	City     *string               `json:"ciudad,omitempty"`
}

// Quote is the validated price breakdown for an enrollment.
type Quote struct {
	IsValid          bool  `json:"isValid"`
	InscripcionFee   int64 `json:"inscripcionFee"`
	MonthlyTotal     int64 `json:"monthlyTotal"`
	SiblingDiscount  int   `json:"siblingDiscount"`
	CursosPerStudent []int `json:"cursosPerStudent"`
}

// SubmitEnrollmentResponse is returned after an enrollment is created.
type SubmitEnrollmentResponse struct {
	EnrollmentID    string                  `json:"inscripcionId"`
	Status          models.EnrollmentStatus `json:"estado"`
	Quote           Quote                   `json:"pricing"`
	PreferenceID    string                  `json:"mercadopagoPreferenceId"`
	InitPoint       string                  `json:"mercadopagoInitPoint"`
	StudentsCreated int                     `json:"estudiantesCount"`
	CoursesSelected int                     `json:"cursosCount"`
	WorldsSelected  int                     `json:"mundosCount"`
}

// CheckoutResponse is returned when a new charge is opened on an enrollment.
type CheckoutResponse struct {
	EnrollmentID string             `json:"inscripcionId"`
	PaymentID    string             `json:"paymentId"`
	Kind         models.PaymentKind `json:"kind"`
	Amount       int64              `json:"amount"`
	PreferenceID string             `json:"mercadopagoPreferenceId"`
	InitPoint    string             `json:"mercadopagoInitPoint"`
}

// UpdateEnrollmentStatusRequest is used by admins to cancel or reject.
type UpdateEnrollmentStatusRequest struct {
	Status models.EnrollmentStatus `json:"status" validate:"required,oneof=cancelled rejected"`
	Reason string                  `json:"reason" validate:"required,min=3,max=500"`
}

// EnrollmentListQuery binds the admin listing query string.
type EnrollmentListQuery struct {
	Status   string `form:"status"`
	Type     string `form:"type"`
	Search   string `form:"search"`
	Page     int    `form:"page"`
	PageSize int    `form:"page_size"`
}
