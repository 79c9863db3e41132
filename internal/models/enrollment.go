package models

import "time"

// EnrollmentType selects which programs an enrollment covers.
type EnrollmentType string

// Supported enrollment types.
const (
	// EnrollmentTypeColonia covers summer camp courses only.
	EnrollmentTypeColonia EnrollmentType = "COLONIA"
	// EnrollmentTypeCiclo covers the monthly 2026 cycle only.
	EnrollmentTypeCiclo EnrollmentType = "CICLO_2026"
	// EnrollmentTypePackCompleto combines both.
	EnrollmentTypePackCompleto EnrollmentType = "PACK_COMPLETO"
)

// Valid reports whether t is one of the supported types.
func (t EnrollmentType) Valid() bool {
	switch t {
	case EnrollmentTypeColonia, EnrollmentTypeCiclo, EnrollmentTypePackCompleto:
		return true
	}
	return false
}

// EnrollmentStatus represents the lifecycle of an enrollment.
type EnrollmentStatus string

// Possible enrollment statuses.
const (
	EnrollmentStatusPending   EnrollmentStatus = "pending"
	EnrollmentStatusActive    EnrollmentStatus = "active"
	EnrollmentStatusCancelled EnrollmentStatus = "cancelled"
	EnrollmentStatusRejected  EnrollmentStatus = "rejected"
)

// IsTerminal reports whether no further transition is allowed.
func (s EnrollmentStatus) IsTerminal() bool {
	return s == EnrollmentStatusCancelled || s == EnrollmentStatusRejected
}

// World is the STEAM track chosen for the cycle.
type World string

// Available worlds.
const (
	WorldMatematica   World = "MATEMATICA"
	WorldProgramacion World = "PROGRAMACION"
	WorldCiencias     World = "CIENCIAS"
)

// Enrollment is one guardian's registration bundle for the program cycle.
type Enrollment struct {
	ID              string           `db:"id" json:"id"`
	Type            EnrollmentType   `db:"type" json:"type"`
	Status          EnrollmentStatus `db:"status" json:"status"`
	GuardianID      *string          `db:"guardian_id" json:"guardian_id,omitempty"`
	GuardianName    string           `db:"guardian_name" json:"guardian_name"`
	GuardianEmail   string           `db:"guardian_email" json:"guardian_email"`
	GuardianPhone   *string          `db:"guardian_phone" json:"guardian_phone,omitempty"`
	GuardianDNI     *string          `db:"guardian_dni" json:"guardian_dni,omitempty"`
	InscriptionFee  int64            `db:"inscription_fee" json:"inscription_fee"`
	MonthlyTotal    int64            `db:"monthly_total" json:"monthly_total"`
	DiscountPercent int              `db:"discount_percent" json:"discount_percent"`
	Origin          *string          `db:"origin" json:"origin,omitempty"`
	City            *string          `db:"city" json:"city,omitempty"`
	CreatedAt       time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time        `db:"updated_at" json:"updated_at"`
}

// EnrollmentStudent is a learner listed in an enrollment. Account fields are
// filled once the enrollment is activated.
type EnrollmentStudent struct {
	ID           string    `db:"id" json:"id"`
	EnrollmentID string    `db:"enrollment_id" json:"enrollment_id"`
	Name         string    `db:"name" json:"name"`
	Age          int       `db:"age" json:"age"`
	DNI          *string   `db:"dni" json:"dni,omitempty"`
	World        *World    `db:"world" json:"world,omitempty"`
	UserID       *string   `db:"user_id" json:"user_id,omitempty"`
	PIN          *string   `db:"pin" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// CourseSelection is a summer camp course chosen for a student.
type CourseSelection struct {
	ID                  string    `db:"id" json:"id"`
	EnrollmentStudentID string    `db:"enrollment_student_id" json:"enrollment_student_id"`
	CourseID            string    `db:"course_id" json:"course_id"`
	CourseName          string    `db:"course_name" json:"course_name"`
	CourseArea          string    `db:"course_area" json:"course_area"`
	Instructor          string    `db:"instructor" json:"instructor"`
	DayOfWeek           string    `db:"day_of_week" json:"day_of_week"`
	TimeSlot            string    `db:"time_slot" json:"time_slot"`
	BasePrice           int64     `db:"base_price" json:"base_price"`
	CreatedAt           time.Time `db:"created_at" json:"created_at"`
}

// EnrollmentStudentDetail bundles a student with their course selections.
type EnrollmentStudentDetail struct {
	EnrollmentStudent
	Courses []CourseSelection `json:"courses"`
}

// EnrollmentDetail is the full aggregate returned by detail endpoints.
type EnrollmentDetail struct {
	Enrollment
	Students []EnrollmentStudentDetail `json:"students"`
	Payments []Payment                 `json:"payments"`
}

// CoursesPerStudent counts course selections per student in listing order.
func (d *EnrollmentDetail) CoursesPerStudent() []int {
	counts := make([]int, len(d.Students))
	for i, s := range d.Students {
		counts[i] = len(s.Courses)
	}
	return counts
}

// StatusHistoryEntry is an immutable record of one status change.
type StatusHistoryEntry struct {
	ID             string           `db:"id" json:"id"`
	EnrollmentID   string           `db:"enrollment_id" json:"enrollment_id"`
	PreviousStatus string           `db:"previous_status" json:"previous_status"`
	NewStatus      EnrollmentStatus `db:"new_status" json:"new_status"`
	Reason         string           `db:"reason" json:"reason"`
	PerformedBy    string           `db:"performed_by" json:"performed_by"`
	CreatedAt      time.Time        `db:"created_at" json:"created_at"`
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	Status     EnrollmentStatus
	Type       EnrollmentType
	GuardianID string
	Search     string
	Page       int
	PageSize   int
}
