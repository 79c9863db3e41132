package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/tutoring-enrollment-api/internal/models"
	"github.com/noah-isme/tutoring-enrollment-api/pkg/database"
)

const enrollmentColumns = `id, type, status, guardian_id, guardian_name, guardian_email, guardian_phone, guardian_dni, inscription_fee, monthly_total, discount_percent, origin, city, created_at, updated_at`

const studentColumns = `id, enrollment_id, name, age, dni, world, user_id, pin, created_at`

// EnrollmentRepository manages enrollments, their students and course selections.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository creates a new repository instance.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// Create inserts the enrollment header.
func (r *EnrollmentRepository) Create(ctx context.Context, q database.Queryer, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	enrollment.CreatedAt = now
	enrollment.UpdatedAt = now

	const query = `INSERT INTO enrollments (` + enrollmentColumns + `)
VALUES (:id, :type, :status, :guardian_id, :guardian_name, :guardian_email, :guardian_phone, :guardian_dni, :inscription_fee, :monthly_total, :discount_percent, :origin, :city, :created_at, :updated_at)`
	if _, err := q.NamedExecContext(ctx, query, enrollment); err != nil {
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}

// CreateStudent inserts a student row of an enrollment.
func (r *EnrollmentRepository) CreateStudent(ctx context.Context, q database.Queryer, student *models.EnrollmentStudent) error {
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	student.CreatedAt = time.Now().UTC()

	const query = `INSERT INTO enrollment_students (` + studentColumns + `)
VALUES (:id, :enrollment_id, :name, :age, :dni, :world, :user_id, :pin, :created_at)`
	if _, err := q.NamedExecContext(ctx, query, student); err != nil {
		return fmt.Errorf("create enrollment student: %w", err)
	}
	return nil
}

// CreateCourse inserts a course selection.
func (r *EnrollmentRepository) CreateCourse(ctx context.Context, q database.Queryer, course *models.CourseSelection) error {
	if course.ID == "" {
		course.ID = uuid.NewString()
	}
	course.CreatedAt = time.Now().UTC()

	const query = `INSERT INTO enrollment_student_courses (id, enrollment_student_id, course_id, course_name, course_area, instructor, day_of_week, time_slot, base_price, created_at)
VALUES (:id, :enrollment_student_id, :course_id, :course_name, :course_area, :instructor, :day_of_week, :time_slot, :base_price, :created_at)`
	if _, err := q.NamedExecContext(ctx, query, course); err != nil {
		return fmt.Errorf("create course selection: %w", err)
	}
	return nil
}

// FindByID returns the enrollment header.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	const query = `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE id = $1`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get enrollment: %w", err)
	}
	return &enrollment, nil
}

// LockByID reads the enrollment row with FOR UPDATE inside q's transaction.
func (r *EnrollmentRepository) LockByID(ctx context.Context, q database.Queryer, id string) (*models.Enrollment, error) {
	const query = `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE id = $1 FOR UPDATE`
	var enrollment models.Enrollment
	if err := q.GetContext(ctx, &enrollment, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("lock enrollment: %w", err)
	}
	return &enrollment, nil
}

// FindDetail loads the enrollment with students, course selections and payments.
func (r *EnrollmentRepository) FindDetail(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	enrollment, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	students, err := r.ListStudents(ctx, r.db, id)
	if err != nil {
		return nil, err
	}
	courses, err := r.listCourses(ctx, id)
	if err != nil {
		return nil, err
	}

	const paymentsQuery = `SELECT ` + paymentColumns + ` FROM payments WHERE enrollment_id = $1 ORDER BY created_at`
	var payments []models.Payment
	if err := r.db.SelectContext(ctx, &payments, paymentsQuery, id); err != nil {
		return nil, fmt.Errorf("list enrollment payments: %w", err)
	}

	byStudent := make(map[string][]models.CourseSelection, len(students))
	for _, c := range courses {
		byStudent[c.EnrollmentStudentID] = append(byStudent[c.EnrollmentStudentID], c)
	}

	detail := &models.EnrollmentDetail{Enrollment: *enrollment, Payments: payments}
	detail.Students = make([]models.EnrollmentStudentDetail, len(students))
	for i, s := range students {
		detail.Students[i] = models.EnrollmentStudentDetail{EnrollmentStudent: s, Courses: byStudent[s.ID]}
	}
	return detail, nil
}

// ListStudents returns students in insertion order.
func (r *EnrollmentRepository) ListStudents(ctx context.Context, q database.Queryer, enrollmentID string) ([]models.EnrollmentStudent, error) {
	const query = `SELECT ` + studentColumns + ` FROM enrollment_students WHERE enrollment_id = $1 ORDER BY created_at, id`
	var students []models.EnrollmentStudent
	if err := q.SelectContext(ctx, &students, query, enrollmentID); err != nil {
		return nil, fmt.Errorf("list enrollment students: %w", err)
	}
	return students, nil
}

func (r *EnrollmentRepository) listCourses(ctx context.Context, enrollmentID string) ([]models.CourseSelection, error) {
	const query = `SELECT c.id, c.enrollment_student_id, c.course_id, c.course_name, c.course_area, c.instructor, c.day_of_week, c.time_slot, c.base_price, c.created_at
FROM enrollment_student_courses c
JOIN enrollment_students s ON s.id = c.enrollment_student_id
WHERE s.enrollment_id = $1
ORDER BY c.created_at, c.id`
	var courses []models.CourseSelection
	if err := r.db.SelectContext(ctx, &courses, query, enrollmentID); err != nil {
		return nil, fmt.Errorf("list course selections: %w", err)
	}
	return courses, nil
}

// UpdateStatus sets the enrollment status.
func (r *EnrollmentRepository) UpdateStatus(ctx context.Context, q database.Queryer, id string, status models.EnrollmentStatus) error {
	const query = `UPDATE enrollments SET status = $2, updated_at = $3 WHERE id = $1`
	res, err := q.ExecContext(ctx, query, id, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update enrollment status: %w", err)
	}
	return expectOneRow(res, "update enrollment status")
}

// AssignGuardian binds the provisioned guardian account.
func (r *EnrollmentRepository) AssignGuardian(ctx context.Context, q database.Queryer, id, guardianID string) error {
	const query = `UPDATE enrollments SET guardian_id = $2, updated_at = $3 WHERE id = $1`
	res, err := q.ExecContext(ctx, query, id, guardianID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("assign guardian: %w", err)
	}
	return expectOneRow(res, "assign guardian")
}

// AttachStudentAccount stores the student's account and PIN.
func (r *EnrollmentRepository) AttachStudentAccount(ctx context.Context, q database.Queryer, studentID, userID, pin string) error {
	const query = `UPDATE enrollment_students SET user_id = $2, pin = $3 WHERE id = $1 AND user_id IS NULL`
	res, err := q.ExecContext(ctx, query, studentID, userID, pin)
	if err != nil {
		return fmt.Errorf("attach student account: %w", err)
	}
	return expectOneRow(res, "attach student account")
}

// PinExists reports whether pin is already assigned to any student.
func (r *EnrollmentRepository) PinExists(ctx context.Context, q database.Queryer, pin string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM enrollment_students WHERE pin = $1)`
	var exists bool
	if err := q.GetContext(ctx, &exists, query, pin); err != nil {
		return false, fmt.Errorf("check pin: %w", err)
	}
	return exists, nil
}

// List returns enrollments matching filter with the total count.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, int, error) {
	var conditions []string
	var args []interface{}

	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		conditions = append(conditions, fmt.Sprintf("type = $%d", len(args)))
	}
	if filter.GuardianID != "" {
		args = append(args, filter.GuardianID)
		conditions = append(conditions, fmt.Sprintf("guardian_id = $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
		conditions = append(conditions, fmt.Sprintf("(LOWER(guardian_email) LIKE $%d OR LOWER(guardian_name) LIKE $%d)", len(args), len(args)))
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM enrollments"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}

	page, pageSize := normalisePage(filter.Page, filter.PageSize)
	args = append(args, pageSize, (page-1)*pageSize)
	query := fmt.Sprintf("SELECT %s FROM enrollments%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		enrollmentColumns, where, len(args)-1, len(args))

	var enrollments []models.Enrollment
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}
	return enrollments, total, nil
}

// ListStalePending returns pending enrollments created before cutoff.
func (r *EnrollmentRepository) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]models.Enrollment, error) {
	const query = `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE status = $1 AND created_at < $2 ORDER BY created_at LIMIT $3`
	var enrollments []models.Enrollment
	if err := r.db.SelectContext(ctx, &enrollments, query, models.EnrollmentStatusPending, cutoff, limit); err != nil {
		return nil, fmt.Errorf("list stale pending enrollments: %w", err)
	}
	return enrollments, nil
}

func normalisePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}

func expectOneRow(res sql.Result, op string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if affected == 0 {
		return fmt.Errorf("%s: %w", op, sql.ErrNoRows)
	}
	return nil
}
