package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/noah-isme/tutoring-enrollment-api/internal/models"
	"github.com/noah-isme/tutoring-enrollment-api/internal/repository"
	"github.com/noah-isme/tutoring-enrollment-api/pkg/database"
)

// fakeQueryer stands in for a transaction handle; the fake store ignores it.
type fakeQueryer struct{ database.Queryer }

type storeState struct {
	enrollments map[string]models.Enrollment
	students    []models.EnrollmentStudent
	courses     []models.CourseSelection
	payments    []models.Payment
	history     []models.StatusHistoryEntry
	users       []models.User
}

func (s storeState) clone() storeState {
	out := storeState{
		enrollments: make(map[string]models.Enrollment, len(s.enrollments)),
		students:    append([]models.EnrollmentStudent(nil), s.students...),
		courses:     append([]models.CourseSelection(nil), s.courses...),
		payments:    append([]models.Payment(nil), s.payments...),
		history:     append([]models.StatusHistoryEntry(nil), s.history...),
		users:       append([]models.User(nil), s.users...),
	}
	for k, v := range s.enrollments {
		out.enrollments[k] = v
	}
	return out
}

// fakeStore is an in-memory database with serialised, all-or-nothing
// transactions and the unique constraints the settlement relies on.
type fakeStore struct {
	txMu  sync.Mutex
	mu    sync.Mutex
	state storeState

	// failOn makes the named operation fail inside a transaction.
	failOn  string
	commits int
	aborts  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{state: storeState{enrollments: map[string]models.Enrollment{}}}
}

func (s *fakeStore) WithinTransaction(ctx context.Context, fn func(q database.Queryer) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.state.clone()
	s.mu.Unlock()

	if err := fn(fakeQueryer{}); err != nil {
		s.mu.Lock()
		s.state = snapshot
		s.aborts++
		s.mu.Unlock()
		return err
	}
	s.mu.Lock()
	s.commits++
	s.mu.Unlock()
	return nil
}

func (s *fakeStore) fail(op string) error {
	if s.failOn == op {
		return fmt.Errorf("%s: simulated failure", op)
	}
	return nil
}

// seedEnrollment stores a pending enrollment with one student per entry of
// coursesPerStudent and a pending FEE payment.
func (s *fakeStore) seedEnrollment(t models.EnrollmentType, email string, coursesPerStudent []int, worlds bool) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	now := time.Now().UTC().Add(-time.Hour)
	s.state.enrollments[id] = models.Enrollment{
		ID: id, Type: t, Status: models.EnrollmentStatusPending,
		GuardianName: "Laura Gómez", GuardianEmail: email,
		CreatedAt: now, UpdatedAt: now,
	}
	names := []string{"Tomás Gómez", "Lucía Gómez", "Martín Gómez", "Sofía Gómez"}
	for i, n := range coursesPerStudent {
		st := models.EnrollmentStudent{ID: uuid.NewString(), EnrollmentID: id, Name: names[i%len(names)], Age: 8 + i, CreatedAt: now.Add(time.Duration(i) * time.Second)}
		if worlds {
			w := models.WorldCiencias
			st.World = &w
		}
		s.state.students = append(s.state.students, st)
		for c := 0; c < n; c++ {
			s.state.courses = append(s.state.courses, models.CourseSelection{
				ID: uuid.NewString(), EnrollmentStudentID: st.ID, CourseID: fmt.Sprintf("c%d", c), CourseName: "Robótica", BasePrice: 55000,
			})
		}
	}
	pref := "pref-" + id
	s.state.payments = append(s.state.payments, models.Payment{
		ID: uuid.NewString(), EnrollmentID: id, Kind: models.PaymentKindFee, Status: models.PaymentStatusPending, PreferenceID: &pref, CreatedAt: now,
	})
	return id
}

func (s *fakeStore) enrollment(id string) models.Enrollment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.enrollments[id]
}

func (s *fakeStore) historyFor(id string) []models.StatusHistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.StatusHistoryEntry
	for _, h := range s.state.history {
		if h.EnrollmentID == id {
			out = append(out, h)
		}
	}
	return out
}

func (s *fakeStore) paymentsFor(id string) []models.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Payment
	for _, p := range s.state.payments {
		if p.EnrollmentID == id {
			out = append(out, p)
		}
	}
	return out
}

func (s *fakeStore) studentsOf(id string) []models.EnrollmentStudent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.EnrollmentStudent
	for _, st := range s.state.students {
		if st.EnrollmentID == id {
			out = append(out, st)
		}
	}
	return out
}

func (s *fakeStore) usersByRole(role models.UserRole) []models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.User
	for _, u := range s.state.users {
		if u.Role == role {
			out = append(out, u)
		}
	}
	return out
}

// fakePayments implements the payment repository views.
type fakePayments struct{ *fakeStore }

func (p fakePayments) FindByExternalID(ctx context.Context, externalID string) (*models.Payment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, pay := range p.state.payments {
		if pay.ExternalPaymentID != nil && *pay.ExternalPaymentID == externalID {
			found := pay
			return &found, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (p fakePayments) LockPending(ctx context.Context, q database.Queryer, enrollmentID string, kind models.PaymentKind) (*models.Payment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.state.payments) - 1; i >= 0; i-- {
		pay := p.state.payments[i]
		if pay.EnrollmentID == enrollmentID && pay.Kind == kind && pay.Status == models.PaymentStatusPending && pay.ExternalPaymentID == nil {
			return &pay, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (p fakePayments) uniqueExternal(id string, external *string) error {
	if external == nil {
		return nil
	}
	for _, pay := range p.state.payments {
		if pay.ID != id && pay.ExternalPaymentID != nil && *pay.ExternalPaymentID == *external {
			return fmt.Errorf("create payment: %w", &pq.Error{Code: database.UniqueViolation, Constraint: repository.ExternalPaymentIDConstraint})
		}
	}
	return nil
}

func (p fakePayments) Create(ctx context.Context, q database.Queryer, payment *models.Payment) error {
	if err := p.fail("payments.Create"); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}
	if err := p.uniqueExternal(payment.ID, payment.ExternalPaymentID); err != nil {
		return err
	}
	payment.CreatedAt = time.Now().UTC()
	p.state.payments = append(p.state.payments, *payment)
	return nil
}

func (p fakePayments) Settle(ctx context.Context, q database.Queryer, payment *models.Payment) error {
	if err := p.fail("payments.Settle"); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.uniqueExternal(payment.ID, payment.ExternalPaymentID); err != nil {
		return err
	}
	for i := range p.state.payments {
		if p.state.payments[i].ID == payment.ID && p.state.payments[i].Status == models.PaymentStatusPending {
			p.state.payments[i] = *payment
			return nil
		}
	}
	return sql.ErrNoRows
}

// fakeEnrollments implements the enrollment repository views.
type fakeEnrollments struct{ *fakeStore }

func (e fakeEnrollments) Create(ctx context.Context, q database.Queryer, enrollment *models.Enrollment) error {
	if err := e.fail("enrollments.Create"); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	enrollment.CreatedAt = time.Now().UTC()
	enrollment.UpdatedAt = enrollment.CreatedAt
	e.state.enrollments[enrollment.ID] = *enrollment
	return nil
}

func (e fakeEnrollments) CreateStudent(ctx context.Context, q database.Queryer, student *models.EnrollmentStudent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	student.CreatedAt = time.Now().UTC()
	e.state.students = append(e.state.students, *student)
	return nil
}

func (e fakeEnrollments) CreateCourse(ctx context.Context, q database.Queryer, course *models.CourseSelection) error {
	if err := e.fail("enrollments.CreateCourse"); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if course.ID == "" {
		course.ID = uuid.NewString()
	}
	e.state.courses = append(e.state.courses, *course)
	return nil
}

func (e fakeEnrollments) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	en, ok := e.state.enrollments[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &en, nil
}

func (e fakeEnrollments) LockByID(ctx context.Context, q database.Queryer, id string) (*models.Enrollment, error) {
	return e.FindByID(ctx, id)
}

func (e fakeEnrollments) FindDetail(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	en, ok := e.state.enrollments[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	detail := &models.EnrollmentDetail{Enrollment: en}
	for _, st := range e.state.students {
		if st.EnrollmentID != id {
			continue
		}
		sd := models.EnrollmentStudentDetail{EnrollmentStudent: st}
		for _, c := range e.state.courses {
			if c.EnrollmentStudentID == st.ID {
				sd.Courses = append(sd.Courses, c)
			}
		}
		detail.Students = append(detail.Students, sd)
	}
	for _, p := range e.state.payments {
		if p.EnrollmentID == id {
			detail.Payments = append(detail.Payments, p)
		}
	}
	return detail, nil
}

func (e fakeEnrollments) UpdateStatus(ctx context.Context, q database.Queryer, id string, status models.EnrollmentStatus) error {
	if err := e.fail("enrollments.UpdateStatus"); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	en, ok := e.state.enrollments[id]
	if !ok {
		return sql.ErrNoRows
	}
	en.Status = status
	en.UpdatedAt = time.Now().UTC()
	e.state.enrollments[id] = en
	return nil
}

func (e fakeEnrollments) AssignGuardian(ctx context.Context, q database.Queryer, id, guardianID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	en, ok := e.state.enrollments[id]
	if !ok {
		return sql.ErrNoRows
	}
	en.GuardianID = &guardianID
	e.state.enrollments[id] = en
	return nil
}

func (e fakeEnrollments) ListStudents(ctx context.Context, q database.Queryer, enrollmentID string) ([]models.EnrollmentStudent, error) {
	return e.studentsOf(enrollmentID), nil
}

func (e fakeEnrollments) AttachStudentAccount(ctx context.Context, q database.Queryer, studentID, userID, pin string) error {
	if err := e.fail("enrollments.AttachStudentAccount"); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, st := range e.state.students {
		if st.PIN != nil && *st.PIN == pin {
			return &pq.Error{Code: database.UniqueViolation, Constraint: "enrollment_students_pin_key"}
		}
	}
	for i := range e.state.students {
		if e.state.students[i].ID == studentID && e.state.students[i].UserID == nil {
			e.state.students[i].UserID = &userID
			e.state.students[i].PIN = &pin
			return nil
		}
	}
	return sql.ErrNoRows
}

func (e fakeEnrollments) PinExists(ctx context.Context, q database.Queryer, pin string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, st := range e.state.students {
		if st.PIN != nil && *st.PIN == pin {
			return true, nil
		}
	}
	return false, nil
}

func (e fakeEnrollments) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var all []models.Enrollment
	for _, en := range e.state.enrollments {
		if filter.Status != "" && en.Status != filter.Status {
			continue
		}
		if filter.GuardianID != "" && (en.GuardianID == nil || *en.GuardianID != filter.GuardianID) {
			continue
		}
		if filter.Search != "" && !strings.Contains(strings.ToLower(en.GuardianEmail), strings.ToLower(filter.Search)) {
			continue
		}
		all = append(all, en)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	start := (filter.Page - 1) * filter.PageSize
	if start > len(all) {
		start = len(all)
	}
	end := start + filter.PageSize
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], len(all), nil
}

func (e fakeEnrollments) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]models.Enrollment, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []models.Enrollment
	for _, en := range e.state.enrollments {
		if en.Status == models.EnrollmentStatusPending && en.CreatedAt.Before(cutoff) && len(out) < limit {
			out = append(out, en)
		}
	}
	return out, nil
}

// fakeHistory implements the status history repository.
type fakeHistory struct{ *fakeStore }

func (h fakeHistory) Append(ctx context.Context, q database.Queryer, entry *models.StatusHistoryEntry) error {
	if err := h.fail("history.Append"); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	entry.ID = uuid.NewString()
	entry.CreatedAt = time.Now().UTC()
	h.state.history = append(h.state.history, *entry)
	return nil
}

func (h fakeHistory) ListByEnrollment(ctx context.Context, enrollmentID string) ([]models.StatusHistoryEntry, error) {
	return h.historyFor(enrollmentID), nil
}

// fakeUsers implements the account repository with unique email and username.
type fakeUsers struct{ *fakeStore }

func (u fakeUsers) FindByEmail(ctx context.Context, q database.Queryer, email string) (*models.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, user := range u.state.users {
		if user.Email != nil && *user.Email == email {
			found := user
			return &found, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (u fakeUsers) UsernameExists(ctx context.Context, q database.Queryer, username string) (bool, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, user := range u.state.users {
		if user.Username == username {
			return true, nil
		}
	}
	return false, nil
}

func (u fakeUsers) Create(ctx context.Context, q database.Queryer, user *models.User) error {
	if err := u.fail("users.Create"); err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, existing := range u.state.users {
		if existing.Email != nil && user.Email != nil && *existing.Email == *user.Email {
			return &pq.Error{Code: database.UniqueViolation, Constraint: "users_email_key"}
		}
		if existing.Username == user.Username {
			return &pq.Error{Code: database.UniqueViolation, Constraint: "users_username_key"}
		}
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	u.state.users = append(u.state.users, *user)
	return nil
}

func (u fakeUsers) add(user models.User) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.state.users = append(u.state.users, user)
}
