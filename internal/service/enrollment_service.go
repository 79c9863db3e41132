package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/tutoring-enrollment-api/internal/dto"
	"github.com/noah-isme/tutoring-enrollment-api/internal/models"
	"github.com/noah-isme/tutoring-enrollment-api/pkg/database"
	appErrors "github.com/noah-isme/tutoring-enrollment-api/pkg/errors"
	"github.com/noah-isme/tutoring-enrollment-api/pkg/gateway/mercadopago"
)

const (
	// SystemActor is recorded on history entries written by the service itself.
	SystemActor = "system"
	// SweeperActor is recorded when a stale enrollment expires.
	SweeperActor = "system-sweeper"

	currencyARS = "ARS"
)

// CheckoutGateway opens hosted checkout sessions.
type CheckoutGateway interface {
	CreatePreference(ctx context.Context, req mercadopago.PreferenceRequest) (*mercadopago.Preference, error)
}

type enrollmentRepository interface {
	Create(ctx context.Context, q database.Queryer, enrollment *models.Enrollment) error
	CreateStudent(ctx context.Context, q database.Queryer, student *models.EnrollmentStudent) error
	CreateCourse(ctx context.Context, q database.Queryer, course *models.CourseSelection) error
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	FindDetail(ctx context.Context, id string) (*models.EnrollmentDetail, error)
	LockByID(ctx context.Context, q database.Queryer, id string) (*models.Enrollment, error)
	UpdateStatus(ctx context.Context, q database.Queryer, id string, status models.EnrollmentStatus) error
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, int, error)
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]models.Enrollment, error)
}

type paymentWriter interface {
	Create(ctx context.Context, q database.Queryer, payment *models.Payment) error
}

type statusHistoryRepository interface {
	Append(ctx context.Context, q database.Queryer, entry *models.StatusHistoryEntry) error
	ListByEnrollment(ctx context.Context, enrollmentID string) ([]models.StatusHistoryEntry, error)
}

// EnrollmentList is one page of enrollments.
type EnrollmentList struct {
	Items      []models.Enrollment `json:"items"`
	Pagination models.Pagination   `json:"pagination"`
}

// EnrollmentService handles submission, reads and administrative changes.
type EnrollmentService struct {
	repo      enrollmentRepository
	payments  paymentWriter
	history   statusHistoryRepository
	tx        TxRunner
	gateway   CheckoutGateway
	validator *EnrollmentValidator
	pricing   *PricingService
	validate  *validator.Validate
	cache     *CacheService
	metrics   *MetricsService
	logger    *zap.Logger
}

// EnrollmentDeps groups the collaborators of EnrollmentService.
type EnrollmentDeps struct {
	Repo      enrollmentRepository
	Payments  paymentWriter
	History   statusHistoryRepository
	Tx        TxRunner
	Gateway   CheckoutGateway
	Validator *EnrollmentValidator
	Pricing   *PricingService
	Validate  *validator.Validate
	Cache     *CacheService
	Metrics   *MetricsService
	Logger    *zap.Logger
}

// NewEnrollmentService constructs the service.
func NewEnrollmentService(deps EnrollmentDeps) *EnrollmentService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	validate := deps.Validate
	if validate == nil {
		validate = validator.New()
	}
	return &EnrollmentService{
		repo:      deps.Repo,
		payments:  deps.Payments,
		history:   deps.History,
		tx:        deps.Tx,
		gateway:   deps.Gateway,
		validator: deps.Validator,
		pricing:   deps.Pricing,
		validate:  validate,
		cache:     deps.Cache,
		metrics:   deps.Metrics,
		logger:    logger,
	}
}

// Quote validates a proposed enrollment and prices it without persisting.
func (s *EnrollmentService) Quote(req dto.EnrollmentRequest) (*dto.Quote, error) {
	return s.validator.Validate(req)
}

// Submit validates and prices the request, opens the fee checkout and
// persists the pending enrollment in one transaction.
func (s *EnrollmentService) Submit(ctx context.Context, req dto.EnrollmentRequest) (*dto.SubmitEnrollmentResponse, error) {
	quote, err := s.validator.Validate(req)
	if err != nil {
		return nil, err
	}

	enrollmentID := uuid.NewString()
	ref := ExternalReference{EnrollmentID: enrollmentID, Type: req.Type, Kind: models.PaymentKindFee}
	email := NormalizeEmail(req.Guardian.Email)

	pref, err := s.gateway.CreatePreference(ctx, mercadopago.PreferenceRequest{
		Items: []mercadopago.Item{{
			ID:         string(req.Type),
			Title:      fmt.Sprintf("Inscripción 2026 - %s", typeLabel(req.Type)),
			Quantity:   1,
			CurrencyID: currencyARS,
			UnitPrice:  float64(quote.InscripcionFee),
		}},
		Payer:             &mercadopago.Payer{Name: req.Guardian.Name, Email: email},
		ExternalReference: ref.String(),
	})
	if err != nil {
		s.logger.Error("checkout preference failed", zap.String("enrollment_id", enrollmentID), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrGateway.Code, appErrors.ErrGateway.Status, appErrors.ErrGateway.Message)
	}

	totalCourses := 0
	for _, n := range quote.CursosPerStudent {
		totalCourses += n
	}
	coursePrice := s.pricing.CoursePrice(len(req.Students), totalCourses)

	worlds := 0
	err = s.tx.WithinTransaction(ctx, func(q database.Queryer) error {
		enrollment := &models.Enrollment{
			ID:              enrollmentID,
			Type:            req.Type,
			Status:          models.EnrollmentStatusPending,
			GuardianName:    strings.TrimSpace(req.Guardian.Name),
			GuardianEmail:   email,
			GuardianPhone:   req.Guardian.Phone,
			GuardianDNI:     req.Guardian.DNI,
			InscriptionFee:  quote.InscripcionFee,
			MonthlyTotal:    quote.MonthlyTotal,
			DiscountPercent: quote.SiblingDiscount,
			Origin:          req.Origin,
			City:            req.City,
		}
		if err := s.repo.Create(ctx, q, enrollment); err != nil {
			return err
		}

		for _, st := range req.Students {
			student := &models.EnrollmentStudent{
				EnrollmentID: enrollmentID,
				Name:         strings.TrimSpace(st.Name),
				Age:          st.Age,
				DNI:          st.DNI,
				World:        st.World,
			}
			if hasWorld(st.World) {
				worlds++
			} else {
				student.World = nil
			}
			if err := s.repo.CreateStudent(ctx, q, student); err != nil {
				return err
			}
			for _, c := range st.Courses {
				if err := s.repo.CreateCourse(ctx, q, &models.CourseSelection{
					EnrollmentStudentID: student.ID,
					CourseID:            c.CourseID,
					CourseName:          c.CourseName,
					CourseArea:          c.CourseArea,
					Instructor:          c.Instructor,
					DayOfWeek:           c.DayOfWeek,
					TimeSlot:            c.TimeSlot,
					BasePrice:           coursePrice,
				}); err != nil {
					return err
				}
			}
		}

		if err := s.payments.Create(ctx, q, &models.Payment{
			EnrollmentID: enrollmentID,
			Kind:         models.PaymentKindFee,
			Amount:       quote.InscripcionFee,
			Status:       models.PaymentStatusPending,
			PreferenceID: &pref.ID,
		}); err != nil {
			return err
		}

		return s.history.Append(ctx, q, &models.StatusHistoryEntry{
			EnrollmentID:   enrollmentID,
			PreviousStatus: "none",
			NewStatus:      models.EnrollmentStatusPending,
			Reason:         "Inscripción creada",
			PerformedBy:    SystemActor,
		})
	})
	if err != nil {
		s.logger.Error("enrollment submission rolled back", zap.String("enrollment_id", enrollmentID), zap.Error(err))
		return nil, err
	}

	s.cache.InvalidateEnrollment(ctx, enrollmentID)
	s.logger.Info("enrollment submitted",
		zap.String("enrollment_id", enrollmentID),
		zap.String("type", string(req.Type)),
		zap.Int("students", len(req.Students)),
		zap.Int64("fee", quote.InscripcionFee))

	return &dto.SubmitEnrollmentResponse{
		EnrollmentID:    enrollmentID,
		Status:          models.EnrollmentStatusPending,
		Quote:           *quote,
		PreferenceID:    pref.ID,
		InitPoint:       pref.InitPoint,
		StudentsCreated: len(req.Students),
		CoursesSelected: totalCourses,
		WorldsSelected:  worlds,
	}, nil
}

// Get returns the enrollment aggregate. Guardians only see their own.
func (s *EnrollmentService) Get(ctx context.Context, id string, claims *models.JWTClaims) (*models.EnrollmentDetail, bool, error) {
	detail, hit, err := s.detail(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if err := authorizeEnrollment(&detail.Enrollment, claims); err != nil {
		return nil, false, err
	}
	return detail, hit, nil
}

func (s *EnrollmentService) detail(ctx context.Context, id string) (*models.EnrollmentDetail, bool, error) {
	key := EnrollmentDetailKey(id)
	var cached models.EnrollmentDetail
	if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
		return &cached, true, nil
	}

	detail, err := s.repo.FindDetail(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, appErrors.Clone(appErrors.ErrNotFound, "Inscripción no encontrada")
		}
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	// A pending row can be settled between this read and the write below.
	if detail.Status != models.EnrollmentStatusPending {
		_ = s.cache.Set(ctx, key, detail, 0)
	}
	return detail, false, nil
}

// List returns a filtered page of enrollments.
func (s *EnrollmentService) List(ctx context.Context, filter models.EnrollmentFilter) (*EnrollmentList, error) {
	if filter.Status != "" && !validStatus(filter.Status) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid status filter")
	}
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, appErrors.ErrInvalidEnrollmentType
	}
	page, pageSize := normalisePagination(filter.Page, filter.PageSize)
	filter.Page, filter.PageSize = page, pageSize

	key := fmt.Sprintf("enrollments:list:%s:%s:%s:%s:%d:%d", filter.Status, filter.Type, filter.GuardianID, strings.ToLower(filter.Search), page, pageSize)
	var cached EnrollmentList
	if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
		return &cached, nil
	}

	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	if items == nil {
		items = []models.Enrollment{}
	}
	list := &EnrollmentList{Items: items, Pagination: models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}}
	_ = s.cache.Set(ctx, key, list, 0)
	return list, nil
}

// History returns the audit trail of an enrollment.
func (s *EnrollmentService) History(ctx context.Context, id string, claims *models.JWTClaims) ([]models.StatusHistoryEntry, error) {
	enrollment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "Inscripción no encontrada")
		}
		return nil, err
	}
	if err := authorizeEnrollment(enrollment, claims); err != nil {
		return nil, err
	}
	entries, err := s.history.ListByEnrollment(ctx, id)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []models.StatusHistoryEntry{}
	}
	return entries, nil
}

// UpdateStatus cancels or rejects an enrollment on behalf of an admin.
func (s *EnrollmentService) UpdateStatus(ctx context.Context, id string, req dto.UpdateEnrollmentStatusRequest, actorID string) (*models.Enrollment, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid status payload")
	}

	var updated *models.Enrollment
	err := s.tx.WithinTransaction(ctx, func(q database.Queryer) error {
		enrollment, err := s.repo.LockByID(ctx, q, id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "Inscripción no encontrada")
			}
			return err
		}
		if !canTransition(enrollment.Status, req.Status) {
			return appErrors.Clone(appErrors.ErrInvalidTransition,
				fmt.Sprintf("cannot change status from %s to %s", enrollment.Status, req.Status))
		}
		if err := s.repo.UpdateStatus(ctx, q, id, req.Status); err != nil {
			return err
		}
		if err := s.history.Append(ctx, q, &models.StatusHistoryEntry{
			EnrollmentID:   id,
			PreviousStatus: string(enrollment.Status),
			NewStatus:      req.Status,
			Reason:         strings.TrimSpace(req.Reason),
			PerformedBy:    actorID,
		}); err != nil {
			return err
		}
		enrollment.Status = req.Status
		updated = enrollment
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cache.InvalidateEnrollment(ctx, id)
	s.logger.Info("enrollment status changed by admin",
		zap.String("enrollment_id", id), zap.String("status", string(req.Status)), zap.String("actor", actorID))
	return updated, nil
}

// OpenMonthlyCheckout opens a checkout for the recurring charge of an active
// enrollment.
func (s *EnrollmentService) OpenMonthlyCheckout(ctx context.Context, id string, claims *models.JWTClaims) (*dto.CheckoutResponse, error) {
	detail, _, err := s.detail(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorizeEnrollment(&detail.Enrollment, claims); err != nil {
		return nil, err
	}
	if detail.Status != models.EnrollmentStatusActive {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "monthly checkout requires an active enrollment")
	}
	quote := s.validator.QuoteFor(detail.Type, detail.CoursesPerStudent())
	if quote.MonthlyTotal <= 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "enrollment has no monthly charge")
	}

	ref := ExternalReference{EnrollmentID: id, Type: detail.Type, Kind: models.PaymentKindMonthly}
	pref, err := s.gateway.CreatePreference(ctx, mercadopago.PreferenceRequest{
		Items: []mercadopago.Item{{
			ID:         string(models.PaymentKindMonthly),
			Title:      fmt.Sprintf("Cuota mensual - %s", typeLabel(detail.Type)),
			Quantity:   1,
			CurrencyID: currencyARS,
			UnitPrice:  float64(quote.MonthlyTotal),
		}},
		Payer:             &mercadopago.Payer{Name: detail.GuardianName, Email: detail.GuardianEmail},
		ExternalReference: ref.String(),
		IdempotencyKey:    uuid.NewString(),
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrGateway.Code, appErrors.ErrGateway.Status, appErrors.ErrGateway.Message)
	}

	payment := &models.Payment{
		EnrollmentID: id,
		Kind:         models.PaymentKindMonthly,
		Amount:       quote.MonthlyTotal,
		Status:       models.PaymentStatusPending,
		PreferenceID: &pref.ID,
	}
	if err := s.tx.WithinTransaction(ctx, func(q database.Queryer) error {
		return s.payments.Create(ctx, q, payment)
	}); err != nil {
		return nil, err
	}
	s.cache.InvalidateEnrollment(ctx, id)

	return &dto.CheckoutResponse{
		EnrollmentID: id,
		PaymentID:    payment.ID,
		Kind:         payment.Kind,
		Amount:       payment.Amount,
		PreferenceID: pref.ID,
		InitPoint:    pref.InitPoint,
	}, nil
}

// ExpireStale cancels pending enrollments created before cutoff and returns
// how many changed.
func (s *EnrollmentService) ExpireStale(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	stale, err := s.repo.ListStalePending(ctx, cutoff, limit)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, candidate := range stale {
		changed := false
		err := s.tx.WithinTransaction(ctx, func(q database.Queryer) error {
			enrollment, err := s.repo.LockByID(ctx, q, candidate.ID)
			if err != nil {
				return err
			}
			if enrollment.Status != models.EnrollmentStatusPending {
				return nil
			}
			if err := s.repo.UpdateStatus(ctx, q, enrollment.ID, models.EnrollmentStatusCancelled); err != nil {
				return err
			}
			changed = true
			return s.history.Append(ctx, q, &models.StatusHistoryEntry{
				EnrollmentID:   enrollment.ID,
				PreviousStatus: string(models.EnrollmentStatusPending),
				NewStatus:      models.EnrollmentStatusCancelled,
				Reason:         "Inscripción vencida sin pago",
				PerformedBy:    SweeperActor,
			})
		})
		if err != nil {
			s.logger.Error("expire enrollment failed", zap.String("enrollment_id", candidate.ID), zap.Error(err))
			return expired, err
		}
		if changed {
			expired++
			s.cache.InvalidateEnrollment(ctx, candidate.ID)
		}
	}
	s.metrics.RecordExpired(expired)
	return expired, nil
}

func authorizeEnrollment(enrollment *models.Enrollment, claims *models.JWTClaims) error {
	if claims == nil {
		return appErrors.ErrUnauthorized
	}
	if claims.Role == models.RoleAdmin {
		return nil
	}
	if claims.Role == models.RoleGuardian && enrollment.GuardianID != nil && *enrollment.GuardianID == claims.UserID {
		return nil
	}
	return appErrors.ErrForbidden
}

func canTransition(from, to models.EnrollmentStatus) bool {
	switch from {
	case models.EnrollmentStatusPending:
		return to == models.EnrollmentStatusCancelled || to == models.EnrollmentStatusRejected
	case models.EnrollmentStatusActive:
		return to == models.EnrollmentStatusCancelled
	}
	return false
}

func validStatus(status models.EnrollmentStatus) bool {
	switch status {
	case models.EnrollmentStatusPending, models.EnrollmentStatusActive, models.EnrollmentStatusCancelled, models.EnrollmentStatusRejected:
		return true
	}
	return false
}

func normalisePagination(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}

func typeLabel(t models.EnrollmentType) string {
	switch t {
	case models.EnrollmentTypeColonia:
		return "Colonia de Verano"
	case models.EnrollmentTypeCiclo:
		return "Ciclo 2026"
	case models.EnrollmentTypePackCompleto:
		return "Pack Completo"
	}
	return string(t)
}
