package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/tutoring-enrollment-api/internal/dto"
	"github.com/noah-isme/tutoring-enrollment-api/internal/models"
	"github.com/noah-isme/tutoring-enrollment-api/internal/repository"
	"github.com/noah-isme/tutoring-enrollment-api/pkg/database"
	appErrors "github.com/noah-isme/tutoring-enrollment-api/pkg/errors"
	"github.com/noah-isme/tutoring-enrollment-api/pkg/gateway/mercadopago"
)

// WebhookActor is recorded as performed_by on transitions caused by the gateway.
const WebhookActor = "mercadopago-webhook"

// MessageAlreadyProcessed is returned when a payment id was settled before.
const MessageAlreadyProcessed = "Already processed (idempotent)"

const (
	notificationTypePayment = "payment"
	messageIgnored          = "Notification ignored"
	pinDomain               = "student pin"
)

// PaymentGateway resolves the authoritative payment detail.
type PaymentGateway interface {
	GetPayment(ctx context.Context, id string) (*mercadopago.Payment, error)
}

// TxRunner opens one transactional scope shared by every write of a unit of work.
type TxRunner interface {
	WithinTransaction(ctx context.Context, fn func(q database.Queryer) error) error
}

type settlementPaymentRepository interface {
	FindByExternalID(ctx context.Context, externalID string) (*models.Payment, error)
	LockPending(ctx context.Context, q database.Queryer, enrollmentID string, kind models.PaymentKind) (*models.Payment, error)
	Create(ctx context.Context, q database.Queryer, payment *models.Payment) error
	Settle(ctx context.Context, q database.Queryer, payment *models.Payment) error
}

type settlementEnrollmentRepository interface {
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	FindDetail(ctx context.Context, id string) (*models.EnrollmentDetail, error)
	LockByID(ctx context.Context, q database.Queryer, id string) (*models.Enrollment, error)
	UpdateStatus(ctx context.Context, q database.Queryer, id string, status models.EnrollmentStatus) error
	AssignGuardian(ctx context.Context, q database.Queryer, id, guardianID string) error
	ListStudents(ctx context.Context, q database.Queryer, enrollmentID string) ([]models.EnrollmentStudent, error)
	AttachStudentAccount(ctx context.Context, q database.Queryer, studentID, userID, pin string) error
	PinExists(ctx context.Context, q database.Queryer, pin string) (bool, error)
}

type historyRepository interface {
	Append(ctx context.Context, q database.Queryer, entry *models.StatusHistoryEntry) error
}

// IssuedCredential is a student login handed to the guardian.
type IssuedCredential struct {
	StudentName string `json:"student_name"`
	Username    string `json:"username"`
	PIN         string `json:"pin"`
}

// CredentialsNotice is everything the guardian needs after activation.
type CredentialsNotice struct {
	EnrollmentID      string             `json:"enrollment_id"`
	GuardianName      string             `json:"guardian_name"`
	GuardianEmail     string             `json:"guardian_email"`
	GuardianUsername  string             `json:"guardian_username"`
	TemporaryPassword string             `json:"temporary_password,omitempty"`
	Students          []IssuedCredential `json:"students"`
}

// CredentialsNotifier delivers credentials once the activation has committed.
type CredentialsNotifier interface {
	NotifyCredentials(ctx context.Context, notice CredentialsNotice) error
}

// SettlementService turns gateway payment notifications into enrollment state
// changes. A given gateway payment id takes effect at most once.
type SettlementService struct {
	payments    settlementPaymentRepository
	enrollments settlementEnrollmentRepository
	history     historyRepository
	tx          TxRunner
	gateway     PaymentGateway
	validator   *EnrollmentValidator
	accounts    *AccountProvisioner
	codes       *CodeGenerator
	notifier    CredentialsNotifier
	cache       *CacheService
	metrics     *MetricsService
	logger      *zap.Logger
	now         func() time.Time
	tempSecret  func() (string, error)
}

// SettlementDeps groups the collaborators of SettlementService.
type SettlementDeps struct {
	Payments    settlementPaymentRepository
	Enrollments settlementEnrollmentRepository
	History     historyRepository
	Tx          TxRunner
	Gateway     PaymentGateway
	Validator   *EnrollmentValidator
	Accounts    *AccountProvisioner
	Codes       *CodeGenerator
	Notifier    CredentialsNotifier
	Cache       *CacheService
	Metrics     *MetricsService
	Logger      *zap.Logger
}

// NewSettlementService wires the settlement use case.
func NewSettlementService(deps SettlementDeps) *SettlementService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	codes := deps.Codes
	if codes == nil {
		codes = NewCodeGenerator()
	}
	return &SettlementService{
		payments:    deps.Payments,
		enrollments: deps.Enrollments,
		history:     deps.History,
		tx:          deps.Tx,
		gateway:     deps.Gateway,
		validator:   deps.Validator,
		accounts:    deps.Accounts,
		codes:       codes,
		notifier:    deps.Notifier,
		cache:       deps.Cache,
		metrics:     deps.Metrics,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
		tempSecret:  GenerateTemporaryPassword,
	}
}

// transition is what the transactional scope produced.
type transition struct {
	payment      *models.Payment
	enrollment   *models.Enrollment
	transitioned bool
	notice       *CredentialsNotice
}

// Process settles one webhook notification.
func (s *SettlementService) Process(ctx context.Context, notification dto.PaymentNotification) (*dto.SettlementResult, error) {
	start := time.Now()
	paymentID := strings.TrimSpace(notification.Data.ID)
	if paymentID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "payment_id is required")
	}
	if notification.Type != notificationTypePayment {
		s.logger.Debug("notification ignored", zap.String("type", notification.Type), zap.String("resource_id", paymentID))
		s.metrics.RecordSettlement("ignored", time.Since(start))
		return &dto.SettlementResult{Success: true, Message: messageIgnored}, nil
	}

	logger := s.logger.With(zap.String("payment_id", paymentID), zap.String("action", notification.Action))

	replay, err := s.replay(ctx, paymentID)
	if err != nil {
		s.metrics.RecordSettlement("error", time.Since(start))
		return nil, err
	}
	if replay != nil {
		logger.Info("payment already processed")
		s.metrics.RecordSettlement("replay", time.Since(start))
		return replay, nil
	}

	result, err := s.settle(ctx, logger, paymentID)
	if err != nil {
		s.metrics.RecordSettlement("error", time.Since(start))
		return nil, err
	}
	outcome := result.PaymentStatus
	if result.Message == MessageAlreadyProcessed {
		outcome = "replay"
	}
	s.metrics.RecordSettlement(outcome, time.Since(start))
	return result, nil
}

func (s *SettlementService) settle(ctx context.Context, logger *zap.Logger, paymentID string) (*dto.SettlementResult, error) {
	gatewayPayment, err := s.gateway.GetPayment(ctx, paymentID)
	if err != nil {
		if errors.Is(err, mercadopago.ErrPaymentNotFound) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "Payment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrGateway.Code, appErrors.ErrGateway.Status, appErrors.ErrGateway.Message)
	}

	ref, err := ParseExternalReference(gatewayPayment.ExternalReference)
	if err != nil {
		logger.Warn("unusable external reference", zap.String("external_reference", gatewayPayment.ExternalReference))
		return nil, err
	}
	logger = logger.With(zap.String("enrollment_id", ref.EnrollmentID), zap.String("kind", string(ref.Kind)))

	detail, err := s.enrollments.FindDetail(ctx, ref.EnrollmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "Inscripción no encontrada")
		}
		return nil, err
	}
	if detail.Type != ref.Type {
		logger.Warn("external reference type differs from enrollment",
			zap.String("reference_type", string(ref.Type)), zap.String("enrollment_type", string(detail.Type)))
		return nil, appErrors.Clone(appErrors.ErrValidation, "Invalid external_reference format")
	}

	charged, err := s.verifyAmount(logger, detail, ref, gatewayPayment)
	if err != nil {
		return nil, err
	}

	outcome := gatewayPayment.Outcome()
	if outcome == mercadopago.OutcomePending {
		logger.Info("payment not final yet", zap.String("gateway_status", gatewayPayment.Status))
		return &dto.SettlementResult{
			Success:           true,
			InscripcionID:     detail.ID,
			PaymentStatus:     string(models.PaymentStatusPending),
			InscripcionStatus: string(detail.Status),
			ExternalReference: gatewayPayment.ExternalReference,
		}, nil
	}

	var applied transition
	err = s.tx.WithinTransaction(ctx, func(q database.Queryer) error {
		var txErr error
		applied, txErr = s.apply(ctx, q, logger, paymentID, ref, charged, outcome, gatewayPayment.Status)
		return txErr
	})
	if err != nil {
		if database.IsUniqueViolation(err, repository.ExternalPaymentIDConstraint) {
			logger.Info("concurrent settlement won the race")
			replay, replayErr := s.replay(ctx, paymentID)
			if replayErr != nil {
				return nil, replayErr
			}
			if replay != nil {
				return replay, nil
			}
		}
		logger.Error("settlement rolled back", zap.Error(err))
		return nil, err
	}

	s.afterCommit(ctx, logger, applied)

	return &dto.SettlementResult{
		Success:           true,
		InscripcionID:     applied.enrollment.ID,
		PaymentStatus:     string(applied.payment.Status),
		InscripcionStatus: string(applied.enrollment.Status),
		ExternalReference: gatewayPayment.ExternalReference,
	}, nil
}

// replay returns the idempotent response when paymentID was already settled.
func (s *SettlementService) replay(ctx context.Context, paymentID string) (*dto.SettlementResult, error) {
	existing, err := s.payments.FindByExternalID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if !existing.Status.IsTerminal() {
		return nil, nil
	}

	result := &dto.SettlementResult{
		Success:       true,
		InscripcionID: existing.EnrollmentID,
		PaymentStatus: string(existing.Status),
		Message:       MessageAlreadyProcessed,
	}
	enrollment, err := s.enrollments.FindByID(ctx, existing.EnrollmentID)
	if err != nil {
		return nil, err
	}
	result.InscripcionStatus = string(enrollment.Status)
	return result, nil
}

func (s *SettlementService) verifyAmount(logger *zap.Logger, detail *models.EnrollmentDetail, ref ExternalReference, payment *mercadopago.Payment) (int64, error) {
	quote := s.validator.QuoteFor(detail.Type, detail.CoursesPerStudent())
	expected := quote.InscripcionFee
	if ref.Kind == models.PaymentKindMonthly {
		expected = quote.MonthlyTotal
	}

	charged, err := payment.AmountUnits()
	if err == nil && charged == expected {
		return charged, nil
	}

	logger.Warn("security: payment amount mismatch",
		zap.Int64("expected", expected),
		zap.Float64("charged", payment.TransactionAmount),
		zap.String("currency", payment.CurrencyID),
		zap.Bool("live_mode", payment.LiveMode))
	s.metrics.RecordAmountMismatch()
	return 0, appErrors.Clone(appErrors.ErrAmountMismatch,
		fmt.Sprintf("charged amount %v does not match expected amount %d", payment.TransactionAmount, expected))
}

func (s *SettlementService) apply(ctx context.Context, q database.Queryer, logger *zap.Logger, paymentID string, ref ExternalReference, charged int64, outcome mercadopago.Outcome, gatewayStatus string) (transition, error) {
	var out transition
	now := s.now()

	paymentStatus := models.PaymentStatusRejected
	if outcome == mercadopago.OutcomeApproved {
		paymentStatus = models.PaymentStatusApproved
	}

	payment, err := s.payments.LockPending(ctx, q, ref.EnrollmentID, ref.Kind)
	switch {
	case err == nil:
		payment.ExternalPaymentID = &paymentID
		payment.Status = paymentStatus
		payment.GatewayStatus = &gatewayStatus
		payment.Amount = charged
		payment.ProcessedAt = &now
		if err := s.payments.Settle(ctx, q, payment); err != nil {
			return out, err
		}
	case errors.Is(err, sql.ErrNoRows):
		payment = &models.Payment{
			EnrollmentID:      ref.EnrollmentID,
			Kind:              ref.Kind,
			Amount:            charged,
			Status:            paymentStatus,
			ExternalPaymentID: &paymentID,
			GatewayStatus:     &gatewayStatus,
			ProcessedAt:       &now,
		}
		if err := s.payments.Create(ctx, q, payment); err != nil {
			return out, err
		}
	default:
		return out, err
	}
	out.payment = payment

	enrollment, err := s.enrollments.LockByID(ctx, q, ref.EnrollmentID)
	if err != nil {
		return out, err
	}
	out.enrollment = enrollment

	if enrollment.Status != models.EnrollmentStatusPending {
		logger.Warn("payment recorded without transition", zap.String("enrollment_status", string(enrollment.Status)))
		return out, nil
	}

	next := models.EnrollmentStatusRejected
	reason := fmt.Sprintf("Pago %s rechazado por Mercado Pago (%s)", paymentID, gatewayStatus)
	if paymentStatus == models.PaymentStatusApproved {
		next = models.EnrollmentStatusActive
		reason = fmt.Sprintf("Pago %s aprobado por Mercado Pago", paymentID)
	}

	if err := s.enrollments.UpdateStatus(ctx, q, enrollment.ID, next); err != nil {
		return out, err
	}
	if err := s.history.Append(ctx, q, &models.StatusHistoryEntry{
		EnrollmentID:   enrollment.ID,
		PreviousStatus: string(enrollment.Status),
		NewStatus:      next,
		Reason:         reason,
		PerformedBy:    WebhookActor,
	}); err != nil {
		return out, err
	}
	enrollment.Status = next
	enrollment.UpdatedAt = now
	out.transitioned = true

	if next == models.EnrollmentStatusActive {
		notice, err := s.provision(ctx, q, enrollment)
		if err != nil {
			return out, err
		}
		out.notice = notice
	}
	return out, nil
}

// provision creates the guardian and student accounts for a freshly
// activated enrollment. It shares the caller's transaction.
func (s *SettlementService) provision(ctx context.Context, q database.Queryer, enrollment *models.Enrollment) (*CredentialsNotice, error) {
	secret, err := s.tempSecret()
	if err != nil {
		return nil, err
	}
	guardian, created, err := s.accounts.FindOrCreate(ctx, q, AccountData{
		Email:              enrollment.GuardianEmail,
		FullName:           enrollment.GuardianName,
		Secret:             secret,
		Role:               models.RoleGuardian,
		MustChangePassword: true,
	})
	if err != nil {
		return nil, err
	}
	if err := s.enrollments.AssignGuardian(ctx, q, enrollment.ID, guardian.ID); err != nil {
		return nil, err
	}
	enrollment.GuardianID = &guardian.ID

	notice := &CredentialsNotice{
		EnrollmentID:     enrollment.ID,
		GuardianName:     enrollment.GuardianName,
		GuardianEmail:    guardian.EmailValue(),
		GuardianUsername: guardian.Username,
	}
	if created {
		notice.TemporaryPassword = secret
	}

	students, err := s.enrollments.ListStudents(ctx, q, enrollment.ID)
	if err != nil {
		return nil, err
	}
	pending := make([]models.EnrollmentStudent, 0, len(students))
	for _, st := range students {
		if st.UserID == nil {
			pending = append(pending, st)
		}
	}
	if len(pending) == 0 {
		return notice, nil
	}

	pins, err := s.codes.GenerateMultiple(ctx, len(pending), pinDomain, func(ctx context.Context, code string) (bool, error) {
		return s.enrollments.PinExists(ctx, q, code)
	})
	if err != nil {
		return nil, err
	}

	for i, st := range pending {
		account, err := s.accounts.CreateStudent(ctx, q, StudentAccountData{FullName: st.Name, PIN: pins[i]})
		if err != nil {
			return nil, err
		}
		if err := s.enrollments.AttachStudentAccount(ctx, q, st.ID, account.ID, pins[i]); err != nil {
			return nil, err
		}
		notice.Students = append(notice.Students, IssuedCredential{StudentName: st.Name, Username: account.Username, PIN: pins[i]})
	}
	return notice, nil
}

func (s *SettlementService) afterCommit(ctx context.Context, logger *zap.Logger, applied transition) {
	s.cache.InvalidateEnrollment(ctx, applied.enrollment.ID)

	if applied.transitioned {
		logger.Info("enrollment transitioned",
			zap.String("status", string(applied.enrollment.Status)),
			zap.String("payment_status", string(applied.payment.Status)))
	}
	if applied.notice == nil {
		return
	}
	s.metrics.RecordCredentialsIssued(len(applied.notice.Students))
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyCredentials(ctx, *applied.notice); err != nil {
		logger.Error("credentials notification not queued", zap.Error(err))
	}
}
