package service

import (
	"context"
	"regexp"
	"sync"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/tutoring-enrollment-api/internal/dto"
	"github.com/noah-isme/tutoring-enrollment-api/internal/models"
	appErrors "github.com/noah-isme/tutoring-enrollment-api/pkg/errors"
	"github.com/noah-isme/tutoring-enrollment-api/pkg/gateway/mercadopago"
)

var pinPattern = regexp.MustCompile(`^\d{4}$`)

type fakeGateway struct {
	mu       sync.Mutex
	payments map[string]mercadopago.Payment
	calls    int
	barrier  *sync.WaitGroup
}

func (g *fakeGateway) GetPayment(ctx context.Context, id string) (*mercadopago.Payment, error) {
	g.mu.Lock()
	g.calls++
	p, ok := g.payments[id]
	barrier := g.barrier
	g.mu.Unlock()

	if barrier != nil {
		barrier.Done()
		barrier.Wait()
	}
	if !ok {
		return nil, mercadopago.ErrPaymentNotFound
	}
	return &p, nil
}

func (g *fakeGateway) set(id string, p mercadopago.Payment) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.payments[id] = p
}

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type fakeNotifier struct {
	mu      sync.Mutex
	notices []CredentialsNotice
}

func (n *fakeNotifier) NotifyCredentials(ctx context.Context, notice CredentialsNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
	return nil
}

func (n *fakeNotifier) sent() []CredentialsNotice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]CredentialsNotice(nil), n.notices...)
}

type settlementFixture struct {
	store    *fakeStore
	gateway  *fakeGateway
	notifier *fakeNotifier
	svc      *SettlementService
}

func fakeHash(plain string) (string, error) {
	return "hashed:" + plain, nil
}

func newSettlementFixture() *settlementFixture {
	store := newFakeStore()
	gateway := &fakeGateway{payments: map[string]mercadopago.Payment{}}
	notifier := &fakeNotifier{}
	codes := NewCodeGenerator()
	accounts := NewAccountProvisioner(fakeUsers{store}, codes, zap.NewNop())
	accounts.hash = fakeHash

	svc := NewSettlementService(SettlementDeps{
		Payments:    fakePayments{store},
		Enrollments: fakeEnrollments{store},
		History:     fakeHistory{store},
		Tx:          store,
		Gateway:     gateway,
		Validator:   NewEnrollmentValidator(NewPricingService(DefaultPriceTable()), validator.New()),
		Accounts:    accounts,
		Codes:       codes,
		Notifier:    notifier,
		Metrics:     NewMetricsService(),
		Logger:      zap.NewNop(),
	})
	return &settlementFixture{store: store, gateway: gateway, notifier: notifier, svc: svc}
}

func paymentNotification(id string) dto.PaymentNotification {
	return dto.PaymentNotification{ID: "evt-1", Type: "payment", Action: "payment.updated", APIVersion: "v1", Data: dto.NotificationData{ID: id}}
}

func feeReference(enrollmentID string, t models.EnrollmentType) string {
	return ExternalReference{EnrollmentID: enrollmentID, Type: t, Kind: models.PaymentKindFee}.String()
}

func TestSettlementApprovedActivatesAndProvisions(t *testing.T) {
	f := newSettlementFixture()
	id := f.store.seedEnrollment(models.EnrollmentTypeColonia, "laura@example.com", []int{2, 1}, false)
	f.gateway.set("9001", mercadopago.Payment{ID: 9001, Status: "approved", TransactionAmount: 25000, ExternalReference: feeReference(id, models.EnrollmentTypeColonia)})

	res, err := f.svc.Process(context.Background(), paymentNotification("9001"))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, id, res.InscripcionID)
	assert.Equal(t, "approved", res.PaymentStatus)
	assert.Equal(t, "active", res.InscripcionStatus)
	assert.Empty(t, res.Message)

	enrollment := f.store.enrollment(id)
	assert.Equal(t, models.EnrollmentStatusActive, enrollment.Status)
	require.NotNil(t, enrollment.GuardianID)

	history := f.store.historyFor(id)
	require.Len(t, history, 1)
	assert.Equal(t, "pending", history[0].PreviousStatus)
	assert.Equal(t, models.EnrollmentStatusActive, history[0].NewStatus)
	assert.Equal(t, WebhookActor, history[0].PerformedBy)

	payments := f.store.paymentsFor(id)
	require.Len(t, payments, 1)
	assert.Equal(t, models.PaymentStatusApproved, payments[0].Status)
	require.NotNil(t, payments[0].ExternalPaymentID)
	assert.Equal(t, "9001", *payments[0].ExternalPaymentID)
	assert.Equal(t, int64(25000), payments[0].Amount)
	assert.NotNil(t, payments[0].ProcessedAt)

	guardians := f.store.usersByRole(models.RoleGuardian)
	require.Len(t, guardians, 1)
	assert.Equal(t, *enrollment.GuardianID, guardians[0].ID)
	assert.Equal(t, "laura", guardians[0].Username)
	assert.True(t, guardians[0].MustChangePassword)

	students := f.store.studentsOf(id)
	require.Len(t, students, 2)
	seen := map[string]bool{}
	for _, st := range students {
		require.NotNil(t, st.PIN)
		require.NotNil(t, st.UserID)
		assert.Regexp(t, pinPattern, *st.PIN)
		assert.False(t, seen[*st.PIN])
		seen[*st.PIN] = true
	}
	studentAccounts := f.store.usersByRole(models.RoleStudent)
	require.Len(t, studentAccounts, 2)
	assert.Regexp(t, regexp.MustCompile(`^tomas\.gomez\d{4}$`), studentAccounts[0].Username)
	assert.Equal(t, "hashed:"+*students[0].PIN, studentAccounts[0].PasswordHash)

	notices := f.notifier.sent()
	require.Len(t, notices, 1)
	assert.NotEmpty(t, notices[0].TemporaryPassword)
	assert.Equal(t, "laura@example.com", notices[0].GuardianEmail)
	assert.Len(t, notices[0].Students, 2)
}

func TestSettlementReplayIsIdempotent(t *testing.T) {
	f := newSettlementFixture()
	id := f.store.seedEnrollment(models.EnrollmentTypeColonia, "laura@example.com", []int{1}, false)
	f.gateway.set("9002", mercadopago.Payment{Status: "approved", TransactionAmount: 25000, ExternalReference: feeReference(id, models.EnrollmentTypeColonia)})

	_, err := f.svc.Process(context.Background(), paymentNotification("9002"))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		res, err := f.svc.Process(context.Background(), paymentNotification("9002"))
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, "Already processed (idempotent)", res.Message)
		assert.Equal(t, id, res.InscripcionID)
		assert.Equal(t, "approved", res.PaymentStatus)
		assert.Equal(t, "active", res.InscripcionStatus)
	}

	assert.Len(t, f.store.historyFor(id), 1)
	assert.Len(t, f.store.paymentsFor(id), 1)
	assert.Len(t, f.notifier.sent(), 1)
	assert.Equal(t, 1, f.gateway.callCount())
}

func TestSettlementAmountMismatchWritesNothing(t *testing.T) {
	cases := map[string]float64{
		"lower amount":      20000,
		"higher amount":     30000,
		"fractional amount": 25000.5,
	}
	for name, amount := range cases {
		t.Run(name, func(t *testing.T) {
			f := newSettlementFixture()
			id := f.store.seedEnrollment(models.EnrollmentTypeColonia, "laura@example.com", []int{1}, false)
			f.gateway.set("9003", mercadopago.Payment{Status: "approved", TransactionAmount: amount, ExternalReference: feeReference(id, models.EnrollmentTypeColonia)})

			res, err := f.svc.Process(context.Background(), paymentNotification("9003"))
			require.Error(t, err)
			assert.Nil(t, res)
			assert.Equal(t, appErrors.ErrAmountMismatch.Code, appErrors.FromError(err).Code)

			assert.Equal(t, models.EnrollmentStatusPending, f.store.enrollment(id).Status)
			assert.Empty(t, f.store.historyFor(id))
			payments := f.store.paymentsFor(id)
			require.Len(t, payments, 1)
			assert.Equal(t, models.PaymentStatusPending, payments[0].Status)
			assert.Zero(t, f.store.commits)
			assert.Zero(t, f.store.aborts)
			assert.Equal(t, uint64(1), f.svc.metrics.Snapshot().AmountMismatchesTotal)
		})
	}
}

func TestSettlementRejectedPaymentRejectsEnrollment(t *testing.T) {
	f := newSettlementFixture()
	id := f.store.seedEnrollment(models.EnrollmentTypeColonia, "laura@example.com", []int{1}, false)
	f.gateway.set("9004", mercadopago.Payment{Status: "rejected", StatusDetail: "cc_rejected_insufficient_amount", TransactionAmount: 25000, ExternalReference: feeReference(id, models.EnrollmentTypeColonia)})

	res, err := f.svc.Process(context.Background(), paymentNotification("9004"))
	require.NoError(t, err)
	assert.Equal(t, "rejected", res.PaymentStatus)
	assert.Equal(t, "rejected", res.InscripcionStatus)

	history := f.store.historyFor(id)
	require.Len(t, history, 1)
	assert.Equal(t, models.EnrollmentStatusRejected, history[0].NewStatus)
	assert.Empty(t, f.store.usersByRole(models.RoleGuardian))
	assert.Empty(t, f.notifier.sent())

	replay, err := f.svc.Process(context.Background(), paymentNotification("9004"))
	require.NoError(t, err)
	assert.Equal(t, "Already processed (idempotent)", replay.Message)
}

func TestSettlementNonTerminalStatusWritesNothing(t *testing.T) {
	f := newSettlementFixture()
	id := f.store.seedEnrollment(models.EnrollmentTypeColonia, "laura@example.com", []int{1}, false)
	f.gateway.set("9005", mercadopago.Payment{Status: "in_process", TransactionAmount: 25000, ExternalReference: feeReference(id, models.EnrollmentTypeColonia)})

	res, err := f.svc.Process(context.Background(), paymentNotification("9005"))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "pending", res.PaymentStatus)
	assert.Equal(t, "pending", res.InscripcionStatus)
	assert.Zero(t, f.store.commits)
	assert.Empty(t, f.store.historyFor(id))
}

func TestSettlementRollsBackOnProvisioningFailure(t *testing.T) {
	f := newSettlementFixture()
	id := f.store.seedEnrollment(models.EnrollmentTypeColonia, "laura@example.com", []int{1, 1}, false)
	f.gateway.set("9006", mercadopago.Payment{Status: "approved", TransactionAmount: 25000, ExternalReference: feeReference(id, models.EnrollmentTypeColonia)})
	f.store.failOn = "enrollments.AttachStudentAccount"

	_, err := f.svc.Process(context.Background(), paymentNotification("9006"))
	require.Error(t, err)

	assert.Equal(t, models.EnrollmentStatusPending, f.store.enrollment(id).Status)
	assert.Empty(t, f.store.historyFor(id))
	assert.Equal(t, models.PaymentStatusPending, f.store.paymentsFor(id)[0].Status)
	assert.Empty(t, f.store.usersByRole(models.RoleGuardian))
	assert.Empty(t, f.store.usersByRole(models.RoleStudent))
	assert.Empty(t, f.notifier.sent())
	assert.Equal(t, 1, f.store.aborts)

	f.store.failOn = ""
	res, err := f.svc.Process(context.Background(), paymentNotification("9006"))
	require.NoError(t, err)
	assert.Equal(t, "active", res.InscripcionStatus)
	assert.Len(t, f.store.historyFor(id), 1)
}

func TestSettlementConcurrentDeliveriesCommitOnce(t *testing.T) {
	f := newSettlementFixture()
	id := f.store.seedEnrollment(models.EnrollmentTypeColonia, "laura@example.com", []int{1}, false)
	f.gateway.set("9007", mercadopago.Payment{Status: "approved", TransactionAmount: 25000, ExternalReference: feeReference(id, models.EnrollmentTypeColonia)})

	var barrier sync.WaitGroup
	barrier.Add(2)
	f.gateway.barrier = &barrier

	results := make([]*dto.SettlementResult, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.svc.Process(context.Background(), paymentNotification("9007"))
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	replays := 0
	for _, r := range results {
		assert.True(t, r.Success)
		assert.Equal(t, "active", r.InscripcionStatus)
		if r.Message == "Already processed (idempotent)" {
			replays++
		}
	}
	assert.Equal(t, 1, replays)
	assert.Equal(t, 2, f.gateway.callCount())
	assert.Len(t, f.store.historyFor(id), 1)
	assert.Len(t, f.store.paymentsFor(id), 1)
	assert.Len(t, f.store.usersByRole(models.RoleGuardian), 1)
	assert.Len(t, f.notifier.sent(), 1)
}

func TestSettlementReusesExistingGuardian(t *testing.T) {
	f := newSettlementFixture()
	email := "laura@example.com"
	fakeUsers{f.store}.add(models.User{ID: "guardian-1", Email: &email, Username: "laura", PasswordHash: "original", Role: models.RoleGuardian, Active: true})
	id := f.store.seedEnrollment(models.EnrollmentTypeColonia, "Laura@Example.com", []int{1}, false)
	f.gateway.set("9008", mercadopago.Payment{Status: "approved", TransactionAmount: 25000, ExternalReference: feeReference(id, models.EnrollmentTypeColonia)})

	_, err := f.svc.Process(context.Background(), paymentNotification("9008"))
	require.NoError(t, err)

	guardians := f.store.usersByRole(models.RoleGuardian)
	require.Len(t, guardians, 1)
	assert.Equal(t, "original", guardians[0].PasswordHash)
	assert.Equal(t, "guardian-1", *f.store.enrollment(id).GuardianID)

	notices := f.notifier.sent()
	require.Len(t, notices, 1)
	assert.Empty(t, notices[0].TemporaryPassword)
	assert.Len(t, notices[0].Students, 1)
}

func TestSettlementPaymentOnSettledEnrollmentIsRecordedOnly(t *testing.T) {
	f := newSettlementFixture()
	id := f.store.seedEnrollment(models.EnrollmentTypeCiclo, "laura@example.com", []int{0, 0}, true)
	require.NoError(t, fakeEnrollments{f.store}.UpdateStatus(context.Background(), nil, id, models.EnrollmentStatusActive))

	ref := ExternalReference{EnrollmentID: id, Type: models.EnrollmentTypeCiclo, Kind: models.PaymentKindMonthly}.String()
	f.gateway.set("9009", mercadopago.Payment{Status: "approved", TransactionAmount: 88000, ExternalReference: ref})

	res, err := f.svc.Process(context.Background(), paymentNotification("9009"))
	require.NoError(t, err)
	assert.Equal(t, "approved", res.PaymentStatus)
	assert.Equal(t, "active", res.InscripcionStatus)

	assert.Empty(t, f.store.historyFor(id))
	assert.Empty(t, f.notifier.sent())
	var monthly []models.Payment
	for _, p := range f.store.paymentsFor(id) {
		if p.Kind == models.PaymentKindMonthly {
			monthly = append(monthly, p)
		}
	}
	require.Len(t, monthly, 1)
	assert.Equal(t, int64(88000), monthly[0].Amount)
}

func TestSettlementMonthlyAmountUsesSiblingDiscount(t *testing.T) {
	f := newSettlementFixture()
	id := f.store.seedEnrollment(models.EnrollmentTypeCiclo, "laura@example.com", []int{0, 0}, true)
	ref := ExternalReference{EnrollmentID: id, Type: models.EnrollmentTypeCiclo, Kind: models.PaymentKindMonthly}.String()
	f.gateway.set("9010", mercadopago.Payment{Status: "approved", TransactionAmount: 100000, ExternalReference: ref})

	_, err := f.svc.Process(context.Background(), paymentNotification("9010"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrAmountMismatch.Code, appErrors.FromError(err).Code)
}

func TestSettlementResolutionFailures(t *testing.T) {
	f := newSettlementFixture()
	id := f.store.seedEnrollment(models.EnrollmentTypeColonia, "laura@example.com", []int{1}, false)
	f.gateway.set("no-ref", mercadopago.Payment{Status: "approved", TransactionAmount: 25000})
	f.gateway.set("bad-ref", mercadopago.Payment{Status: "approved", TransactionAmount: 25000, ExternalReference: "order-42"})
	f.gateway.set("ghost", mercadopago.Payment{Status: "approved", TransactionAmount: 25000, ExternalReference: feeReference("00000000-0000-0000-0000-000000000000", models.EnrollmentTypeColonia)})
	f.gateway.set("wrong-type", mercadopago.Payment{Status: "approved", TransactionAmount: 60000, ExternalReference: feeReference(id, models.EnrollmentTypePackCompleto)})

	cases := []struct {
		paymentID string
		code      string
		message   string
	}{
		{"no-ref", appErrors.ErrValidation.Code, "Payment without external_reference"},
		{"bad-ref", appErrors.ErrValidation.Code, "Invalid external_reference format"},
		{"ghost", appErrors.ErrNotFound.Code, "Inscripción no encontrada"},
		{"wrong-type", appErrors.ErrValidation.Code, "Invalid external_reference format"},
		{"unknown", appErrors.ErrNotFound.Code, "Payment not found"},
	}
	for _, tc := range cases {
		t.Run(tc.paymentID, func(t *testing.T) {
			_, err := f.svc.Process(context.Background(), paymentNotification(tc.paymentID))
			require.Error(t, err)
			appErr := appErrors.FromError(err)
			assert.Equal(t, tc.code, appErr.Code)
			assert.Equal(t, tc.message, appErr.Message)
		})
	}
	assert.Zero(t, f.store.commits)
}

func TestSettlementNotificationGuards(t *testing.T) {
	f := newSettlementFixture()

	_, err := f.svc.Process(context.Background(), dto.PaymentNotification{Type: "payment"})
	require.Error(t, err)
	assert.Equal(t, "payment_id is required", appErrors.FromError(err).Message)

	res, err := f.svc.Process(context.Background(), dto.PaymentNotification{Type: "merchant_order", Data: dto.NotificationData{ID: "55"}})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "Notification ignored", res.Message)
	assert.Zero(t, f.gateway.callCount())
}
