package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/tutoring-enrollment-api/internal/models"
	"github.com/noah-isme/tutoring-enrollment-api/pkg/database"
)

const paymentColumns = `id, enrollment_id, kind, amount, status, external_payment_id, preference_id, gateway_status, processed_at, created_at, updated_at`

// ExternalPaymentIDConstraint guards at-most-once settlement per gateway payment.
const ExternalPaymentIDConstraint = "payments_external_payment_id_key"

// PaymentRepository persists payment records.
type PaymentRepository struct {
	db *sqlx.DB
}

// NewPaymentRepository constructs the repository.
func NewPaymentRepository(db *sqlx.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// FindByExternalID returns the payment bound to the gateway payment id.
func (r *PaymentRepository) FindByExternalID(ctx context.Context, externalID string) (*models.Payment, error) {
	const query = `SELECT ` + paymentColumns + ` FROM payments WHERE external_payment_id = $1`
	var payment models.Payment
	if err := r.db.GetContext(ctx, &payment, query, externalID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find payment by external id: %w", err)
	}
	return &payment, nil
}

// LockPending locks the most recent pending payment of kind for an enrollment.
func (r *PaymentRepository) LockPending(ctx context.Context, q database.Queryer, enrollmentID string, kind models.PaymentKind) (*models.Payment, error) {
	const query = `SELECT ` + paymentColumns + ` FROM payments
WHERE enrollment_id = $1 AND kind = $2 AND status = $3 AND external_payment_id IS NULL
ORDER BY created_at DESC
LIMIT 1
FOR UPDATE`
	var payment models.Payment
	if err := q.GetContext(ctx, &payment, query, enrollmentID, kind, models.PaymentStatusPending); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("lock pending payment: %w", err)
	}
	return &payment, nil
}

// Create inserts a payment record.
func (r *PaymentRepository) Create(ctx context.Context, q database.Queryer, payment *models.Payment) error {
	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	payment.CreatedAt = now
	payment.UpdatedAt = now

	const query = `INSERT INTO payments (` + paymentColumns + `)
VALUES (:id, :enrollment_id, :kind, :amount, :status, :external_payment_id, :preference_id, :gateway_status, :processed_at, :created_at, :updated_at)`
	if _, err := q.NamedExecContext(ctx, query, payment); err != nil {
		return fmt.Errorf("create payment: %w", err)
	}
	return nil
}

// Settle binds a pending payment to the gateway payment and marks it terminal.
func (r *PaymentRepository) Settle(ctx context.Context, q database.Queryer, payment *models.Payment) error {
	const query = `UPDATE payments
SET external_payment_id = $2, status = $3, gateway_status = $4, amount = $5, processed_at = $6, updated_at = $6
WHERE id = $1 AND status = 'pending'`
	res, err := q.ExecContext(ctx, query,
		payment.ID, payment.ExternalPaymentID, payment.Status, payment.GatewayStatus, payment.Amount, payment.ProcessedAt)
	if err != nil {
		return fmt.Errorf("settle payment: %w", err)
	}
	return expectOneRow(res, "settle payment")
}
