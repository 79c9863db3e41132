package models

import "time"

// PaymentKind distinguishes the one-time fee from recurring charges.
type PaymentKind string

const (
	PaymentKindFee     PaymentKind = "FEE"
	PaymentKindMonthly PaymentKind = "MONTHLY"
)

// PaymentStatus is the settlement state of a payment record.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusApproved PaymentStatus = "approved"
	PaymentStatusRejected PaymentStatus = "rejected"
)

// IsTerminal reports whether the payment has been settled.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusApproved || s == PaymentStatusRejected
}

// Payment is one attempt to pay an enrollment charge. ExternalPaymentID is
// the gateway transaction id and is unique across the table.
type Payment struct {
	ID                string        `db:"id" json:"id"`
	EnrollmentID      string        `db:"enrollment_id" json:"enrollment_id"`
	Kind              PaymentKind   `db:"kind" json:"kind"`
	Amount            int64         `db:"amount" json:"amount"`
	Status            PaymentStatus `db:"status" json:"status"`
	ExternalPaymentID *string       `db:"external_payment_id" json:"external_payment_id,omitempty"`
	PreferenceID      *string       `db:"preference_id" json:"preference_id,omitempty"`
	GatewayStatus     *string       `db:"gateway_status" json:"gateway_status,omitempty"`
	ProcessedAt       *time.Time    `db:"processed_at" json:"processed_at,omitempty"`
	CreatedAt         time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time     `db:"updated_at" json:"updated_at"`
}
