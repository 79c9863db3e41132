package mercadopago

import (
	"fmt"
	"math"
	"strings"
)

// Outcome is the settlement relevant classification of a gateway status.
type Outcome string

const (
	OutcomeApproved Outcome = "approved"
	OutcomeRejected Outcome = "rejected"
	OutcomePending  Outcome = "pending"
)

// Payment is the subset of /v1/payments/{id} the service consumes.
type Payment struct {
	ID                int64   `json:"id"`
	Status            string  `json:"status"`
	StatusDetail      string  `json:"status_detail"`
	TransactionAmount float64 `json:"transaction_amount"`
	CurrencyID        string  `json:"currency_id"`
	ExternalReference string  `json:"external_reference"`
	LiveMode          bool    `json:"live_mode"`
}

// Outcome maps the raw gateway status to approved, rejected or pending.
// Unknown statuses are treated as pending so nothing terminal is written.
func (p Payment) Outcome() Outcome {
	switch strings.ToLower(p.Status) {
	case "approved":
		return OutcomeApproved
	case "rejected", "cancelled", "refunded", "charged_back":
		return OutcomeRejected
	default:
		return OutcomePending
	}
}

// AmountUnits returns the charged amount in whole currency units. Amounts with
// a fractional part are rejected since prices are whole units.
func (p Payment) AmountUnits() (int64, error) {
	if p.TransactionAmount < 0 || math.Trunc(p.TransactionAmount) != p.TransactionAmount {
		return 0, fmt.Errorf("unexpected transaction amount %v", p.TransactionAmount)
	}
	return int64(p.TransactionAmount), nil
}

// Item is a checkout line.
type Item struct {
	ID          string  `json:"id,omitempty"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Quantity    int     `json:"quantity"`
	CurrencyID  string  `json:"currency_id"`
	UnitPrice   float64 `json:"unit_price"`
}

// Payer identifies the buyer on the checkout page.
type Payer struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

// BackURLs are the browser redirects after checkout.
type BackURLs struct {
	Success string `json:"success"`
	Failure string `json:"failure"`
	Pending string `json:"pending"`
}

// PreferenceRequest is the body of POST /checkout/preferences.
type PreferenceRequest struct {
	Items             []Item    `json:"items"`
	Payer             *Payer    `json:"payer,omitempty"`
	ExternalReference string    `json:"external_reference"`
	NotificationURL   string    `json:"notification_url,omitempty"`
	BackURLs          *BackURLs `json:"back_urls,omitempty"`
	AutoReturn        string    `json:"auto_return,omitempty"`
	StatementDesc     string    `json:"statement_descriptor,omitempty"`

	// IdempotencyKey defaults to ExternalReference when empty.
	IdempotencyKey string `json:"-"`
}

// Preference is the created checkout preference.
type Preference struct {
	ID               string `json:"id"`
	InitPoint        string `json:"init_point"`
	SandboxInitPoint string `json:"sandbox_init_point"`
}
