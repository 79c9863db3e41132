package dto

// NotificationData carries the gateway resource id.
type NotificationData struct {
	ID string `json:"id"`
}

// PaymentNotification is the webhook body sent by MercadoPago. Only Data.ID is
// used to resolve the payment; the rest is kept for logging.
type PaymentNotification struct {
	ID          interface{}      `json:"id"`
	Type        string           `json:"type"`
	Action      string           `json:"action"`
	APIVersion  string           `json:"api_version"`
	DateCreated string           `json:"date_created"`
	LiveMode    bool             `json:"live_mode"`
	UserID      interface{}      `json:"user_id"`
	Data        NotificationData `json:"data"`
}

// SettlementResult is the outcome of processing a payment notification.
type SettlementResult struct {
	Success           bool   `json:"success"`
	InscripcionID     string `json:"inscripcionId,omitempty"`
	PaymentStatus     string `json:"paymentStatus,omitempty"`
	InscripcionStatus string `json:"inscripcionStatus,omitempty"`
	Message           string `json:"message,omitempty"`
	ExternalReference string `json:"externalReference,omitempty"`
}
