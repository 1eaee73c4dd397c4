package domain

import (
	"time"
)

// PaymentOutcome classifies the terminal state a payment event reports.
type PaymentOutcome string

const (
	// OutcomeSettled means the payment completed and entitlement is due.
	OutcomeSettled PaymentOutcome = "settled"
	// OutcomeVoided means the payment was cancelled or refunded.
	OutcomeVoided PaymentOutcome = "voided"
	// OutcomeExpired means the payment session lapsed without completing.
	OutcomeExpired PaymentOutcome = "expired"
)

// PaymentEvent is the provider-neutral form of a gateway webhook event.
// Gateway adapters verify provider signatures and translate raw payloads
// into this shape; nothing downstream of the adapters sees provider types.
type PaymentEvent struct {
	// EventID is the provider's unique event identifier. It is the
	// idempotency key for fulfillment: the same EventID never produces
	// more than one entitlement.
	EventID string `json:"event_id" validate:"required"`

	Provider     string         `json:"provider" validate:"required"`
	Outcome      PaymentOutcome `json:"outcome" validate:"required,oneof=settled voided expired"`
	UserRef      string         `json:"user_ref" validate:"required"`
	ProductRef   string         `json:"product_ref" validate:"required"`
	DurationDays int            `json:"duration_days" validate:"min=0"`
	ReceivedAt   time.Time      `json:"received_at"`

	// Raw is the provider payload as delivered, kept for audit.
	Raw []byte `json:"-"`
}

// FulfillmentResult reports what the pipeline did with a settled event.
type FulfillmentResult struct {
	LicenseKey string `json:"license_key"`
	Extended   bool   `json:"extended"`
	Duplicate  bool   `json:"duplicate"`
}
