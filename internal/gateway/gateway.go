// Package gateway normalizes payment-provider webhooks into the
// provider-neutral PaymentEvent consumed by the fulfillment pipeline.
// Each adapter verifies the provider's signature scheme before trusting
// a single byte of the payload.
package gateway

import (
	"errors"

	"keygate/pkg/contracts/domain"
)

var (
	// ErrInvalidSignature means the webhook signature did not verify.
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrUnsupportedEvent means the provider event type carries nothing
	// for us. Handlers acknowledge these so the provider stops retrying.
	ErrUnsupportedEvent = errors.New("unsupported webhook event type")

	// ErrMalformedPayload means the payload failed to decode or lacked
	// required references.
	ErrMalformedPayload = errors.New("malformed webhook payload")
)

// Adapter turns a raw signed webhook delivery into a PaymentEvent.
type Adapter interface {
	// Name identifies the provider in logs and idempotency records.
	Name() string

	// Parse verifies the signature and translates the payload.
	Parse(payload []byte, signature string) (*domain.PaymentEvent, error)
}
