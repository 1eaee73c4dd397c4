package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"keygate/pkg/contracts/domain"
)

// infinitePayPayload is the shape InfinitePay posts to the webhook.
type infinitePayPayload struct {
	EventID      string `json:"event_id"`
	Status       string `json:"status"`
	CustomerRef  string `json:"customer_ref"`
	ProductRef   string `json:"product_ref"`
	DurationDays int    `json:"duration_days"`
}

// InfinitePayAdapter verifies InfinitePay's HMAC-SHA256 webhook signature
// (hex digest of the raw body under the shared secret) and maps payment
// statuses onto PaymentEvents.
type InfinitePayAdapter struct {
	secret []byte
}

// NewInfinitePayAdapter creates an InfinitePay webhook adapter.
func NewInfinitePayAdapter(secret string) *InfinitePayAdapter {
	return &InfinitePayAdapter{secret: []byte(secret)}
}

// Name identifies the provider.
func (a *InfinitePayAdapter) Name() string { return "infinitepay" }

// Sign computes the hex HMAC-SHA256 digest of payload. Exposed so tests
// and local tooling can produce valid deliveries.
func (a *InfinitePayAdapter) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, a.secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Parse verifies the signature and translates the payload.
func (a *InfinitePayAdapter) Parse(payload []byte, signature string) (*domain.PaymentEvent, error) {
	expected := a.Sign(payload)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return nil, ErrInvalidSignature
	}

	var p infinitePayPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if p.EventID == "" || p.CustomerRef == "" || p.ProductRef == "" {
		return nil, fmt.Errorf("%w: missing event_id/customer_ref/product_ref", ErrMalformedPayload)
	}

	var outcome domain.PaymentOutcome
	switch p.Status {
	case "paid", "approved":
		outcome = domain.OutcomeSettled
	case "failed", "cancelled", "refunded":
		outcome = domain.OutcomeVoided
	case "expired":
		outcome = domain.OutcomeExpired
	default:
		return nil, fmt.Errorf("%w: status %q", ErrUnsupportedEvent, p.Status)
	}

	if outcome == domain.OutcomeSettled && p.DurationDays <= 0 {
		return nil, fmt.Errorf("%w: settled event %s has bad duration_days", ErrMalformedPayload, p.EventID)
	}

	return &domain.PaymentEvent{
		EventID:      p.EventID,
		Provider:     a.Name(),
		Outcome:      outcome,
		UserRef:      p.CustomerRef,
		ProductRef:   p.ProductRef,
		DurationDays: p.DurationDays,
		ReceivedAt:   time.Now().UTC(),
		Raw:          payload,
	}, nil
}
