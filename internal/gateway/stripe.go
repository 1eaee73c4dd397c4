package gateway

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"keygate/pkg/contracts/domain"
)

// StripeAdapter verifies Stripe webhook signatures and maps checkout and
// refund events onto PaymentEvents. Purchase context travels in checkout
// session metadata: user_ref, product_ref and duration_days.
type StripeAdapter struct {
	webhookSecret string
}

// NewStripeAdapter creates a Stripe webhook adapter.
func NewStripeAdapter(webhookSecret string) *StripeAdapter {
	return &StripeAdapter{webhookSecret: webhookSecret}
}

// Name identifies the provider.
func (a *StripeAdapter) Name() string { return "stripe" }

// Parse verifies the Stripe-Signature header and translates the event.
func (a *StripeAdapter) Parse(payload []byte, signature string) (*domain.PaymentEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, a.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	var ev *domain.PaymentEvent
	switch event.Type {
	case "checkout.session.completed":
		ev, err = a.fromSession(event, domain.OutcomeSettled)
	case "checkout.session.expired":
		ev, err = a.fromSession(event, domain.OutcomeExpired)
	case "charge.refunded":
		ev, err = a.fromCharge(event)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEvent, event.Type)
	}
	if err != nil {
		return nil, err
	}

	ev.Raw = payload
	return ev, nil
}

func (a *StripeAdapter) fromSession(event stripe.Event, outcome domain.PaymentOutcome) (*domain.PaymentEvent, error) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	userRef := session.Metadata["user_ref"]
	if userRef == "" {
		userRef = session.ClientReferenceID
	}
	productRef := session.Metadata["product_ref"]
	if userRef == "" || productRef == "" {
		return nil, fmt.Errorf("%w: checkout session %s lacks user_ref/product_ref metadata", ErrMalformedPayload, session.ID)
	}

	days, err := strconv.Atoi(session.Metadata["duration_days"])
	if err != nil || days <= 0 {
		return nil, fmt.Errorf("%w: checkout session %s has bad duration_days", ErrMalformedPayload, session.ID)
	}

	return &domain.PaymentEvent{
		EventID:      event.ID,
		Provider:     a.Name(),
		Outcome:      outcome,
		UserRef:      userRef,
		ProductRef:   productRef,
		DurationDays: days,
		ReceivedAt:   time.Now().UTC(),
	}, nil
}

func (a *StripeAdapter) fromCharge(event stripe.Event) (*domain.PaymentEvent, error) {
	var charge stripe.Charge
	if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	userRef := charge.Metadata["user_ref"]
	productRef := charge.Metadata["product_ref"]
	if userRef == "" || productRef == "" {
		return nil, fmt.Errorf("%w: charge %s lacks user_ref/product_ref metadata", ErrMalformedPayload, charge.ID)
	}

	return &domain.PaymentEvent{
		EventID:    event.ID,
		Provider:   a.Name(),
		Outcome:    domain.OutcomeVoided,
		UserRef:    userRef,
		ProductRef: productRef,
		ReceivedAt: time.Now().UTC(),
	}, nil
}
