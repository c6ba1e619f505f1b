// Package payments turns verified Stripe webhook payloads into typed payment
// events and reconciles them against stored orders.
package payments

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"storefront/internal/external"
	"storefront/internal/types"
)

// ErrMalformedEvent is returned by ParseEvent for payloads that are not a
// usable Stripe event. Redelivery cannot fix these.
var ErrMalformedEvent = errors.New("malformed stripe event")

// InvalidIntentError reports a well-formed event envelope whose
// payment-intent object fails validation. It wraps ErrMalformedEvent.
type InvalidIntentError struct {
	EventID   string
	EventType string
	Reason    error
}

func (e *InvalidIntentError) Error() string {
	return fmt.Sprintf("event %s (%s): %v", e.EventID, e.EventType, e.Reason)
}

func (e *InvalidIntentError) Unwrap() error { return e.Reason }

// Event is a parsed webhook event: PaymentSucceeded, PaymentFailed or Unhandled.
type Event interface {
	EventID() string
	EventType() string
	isEvent()
}

// PaymentIntent holds the payment-intent fields the reconciler reads.
type PaymentIntent struct {
	ID           string
	AmountMinor  int64
	Currency     string
	Status       string
	Metadata     map[string]string
	ReceiptEmail string
	Shipping     *types.ShippingAddress
	// FailureMessage is the provider's last_payment_error message, if any.
	FailureMessage string
}

// PaymentSucceeded is a payment_intent.succeeded event.
type PaymentSucceeded struct {
	ID         string
	OccurredAt time.Time
	Intent     PaymentIntent
}

// PaymentFailed is a payment_intent.payment_failed event.
type PaymentFailed struct {
	ID         string
	OccurredAt time.Time
	Intent     PaymentIntent
}

// Unhandled is any other event type. It is acknowledged and ignored.
type Unhandled struct {
	ID   string
	Type string
}

func (e PaymentSucceeded) EventID() string   { return e.ID }
func (e PaymentSucceeded) EventType() string { return external.EventPaymentIntentSucceeded }
func (PaymentSucceeded) isEvent()            {}

func (e PaymentFailed) EventID() string   { return e.ID }
func (e PaymentFailed) EventType() string { return external.EventPaymentIntentFailed }
func (PaymentFailed) isEvent()            {}

func (e Unhandled) EventID() string   { return e.ID }
func (e Unhandled) EventType() string { return e.Type }
func (Unhandled) isEvent()            {}

type stripeEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type stripePaymentIntent struct {
	ID           string            `json:"id"`
	Amount       *int64            `json:"amount"`
	Currency     string            `json:"currency"`
	Status       string            `json:"status"`
	Metadata     map[string]string `json:"metadata"`
	ReceiptEmail string            `json:"receipt_email"`
	Shipping     *struct {
		Name    string `json:"name"`
		Address struct {
			Line1      string `json:"line1"`
			Line2      string `json:"line2"`
			City       string `json:"city"`
			State      string `json:"state"`
			PostalCode string `json:"postal_code"`
			Country    string `json:"country"`
		} `json:"address"`
	} `json:"shipping"`
	LastPaymentError *struct {
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

// ParseEvent validates the event envelope and, for payment-intent events,
// the payment-intent object. The payload must already be authenticated.
func ParseEvent(raw []byte) (Event, error) {
	var env stripeEvent
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedEvent)
	}

	var occurred time.Time
	if env.Created > 0 {
		occurred = time.Unix(env.Created, 0).UTC()
	}

	switch env.Type {
	case external.EventPaymentIntentSucceeded:
		pi, err := parseIntent(env.Data.Object)
		if err != nil {
			return nil, &InvalidIntentError{EventID: env.ID, EventType: env.Type, Reason: err}
		}
		return PaymentSucceeded{ID: env.ID, OccurredAt: occurred, Intent: pi}, nil
	case external.EventPaymentIntentFailed:
		pi, err := parseIntent(env.Data.Object)
		if err != nil {
			return nil, &InvalidIntentError{EventID: env.ID, EventType: env.Type, Reason: err}
		}
		return PaymentFailed{ID: env.ID, OccurredAt: occurred, Intent: pi}, nil
	default:
		return Unhandled{ID: env.ID, Type: env.Type}, nil
	}
}

func parseIntent(obj json.RawMessage) (PaymentIntent, error) {
	if len(obj) == 0 || string(obj) == "null" {
		return PaymentIntent{}, fmt.Errorf("%w: missing data.object", ErrMalformedEvent)
	}
	var raw stripePaymentIntent
	if err := json.Unmarshal(obj, &raw); err != nil {
		return PaymentIntent{}, fmt.Errorf("%w: data.object: %v", ErrMalformedEvent, err)
	}
	if !strings.HasPrefix(raw.ID, "pi_") {
		return PaymentIntent{}, fmt.Errorf("%w: payment intent id %q", ErrMalformedEvent, raw.ID)
	}
	if raw.Amount == nil || *raw.Amount < 0 {
		return PaymentIntent{}, fmt.Errorf("%w: payment intent amount missing or negative", ErrMalformedEvent)
	}

	pi := PaymentIntent{
		ID:           raw.ID,
		AmountMinor:  *raw.Amount,
		Currency:     raw.Currency,
		Status:       raw.Status,
		Metadata:     raw.Metadata,
		ReceiptEmail: raw.ReceiptEmail,
	}
	if pi.Metadata == nil {
		pi.Metadata = map[string]string{}
	}
	if s := raw.Shipping; s != nil && s.Address.Line1 != "" {
		pi.Shipping = &types.ShippingAddress{
			Name:       s.Name,
			Line1:      s.Address.Line1,
			Line2:      s.Address.Line2,
			City:       s.Address.City,
			State:      s.Address.State,
			PostalCode: s.Address.PostalCode,
			Country:    s.Address.Country,
		}
	}
	if raw.LastPaymentError != nil {
		pi.FailureMessage = raw.LastPaymentError.Message
	}
	return pi, nil
}
