package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderEventType names an order lifecycle transition published to the queue.
type OrderEventType string

const (
	OrderEventCreated       OrderEventType = "order.created"
	OrderEventPaid          OrderEventType = "order.paid"
	OrderEventPaymentFailed OrderEventType = "order.payment_failed"
	OrderEventDelivered     OrderEventType = "order.delivered"
)

// OrderEvent is the message body consumers receive for an order transition.
type OrderEvent struct {
	EventID          string          `json:"eventId"`
	Type             OrderEventType  `json:"type"`
	OrderID          string          `json:"orderId"`
	PaymentReference string          `json:"paymentReference,omitempty"`
	UserID           string          `json:"userId"`
	TotalPrice       decimal.Decimal `json:"totalPrice"`
	OccurredAt       time.Time       `json:"occurredAt"`
}

// NewOrderEvent snapshots an order into an event of the given type.
func NewOrderEvent(eventID string, typ OrderEventType, o *Order, at time.Time) OrderEvent {
	return OrderEvent{
		EventID:          eventID,
		Type:             typ,
		OrderID:          o.ID,
		PaymentReference: o.Reference(),
		UserID:           o.UserID,
		TotalPrice:       o.TotalPrice,
		OccurredAt:       at,
	}
}
