package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// UserRole distinguishes buyers from store administrators.
type UserRole string

const (
	RoleCustomer UserRole = "customer"
	RoleAdmin    UserRole = "admin"
)

// User is a registered buyer or administrator. PasswordHash never leaves
// the service boundary.
type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         UserRole  `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// LineItem is one purchased product line on an order.
type LineItem struct {
	ProductID string          `json:"product,omitempty"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

// Subtotal is price times quantity.
func (li LineItem) Subtotal() decimal.Decimal {
	return li.Price.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// LineItems is the ordered list stored in the order_items JSONB column.
type LineItems []LineItem

// ShippingAddress is the structured delivery address of an order.
type ShippingAddress struct {
	Name       string `json:"name,omitempty"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

// PaymentResult is the snapshot of the provider's view of the payment
// at the time the order was last reconciled.
type PaymentResult struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	UpdateTime   string `json:"updateTime"`
	EmailAddress string `json:"emailAddress,omitempty"`
}

// Payment result statuses written by the reconciler.
const (
	PaymentStatusSucceeded = "succeeded"
	PaymentStatusFailed    = "failed"
)

// Order is a purchase. PaymentReference, when set, is the Stripe
// payment-intent id and is unique across all orders.
type Order struct {
	ID               string           `json:"id"`
	UserID           string           `json:"user"`
	PaymentReference *string          `json:"paymentReference,omitempty"`
	Items            LineItems        `json:"orderItems"`
	ShippingAddress  *ShippingAddress `json:"shippingAddress,omitempty"`
	PaymentMethod    string           `json:"paymentMethod"`
	ItemsPrice       decimal.Decimal  `json:"itemsPrice"`
	TaxPrice         decimal.Decimal  `json:"taxPrice"`
	ShippingPrice    decimal.Decimal  `json:"shippingPrice"`
	TotalPrice       decimal.Decimal  `json:"totalPrice"`
	IsPaid           bool             `json:"isPaid"`
	PaidAt           *time.Time       `json:"paidAt,omitempty"`
	PaymentResult    *PaymentResult   `json:"paymentResult,omitempty"`
	IsDelivered      bool             `json:"isDelivered"`
	DeliveredAt      *time.Time       `json:"deliveredAt,omitempty"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

// Reference returns the payment reference or an empty string.
func (o *Order) Reference() string {
	if o.PaymentReference == nil {
		return ""
	}
	return *o.PaymentReference
}

// OwnedBy reports whether the order belongs to the given user.
func (o *Order) OwnedBy(userID string) bool {
	return o.UserID == userID
}
