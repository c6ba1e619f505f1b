package payments

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"storefront/internal/types"
)

// OrderStore is the subset of the order repository the reconciler needs.
type OrderStore interface {
	// FindByPaymentReference returns (nil, nil) when no order holds ref.
	FindByPaymentReference(ctx context.Context, ref string) (*types.Order, error)
	// Create returns an ErrCodeConflictPaymentReference AppError when another
	// order already holds the same payment reference.
	Create(ctx context.Context, o *types.Order) error
	// MarkPaid returns an ErrCodeConflictAlreadyPaid AppError when the order
	// was already paid.
	MarkPaid(ctx context.Context, id string, paidAt time.Time, result types.PaymentResult) error
	MarkPaymentFailed(ctx context.Context, id string, result types.PaymentResult) error
}

// EventPublisher emits order lifecycle events.
type EventPublisher interface {
	Publish(ctx context.Context, ev types.OrderEvent) error
}

// Outcome is the state transition the reconciler applied for one event.
type Outcome string

const (
	OutcomeCreated      Outcome = "created"
	OutcomeMarkedPaid   Outcome = "marked_paid"
	OutcomeAlreadyPaid  Outcome = "already_paid"
	OutcomeMarkedFailed Outcome = "marked_failed"
	OutcomeNoOrder      Outcome = "no_order"
	OutcomeIgnored      Outcome = "ignored"
)

// PaymentMethodStripe is the payment method label on webhook-created orders.
const PaymentMethodStripe = "stripe"

// ReconcilerConfig holds the reconciler's tunables.
type ReconcilerConfig struct {
	Pricing           PricingRules
	PlaceholderUserID string
	Clock             types.Clock
	// NewOrderID defaults to "ord_" + a random UUID.
	NewOrderID func() string
	Logger     *slog.Logger
}

// Reconciler applies payment events to orders, keyed by payment reference.
// Applying the same event more than once leaves the same state as applying
// it once.
type Reconciler struct {
	store       OrderStore
	publisher   EventPublisher
	pricing     PricingRules
	placeholder string
	clock       types.Clock
	newOrderID  func() string
	logger      *slog.Logger
}

// NewReconciler creates a Reconciler. A nil publisher disables events.
func NewReconciler(store OrderStore, publisher EventPublisher, cfg ReconcilerConfig) *Reconciler {
	r := &Reconciler{
		store:       store,
		publisher:   publisher,
		pricing:     cfg.Pricing,
		placeholder: cfg.PlaceholderUserID,
		clock:       cfg.Clock,
		newOrderID:  cfg.NewOrderID,
		logger:      cfg.Logger,
	}
	if r.clock == nil {
		r.clock = types.RealClock{}
	}
	if r.newOrderID == nil {
		r.newOrderID = func() string { return "ord_" + uuid.New().String() }
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.placeholder == "" {
		r.placeholder = "usr_guest"
	}
	return r
}

// Reconcile dispatches ev to the matching transition. Store errors are
// returned unchanged so the caller can ask the provider to redeliver.
func (r *Reconciler) Reconcile(ctx context.Context, ev Event) (Outcome, error) {
	switch e := ev.(type) {
	case PaymentSucceeded:
		return r.HandleSucceeded(ctx, e)
	case PaymentFailed:
		return r.HandleFailed(ctx, e)
	case Unhandled:
		return OutcomeIgnored, nil
	default:
		return OutcomeIgnored, fmt.Errorf("unsupported event %T", ev)
	}
}

// HandleSucceeded creates the order on first sight of the payment reference,
// or marks the existing order paid.
func (r *Reconciler) HandleSucceeded(ctx context.Context, e PaymentSucceeded) (Outcome, error) {
	ref := e.Intent.ID

	existing, err := r.store.FindByPaymentReference(ctx, ref)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return r.markPaid(ctx, existing, e)
	}

	order := r.buildOrder(ctx, e)
	err = r.store.Create(ctx, order)
	if err == nil {
		r.logger.InfoContext(ctx, "order created from payment",
			slog.String("event_id", e.ID),
			slog.String("payment_reference", ref),
			slog.String("order_id", order.ID),
			slog.String("total_price", order.TotalPrice.StringFixed(2)),
		)
		r.publish(ctx, types.OrderEventCreated, order)
		r.publish(ctx, types.OrderEventPaid, order)
		return OutcomeCreated, nil
	}
	if !types.HasCode(err, types.ErrCodeConflictPaymentReference) {
		return "", err
	}

	// A concurrent delivery inserted first; continue on the update path.
	r.logger.InfoContext(ctx, "order created concurrently; applying update instead",
		slog.String("event_id", e.ID),
		slog.String("payment_reference", ref),
	)
	existing, err = r.store.FindByPaymentReference(ctx, ref)
	if err != nil {
		return "", err
	}
	if existing == nil {
		return "", fmt.Errorf("payment reference %s reported as taken but no order found", ref)
	}
	return r.markPaid(ctx, existing, e)
}

// HandleFailed records a failed payment on the existing order. Without an
// order there is nothing to record.
func (r *Reconciler) HandleFailed(ctx context.Context, e PaymentFailed) (Outcome, error) {
	ref := e.Intent.ID

	existing, err := r.store.FindByPaymentReference(ctx, ref)
	if err != nil {
		return "", err
	}
	if existing == nil {
		r.logger.InfoContext(ctx, "payment failed for unknown reference; nothing to update",
			slog.String("event_id", e.ID),
			slog.String("payment_reference", ref),
		)
		return OutcomeNoOrder, nil
	}

	result := r.paymentResult(e.Intent, types.PaymentStatusFailed, e.OccurredAt)
	if err := r.store.MarkPaymentFailed(ctx, existing.ID, result); err != nil {
		return "", err
	}
	existing.IsPaid = false
	existing.PaymentResult = &result

	r.logger.WarnContext(ctx, "payment failed for order",
		slog.String("event_id", e.ID),
		slog.String("payment_reference", ref),
		slog.String("order_id", existing.ID),
		slog.String("failure_message", e.Intent.FailureMessage),
	)
	r.publish(ctx, types.OrderEventPaymentFailed, existing)
	return OutcomeMarkedFailed, nil
}

func (r *Reconciler) markPaid(ctx context.Context, o *types.Order, e PaymentSucceeded) (Outcome, error) {
	if o.IsPaid {
		r.logger.InfoContext(ctx, "payment already processed",
			slog.String("event_id", e.ID),
			slog.String("payment_reference", e.Intent.ID),
			slog.String("order_id", o.ID),
		)
		return OutcomeAlreadyPaid, nil
	}

	now := r.clock.Now()
	result := r.paymentResult(e.Intent, types.PaymentStatusSucceeded, e.OccurredAt)
	if err := r.store.MarkPaid(ctx, o.ID, now, result); err != nil {
		if types.HasCode(err, types.ErrCodeConflictAlreadyPaid) {
			r.logger.InfoContext(ctx, "order paid by a concurrent delivery",
				slog.String("event_id", e.ID),
				slog.String("payment_reference", e.Intent.ID),
				slog.String("order_id", o.ID),
			)
			return OutcomeAlreadyPaid, nil
		}
		return "", err
	}
	o.IsPaid = true
	o.PaidAt = &now
	o.PaymentResult = &result

	r.logger.InfoContext(ctx, "order marked paid",
		slog.String("event_id", e.ID),
		slog.String("payment_reference", e.Intent.ID),
		slog.String("order_id", o.ID),
	)
	r.publish(ctx, types.OrderEventPaid, o)
	return OutcomeMarkedPaid, nil
}

func (r *Reconciler) buildOrder(ctx context.Context, e PaymentSucceeded) *types.Order {
	pi := e.Intent

	items, err := LineItemsFromMetadata(pi.Metadata["products"])
	if err != nil {
		r.logger.WarnContext(ctx, "malformed products metadata; creating order without line items",
			slog.String("event_id", e.ID),
			slog.String("payment_reference", pi.ID),
			slog.Any("error", err),
		)
	}

	userID := pi.Metadata["userId"]
	if userID == "" {
		userID = r.placeholder
	}

	now := r.clock.Now()
	ref := pi.ID
	result := r.paymentResult(pi, types.PaymentStatusSucceeded, e.OccurredAt)

	o := &types.Order{
		ID:               r.newOrderID(),
		UserID:           userID,
		PaymentReference: &ref,
		Items:            items,
		ShippingAddress:  pi.Shipping,
		PaymentMethod:    PaymentMethodStripe,
		IsPaid:           true,
		PaidAt:           &now,
		PaymentResult:    &result,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	r.pricing.ForProviderAmount(items, pi.AmountMinor).Apply(o)
	return o
}

func (r *Reconciler) paymentResult(pi PaymentIntent, status string, occurred time.Time) types.PaymentResult {
	if pi.Status != "" && status == types.PaymentStatusSucceeded {
		status = pi.Status
	}
	if occurred.IsZero() {
		occurred = r.clock.Now()
	}
	email := pi.ReceiptEmail
	if email == "" {
		email = pi.Metadata["email"]
	}
	return types.PaymentResult{
		ID:           pi.ID,
		Status:       status,
		UpdateTime:   occurred.UTC().Format(time.RFC3339),
		EmailAddress: email,
	}
}

// publish is best effort; failures are logged.
func (r *Reconciler) publish(ctx context.Context, typ types.OrderEventType, o *types.Order) {
	if r.publisher == nil {
		return
	}
	ev := types.NewOrderEvent(uuid.New().String(), typ, o, r.clock.Now())
	if err := r.publisher.Publish(ctx, ev); err != nil {
		r.logger.WarnContext(ctx, "failed to publish order event",
			slog.String("event_type", string(typ)),
			slog.String("order_id", o.ID),
			slog.Any("error", err),
		)
	}
}
