package handlers

import (
	"log/slog"
	"maps"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"storefront/internal/core"
	"storefront/internal/external"
	"storefront/internal/payments"
)

// CreatePaymentIntentRequest is the request body for POST /payments/intents.
// Metadata is passed to Stripe verbatim; "products" carries the cart the
// webhook reconciler turns into line items.
type CreatePaymentIntentRequest struct {
	Amount   decimal.Decimal   `json:"amount" validate:"gt=0"`
	Currency string            `json:"currency" validate:"omitempty,currency"`
	Metadata map[string]string `json:"metadata" validate:"omitempty,max=40"`
}

// CreatePaymentIntentResponse carries the secret the browser confirms with.
type CreatePaymentIntentResponse struct {
	ClientSecret string `json:"clientSecret"`
}

// PaymentHandler creates Stripe payment intents for authenticated buyers.
type PaymentHandler struct {
	provider        external.PaymentProvider
	defaultCurrency string
	validator       *core.Validator
	logger          *slog.Logger
}

// NewPaymentHandler creates a PaymentHandler. An empty defaultCurrency means "usd".
func NewPaymentHandler(provider external.PaymentProvider, defaultCurrency string, v *core.Validator, l *slog.Logger) *PaymentHandler {
	if l == nil {
		l = slog.Default()
	}
	if defaultCurrency == "" {
		defaultCurrency = "usd"
	}
	return &PaymentHandler{
		provider:        provider,
		defaultCurrency: defaultCurrency,
		validator:       v,
		logger:          l,
	}
}

// RegisterRoutes mounts the payment routes under /payments.
func (h *PaymentHandler) RegisterRoutes(r chi.Router) {
	r.Post("/intents", h.HandleCreateIntent)
}

// HandleCreateIntent processes POST /payments/intents.
//
//  1. Decode and validate the request.
//  2. Convert the amount to minor units (half-up).
//  3. Stamp metadata.userId with the authenticated actor.
//  4. Create the intent, forwarding any Idempotency-Key header.
func (h *PaymentHandler) HandleCreateIntent(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req CreatePaymentIntentRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	currency := req.Currency
	if currency == "" {
		currency = h.defaultCurrency
	}

	metadata := make(map[string]string, len(req.Metadata)+1)
	maps.Copy(metadata, req.Metadata)
	metadata["userId"] = actor.ID

	intent, err := h.provider.CreatePaymentIntent(r.Context(), external.PaymentIntentParams{
		Amount:         payments.ToMinorUnits(req.Amount),
		Currency:       currency,
		Metadata:       metadata,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to create payment intent",
			"user_id", actor.ID,
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "payment intent created",
		"user_id", actor.ID,
		"payment_reference", intent.ID,
		"amount_minor", intent.Amount,
	)
	core.JSON(w, r, http.StatusOK, CreatePaymentIntentResponse{ClientSecret: intent.ClientSecret})
}
