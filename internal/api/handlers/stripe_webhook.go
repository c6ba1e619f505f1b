// Package handlers contains the HTTP handler implementations for the
// storefront API.
//
// This file implements the Stripe payment webhook. The handler is NOT behind
// auth middleware; it is called directly by Stripe. Security is provided by
// verifying the Stripe-Signature header over the raw request body.
package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"storefront/internal/core"
	"storefront/internal/external"
	"storefront/internal/payments"
	"storefront/internal/types"
)

// maxWebhookBodySize is the maximum allowed size of a Stripe webhook payload (64 KB).
const maxWebhookBodySize = 64 * 1024

// Webhook outcomes recorded in metrics in addition to payments.Outcome.
const (
	webhookOutcomeRejected  = "rejected"
	webhookOutcomeMalformed = "malformed"
	webhookOutcomeError     = "error"
)

// PaymentReconciler applies a parsed payment event to stored orders.
type PaymentReconciler interface {
	Reconcile(ctx context.Context, ev payments.Event) (payments.Outcome, error)
}

// StripeWebhookHandler receives payment_intent events from Stripe.
type StripeWebhookHandler struct {
	verifier   external.WebhookVerifier
	reconciler PaymentReconciler
	secret     types.SecretString
	metrics    core.MetricsCollector
	logger     *slog.Logger
}

// NewStripeWebhookHandler creates a StripeWebhookHandler. An empty secret
// disables signature verification; startup config warns about it.
func NewStripeWebhookHandler(
	verifier external.WebhookVerifier,
	reconciler PaymentReconciler,
	secret types.SecretString,
	metrics core.MetricsCollector,
	logger *slog.Logger,
) *StripeWebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = core.NoopMetrics{}
	}
	return &StripeWebhookHandler{
		verifier:   verifier,
		reconciler: reconciler,
		secret:     secret,
		metrics:    metrics,
		logger:     logger,
	}
}

// RegisterRoutes mounts the endpoint on the /webhooks router.
func (h *StripeWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/stripe", h.Handle)
}

// Handle processes one webhook delivery.
//
//  1. Reads the raw body (64 KB max).
//  2. Verifies Stripe-Signature when a signing secret is configured.
//  3. Parses the event into a payments.Event.
//  4. Routes it to the reconciler.
//
// Verification failures and bodies that are not a Stripe event answer 400
// with a plain-text body. Reconciler failures answer 500 so Stripe
// redelivers. Everything else answers 200 {"received":true}, including
// unrecognized event types and verified payment-intent events whose object
// fails validation.
func (h *StripeWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.WarnContext(ctx, "failed to read webhook body", "error", err)
		h.metrics.RecordWebhook("", webhookOutcomeMalformed)
		http.Error(w, "Webhook Error: could not read request body", http.StatusBadRequest)
		return
	}

	if !h.secret.IsEmpty() {
		if err := h.verifier.Verify(payload, r.Header.Get("Stripe-Signature"), h.secret.Unmask()); err != nil {
			h.logger.WarnContext(ctx, "webhook signature verification failed", "error", err)
			h.metrics.RecordWebhook("", webhookOutcomeRejected)
			http.Error(w, "Webhook Error: "+err.Error(), http.StatusBadRequest)
			return
		}
	}

	event, err := payments.ParseEvent(payload)
	var invalid *payments.InvalidIntentError
	if errors.As(err, &invalid) {
		// Authenticated but unusable; redelivery would fail the same way.
		h.logger.WarnContext(ctx, "acknowledging webhook event with invalid payment intent",
			"event_id", invalid.EventID,
			"event_type", invalid.EventType,
			"error", invalid.Reason,
		)
		h.metrics.RecordWebhook(invalid.EventType, webhookOutcomeMalformed)
		core.JSON(w, r, http.StatusOK, map[string]bool{"received": true})
		return
	}
	if err != nil {
		h.logger.WarnContext(ctx, "failed to parse webhook event", "error", err)
		h.metrics.RecordWebhook("", webhookOutcomeMalformed)
		http.Error(w, "Webhook Error: "+err.Error(), http.StatusBadRequest)
		return
	}

	h.logger.InfoContext(ctx, "processing stripe webhook event",
		"event_id", event.EventID(),
		"event_type", event.EventType(),
	)

	outcome, err := h.routeEvent(ctx, event)
	if err != nil {
		h.logger.ErrorContext(ctx, "webhook event processing failed",
			"event_id", event.EventID(),
			"event_type", event.EventType(),
			"error", err,
		)
		h.metrics.RecordWebhook(event.EventType(), webhookOutcomeError)
		core.JSON(w, r, http.StatusInternalServerError, map[string]string{"error": clientMessage(err)})
		return
	}

	h.metrics.RecordWebhook(event.EventType(), string(outcome))
	core.JSON(w, r, http.StatusOK, map[string]bool{"received": true})
}

// routeEvent hands recognized events to the reconciler and acknowledges the rest.
func (h *StripeWebhookHandler) routeEvent(ctx context.Context, event payments.Event) (payments.Outcome, error) {
	if _, ok := event.(payments.Unhandled); ok {
		h.logger.InfoContext(ctx, "ignoring unhandled webhook event type",
			"event_type", event.EventType(),
		)
		return payments.OutcomeIgnored, nil
	}
	return h.reconciler.Reconcile(ctx, event)
}

// clientMessage returns the AppError message when there is one, so driver
// errors never reach the response body.
func clientMessage(err error) string {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "internal error"
}
