package handlers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/core"
	"storefront/internal/external"
	"storefront/internal/payments"
	"storefront/internal/types"
)

const testWebhookSecret = "whsec_test_secret"

// ---------------------------------------------------------------------------
// Mock Implementations
// ---------------------------------------------------------------------------

// stubReconciler implements PaymentReconciler for testing.
type stubReconciler struct {
	calls   []payments.Event
	outcome payments.Outcome
	err     error
}

func (s *stubReconciler) Reconcile(ctx context.Context, ev payments.Event) (payments.Outcome, error) {
	s.calls = append(s.calls, ev)
	return s.outcome, s.err
}

// ---------------------------------------------------------------------------
// Test Helpers
// ---------------------------------------------------------------------------

// buildStripeEvent creates a JSON-encoded Stripe event for testing.
func buildStripeEvent(eventType string, eventID string, dataObject interface{}) []byte {
	objBytes, _ := json.Marshal(dataObject)
	event := map[string]interface{}{
		"id":      eventID,
		"type":    eventType,
		"created": testNow.Unix(),
		"data": map[string]interface{}{
			"object": json.RawMessage(objBytes),
		},
	}
	b, _ := json.Marshal(event)
	return b
}

// widgetIntent is a succeeded payment for two $50 widgets charged at $107.
func widgetIntent() map[string]interface{} {
	return map[string]interface{}{
		"id":       "pi_1",
		"object":   "payment_intent",
		"amount":   10700,
		"currency": "usd",
		"status":   "succeeded",
		"metadata": map[string]string{
			"products": `[{"id":"p1","name":"Widget","quantity":2,"price":50}]`,
		},
	}
}

// signPayload builds a Stripe-Signature header for payload.
func signPayload(payload []byte, secret string, at time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", at.Unix())
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func newWebhookRouter(h *StripeWebhookHandler) http.Handler {
	r := chi.NewRouter()
	r.Route("/webhooks", h.RegisterRoutes)
	return r
}

func postWebhook(t *testing.T, handler http.Handler, payload []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func newTestWebhookHandler(rec PaymentReconciler, secret string, metrics core.MetricsCollector) *StripeWebhookHandler {
	return NewStripeWebhookHandler(&external.StripeVerifier{}, rec, types.SecretString(secret), metrics, testLogger())
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestStripeWebhook_SucceededCreatesPaidOrder(t *testing.T) {
	orders := newMemoryOrders()
	pub := &recordingPublisher{}
	reconciler := payments.NewReconciler(orders, pub, payments.ReconcilerConfig{
		Pricing:           payments.DefaultPricingRules(),
		PlaceholderUserID: "usr_guest",
		Clock:             types.FixedClock{T: testNow},
		Logger:            testLogger(),
	})
	metrics := &core.MockMetrics{}
	router := newWebhookRouter(newTestWebhookHandler(reconciler, testWebhookSecret, metrics))

	payload := buildStripeEvent(external.EventPaymentIntentSucceeded, "evt_1", widgetIntent())
	rec := postWebhook(t, router, payload, signPayload(payload, testWebhookSecret, time.Now()))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"received":true}`, rec.Body.String())

	require.Equal(t, 1, orders.count())
	order := orders.only()
	assert.Equal(t, "pi_1", order.Reference())
	assert.Equal(t, "usr_guest", order.UserID)
	assert.True(t, order.IsPaid)
	assert.Equal(t, "100", order.ItemsPrice.String())
	assert.Equal(t, "107", order.TotalPrice.String())
	require.Len(t, order.Items, 1)
	assert.Equal(t, 2, order.Items[0].Quantity)

	assert.Equal(t, []types.OrderEventType{types.OrderEventCreated, types.OrderEventPaid}, pub.eventTypes())
	assert.Equal(t, []core.WebhookMetric{{EventType: external.EventPaymentIntentSucceeded, Outcome: string(payments.OutcomeCreated)}}, metrics.WebhookCalls())

	// Redelivery leaves a single paid order.
	rec = postWebhook(t, router, payload, signPayload(payload, testWebhookSecret, time.Now()))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, orders.count())
}

func TestStripeWebhook_TamperedBodyRejected(t *testing.T) {
	rec := &stubReconciler{outcome: payments.OutcomeCreated}
	metrics := &core.MockMetrics{}
	router := newWebhookRouter(newTestWebhookHandler(rec, testWebhookSecret, metrics))

	payload := buildStripeEvent(external.EventPaymentIntentSucceeded, "evt_1", widgetIntent())
	header := signPayload(payload, testWebhookSecret, time.Now())
	tampered := bytes.Replace(payload, []byte("10700"), []byte("99999"), 1)

	resp := postWebhook(t, router, tampered, header)

	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Contains(t, resp.Body.String(), "Webhook Error:")
	assert.Empty(t, rec.calls, "reconciler must not run for unverified payloads")
	assert.Equal(t, []core.WebhookMetric{{Outcome: webhookOutcomeRejected}}, metrics.WebhookCalls())
}

func TestStripeWebhook_MissingSignatureRejected(t *testing.T) {
	rec := &stubReconciler{}
	router := newWebhookRouter(newTestWebhookHandler(rec, testWebhookSecret, nil))

	payload := buildStripeEvent(external.EventPaymentIntentSucceeded, "evt_1", widgetIntent())
	resp := postWebhook(t, router, payload, "")

	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Empty(t, rec.calls)
}

func TestStripeWebhook_UnhandledTypeAcknowledged(t *testing.T) {
	rec := &stubReconciler{}
	metrics := &core.MockMetrics{}
	router := newWebhookRouter(newTestWebhookHandler(rec, testWebhookSecret, metrics))

	payload := buildStripeEvent("charge.dispute.created", "evt_2", map[string]interface{}{"id": "dp_1"})
	resp := postWebhook(t, router, payload, signPayload(payload, testWebhookSecret, time.Now()))

	require.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"received":true}`, resp.Body.String())
	assert.Empty(t, rec.calls)
	assert.Equal(t, []core.WebhookMetric{{EventType: "charge.dispute.created", Outcome: string(payments.OutcomeIgnored)}}, metrics.WebhookCalls())
}

func TestStripeWebhook_MalformedJSON(t *testing.T) {
	rec := &stubReconciler{}
	router := newWebhookRouter(newTestWebhookHandler(rec, "", nil))

	resp := postWebhook(t, router, []byte(`{not json`), "")

	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Contains(t, resp.Body.String(), "Webhook Error:")
	assert.Empty(t, rec.calls)
}

func TestStripeWebhook_InvalidIntentAcknowledged(t *testing.T) {
	tests := []struct {
		name   string
		intent map[string]interface{}
	}{
		{"wrong id prefix", map[string]interface{}{"id": "ch_1", "amount": 10700}},
		{"missing amount", map[string]interface{}{"id": "pi_1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &stubReconciler{}
			metrics := &core.MockMetrics{}
			router := newWebhookRouter(newTestWebhookHandler(rec, testWebhookSecret, metrics))

			payload := buildStripeEvent(external.EventPaymentIntentSucceeded, "evt_1", tt.intent)
			resp := postWebhook(t, router, payload, signPayload(payload, testWebhookSecret, time.Now()))

			require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
			assert.JSONEq(t, `{"received":true}`, resp.Body.String())
			assert.Empty(t, rec.calls)
			assert.Equal(t, []core.WebhookMetric{{
				EventType: external.EventPaymentIntentSucceeded,
				Outcome:   webhookOutcomeMalformed,
			}}, metrics.WebhookCalls())
		})
	}
}

func TestStripeWebhook_MissingTypeRejected(t *testing.T) {
	rec := &stubReconciler{}
	router := newWebhookRouter(newTestWebhookHandler(rec, testWebhookSecret, nil))

	payload := []byte(`{"id":"evt_1","data":{"object":{}}}`)
	resp := postWebhook(t, router, payload, signPayload(payload, testWebhookSecret, time.Now()))

	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Empty(t, rec.calls)
}

func TestStripeWebhook_ReconcilerErrorReturns500(t *testing.T) {
	rec := &stubReconciler{err: types.NewAppError(types.ErrCodeInternalDB, "failed to create order", errors.New("connection reset"))}
	metrics := &core.MockMetrics{}
	router := newWebhookRouter(newTestWebhookHandler(rec, testWebhookSecret, metrics))

	payload := buildStripeEvent(external.EventPaymentIntentSucceeded, "evt_1", widgetIntent())
	resp := postWebhook(t, router, payload, signPayload(payload, testWebhookSecret, time.Now()))

	require.Equal(t, http.StatusInternalServerError, resp.Code)
	assert.JSONEq(t, `{"error":"failed to create order"}`, resp.Body.String())
	assert.NotContains(t, resp.Body.String(), "connection reset")
	require.Len(t, rec.calls, 1)
	assert.Equal(t, webhookOutcomeError, metrics.WebhookCalls()[0].Outcome)
}

func TestStripeWebhook_NoSecretSkipsVerification(t *testing.T) {
	rec := &stubReconciler{outcome: payments.OutcomeCreated}
	router := newWebhookRouter(newTestWebhookHandler(rec, "", nil))

	payload := buildStripeEvent(external.EventPaymentIntentSucceeded, "evt_1", widgetIntent())
	resp := postWebhook(t, router, payload, "")

	require.Equal(t, http.StatusOK, resp.Code)
	require.Len(t, rec.calls, 1)
	succeeded, ok := rec.calls[0].(payments.PaymentSucceeded)
	require.True(t, ok, "expected PaymentSucceeded, got %T", rec.calls[0])
	assert.Equal(t, "pi_1", succeeded.Intent.ID)
}

func TestStripeWebhook_FailedPaymentRouted(t *testing.T) {
	rec := &stubReconciler{outcome: payments.OutcomeNoOrder}
	router := newWebhookRouter(newTestWebhookHandler(rec, testWebhookSecret, nil))

	intent := widgetIntent()
	intent["status"] = "requires_payment_method"
	payload := buildStripeEvent(external.EventPaymentIntentFailed, "evt_3", intent)
	resp := postWebhook(t, router, payload, signPayload(payload, testWebhookSecret, time.Now()))

	require.Equal(t, http.StatusOK, resp.Code)
	require.Len(t, rec.calls, 1)
	_, ok := rec.calls[0].(payments.PaymentFailed)
	assert.True(t, ok, "expected PaymentFailed, got %T", rec.calls[0])
}

func TestStripeWebhook_OversizedBody(t *testing.T) {
	rec := &stubReconciler{}
	router := newWebhookRouter(newTestWebhookHandler(rec, "", nil))

	resp := postWebhook(t, router, bytes.Repeat([]byte("a"), maxWebhookBodySize+1), "")

	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Empty(t, rec.calls)
}
