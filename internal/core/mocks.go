package core

import (
	"context"
	"sync"
	"time"

	"storefront/internal/types"
)

// --- MockAuthenticator ---

// MockAuthenticator implements the Authenticator interface for testing.
// It returns a predefined Actor, or a fixed error to simulate
// authentication failures.
//
// Usage:
//
//	mock := &MockAuthenticator{
//	    Actor: &types.Actor{ID: "usr_test123", Role: types.RoleCustomer},
//	}
//
// To simulate an error:
//
//	mock := &MockAuthenticator{
//	    Err: types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid token", nil),
//	}
type MockAuthenticator struct {
	// Actor is returned on success. If nil and Err is also nil, ResolveToken
	// returns (nil, nil).
	Actor *types.Actor

	// Err is returned by ResolveToken. When set, Actor is ignored.
	Err error

	// ResolveTokenFunc, when set, takes precedence over Actor and Err.
	ResolveTokenFunc func(ctx context.Context, token string) (*types.Actor, error)

	mu    sync.Mutex
	Calls []string
}

// ResolveToken implements the Authenticator interface.
func (m *MockAuthenticator) ResolveToken(ctx context.Context, token string) (*types.Actor, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, token)
	m.mu.Unlock()

	if m.ResolveTokenFunc != nil {
		return m.ResolveTokenFunc(ctx, token)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Actor, nil
}

// --- MockRateLimitStore ---

// MockRateLimitStore implements the RateLimitStore interface for testing.
//
// Usage:
//
//	mock := &MockRateLimitStore{
//	    Result: RateLimitResult{Allowed: false, Remaining: 0, ResetAt: time.Now().Add(30 * time.Second)},
//	}
type MockRateLimitStore struct {
	// Result is returned by IncrementAndCheck.
	Result RateLimitResult

	// Err is returned alongside Result.
	Err error

	// IncrementAndCheckFunc, when set, takes precedence over Result and Err.
	IncrementAndCheckFunc func(ctx context.Context, key string, limit int, window time.Duration) (RateLimitResult, error)

	mu    sync.Mutex
	Calls []RateLimitCall
}

// RateLimitCall records the arguments of a single IncrementAndCheck invocation.
type RateLimitCall struct {
	Key    string
	Limit  int
	Window time.Duration
}

// IncrementAndCheck implements the RateLimitStore interface.
func (m *MockRateLimitStore) IncrementAndCheck(ctx context.Context, key string, limit int, window time.Duration) (RateLimitResult, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, RateLimitCall{Key: key, Limit: limit, Window: window})
	m.mu.Unlock()

	if m.IncrementAndCheckFunc != nil {
		return m.IncrementAndCheckFunc(ctx, key, limit, window)
	}
	return m.Result, m.Err
}

// --- MockMetrics ---

// MockMetrics implements MetricsCollector and records every call.
type MockMetrics struct {
	mu       sync.Mutex
	Requests []RequestMetric
	Webhooks []WebhookMetric
}

// RequestMetric is one recorded RecordRequest call.
type RequestMetric struct {
	Method   string
	Endpoint string
	Status   string
	Duration time.Duration
}

// WebhookMetric is one recorded RecordWebhook call.
type WebhookMetric struct {
	EventType string
	Outcome   string
}

// RecordRequest implements MetricsCollector.
func (m *MockMetrics) RecordRequest(method, endpoint, status string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = append(m.Requests, RequestMetric{Method: method, Endpoint: endpoint, Status: status, Duration: duration})
}

// RecordWebhook implements MetricsCollector.
func (m *MockMetrics) RecordWebhook(eventType, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Webhooks = append(m.Webhooks, WebhookMetric{EventType: eventType, Outcome: outcome})
}

// WebhookCalls returns a copy of the recorded webhook metrics.
func (m *MockMetrics) WebhookCalls() []WebhookMetric {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]WebhookMetric(nil), m.Webhooks...)
}

// RequestCalls returns a copy of the recorded request metrics.
func (m *MockMetrics) RequestCalls() []RequestMetric {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RequestMetric(nil), m.Requests...)
}
