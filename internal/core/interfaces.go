package core

import (
	"context"
	"time"

	"storefront/internal/types"
)

// Authenticator decouples the HTTP layer from specific auth mechanisms,
// allowing for easy mocking in tests.
type Authenticator interface {
	// ResolveToken verifies a bearer token and returns the Actor it names.
	//
	// Distinct Error Codes:
	// - Return ErrCodeAuthTokenInvalid if the token is malformed or forged.
	// - Return ErrCodeAuthTokenExpired if the token is genuine but expired.
	ResolveToken(ctx context.Context, token string) (*types.Actor, error)
}

// RateLimitStore abstracts the backing store for rate limiting.
type RateLimitStore interface {
	// IncrementAndCheck atomically increments the counter for key and checks
	// whether limit has been exceeded within the window.
	IncrementAndCheck(ctx context.Context, key string, limit int, window time.Duration) (RateLimitResult, error)
}

// RateLimitResult contains the outcome of a rate limit check.
type RateLimitResult struct {
	// Allowed indicates whether the request is within the rate limit.
	Allowed bool
	// Remaining is the number of requests remaining in the current window.
	Remaining int
	// ResetAt is the time when the current rate limit window resets.
	ResetAt time.Time
}

// MetricsCollector defines the interface for recording API telemetry.
type MetricsCollector interface {
	// RecordRequest records request latency and count.
	RecordRequest(method, endpoint, status string, duration time.Duration)
	// RecordWebhook counts one processed payment webhook by outcome
	// (created, marked_paid, ignored, rejected, error, ...).
	RecordWebhook(eventType, outcome string)
}
