package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"storefront/internal/core"
	"storefront/internal/types"
)

// ---------------------------------------------------------------------------
// Shared fakes
// ---------------------------------------------------------------------------

// memoryOrders is an in-memory order table. It serves both the order
// endpoints and the webhook reconciler, and enforces payment reference
// uniqueness like the real table.
type memoryOrders struct {
	mu     sync.Mutex
	byID   map[string]*types.Order
	seq    []string
	err    error
	listed types.OrderListParams

	// beforeMarkPaid runs before MarkPaid takes the lock.
	beforeMarkPaid func(m *memoryOrders)
}

func newMemoryOrders(orders ...*types.Order) *memoryOrders {
	m := &memoryOrders{byID: map[string]*types.Order{}}
	for _, o := range orders {
		cp := *o
		m.byID[o.ID] = &cp
		m.seq = append(m.seq, o.ID)
	}
	return m
}

func (m *memoryOrders) get(id string) *types.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byID[id]
}

func (m *memoryOrders) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

func (m *memoryOrders) only() *types.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.byID {
		return o
	}
	return nil
}

func (m *memoryOrders) Create(ctx context.Context, o *types.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if ref := o.Reference(); ref != "" {
		for _, existing := range m.byID {
			if existing.Reference() == ref {
				return types.NewAppError(types.ErrCodeConflictPaymentReference, "payment reference already used", nil)
			}
		}
	}
	cp := *o
	m.byID[o.ID] = &cp
	m.seq = append(m.seq, o.ID)
	return nil
}

func (m *memoryOrders) GetByID(ctx context.Context, id string) (*types.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	o, ok := m.byID[id]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundOrder, "order not found", nil)
	}
	cp := *o
	return &cp, nil
}

func (m *memoryOrders) FindByPaymentReference(ctx context.Context, ref string) (*types.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	for _, o := range m.byID {
		if o.Reference() == ref {
			cp := *o
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memoryOrders) ListByUser(ctx context.Context, userID string) ([]*types.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := []*types.Order{}
	for _, id := range m.seq {
		if o := m.byID[id]; o.UserID == userID {
			cp := *o
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memoryOrders) List(ctx context.Context, params types.OrderListParams) ([]*types.Order, types.PageInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listed = params
	if m.err != nil {
		return nil, types.PageInfo{}, m.err
	}
	out := []*types.Order{}
	for _, id := range m.seq {
		cp := *m.byID[id]
		out = append(out, &cp)
	}
	return out, types.PageInfo{}, nil
}

func (m *memoryOrders) MarkPaid(ctx context.Context, id string, paidAt time.Time, result types.PaymentResult) error {
	if m.beforeMarkPaid != nil {
		m.beforeMarkPaid(m)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	o, ok := m.byID[id]
	if !ok {
		return types.NewAppError(types.ErrCodeNotFoundOrder, "order not found", nil)
	}
	if o.IsPaid {
		return types.NewAppError(types.ErrCodeConflictAlreadyPaid, "order is already paid", nil)
	}
	o.IsPaid = true
	o.PaidAt = &paidAt
	o.PaymentResult = &result
	return nil
}

func (m *memoryOrders) MarkPaymentFailed(ctx context.Context, id string, result types.PaymentResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	o, ok := m.byID[id]
	if !ok {
		return types.NewAppError(types.ErrCodeNotFoundOrder, "order not found", nil)
	}
	o.IsPaid = false
	o.PaymentResult = &result
	return nil
}

func (m *memoryOrders) MarkDelivered(ctx context.Context, id string, deliveredAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	o, ok := m.byID[id]
	if !ok {
		return types.NewAppError(types.ErrCodeNotFoundOrder, "order not found", nil)
	}
	o.IsDelivered = true
	o.DeliveredAt = &deliveredAt
	return nil
}

// recordingPublisher captures published order events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []types.OrderEvent
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, ev types.OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) eventTypes() []types.OrderEventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]types.OrderEventType, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testValidator() *core.Validator {
	return core.NewValidator(testLogger())
}

// withActor returns r carrying the given actor, as AuthMiddleware would.
func withActor(r *http.Request, id string, role types.UserRole) *http.Request {
	return r.WithContext(types.WithActor(r.Context(), types.Actor{ID: id, Role: role}))
}

func jsonRequest(method, target, body string) *http.Request {
	r := httptest.NewRequest(method, target, strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	return r
}

// errorCode extracts error.code from a JSON error response.
func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body core.APIErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode error body %q: %v", rec.Body.String(), err)
	}
	return body.Error.Code
}
