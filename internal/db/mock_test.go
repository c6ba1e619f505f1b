package db

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"storefront/internal/types"
)

// --- Mock DBTX ---

type mockDBTX struct {
	mock.Mock
}

func (m *mockDBTX) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *mockDBTX) Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error) {
	args := m.Called(ctx, sql, arguments)
	if r := args.Get(0); r != nil {
		return r.(pgx.Rows), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDBTX) QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgx.Row)
}

// --- Mock Row ---

type mockRow struct {
	scanErr error
	scanFn  func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error {
	if r.scanFn != nil {
		return r.scanFn(dest...)
	}
	return r.scanErr
}

// --- Mock Rows for Query ---

// mockRows implements pgx.Rows; each entry scans one row.
type mockRows struct {
	rows   []func(dest ...any) error
	idx    int
	closed bool
	errVal error
}

func newMockRows(rows ...func(dest ...any) error) *mockRows {
	return &mockRows{rows: rows, idx: -1}
}

func (r *mockRows) Next() bool {
	if r.closed {
		return false
	}
	r.idx++
	return r.idx < len(r.rows)
}

func (r *mockRows) Scan(dest ...any) error                       { return r.rows[r.idx](dest...) }
func (r *mockRows) Close()                                       { r.closed = true }
func (r *mockRows) Err() error                                   { return r.errVal }
func (r *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *mockRows) RawValues() [][]byte                          { return nil }
func (r *mockRows) Values() ([]any, error)                       { return nil, nil }
func (r *mockRows) Conn() *pgx.Conn                              { return nil }

// orderScan returns a scan function that fills dest in orderColumns order.
func orderScan(o *types.Order) func(dest ...any) error {
	return func(dest ...any) error {
		*dest[0].(*string) = o.ID
		*dest[1].(*string) = o.UserID
		*dest[2].(**string) = o.PaymentReference
		*dest[3].(*types.LineItems) = o.Items
		if o.ShippingAddress != nil {
			raw, _ := json.Marshal(o.ShippingAddress)
			*dest[4].(*[]byte) = raw
		}
		*dest[5].(*string) = o.PaymentMethod
		*dest[6].(*decimal.Decimal) = o.ItemsPrice
		*dest[7].(*decimal.Decimal) = o.TaxPrice
		*dest[8].(*decimal.Decimal) = o.ShippingPrice
		*dest[9].(*decimal.Decimal) = o.TotalPrice
		*dest[10].(*bool) = o.IsPaid
		*dest[11].(**time.Time) = o.PaidAt
		if o.PaymentResult != nil {
			raw, _ := json.Marshal(o.PaymentResult)
			*dest[12].(*[]byte) = raw
		}
		*dest[13].(*bool) = o.IsDelivered
		*dest[14].(**time.Time) = o.DeliveredAt
		*dest[15].(*time.Time) = o.CreatedAt
		*dest[16].(*time.Time) = o.UpdatedAt
		return nil
	}
}

func strPtr(s string) *string { return &s }
