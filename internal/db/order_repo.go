package db

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"storefront/internal/types"
)

// OrderRepository provides data access for the orders table.
//
// The unique partial index on payment_reference is the only guard against
// duplicate orders for one payment intent; Create reports a violation as
// ErrCodeConflictPaymentReference so callers can fall back to the update path.
type OrderRepository struct {
	db DBTX
}

// NewOrderRepository creates a new OrderRepository backed by the given
// database connection (pool or transaction).
func NewOrderRepository(db DBTX) *OrderRepository {
	return &OrderRepository{db: db}
}

// orderColumns defines the standard set of columns selected for order queries.
const orderColumns = `id, user_id, payment_reference, order_items, shipping_address, payment_method,
	items_price, tax_price, shipping_price, total_price,
	is_paid, paid_at, payment_result, is_delivered, delivered_at,
	created_at, updated_at`

// scanOrder scans a single order row. The columns must match orderColumns.
// Nullable JSONB columns are scanned as raw bytes.
func scanOrder(row pgx.Row) (*types.Order, error) {
	var o types.Order
	var (
		shippingRaw []byte
		resultRaw   []byte
	)
	err := row.Scan(
		&o.ID,
		&o.UserID,
		&o.PaymentReference,
		&o.Items,
		&shippingRaw,
		&o.PaymentMethod,
		&o.ItemsPrice,
		&o.TaxPrice,
		&o.ShippingPrice,
		&o.TotalPrice,
		&o.IsPaid,
		&o.PaidAt,
		&resultRaw,
		&o.IsDelivered,
		&o.DeliveredAt,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(shippingRaw) > 0 {
		var addr types.ShippingAddress
		if err := json.Unmarshal(shippingRaw, &addr); err != nil {
			return nil, fmt.Errorf("decode shipping_address: %w", err)
		}
		o.ShippingAddress = &addr
	}
	if len(resultRaw) > 0 {
		var pr types.PaymentResult
		if err := json.Unmarshal(resultRaw, &pr); err != nil {
			return nil, fmt.Errorf("decode payment_result: %w", err)
		}
		o.PaymentResult = &pr
	}
	if o.Items == nil {
		o.Items = types.LineItems{}
	}
	return &o, nil
}

func addressArg(a *types.ShippingAddress) any {
	if a == nil {
		return nil
	}
	return *a
}

func paymentResultArg(p *types.PaymentResult) any {
	if p == nil {
		return nil
	}
	return *p
}

// Create inserts a new order. CreatedAt/UpdatedAt default to NOW() when zero.
//
// Returns ErrCodeConflictPaymentReference if another order already holds the
// same payment reference.
func (r *OrderRepository) Create(ctx context.Context, o *types.Order) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO orders (id, user_id, payment_reference, order_items, shipping_address, payment_method,
			items_price, tax_price, shipping_price, total_price,
			is_paid, paid_at, payment_result, is_delivered, delivered_at,
			created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			COALESCE($16, NOW()), COALESCE($16, NOW()))`,
		o.ID,
		o.UserID,
		o.PaymentReference,
		o.Items,
		addressArg(o.ShippingAddress),
		o.PaymentMethod,
		o.ItemsPrice,
		o.TaxPrice,
		o.ShippingPrice,
		o.TotalPrice,
		o.IsPaid,
		o.PaidAt,
		paymentResultArg(o.PaymentResult),
		o.IsDelivered,
		o.DeliveredAt,
		nilIfZeroTime(o.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return types.NewAppErrorWithDetails(
				types.ErrCodeConflictPaymentReference,
				"an order already exists for this payment reference",
				err,
				map[string]any{"payment_reference": o.Reference(), "constraint": violatedConstraint(err)},
			)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create order", err)
	}
	return nil
}

// GetByID retrieves an order by its ID.
// Returns ErrCodeNotFoundOrder if no order exists.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*types.Order, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`,
		id,
	)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundOrder, "order not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve order", err)
	}
	return o, nil
}

// FindByPaymentReference returns the order holding the given payment
// reference, or (nil, nil) when there is none.
func (r *OrderRepository) FindByPaymentReference(ctx context.Context, ref string) (*types.Order, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE payment_reference = $1`,
		ref,
	)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to look up order by payment reference", err)
	}
	return o, nil
}

// MarkPaid sets the paid flag, the paid timestamp and the payment result
// snapshot on an unpaid order. Only the first caller wins; an order that is
// already paid is left untouched and ErrCodeConflictAlreadyPaid is returned.
func (r *OrderRepository) MarkPaid(ctx context.Context, id string, paidAt time.Time, result types.PaymentResult) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE orders
		 SET is_paid = TRUE,
		     paid_at = $2,
		     payment_result = $3,
		     updated_at = NOW()
		 WHERE id = $1 AND is_paid = FALSE`,
		id,
		paidAt,
		result,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark order paid", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var isPaid bool
	err = r.db.QueryRow(ctx, `SELECT is_paid FROM orders WHERE id = $1`, id).Scan(&isPaid)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.NewAppError(types.ErrCodeNotFoundOrder, "order not found", nil)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to read order after update", err)
	}
	if isPaid {
		return types.NewAppError(types.ErrCodeConflictAlreadyPaid, "order is already paid", nil)
	}
	return types.NewAppError(types.ErrCodeNotFoundOrder, "order not found", nil)
}

// MarkPaymentFailed clears the paid flag and records the failed payment
// result. The order itself is kept.
func (r *OrderRepository) MarkPaymentFailed(ctx context.Context, id string, result types.PaymentResult) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE orders
		 SET is_paid = FALSE,
		     payment_result = $2,
		     updated_at = NOW()
		 WHERE id = $1`,
		id,
		result,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to record payment failure", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundOrder, "order not found", nil)
	}
	return nil
}

// MarkDelivered sets the delivered flag and timestamp.
func (r *OrderRepository) MarkDelivered(ctx context.Context, id string, deliveredAt time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE orders
		 SET is_delivered = TRUE,
		     delivered_at = $2,
		     updated_at = NOW()
		 WHERE id = $1`,
		id,
		deliveredAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark order delivered", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundOrder, "order not found", nil)
	}
	return nil
}

// ListByUser returns every order owned by userID, newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string) ([]*types.Order, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+orderColumns+`
		 FROM orders
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list orders", err)
	}
	return collectOrders(rows)
}

// List returns one page of all orders, newest first, using keyset
// pagination on (created_at, id).
func (r *OrderRepository) List(ctx context.Context, params types.OrderListParams) ([]*types.Order, types.PageInfo, error) {
	params = params.Normalize()

	query := `SELECT ` + orderColumns + ` FROM orders`
	args := []any{}
	if params.Cursor != "" {
		createdAt, id, err := decodeOrderCursor(params.Cursor)
		if err != nil {
			return nil, types.PageInfo{}, types.NewAppError(types.ErrCodeValidationInvalidPayload, "invalid cursor", err)
		}
		query += ` WHERE (created_at, id) < ($1, $2)`
		args = append(args, createdAt, id)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d`, len(args)+1)
	// Fetch one extra row to learn whether another page exists.
	args = append(args, params.Limit+1)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, types.PageInfo{}, types.NewAppError(types.ErrCodeInternalDB, "failed to list orders", err)
	}
	orders, err := collectOrders(rows)
	if err != nil {
		return nil, types.PageInfo{}, err
	}

	var page types.PageInfo
	if len(orders) > params.Limit {
		orders = orders[:params.Limit]
		last := orders[len(orders)-1]
		page.HasMore = true
		page.NextCursor = encodeOrderCursor(last.CreatedAt, last.ID)
	}
	return orders, page, nil
}

func collectOrders(rows pgx.Rows) ([]*types.Order, error) {
	defer rows.Close()

	orders := []*types.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan order", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate orders", err)
	}
	return orders, nil
}

func encodeOrderCursor(createdAt time.Time, id string) string {
	raw := strconv.FormatInt(createdAt.UnixNano(), 10) + ":" + id
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeOrderCursor(cursor string) (time.Time, string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", err
	}
	nanos, id, ok := strings.Cut(string(raw), ":")
	if !ok || id == "" {
		return time.Time{}, "", fmt.Errorf("malformed cursor")
	}
	n, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return time.Time{}, "", err
	}
	return time.Unix(0, n).UTC(), id, nil
}

// nilIfZeroTime returns nil if the time is zero, otherwise returns a pointer
// to the time. Used to let the DB default (NOW()) apply when no time is set.
func nilIfZeroTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
