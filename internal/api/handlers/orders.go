package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"storefront/internal/core"
	"storefront/internal/payments"
	"storefront/internal/types"
)

// --- DTOs ---

// OrderItemInput is one cart line in CreateOrderRequest.
type OrderItemInput struct {
	Product  string          `json:"product" validate:"max=64"`
	Name     string          `json:"name" validate:"required,max=200"`
	Quantity int             `json:"quantity" validate:"gt=0,lte=1000"`
	Price    decimal.Decimal `json:"price" validate:"gte=0"`
}

// ShippingAddressInput is the delivery address in CreateOrderRequest.
type ShippingAddressInput struct {
	Name       string `json:"name" validate:"max=200"`
	Line1      string `json:"line1" validate:"required,max=200"`
	Line2      string `json:"line2" validate:"max=200"`
	City       string `json:"city" validate:"required,max=100"`
	State      string `json:"state" validate:"max=100"`
	PostalCode string `json:"postalCode" validate:"required,max=20"`
	Country    string `json:"country" validate:"required,max=100"`
}

// CreateOrderRequest is the request body for POST /orders. Prices are
// computed server-side from the items.
type CreateOrderRequest struct {
	OrderItems       []OrderItemInput      `json:"orderItems" validate:"dive"`
	ShippingAddress  *ShippingAddressInput `json:"shippingAddress" validate:"required"`
	PaymentMethod    string                `json:"paymentMethod" validate:"required,max=50"`
	PaymentReference string                `json:"paymentReference" validate:"omitempty,payment_ref"`
}

// PayOrderRequest is the request body for PUT /orders/{id}/pay: the
// provider's payment snapshot.
type PayOrderRequest struct {
	ID           string `json:"id" validate:"required"`
	Status       string `json:"status" validate:"required"`
	UpdateTime   string `json:"updateTime"`
	EmailAddress string `json:"emailAddress" validate:"omitempty,email"`
}

// --- Dependencies ---

// OrderRepo is the persistence the order endpoints need.
type OrderRepo interface {
	Create(ctx context.Context, o *types.Order) error
	GetByID(ctx context.Context, id string) (*types.Order, error)
	FindByPaymentReference(ctx context.Context, ref string) (*types.Order, error)
	ListByUser(ctx context.Context, userID string) ([]*types.Order, error)
	List(ctx context.Context, params types.OrderListParams) ([]*types.Order, types.PageInfo, error)
	MarkPaid(ctx context.Context, id string, paidAt time.Time, result types.PaymentResult) error
	MarkDelivered(ctx context.Context, id string, deliveredAt time.Time) error
}

// OrderHandlerConfig holds the OrderHandler's collaborators.
type OrderHandlerConfig struct {
	Orders    OrderRepo
	Publisher payments.EventPublisher
	Pricing   payments.PricingRules
	Clock     types.Clock
	Validator *core.Validator
	Logger    *slog.Logger
}

// OrderHandler serves buyer order placement and reads, plus the admin
// pay and deliver confirmations.
type OrderHandler struct {
	orders    OrderRepo
	publisher payments.EventPublisher
	pricing   payments.PricingRules
	clock     types.Clock
	validator *core.Validator
	logger    *slog.Logger
}

// NewOrderHandler creates an OrderHandler. A nil Publisher disables events.
func NewOrderHandler(cfg OrderHandlerConfig) *OrderHandler {
	h := &OrderHandler{
		orders:    cfg.Orders,
		publisher: cfg.Publisher,
		pricing:   cfg.Pricing,
		clock:     cfg.Clock,
		validator: cfg.Validator,
		logger:    cfg.Logger,
	}
	if h.clock == nil {
		h.clock = types.RealClock{}
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	return h
}

// RegisterRoutes mounts the order routes under /orders.
//
// Buyer Routes:
//   - POST /              - Place an order
//   - GET  /mine          - Own orders, newest first
//   - GET  /{id}          - One order (owner or admin)
//
// Admin Routes:
//   - GET  /              - All orders, paginated
//   - PUT  /{id}/pay      - Confirm payment
//   - PUT  /{id}/deliver  - Confirm delivery
func (h *OrderHandler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.HandleCreate)
	r.Get("/mine", h.HandleListMine)
	r.Get("/{id}", h.HandleGet)

	r.Group(func(r chi.Router) {
		r.Use(core.RequireAdmin)
		r.Get("/", h.HandleList)
		r.Put("/{id}/pay", h.HandlePay)
		r.Put("/{id}/deliver", h.HandleDeliver)
	})
}

// HandleCreate processes POST /orders.
//
// When the request carries a payment reference that the webhook already
// turned into an order for this buyer, that order is returned with 200
// instead of a conflict.
func (h *OrderHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req CreateOrderRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if len(req.OrderItems) == 0 {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationEmptyOrder, "order must contain at least one item", nil))
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	order := h.buildOrder(actor.ID, req)
	err := h.orders.Create(r.Context(), order)
	if types.HasCode(err, types.ErrCodeConflictPaymentReference) {
		existing, findErr := h.orders.FindByPaymentReference(r.Context(), req.PaymentReference)
		if findErr == nil && existing != nil && existing.OwnedBy(actor.ID) {
			core.JSON(w, r, http.StatusOK, existing)
			return
		}
	}
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "order created",
		"order_id", order.ID,
		"user_id", actor.ID,
		"total_price", order.TotalPrice.StringFixed(2),
	)
	h.publish(r.Context(), types.OrderEventCreated, order)
	core.JSON(w, r, http.StatusCreated, order)
}

func (h *OrderHandler) buildOrder(userID string, req CreateOrderRequest) *types.Order {
	items := make(types.LineItems, 0, len(req.OrderItems))
	for _, in := range req.OrderItems {
		items = append(items, types.LineItem{
			ProductID: in.Product,
			Name:      in.Name,
			Quantity:  in.Quantity,
			Price:     in.Price,
		})
	}

	now := h.clock.Now()
	order := &types.Order{
		ID:            "ord_" + uuid.NewString(),
		UserID:        userID,
		Items:         items,
		PaymentMethod: req.PaymentMethod,
		ShippingAddress: &types.ShippingAddress{
			Name:       req.ShippingAddress.Name,
			Line1:      req.ShippingAddress.Line1,
			Line2:      req.ShippingAddress.Line2,
			City:       req.ShippingAddress.City,
			State:      req.ShippingAddress.State,
			PostalCode: req.ShippingAddress.PostalCode,
			Country:    req.ShippingAddress.Country,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if req.PaymentReference != "" {
		ref := req.PaymentReference
		order.PaymentReference = &ref
	}
	h.pricing.ForCart(items).Apply(order)
	return order
}

// HandleListMine processes GET /orders/mine.
func (h *OrderHandler) HandleListMine(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	orders, err := h.orders.ListByUser(r.Context(), actor.ID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, orders)
}

// HandleGet processes GET /orders/{id}. Buyers may only read their own
// orders; admins may read any.
func (h *OrderHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	order, err := h.orders.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if !actor.IsAdmin() && !order.OwnedBy(actor.ID) {
		core.Error(w, r, types.NewAppError(types.ErrCodePermissionOwner, "order belongs to another user", nil))
		return
	}
	core.JSON(w, r, http.StatusOK, order)
}

// HandleList processes GET /orders?limit=&cursor= (admin).
func (h *OrderHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	params := types.OrderListParams{Cursor: r.URL.Query().Get("cursor")}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidPayload, "limit must be a positive integer", err))
			return
		}
		params.Limit = limit
	}

	orders, page, err := h.orders.List(r.Context(), params)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, types.ListResponse[*types.Order]{Data: orders, PageInfo: page})
}

// HandlePay processes PUT /orders/{id}/pay (admin). Paying an already-paid
// order returns it unchanged.
func (h *OrderHandler) HandlePay(w http.ResponseWriter, r *http.Request) {
	var req PayOrderRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	id := chi.URLParam(r, "id")
	order, err := h.orders.GetByID(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if order.IsPaid {
		core.JSON(w, r, http.StatusOK, order)
		return
	}

	now := h.clock.Now().UTC()
	result := types.PaymentResult{
		ID:           req.ID,
		Status:       req.Status,
		UpdateTime:   req.UpdateTime,
		EmailAddress: req.EmailAddress,
	}
	if result.UpdateTime == "" {
		result.UpdateTime = now.Format(time.RFC3339)
	}
	if err := h.orders.MarkPaid(r.Context(), id, now, result); err != nil {
		if !types.HasCode(err, types.ErrCodeConflictAlreadyPaid) {
			core.Error(w, r, err)
			return
		}
		current, err := h.orders.GetByID(r.Context(), id)
		if err != nil {
			core.Error(w, r, err)
			return
		}
		core.JSON(w, r, http.StatusOK, current)
		return
	}

	order.IsPaid = true
	order.PaidAt = &now
	order.PaymentResult = &result
	order.UpdatedAt = now

	h.logger.InfoContext(r.Context(), "order marked paid", "order_id", id)
	h.publish(r.Context(), types.OrderEventPaid, order)
	core.JSON(w, r, http.StatusOK, order)
}

// HandleDeliver processes PUT /orders/{id}/deliver (admin).
func (h *OrderHandler) HandleDeliver(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	order, err := h.orders.GetByID(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if order.IsDelivered {
		core.Error(w, r, types.NewAppError(types.ErrCodeConflictAlreadyDelivered, "order is already delivered", nil))
		return
	}

	now := h.clock.Now().UTC()
	if err := h.orders.MarkDelivered(r.Context(), id, now); err != nil {
		core.Error(w, r, err)
		return
	}

	order.IsDelivered = true
	order.DeliveredAt = &now
	order.UpdatedAt = now

	h.logger.InfoContext(r.Context(), "order marked delivered", "order_id", id)
	h.publish(r.Context(), types.OrderEventDelivered, order)
	core.JSON(w, r, http.StatusOK, order)
}

// publish sends an order event. Failures are logged; the HTTP response
// already reflects the committed state.
func (h *OrderHandler) publish(ctx context.Context, typ types.OrderEventType, o *types.Order) {
	if h.publisher == nil {
		return
	}
	ev := types.NewOrderEvent(uuid.NewString(), typ, o, h.clock.Now())
	if err := h.publisher.Publish(ctx, ev); err != nil {
		h.logger.WarnContext(ctx, "failed to publish order event",
			"order_id", o.ID,
			"event_type", string(typ),
			"error", err,
		)
	}
}
