package handler

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/sakashimaa/electrowave/internal/domain"
	"github.com/sakashimaa/electrowave/internal/service"
	"github.com/sakashimaa/electrowave/pkg/mylogger"
	"go.uber.org/zap"
)

type OrderHandler struct {
	base
	checkout service.CheckoutService
	orders   service.OrderService
}

func NewOrderHandler(
	checkout service.CheckoutService,
	orders service.OrderService,
	validate *validator.Validate,
	logger *zap.Logger,
	timeout time.Duration,
) *OrderHandler {
	return &OrderHandler{
		base:     newBase(validate, logger, timeout),
		checkout: checkout,
		orders:   orders,
	}
}

type CreateOrderRequest struct {
	ShippingAddress domain.ShippingAddress `json:"shipping_address"`
	PaymentMethod   string                 `json:"payment_method" validate:"required,oneof=card paypal apple cod"`
}

func (h *OrderHandler) Create(c *fiber.Ctx) error {
	uid, ok := userID(c)
	if !ok {
		return unauthorized(c)
	}

	var req CreateOrderRequest
	if handled, err := h.bind(c, &req); handled {
		return err
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	order, err := h.checkout.PlaceOrder(ctx, uid, req.ShippingAddress, domain.PaymentMethod(req.PaymentMethod))
	if err != nil {
		return h.fail(c, "place order failed", err)
	}

	mylogger.Info(ctx, h.logger, "Order created via HTTP",
		zap.Int64("order_id", order.ID),
		zap.Int64("user_id", uid),
	)
	return c.Status(fiber.StatusCreated).JSON(order)
}

func (h *OrderHandler) List(c *fiber.Ctx) error {
	uid, ok := userID(c)
	if !ok {
		return unauthorized(c)
	}

	limit, offset := pagination(c)

	ctx, cancel := h.requestContext(c)
	defer cancel()

	orders, err := h.orders.ListOrders(ctx, uid, limit, offset)
	if err != nil {
		return h.fail(c, "list orders failed", err)
	}

	return c.JSON(fiber.Map{"orders": orders, "limit": limit, "offset": offset})
}

// Get returns an order to its owner or to an admin. Other callers get 404
// so order ids are not enumerable.
func (h *OrderHandler) Get(c *fiber.Ctx) error {
	uid, ok := userID(c)
	if !ok {
		return unauthorized(c)
	}

	orderID, ok := paramID(c, "id")
	if !ok {
		return badID(c, "order id")
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		return h.fail(c, "get order failed", err)
	}

	if order.UserID != uid && !isAdmin(c) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "order not found"})
	}

	return c.JSON(order)
}
