package handler

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/sakashimaa/electrowave/internal/domain"
	"github.com/sakashimaa/electrowave/internal/service"
	"github.com/sakashimaa/electrowave/pkg/mylogger"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type CartHandler struct {
	base
	carts service.CartService
}

func NewCartHandler(carts service.CartService, validate *validator.Validate, logger *zap.Logger, timeout time.Duration) *CartHandler {
	return &CartHandler{
		base:  newBase(validate, logger, timeout),
		carts: carts,
	}
}

type AddCartItemRequest struct {
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
	Quantity  int64 `json:"quantity" validate:"required,gte=1,max=1000"`
}

type UpdateCartItemRequest struct {
	Quantity int64 `json:"quantity" validate:"gte=0,max=1000"`
}

// CartResponse is the cart as shown to the shopper, priced at current
// product prices.
type CartResponse struct {
	UserID   int64             `json:"user_id"`
	Items    []domain.CartItem `json:"items"`
	Subtotal decimal.Decimal   `json:"subtotal"`
}

func newCartResponse(cart *domain.Cart) CartResponse {
	resp := CartResponse{Items: []domain.CartItem{}, Subtotal: cart.Subtotal()}
	if cart != nil {
		resp.UserID = cart.UserID
		if cart.Items != nil {
			resp.Items = cart.Items
		}
	}
	return resp
}

func (h *CartHandler) Get(c *fiber.Ctx) error {
	uid, ok := userID(c)
	if !ok {
		return unauthorized(c)
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	cart, err := h.carts.GetCart(ctx, uid)
	if err != nil {
		return h.fail(c, "get cart failed", err)
	}

	return c.JSON(newCartResponse(cart))
}

func (h *CartHandler) AddItem(c *fiber.Ctx) error {
	uid, ok := userID(c)
	if !ok {
		return unauthorized(c)
	}

	var req AddCartItemRequest
	if handled, err := h.bind(c, &req); handled {
		return err
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	cart, err := h.carts.AddItem(ctx, uid, req.ProductID, req.Quantity)
	if err != nil {
		return h.fail(c, "add cart item failed", err)
	}

	mylogger.Info(ctx, h.logger, "Cart item added",
		zap.Int64("user_id", uid),
		zap.Int64("product_id", req.ProductID),
		zap.Int64("quantity", req.Quantity),
	)
	return c.Status(fiber.StatusCreated).JSON(newCartResponse(cart))
}

func (h *CartHandler) UpdateItem(c *fiber.Ctx) error {
	uid, ok := userID(c)
	if !ok {
		return unauthorized(c)
	}

	productID, ok := paramID(c, "productId")
	if !ok {
		return badID(c, "product id")
	}

	var req UpdateCartItemRequest
	if handled, err := h.bind(c, &req); handled {
		return err
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	cart, err := h.carts.UpdateItem(ctx, uid, productID, req.Quantity)
	if err != nil {
		return h.fail(c, "update cart item failed", err)
	}

	return c.JSON(newCartResponse(cart))
}

func (h *CartHandler) RemoveItem(c *fiber.Ctx) error {
	uid, ok := userID(c)
	if !ok {
		return unauthorized(c)
	}

	productID, ok := paramID(c, "productId")
	if !ok {
		return badID(c, "product id")
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	cart, err := h.carts.RemoveItem(ctx, uid, productID)
	if err != nil {
		return h.fail(c, "remove cart item failed", err)
	}

	return c.JSON(newCartResponse(cart))
}

func (h *CartHandler) Clear(c *fiber.Ctx) error {
	uid, ok := userID(c)
	if !ok {
		return unauthorized(c)
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	if err := h.carts.ClearCart(ctx, uid); err != nil {
		return h.fail(c, "clear cart failed", err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}
