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

type ProductHandler struct {
	base
	products service.ProductService
}

func NewProductHandler(products service.ProductService, validate *validator.Validate, logger *zap.Logger, timeout time.Duration) *ProductHandler {
	return &ProductHandler{
		base:     newBase(validate, logger, timeout),
		products: products,
	}
}

type CreateProductRequest struct {
	Name        string          `json:"name" validate:"required,min=1,max=200"`
	Description string          `json:"description" validate:"max=2000"`
	Price       decimal.Decimal `json:"price" validate:"gte=0.01"`
	Stock       int64           `json:"stock" validate:"gte=0"`
}

type UpdateProductRequest struct {
	Name        *string          `json:"name" validate:"omitempty,min=1,max=200"`
	Description *string          `json:"description" validate:"omitempty,max=2000"`
	Price       *decimal.Decimal `json:"price" validate:"omitempty,gte=0.01"`
	Stock       *int64           `json:"stock" validate:"omitempty,gte=0"`
}

func (h *ProductHandler) List(c *fiber.Ctx) error {
	limit, offset := pagination(c)

	ctx, cancel := h.requestContext(c)
	defer cancel()

	products, total, err := h.products.List(ctx, limit, offset)
	if err != nil {
		return h.fail(c, "list products failed", err)
	}

	return c.JSON(fiber.Map{"products": products, "total": total})
}

func (h *ProductHandler) Get(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return badID(c, "product id")
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	product, err := h.products.FindByID(ctx, id)
	if err != nil {
		return h.fail(c, "get product failed", err)
	}

	return c.JSON(product)
}

func (h *ProductHandler) Create(c *fiber.Ctx) error {
	var req CreateProductRequest
	if handled, err := h.bind(c, &req); handled {
		return err
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	product := &domain.Product{
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		Stock:       req.Stock,
	}

	id, err := h.products.Create(ctx, product)
	if err != nil {
		return h.fail(c, "create product failed", err)
	}
	product.ID = id

	mylogger.Info(ctx, h.logger, "Product created", zap.Int64("product_id", id))
	return c.Status(fiber.StatusCreated).JSON(product)
}

func (h *ProductHandler) Update(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return badID(c, "product id")
	}

	var req UpdateProductRequest
	if handled, err := h.bind(c, &req); handled {
		return err
	}

	input := &domain.UpdateProductInput{
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		Stock:       req.Stock,
	}
	if input.Empty() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "nothing to update"})
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	product, err := h.products.Update(ctx, id, input)
	if err != nil {
		return h.fail(c, "update product failed", err)
	}

	return c.JSON(product)
}

func (h *ProductHandler) Delete(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return badID(c, "product id")
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	if err := h.products.Delete(ctx, id); err != nil {
		return h.fail(c, "delete product failed", err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}
