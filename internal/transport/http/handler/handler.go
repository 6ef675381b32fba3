package handler

import (
	"context"
	"reflect"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/sakashimaa/electrowave/internal/transport/http/middleware"
	"github.com/sakashimaa/electrowave/pkg/utils"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const defaultTimeout = 4 * time.Second

// NewValidator returns a validator that checks decimal.Decimal fields as
// numbers, so tags like gte=0.01 apply to prices.
func NewValidator() *validator.Validate {
	v := validator.New()
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})

	return v
}

type base struct {
	validate *validator.Validate
	logger   *zap.Logger
	timeout  time.Duration
}

func newBase(validate *validator.Validate, logger *zap.Logger, timeout time.Duration) base {
	if validate == nil {
		validate = NewValidator()
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return base{validate: validate, logger: logger, timeout: timeout}
}

func (b base) requestContext(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.UserContext(), b.timeout)
}

// bind parses the JSON body into dst and validates it. On failure the 400
// response has already been written and handled is true.
func (b base) bind(c *fiber.Ctx, dst any) (handled bool, err error) {
	if err := c.BodyParser(dst); err != nil {
		return true, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	if err := b.validate.Struct(dst); err != nil {
		return true, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":  "Validation failed",
			"fields": utils.FormatValidationError(err),
		})
	}

	return false, nil
}

func userID(c *fiber.Ctx) (int64, bool) {
	id, ok := c.Locals(middleware.LocalUserID).(int64)
	return id, ok && id > 0
}

func isAdmin(c *fiber.Ctx) bool {
	role, _ := c.Locals(middleware.LocalRole).(string)
	return role == middleware.RoleAdmin
}

func paramID(c *fiber.Ctx, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Params(name), 10, 64)
	return id, err == nil && id > 0
}

func unauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
}

func badID(c *fiber.Ctx, name string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid " + name})
}

func pagination(c *fiber.Ctx) (limit, offset int64) {
	limit = int64(c.QueryInt("limit", 20))
	offset = int64(c.QueryInt("offset", 0))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
