package handler

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/sakashimaa/electrowave/internal/domain"
	"github.com/sakashimaa/electrowave/pkg/mylogger"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// errorResponse maps a service error to a status code and body. Typed
// errors carry their identifiers into the body.
func errorResponse(err error) (int, fiber.Map) {
	var (
		abortErr      *domain.TransactionAbortError
		stockErr      *domain.InsufficientStockError
		notFoundErr   *domain.ProductNotFoundError
		declinedErr   *domain.PaymentDeclinedError
		transitionErr *domain.InvalidTransitionError
	)

	switch {
	case errors.As(err, &abortErr):
		return fiber.StatusInternalServerError, fiber.Map{"error": "failed to create order"}
	case errors.Is(err, domain.ErrEmptyCart):
		return fiber.StatusBadRequest, fiber.Map{"error": "cart is empty"}
	case errors.Is(err, domain.ErrCartChanged):
		return fiber.StatusConflict, fiber.Map{"error": "cart changed during checkout, review it and retry"}
	case errors.As(err, &stockErr):
		return fiber.StatusConflict, fiber.Map{
			"error":      "insufficient stock",
			"product_id": stockErr.ProductID,
			"requested":  stockErr.Requested,
			"available":  stockErr.Available,
		}
	case errors.Is(err, domain.ErrInsufficientStock):
		return fiber.StatusConflict, fiber.Map{"error": "insufficient stock"}
	case errors.As(err, &notFoundErr):
		return fiber.StatusNotFound, fiber.Map{"error": "product not found", "product_id": notFoundErr.ProductID}
	case errors.Is(err, domain.ErrProductNotFound):
		return fiber.StatusNotFound, fiber.Map{"error": "product not found"}
	case errors.As(err, &declinedErr):
		return fiber.StatusPaymentRequired, fiber.Map{"error": "payment declined", "reason": declinedErr.Reason}
	case errors.Is(err, domain.ErrPaymentUnavailable), errors.Is(err, gobreaker.ErrOpenState):
		return fiber.StatusServiceUnavailable, fiber.Map{"error": "Service temporarily unavailable, try again later"}
	case errors.As(err, &transitionErr):
		return fiber.StatusConflict, fiber.Map{
			"error": "invalid status transition",
			"from":  transitionErr.From,
			"to":    transitionErr.To,
		}
	case errors.Is(err, domain.ErrOrderNotFound):
		return fiber.StatusNotFound, fiber.Map{"error": "order not found"}
	case errors.Is(err, domain.ErrCartItemNotFound):
		return fiber.StatusNotFound, fiber.Map{"error": "cart item not found"}
	case errors.Is(err, domain.ErrInvalidOrderStatus),
		errors.Is(err, domain.ErrInvalidPaymentMethod),
		errors.Is(err, domain.ErrInvalidQuantity),
		errors.Is(err, domain.ErrInvalidProduct),
		errors.Is(err, domain.ErrInvalidDateRange):
		return fiber.StatusBadRequest, fiber.Map{"error": err.Error()}
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout, fiber.Map{"error": "request timed out"}
	default:
		return fiber.StatusInternalServerError, fiber.Map{"error": "Internal server error"}
	}
}

func (b base) fail(c *fiber.Ctx, msg string, err error) error {
	status, body := errorResponse(err)

	if status >= fiber.StatusInternalServerError {
		mylogger.Error(c.UserContext(), b.logger, msg, zap.Error(err), zap.Int("status", status))
	} else {
		mylogger.Warn(c.UserContext(), b.logger, msg, zap.Error(err), zap.Int("status", status))
	}

	return c.Status(status).JSON(body)
}
