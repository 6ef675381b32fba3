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

const revenueWindow = 30 * 24 * time.Hour

type AdminHandler struct {
	base
	orders  service.OrderService
	revenue service.RevenueService
	now     func() time.Time
}

func NewAdminHandler(
	orders service.OrderService,
	revenue service.RevenueService,
	validate *validator.Validate,
	logger *zap.Logger,
	timeout time.Duration,
) *AdminHandler {
	return &AdminHandler{
		base:    newBase(validate, logger, timeout),
		orders:  orders,
		revenue: revenue,
		now:     time.Now,
	}
}

type UpdateOrderStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=Pending Shipped Delivered Cancelled"`
	Force  bool   `json:"force"`
}

func (h *AdminHandler) UpdateOrderStatus(c *fiber.Ctx) error {
	orderID, ok := paramID(c, "id")
	if !ok {
		return badID(c, "order id")
	}

	var req UpdateOrderStatusRequest
	if handled, err := h.bind(c, &req); handled {
		return err
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	status := domain.OrderStatus(req.Status)

	var (
		order *domain.Order
		err   error
	)
	if req.Force {
		order, err = h.orders.ForceOrderStatus(ctx, orderID, status)
	} else {
		order, err = h.orders.UpdateOrderStatus(ctx, orderID, status)
	}
	if err != nil {
		return h.fail(c, "update order status failed", err)
	}

	adminID, _ := userID(c)
	mylogger.Info(ctx, h.logger, "Order status updated by admin",
		zap.Int64("order_id", orderID),
		zap.Int64("admin_id", adminID),
		zap.String("status", req.Status),
		zap.Bool("force", req.Force),
	)
	return c.JSON(order)
}

// Revenue reports over [from, to). Both bounds accept a date (2006-01-02)
// or an RFC 3339 timestamp. The default window is the last 30 days.
func (h *AdminHandler) Revenue(c *fiber.Ctx) error {
	to := h.now().UTC()
	from := to.Add(-revenueWindow)

	if raw := c.Query("from"); raw != "" {
		t, ok := parseTime(raw)
		if !ok {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid from"})
		}
		from = t
	}
	if raw := c.Query("to"); raw != "" {
		t, ok := parseTime(raw)
		if !ok {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid to"})
		}
		to = t
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	report, err := h.revenue.RevenueReport(ctx, from, to)
	if err != nil {
		return h.fail(c, "revenue report failed", err)
	}

	return c.JSON(report)
}

func parseTime(raw string) (time.Time, bool) {
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t.UTC(), true
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), true
	}
	return time.Time{}, false
}
