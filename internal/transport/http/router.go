package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sakashimaa/electrowave/internal/transport/http/handler"
	"github.com/sakashimaa/electrowave/internal/transport/http/middleware"
)

type Handlers struct {
	Cart    *handler.CartHandler
	Order   *handler.OrderHandler
	Product *handler.ProductHandler
	Admin   *handler.AdminHandler
	Health  fiber.Handler
	Metrics fiber.Handler
}

func RegisterRoutes(app *fiber.App, h *Handlers, accessSecret string) {
	if h.Health != nil {
		app.Get("/health", h.Health)
	}
	if h.Metrics != nil {
		app.Get("/metrics", h.Metrics)
	}

	api := app.Group("/api", middleware.NewAuthMiddleware(accessSecret), middleware.NewIsActivatedMiddleware())

	cart := api.Group("/cart")
	cart.Get("", h.Cart.Get)
	cart.Delete("", h.Cart.Clear)
	cart.Post("/items", h.Cart.AddItem)
	cart.Put("/items/:productId", h.Cart.UpdateItem)
	cart.Delete("/items/:productId", h.Cart.RemoveItem)

	order := api.Group("/orders")
	order.Post("", h.Order.Create)
	order.Get("", h.Order.List)
	order.Get("/:id", h.Order.Get)

	product := api.Group("/products")
	product.Get("", h.Product.List)
	product.Get("/:id", h.Product.Get)

	admin := api.Group("/admin", middleware.NewAdminMiddleware())
	admin.Post("/products", h.Product.Create)
	admin.Patch("/products/:id", h.Product.Update)
	admin.Delete("/products/:id", h.Product.Delete)
	admin.Patch("/orders/:id/status", h.Admin.UpdateOrderStatus)
	admin.Get("/revenue", h.Admin.Revenue)
}
