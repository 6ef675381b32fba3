package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/sakashimaa/electrowave/internal/domain"
	"github.com/sakashimaa/electrowave/internal/repository"
	"github.com/sakashimaa/electrowave/pkg/db"
	"github.com/sakashimaa/electrowave/pkg/mylogger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type CartService interface {
	GetCart(ctx context.Context, userID int64) (*domain.Cart, error)
	AddItem(ctx context.Context, userID, productID, quantity int64) (*domain.Cart, error)
	UpdateItem(ctx context.Context, userID, productID, quantity int64) (*domain.Cart, error)
	RemoveItem(ctx context.Context, userID, productID int64) (*domain.Cart, error)
	ClearCart(ctx context.Context, userID int64) error
}

// ProductReader resolves a product for stock checks. ProductService and its
// cached decorator both satisfy it.
type ProductReader interface {
	FindByID(ctx context.Context, id int64) (*domain.Product, error)
}

type cartService struct {
	pool     db.Pool
	carts    repository.CartRepository
	products ProductReader
	logger   *zap.Logger
	tracer   trace.Tracer
}

func NewCartService(pool db.Pool, carts repository.CartRepository, products ProductReader, logger *zap.Logger) CartService {
	return &cartService{
		pool:     pool,
		carts:    carts,
		products: products,
		logger:   logger,
		tracer:   otel.Tracer("cart_service"),
	}
}

func (s *cartService) GetCart(ctx context.Context, userID int64) (*domain.Cart, error) {
	ctx, span := s.tracer.Start(ctx, "CartService.GetCart")
	defer span.End()

	cart, err := s.carts.GetCart(ctx, userID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}

	return cart, nil
}

// AddItem increments the line. The stock check is advisory: checkout
// re-validates under a row lock.
func (s *cartService) AddItem(ctx context.Context, userID, productID, quantity int64) (*domain.Cart, error) {
	ctx, span := s.tracer.Start(ctx, "CartService.AddItem")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("user_id", userID),
		attribute.Int64("product_id", productID),
		attribute.Int64("quantity", quantity),
	)

	if quantity < 1 {
		return nil, fmt.Errorf("%w: quantity must be at least 1", domain.ErrInvalidQuantity)
	}

	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return nil, err
	}

	current, err := s.carts.GetQuantity(ctx, userID, productID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if current+quantity > product.Stock {
		return nil, &domain.InsufficientStockError{
			ProductID: productID,
			Requested: current + quantity,
			Available: product.Stock,
		}
	}

	total, err := s.carts.AddItem(ctx, userID, productID, quantity)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	mylogger.Debug(ctx, s.logger, "Cart item added",
		zap.Int64("user_id", userID),
		zap.Int64("product_id", productID),
		zap.Int64("quantity", total),
	)

	return s.GetCart(ctx, userID)
}

// UpdateItem sets the line quantity; zero removes the line.
func (s *cartService) UpdateItem(ctx context.Context, userID, productID, quantity int64) (*domain.Cart, error) {
	ctx, span := s.tracer.Start(ctx, "CartService.UpdateItem")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("user_id", userID),
		attribute.Int64("product_id", productID),
		attribute.Int64("quantity", quantity),
	)

	if quantity < 0 {
		return nil, fmt.Errorf("%w: quantity must not be negative", domain.ErrInvalidQuantity)
	}

	if quantity == 0 {
		if err := s.carts.RemoveItem(ctx, userID, productID); err != nil && !errors.Is(err, repository.ErrCartItemNotFound) {
			span.RecordError(err)
			return nil, err
		}
		return s.GetCart(ctx, userID)
	}

	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return nil, err
	}

	if quantity > product.Stock {
		return nil, &domain.InsufficientStockError{
			ProductID: productID,
			Requested: quantity,
			Available: product.Stock,
		}
	}

	if err := s.carts.SetQuantity(ctx, userID, productID, quantity); err != nil {
		span.RecordError(err)
		return nil, err
	}

	return s.GetCart(ctx, userID)
}

func (s *cartService) RemoveItem(ctx context.Context, userID, productID int64) (*domain.Cart, error) {
	ctx, span := s.tracer.Start(ctx, "CartService.RemoveItem")
	defer span.End()

	if err := s.carts.RemoveItem(ctx, userID, productID); err != nil {
		if errors.Is(err, repository.ErrCartItemNotFound) {
			return nil, domain.ErrCartItemNotFound
		}

		span.RecordError(err)
		return nil, err
	}

	return s.GetCart(ctx, userID)
}

func (s *cartService) ClearCart(ctx context.Context, userID int64) error {
	ctx, span := s.tracer.Start(ctx, "CartService.ClearCart")
	defer span.End()

	if err := s.carts.Clear(ctx, s.pool, userID); err != nil {
		span.RecordError(err)
		return err
	}

	mylogger.Info(ctx, s.logger, "Cart cleared", zap.Int64("user_id", userID))
	return nil
}
