package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/sakashimaa/electrowave/internal/domain"
	"github.com/sakashimaa/electrowave/internal/repository"
	"github.com/sakashimaa/electrowave/pkg/mylogger"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type ProductService interface {
	Create(ctx context.Context, product *domain.Product) (int64, error)
	FindByID(ctx context.Context, id int64) (*domain.Product, error)
	List(ctx context.Context, limit, offset int64) ([]domain.Product, int64, error)
	Update(ctx context.Context, id int64, input *domain.UpdateProductInput) (*domain.Product, error)
	Delete(ctx context.Context, id int64) error
}

// ProductCacheInvalidator drops cached product reads after stock moves.
type ProductCacheInvalidator interface {
	Invalidate(ctx context.Context, ids ...int64)
}

type noopInvalidator struct{}

func (noopInvalidator) Invalidate(context.Context, ...int64) {}

var minPrice = decimal.RequireFromString("0.01")

const (
	defaultPageSize int64 = 20
	maxPageSize     int64 = 100
)

type productService struct {
	repo   repository.ProductRepository
	logger *zap.Logger
	tracer trace.Tracer
}

func NewProductService(repo repository.ProductRepository, logger *zap.Logger) ProductService {
	return &productService{
		repo:   repo,
		logger: logger,
		tracer: otel.Tracer("product_service"),
	}
}

func validateProductFields(price *decimal.Decimal, stock *int64) error {
	if price != nil && price.LessThan(minPrice) {
		return fmt.Errorf("%w: price must be at least %s", domain.ErrInvalidProduct, minPrice)
	}
	if stock != nil && *stock < 0 {
		return fmt.Errorf("%w: stock must not be negative", domain.ErrInvalidProduct)
	}
	return nil
}

func (s *productService) Create(ctx context.Context, product *domain.Product) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "ProductService.Create")
	defer span.End()

	if product.Name == "" {
		return 0, fmt.Errorf("%w: name is required", domain.ErrInvalidProduct)
	}
	if err := validateProductFields(&product.Price, &product.Stock); err != nil {
		return 0, err
	}

	id, err := s.repo.Create(ctx, product)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	span.SetAttributes(attribute.Int64("product_id", id))
	mylogger.Info(ctx, s.logger, "Product created", zap.Int64("product_id", id))

	return id, nil
}

func (s *productService) FindByID(ctx context.Context, id int64) (*domain.Product, error) {
	ctx, span := s.tracer.Start(ctx, "ProductService.FindByID")
	defer span.End()

	product, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrProductNotFound) {
			return nil, &domain.ProductNotFoundError{ProductID: id}
		}

		span.RecordError(err)
		return nil, err
	}

	return product, nil
}

func (s *productService) List(ctx context.Context, limit, offset int64) ([]domain.Product, int64, error) {
	ctx, span := s.tracer.Start(ctx, "ProductService.List")
	defer span.End()

	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	return s.repo.List(ctx, limit, offset)
}

func (s *productService) Update(ctx context.Context, id int64, input *domain.UpdateProductInput) (*domain.Product, error) {
	ctx, span := s.tracer.Start(ctx, "ProductService.Update")
	defer span.End()

	span.SetAttributes(attribute.Int64("product_id", id))

	if err := validateProductFields(input.Price, input.Stock); err != nil {
		return nil, err
	}
	if input.Name != nil && *input.Name == "" {
		return nil, fmt.Errorf("%w: name must not be empty", domain.ErrInvalidProduct)
	}

	if err := s.repo.Update(ctx, id, input); err != nil {
		if errors.Is(err, repository.ErrProductNotFound) {
			return nil, &domain.ProductNotFoundError{ProductID: id}
		}

		span.RecordError(err)
		return nil, err
	}

	if input.TouchesStock() {
		mylogger.Info(ctx, s.logger, "Product stock set", zap.Int64("product_id", id), zap.Int64("stock", *input.Stock))
	}

	return s.FindByID(ctx, id)
}

func (s *productService) Delete(ctx context.Context, id int64) error {
	ctx, span := s.tracer.Start(ctx, "ProductService.Delete")
	defer span.End()

	if err := s.repo.DeleteByID(ctx, id); err != nil {
		if errors.Is(err, repository.ErrProductNotFound) {
			return &domain.ProductNotFoundError{ProductID: id}
		}

		span.RecordError(err)
		return err
	}

	mylogger.Info(ctx, s.logger, "Product deleted", zap.Int64("product_id", id))
	return nil
}
