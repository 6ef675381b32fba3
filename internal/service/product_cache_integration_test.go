package service_test

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sakashimaa/electrowave/internal/domain"
	"github.com/sakashimaa/electrowave/internal/service"
)

// racingProducts returns a stale product and fires onRead while the database
// read is still in flight.
type racingProducts struct {
	service.ProductService
	stale  *domain.Product
	onRead func(ctx context.Context)
}

func (r *racingProducts) FindByID(ctx context.Context, _ int64) (*domain.Product, error) {
	r.onRead(ctx)
	stale := *r.stale
	return &stale, nil
}

func (s *IntegrationTestSuite) TestCachedProduct_FillSkippedAfterConcurrentInvalidate() {
	productID := s.seedProduct("Bookshelf Speakers", "149.00", 6)

	stale, err := s.ProductService.FindByID(s.Ctx, productID)
	s.Require().NoError(err)

	var cached *service.CachedProductService
	racing := &racingProducts{
		ProductService: s.ProductService,
		stale:          stale,
		onRead: func(ctx context.Context) {
			cached.Invalidate(ctx, productID)
		},
	}
	cached = service.NewCachedProductService(racing, s.Redis, 0, s.Logger)

	got, err := cached.FindByID(s.Ctx, productID)
	s.Require().NoError(err)
	s.Require().Equal(int64(6), got.Stock)

	_, err = s.Redis.Get(s.Ctx, fmt.Sprintf("product:%d", productID)).Result()
	s.Require().ErrorIs(err, redis.Nil)
}

func (s *IntegrationTestSuite) TestCachedProduct_FillStoredWhenVersionUnchanged() {
	productID := s.seedProduct("Record Crate", "35.00", 9)
	key := fmt.Sprintf("product:%d", productID)

	s.CachedProductService.Invalidate(s.Ctx, productID)

	_, err := s.CachedProductService.FindByID(s.Ctx, productID)
	s.Require().NoError(err)

	val, err := s.Redis.Get(s.Ctx, key).Result()
	s.Require().NoError(err)
	s.Require().Contains(val, `"stock":9`)

	ver, err := s.Redis.Get(s.Ctx, key+":ver").Int64()
	s.Require().NoError(err)
	s.Require().Equal(int64(1), ver)
}
