package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sakashimaa/electrowave/internal/domain"
	"github.com/sakashimaa/electrowave/pkg/mylogger"
	"go.uber.org/zap"
)

// CachedProductService is a read-through cache in front of ProductService.
// Every write and every checkout drops the affected keys and bumps a per
// product version. A read-through fill is only stored while the version it
// started with is still current, so a database read that raced an
// invalidation never lands in the cache.
type CachedProductService struct {
	next        ProductService
	redisClient *redis.Client
	cacheTTL    time.Duration
	logger      *zap.Logger
}

func NewCachedProductService(next ProductService, redisClient *redis.Client, cacheTTL time.Duration, logger *zap.Logger) *CachedProductService {
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}

	return &CachedProductService{
		next:        next,
		redisClient: redisClient,
		cacheTTL:    cacheTTL,
		logger:      logger,
	}
}

// versionTTL outlives any in-flight read-through fill.
const versionTTL = 24 * time.Hour

var errStaleFill = errors.New("product changed during cache fill")

func productKey(id int64) string {
	return fmt.Sprintf("product:%d", id)
}

func productVersionKey(id int64) string {
	return fmt.Sprintf("product:%d:ver", id)
}

func (s *CachedProductService) version(ctx context.Context, id int64) (int64, error) {
	ver, err := s.redisClient.Get(ctx, productVersionKey(id)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return ver, err
}

func (s *CachedProductService) FindByID(ctx context.Context, id int64) (*domain.Product, error) {
	key := productKey(id)

	val, err := s.redisClient.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var product domain.Product
		if err := json.Unmarshal(val, &product); err == nil {
			return &product, nil
		}
		mylogger.Warn(ctx, s.logger, "Dropping undecodable cache entry", zap.String("key", key))
		s.redisClient.Del(ctx, key)
	case !errors.Is(err, redis.Nil):
		mylogger.Warn(ctx, s.logger, "Product cache read failed", zap.String("key", key), zap.Error(err))
	}

	ver, verErr := s.version(ctx, id)

	product, err := s.next.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if verErr != nil {
		mylogger.Warn(ctx, s.logger, "Product cache version read failed, skipping fill", zap.String("key", key), zap.Error(verErr))
		return product, nil
	}

	if err := s.fill(ctx, id, ver, product); err != nil {
		if errors.Is(err, errStaleFill) || errors.Is(err, redis.TxFailedErr) {
			mylogger.Debug(ctx, s.logger, "Skipped stale product cache fill", zap.String("key", key))
		} else {
			mylogger.Warn(ctx, s.logger, "Product cache write failed", zap.String("key", key), zap.Error(err))
		}
	}

	return product, nil
}

// fill stores product under its key only if the version is still ver. The
// WATCH aborts the write when an invalidation lands between check and set.
func (s *CachedProductService) fill(ctx context.Context, id, ver int64, product *domain.Product) error {
	data, err := json.Marshal(product)
	if err != nil {
		return err
	}

	verKey := productVersionKey(id)
	return s.redisClient.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, verKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != ver {
			return errStaleFill
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, productKey(id), data, s.cacheTTL)
			return nil
		})
		return err
	}, verKey)
}

func (s *CachedProductService) Create(ctx context.Context, product *domain.Product) (int64, error) {
	return s.next.Create(ctx, product)
}

func (s *CachedProductService) List(ctx context.Context, limit, offset int64) ([]domain.Product, int64, error) {
	return s.next.List(ctx, limit, offset)
}

func (s *CachedProductService) Update(ctx context.Context, id int64, input *domain.UpdateProductInput) (*domain.Product, error) {
	product, err := s.next.Update(ctx, id, input)
	if err != nil {
		return nil, err
	}

	s.Invalidate(ctx, id)
	return product, nil
}

func (s *CachedProductService) Delete(ctx context.Context, id int64) error {
	if err := s.next.Delete(ctx, id); err != nil {
		return err
	}

	s.Invalidate(ctx, id)
	return nil
}

func (s *CachedProductService) Invalidate(ctx context.Context, ids ...int64) {
	if len(ids) == 0 {
		return
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, productKey(id))
	}

	// Version bump and delete run in one MULTI so no fill lands between them.
	_, err := s.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			verKey := productVersionKey(id)
			pipe.Incr(ctx, verKey)
			pipe.Expire(ctx, verKey, versionTTL)
		}
		pipe.Del(ctx, keys...)
		return nil
	})
	if err != nil {
		mylogger.Warn(ctx, s.logger, "Product cache invalidation failed", zap.Strings("keys", keys), zap.Error(err))
	}
}
