package service

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sakashimaa/electrowave/internal/domain"
	"github.com/sakashimaa/electrowave/internal/repository"
	"github.com/sakashimaa/electrowave/pkg/db"
)

type fakeOrderRepo struct {
	repository.OrderRepository
	orders []domain.Order
	err    error
}

func (f *fakeOrderRepo) ListCreatedBetween(_ context.Context, from, to time.Time) ([]domain.Order, error) {
	if f.err != nil {
		return nil, f.err
	}

	var result []domain.Order
	for _, o := range f.orders {
		if !o.CreatedAt.Before(from) && o.CreatedAt.Before(to) {
			result = append(result, o)
		}
	}
	return result, nil
}

type fakeCartRepo struct {
	items   map[int64]int64
	removed []int64
	cleared bool
}

func newFakeCartRepo() *fakeCartRepo {
	return &fakeCartRepo{items: map[int64]int64{}}
}

func (f *fakeCartRepo) GetCart(_ context.Context, userID int64) (*domain.Cart, error) {
	cart := &domain.Cart{UserID: userID}
	for id, qty := range f.items {
		cart.Items = append(cart.Items, domain.CartItem{ProductID: id, Quantity: qty})
	}
	return cart, nil
}

func (f *fakeCartRepo) GetQuantity(_ context.Context, _, productID int64) (int64, error) {
	return f.items[productID], nil
}

func (f *fakeCartRepo) AddItem(_ context.Context, _, productID, quantity int64) (int64, error) {
	f.items[productID] += quantity
	return f.items[productID], nil
}

func (f *fakeCartRepo) SetQuantity(_ context.Context, _, productID, quantity int64) error {
	f.items[productID] = quantity
	return nil
}

func (f *fakeCartRepo) RemoveItem(_ context.Context, _, productID int64) error {
	if _, ok := f.items[productID]; !ok {
		return repository.ErrCartItemNotFound
	}
	delete(f.items, productID)
	f.removed = append(f.removed, productID)
	return nil
}

func (f *fakeCartRepo) Clear(_ context.Context, _ db.Querier, _ int64) error {
	f.items = map[int64]int64{}
	f.cleared = true
	return nil
}

func (f *fakeCartRepo) LockItems(_ context.Context, _ pgx.Tx, _ int64) ([]domain.CartItem, error) {
	items := make([]domain.CartItem, 0, len(f.items))
	for id, qty := range f.items {
		items = append(items, domain.CartItem{ProductID: id, Quantity: qty})
	}
	return items, nil
}

func (f *fakeCartRepo) RemoveLines(_ context.Context, _ db.Querier, _ int64, productIDs []int64) (int64, error) {
	var removed int64
	for _, id := range productIDs {
		if _, ok := f.items[id]; ok {
			delete(f.items, id)
			removed++
		}
	}
	return removed, nil
}

type fakeProductReader struct {
	products map[int64]*domain.Product
}

func (f *fakeProductReader) FindByID(_ context.Context, id int64) (*domain.Product, error) {
	p, ok := f.products[id]
	if !ok {
		return nil, &domain.ProductNotFoundError{ProductID: id}
	}
	return p, nil
}

type fakeProductRepo struct {
	products  map[int64]*domain.Product
	nextID    int64
	lastLimit int64
}

func (f *fakeProductRepo) Create(_ context.Context, p *domain.Product) (int64, error) {
	f.nextID++
	p.ID = f.nextID
	f.products[p.ID] = p
	return p.ID, nil
}

func (f *fakeProductRepo) GetByID(_ context.Context, id int64) (*domain.Product, error) {
	p, ok := f.products[id]
	if !ok {
		return nil, repository.ErrProductNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeProductRepo) List(_ context.Context, limit, offset int64) ([]domain.Product, int64, error) {
	f.lastLimit = limit
	var result []domain.Product
	for _, p := range f.products {
		result = append(result, *p)
	}
	return result, int64(len(result)), nil
}

func (f *fakeProductRepo) Update(_ context.Context, id int64, in *domain.UpdateProductInput) error {
	p, ok := f.products[id]
	if !ok {
		return repository.ErrProductNotFound
	}
	if in.Name != nil {
		p.Name = *in.Name
	}
	if in.Description != nil {
		p.Description = *in.Description
	}
	if in.Price != nil {
		p.Price = *in.Price
	}
	if in.Stock != nil {
		p.Stock = *in.Stock
	}
	return nil
}

func (f *fakeProductRepo) DeleteByID(_ context.Context, id int64) error {
	if _, ok := f.products[id]; !ok {
		return repository.ErrProductNotFound
	}
	delete(f.products, id)
	return nil
}

func (f *fakeProductRepo) LockForUpdate(ctx context.Context, _ pgx.Tx, id int64) (*domain.Product, error) {
	return f.GetByID(ctx, id)
}

func (f *fakeProductRepo) DecreaseStock(_ context.Context, _ pgx.Tx, id, quantity int64) error {
	p, ok := f.products[id]
	if !ok || p.Stock < quantity {
		return repository.ErrInsufficientStock
	}
	p.Stock -= quantity
	return nil
}
