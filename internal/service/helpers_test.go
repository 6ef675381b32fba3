package service

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/sakashimaa/electrowave/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var (
	cartCols    = []string{"product_id", "quantity", "exists", "name", "description", "price", "stock"}
	productCols = []string{"id", "name", "description", "price", "stock", "created_at", "updated_at"}
	orderCols   = []string{
		"id", "user_id", "subtotal", "shipping", "tax", "total_amount", "shipping_address",
		"payment_method", "payment_status", "payment_reference", "order_status",
		"created_at", "updated_at", "delivered_at",
	}
	orderItemCols = []string{"order_id", "product_id", "name", "unit_price", "quantity"}
)

func newMockPool(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	return mock
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, dec(want).Equal(got), "want %s, got %s", want, got)
}

func testAddress() domain.ShippingAddress {
	return domain.ShippingAddress{
		FullName:   "Ada Lovelace",
		Line1:      "12 Analytical St",
		City:       "London",
		PostalCode: "N1 9GU",
		Country:    "GB",
		Phone:      "+44 20 0000 0000",
	}
}

type stubAuthorizer struct {
	auth  Authorization
	err   error
	calls int
}

func (s *stubAuthorizer) Authorize(context.Context, decimal.Decimal, domain.PaymentMethod) (Authorization, error) {
	s.calls++
	return s.auth, s.err
}

type recordingInvalidator struct {
	ids []int64
}

func (r *recordingInvalidator) Invalidate(_ context.Context, ids ...int64) {
	r.ids = append(r.ids, ids...)
}

func orderRow(mock pgxmock.PgxPoolIface, id int64, method, payment, status string) *pgxmock.Rows {
	now := time.Now()
	return mock.NewRows(orderCols).AddRow(
		id, int64(1), dec("50"), dec("15"), dec("4.00"), dec("69.00"),
		[]byte(`{"full_name":"Ada Lovelace"}`),
		method, payment, "", status, now, now, nil,
	)
}
