package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sakashimaa/electrowave/internal/domain"
	"github.com/sakashimaa/electrowave/internal/repository"
	"github.com/sakashimaa/electrowave/pkg/mylogger"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type RevenueBucket struct {
	Period string          `json:"period"`
	Amount decimal.Decimal `json:"amount"`
	Orders int             `json:"orders"`
}

type RevenueReport struct {
	From               time.Time       `json:"from"`
	To                 time.Time       `json:"to"`
	Total              decimal.Decimal `json:"total"`
	Daily              []RevenueBucket `json:"daily"`
	Monthly            []RevenueBucket `json:"monthly"`
	OrderCount         int             `json:"order_count"`
	EligibleOrderCount int             `json:"eligible_order_count"`
	PendingCODAmount   decimal.Decimal `json:"pending_cod_amount"`
}

type RevenueService interface {
	RevenueReport(ctx context.Context, from, to time.Time) (*RevenueReport, error)
}

type revenueService struct {
	orders repository.OrderRepository
	logger *zap.Logger
	tracer trace.Tracer
}

func NewRevenueService(orders repository.OrderRepository, logger *zap.Logger) RevenueService {
	return &revenueService{
		orders: orders,
		logger: logger,
		tracer: otel.Tracer("revenue_service"),
	}
}

// RevenueReport aggregates orders created in [from, to). Only orders that
// CountsAsRevenue accepts contribute to amounts; buckets use the UTC
// creation date.
func (s *revenueService) RevenueReport(ctx context.Context, from, to time.Time) (*RevenueReport, error) {
	ctx, span := s.tracer.Start(ctx, "RevenueService.RevenueReport")
	defer span.End()

	if !from.Before(to) {
		return nil, fmt.Errorf("%w: from must be before to", domain.ErrInvalidDateRange)
	}

	orders, err := s.orders.ListCreatedBetween(ctx, from, to)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	report := &RevenueReport{
		From:             from,
		To:               to,
		Total:            decimal.Zero,
		PendingCODAmount: decimal.Zero,
		OrderCount:       len(orders),
	}

	daily := map[string]*RevenueBucket{}
	monthly := map[string]*RevenueBucket{}

	for i := range orders {
		o := &orders[i]

		if domain.AwaitingCashCollection(o) {
			report.PendingCODAmount = report.PendingCODAmount.Add(o.TotalAmount)
		}
		if !domain.CountsAsRevenue(o) {
			continue
		}

		report.EligibleOrderCount++
		report.Total = report.Total.Add(o.TotalAmount)

		created := o.CreatedAt.UTC()
		addToBucket(daily, created.Format(time.DateOnly), o.TotalAmount)
		addToBucket(monthly, created.Format("2006-01"), o.TotalAmount)
	}

	report.Daily = sortedBuckets(daily)
	report.Monthly = sortedBuckets(monthly)

	span.SetAttributes(
		attribute.Int("orders", report.OrderCount),
		attribute.Int("eligible", report.EligibleOrderCount),
	)

	mylogger.Debug(ctx, s.logger, "Revenue report built",
		zap.Time("from", from),
		zap.Time("to", to),
		zap.Int("orders", report.OrderCount),
		zap.String("total", report.Total.StringFixed(2)),
	)

	return report, nil
}

func addToBucket(buckets map[string]*RevenueBucket, period string, amount decimal.Decimal) {
	b, ok := buckets[period]
	if !ok {
		b = &RevenueBucket{Period: period, Amount: decimal.Zero}
		buckets[period] = b
	}
	b.Amount = b.Amount.Add(amount)
	b.Orders++
}

func sortedBuckets(buckets map[string]*RevenueBucket) []RevenueBucket {
	result := make([]RevenueBucket, 0, len(buckets))
	for _, b := range buckets {
		result = append(result, *b)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Period < result[j].Period
	})
	return result
}
