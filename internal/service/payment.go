package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sakashimaa/electrowave/internal/domain"
	"github.com/sakashimaa/electrowave/pkg/mylogger"
	"github.com/sakashimaa/electrowave/pkg/utils"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

type Authorization struct {
	Approved  bool
	Reference string
	Reason    string
}

// PaymentAuthorizer decides whether an order may be placed. A decline is a
// normal result, not an error; errors mean the gateway could not answer.
type PaymentAuthorizer interface {
	Authorize(ctx context.Context, amount decimal.Decimal, method domain.PaymentMethod) (Authorization, error)
}

type simulatedAuthorizer struct{}

// NewSimulatedAuthorizer approves every well-formed request. Cash on
// delivery is approved without a charge reference.
func NewSimulatedAuthorizer() PaymentAuthorizer {
	return simulatedAuthorizer{}
}

func (simulatedAuthorizer) Authorize(_ context.Context, amount decimal.Decimal, method domain.PaymentMethod) (Authorization, error) {
	if !amount.IsPositive() {
		return Authorization{Reason: "amount must be positive"}, nil
	}

	switch method {
	case domain.PaymentMethodCOD:
		return Authorization{Approved: true}, nil
	case domain.PaymentMethodCard, domain.PaymentMethodPaypal, domain.PaymentMethodApple:
		return Authorization{Approved: true, Reference: uuid.NewString()}, nil
	default:
		return Authorization{Reason: "unsupported payment method"}, nil
	}
}

type breakerAuthorizer struct {
	next   PaymentAuthorizer
	cb     *gobreaker.CircuitBreaker
	logger *zap.Logger
}

func NewBreakerAuthorizer(next PaymentAuthorizer, logger *zap.Logger) PaymentAuthorizer {
	return &breakerAuthorizer{
		next:   next,
		cb:     utils.NewBreaker("PaymentGateway", logger),
		logger: logger,
	}
}

func (a *breakerAuthorizer) Authorize(ctx context.Context, amount decimal.Decimal, method domain.PaymentMethod) (Authorization, error) {
	auth, err := utils.ExecuteWithBreaker(a.cb, func() (Authorization, error) {
		return a.next.Authorize(ctx, amount, method)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			mylogger.Warn(ctx, a.logger, "Circuit breaker open")
		} else {
			mylogger.Error(ctx, a.logger, "Payment authorization failed", zap.Error(err))
		}

		return Authorization{}, fmt.Errorf("%w: %w", domain.ErrPaymentUnavailable, err)
	}

	return auth, nil
}
