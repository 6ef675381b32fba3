package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/jackc/pgx/v5"
	"github.com/sakashimaa/electrowave/internal/domain"
	"github.com/sakashimaa/electrowave/internal/metrics"
	"github.com/sakashimaa/electrowave/internal/service"
	"github.com/sakashimaa/electrowave/pkg/db"
	"github.com/sakashimaa/electrowave/pkg/kafka"
	"github.com/sakashimaa/electrowave/pkg/mylogger"
	"github.com/sakashimaa/electrowave/pkg/outbox/dedup"
	"go.uber.org/zap"
)

// Consumer applies carrier shipment events to the order lifecycle.
type Consumer struct {
	pool    db.Pool
	service service.OrderService
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewConsumer(pool db.Pool, service service.OrderService, m *metrics.Metrics, logger *zap.Logger) *Consumer {
	return &Consumer{
		pool:    pool,
		service: service,
		metrics: m,
		logger:  logger,
	}
}

func (c *Consumer) Start(ctx context.Context, brokers []string, groupID string, topics []string) error {
	consumerGroup := kafka.NewConsumerGroup(
		brokers,
		groupID,
		topics,
		c.processMessage,
		c.logger,
	)

	return consumerGroup.Run(ctx)
}

type eventWrapper struct {
	EventID string          `json:"event_id"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

func (c *Consumer) processMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	mylogger.Info(
		ctx,
		c.logger,
		"Processing message",
		zap.String("topic", msg.Topic),
	)

	var wrapper eventWrapper
	if err := json.Unmarshal(msg.Value, &wrapper); err != nil {
		mylogger.Error(ctx, c.logger, "Error unmarshalling wrapper, skipping", zap.Error(err))
		return nil
	}

	var target domain.OrderStatus
	switch wrapper.Event {
	case domain.EventShipmentDispatched:
		target = domain.OrderStatusShipped
	case domain.EventShipmentDelivered:
		target = domain.OrderStatusDelivered
	default:
		mylogger.Warn(ctx, c.logger, "Ignored event type", zap.String("event_type", wrapper.Event))
		return nil
	}

	var event domain.ShipmentEvent
	if err := json.Unmarshal(wrapper.Payload, &event); err != nil || event.OrderID <= 0 {
		mylogger.Error(ctx, c.logger, "Malformed shipment event, skipping",
			zap.String("event_type", wrapper.Event),
			zap.Error(err),
		)
		return nil
	}

	eventID := wrapper.EventID
	if eventID == "" {
		eventID = fmt.Sprintf("%s-%d-%d", msg.Topic, msg.Partition, msg.Offset)
	}

	var change *domain.StatusChange
	err := dedup.Process(ctx, c.pool, c.logger, eventID, func(tx pgx.Tx) error {
		order, applied, err := c.service.ApplyStatus(ctx, tx, event.OrderID, target)
		switch {
		case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrOrderNotFound):
			mylogger.Warn(ctx, c.logger, "Shipment event not applicable, skipping",
				zap.Int64("order_id", event.OrderID),
				zap.String("event_type", wrapper.Event),
				zap.Error(err),
			)
			return nil
		case err != nil:
			return fmt.Errorf("apply %s to order %d: %w", wrapper.Event, event.OrderID, err)
		}

		mylogger.Info(ctx, c.logger, "Shipment event applied",
			zap.Int64("order_id", order.ID),
			zap.String("order_status", string(order.OrderStatus)),
			zap.String("tracking_number", event.TrackingNumber),
		)
		change = applied
		return nil
	})
	if err != nil {
		return err
	}

	c.metrics.ObserveStatusChange(change)
	return nil
}
