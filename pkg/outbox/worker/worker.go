package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sakashimaa/electrowave/pkg/db"
	"github.com/sakashimaa/electrowave/pkg/mylogger"
	"github.com/sakashimaa/electrowave/pkg/outbox/repository"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type KafkaProducer interface {
	ProduceMessage(ctx context.Context, topic, key string, message any) error
}

type OutboxProcessor struct {
	pool      db.Pool
	repo      repository.OutboxRepository
	producer  KafkaProducer
	logger    *zap.Logger
	batchSize int
	interval  time.Duration
	tracer    trace.Tracer
	published func(n int)
}

func NewOutboxProcessor(
	pool db.Pool,
	repo repository.OutboxRepository,
	producer KafkaProducer,
	logger *zap.Logger,
	interval time.Duration,
) *OutboxProcessor {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	return &OutboxProcessor{
		pool:      pool,
		repo:      repo,
		producer:  producer,
		logger:    logger,
		batchSize: 50,
		interval:  interval,
		tracer:    otel.Tracer("outbox/worker"),
	}
}

// OnPublished registers a hook called after every committed batch.
func (p *OutboxProcessor) OnPublished(fn func(n int)) {
	p.published = fn
}

// Start polls the outbox until ctx is cancelled.
func (p *OutboxProcessor) Start(ctx context.Context) {
	mylogger.Info(ctx, p.logger, "Starting outbox processor", zap.Duration("interval", p.interval))

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			mylogger.Info(ctx, p.logger, "Outbox processor stopping")
			return
		case <-ticker.C:
			if _, err := p.ProcessBatch(ctx); err != nil {
				mylogger.Error(ctx, p.logger, "Error processing outbox batch", zap.Error(err))
			}
		}
	}
}

// ProcessBatch publishes one batch and returns how many rows were published.
func (p *OutboxProcessor) ProcessBatch(ctx context.Context) (int, error) {
	ctx, span := p.tracer.Start(ctx, "OutboxProcessor.ProcessBatch")
	defer span.End()

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("error beginning transaction: %w", err)
	}
	defer func() {
		cleanupCtx := context.WithoutCancel(ctx)
		if err := tx.Rollback(cleanupCtx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			mylogger.Warn(cleanupCtx, p.logger, "Outbox worker failed to rollback transaction", zap.Error(err))
		}
	}()

	events, err := p.repo.GetUnpublishedEvents(ctx, tx, p.batchSize)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	published := 0
	for _, event := range events {
		var message map[string]any
		if err := json.Unmarshal(event.Payload, &message); err != nil {
			mylogger.Error(ctx, p.logger, "Outbox payload is not a JSON object",
				zap.Int64("id", event.Id),
				zap.Error(err),
			)
			if dbErr := p.repo.MarkEventFailed(ctx, tx, event.Id, err.Error()); dbErr != nil {
				return published, dbErr
			}
			continue
		}
		message["event_id"] = event.Id

		if err := p.producer.ProduceMessage(ctx, event.Topic, event.AggregateID, message); err != nil {
			mylogger.Warn(ctx, p.logger, "Outbox publish failed",
				zap.Int64("id", event.Id),
				zap.String("topic", event.Topic),
				zap.Error(err),
			)
			if dbErr := p.repo.MarkEventFailed(ctx, tx, event.Id, err.Error()); dbErr != nil {
				return published, dbErr
			}
			continue
		}

		if err := p.repo.MarkEventPublished(ctx, tx, event.Id); err != nil {
			return published, err
		}
		published++
	}

	span.SetAttributes(attribute.Int("published", published))

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit outbox batch: %w", err)
	}

	if p.published != nil {
		p.published(published)
	}

	mylogger.Debug(ctx, p.logger, "Outbox batch published", zap.Int("count", published))
	return published, nil
}
