package dedup

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sakashimaa/electrowave/pkg/db"
	"github.com/sakashimaa/electrowave/pkg/mylogger"
	"go.uber.org/zap"
)

const uniqueViolation = "23505"

// Process records eventID in processed_events and runs action inside the same
// transaction, so a redelivered event is applied at most once.
func Process(
	ctx context.Context,
	pool db.Pool,
	logger *zap.Logger,
	eventID string,
	action func(tx pgx.Tx) error,
) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin dedup transaction: %w", err)
	}
	defer func() {
		cleanupCtx := context.WithoutCancel(ctx)
		if err := tx.Rollback(cleanupCtx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			mylogger.Warn(cleanupCtx, logger, "Error rolling back dedup transaction", zap.Error(err))
		}
	}()

	query := `
		INSERT INTO processed_events (event_id)
		VALUES ($1)
	`

	if _, err := tx.Exec(ctx, query, eventID); err != nil {
		var pgError *pgconn.PgError
		if errors.As(err, &pgError) && pgError.Code == uniqueViolation {
			mylogger.Info(ctx, logger, "Event already processed, skipping", zap.String("event_id", eventID))
			return nil
		}

		return fmt.Errorf("record processed event: %w", err)
	}

	if err := action(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit dedup transaction: %w", err)
	}

	return nil
}
