// Package ingest feeds expense events into the scoring channel from REST and
// Kafka sources. Delivery into the channel is non-blocking: when the engine
// falls behind, events are dropped and logged rather than stalling ingest.
package ingest

import (
	"context"
	"log/slog"

	"splitguard/internal/model"
)

func SendNonBlocking(ctx context.Context, out chan<- model.ExpenseEvent, ev model.ExpenseEvent, logger *slog.Logger) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	default:
		if logger != nil {
			logger.Warn("event channel full, dropping event", "expense_id", ev.ID, "payer_id", ev.PayerID)
		}
		return false
	}
}
