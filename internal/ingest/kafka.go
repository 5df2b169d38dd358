package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"splitguard/internal/config"
	"splitguard/internal/model"
)

// StartKafka consumes expense events from the configured topic and forwards
// them into the scoring channel.
func StartKafka(ctx context.Context, cfg *config.Manager, out chan<- model.ExpenseEvent, logger *slog.Logger) {
	current := cfg.Get().Ingest.Kafka
	if !current.Enabled {
		if logger != nil {
			logger.Info("kafka ingest disabled")
		}
		return
	}
	if logger != nil {
		logger.Info("kafka ingest enabled", "brokers", current.Brokers, "topic", current.Topic, "group_id", current.GroupID)
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  current.Brokers,
		Topic:    current.Topic,
		GroupID:  current.GroupID,
		MinBytes: 1e3,
		MaxBytes: 10e6,
	})
	go func() {
		defer reader.Close()
		for {
			m, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if logger != nil {
					logger.Warn("kafka read error", "err", err)
				}
				continue
			}
			ev, err := DecodeExpense(m.Value, time.Now().UTC())
			if err != nil {
				if logger != nil {
					logger.Warn("kafka decode error", "err", err, "offset", m.Offset)
				}
				continue
			}
			SendNonBlocking(ctx, out, ev, logger)
		}
	}()
}
