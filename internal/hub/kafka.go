package hub

import (
	"context"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"forestwatch/internal/config"
)

// StartKafka consumes wire frames from a broker topic and feeds them into
// the same decode path as the serial link. Field gateways with backhaul
// publish one frame per message.
func StartKafka(ctx context.Context, cfg config.KafkaConfig, ingest func(line string), logger *slog.Logger) {
	if !cfg.Enabled {
		if logger != nil {
			logger.Info("kafka ingest disabled")
		}
		return
	}
	if logger != nil {
		logger.Info("kafka ingest enabled", "brokers", cfg.Brokers, "topic", cfg.Topic, "group_id", cfg.GroupID)
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
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
			ingest(string(m.Value))
		}
	}()
}
