// Package kafka publishes pipeline results for the downstream serving
// collaborator.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/skysift/tempo-data-quality/internal/config"
	"github.com/skysift/tempo-data-quality/internal/domain"
)

// Writer produces result documents to the sink topic.
// It implements pipeline.ResultSink.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured sink topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaSinkTopic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// PublishBatch serializes and publishes multiple artifact results in a
// single WriteMessages call for efficiency.
func (w *Writer) PublishBatch(ctx context.Context, results []domain.ArtifactResult) error {
	if len(results) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(results))
	for i := range results {
		msg, err := serializeToMessage(results[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	return w.writer.WriteMessages(ctx, msgs...)
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals an ArtifactResult into a Kafka message keyed
// by source artifact, so replays of the same artifact compact cleanly.
func serializeToMessage(result domain.ArtifactResult) (kafkago.Message, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize artifact result: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(result.SourceKey),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "pollutant", Value: []byte(result.Pollutant)},
			{Key: "reliability", Value: []byte(result.Quality.Reliability)},
			{Key: "processed_at", Value: []byte(result.ProcessedAt.Format(time.RFC3339))},
		},
	}, nil
}
