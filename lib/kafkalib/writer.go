package kafkalib

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/terrastream/mysql-cdc/config"
	"github.com/terrastream/mysql-cdc/lib"
	"github.com/terrastream/mysql-cdc/lib/mtr"
)

const (
	baseJitterMs = 300
	maxJitterMs  = 5000
	maxAttempts  = 10
)

type BatchWriter struct {
	writer *kafka.Writer

	cfg    config.Kafka
	statsD mtr.Client
}

func NewBatchWriter(ctx context.Context, cfg config.Kafka, statsD mtr.Client) (*BatchWriter, error) {
	writer, err := NewWriter(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return &BatchWriter{writer: writer, cfg: cfg, statsD: statsD}, nil
}

func (w *BatchWriter) reload(ctx context.Context) error {
	if err := w.writer.Close(); err != nil {
		return err
	}

	writer, err := NewWriter(ctx, w.cfg)
	if err != nil {
		return err
	}

	w.writer = writer
	return nil
}

func (w *BatchWriter) buildKafkaMessages(rawMsgs []lib.RawMessage) ([]kafka.Message, error) {
	result := make([]kafka.Message, len(rawMsgs))
	for i, rawMsg := range rawMsgs {
		kMsg, err := newMessage(w.cfg, rawMsg)
		if err != nil {
			return nil, err
		}
		result[i] = kMsg
	}
	return result, nil
}

func (w *BatchWriter) Write(ctx context.Context, rawMsgs []lib.RawMessage) error {
	msgs, err := w.buildKafkaMessages(rawMsgs)
	if err != nil {
		return fmt.Errorf("failed to build kafka messages: %w", err)
	}

	b := NewBatch(msgs, w.cfg.GetPublishSize())
	if batchErr := b.IsValid(); batchErr != nil {
		if batchErr == ErrEmptyBatch {
			return nil
		}

		return fmt.Errorf("batch is not valid: %w", batchErr)
	}

	for b.HasNext() {
		var kafkaErr error
		chunk := b.NextChunk()
		for attempts := 0; attempts < maxAttempts; attempts++ {
			kafkaErr = w.writer.WriteMessages(ctx, chunk...)
			if kafkaErr == nil {
				break
			}

			if isExceedMaxMessageBytesErr(kafkaErr) {
				slog.Info("Skipping this chunk since the batch exceeded the server limit")
				kafkaErr = nil
				break
			}

			if isRetryableError(kafkaErr) {
				if reloadErr := w.reload(ctx); reloadErr != nil {
					slog.Warn("Failed to reload kafka writer", slog.Any("err", reloadErr))
				}
			} else {
				sleepMs := lib.JitterMs(baseJitterMs, maxJitterMs, attempts)
				slog.Info("Failed to publish to kafka",
					slog.Any("err", kafkaErr),
					slog.Int("attempts", attempts),
					slog.Int("sleepMs", sleepMs),
				)
				time.Sleep(time.Duration(sleepMs) * time.Millisecond)
			}
		}

		if kafkaErr != nil {
			return fmt.Errorf("failed to write messages: %w", kafkaErr)
		}

		if w.statsD != nil {
			w.statsD.Count("kafka.publish", int64(len(chunk)), map[string]string{"what": "success"})
		}
	}
	return nil
}

func (w *BatchWriter) OnComplete(_ context.Context) error {
	return w.writer.Close()
}
