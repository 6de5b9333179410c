package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"value-calculation-service/internal/config"
	"value-calculation-service/internal/events"
	"value-calculation-service/internal/logging"
	"value-calculation-service/internal/models"
)

// Writer is the subset of *kafka.Writer the producer uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func NewKafkaProducer(cfg *config.Config, logger *zap.Logger) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Kafka.Brokers...),
		Topic:        cfg.Kafka.TaskDispatchTopic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		ErrorLogger:  logging.StdLog(logger, "kafka-writer"),
	}
}

// Dispatcher puts pending tasks on the dispatch topic.
type Dispatcher struct {
	writer Writer
	logger *zap.Logger
	now    func() time.Time
}

func NewDispatcher(writer Writer, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{writer: writer, logger: logger.Named("dispatcher"), now: time.Now}
}

func (d *Dispatcher) Dispatch(ctx context.Context, tasks ...*models.Task) error {
	msgs := make([]kafka.Message, 0, len(tasks))
	for _, t := range tasks {
		payload, err := events.TaskDispatch{TaskID: t.TaskID, BatchID: t.BatchID, EnqueuedAt: d.now()}.Marshal()
		if err != nil {
			return fmt.Errorf("failed to encode dispatch for task %s: %w", t.TaskID, err)
		}
		msgs = append(msgs, kafka.Message{Key: []byte(t.TaskID), Value: payload})
	}
	if len(msgs) == 0 {
		return nil
	}

	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := d.writer.WriteMessages(writeCtx, msgs...); err != nil {
		return fmt.Errorf("failed to dispatch %d task(s): %w", len(msgs), err)
	}
	d.logger.Info("Dispatched tasks", zap.Int("count", len(msgs)))
	return nil
}

func (d *Dispatcher) Close() error {
	return d.writer.Close()
}
