package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"value-calculation-service/internal/config"
	"value-calculation-service/internal/events"
	"value-calculation-service/internal/logging"
)

// Writer is the subset of *kafka.Writer the publisher needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// CompletionPublisher reports terminal task states on the result topic.
type CompletionPublisher struct {
	writer Writer
	logger *zap.Logger
}

func NewWriter(cfg *config.Config, logger *zap.Logger) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Kafka.Brokers...),
		Topic:        cfg.Kafka.ResultTopic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		ErrorLogger:  logging.StdLog(logger, "kafka-writer"),
	}
}

func NewCompletionPublisher(writer Writer, logger *zap.Logger) *CompletionPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CompletionPublisher{writer: writer, logger: logger.Named("publisher")}
}

func (p *CompletionPublisher) PublishCompletion(ctx context.Context, c events.TaskCompletion) error {
	payload, err := c.Marshal()
	if err != nil {
		return fmt.Errorf("failed to encode completion for task %s: %w", c.TaskID, err)
	}
	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := p.writer.WriteMessages(writeCtx, kafka.Message{Key: []byte(c.TaskID), Value: payload}); err != nil {
		return fmt.Errorf("failed to publish completion for task %s: %w", c.TaskID, err)
	}
	p.logger.Debug("Published completion", zap.String("task_id", c.TaskID), zap.String("status", c.Status))
	return nil
}

func (p *CompletionPublisher) Close() error {
	return p.writer.Close()
}
