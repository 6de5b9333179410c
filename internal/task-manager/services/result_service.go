package services

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"value-calculation-service/internal/config"
	"value-calculation-service/internal/events"
	"value-calculation-service/internal/logging"
	"value-calculation-service/internal/models"
	"value-calculation-service/internal/store"
	"value-calculation-service/internal/task-worker/engine"
)

// MessageReader is the subset of *kafka.Reader the result service uses.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// ResultService consumes task completion events. For completed tasks it
// makes sure department summaries exist.
type ResultService struct {
	store  *store.Store
	Reader MessageReader
	logger *zap.Logger
	now    func() time.Time
	done   chan struct{}
}

func NewResultReader(cfg *config.Config, logger *zap.Logger) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Kafka.Brokers,
		GroupID:        cfg.Kafka.ManagerGroupID,
		Topic:          cfg.Kafka.ResultTopic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
		MaxWait:        3 * time.Second,
		ErrorLogger:    logging.StdLog(logger, "kafka-reader"),
	})
}

func NewResultService(st *store.Store, reader MessageReader, logger *zap.Logger) *ResultService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResultService{store: st, Reader: reader, logger: logger.Named("results"), now: time.Now}
}

func (s *ResultService) StartConsuming(ctx context.Context) {
	s.logger.Info("Consuming task completion events")
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		for {
			msg, err := s.Reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, io.EOF) {
					s.logger.Info("Result consumer stopped")
					return
				}
				s.logger.Warn("Error reading completion event", zap.Error(err))
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Second):
				}
				continue
			}
			if err := s.HandleMessage(ctx, msg.Value); err != nil {
				s.logger.Error("Failed to handle completion event",
					zap.Int("partition", msg.Partition), zap.Int64("offset", msg.Offset), zap.Error(err))
			}
		}
	}()
}

// HandleMessage processes one encoded TaskCompletion.
func (s *ResultService) HandleMessage(ctx context.Context, value []byte) error {
	c, err := events.UnmarshalTaskCompletion(value)
	if err != nil {
		return err
	}
	log := s.logger.With(zap.String("task_id", c.TaskID), zap.String("status", c.Status))
	if models.TaskStatus(c.Status) != models.TaskCompleted {
		log.Info("Task finished without completing", zap.String("error", c.Error))
		return nil
	}

	return s.store.Transaction(ctx, func(tx *store.Store) error {
		exists, err := tx.HasSummaries(ctx, c.TaskID)
		if err != nil || exists {
			return err
		}
		results, err := tx.ListResults(ctx, c.TaskID, nil)
		if err != nil {
			return err
		}
		summaries := engine.Summaries(c.TaskID, results, s.now())
		if len(summaries) == 0 {
			log.Info("Completed task produced no results")
			return nil
		}
		if err := tx.InsertSummaries(ctx, summaries); err != nil {
			return err
		}
		log.Info("Department summaries written", zap.Int("departments", len(summaries)))
		return nil
	})
}

// Close closes the reader and waits for the consumer goroutine.
func (s *ResultService) Close() {
	if s.Reader == nil {
		return
	}
	if err := s.Reader.Close(); err != nil {
		s.logger.Warn("Error closing result reader", zap.Error(err))
	}
	if s.done == nil {
		return
	}
	select {
	case <-s.done:
	case <-time.After(5 * time.Second):
	}
}
