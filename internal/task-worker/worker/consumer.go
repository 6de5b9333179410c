// Package worker connects the dispatch topic to the orchestrator.
package worker

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"value-calculation-service/internal/config"
	"value-calculation-service/internal/events"
	"value-calculation-service/internal/logging"
	"value-calculation-service/internal/models"
)

// Reader is the subset of *kafka.Reader the consumer needs.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Runner executes one task to a terminal state.
type Runner interface {
	Run(ctx context.Context, taskID string) (models.TaskStatus, error)
}

type Consumer struct {
	reader      Reader
	runner      Runner
	concurrency int
	logger      *zap.Logger
}

func NewReader(cfg *config.Config, logger *zap.Logger) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Kafka.Brokers,
		GroupID:     cfg.Kafka.WorkerGroupID,
		Topic:       cfg.Kafka.TaskDispatchTopic,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     3 * time.Second,
		ErrorLogger: logging.StdLog(logger, "kafka-reader"),
	})
}

func NewConsumer(reader Reader, runner Runner, concurrency int, logger *zap.Logger) *Consumer {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{reader: reader, runner: runner, concurrency: concurrency, logger: logger.Named("consumer")}
}

// Serve fetches dispatch messages until ctx ends, running at most
// concurrency tasks at once. A message is committed once its task run and
// the runs of every earlier message on its partition have returned, so a
// crash never skips a task that was still running. Redelivered messages
// are harmless because only pending tasks are picked up. Serve waits for
// in-flight tasks before returning.
func (c *Consumer) Serve(ctx context.Context) error {
	var g errgroup.Group
	g.SetLimit(c.concurrency)
	offsets := newOffsetTracker()

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				break
			}
			c.logger.Warn("Kafka fetch failed, retrying", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}

		tracked := offsets.add(m)
		dispatch, err := events.UnmarshalTaskDispatch(m.Value)
		if err != nil {
			c.logger.Error("Dropping undecodable dispatch message",
				zap.Int("partition", m.Partition), zap.Int64("offset", m.Offset), zap.Error(err))
			offsets.finish(tracked, c.commit)
			continue
		}

		// Go blocks while the pool is full, which stops fetching.
		g.Go(func() error {
			c.handle(ctx, dispatch)
			offsets.finish(tracked, c.commit)
			return nil
		})
	}

	_ = g.Wait()
	c.logger.Info("Consumer stopped")
	return nil
}

func (c *Consumer) handle(ctx context.Context, d events.TaskDispatch) {
	log := c.logger.With(zap.String("task_id", d.TaskID), zap.String("batch_id", d.BatchID))
	log.Info("Received task dispatch", zap.Duration("queued_for", time.Since(d.EnqueuedAt)))

	status, err := c.runner.Run(context.WithoutCancel(ctx), d.TaskID)
	if err != nil {
		log.Error("Task run failed", zap.Error(err))
		return
	}
	log.Info("Task run returned", zap.String("status", string(status)))
}

func (c *Consumer) commit(msgs []kafka.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.reader.CommitMessages(ctx, msgs...); err != nil {
		last := msgs[len(msgs)-1]
		c.logger.Warn("Failed to commit offset",
			zap.Int("partition", last.Partition), zap.Int64("offset", last.Offset), zap.Error(err))
	}
}

type trackedMessage struct {
	msg  kafka.Message
	done bool
}

// offsetTracker releases messages for commit in fetch order per partition.
type offsetTracker struct {
	mu      sync.Mutex
	pending map[int][]*trackedMessage
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{pending: make(map[int][]*trackedMessage)}
}

func (t *offsetTracker) add(m kafka.Message) *trackedMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	tm := &trackedMessage{msg: m}
	t.pending[m.Partition] = append(t.pending[m.Partition], tm)
	return tm
}

// finish marks tm done and commits the finished prefix of its partition,
// if any. The commit runs under the lock so commits never go backwards.
func (t *offsetTracker) finish(tm *trackedMessage, commit func([]kafka.Message)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tm.done = true
	queue := t.pending[tm.msg.Partition]
	var ready []kafka.Message
	for len(queue) > 0 && queue[0].done {
		ready = append(ready, queue[0].msg)
		queue = queue[1:]
	}
	t.pending[tm.msg.Partition] = queue
	if len(ready) > 0 {
		commit(ready)
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
