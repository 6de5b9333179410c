package worker

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"

	"value-calculation-service/internal/events"
	"value-calculation-service/internal/models"
)

type chanReader struct {
	msgs chan kafka.Message

	mu        sync.Mutex
	committed []int64
}

func newChanReader(n int) *chanReader {
	return &chanReader{msgs: make(chan kafka.Message, n)}
}

func (r *chanReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	case m, ok := <-r.msgs:
		if !ok {
			return kafka.Message{}, io.EOF
		}
		return m, nil
	}
}

func (r *chanReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *chanReader) Close() error { return nil }

func (r *chanReader) push(t *testing.T, offset int64, taskID string) {
	payload, err := events.TaskDispatch{TaskID: taskID, BatchID: "batch-1", EnqueuedAt: time.Now()}.Marshal()
	require.NoError(t, err)
	r.msgs <- kafka.Message{Offset: offset, Value: payload}
}

type slowRunner struct {
	delay    time.Duration
	inFlight atomic.Int32
	peak     atomic.Int32

	mu  sync.Mutex
	ran []string
}

func (r *slowRunner) Run(ctx context.Context, taskID string) (models.TaskStatus, error) {
	n := r.inFlight.Add(1)
	defer r.inFlight.Add(-1)
	for {
		p := r.peak.Load()
		if n <= p || r.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(r.delay)
	r.mu.Lock()
	r.ran = append(r.ran, taskID)
	r.mu.Unlock()
	if taskID == "broken" {
		return "", errors.New("database unavailable")
	}
	return models.TaskCompleted, nil
}

func TestConsumer_BoundedConcurrency(t *testing.T) {
	defer goleak.VerifyNone(t)

	reader := newChanReader(8)
	for i, id := range []string{"t1", "t2", "t3", "t4", "t5", "broken"} {
		reader.push(t, int64(i), id)
	}
	reader.msgs <- kafka.Message{Offset: 6, Value: []byte{0xff, 0x01}}
	close(reader.msgs)

	runner := &slowRunner{delay: 20 * time.Millisecond}
	c := NewConsumer(reader, runner, 2, zap.NewNop())
	require.NoError(t, c.Serve(context.Background()))

	assert.ElementsMatch(t, []string{"t1", "t2", "t3", "t4", "t5", "broken"}, runner.ran)
	assert.LessOrEqual(t, runner.peak.Load(), int32(2))
	assert.Equal(t, []int64{0, 1, 2, 3, 4, 5, 6}, reader.committed, "undecodable and failed messages are committed too, in order")
}

type gatedRunner struct {
	release chan struct{}
	fastRan chan struct{}
}

func (r *gatedRunner) Run(_ context.Context, taskID string) (models.TaskStatus, error) {
	if taskID == "slow" {
		<-r.release
	} else {
		close(r.fastRan)
	}
	return models.TaskCompleted, nil
}

func TestConsumer_CommitsInOffsetOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	reader := newChanReader(2)
	reader.push(t, 10, "slow")
	reader.push(t, 11, "fast")
	runner := &gatedRunner{release: make(chan struct{}), fastRan: make(chan struct{})}
	c := NewConsumer(reader, runner, 2, zap.NewNop())

	done := make(chan error, 1)
	go func() { done <- c.Serve(context.Background()) }()

	<-runner.fastRan
	time.Sleep(20 * time.Millisecond)
	reader.mu.Lock()
	assert.Empty(t, reader.committed, "a later offset waits for the earlier in-flight task")
	reader.mu.Unlock()

	close(runner.release)
	close(reader.msgs)
	require.NoError(t, <-done)
	assert.Equal(t, []int64{10, 11}, reader.committed)
}

func TestOffsetTracker_PerPartition(t *testing.T) {
	tracker := newOffsetTracker()
	var commits [][]int64
	commit := func(msgs []kafka.Message) {
		var offsets []int64
		for _, m := range msgs {
			offsets = append(offsets, m.Offset)
		}
		commits = append(commits, offsets)
	}

	a0 := tracker.add(kafka.Message{Partition: 0, Offset: 0})
	a1 := tracker.add(kafka.Message{Partition: 0, Offset: 1})
	b0 := tracker.add(kafka.Message{Partition: 1, Offset: 0})

	tracker.finish(a1, commit)
	assert.Empty(t, commits)
	tracker.finish(b0, commit)
	tracker.finish(a0, commit)
	assert.Equal(t, [][]int64{{0}, {0, 1}}, commits)
}

func TestConsumer_StopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	reader := newChanReader(1)
	reader.push(t, 0, "t1")
	runner := &slowRunner{delay: 50 * time.Millisecond}
	c := NewConsumer(reader, runner, 1, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Serve(ctx) }()

	require.Eventually(t, func() bool { return runner.inFlight.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
	assert.Equal(t, []string{"t1"}, runner.ran, "the in-flight task finishes before Serve returns")
	assert.Equal(t, []int64{0}, reader.committed)
}

type memWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *memWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *memWriter) Close() error { return nil }

func TestCompletionPublisher(t *testing.T) {
	w := &memWriter{}
	p := NewCompletionPublisher(w, zap.NewNop())
	finished := time.Date(2025, 11, 1, 3, 0, 0, 0, time.UTC)

	require.NoError(t, p.PublishCompletion(context.Background(), events.TaskCompletion{
		TaskID: "task-1", Status: "failed", Error: "step \"x\" failed", FinishedAt: finished,
	}))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "task-1", string(w.msgs[0].Key))

	got, err := events.UnmarshalTaskCompletion(w.msgs[0].Value)
	require.NoError(t, err)
	assert.Equal(t, "failed", got.Status)
	assert.True(t, finished.Equal(got.FinishedAt))

	w.err = errors.New("leader not available")
	err = p.PublishCompletion(context.Background(), events.TaskCompletion{TaskID: "task-2", Status: "completed"})
	assert.ErrorContains(t, err, "task-2")
}

func TestHealthServer(t *testing.T) {
	hs, err := NewHealthServer("127.0.0.1:0", zap.NewNop())
	require.NoError(t, err)
	go func() { _ = hs.Serve() }()
	defer hs.Stop()

	conn, err := grpc.NewClient(hs.Addr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	client := grpc_health_v1.NewHealthClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING, resp.Status)

	hs.SetServing(true)
	resp, err = client.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, resp.Status)
}
