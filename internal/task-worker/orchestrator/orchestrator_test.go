package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"value-calculation-service/internal/events"
	"value-calculation-service/internal/models"
	"value-calculation-service/internal/store"
	"value-calculation-service/internal/task-worker/datasource"
	"value-calculation-service/internal/task-worker/engine"
	"value-calculation-service/internal/task-worker/executors"
	"value-calculation-service/internal/testutil"
	apperrors "value-calculation-service/pkg/errors"
)

type recorder struct {
	mu     sync.Mutex
	events []events.TaskCompletion
}

func (r *recorder) PublishCompletion(_ context.Context, c events.TaskCompletion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, c)
	return nil
}

// hookExecutor lets a test run arbitrary Go in place of a script step.
type hookExecutor func(ctx context.Context, req executors.Request) (*executors.Result, error)

func (h hookExecutor) Execute(ctx context.Context, req executors.Request) (*executors.Result, error) {
	return h(ctx, req)
}

type fixture struct {
	db       *gorm.DB
	store    *store.Store
	seed     *testutil.Fixture
	registry *executors.Registry
	events   *recorder
}

func newFixture(t *testing.T) *fixture {
	gormDB := testutil.NewDB(t)
	seed := testutil.Seed(t, gormDB)
	require.NoError(t, gormDB.Exec("CREATE TABLE scratch (task_id TEXT NOT NULL CHECK (task_id <> 'bad'), step INTEGER NOT NULL)").Error)

	st := store.New(gormDB)
	sources := datasource.NewManager(gormDB, st, zap.NewNop())
	t.Cleanup(func() { _ = sources.Close() })

	registry := executors.NewRegistry(zap.NewNop())
	registry.Register(models.CodeQuery, executors.NewQueryExecutor(sources))
	registry.Register(models.CodeScript, executors.NewScriptExecutor(sources, engine.New(models.ComposeFirstMatch, zap.NewNop())))
	return &fixture{db: gormDB, store: st, seed: seed, registry: registry, events: &recorder{}}
}

func (f *fixture) orchestrator(opts Options) *Orchestrator {
	return New(f.store, f.registry, f.events, zap.NewNop(), opts)
}

func (f *fixture) scratch(t *testing.T, taskID string) []int {
	var steps []int
	require.NoError(t, f.db.Table("scratch").Where("task_id = ?", taskID).Order("step").Pluck("step", &steps).Error)
	return steps
}

const calculateScript = `
import "calc"

func Run() (string, error) {
	if _, err := calc.CollectWorkload(); err != nil {
		return "", err
	}
	_, err := calc.Aggregate()
	return "", err
}
`

func TestRun_AbortsOnFirstFailedStep(t *testing.T) {
	f := newFixture(t)
	f.seed.AddStep(t, f.db, "calculate", models.CodeScript, "1", calculateScript)
	f.seed.AddStep(t, f.db, "broken", models.CodeQuery, "2", "INSERT INTO no_such_table VALUES (1)")
	f.seed.AddStep(t, f.db, "never", models.CodeQuery, "3", "INSERT INTO scratch VALUES ('{task_id}', 3)")
	f.seed.NewTask(t, f.db, "task-1", "")

	status, err := f.orchestrator(Options{}).Run(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskFailed, status)

	task, err := f.store.GetTask(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskFailed, task.Status)
	assert.Contains(t, task.ErrorMessage, `step "broken" failed`)
	assert.NotNil(t, task.StartedAt)
	assert.NotNil(t, task.CompletedAt)

	logs, err := f.store.ListStepLogs(context.Background(), "task-1")
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, models.StepSuccess, logs[0].Status)
	assert.Len(t, logs[0].Statements, 2)
	assert.Equal(t, models.StepFailed, logs[1].Status)
	assert.Equal(t, string(executors.ClassCode), logs[1].ErrorClass)
	assert.Contains(t, logs[1].ExecutionInfo, "error:")

	results, err := f.store.ListResults(context.Background(), "task-1", nil)
	require.NoError(t, err)
	assert.Len(t, results, 14, "results written by step 1 stay after step 2 fails")
	for _, r := range results {
		assert.Equal(t, "task-1", r.TaskID)
	}
	assert.Empty(t, f.scratch(t, "task-1"), "step 3 never ran")

	require.Len(t, f.events.events, 1)
	assert.Equal(t, "failed", f.events.events[0].Status)
	assert.NotEmpty(t, f.events.events[0].Error)
}

func TestRun_CompletesFullCalculation(t *testing.T) {
	f := newFixture(t)
	f.seed.AddStep(t, f.db, "calculate", models.CodeScript, "1", calculateScript)
	f.seed.NewTask(t, f.db, "task-1", "")

	status, err := f.orchestrator(Options{HardTimeLimit: time.Minute, SoftTimeLimit: 50 * time.Second}).Run(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskCompleted, status)

	results, err := f.store.ListResults(context.Background(), "task-1", nil)
	require.NoError(t, err)
	assert.Len(t, results, 14)
	summaries, err := f.store.ListSummaries(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Len(t, summaries, 2)

	require.Len(t, f.events.events, 1)
	assert.Equal(t, "completed", f.events.events[0].Status)
}

func TestRun_BatchSiblingsAreIndependent(t *testing.T) {
	f := newFixture(t)
	f.seed.AddStep(t, f.db, "stage", models.CodeQuery, "1", "INSERT INTO scratch VALUES ('{task_id}', 1)")
	f.seed.AddStep(t, f.db, "calculate", models.CodeScript, "2", calculateScript)
	f.seed.NewTask(t, f.db, "bad", "batch-1")
	f.seed.NewTask(t, f.db, "good", "batch-1")

	o := f.orchestrator(Options{})
	status, err := o.Run(context.Background(), "bad")
	require.NoError(t, err)
	assert.Equal(t, models.TaskFailed, status)

	status, err = o.Run(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, models.TaskCompleted, status)
	assert.Equal(t, []int{1}, f.scratch(t, "good"))

	good, err := f.store.ListResults(context.Background(), "good", nil)
	require.NoError(t, err)
	assert.Len(t, good, 14)
	bad, err := f.store.ListResults(context.Background(), "bad", nil)
	require.NoError(t, err)
	assert.Empty(t, bad)

	tasks, total, err := f.store.ListTasks(context.Background(), store.TaskFilter{BatchID: "batch-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	byID := map[string]models.TaskStatus{}
	for _, task := range tasks {
		byID[task.TaskID] = task.Status
	}
	assert.Equal(t, models.TaskFailed, byID["bad"])
	assert.Equal(t, models.TaskCompleted, byID["good"])
}

func TestRun_CancelStopsBeforeNextStep(t *testing.T) {
	f := newFixture(t)
	f.registry.Register(models.CodeScript, hookExecutor(func(ctx context.Context, req executors.Request) (*executors.Result, error) {
		return &executors.Result{}, f.store.Cancel(ctx, req.Run.TaskID, "operator request", time.Now())
	}))
	f.seed.AddStep(t, f.db, "cancel", models.CodeScript, "1", "ignored")
	f.seed.AddStep(t, f.db, "never", models.CodeQuery, "2", "INSERT INTO scratch VALUES ('{task_id}', 2)")
	f.seed.NewTask(t, f.db, "task-1", "")

	status, err := f.orchestrator(Options{}).Run(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskCancelled, status)

	logs, err := f.store.ListStepLogs(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Len(t, logs, 1)
	assert.Empty(t, f.scratch(t, "task-1"))

	require.Len(t, f.events.events, 1)
	assert.Equal(t, "cancelled", f.events.events[0].Status)
}

func TestRun_CancelDuringLastStepWins(t *testing.T) {
	f := newFixture(t)
	f.registry.Register(models.CodeScript, hookExecutor(func(ctx context.Context, req executors.Request) (*executors.Result, error) {
		return &executors.Result{}, f.store.Cancel(ctx, req.Run.TaskID, "operator request", time.Now())
	}))
	f.seed.AddStep(t, f.db, "cancel", models.CodeScript, "1", "ignored")
	f.seed.NewTask(t, f.db, "task-1", "")

	status, err := f.orchestrator(Options{}).Run(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskCancelled, status)

	current, err := f.store.TaskStatus(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskCancelled, current)
}

func TestRun_SoftLimitStopsDispatch(t *testing.T) {
	f := newFixture(t)
	clock := time.Date(2025, 11, 1, 2, 0, 0, 0, time.UTC)
	f.registry.Register(models.CodeScript, hookExecutor(func(context.Context, executors.Request) (*executors.Result, error) {
		clock = clock.Add(time.Hour)
		return &executors.Result{}, nil
	}))
	f.seed.AddStep(t, f.db, "slow", models.CodeScript, "1", "ignored")
	f.seed.AddStep(t, f.db, "never", models.CodeQuery, "2", "INSERT INTO scratch VALUES ('{task_id}', 2)")
	f.seed.NewTask(t, f.db, "task-1", "")

	o := f.orchestrator(Options{SoftTimeLimit: 30 * time.Minute})
	o.now = func() time.Time { return clock }

	status, err := o.Run(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskFailed, status)

	task, err := f.store.GetTask(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Contains(t, task.ErrorMessage, "soft time limit")
	assert.Empty(t, f.scratch(t, "task-1"))
}

func TestRun_HardLimitFailsRunningStep(t *testing.T) {
	f := newFixture(t)
	f.registry.Register(models.CodeScript, hookExecutor(func(ctx context.Context, _ executors.Request) (*executors.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	f.seed.AddStep(t, f.db, "stuck", models.CodeScript, "1", "ignored")
	f.seed.NewTask(t, f.db, "task-1", "")

	status, err := f.orchestrator(Options{HardTimeLimit: 50 * time.Millisecond}).Run(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskFailed, status)

	logs, err := f.store.ListStepLogs(context.Background(), "task-1")
	require.NoError(t, err)
	require.Len(t, logs, 1, "the step log survives the expired context")
	assert.Equal(t, string(executors.ClassTimeout), logs[0].ErrorClass)
}

func TestRun_NoEnabledSteps(t *testing.T) {
	f := newFixture(t)
	f.seed.NewTask(t, f.db, "task-1", "")

	status, err := f.orchestrator(Options{}).Run(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskFailed, status)

	task, err := f.store.GetTask(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, apperrors.ErrNoSteps.Error(), task.ErrorMessage)
}

func TestRun_SkipsTasksThatAreNotPending(t *testing.T) {
	f := newFixture(t)
	f.seed.AddStep(t, f.db, "stage", models.CodeQuery, "1", "INSERT INTO scratch VALUES ('{task_id}', 1)")
	f.seed.NewTask(t, f.db, "task-1", "")
	require.NoError(t, f.store.Cancel(context.Background(), "task-1", "", time.Now()))

	status, err := f.orchestrator(Options{}).Run(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskCancelled, status)
	assert.Empty(t, f.scratch(t, "task-1"))
	assert.Empty(t, f.events.events)

	_, err = f.orchestrator(Options{}).Run(context.Background(), "missing")
	assert.True(t, errors.Is(err, apperrors.ErrTaskNotFound))
}
