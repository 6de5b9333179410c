// Package orchestrator drives one task through its workflow steps.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"value-calculation-service/internal/events"
	"value-calculation-service/internal/models"
	"value-calculation-service/internal/store"
	"value-calculation-service/internal/task-worker/engine"
	"value-calculation-service/internal/task-worker/executors"
	apperrors "value-calculation-service/pkg/errors"
)

// Publisher announces terminal task states.
type Publisher interface {
	PublishCompletion(ctx context.Context, c events.TaskCompletion) error
}

type Options struct {
	HardTimeLimit time.Duration
	SoftTimeLimit time.Duration
}

type Orchestrator struct {
	store     *store.Store
	registry  *executors.Registry
	publisher Publisher
	logger    *zap.Logger
	opts      Options
	now       func() time.Time
}

func New(st *store.Store, registry *executors.Registry, publisher Publisher, logger *zap.Logger, opts Options) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		store:     st,
		registry:  registry,
		publisher: publisher,
		logger:    logger.Named("orchestrator"),
		opts:      opts,
		now:       time.Now,
	}
}

// Run executes a pending task. Steps run one at a time in sort order and
// the first failure stops the task. Cancellation and the soft time limit
// are checked between steps; the hard limit bounds the whole run.
// The returned error reports infrastructure problems only; step failures
// surface as a failed status.
func (o *Orchestrator) Run(ctx context.Context, taskID string) (models.TaskStatus, error) {
	log := o.logger.With(zap.String("task_id", taskID))

	task, err := o.store.GetTask(ctx, taskID)
	if err != nil {
		return "", err
	}
	if task.Status != models.TaskPending {
		log.Info("Skipping task that is no longer pending", zap.String("status", string(task.Status)))
		return task.Status, nil
	}

	start := o.now()
	if err := o.store.MarkRunning(ctx, taskID, start); err != nil {
		if errors.Is(err, apperrors.ErrInvalidTransition) {
			status, serr := o.store.TaskStatus(ctx, taskID)
			return status, serr
		}
		return "", err
	}
	log = log.With(zap.String("batch_id", task.BatchID))
	log.Info("Task started", zap.String("period", task.Period))

	runCtx := ctx
	if o.opts.HardTimeLimit > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, o.opts.HardTimeLimit)
		defer cancel()
	}

	status, message := o.runSteps(runCtx, task, start, log)
	return o.finish(ctx, task, status, message, log)
}

func (o *Orchestrator) runSteps(ctx context.Context, task *models.Task, start time.Time, log *zap.Logger) (models.TaskStatus, string) {
	wf, err := o.store.GetWorkflow(ctx, task.WorkflowID)
	if err != nil {
		return models.TaskFailed, err.Error()
	}
	steps, err := o.store.ListEnabledSteps(ctx, wf.ID)
	if err != nil {
		return models.TaskFailed, err.Error()
	}
	if len(steps) == 0 {
		return models.TaskFailed, apperrors.ErrNoSteps.Error()
	}

	run := engine.RunContext{
		TaskID:        task.TaskID,
		VersionID:     task.VersionID,
		HospitalID:    task.HospitalID,
		Period:        task.Period,
		DepartmentIDs: task.DepartmentIDs,
	}
	fallbacks := []*uint{task.DefaultDataSourceID, wf.DefaultDataSourceID}

	for i, step := range steps {
		status, err := o.store.TaskStatus(ctx, task.TaskID)
		if err != nil {
			return models.TaskFailed, err.Error()
		}
		if status == models.TaskCancelled {
			log.Info("Task cancelled, not dispatching further steps", zap.Int("completed_steps", i))
			return models.TaskCancelled, ""
		}
		if o.opts.SoftTimeLimit > 0 && o.now().Sub(start) > o.opts.SoftTimeLimit {
			return models.TaskFailed, fmt.Sprintf("soft time limit %s exceeded before step %q", o.opts.SoftTimeLimit, step.Name)
		}
		if err := ctx.Err(); err != nil {
			return models.TaskFailed, fmt.Sprintf("hard time limit reached before step %q: %v", step.Name, err)
		}

		out := o.execute(ctx, run, step, fallbacks)
		o.writeLog(ctx, task.TaskID, step, out, log)

		if out.Status == models.StepFailed {
			log.Warn("Step failed, aborting task",
				zap.Uint("step_id", step.ID), zap.String("step", step.Name),
				zap.String("class", string(out.Class)), zap.Error(out.Err))
			return models.TaskFailed, fmt.Sprintf("step %q failed [%s]: %v", step.Name, out.Class, out.Err)
		}
		log.Info("Step completed",
			zap.Uint("step_id", step.ID), zap.String("step", step.Name),
			zap.Int64("rows", out.RowCount), zap.Duration("duration", out.Duration))
	}
	return models.TaskCompleted, ""
}

func (o *Orchestrator) execute(ctx context.Context, run engine.RunContext, step models.Step, fallbacks []*uint) *executors.Outcome {
	code, err := executors.CodeFromStep(step)
	if err != nil {
		now := o.now()
		return &executors.Outcome{
			Status: models.StepFailed, StartTime: now, EndTime: now,
			Err: err, Class: executors.ClassCode, Info: "error: " + err.Error(),
		}
	}
	return o.registry.Execute(ctx, executors.Request{
		Run:       run,
		StepID:    step.ID,
		StepName:  step.Name,
		Code:      code,
		Fallbacks: fallbacks,
	})
}

// writeLog persists the attempt outside the step's transaction and
// regardless of cancellation, so a failing step is always recorded.
func (o *Orchestrator) writeLog(ctx context.Context, taskID string, step models.Step, out *executors.Outcome, log *zap.Logger) {
	summary := fmt.Sprintf("%d rows affected", out.RowCount)
	if out.Output != "" {
		summary = out.Output
	}
	entry := &models.StepLog{
		TaskID:        taskID,
		StepID:        step.ID,
		StepName:      step.Name,
		StartTime:     out.StartTime,
		EndTime:       out.EndTime,
		DurationMs:    out.EndTime.Sub(out.StartTime).Milliseconds(),
		Status:        out.Status,
		ErrorClass:    string(out.Class),
		ResultSummary: summary,
		ExecutionInfo: out.Info,
		Statements:    out.Statements,
	}
	if err := o.store.AppendStepLog(context.WithoutCancel(ctx), entry); err != nil {
		log.Error("Failed to write step log", zap.Uint("step_id", step.ID), zap.Error(err))
	}
}

// finish applies the terminal transition. A cancel that lands while the
// last step runs wins over completion.
func (o *Orchestrator) finish(ctx context.Context, task *models.Task, status models.TaskStatus, message string, log *zap.Logger) (models.TaskStatus, error) {
	ctx = context.WithoutCancel(ctx)
	now := o.now()

	var err error
	switch status {
	case models.TaskCompleted:
		err = o.store.MarkCompleted(ctx, task.TaskID, now)
	case models.TaskFailed:
		err = o.store.MarkFailed(ctx, task.TaskID, message, now)
	}
	if err != nil {
		if !errors.Is(err, apperrors.ErrInvalidTransition) {
			return "", err
		}
		current, serr := o.store.TaskStatus(ctx, task.TaskID)
		if serr != nil {
			return "", serr
		}
		log.Info("Terminal transition superseded", zap.String("wanted", string(status)), zap.String("actual", string(current)))
		status, message = current, ""
	}

	log.Info("Task finished", zap.String("status", string(status)), zap.String("message", message))
	if o.publisher != nil {
		c := events.TaskCompletion{TaskID: task.TaskID, Status: string(status), Error: message, FinishedAt: now}
		if err := o.publisher.PublishCompletion(ctx, c); err != nil {
			log.Error("Failed to publish completion", zap.Error(err))
		}
	}
	return status, nil
}
