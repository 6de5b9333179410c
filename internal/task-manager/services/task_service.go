package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"value-calculation-service/internal/models"
	"value-calculation-service/internal/store"
	apperrors "value-calculation-service/pkg/errors"
)

// Dispatcher hands pending tasks to the worker fleet.
type Dispatcher interface {
	Dispatch(ctx context.Context, tasks ...*models.Task) error
}

// Pinger tests a data source connection.
type Pinger interface {
	Ping(ctx context.Context, id uint) error
}

type CreateTaskInput struct {
	WorkflowID          uint   `json:"workflow_id"`
	Period              string `json:"period"`
	DepartmentIDs       []uint `json:"department_ids,omitempty"`
	DefaultDataSourceID *uint  `json:"default_data_source_id,omitempty"`
	Description         string `json:"description,omitempty"`
}

// TaskService owns the task lifecycle on the manager side.
type TaskService struct {
	store      *store.Store
	dispatcher Dispatcher
	sources    Pinger
	logger     *zap.Logger
	now        func() time.Time
}

func NewTaskService(st *store.Store, dispatcher Dispatcher, sources Pinger, logger *zap.Logger) *TaskService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TaskService{store: st, dispatcher: dispatcher, sources: sources, logger: logger.Named("tasks"), now: time.Now}
}

// ValidatePeriod accepts YYYY-MM with a real month.
func ValidatePeriod(period string) error {
	if len(period) != 7 {
		return fmt.Errorf("%w: %q", apperrors.ErrInvalidPeriod, period)
	}
	if _, err := time.Parse("2006-01", period); err != nil {
		return fmt.Errorf("%w: %q", apperrors.ErrInvalidPeriod, period)
	}
	return nil
}

func (s *TaskService) build(ctx context.Context, in CreateTaskInput, batchID string) (*models.Task, error) {
	if err := ValidatePeriod(in.Period); err != nil {
		return nil, err
	}
	wf, err := s.store.GetWorkflow(ctx, in.WorkflowID)
	if err != nil {
		return nil, err
	}
	version, err := s.store.GetVersion(ctx, wf.VersionID)
	if err != nil {
		return nil, err
	}
	return &models.Task{
		TaskID:              uuid.NewString(),
		WorkflowID:          wf.ID,
		VersionID:           version.ID,
		HospitalID:          version.HospitalID,
		Period:              in.Period,
		Status:              models.TaskPending,
		BatchID:             batchID,
		DepartmentIDs:       in.DepartmentIDs,
		DefaultDataSourceID: in.DefaultDataSourceID,
		Description:         in.Description,
		CreatedAt:           s.now(),
	}, nil
}

// Create stores a pending task and dispatches it. When dispatch fails the
// task is marked failed so it can be rerun, and the dispatch error is
// returned alongside the task.
func (s *TaskService) Create(ctx context.Context, in CreateTaskInput) (*models.Task, error) {
	task, err := s.build(ctx, in, "")
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateTask(ctx, task); err != nil {
		return nil, err
	}
	s.logger.Info("Task created", zap.String("task_id", task.TaskID),
		zap.Uint("workflow_id", task.WorkflowID), zap.String("period", task.Period))
	return task, s.dispatch(ctx, task)
}

// CreateBatch creates sibling tasks sharing one batch id. All tasks are
// stored before any is dispatched; siblings run independently.
func (s *TaskService) CreateBatch(ctx context.Context, items []CreateTaskInput) (string, []*models.Task, error) {
	if len(items) == 0 {
		return "", nil, errors.New("batch has no tasks")
	}
	batchID := uuid.NewString()
	tasks := make([]*models.Task, 0, len(items))
	for _, in := range items {
		task, err := s.build(ctx, in, batchID)
		if err != nil {
			return "", nil, err
		}
		tasks = append(tasks, task)
	}
	err := s.store.Transaction(ctx, func(tx *store.Store) error {
		for _, task := range tasks {
			if err := tx.CreateTask(ctx, task); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", nil, err
	}
	s.logger.Info("Batch created", zap.String("batch_id", batchID), zap.Int("tasks", len(tasks)))
	return batchID, tasks, s.dispatch(ctx, tasks...)
}

func (s *TaskService) dispatch(ctx context.Context, tasks ...*models.Task) error {
	err := s.dispatcher.Dispatch(ctx, tasks...)
	if err == nil {
		return nil
	}
	s.logger.Error("Dispatch failed, marking tasks failed", zap.Int("tasks", len(tasks)), zap.Error(err))
	msg := "dispatch failed: " + err.Error()
	for _, task := range tasks {
		if merr := s.store.MarkFailed(context.WithoutCancel(ctx), task.TaskID, msg, s.now()); merr != nil {
			s.logger.Error("Failed to mark undispatched task", zap.String("task_id", task.TaskID), zap.Error(merr))
			continue
		}
		task.Status = models.TaskFailed
		task.ErrorMessage = msg
	}
	return err
}

func (s *TaskService) Get(ctx context.Context, taskID string) (*models.Task, error) {
	return s.store.GetTask(ctx, taskID)
}

func (s *TaskService) List(ctx context.Context, f store.TaskFilter) ([]models.Task, int64, error) {
	return s.store.ListTasks(ctx, f)
}

func (s *TaskService) StepLogs(ctx context.Context, taskID string) ([]models.StepLog, error) {
	if _, err := s.store.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	return s.store.ListStepLogs(ctx, taskID)
}

// Cancel stops a pending or running task. A running task stops at its
// next step boundary.
func (s *TaskService) Cancel(ctx context.Context, taskID, reason string) (*models.Task, error) {
	if reason == "" {
		reason = "cancelled by request"
	}
	if err := s.store.Cancel(ctx, taskID, reason, s.now()); err != nil {
		return nil, err
	}
	s.logger.Info("Task cancelled", zap.String("task_id", taskID))
	return s.store.GetTask(ctx, taskID)
}

// Rerun creates a fresh task with the parameters of a finished one.
func (s *TaskService) Rerun(ctx context.Context, taskID string) (*models.Task, error) {
	orig, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !orig.Status.Terminal() {
		return nil, fmt.Errorf("%w: task %s is still %s", apperrors.ErrInvalidTransition, taskID, orig.Status)
	}
	task := &models.Task{
		TaskID:              uuid.NewString(),
		WorkflowID:          orig.WorkflowID,
		VersionID:           orig.VersionID,
		HospitalID:          orig.HospitalID,
		Period:              orig.Period,
		Status:              models.TaskPending,
		BatchID:             orig.BatchID,
		DepartmentIDs:       orig.DepartmentIDs,
		DefaultDataSourceID: orig.DefaultDataSourceID,
		RerunOf:             orig.TaskID,
		Description:         orig.Description,
		CreatedAt:           s.now(),
	}
	if err := s.store.CreateTask(ctx, task); err != nil {
		return nil, err
	}
	s.logger.Info("Task rerun created", zap.String("task_id", task.TaskID), zap.String("rerun_of", orig.TaskID))
	return task, s.dispatch(ctx, task)
}

func (s *TaskService) Purge(ctx context.Context, taskID, reason string) (*models.CleanupRecord, error) {
	rec, err := s.store.PurgeTaskRows(ctx, taskID, reason)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Task rows purged", zap.String("task_id", taskID),
		zap.Int64("results", rec.ResultsRemoved), zap.Int64("details", rec.DetailsRemoved))
	return rec, nil
}

type TaskResults struct {
	Results   []models.CalculationResult  `json:"results"`
	Summaries []models.CalculationSummary `json:"summaries"`
}

func (s *TaskService) Results(ctx context.Context, taskID string, departmentID *uint) (*TaskResults, error) {
	if _, err := s.store.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	results, err := s.store.ListResults(ctx, taskID, departmentID)
	if err != nil {
		return nil, err
	}
	summaries, err := s.store.ListSummaries(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if departmentID != nil {
		filtered := summaries[:0]
		for _, sm := range summaries {
			if sm.DepartmentID == *departmentID {
				filtered = append(filtered, sm)
			}
		}
		summaries = filtered
	}
	return &TaskResults{Results: results, Summaries: summaries}, nil
}

func (s *TaskService) Adjustments(ctx context.Context, taskID string) ([]models.OrientationAdjustmentDetail, error) {
	if _, err := s.store.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	return s.store.ListAdjustments(ctx, taskID)
}

func (s *TaskService) TestDataSource(ctx context.Context, id uint) error {
	return s.sources.Ping(ctx, id)
}
