package store

import (
	"context"
	"fmt"
	"time"

	"value-calculation-service/internal/models"
	apperrors "value-calculation-service/pkg/errors"
)

func (s *Store) CreateTask(ctx context.Context, task *models.Task) error {
	if task.Status == "" {
		task.Status = models.TaskPending
	}
	if err := s.conn(ctx).Create(task).Error; err != nil {
		return fmt.Errorf("failed to create task %s: %w", task.TaskID, err)
	}
	return nil
}

func (s *Store) GetTask(ctx context.Context, taskID string) (*models.Task, error) {
	var task models.Task
	if err := s.conn(ctx).Where("task_id = ?", taskID).First(&task).Error; err != nil {
		return nil, notFound(err, apperrors.ErrTaskNotFound)
	}
	return &task, nil
}

func (s *Store) TaskStatus(ctx context.Context, taskID string) (models.TaskStatus, error) {
	task, err := s.GetTask(ctx, taskID)
	if err != nil {
		return "", err
	}
	return task.Status, nil
}

// transition moves a task from one of the given states. Zero affected rows
// means another actor got there first, which is reported as an invalid transition.
func (s *Store) transition(ctx context.Context, taskID string, from []models.TaskStatus, updates map[string]interface{}) error {
	res := s.conn(ctx).Model(&models.Task{}).
		Where("task_id = ? AND status IN ?", taskID, from).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to update task %s: %w", taskID, res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := s.GetTask(ctx, taskID); err != nil {
			return err
		}
		return fmt.Errorf("%w: task %s is not in %v", apperrors.ErrInvalidTransition, taskID, from)
	}
	return nil
}

func (s *Store) MarkRunning(ctx context.Context, taskID string, at time.Time) error {
	return s.transition(ctx, taskID, []models.TaskStatus{models.TaskPending}, map[string]interface{}{
		"status":     models.TaskRunning,
		"started_at": at,
	})
}

func (s *Store) MarkCompleted(ctx context.Context, taskID string, at time.Time) error {
	return s.transition(ctx, taskID, []models.TaskStatus{models.TaskRunning}, map[string]interface{}{
		"status":       models.TaskCompleted,
		"completed_at": at,
	})
}

func (s *Store) MarkFailed(ctx context.Context, taskID, message string, at time.Time) error {
	return s.transition(ctx, taskID, []models.TaskStatus{models.TaskPending, models.TaskRunning}, map[string]interface{}{
		"status":        models.TaskFailed,
		"error_message": message,
		"completed_at":  at,
	})
}

// Cancel is allowed from pending or running only.
func (s *Store) Cancel(ctx context.Context, taskID, reason string, at time.Time) error {
	return s.transition(ctx, taskID, []models.TaskStatus{models.TaskPending, models.TaskRunning}, map[string]interface{}{
		"status":        models.TaskCancelled,
		"error_message": reason,
		"completed_at":  at,
	})
}

type TaskFilter struct {
	Status     models.TaskStatus
	BatchID    string
	WorkflowID uint
	Period     string
	Limit      int
	Offset     int
}

func (s *Store) ListTasks(ctx context.Context, f TaskFilter) ([]models.Task, int64, error) {
	q := s.conn(ctx).Model(&models.Task{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.BatchID != "" {
		q = q.Where("batch_id = ?", f.BatchID)
	}
	if f.WorkflowID != 0 {
		q = q.Where("workflow_id = ?", f.WorkflowID)
	}
	if f.Period != "" {
		q = q.Where("period = ?", f.Period)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count tasks: %w", err)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	var tasks []models.Task
	if err := q.Order("created_at DESC, id DESC").Offset(f.Offset).Limit(limit).Find(&tasks).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list tasks: %w", err)
	}
	return tasks, total, nil
}

// AppendStepLog writes one attempt record. Logs are never updated.
func (s *Store) AppendStepLog(ctx context.Context, log *models.StepLog) error {
	if err := s.conn(ctx).Create(log).Error; err != nil {
		return fmt.Errorf("failed to write step log for task %s step %d: %w", log.TaskID, log.StepID, err)
	}
	return nil
}

func (s *Store) ListStepLogs(ctx context.Context, taskID string) ([]models.StepLog, error) {
	var logs []models.StepLog
	if err := s.conn(ctx).Where("task_id = ?", taskID).Order("id ASC").Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("failed to list step logs: %w", err)
	}
	return logs, nil
}
