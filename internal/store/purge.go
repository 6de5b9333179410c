package store

import (
	"context"
	"fmt"
	"time"

	"value-calculation-service/internal/models"
	apperrors "value-calculation-service/pkg/errors"
)

// PurgeTaskRows removes the partial output of a failed or cancelled task
// and records what was removed. Step logs and the task row are kept.
func (s *Store) PurgeTaskRows(ctx context.Context, taskID, reason string) (*models.CleanupRecord, error) {
	var record *models.CleanupRecord
	err := s.Transaction(ctx, func(tx *Store) error {
		task, err := tx.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		if task.Status != models.TaskFailed && task.Status != models.TaskCancelled {
			return fmt.Errorf("%w: task %s is %s, only failed or cancelled tasks can be purged",
				apperrors.ErrInvalidTransition, taskID, task.Status)
		}

		rec := &models.CleanupRecord{TaskID: taskID, Reason: reason, CreatedAt: time.Now()}
		counts := []struct {
			model interface{}
			dst   *int64
		}{
			{&models.CalculationResult{}, &rec.ResultsRemoved},
			{&models.OrientationAdjustmentDetail{}, &rec.DetailsRemoved},
			{&models.WorkloadEntry{}, &rec.WorkloadRemoved},
			{&models.CalculationSummary{}, &rec.SummariesRemoved},
		}
		for _, c := range counts {
			res := tx.conn(ctx).Where("task_id = ?", taskID).Delete(c.model)
			if res.Error != nil {
				return fmt.Errorf("failed to purge task %s: %w", taskID, res.Error)
			}
			*c.dst = res.RowsAffected
		}
		if err := tx.conn(ctx).Create(rec).Error; err != nil {
			return fmt.Errorf("failed to record cleanup of task %s: %w", taskID, err)
		}
		record = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (s *Store) ListCleanupRecords(ctx context.Context, taskID string) ([]models.CleanupRecord, error) {
	var rows []models.CleanupRecord
	if err := s.conn(ctx).Where("task_id = ?", taskID).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list cleanup records: %w", err)
	}
	return rows, nil
}
