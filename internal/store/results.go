package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"value-calculation-service/internal/models"
	apperrors "value-calculation-service/pkg/errors"
)

const insertBatchSize = 200

// duplicate keeps both the domain sentinel and the driver error in the chain.
func duplicate(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %w", apperrors.ErrDuplicateResult, err)
	}
	return err
}

func (s *Store) HasResults(ctx context.Context, taskID string) (bool, error) {
	var n int64
	if err := s.conn(ctx).Model(&models.CalculationResult{}).Where("task_id = ?", taskID).Count(&n).Error; err != nil {
		return false, fmt.Errorf("failed to count results: %w", err)
	}
	return n > 0, nil
}

// InsertResults is a plain insert. A key collision fails the whole call.
func (s *Store) InsertResults(ctx context.Context, rows []models.CalculationResult) error {
	if len(rows) == 0 {
		return nil
	}
	if err := s.conn(ctx).CreateInBatches(rows, insertBatchSize).Error; err != nil {
		return fmt.Errorf("failed to insert calculation results: %w", duplicate(err))
	}
	return nil
}

func (s *Store) InsertAdjustments(ctx context.Context, rows []models.OrientationAdjustmentDetail) error {
	if len(rows) == 0 {
		return nil
	}
	if err := s.conn(ctx).CreateInBatches(rows, insertBatchSize).Error; err != nil {
		return fmt.Errorf("failed to insert adjustment details: %w", duplicate(err))
	}
	return nil
}

func (s *Store) InsertWorkload(ctx context.Context, rows []models.WorkloadEntry) error {
	if len(rows) == 0 {
		return nil
	}
	if err := s.conn(ctx).CreateInBatches(rows, insertBatchSize).Error; err != nil {
		return fmt.Errorf("failed to stage workload: %w", duplicate(err))
	}
	return nil
}

func (s *Store) InsertSummaries(ctx context.Context, rows []models.CalculationSummary) error {
	if len(rows) == 0 {
		return nil
	}
	if err := s.conn(ctx).CreateInBatches(rows, insertBatchSize).Error; err != nil {
		return fmt.Errorf("failed to insert summaries: %w", duplicate(err))
	}
	return nil
}

func (s *Store) HasSummaries(ctx context.Context, taskID string) (bool, error) {
	var n int64
	if err := s.conn(ctx).Model(&models.CalculationSummary{}).Where("task_id = ?", taskID).Count(&n).Error; err != nil {
		return false, fmt.Errorf("failed to count summaries: %w", err)
	}
	return n > 0, nil
}

// ListResults returns a task's rows, optionally for one department.
func (s *Store) ListResults(ctx context.Context, taskID string, departmentID *uint) ([]models.CalculationResult, error) {
	q := s.conn(ctx).Where("task_id = ?", taskID)
	if departmentID != nil {
		q = q.Where("department_id = ?", *departmentID)
	}
	var rows []models.CalculationResult
	if err := q.Order("department_id ASC, node_id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}
	return rows, nil
}

func (s *Store) ListAdjustments(ctx context.Context, taskID string) ([]models.OrientationAdjustmentDetail, error) {
	var rows []models.OrientationAdjustmentDetail
	if err := s.conn(ctx).Where("task_id = ?", taskID).Order("department_id ASC, node_id ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list adjustment details: %w", err)
	}
	return rows, nil
}

func (s *Store) ListWorkload(ctx context.Context, taskID string) ([]models.WorkloadEntry, error) {
	var rows []models.WorkloadEntry
	if err := s.conn(ctx).Where("task_id = ?", taskID).Order("node_id ASC, department_id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list workload: %w", err)
	}
	return rows, nil
}

func (s *Store) ListSummaries(ctx context.Context, taskID string) ([]models.CalculationSummary, error) {
	var rows []models.CalculationSummary
	if err := s.conn(ctx).Where("task_id = ?", taskID).Order("department_id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list summaries: %w", err)
	}
	return rows, nil
}

// ChargeTotal is the summed measure of one department for one item set.
type ChargeTotal struct {
	DepartmentCode string
	Total          decimal.Decimal
}

// SumCharges sums quantity or amount of the given item codes in a period,
// grouped by department code. Summation happens in decimal after the scan
// because SQLite keeps these columns as floating point.
func (s *Store) SumCharges(ctx context.Context, hospitalID uint, period string, itemCodes []string, measure models.Measure) ([]ChargeTotal, error) {
	if len(itemCodes) == 0 {
		return nil, nil
	}
	var lines []models.ChargeDetail
	err := s.conn(ctx).
		Select("department_code", "quantity", "amount").
		Where("hospital_id = ? AND period = ? AND item_code IN ?", hospitalID, period, itemCodes).
		Order("department_code ASC, id ASC").
		Find(&lines).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load charges: %w", err)
	}

	var out []ChargeTotal
	for _, l := range lines {
		v := l.Quantity
		if measure == models.MeasureAmount {
			v = l.Amount
		}
		if n := len(out); n > 0 && out[n-1].DepartmentCode == l.DepartmentCode {
			out[n-1].Total = out[n-1].Total.Add(v)
			continue
		}
		out = append(out, ChargeTotal{DepartmentCode: l.DepartmentCode, Total: v})
	}
	return out, nil
}
