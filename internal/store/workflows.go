package store

import (
	"context"
	"fmt"
	"sort"

	"value-calculation-service/internal/models"
	apperrors "value-calculation-service/pkg/errors"
)

func (s *Store) GetWorkflow(ctx context.Context, id uint) (*models.Workflow, error) {
	var wf models.Workflow
	if err := s.conn(ctx).First(&wf, id).Error; err != nil {
		return nil, notFound(err, apperrors.ErrWorkflowNotFound)
	}
	return &wf, nil
}

// ListEnabledSteps returns the workflow's enabled steps by ascending
// sort_order, ties broken by id. Ordering is finished in Go so fractional
// sort orders compare exactly on every dialect.
func (s *Store) ListEnabledSteps(ctx context.Context, workflowID uint) ([]models.Step, error) {
	var steps []models.Step
	if err := s.conn(ctx).
		Where("workflow_id = ? AND is_enabled = ?", workflowID, true).
		Order("sort_order ASC, id ASC").
		Find(&steps).Error; err != nil {
		return nil, fmt.Errorf("failed to list steps of workflow %d: %w", workflowID, err)
	}
	sort.SliceStable(steps, func(i, j int) bool {
		if c := steps[i].SortOrder.Cmp(steps[j].SortOrder); c != 0 {
			return c < 0
		}
		return steps[i].ID < steps[j].ID
	})
	return steps, nil
}

func (s *Store) ListScheduledWorkflows(ctx context.Context) ([]models.Workflow, error) {
	var wfs []models.Workflow
	if err := s.conn(ctx).Where("cron_expression <> ''").Order("id ASC").Find(&wfs).Error; err != nil {
		return nil, fmt.Errorf("failed to list scheduled workflows: %w", err)
	}
	return wfs, nil
}

func (s *Store) GetVersion(ctx context.Context, id uint) (*models.ModelVersion, error) {
	var v models.ModelVersion
	if err := s.conn(ctx).First(&v, id).Error; err != nil {
		return nil, notFound(err, apperrors.ErrVersionNotFound)
	}
	return &v, nil
}

func (s *Store) ListNodes(ctx context.Context, versionID uint) ([]models.ScoringNode, error) {
	var nodes []models.ScoringNode
	if err := s.conn(ctx).Where("version_id = ?", versionID).Order("id ASC").Find(&nodes).Error; err != nil {
		return nil, fmt.Errorf("failed to load nodes of version %d: %w", versionID, err)
	}
	return nodes, nil
}

// ListDepartments returns the institution's active departments, narrowed
// to ids when given.
func (s *Store) ListDepartments(ctx context.Context, hospitalID uint, ids []uint) ([]models.Department, error) {
	q := s.conn(ctx).Where("hospital_id = ? AND is_active = ?", hospitalID, true)
	if len(ids) > 0 {
		q = q.Where("id IN ?", ids)
	}
	var depts []models.Department
	if err := q.Order("id ASC").Find(&depts).Error; err != nil {
		return nil, fmt.Errorf("failed to load departments: %w", err)
	}
	return depts, nil
}

func (s *Store) GetDataSource(ctx context.Context, id uint) (*models.DataSource, error) {
	var ds models.DataSource
	if err := s.conn(ctx).First(&ds, id).Error; err != nil {
		return nil, notFound(err, apperrors.ErrDataSourceNotFound)
	}
	return &ds, nil
}

// DefaultDataSource returns the enabled system default, or ErrDataSourceNotFound.
func (s *Store) DefaultDataSource(ctx context.Context) (*models.DataSource, error) {
	var ds models.DataSource
	if err := s.conn(ctx).Where("is_default = ? AND is_enabled = ?", true, true).Order("id ASC").First(&ds).Error; err != nil {
		return nil, notFound(err, apperrors.ErrDataSourceNotFound)
	}
	return &ds, nil
}
