package engine

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"value-calculation-service/internal/models"
	"value-calculation-service/internal/scoring"
	"value-calculation-service/internal/store"
	apperrors "value-calculation-service/pkg/errors"
)

// Report counts the rows one engine call wrote.
type Report struct {
	Workload  int `json:"workload,omitempty"`
	Results   int `json:"results,omitempty"`
	Details   int `json:"details,omitempty"`
	Summaries int `json:"summaries,omitempty"`
}

func (e *Engine) loadScope(ctx context.Context, st *store.Store, rc RunContext) (*scoring.Tree, []models.Department, error) {
	nodes, err := st.ListNodes(ctx, rc.VersionID)
	if err != nil {
		return nil, nil, err
	}
	tree, err := scoring.Build(rc.VersionID, nodes)
	if err != nil {
		return nil, nil, err
	}
	depts, err := st.ListDepartments(ctx, rc.HospitalID, rc.DepartmentIDs)
	if err != nil {
		return nil, nil, err
	}
	return tree, depts, nil
}

// CollectWorkload stages leaf workload from charge details for every leaf
// with mapped item codes and every department in scope. Entries collide
// loudly with workload already staged for the task.
func (e *Engine) CollectWorkload(ctx context.Context, tx *gorm.DB, rc RunContext) (*Report, error) {
	st := store.New(tx)
	tree, depts, err := e.loadScope(ctx, st, rc)
	if err != nil {
		return nil, err
	}
	byCode := make(map[string]models.Department, len(depts))
	for _, d := range depts {
		byCode[d.Code] = d
	}

	now := e.now()
	var entries []models.WorkloadEntry
	for _, leaf := range tree.Leaves() {
		if len(leaf.SourceItemCodes) == 0 {
			continue
		}
		measure := leaf.Measure
		if measure == "" {
			measure = models.MeasureQuantity
		}
		totals, err := st.SumCharges(ctx, rc.HospitalID, rc.Period, leaf.SourceItemCodes, measure)
		if err != nil {
			return nil, err
		}
		for _, t := range totals {
			dept, ok := byCode[t.DepartmentCode]
			if !ok {
				continue
			}
			entries = append(entries, models.WorkloadEntry{
				TaskID:       rc.TaskID,
				NodeID:       leaf.ID,
				DepartmentID: dept.ID,
				Workload:     t.Total,
				Source:       "charge_details",
				CreatedAt:    now,
			})
		}
	}
	if err := st.InsertWorkload(ctx, entries); err != nil {
		return nil, err
	}
	e.logger.Info("Workload collected", zap.String("task_id", rc.TaskID), zap.Int("entries", len(entries)))
	return &Report{Workload: len(entries)}, nil
}

// Aggregate computes and writes results, adjustment details and summaries
// for the task. It refuses to run when the task already has results.
func (e *Engine) Aggregate(ctx context.Context, tx *gorm.DB, rc RunContext) (*Report, error) {
	st := store.New(tx)
	stale, err := st.HasResults(ctx, rc.TaskID)
	if err != nil {
		return nil, err
	}
	if stale {
		return nil, fmt.Errorf("%w: task %s", apperrors.ErrStaleResults, rc.TaskID)
	}

	tree, depts, err := e.loadScope(ctx, st, rc)
	if err != nil {
		return nil, err
	}

	entries, err := st.ListWorkload(ctx, rc.TaskID)
	if err != nil {
		return nil, err
	}
	inScope := make(map[uint]bool, len(depts))
	for _, d := range depts {
		inScope[d.ID] = true
	}
	workload := make(map[Key]decimal.Decimal, len(entries))
	withWork := make(map[uint]bool)
	skipped := 0
	for _, w := range entries {
		if !inScope[w.DepartmentID] {
			skipped++
			continue
		}
		workload[Key{NodeID: w.NodeID, DepartmentID: w.DepartmentID}] = w.Workload
		withWork[w.DepartmentID] = true
	}
	if skipped > 0 {
		e.logger.Warn("Ignoring workload outside department scope",
			zap.String("task_id", rc.TaskID), zap.Int("entries", skipped))
	}
	var active []models.Department
	for _, d := range depts {
		if withWork[d.ID] {
			active = append(active, d)
		}
	}

	var ruleIDs []uint
	seen := make(map[uint]bool)
	for _, leaf := range tree.Leaves() {
		for _, id := range leaf.OrientationRuleIDs {
			if !seen[id] {
				seen[id] = true
				ruleIDs = append(ruleIDs, id)
			}
		}
	}
	rules, err := st.LoadRuleSet(ctx, rc.HospitalID, ruleIDs, rc.Period)
	if err != nil {
		return nil, err
	}

	out, err := Compute(Input{
		TaskID:        rc.TaskID,
		Tree:          tree,
		Departments:   active,
		Workload:      workload,
		Rules:         rules,
		DefaultPolicy: e.defaultPolicy,
		Now:           e.now(),
	})
	if err != nil {
		return nil, err
	}

	if err := st.InsertResults(ctx, out.Results); err != nil {
		return nil, err
	}
	if err := st.InsertAdjustments(ctx, out.Details); err != nil {
		return nil, err
	}
	if err := st.InsertSummaries(ctx, out.Summaries); err != nil {
		return nil, err
	}

	e.logger.Info("Aggregation written",
		zap.String("task_id", rc.TaskID),
		zap.Int("departments", len(active)),
		zap.Int("results", len(out.Results)),
		zap.Int("details", len(out.Details)))
	return &Report{Results: len(out.Results), Details: len(out.Details), Summaries: len(out.Summaries)}, nil
}
