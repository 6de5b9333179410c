package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// WorkloadEntry stages the leaf workload of one (task, node, department)
// before aggregation.
type WorkloadEntry struct {
	ID           uint            `json:"id" gorm:"primaryKey"`
	TaskID       string          `json:"task_id" gorm:"type:varchar(64);uniqueIndex:uq_workload_key;not null"`
	NodeID       uint            `json:"node_id" gorm:"uniqueIndex:uq_workload_key;not null"`
	DepartmentID uint            `json:"department_id" gorm:"uniqueIndex:uq_workload_key;not null"`
	Workload     decimal.Decimal `json:"workload" gorm:"type:decimal(38,12);not null"`
	Source       string          `json:"source" gorm:"type:varchar(50)"`
	CreatedAt    time.Time       `json:"created_at"`
}

func (WorkloadEntry) TableName() string { return "calculation_workloads" }

// CalculationResult is one computed (task, node, department) row.
// Workload, Weight and OriginalWeight are null on non-leaf rows.
type CalculationResult struct {
	ID             uint                `json:"id" gorm:"primaryKey"`
	TaskID         string              `json:"task_id" gorm:"type:varchar(64);uniqueIndex:uq_calc_result_key;not null"`
	NodeID         uint                `json:"node_id" gorm:"uniqueIndex:uq_calc_result_key;not null"`
	DepartmentID   uint                `json:"department_id" gorm:"uniqueIndex:uq_calc_result_key;not null"`
	DepartmentCode string              `json:"department_code" gorm:"type:varchar(50)"`
	NodeType       NodeType            `json:"node_type" gorm:"type:varchar(20);not null"`
	NodeName       string              `json:"node_name"`
	NodeCode       string              `json:"node_code" gorm:"type:varchar(100)"`
	ParentID       *uint               `json:"parent_id"`
	Workload       decimal.NullDecimal `json:"workload" gorm:"type:decimal(38,12)"`
	Weight         decimal.NullDecimal `json:"weight" gorm:"type:decimal(38,12)"`
	OriginalWeight decimal.NullDecimal `json:"original_weight" gorm:"type:decimal(38,12)"`
	Value          decimal.Decimal     `json:"value" gorm:"type:decimal(38,12);not null"`
	Ratio          decimal.NullDecimal `json:"ratio" gorm:"type:decimal(38,12)"`
	CreatedAt      time.Time           `json:"created_at"`
}

func (CalculationResult) TableName() string { return "calculation_results" }

type SequenceShare struct {
	NodeID uint             `json:"node_id"`
	Code   string           `json:"code"`
	Name   string           `json:"name"`
	Value  decimal.Decimal  `json:"value"`
	Ratio  *decimal.Decimal `json:"ratio,omitempty"`
}

// CalculationSummary is the per-department total of a task.
type CalculationSummary struct {
	ID             uint            `json:"id" gorm:"primaryKey"`
	TaskID         string          `json:"task_id" gorm:"type:varchar(64);uniqueIndex:uq_summary_key;not null"`
	DepartmentID   uint            `json:"department_id" gorm:"uniqueIndex:uq_summary_key;not null"`
	DepartmentCode string          `json:"department_code"`
	TotalValue     decimal.Decimal `json:"total_value" gorm:"type:decimal(38,12);not null"`
	Sequences      []SequenceShare `json:"sequences" gorm:"serializer:json"`
	CreatedAt      time.Time       `json:"created_at"`
}

func (CalculationSummary) TableName() string { return "calculation_summaries" }

// CleanupRecord audits an explicit purge of a failed or cancelled task's rows.
type CleanupRecord struct {
	ID               uint      `json:"id" gorm:"primaryKey"`
	TaskID           string    `json:"task_id" gorm:"type:varchar(64);index;not null"`
	Reason           string    `json:"reason" gorm:"type:text"`
	ResultsRemoved   int64     `json:"results_removed"`
	DetailsRemoved   int64     `json:"details_removed"`
	WorkloadRemoved  int64     `json:"workload_removed"`
	SummariesRemoved int64     `json:"summaries_removed"`
	CreatedAt        time.Time `json:"created_at"`
}

func (CleanupRecord) TableName() string { return "calculation_cleanup_records" }

// All lists every persisted model, in migration order.
func All() []interface{} {
	return []interface{}{
		&ModelVersion{}, &ScoringNode{},
		&Workflow{}, &Step{}, &DataSource{},
		&Task{}, &StepLog{},
		&Department{}, &ChargeDetail{},
		&OrientationRule{}, &OrientationLadder{}, &OrientationBenchmark{}, &OrientationValue{},
		&WorkloadEntry{}, &CalculationResult{}, &OrientationAdjustmentDetail{},
		&CalculationSummary{}, &CleanupRecord{},
	}
}
