package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrientationCategory string

const (
	// BenchmarkLadder matches actual/benchmark against the ladder.
	BenchmarkLadder OrientationCategory = "benchmark_ladder"
	// DirectLadder matches the actual value against the ladder.
	DirectLadder OrientationCategory = "direct_ladder"
)

type OrientationRule struct {
	ID         uint                `json:"id" gorm:"primaryKey"`
	HospitalID uint                `json:"hospital_id" gorm:"index;not null"`
	Name       string              `json:"name" gorm:"not null"`
	Category   OrientationCategory `json:"category" gorm:"type:varchar(30);not null"`
	IsActive   bool                `json:"is_active" gorm:"not null;default:true"`
	Ladders    []OrientationLadder `json:"ladders,omitempty" gorm:"foreignKey:RuleID"`
}

func (OrientationRule) TableName() string { return "orientation_rules" }

// OrientationLadder is one band of a rule. A null limit means unbounded.
// Lower is inclusive and upper is exclusive.
type OrientationLadder struct {
	ID                  uint                `json:"id" gorm:"primaryKey"`
	RuleID              uint                `json:"rule_id" gorm:"index;not null"`
	LadderOrder         int                 `json:"ladder_order"`
	LowerLimit          decimal.NullDecimal `json:"lower_limit" gorm:"type:decimal(38,12)"`
	UpperLimit          decimal.NullDecimal `json:"upper_limit" gorm:"type:decimal(38,12)"`
	AdjustmentIntensity decimal.Decimal     `json:"adjustment_intensity" gorm:"type:decimal(38,12);not null"`
}

func (OrientationLadder) TableName() string { return "orientation_ladders" }

type OrientationBenchmark struct {
	ID             uint            `json:"id" gorm:"primaryKey"`
	RuleID         uint            `json:"rule_id" gorm:"uniqueIndex:uq_benchmark_rule_dept;not null"`
	DepartmentCode string          `json:"department_code" gorm:"type:varchar(50);uniqueIndex:uq_benchmark_rule_dept;not null"`
	BenchmarkValue decimal.Decimal `json:"benchmark_value" gorm:"type:decimal(38,12);not null"`
}

func (OrientationBenchmark) TableName() string { return "orientation_benchmarks" }

// OrientationValue is the measured actual for a department in a period.
type OrientationValue struct {
	ID             uint            `json:"id" gorm:"primaryKey"`
	RuleID         uint            `json:"rule_id" gorm:"uniqueIndex:uq_orientation_value;not null"`
	DepartmentCode string          `json:"department_code" gorm:"type:varchar(50);uniqueIndex:uq_orientation_value;not null"`
	Period         string          `json:"period" gorm:"type:varchar(7);uniqueIndex:uq_orientation_value;not null"`
	ActualValue    decimal.Decimal `json:"actual_value" gorm:"type:decimal(38,12);not null"`
}

func (OrientationValue) TableName() string { return "orientation_values" }

// OrientationAdjustmentDetail records one evaluated rule for a (task, node, department).
// Rows are written once and never updated.
type OrientationAdjustmentDetail struct {
	ID                  uint                `json:"id" gorm:"primaryKey"`
	TaskID              string              `json:"task_id" gorm:"type:varchar(64);uniqueIndex:uq_adjustment_key;not null"`
	NodeID              uint                `json:"node_id" gorm:"uniqueIndex:uq_adjustment_key;not null"`
	NodeCode            string              `json:"node_code"`
	NodeName            string              `json:"node_name"`
	DepartmentID        uint                `json:"department_id" gorm:"uniqueIndex:uq_adjustment_key;not null"`
	DepartmentCode      string              `json:"department_code"`
	RuleID              uint                `json:"rule_id" gorm:"uniqueIndex:uq_adjustment_key;not null"`
	RuleName            string              `json:"rule_name"`
	Category            OrientationCategory `json:"category" gorm:"type:varchar(30)"`
	ActualValue         decimal.NullDecimal `json:"actual_value" gorm:"type:decimal(38,12)"`
	BenchmarkValue      decimal.NullDecimal `json:"benchmark_value" gorm:"type:decimal(38,12)"`
	OrientationRatio    decimal.NullDecimal `json:"orientation_ratio" gorm:"type:decimal(38,12)"`
	LadderID            *uint               `json:"ladder_id"`
	LadderLower         decimal.NullDecimal `json:"ladder_lower" gorm:"type:decimal(38,12)"`
	LadderUpper         decimal.NullDecimal `json:"ladder_upper" gorm:"type:decimal(38,12)"`
	AdjustmentIntensity decimal.Decimal     `json:"adjustment_intensity" gorm:"type:decimal(38,12);not null"`
	WeightBefore        decimal.Decimal     `json:"weight_before" gorm:"type:decimal(38,12);not null"`
	WeightAfter         decimal.Decimal     `json:"weight_after" gorm:"type:decimal(38,12);not null"`
	ValueBefore         decimal.Decimal     `json:"value_before" gorm:"type:decimal(38,12);not null"`
	ValueAfter          decimal.Decimal     `json:"value_after" gorm:"type:decimal(38,12);not null"`
	IsAdjusted          bool                `json:"is_adjusted"`
	Reason              string              `json:"reason" gorm:"type:text"`
	CreatedAt           time.Time           `json:"created_at"`
}

func (OrientationAdjustmentDetail) TableName() string { return "orientation_adjustment_details" }
