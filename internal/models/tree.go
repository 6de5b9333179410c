package models

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type NodeType string

const (
	NodeSequence  NodeType = "sequence"
	NodeDimension NodeType = "dimension"
)

// Measure selects which billed quantity a leaf accumulates as workload.
type Measure string

const (
	MeasureQuantity Measure = "quantity"
	MeasureAmount   Measure = "amount"
)

// CompositionPolicy decides how several orientation rules on one node combine.
type CompositionPolicy string

const (
	// ComposeFirstMatch applies only the first rule whose ladder matches.
	ComposeFirstMatch CompositionPolicy = "first_match"
	// ComposeCumulative multiplies the intensities of every matching rule.
	ComposeCumulative CompositionPolicy = "cumulative"
)

// ModelVersion is a snapshot of the scoring tree owned by one institution.
type ModelVersion struct {
	gorm.Model
	HospitalID uint   `json:"hospital_id" gorm:"index;not null"`
	Name       string `json:"name"`
	IsActive   bool   `json:"is_active"`
}

func (ModelVersion) TableName() string { return "model_versions" }

// ScoringNode is one node of the scoring tree of a model version.
type ScoringNode struct {
	ID                 uint                `json:"id" gorm:"primaryKey"`
	VersionID          uint                `json:"version_id" gorm:"uniqueIndex:uq_node_version_code;not null"`
	Code               string              `json:"code" gorm:"type:varchar(100);uniqueIndex:uq_node_version_code;not null"`
	Name               string              `json:"name" gorm:"not null"`
	NodeType           NodeType            `json:"node_type" gorm:"type:varchar(20);not null"`
	ParentID           *uint               `json:"parent_id" gorm:"index"`
	IsLeaf             bool                `json:"is_leaf"`
	Weight             decimal.NullDecimal `json:"weight" gorm:"type:decimal(38,12)"`
	Unit               string              `json:"unit"`
	Measure            Measure             `json:"measure" gorm:"type:varchar(20)"`
	SortOrder          int                 `json:"sort_order"`
	OrientationRuleIDs []uint              `json:"orientation_rule_ids,omitempty" gorm:"serializer:json"`
	OrientationPolicy  CompositionPolicy   `json:"orientation_policy,omitempty" gorm:"type:varchar(20)"`
	SourceItemCodes    []string            `json:"source_item_codes,omitempty" gorm:"serializer:json"`
}

func (ScoringNode) TableName() string { return "model_nodes" }
