package models

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type CodeKind string

const (
	CodeQuery  CodeKind = "query"
	CodeScript CodeKind = "script"
)

// Workflow owns an ordered list of steps for one model version.
type Workflow struct {
	gorm.Model
	VersionID           uint   `json:"version_id" gorm:"index;not null"`
	Name                string `json:"name" gorm:"not null"`
	Description         string `json:"description"`
	CronExpression      string `json:"cron_expression,omitempty" gorm:"index"`
	DefaultDataSourceID *uint  `json:"default_data_source_id,omitempty"`
	Steps               []Step `json:"steps,omitempty"`
}

func (Workflow) TableName() string { return "calculation_workflows" }

// Step is immutable while any task that references it executes.
type Step struct {
	gorm.Model
	WorkflowID   uint            `json:"workflow_id" gorm:"index;not null"`
	Name         string          `json:"name" gorm:"not null"`
	CodeKind     CodeKind        `json:"code_kind" gorm:"type:varchar(20);not null"`
	CodeText     string          `json:"code_text" gorm:"type:text"`
	DataSourceID *uint           `json:"data_source_id,omitempty"`
	ResultSchema string          `json:"result_schema,omitempty" gorm:"type:text"`
	SortOrder    decimal.Decimal `json:"sort_order" gorm:"type:decimal(10,2);not null"`
	IsEnabled    bool            `json:"is_enabled" gorm:"not null;default:true"`
}

func (Step) TableName() string { return "calculation_steps" }

type DBType string

const (
	DBMySQL    DBType = "mysql"
	DBSQLite   DBType = "sqlite"
	DBPostgres DBType = "postgres"
)

// DataSource is a connection target for steps. The DSN is handed over
// already decrypted by the data-source management component.
type DataSource struct {
	gorm.Model
	Name         string `json:"name" gorm:"uniqueIndex:uq_data_source_name;not null"`
	DBType       DBType `json:"db_type" gorm:"type:varchar(20);not null"`
	DSN          string `json:"-" gorm:"type:text;not null"`
	MaxOpenConns int    `json:"max_open_conns"`
	MaxIdleConns int    `json:"max_idle_conns"`
	IsDefault    bool   `json:"is_default"`
	IsEnabled    bool   `json:"is_enabled" gorm:"not null;default:true"`
}

func (DataSource) TableName() string { return "data_sources" }
