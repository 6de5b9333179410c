package models

import "time"

// TaskStatus is the lifecycle state of a calculation task.
// Transitions are pending -> running -> {completed, failed, cancelled}.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// Task is one execution of a workflow against a reporting period.
type Task struct {
	ID                  uint       `json:"-" gorm:"primaryKey"`
	TaskID              string     `json:"task_id" gorm:"type:varchar(64);uniqueIndex:uq_task_task_id;not null"`
	WorkflowID          uint       `json:"workflow_id" gorm:"index;not null"`
	VersionID           uint       `json:"version_id" gorm:"index;not null"`
	HospitalID          uint       `json:"hospital_id" gorm:"index;not null"`
	Period              string     `json:"period" gorm:"type:varchar(7);index;not null"` // YYYY-MM
	Status              TaskStatus `json:"status" gorm:"type:varchar(20);index;not null;default:pending"`
	BatchID             string     `json:"batch_id,omitempty" gorm:"type:varchar(64);index"`
	DepartmentIDs       []uint     `json:"department_ids,omitempty" gorm:"serializer:json"`
	DefaultDataSourceID *uint      `json:"default_data_source_id,omitempty"`
	RerunOf             string     `json:"rerun_of,omitempty" gorm:"type:varchar(64)"`
	Description         string     `json:"description,omitempty" gorm:"type:text"`
	ErrorMessage        string     `json:"error_message,omitempty" gorm:"type:text"`
	CreatedAt           time.Time  `json:"created_at"`
	StartedAt           *time.Time `json:"started_at,omitempty"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
}

func (Task) TableName() string { return "calculation_tasks" }

// StepStatus is the outcome of one step execution attempt.
type StepStatus string

const (
	StepSuccess StepStatus = "success"
	StepFailed  StepStatus = "failed"
)

// StatementOutcome attributes the effect of one statement inside a step.
type StatementOutcome struct {
	Index        int    `json:"index"`
	Kind         string `json:"kind"` // exec, query, script
	Preview      string `json:"preview"`
	RowsAffected int64  `json:"rows_affected"`
	RowsReturned int64  `json:"rows_returned"`
	Error        string `json:"error,omitempty"`
}

// StepLog is written once per (task, step) attempt and never mutated.
type StepLog struct {
	ID            uint               `json:"id" gorm:"primaryKey"`
	TaskID        string             `json:"task_id" gorm:"type:varchar(64);index;not null"`
	StepID        uint               `json:"step_id" gorm:"index;not null"`
	StepName      string             `json:"step_name"`
	StartTime     time.Time          `json:"start_time"`
	EndTime       time.Time          `json:"end_time"`
	DurationMs    int64              `json:"duration_ms"`
	Status        StepStatus         `json:"status" gorm:"type:varchar(20);not null"`
	ErrorClass    string             `json:"error_class,omitempty" gorm:"type:varchar(20)"`
	ResultSummary string             `json:"result_summary"`
	ExecutionInfo string             `json:"execution_info" gorm:"type:text"`
	Statements    []StatementOutcome `json:"statements,omitempty" gorm:"serializer:json"`
}

func (StepLog) TableName() string { return "calculation_step_logs" }
