package errors

import "errors"

var (
	ErrTaskNotFound       = errors.New("task not found")
	ErrWorkflowNotFound   = errors.New("workflow not found")
	ErrVersionNotFound    = errors.New("model version not found")
	ErrDataSourceNotFound = errors.New("data source not found")
	ErrInvalidTransition  = errors.New("invalid task status transition")
	ErrInvalidPeriod      = errors.New("invalid period, expected YYYY-MM")
	ErrTreeInvalid        = errors.New("invalid scoring tree")
	ErrStaleResults       = errors.New("task already has result rows")
	ErrDuplicateResult    = errors.New("duplicate calculation result key")
	ErrNoSteps            = errors.New("workflow has no enabled steps")
)
