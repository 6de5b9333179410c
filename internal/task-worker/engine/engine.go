// Package engine turns staged leaf workload into per-node, per-department
// results with orientation adjustments, rollup and ratios.
package engine

import (
	"time"

	"go.uber.org/zap"

	"value-calculation-service/internal/models"
)

// RunContext identifies the task a computation belongs to. It is passed
// explicitly so one process can serve several institutions at once.
type RunContext struct {
	TaskID        string
	VersionID     uint
	HospitalID    uint
	Period        string
	DepartmentIDs []uint
}

type Engine struct {
	defaultPolicy models.CompositionPolicy
	logger        *zap.Logger
	now           func() time.Time
}

func New(defaultPolicy models.CompositionPolicy, logger *zap.Logger) *Engine {
	if defaultPolicy == "" {
		defaultPolicy = models.ComposeFirstMatch
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{defaultPolicy: defaultPolicy, logger: logger.Named("engine"), now: time.Now}
}

// Key addresses one (node, department) cell.
type Key struct {
	NodeID       uint
	DepartmentID uint
}
