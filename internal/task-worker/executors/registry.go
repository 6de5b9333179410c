package executors

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"value-calculation-service/internal/models"
	"value-calculation-service/internal/placeholder"
	"value-calculation-service/internal/task-worker/engine"
)

// Code is the executable body of a step: QueryCode or ScriptCode.
type Code interface {
	Kind() models.CodeKind
	Text() string
	DataSource() *uint
	withText(string) Code
}

type QueryCode struct {
	SQL          string
	DataSourceID *uint
}

func (c QueryCode) Kind() models.CodeKind { return models.CodeQuery }
func (c QueryCode) Text() string          { return c.SQL }
func (c QueryCode) DataSource() *uint     { return c.DataSourceID }
func (c QueryCode) withText(s string) Code {
	c.SQL = s
	return c
}

type ScriptCode struct {
	Source       string
	DataSourceID *uint
	ResultSchema string
}

func (c ScriptCode) Kind() models.CodeKind { return models.CodeScript }
func (c ScriptCode) Text() string          { return c.Source }
func (c ScriptCode) DataSource() *uint     { return c.DataSourceID }
func (c ScriptCode) withText(s string) Code {
	c.Source = s
	return c
}

// CodeFromStep converts a stored step into its tagged form.
func CodeFromStep(step models.Step) (Code, error) {
	switch step.CodeKind {
	case models.CodeQuery:
		return QueryCode{SQL: step.CodeText, DataSourceID: step.DataSourceID}, nil
	case models.CodeScript:
		return ScriptCode{Source: step.CodeText, DataSourceID: step.DataSourceID, ResultSchema: step.ResultSchema}, nil
	default:
		return nil, fmt.Errorf("step %d has unknown code kind %q", step.ID, step.CodeKind)
	}
}

// Request is one step execution for one task.
type Request struct {
	Run      engine.RunContext
	StepID   uint
	StepName string
	Code     Code
	// Fallbacks are consulted in order when the code has no bound data source.
	Fallbacks []*uint
}

// Result is what an executor reports for a step, on success or failure.
type Result struct {
	DataSource string
	RowCount   int64
	Statements []models.StatementOutcome
	Output     string
	Info       []string
}

// Executor runs one kind of code inside a single transaction.
type Executor interface {
	Execute(ctx context.Context, req Request) (*Result, error)
}

// Outcome is the classified, timed record of one step attempt.
type Outcome struct {
	Status     models.StepStatus
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
	RowCount   int64
	Statements []models.StatementOutcome
	Output     string
	Info       string
	Err        error
	Class      ErrorClass
}

type Registry struct {
	executors map[models.CodeKind]Executor
	logger    *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{executors: make(map[models.CodeKind]Executor), logger: logger.Named("executors")}
}

func (r *Registry) Register(kind models.CodeKind, executor Executor) {
	r.logger.Debug("Registering executor", zap.String("kind", string(kind)))
	r.executors[kind] = executor
}

func (r *Registry) Get(kind models.CodeKind) (Executor, error) {
	executor, exists := r.executors[kind]
	if !exists {
		return nil, fmt.Errorf("no executor registered for kind: %s", kind)
	}
	return executor, nil
}

// Execute expands placeholders, dispatches on the code kind and turns the
// executor's report into an Outcome. It never returns a nil Outcome.
func (r *Registry) Execute(ctx context.Context, req Request) *Outcome {
	out := &Outcome{StartTime: time.Now()}
	var notes []string
	finish := func(res *Result, err error) *Outcome {
		out.EndTime = time.Now()
		out.Duration = out.EndTime.Sub(out.StartTime)
		info := notes
		if res != nil {
			out.RowCount = res.RowCount
			out.Statements = res.Statements
			out.Output = res.Output
			if res.DataSource != "" {
				info = append(info, "data source: "+res.DataSource)
			}
			info = append(info, res.Info...)
		}
		out.Status = models.StepSuccess
		if err != nil {
			out.Status = models.StepFailed
			out.Err = err
			out.Class = Classify(err)
			info = append(info, "error: "+err.Error())
		}
		out.Info = strings.Join(info, "\n")
		return out
	}

	if req.Code == nil {
		return finish(nil, fmt.Errorf("step %d has no code", req.StepID))
	}
	executor, err := r.Get(req.Code.Kind())
	if err != nil {
		return finish(nil, err)
	}

	text := req.Code.Text()
	if unknown := placeholder.Unresolved(text); len(unknown) > 0 {
		r.logger.Warn("Step references unsupported placeholders, leaving them literal",
			zap.String("task_id", req.Run.TaskID), zap.Uint("step_id", req.StepID), zap.Strings("tokens", unknown))
		notes = append(notes, "literal tokens: "+strings.Join(unknown, ", "))
	}
	req.Code = req.Code.withText(placeholder.Expand(text, placeholder.Context{
		TaskID:    req.Run.TaskID,
		VersionID: req.Run.VersionID,
		Period:    req.Run.Period,
	}))

	res, err := executor.Execute(ctx, req)
	return finish(res, err)
}
