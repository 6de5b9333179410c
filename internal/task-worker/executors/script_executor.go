package executors

import (
	"context"
	"errors"
	"fmt"
	"go/parser"
	"go/token"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
	"gorm.io/gorm"

	"value-calculation-service/internal/models"
	"value-calculation-service/internal/placeholder"
	"value-calculation-service/internal/task-worker/datasource"
	"value-calculation-service/internal/task-worker/engine"
	"value-calculation-service/pkg/validation"
)

// ScriptExecutor interprets Go scripts with yaegi. A script must define
//
//	func Run() (string, error)
//
// and may import the "calc" package, which is bound to the running task
// and to the step's transaction:
//
//	calc.TaskID() string            calc.Exec(sql string) (int64, error)
//	calc.VersionID() uint           calc.Query(sql string) ([]map[string]interface{}, error)
//	calc.HospitalID() uint          calc.CollectWorkload() (int64, error)
//	calc.Period() string            calc.Aggregate() (int64, error)
//	calc.DepartmentIDs() []uint     calc.Log(msg string)
//
// The returned string is the step's declared result. When the step has a
// result schema the result must be JSON that satisfies it.
type ScriptExecutor struct {
	sources         *datasource.Manager
	engine          *engine.Engine
	allowedPackages map[string]bool
}

func NewScriptExecutor(sources *datasource.Manager, eng *engine.Engine) *ScriptExecutor {
	return &ScriptExecutor{
		sources: sources,
		engine:  eng,
		allowedPackages: map[string]bool{
			"calc":            true,
			"bytes":           true,
			"encoding/base64": true,
			"encoding/json":   true,
			"errors":          true,
			"fmt":             true,
			"math":            true,
			"path":            true,
			"regexp":          true,
			"sort":            true,
			"strconv":         true,
			"strings":         true,
			"time":            true,
		},
	}
}

func (e *ScriptExecutor) Execute(ctx context.Context, req Request) (*Result, error) {
	code, ok := req.Code.(ScriptCode)
	if !ok {
		return nil, fmt.Errorf("script executor cannot run %s code", req.Code.Kind())
	}
	source := wrapScript(code.Source)
	if err := e.validateImports(source); err != nil {
		return nil, err
	}

	binding, err := e.sources.Resolve(ctx, append([]*uint{code.DataSourceID}, req.Fallbacks...)...)
	if err != nil {
		return nil, err
	}
	res := &Result{DataSource: binding.Name}

	err = binding.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		api := &calcAPI{ctx: ctx, tx: tx, run: req.Run, engine: e.engine, res: res}
		output, err := runScript(ctx, source, api.exports())
		// an interrupted script may still be inside a calc call
		api.close()
		if err != nil {
			return err
		}
		if err := validation.ValidateJSONWithSchema(code.ResultSchema, output); err != nil {
			return fmt.Errorf("script result rejected: %w", err)
		}
		res.Output = output
		return nil
	})
	if err != nil {
		res.Info = append(res.Info, "transaction rolled back")
		return res, err
	}
	res.Info = append(res.Info, fmt.Sprintf("committed, %d rows affected", res.RowCount))
	return res, nil
}

func wrapScript(code string) string {
	if strings.Contains(code, "package main") {
		return code
	}
	return "package main\n\n" + code
}

func (e *ScriptExecutor) validateImports(source string) error {
	f, err := parser.ParseFile(token.NewFileSet(), "step.go", source, parser.ImportsOnly)
	if err != nil {
		return fmt.Errorf("invalid script: %w", err)
	}
	var forbidden []string
	for _, imp := range f.Imports {
		path, _ := strconv.Unquote(imp.Path.Value)
		if !e.allowedPackages[path] {
			forbidden = append(forbidden, path)
		}
	}
	if len(forbidden) > 0 {
		var allowed []string
		for p := range e.allowedPackages {
			allowed = append(allowed, p)
		}
		sort.Strings(allowed)
		return fmt.Errorf("forbidden imports detected: %v (allowed: %v)", forbidden, allowed)
	}
	return nil
}

// stepEntry runs Run as a plain call so it can be evaluated under a
// context, and exposes its results through a function value.
const stepEntry = `var (
	calcStepOut string
	calcStepErr error
)

func calcStepEntry() { calcStepOut, calcStepErr = Run() }

func CalcStepResult() (string, error) { return calcStepOut, calcStepErr }`

// runScript evaluates source and calls its Run function. Cancelling ctx
// stops the interpreter at its next instruction.
func runScript(ctx context.Context, source string, calc interp.Exports) (string, error) {
	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return "", fmt.Errorf("failed to load stdlib: %w", err)
	}
	if err := i.Use(calc); err != nil {
		return "", fmt.Errorf("failed to load calc package: %w", err)
	}
	if _, err := i.EvalWithContext(ctx, source); err != nil {
		return "", fmt.Errorf("script evaluation failed: %w", err)
	}
	v, err := i.Eval("main.Run")
	if err != nil {
		return "", fmt.Errorf("Run function not found: %w", err)
	}
	if _, ok := v.Interface().(func() (string, error)); !ok {
		return "", fmt.Errorf("Run has incorrect signature (expected: func() (string, error))")
	}
	if _, err := i.Eval(stepEntry); err != nil {
		return "", fmt.Errorf("failed to prepare Run: %w", err)
	}

	_, err = i.EvalWithContext(ctx, "calcStepEntry()")
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", fmt.Errorf("script interrupted: %w", ctxErr)
	}
	if err != nil {
		var p interp.Panic
		if errors.As(err, &p) {
			return "", fmt.Errorf("script panicked: %v", p.Value)
		}
		return "", fmt.Errorf("script failed: %w", err)
	}

	v, err = i.Eval("main.CalcStepResult")
	if err != nil {
		return "", fmt.Errorf("failed to read Run result: %w", err)
	}
	result, ok := v.Interface().(func() (string, error))
	if !ok {
		return "", fmt.Errorf("failed to read Run result")
	}
	return result()
}

// calcAPI binds the calc package to one task and one transaction. Calls
// made after close fail without touching the step result.
type calcAPI struct {
	ctx    context.Context
	tx     *gorm.DB
	run    engine.RunContext
	engine *engine.Engine

	mu     sync.Mutex
	closed bool
	res    *Result
}

var errScriptClosed = errors.New("calc: step already finished")

// enter serializes calc calls and rejects them once the step is over or
// its context is done. The caller must call leave when enter succeeds.
func (a *calcAPI) enter() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return errScriptClosed
	}
	if err := a.ctx.Err(); err != nil {
		a.mu.Unlock()
		return err
	}
	return nil
}

func (a *calcAPI) leave() { a.mu.Unlock() }

func (a *calcAPI) close() {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
}

// record appends a statement outcome. Callers hold a.mu.
func (a *calcAPI) record(o models.StatementOutcome) {
	o.Index = len(a.res.Statements)
	a.res.Statements = append(a.res.Statements, o)
	a.res.RowCount += o.RowsAffected
}

func (a *calcAPI) exec(sql string) (int64, error) {
	if err := a.enter(); err != nil {
		return 0, err
	}
	defer a.leave()
	sql = placeholder.Expand(sql, placeholder.Context{TaskID: a.run.TaskID, VersionID: a.run.VersionID, Period: a.run.Period})
	o, err := runStatement(a.tx, 0, sql)
	o.Kind = "script"
	a.record(o)
	return o.RowsAffected, err
}

func (a *calcAPI) query(sql string) ([]map[string]interface{}, error) {
	if err := a.enter(); err != nil {
		return nil, err
	}
	defer a.leave()
	sql = placeholder.Expand(sql, placeholder.Context{TaskID: a.run.TaskID, VersionID: a.run.VersionID, Period: a.run.Period})
	var rows []map[string]interface{}
	err := a.tx.Raw(sql).Scan(&rows).Error
	o := models.StatementOutcome{Kind: "script-query", Preview: preview(sql), RowsReturned: int64(len(rows))}
	if err != nil {
		o.Error = err.Error()
	}
	a.record(o)
	return rows, err
}

func (a *calcAPI) engineCall(name string, fn func(context.Context, *gorm.DB, engine.RunContext) (*engine.Report, error)) (int64, error) {
	if err := a.enter(); err != nil {
		return 0, err
	}
	defer a.leave()
	report, err := fn(a.ctx, a.tx, a.run)
	o := models.StatementOutcome{Kind: "engine", Preview: name}
	if err != nil {
		o.Error = err.Error()
		a.record(o)
		return 0, err
	}
	o.RowsAffected = int64(report.Workload + report.Results + report.Details + report.Summaries)
	a.record(o)
	if name == "collect workload" {
		return int64(report.Workload), nil
	}
	return int64(report.Results), nil
}

func (a *calcAPI) log(msg string) {
	if a.enter() != nil {
		return
	}
	defer a.leave()
	a.res.Info = append(a.res.Info, msg)
}

func (a *calcAPI) exports() interp.Exports {
	return interp.Exports{
		"calc/calc": map[string]reflect.Value{
			"TaskID":        reflect.ValueOf(func() string { return a.run.TaskID }),
			"VersionID":     reflect.ValueOf(func() uint { return a.run.VersionID }),
			"HospitalID":    reflect.ValueOf(func() uint { return a.run.HospitalID }),
			"Period":        reflect.ValueOf(func() string { return a.run.Period }),
			"DepartmentIDs": reflect.ValueOf(func() []uint { return append([]uint(nil), a.run.DepartmentIDs...) }),
			"Exec":          reflect.ValueOf(a.exec),
			"Query":         reflect.ValueOf(a.query),
			"CollectWorkload": reflect.ValueOf(func() (int64, error) {
				return a.engineCall("collect workload", a.engine.CollectWorkload)
			}),
			"Aggregate": reflect.ValueOf(func() (int64, error) {
				return a.engineCall("aggregate", a.engine.Aggregate)
			}),
			"Log":           reflect.ValueOf(a.log),
		},
	}
}
