package executors

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"value-calculation-service/internal/models"
	"value-calculation-service/internal/task-worker/datasource"
)

// QueryExecutor runs the statements of a query step one by one inside a
// single transaction on the resolved data source.
type QueryExecutor struct {
	sources *datasource.Manager
}

func NewQueryExecutor(sources *datasource.Manager) *QueryExecutor {
	return &QueryExecutor{sources: sources}
}

func (e *QueryExecutor) Execute(ctx context.Context, req Request) (*Result, error) {
	code, ok := req.Code.(QueryCode)
	if !ok {
		return nil, fmt.Errorf("query executor cannot run %s code", req.Code.Kind())
	}
	binding, err := e.sources.Resolve(ctx, append([]*uint{code.DataSourceID}, req.Fallbacks...)...)
	if err != nil {
		return nil, err
	}
	statements := SplitStatements(code.SQL, binding.DB.Dialector.Name())
	if len(statements) == 0 {
		return nil, fmt.Errorf("step %d contains no statements", req.StepID)
	}
	res := &Result{DataSource: binding.Name}

	err = binding.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, stmt := range statements {
			outcome, err := runStatement(tx, i, stmt)
			res.Statements = append(res.Statements, outcome)
			res.RowCount += outcome.RowsAffected
			if err != nil {
				return fmt.Errorf("statement %d of %d: %w", i+1, len(statements), err)
			}
		}
		return nil
	})
	if err != nil {
		res.Info = append(res.Info, fmt.Sprintf("rolled back after %d of %d statements", len(res.Statements), len(statements)))
		return res, err
	}
	res.Info = append(res.Info, fmt.Sprintf("committed %d statements, %d rows affected", len(statements), res.RowCount))
	return res, nil
}

// runStatement executes one statement and records its effect. Statements
// that return rows are drained through a cursor and counted. Writes,
// including WITH ... INSERT/UPDATE/DELETE, report their affected rows.
func runStatement(tx *gorm.DB, index int, stmt string) (models.StatementOutcome, error) {
	outcome := models.StatementOutcome{Index: index, Preview: preview(stmt)}
	if returnsRows(stmt) {
		outcome.Kind = "query"
		rows, err := tx.Raw(stmt).Rows()
		if err != nil {
			outcome.Error = err.Error()
			return outcome, err
		}
		defer rows.Close()
		for rows.Next() {
			outcome.RowsReturned++
		}
		if err := rows.Err(); err != nil {
			outcome.Error = err.Error()
			return outcome, err
		}
		return outcome, nil
	}

	outcome.Kind = "exec"
	res := tx.Exec(stmt)
	if res.Error != nil {
		outcome.Error = res.Error.Error()
		return outcome, res.Error
	}
	outcome.RowsAffected = res.RowsAffected
	return outcome, nil
}
