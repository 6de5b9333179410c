package executors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"value-calculation-service/internal/models"
	"value-calculation-service/internal/task-worker/engine"
)

type MockExecutor struct {
	mock.Mock
}

func (m *MockExecutor) Execute(ctx context.Context, req Request) (*Result, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*Result)
	return res, args.Error(1)
}

func TestRegistry_Get(t *testing.T) {
	registry := NewRegistry(nil)
	query := &MockExecutor{}
	registry.Register(models.CodeQuery, query)

	testCases := []struct {
		name        string
		kind        models.CodeKind
		expectError bool
	}{
		{"Query", models.CodeQuery, false},
		{"Script", models.CodeScript, true},
		{"Unknown", "unknown-kind-for-testing", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			executor, err := registry.Get(tc.kind)
			if tc.expectError {
				assert.Nil(t, executor, "Executor should be nil on error")
				assert.EqualError(t, err, fmt.Sprintf("no executor registered for kind: %s", tc.kind))
				return
			}
			assert.NoError(t, err)
			assert.Same(t, query, executor)
		})
	}
}

func TestCodeFromStep(t *testing.T) {
	ds := uint(3)
	code, err := CodeFromStep(models.Step{CodeKind: models.CodeQuery, CodeText: "SELECT 1", DataSourceID: &ds})
	require.NoError(t, err)
	assert.Equal(t, QueryCode{SQL: "SELECT 1", DataSourceID: &ds}, code)

	code, err = CodeFromStep(models.Step{CodeKind: models.CodeScript, CodeText: "func Run() (string, error) { return \"\", nil }", ResultSchema: `{"type":"object"}`})
	require.NoError(t, err)
	assert.Equal(t, models.CodeScript, code.Kind())
	assert.Equal(t, `{"type":"object"}`, code.(ScriptCode).ResultSchema)

	_, err = CodeFromStep(models.Step{CodeKind: "shell"})
	assert.Error(t, err)
}

func TestRegistry_ExecuteExpandsPlaceholders(t *testing.T) {
	registry := NewRegistry(nil)
	query := &MockExecutor{}
	registry.Register(models.CodeQuery, query)

	run := engine.RunContext{TaskID: "t-9", VersionID: 4, Period: "2025-10"}
	expanded := QueryCode{SQL: "DELETE FROM x WHERE task_id = 't-9' AND v = 4 AND p = '2025-10' AND q = '{period}'"}
	query.On("Execute", mock.Anything, mock.MatchedBy(func(req Request) bool {
		return req.Code == expanded
	})).Return(&Result{RowCount: 2, DataSource: "primary"}, nil).Once()

	out := registry.Execute(context.Background(), Request{
		Run:  run,
		Code: QueryCode{SQL: "DELETE FROM x WHERE task_id = '{task_id}' AND v = {version_id} AND p = '{current_year_month}' AND q = '{period}'"},
	})

	query.AssertExpectations(t)
	assert.Equal(t, models.StepSuccess, out.Status)
	assert.Equal(t, int64(2), out.RowCount)
	assert.Contains(t, out.Info, "data source: primary")
	assert.Contains(t, out.Info, "literal tokens: {period}")
	assert.False(t, out.EndTime.Before(out.StartTime))
}

func TestRegistry_ExecuteClassifiesFailure(t *testing.T) {
	registry := NewRegistry(nil)
	query := &MockExecutor{}
	registry.Register(models.CodeQuery, query)
	query.On("Execute", mock.Anything, mock.Anything).
		Return(&Result{Statements: []models.StatementOutcome{{Index: 0}}}, fmt.Errorf("statement 1 of 1: %w", gorm.ErrDuplicatedKey))

	out := registry.Execute(context.Background(), Request{Code: QueryCode{SQL: "INSERT"}})
	assert.Equal(t, models.StepFailed, out.Status)
	assert.Equal(t, ClassUniqueness, out.Class)
	assert.True(t, errors.Is(out.Err, gorm.ErrDuplicatedKey))
	assert.Len(t, out.Statements, 1)
	assert.Contains(t, out.Info, "error: statement 1 of 1")
}

func TestRegistry_ExecuteUnknownKind(t *testing.T) {
	out := NewRegistry(nil).Execute(context.Background(), Request{Code: ScriptCode{Source: "x"}})
	assert.Equal(t, models.StepFailed, out.Status)
	assert.Equal(t, ClassCode, out.Class)
}
