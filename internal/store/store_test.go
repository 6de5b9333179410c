package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"value-calculation-service/internal/models"
	"value-calculation-service/internal/testutil"
	apperrors "value-calculation-service/pkg/errors"
)

func setup(t *testing.T) (*Store, *gorm.DB, *testutil.Fixture) {
	gormDB := testutil.NewDB(t)
	f := testutil.Seed(t, gormDB)
	return New(gormDB), gormDB, f
}

func TestTaskTransitions(t *testing.T) {
	s, gormDB, f := setup(t)
	ctx := context.Background()
	f.NewTask(t, gormDB, "t-1", "")
	now := time.Now()

	require.NoError(t, s.MarkRunning(ctx, "t-1", now))
	err := s.MarkRunning(ctx, "t-1", now)
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition, "running -> running is rejected")

	require.NoError(t, s.MarkCompleted(ctx, "t-1", now))
	assert.ErrorIs(t, s.Cancel(ctx, "t-1", "late", now), apperrors.ErrInvalidTransition)
	assert.ErrorIs(t, s.MarkFailed(ctx, "t-1", "late", now), apperrors.ErrInvalidTransition)

	task, err := s.GetTask(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskCompleted, task.Status)
	require.NotNil(t, task.StartedAt)
	require.NotNil(t, task.CompletedAt)
}

func TestCancel_FromPendingAndRunning(t *testing.T) {
	s, gormDB, f := setup(t)
	ctx := context.Background()
	f.NewTask(t, gormDB, "pending", "")
	f.NewTask(t, gormDB, "running", "")
	require.NoError(t, s.MarkRunning(ctx, "running", time.Now()))

	require.NoError(t, s.Cancel(ctx, "pending", "operator", time.Now()))
	require.NoError(t, s.Cancel(ctx, "running", "operator", time.Now()))

	status, err := s.TaskStatus(ctx, "running")
	require.NoError(t, err)
	assert.Equal(t, models.TaskCancelled, status)

	assert.ErrorIs(t, s.MarkCompleted(ctx, "running", time.Now()), apperrors.ErrInvalidTransition,
		"a cancelled task cannot be completed afterwards")
}

func TestGetTask_NotFound(t *testing.T) {
	s, _, _ := setup(t)
	_, err := s.GetTask(context.Background(), "missing")
	assert.ErrorIs(t, err, apperrors.ErrTaskNotFound)
	assert.ErrorIs(t, s.Cancel(context.Background(), "missing", "", time.Now()), apperrors.ErrTaskNotFound)
}

func TestListTasks_Filters(t *testing.T) {
	s, gormDB, f := setup(t)
	ctx := context.Background()
	f.NewTask(t, gormDB, "a", "batch-1")
	f.NewTask(t, gormDB, "b", "batch-1")
	f.NewTask(t, gormDB, "c", "")
	require.NoError(t, s.MarkRunning(ctx, "c", time.Now()))

	tasks, total, err := s.ListTasks(ctx, TaskFilter{BatchID: "batch-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, tasks, 2)

	tasks, total, err = s.ListTasks(ctx, TaskFilter{Status: models.TaskRunning})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, "c", tasks[0].TaskID)
}

func TestListEnabledSteps_Order(t *testing.T) {
	s, gormDB, f := setup(t)
	f.AddStep(t, gormDB, "third", models.CodeQuery, "3", "SELECT 3")
	f.AddStep(t, gormDB, "first", models.CodeQuery, "1", "SELECT 1")
	f.AddStep(t, gormDB, "inserted", models.CodeQuery, "1.5", "SELECT 15")
	disabled := f.AddStep(t, gormDB, "disabled", models.CodeQuery, "2", "SELECT 2")
	require.NoError(t, gormDB.Model(&disabled).Update("is_enabled", false).Error)

	steps, err := s.ListEnabledSteps(context.Background(), f.Workflow.ID)
	require.NoError(t, err)

	var names []string
	for _, st := range steps {
		names = append(names, st.Name)
	}
	assert.Equal(t, []string{"first", "inserted", "third"}, names)
}

func TestStepLogs_AppendAndList(t *testing.T) {
	s, gormDB, f := setup(t)
	ctx := context.Background()
	f.NewTask(t, gormDB, "t-1", "")

	for i, status := range []models.StepStatus{models.StepSuccess, models.StepFailed} {
		require.NoError(t, s.AppendStepLog(ctx, &models.StepLog{
			TaskID: "t-1", StepID: uint(i + 1), Status: status,
			Statements: []models.StatementOutcome{{Index: 0, Kind: "exec", RowsAffected: 3}},
		}))
	}

	logs, err := s.ListStepLogs(ctx, "t-1")
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, uint(1), logs[0].StepID)
	assert.Equal(t, models.StepFailed, logs[1].Status)
	assert.Equal(t, int64(3), logs[0].Statements[0].RowsAffected)
}

func TestInsertResults_DuplicateKeyIsLoud(t *testing.T) {
	s, gormDB, f := setup(t)
	ctx := context.Background()
	f.NewTask(t, gormDB, "t-1", "")

	row := models.CalculationResult{
		TaskID: "t-1", NodeID: f.Nodes["DOC-VISIT"].ID, DepartmentID: f.Depts["D01"].ID,
		NodeType: models.NodeDimension, Value: testutil.Dec("55000"),
	}
	require.NoError(t, s.InsertResults(ctx, []models.CalculationResult{row}))

	row.ID = 0
	err := s.InsertResults(ctx, []models.CalculationResult{row})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrDuplicateResult)
	assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)

	has, err := s.HasResults(ctx, "t-1")
	require.NoError(t, err)
	assert.True(t, has)
}

func TestSumCharges(t *testing.T) {
	s, _, _ := setup(t)
	ctx := context.Background()

	totals, err := s.SumCharges(ctx, testutil.HospitalID, testutil.Period, []string{"V001", "S001"}, models.MeasureQuantity)
	require.NoError(t, err)
	require.Len(t, totals, 2)
	assert.Equal(t, "D01", totals[0].DepartmentCode)
	assert.True(t, totals[0].Total.Equal(testutil.Dec("1600")))
	assert.True(t, totals[1].Total.Equal(testutil.Dec("200")))

	totals, err = s.SumCharges(ctx, testutil.HospitalID, testutil.Period, []string{"N001"}, models.MeasureAmount)
	require.NoError(t, err)
	require.Len(t, totals, 1)
	assert.True(t, totals[0].Total.Equal(testutil.Dec("625")))

	totals, err = s.SumCharges(ctx, testutil.HospitalID, "2025-09", []string{"V001"}, models.MeasureQuantity)
	require.NoError(t, err)
	assert.Empty(t, totals)
}

func TestPurgeTaskRows(t *testing.T) {
	s, gormDB, f := setup(t)
	ctx := context.Background()
	f.NewTask(t, gormDB, "t-1", "")
	require.NoError(t, s.MarkRunning(ctx, "t-1", time.Now()))
	require.NoError(t, s.InsertWorkload(ctx, []models.WorkloadEntry{
		{TaskID: "t-1", NodeID: f.Nodes["DOC-VISIT"].ID, DepartmentID: f.Depts["D01"].ID, Workload: testutil.Dec("1000")},
	}))
	require.NoError(t, s.InsertResults(ctx, []models.CalculationResult{
		{TaskID: "t-1", NodeID: f.Nodes["DOC-VISIT"].ID, DepartmentID: f.Depts["D01"].ID, NodeType: models.NodeDimension, Value: testutil.Dec("1")},
	}))

	_, err := s.PurgeTaskRows(ctx, "t-1", "retry")
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition, "running tasks cannot be purged")

	require.NoError(t, s.MarkFailed(ctx, "t-1", "step 2 failed", time.Now()))
	rec, err := s.PurgeTaskRows(ctx, "t-1", "retry after fix")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.ResultsRemoved)
	assert.Equal(t, int64(1), rec.WorkloadRemoved)
	assert.Equal(t, int64(0), rec.DetailsRemoved)

	has, err := s.HasResults(ctx, "t-1")
	require.NoError(t, err)
	assert.False(t, has)

	records, err := s.ListCleanupRecords(ctx, "t-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "retry after fix", records[0].Reason)
}

func TestLoadRuleSet(t *testing.T) {
	s, gormDB, _ := setup(t)
	ctx := context.Background()

	rule := models.OrientationRule{HospitalID: testutil.HospitalID, Name: "visits", Category: models.BenchmarkLadder, IsActive: true}
	require.NoError(t, gormDB.Create(&rule).Error)
	for _, l := range []models.OrientationLadder{
		{RuleID: rule.ID, LadderOrder: 2, LowerLimit: testutil.NullDec("1"), AdjustmentIntensity: testutil.Dec("1.1")},
		{RuleID: rule.ID, LadderOrder: 1, UpperLimit: testutil.NullDec("1"), AdjustmentIntensity: testutil.Dec("0.9")},
	} {
		l := l
		require.NoError(t, gormDB.Create(&l).Error)
	}
	require.NoError(t, gormDB.Create(&models.OrientationBenchmark{RuleID: rule.ID, DepartmentCode: "D01", BenchmarkValue: testutil.Dec("100")}).Error)
	require.NoError(t, gormDB.Create(&models.OrientationValue{RuleID: rule.ID, DepartmentCode: "D01", Period: testutil.Period, ActualValue: testutil.Dec("120")}).Error)
	require.NoError(t, gormDB.Create(&models.OrientationValue{RuleID: rule.ID, DepartmentCode: "D01", Period: "2025-09", ActualValue: testutil.Dec("80")}).Error)

	set, err := s.LoadRuleSet(ctx, testutil.HospitalID, []uint{rule.ID}, testutil.Period)
	require.NoError(t, err)
	require.Contains(t, set.Rules, rule.ID)
	ladders := set.Rules[rule.ID].Ladders
	require.Len(t, ladders, 2)
	assert.Equal(t, 1, ladders[0].LadderOrder)
	assert.False(t, ladders[0].LowerLimit.Valid, "null lower limit is unbounded")
	assert.True(t, set.Benchmarks[rule.ID]["D01"].BenchmarkValue.Equal(testutil.Dec("100")))
	assert.True(t, set.Values[rule.ID]["D01"].ActualValue.Equal(testutil.Dec("120")))
}
