package services

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"value-calculation-service/internal/store"
)

const workflowJobTag = "workflow_cron"

// SchedulerService creates a task for the previous calendar month each
// time a workflow's cron expression fires.
type SchedulerService struct {
	store      *store.Store
	tasks      *TaskService
	Scheduler  gocron.Scheduler
	logger     *zap.Logger
	appContext context.Context
	now        func() time.Time
}

func NewSchedulerService(ctx context.Context, st *store.Store, tasks *TaskService, logger *zap.Logger) (*SchedulerService, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SchedulerService{
		store:      st,
		tasks:      tasks,
		Scheduler:  s,
		logger:     logger.Named("scheduler"),
		appContext: ctx,
		now:        time.Now,
	}, nil
}

func (s *SchedulerService) Start() {
	s.Scheduler.Start()
	s.LoadAndScheduleWorkflows()
	s.logger.Info("Scheduler started", zap.Int("jobs", len(s.Scheduler.Jobs())))
}

func (s *SchedulerService) Stop() {
	if err := s.Scheduler.Shutdown(); err != nil {
		s.logger.Error("Error shutting down gocron scheduler", zap.Error(err))
		return
	}
	s.logger.Info("Scheduler stopped")
}

// LoadAndScheduleWorkflows replaces every workflow job with the current
// set of workflows that carry a cron expression. Invalid expressions are
// logged and skipped.
func (s *SchedulerService) LoadAndScheduleWorkflows() int {
	workflows, err := s.store.ListScheduledWorkflows(s.appContext)
	if err != nil {
		s.logger.Error("Error fetching scheduled workflows", zap.Error(err))
		return 0
	}

	s.Scheduler.RemoveByTags(workflowJobTag)

	scheduled := 0
	for _, wf := range workflows {
		job, err := s.Scheduler.NewJob(
			gocron.CronJob(wf.CronExpression, false),
			gocron.NewTask(s.runWorkflow, wf.ID),
			gocron.WithName(fmt.Sprintf("workflow_%d", wf.ID)),
			gocron.WithTags(workflowJobTag, fmt.Sprintf("workflow_id:%d", wf.ID)),
		)
		if err != nil {
			s.logger.Warn("Error scheduling workflow",
				zap.Uint("workflow_id", wf.ID), zap.String("cron", wf.CronExpression), zap.Error(err))
			continue
		}
		scheduled++
		fields := []zap.Field{zap.Uint("workflow_id", wf.ID), zap.String("cron", wf.CronExpression), zap.String("job_id", job.ID().String())}
		if next, err := job.NextRun(); err == nil {
			fields = append(fields, zap.Time("next_run", next))
		}
		s.logger.Info("Scheduled workflow", fields...)
	}
	return scheduled
}

func (s *SchedulerService) RefreshScheduledJobs() int { return s.LoadAndScheduleWorkflows() }

func (s *SchedulerService) runWorkflow(workflowID uint) {
	period := PreviousPeriod(s.now())
	task, err := s.tasks.Create(s.appContext, CreateTaskInput{
		WorkflowID:  workflowID,
		Period:      period,
		Description: "scheduled run",
	})
	if err != nil {
		s.logger.Error("Scheduled task creation failed",
			zap.Uint("workflow_id", workflowID), zap.String("period", period), zap.Error(err))
		return
	}
	s.logger.Info("Scheduled task created",
		zap.Uint("workflow_id", workflowID), zap.String("task_id", task.TaskID), zap.String("period", period))
}

// PreviousPeriod returns the YYYY-MM of the calendar month before t.
func PreviousPeriod(t time.Time) string {
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	return first.AddDate(0, -1, 0).Format("2006-01")
}

// ScheduledJobs reports the workflows that currently have a job.
func (s *SchedulerService) ScheduledJobs() []string {
	var names []string
	for _, j := range s.Scheduler.Jobs() {
		names = append(names, j.Name())
	}
	return names
}
