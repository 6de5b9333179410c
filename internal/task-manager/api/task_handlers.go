package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"go.uber.org/zap"

	"value-calculation-service/internal/models"
	"value-calculation-service/internal/store"
	"value-calculation-service/internal/task-manager/services"
	apperrors "value-calculation-service/pkg/errors"
)

type TaskHandler struct {
	Tasks  *services.TaskService
	logger *zap.Logger
}

func NewTaskHandler(tasks *services.TaskService, logger *zap.Logger) *TaskHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TaskHandler{Tasks: tasks, logger: logger.Named("api")}
}

type CreateBatchRequest struct {
	Tasks []services.CreateTaskInput `json:"tasks"`
}

type ReasonRequest struct {
	Reason string `json:"reason"`
}

type ListTasksResponse struct {
	Tasks []models.Task `json:"tasks"`
	Total int64         `json:"total"`
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperrors.ErrTaskNotFound),
		errors.Is(err, apperrors.ErrDataSourceNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperrors.ErrWorkflowNotFound),
		errors.Is(err, apperrors.ErrVersionNotFound),
		errors.Is(err, apperrors.ErrInvalidPeriod):
		return http.StatusBadRequest
	case errors.Is(err, apperrors.ErrInvalidTransition):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *TaskHandler) fail(c *app.RequestContext, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		h.logger.Error("Request failed", zap.ByteString("path", c.Path()), zap.Error(err))
	}
	c.JSON(code, utils.H{"error": err.Error()})
}

func (h *TaskHandler) CreateTask(ctx context.Context, c *app.RequestContext) {
	var req services.CreateTaskInput
	if err := c.Bind(&req); err != nil {
		c.JSON(http.StatusBadRequest, utils.H{"error": "Invalid request payload: " + err.Error()})
		return
	}
	task, err := h.Tasks.Create(ctx, req)
	if err != nil {
		if task != nil {
			c.JSON(http.StatusCreated, utils.H{"task": task, "dispatch_warning": err.Error()})
			return
		}
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

func (h *TaskHandler) CreateBatch(ctx context.Context, c *app.RequestContext) {
	var req CreateBatchRequest
	if err := c.Bind(&req); err != nil || len(req.Tasks) == 0 {
		c.JSON(http.StatusBadRequest, utils.H{"error": "Invalid request payload: a non-empty tasks list is required"})
		return
	}
	batchID, tasks, err := h.Tasks.CreateBatch(ctx, req.Tasks)
	if err != nil {
		if tasks != nil {
			c.JSON(http.StatusCreated, utils.H{"batch_id": batchID, "tasks": tasks, "dispatch_warning": err.Error()})
			return
		}
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, utils.H{"batch_id": batchID, "tasks": tasks})
}

func (h *TaskHandler) GetTasks(ctx context.Context, c *app.RequestContext) {
	f := store.TaskFilter{
		Status:  models.TaskStatus(c.Query("status")),
		BatchID: c.Query("batch_id"),
		Period:  c.Query("period"),
	}
	if v := c.Query("workflow_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, utils.H{"error": "Invalid workflow_id"})
			return
		}
		f.WorkflowID = uint(id)
	}
	f.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	f.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))

	tasks, total, err := h.Tasks.List(ctx, f)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ListTasksResponse{Tasks: tasks, Total: total})
}

func (h *TaskHandler) GetTaskByID(ctx context.Context, c *app.RequestContext) {
	task, err := h.Tasks.Get(ctx, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *TaskHandler) GetStepLogs(ctx context.Context, c *app.RequestContext) {
	logs, err := h.Tasks.StepLogs(ctx, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, logs)
}

func (h *TaskHandler) CancelTask(ctx context.Context, c *app.RequestContext) {
	var req ReasonRequest
	_ = c.Bind(&req)
	task, err := h.Tasks.Cancel(ctx, c.Param("id"), req.Reason)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *TaskHandler) RerunTask(ctx context.Context, c *app.RequestContext) {
	task, err := h.Tasks.Rerun(ctx, c.Param("id"))
	if err != nil {
		if task != nil {
			c.JSON(http.StatusCreated, utils.H{"task": task, "dispatch_warning": err.Error()})
			return
		}
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

func (h *TaskHandler) PurgeTask(ctx context.Context, c *app.RequestContext) {
	var req ReasonRequest
	_ = c.Bind(&req)
	rec, err := h.Tasks.Purge(ctx, c.Param("id"), req.Reason)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *TaskHandler) GetResults(ctx context.Context, c *app.RequestContext) {
	var dept *uint
	if v := c.Query("department_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, utils.H{"error": "Invalid department_id"})
			return
		}
		d := uint(id)
		dept = &d
	}
	res, err := h.Tasks.Results(ctx, c.Param("id"), dept)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *TaskHandler) GetAdjustments(ctx context.Context, c *app.RequestContext) {
	details, err := h.Tasks.Adjustments(ctx, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, details)
}

func (h *TaskHandler) TestDataSource(ctx context.Context, c *app.RequestContext) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, utils.H{"error": "Invalid ID format"})
		return
	}
	if err := h.Tasks.TestDataSource(ctx, uint(id)); err != nil {
		if errors.Is(err, apperrors.ErrDataSourceNotFound) {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, utils.H{"ok": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, utils.H{"ok": true})
}
