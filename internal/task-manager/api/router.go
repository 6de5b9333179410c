package api

import (
	"context"
	"net/http"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/utils"
)

// Refresher reloads scheduled workflow jobs.
type Refresher interface {
	RefreshScheduledJobs() int
}

// Register mounts the task lifecycle routes. scheduler may be nil.
func Register(h *server.Hertz, tasks *TaskHandler, scheduler Refresher) {
	h.GET("/ping", func(ctx context.Context, c *app.RequestContext) {
		c.JSON(http.StatusOK, utils.H{"message": "pong"})
	})

	taskGroup := h.Group("/tasks")
	{
		taskGroup.POST("", tasks.CreateTask)
		taskGroup.POST("/batch", tasks.CreateBatch)
		taskGroup.GET("", tasks.GetTasks)
		taskGroup.GET("/:id", tasks.GetTaskByID)
		taskGroup.GET("/:id/logs", tasks.GetStepLogs)
		taskGroup.GET("/:id/results", tasks.GetResults)
		taskGroup.GET("/:id/adjustments", tasks.GetAdjustments)
		taskGroup.POST("/:id/cancel", tasks.CancelTask)
		taskGroup.POST("/:id/rerun", tasks.RerunTask)
		taskGroup.POST("/:id/purge", tasks.PurgeTask)
	}

	h.POST("/data-sources/:id/test", tasks.TestDataSource)

	if scheduler != nil {
		h.POST("/admin/scheduler/refresh", func(ctx context.Context, c *app.RequestContext) {
			c.JSON(http.StatusOK, utils.H{"scheduled": scheduler.RefreshScheduledJobs()})
		})
	}
}
