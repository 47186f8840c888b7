package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/storepilot/backend/internal/middleware"
	"github.com/storepilot/backend/internal/services/workqueue"
	"github.com/storepilot/backend/pkg/response"
)

type WorkQueueHandler struct {
	aggregator *workqueue.Aggregator
}

func NewWorkQueueHandler(aggregator *workqueue.Aggregator) *WorkQueueHandler {
	return &WorkQueueHandler{aggregator: aggregator}
}

// Get returns the project's remediation bundles
// GET /api/projects/:id/work-queue?tab=&type=&action=&scope_type=
func (h *WorkQueueHandler) Get(c *gin.Context) {
	projectID, ok := paramID(c, "id", "project id")
	if !ok {
		return
	}

	var f workqueue.Filters
	if err := c.ShouldBindQuery(&f); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	wq, err := h.aggregator.GetWorkQueue(c.Request.Context(), projectID, middleware.GetUserID(c), f)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, wq)
}
