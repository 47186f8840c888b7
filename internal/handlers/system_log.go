package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/storepilot/backend/internal/services"
	"github.com/storepilot/backend/pkg/response"
)

type SystemLogHandler struct {
	systemLogService *services.SystemLogService
	retention        *services.RetentionScheduler
}

func NewSystemLogHandler(systemLogService *services.SystemLogService, retention *services.RetentionScheduler) *SystemLogHandler {
	return &SystemLogHandler{systemLogService: systemLogService, retention: retention}
}

func (h *SystemLogHandler) List(c *gin.Context) {
	var req services.SystemLogListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	resp, err := h.systemLogService.List(c.Request.Context(), &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, resp)
}

func (h *SystemLogHandler) GetModules(c *gin.Context) {
	modules, err := h.systemLogService.GetModules(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"modules": modules})
}

// Cleanup runs today's retention pass now. It is a no-op when another
// replica already ran it.
func (h *SystemLogHandler) Cleanup(c *gin.Context) {
	ran := h.retention.RunOnce(time.Now())
	response.Success(c, gin.H{"ran": ran})
}
